package repository

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/coramini/relay-server-go/internal/model"
)

type CommandRepository interface {
	Create(ctx context.Context, params model.CreateCommandParams) (*model.Command, error)
	FindByID(ctx context.Context, id string) (*model.Command, error)
	// ClaimPending moves up to Limit of the anchor's oldest pending commands
	// to running in one atomic step and returns them oldest first.
	ClaimPending(ctx context.Context, params model.ClaimCommandsParams) ([]model.Command, error)
	// Finish moves a running command to a terminal status. It returns the
	// command as stored after the call and whether this call made the
	// transition. A nil command means the id is unknown.
	Finish(ctx context.Context, params model.FinishCommandParams) (*model.Command, bool, error)
	FailStale(ctx context.Context, startedBefore time.Time, result json.RawMessage, now time.Time) (int64, error)
}

type commandRepo struct {
	db *sqlx.DB
}

func NewCommandRepository(db *sqlx.DB) CommandRepository {
	return &commandRepo{db: db}
}

func (r *commandRepo) Create(ctx context.Context, params model.CreateCommandParams) (*model.Command, error) {
	var cmd model.Command
	err := r.db.GetContext(ctx, &cmd, `
		INSERT INTO commands (id, anchor_id, command, params, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		RETURNING *
	`, params.ID, params.AnchorID, params.Command, jsonArg(params.Params), params.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &cmd, nil
}

func (r *commandRepo) FindByID(ctx context.Context, id string) (*model.Command, error) {
	var cmd model.Command
	err := r.db.GetContext(ctx, &cmd, `SELECT * FROM commands WHERE id = $1`, id)
	return HandleNotFound(&cmd, err)
}

func (r *commandRepo) ClaimPending(ctx context.Context, params model.ClaimCommandsParams) ([]model.Command, error) {
	var cmds []model.Command
	err := r.db.SelectContext(ctx, &cmds, `
		UPDATE commands SET
			status = 'running',
			started_at = $3,
			claimed_by = $4
		WHERE id IN (
			SELECT id FROM commands
			WHERE anchor_id = $1 AND status = 'pending'
			ORDER BY created_at ASC, seq ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, params.AnchorID, params.Limit, params.Now, params.ClaimedBy)
	if err != nil {
		return nil, err
	}

	// RETURNING order is unspecified.
	sort.Slice(cmds, func(i, j int) bool {
		if cmds[i].CreatedAt.Equal(cmds[j].CreatedAt) {
			return cmds[i].Seq < cmds[j].Seq
		}
		return cmds[i].CreatedAt.Before(cmds[j].CreatedAt)
	})
	return cmds, nil
}

func (r *commandRepo) Finish(ctx context.Context, params model.FinishCommandParams) (*model.Command, bool, error) {
	var cmd model.Command
	err := r.db.GetContext(ctx, &cmd, `
		UPDATE commands SET
			status = $2,
			result = $3,
			completed_at = $4
		WHERE id = $1 AND status = 'running'
		RETURNING *
	`, params.ID, params.Status, jsonArg(params.Result), params.Now)
	finished, err := HandleNotFound(&cmd, err)
	if err != nil {
		return nil, false, err
	}
	if finished != nil {
		return finished, true, nil
	}

	current, err := r.FindByID(ctx, params.ID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (r *commandRepo) FailStale(ctx context.Context, startedBefore time.Time, result json.RawMessage, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE commands SET
			status = 'error',
			result = $2,
			completed_at = $3
		WHERE status = 'running' AND started_at < $1
	`, startedBefore, jsonArg(result), now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
