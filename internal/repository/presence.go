package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/coramini/relay-server-go/internal/model"
)

type PresenceRepository interface {
	Upsert(ctx context.Context, params model.UpsertHeartbeatParams) (*model.AnchorStatus, error)
	FindByAnchorID(ctx context.Context, anchorID string) (*model.AnchorStatus, error)
	FindAll(ctx context.Context) ([]model.AnchorStatus, error)
}

type presenceRepo struct {
	db *sqlx.DB
}

func NewPresenceRepository(db *sqlx.DB) PresenceRepository {
	return &presenceRepo{db: db}
}

func (r *presenceRepo) Upsert(ctx context.Context, params model.UpsertHeartbeatParams) (*model.AnchorStatus, error) {
	var status model.AnchorStatus
	err := r.db.GetContext(ctx, &status, `
		INSERT INTO anchor_status (anchor_id, online, last_seen, system_info, updated_at)
		VALUES ($1, TRUE, $2, $3, $2)
		ON CONFLICT (anchor_id) DO UPDATE SET
			online = TRUE,
			last_seen = EXCLUDED.last_seen,
			system_info = EXCLUDED.system_info,
			updated_at = EXCLUDED.updated_at
		RETURNING *
	`, params.AnchorID, params.Now, jsonArg(params.SystemInfo))
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (r *presenceRepo) FindByAnchorID(ctx context.Context, anchorID string) (*model.AnchorStatus, error) {
	var status model.AnchorStatus
	err := r.db.GetContext(ctx, &status, `SELECT * FROM anchor_status WHERE anchor_id = $1`, anchorID)
	return HandleNotFound(&status, err)
}

func (r *presenceRepo) FindAll(ctx context.Context) ([]model.AnchorStatus, error) {
	var statuses []model.AnchorStatus
	err := r.db.SelectContext(ctx, &statuses, `
		SELECT * FROM anchor_status ORDER BY last_seen DESC
	`)
	return statuses, err
}
