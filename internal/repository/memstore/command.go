package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/coramini/relay-server-go/internal/model"
	"github.com/coramini/relay-server-go/internal/repository"
)

type commandRepo struct {
	s *Store
}

func NewCommandRepository(s *Store) repository.CommandRepository {
	return &commandRepo{s: s}
}

func (r *commandRepo) Create(ctx context.Context, params model.CreateCommandParams) (*model.Command, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.commandsByID[params.ID]; exists {
		return nil, fmt.Errorf("command %s already exists", params.ID)
	}

	r.s.commandSeq++
	cmd := &model.Command{
		ID:        params.ID,
		Seq:       r.s.commandSeq,
		AnchorID:  params.AnchorID,
		Command:   params.Command,
		Params:    cloneJSON(params.Params),
		Status:    model.CommandStatusPending,
		CreatedAt: params.CreatedAt,
	}
	r.s.commandsByID[cmd.ID] = cmd

	out := cloneCommand(cmd)
	return &out, nil
}

func (r *commandRepo) FindByID(ctx context.Context, id string) (*model.Command, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	cmd, ok := r.s.commandsByID[id]
	if !ok {
		return nil, nil
	}
	out := cloneCommand(cmd)
	return &out, nil
}

func (r *commandRepo) ClaimPending(ctx context.Context, params model.ClaimCommandsParams) ([]model.Command, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var pending []*model.Command
	for _, cmd := range r.s.commandsByID {
		if cmd.AnchorID == params.AnchorID && cmd.Status == model.CommandStatusPending {
			pending = append(pending, cmd)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].Seq < pending[j].Seq
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if params.Limit >= 0 && len(pending) > params.Limit {
		pending = pending[:params.Limit]
	}

	out := make([]model.Command, 0, len(pending))
	for _, cmd := range pending {
		startedAt := params.Now
		claimedBy := params.ClaimedBy
		cmd.Status = model.CommandStatusRunning
		cmd.StartedAt = &startedAt
		cmd.ClaimedBy = &claimedBy
		out = append(out, cloneCommand(cmd))
	}
	return out, nil
}

func (r *commandRepo) Finish(ctx context.Context, params model.FinishCommandParams) (*model.Command, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cmd, ok := r.s.commandsByID[params.ID]
	if !ok {
		return nil, false, nil
	}
	if cmd.Status != model.CommandStatusRunning {
		out := cloneCommand(cmd)
		return &out, false, nil
	}

	completedAt := params.Now
	var result *json.RawMessage
	if params.Result != nil {
		raw := cloneJSON(params.Result)
		result = &raw
	}
	cmd.Status = params.Status
	cmd.Result = result
	cmd.CompletedAt = &completedAt

	out := cloneCommand(cmd)
	return &out, true, nil
}

func (r *commandRepo) FailStale(ctx context.Context, startedBefore time.Time, result json.RawMessage, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var count int64
	for _, cmd := range r.s.commandsByID {
		if cmd.Status != model.CommandStatusRunning || cmd.StartedAt == nil || !cmd.StartedAt.Before(startedBefore) {
			continue
		}
		raw := cloneJSON(result)
		completedAt := now
		cmd.Status = model.CommandStatusError
		cmd.Result = &raw
		cmd.CompletedAt = &completedAt
		count++
	}
	return count, nil
}
