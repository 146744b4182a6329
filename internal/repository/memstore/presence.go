package memstore

import (
	"context"
	"sort"

	"github.com/coramini/relay-server-go/internal/model"
	"github.com/coramini/relay-server-go/internal/repository"
)

type presenceRepo struct {
	s *Store
}

func NewPresenceRepository(s *Store) repository.PresenceRepository {
	return &presenceRepo{s: s}
}

func (r *presenceRepo) Upsert(ctx context.Context, params model.UpsertHeartbeatParams) (*model.AnchorStatus, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	status := model.AnchorStatus{
		AnchorID:   params.AnchorID,
		Online:     true,
		LastSeen:   params.Now,
		SystemInfo: cloneJSON(params.SystemInfo),
		UpdatedAt:  params.Now,
	}
	r.s.statusByAnchor[params.AnchorID] = status
	return &status, nil
}

func (r *presenceRepo) FindByAnchorID(ctx context.Context, anchorID string) (*model.AnchorStatus, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	status, ok := r.s.statusByAnchor[anchorID]
	if !ok {
		return nil, nil
	}
	status.SystemInfo = cloneJSON(status.SystemInfo)
	return &status, nil
}

func (r *presenceRepo) FindAll(ctx context.Context) ([]model.AnchorStatus, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]model.AnchorStatus, 0, len(r.s.statusByAnchor))
	for _, status := range r.s.statusByAnchor {
		status.SystemInfo = cloneJSON(status.SystemInfo)
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out, nil
}
