package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/coramini/relay-server-go/internal/model"
	"github.com/coramini/relay-server-go/internal/repository"
)

type deviceRepo struct {
	s *Store
}

func NewDeviceRepository(s *Store) repository.DeviceRepository {
	return &deviceRepo{s: s}
}

func (r *deviceRepo) FindActiveByAnchorID(ctx context.Context, anchorID string) ([]model.Device, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []model.Device
	for _, d := range r.s.devicesByID {
		if d.AnchorID == anchorID && d.IsActive {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastConnected.After(out[j].LastConnected) })
	return out, nil
}

func (r *deviceRepo) Deactivate(ctx context.Context, anchorID, deviceID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.devicesByID[deviceID]
	if !ok || d.AnchorID != anchorID || !d.IsActive {
		return false, nil
	}
	d.IsActive = false
	return true, nil
}

func (r *deviceRepo) Touch(ctx context.Context, deviceID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if d, ok := r.s.devicesByID[deviceID]; ok {
		d.LastConnected = at
	}
	return nil
}
