package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coramini/relay-server-go/internal/clock"
	apperrors "github.com/coramini/relay-server-go/internal/errors"
	"github.com/coramini/relay-server-go/internal/model"
	"github.com/coramini/relay-server-go/internal/repository"
)

type PresenceService struct {
	repo       repository.PresenceRepository
	clock      clock.Clock
	staleAfter time.Duration
}

func NewPresenceService(repo repository.PresenceRepository, clk clock.Clock, staleAfter time.Duration) *PresenceService {
	return &PresenceService{
		repo:       repo,
		clock:      clk,
		staleAfter: staleAfter,
	}
}

// Publish records a heartbeat. system_info must be a JSON object and
// defaults to {}.
func (s *PresenceService) Publish(ctx context.Context, anchorID string, systemInfo json.RawMessage) (*model.AnchorStatus, error) {
	anchorID = strings.TrimSpace(anchorID)
	if anchorID == "" {
		return nil, apperrors.MissingRequired("anchor_id")
	}
	if len(systemInfo) == 0 || string(systemInfo) == "null" {
		systemInfo = json.RawMessage(`{}`)
	}
	var probe map[string]any
	if err := json.Unmarshal(systemInfo, &probe); err != nil {
		return nil, apperrors.InvalidInput("system_info", "must be a JSON object")
	}

	status, err := s.repo.Upsert(ctx, model.UpsertHeartbeatParams{
		AnchorID:   anchorID,
		SystemInfo: systemInfo,
		Now:        s.clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("upsert heartbeat: %w", err)
	}

	log.Debug().Str("anchorId", anchorID).Msg("heartbeat recorded")
	return status, nil
}

// ReadStatus never fails for an unknown anchor; the returned Presence carries
// Error "not found" instead.
func (s *PresenceService) ReadStatus(ctx context.Context, anchorID string) (*model.Presence, error) {
	if strings.TrimSpace(anchorID) == "" {
		return nil, apperrors.MissingRequired("anchor_id")
	}

	status, err := s.repo.FindByAnchorID(ctx, anchorID)
	if err != nil {
		return nil, fmt.Errorf("find anchor status: %w", err)
	}
	if status == nil {
		return &model.Presence{AnchorID: anchorID, Online: false, Error: model.PresenceNotFound}, nil
	}

	p := s.derive(status)
	return &p, nil
}

func (s *PresenceService) List(ctx context.Context) ([]model.Presence, error) {
	statuses, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list anchor status: %w", err)
	}

	out := make([]model.Presence, 0, len(statuses))
	for i := range statuses {
		out = append(out, s.derive(&statuses[i]))
	}
	return out, nil
}

// derive ignores the stored online column. An anchor is online exactly when
// its last heartbeat is no older than the stale window.
func (s *PresenceService) derive(status *model.AnchorStatus) model.Presence {
	lastSeen := status.LastSeen
	return model.Presence{
		AnchorID:   status.AnchorID,
		Online:     s.clock.Now().Sub(lastSeen) <= s.staleAfter,
		LastSeen:   &lastSeen,
		SystemInfo: status.SystemInfo,
	}
}
