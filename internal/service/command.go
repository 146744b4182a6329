package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/coramini/relay-server-go/internal/audit"
	"github.com/coramini/relay-server-go/internal/clock"
	"github.com/coramini/relay-server-go/internal/config"
	apperrors "github.com/coramini/relay-server-go/internal/errors"
	"github.com/coramini/relay-server-go/internal/model"
	"github.com/coramini/relay-server-go/internal/repository"
	"github.com/coramini/relay-server-go/internal/util"
)

var leaseExpiredResult = json.RawMessage(`{"error":"execution lease expired"}`)

type CommandService struct {
	repo  repository.CommandRepository
	clock clock.Clock
}

func NewCommandService(repo repository.CommandRepository, clk clock.Clock) *CommandService {
	return &CommandService{
		repo:  repo,
		clock: clk,
	}
}

func (s *CommandService) Enqueue(ctx context.Context, anchorID, commandName string, params json.RawMessage) (string, error) {
	anchorID = strings.TrimSpace(anchorID)
	commandName = strings.TrimSpace(commandName)
	if anchorID == "" {
		return "", apperrors.MissingRequired("anchor_id")
	}
	if commandName == "" {
		return "", apperrors.MissingRequired("command_name")
	}
	if len(params) == 0 || string(params) == "null" {
		params = json.RawMessage(`{}`)
	}
	if !json.Valid(params) {
		return "", apperrors.InvalidInput("params", "must be valid JSON")
	}

	cmd, err := s.repo.Create(ctx, model.CreateCommandParams{
		ID:        uuid.NewString(),
		AnchorID:  anchorID,
		Command:   commandName,
		Params:    params,
		CreatedAt: s.clock.Now(),
	})
	if err != nil {
		return "", fmt.Errorf("create command: %w", err)
	}

	log.Info().
		Str("commandId", cmd.ID).
		Str("anchorId", anchorID).
		Str("command", commandName).
		Msg("command enqueued")

	return cmd.ID, nil
}

// Claim moves up to limit of the anchor's oldest pending commands to running
// and returns them oldest first. A non-positive limit means the default.
func (s *CommandService) Claim(ctx context.Context, anchorID string, limit int, claimedBy string) ([]model.Command, error) {
	if strings.TrimSpace(anchorID) == "" {
		return nil, apperrors.MissingRequired("anchor_id")
	}
	if limit <= 0 {
		limit = config.DefaultPollLimit
	}
	if limit > config.MaxPollLimit {
		limit = config.MaxPollLimit
	}

	cmds, err := s.repo.ClaimPending(ctx, model.ClaimCommandsParams{
		AnchorID:  anchorID,
		Limit:     limit,
		ClaimedBy: claimedBy,
		Now:       s.clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("claim commands: %w", err)
	}
	if cmds == nil {
		cmds = []model.Command{}
	}

	if len(cmds) > 0 {
		log.Debug().Str("anchorId", anchorID).Int("count", len(cmds)).Msg("commands claimed")
	}
	return cmds, nil
}

func (s *CommandService) Complete(ctx context.Context, commandID string, result json.RawMessage) (bool, error) {
	return s.finish(ctx, commandID, model.CommandStatusDone, result)
}

func (s *CommandService) Fail(ctx context.Context, commandID string, errorResult json.RawMessage) (bool, error) {
	return s.finish(ctx, commandID, model.CommandStatusError, errorResult)
}

// finish reports whether this call performed the running -> terminal
// transition. A repeated ack on a terminal command is not an error.
func (s *CommandService) finish(ctx context.Context, commandID string, status model.CommandStatus, result json.RawMessage) (bool, error) {
	if !util.IsValidUUID(commandID) {
		return false, apperrors.InvalidInput("command_id", "must be a UUID")
	}
	if len(result) == 0 {
		result = json.RawMessage(`null`)
	}
	if !json.Valid(result) {
		return false, apperrors.InvalidInput("result", "must be valid JSON")
	}

	cmd, transitioned, err := s.repo.Finish(ctx, model.FinishCommandParams{
		ID:     commandID,
		Status: status,
		Result: result,
		Now:    s.clock.Now(),
	})
	if err != nil {
		return false, fmt.Errorf("finish command: %w", err)
	}
	if cmd == nil {
		return false, apperrors.NotFound("Command")
	}

	if !transitioned {
		if cmd.Status == model.CommandStatusPending {
			return false, apperrors.InvalidTransition(string(cmd.Status), string(status))
		}
		log.Warn().
			Str("commandId", commandID).
			Str("status", string(cmd.Status)).
			Str("requested", string(status)).
			Msg("command already terminal, ack ignored")
		return false, nil
	}

	log.Info().
		Str("commandId", commandID).
		Str("anchorId", cmd.AnchorID).
		Str("status", string(status)).
		Msg("command finished")
	return true, nil
}

func (s *CommandService) Get(ctx context.Context, commandID string) (*model.Command, error) {
	if !util.IsValidUUID(commandID) {
		return nil, apperrors.InvalidInput("command_id", "must be a UUID")
	}
	cmd, err := s.repo.FindByID(ctx, commandID)
	if err != nil {
		return nil, fmt.Errorf("find command: %w", err)
	}
	if cmd == nil {
		return nil, apperrors.NotFound("Command")
	}
	return cmd, nil
}

// FailStale moves running commands whose lease has run out to error.
func (s *CommandService) FailStale(ctx context.Context, lease time.Duration) (int64, error) {
	now := s.clock.Now()
	n, err := s.repo.FailStale(ctx, now.Add(-lease), leaseExpiredResult, now)
	if err != nil {
		return 0, fmt.Errorf("fail stale commands: %w", err)
	}
	if n > 0 {
		audit.Log(ctx, audit.Event{
			Type:    audit.EventCommandLeaseLost,
			Time:    now,
			Details: map[string]interface{}{"count": n, "lease": lease.String()},
		})
	}
	return n, nil
}
