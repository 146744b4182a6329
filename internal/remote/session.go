// Package remote is the short-lived client side of the relay: it sends
// commands to one anchor, waits for results, pairs and follows the chat.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coramini/relay-server-go/internal/config"
	apperrors "github.com/coramini/relay-server-go/internal/errors"
	"github.com/coramini/relay-server-go/internal/model"
	"github.com/coramini/relay-server-go/internal/poller"
	"github.com/coramini/relay-server-go/internal/relayclient"
)

// Session binds a relay client to one anchor. Sessions share nothing, so
// several can run side by side in one process.
type Session struct {
	client          *relayclient.Client
	anchorID        string
	deviceID        string
	awaitInterval   time.Duration
	pairingInterval time.Duration
}

type Option func(*Session)

// WithDevice marks status reads as coming from a paired device.
func WithDevice(deviceID string) Option {
	return func(s *Session) { s.deviceID = deviceID }
}

// WithIntervals overrides the poll intervals of AwaitResult and the pairing
// waits. Zero keeps the default.
func WithIntervals(await, pairing time.Duration) Option {
	return func(s *Session) {
		if await > 0 {
			s.awaitInterval = await
		}
		if pairing > 0 {
			s.pairingInterval = pairing
		}
	}
}

func NewSession(client *relayclient.Client, anchorID string, opts ...Option) *Session {
	s := &Session{
		client:          client,
		anchorID:        anchorID,
		awaitInterval:   config.AwaitPollInterval,
		pairingInterval: config.PairingPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) AnchorID() string { return s.anchorID }

func (s *Session) Status(ctx context.Context) (*model.Presence, error) {
	if s.deviceID != "" {
		return s.client.GetStatusAsDevice(ctx, s.anchorID, s.deviceID)
	}
	return s.client.GetStatus(ctx, s.anchorID)
}

// Enqueue returns as soon as the relay accepted the command.
func (s *Session) Enqueue(ctx context.Context, commandName string, params any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	return s.client.SendCommand(ctx, s.anchorID, commandName, params)
}

// AwaitResult polls the command until it is terminal. When timeout elapses
// it returns a TIMEOUT error; the command itself is left alone and may still
// finish later. Transport errors end the wait immediately.
func (s *Session) AwaitResult(ctx context.Context, commandID string, timeout time.Duration) (*CommandResult, error) {
	var final *model.Command
	err := poller.Until(ctx, s.awaitInterval, timeout, func(ctx context.Context) (bool, error) {
		cmd, err := s.client.GetCommand(ctx, commandID)
		if err != nil {
			return false, err
		}
		if !cmd.Status.IsTerminal() {
			return false, nil
		}
		final = cmd
		return true, nil
	})
	if errors.Is(err, poller.ErrTimeout) {
		return nil, apperrors.Timeout(fmt.Sprintf("command %s", commandID))
	}
	if err != nil {
		return nil, err
	}
	return newCommandResult(final), nil
}

func (s *Session) RunAndAwait(ctx context.Context, commandName string, params any, timeout time.Duration) (*CommandResult, error) {
	id, err := s.Enqueue(ctx, commandName, params)
	if err != nil {
		return nil, err
	}
	return s.AwaitResult(ctx, id, timeout)
}

// CommandResult is a terminal command. A failed command is still a result:
// Err turns it into a COMMAND_FAILED error when the caller wants one.
type CommandResult struct {
	ID          string              `json:"id"`
	Command     string              `json:"command"`
	Status      model.CommandStatus `json:"status"`
	Result      json.RawMessage     `json:"result,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

func newCommandResult(cmd *model.Command) *CommandResult {
	res := &CommandResult{
		ID:          cmd.ID,
		Command:     cmd.Command,
		Status:      cmd.Status,
		CompletedAt: cmd.CompletedAt,
	}
	if cmd.Result != nil {
		res.Result = *cmd.Result
	}
	return res
}

func (r *CommandResult) Failed() bool {
	return r.Status == model.CommandStatusError
}

func (r *CommandResult) Err() error {
	if !r.Failed() {
		return nil
	}
	var payload any
	if err := json.Unmarshal(r.Result, &payload); err != nil {
		payload = string(r.Result)
	}
	return apperrors.CommandFailed(r.Command, payload)
}

// Decode unmarshals the result payload into v.
func (r *CommandResult) Decode(v any) error {
	if len(r.Result) == 0 {
		return fmt.Errorf("command %s has no result", r.ID)
	}
	return json.Unmarshal(r.Result, v)
}
