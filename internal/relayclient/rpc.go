package relayclient

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coramini/relay-server-go/internal/model"
)

type HeartbeatAck struct {
	AnchorID string    `json:"anchor_id"`
	LastSeen time.Time `json:"last_seen"`
}

type IssuedCode struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ValidatedCode struct {
	AnchorID   string    `json:"anchor_id"`
	AnchorName string    `json:"anchor_name"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type ClaimStarted struct {
	UserID            string `json:"user_id"`
	VerificationToken string `json:"verification_token"`
}

type ClaimCompleted struct {
	UserID     string `json:"user_id"`
	DeviceID   string `json:"device_id"`
	AnchorID   string `json:"anchor_id"`
	AnchorName string `json:"anchor_name"`
}

type ackResponse struct {
	Ack bool `json:"ack"`
}

func (c *Client) PublishHeartbeat(ctx context.Context, anchorID string, systemInfo any) (*HeartbeatAck, error) {
	var out HeartbeatAck
	err := c.call(ctx, "publish_heartbeat", map[string]any{
		"anchor_id":   anchorID,
		"system_info": systemInfo,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStatus never fails for an anchor that has not been seen; check
// Presence.Found instead.
func (c *Client) GetStatus(ctx context.Context, anchorID string) (*model.Presence, error) {
	return c.getStatus(ctx, map[string]string{"anchor_id": anchorID})
}

// GetStatusAsDevice also records deviceID as connected.
func (c *Client) GetStatusAsDevice(ctx context.Context, anchorID, deviceID string) (*model.Presence, error) {
	return c.getStatus(ctx, map[string]string{"anchor_id": anchorID, "device_id": deviceID})
}

func (c *Client) getStatus(ctx context.Context, in map[string]string) (*model.Presence, error) {
	var out model.Presence
	if err := c.call(ctx, "get_status", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListAnchors(ctx context.Context) ([]model.Presence, error) {
	var out []model.Presence
	if err := c.call(ctx, "list_anchors", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SendCommand(ctx context.Context, anchorID, commandName string, params any) (string, error) {
	var out struct {
		CommandID string `json:"command_id"`
	}
	err := c.call(ctx, "send_command", map[string]any{
		"anchor_id":    anchorID,
		"command_name": commandName,
		"params":       params,
	}, &out)
	return out.CommandID, err
}

func (c *Client) PollCommands(ctx context.Context, anchorID string, limit int, claimedBy string) ([]model.Command, error) {
	var out []model.Command
	err := c.call(ctx, "poll_commands", map[string]any{
		"anchor_id":  anchorID,
		"limit":      limit,
		"claimed_by": claimedBy,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CompleteCommand reports false when the command was already terminal.
func (c *Client) CompleteCommand(ctx context.Context, commandID string, result json.RawMessage) (bool, error) {
	var out ackResponse
	err := c.call(ctx, "complete_command", map[string]any{
		"command_id": commandID,
		"result":     result,
	}, &out)
	return out.Ack, err
}

func (c *Client) FailCommand(ctx context.Context, commandID string, errorResult json.RawMessage) (bool, error) {
	var out ackResponse
	err := c.call(ctx, "fail_command", map[string]any{
		"command_id": commandID,
		"error":      errorResult,
	}, &out)
	return out.Ack, err
}

func (c *Client) GetCommand(ctx context.Context, commandID string) (*model.Command, error) {
	var out model.Command
	if err := c.call(ctx, "get_command", map[string]string{"command_id": commandID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) IssuePairingCode(ctx context.Context, anchorID, anchorName string) (*IssuedCode, error) {
	var out IssuedCode
	err := c.call(ctx, "issue_pairing_code", map[string]string{
		"anchor_id":   anchorID,
		"anchor_name": anchorName,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ValidatePairingCode(ctx context.Context, code string) (*ValidatedCode, error) {
	var out ValidatedCode
	if err := c.call(ctx, "validate_pairing_code", map[string]string{"code": code}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StartClaim(ctx context.Context, code, email, name string) (*ClaimStarted, error) {
	var out ClaimStarted
	err := c.call(ctx, "start_claim", map[string]string{
		"code":  code,
		"email": email,
		"name":  name,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CompleteClaim(ctx context.Context, verificationToken, deviceName string) (*ClaimCompleted, error) {
	var out ClaimCompleted
	err := c.call(ctx, "complete_claim", map[string]string{
		"verification_token": verificationToken,
		"device_name":        deviceName,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CheckPairingStatus(ctx context.Context, code string) (model.PairingStatus, error) {
	var out struct {
		Status model.PairingStatus `json:"status"`
	}
	err := c.call(ctx, "check_pairing_status", map[string]string{"code": code}, &out)
	return out.Status, err
}

func (c *Client) ListDevices(ctx context.Context, anchorID string) ([]model.Device, error) {
	var out []model.Device
	if err := c.call(ctx, "list_devices", map[string]string{"anchor_id": anchorID}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UnpairDevice(ctx context.Context, anchorID, deviceID string) (bool, error) {
	var out ackResponse
	err := c.call(ctx, "unpair_device", map[string]string{
		"anchor_id": anchorID,
		"device_id": deviceID,
	}, &out)
	return out.Ack, err
}

func (c *Client) PostChat(ctx context.Context, anchorID, sender, message string, msgType model.ChatMessageType) (int64, error) {
	var out struct {
		MessageID int64 `json:"message_id"`
	}
	err := c.call(ctx, "post_chat", map[string]any{
		"anchor_id": anchorID,
		"sender":    sender,
		"message":   message,
		"type":      msgType,
	}, &out)
	return out.MessageID, err
}

// GetChat returns the newest messages first.
func (c *Client) GetChat(ctx context.Context, anchorID string, limit int) ([]model.ChatMessage, error) {
	var out []model.ChatMessage
	err := c.call(ctx, "get_chat", map[string]any{
		"anchor_id": anchorID,
		"limit":     limit,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}
