package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coramini/relay-server-go/internal/clock"
	"github.com/coramini/relay-server-go/internal/httputil"
	"github.com/coramini/relay-server-go/internal/middleware"
	"github.com/coramini/relay-server-go/internal/model"
	"github.com/coramini/relay-server-go/internal/repository/memstore"
	"github.com/coramini/relay-server-go/internal/service"
)

type rpcEnv struct {
	clock  *clock.FakeClock
	server *httptest.Server
}

func newRPCEnv(t *testing.T, pairingLimit func(http.Handler) http.Handler) *rpcEnv {
	t.Helper()
	store := memstore.New()
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	tokens, err := service.NewTokenIssuer("handler-test-secret-0123456789abcdef", clk)
	require.NoError(t, err)

	h := NewRPCHandler(
		service.NewPresenceService(memstore.NewPresenceRepository(store), clk, time.Minute),
		service.NewCommandService(memstore.NewCommandRepository(store), clk),
		service.NewPairingService(
			memstore.NewPairingCodeRepository(store),
			memstore.NewDeviceRepository(store),
			tokens,
			clk,
			service.PairingServiceConfig{Prefix: "CORA", TTL: 5 * time.Minute},
		),
		service.NewChatService(memstore.NewChatRepository(store), clk),
		pairingLimit,
	)

	server := httptest.NewServer(h.Routes())
	t.Cleanup(server.Close)
	return &rpcEnv{clock: clk, server: server}
}

func (e *rpcEnv) call(t *testing.T, op string, body any, out any) int {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(e.server.URL+"/"+op, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *rpcEnv) callError(t *testing.T, op string, body any) (int, httputil.ErrorResponse) {
	t.Helper()
	var errResp httputil.ErrorResponse
	status := e.call(t, op, body, &errResp)
	return status, errResp
}

func TestPresenceRPC(t *testing.T) {
	t.Run("heartbeat then status reports online", func(t *testing.T) {
		env := newRPCEnv(t, nil)

		var hb map[string]any
		status := env.call(t, "publish_heartbeat", map[string]any{
			"anchor_id":   "desk-01",
			"system_info": map[string]any{"os": "linux"},
		}, &hb)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "desk-01", hb["anchor_id"])

		var presence model.Presence
		status = env.call(t, "get_status", map[string]string{"anchor_id": "desk-01"}, &presence)
		require.Equal(t, http.StatusOK, status)
		assert.True(t, presence.Online)
		assert.JSONEq(t, `{"os":"linux"}`, string(presence.SystemInfo))

		env.clock.Advance(61 * time.Second)
		env.call(t, "get_status", map[string]string{"anchor_id": "desk-01"}, &presence)
		assert.False(t, presence.Online)
		assert.True(t, presence.Found())
	})

	t.Run("unknown anchor is not found but not an error status", func(t *testing.T) {
		env := newRPCEnv(t, nil)

		var presence model.Presence
		status := env.call(t, "get_status", map[string]string{"anchor_id": "ghost"}, &presence)
		assert.Equal(t, http.StatusOK, status)
		assert.False(t, presence.Online)
		assert.Equal(t, model.PresenceNotFound, presence.Error)
	})

	t.Run("rejects non-object system info", func(t *testing.T) {
		env := newRPCEnv(t, nil)

		status, errResp := env.callError(t, "publish_heartbeat", map[string]any{
			"anchor_id":   "desk-01",
			"system_info": []int{1, 2},
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "INVALID_INPUT", string(errResp.Code))
	})

	t.Run("lists anchors with an empty body", func(t *testing.T) {
		env := newRPCEnv(t, nil)
		env.call(t, "publish_heartbeat", map[string]string{"anchor_id": "a"}, nil)
		env.call(t, "publish_heartbeat", map[string]string{"anchor_id": "b"}, nil)

		resp, err := http.Post(env.server.URL+"/list_anchors", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()

		var anchors []model.Presence
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&anchors))
		assert.Len(t, anchors, 2)
	})
}

func TestCommandRPC(t *testing.T) {
	t.Run("send poll complete round trip", func(t *testing.T) {
		env := newRPCEnv(t, nil)

		var sent map[string]string
		status := env.call(t, "send_command", map[string]any{
			"anchor_id":    "desk-01",
			"command_name": "echo",
			"params":       map[string]string{"text": "hi"},
		}, &sent)
		require.Equal(t, http.StatusOK, status)
		id := sent["command_id"]
		require.NotEmpty(t, id)

		var claimed []model.Command
		env.call(t, "poll_commands", map[string]any{"anchor_id": "desk-01", "claimed_by": "worker-1"}, &claimed)
		require.Len(t, claimed, 1)
		assert.Equal(t, id, claimed[0].ID)
		assert.Equal(t, model.CommandStatusRunning, claimed[0].Status)

		var ack map[string]bool
		env.call(t, "complete_command", map[string]any{"command_id": id, "result": map[string]string{"text": "hi"}}, &ack)
		assert.True(t, ack["ack"])

		var cmd model.Command
		env.call(t, "get_command", map[string]string{"command_id": id}, &cmd)
		assert.Equal(t, model.CommandStatusDone, cmd.Status)
		require.NotNil(t, cmd.Result)
		assert.JSONEq(t, `{"text":"hi"}`, string(*cmd.Result))
	})

	t.Run("empty poll returns an empty array", func(t *testing.T) {
		env := newRPCEnv(t, nil)

		resp, err := http.Post(env.server.URL+"/poll_commands", "application/json",
			strings.NewReader(`{"anchor_id":"desk-01"}`))
		require.NoError(t, err)
		defer resp.Body.Close()

		var raw json.RawMessage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
		assert.Equal(t, "[]", string(raw))
	})

	t.Run("fail wraps a bare string error", func(t *testing.T) {
		env := newRPCEnv(t, nil)

		var sent map[string]string
		env.call(t, "send_command", map[string]any{"anchor_id": "desk-01", "command_name": "reboot"}, &sent)
		env.call(t, "poll_commands", map[string]any{"anchor_id": "desk-01"}, nil)

		var ack map[string]bool
		env.call(t, "fail_command", map[string]any{"command_id": sent["command_id"], "error": "disk full"}, &ack)
		assert.True(t, ack["ack"])

		var cmd model.Command
		env.call(t, "get_command", map[string]string{"command_id": sent["command_id"]}, &cmd)
		assert.Equal(t, model.CommandStatusError, cmd.Status)
		assert.JSONEq(t, `{"error":"disk full"}`, string(*cmd.Result))
	})

	t.Run("completing a pending command is an invalid transition", func(t *testing.T) {
		env := newRPCEnv(t, nil)

		var sent map[string]string
		env.call(t, "send_command", map[string]any{"anchor_id": "desk-01", "command_name": "echo"}, &sent)

		status, errResp := env.callError(t, "complete_command", map[string]any{"command_id": sent["command_id"]})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "INVALID_TRANSITION", string(errResp.Code))
	})

	t.Run("unknown command is not found", func(t *testing.T) {
		env := newRPCEnv(t, nil)

		status, errResp := env.callError(t, "get_command", map[string]string{
			"command_id": "7d8b1c7e-54c8-4d6e-9a55-0b7d7e1a2c3f",
		})
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "NOT_FOUND", string(errResp.Code))
	})
}

func TestPairingRPC(t *testing.T) {
	t.Run("full handshake pairs a device", func(t *testing.T) {
		env := newRPCEnv(t, nil)

		var issued map[string]any
		require.Equal(t, http.StatusOK, env.call(t, "issue_pairing_code", map[string]string{
			"anchor_id":   "desk-01",
			"anchor_name": "Desk",
		}, &issued))
		code := issued["code"].(string)
		assert.Regexp(t, `^CORA-[A-Z2-9]{4}$`, code)

		var validated service.ValidatedCode
		require.Equal(t, http.StatusOK, env.call(t, "validate_pairing_code", map[string]string{"code": strings.ToLower(code)}, &validated))
		assert.Equal(t, "Desk", validated.AnchorName)

		var started service.StartClaimResult
		require.Equal(t, http.StatusOK, env.call(t, "start_claim", map[string]string{
			"code":  code,
			"email": "Ada@Example.com",
		}, &started))
		require.NotEmpty(t, started.VerificationToken)

		var done service.CompleteClaimResult
		require.Equal(t, http.StatusOK, env.call(t, "complete_claim", map[string]string{
			"verification_token": started.VerificationToken,
			"device_name":        "phone",
		}, &done))
		assert.Equal(t, started.UserID, done.UserID)
		assert.Equal(t, "desk-01", done.AnchorID)

		var st map[string]string
		env.call(t, "check_pairing_status", map[string]string{"code": code}, &st)
		assert.Equal(t, "claimed", st["status"])

		var devices []model.Device
		env.call(t, "list_devices", map[string]string{"anchor_id": "desk-01"}, &devices)
		require.Len(t, devices, 1)
		assert.Equal(t, done.DeviceID, devices[0].ID)

		status, errResp := env.callError(t, "complete_claim", map[string]string{
			"verification_token": started.VerificationToken,
		})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "ALREADY_USED", string(errResp.Code))

		var ack map[string]bool
		env.call(t, "unpair_device", map[string]string{"anchor_id": "desk-01", "device_id": done.DeviceID}, &ack)
		assert.True(t, ack["ack"])
		env.call(t, "list_devices", map[string]string{"anchor_id": "desk-01"}, &devices)
		assert.Empty(t, devices)
	})

	t.Run("expired code is gone", func(t *testing.T) {
		env := newRPCEnv(t, nil)

		var issued map[string]any
		env.call(t, "issue_pairing_code", map[string]string{"anchor_id": "desk-01"}, &issued)
		env.clock.Advance(5*time.Minute + time.Second)

		status, errResp := env.callError(t, "validate_pairing_code", map[string]any{"code": issued["code"]})
		assert.Equal(t, http.StatusGone, status)
		assert.Equal(t, "PAIRING_EXPIRED", string(errResp.Code))

		var st map[string]string
		env.call(t, "check_pairing_status", map[string]any{"code": issued["code"]}, &st)
		assert.Equal(t, "expired", st["status"])
	})

	t.Run("unknown code is invalid", func(t *testing.T) {
		env := newRPCEnv(t, nil)

		status, errResp := env.callError(t, "validate_pairing_code", map[string]string{"code": "CORA-ZZZZ"})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "INVALID_PAIRING_CODE", string(errResp.Code))
	})

	t.Run("pairing operations are rate limited", func(t *testing.T) {
		limit := middleware.NewIPRateLimitMiddleware(middleware.NewRateLimiter(), 2, "pairing")
		env := newRPCEnv(t, limit.Handler)

		body := map[string]string{"code": "CORA-ZZZZ"}
		env.callError(t, "validate_pairing_code", body)
		env.callError(t, "validate_pairing_code", body)
		status, errResp := env.callError(t, "validate_pairing_code", body)
		assert.Equal(t, http.StatusTooManyRequests, status)
		assert.Equal(t, "RATE_LIMIT_EXCEEDED", string(errResp.Code))

		// Anchor-side operations are outside the limited group.
		status = env.call(t, "issue_pairing_code", map[string]string{"anchor_id": "desk-01"}, nil)
		assert.Equal(t, http.StatusOK, status)
	})
}

func TestChatRPC(t *testing.T) {
	t.Run("posts and reads newest first", func(t *testing.T) {
		env := newRPCEnv(t, nil)

		for _, msg := range []string{"one", "two", "three"} {
			var posted map[string]int64
			require.Equal(t, http.StatusOK, env.call(t, "post_chat", map[string]string{
				"anchor_id": "desk-01",
				"sender":    "ada",
				"message":   msg,
			}, &posted))
			assert.Positive(t, posted["message_id"])
		}

		var msgs []model.ChatMessage
		env.call(t, "get_chat", map[string]any{"anchor_id": "desk-01", "limit": 2}, &msgs)
		require.Len(t, msgs, 2)
		assert.Equal(t, "three", msgs[0].Message)
		assert.Equal(t, model.ChatMessageText, msgs[0].Type)
	})

	t.Run("rejects unknown message type", func(t *testing.T) {
		env := newRPCEnv(t, nil)

		status, _ := env.callError(t, "post_chat", map[string]string{
			"anchor_id": "desk-01",
			"sender":    "ada",
			"message":   "hi",
			"type":      "shout",
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func TestRPCRouting(t *testing.T) {
	env := newRPCEnv(t, nil)

	t.Run("unknown operation is a JSON not found", func(t *testing.T) {
		status, errResp := env.callError(t, "drop_tables", map[string]string{})
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "NOT_FOUND", string(errResp.Code))
	})

	t.Run("malformed body is invalid input", func(t *testing.T) {
		resp, err := http.Post(env.server.URL+"/get_status", "application/json", strings.NewReader("{not json"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("GET is not allowed", func(t *testing.T) {
		resp, err := http.Get(env.server.URL + "/get_status")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestErrorPayload(t *testing.T) {
	assert.JSONEq(t, `{"error":"boom"}`, string(errorPayload(json.RawMessage(`"boom"`))))
	assert.JSONEq(t, `{"error":"x","command":"y"}`, string(errorPayload(json.RawMessage(`{"error":"x","command":"y"}`))))
	assert.JSONEq(t, `{"error":"unknown error"}`, string(errorPayload(nil)))
}
