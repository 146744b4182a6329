package relayclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/coramini/relay-server-go/internal/errors"
	"github.com/coramini/relay-server-go/internal/model"
	"github.com/coramini/relay-server-go/internal/relayclient"
	"github.com/coramini/relay-server-go/internal/relaytest"
)

func TestClientAgainstRelay(t *testing.T) {
	ctx := context.Background()

	t.Run("heartbeat and status", func(t *testing.T) {
		srv := relaytest.New(t)
		c := srv.Client()

		ack, err := c.PublishHeartbeat(ctx, "desk-01", map[string]any{"os": "linux"})
		require.NoError(t, err)
		assert.Equal(t, "desk-01", ack.AnchorID)

		status, err := c.GetStatus(ctx, "desk-01")
		require.NoError(t, err)
		assert.True(t, status.Online)
		assert.True(t, status.Found())

		missing, err := c.GetStatus(ctx, "ghost")
		require.NoError(t, err)
		assert.False(t, missing.Online)
		assert.False(t, missing.Found())

		anchors, err := c.ListAnchors(ctx)
		require.NoError(t, err)
		assert.Len(t, anchors, 1)
	})

	t.Run("command lifecycle", func(t *testing.T) {
		srv := relaytest.New(t)
		c := srv.Client()

		id, err := c.SendCommand(ctx, "desk-01", "get_current_time", map[string]any{})
		require.NoError(t, err)

		cmds, err := c.PollCommands(ctx, "desk-01", 5, "host:1")
		require.NoError(t, err)
		require.Len(t, cmds, 1)
		assert.Equal(t, id, cmds[0].ID)

		ack, err := c.CompleteCommand(ctx, id, json.RawMessage(`{"time":"now"}`))
		require.NoError(t, err)
		assert.True(t, ack)

		ack, err = c.FailCommand(ctx, id, json.RawMessage(`{"error":"late"}`))
		require.NoError(t, err)
		assert.False(t, ack)

		cmd, err := c.GetCommand(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.CommandStatusDone, cmd.Status)
	})

	t.Run("validation errors keep their code", func(t *testing.T) {
		srv := relaytest.New(t)
		c := srv.Client()

		_, err := c.ValidatePairingCode(ctx, "CORA-ZZZZ")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidPairingCode, apperrors.GetCode(err))
		assert.True(t, apperrors.IsValidation(err))
		assert.False(t, apperrors.IsTransport(err))
	})

	t.Run("pairing handshake", func(t *testing.T) {
		srv := relaytest.New(t)
		c := srv.Client()

		issued, err := c.IssuePairingCode(ctx, "desk-01", "Desk")
		require.NoError(t, err)

		validated, err := c.ValidatePairingCode(ctx, issued.Code)
		require.NoError(t, err)
		assert.Equal(t, "desk-01", validated.AnchorID)

		started, err := c.StartClaim(ctx, issued.Code, "ada@example.com", "Ada")
		require.NoError(t, err)

		_, err = c.StartClaim(ctx, issued.Code, "eve@example.com", "Eve")
		assert.Equal(t, apperrors.ErrCodeAlreadyClaimed, apperrors.GetCode(err))

		done, err := c.CompleteClaim(ctx, started.VerificationToken, "laptop")
		require.NoError(t, err)
		assert.Equal(t, started.UserID, done.UserID)

		status, err := c.CheckPairingStatus(ctx, issued.Code)
		require.NoError(t, err)
		assert.Equal(t, model.PairingStatusClaimed, status)

		devices, err := c.ListDevices(ctx, "desk-01")
		require.NoError(t, err)
		require.Len(t, devices, 1)

		_, err = c.GetStatusAsDevice(ctx, "desk-01", done.DeviceID)
		require.NoError(t, err)

		ok, err := c.UnpairDevice(ctx, "desk-01", done.DeviceID)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("chat", func(t *testing.T) {
		srv := relaytest.New(t)
		c := srv.Client()

		id, err := c.PostChat(ctx, "desk-01", "ada", "hello", model.ChatMessageText)
		require.NoError(t, err)

		msgs, err := c.GetChat(ctx, "desk-01", 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, id, msgs[0].ID)
	})

	t.Run("wrong key is unauthorized", func(t *testing.T) {
		srv := relaytest.New(t)
		c := relayclient.New(relayclient.Options{BaseURL: srv.URL, Key: "nope"})

		_, err := c.GetStatus(ctx, "desk-01")
		assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.GetCode(err))
	})
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing settings fail before any request", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
		}))
		defer srv.Close()

		noKey := relayclient.New(relayclient.Options{BaseURL: srv.URL})
		_, err := noKey.SendCommand(ctx, "desk-01", "echo", nil)
		assert.True(t, apperrors.IsNotConfigured(err))

		noURL := relayclient.New(relayclient.Options{Key: "k"})
		_, err = noURL.GetStatus(ctx, "desk-01")
		assert.True(t, apperrors.IsNotConfigured(err))

		assert.Equal(t, int32(0), hits.Load())
	})

	t.Run("server errors are transport errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream down"))
		}))
		defer srv.Close()

		c := relayclient.New(relayclient.Options{BaseURL: srv.URL, Key: "k"})
		_, err := c.SendCommand(ctx, "desk-01", "echo", nil)
		assert.True(t, apperrors.IsTransport(err))
	})

	t.Run("undecodable success body is a transport error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>"))
		}))
		defer srv.Close()

		c := relayclient.New(relayclient.Options{BaseURL: srv.URL, Key: "k"})
		_, err := c.GetCommand(ctx, "x")
		assert.True(t, apperrors.IsTransport(err))
	})

	t.Run("undecodable error body is a transport error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("404 page not found"))
		}))
		defer srv.Close()

		c := relayclient.New(relayclient.Options{BaseURL: srv.URL, Key: "k"})
		_, err := c.GetCommand(ctx, "x")
		assert.True(t, apperrors.IsTransport(err))
	})

	t.Run("unreachable relay is a transport error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		c := relayclient.New(relayclient.Options{BaseURL: url, Key: "k", Timeout: time.Second})
		_, err := c.GetStatus(ctx, "desk-01")
		assert.True(t, apperrors.IsTransport(err))
	})

	t.Run("sends the bearer credential to the rpc path", func(t *testing.T) {
		var gotAuth, gotPath string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotPath = r.URL.Path
			w.Write([]byte(`{"command_id":"abc"}`))
		}))
		defer srv.Close()

		c := relayclient.New(relayclient.Options{BaseURL: srv.URL + "/", Key: "secret"})
		id, err := c.SendCommand(ctx, "desk-01", "echo", nil)
		require.NoError(t, err)
		assert.Equal(t, "abc", id)
		assert.Equal(t, "Bearer secret", gotAuth)
		assert.Equal(t, "/rest/v1/rpc/send_command", gotPath)
	})
}
