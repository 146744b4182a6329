package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestLog(t *testing.T) {
	t.Run("writes typed fields", func(t *testing.T) {
		buf := captureLog(t)

		Log(context.Background(), Event{
			Type:     EventClaimComplete,
			UserID:   "user-1",
			AnchorID: "anchor-a",
			Details:  map[string]interface{}{"code": "CORA-****", "attempt": 2},
		})

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "security", line["audit"])
		assert.Equal(t, "claim_complete", line["event_type"])
		assert.Equal(t, "user-1", line["user_id"])
		assert.Equal(t, "anchor-a", line["anchor_id"])
		assert.Equal(t, "CORA-****", line["code"])
		assert.Equal(t, float64(2), line["attempt"])
	})

	t.Run("stamps the event time", func(t *testing.T) {
		buf := captureLog(t)

		Log(context.Background(), Event{
			Type: EventCodeIssue,
			Time: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		})

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "2026-03-01T12:00:00Z", line["timestamp"])
	})

	t.Run("request variant adds ip and user agent", func(t *testing.T) {
		buf := captureLog(t)

		req := httptest.NewRequest("POST", "/rest/v1/rpc/start_claim", nil)
		req.RemoteAddr = "203.0.113.7"
		req.Header.Set("User-Agent", "cora-remote/1")
		LogFromRequest(req, Event{Type: EventAuthFailure})

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "203.0.113.7", line["ip"])
		assert.Equal(t, "cora-remote/1", line["user_agent"])
	})
}
