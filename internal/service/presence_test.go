package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/coramini/relay-server-go/internal/errors"
	"github.com/coramini/relay-server-go/internal/model"
)

func TestPresenceService(t *testing.T) {
	ctx := context.Background()

	t.Run("online within the stale window", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.presence.Publish(ctx, "anchor-a", json.RawMessage(`{"hostname":"desk"}`))
		require.NoError(t, err)

		env.clock.Advance(59 * time.Second)
		p, err := env.presence.ReadStatus(ctx, "anchor-a")
		require.NoError(t, err)
		assert.True(t, p.Online)
		assert.True(t, p.Found())
		assert.JSONEq(t, `{"hostname":"desk"}`, string(p.SystemInfo))
		require.NotNil(t, p.LastSeen)
		assert.Equal(t, testEpoch, *p.LastSeen)
	})

	t.Run("exactly at the window is still online", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.presence.Publish(ctx, "anchor-a", nil)
		require.NoError(t, err)

		env.clock.Advance(time.Minute)
		p, err := env.presence.ReadStatus(ctx, "anchor-a")
		require.NoError(t, err)
		assert.True(t, p.Online)
	})

	t.Run("offline once stale", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.presence.Publish(ctx, "anchor-a", nil)
		require.NoError(t, err)

		env.clock.Advance(61 * time.Second)
		p, err := env.presence.ReadStatus(ctx, "anchor-a")
		require.NoError(t, err)
		assert.False(t, p.Online)
		assert.Empty(t, p.Error)
	})

	t.Run("a new heartbeat brings it back", func(t *testing.T) {
		env := newTestEnv(t)
		env.presence.Publish(ctx, "anchor-a", nil)
		env.clock.Advance(2 * time.Minute)
		env.presence.Publish(ctx, "anchor-a", nil)

		p, err := env.presence.ReadStatus(ctx, "anchor-a")
		require.NoError(t, err)
		assert.True(t, p.Online)
	})

	t.Run("unknown anchor is not an error", func(t *testing.T) {
		env := newTestEnv(t)
		p, err := env.presence.ReadStatus(ctx, "never-seen")
		require.NoError(t, err)
		assert.False(t, p.Online)
		assert.Equal(t, model.PresenceNotFound, p.Error)
		assert.Nil(t, p.LastSeen)
	})

	t.Run("rejects non-object system info", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.presence.Publish(ctx, "anchor-a", json.RawMessage(`[1,2]`))
		requireCode(t, err, apperrors.ErrCodeInvalidInput)

		_, err = env.presence.Publish(ctx, " ", nil)
		requireCode(t, err, apperrors.ErrCodeMissingRequired)
	})

	t.Run("list derives presence per anchor", func(t *testing.T) {
		env := newTestEnv(t)
		env.presence.Publish(ctx, "old", nil)
		env.clock.Advance(5 * time.Minute)
		env.presence.Publish(ctx, "fresh", nil)

		all, err := env.presence.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)

		online := map[string]bool{}
		for _, p := range all {
			online[p.AnchorID] = p.Online
		}
		assert.False(t, online["old"])
		assert.True(t, online["fresh"])
	})
}
