package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/coramini/relay-server-go/internal/errors"
	"github.com/coramini/relay-server-go/internal/model"
)

func TestChatService(t *testing.T) {
	ctx := context.Background()

	t.Run("post defaults type to text", func(t *testing.T) {
		env := newTestEnv(t)
		id, err := env.chat.Post(ctx, "anchor-a", "pat", "hello", "")
		require.NoError(t, err)
		assert.Positive(t, id)

		msgs, err := env.chat.Read(ctx, "anchor-a", 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, model.ChatMessageText, msgs[0].Type)
		assert.Equal(t, testEpoch, msgs[0].CreatedAt)
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.chat.Post(ctx, "anchor-a", "pat", "hello", "shout")
		requireCode(t, err, apperrors.ErrCodeInvalidInput)
	})

	t.Run("requires fields", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.chat.Post(ctx, "anchor-a", "", "hello", "")
		requireCode(t, err, apperrors.ErrCodeMissingRequired)
		_, err = env.chat.Post(ctx, "anchor-a", "pat", "", "")
		requireCode(t, err, apperrors.ErrCodeMissingRequired)
	})

	t.Run("read is newest first and bounded", func(t *testing.T) {
		env := newTestEnv(t)
		for i := 0; i < 120; i++ {
			_, err := env.chat.Post(ctx, "anchor-a", "pat", fmt.Sprintf("m%d", i), model.ChatMessageText)
			require.NoError(t, err)
		}

		msgs, err := env.chat.Read(ctx, "anchor-a", 0)
		require.NoError(t, err)
		assert.Len(t, msgs, 50)
		assert.Equal(t, "m119", msgs[0].Message)

		msgs, err = env.chat.Read(ctx, "anchor-a", 1000)
		require.NoError(t, err)
		assert.Len(t, msgs, 100)
	})

	t.Run("empty log reads as empty list", func(t *testing.T) {
		env := newTestEnv(t)
		msgs, err := env.chat.Read(ctx, "quiet", 5)
		require.NoError(t, err)
		assert.NotNil(t, msgs)
		assert.Empty(t, msgs)
	})
}
