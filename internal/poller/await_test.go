package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUntil(t *testing.T) {
	t.Run("returns once the check is done", func(t *testing.T) {
		var probes atomic.Int32
		err := Until(context.Background(), 5*time.Millisecond, time.Second, func(context.Context) (bool, error) {
			return probes.Add(1) == 3, nil
		})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, probes.Load(), int32(3))
	})

	t.Run("probes immediately", func(t *testing.T) {
		start := time.Now()
		err := Until(context.Background(), time.Hour, time.Second, func(context.Context) (bool, error) {
			return true, nil
		})
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("stops on the first check error", func(t *testing.T) {
		boom := errors.New("boom")
		err := Until(context.Background(), 5*time.Millisecond, time.Second, func(context.Context) (bool, error) {
			return false, boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("times out without waiting past the bound", func(t *testing.T) {
		start := time.Now()
		err := Until(context.Background(), 10*time.Millisecond, 50*time.Millisecond, func(context.Context) (bool, error) {
			return false, nil
		})
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("a probe cut by the deadline reports the timeout", func(t *testing.T) {
		err := Until(context.Background(), 10*time.Millisecond, 30*time.Millisecond, func(ctx context.Context) (bool, error) {
			<-ctx.Done()
			return false, ctx.Err()
		})
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("parent cancellation is not a timeout", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		err := Until(ctx, 5*time.Millisecond, time.Second, func(context.Context) (bool, error) {
			return false, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
