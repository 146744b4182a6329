package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coramini/relay-server-go/internal/clock"
	"github.com/coramini/relay-server-go/internal/poller"
)

// Pairing rows are kept for a day past expiry so the audit trail can still
// resolve a code; correctness never depends on this job running.
const PairingRetention = 24 * time.Hour

type PairingPurger interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (codes int64, tokens int64, err error)
}

type LeaseSweeper interface {
	FailStale(ctx context.Context, lease time.Duration) (int64, error)
}

type CleanupJob struct {
	pairing  PairingPurger
	commands LeaseSweeper
	clock    clock.Clock
	lease    time.Duration
	interval time.Duration
	handle   *poller.Handle
}

// NewCleanupJob skips the lease sweep when lease is zero.
func NewCleanupJob(
	pairing PairingPurger,
	commands LeaseSweeper,
	clk clock.Clock,
	lease time.Duration,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		pairing:  pairing,
		commands: commands,
		clock:    clk,
		lease:    lease,
		interval: interval,
	}
}

func (j *CleanupJob) Start(ctx context.Context) {
	j.handle = poller.Start(ctx, j.cleanup, j.interval)
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	if j.handle == nil {
		return
	}
	j.handle.Stop()
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) cleanup(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := j.clock.Now().Add(-PairingRetention)
	codes, tokens, err := j.pairing.DeleteExpired(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("failed to cleanup pairing codes")
	} else if codes > 0 || tokens > 0 {
		log.Info().Int64("codes", codes).Int64("tokens", tokens).Msg("cleaned up pairing codes")
	}

	if j.lease > 0 {
		j.runCleanup(ctx, "stale commands", func(ctx context.Context) (int64, error) {
			return j.commands.FailStale(ctx, j.lease)
		})
	}
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
