package anchor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/coramini/relay-server-go/internal/clock"
	"github.com/coramini/relay-server-go/internal/model"
	"github.com/coramini/relay-server-go/internal/relayclient"
)

const (
	reportTimeout = 10 * time.Second
	// Reported journal entries older than this are pruned at startup.
	journalRetention = 7 * 24 * time.Hour
)

type WorkerConfig struct {
	AnchorID    string
	ClaimedBy   string
	Concurrency int
	PollLimit   int
}

// Worker claims commands for one anchor and runs them on a bounded executor.
// It only asks the relay for as many commands as it has free slots, so a
// claimed command never waits behind a full executor. Commands run on
// execCtx, not the poll context, so they finish after polling stops.
type Worker struct {
	client   *relayclient.Client
	tools    *Registry
	journal  *Journal
	clock    clock.Clock
	cfg      WorkerConfig
	slots    *semaphore.Weighted
	execCtx  context.Context
	wg       sync.WaitGroup
	inflight sync.Map
}

// NewWorker accepts a nil journal; results are then reported once with no
// local record.
func NewWorker(client *relayclient.Client, tools *Registry, journal *Journal, clk clock.Clock, cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollLimit <= 0 || cfg.PollLimit > cfg.Concurrency {
		cfg.PollLimit = cfg.Concurrency
	}
	return &Worker{
		client:  client,
		tools:   tools,
		journal: journal,
		clock:   clk,
		cfg:     cfg,
		slots:   semaphore.NewWeighted(int64(cfg.Concurrency)),
		execCtx: context.Background(),
	}
}

// Recover settles the journal left by a previous run. Commands interrupted
// mid-run are failed rather than executed again, then every unreported
// result is re-sent and old reported entries are dropped.
func (w *Worker) Recover(ctx context.Context) error {
	if w.journal == nil {
		return nil
	}

	interrupted, err := w.journal.Interrupted(ctx)
	if err != nil {
		return err
	}
	for _, entry := range interrupted {
		payload := failurePayload(entry.Command, "anchor restarted during execution")
		if err := w.journal.Finish(ctx, entry.CommandID, model.CommandStatusError, payload, w.clock.Now()); err != nil {
			return err
		}
		log.Warn().Str("commandId", entry.CommandID).Str("command", entry.Command).Msg("failing command interrupted by restart")
	}

	w.Replay(ctx)

	pruned, err := w.journal.Prune(ctx, w.clock.Now().Add(-journalRetention))
	if err != nil {
		return err
	}
	if pruned > 0 {
		log.Debug().Int64("count", pruned).Msg("pruned command journal")
	}
	return nil
}

// Replay re-sends results the relay has not acknowledged. Complete and Fail
// are idempotent, so a result that did arrive is simply acked false.
func (w *Worker) Replay(ctx context.Context) {
	if w.journal == nil {
		return
	}
	entries, err := w.journal.Unreported(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to read journal")
		return
	}
	for _, entry := range entries {
		if _, running := w.inflight.Load(entry.CommandID); running {
			continue
		}
		w.report(ctx, entry.CommandID, entry.Command, entry.Status, entry.ResultJSON())
	}
}

// PollOnce is one cycle of the command poll loop.
func (w *Worker) PollOnce(ctx context.Context) {
	w.Replay(ctx)

	free := 0
	for free < w.cfg.PollLimit && w.slots.TryAcquire(1) {
		free++
	}
	if free == 0 {
		log.Debug().Msg("executor full, skipping poll")
		return
	}

	cmds, err := w.client.PollCommands(ctx, w.cfg.AnchorID, free, w.cfg.ClaimedBy)
	if err != nil {
		w.slots.Release(int64(free))
		log.Warn().Err(err).Msg("poll commands failed")
		return
	}
	if unused := free - len(cmds); unused > 0 {
		w.slots.Release(int64(unused))
	}

	for _, cmd := range cmds {
		w.wg.Add(1)
		w.inflight.Store(cmd.ID, struct{}{})
		go func(cmd model.Command) {
			defer w.wg.Done()
			defer w.slots.Release(1)
			defer w.inflight.Delete(cmd.ID)
			w.execute(w.execCtx, cmd)
		}(cmd)
	}
}

// Wait blocks until every dispatched command has finished and reported.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) execute(ctx context.Context, cmd model.Command) {
	logger := log.With().Str("commandId", cmd.ID).Str("command", cmd.Command).Logger()

	if w.journal != nil {
		if err := w.journal.Begin(ctx, cmd, w.clock.Now()); err != nil {
			logger.Error().Err(err).Msg("failed to journal command")
		}
	}

	start := time.Now()
	result, err := w.tools.Execute(ctx, cmd.Command, cmd.Params)
	status := model.CommandStatusDone
	if err != nil {
		status = model.CommandStatusError
		result = failurePayload(cmd.Command, err.Error())
		if errors.Is(err, ErrUnknownTool) || errors.Is(err, ErrBlockedTool) {
			logger.Info().Err(err).Msg("command rejected")
		} else {
			logger.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("command failed")
		}
	} else {
		logger.Info().Dur("elapsed", time.Since(start)).Msg("command done")
	}

	if w.journal != nil {
		if err := w.journal.Finish(ctx, cmd.ID, status, result, w.clock.Now()); err != nil {
			logger.Error().Err(err).Msg("failed to journal result")
		}
	}

	w.report(ctx, cmd.ID, cmd.Command, status, result)
}

func (w *Worker) report(ctx context.Context, id, name string, status model.CommandStatus, result json.RawMessage) {
	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()

	var (
		ack bool
		err error
	)
	if status == model.CommandStatusDone {
		ack, err = w.client.CompleteCommand(ctx, id, result)
	} else {
		ack, err = w.client.FailCommand(ctx, id, result)
	}
	if err != nil {
		// Left unreported; the next poll cycle replays it.
		log.Warn().Err(err).Str("commandId", id).Msg("failed to report command result")
		return
	}
	if !ack {
		log.Debug().Str("commandId", id).Str("command", name).Msg("command was already terminal")
	}

	if w.journal != nil {
		if err := w.journal.MarkReported(ctx, id, w.clock.Now()); err != nil {
			log.Error().Err(err).Str("commandId", id).Msg("failed to mark result reported")
		}
	}
}

// failurePayload is the result stored with a failed command.
func failurePayload(command, message string) json.RawMessage {
	payload, _ := json.Marshal(map[string]string{
		"error":   message,
		"command": command,
	})
	return payload
}
