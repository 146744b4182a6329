// Package anchor is the daemon that runs on the controlled machine. It
// publishes heartbeats, claims and executes queued commands and answers the
// chat, all by polling the relay.
package anchor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/coramini/relay-server-go/internal/clock"
	"github.com/coramini/relay-server-go/internal/config"
	"github.com/coramini/relay-server-go/internal/poller"
	"github.com/coramini/relay-server-go/internal/relayclient"
	"github.com/coramini/relay-server-go/internal/remote"
	"github.com/coramini/relay-server-go/internal/sysinfo"
)

// Poll channels of a running anchor.
const (
	ChannelHeartbeat = "heartbeat"
	ChannelCommands  = "commands"
	ChannelChat      = "chat"
)

type Config struct {
	AnchorID          string
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	Concurrency       int
	PollLimit         int
	ChatEnabled       bool
	ChatPollInterval  time.Duration
	BotName           string
}

// ConfigFromClient maps the shared client config file onto an anchor.
func ConfigFromClient(cfg *config.ClientConfig) Config {
	return Config{
		AnchorID:          cfg.Anchor.ID,
		PollInterval:      cfg.Relay.PollInterval,
		HeartbeatInterval: cfg.Anchor.HeartbeatInterval,
		Concurrency:       cfg.Anchor.ExecutorConcurrency,
		PollLimit:         cfg.Anchor.PollLimit,
		ChatEnabled:       cfg.Chat.Enabled,
		ChatPollInterval:  cfg.Chat.PollInterval,
		BotName:           cfg.Chat.BotName,
	}
}

type Anchor struct {
	cfg       Config
	heartbeat *Heartbeat
	worker    *Worker
	responder *Responder
	group     *poller.Group
}

// New wires an anchor. journal may be nil; completer defaults to
// StaticCompleter.
func New(client *relayclient.Client, tools *Registry, journal *Journal, completer Completer, clk clock.Clock, cfg Config) *Anchor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultAnchorPollInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = config.DefaultHeartbeatInterval
	}
	if cfg.ChatPollInterval <= 0 {
		cfg.ChatPollInterval = cfg.PollInterval
	}

	a := &Anchor{
		cfg:       cfg,
		heartbeat: NewHeartbeat(client, cfg.AnchorID, tools, clk.Now()),
		worker: NewWorker(client, tools, journal, clk, WorkerConfig{
			AnchorID:    cfg.AnchorID,
			ClaimedBy:   sysinfo.ClaimedBy(),
			Concurrency: cfg.Concurrency,
			PollLimit:   cfg.PollLimit,
		}),
		group: poller.NewGroup(),
	}
	if cfg.ChatEnabled {
		a.responder = NewResponder(remote.NewSession(client, cfg.AnchorID), cfg.BotName, tools, completer)
	}
	return a
}

// Run polls until ctx is done, then waits for dispatched commands to finish
// and report. Only a journal failure at startup is returned.
func (a *Anchor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.worker.Recover(gctx)
	})
	if a.responder != nil {
		g.Go(func() error {
			if err := a.responder.Prime(gctx); err != nil {
				// Unprimed, the first chat poll sees the recent window.
				log.Warn().Err(err).Msg("failed to prime chat cursor")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	a.group.Start(ctx, ChannelHeartbeat, a.heartbeat.Poll, a.cfg.HeartbeatInterval)
	a.group.Start(ctx, ChannelCommands, a.worker.PollOnce, a.cfg.PollInterval)
	if a.responder != nil {
		a.group.Start(ctx, ChannelChat, a.responder.Poll, a.cfg.ChatPollInterval)
	}
	log.Info().
		Str("anchorId", a.cfg.AnchorID).
		Strs("channels", a.group.Active()).
		Msg("anchor running")

	<-ctx.Done()

	a.group.StopAll()
	a.worker.Wait()
	log.Info().Str("anchorId", a.cfg.AnchorID).Msg("anchor stopped")
	return nil
}
