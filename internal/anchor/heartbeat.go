package anchor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coramini/relay-server-go/internal/relayclient"
	"github.com/coramini/relay-server-go/internal/sysinfo"
)

type Heartbeat struct {
	client    *relayclient.Client
	anchorID  string
	tools     *Registry
	startedAt time.Time
}

func NewHeartbeat(client *relayclient.Client, anchorID string, tools *Registry, startedAt time.Time) *Heartbeat {
	return &Heartbeat{client: client, anchorID: anchorID, tools: tools, startedAt: startedAt}
}

// Beat publishes the current host snapshot with the runnable tools.
func (h *Heartbeat) Beat(ctx context.Context) error {
	info := sysinfo.Collect(h.startedAt)
	info.ActiveTools = h.tools.Names()

	_, err := h.client.PublishHeartbeat(ctx, h.anchorID, info)
	return err
}

// Poll is Beat shaped as a poll action; failures are logged and the next
// tick tries again.
func (h *Heartbeat) Poll(ctx context.Context) {
	if err := h.Beat(ctx); err != nil {
		log.Warn().Err(err).Str("anchorId", h.anchorID).Msg("heartbeat failed")
	}
}
