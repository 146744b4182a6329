// Package poller runs an action immediately and then on a fixed interval
// until stopped. Runs never overlap: a slow action delays the next tick
// instead of stacking up.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Action is one poll. ctx is the context given to Start; stopping the handle
// does not cancel it, so a run that has begun is allowed to finish.
type Action func(ctx context.Context)

type Handle struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Start invokes action right away and then every interval. The loop also
// ends when ctx is done.
func Start(ctx context.Context, action Action, interval time.Duration) *Handle {
	return start(ctx, action, interval, nil)
}

// start delays the first run until after is closed.
func start(ctx context.Context, action Action, interval time.Duration, after <-chan struct{}) *Handle {
	if interval <= 0 {
		panic("poller: interval must be positive")
	}

	h := &Handle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go h.run(ctx, action, interval, after)
	return h
}

func (h *Handle) run(ctx context.Context, action Action, interval time.Duration, after <-chan struct{}) {
	defer close(h.done)

	if after != nil {
		<-after
		select {
		case <-h.stop:
			return
		case <-ctx.Done():
			return
		default:
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.invoke(ctx, action)

	for {
		select {
		case <-h.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Stop may have raced with the tick.
			select {
			case <-h.stop:
				return
			default:
			}
			h.invoke(ctx, action)
		}
	}
}

func (h *Handle) invoke(ctx context.Context, action Action) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("poll action panicked")
		}
	}()
	action(ctx)
}

// Stop prevents future runs and waits for an in-flight run to return.
// It is safe to call more than once.
func (h *Handle) Stop() {
	h.signal()
	<-h.done
}

func (h *Handle) signal() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Group keeps at most one active handle per channel name.
type Group struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

func NewGroup() *Group {
	return &Group{handles: make(map[string]*Handle)}
}

// Start replaces the handle active on channel, if any. The old handle is
// stopped and the new one first runs once the old one's in-flight run has
// returned, so the two never overlap. Start itself does not wait, which
// lets an action restart its own channel.
func (g *Group) Start(ctx context.Context, channel string, action Action, interval time.Duration) *Handle {
	g.mu.Lock()
	defer g.mu.Unlock()

	var after <-chan struct{}
	if old, ok := g.handles[channel]; ok {
		old.signal()
		after = old.done
		log.Debug().Str("channel", channel).Msg("replaced active poller")
	}

	h := start(ctx, action, interval, after)
	g.handles[channel] = h
	return h
}

// Stop reports whether a handle was active on channel.
func (g *Group) Stop(channel string) bool {
	g.mu.Lock()
	h, ok := g.handles[channel]
	delete(g.handles, channel)
	g.mu.Unlock()

	if ok {
		h.Stop()
	}
	return ok
}

func (g *Group) StopAll() {
	g.mu.Lock()
	handles := g.handles
	g.handles = make(map[string]*Handle)
	g.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
}

// Active lists the channels with a running handle.
func (g *Group) Active() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	channels := make([]string, 0, len(g.handles))
	for ch := range g.handles {
		channels = append(channels, ch)
	}
	return channels
}
