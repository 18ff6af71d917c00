// Package hub fans escalation lifecycle events out to every subscribed
// operator console and delivers resolutions to the one agent waiter parked on
// an escalation.
//
// Delivery never blocks the publisher. Each console is served through its own
// bounded buffer; a console that stops draining loses its oldest events and
// is expected to recover state through a fresh pending-list snapshot.
package hub

import (
	"context"
	"log/slog"

	"github.com/MrWong99/handoff/internal/observe"
	"github.com/MrWong99/handoff/internal/registry"
	"github.com/MrWong99/handoff/pkg/escalation"
)

// Hub is safe for concurrent use.
type Hub struct {
	reg     *registry.Registry
	metrics *observe.Metrics
	logger  *slog.Logger
}

// Option configures a [Hub].
type Option func(*Hub)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// New creates a hub publishing through reg.
func New(reg *registry.Registry, opts ...Option) *Hub {
	h := &Hub{reg: reg}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.logger = h.logger.With("component", "hub")
	return h
}

// Registry returns the registry the hub publishes through.
func (h *Hub) Registry() *registry.Registry { return h.reg }

// Subscribe registers a new operator console. The caller must eventually call
// [Hub.Unsubscribe].
func (h *Hub) Subscribe(ctx context.Context) *registry.Console {
	c := h.reg.SubscribeConsole()
	h.metrics.ConnectedConsoles.Add(ctx, 1)
	h.logger.Debug("console subscribed", "console_id", c.ID())
	return c
}

// Unsubscribe removes c and closes its event channel. It is safe to call more
// than once.
func (h *Hub) Unsubscribe(ctx context.Context, c *registry.Console) {
	if h.reg.UnsubscribeConsole(c) {
		h.metrics.ConnectedConsoles.Add(ctx, -1)
		h.logger.Debug("console unsubscribed", "console_id", c.ID(), "dropped", c.Dropped())
	}
}

// Broadcast offers ev to every console subscribed at the time of the call and
// returns how many accepted it. Consoles that connect or disconnect
// concurrently may or may not see the event.
func (h *Hub) Broadcast(ctx context.Context, ev escalation.Event) int {
	accepted := 0
	var dropped int64
	for _, c := range h.reg.Consoles() {
		ok, n := c.Offer(ev)
		if ok {
			accepted++
		}
		if n > 0 {
			dropped += int64(n)
			h.logger.Warn("console too slow, dropped oldest events",
				"console_id", c.ID(),
				"dropped", n,
				"event", ev.Kind,
			)
		}
	}
	if dropped > 0 {
		h.metrics.ConsoleEventsDropped.Add(ctx, dropped)
	}
	return accepted
}

// DeliverToWaiter hands ev to the agent parked on escalationID, if any.
func (h *Hub) DeliverToWaiter(escalationID string, ev escalation.Event) bool {
	return h.reg.Deliver(escalationID, ev)
}

// Publish delivers ev to its waiter when it is a resolution and broadcasts it
// to all consoles.
func (h *Hub) Publish(ctx context.Context, ev escalation.Event) {
	if ev.Kind == escalation.EventResolved && ev.Escalation != nil {
		if h.DeliverToWaiter(ev.Escalation.ID, ev) {
			h.logger.Debug("resolution delivered to waiter", "escalation_id", ev.Escalation.ID)
		}
	}
	h.Broadcast(ctx, ev)
}
