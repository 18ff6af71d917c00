package orchestrator

import (
	"context"
	"fmt"

	"github.com/MrWong99/handoff/internal/hub"
	"github.com/MrWong99/handoff/internal/registry"
	"github.com/MrWong99/handoff/pkg/escalation"
)

// ConsoleStream is an operator console's live view of lifecycle events.
type ConsoleStream struct {
	hub     *hub.Hub
	console *registry.Console
}

// Events returns the event channel. It is closed by [ConsoleStream.Close].
func (s *ConsoleStream) Events() <-chan escalation.Event { return s.console.Events() }

// ID returns the subscription handle.
func (s *ConsoleStream) ID() string { return s.console.ID() }

// Dropped returns how many events this console missed due to backpressure.
func (s *ConsoleStream) Dropped() uint64 { return s.console.Dropped() }

// Close unsubscribes the console. It is safe to call more than once.
func (s *ConsoleStream) Close(ctx context.Context) {
	s.hub.Unsubscribe(ctx, s.console)
}

// Connect subscribes a console and then hydrates it with the current pending
// list. Subscribing first means no event is lost between the snapshot and the
// stream; an escalation may appear in both, and consumers dedupe by ID.
func (o *Orchestrator) Connect(ctx context.Context) (*ConsoleStream, []*escalation.Escalation, error) {
	stream := o.Subscribe(ctx)
	pending, err := o.ListPending(ctx)
	if err != nil {
		stream.Close(ctx)
		return nil, nil, fmt.Errorf("orchestrator: connect console: %w", err)
	}
	return stream, pending, nil
}
