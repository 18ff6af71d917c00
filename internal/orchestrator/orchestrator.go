// Package orchestrator is the public contract of the escalation subsystem.
// It is the only component that mutates the [escalation.Store] and it
// enforces the pending→resolved state machine.
//
// Every state change on an escalation is written to the store and published
// through the [hub.Hub] while holding a lock striped by escalation ID. This
// keeps per-escalation event order (created before resolved, insight updates
// never reverting a resolution) without serialising unrelated escalations.
//
// Typical agent flow:
//
//	id, err := o.Create(ctx, req)
//	out, err := o.AwaitResponse(ctx, id, 30*time.Second)
//	if out.Status == orchestrator.OutcomeTimedOut {
//	    // continue with degraded behaviour; operators may still respond later
//	}
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/handoff/internal/hub"
	"github.com/MrWong99/handoff/internal/observe"
	"github.com/MrWong99/handoff/pkg/escalation"
)

const lockStripes = 256

// OutcomeStatus is the result kind of [Orchestrator.AwaitResponse].
type OutcomeStatus string

const (
	// OutcomeResolved means an operator responded before the timeout.
	OutcomeResolved OutcomeStatus = "resolved"

	// OutcomeTimedOut means the timeout elapsed first. The escalation stays
	// pending and can still be resolved; that late resolution is persisted
	// but not delivered to this caller.
	OutcomeTimedOut OutcomeStatus = "timed_out"
)

// Outcome is returned by [Orchestrator.AwaitResponse]. Response and
// Escalation are only set when Status is [OutcomeResolved].
type Outcome struct {
	Status     OutcomeStatus          `json:"status"`
	Response   string                 `json:"response,omitempty"`
	Escalation *escalation.Escalation `json:"escalation,omitempty"`
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	store   escalation.Store
	hub     *hub.Hub
	metrics *observe.Metrics
	logger  *slog.Logger
	now     func() time.Time
	newID   func() (string, error)

	seq   atomic.Uint64
	locks [lockStripes]sync.Mutex
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator overrides escalation ID generation. The default produces
// time-ordered UUIDv7 strings.
func WithIDGenerator(gen func() (string, error)) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

// New creates an orchestrator over store, publishing lifecycle events
// through h.
func New(store escalation.Store, h *hub.Hub, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store: store,
		hub:   h,
		now:   time.Now,
		newID: newUUIDv7,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "orchestrator")
	return o
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (o *Orchestrator) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &o.locks[h.Sum32()%lockStripes]
}

// publish stamps and emits an event. Callers hold the escalation's stripe
// lock so sequence numbers follow per-escalation order.
func (o *Orchestrator) publish(ctx context.Context, kind escalation.EventKind, rec *escalation.Escalation) {
	o.hub.Publish(ctx, escalation.Event{
		Kind:       kind,
		Seq:        o.seq.Add(1),
		At:         o.now(),
		Escalation: rec,
	})
}

// Create stores a new pending escalation, broadcasts it to operator consoles
// and returns its ID.
//
// The only expected failure is an ID collision in the store, which is
// reported as [escalation.ErrInvariantViolation] and indicates store
// corruption or a broken ID generator. The store write and broadcast ignore
// ctx cancellation so a stored escalation is always announced.
func (o *Orchestrator) Create(ctx context.Context, req escalation.Request) (id string, err error) {
	id, err = o.newID()
	if err != nil {
		return "", fmt.Errorf("orchestrator: generate id: %w", err)
	}

	ctx, span := observe.StartEscalationSpan(context.WithoutCancel(ctx), "orchestrator.create", id)
	defer func() { observe.EndSpan(span, err) }()

	rec := escalation.NewPending(id, req, o.now())

	mu := o.lockFor(id)
	mu.Lock()
	if err := o.store.Put(ctx, rec); err != nil {
		mu.Unlock()
		if errors.Is(err, escalation.ErrDuplicateID) {
			o.logger.Error("escalation id collision; store state is inconsistent", "escalation_id", id)
			return "", fmt.Errorf("orchestrator: create %s: %w: %w", id, escalation.ErrInvariantViolation, err)
		}
		return "", fmt.Errorf("orchestrator: create %s: %w", id, err)
	}
	o.publish(ctx, escalation.EventCreated, rec.Clone())
	mu.Unlock()

	o.metrics.RecordCreated(ctx, string(rec.Urgency), rec.DecisionType)
	o.logger.Info("escalation created",
		"escalation_id", id,
		"session_ref", rec.SessionRef,
		"urgency", rec.Urgency,
		"decision_type", rec.DecisionType,
	)
	return id, nil
}

// AwaitResponse blocks until an operator resolves the escalation or timeout
// elapses, whichever comes first. A timeout is not an error: it returns an
// [Outcome] with [OutcomeTimedOut] and leaves the escalation pending.
//
// If the escalation is already resolved the outcome is returned immediately.
// Errors are [escalation.ErrNotFound], [escalation.ErrDuplicateWaiter] if
// another caller is already awaiting the same ID, or ctx.Err() if the caller
// gives up.
func (o *Orchestrator) AwaitResponse(ctx context.Context, id string, timeout time.Duration) (out Outcome, err error) {
	ctx, span := observe.StartEscalationSpan(ctx, "orchestrator.await_response", id)
	defer func() { observe.EndSpan(span, err) }()

	w, err := o.hub.Registry().RegisterWaiter(id)
	if err != nil {
		return Outcome{}, fmt.Errorf("orchestrator: await %s: %w", id, err)
	}
	defer o.hub.Registry().UnregisterWaiter(w)

	// Checked after registering so a resolution that lands in between is
	// seen either here or on the waiter channel.
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		return Outcome{}, fmt.Errorf("orchestrator: await %s: %w", id, err)
	}
	if !rec.IsPending() {
		return resolvedOutcome(rec), nil
	}

	start := time.Now()
	o.metrics.ActiveWaiters.Add(ctx, 1)
	defer o.metrics.ActiveWaiters.Add(ctx, -1)

	timer := time.NewTimer(max(timeout, 0))
	defer timer.Stop()

	select {
	case ev := <-w.C():
		o.metrics.RecordAwait(ctx, observe.AwaitResolved, time.Since(start))
		return resolvedOutcome(ev.Escalation), nil
	case <-timer.C:
		o.metrics.RecordAwait(ctx, observe.AwaitTimedOut, time.Since(start))
		o.logger.Info("await timed out; escalation stays pending", "escalation_id", id, "timeout", timeout)
		return Outcome{Status: OutcomeTimedOut}, nil
	case <-ctx.Done():
		o.metrics.RecordAwait(ctx, observe.AwaitCancelled, time.Since(start))
		return Outcome{}, fmt.Errorf("orchestrator: await %s: %w", id, ctx.Err())
	}
}

func resolvedOutcome(rec *escalation.Escalation) Outcome {
	return Outcome{Status: OutcomeResolved, Response: rec.Response, Escalation: rec}
}

// ListPending returns all pending escalations, oldest first.
func (o *Orchestrator) ListPending(ctx context.Context) ([]*escalation.Escalation, error) {
	list, err := o.store.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list pending: %w", err)
	}
	return list, nil
}

// Get returns the escalation for id or [escalation.ErrNotFound].
func (o *Orchestrator) Get(ctx context.Context, id string) (*escalation.Escalation, error) {
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: get %s: %w", id, err)
	}
	return rec, nil
}

// Respond resolves a pending escalation with the operator's text, hands the
// outcome to a waiting agent if one is still parked, and broadcasts the
// resolution. Exactly one Respond succeeds per escalation; every other call
// fails with an error matching [escalation.ErrAlreadyResolved] that unwraps
// to an [*escalation.AlreadyResolvedError] carrying the winning record.
// Blank text is rejected with [escalation.ErrEmptyResponse].
//
// Once started, the store write and its broadcast are not interrupted by
// ctx cancellation.
func (o *Orchestrator) Respond(ctx context.Context, id, response string) (rec *escalation.Escalation, err error) {
	if strings.TrimSpace(response) == "" {
		return nil, fmt.Errorf("orchestrator: respond %s: %w", id, escalation.ErrEmptyResponse)
	}

	ctx, span := observe.StartEscalationSpan(context.WithoutCancel(ctx), "orchestrator.respond", id)
	defer func() { observe.EndSpan(span, err) }()

	mu := o.lockFor(id)
	mu.Lock()
	rec, err = o.store.CompareAndResolve(ctx, id, response, o.now())
	if err != nil {
		mu.Unlock()
		if errors.Is(err, escalation.ErrAlreadyResolved) {
			o.metrics.RespondConflicts.Add(ctx, 1)
			o.logger.Info("respond lost race; escalation already resolved", "escalation_id", id)
		}
		return nil, fmt.Errorf("orchestrator: respond %s: %w", id, err)
	}
	o.publish(ctx, escalation.EventResolved, rec.Clone())
	mu.Unlock()

	var waited time.Duration
	if rec.ResolvedAt != nil {
		waited = rec.ResolvedAt.Sub(rec.CreatedAt)
	}
	o.metrics.RecordResolved(ctx, string(rec.Urgency), waited)
	o.logger.Info("escalation resolved", "escalation_id", id, "waited", waited)
	return rec, nil
}

// AttachInsight sets or replaces the escalation's insight text and
// broadcasts the update. It works in any status and never changes it. Like
// [Orchestrator.Respond], the write and broadcast ignore ctx cancellation.
func (o *Orchestrator) AttachInsight(ctx context.Context, id, insight string) (rec *escalation.Escalation, err error) {
	ctx, span := observe.StartEscalationSpan(context.WithoutCancel(ctx), "orchestrator.attach_insight", id)
	defer func() { observe.EndSpan(span, err) }()

	mu := o.lockFor(id)
	mu.Lock()
	rec, err = o.store.AttachInsight(ctx, id, insight)
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("orchestrator: attach insight %s: %w", id, err)
	}
	o.publish(ctx, escalation.EventInsightUpdated, rec.Clone())
	mu.Unlock()

	o.logger.Debug("insight attached", "escalation_id", id, "len", len(insight))
	return rec, nil
}

// Subscribe opens an operator-console subscription on the underlying hub.
// It is a convenience for transports that only hold the orchestrator.
func (o *Orchestrator) Subscribe(ctx context.Context) *ConsoleStream {
	return &ConsoleStream{hub: o.hub, console: o.hub.Subscribe(ctx)}
}
