// Package registry tracks the live channels of the escalation subsystem: the
// single agent-side waiter parked on each escalation and the set of operator
// consoles subscribed to lifecycle events.
//
// Waiters live in a sharded arena keyed by escalation ID so that registering,
// delivering to and releasing waiters for unrelated escalations never contend
// on one lock. Consoles each own their buffered channel and a private mutex;
// the console set lock is only held to add, remove or snapshot entries.
package registry

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/MrWong99/handoff/pkg/escalation"
)

const shardCount = 32

// DefaultConsoleBuffer is the per-console event buffer when none is configured.
const DefaultConsoleBuffer = 64

// Waiter is the single-use handle an agent session blocks on while it awaits
// the outcome of one escalation.
type Waiter struct {
	id string
	ch chan escalation.Event
}

// EscalationID returns the escalation this waiter is parked on.
func (w *Waiter) EscalationID() string { return w.id }

// C returns the channel on which at most one event is ever delivered.
func (w *Waiter) C() <-chan escalation.Event { return w.ch }

type waiterShard struct {
	mu      sync.Mutex
	waiters map[string]*Waiter
}

// Console is an operator-console subscription. Events are read from
// [Console.Events] until the channel is closed by
// [Registry.UnsubscribeConsole].
type Console struct {
	id string

	mu      sync.Mutex
	ch      chan escalation.Event
	closed  bool
	dropped atomic.Uint64
}

// ID returns the unique handle of this subscription.
func (c *Console) ID() string { return c.id }

// Events returns the receive side of the console's buffered channel.
func (c *Console) Events() <-chan escalation.Event { return c.ch }

// Dropped returns how many events were discarded because the console did not
// drain its buffer in time.
func (c *Console) Dropped() uint64 { return c.dropped.Load() }

// Offer enqueues ev without blocking. When the buffer is full the oldest
// queued events are discarded until ev fits. It returns false if the console
// is already unsubscribed, and the number of events dropped to make room.
func (c *Console) Offer(ev escalation.Event) (accepted bool, dropped int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, 0
	}
	for {
		select {
		case c.ch <- ev:
			if dropped > 0 {
				c.dropped.Add(uint64(dropped))
			}
			return true, dropped
		default:
		}
		// Only Offer sends and it holds c.mu, so after one receive (ours or
		// the reader's) the next send has room.
		select {
		case <-c.ch:
			dropped++
		default:
		}
	}
}

func (c *Console) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

// Registry is safe for concurrent use. The zero value is not usable; create
// one with [New].
type Registry struct {
	shards [shardCount]waiterShard

	consoleBuffer int
	consMu        sync.RWMutex
	consoles      map[string]*Console
}

// Option configures a [Registry].
type Option func(*Registry)

// WithConsoleBuffer sets the per-console event buffer. Values below 1 are
// raised to 1.
func WithConsoleBuffer(n int) Option {
	return func(r *Registry) {
		r.consoleBuffer = max(n, 1)
	}
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		consoleBuffer: DefaultConsoleBuffer,
		consoles:      make(map[string]*Console),
	}
	for i := range r.shards {
		r.shards[i].waiters = make(map[string]*Waiter)
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) shard(id string) *waiterShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &r.shards[h.Sum32()%shardCount]
}

// RegisterWaiter parks a new single-use waiter on escalationID. It returns
// [escalation.ErrDuplicateWaiter] if a waiter is already registered.
func (r *Registry) RegisterWaiter(escalationID string) (*Waiter, error) {
	s := r.shard(escalationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.waiters[escalationID]; exists {
		return nil, escalation.ErrDuplicateWaiter
	}
	w := &Waiter{id: escalationID, ch: make(chan escalation.Event, 1)}
	s.waiters[escalationID] = w
	return w, nil
}

// Deliver hands ev to the waiter registered for escalationID and retires the
// waiter. It never blocks and is a no-op returning false if nobody is
// waiting.
func (r *Registry) Deliver(escalationID string, ev escalation.Event) bool {
	s := r.shard(escalationID)
	s.mu.Lock()
	w, ok := s.waiters[escalationID]
	if ok {
		delete(s.waiters, escalationID)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	// Capacity 1 and removed from the arena above: this send cannot block.
	w.ch <- ev
	return true
}

// UnregisterWaiter releases w if it is still the registered waiter for its
// escalation. Calling it after delivery, or more than once, is a no-op.
func (r *Registry) UnregisterWaiter(w *Waiter) {
	s := r.shard(w.id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.waiters[w.id]; ok && cur == w {
		delete(s.waiters, w.id)
	}
}

// HasWaiter reports whether an agent is currently parked on escalationID.
func (r *Registry) HasWaiter(escalationID string) bool {
	s := r.shard(escalationID)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.waiters[escalationID]
	return ok
}

// WaiterCount returns the number of registered waiters across all shards.
func (r *Registry) WaiterCount() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		n += len(s.waiters)
		s.mu.Unlock()
	}
	return n
}

// SubscribeConsole adds a new console subscription.
func (r *Registry) SubscribeConsole() *Console {
	c := &Console{
		id: uuid.NewString(),
		ch: make(chan escalation.Event, r.consoleBuffer),
	}
	r.consMu.Lock()
	r.consoles[c.id] = c
	r.consMu.Unlock()
	return c
}

// UnsubscribeConsole removes c and closes its event channel. It reports
// whether c was still subscribed.
func (r *Registry) UnsubscribeConsole(c *Console) bool {
	r.consMu.Lock()
	_, ok := r.consoles[c.id]
	delete(r.consoles, c.id)
	r.consMu.Unlock()

	c.close()
	return ok
}

// Consoles returns a snapshot of the current subscriptions. The slice may be
// iterated while consoles connect and disconnect.
func (r *Registry) Consoles() []*Console {
	r.consMu.RLock()
	defer r.consMu.RUnlock()
	out := make([]*Console, 0, len(r.consoles))
	for _, c := range r.consoles {
		out = append(out, c)
	}
	return out
}

// ConsoleCount returns the number of subscribed consoles.
func (r *Registry) ConsoleCount() int {
	r.consMu.RLock()
	defer r.consMu.RUnlock()
	return len(r.consoles)
}
