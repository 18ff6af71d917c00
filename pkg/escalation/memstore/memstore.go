// Package memstore provides a thread-safe, in-memory [escalation.Store].
//
// The map lock only guards insertion and lookup. Each record carries its own
// mutex so that resolving one escalation never contends with reads or writes
// of another.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/handoff/pkg/escalation"
)

// Compile-time assertion that Store satisfies escalation.Store.
var _ escalation.Store = (*Store)(nil)

type entry struct {
	mu  sync.Mutex
	rec *escalation.Escalation
}

func (e *entry) snapshot() *escalation.Escalation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone()
}

// Store is an in-memory [escalation.Store]. The zero value is ready to use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New returns an empty [Store].
func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// Put implements [escalation.Store.Put].
func (s *Store) Put(_ context.Context, rec *escalation.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries == nil {
		s.entries = make(map[string]*entry)
	}
	if _, exists := s.entries[rec.ID]; exists {
		return escalation.ErrDuplicateID
	}
	s.entries[rec.ID] = &entry{rec: rec.Clone()}
	return nil
}

// Get implements [escalation.Store.Get].
func (s *Store) Get(_ context.Context, id string) (*escalation.Escalation, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, escalation.ErrNotFound
	}
	return e.snapshot(), nil
}

// ListPending implements [escalation.Store.ListPending].
func (s *Store) ListPending(_ context.Context) ([]*escalation.Escalation, error) {
	s.mu.RLock()
	all := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	s.mu.RUnlock()

	out := make([]*escalation.Escalation, 0, len(all))
	for _, e := range all {
		rec := e.snapshot()
		if rec.IsPending() {
			out = append(out, rec)
		}
	}
	escalation.SortFIFO(out)
	return out, nil
}

// CompareAndResolve implements [escalation.Store.CompareAndResolve].
func (s *Store) CompareAndResolve(_ context.Context, id, response string, resolvedAt time.Time) (*escalation.Escalation, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, escalation.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.rec.IsPending() {
		return nil, &escalation.AlreadyResolvedError{Current: e.rec.Clone()}
	}
	e.rec.Status = escalation.StatusResolved
	e.rec.Response = response
	e.rec.ResolvedAt = &resolvedAt
	return e.rec.Clone(), nil
}

// AttachInsight implements [escalation.Store.AttachInsight].
func (s *Store) AttachInsight(_ context.Context, id, insight string) (*escalation.Escalation, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, escalation.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.rec.Insight = insight
	return e.rec.Clone(), nil
}

// Len returns the total number of records, pending and resolved.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
