// Package mock provides a test double for the escalation.Store interface.
//
// Store delegates to an in-memory backend so that behaviour stays realistic,
// while letting tests inject per-method errors and inspect call counts.
//
// Example:
//
//	s := &mock.Store{PutErr: escalation.ErrDuplicateID}
//	err := s.Put(ctx, rec) // returns ErrDuplicateID without storing
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/handoff/pkg/escalation"
	"github.com/MrWong99/handoff/pkg/escalation/memstore"
)

// Store is a mock implementation of escalation.Store. The zero value is ready
// to use. Set the Err fields to make the corresponding method fail before it
// reaches the backing store.
type Store struct {
	mu      sync.Mutex
	backend memstore.Store

	// --- Configurable failures ---

	PutErr               error
	GetErr               error
	ListPendingErr       error
	CompareAndResolveErr error
	AttachInsightErr     error

	// PingErr is returned by Ping.
	PingErr error

	// --- Call records (read after test) ---

	PutCalls               int
	GetCalls               int
	ListPendingCalls       int
	CompareAndResolveCalls int
	AttachInsightCalls     int
}

// Ensure Store implements escalation.Store at compile time.
var _ escalation.Store = (*Store)(nil)

// Put records the call and returns PutErr or delegates to the backend.
func (s *Store) Put(ctx context.Context, rec *escalation.Escalation) error {
	s.mu.Lock()
	s.PutCalls++
	err := s.PutErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.backend.Put(ctx, rec)
}

// Get records the call and returns GetErr or delegates to the backend.
func (s *Store) Get(ctx context.Context, id string) (*escalation.Escalation, error) {
	s.mu.Lock()
	s.GetCalls++
	err := s.GetErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.backend.Get(ctx, id)
}

// ListPending records the call and returns ListPendingErr or delegates to the backend.
func (s *Store) ListPending(ctx context.Context) ([]*escalation.Escalation, error) {
	s.mu.Lock()
	s.ListPendingCalls++
	err := s.ListPendingErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.backend.ListPending(ctx)
}

// CompareAndResolve records the call and returns CompareAndResolveErr or
// delegates to the backend.
func (s *Store) CompareAndResolve(ctx context.Context, id, response string, resolvedAt time.Time) (*escalation.Escalation, error) {
	s.mu.Lock()
	s.CompareAndResolveCalls++
	err := s.CompareAndResolveErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.backend.CompareAndResolve(ctx, id, response, resolvedAt)
}

// AttachInsight records the call and returns AttachInsightErr or delegates to
// the backend.
func (s *Store) AttachInsight(ctx context.Context, id, insight string) (*escalation.Escalation, error) {
	s.mu.Lock()
	s.AttachInsightCalls++
	err := s.AttachInsightErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.backend.AttachInsight(ctx, id, insight)
}

// Ping returns PingErr.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Seed inserts records directly into the backend without counting calls.
func (s *Store) Seed(recs ...*escalation.Escalation) {
	for _, r := range recs {
		_ = s.backend.Put(context.Background(), r)
	}
}
