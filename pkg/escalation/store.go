package escalation

import (
	"context"
	"time"
)

// Store is the single source of truth for escalation records.
//
// Implementations must be safe for concurrent use. Every method returns
// copies; mutating a returned record never affects stored state.
type Store interface {
	// Put inserts a new record. Returns [ErrDuplicateID] if rec.ID exists.
	Put(ctx context.Context, rec *Escalation) error

	// Get returns the record for id or [ErrNotFound].
	Get(ctx context.Context, id string) (*Escalation, error)

	// ListPending returns a snapshot of every pending record ordered by
	// CreatedAt ascending (oldest first).
	ListPending(ctx context.Context) ([]*Escalation, error)

	// CompareAndResolve atomically moves a pending record to resolved,
	// setting Response and ResolvedAt, and returns the updated record.
	// If the record is already resolved nothing is changed and an
	// [*AlreadyResolvedError] holding the stored record is returned.
	// Returns [ErrNotFound] for unknown ids.
	CompareAndResolve(ctx context.Context, id, response string, resolvedAt time.Time) (*Escalation, error)

	// AttachInsight sets or replaces the insight text regardless of status
	// and returns the updated record. Returns [ErrNotFound] for unknown ids.
	AttachInsight(ctx context.Context, id, insight string) (*Escalation, error)
}
