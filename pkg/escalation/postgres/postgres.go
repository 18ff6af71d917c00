// Package postgres implements [escalation.Store] on PostgreSQL using pgx.
//
// The pending→resolved transition is a single conditional UPDATE, so the
// database row lock decides the winner when several operators respond at once.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/handoff/pkg/escalation"
)

// Schema is the SQL DDL for the escalations table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS escalations (
    id              TEXT PRIMARY KEY,
    session_ref     TEXT NOT NULL DEFAULT '',
    requester_ref   TEXT NOT NULL DEFAULT '',
    reason          TEXT NOT NULL,
    urgency         TEXT NOT NULL DEFAULT 'medium',
    decision_type   TEXT NOT NULL DEFAULT '',
    context_details TEXT NOT NULL DEFAULT '',
    transcript      JSONB NOT NULL DEFAULT '[]',
    status          TEXT NOT NULL DEFAULT 'pending',
    response        TEXT NOT NULL DEFAULT '',
    insight         TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL,
    resolved_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_escalations_pending
    ON escalations(created_at, id) WHERE status = 'pending';
`

const columns = `id, session_ref, requester_ref, reason, urgency, decision_type,
	context_details, transcript, status, response, insight, created_at, resolved_at`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is an [escalation.Store] backed by PostgreSQL.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// Compile-time interface check.
var _ escalation.Store = (*Store)(nil)

// New wraps an existing connection or pool. The caller is responsible for
// calling [Store.Migrate] before issuing queries.
func New(db DB) *Store {
	return &Store{db: db}
}

// Open connects a pool to dsn, verifies connectivity and applies [Schema].
// The returned store owns the pool; call [Store.Close] to release it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := &Store{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes the [Schema] DDL against the database.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable. It backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.db.Exec(ctx, "SELECT 1")
	return err
}

// Close releases the pool if the store owns one.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Put implements [escalation.Store.Put].
func (s *Store) Put(ctx context.Context, rec *escalation.Escalation) error {
	transcript, err := json.Marshal(emptyTranscript(rec.Transcript))
	if err != nil {
		return fmt.Errorf("postgres: marshal transcript: %w", err)
	}

	const query = `
		INSERT INTO escalations (` + columns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

	_, err = s.db.Exec(ctx, query,
		rec.ID, rec.SessionRef, rec.RequesterRef, rec.Reason, string(rec.Urgency), rec.DecisionType,
		rec.ContextDetails, transcript, string(rec.Status), rec.Response, rec.Insight,
		rec.CreatedAt, rec.ResolvedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return escalation.ErrDuplicateID
		}
		return fmt.Errorf("postgres: put %q: %w", rec.ID, err)
	}
	return nil
}

// Get implements [escalation.Store.Get].
func (s *Store) Get(ctx context.Context, id string) (*escalation.Escalation, error) {
	const query = `SELECT ` + columns + ` FROM escalations WHERE id = $1`

	rec, err := scanEscalation(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escalation.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get %q: %w", id, err)
	}
	return rec, nil
}

// ListPending implements [escalation.Store.ListPending].
func (s *Store) ListPending(ctx context.Context) ([]*escalation.Escalation, error) {
	const query = `
		SELECT ` + columns + `
		FROM escalations
		WHERE status = 'pending'
		ORDER BY created_at, id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending: %w", err)
	}
	defer rows.Close()

	out := []*escalation.Escalation{}
	for rows.Next() {
		rec, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: list pending scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pending: %w", err)
	}
	return out, nil
}

// CompareAndResolve implements [escalation.Store.CompareAndResolve].
func (s *Store) CompareAndResolve(ctx context.Context, id, response string, resolvedAt time.Time) (*escalation.Escalation, error) {
	const query = `
		UPDATE escalations
		SET status = 'resolved', response = $2, resolved_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + columns

	rec, err := scanEscalation(s.db.QueryRow(ctx, query, id, response, resolvedAt))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: resolve %q: %w", id, err)
	}

	// No pending row matched: either the id is unknown or someone else won.
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.IsPending() {
		return nil, fmt.Errorf("postgres: resolve %q matched no row but record is pending: %w", id, escalation.ErrInvariantViolation)
	}
	return nil, &escalation.AlreadyResolvedError{Current: cur}
}

// AttachInsight implements [escalation.Store.AttachInsight].
func (s *Store) AttachInsight(ctx context.Context, id, insight string) (*escalation.Escalation, error) {
	const query = `
		UPDATE escalations SET insight = $2
		WHERE id = $1
		RETURNING ` + columns

	rec, err := scanEscalation(s.db.QueryRow(ctx, query, id, insight))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escalation.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: attach insight %q: %w", id, err)
	}
	return rec, nil
}

// scanEscalation reads one row in [columns] order.
func scanEscalation(row pgx.Row) (*escalation.Escalation, error) {
	var (
		rec        escalation.Escalation
		urgency    string
		status     string
		transcript []byte
		resolvedAt *time.Time
	)
	err := row.Scan(
		&rec.ID, &rec.SessionRef, &rec.RequesterRef, &rec.Reason, &urgency, &rec.DecisionType,
		&rec.ContextDetails, &transcript, &status, &rec.Response, &rec.Insight,
		&rec.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Urgency = escalation.Urgency(urgency)
	rec.Status = escalation.Status(status)
	rec.ResolvedAt = resolvedAt
	if len(transcript) > 0 {
		if err := json.Unmarshal(transcript, &rec.Transcript); err != nil {
			return nil, fmt.Errorf("unmarshal transcript: %w", err)
		}
		if len(rec.Transcript) == 0 {
			rec.Transcript = nil
		}
	}
	return &rec, nil
}

func emptyTranscript(t []escalation.TranscriptLine) []escalation.TranscriptLine {
	if t == nil {
		return []escalation.TranscriptLine{}
	}
	return t
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
