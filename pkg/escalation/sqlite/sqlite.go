// Package sqlite implements [escalation.Store] on an embedded SQLite database
// using the pure-Go modernc.org/sqlite driver.
//
// Timestamps are stored as Unix nanoseconds so that ordering and round-trips
// are exact. The pool is limited to a single connection; SQLite serialises
// writers anyway and this avoids SQLITE_BUSY under concurrent resolves.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/handoff/pkg/escalation"
)

const schema = `
CREATE TABLE IF NOT EXISTS escalations (
	id              TEXT PRIMARY KEY,
	session_ref     TEXT NOT NULL DEFAULT '',
	requester_ref   TEXT NOT NULL DEFAULT '',
	reason          TEXT NOT NULL,
	urgency         TEXT NOT NULL DEFAULT 'medium',
	decision_type   TEXT NOT NULL DEFAULT '',
	context_details TEXT NOT NULL DEFAULT '',
	transcript      TEXT NOT NULL DEFAULT '[]',
	status          TEXT NOT NULL DEFAULT 'pending',
	response        TEXT NOT NULL DEFAULT '',
	insight         TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	resolved_at     INTEGER
);

CREATE INDEX IF NOT EXISTS idx_escalations_status_created
	ON escalations(status, created_at, id);
`

const columns = `id, session_ref, requester_ref, reason, urgency, decision_type,
	context_details, transcript, status, response, insight, created_at, resolved_at`

// Store is an [escalation.Store] backed by SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Compile-time interface check.
var _ escalation.Store = (*Store)(nil)

// Open creates or opens the database at path and ensures the schema exists.
// Parent directories are created if needed. Use ":memory:" for a throwaway
// database.
func Open(ctx context.Context, path string) (*Store, error) {
	logger := slog.Default().With("component", "sqlite-store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	logger.Info("sqlite escalation store initialised", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Ping verifies the database handle is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put implements [escalation.Store.Put].
func (s *Store) Put(ctx context.Context, rec *escalation.Escalation) error {
	transcript := rec.Transcript
	if transcript == nil {
		transcript = []escalation.TranscriptLine{}
	}
	transcriptJSON, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("sqlite: marshal transcript: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO escalations (`+columns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.SessionRef, rec.RequesterRef, rec.Reason, string(rec.Urgency), rec.DecisionType,
		rec.ContextDetails, string(transcriptJSON), string(rec.Status), rec.Response, rec.Insight,
		rec.CreatedAt.UnixNano(), nullableTime(rec.ResolvedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return escalation.ErrDuplicateID
		}
		return fmt.Errorf("sqlite: put %q: %w", rec.ID, err)
	}
	return nil
}

// Get implements [escalation.Store.Get].
func (s *Store) Get(ctx context.Context, id string) (*escalation.Escalation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM escalations WHERE id = ?`, id)
	rec, err := scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, escalation.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: get %q: %w", id, err)
	}
	return rec, nil
}

// ListPending implements [escalation.Store.ListPending].
func (s *Store) ListPending(ctx context.Context) ([]*escalation.Escalation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM escalations WHERE status = 'pending' ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list pending: %w", err)
	}
	defer rows.Close()

	out := []*escalation.Escalation{}
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: list pending scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list pending: %w", err)
	}
	return out, nil
}

// CompareAndResolve implements [escalation.Store.CompareAndResolve].
//
// The transition and the returned record come from one UPDATE ... RETURNING
// statement. It runs detached from ctx cancellation: a caller that gives up
// mid-call must not leave a committed resolution reported as a failure.
func (s *Store) CompareAndResolve(ctx context.Context, id, response string, resolvedAt time.Time) (*escalation.Escalation, error) {
	ctx = context.WithoutCancel(ctx)

	row := s.db.QueryRowContext(ctx,
		`UPDATE escalations SET status = 'resolved', response = ?, resolved_at = ?
		 WHERE id = ? AND status = 'pending'
		 RETURNING `+columns,
		response, resolvedAt.UnixNano(), id)
	rec, err := scan(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: resolve %q: %w", id, err)
	}

	// No pending row matched: either the id is unknown or someone else won.
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.IsPending() {
		return nil, fmt.Errorf("sqlite: resolve %q matched no row but record is pending: %w", id, escalation.ErrInvariantViolation)
	}
	return nil, &escalation.AlreadyResolvedError{Current: cur}
}

// AttachInsight implements [escalation.Store.AttachInsight].
func (s *Store) AttachInsight(ctx context.Context, id, insight string) (*escalation.Escalation, error) {
	ctx = context.WithoutCancel(ctx)

	row := s.db.QueryRowContext(ctx,
		`UPDATE escalations SET insight = ? WHERE id = ? RETURNING `+columns,
		insight, id)
	rec, err := scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, escalation.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: attach insight %q: %w", id, err)
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*escalation.Escalation, error) {
	var (
		rec        escalation.Escalation
		urgency    string
		status     string
		transcript string
		createdAt  int64
		resolvedAt sql.NullInt64
	)
	err := row.Scan(
		&rec.ID, &rec.SessionRef, &rec.RequesterRef, &rec.Reason, &urgency, &rec.DecisionType,
		&rec.ContextDetails, &transcript, &status, &rec.Response, &rec.Insight,
		&createdAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Urgency = escalation.Urgency(urgency)
	rec.Status = escalation.Status(status)
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	if resolvedAt.Valid {
		t := time.Unix(0, resolvedAt.Int64).UTC()
		rec.ResolvedAt = &t
	}
	if err := json.Unmarshal([]byte(transcript), &rec.Transcript); err != nil {
		return nil, fmt.Errorf("unmarshal transcript: %w", err)
	}
	if len(rec.Transcript) == 0 {
		rec.Transcript = nil
	}
	return &rec, nil
}

func nullableTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
