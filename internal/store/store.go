package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andresmejia3/proctor/internal/events"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session not found")

// Store manages the PostgreSQL connection holding session history.
// A single pgx connection is not safe for concurrent use, so every call is serialized.
type Store struct {
	mu   sync.Mutex
	conn *pgx.Conn
}

// Session is one stored monitoring run.
type Session struct {
	ID         string
	Candidate  string
	Source     string
	SourceID   string
	StartedAt  time.Time
	EndedAt    *time.Time
	FinalScore *int
	EventCount int
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			candidate TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			source_id TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ,
			final_score INT
		);
		CREATE TABLE IF NOT EXISTS session_events (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			seq INT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			type TEXT NOT NULL,
			message TEXT NOT NULL,
			UNIQUE (session_id, seq)
		);
		CREATE INDEX IF NOT EXISTS session_events_session_id_idx ON session_events (session_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close(ctx)
}

// CreateSession registers a new run. Re-creating an existing id clears its old events.
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM session_events WHERE session_id = $1", sess.ID); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (id, candidate, source, source_id, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			candidate = EXCLUDED.candidate,
			source = EXCLUDED.source,
			source_id = EXCLUDED.source_id,
			started_at = EXCLUDED.started_at,
			ended_at = NULL,
			final_score = NULL
	`, sess.ID, sess.Candidate, sess.Source, sess.SourceID, sess.StartedAt)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// EndSession records when a run finished and its final score.
func (s *Store) EndSession(ctx context.Context, id string, endedAt time.Time, finalScore int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, err := s.conn.Exec(ctx, "UPDATE sessions SET ended_at = $2, final_score = $3 WHERE id = $1", id, endedAt, finalScore)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendEvent stores one event at position seq of the session's log.
func (s *Store) AppendEvent(ctx context.Context, sessionID string, seq int, e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(ctx, `
		INSERT INTO session_events (session_id, seq, occurred_at, type, message)
		VALUES ($1, $2, $3, $4, $5)
	`, sessionID, seq, e.Time, string(e.Type), e.Message)
	return err
}

const sessionColumns = `s.id, s.candidate, s.source, s.source_id, s.started_at, s.ended_at, s.final_score,
	(SELECT COUNT(*) FROM session_events e WHERE e.session_id = s.id)`

func scanSession(row pgx.Row) (Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.Candidate, &sess.Source, &sess.SourceID,
		&sess.StartedAt, &sess.EndedAt, &sess.FinalScore, &sess.EventCount)
	return sess, err
}

// ListSessions returns every stored run, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn.Query(ctx, "SELECT "+sessionColumns+" FROM sessions s ORDER BY s.started_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// GetSession looks up one run.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := scanSession(s.conn.QueryRow(ctx, "SELECT "+sessionColumns+" FROM sessions s WHERE s.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return sess, err
}

// SessionEvents returns a run's log in creation order.
func (s *Store) SessionEvents(ctx context.Context, id string) ([]events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn.Query(ctx, `
		SELECT occurred_at, type, message FROM session_events
		WHERE session_id = $1 ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			e   events.Event
			typ string
		)
		if err := rows.Scan(&e.Time, &typ, &e.Message); err != nil {
			return nil, err
		}
		if e.Type, err = events.ParseType(typ); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RenameCandidate updates the candidate name of a stored run.
func (s *Store) RenameCandidate(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, err := s.conn.Exec(ctx, "UPDATE sessions SET candidate = $1 WHERE id = $2", name, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS session_events CASCADE;
		DROP TABLE IF EXISTS sessions CASCADE;
	`)
	return err
}
