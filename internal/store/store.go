package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/gazewatch/internal/gaze"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrSessionNotFound is returned when a session ID has no row.
var ErrSessionNotFound = errors.New("session not found")

// Store manages the PostgreSQL connection for gaze sessions and events.
type Store struct {
	conn *pgx.Conn
}

// Session is one watch or replay run.
type Session struct {
	ID        uuid.UUID
	Source    string
	StartedAt time.Time
	EndedAt   *time.Time
	Events    int
}

// Event is a recorded label transition.
type Event struct {
	SessionID  uuid.UUID
	Label      gaze.Label
	Reason     string
	FrameIndex int
	ObservedAt time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS gaze_sessions (
			id UUID PRIMARY KEY,
			source TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			ended_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS gaze_events (
			id BIGSERIAL PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES gaze_sessions(id) ON DELETE CASCADE,
			label TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			frame_index INT NOT NULL,
			observed_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS gaze_events_session_id_idx ON gaze_events (session_id, observed_at);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// CreateSession registers a new run and returns its ID.
func (s *Store) CreateSession(ctx context.Context, source string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.conn.Exec(ctx, `INSERT INTO gaze_sessions (id, source, started_at) VALUES ($1, $2, NOW())`, id, source)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// EndSession stamps the session's end time.
func (s *Store) EndSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.conn.Exec(ctx, `UPDATE gaze_sessions SET ended_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// InsertEvent saves one label transition.
func (s *Store) InsertEvent(ctx context.Context, e Event) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO gaze_events (session_id, label, reason, frame_index, observed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.SessionID, e.Label.Key(), e.Reason, e.FrameIndex, e.ObservedAt)
	return err
}

// ListSessions returns every session, newest first, with its event count.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT s.id, s.source, s.started_at, s.ended_at, COUNT(e.id)
		FROM gaze_sessions s
		LEFT JOIN gaze_events e ON e.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Source, &sess.StartedAt, &sess.EndedAt, &sess.Events); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// GetSession loads a single session.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (Session, error) {
	var sess Session
	err := s.conn.QueryRow(ctx, `
		SELECT s.id, s.source, s.started_at, s.ended_at,
			(SELECT COUNT(*) FROM gaze_events e WHERE e.session_id = s.id)
		FROM gaze_sessions s WHERE s.id = $1
	`, id).Scan(&sess.ID, &sess.Source, &sess.StartedAt, &sess.EndedAt, &sess.Events)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, err
}

// SessionEvents returns a session's transitions in the order they were observed.
func (s *Store) SessionEvents(ctx context.Context, id uuid.UUID) ([]Event, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT label, reason, frame_index, observed_at
		FROM gaze_events
		WHERE session_id = $1
		ORDER BY observed_at, id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var key string
		e := Event{SessionID: id}
		if err := rows.Scan(&key, &e.Reason, &e.FrameIndex, &e.ObservedAt); err != nil {
			return nil, err
		}
		if e.Label, err = gaze.ParseKey(key); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Reset drops all application tables to clear the database state.
// The next New recreates them.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS gaze_events CASCADE;
		DROP TABLE IF EXISTS gaze_sessions CASCADE;
	`)
	return err
}
