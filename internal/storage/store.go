package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 5000

// Store wraps the SQLite handle. The server keeps visitor sessions in it and
// the client keeps session-scoped values.
type Store struct {
	db *sql.DB
}

// VisitorSession is a row in visitor_sessions.
type VisitorSession struct {
	ID        string
	Page      string
	StartedAt time.Time
	LastSeen  time.Time
}

// ErrSessionNotFound is returned when touching an unknown visitor session.
var ErrSessionNotFound = errors.New("visitor session not found")

// NewStore opens the SQLite database at path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "noto.db"
	}
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS visitor_sessions (
			session_id TEXT PRIMARY KEY,
			page TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			last_seen DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS visitor_sessions_last_seen ON visitor_sessions(last_seen);`,
		`CREATE TABLE IF NOT EXISTS session_values (
			scope TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (scope, key)
		);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpsertVisitorSession records a session start, or refreshes page and
// last_seen when the id is already known.
func (s *Store) UpsertVisitorSession(ctx context.Context, id, page string, now time.Time) error {
	now = now.UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO visitor_sessions(session_id, page, started_at, last_seen) VALUES(?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET page = excluded.page, last_seen = excluded.last_seen
	`, id, page, now, now)
	return err
}

// TouchVisitorSession bumps last_seen. ErrSessionNotFound is returned for
// unknown ids.
func (s *Store) TouchVisitorSession(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE visitor_sessions SET last_seen = ? WHERE session_id = ?`, now.UTC(), id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// GetVisitorSession returns nil when the id is unknown.
func (s *Store) GetVisitorSession(ctx context.Context, id string) (*VisitorSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT session_id, page, started_at, last_seen FROM visitor_sessions WHERE session_id = ?`, id)
	var sess VisitorSession
	if err := row.Scan(&sess.ID, &sess.Page, &sess.StartedAt, &sess.LastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

// CountActiveSessions counts sessions seen at or after since.
func (s *Store) CountActiveSessions(ctx context.Context, since time.Time) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM visitor_sessions WHERE last_seen >= ?`, since.UTC())
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// PruneVisitorSessions deletes sessions last seen before the cutoff.
func (s *Store) PruneVisitorSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM visitor_sessions WHERE last_seen < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetSessionValue reads one scoped value; ok is false when it is absent.
func (s *Store) GetSessionValue(ctx context.Context, scope, key string) (value string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM session_values WHERE scope = ? AND key = ?`, scope, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) SetSessionValue(ctx context.Context, scope, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_values(scope, key, value, updated_at) VALUES(?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, scope, key, value)
	return err
}

// ClearSessionScope drops every value of a scope, the way a closed tab loses
// its session storage.
func (s *Store) ClearSessionScope(ctx context.Context, scope string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_values WHERE scope = ?`, scope)
	return err
}
