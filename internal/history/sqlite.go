package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ide3/internal/session"
)

// ErrSessionNotFound is returned by Load for unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	start_time DATETIME,
	backend TEXT
);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT,
	role TEXT,
	content TEXT,
	timestamp DATETIME,
	FOREIGN KEY(session_id) REFERENCES sessions(id)
);`

// SQLiteSink stores sessions in a local SQLite database.
type SQLiteSink struct {
	db      *sql.DB
	backend string
	logger  *slog.Logger
}

// OpenSQLite opens or creates the database at path. backend is recorded with
// every new session.
func OpenSQLite(path, backend string, logger *slog.Logger) (*SQLiteSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &SQLiteSink{db: db, backend: backend, logger: logger}, nil
}

// Record inserts the message, creating the session row on first use.
func (s *SQLiteSink) Record(ctx context.Context, e Entry) {
	if err := s.insert(ctx, e); err != nil {
		logFailure(s.logger, "sqlite", e, err)
	}
}

func (s *SQLiteSink) insert(ctx context.Context, e Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO sessions (id, start_time, backend) VALUES (?, ?, ?)",
		e.SessionID, e.CreatedAt, s.backend,
	); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO messages (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)",
		e.SessionID, e.Role, e.Content, e.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return tx.Commit()
}

// Load returns the recorded messages of a session in insertion order.
func (s *SQLiteSink) Load(ctx context.Context, sessionID string) ([]session.Message, time.Time, error) {
	var startTime time.Time
	err := s.db.QueryRowContext(ctx, "SELECT start_time FROM sessions WHERE id = ?", sessionID).Scan(&startTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to load session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content FROM messages WHERE session_id = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var msgs []session.Message
	for rows.Next() {
		var m session.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, startTime, rows.Err()
}

// Latest returns the ID of the most recently started session.
func (s *SQLiteSink) Latest(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM sessions ORDER BY start_time DESC LIMIT 1").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSessionNotFound
	}
	return id, err
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
