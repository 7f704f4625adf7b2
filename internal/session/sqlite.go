package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id     TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	last_active_at TEXT NOT NULL,
	metadata       TEXT NOT NULL DEFAULT '{}',
	context        TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active_at);
`

// SQLiteBackend persists sessions in an embedded SQLite database file.
// Writes are committed before Put and Delete return, so sessions survive a
// process restart. Every statement is parameterized; metadata and context
// carry arbitrary caller-supplied text.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// NewSQLiteBackend opens the database at path, creating the file and its
// parent directory if needed, and ensures the sessions schema exists.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// One connection sidesteps SQLITE_BUSY between concurrent writers; WAL
	// with synchronous=FULL keeps each commit on disk before Put returns.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sessions schema: %w", err)
	}

	return &SQLiteBackend{db: db, path: path}, nil
}

// Put inserts or replaces the record for sess.ID.
func (b *SQLiteBackend) Put(ctx context.Context, sess Session) error {
	metaJSON, ctxJSON, err := encodeBlobs(sess)
	if err != nil {
		return err
	}

	_, err = b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions
		 (session_id, user_id, created_at, last_active_at, metadata, context)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID,
		sess.UserID,
		sess.CreatedAt.UTC().Format(time.RFC3339Nano),
		sess.LastActiveAt.UTC().Format(time.RFC3339Nano),
		string(metaJSON),
		string(ctxJSON),
	)
	if err != nil {
		return storageErr("put session", err)
	}
	return nil
}

// Get returns the session with the given ID, or ErrNotFound.
func (b *SQLiteBackend) Get(ctx context.Context, id string) (Session, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, created_at, last_active_at, metadata, context
		 FROM sessions WHERE session_id = ?`, id)

	sess, err := scanSQLiteSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, storageErr("get session", err)
	}
	return sess, nil
}

// Delete removes the session and reports whether it existed.
func (b *SQLiteBackend) Delete(ctx context.Context, id string) (bool, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return false, storageErr("delete session", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("delete session", err)
	}
	return affected > 0, nil
}

// Scan returns every stored session via a single consistent read.
func (b *SQLiteBackend) Scan(ctx context.Context) ([]Session, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT session_id, user_id, created_at, last_active_at, metadata, context
		 FROM sessions`)
	if err != nil {
		return nil, storageErr("scan sessions", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, storageErr("scan sessions", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("scan sessions", err)
	}
	return out, nil
}

// Count returns the number of stored sessions.
func (b *SQLiteBackend) Count(ctx context.Context) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n)
	if err != nil {
		return 0, storageErr("count sessions", err)
	}
	return n, nil
}

// Close closes the underlying database handle.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSQLiteSession decodes one row into a Session. Timestamps are stored
// as RFC 3339 text in UTC; the instant round-trips at nanosecond precision.
func scanSQLiteSession(row rowScanner) (Session, error) {
	var (
		sess                  Session
		createdAt, lastActive string
		metaJSON, ctxJSON     []byte
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &createdAt, &lastActive, &metaJSON, &ctxJSON); err != nil {
		return Session{}, err
	}

	var err error
	if sess.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Session{}, fmt.Errorf("parse created_at: %w", err)
	}
	if sess.LastActiveAt, err = time.Parse(time.RFC3339Nano, lastActive); err != nil {
		return Session{}, fmt.Errorf("parse last_active_at: %w", err)
	}
	if err := decodeBlobs(&sess, metaJSON, ctxJSON); err != nil {
		return Session{}, err
	}
	return sess, nil
}
