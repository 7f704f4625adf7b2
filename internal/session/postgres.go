package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id     TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	last_active_at TIMESTAMPTZ NOT NULL,
	metadata       JSONB NOT NULL DEFAULT '{}',
	context        JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active_at);
`

// PostgresBackend persists sessions in a PostgreSQL table. It satisfies
// the same contract as the embedded backends and exists for deployments
// where the host cannot own a local database file. Statements are
// parameterized throughout.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend connects to dsn and ensures the sessions schema.
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create sessions schema: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

// Put inserts or replaces the record for sess.ID.
func (b *PostgresBackend) Put(ctx context.Context, sess Session) error {
	metaJSON, ctxJSON, err := encodeBlobs(sess)
	if err != nil {
		return err
	}

	_, err = b.pool.Exec(ctx,
		`INSERT INTO sessions (session_id, user_id, created_at, last_active_at, metadata, context)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (session_id) DO UPDATE SET
		   user_id        = EXCLUDED.user_id,
		   created_at     = EXCLUDED.created_at,
		   last_active_at = EXCLUDED.last_active_at,
		   metadata       = EXCLUDED.metadata,
		   context        = EXCLUDED.context`,
		sess.ID, sess.UserID, sess.CreatedAt, sess.LastActiveAt, metaJSON, ctxJSON)
	if err != nil {
		return storageErr("put session", err)
	}
	return nil
}

// Get returns the session with the given ID, or ErrNotFound.
func (b *PostgresBackend) Get(ctx context.Context, id string) (Session, error) {
	var (
		sess              Session
		metaJSON, ctxJSON []byte
	)
	err := b.pool.QueryRow(ctx,
		`SELECT session_id, user_id, created_at, last_active_at, metadata, context
		 FROM sessions WHERE session_id = $1`, id).
		Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.LastActiveAt, &metaJSON, &ctxJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, storageErr("get session", err)
	}
	if err := decodeBlobs(&sess, metaJSON, ctxJSON); err != nil {
		return Session{}, storageErr("get session", err)
	}
	return sess, nil
}

// Delete removes the session and reports whether it existed.
func (b *PostgresBackend) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := b.pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, id)
	if err != nil {
		return false, storageErr("delete session", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Scan returns every stored session.
func (b *PostgresBackend) Scan(ctx context.Context) ([]Session, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT session_id, user_id, created_at, last_active_at, metadata, context
		 FROM sessions`)
	if err != nil {
		return nil, storageErr("scan sessions", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess              Session
			metaJSON, ctxJSON []byte
		)
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.LastActiveAt, &metaJSON, &ctxJSON); err != nil {
			return nil, storageErr("scan sessions", err)
		}
		if err := decodeBlobs(&sess, metaJSON, ctxJSON); err != nil {
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
func (b *PostgresBackend) Count(ctx context.Context) (int, error) {
	var n int
	if err := b.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, storageErr("count sessions", err)
	}
	return n, nil
}

// Close releases the connection pool.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
