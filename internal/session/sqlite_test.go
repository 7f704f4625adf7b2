package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(context.Background(), filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteBackend returned unexpected error: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestSQLiteBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestSQLite(t)

	created := time.Date(2025, 11, 3, 9, 30, 0, 123456789, time.UTC)
	sess := Session{
		ID:           "sess_rt",
		UserID:       "alice",
		CreatedAt:    created,
		LastActiveAt: created.Add(5 * time.Minute),
		Metadata: map[string]string{
			"query_count": "3",
			"source":      `cli'; DROP TABLE sessions; --`,
		},
		Context: Context{
			LastQuery:    "what's in the fridge? 🧊",
			LastResponse: "nothing",
			LastDuration: 1500 * time.Millisecond,
			LastError:    "timeout after 30s",
			ErrorCount:   2,
		},
	}
	if err := b.Put(ctx, sess); err != nil {
		t.Fatalf("Put returned unexpected error: %v", err)
	}

	got, err := b.Get(ctx, "sess_rt")
	if err != nil {
		t.Fatalf("Get returned unexpected error: %v", err)
	}
	if got.ID != sess.ID || got.UserID != sess.UserID {
		t.Errorf("Get = %q/%q, want %q/%q", got.ID, got.UserID, sess.ID, sess.UserID)
	}
	if !got.CreatedAt.Equal(sess.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, sess.CreatedAt)
	}
	if !got.LastActiveAt.Equal(sess.LastActiveAt) {
		t.Errorf("LastActiveAt = %v, want %v", got.LastActiveAt, sess.LastActiveAt)
	}
	if got.Metadata["source"] != sess.Metadata["source"] {
		t.Errorf("Metadata[\"source\"] = %q, want %q", got.Metadata["source"], sess.Metadata["source"])
	}
	if got.Context != sess.Context {
		t.Errorf("Context = %+v, want %+v", got.Context, sess.Context)
	}

	// The hostile-looking metadata must not have reached the SQL layer.
	n, err := b.Count(ctx)
	if err != nil {
		t.Fatalf("Count after hostile metadata returned error: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestSQLiteBackendUpsert(t *testing.T) {
	ctx := context.Background()
	b := newTestSQLite(t)

	now := time.Now()
	if err := b.Put(ctx, Session{ID: "sess_up", UserID: "u1", CreatedAt: now, LastActiveAt: now}); err != nil {
		t.Fatalf("Put returned unexpected error: %v", err)
	}
	if err := b.Put(ctx, Session{ID: "sess_up", UserID: "u2", CreatedAt: now, LastActiveAt: now}); err != nil {
		t.Fatalf("second Put returned unexpected error: %v", err)
	}

	got, err := b.Get(ctx, "sess_up")
	if err != nil {
		t.Fatalf("Get returned unexpected error: %v", err)
	}
	if got.UserID != "u2" {
		t.Errorf("UserID after upsert = %q, want %q", got.UserID, "u2")
	}

	n, err := b.Count(ctx)
	if err != nil {
		t.Fatalf("Count returned unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("Count after upsert = %d, want 1", n)
	}
}

func TestSQLiteBackendGetUnknown(t *testing.T) {
	b := newTestSQLite(t)

	_, err := b.Get(context.Background(), "sess_missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get with unknown ID returned %v, want ErrNotFound", err)
	}
}

func TestSQLiteBackendDelete(t *testing.T) {
	ctx := context.Background()
	b := newTestSQLite(t)

	now := time.Now()
	if err := b.Put(ctx, Session{ID: "sess_del", CreatedAt: now, LastActiveAt: now}); err != nil {
		t.Fatalf("Put returned unexpected error: %v", err)
	}

	existed, err := b.Delete(ctx, "sess_del")
	if err != nil {
		t.Fatalf("Delete returned unexpected error: %v", err)
	}
	if !existed {
		t.Error("Delete = false for existing session, want true")
	}

	existed, err = b.Delete(ctx, "sess_del")
	if err != nil {
		t.Fatalf("Delete returned unexpected error: %v", err)
	}
	if existed {
		t.Error("Delete = true for already-deleted session, want false")
	}
}

func TestSQLiteBackendPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	b, err := NewSQLiteBackend(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteBackend returned unexpected error: %v", err)
	}
	now := time.Now().UTC()
	if err := b.Put(ctx, Session{ID: "sess_keep", UserID: "u1", CreatedAt: now, LastActiveAt: now}); err != nil {
		t.Fatalf("Put returned unexpected error: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close returned unexpected error: %v", err)
	}

	reopened, err := NewSQLiteBackend(ctx, path)
	if err != nil {
		t.Fatalf("reopening backend returned unexpected error: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "sess_keep")
	if err != nil {
		t.Fatalf("Get after reopen returned unexpected error: %v", err)
	}
	if got.UserID != "u1" {
		t.Errorf("UserID after reopen = %q, want %q", got.UserID, "u1")
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt after reopen = %v, want %v", got.CreatedAt, now)
	}
}

func TestSQLiteBackendCreatesParentDirectory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "dir", "sessions.db")

	b, err := NewSQLiteBackend(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteBackend returned unexpected error: %v", err)
	}
	defer b.Close()

	if err := b.Put(ctx, Session{ID: "sess_nested", CreatedAt: time.Now(), LastActiveAt: time.Now()}); err != nil {
		t.Fatalf("Put returned unexpected error: %v", err)
	}
}

func TestSQLiteBackendConcurrency(t *testing.T) {
	ctx := context.Background()
	b := newTestSQLite(t)

	const goroutines = 10
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func(n int) {
			defer wg.Done()
			now := time.Now()
			id := fmt.Sprintf("sess_c%d", n)
			if err := b.Put(ctx, Session{ID: id, CreatedAt: now, LastActiveAt: now}); err != nil {
				t.Errorf("Put returned unexpected error: %v", err)
			}
			if _, err := b.Scan(ctx); err != nil {
				t.Errorf("Scan returned unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	count, err := b.Count(ctx)
	if err != nil {
		t.Fatalf("Count returned unexpected error: %v", err)
	}
	if count != goroutines {
		t.Errorf("Count = %d, want %d", count, goroutines)
	}
}
