package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestJanitorRemovesExpiredSessions(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(testEpoch)
	store := newTestStore(Config{Timeout: time.Hour}, clock)

	sess, err := store.Create(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("Create returned unexpected error: %v", err)
	}
	clock.Advance(2 * time.Hour)

	j := NewJanitor(store, time.Second, discardLogger())
	j.Start()
	defer func() {
		if err := j.Stop(context.Background()); err != nil {
			t.Errorf("Stop returned unexpected error: %v", err)
		}
	}()

	// The schedule fires one interval after Start, so poll briefly.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := store.Get(ctx, sess.ID); errors.Is(err, ErrNotFound) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("session %s still present after janitor ran", sess.ID)
}

func TestJanitorStopBeforeFirstTick(t *testing.T) {
	clock := newTestClock(testEpoch)
	store := newTestStore(Config{Timeout: time.Hour}, clock)

	j := NewJanitor(store, time.Hour, discardLogger())
	j.Start()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := j.Stop(stopCtx); err != nil {
		t.Fatalf("Stop returned unexpected error: %v", err)
	}
}

// brokenScanBackend simulates a backend whose listing operation has failed.
type brokenScanBackend struct {
	*MemoryBackend
}

func (b *brokenScanBackend) Scan(context.Context) ([]Session, error) {
	return nil, storageErr("scan sessions", errors.New("disk gone"))
}

func TestJanitorSurvivesSweepFailure(t *testing.T) {
	clock := newTestClock(testEpoch)
	backend := &brokenScanBackend{MemoryBackend: NewMemoryBackend()}
	store := New(backend, Config{Timeout: time.Hour}, WithClock(clock.Now), WithLogger(discardLogger()))

	j := NewJanitor(store, time.Second, discardLogger())
	j.Start()
	time.Sleep(1500 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := j.Stop(stopCtx); err != nil {
		t.Fatalf("Stop after failed sweep returned unexpected error: %v", err)
	}
}
