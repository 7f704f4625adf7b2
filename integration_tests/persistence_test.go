package integration_tests

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/szaher/agentdesk/internal/agent"
	"github.com/szaher/agentdesk/internal/llm"
	"github.com/szaher/agentdesk/internal/session"
)

func TestSQLiteSessionsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	cfg := session.Config{
		StorageType: "sqlite",
		DBPath:      filepath.Join(t.TempDir(), "sessions.db"),
		Timeout:     time.Hour,
	}

	store, err := session.Open(ctx, cfg, session.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	mock := llm.NewMockClient(llm.MockResponse{Content: "Berlin."})
	resp, err := newQueryService(store, mock).Process(ctx, agent.Query{
		Query:  "Capital of Germany?",
		UserID: "carol",
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	sessionID, _ := resp.Metadata["session_id"].(string)
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := session.Open(ctx, cfg, session.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	sess, err := reopened.Get(ctx, sessionID)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if sess.UserID != "carol" {
		t.Errorf("UserID = %q, want %q", sess.UserID, "carol")
	}
	if sess.Context.LastQuery != "Capital of Germany?" {
		t.Errorf("LastQuery = %q, want the recorded query", sess.Context.LastQuery)
	}
	if sess.Metadata["query_count"] != "1" {
		t.Errorf("query_count = %q, want %q", sess.Metadata["query_count"], "1")
	}

	// A follow-up against the reopened store replays the stored exchange.
	mock2 := llm.NewMockClient(llm.MockResponse{Content: "About 3.8 million."})
	_, err = newQueryService(reopened, mock2).Process(ctx, agent.Query{
		Query:     "Population?",
		SessionID: sessionID,
	})
	if err != nil {
		t.Fatalf("follow-up Process failed: %v", err)
	}
	calls := mock2.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 LLM call, got %d", len(calls))
	}
	msgs := calls[0].Messages
	if len(msgs) != 3 {
		t.Fatalf("follow-up carried %d messages, want 3", len(msgs))
	}
	if msgs[0].Content != "Capital of Germany?" || msgs[1].Content != "Berlin." {
		t.Errorf("replayed exchange = %q / %q, want the persisted pair", msgs[0].Content, msgs[1].Content)
	}
}

func TestJanitorSweepsSQLiteStore(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, err := session.Open(ctx, session.Config{
		StorageType: "sqlite",
		DBPath:      filepath.Join(t.TempDir(), "sessions.db"),
		Timeout:     time.Minute,
	}, session.WithLogger(quietLogger()), session.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	sess, err := store.Create(ctx, "dave", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	clock.Advance(2 * time.Minute)

	janitor := session.NewJanitor(store, 50*time.Millisecond, quietLogger())
	janitor.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := janitor.Stop(stopCtx); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, err := store.Get(ctx, sess.ID)
		if errors.Is(err, session.ErrNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session %s not swept within 5s (last err: %v)", sess.ID, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
