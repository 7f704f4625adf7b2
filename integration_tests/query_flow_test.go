package integration_tests

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/szaher/agentdesk/internal/agent"
	"github.com/szaher/agentdesk/internal/client"
	"github.com/szaher/agentdesk/internal/llm"
	"github.com/szaher/agentdesk/internal/session"
)

func TestQueryFlowOverHTTP(t *testing.T) {
	store := session.New(session.NewMemoryBackend(), session.Config{Timeout: time.Hour},
		session.WithLogger(quietLogger()))
	mock := llm.NewMockClient(
		llm.MockResponse{Content: "Go is a language.", Usage: llm.TokenUsage{InputTokens: 5, OutputTokens: 7}},
		llm.MockResponse{Content: "It compiles fast.", Usage: llm.TokenUsage{InputTokens: 9, OutputTokens: 4}},
	)
	ts := newHTTPServer(t, store, mock)
	c := client.New(ts.URL)
	ctx := context.Background()

	first, err := c.Query(ctx, agent.Query{Query: "What is Go?", UserID: "alice"})
	if err != nil {
		t.Fatalf("first query failed: %v", err)
	}
	if first.Answer != "Go is a language." {
		t.Errorf("first answer = %q, want the mock content", first.Answer)
	}
	sessionID, _ := first.Metadata["session_id"].(string)
	if sessionID == "" {
		t.Fatal("expected a session_id in the first response")
	}

	second, err := c.Query(ctx, agent.Query{Query: "Why use it?", SessionID: sessionID})
	if err != nil {
		t.Fatalf("second query failed: %v", err)
	}
	if second.Metadata["session_id"] != sessionID {
		t.Errorf("second session_id = %v, want %q", second.Metadata["session_id"], sessionID)
	}

	// The second completion must replay the first exchange.
	calls := mock.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 LLM calls, got %d", len(calls))
	}
	msgs := calls[1].Messages
	if len(msgs) != 3 {
		t.Fatalf("second call carried %d messages, want 3 (prior pair + query)", len(msgs))
	}
	if msgs[0].Content != "What is Go?" || msgs[1].Content != "Go is a language." {
		t.Errorf("prior exchange = %q / %q, want the first query and answer", msgs[0].Content, msgs[1].Content)
	}
	if msgs[2].Content != "Why use it?" {
		t.Errorf("current query = %q, want %q", msgs[2].Content, "Why use it?")
	}

	sess, err := store.Get(ctx, sessionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sess.Metadata["query_count"] != "2" {
		t.Errorf("query_count = %q, want %q", sess.Metadata["query_count"], "2")
	}
	if sess.UserID != "alice" {
		t.Errorf("session user = %q, want %q", sess.UserID, "alice")
	}
}

func TestResearchPipelineOverHTTP(t *testing.T) {
	store := session.New(session.NewMemoryBackend(), session.Config{Timeout: time.Hour},
		session.WithLogger(quietLogger()))
	mock := llm.NewMockClient(
		llm.MockResponse{Content: "RESEARCH", Usage: llm.TokenUsage{InputTokens: 10, OutputTokens: 1}},
		llm.MockResponse{Content: "1. Define the topic\n2. Compare options", Usage: llm.TokenUsage{InputTokens: 12, OutputTokens: 20}},
		llm.MockResponse{Content: "A researched answer.", Usage: llm.TokenUsage{InputTokens: 30, OutputTokens: 40}},
	)
	ts := newHTTPServer(t, store, mock)
	c := client.New(ts.URL)

	resp, err := c.Query(context.Background(), agent.Query{
		Query:     "Compare consensus algorithms",
		AgentType: "research",
	})
	if err != nil {
		t.Fatalf("research query failed: %v", err)
	}
	if resp.Answer != "A researched answer." {
		t.Errorf("answer = %q, want the synthesis content", resp.Answer)
	}
	if resp.Metadata["agent_type"] != "research" {
		t.Errorf("agent_type = %v, want %q", resp.Metadata["agent_type"], "research")
	}
	if resp.Metadata["tokens_used"] != float64(113) {
		t.Errorf("tokens_used = %v, want 113", resp.Metadata["tokens_used"])
	}

	calls := mock.Calls()
	if len(calls) != 3 {
		t.Fatalf("expected 3 LLM calls (classify, plan, synthesize), got %d", len(calls))
	}
	final := calls[2].Messages[len(calls[2].Messages)-1].Content
	if !strings.Contains(final, "Compare consensus algorithms") || !strings.Contains(final, "Define the topic") {
		t.Errorf("synthesis prompt missing query or plan:\n%s", final)
	}

	found := false
	for _, line := range resp.Logs {
		if strings.Contains(line, "query classified as research") {
			found = true
		}
	}
	if !found {
		t.Errorf("logs missing classification step: %v", resp.Logs)
	}
}

func TestPipelineFailureFoldedIntoResponse(t *testing.T) {
	store := session.New(session.NewMemoryBackend(), session.Config{Timeout: time.Hour},
		session.WithLogger(quietLogger()))
	mock := llm.NewMockClient(llm.MockResponse{Error: errors.New("model overloaded")})
	ts := newHTTPServer(t, store, mock)
	c := client.New(ts.URL)

	resp, err := c.Query(context.Background(), agent.Query{Query: "hi"})
	if err != nil {
		t.Fatalf("query should return 200 despite a pipeline failure, got %v", err)
	}
	if !strings.HasPrefix(resp.Answer, "An error occurred while processing your query:") {
		t.Errorf("answer = %q, want the error preamble", resp.Answer)
	}
	if resp.Metadata["status"] != "error" {
		t.Errorf("status = %v, want %q", resp.Metadata["status"], "error")
	}
	errText, _ := resp.Metadata["error"].(string)
	if !strings.Contains(errText, "model overloaded") {
		t.Errorf("error metadata = %q, want the cause", errText)
	}

	// The failed exchange still lands in the session.
	id, _ := resp.Metadata["session_id"].(string)
	sess, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sess.Context.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", sess.Context.ErrorCount)
	}
}

func TestUnknownAgentTypeOverHTTP(t *testing.T) {
	store := session.New(session.NewMemoryBackend(), session.Config{Timeout: time.Hour},
		session.WithLogger(quietLogger()))
	ts := newHTTPServer(t, store, llm.NewMockClient(llm.MockResponse{Content: "ok"}))
	c := client.New(ts.URL)

	_, err := c.Query(context.Background(), agent.Query{Query: "hi", AgentType: "quantum"})

	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %T, want *client.APIError", err)
	}
	if apiErr.StatusCode != 400 {
		t.Errorf("status = %d, want 400", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Message, "quantum") {
		t.Errorf("message = %q, want the rejected type named", apiErr.Message)
	}
}
