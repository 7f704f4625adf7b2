package integration_tests

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/szaher/agentdesk/internal/agent"
	"github.com/szaher/agentdesk/internal/llm"
	"github.com/szaher/agentdesk/internal/server"
	"github.com/szaher/agentdesk/internal/session"
)

var testParams = agent.ModelParams{Model: "test-model", MaxTokens: 128}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newQueryService wires both pipelines over the mock client, defaulting
// to the standard pipeline.
func newQueryService(store *session.Store, mock llm.Client) *agent.Service {
	pipelines := []agent.Pipeline{
		agent.NewStandardPipeline(mock, testParams),
		agent.NewResearchPipeline(mock, testParams, 8, 0),
	}
	return agent.NewService(store, "standard", pipelines, agent.WithLogger(quietLogger()))
}

// newHTTPServer starts an httptest server over the full handler stack.
func newHTTPServer(t *testing.T, store *session.Store, mock llm.Client, opts ...server.Option) *httptest.Server {
	t.Helper()
	opts = append([]server.Option{server.WithLogger(quietLogger())}, opts...)
	srv := server.NewServer(newQueryService(store, mock), store, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// fakeClock is a mutex-guarded time source for driving expiry without
// sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
