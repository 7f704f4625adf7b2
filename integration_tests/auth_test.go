package integration_tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/szaher/agentdesk/internal/agent"
	"github.com/szaher/agentdesk/internal/client"
	"github.com/szaher/agentdesk/internal/llm"
	"github.com/szaher/agentdesk/internal/server"
	"github.com/szaher/agentdesk/internal/session"
)

func TestAPIKeyEnforcedAcrossSurfaces(t *testing.T) {
	store := session.New(session.NewMemoryBackend(), session.Config{Timeout: time.Hour},
		session.WithLogger(quietLogger()))
	ts := newHTTPServer(t, store, llm.NewMockClient(llm.MockResponse{Content: "ok"}),
		server.WithAPIKey("sekret"))
	ctx := context.Background()

	unauth := client.New(ts.URL)
	_, err := unauth.Query(ctx, agent.Query{Query: "hi"})
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %T, want *client.APIError", err)
	}
	if apiErr.StatusCode != 401 || apiErr.ErrorCode != "unauthorized" {
		t.Errorf("got %d (%s), want 401 (unauthorized)", apiErr.StatusCode, apiErr.ErrorCode)
	}
	if _, err := unauth.Stats(ctx); !errors.As(err, &apiErr) || apiErr.StatusCode != 401 {
		t.Errorf("Stats without key = %v, want a 401 APIError", err)
	}

	// Health stays open for probes.
	health, err := unauth.Health(ctx)
	if err != nil {
		t.Fatalf("Health without key failed: %v", err)
	}
	if health.Status != "healthy" {
		t.Errorf("Status = %q, want %q", health.Status, "healthy")
	}

	authed := client.New(ts.URL, client.WithAPIKey("sekret"))
	resp, err := authed.Query(ctx, agent.Query{Query: "hi"})
	if err != nil {
		t.Fatalf("authenticated query failed: %v", err)
	}
	if resp.Answer != "ok" {
		t.Errorf("answer = %q, want %q", resp.Answer, "ok")
	}
	if _, err := authed.Stats(ctx); err != nil {
		t.Errorf("authenticated Stats failed: %v", err)
	}
}
