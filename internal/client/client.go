// Package client provides a Go client for the agentdesk HTTP API.
//
// Usage:
//
//	c := client.New("http://localhost:8080", client.WithAPIKey("my-key"))
//	resp, err := c.Query(ctx, agent.Query{Query: "Hello!"})
//	fmt.Println(resp.Answer)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/szaher/agentdesk/internal/agent"
	"github.com/szaher/agentdesk/internal/session"
)

// Health is the response from the health check endpoint.
type Health struct {
	Status     string   `json:"status"`
	Uptime     string   `json:"uptime"`
	AgentTypes []string `json:"agent_types"`
	Version    string   `json:"version"`
}

// Catalog is the response from the agent listing endpoint.
type Catalog struct {
	Agents      []agent.Info      `json:"agents"`
	AgentTypes  map[string]string `json:"agent_types"`
	DefaultType string            `json:"default_type"`
}

// APIError represents an error response from the agentdesk API.
type APIError struct {
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.ErrorCode, e.Message)
}

// Option configures the Client.
type Option func(*Client)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// Client is the agentdesk API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			apiErr.ErrorCode = "unknown"
			apiErr.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return nil, &apiErr
	}

	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, result any) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent || result == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// Health checks the server health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var result Health
	if err := c.doJSON(ctx, http.MethodGet, "/healthz", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Agents returns the pipeline catalog.
func (c *Client) Agents(ctx context.Context) (*Catalog, error) {
	var result Catalog
	if err := c.doJSON(ctx, http.MethodGet, "/v1/agents", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AgentInfo returns details for one agent type.
func (c *Client) AgentInfo(ctx context.Context, agentType string) (*agent.Info, error) {
	var result agent.Info
	if err := c.doJSON(ctx, http.MethodGet, "/v1/agents/"+url.PathEscape(agentType), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Query sends a query and waits for the complete response.
func (c *Client) Query(ctx context.Context, q agent.Query) (*agent.Response, error) {
	var result agent.Response
	if err := c.doJSON(ctx, http.MethodPost, "/v1/query", q, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateSession creates a session for userID. Empty userID creates an
// anonymous session.
func (c *Client) CreateSession(ctx context.Context, userID string, metadata map[string]string) (*session.Session, error) {
	body := map[string]any{}
	if userID != "" {
		body["user_id"] = userID
	}
	if metadata != nil {
		body["metadata"] = metadata
	}

	var result session.Session
	if err := c.doJSON(ctx, http.MethodPost, "/v1/sessions", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetSession returns the session with the given ID.
func (c *Client) GetSession(ctx context.Context, id string) (*session.Session, error) {
	var result session.Session
	if err := c.doJSON(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteSession deletes the session with the given ID.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(id), nil, nil)
}

// ListSessions lists the user's sessions, most recently active first.
func (c *Client) ListSessions(ctx context.Context, userID string) ([]session.Session, error) {
	path := "/v1/sessions"
	if userID != "" {
		path += "?user_id=" + url.QueryEscape(userID)
	}

	var result struct {
		Sessions []session.Session `json:"sessions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Sessions, nil
}

// Stats returns aggregate session store statistics.
func (c *Client) Stats(ctx context.Context) (*session.Stats, error) {
	var result session.Stats
	if err := c.doJSON(ctx, http.MethodGet, "/v1/sessions/stats", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Cleanup triggers an expiry sweep and returns how many sessions were
// removed.
func (c *Client) Cleanup(ctx context.Context) (int, error) {
	var result struct {
		Removed int `json:"removed"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/sessions/cleanup", nil, &result); err != nil {
		return 0, err
	}
	return result.Removed, nil
}
