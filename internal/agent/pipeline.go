// Package agent implements the query pipelines and the dispatch service
// that routes queries to them.
package agent

import (
	"context"

	"github.com/szaher/agentdesk/internal/llm"
)

// Request is one query handed to a pipeline, together with the previous
// exchange from the session so the model can keep conversational context.
type Request struct {
	Query       string
	PriorQuery  string
	PriorAnswer string
}

// Result is what a pipeline produced for one request. Steps carries the
// execution trace returned to the caller alongside the answer.
type Result struct {
	Answer string
	Steps  []string
	Tokens llm.TokenUsage
}

// Info describes a pipeline for the agent catalog endpoints.
type Info struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Pipeline turns one query into one answer. Implementations must be safe
// for concurrent use; every Run call owns its own state.
type Pipeline interface {
	Info() Info
	Run(ctx context.Context, req Request) (*Result, error)
}

// ModelParams carries the model selection shared by all pipelines.
type ModelParams struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

func (p ModelParams) chatRequest(messages []llm.Message, system string) llm.ChatRequest {
	req := llm.ChatRequest{
		Model:     p.Model,
		Messages:  messages,
		System:    system,
		MaxTokens: p.MaxTokens,
	}
	if p.Temperature > 0 {
		t := p.Temperature
		req.Temperature = &t
	}
	return req
}

// conversation builds the message list for a request, replaying the prior
// exchange when the session has one.
func conversation(req Request) []llm.Message {
	var messages []llm.Message
	if req.PriorQuery != "" {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: req.PriorQuery},
			llm.Message{Role: llm.RoleAssistant, Content: req.PriorAnswer},
		)
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: req.Query})
}
