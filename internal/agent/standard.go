package agent

import (
	"context"
	"fmt"

	"github.com/szaher/agentdesk/internal/llm"
)

const standardSystemPrompt = `You are a helpful AI assistant.

When answering questions:
1. Answer directly when you are confident in the information
2. Say so explicitly when you are unsure or the answer depends on current data
3. Keep the same language as the question

Always provide clear, well-structured responses.`

// StandardPipeline answers a query with a single chat completion.
type StandardPipeline struct {
	client llm.Client
	params ModelParams
}

// NewStandardPipeline creates the single-completion pipeline.
func NewStandardPipeline(client llm.Client, params ModelParams) *StandardPipeline {
	return &StandardPipeline{client: client, params: params}
}

// Info implements Pipeline.
func (p *StandardPipeline) Info() Info {
	return Info{
		Type:        "standard",
		Name:        "Standard Chat Pipeline",
		Description: "Single chat completion against the configured model, with conversational context carried over from the session",
		Parameters:  map[string]any{},
	}
}

// Run implements Pipeline.
func (p *StandardPipeline) Run(ctx context.Context, req Request) (*Result, error) {
	resp, err := p.client.Chat(ctx, p.params.chatRequest(conversation(req), standardSystemPrompt))
	if err != nil {
		return nil, fmt.Errorf("standard pipeline: %w", err)
	}

	return &Result{
		Answer: resp.Content,
		Steps: []string{
			fmt.Sprintf("completion finished (stop_reason=%s, tokens=%d)", resp.StopReason, resp.Usage.Total()),
		},
		Tokens: resp.Usage,
	}, nil
}
