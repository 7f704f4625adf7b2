package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/szaher/agentdesk/internal/llm"
)

const classifyPrompt = `Analyze this query and determine whether it needs structured research or can be answered directly.

Query: %s

Respond with exactly one word:
- "RESEARCH" if it benefits from planning before answering
- "DIRECT" if it can be answered immediately with general knowledge

Classification:`

const planPrompt = `Create a concise research plan for answering this query: %s

The plan should cover:
1. The key questions to address
2. What background knowledge applies
3. The structure of a good answer

Research plan:`

const synthesizePrompt = `Original query: %s

Research plan:
%s

Write a comprehensive, well-structured answer to the original query.
Include:
1. A direct answer to the question
2. Supporting reasoning
3. Any important caveats or limitations

Answer in the same language as the original query.

Final answer:`

const researchSystemPrompt = `You are a research assistant. Provide thorough, well-structured answers with supporting reasoning, and state caveats when evidence is thin. Answer in the same language as the question.`

// ResearchPipeline runs a bounded multi-step workflow: classify the query,
// plan the answer when classification asks for research, then synthesize.
// Steps are capped by maxSteps (LLM calls per run) and an optional token
// budget; when the cap leaves no room for intermediate stages the pipeline
// degrades to a direct answer.
type ResearchPipeline struct {
	client   llm.Client
	params   ModelParams
	maxSteps int
	budget   int
}

// NewResearchPipeline creates the multi-step pipeline. maxSteps below 1 is
// raised to 1; a tokenBudget of 0 means unlimited.
func NewResearchPipeline(client llm.Client, params ModelParams, maxSteps, tokenBudget int) *ResearchPipeline {
	if maxSteps < 1 {
		maxSteps = 1
	}
	return &ResearchPipeline{
		client:   client,
		params:   params,
		maxSteps: maxSteps,
		budget:   tokenBudget,
	}
}

// Info implements Pipeline.
func (p *ResearchPipeline) Info() Info {
	return Info{
		Type:        "research",
		Name:        "Research Pipeline",
		Description: "Multi-step workflow with query classification, planning, and synthesis",
		Parameters: map[string]any{
			"max_steps": map[string]any{
				"type":        "integer",
				"default":     p.maxSteps,
				"description": "Maximum number of LLM calls per run",
			},
			"token_budget": map[string]any{
				"type":        "integer",
				"default":     p.budget,
				"description": "Maximum total tokens per run (0 = unlimited)",
			},
		},
	}
}

// Run implements Pipeline.
func (p *ResearchPipeline) Run(ctx context.Context, req Request) (*Result, error) {
	run := &researchRun{p: p, tracker: llm.NewTokenTracker(p.budget)}

	// Classification only earns its call when at least one more call is
	// left for the answer itself.
	mode := "direct"
	if run.remaining() >= 2 {
		run.log("classifying query")
		resp, err := run.chat(ctx, []llm.Message{
			{Role: llm.RoleUser, Content: fmt.Sprintf(classifyPrompt, req.Query)},
		}, "")
		if err != nil {
			return nil, fmt.Errorf("research pipeline: classify: %w", err)
		}
		if strings.Contains(strings.ToUpper(resp.Content), "RESEARCH") {
			mode = "research"
		}
		run.log("query classified as " + mode)
	}

	var plan string
	if mode == "research" && run.remaining() >= 2 {
		run.log("creating research plan")
		resp, err := run.chat(ctx, []llm.Message{
			{Role: llm.RoleUser, Content: fmt.Sprintf(planPrompt, req.Query)},
		}, "")
		if err != nil {
			return nil, fmt.Errorf("research pipeline: plan: %w", err)
		}
		plan = resp.Content
		run.log("research plan created")
	}

	run.log("synthesizing final answer")
	var messages []llm.Message
	system := researchSystemPrompt
	if plan != "" {
		messages = conversation(Request{
			Query:       fmt.Sprintf(synthesizePrompt, req.Query, plan),
			PriorQuery:  req.PriorQuery,
			PriorAnswer: req.PriorAnswer,
		})
		system = ""
	} else {
		messages = conversation(req)
	}
	resp, err := run.chat(ctx, messages, system)
	if err != nil {
		return nil, fmt.Errorf("research pipeline: synthesize: %w", err)
	}
	run.log(fmt.Sprintf("completed in %d llm calls (tokens=%d)", run.calls, run.tracker.Usage().Total()))

	return &Result{
		Answer: resp.Content,
		Steps:  run.steps,
		Tokens: run.tracker.Usage(),
	}, nil
}

// researchRun holds the per-run accounting so concurrent Run calls never
// share state.
type researchRun struct {
	p       *ResearchPipeline
	tracker *llm.TokenTracker
	steps   []string
	calls   int
}

func (r *researchRun) remaining() int {
	return r.p.maxSteps - r.calls
}

func (r *researchRun) log(step string) {
	r.steps = append(r.steps, step)
}

func (r *researchRun) chat(ctx context.Context, messages []llm.Message, system string) (*llm.ChatResponse, error) {
	if err := r.tracker.CheckBudget(r.p.params.MaxTokens); err != nil {
		return nil, err
	}
	resp, err := r.p.client.Chat(ctx, r.p.params.chatRequest(messages, system))
	if err != nil {
		return nil, err
	}
	r.tracker.Add(resp.Usage)
	r.calls++
	return resp, nil
}
