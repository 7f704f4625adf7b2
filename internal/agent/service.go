package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/szaher/agentdesk/internal/session"
	"github.com/szaher/agentdesk/internal/telemetry"
)

// ErrUnknownAgent reports a query naming a pipeline the service does not
// have. Callers map it to a client error.
var ErrUnknownAgent = errors.New("unknown agent type")

// Query is one request into the service.
type Query struct {
	Query     string `json:"query"`
	AgentType string `json:"agent_type,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// Response mirrors the answer/logs/metadata triple the HTTP API returns.
// Metadata always carries agent_type, agent_name, session_id,
// execution_time, timestamp, and query_length; failed runs add error and
// status.
type Response struct {
	Answer   string         `json:"answer"`
	Logs     []string       `json:"logs"`
	Metadata map[string]any `json:"metadata"`
}

// Service routes queries to pipelines and keeps session context current.
// It consumes exactly two store operations per query: GetOrCreate before
// the pipeline runs, RecordInteraction after.
type Service struct {
	sessions    *session.Store
	pipelines   map[string]Pipeline
	order       []string
	defaultType string

	log     *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics attaches query counters.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds a dispatch service over the given pipelines. When
// defaultType names none of them, the first pipeline becomes the default.
func NewService(sessions *session.Store, defaultType string, pipelines []Pipeline, opts ...Option) *Service {
	s := &Service{
		sessions:    sessions,
		pipelines:   make(map[string]Pipeline, len(pipelines)),
		defaultType: defaultType,
		log:         slog.Default(),
		now:         time.Now,
	}
	for _, p := range pipelines {
		name := p.Info().Type
		if _, dup := s.pipelines[name]; dup {
			continue
		}
		s.pipelines[name] = p
		s.order = append(s.order, name)
	}
	if _, ok := s.pipelines[s.defaultType]; !ok && len(s.order) > 0 {
		s.defaultType = s.order[0]
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultType returns the pipeline used when a query names none.
func (s *Service) DefaultType() string {
	return s.defaultType
}

// AgentTypes returns the pipeline catalog as type → display name, in
// registration order under the hood of a map.
func (s *Service) AgentTypes() map[string]string {
	types := make(map[string]string, len(s.order))
	for _, name := range s.order {
		types[name] = s.pipelines[name].Info().Name
	}
	return types
}

// Infos returns the full pipeline descriptions in registration order.
func (s *Service) Infos() []Info {
	infos := make([]Info, 0, len(s.order))
	for _, name := range s.order {
		infos = append(infos, s.pipelines[name].Info())
	}
	return infos
}

// AgentInfo returns the description of one pipeline.
func (s *Service) AgentInfo(agentType string) (Info, bool) {
	p, ok := s.pipelines[agentType]
	if !ok {
		return Info{}, false
	}
	return p.Info(), true
}

// Process answers one query. Pipeline failures are folded into the
// response body the way the API has always reported them — an apologetic
// answer plus error metadata — while unknown agent types and storage
// failures surface as errors.
func (s *Service) Process(ctx context.Context, q Query) (*Response, error) {
	started := s.now()

	agentType := q.AgentType
	if agentType == "" {
		agentType = s.defaultType
	}
	p, ok := s.pipelines[agentType]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownAgent, agentType, strings.Join(s.order, ", "))
	}
	info := p.Info()

	sess, err := s.sessions.GetOrCreate(ctx, q.SessionID, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolving session: %w", err)
	}

	logs := []string{
		fmt.Sprintf("creating %s pipeline", agentType),
		fmt.Sprintf("processing query (session %s)", sess.ID),
	}
	log := telemetry.RequestLogger(s.log, ctx, agentType)
	log.Info("processing query", "session_id", sess.ID, "query_length", len(q.Query))

	result, runErr := p.Run(ctx, Request{
		Query:       q.Query,
		PriorQuery:  sess.Context.LastQuery,
		PriorAnswer: sess.Context.LastResponse,
	})
	elapsed := s.now().Sub(started)

	var answer string
	if runErr == nil {
		answer = result.Answer
		logs = append(logs, result.Steps...)
		logs = append(logs, "query processing completed")
	} else {
		answer = fmt.Sprintf("An error occurred while processing your query: %v", runErr)
		logs = append(logs, fmt.Sprintf("ERROR: %v", runErr))
		log.Error("pipeline failed", "session_id", sess.ID, "error", runErr)
	}

	err = s.sessions.RecordInteraction(ctx, sess.ID, session.Interaction{
		Query:    q.Query,
		Response: answer,
		Duration: elapsed,
		Err:      runErr,
	})
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound):
		// Session expired mid-flight; the next query recreates it.
		log.Warn("session expired before interaction was recorded", "session_id", sess.ID)
	default:
		return nil, fmt.Errorf("recording interaction: %w", err)
	}

	metadata := map[string]any{
		"agent_type":     agentType,
		"agent_name":     info.Name,
		"session_id":     sess.ID,
		"execution_time": math.Round(elapsed.Seconds()*100) / 100,
		"timestamp":      s.now().UTC().Format(time.RFC3339),
		"query_length":   len(q.Query),
	}
	status := "success"
	if runErr != nil {
		status = "error"
		metadata["error"] = runErr.Error()
		metadata["status"] = "error"
	} else {
		metadata["tokens_used"] = result.Tokens.Total()
	}

	if s.metrics != nil {
		s.metrics.QueriesTotal.WithLabelValues(agentType, status).Inc()
		s.metrics.QueryDuration.WithLabelValues(agentType).Observe(elapsed.Seconds())
	}
	log.Info("query completed", "session_id", sess.ID, "status", status, "duration", elapsed)

	return &Response{Answer: answer, Logs: logs, Metadata: metadata}, nil
}
