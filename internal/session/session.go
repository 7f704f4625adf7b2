package session

import (
	"maps"
	"time"
)

// maxResponseContext bounds how much of a response survives in the session
// context. Queries are kept whole; responses are truncated.
const maxResponseContext = 2048

// Session is one tracked conversation. The store keeps the canonical
// record; callers always receive copies.
type Session struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActiveAt time.Time         `json:"last_active_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Context      Context           `json:"context"`
}

// Context is the bounded record of a session's most recent interaction.
// It carries continuity hints for the next query, not full history.
type Context struct {
	LastQuery    string        `json:"last_query,omitempty"`
	LastResponse string        `json:"last_response,omitempty"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	ErrorCount   int           `json:"error_count,omitempty"`
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	out := s
	out.Metadata = maps.Clone(s.Metadata)
	return out
}

// expired reports whether the session has been idle longer than timeout as
// of now. A non-positive timeout disables expiry.
func (s Session) expired(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return now.Sub(s.LastActiveAt) > timeout
}
