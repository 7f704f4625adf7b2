// Package session implements conversational session tracking for the
// agentdesk runtime: creation and lookup by opaque ID, per-user quotas
// with oldest-first eviction, idle expiry, and pluggable storage backends.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/szaher/agentdesk/internal/telemetry"
)

// metaQueryCount is the metadata key the store maintains on every session,
// counting recorded interactions.
const metaQueryCount = "query_count"

// Storage backend names accepted by Open. "durable" is an alias for
// "sqlite", kept for configurations that name the guarantee rather than
// the engine.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StorageDurable  = "durable"
	StoragePostgres = "postgres"
)

// ErrInvalidConfig reports an unusable store configuration. It stops
// startup; it never surfaces at request time.
var ErrInvalidConfig = errors.New("invalid session store configuration")

// Config selects and tunes the storage backend.
type Config struct {
	// StorageType is one of memory, sqlite (alias durable), postgres.
	// Empty selects memory.
	StorageType string

	// DBPath locates the SQLite database file. Required for sqlite.
	DBPath string

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string

	// Timeout is the idle duration after which a session is expired.
	// Non-positive disables expiry.
	Timeout time.Duration

	// MaxSessionsPerUser caps live sessions per user. 0 means unlimited.
	// Anonymous sessions are never counted against a quota.
	MaxSessionsPerUser int
}

// Interaction is one completed query/response exchange to fold into a
// session.
type Interaction struct {
	Query    string
	Response string
	Duration time.Duration
	Err      error
}

// Stats is a point-in-time aggregate of store state.
type Stats struct {
	ActiveCount      int           `json:"active_count"`
	UniqueUsers      int           `json:"unique_users"`
	ExpiredPending   int           `json:"expired_pending"`
	OldestSessionAge time.Duration `json:"oldest_session_age"`
	StorageType      string        `json:"storage_type"`
	Timeout          time.Duration `json:"timeout"`
	LastSweepAt      time.Time     `json:"last_sweep_at"`
	LastSweepRemoved int           `json:"last_sweep_removed"`
}

// Store is the façade through which all session state is read and written.
// It owns one Backend and layers expiry and quota policy on top of it.
// Methods are safe for concurrent use.
type Store struct {
	backend    Backend
	storage    string
	timeout    time.Duration
	maxPerUser int
	log        *slog.Logger
	metrics    *telemetry.Metrics
	now        func() time.Time

	// mu serializes read-modify-write cycles on individual records; the
	// backend's own locking covers plain reads and writes.
	mu sync.Mutex

	sweepMu          sync.Mutex
	lastSweepAt      time.Time
	lastSweepRemoved int
}

// Option adjusts Store construction.
type Option func(*Store)

// WithLogger sets the store's logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithMetrics attaches counters for session lifecycle events.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock overrides the store's time source. Tests use it to drive
// expiry without sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wraps an already-constructed backend in a Store.
func New(backend Backend, cfg Config, opts ...Option) *Store {
	storage := cfg.StorageType
	if storage == "" {
		storage = StorageMemory
	}
	s := &Store{
		backend:    backend,
		storage:    storage,
		timeout:    cfg.Timeout,
		maxPerUser: cfg.MaxSessionsPerUser,
		log:        slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open validates cfg, constructs the backend it names, and wraps it in a
// Store. Unknown storage types and missing locations fail here so a bad
// configuration stops the process at startup rather than at request time.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	backend, storage, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cfg.StorageType = storage
	return New(backend, cfg, opts...), nil
}

func openBackend(ctx context.Context, cfg Config) (Backend, string, error) {
	switch cfg.StorageType {
	case StorageMemory, "":
		return NewMemoryBackend(), StorageMemory, nil
	case StorageSQLite, StorageDurable:
		if cfg.DBPath == "" {
			return nil, "", fmt.Errorf("%w: db_path is required for %s storage", ErrInvalidConfig, cfg.StorageType)
		}
		b, err := NewSQLiteBackend(ctx, cfg.DBPath)
		if err != nil {
			return nil, "", err
		}
		return b, StorageSQLite, nil
	case StoragePostgres:
		if cfg.PostgresDSN == "" {
			return nil, "", fmt.Errorf("%w: postgres_dsn is required for postgres storage", ErrInvalidConfig)
		}
		b, err := NewPostgresBackend(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, "", err
		}
		return b, StoragePostgres, nil
	default:
		return nil, "", fmt.Errorf("%w: unsupported storage type %q", ErrInvalidConfig, cfg.StorageType)
	}
}

// Close releases the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Create allocates a fresh session. When userID is set and the user is at
// quota, the user's oldest sessions are evicted first, so creation never
// fails for capacity reasons. The caller's metadata is copied, never
// retained.
func (s *Store) Create(ctx context.Context, userID string, metadata map[string]string) (Session, error) {
	if err := s.enforceQuota(ctx, userID); err != nil {
		return Session{}, err
	}

	now := s.now()
	sess := Session{
		ID:           newID(),
		UserID:       userID,
		CreatedAt:    now,
		LastActiveAt: now,
		Metadata:     withQueryCount(metadata, 0),
	}
	if err := s.backend.Put(ctx, sess); err != nil {
		return Session{}, err
	}
	if s.metrics != nil {
		s.metrics.SessionsCreated.Inc()
		s.metrics.SessionsActive.Inc()
	}
	s.log.Debug("session created", "session_id", sess.ID, "user_id", userID)
	return sess, nil
}

// GetOrCreate returns the session with the given ID if it exists; the read
// does not refresh last_active_at. A given-but-unknown ID is recreated
// with that exact identifier, so stale clients keep a working session. An
// empty ID behaves like Create.
func (s *Store) GetOrCreate(ctx context.Context, sessionID, userID string) (Session, error) {
	if sessionID == "" {
		return s.Create(ctx, userID, nil)
	}

	sess, err := s.backend.Get(ctx, sessionID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Session{}, err
	}

	if err := s.enforceQuota(ctx, userID); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the write lock: another worker may have created the
	// same ID between the lookup above and here.
	sess, err = s.backend.Get(ctx, sessionID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Session{}, err
	}

	now := s.now()
	sess = Session{
		ID:           sessionID,
		UserID:       userID,
		CreatedAt:    now,
		LastActiveAt: now,
		Metadata:     withQueryCount(nil, 0),
	}
	if err := s.backend.Put(ctx, sess); err != nil {
		return Session{}, err
	}
	if s.metrics != nil {
		s.metrics.SessionsCreated.Inc()
		s.metrics.SessionsActive.Inc()
	}
	s.log.Debug("session recreated", "session_id", sessionID, "user_id", userID)
	return sess, nil
}

// RecordInteraction folds one query/response exchange into the session:
// context is rewritten, metadata.query_count is incremented, and
// last_active_at moves forward. The read-modify-write runs under the store
// lock so concurrent calls on one session serialize instead of losing
// updates. Returns ErrNotFound when the session no longer exists.
func (s *Store) RecordInteraction(ctx context.Context, sessionID string, in Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.backend.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("record interaction on %q: %w", sessionID, ErrNotFound)
		}
		return err
	}

	sess.Context.LastQuery = in.Query
	sess.Context.LastResponse = truncate(in.Response, maxResponseContext)
	sess.Context.LastDuration = in.Duration
	if in.Err != nil {
		sess.Context.LastError = in.Err.Error()
		sess.Context.ErrorCount++
	} else {
		sess.Context.LastError = ""
	}

	if sess.Metadata == nil {
		sess.Metadata = make(map[string]string, 1)
	}
	count, _ := strconv.Atoi(sess.Metadata[metaQueryCount])
	sess.Metadata[metaQueryCount] = strconv.Itoa(count + 1)

	if now := s.now(); now.After(sess.LastActiveAt) {
		sess.LastActiveAt = now
	}

	if err := s.backend.Put(ctx, sess); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.InteractionsRecorded.Inc()
	}
	return nil
}

// Delete removes the session and reports whether it existed.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	existed, err := s.backend.Delete(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if existed {
		if s.metrics != nil {
			s.metrics.SessionsActive.Dec()
		}
		s.log.Debug("session deleted", "session_id", sessionID)
	}
	return existed, nil
}

// Get returns the session with the given ID without touching it, or
// ErrNotFound.
func (s *Store) Get(ctx context.Context, sessionID string) (Session, error) {
	return s.backend.Get(ctx, sessionID)
}

// List returns the user's sessions ordered most recently active first.
// Anonymous sessions are listed under the empty user ID.
func (s *Store) List(ctx context.Context, userID string) ([]Session, error) {
	owned, err := s.userSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(owned, func(a, b Session) int {
		if c := b.LastActiveAt.Compare(a.LastActiveAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return owned, nil
}

// SweepExpired deletes every session idle longer than the configured
// timeout and returns how many were removed. It is safe to run
// concurrently with all other operations, including overlapping sweeps:
// each victim is re-checked under the store lock before deletion, so a
// session refreshed mid-sweep survives and one already deleted by another
// sweep counts only once.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	start := s.now()
	all, err := s.backend.Scan(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, sess := range all {
		if !sess.expired(start, s.timeout) {
			continue
		}
		ok, err := s.deleteIfExpired(ctx, sess.ID)
		if err != nil {
			s.log.Warn("sweep could not delete session", "session_id", sess.ID, "error", err)
			continue
		}
		if ok {
			removed++
		}
	}

	s.sweepMu.Lock()
	s.lastSweepAt = start
	s.lastSweepRemoved = removed
	s.sweepMu.Unlock()

	elapsed := s.now().Sub(start)
	if s.metrics != nil {
		s.metrics.SessionsExpired.Add(float64(removed))
		s.metrics.SessionsActive.Sub(float64(removed))
		s.metrics.SweepDuration.Observe(elapsed.Seconds())
	}
	if removed > 0 {
		s.log.Info("expired sessions swept", "removed", removed, "elapsed", elapsed)
	}
	return removed, nil
}

// deleteIfExpired re-reads the session under the store lock and deletes it
// only if it is still expired.
func (s *Store) deleteIfExpired(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.backend.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !sess.expired(s.now(), s.timeout) {
		return false, nil
	}
	return s.backend.Delete(ctx, id)
}

// Stats reports a read-only aggregate of the store's current state.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	all, err := s.backend.Scan(ctx)
	if err != nil {
		return Stats{}, err
	}

	now := s.now()
	st := Stats{
		ActiveCount: len(all),
		StorageType: s.storage,
		Timeout:     s.timeout,
	}
	users := make(map[string]struct{})
	for _, sess := range all {
		if sess.UserID != "" {
			users[sess.UserID] = struct{}{}
		}
		if sess.expired(now, s.timeout) {
			st.ExpiredPending++
		}
		if age := now.Sub(sess.CreatedAt); age > st.OldestSessionAge {
			st.OldestSessionAge = age
		}
	}
	st.UniqueUsers = len(users)

	s.sweepMu.Lock()
	st.LastSweepAt = s.lastSweepAt
	st.LastSweepRemoved = s.lastSweepRemoved
	s.sweepMu.Unlock()

	return st, nil
}

// enforceQuota deletes the oldest sessions for userID until one more can
// be inserted without exceeding the per-user cap. Eviction is a corrective
// action, not an error; each victim is logged. Concurrent creates may
// overshoot the cap briefly; the next create or sweep corrects it.
func (s *Store) enforceQuota(ctx context.Context, userID string) error {
	if userID == "" || s.maxPerUser <= 0 {
		return nil
	}

	owned, err := s.userSessions(ctx, userID)
	if err != nil {
		return err
	}
	if len(owned) < s.maxPerUser {
		return nil
	}

	sortOldestFirst(owned)
	for _, victim := range owned[:len(owned)-s.maxPerUser+1] {
		if _, err := s.backend.Delete(ctx, victim.ID); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.SessionsEvicted.Inc()
			s.metrics.SessionsActive.Dec()
		}
		s.log.Info("session evicted for quota",
			"session_id", victim.ID,
			"user_id", userID,
			"last_active_at", victim.LastActiveAt)
	}
	return nil
}

func (s *Store) userSessions(ctx context.Context, userID string) ([]Session, error) {
	all, err := s.backend.Scan(ctx)
	if err != nil {
		return nil, err
	}
	var owned []Session
	for _, sess := range all {
		if sess.UserID == userID {
			owned = append(owned, sess)
		}
	}
	return owned, nil
}

// sortOldestFirst orders eviction candidates: least recently active first,
// then earliest created, then smallest ID, so ties resolve the same way
// every time.
func sortOldestFirst(sessions []Session) {
	slices.SortFunc(sessions, func(a, b Session) int {
		if c := a.LastActiveAt.Compare(b.LastActiveAt); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// withQueryCount clones metadata and pins the store-maintained counter.
func withQueryCount(metadata map[string]string, n int) map[string]string {
	out := make(map[string]string, len(metadata)+1)
	maps.Copy(out, metadata)
	out[metaQueryCount] = strconv.Itoa(n)
	return out
}

// truncate clips s to at most max bytes without splitting a trailing rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
