package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mbp-platform/envmodel/internal/editor"
	"github.com/mbp-platform/envmodel/internal/gateway"
	"github.com/mbp-platform/envmodel/internal/graph"
	"github.com/mbp-platform/envmodel/internal/lifecycle"
	"github.com/mbp-platform/envmodel/internal/models"
)

// DefaultMaxSessions limits concurrent editor sessions.
const DefaultMaxSessions = 20

// SessionKeepAliveWindow is how long a session counts as actively used
// after its last access.
const SessionKeepAliveWindow = 5 * time.Minute

var (
	ErrTooManySessions = errors.New("too many open sessions")
	ErrSessionNotFound = errors.New("session not found")
)

// Config holds the manager settings.
type Config struct {
	MaxSessions int
	// Options applied to every session's orchestrator.
	Orchestrator []lifecycle.Option
}

// Manager handles open editor sessions.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	gw       gateway.Gateway
	catalog  editor.Catalog
	cfg      Config
	lg       zerolog.Logger
}

// Session is one open diagram with its own graph and orchestrator.
type Session struct {
	ID        string
	Owner     string
	Editor    *editor.Editor
	CreatedAt time.Time

	mu           sync.Mutex
	lastAccessed time.Time
	subs         map[int]chan *models.ProcessingState
	nextSub      int
}

// NewManager creates a session manager. Every session talks to gw and
// stamps palette items from catalog.
func NewManager(gw gateway.Gateway, catalog editor.Catalog, cfg Config, lg zerolog.Logger) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	return &Manager{
		sessions: make(map[string]*Session),
		gw:       gw,
		catalog:  catalog,
		cfg:      cfg,
		lg:       lg.With().Str("component", "sessions").Logger(),
	}
}

// Gateway returns the gateway shared by all sessions.
func (m *Manager) Gateway() gateway.Gateway { return m.gw }

// StartSession opens a session for owner. With load set, the model called
// name is fetched and loaded; otherwise the session starts with an empty
// model of that name.
func (m *Manager) StartSession(ctx context.Context, owner, name string, load bool) (*Session, error) {
	model := models.Model{Name: name, Owner: owner}
	if load {
		var err error
		model, err = gateway.ModelByName(ctx, m.gw, owner, name)
		if err != nil {
			return nil, err
		}
	}

	if err := m.cleanupOldSessionsIfNeeded(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	s := &Session{
		ID:           id,
		Owner:        owner,
		CreatedAt:    time.Now(),
		lastAccessed: time.Now(),
		subs:         make(map[int]chan *models.ProcessingState),
	}

	lg := m.lg.With().Str("session", id[:8]).Logger()
	g := graph.New()
	opts := append([]lifecycle.Option{lifecycle.WithLogger(lg), lifecycle.WithObserver(s.broadcast)}, m.cfg.Orchestrator...)
	orch := lifecycle.New(g, m.gw, opts...)
	orch.SetModel(models.Model{Name: name, Owner: owner})
	s.Editor = editor.New(g, orch, m.catalog, editor.WithLogger(lg))

	if load {
		if err := s.Editor.Load(model); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, ErrTooManySessions
	}
	m.sessions[id] = s
	m.mu.Unlock()

	lg.Info().Str("owner", owner).Str("model", name).Bool("loaded", load).Msg("session opened")
	return s, nil
}

// GetSession returns a session and marks it as accessed.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s.touch()
	return s, true
}

// TouchSession updates the last accessed time of a session.
func (m *Manager) TouchSession(id string) bool {
	_, ok := m.GetSession(id)
	return ok
}

// CloseSession removes a session and disconnects its subscribers.
func (m *Manager) CloseSession(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.closeSubscribers()
		m.lg.Info().Str("session", id[:min(8, len(id))]).Msg("session closed")
	}
	return ok
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// cleanupOldSessionsIfNeeded evicts the least recently used idle sessions
// when the manager is at capacity. Sessions with a running operation or
// inside the keep-alive window are never evicted.
func (m *Manager) cleanupOldSessionsIfNeeded() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) < m.cfg.MaxSessions {
		return nil
	}

	keepAliveCutoff := time.Now().Add(-SessionKeepAliveWindow)
	var idle []*Session
	for _, s := range m.sessions {
		if s.Editor.Orchestrator().Busy() || s.LastAccessed().After(keepAliveCutoff) {
			continue
		}
		idle = append(idle, s)
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].LastAccessed().Before(idle[j].LastAccessed()) })

	toFree := len(m.sessions) - m.cfg.MaxSessions + 1
	if len(idle) < toFree {
		return ErrTooManySessions
	}
	for _, s := range idle[:toFree] {
		delete(m.sessions, s.ID)
		s.closeSubscribers()
		m.lg.Info().Str("session", s.ID[:8]).Msg("evicted idle session")
	}
	return nil
}

// CleanupOldSessions removes sessions that have not been accessed for maxAge.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, s := range m.sessions {
		if s.Editor.Orchestrator().Busy() {
			continue
		}
		if s.LastAccessed().Before(cutoff) {
			delete(m.sessions, id)
			s.closeSubscribers()
			removed++
			m.lg.Info().Str("session", id[:8]).
				Dur("idle", time.Since(s.LastAccessed()).Round(time.Second)).
				Msg("cleaned up aged session")
		}
	}
	return removed
}

// RunCleanup calls CleanupOldSessions every interval until ctx is done.
func (m *Manager) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupOldSessions(maxAge)
		}
	}
}

// LastAccessed returns when the session was last used.
func (s *Session) LastAccessed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccessed
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastAccessed = time.Now()
	s.mu.Unlock()
}

// Subscribe returns a channel receiving every Processing State change of
// the session, nil meaning the state was cleared. Slow subscribers miss
// intermediate states. The channel is closed by cancel or when the session
// closes.
func (s *Session) Subscribe() (<-chan *models.ProcessingState, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *models.ProcessingState, 16)
	if s.subs == nil {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Session) broadcast(st *models.ProcessingState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- st:
		default:
		}
	}
}

func (s *Session) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subs = nil
}
