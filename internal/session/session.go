// Package session hosts one booking session per browser profile: the
// profile's identity, draft store, lifecycle controller and synchronizer,
// plus the shared table catalog and the dispatcher that routes real-time
// events to the sessions they concern.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/table-booking-session/internal/changefeed"
	"github.com/iliyamo/table-booking-session/internal/draft"
	"github.com/iliyamo/table-booking-session/internal/identity"
	"github.com/iliyamo/table-booking-session/internal/lifecycle"
	"github.com/iliyamo/table-booking-session/internal/repository"
)

// Session is the booking state of one browser profile.  Every tab of the
// profile shares it.
type Session struct {
	Profile   string
	Identity  *identity.Holder
	Drafts    *draft.Store
	Lifecycle *lifecycle.Controller
	Sync      *Synchronizer

	lastSeen atomic.Int64
}

// Touch records activity.
func (s *Session) Touch(now time.Time) { s.lastSeen.Store(now.UnixNano()) }

// LastSeen returns the time of the last Touch.
func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// Config holds what every new session is built with.
type Config struct {
	DraftTTL    time.Duration
	KeyPrefix   string
	Location    *time.Location
	Lifecycle   lifecycle.Config
	IdleTimeout time.Duration
}

// Manager is the registry of live sessions.
type Manager struct {
	cfg  Config
	kv   repository.KV
	bus  changefeed.Bus
	svc  lifecycle.Services
	now  func() time.Time
	log  *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager returns an empty Manager.
func NewManager(cfg Config, kv repository.KV, bus changefeed.Bus, svc lifecycle.Services, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DraftTTL <= 0 {
		cfg.DraftTTL = draft.DefaultTTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "booking"
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	return &Manager{
		cfg:      cfg,
		kv:       kv,
		bus:      bus,
		svc:      svc,
		now:      time.Now,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session of profile, creating it on first use.
func (m *Manager) Get(profile string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[profile]
	m.mu.RUnlock()
	if ok {
		s.Touch(m.now())
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[profile]; ok {
		s.Touch(m.now())
		return s
	}
	s = m.build(profile)
	m.sessions[profile] = s
	m.log.Debug("session opened", zap.String("profile", profile))
	return s
}

func (m *Manager) build(profile string) *Session {
	log := m.log.With(zap.String("profile", profile))
	who := identity.NewHolder()
	store := draft.New(m.kv, profile, who, m.bus,
		draft.WithTTL(m.cfg.DraftTTL),
		draft.WithKeyPrefix(m.cfg.KeyPrefix),
		draft.WithLocation(m.cfg.Location),
		draft.WithClock(m.now),
		draft.WithLogger(log),
	)
	lc := lifecycle.New(m.svc, store,
		lifecycle.WithConfig(m.cfg.Lifecycle),
		lifecycle.WithClock(m.now),
		lifecycle.WithLogger(log),
	)
	s := &Session{
		Profile:   profile,
		Identity:  who,
		Drafts:    store,
		Lifecycle: lc,
		Sync:      NewSynchronizer(store, lc, m.bus, who, log),
	}
	s.Touch(m.now())
	return s
}

// Each calls fn for every live session.
func (m *Manager) Each(fn func(*Session)) {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()
	for _, s := range list {
		fn(s)
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep drops sessions idle for longer than the idle timeout that have no
// open lifecycle view.  Their drafts stay in the KV store.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.cfg.IdleTimeout)
	m.mu.Lock()
	var dropped []*Session
	for p, s := range m.sessions {
		if s.LastSeen().Before(cutoff) && s.Lifecycle.Views() == 0 {
			delete(m.sessions, p)
			dropped = append(dropped, s)
		}
	}
	m.mu.Unlock()
	for _, s := range dropped {
		s.Sync.Close()
	}
	if len(dropped) > 0 {
		m.log.Debug("idle sessions swept", zap.Int("count", len(dropped)))
	}
	return len(dropped)
}

// Run sweeps periodically until ctx is done.
func (m *Manager) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}
