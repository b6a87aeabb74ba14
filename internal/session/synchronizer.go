package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/iliyamo/table-booking-session/internal/changefeed"
	"github.com/iliyamo/table-booking-session/internal/draft"
	"github.com/iliyamo/table-booking-session/internal/identity"
	"github.com/iliyamo/table-booking-session/internal/lifecycle"
	"github.com/iliyamo/table-booking-session/internal/model"
)

// Indicators are the derived counts the page shows outside the booking
// flow: the party-size badge and the "you have a booking in progress" dot.
type Indicators struct {
	HasDraft  bool                  `json:"hasDraft"`
	PartySize int                   `json:"people"`
	TableName string                `json:"tableName,omitempty"`
	Status    model.LifecycleStatus `json:"status,omitempty"`
}

func indicatorsOf(d *model.BookingDraft) Indicators {
	if d == nil {
		return Indicators{}
	}
	return Indicators{HasDraft: true, PartySize: d.PartySize, TableName: d.TableName, Status: d.Status}
}

// Synchronizer keeps one profile's derived state consistent with its draft.
// It re-reads the draft whenever any tab (on any instance) writes or clears
// it, and when the identity resolves, which is what lets a guest draft be
// adopted at login.
type Synchronizer struct {
	drafts    *draft.Store
	lifecycle *lifecycle.Controller
	log       *zap.Logger

	mu      sync.Mutex
	owner   *int64
	current Indicators
	nextSub int
	subs    map[int]func(Indicators)

	stop []func()
}

// NewSynchronizer wires drafts to feed and who.  Call Close to detach it.
func NewSynchronizer(drafts *draft.Store, lc *lifecycle.Controller, feed changefeed.Subscriber, who *identity.Holder, log *zap.Logger) *Synchronizer {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Synchronizer{drafts: drafts, lifecycle: lc, log: log, subs: make(map[int]func(Indicators))}
	if feed != nil {
		s.stop = append(s.stop, feed.Subscribe(drafts.Profile(), func(changefeed.Change) {
			s.Resync(context.Background())
		}))
	}
	if who != nil {
		s.stop = append(s.stop, who.OnResolved(s.identityResolved))
	}
	return s
}

// identityResolved resyncs after login.  When a different user takes over
// the profile, the previous user's lifecycle is dropped first.
func (s *Synchronizer) identityResolved(id int64) {
	s.mu.Lock()
	switched := s.owner != nil && *s.owner != id
	s.owner = &id
	s.mu.Unlock()

	s.log.Debug("identity resolved, resyncing draft",
		zap.String("profile", s.drafts.Profile()),
		zap.Int64("identity", id),
		zap.Bool("switched", switched),
	)
	if switched && s.lifecycle != nil {
		s.lifecycle.Abandon()
	}
	s.Resync(context.Background())
}

// Resync re-reads the draft (applying adoption, staleness and ownership
// rules), moves the lifecycle forward to it when another tab or instance
// got further, and publishes the indicators if they changed.
func (s *Synchronizer) Resync(ctx context.Context) Indicators {
	d := s.drafts.Read(ctx)
	if s.lifecycle != nil && d != nil {
		s.lifecycle.Restore(d)
	}
	next := indicatorsOf(d)

	s.mu.Lock()
	changed := next != s.current
	s.current = next
	subs := make([]func(Indicators), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	if changed {
		for _, fn := range subs {
			fn(next)
		}
	}
	return next
}

// Indicators returns the last computed indicators.
func (s *Synchronizer) Indicators() Indicators {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe registers fn for indicator changes.
func (s *Synchronizer) Subscribe(fn func(Indicators)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Close detaches the synchronizer from the change feed and identity.
func (s *Synchronizer) Close() {
	for _, fn := range s.stop {
		fn()
	}
	s.stop = nil
}
