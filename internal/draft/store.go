// Package draft is the booking session's persistent draft store: one
// BookingDraft per browser profile, kept in a key-value backend, with
// identity-aware visibility and staleness control.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/table-booking-session/internal/changefeed"
	"github.com/iliyamo/table-booking-session/internal/model"
	"github.com/iliyamo/table-booking-session/internal/repository"
)

// DefaultTTL is how long an untouched draft stays usable.
const DefaultTTL = 6 * time.Hour

// IdentitySource reports the currently active identity; nil is guest or
// unresolved.
type IdentitySource interface {
	Active() *int64
}

// Store reads and writes the draft of one browser profile.  Every mutation
// fully replaces the stored record and emits a change notification.
type Store struct {
	kv        repository.KV
	profile   string
	key       string
	legacyKey string
	identity  IdentitySource
	feed      changefeed.Publisher
	ttl       time.Duration
	loc       *time.Location
	now       func() time.Time
	log       *zap.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option { return func(s *Store) { s.ttl = d } }

// WithLocation sets the zone used to decide what "today" is.
func WithLocation(loc *time.Location) Option { return func(s *Store) { s.loc = loc } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.log = l } }

// WithKeyPrefix changes the key namespace (default "booking").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.key = prefix + ":v2:" + s.profile
		s.legacyKey = prefix + ":v1:" + s.profile
	}
}

// New returns the Store for profile.  feed may be nil.
func New(kv repository.KV, profile string, identity IdentitySource, feed changefeed.Publisher, opts ...Option) *Store {
	s := &Store{
		kv:       kv,
		profile:  profile,
		identity: identity,
		feed:     feed,
		ttl:      DefaultTTL,
		loc:      time.Local,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	WithKeyPrefix("booking")(s)
	for _, o := range opts {
		o(s)
	}
	return s
}

// Profile returns the browser profile this store belongs to.
func (s *Store) Profile() string { return s.profile }

// Read returns the usable draft for the active identity, or nil.  It never
// fails: backend errors are logged and reported as "no draft".
//
// Stale drafts (older than the TTL, or dated before today) are purged.  A
// guest draft is adopted by the first concrete identity that reads it.  A
// draft owned by someone while the active identity is unknown is hidden but
// kept, since the owner may still turn out to be the active user.  A draft
// owned by a different user is purged.
func (s *Store) Read(ctx context.Context) *model.BookingDraft {
	s.migrateLegacy(ctx)

	d, ok := s.load(ctx, s.key)
	if !ok {
		return nil
	}
	if s.stale(d) {
		s.purge(ctx, "stale")
		return nil
	}

	active := s.identity.Active()
	owner := d.OwnerIdentity
	switch {
	case model.SameIdentity(owner, active):
		return &d
	case owner == nil:
		d.OwnerIdentity = active
		d.SavedAt = s.now().UnixMilli()
		if err := s.store(ctx, d); err != nil {
			s.log.Warn("draft: adopt failed", zap.String("profile", s.profile), zap.Error(err))
			return nil
		}
		s.log.Debug("draft: adopted guest draft", zap.String("profile", s.profile), zap.Int64("owner", *active))
		s.notify(ctx, changefeed.KindWrite)
		return &d
	case active == nil:
		return nil
	default:
		s.log.Debug("draft: owner mismatch", zap.String("profile", s.profile), zap.Int64("owner", *owner), zap.Int64("active", *active))
		s.purge(ctx, "owner mismatch")
		return nil
	}
}

// Write merges patch over the stored draft (or an empty one), binds it to
// the active identity unless patch overrides the owner, refreshes SavedAt
// and persists it.
func (s *Store) Write(ctx context.Context, patch model.DraftPatch) (model.BookingDraft, error) {
	prev, _ := s.load(ctx, s.key)
	active := s.identity.Active()
	// never carry another user's fields into this user's draft
	if prev.OwnerIdentity != nil && active != nil && *prev.OwnerIdentity != *active {
		prev = model.BookingDraft{}
	}

	next := patch.Apply(prev)
	switch {
	case patch.Owner != nil:
		next.OwnerIdentity = patch.Owner.ID
	case active != nil:
		next.OwnerIdentity = active
	}
	next.SavedAt = s.now().UnixMilli()

	if err := s.store(ctx, next); err != nil {
		return model.BookingDraft{}, err
	}
	s.notify(ctx, changefeed.KindWrite)
	return next, nil
}

// Clear erases the draft unconditionally.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}
	s.notify(ctx, changefeed.KindClear)
	return nil
}

// ClearIfTerminal erases the draft only when it carries a reservation id and
// a status in statuses (DefaultTerminalStatuses when empty).  Drafts that are
// mid-flow survive, so a page that merely re-renders cannot destroy them.
func (s *Store) ClearIfTerminal(ctx context.Context, statuses ...model.LifecycleStatus) (bool, error) {
	if len(statuses) == 0 {
		statuses = model.DefaultTerminalStatuses
	}
	d, ok := s.load(ctx, s.key)
	if !ok || d.ReservationID == nil {
		return false, nil
	}
	for _, st := range statuses {
		if d.Status == st {
			if err := s.Clear(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// stale reports TTL expiry or a date already in the past.
func (s *Store) stale(d model.BookingDraft) bool {
	now := s.now()
	if d.SavedAt == 0 || now.Sub(d.SavedTime()) > s.ttl {
		return true
	}
	if d.Date == "" {
		return false
	}
	day, err := time.ParseInLocation(model.DateLayout, d.Date, s.loc)
	if err != nil {
		return false
	}
	y, m, dd := now.In(s.loc).Date()
	today := time.Date(y, m, dd, 0, 0, 0, 0, s.loc)
	return day.Before(today)
}

// load returns the stored record.  A corrupt record is purged.
func (s *Store) load(ctx context.Context, key string) (model.BookingDraft, bool) {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("draft: load failed", zap.String("profile", s.profile), zap.Error(err))
		}
		return model.BookingDraft{}, false
	}
	var d model.BookingDraft
	if err := json.Unmarshal(raw, &d); err != nil {
		s.log.Warn("draft: corrupt record", zap.String("profile", s.profile), zap.Error(err))
		_ = s.kv.Delete(ctx, key)
		return model.BookingDraft{}, false
	}
	return d, true
}

func (s *Store) store(ctx context.Context, d model.BookingDraft) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, body, s.ttl); err != nil {
		return fmt.Errorf("store draft: %w", err)
	}
	return nil
}

func (s *Store) purge(ctx context.Context, reason string) {
	if err := s.kv.Delete(ctx, s.key); err != nil {
		s.log.Warn("draft: purge failed", zap.String("profile", s.profile), zap.String("reason", reason), zap.Error(err))
		return
	}
	s.log.Debug("draft: purged", zap.String("profile", s.profile), zap.String("reason", reason))
	s.notify(ctx, changefeed.KindClear)
}

func (s *Store) notify(ctx context.Context, kind changefeed.Kind) {
	if s.feed == nil {
		return
	}
	ch := changefeed.Change{Profile: s.profile, Kind: kind, At: s.now().UTC()}
	if err := s.feed.Publish(ctx, ch); err != nil {
		s.log.Debug("draft: change notification failed", zap.String("profile", s.profile), zap.Error(err))
	}
}
