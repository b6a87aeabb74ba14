package draft

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/iliyamo/table-booking-session/internal/repository"
)

// migrateLegacy moves a v1 record into the v2 key when no v2 record exists.
// v1 records carry no owner, so the migrated draft is bound to whoever is
// active right now (or stays a guest draft).  The v1 key is always removed.
func (s *Store) migrateLegacy(ctx context.Context) {
	if _, err := s.kv.Get(ctx, s.legacyKey); err != nil {
		return
	}
	defer func() { _ = s.kv.Delete(ctx, s.legacyKey) }()

	if _, err := s.kv.Get(ctx, s.key); !errors.Is(err, repository.ErrNotFound) {
		return
	}
	d, ok := s.load(ctx, s.legacyKey)
	if !ok {
		return
	}
	d.OwnerIdentity = s.identity.Active()
	d.SavedAt = s.now().UnixMilli()
	if err := s.store(ctx, d); err != nil {
		s.log.Warn("draft: legacy migration failed", zap.String("profile", s.profile), zap.Error(err))
		return
	}
	s.log.Info("draft: migrated legacy record", zap.String("profile", s.profile))
}
