package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLKV keeps records in the draft_kv table (see internal/app/migrations).
// It is the durable alternative to Redis for deployments that already run
// MySQL.  Expired rows are filtered on read and removed lazily.
type SQLKV struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLKV returns a SQLKV bound to db.
func NewSQLKV(db *sql.DB) *SQLKV { return &SQLKV{db: db, now: time.Now} }

func (s *SQLKV) Get(ctx context.Context, key string) ([]byte, error) {
	const q = `SELECT value, expires_at FROM draft_kv WHERE k = ?`
	var (
		value     []byte
		expiresAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, q, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: select %s: %v", ErrUnavailable, key, err)
	}
	if expiresAt.Valid && !s.now().UTC().Before(expiresAt.Time) {
		_ = s.Delete(ctx, key)
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *SQLKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	const q = `INSERT INTO draft_kv (k, value, expires_at, updated_at)
               VALUES (?, ?, ?, UTC_TIMESTAMP())
               ON DUPLICATE KEY UPDATE value = VALUES(value), expires_at = VALUES(expires_at), updated_at = UTC_TIMESTAMP()`
	var expiresAt sql.NullTime
	if ttl > 0 {
		expiresAt = sql.NullTime{Time: s.now().UTC().Add(ttl), Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, q, key, value, expiresAt); err != nil {
		return fmt.Errorf("%w: upsert %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (s *SQLKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM draft_kv WHERE k = ?`, key); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, key, err)
	}
	return nil
}
