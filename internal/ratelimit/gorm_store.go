// Package ratelimit – database-backed bucket store.
//
// The default shared store: bucket rows live in the primary database, so
// every service instance consumes from the same buckets. Atomicity comes
// from optimistic compare-and-set — the UPDATE's WHERE clause re-states the
// tokens/last_refill_at the transaction read, and a lost race retries with a
// fresh read rather than double-spending tokens.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shoutswap/go-shoutout-backend/internal/domain"
)

// casAttempts bounds the optimistic retry loop under contention.
const casAttempts = 3

// ErrContended is returned when the compare-and-set loop exhausts its
// attempts. The limiter treats it like any store error: fail open.
var ErrContended = errors.New("rate-limit bucket contended")

// GormStore persists buckets through the application database.
type GormStore struct {
	DB *gorm.DB
}

// NewGormStore wraps the given handle.
func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{DB: db} }

// Take implements Store.
func (s *GormStore) Take(ctx context.Context, identity string, n float64, cfg Config, now time.Time) (bool, float64, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		b, err := s.loadOrCreate(ctx, identity, cfg, now)
		if err != nil {
			return false, 0, err
		}
		tokens := cfg.refill(b.Tokens, b.LastRefillAt, now)
		allowed := tokens >= n
		next := tokens
		if allowed {
			next = tokens - n
		}
		res := s.DB.WithContext(ctx).
			Model(&domain.RateLimitBucket{}).
			Where("identity = ? AND tokens = ? AND last_refill_at = ?", identity, b.Tokens, b.LastRefillAt).
			Updates(map[string]any{
				"tokens":         next,
				"last_refill_at": now,
			})
		if res.Error != nil {
			return false, 0, res.Error
		}
		if res.RowsAffected > 0 {
			return allowed, next, nil
		}
		// Another instance updated the row between our read and write.
	}
	return false, 0, ErrContended
}

// Peek implements Store. Read-only: the refill is computed without writing
// the row back, so a peek never contends with consumers.
func (s *GormStore) Peek(ctx context.Context, identity string, cfg Config, now time.Time) (float64, error) {
	var b domain.RateLimitBucket
	err := s.DB.WithContext(ctx).Where("identity = ?", identity).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cfg.Capacity, nil
	}
	if err != nil {
		return 0, err
	}
	return cfg.refill(b.Tokens, b.LastRefillAt, now), nil
}

// loadOrCreate fetches the bucket row, inserting a full bucket on first
// sight. Concurrent first-sight inserts collapse via ON CONFLICT DO NOTHING.
func (s *GormStore) loadOrCreate(ctx context.Context, identity string, cfg Config, now time.Time) (*domain.RateLimitBucket, error) {
	var b domain.RateLimitBucket
	err := s.DB.WithContext(ctx).Where("identity = ?", identity).First(&b).Error
	if err == nil {
		return &b, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	fresh := &domain.RateLimitBucket{Identity: identity, Tokens: cfg.Capacity, LastRefillAt: now}
	if err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(fresh).Error; err != nil {
		return nil, err
	}
	if err := s.DB.WithContext(ctx).Where("identity = ?", identity).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}
