// Package ratelimit implements the token bucket guarding calls to the
// external social-media API, one bucket per external identity.
//
// Buckets are refilled lazily: the tokens owed since last_refill_at are
// computed at consume time, never by a background timer. Bucket state lives
// behind the Store contract so that horizontally scaled service instances
// share one set of buckets (DB- or Redis-backed); the in-memory store exists
// for tests and single-node development.
//
// Failure policy: the limiter FAILS OPEN. When the backing store errors, the
// call is allowed and the error is logged. This is deliberate — protecting
// the availability of the exchange flow outranks strict protection of the
// external API — and must not be hardened away.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shoutswap/go-shoutout-backend/internal/domain"
)

// Config holds the bucket parameters shared by every identity.
type Config struct {
	// Capacity is the maximum token count per bucket.
	Capacity float64
	// RefillPerSec is the steady-state token replenishment rate.
	RefillPerSec float64
}

// refill returns the token count after crediting the time elapsed since last,
// clamped to [0, capacity].
func (c Config) refill(tokens float64, last, now time.Time) float64 {
	if elapsed := now.Sub(last).Seconds(); elapsed > 0 {
		tokens += elapsed * c.RefillPerSec
	}
	if tokens > c.Capacity {
		tokens = c.Capacity
	}
	if tokens < 0 {
		tokens = 0
	}
	return tokens
}

// Store is the atomically-updated home of bucket state. Both methods apply
// the lazy refill; Take additionally consumes n tokens when available.
// Implementations must make Take atomic per identity.
type Store interface {
	Take(ctx context.Context, identity string, n float64, cfg Config, now time.Time) (allowed bool, remaining float64, err error)
	Peek(ctx context.Context, identity string, cfg Config, now time.Time) (remaining float64, err error)
}

// Limiter is the service-facing API over a Store.
type Limiter struct {
	Store Store
	Cfg   Config
	Log   zerolog.Logger
}

// TryConsume attempts to take n tokens for identity. On a store error it
// allows the call (fail-open) and logs the error.
func (l *Limiter) TryConsume(ctx context.Context, identity string, n float64) bool {
	allowed, _, err := l.Store.Take(ctx, identity, n, l.Cfg, time.Now().UTC())
	if err != nil {
		l.Log.Warn().Err(err).Str("identity", identity).
			Msg("rate-limit store unavailable; failing open")
		return true
	}
	return allowed
}

// Remaining reports the identity's current token count without consuming.
// On a store error it reports full capacity, consistent with fail-open.
func (l *Limiter) Remaining(ctx context.Context, identity string) float64 {
	remaining, err := l.Store.Peek(ctx, identity, l.Cfg, time.Now().UTC())
	if err != nil {
		l.Log.Warn().Err(err).Str("identity", identity).
			Msg("rate-limit store unavailable; reporting full capacity")
		return l.Cfg.Capacity
	}
	return remaining
}

// MemoryStore keeps buckets in a process-local map. Correct only for a single
// service instance; deployments that scale horizontally use the DB or Redis
// store so every instance sees the same buckets.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*domain.RateLimitBucket
}

// NewMemoryStore constructs an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*domain.RateLimitBucket)}
}

// Take implements Store.
func (s *MemoryStore) Take(_ context.Context, identity string, n float64, cfg Config, now time.Time) (bool, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bucket(identity, cfg, now)
	b.Tokens = cfg.refill(b.Tokens, b.LastRefillAt, now)
	b.LastRefillAt = now
	if b.Tokens < n {
		return false, b.Tokens, nil
	}
	b.Tokens -= n
	return true, b.Tokens, nil
}

// Peek implements Store.
func (s *MemoryStore) Peek(_ context.Context, identity string, cfg Config, now time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bucket(identity, cfg, now)
	return cfg.refill(b.Tokens, b.LastRefillAt, now), nil
}

// bucket returns the identity's bucket, creating a full one on first sight.
// Callers hold s.mu.
func (s *MemoryStore) bucket(identity string, cfg Config, now time.Time) *domain.RateLimitBucket {
	b, ok := s.buckets[identity]
	if !ok {
		b = &domain.RateLimitBucket{Identity: identity, Tokens: cfg.Capacity, LastRefillAt: now}
		s.buckets[identity] = b
	}
	return b
}
