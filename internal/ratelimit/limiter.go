// Package ratelimit gates inbound processing with a per-user token bucket.
package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jaidee-care/jaidee-core/internal/cache"
	"github.com/jaidee-care/jaidee-core/internal/shared"
)

const bucketKeyPrefix = "bucket:"

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// bucket is the cached per-user budget. Refill is computed lazily at check
// time; no background ticking.
type bucket struct {
	Tokens       float64   `json:"tokens"`
	Capacity     float64   `json:"capacity"`
	RefillPerSec float64   `json:"refill_per_sec"`
	LastRefillAt time.Time `json:"last_refill_at"`
}

// Limiter implements per-user token-bucket admission backed by the KV cache.
// When the cache is unreachable it fails open: limiter trouble must never
// block all traffic.
type Limiter struct {
	store        cache.Store
	capacity     float64
	refillPerSec float64
	bucketTTL    time.Duration

	locks *shared.KeyedLocks

	failOpen atomic.Int64

	now func() time.Time
}

// New creates a limiter with the given capacity and per-minute refill rate.
func New(store cache.Store, capacity, refillPerMin float64, bucketTTL time.Duration) *Limiter {
	return &Limiter{
		store:        store,
		capacity:     capacity,
		refillPerSec: refillPerMin / 60,
		bucketTTL:    bucketTTL,
		locks:        shared.NewKeyedLocks(),
		now:          time.Now,
	}
}

// FailOpenCount reports how many admissions were allowed because the bucket
// store was unreachable.
func (l *Limiter) FailOpenCount() int64 {
	return l.failOpen.Load()
}

// Admit checks and decrements the user's budget. Denied requests consume no
// token and report how long until one is available.
func (l *Limiter) Admit(ctx context.Context, userID string) Decision {
	unlock := l.locks.Lock(userID)
	defer unlock()

	now := l.now()

	b, err := l.load(ctx, userID)
	if err != nil {
		l.failOpen.Add(1)
		slog.Warn("rate limiter store unreachable, failing open",
			"user_id", userID, "error", err)
		return Decision{Allowed: true}
	}
	if b == nil {
		b = &bucket{
			Tokens:       l.capacity,
			Capacity:     l.capacity,
			RefillPerSec: l.refillPerSec,
			LastRefillAt: now,
		}
	}

	b.refill(now)

	if b.Tokens < 1 {
		missing := 1 - b.Tokens
		retryAfter := time.Duration(missing / b.RefillPerSec * float64(time.Second))
		// The denied check itself does not mutate the bucket beyond the
		// lazy refill.
		l.save(ctx, userID, b)
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	b.Tokens--
	l.save(ctx, userID, b)
	return Decision{Allowed: true}
}

func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.LastRefillAt).Seconds()
	if elapsed > 0 {
		b.Tokens = min(b.Capacity, b.Tokens+elapsed*b.RefillPerSec)
	}
	b.LastRefillAt = now
}

func (l *Limiter) load(ctx context.Context, userID string) (*bucket, error) {
	raw, ok, err := l.store.Get(ctx, bucketKeyPrefix+userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var b bucket
	if err := json.Unmarshal(raw, &b); err != nil {
		// A corrupt entry is replaced with a fresh bucket rather than
		// denying the user.
		slog.Warn("corrupt rate limit bucket, resetting", "user_id", userID, "error", err)
		return nil, nil
	}
	return &b, nil
}

func (l *Limiter) save(ctx context.Context, userID string, b *bucket) {
	raw, err := json.Marshal(b)
	if err != nil {
		slog.Warn("marshal rate limit bucket", "user_id", userID, "error", err)
		return
	}
	if err := l.store.Set(ctx, bucketKeyPrefix+userID, raw, l.bucketTTL); err != nil {
		l.failOpen.Add(1)
		slog.Warn("persist rate limit bucket failed", "user_id", userID, "error", err)
	}
}
