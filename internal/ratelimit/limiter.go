// Package ratelimit throttles repeated failed login attempts per
// identity key. The limiter is advisory state: it never decides access
// on its own, and unknown keys read as zero failures.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// blockedMessage is intentionally generic so a locked-out caller learns
// nothing about whether the identity exists.
const blockedMessage = "too many failed sign-in attempts, try again later"

type Result struct {
	Allowed    bool
	RetryAfter time.Duration
	Message    string
}

type Limiter interface {
	// Check is a pure read; it never mutates counters.
	Check(ctx context.Context, key string) (Result, error)
	// RecordFailure counts one failed attempt inside the current
	// window and starts a lockout once the threshold is crossed.
	RecordFailure(ctx context.Context, key string) error
	// Clear drops all state for the key, called on successful login.
	Clear(ctx context.Context, key string) error
}

type Policy struct {
	MaxAttempts int
	Window      time.Duration
	Lockout     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		Window:      15 * time.Minute,
		Lockout:     15 * time.Minute,
	}
}

type record struct {
	failedCount int
	windowStart time.Time
	lockedUntil time.Time
}

// MemoryLimiter keeps counters in process memory. Suitable for a
// single node; multi-node deployments use the Redis backend.
type MemoryLimiter struct {
	policy  Policy
	nowFunc func() time.Time

	mu      sync.Mutex
	records map[string]*record
}

func NewMemoryLimiter(policy Policy) *MemoryLimiter {
	if policy.MaxAttempts < 1 {
		policy = DefaultPolicy()
	}
	return &MemoryLimiter{
		policy:  policy,
		nowFunc: time.Now,
		records: make(map[string]*record),
	}
}

func (l *MemoryLimiter) Check(_ context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok {
		return Result{Allowed: true}, nil
	}
	now := l.nowFunc()
	if rec.lockedUntil.After(now) {
		return Result{
			Allowed:    false,
			RetryAfter: rec.lockedUntil.Sub(now),
			Message:    blockedMessage,
		}, nil
	}
	return Result{Allowed: true}, nil
}

func (l *MemoryLimiter) RecordFailure(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	rec, ok := l.records[key]
	if !ok {
		rec = &record{}
		l.records[key] = rec
	}
	if !rec.lockedUntil.IsZero() && !rec.lockedUntil.After(now) {
		// Lockout elapsed; the next window starts fresh.
		*rec = record{}
	}
	if rec.windowStart.IsZero() || now.Sub(rec.windowStart) > l.policy.Window {
		rec.failedCount = 0
		rec.windowStart = now
	}
	rec.failedCount++
	if rec.failedCount >= l.policy.MaxAttempts {
		rec.lockedUntil = now.Add(l.policy.Lockout)
		rec.failedCount = 0
		rec.windowStart = time.Time{}
	}
	return nil
}

func (l *MemoryLimiter) Clear(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, key)
	return nil
}
