// Package ratelimit enforces per-model token budgets. Every
// LLM-backed service admits requests through one Limiter before the
// provider call goes out, so sustained admission never outpaces the
// model's configured per-minute limit.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ordex/internal/common"
)

// Limiter is a token-bucket admission gate for one model deployment.
// The bucket holds at most one minute's budget and refills
// continuously at limit/60 tokens per second. Acquire never rejects;
// callers either get their grant or wait (or their context ends).
type Limiter struct {
	limit float64
	clock common.Clock

	// admitMu serializes admissions so concurrent callers cannot
	// interleave their deductions and overdraw the bucket.
	admitMu sync.Mutex

	// stateMu guards the bucket itself, shared with Reconcile.
	stateMu    sync.Mutex
	available  float64
	lastRefill time.Time

	logger *zap.Logger
}

// NewLimiter creates a limiter for a model allowing tokensPerMinute
// tokens in any rolling minute. The bucket starts full.
func NewLimiter(tokensPerMinute int, clock common.Clock, logger *zap.Logger) *Limiter {
	if clock == nil {
		clock = common.NewRealClock()
	}
	return &Limiter{
		limit:      float64(tokensPerMinute),
		clock:      clock,
		available:  float64(tokensPerMinute),
		lastRefill: clock.Now(),
		logger:     logger,
	}
}

// Acquire blocks until the bucket holds at least tokens, then deducts
// them. Estimates larger than the full per-minute budget are admitted
// once the bucket is full; the excess is carried as a deficit so
// later callers absorb the wait. The only failure mode is context
// cancellation.
func (l *Limiter) Acquire(ctx context.Context, tokens int) error {
	l.admitMu.Lock()
	defer l.admitMu.Unlock()

	need := float64(tokens)
	// A request can never wait for more than a full bucket.
	threshold := need
	if threshold > l.limit {
		threshold = l.limit
	}

	for {
		l.stateMu.Lock()
		l.refillLocked()
		if l.available >= threshold {
			l.available -= need
			l.stateMu.Unlock()
			return nil
		}
		wait := l.waitForLocked(threshold)
		l.stateMu.Unlock()

		l.logger.Debug("Rate budget exhausted, delaying admission",
			zap.Int("tokens_requested", tokens),
			zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(wait):
		}
	}
}

// Reconcile adjusts the bucket after the provider reports true token
// usage: over-estimates are refunded (capped at the per-minute
// limit), under-estimates deducted. Prior grants are never revoked;
// an under-estimate only delays future admissions.
func (l *Limiter) Reconcile(estimated, actual int) {
	delta := float64(estimated - actual)
	if delta == 0 {
		return
	}

	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	l.refillLocked()
	l.available += delta
	if l.available > l.limit {
		l.available = l.limit
	}

	l.logger.Debug("Reconciled token estimate",
		zap.Int("estimated", estimated),
		zap.Int("actual", actual))
}

// Available reports the current bucket level after refill. Intended
// for observability only; admission decisions go through Acquire.
func (l *Limiter) Available() float64 {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	l.refillLocked()
	return l.available
}

// refillLocked credits tokens accrued since the last refill, capped
// at one minute's budget. Callers hold stateMu.
func (l *Limiter) refillLocked() {
	now := l.clock.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.available += elapsed * l.limit / 60.0
	if l.available > l.limit {
		l.available = l.limit
	}
	l.lastRefill = now
}

// waitForLocked returns how long until the bucket reaches threshold
// at the configured refill rate. Callers hold stateMu.
func (l *Limiter) waitForLocked(threshold float64) time.Duration {
	deficit := threshold - l.available
	seconds := deficit * 60.0 / l.limit
	return time.Duration(seconds * float64(time.Second))
}
