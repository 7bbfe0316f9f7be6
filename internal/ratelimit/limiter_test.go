package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ordex/internal/common"
)

func TestLimiter_AcquireWithinBudget(t *testing.T) {
	clock := common.NewMockClock(time.Now())
	limiter := NewLimiter(1000, clock, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, limiter.Acquire(ctx, 400))
	require.NoError(t, limiter.Acquire(ctx, 600))
	assert.InDelta(t, 0, limiter.Available(), 1)
}

func TestLimiter_DelaysWhenBudgetExhausted(t *testing.T) {
	clock := common.NewMockClock(time.Now())
	limiter := NewLimiter(1000, clock, zaptest.NewLogger(t))

	ctx := context.Background()
	require.NoError(t, limiter.Acquire(ctx, 1000))

	granted := make(chan struct{})
	go func() {
		if err := limiter.Acquire(ctx, 500); err == nil {
			close(granted)
		}
	}()

	// Nothing should be granted before the budget replenishes
	select {
	case <-granted:
		t.Fatal("grant arrived before budget replenished")
	case <-time.After(50 * time.Millisecond):
	}

	// At 1000 tokens/minute, 500 tokens accrue in 30 seconds
	require.Eventually(t, func() bool {
		clock.Advance(5 * time.Second)
		select {
		case <-granted:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLimiter_ScenarioSecondHalfDelayed(t *testing.T) {
	// 1500 tokens against a 1000 token/minute budget: the first
	// 1000 go through immediately, the rest waits for refill.
	clock := common.NewMockClock(time.Now())
	limiter := NewLimiter(1000, clock, zaptest.NewLogger(t))

	ctx := context.Background()
	require.NoError(t, limiter.Acquire(ctx, 750))
	require.NoError(t, limiter.Acquire(ctx, 250))

	done := make(chan struct{})
	go func() {
		if err := limiter.Acquire(ctx, 500); err == nil {
			close(done)
		}
	}()

	select {
	case <-done:
		t.Fatal("over-budget grant was not delayed")
	case <-time.After(50 * time.Millisecond):
	}

	require.Eventually(t, func() bool {
		clock.Advance(10 * time.Second)
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLimiter_NoOverdrawUnderConcurrency(t *testing.T) {
	clock := common.NewMockClock(time.Now())
	limiter := NewLimiter(1000, clock, zaptest.NewLogger(t))

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = limiter.Acquire(ctx, 100)
		}()
	}
	wg.Wait()

	// The full minute budget was granted; the bucket must not have
	// gone below zero.
	assert.GreaterOrEqual(t, limiter.Available(), 0.0)
	assert.InDelta(t, 0, limiter.Available(), 1)
}

func TestLimiter_ReconcileRefundsOverEstimate(t *testing.T) {
	clock := common.NewMockClock(time.Now())
	limiter := NewLimiter(1000, clock, zaptest.NewLogger(t))

	ctx := context.Background()
	require.NoError(t, limiter.Acquire(ctx, 800))

	// The provider reported only 300 tokens were actually used
	limiter.Reconcile(800, 300)
	assert.InDelta(t, 700, limiter.Available(), 1)
}

func TestLimiter_ReconcileDeductsUnderEstimate(t *testing.T) {
	clock := common.NewMockClock(time.Now())
	limiter := NewLimiter(1000, clock, zaptest.NewLogger(t))

	ctx := context.Background()
	require.NoError(t, limiter.Acquire(ctx, 200))

	// True usage exceeded the estimate; the difference comes out of
	// remaining budget, never out of the already-issued grant.
	limiter.Reconcile(200, 500)
	assert.InDelta(t, 500, limiter.Available(), 1)
}

func TestLimiter_ReconcileNeverOverfills(t *testing.T) {
	clock := common.NewMockClock(time.Now())
	limiter := NewLimiter(1000, clock, zaptest.NewLogger(t))

	limiter.Reconcile(5000, 0)
	assert.InDelta(t, 1000, limiter.Available(), 1)
}

func TestLimiter_AcquireRespectsContext(t *testing.T) {
	clock := common.NewMockClock(time.Now())
	limiter := NewLimiter(1000, clock, zaptest.NewLogger(t))

	ctx := context.Background()
	require.NoError(t, limiter.Acquire(ctx, 1000))

	cancelled, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- limiter.Acquire(cancelled, 500)
	}()

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled Acquire did not return")
	}
}

func TestLimiter_OversizedEstimateAdmittedAtFullBucket(t *testing.T) {
	clock := common.NewMockClock(time.Now())
	limiter := NewLimiter(1000, clock, zaptest.NewLogger(t))

	ctx := context.Background()

	// An estimate above the whole per-minute budget is admitted once
	// the bucket is full; the excess is carried as a deficit.
	require.NoError(t, limiter.Acquire(ctx, 1500))
	assert.InDelta(t, -500, limiter.Available(), 1)
}
