package ratelimit

import (
	"context"
	"sync"
	"time"

	"stockdashboard/internal/provider"
	"stockdashboard/internal/quote"
)

// TokenBucket is a token bucket limiter.
// - rate: tokens per second
// - capacity: maximum tokens the bucket can hold (burst)
type TokenBucket struct {
	rate     float64
	capacity float64

	mu     sync.Mutex
	tokens float64
	last   time.Time
	now    func() time.Time
}

func NewTokenBucket(tokensPerSecond float64, burst int) *TokenBucket {
	if tokensPerSecond <= 0 {
		tokensPerSecond = 0.0000001
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{
		rate:     tokensPerSecond,
		capacity: float64(burst),
		tokens:   float64(burst), // start full to allow an initial burst
		last:     time.Now(),
		now:      time.Now,
	}
}

// reserve takes a token if one is available; otherwise it reports how long
// until the next one accrues.
func (tb *TokenBucket) reserve() (time.Duration, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	if elapsed := now.Sub(tb.last).Seconds(); elapsed > 0 {
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.last = now
	}
	if tb.tokens >= 1 {
		tb.tokens--
		return 0, true
	}
	wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// Wait blocks until a token is available or ctx is done.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		wait, ok := tb.reserve()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TokenBucketFetcher gates History calls through a token bucket.
type TokenBucketFetcher struct {
	F  provider.Fetcher
	TB *TokenBucket
}

func (t *TokenBucketFetcher) Name() string { return t.F.Name() }

func (t *TokenBucketFetcher) History(ctx context.Context, symbol string, window provider.Window) (quote.Series, error) {
	if t.TB != nil {
		if err := t.TB.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return t.F.History(ctx, symbol, window)
}
