package ratelimit

import (
	"context"
	"sync"
	"time"

	"stockdashboard/internal/provider"
	"stockdashboard/internal/quote"
)

// MinInterval wraps a fetcher and spaces out upstream calls.
// Each caller reserves the next free slot, so concurrent callers queue up
// one Interval apart, or return early if the context is canceled.
type MinInterval struct {
	F        provider.Fetcher
	Interval time.Duration

	mu   sync.Mutex
	next time.Time
}

func (m *MinInterval) Name() string { return m.F.Name() }

func (m *MinInterval) History(ctx context.Context, symbol string, window provider.Window) (quote.Series, error) {
	if m.Interval > 0 {
		m.mu.Lock()
		now := time.Now()
		slot := m.next
		if slot.Before(now) {
			slot = now
		}
		m.next = slot.Add(m.Interval)
		m.mu.Unlock()

		if wait := time.Until(slot); wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-t.C:
			}
		}
	}
	return m.F.History(ctx, symbol, window)
}

// Wrap applies a token bucket when rpm is set, otherwise a minimum interval
// when one is set. With neither, f is returned unchanged.
func Wrap(f provider.Fetcher, rpm, burst int, minInterval time.Duration) provider.Fetcher {
	switch {
	case rpm > 0:
		return &TokenBucketFetcher{F: f, TB: NewTokenBucket(float64(rpm)/60.0, burst)}
	case minInterval > 0:
		return &MinInterval{F: f, Interval: minInterval}
	default:
		return f
	}
}
