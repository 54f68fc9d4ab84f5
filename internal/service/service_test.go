package service_test

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"stockdashboard/internal/cache"
	"stockdashboard/internal/clock"
	"stockdashboard/internal/metrics"
	"stockdashboard/internal/provider"
	"stockdashboard/internal/quote"
	"stockdashboard/internal/service"
)

var tokyo = time.FixedZone("JST", 9*60*60)

// fakeClock is advanced manually by tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 10, 15, 0, 0, 0, tokyo)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func series(closes ...float64) quote.Series {
	day := time.Date(2025, 1, 6, 0, 0, 0, 0, tokyo)
	out := make(quote.Series, 0, len(closes))
	for i, c := range closes {
		out = append(out, quote.Sample{Date: day.AddDate(0, 0, i), Close: c, Volume: 1000})
	}
	return out
}

func quietLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func newService(f provider.Fetcher, c clock.Clock, options ...service.Option) *service.Service {
	options = append([]service.Option{
		service.WithClock(c),
		service.WithLogger(quietLogger()),
		service.WithNames(quote.Directory{"2327.T": "日鉄ソリューションズ"}),
	}, options...)
	return service.New(cache.New(), f, options...)
}

func TestGetQuote_CachesWithinTTL(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fetcher := NewMockFetcher(ctrl)
	fetcher.EXPECT().Name().Return("mock").AnyTimes()
	fetcher.EXPECT().
		History(gomock.Any(), "2327.T", provider.DefaultWindow).
		Return(series(100, 105, 110, 108, 112), nil).
		Times(1)

	clk := newFakeClock()
	svc := newService(fetcher, clk)

	first := svc.GetQuote(t.Context(), "2327.T")
	require.False(t, first.Error)
	require.Equal(t, "日鉄ソリューションズ", first.Name)
	require.Equal(t, 112.0, first.CurrentPrice)
	require.Equal(t, 4.0, first.Change)
	require.Equal(t, 3.7, first.ChangePercent)
	require.Equal(t, "2025-01-10 15:00:00", first.LastUpdate)

	clk.Advance(29 * time.Second)
	second := svc.GetQuote(t.Context(), "2327.T")
	require.Equal(t, first, second)
	require.Equal(t, 1, svc.CacheSize())
}

func TestGetQuote_RefetchesAfterSuccessTTL(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fetcher := NewMockFetcher(ctrl)
	fetcher.EXPECT().Name().Return("mock").AnyTimes()
	gomock.InOrder(
		fetcher.EXPECT().History(gomock.Any(), "AAPL", gomock.Any()).Return(series(10, 11), nil),
		fetcher.EXPECT().History(gomock.Any(), "AAPL", gomock.Any()).Return(series(11, 12), nil),
	)

	clk := newFakeClock()
	svc := newService(fetcher, clk)

	require.Equal(t, 11.0, svc.GetQuote(t.Context(), "AAPL").CurrentPrice)
	clk.Advance(30 * time.Second)
	rec := svc.GetQuote(t.Context(), "AAPL")
	require.Equal(t, 12.0, rec.CurrentPrice)
	require.Equal(t, "2025-01-10 15:00:30", rec.LastUpdate)
}

func TestGetQuote_ErrorRecordsUseShortTTL(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fetcher := NewMockFetcher(ctrl)
	fetcher.EXPECT().Name().Return("mock").AnyTimes()
	fetcher.EXPECT().
		History(gomock.Any(), "BAD", gomock.Any()).
		Return(nil, errors.New("boom")).
		Times(2)

	clk := newFakeClock()
	svc := newService(fetcher, clk)

	rec := svc.GetQuote(t.Context(), "BAD")
	require.True(t, rec.Error)
	require.Equal(t, quote.MsgFetchFailed, rec.ErrorMessage)
	require.Equal(t, "BAD", rec.Name)
	require.NotNil(t, rec.ChartData)
	require.Empty(t, rec.ChartData)

	clk.Advance(9 * time.Second)
	require.Equal(t, rec, svc.GetQuote(t.Context(), "BAD"))

	clk.Advance(time.Second)
	svc.GetQuote(t.Context(), "BAD")
}

func TestGetQuote_UnusableData(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		series quote.Series
		want   string
	}{
		"empty":       {series: nil, want: quote.MsgNoData},
		"nan current": {series: series(10, math.NaN()), want: quote.MsgInvalidPrice},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			fetcher := provider.FetcherFunc(func(context.Context, string, provider.Window) (quote.Series, error) {
				return tc.series, nil
			})
			rec := newService(fetcher, newFakeClock()).GetQuote(t.Context(), "X")
			require.True(t, rec.Error)
			require.Equal(t, tc.want, rec.ErrorMessage)
		})
	}
}

func TestGetQuote_PanicBecomesErrorRecord(t *testing.T) {
	t.Parallel()

	fetcher := provider.FetcherFunc(func(context.Context, string, provider.Window) (quote.Series, error) {
		panic("upstream exploded")
	})
	svc := newService(fetcher, newFakeClock())

	var rec quote.Record
	require.NotPanics(t, func() { rec = svc.GetQuote(t.Context(), "X") })
	require.True(t, rec.Error)
	require.Equal(t, quote.MsgFetchFailed, rec.ErrorMessage)
	require.Equal(t, 1, svc.CacheSize())
}

func TestGetQuote_FetchTimeout(t *testing.T) {
	t.Parallel()

	fetcher := provider.FetcherFunc(func(ctx context.Context, _ string, _ provider.Window) (quote.Series, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	svc := newService(fetcher, newFakeClock(), service.WithFetchTimeout(20*time.Millisecond))

	rec := svc.GetQuote(t.Context(), "SLOW")
	require.True(t, rec.Error)
	require.Equal(t, quote.MsgFetchFailed, rec.ErrorMessage)
}

// slowFetcher returns a good series after delay unless its context ends first.
func slowFetcher(calls *atomic.Int32, delay time.Duration) provider.FetcherFunc {
	return func(ctx context.Context, _ string, _ provider.Window) (quote.Series, error) {
		calls.Add(1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
			return series(1, 2), nil
		}
	}
}

func TestGetQuote_CallerCancelDoesNotAbortFetch(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	svc := newService(slowFetcher(&calls, 50*time.Millisecond), newFakeClock())

	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(5*time.Millisecond, cancel)
	first := svc.GetQuote(ctx, "X")
	require.False(t, first.Error, first.ErrorMessage)

	second := svc.GetQuote(context.Background(), "X")
	require.False(t, second.Error)
	require.Equal(t, first, second)
	require.Equal(t, int32(1), calls.Load())
}

func TestGetAllQuotes_ExpiredDeadlineKeepsFetching(t *testing.T) {
	t.Parallel()

	fetcher := provider.FetcherFunc(func(ctx context.Context, symbol string, _ provider.Window) (quote.Series, error) {
		if symbol == "SLOW" {
			time.Sleep(40 * time.Millisecond)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return series(1, 2), nil
	})
	svc := newService(fetcher, newFakeClock())

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	got := svc.GetAllQuotes(ctx, []string{"SLOW", "OK"})
	require.Len(t, got, 2)
	for _, rec := range got {
		require.False(t, rec.Error, "%s: %s", rec.Symbol, rec.ErrorMessage)
	}
	require.False(t, svc.GetQuote(context.Background(), "OK").Error)
}

func TestGetQuote_DedupedLeaderCanceled(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	release := make(chan struct{})
	fetcher := provider.FetcherFunc(func(ctx context.Context, _ string, _ provider.Window) (quote.Series, error) {
		calls.Add(1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return series(1, 2), nil
		}
	})
	svc := newService(fetcher, newFakeClock(), service.WithDedupedFetches(true))

	leaderCtx, cancel := context.WithCancel(t.Context())
	leader := make(chan quote.Record, 1)
	go func() { leader <- svc.GetQuote(leaderCtx, "X") }()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	follower := make(chan quote.Record, 1)
	go func() { follower <- svc.GetQuote(context.Background(), "X") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.False(t, (<-leader).Error)
	require.False(t, (<-follower).Error)
	require.Equal(t, int32(1), calls.Load())
}

func TestGetQuote_PassesWindow(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fetcher := NewMockFetcher(ctrl)
	fetcher.EXPECT().Name().Return("mock").AnyTimes()
	fetcher.EXPECT().History(gomock.Any(), "X", provider.Window("1mo")).Return(series(1, 2), nil)

	svc := newService(fetcher, newFakeClock(), service.WithWindow("1mo"))
	require.False(t, svc.GetQuote(t.Context(), "X").Error)
}

func TestGetAllQuotes_OrderAndCount(t *testing.T) {
	t.Parallel()

	fetcher := provider.FetcherFunc(func(_ context.Context, symbol string, _ provider.Window) (quote.Series, error) {
		if symbol == "FAIL" {
			return nil, errors.New("down")
		}
		return series(1, 2), nil
	})
	svc := newService(fetcher, newFakeClock())

	symbols := []string{"B", "FAIL", "A", "B"}
	got := svc.GetAllQuotes(t.Context(), symbols)
	require.Len(t, got, len(symbols))
	for i, rec := range got {
		require.Equal(t, symbols[i], rec.Symbol)
	}
	require.True(t, got[1].Error)
	require.Equal(t, 3, svc.CacheSize())

	require.Empty(t, svc.GetAllQuotes(t.Context(), nil))
}

func TestGetAllQuotes_AllFailing(t *testing.T) {
	t.Parallel()

	fetcher := provider.FetcherFunc(func(context.Context, string, provider.Window) (quote.Series, error) {
		return nil, errors.New("offline")
	})
	svc := newService(fetcher, newFakeClock())

	got := svc.GetAllQuotes(t.Context(), []string{"A", "B", "C"})
	require.Len(t, got, 3)
	for _, rec := range got {
		require.True(t, rec.Error)
		require.Equal(t, quote.MsgFetchFailed, rec.ErrorMessage)
	}
}

func TestCacheClear(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fetcher := provider.FetcherFunc(func(context.Context, string, provider.Window) (quote.Series, error) {
		calls.Add(1)
		return series(1, 2), nil
	})
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc := newService(fetcher, newFakeClock(), service.WithMetrics(m))

	svc.GetAllQuotes(t.Context(), []string{"A", "B"})
	svc.GetAllQuotes(t.Context(), []string{"A", "B"})
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, 2.0, testutil.ToFloat64(m.CacheHits))
	require.Equal(t, 2.0, testutil.ToFloat64(m.CacheMisses))
	require.Equal(t, 2.0, testutil.ToFloat64(m.Fetches.WithLabelValues(metrics.OutcomeOK)))

	require.Equal(t, 2, svc.CacheClear())
	require.Equal(t, 0, svc.CacheSize())
	require.Equal(t, 0, svc.CacheClear())
	require.Equal(t, 2.0, testutil.ToFloat64(m.CacheClears))

	svc.GetQuote(t.Context(), "A")
	require.Equal(t, int32(3), calls.Load())
}

func TestGetQuote_Concurrent(t *testing.T) {
	t.Parallel()

	fetcher := provider.FetcherFunc(func(_ context.Context, symbol string, _ provider.Window) (quote.Series, error) {
		return series(1, 2), nil
	})
	svc := newService(fetcher, newFakeClock())

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sym := fmt.Sprintf("S%d", i%5)
			rec := svc.GetQuote(context.Background(), sym)
			assert.Equal(t, sym, rec.Symbol)
			assert.False(t, rec.Error)
		}()
	}
	wg.Wait()
	require.Equal(t, 5, svc.CacheSize())
}

func TestGetQuote_DedupedFetches(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	release := make(chan struct{})
	fetcher := provider.FetcherFunc(func(context.Context, string, provider.Window) (quote.Series, error) {
		calls.Add(1)
		<-release
		return series(1, 2), nil
	})
	svc := newService(fetcher, newFakeClock(), service.WithDedupedFetches(true))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.False(t, svc.GetQuote(context.Background(), "X").Error)
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
}

func TestRefreshAll(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fetcher := provider.FetcherFunc(func(_ context.Context, symbol string, _ provider.Window) (quote.Series, error) {
		calls.Add(1)
		if symbol == "C" {
			return nil, errors.New("down")
		}
		return series(1, 2), nil
	})
	clk := newFakeClock()
	svc := newService(fetcher, clk, service.WithRefreshConcurrency(2))

	symbols := []string{"A", "B", "C", "D"}
	got := svc.RefreshAll(t.Context(), symbols)
	require.Len(t, got, len(symbols))
	for i, rec := range got {
		require.Equal(t, symbols[i], rec.Symbol)
	}
	require.True(t, got[2].Error)

	// Refresh ignores cache validity.
	svc.RefreshAll(t.Context(), symbols)
	require.Equal(t, int32(8), calls.Load())

	// Lookups after a refresh are served from the cache.
	svc.GetAllQuotes(t.Context(), symbols)
	require.Equal(t, int32(8), calls.Load())
}
