package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"stockdashboard/internal/cache"
	"stockdashboard/internal/clock"
	"stockdashboard/internal/metrics"
	"stockdashboard/internal/provider"
	"stockdashboard/internal/quote"
)

const (
	DefaultFetchTimeout       = 10 * time.Second
	DefaultRefreshConcurrency = 4
)

// Service answers quote lookups from the cache and refreshes entries from the
// fetcher when they expire. Lookups never fail; problems are reported inside
// the returned records.
type Service struct {
	store       *cache.Store
	fetcher     provider.Fetcher
	clock       clock.Clock
	names       quote.Directory
	window      provider.Window
	timeout     time.Duration
	concurrency int
	log         log.FieldLogger
	metrics     *metrics.Metrics

	// group is nil unless concurrent misses should share one fetch.
	group *singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

func WithNames(d quote.Directory) Option { return func(s *Service) { s.names = d } }

func WithWindow(w provider.Window) Option {
	return func(s *Service) {
		if w != "" {
			s.window = w
		}
	}
}

// WithFetchTimeout bounds each upstream call. Zero or negative leaves the
// default in place.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithRefreshConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithLogger(l log.FieldLogger) Option { return func(s *Service) { s.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithDedupedFetches makes concurrent misses for one symbol share a single
// upstream call instead of each fetching.
func WithDedupedFetches(on bool) Option {
	return func(s *Service) {
		if on {
			s.group = &singleflight.Group{}
		} else {
			s.group = nil
		}
	}
}

func New(store *cache.Store, fetcher provider.Fetcher, options ...Option) *Service {
	s := &Service{
		store:       store,
		fetcher:     fetcher,
		clock:       clock.New(time.UTC),
		window:      provider.DefaultWindow,
		timeout:     DefaultFetchTimeout,
		concurrency: DefaultRefreshConcurrency,
		log:         log.StandardLogger(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// GetQuote returns the cached record for symbol while it is valid, and
// otherwise fetches, stores and returns a fresh one.
func (s *Service) GetQuote(ctx context.Context, symbol string) quote.Record {
	now := s.clock.Now()
	if s.store.IsValid(symbol, now) {
		if e, ok := s.store.Get(symbol); ok {
			s.metrics.Hit()
			s.log.WithField("symbol", symbol).Debug("using cached data")
			return e.Record
		}
	}
	s.metrics.Miss()
	return s.load(ctx, symbol, now)
}

// GetAllQuotes looks up every symbol in order. The result always has one
// record per input symbol.
func (s *Service) GetAllQuotes(ctx context.Context, symbols []string) []quote.Record {
	out := make([]quote.Record, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, s.GetQuote(ctx, sym))
	}
	return out
}

// Refresh fetches symbol regardless of cache state and stores the result.
func (s *Service) Refresh(ctx context.Context, symbol string) quote.Record {
	return s.load(ctx, symbol, s.clock.Now())
}

// RefreshAll refreshes symbols with bounded concurrency and returns the
// records in input order.
func (s *Service) RefreshAll(ctx context.Context, symbols []string) []quote.Record {
	out := make([]quote.Record, len(symbols))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, sym := range symbols {
		g.Go(func() error {
			out[i] = s.Refresh(ctx, sym)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Service) CacheSize() int { return s.store.Len() }

func (s *Service) CacheClear() int {
	n := s.store.Clear()
	s.metrics.Cleared(n)
	s.log.WithField("removed", n).Info("cache cleared")
	return n
}

// Names returns the display name directory used for records.
func (s *Service) Names() quote.Directory { return s.names }

func (s *Service) load(ctx context.Context, symbol string, now time.Time) quote.Record {
	if s.group == nil {
		return s.fetchAndStore(ctx, symbol, now)
	}
	v, _, _ := s.group.Do(symbol, func() (any, error) {
		return s.fetchAndStore(ctx, symbol, now), nil
	})
	return v.(quote.Record)
}

func (s *Service) fetchAndStore(ctx context.Context, symbol string, now time.Time) quote.Record {
	logger := s.log.WithField("symbol", symbol)
	logger.Info("fetching fresh data")

	stamp := clock.Format(now)
	name := s.names.Name(symbol)

	start := time.Now()
	series, err := s.fetch(ctx, symbol)
	took := time.Since(start)

	var rec quote.Record
	switch {
	case err != nil:
		logger.WithError(err).Error("fetch failed")
		rec = quote.NewError(symbol, name, quote.MsgFetchFailed, stamp)
		s.metrics.Fetched(metrics.OutcomeFetchError, took)
	default:
		rec = quote.Build(symbol, name, series, stamp)
		s.metrics.Fetched(outcome(rec), took)
		if rec.Error {
			logger.WithField("reason", rec.ErrorMessage).Warn("unusable upstream data")
		}
	}

	s.store.Put(symbol, rec, now)
	return rec
}

// fetch calls the fetcher under the fetch timeout and turns a panic in the
// fetcher into an error. The result is cached for every caller, so only the
// fetch timeout bounds the call; the caller's cancellation is not inherited.
func (s *Service) fetch(ctx context.Context, symbol string) (quote.Series, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	var (
		series quote.Series
		err    error
		pc     panics.Catcher
	)
	pc.Try(func() {
		series, err = s.fetcher.History(ctx, symbol, s.window)
	})
	if r := pc.Recovered(); r != nil {
		return nil, errors.Errorf("fetcher %s panicked: %v", s.fetcher.Name(), r.Value)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s history %s", s.fetcher.Name(), symbol)
	}
	return series, nil
}

func outcome(rec quote.Record) string {
	switch {
	case !rec.Error:
		return metrics.OutcomeOK
	case rec.ErrorMessage == quote.MsgNoData:
		return metrics.OutcomeNoData
	default:
		return metrics.OutcomeInvalidData
	}
}
