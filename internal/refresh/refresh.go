package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"stockdashboard/internal/metrics"
	"stockdashboard/internal/quote"
)

const DefaultRunTimeout = time.Minute

// Source refreshes a set of symbols and returns their records in order.
type Source interface {
	RefreshAll(ctx context.Context, symbols []string) []quote.Record
}

// Scheduler refreshes the watch list on a cron schedule and hands every
// result set to the publish callback.
type Scheduler struct {
	source  Source
	symbols []string
	loc     *time.Location
	timeout time.Duration
	publish func([]quote.Record)
	log     log.FieldLogger
	metrics *metrics.Metrics

	mu         sync.Mutex
	cron       *cron.Cron
	running    bool
	ctx        context.Context
	cancelFunc context.CancelFunc
	warmup     sync.WaitGroup
}

type Option func(*Scheduler)

// WithLocation evaluates schedules in loc instead of UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithPublisher sets the callback that receives each run's records.
func WithPublisher(fn func([]quote.Record)) Option {
	return func(s *Scheduler) { s.publish = fn }
}

func WithLogger(l log.FieldLogger) Option { return func(s *Scheduler) { s.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }

func New(source Source, symbols []string, options ...Option) *Scheduler {
	s := &Scheduler{
		source:  source,
		symbols: append([]string(nil), symbols...),
		loc:     time.UTC,
		timeout: DefaultRunTimeout,
		publish: func([]quote.Record) {},
		log:     log.StandardLogger(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Start schedules refresh runs and kicks off one run immediately so the
// cache is warm before the first tick. Overlapping runs are skipped.
func (s *Scheduler) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("refresh scheduler is already running")
	}

	s.ctx, s.cancelFunc = context.WithCancel(context.Background())
	s.cron = cron.New(
		cron.WithLocation(s.loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(s.log))),
	)
	if _, err := s.cron.AddFunc(schedule, s.Run); err != nil {
		s.cancelFunc()
		return errors.Wrapf(err, "schedule %q", schedule)
	}

	s.cron.Start()
	s.running = true
	s.log.WithField("schedule", schedule).WithField("symbols", len(s.symbols)).Info("refresh scheduler started")

	s.warmup.Add(1)
	go func() {
		defer s.warmup.Done()
		s.Run()
	}()
	return nil
}

// Run refreshes every symbol once and publishes the records.
func (s *Scheduler) Run() {
	parent := s.runContext()
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	start := time.Now()
	records := s.source.RefreshAll(ctx, s.symbols)

	failed := 0
	for _, r := range records {
		if r.Error {
			failed++
		}
	}
	s.metrics.Refreshed()
	s.log.WithFields(log.Fields{
		"symbols": len(records),
		"errors":  failed,
		"took":    time.Since(start).Round(time.Millisecond).String(),
	}).Info("refresh completed")

	s.publish(records)
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// Stop halts the schedule and waits for in-flight runs to return or for ctx
// to end. Fetches already under way finish within their own timeout.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancelFunc()
	cronDone := s.cron.Stop()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.warmup.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("refresh scheduler stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "stop refresh scheduler")
	}
}
