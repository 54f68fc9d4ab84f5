package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Fetch outcomes used as the "outcome" label.
const (
	OutcomeOK          = "ok"
	OutcomeNoData      = "no_data"
	OutcomeInvalidData = "invalid_data"
	OutcomeFetchError  = "fetch_error"
)

// Metrics holds the quote service collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	CacheClears   prometheus.Counter
	Fetches       *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	Refreshes     prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stock_dashboard",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Quote lookups answered from a valid cache entry",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stock_dashboard",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Quote lookups that required an upstream fetch",
		}),
		CacheClears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stock_dashboard",
			Subsystem: "cache",
			Name:      "cleared_entries_total",
			Help:      "Entries removed by explicit cache clears",
		}),
		Fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stock_dashboard",
				Subsystem: "upstream",
				Name:      "fetches_total",
				Help:      "Upstream history fetches by outcome",
			},
			[]string{"outcome"},
		),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stock_dashboard",
			Subsystem: "upstream",
			Name:      "fetch_duration_seconds",
			Help:      "Latency of upstream history fetches",
			Buckets:   prometheus.DefBuckets,
		}),
		Refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stock_dashboard",
			Subsystem: "refresh",
			Name:      "runs_total",
			Help:      "Completed timer-driven refresh runs",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.CacheHits, m.CacheMisses, m.CacheClears, m.Fetches, m.FetchDuration, m.Refreshes)
	}
	return m
}

// RegisterCacheSize exposes the live entry count as a gauge.
func (m *Metrics) RegisterCacheSize(reg prometheus.Registerer, size func() int) {
	if m == nil || reg == nil {
		return
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "stock_dashboard",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Number of symbols currently cached",
	}, func() float64 { return float64(size()) }))
}

func (m *Metrics) Hit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) Miss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) Cleared(n int) {
	if m != nil {
		m.CacheClears.Add(float64(n))
	}
}

func (m *Metrics) Fetched(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(outcome).Inc()
	m.FetchDuration.Observe(took.Seconds())
}

func (m *Metrics) Refreshed() {
	if m != nil {
		m.Refreshes.Inc()
	}
}
