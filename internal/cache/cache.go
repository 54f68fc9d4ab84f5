package cache

import (
	"sync"
	"time"

	"stockdashboard/internal/quote"
)

const (
	DefaultSuccessTTL = 30 * time.Second
	// DefaultErrorTTL is shorter so failing symbols are retried sooner.
	DefaultErrorTTL = 10 * time.Second
)

// Entry is a cached record together with the time it was captured.
type Entry struct {
	Record    quote.Record
	FetchedAt time.Time
}

// Store maps symbols to their most recent record.
// Each method is atomic on its own; callers that check and then write are
// not serialized against each other, so concurrent writes for one symbol
// resolve as last-write-wins.
type Store struct {
	successTTL time.Duration
	errorTTL   time.Duration

	mu      sync.RWMutex
	entries map[string]Entry // key: symbol
}

// Option configures a Store.
type Option func(*Store)

// WithSuccessTTL sets how long successful records stay valid.
func WithSuccessTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.successTTL = d
		}
	}
}

// WithErrorTTL sets how long error records stay valid.
func WithErrorTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.errorTTL = d
		}
	}
}

func New(options ...Option) *Store {
	s := &Store{
		successTTL: DefaultSuccessTTL,
		errorTTL:   DefaultErrorTTL,
		entries:    make(map[string]Entry),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// TTL returns the lifetime applied to rec.
func (s *Store) TTL(rec quote.Record) time.Duration {
	if rec.Error {
		return s.errorTTL
	}
	return s.successTTL
}

// IsValid reports whether symbol has an entry younger than its TTL at now.
func (s *Store) IsValid(symbol string, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[symbol]
	if !ok {
		return false
	}
	return now.Sub(e.FetchedAt) < s.TTL(e.Record)
}

// Get returns the entry for symbol regardless of its age.
func (s *Store) Get(symbol string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[symbol]
	if !ok {
		return Entry{}, false
	}
	e.Record.ChartData = cloneChart(e.Record.ChartData)
	return e, true
}

// Put overwrites the entry for symbol.
func (s *Store) Put(symbol string, rec quote.Record, now time.Time) {
	rec.ChartData = cloneChart(rec.ChartData)

	s.mu.Lock()
	s.entries[symbol] = Entry{Record: rec, FetchedAt: now}
	s.mu.Unlock()
}

// Clear drops every entry and returns how many were removed.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	s.entries = make(map[string]Entry)
	return n
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// cloneChart copies chart points so callers never share a backing array
// with the stored entry.
func cloneChart(points []quote.ChartPoint) []quote.ChartPoint {
	out := make([]quote.ChartPoint, len(points))
	copy(out, points)
	return out
}
