package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"stockdashboard/internal/aggregate"
	"stockdashboard/internal/chart"
	"stockdashboard/internal/clock"
	"stockdashboard/internal/quote"
	"stockdashboard/internal/service"
)

const requestIDHeader = "X-Request-ID"

// api serves the dashboard endpoints for a fixed watch list.
type api struct {
	svc     *service.Service
	symbols []string
	// watched maps upper-cased tickers to their configured spelling.
	watched map[string]string
	clock   clock.Clock
	charts  *chart.Cache
	hub     http.Handler
	log     log.FieldLogger
	timeout time.Duration
}

func newAPI(svc *service.Service, symbols []string, clk clock.Clock, charts *chart.Cache, hub http.Handler, logger log.FieldLogger, timeout time.Duration) *api {
	watched := make(map[string]string, len(symbols))
	for _, s := range symbols {
		watched[strings.ToUpper(s)] = s
	}
	return &api{
		svc:     svc,
		symbols: symbols,
		watched: watched,
		clock:   clk,
		charts:  charts,
		hub:     hub,
		log:     logger,
		timeout: timeout,
	}
}

func (a *api) router(gatherer prometheus.Gatherer, corsOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.Use(requestID, a.accessLog, a.recoverPanic)

	r.HandleFunc("/health", a.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.Handle("/ws", a.hub)

	apiRouter := r.PathPrefix("/api").Subrouter()
	// gzip stays off /ws: the compressing writer cannot be hijacked.
	apiRouter.Use(withGzip, limitBody)
	apiRouter.HandleFunc("/stocks", a.stocks).Methods(http.MethodGet)
	apiRouter.HandleFunc("/stocks/{symbol}", a.stock).Methods(http.MethodGet)
	apiRouter.HandleFunc("/stocks/{symbol}/chart.png", a.chartPNG).Methods(http.MethodGet)
	apiRouter.HandleFunc("/cache/clear", a.clearCache).Methods(http.MethodGet, http.MethodPost)

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
	})
	return c.Handler(r)
}

func (a *api) stocks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()

	records := a.svc.GetAllQuotes(ctx, a.symbols)
	writeJSON(w, http.StatusOK, aggregate.NewSnapshot(records, a.clock.Now()))
}

func (a *api) stock(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *api) chartPNG(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.lookup(w, r)
	if !ok {
		return
	}

	img, err := a.charts.PNG(rec)
	switch {
	case errors.Is(err, chart.ErrNoChart):
		writeError(w, http.StatusServiceUnavailable, "chart data unavailable for "+rec.Symbol)
		return
	case err != nil:
		a.log.WithError(err).WithField("symbol", rec.Symbol).Error("chart render failed")
		writeError(w, http.StatusInternalServerError, "chart render failed")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

// lookup resolves the {symbol} route variable against the watch list and
// returns its record. It writes a 404 and reports false for unknown symbols.
func (a *api) lookup(w http.ResponseWriter, r *http.Request) (quote.Record, bool) {
	requested := mux.Vars(r)["symbol"]
	symbol, ok := a.watched[strings.ToUpper(strings.TrimSpace(requested))]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("symbol %s is not watched", requested))
		return quote.Record{}, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()
	return a.svc.GetQuote(ctx, symbol), true
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	CacheSize int    `json:"cache_size"`
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: a.clock.Now().Format(time.RFC3339),
		CacheSize: a.svc.CacheSize(),
	})
}

type clearResponse struct {
	Message string `json:"message"`
	Removed int    `json:"removed"`
}

func (a *api) clearCache(w http.ResponseWriter, _ *http.Request) {
	n := a.svc.CacheClear()
	writeJSON(w, http.StatusOK, clearResponse{
		Message: fmt.Sprintf("Cache cleared: %d entries removed", n),
		Removed: n,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type ctxKey struct{}

// requestID tags each request with an id, reusing the caller's when present.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// statusRecorder captures the response status for access logs. It passes
// Hijack through so websocket upgrades keep working.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func (a *api) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.WithFields(log.Fields{
			"request_id": requestIDFrom(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"took":       time.Since(start).Round(time.Microsecond).String(),
		}).Info("request")
	})
}

// recoverPanic protects handlers from panics.
func (a *api) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.log.WithField("request_id", requestIDFrom(r.Context())).
					WithField("panic", rec).
					Error("handler panicked")
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withGzip compresses responses when the client supports gzip.
func withGzip(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}

// limitBody caps request body size to avoid memory abuse.
func limitBody(next http.Handler) http.Handler {
	const maxBody = 1 << 20 // 1MB
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		next.ServeHTTP(w, r)
	})
}
