package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"stockdashboard/internal/aggregate"
	"stockdashboard/internal/cache"
	"stockdashboard/internal/chart"
	"stockdashboard/internal/clock"
	"stockdashboard/internal/config"
	"stockdashboard/internal/httpx"
	"stockdashboard/internal/logging"
	"stockdashboard/internal/metrics"
	"stockdashboard/internal/provider"
	"stockdashboard/internal/provider/ratelimit"
	"stockdashboard/internal/provider/yahoo"
	"stockdashboard/internal/quote"
	"stockdashboard/internal/refresh"
	"stockdashboard/internal/service"
	"stockdashboard/internal/stream"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	clk, err := clock.Load(cfg.Quotes.Timezone)
	if err != nil {
		logger.Fatalf("clock: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	httpClient := httpx.New(cfg.Quotes.FetchTimeout())
	httpClient.UserAgent = cfg.Yahoo.UserAgent
	httpClient.Retries = cfg.Yahoo.Retries

	var fetcher provider.Fetcher = yahoo.New(
		yahoo.WithBaseURL(cfg.Yahoo.BaseURL),
		yahoo.WithHTTPClient(httpClient),
		yahoo.WithInterval(cfg.Yahoo.Interval),
	)
	fetcher = ratelimit.Wrap(fetcher, cfg.Yahoo.MaxRequestsPerMinute, cfg.Yahoo.Burst, cfg.Yahoo.MinRequestInterval())

	store := cache.New(
		cache.WithSuccessTTL(cfg.Quotes.SuccessTTL()),
		cache.WithErrorTTL(cfg.Quotes.ErrorTTL()),
	)
	m.RegisterCacheSize(reg, store.Len)

	svc := service.New(store, fetcher,
		service.WithClock(clk),
		service.WithNames(cfg.Quotes.Directory()),
		service.WithWindow(provider.Window(cfg.Quotes.Window)),
		service.WithFetchTimeout(cfg.Quotes.FetchTimeout()),
		service.WithRefreshConcurrency(cfg.Quotes.RefreshConcurrency),
		service.WithDedupedFetches(cfg.Quotes.DedupeFetches),
		service.WithLogger(logger),
		service.WithMetrics(m),
	)

	hub := stream.NewHub(stream.WithLogger(logger))
	symbols := cfg.Quotes.SymbolList()

	var sched *refresh.Scheduler
	if cfg.Quotes.RefreshSchedule != "" {
		sched = refresh.New(svc, symbols,
			refresh.WithLocation(clk.Location()),
			refresh.WithRunTimeout(cfg.Quotes.RefreshTimeout()),
			refresh.WithLogger(logger),
			refresh.WithMetrics(m),
			refresh.WithPublisher(func(records []quote.Record) {
				if err := hub.Broadcast(aggregate.NewSnapshot(records, clk.Now())); err != nil {
					logger.WithError(err).Warn("broadcast snapshot")
				}
			}),
		)
		if err := sched.Start(cfg.Quotes.RefreshSchedule); err != nil {
			logger.Fatalf("refresh: %v", err)
		}
	}

	a := newAPI(svc, symbols, clk, chart.NewCache(cfg.Quotes.ChartCacheSize, cfg.Quotes.SuccessTTL()), hub, logger, cfg.Server.RequestTimeout())
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           a.router(reg, cfg.Server.CORSOrigins),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout() + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).WithField("symbols", symbols).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server: %v", err)
		}
	}()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("refresh scheduler did not stop cleanly")
		}
	}
	if err := hub.Close(); err != nil {
		logger.WithError(err).Warn("closing websocket clients")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server shutdown")
	}
}
