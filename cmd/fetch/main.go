package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"

	"stockdashboard/internal/aggregate"
	"stockdashboard/internal/cache"
	"stockdashboard/internal/clock"
	"stockdashboard/internal/config"
	"stockdashboard/internal/format"
	"stockdashboard/internal/httpx"
	"stockdashboard/internal/logging"
	"stockdashboard/internal/provider"
	"stockdashboard/internal/provider/ratelimit"
	"stockdashboard/internal/provider/yahoo"
	"stockdashboard/internal/quote"
	"stockdashboard/internal/service"
)

func main() {
	var (
		symbolsCSV string
		configPath string
		window     string
		asJSON     bool
		timeoutSec int
	)
	flag.StringVar(&symbolsCSV, "symbols", "", `watch list override, e.g. "AAPL=Apple,MSFT" (defaults to config)`)
	flag.StringVar(&configPath, "config", "", "path to config.json (optional)")
	flag.StringVar(&window, "window", "", "history range, e.g. 5d or 1mo (defaults to config)")
	flag.BoolVar(&asJSON, "json", false, "print the dashboard snapshot as JSON")
	flag.IntVar(&timeoutSec, "timeout", 30, "overall timeout seconds")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if symbolsCSV != "" {
		cfg.Quotes.Symbols = config.ParseSymbols(symbolsCSV)
	}
	if window != "" {
		cfg.Quotes.Window = window
	}
	if len(cfg.Quotes.Symbols) == 0 {
		log.Fatal("no symbols provided")
	}

	// Keep stdout clean for the table or JSON.
	logger, err := logging.New("warn", cfg.Log.Format)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	clk, err := clock.Load(cfg.Quotes.Timezone)
	if err != nil {
		log.Fatalf("clock: %v", err)
	}

	httpClient := httpx.New(cfg.Quotes.FetchTimeout())
	httpClient.UserAgent = cfg.Yahoo.UserAgent
	httpClient.Retries = cfg.Yahoo.Retries
	var fetcher provider.Fetcher = yahoo.New(
		yahoo.WithBaseURL(cfg.Yahoo.BaseURL),
		yahoo.WithHTTPClient(httpClient),
		yahoo.WithInterval(cfg.Yahoo.Interval),
	)
	fetcher = ratelimit.Wrap(fetcher, cfg.Yahoo.MaxRequestsPerMinute, cfg.Yahoo.Burst, cfg.Yahoo.MinRequestInterval())

	svc := service.New(cache.New(), fetcher,
		service.WithClock(clk),
		service.WithNames(cfg.Quotes.Directory()),
		service.WithWindow(provider.Window(cfg.Quotes.Window)),
		service.WithFetchTimeout(cfg.Quotes.FetchTimeout()),
		service.WithRefreshConcurrency(cfg.Quotes.RefreshConcurrency),
		service.WithLogger(logger),
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()

	records := svc.RefreshAll(ctx, cfg.Quotes.SymbolList())
	snap := aggregate.NewSnapshot(records, clk.Now())

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			log.Fatalf("encode: %v", err)
		}
		return
	}
	if err := printTable(os.Stdout, snap); err != nil {
		log.Fatalf("print: %v", err)
	}
}

func printTable(w io.Writer, snap aggregate.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TICKER\tNAME\tPRICE\tCHANGE\tCHANGE %\tVOLUME\tUPDATED")
	for _, r := range snap.Stocks {
		fmt.Fprintln(tw, row(r))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := snap.Summary
	_, err := fmt.Fprintf(w, "\n%d symbols: %d up, %d down, %d flat, %d errors (%s)\n",
		s.Total, s.Advancing, s.Declining, s.Unchanged, s.Errors, snap.Timestamp)
	return err
}

func row(r quote.Record) string {
	if r.Error {
		return fmt.Sprintf("%s\t%s\t-\t-\t-\t-\t%s (%s)", r.Symbol, r.Name, r.LastUpdate, r.ErrorMessage)
	}
	return fmt.Sprintf("%s\t%s\t%s\t%s %s\t%s\t%s\t%s",
		r.Symbol, r.Name,
		format.Price(r.CurrentPrice),
		format.Arrow(r.Change), format.Change(r.Change),
		format.Percent(r.ChangePercent),
		format.Volume(r.Volume),
		r.LastUpdate)
}
