package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"math"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"stockdashboard/internal/config"
	"stockdashboard/internal/httpx"
	"stockdashboard/internal/provider"
	"stockdashboard/internal/provider/yahoo"
	"stockdashboard/internal/quote"
)

// row is one upstream sample; missing values are written as null.
type row struct {
	Date   time.Time `json:"date"`
	Close  *float64  `json:"close"`
	Volume *float64  `json:"volume"`
}

func main() {
	var (
		symbol     string
		window     string
		outPath    string
		cfgPath    string
		timeoutSec int
	)
	flag.StringVar(&symbol, "symbol", "", "ticker to dump, e.g. 2327.T")
	flag.StringVar(&window, "window", "", "history range, e.g. 5d or 1mo (defaults to config)")
	flag.StringVar(&outPath, "out", "", "output JSON file path (stdout when empty)")
	flag.StringVar(&cfgPath, "config", "", "path to config.json (optional)")
	flag.IntVar(&timeoutSec, "timeout", 20, "HTTP timeout seconds")
	flag.Parse()

	if symbol == "" {
		log.Fatal("-symbol is required")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if window == "" {
		window = cfg.Quotes.Window
	}

	httpClient := httpx.New(time.Duration(timeoutSec) * time.Second)
	httpClient.UserAgent = cfg.Yahoo.UserAgent
	httpClient.Retries = cfg.Yahoo.Retries
	client := yahoo.New(
		yahoo.WithBaseURL(cfg.Yahoo.BaseURL),
		yahoo.WithHTTPClient(httpClient),
		yahoo.WithInterval(cfg.Yahoo.Interval),
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()

	series, err := client.History(ctx, symbol, provider.Window(window))
	if err != nil {
		log.Fatalf("history: %v", err)
	}
	log.WithField("symbol", symbol).WithField("samples", len(series)).Info("fetched history")

	var w io.Writer = os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			log.Fatalf("create output: %v", err)
		}
		defer f.Close()
		w = f
	}
	if err := dump(w, series); err != nil {
		log.Fatalf("write: %v", err)
	}
}

func dump(w io.Writer, series quote.Series) error {
	rows := make([]row, 0, len(series))
	for _, s := range series {
		rows = append(rows, row{Date: s.Date, Close: value(s.Close), Volume: value(s.Volume)})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func value(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
