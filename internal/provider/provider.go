package provider

import (
	"context"

	"stockdashboard/internal/quote"
)

// Window is the history range requested from upstream, e.g. "5d".
type Window string

const DefaultWindow Window = "5d"

// Fetcher returns recent daily history for one symbol.
// An empty series with a nil error means upstream had no data.
//
//go:generate mockgen -package=service_test -destination=../service/mock_fetcher_test.go -source=provider.go Fetcher
type Fetcher interface {
	Name() string
	History(ctx context.Context, symbol string, window Window) (quote.Series, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, symbol string, window Window) (quote.Series, error)

func (f FetcherFunc) Name() string { return "func" }

func (f FetcherFunc) History(ctx context.Context, symbol string, window Window) (quote.Series, error) {
	return f(ctx, symbol, window)
}
