package yahoo

import (
	"net/http"
)

const (
	baseURL         = "https://query1.finance.yahoo.com"
	defaultInterval = "1d"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=yahoo_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client reads daily price history from the Yahoo Finance chart API.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient sends the requests.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// interval is the bar size requested, "1d" unless overridden.
	interval string
}

// Option is a configuration option for the Yahoo client.
type Option func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) Option {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithInterval sets the bar size, e.g. "1d" or "1h".
func WithInterval(interval string) Option {
	return func(c *Client) {
		if interval != "" {
			c.interval = interval
		}
	}
}

// New creates a new Yahoo chart API client.
func New(options ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		interval:   defaultInterval,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Client) Name() string { return "yahoo" }
