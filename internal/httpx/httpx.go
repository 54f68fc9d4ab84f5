package httpx

import (
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Client is a small wrapper around http.Client with sane defaults.
// Bodyless requests that hit 429 or a 5xx are retried with linear backoff.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Headers   map[string]string
	Retries   int
	Backoff   time.Duration
}

func New(timeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 5 * time.Second,
	}
	return &Client{
		HTTP:      &http.Client{Timeout: timeout, Transport: transport},
		UserAgent: "stock-dashboard/1.0",
		Retries:   2,
		Backoff:   500 * time.Millisecond,
	}
}

// Do sends req, filling in default headers. It satisfies the HTTPClient
// interfaces used by upstream clients.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	for k, v := range c.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	attempts := 1
	if req.Body == nil || req.Body == http.NoBody {
		attempts += max(c.Retries, 0)
	}

	ctx := req.Context()
	for attempt := 0; ; attempt++ {
		resp, err := c.HTTP.Do(req)
		if attempt+1 >= attempts || !retryable(resp, err) || ctx.Err() != nil {
			return resp, err
		}
		if resp != nil {
			resp.Body.Close()
		}

		t := time.NewTimer(time.Duration(attempt+1) * c.Backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, errors.Wrap(ctx.Err(), "canceled while retrying")
		case <-t.C:
		}
	}
}

func retryable(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
}
