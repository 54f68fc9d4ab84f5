package yahoo

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/pkg/errors"

	"stockdashboard/internal/provider"
	"stockdashboard/internal/quote"
)

type chartQuery struct {
	Range    string `url:"range"`
	Interval string `url:"interval"`
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta struct {
		Symbol               string `json:"symbol"`
		ExchangeTimezoneName string `json:"exchangeTimezoneName"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			// Yahoo reports missing bars as null.
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

// History returns daily closes and volumes for symbol over window.
func (c *Client) History(ctx context.Context, symbol string, window provider.Window) (quote.Series, error) {
	if window == "" {
		window = provider.DefaultWindow
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u = u.JoinPath("v8", "finance", "chart", symbol)
	params, err := query.Values(chartQuery{Range: string(window), Interval: c.interval})
	if err != nil {
		return nil, errors.Wrap(err, "encode chart query")
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	for key, values := range c.header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "get chart for %s", symbol)
	}
	defer resp.Body.Close()

	var body chartResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && body.Chart.Error != nil {
			return nil, errors.Errorf("chart %s -> %d: %s: %s", symbol, resp.StatusCode, body.Chart.Error.Code, body.Chart.Error.Description)
		}
		return nil, errors.Errorf("chart %s -> %d", symbol, resp.StatusCode)
	}
	if decodeErr != nil && !errors.Is(decodeErr, io.EOF) {
		return nil, errors.Wrap(decodeErr, "decode chart response")
	}
	if body.Chart.Error != nil {
		return nil, errors.Errorf("chart %s: %s: %s", symbol, body.Chart.Error.Code, body.Chart.Error.Description)
	}
	if len(body.Chart.Result) == 0 {
		return quote.Series{}, nil
	}
	return toSeries(body.Chart.Result[0]), nil
}

func toSeries(r chartResult) quote.Series {
	loc := time.UTC
	if name := r.Meta.ExchangeTimezoneName; name != "" {
		if l, err := time.LoadLocation(name); err == nil {
			loc = l
		}
	}

	var closes, volumes []*float64
	if len(r.Indicators.Quote) > 0 {
		closes = r.Indicators.Quote[0].Close
		volumes = r.Indicators.Quote[0].Volume
	}

	out := make(quote.Series, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		out = append(out, quote.Sample{
			Date:   time.Unix(ts, 0).In(loc),
			Close:  at(closes, i),
			Volume: at(volumes, i),
		})
	}
	return out
}

// at returns vs[i], or NaN when the value is missing or null.
func at(vs []*float64, i int) float64 {
	if i >= len(vs) || vs[i] == nil {
		return math.NaN()
	}
	return *vs[i]
}
