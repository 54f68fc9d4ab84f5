package quote

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Error messages carried by error records.
const (
	MsgNoData       = "no data available for symbol"
	MsgInvalidPrice = "invalid price data"
	MsgFetchFailed  = "failed to fetch data"
)

// chartDateLayout renders chart labels as month/day.
const chartDateLayout = "01/02"

// Sample is one trading day of upstream history. Close and Volume may be NaN
// when the upstream reported no value.
type Sample struct {
	Date   time.Time
	Close  float64
	Volume float64
}

// Series is a chronological run of samples, oldest first.
type Series []Sample

type ChartPoint struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

// Record is the normalized snapshot of one symbol, successful or not.
type Record struct {
	Symbol        string       `json:"ticker"`
	Name          string       `json:"name"`
	CurrentPrice  float64      `json:"current_price"`
	Change        float64      `json:"change"`
	ChangePercent float64      `json:"change_percent"`
	Volume        int64        `json:"volume"`
	ChartData     []ChartPoint `json:"chart_data"`
	LastUpdate    string       `json:"last_update"`
	Error         bool         `json:"error"`
	ErrorMessage  string       `json:"error_message,omitempty"`
}

// Directory maps symbols to display names.
type Directory map[string]string

// Name returns the display name for symbol, or the symbol itself when unknown.
func (d Directory) Name(symbol string) string {
	if n := d[symbol]; n != "" {
		return n
	}
	return symbol
}

// NewError builds the zeroed error shape for symbol.
func NewError(symbol, name, message, fetchedAt string) Record {
	return Record{
		Symbol:       symbol,
		Name:         name,
		ChartData:    []ChartPoint{},
		LastUpdate:   fetchedAt,
		Error:        true,
		ErrorMessage: message,
	}
}

// Build turns an upstream series into a Record. It never fails: empty or
// unusable input yields an error record instead.
func Build(symbol, name string, series Series, fetchedAt string) Record {
	if len(series) == 0 {
		return NewError(symbol, name, MsgNoData, fetchedAt)
	}

	current := series[len(series)-1].Close
	previous := current
	if len(series) > 1 {
		previous = series[len(series)-2].Close
	}
	if !finite(current) || !finite(previous) {
		return NewError(symbol, name, MsgInvalidPrice, fetchedAt)
	}

	change := current - previous
	var changePercent float64
	if previous != 0 {
		changePercent = change / previous * 100
	}

	points := make([]ChartPoint, 0, len(series))
	for _, s := range series {
		if !finite(s.Close) {
			continue
		}
		points = append(points, ChartPoint{Date: s.Date.Format(chartDateLayout), Close: Round2(s.Close)})
	}

	// Volumes that do not fit an int64 count as invalid.
	var volume int64
	if v := series[len(series)-1].Volume; finite(v) && v >= 0 && v < math.MaxInt64 {
		volume = int64(v)
	}

	return Record{
		Symbol:        symbol,
		Name:          name,
		CurrentPrice:  Round2(current),
		Change:        Round2(change),
		ChangePercent: Round2(changePercent),
		Volume:        volume,
		ChartData:     points,
		LastUpdate:    fetchedAt,
	}
}

// Round2 rounds v half away from zero to two decimal places. Non-finite
// input rounds to zero so records always encode as JSON.
func Round2(v float64) float64 {
	if !finite(v) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
