package chart

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"stockdashboard/internal/format"
	"stockdashboard/internal/quote"
)

// ErrNoChart is returned for error records and records with fewer than two
// chart points.
var ErrNoChart = errors.New("not enough chart data")

const (
	width  = 800
	height = 400
)

var lineColor = drawing.Color{R: 0, G: 122, B: 255, A: 255}

// Render writes a PNG line chart of rec's chart data to w.
func Render(w io.Writer, rec quote.Record) error {
	if rec.Error || len(rec.ChartData) < 2 {
		return ErrNoChart
	}

	xs := make([]float64, len(rec.ChartData))
	ys := make([]float64, len(rec.ChartData))
	ticks := make([]gochart.Tick, len(rec.ChartData))
	for i, p := range rec.ChartData {
		xs[i] = float64(i)
		ys[i] = p.Close
		ticks[i] = gochart.Tick{Value: float64(i), Label: p.Date}
	}

	lo, hi := bounds(ys)
	padding := (hi - lo) * 0.1
	if padding == 0 {
		// A flat series still needs a non-empty range.
		padding = 1
	}

	graph := gochart.Chart{
		Title:  fmt.Sprintf("%s  %s (%s)", rec.Symbol, format.Price(rec.CurrentPrice), format.Percent(rec.ChangePercent)),
		Width:  width,
		Height: height,
		Background: gochart.Style{
			Padding: gochart.Box{Top: 50, Left: 20, Right: 20, Bottom: 10},
		},
		XAxis: gochart.XAxis{Ticks: ticks},
		YAxis: gochart.YAxis{
			Range: &gochart.ContinuousRange{Min: lo - padding, Max: hi + padding},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return format.Price(f)
				}
				return ""
			},
		},
		Series: []gochart.Series{
			gochart.ContinuousSeries{
				Style: gochart.Style{
					StrokeColor: lineColor,
					StrokeWidth: 2,
					FillColor:   lineColor.WithAlpha(25),
				},
				XValues: xs,
				YValues: ys,
			},
		},
	}

	if err := graph.Render(gochart.PNG, w); err != nil {
		return errors.Wrapf(err, "render chart for %s", rec.Symbol)
	}
	return nil
}

func bounds(vs []float64) (lo, hi float64) {
	lo, hi = vs[0], vs[0]
	for _, v := range vs[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}

// Cache keeps rendered charts keyed by a digest of what gets drawn, so a
// record is drawn at most once while it stays cached.
type Cache struct {
	images *expirable.LRU[uint64, []byte]
}

func NewCache(size int, ttl time.Duration) *Cache {
	return &Cache{images: expirable.NewLRU[uint64, []byte](size, nil, ttl)}
}

// PNG returns the chart image for rec, rendering it on a miss.
func (c *Cache) PNG(rec quote.Record) ([]byte, error) {
	key := digest(rec)
	if img, ok := c.images.Get(key); ok {
		return img, nil
	}

	var buf bytes.Buffer
	if err := Render(&buf, rec); err != nil {
		return nil, err
	}
	img := buf.Bytes()
	c.images.Add(key, img)
	return img, nil
}

func (c *Cache) Len() int { return c.images.Len() }

// digest hashes the fields a chart is drawn from. Two refreshes stamped in
// the same second still get distinct keys when their closes differ.
func digest(rec quote.Record) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(rec.Symbol + "\x00")
	buf := make([]byte, 0, 8)
	writeFloat := func(v float64) {
		buf = binary.LittleEndian.AppendUint64(buf[:0], math.Float64bits(v))
		_, _ = d.Write(buf)
	}
	writeFloat(rec.CurrentPrice)
	writeFloat(rec.ChangePercent)
	for _, p := range rec.ChartData {
		_, _ = d.WriteString(p.Date)
		writeFloat(p.Close)
	}
	return d.Sum64()
}
