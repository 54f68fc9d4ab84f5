package aggregate

import (
	"time"

	"stockdashboard/internal/quote"
)

// Mover names a symbol and its percent move.
type Mover struct {
	Symbol        string  `json:"ticker"`
	Name          string  `json:"name"`
	ChangePercent float64 `json:"change_percent"`
}

// Summary counts how the watch list moved.
type Summary struct {
	Total     int    `json:"total"`
	Advancing int    `json:"advancing"`
	Declining int    `json:"declining"`
	Unchanged int    `json:"unchanged"`
	Errors    int    `json:"errors"`
	TopGainer *Mover `json:"top_gainer"`
	TopLoser  *Mover `json:"top_loser"`
}

// Summarize counts records by direction and picks the largest percent moves.
// Error records only count toward Errors. A gainer needs a positive move and a
// loser a negative one; for equal moves, later input wins.
func Summarize(records []quote.Record) Summary {
	s := Summary{Total: len(records)}
	for _, r := range records {
		if r.Error {
			s.Errors++
			continue
		}
		switch {
		case r.Change > 0:
			s.Advancing++
			if s.TopGainer == nil || r.ChangePercent >= s.TopGainer.ChangePercent {
				s.TopGainer = moverOf(r)
			}
		case r.Change < 0:
			s.Declining++
			if s.TopLoser == nil || r.ChangePercent <= s.TopLoser.ChangePercent {
				s.TopLoser = moverOf(r)
			}
		default:
			s.Unchanged++
		}
	}
	return s
}

func moverOf(r quote.Record) *Mover {
	return &Mover{Symbol: r.Symbol, Name: r.Name, ChangePercent: r.ChangePercent}
}

// Snapshot is the dashboard payload: every record, its summary, and when it
// was assembled.
type Snapshot struct {
	Stocks    []quote.Record `json:"stocks"`
	Timestamp string         `json:"timestamp"`
	Summary   Summary        `json:"summary"`
}

// NewSnapshot assembles a Snapshot stamped with now in RFC 3339 form. Stocks
// is never nil so it encodes as a JSON array.
func NewSnapshot(records []quote.Record, now time.Time) Snapshot {
	if records == nil {
		records = []quote.Record{}
	}
	return Snapshot{
		Stocks:    records,
		Timestamp: now.Format(time.RFC3339),
		Summary:   Summarize(records),
	}
}
