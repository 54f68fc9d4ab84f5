package clock

import (
	"time"

	"github.com/pkg/errors"
)

// Layout is the human-readable timestamp format used for last_update fields.
const Layout = "2006-01-02 15:04:05"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Zoned reports wall-clock time in a fixed location.
type Zoned struct {
	loc *time.Location
	now func() time.Time
}

func New(loc *time.Location) *Zoned {
	if loc == nil {
		loc = time.UTC
	}
	return &Zoned{loc: loc, now: time.Now}
}

// Load builds a Zoned clock from an IANA zone name such as "Asia/Tokyo".
func Load(name string) (*Zoned, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.Wrapf(err, "load time zone %q", name)
	}
	return New(loc), nil
}

func (z *Zoned) Now() time.Time { return z.now().In(z.loc) }

func (z *Zoned) Location() *time.Location { return z.loc }

// Func adapts a plain function to Clock.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }

// Format renders t with Layout without changing its location.
func Format(t time.Time) string { return t.Format(Layout) }
