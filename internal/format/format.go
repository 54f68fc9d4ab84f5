package format

import (
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Price renders v with two decimals and comma thousand separators, e.g. "1,234.50".
func Price(v float64) string {
	p := message.NewPrinter(language.English)
	return p.Sprintf("%.2f", v)
}

// Change renders a signed price move such as "+4.00" or "-1.25".
func Change(v float64) string {
	if v > 0 {
		return "+" + Price(v)
	}
	return Price(v)
}

// Percent renders a signed percent move such as "+3.70%".
func Percent(v float64) string {
	return Change(v) + "%"
}

// Volume renders a share count with thousand separators.
func Volume(v int64) string {
	return humanize.Comma(v)
}

// Arrow returns a direction marker for a price move.
func Arrow(change float64) string {
	switch {
	case change > 0:
		return "▲"
	case change < 0:
		return "▼"
	default:
		return "-"
	}
}

// Pad right-pads s to width runes.
func Pad(s string, width int) string {
	n := len([]rune(s))
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}
