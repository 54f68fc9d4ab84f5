package logging

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// New builds a logger writing to stderr at level ("debug", "info", ...) in
// the given format ("text" or "json").
func New(level, format string) (*log.Logger, error) {
	return NewWithOutput(os.Stderr, level, format)
}

func NewWithOutput(w io.Writer, level, format string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}

	l := log.New()
	l.SetOutput(w)
	l.SetLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText:
		l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case FormatJSON:
		l.SetFormatter(&log.JSONFormatter{})
	default:
		return nil, errors.Errorf("unknown log format %q", format)
	}
	return l, nil
}
