package doip

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Logger interface should be implemented by the client
type Logger interface {
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Info(v ...interface{})
	Infof(format string, v ...interface{})
}

// NewLogger creates a zerolog backed Logger writing to w.
// level is a zerolog level name; an unknown name falls back to info.
func NewLogger(w io.Writer, level string, pretty bool) Logger {
	if w == nil {
		w = io.Discard
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return &logger{zero: zerolog.New(w).Level(lvl).With().Timestamp().Str("module", "doip").Logger()}
}

// NopLogger returns a Logger that drops everything.
func NopLogger() Logger {
	return &logger{zero: zerolog.Nop()}
}

type logger struct {
	zero zerolog.Logger
}

func (l *logger) Debug(v ...interface{}) {
	l.zero.Debug().Msg(fmt.Sprint(v...))
}

func (l *logger) Debugf(format string, v ...interface{}) {
	l.zero.Debug().Msgf(format, v...)
}

func (l *logger) Info(v ...interface{}) {
	l.zero.Info().Msg(fmt.Sprint(v...))
}

func (l *logger) Infof(format string, v ...interface{}) {
	l.zero.Info().Msgf(format, v...)
}
