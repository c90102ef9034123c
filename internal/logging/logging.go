package logging

import (
	"io"
	"os"
	"strings"

	"github.com/labstack/gommon/log"
)

const header = `${time_rfc3339} ${level} [${prefix}]`

// Logger is the leveled logging surface every component accepts.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

var _ Logger = (*log.Logger)(nil)

// New builds a gommon logger writing to w at the named level.
func New(prefix, level string, w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	logger := log.New(prefix)
	logger.SetOutput(w)
	logger.SetHeader(header)
	logger.SetLevel(ParseLevel(level))
	return logger
}

// Discard returns a logger that drops everything.
func Discard() Logger {
	return New("noto", "off", io.Discard)
}

// ParseLevel maps a config string to a gommon level; unknown values mean info.
func ParseLevel(level string) log.Lvl {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off", "none", "silent":
		return log.OFF
	default:
		return log.INFO
	}
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l Logger) Logger {
	if l == nil {
		return Discard()
	}
	return l
}
