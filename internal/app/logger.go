package app

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"noto/internal/logging"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openLogger writes to file when one is configured and to fallback otherwise.
// The returned closer releases the file.
func openLogger(prefix, level, file string, fallback io.Writer) (logging.Logger, io.Closer, error) {
	if file == "" {
		return logging.New(prefix, level, fallback), nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
		return nil, nil, errors.Wrap(err, "create log dir")
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open log file")
	}
	return logging.New(prefix, level, f), f, nil
}
