package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]log.Lvl{
		"debug":   log.DEBUG,
		"INFO":    log.INFO,
		" warn ":  log.WARN,
		"error":   log.ERROR,
		"off":     log.OFF,
		"bananas": log.INFO,
		"":        log.INFO,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test", "warn", &buf)
	logger.Infof("hidden %d", 1)
	logger.Warnf("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown 2")
	assert.True(t, strings.Contains(out, "[test]"), "prefix missing from %q", out)
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))
	var buf bytes.Buffer
	l := New("x", "debug", &buf)
	assert.Same(t, l, OrDiscard(l))
}
