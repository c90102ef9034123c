package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noto/internal/api"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("NOTO_DATA_DIR", "/data")

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)

	c := cfg.Client
	assert.Equal(t, "http://localhost:8080", c.BackendURL)
	assert.Equal(t, api.DefaultPaths(), c.Paths)
	assert.Equal(t, 14*time.Minute, c.HeartbeatInterval)
	assert.Equal(t, time.Minute, c.RefreshInterval)
	assert.Equal(t, 90*time.Second, c.PingInterval)
	assert.Equal(t, 2*time.Second, c.PopupDelay)
	assert.Empty(t, c.SessionDBPath)
	assert.NotEmpty(t, c.SessionScope)
	assert.Equal(t, "info", c.LogLevel)

	s := cfg.Server
	assert.Equal(t, ":8080", s.Addr)
	assert.Equal(t, filepath.Join("/data", "noto.db"), s.DBPath)
	assert.Equal(t, 3*time.Minute, s.SessionTTL)
	assert.Equal(t, 5.0, s.RateLimit)
	assert.Equal(t, 20, s.RateBurst)
	assert.Equal(t, time.Minute, s.JanitorInterval)
	assert.Equal(t, []string{"*"}, s.AllowOrigins)
}

func TestLoadEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("NOTO_BACKEND_BASE_URL", "https://api.noto.example/")
	t.Setenv("NOTO_HEARTBEAT_INTERVAL_MS", "1000")
	t.Setenv("NOTO_SESSION_PING_PATH", "/ping")
	t.Setenv("NOTO_SESSION_SCOPE", "tab-7")
	t.Setenv("NOTO_RATE_LIMIT", "2.5")
	t.Setenv("NOTO_ALLOW_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "https://api.noto.example", cfg.Client.BackendURL)
	assert.Equal(t, time.Second, cfg.Client.HeartbeatInterval)
	assert.Equal(t, "/ping", cfg.Client.Paths.SessionPing)
	assert.Equal(t, "tab-7", cfg.Client.SessionScope)
	assert.Equal(t, 2.5, cfg.Server.RateLimit)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowOrigins)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "noto.yaml"), []byte(
		"popup_delay_ms: 500\naddr: 127.0.0.1:9000\nallow_origins:\n  - https://noto.example\n",
	), 0o600))
	t.Setenv("NOTO_ADDR", ":7000")

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.Client.PopupDelay)
	assert.Equal(t, ":7000", cfg.Server.Addr, "env beats the file")
	assert.Equal(t, []string{"https://noto.example"}, cfg.Server.AllowOrigins)

	_, err = Load(LoadOptions{ConfigFile: filepath.Join(dir, "missing.yaml")})
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(
		"NOTO_LIVENESS_PING_MS=45000\nNOTO_LOG_LEVEL=debug\n",
	), 0o600))
	t.Setenv("NOTO_LOG_LEVEL", "warn")
	t.Cleanup(func() { _ = os.Unsetenv("NOTO_LIVENESS_PING_MS") })

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Client.PingInterval)
	assert.Equal(t, "warn", cfg.Client.LogLevel, ".env never overrides the environment")

	_, err = Load(LoadOptions{EnvFile: filepath.Join(dir, "nope.env")})
	assert.Error(t, err)
}

// chdir changes the working directory for the duration of the test,
// equivalent to testing.T.Chdir (Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
