package app

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"noto/internal/api"
)

const envPrefix = "NOTO"

// ServerConfig defines how the visitor backend should run.
type ServerConfig struct {
	Addr            string
	DBPath          string
	SessionTTL      time.Duration
	RateLimit       float64
	RateBurst       int
	JanitorInterval time.Duration
	AllowOrigins    []string
	TrustProxy      bool
	LogLevel        string
	LogFile         string
}

// ClientConfig defines the parameters the terminal client needs.
type ClientConfig struct {
	BackendURL        string
	Paths             api.Paths
	HeartbeatInterval time.Duration
	RefreshInterval   time.Duration
	PingInterval      time.Duration
	PopupDelay        time.Duration
	SessionDBPath     string
	SessionScope      string
	LogLevel          string
	LogFile           string
}

type Config struct {
	Server ServerConfig
	Client ClientConfig
}

// LoadOptions points at optional config sources. Empty fields fall back to
// ./noto.yaml and ./.env when they exist.
type LoadOptions struct {
	ConfigFile string
	EnvFile    string
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	paths := api.DefaultPaths()
	v.SetDefault("backend_base_url", "http://localhost:8080")
	v.SetDefault("heartbeat_interval_ms", 840000)
	v.SetDefault("active_count_refresh_ms", 60000)
	v.SetDefault("liveness_ping_ms", 90000)
	v.SetDefault("popup_delay_ms", 2000)
	v.SetDefault("health_path", paths.Health)
	v.SetDefault("session_start_path", paths.SessionStart)
	v.SetDefault("session_ping_path", paths.SessionPing)
	v.SetDefault("active_users_path", paths.ActiveUsers)
	v.SetDefault("session_db_path", "")
	v.SetDefault("session_scope", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")

	v.SetDefault("addr", ":8080")
	v.SetDefault("db_path", "")
	v.SetDefault("session_ttl_ms", 180000)
	v.SetDefault("rate_limit", 5.0)
	v.SetDefault("rate_burst", 20)
	v.SetDefault("janitor_interval_ms", 60000)
	v.SetDefault("allow_origins", []string{"*"})
	v.SetDefault("trust_proxy", false)

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	return v
}

// Load merges defaults, the optional YAML file and NOTO_* environment
// variables, in increasing order of precedence. A .env file only fills
// variables that are not already set.
func Load(opts LoadOptions) (Config, error) {
	if err := loadDotEnv(opts.EnvFile); err != nil {
		return Config{}, err
	}

	v := newViper()
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", opts.ConfigFile)
		}
	} else {
		v.SetConfigName("noto")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, errors.Wrap(err, "read noto.yaml")
			}
		}
	}
	return fromViper(v), nil
}

func loadDotEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return errors.Wrapf(err, "stat %s", path)
	}
	return errors.Wrapf(godotenv.Load(path), "load %s", path)
}

func fromViper(v *viper.Viper) Config {
	scope := v.GetString("session_scope")
	if scope == "" {
		scope = uuid.NewString()
	}
	dbPath := v.GetString("db_path")
	if dbPath == "" {
		dbPath = DefaultDBPath()
	}
	return Config{
		Server: ServerConfig{
			Addr:            v.GetString("addr"),
			DBPath:          dbPath,
			SessionTTL:      millis(v, "session_ttl_ms"),
			RateLimit:       v.GetFloat64("rate_limit"),
			RateBurst:       v.GetInt("rate_burst"),
			JanitorInterval: millis(v, "janitor_interval_ms"),
			AllowOrigins:    splitList(v.GetStringSlice("allow_origins")),
			TrustProxy:      v.GetBool("trust_proxy"),
			LogLevel:        v.GetString("log_level"),
			LogFile:         v.GetString("log_file"),
		},
		Client: ClientConfig{
			BackendURL: strings.TrimRight(v.GetString("backend_base_url"), "/"),
			Paths: api.Paths{
				Health:       v.GetString("health_path"),
				SessionStart: v.GetString("session_start_path"),
				SessionPing:  v.GetString("session_ping_path"),
				ActiveUsers:  v.GetString("active_users_path"),
			},
			HeartbeatInterval: millis(v, "heartbeat_interval_ms"),
			RefreshInterval:   millis(v, "active_count_refresh_ms"),
			PingInterval:      millis(v, "liveness_ping_ms"),
			PopupDelay:        millis(v, "popup_delay_ms"),
			SessionDBPath:     v.GetString("session_db_path"),
			SessionScope:      scope,
			LogLevel:          v.GetString("log_level"),
			LogFile:           v.GetString("log_file"),
		},
	}
}

func millis(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt64(key)) * time.Millisecond
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// DefaultDBPath returns a per-user data path for the server's SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("NOTO_DATA_DIR"); env != "" {
		return filepath.Join(env, "noto.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "noto", "noto.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Noto", "noto.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Noto", "noto.db")
		}
		return filepath.Join(home, ".local", "share", "noto", "noto.db")
	}
	return filepath.Join(".", ".noto", "noto.db")
}
