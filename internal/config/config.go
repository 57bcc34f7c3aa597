package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds everything the server reads from the environment.
type Config struct {
	Port        string
	Environment string
	LogLevel    string
	LogFile     string

	DBDriver         string
	DatabaseURL      string
	DBConnectTimeout time.Duration
	NotifyChannel    string

	LLMAPIKey    string
	LLMBaseURL   string
	LLMModel     string
	LLMMaxTokens int
	LLMTimeout   time.Duration

	TranscribeBaseURL string
	TranscribeAPIKey  string
	TranscribeModel   string
	TranscribeTimeout time.Duration

	AudioTempDir   string
	MaxUploadBytes int64

	AgentRosterPath string

	TelemetryEnabled bool
	TelemetryDir     string
}

// Load reads a .env file when one exists and then builds a Config from the
// process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config using lookup to resolve variables.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(k, def string) string {
		if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}
	var errs []string
	dur := func(k string, def time.Duration) time.Duration {
		v := get(k, "")
		if v == "" {
			return def
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Sprintf("%s: invalid duration %q", k, v))
			return def
		}
		return d
	}
	num := func(k string, def int64) int64 {
		v := get(k, "")
		if v == "" {
			return def
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Sprintf("%s: invalid positive integer %q", k, v))
			return def
		}
		return n
	}
	flag := func(k string) bool {
		v := get(k, "")
		if v == "" {
			return false
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid boolean %q", k, v))
		}
		return b
	}

	cfg := Config{
		Port:        get("PORT", "8000"),
		Environment: get("ENVIRONMENT", "local"),
		LogLevel:    get("LOG_LEVEL", "info"),
		LogFile:     get("LOG_FILE", ""),

		DBDriver:         get("DB_DRIVER", DriverSQLite),
		DatabaseURL:      get("DATABASE_URL", ""),
		DBConnectTimeout: dur("DB_CONNECT_TIMEOUT", 30*time.Second),
		NotifyChannel:    get("NOTIFY_CHANNEL", "session_events"),

		LLMAPIKey:    get("LLM_API_KEY", get("OPENAI_API_KEY", "")),
		LLMBaseURL:   get("LLM_BASE_URL", ""),
		LLMModel:     get("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens: int(num("LLM_MAX_TOKENS", 300)),
		LLMTimeout:   dur("LLM_TIMEOUT", 60*time.Second),

		TranscribeBaseURL: get("TRANSCRIBE_BASE_URL", "http://localhost:9000/v1"),
		TranscribeAPIKey:  get("TRANSCRIBE_API_KEY", ""),
		TranscribeModel:   get("TRANSCRIBE_MODEL", "whisper-1"),
		TranscribeTimeout: dur("TRANSCRIBE_TIMEOUT", 120*time.Second),

		AudioTempDir:   get("AUDIO_TEMP_DIR", os.TempDir()),
		MaxUploadBytes: num("MAX_UPLOAD_BYTES", 25<<20),

		AgentRosterPath: get("AGENT_ROSTER_PATH", ""),

		TelemetryEnabled: flag("TELEMETRY_ENABLED"),
		TelemetryDir:     get("TELEMETRY_DIR", "logs"),
	}

	switch cfg.DBDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL must be set when DB_DRIVER=postgres")
		}
	case DriverSQLite:
		if cfg.DatabaseURL == "" {
			cfg.DatabaseURL = "file:emergency_call.db?_busy_timeout=5000"
		}
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER: unsupported driver %q", cfg.DBDriver))
	}

	if len(errs) > 0 {
		return cfg, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string { return ":" + c.Port }
