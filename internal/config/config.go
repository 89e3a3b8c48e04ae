// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.gurag/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: generation model, temperature, max tokens, embedder model
//   - Storage: PostgreSQL connection (see storage.go)
//   - Cache: semantic cache toggle, similarity threshold, TTL
//   - Learning: maintenance cycle phase parameters and scheduler interval
//   - Live sources: arXiv / HuggingFace endpoints and timeouts
//   - Server: listen address, CORS origins
//   - Observability: OTLP trace exporter (see observability.go)
//
// Security: sensitive values (passwords) are masked in MarshalJSON.
// Validation: range checks in validation.go with sentinel errors for errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidCacheThreshold indicates the semantic cache similarity threshold is out of range.
	ErrInvalidCacheThreshold = errors.New("invalid cache similarity threshold")

	// ErrInvalidCacheTTL indicates the cache TTL is out of range.
	ErrInvalidCacheTTL = errors.New("invalid cache TTL")

	// ErrInvalidLearningParam indicates a learning cycle parameter is out of range.
	ErrInvalidLearningParam = errors.New("invalid learning parameter")

	// ErrInvalidListenAddr indicates the server listen address is invalid.
	ErrInvalidListenAddr = errors.New("invalid listen address")

	// ErrInvalidLiveSourceURL indicates a live-source base URL is invalid.
	ErrInvalidLiveSourceURL = errors.New("invalid live-source URL")
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default, but supports
	// truncation to 768 via OutputDimensionality. Our pgvector schema uses
	// 768 dimensions; see llm.VectorDimension.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultModelName is the default generation model.
	DefaultModelName = "gemini-2.5-flash"
)

// CacheConfig holds semantic cache settings.
type CacheConfig struct {
	// Enabled toggles semantic (vector) matching. When false, lookups use
	// exact digest matching only.
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// Threshold is the minimum cosine similarity for a semantic hit.
	Threshold float64 `mapstructure:"threshold" json:"threshold"`

	// TTLHours is the lifetime of a freshly stored cache entry.
	TTLHours int `mapstructure:"ttl_hours" json:"ttl_hours"`
}

// TTL returns the entry lifetime as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// LearningConfig holds self-learning cycle parameters.
type LearningConfig struct {
	// IntervalHours is the scheduler tick interval. 0 disables the scheduler.
	IntervalHours int `mapstructure:"interval_hours" json:"interval_hours"`

	PreWarmDays     int `mapstructure:"pre_warm_days" json:"pre_warm_days"`
	PreWarmMinCount int `mapstructure:"pre_warm_min_count" json:"pre_warm_min_count"`
	PreWarmLimit    int `mapstructure:"pre_warm_limit" json:"pre_warm_limit"`

	ImproveDays        int `mapstructure:"improve_days" json:"improve_days"`
	ImproveMinNegative int `mapstructure:"improve_min_negative" json:"improve_min_negative"`

	CleanupMaxAgeDays  int `mapstructure:"cleanup_max_age_days" json:"cleanup_max_age_days"`
	CleanupMinHitCount int `mapstructure:"cleanup_min_hit_count" json:"cleanup_min_hit_count"`

	ExtendPositiveThreshold int `mapstructure:"extend_positive_threshold" json:"extend_positive_threshold"`
	ExtendDays              int `mapstructure:"extend_days" json:"extend_days"`
}

// Interval returns the scheduler tick interval as a duration.
func (l LearningConfig) Interval() time.Duration {
	return time.Duration(l.IntervalHours) * time.Hour
}

// LiveConfig holds live-source client settings.
type LiveConfig struct {
	ArxivBaseURL       string `mapstructure:"arxiv_base_url" json:"arxiv_base_url"`
	HuggingFaceBaseURL string `mapstructure:"huggingface_base_url" json:"huggingface_base_url"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds" json:"timeout_seconds"`
}

// Timeout returns the per-request timeout as a duration.
func (l LiveConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// SlogLevel maps the configured log level name to a slog.Level.
// Unknown values fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// AI model configuration
	ModelName     string  `mapstructure:"model_name" json:"model_name"`
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens" json:"max_tokens"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Semantic cache configuration
	Cache CacheConfig `mapstructure:"semantic_cache" json:"semantic_cache"`

	// Self-learning cycle configuration
	Learning LearningConfig `mapstructure:"learning" json:"learning"`

	// Live-source client configuration
	Live LiveConfig `mapstructure:"live" json:"live"`

	// Server configuration
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`

	// Observability configuration (see observability.go)
	OTLP OTLPConfig `mapstructure:"otlp" json:"otlp"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".gurag")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when set.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("model_name", DefaultModelName)
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 2048)
	viper.SetDefault("embedder_model", DefaultEmbedderModel)

	// PostgreSQL defaults
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "gurag")
	viper.SetDefault("postgres_password", "gurag_dev_password")
	viper.SetDefault("postgres_db_name", "gurag")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Semantic cache defaults
	viper.SetDefault("semantic_cache.enabled", true)
	viper.SetDefault("semantic_cache.threshold", 0.92)
	viper.SetDefault("semantic_cache.ttl_hours", 24)

	// Learning cycle defaults
	viper.SetDefault("learning.interval_hours", 6)
	viper.SetDefault("learning.pre_warm_days", 7)
	viper.SetDefault("learning.pre_warm_min_count", 3)
	viper.SetDefault("learning.pre_warm_limit", 20)
	viper.SetDefault("learning.improve_days", 7)
	viper.SetDefault("learning.improve_min_negative", 2)
	viper.SetDefault("learning.cleanup_max_age_days", 30)
	viper.SetDefault("learning.cleanup_min_hit_count", 0)
	viper.SetDefault("learning.extend_positive_threshold", 3)
	viper.SetDefault("learning.extend_days", 7)

	// Live-source defaults
	viper.SetDefault("live.arxiv_base_url", "https://export.arxiv.org/api/query")
	viper.SetDefault("live.huggingface_base_url", "https://huggingface.co/api")
	viper.SetDefault("live.timeout_seconds", 30)

	// Server defaults
	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("cors_origins", []string{"http://localhost:3000"})

	// Logging defaults
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)

	// OTLP defaults
	viper.SetDefault("otlp.endpoint", "")
	viper.SetDefault("otlp.environment", "dev")
	viper.SetDefault("otlp.service_name", "gurag")
}

// bindEnvVariables binds environment variable overrides explicitly.
//
// GEMINI_API_KEY is read directly by Genkit (not via Viper); its presence
// is checked in cfg.Validate().
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("model_name", "GURAG_MODEL_NAME")
	mustBind("listen_addr", "GURAG_LISTEN_ADDR")
	mustBind("cors_origins", "GURAG_CORS_ORIGINS")
	mustBind("semantic_cache.enabled", "GURAG_SEMANTIC_CACHE_ENABLED")
	mustBind("semantic_cache.threshold", "GURAG_SEMANTIC_CACHE_THRESHOLD")
	mustBind("semantic_cache.ttl_hours", "GURAG_CACHE_TTL_HOURS")
	mustBind("learning.interval_hours", "GURAG_LEARNING_INTERVAL_HOURS")
	mustBind("live.arxiv_base_url", "GURAG_ARXIV_BASE_URL")
	mustBind("live.huggingface_base_url", "GURAG_HUGGINGFACE_BASE_URL")
	mustBind("otlp.endpoint", "GURAG_OTLP_ENDPOINT")
	mustBind("log_level", "GURAG_LOG_LEVEL")
	mustBind("log_json", "GURAG_LOG_JSON")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid substring matching against real secret characters.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked to prevent substring
// leaks; longer secrets keep the first and last 2 characters for debugging.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
