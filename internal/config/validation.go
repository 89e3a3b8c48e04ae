package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// API key is required for all AI operations. Genkit reads it directly
	// from the environment; we only check its presence here (fail-fast).
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity)
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.MaxTokens < 1 || c.MaxTokens > 2097152 {
		return fmt.Errorf("%w: must be between 1 and 2,097,152, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// PostgreSQL configuration
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "gurag_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	// Modern SSL modes only. 'allow' and 'prefer' are deprecated (MITM vulnerable).
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// Semantic cache configuration
	if c.Cache.Threshold < 0.0 || c.Cache.Threshold > 1.0 {
		return fmt.Errorf("%w: must be between 0.0 and 1.0, got %.4f",
			ErrInvalidCacheThreshold, c.Cache.Threshold)
	}

	if c.Cache.TTLHours < 1 || c.Cache.TTLHours > 24*365 {
		return fmt.Errorf("%w: ttl_hours must be between 1 and 8760, got %d",
			ErrInvalidCacheTTL, c.Cache.TTLHours)
	}

	if err := c.Learning.validate(); err != nil {
		return err
	}

	// Live-source configuration
	if !strings.HasPrefix(c.Live.ArxivBaseURL, "http://") && !strings.HasPrefix(c.Live.ArxivBaseURL, "https://") {
		return fmt.Errorf("%w: arxiv_base_url %q", ErrInvalidLiveSourceURL, c.Live.ArxivBaseURL)
	}
	if !strings.HasPrefix(c.Live.HuggingFaceBaseURL, "http://") && !strings.HasPrefix(c.Live.HuggingFaceBaseURL, "https://") {
		return fmt.Errorf("%w: huggingface_base_url %q", ErrInvalidLiveSourceURL, c.Live.HuggingFaceBaseURL)
	}
	if c.Live.TimeoutSeconds < 1 || c.Live.TimeoutSeconds > 300 {
		return fmt.Errorf("%w: live.timeout_seconds must be between 1 and 300, got %d",
			ErrInvalidLearningParam, c.Live.TimeoutSeconds)
	}

	// Server configuration
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr cannot be empty", ErrInvalidListenAddr)
	}

	return nil
}

// validate checks the learning cycle parameters.
func (l *LearningConfig) validate() error {
	checks := []struct {
		name     string
		value    int
		min, max int
	}{
		{"interval_hours", l.IntervalHours, 0, 24 * 30},
		{"pre_warm_days", l.PreWarmDays, 1, 365},
		{"pre_warm_min_count", l.PreWarmMinCount, 1, 1000},
		{"pre_warm_limit", l.PreWarmLimit, 1, 500},
		{"improve_days", l.ImproveDays, 1, 365},
		{"improve_min_negative", l.ImproveMinNegative, 1, 1000},
		{"cleanup_max_age_days", l.CleanupMaxAgeDays, 1, 365},
		{"cleanup_min_hit_count", l.CleanupMinHitCount, 0, 1_000_000},
		{"extend_positive_threshold", l.ExtendPositiveThreshold, 1, 1000},
		{"extend_days", l.ExtendDays, 1, 365},
	}
	for _, c := range checks {
		if c.value < c.min || c.value > c.max {
			return fmt.Errorf("%w: learning.%s must be between %d and %d, got %d",
				ErrInvalidLearningParam, c.name, c.min, c.max, c.value)
		}
	}
	return nil
}
