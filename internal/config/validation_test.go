package config

import (
	"errors"
	"testing"
)

// validConfig returns a configuration that passes Validate with
// GEMINI_API_KEY set in the environment.
func validConfig() *Config {
	return &Config{
		ModelName:        "gemini-2.5-flash",
		Temperature:      0.7,
		MaxTokens:        2048,
		EmbedderModel:    DefaultEmbedderModel,
		PostgresHost:     "localhost",
		PostgresPort:     5432,
		PostgresUser:     "gurag",
		PostgresPassword: "strong_password",
		PostgresDBName:   "gurag",
		PostgresSSLMode:  "disable",
		Cache: CacheConfig{
			Enabled:   true,
			Threshold: 0.92,
			TTLHours:  24,
		},
		Learning: LearningConfig{
			IntervalHours:           6,
			PreWarmDays:             7,
			PreWarmMinCount:         3,
			PreWarmLimit:            20,
			ImproveDays:             7,
			ImproveMinNegative:      2,
			CleanupMaxAgeDays:       30,
			CleanupMinHitCount:      0,
			ExtendPositiveThreshold: 3,
			ExtendDays:              7,
		},
		Live: LiveConfig{
			ArxivBaseURL:       "https://export.arxiv.org/api/query",
			HuggingFaceBaseURL: "https://huggingface.co/api",
			TimeoutSeconds:     30,
		},
		ListenAddr: ":8080",
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid config", func(*Config) {}, nil},
		{"empty model name", func(c *Config) { c.ModelName = "" }, ErrInvalidModelName},
		{"temperature too high", func(c *Config) { c.Temperature = 2.5 }, ErrInvalidTemperature},
		{"temperature negative", func(c *Config) { c.Temperature = -0.1 }, ErrInvalidTemperature},
		{"max tokens zero", func(c *Config) { c.MaxTokens = 0 }, ErrInvalidMaxTokens},
		{"empty embedder model", func(c *Config) { c.EmbedderModel = "" }, ErrInvalidEmbedderModel},
		{"empty postgres host", func(c *Config) { c.PostgresHost = "" }, ErrInvalidPostgresHost},
		{"postgres port out of range", func(c *Config) { c.PostgresPort = 70000 }, ErrInvalidPostgresPort},
		{"empty db name", func(c *Config) { c.PostgresDBName = "" }, ErrInvalidPostgresDBName},
		{"deprecated ssl mode", func(c *Config) { c.PostgresSSLMode = "prefer" }, ErrInvalidPostgresSSLMode},
		{"threshold above 1", func(c *Config) { c.Cache.Threshold = 1.5 }, ErrInvalidCacheThreshold},
		{"threshold negative", func(c *Config) { c.Cache.Threshold = -0.1 }, ErrInvalidCacheThreshold},
		{"ttl zero", func(c *Config) { c.Cache.TTLHours = 0 }, ErrInvalidCacheTTL},
		{"pre-warm days zero", func(c *Config) { c.Learning.PreWarmDays = 0 }, ErrInvalidLearningParam},
		{"negative min hit count", func(c *Config) { c.Learning.CleanupMinHitCount = -1 }, ErrInvalidLearningParam},
		{"bad arxiv url", func(c *Config) { c.Live.ArxivBaseURL = "ftp://example.com" }, ErrInvalidLiveSourceURL},
		{"empty listen addr", func(c *Config) { c.ListenAddr = "" }, ErrInvalidListenAddr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want errors.Is(%v)", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_MissingAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	err := validConfig().Validate()
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("Validate() = %v, want ErrMissingAPIKey", err)
	}
}

func TestValidate_NilConfig(t *testing.T) {
	var cfg *Config
	if err := cfg.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Errorf("Validate() on nil = %v, want ErrConfigNil", err)
	}
}
