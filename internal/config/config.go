// Package config builds the immutable runtime configuration from the
// environment and an optional YAML file, resolved file > environment >
// default. The only runtime-mutable setting is the current model, held in a
// separate guarded cell.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultModel        = "grok-4-fast"
	DefaultTavilyURL    = "https://api.tavily.com"
	DefaultFirecrawlURL = "https://api.firecrawl.dev/v1"
)

// Config is the immutable configuration snapshot passed to each component at
// construction.
type Config struct {
	APIURL string `yaml:"api_url"`
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`

	TavilyAPIURL    string `yaml:"tavily_api_url"`
	TavilyAPIKey    string `yaml:"tavily_api_key"`
	FirecrawlAPIURL string `yaml:"firecrawl_api_url"`
	FirecrawlAPIKey string `yaml:"firecrawl_api_key"`

	Debug bool `yaml:"debug"`

	// Retry schedule for upstream calls.
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	RetryMultiplier  float64       `yaml:"retry_multiplier"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RetryMaxWait     time.Duration `yaml:"retry_max_wait"`

	// Session retention.
	SessionTTL         time.Duration `yaml:"session_ttl"`
	MaxSessions        int           `yaml:"max_sessions"`
	MaxSearchesPerSess int           `yaml:"max_searches_per_session"`
	SourceCacheSize    int           `yaml:"source_cache_size"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`

	// Reflection budgets. MaxReflections is additionally hard-capped at 3
	// by the reflection controller regardless of this value.
	MaxReflections     int           `yaml:"max_reflections"`
	SearchTimeout      time.Duration `yaml:"search_timeout"`
	ReflectTimeout     time.Duration `yaml:"reflect_timeout"`
	ReflectTotalBudget time.Duration `yaml:"reflect_total_budget"`

	// Extraction fallback.
	MinExtractChars  int `yaml:"min_extract_chars"`
	SecondaryRetries int `yaml:"secondary_retries"`
}

// Default returns the configuration with every knob at its documented
// default and no credentials.
func Default() Config {
	return Config{
		Model:           DefaultModel,
		TavilyAPIURL:    DefaultTavilyURL,
		FirecrawlAPIURL: DefaultFirecrawlURL,

		RetryMaxAttempts: 3,
		RetryMultiplier:  2,
		RetryBaseDelay:   time.Second,
		RetryMaxWait:     10 * time.Second,

		SessionTTL:         10 * time.Minute,
		MaxSessions:        20,
		MaxSearchesPerSess: 50,
		SourceCacheSize:    256,
		SweepInterval:      time.Minute,

		MaxReflections:     1,
		SearchTimeout:      60 * time.Second,
		ReflectTimeout:     30 * time.Second,
		ReflectTotalBudget: 120 * time.Second,

		MinExtractChars:  1,
		SecondaryRetries: 1,
	}
}

// FromEnv overlays environment variables on the defaults.
func FromEnv() Config {
	cfg := Default()

	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("GROK_API_URL", &cfg.APIURL)
	str("GROK_API_KEY", &cfg.APIKey)
	str("GROK_MODEL", &cfg.Model)
	str("TAVILY_API_URL", &cfg.TavilyAPIURL)
	str("TAVILY_API_KEY", &cfg.TavilyAPIKey)
	str("FIRECRAWL_API_URL", &cfg.FirecrawlAPIURL)
	str("FIRECRAWL_API_KEY", &cfg.FirecrawlAPIKey)

	if v := os.Getenv("GROK_DEBUG"); v != "" {
		cfg.Debug = v == "true" || v == "1" || v == "yes"
	}

	intVar := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	intVar("GROK_RETRY_MAX_ATTEMPTS", &cfg.RetryMaxAttempts)
	intVar("GROK_MAX_SESSIONS", &cfg.MaxSessions)
	intVar("GROK_MAX_SEARCHES", &cfg.MaxSearchesPerSess)
	intVar("GROK_MAX_REFLECTIONS", &cfg.MaxReflections)

	if v := os.Getenv("GROK_RETRY_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RetryMultiplier = f
		}
	}
	secsVar := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = time.Duration(n) * time.Second
			}
		}
	}
	secsVar("GROK_RETRY_MAX_WAIT", &cfg.RetryMaxWait)
	secsVar("GROK_SESSION_TIMEOUT", &cfg.SessionTTL)

	return cfg
}

// Load reads a YAML config file over the environment-derived configuration.
// A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := FromEnv()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultPath is the conventional config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "groksearch", "config.yaml")
}

// DataDir is where the settings database lives.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".groksearch"
	}
	return filepath.Join(home, ".groksearch")
}

// MaskKey hides all but the first and last four characters of a credential.
func MaskKey(key string) string {
	if len(key) <= 8 {
		if key == "" {
			return ""
		}
		return "***"
	}
	masked := make([]byte, 0, len(key))
	masked = append(masked, key[:4]...)
	for i := 0; i < len(key)-8; i++ {
		masked = append(masked, '*')
	}
	masked = append(masked, key[len(key)-4:]...)
	return string(masked)
}
