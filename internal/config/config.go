// Package config defines process configuration and its loading.
//
// Conventions:
// - Every key has a default in New; files and env only override.
// - Keys are flat snake_case; per-provider maps are keyed by provider id.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"time"
)

// Default batch size for providers missing from BatchSizes.
const defaultBatchSize = 50

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the HTTP listen address of serve, e.g. ":9080".
	Addr string `koanf:"addr" validate:"required"`

	// StorePath is the badger directory. Ignored when StoreInMemory is set.
	StorePath     string `koanf:"store_path" validate:"required_without=StoreInMemory"`
	StoreInMemory bool   `koanf:"store_in_memory"`

	// Timezone decides which calendar day "yesterday" is.
	Timezone string `koanf:"timezone" validate:"required"`

	// WorkerCount sets the number of concurrent fetch workers per collection.
	WorkerCount int `koanf:"worker_count" validate:"min=1"`

	// InvocationTimeoutSec bounds a single collect, aggregate or rank run.
	InvocationTimeoutSec int `koanf:"invocation_timeout_sec" validate:"min=1"`

	// BatchSizes caps how many not-yet-merged entities one invocation
	// fetches, per provider.
	BatchSizes map[string]int `koanf:"batch_sizes" validate:"dive,keys,oneof=google bing github stackoverflow,endkeys,min=0"`

	// ScoreWeights weighs each provider sub-score in the composed total.
	ScoreWeights map[string]float64 `koanf:"score_weights" validate:"dive,keys,oneof=google bing github stackoverflow,endkeys,gte=0"`

	// UIScale scales normalized sub-scores for display.
	UIScale float64 `koanf:"ui_scale" validate:"gt=0"`

	// Provider transport settings shared by every provider.
	ProviderMinIntervalMS int `koanf:"provider_min_interval_ms" validate:"min=0"`
	ProviderMaxInFlight   int `koanf:"provider_max_in_flight" validate:"min=1"`
	ProviderMaxRetries    int `koanf:"provider_max_retries" validate:"min=0"`
	ProviderBackoffMS     int `koanf:"provider_backoff_ms" validate:"min=1"`
	ProviderTimeoutMS     int `koanf:"provider_timeout_ms" validate:"min=1"`

	// Provider credentials and endpoints. Empty base URLs use the public APIs.
	GoogleAPIKey         string `koanf:"google_api_key"`
	GoogleCX             string `koanf:"google_cx"`
	GoogleBaseURL        string `koanf:"google_base_url" validate:"omitempty,url"`
	BingBaseURL          string `koanf:"bing_base_url" validate:"omitempty,url"`
	GitHubToken          string `koanf:"github_token"`
	GitHubBaseURL        string `koanf:"github_base_url" validate:"omitempty,url"`
	StackExchangeKey     string `koanf:"stackexchange_key"`
	StackExchangeBaseURL string `koanf:"stackexchange_base_url" validate:"omitempty,url"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit" validate:"min=1"`
}

// New returns a Config holding every default.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		Addr:                 ":9080",
		StorePath:            "data/popscore",
		Timezone:             "UTC",
		WorkerCount:          4,
		InvocationTimeoutSec: 900,
		BatchSizes: map[string]int{
			"google":        100,
			"bing":          50,
			"github":        30,
			"stackoverflow": 100,
		},
		ScoreWeights: map[string]float64{
			"google":        0.25,
			"bing":          0.25,
			"github":        0.25,
			"stackoverflow": 0.25,
		},
		UIScale:               10,
		ProviderMinIntervalMS: 200,
		ProviderMaxInFlight:   4,
		ProviderMaxRetries:    3,
		ProviderBackoffMS:     500,
		ProviderTimeoutMS:     15_000,
		MaxLeaderboardLimit:   100,
	}
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %w", ErrInvalidConfig, c.Timezone, err)
	}
	return loc, nil
}

// BatchSize returns the batch size of a provider.
func (c *Config) BatchSize(provider string) int {
	if n, ok := c.BatchSizes[provider]; ok {
		return n
	}
	return defaultBatchSize
}

// InvocationTimeout returns the per-invocation deadline.
func (c *Config) InvocationTimeout() time.Duration {
	return time.Duration(c.InvocationTimeoutSec) * time.Second
}

// Millis converts a millisecond setting to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
