package tts

import (
	"fmt"
	"time"
)

// Configuration contains all dispatch configuration options. A value is
// treated as an immutable snapshot once handed to the dispatcher.
//
// Env tags carry no envDefault: environment variables only override what
// the defaults and the config file already set.
type Configuration struct {
	Type                   string `yaml:"type" mapstructure:"type" env:"TYPE"`
	TimeoutSeconds         int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds" env:"TIMEOUT_SECONDS"`
	EnableLogging          bool   `yaml:"enable_logging" mapstructure:"enable_logging" env:"ENABLE_LOGGING"`
	MaxRetryCount          int    `yaml:"max_retry_count" mapstructure:"max_retry_count" env:"MAX_RETRY_COUNT"`
	RetryDelayMs           int    `yaml:"retry_delay_ms" mapstructure:"retry_delay_ms" env:"RETRY_DELAY_MS"`
	UseBackoff             bool   `yaml:"use_backoff" mapstructure:"use_backoff" env:"USE_BACKOFF"`
	EnableCaching          bool   `yaml:"enable_caching" mapstructure:"enable_caching" env:"ENABLE_CACHING"`
	CacheExpirationMinutes int    `yaml:"cache_expiration_minutes" mapstructure:"cache_expiration_minutes" env:"CACHE_EXPIRATION_MINUTES"`
	// MaxConcurrent bounds in-flight adapter calls. Zero selects a
	// per-backend default.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent" env:"MAX_CONCURRENT"`

	Builtin  BuiltinConfig  `yaml:"builtin" mapstructure:"builtin" envPrefix:"BUILTIN_"`
	External ExternalConfig `yaml:"external" mapstructure:"external" envPrefix:"EXTERNAL_"`
	Log      LogConfig      `yaml:"log" mapstructure:"log" envPrefix:"LOG_"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache" envPrefix:"CACHE_"`
}

// BuiltinConfig contains local Piper renderer settings.
type BuiltinConfig struct {
	Binary string  `yaml:"binary" mapstructure:"binary" env:"BINARY"`
	Model  string  `yaml:"model" mapstructure:"model" env:"MODEL"`
	Voice  string  `yaml:"voice" mapstructure:"voice" env:"VOICE"`
	Speed  float64 `yaml:"speed" mapstructure:"speed" env:"SPEED"`
	Pitch  float64 `yaml:"pitch" mapstructure:"pitch" env:"PITCH"`
	Volume float64 `yaml:"volume" mapstructure:"volume" env:"VOLUME"`
}

// ExternalConfig contains vendor speech API settings.
type ExternalConfig struct {
	BaseURL           string `yaml:"base_url" mapstructure:"base_url" env:"BASE_URL"`
	APIKey            string `yaml:"api_key" mapstructure:"api_key" env:"API_KEY"`
	Model             string `yaml:"model" mapstructure:"model" env:"MODEL"`
	Voice             string `yaml:"voice" mapstructure:"voice" env:"VOICE"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
}

// LogConfig controls the event log.
type LogConfig struct {
	// Dir holds the daily JSONL files. Empty disables persistence.
	Dir           string `yaml:"dir" mapstructure:"dir" env:"DIR"`
	RetentionDays int    `yaml:"retention_days" mapstructure:"retention_days" env:"RETENTION_DAYS"`
	MaxEntries    int    `yaml:"max_entries" mapstructure:"max_entries" env:"MAX_ENTRIES"`
}

// CacheConfig controls the rendered audio cache.
type CacheConfig struct {
	Dir         string `yaml:"dir" mapstructure:"dir" env:"DIR"`
	MemoryItems int    `yaml:"memory_items" mapstructure:"memory_items" env:"MEMORY_ITEMS"`
	MaxSizeMB   int    `yaml:"max_size_mb" mapstructure:"max_size_mb" env:"MAX_SIZE_MB"`
	// RedisAddr selects a shared Redis tier instead of the disk tier.
	RedisAddr string `yaml:"redis_addr" mapstructure:"redis_addr" env:"REDIS_ADDR"`
}

// DefaultConfiguration returns a Configuration with sensible defaults.
func DefaultConfiguration() Configuration {
	return Configuration{
		Type:                   string(BackendBuiltin),
		TimeoutSeconds:         DefaultTimeoutMs / 1000,
		EnableLogging:          true,
		MaxRetryCount:          DefaultMaxRetries,
		RetryDelayMs:           1000,
		UseBackoff:             true,
		EnableCaching:          false,
		CacheExpirationMinutes: 60,
		Builtin: BuiltinConfig{
			Binary: "piper",
			Model:  "en_US-lessac-medium",
			Speed:  1.0,
			Volume: 1.0,
		},
		External: ExternalConfig{
			BaseURL:           "https://api.openai.com/v1",
			Model:             "tts-1",
			Voice:             "alloy",
			RequestsPerMinute: 50,
		},
		Log: LogConfig{
			RetentionDays: 7,
			MaxEntries:    10000,
		},
		Cache: CacheConfig{
			MemoryItems: 100,
			MaxSizeMB:   100,
		},
	}
}

// Validate checks if the configuration is valid.
func (c Configuration) Validate() error {
	if _, err := ParseBackendType(c.Type); err != nil {
		return err
	}
	if c.TimeoutSeconds < 1 || c.TimeoutSeconds > 600 {
		return fmt.Errorf("timeout_seconds must be between 1 and 600, got %d", c.TimeoutSeconds)
	}
	if c.MaxRetryCount < 0 || c.MaxRetryCount > 10 {
		return fmt.Errorf("max_retry_count must be between 0 and 10, got %d", c.MaxRetryCount)
	}
	if c.RetryDelayMs < 0 || c.RetryDelayMs > 30000 {
		return fmt.Errorf("retry_delay_ms must be between 0 and 30000, got %d", c.RetryDelayMs)
	}
	if c.CacheExpirationMinutes < 0 {
		return fmt.Errorf("cache_expiration_minutes must not be negative, got %d", c.CacheExpirationMinutes)
	}
	if c.MaxConcurrent < 0 || c.MaxConcurrent > 64 {
		return fmt.Errorf("max_concurrent must be between 0 and 64, got %d", c.MaxConcurrent)
	}
	if err := c.Builtin.Validate(); err != nil {
		return fmt.Errorf("builtin: %w", err)
	}
	if err := c.External.Validate(); err != nil {
		return fmt.Errorf("external: %w", err)
	}
	if c.Log.RetentionDays < 0 {
		return fmt.Errorf("log.retention_days must not be negative, got %d", c.Log.RetentionDays)
	}
	if c.Log.MaxEntries < 0 {
		return fmt.Errorf("log.max_entries must not be negative, got %d", c.Log.MaxEntries)
	}
	if c.Cache.MemoryItems < 0 || c.Cache.MaxSizeMB < 0 {
		return fmt.Errorf("cache sizes must not be negative")
	}
	return nil
}

// Validate checks the builtin renderer settings.
func (c BuiltinConfig) Validate() error {
	if c.Binary == "" {
		return fmt.Errorf("binary must be set")
	}
	if !inRange(c.Speed, MinSpeed, MaxSpeed) {
		return fmt.Errorf("speed must be between %.1f and %.1f, got %.2f", MinSpeed, MaxSpeed, c.Speed)
	}
	if !inRange(c.Pitch, MinPitch, MaxPitch) {
		return fmt.Errorf("pitch must be between %.0f and %.0f, got %.2f", MinPitch, MaxPitch, c.Pitch)
	}
	if !inRange(c.Volume, MinVolume, MaxVolume) {
		return fmt.Errorf("volume must be between %.1f and %.1f, got %.2f", MinVolume, MaxVolume, c.Volume)
	}
	return nil
}

// Validate checks the vendor settings. A missing API key is not an error
// here: the adapter reports itself unavailable instead.
func (c ExternalConfig) Validate() error {
	if c.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must not be negative, got %d", c.RequestsPerMinute)
	}
	return nil
}

// Backend returns the parsed backend type. Call Validate first.
func (c Configuration) Backend() BackendType {
	b, _ := ParseBackendType(c.Type)
	return b
}

// Timeout returns the default per-request budget.
func (c Configuration) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RequestSettings returns the settings new requests start from. The
// budget follows TimeoutSeconds, and the builtin renderer's voice, speed,
// pitch and volume apply when it is the selected backend.
func (c Configuration) RequestSettings() Settings {
	s := DefaultSettings()
	s.TimeoutMs = c.TimeoutSeconds * 1000
	if c.Backend() == BackendBuiltin {
		s.Voice = c.Builtin.Voice
		s.Speed = c.Builtin.Speed
		s.Pitch = c.Builtin.Pitch
		s.Volume = c.Builtin.Volume
	}
	return s
}

// RetryDelay returns the base retry delay.
func (c Configuration) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// CacheTTL returns how long rendered audio stays cached.
func (c Configuration) CacheTTL() time.Duration {
	return time.Duration(c.CacheExpirationMinutes) * time.Minute
}
