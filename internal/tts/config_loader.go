package tts

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VPET_TTS_"

// LoadConfigurationFromViper loads configuration from the "tts" section of v,
// applies environment overrides and validates the result.
func LoadConfigurationFromViper(v *viper.Viper) (Configuration, error) {
	cfg := DefaultConfiguration()

	if v.IsSet("tts.type") {
		cfg.Type = v.GetString("tts.type")
	}
	if v.IsSet("tts.timeout_seconds") {
		cfg.TimeoutSeconds = v.GetInt("tts.timeout_seconds")
	}
	if v.IsSet("tts.enable_logging") {
		cfg.EnableLogging = v.GetBool("tts.enable_logging")
	}
	if v.IsSet("tts.max_retry_count") {
		cfg.MaxRetryCount = v.GetInt("tts.max_retry_count")
	}
	if v.IsSet("tts.retry_delay_ms") {
		cfg.RetryDelayMs = v.GetInt("tts.retry_delay_ms")
	}
	if v.IsSet("tts.use_backoff") {
		cfg.UseBackoff = v.GetBool("tts.use_backoff")
	}
	if v.IsSet("tts.enable_caching") {
		cfg.EnableCaching = v.GetBool("tts.enable_caching")
	}
	if v.IsSet("tts.cache_expiration_minutes") {
		cfg.CacheExpirationMinutes = v.GetInt("tts.cache_expiration_minutes")
	}
	if v.IsSet("tts.max_concurrent") {
		cfg.MaxConcurrent = v.GetInt("tts.max_concurrent")
	}

	cfg.Builtin = loadBuiltinConfig(v, cfg.Builtin)
	cfg.External = loadExternalConfig(v, cfg.External)

	if v.IsSet("tts.log.dir") {
		cfg.Log.Dir = v.GetString("tts.log.dir")
	}
	if v.IsSet("tts.log.retention_days") {
		cfg.Log.RetentionDays = v.GetInt("tts.log.retention_days")
	}
	if v.IsSet("tts.log.max_entries") {
		cfg.Log.MaxEntries = v.GetInt("tts.log.max_entries")
	}

	if v.IsSet("tts.cache.dir") {
		cfg.Cache.Dir = v.GetString("tts.cache.dir")
	}
	if v.IsSet("tts.cache.memory_items") {
		cfg.Cache.MemoryItems = v.GetInt("tts.cache.memory_items")
	}
	if v.IsSet("tts.cache.max_size_mb") {
		cfg.Cache.MaxSizeMB = v.GetInt("tts.cache.max_size_mb")
	}
	if v.IsSet("tts.cache.redis_addr") {
		cfg.Cache.RedisAddr = v.GetString("tts.cache.redis_addr")
	}

	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}

	if err := expandPaths(&cfg); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid TTS configuration: %w", err)
	}

	return cfg, nil
}

func loadBuiltinConfig(v *viper.Viper, cfg BuiltinConfig) BuiltinConfig {
	if v.IsSet("tts.builtin.binary") {
		cfg.Binary = v.GetString("tts.builtin.binary")
	}
	if v.IsSet("tts.builtin.model") {
		cfg.Model = v.GetString("tts.builtin.model")
	}
	if v.IsSet("tts.builtin.voice") {
		cfg.Voice = v.GetString("tts.builtin.voice")
	}
	if v.IsSet("tts.builtin.speed") {
		cfg.Speed = v.GetFloat64("tts.builtin.speed")
	}
	if v.IsSet("tts.builtin.pitch") {
		cfg.Pitch = v.GetFloat64("tts.builtin.pitch")
	}
	if v.IsSet("tts.builtin.volume") {
		cfg.Volume = v.GetFloat64("tts.builtin.volume")
	}
	return cfg
}

func loadExternalConfig(v *viper.Viper, cfg ExternalConfig) ExternalConfig {
	if v.IsSet("tts.external.base_url") {
		cfg.BaseURL = v.GetString("tts.external.base_url")
	}
	if v.IsSet("tts.external.api_key") {
		cfg.APIKey = v.GetString("tts.external.api_key")
	}
	if v.IsSet("tts.external.model") {
		cfg.Model = v.GetString("tts.external.model")
	}
	if v.IsSet("tts.external.voice") {
		cfg.Voice = v.GetString("tts.external.voice")
	}
	if v.IsSet("tts.external.requests_per_minute") {
		cfg.RequestsPerMinute = v.GetInt("tts.external.requests_per_minute")
	}
	return cfg
}

// ApplyEnv overrides cfg from VPET_TTS_* environment variables.
func ApplyEnv(cfg *Configuration) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("error parsing environment: %w", err)
	}
	return nil
}

func expandPaths(cfg *Configuration) error {
	for _, p := range []*string{&cfg.Builtin.Model, &cfg.Log.Dir, &cfg.Cache.Dir} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("unable to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// SetDefaults registers the default configuration with v.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfiguration()

	v.SetDefault("tts.type", d.Type)
	v.SetDefault("tts.timeout_seconds", d.TimeoutSeconds)
	v.SetDefault("tts.enable_logging", d.EnableLogging)
	v.SetDefault("tts.max_retry_count", d.MaxRetryCount)
	v.SetDefault("tts.retry_delay_ms", d.RetryDelayMs)
	v.SetDefault("tts.use_backoff", d.UseBackoff)
	v.SetDefault("tts.enable_caching", d.EnableCaching)
	v.SetDefault("tts.cache_expiration_minutes", d.CacheExpirationMinutes)
	v.SetDefault("tts.max_concurrent", d.MaxConcurrent)

	v.SetDefault("tts.builtin.binary", d.Builtin.Binary)
	v.SetDefault("tts.builtin.model", d.Builtin.Model)
	v.SetDefault("tts.builtin.speed", d.Builtin.Speed)
	v.SetDefault("tts.builtin.volume", d.Builtin.Volume)

	v.SetDefault("tts.external.base_url", d.External.BaseURL)
	v.SetDefault("tts.external.model", d.External.Model)
	v.SetDefault("tts.external.voice", d.External.Voice)
	v.SetDefault("tts.external.requests_per_minute", d.External.RequestsPerMinute)

	v.SetDefault("tts.log.retention_days", d.Log.RetentionDays)
	v.SetDefault("tts.log.max_entries", d.Log.MaxEntries)

	v.SetDefault("tts.cache.memory_items", d.Cache.MemoryItems)
	v.SetDefault("tts.cache.max_size_mb", d.Cache.MaxSizeMB)
}
