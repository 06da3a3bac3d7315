package tts

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaultConfigurationIsValid(t *testing.T) {
	cfg := DefaultConfiguration()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration should be valid: %v", err)
	}
	if cfg.Backend() != BackendBuiltin {
		t.Errorf("default backend = %s, want %s", cfg.Backend(), BackendBuiltin)
	}
	if cfg.Timeout() != 30*time.Second {
		t.Errorf("default timeout = %v, want 30s", cfg.Timeout())
	}
	if cfg.MaxRetryCount != 3 {
		t.Errorf("default max retries = %d, want 3", cfg.MaxRetryCount)
	}
}

func TestConfigurationValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Configuration)
		errorText string
	}{
		{"bad type", func(c *Configuration) { c.Type = "espeak" }, "invalid TTS backend"},
		{"zero timeout", func(c *Configuration) { c.TimeoutSeconds = 0 }, "timeout_seconds"},
		{"retries too high", func(c *Configuration) { c.MaxRetryCount = 11 }, "max_retry_count"},
		{"negative delay", func(c *Configuration) { c.RetryDelayMs = -1 }, "retry_delay_ms"},
		{"negative expiration", func(c *Configuration) { c.CacheExpirationMinutes = -5 }, "cache_expiration_minutes"},
		{"concurrency too high", func(c *Configuration) { c.MaxConcurrent = 65 }, "max_concurrent"},
		{"builtin speed", func(c *Configuration) { c.Builtin.Speed = 3 }, "builtin: speed"},
		{"builtin volume", func(c *Configuration) { c.Builtin.Volume = -0.1 }, "builtin: volume"},
		{"builtin speed NaN", func(c *Configuration) { c.Builtin.Speed = math.NaN() }, "builtin: speed"},
		{"builtin pitch infinite", func(c *Configuration) { c.Builtin.Pitch = math.Inf(-1) }, "builtin: pitch"},
		{"builtin volume NaN", func(c *Configuration) { c.Builtin.Volume = math.NaN() }, "builtin: volume"},
		{"builtin binary", func(c *Configuration) { c.Builtin.Binary = "" }, "builtin: binary"},
		{"external rpm", func(c *Configuration) { c.External.RequestsPerMinute = -1 }, "external: requests_per_minute"},
		{"retention", func(c *Configuration) { c.Log.RetentionDays = -1 }, "log.retention_days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfiguration()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.errorText) {
				t.Errorf("error %q does not contain %q", err, tt.errorText)
			}
		})
	}
}

func TestRequestSettings(t *testing.T) {
	cfg := DefaultConfiguration()
	cfg.TimeoutSeconds = 12
	cfg.Builtin.Voice = "3"
	cfg.Builtin.Speed = 1.5
	cfg.Builtin.Pitch = -2
	cfg.Builtin.Volume = 0.5

	s := cfg.RequestSettings()
	if s.Speed != 1.5 || s.Pitch != -2 || s.Volume != 0.5 || s.Voice != "3" {
		t.Errorf("builtin settings not applied: %+v", s)
	}
	if s.TimeoutMs != 12000 {
		t.Errorf("timeout = %dms, want 12000", s.TimeoutMs)
	}
	if v := ValidateRequest(&Request{Text: "hi", Settings: s}); !v.Valid {
		t.Errorf("seeded settings invalid: %v", v.Errors)
	}

	cfg.Type = string(BackendExternal)
	if s := cfg.RequestSettings(); s.Speed != 1.0 || s.Voice != "" {
		t.Errorf("external backend got builtin settings: %+v", s)
	}
}

func TestParseBackendType(t *testing.T) {
	tests := []struct {
		in   string
		want BackendType
		ok   bool
	}{
		{"builtin", BackendBuiltin, true},
		{"Piper", BackendBuiltin, true},
		{" external ", BackendExternal, true},
		{"openai", BackendExternal, true},
		{"placeholder", BackendPlaceholder, true},
		{"", "", false},
		{"gtts", "", false},
	}
	for _, tt := range tests {
		got, err := ParseBackendType(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseBackendType(%q) error = %v, want ok %v", tt.in, err, tt.ok)
		}
		if got != tt.want {
			t.Errorf("ParseBackendType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadConfigurationFromViper(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("tts.type", "external")
	v.Set("tts.timeout_seconds", 10)
	v.Set("tts.max_retry_count", 5)
	v.Set("tts.use_backoff", false)
	v.Set("tts.external.api_key", "sk-test")
	v.Set("tts.builtin.speed", 1.5)
	v.Set("tts.cache.redis_addr", "localhost:6379")

	cfg, err := LoadConfigurationFromViper(v)
	if err != nil {
		t.Fatalf("LoadConfigurationFromViper failed: %v", err)
	}

	if cfg.Backend() != BackendExternal {
		t.Errorf("backend = %s, want external", cfg.Backend())
	}
	if cfg.TimeoutSeconds != 10 || cfg.MaxRetryCount != 5 || cfg.UseBackoff {
		t.Errorf("scalar overrides not applied: %+v", cfg)
	}
	if cfg.External.APIKey != "sk-test" {
		t.Errorf("api key = %q", cfg.External.APIKey)
	}
	if cfg.External.Model != "tts-1" {
		t.Errorf("external model default lost: %q", cfg.External.Model)
	}
	if cfg.Builtin.Speed != 1.5 {
		t.Errorf("builtin speed = %v", cfg.Builtin.Speed)
	}
	if cfg.Cache.RedisAddr != "localhost:6379" {
		t.Errorf("redis addr = %q", cfg.Cache.RedisAddr)
	}
}

func TestLoadConfigurationFromViperInvalid(t *testing.T) {
	v := viper.New()
	v.Set("tts.max_retry_count", 99)
	if _, err := LoadConfigurationFromViper(v); err == nil {
		t.Fatal("expected invalid configuration error")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("VPET_TTS_TYPE", "placeholder")
	t.Setenv("VPET_TTS_MAX_RETRY_COUNT", "1")
	t.Setenv("VPET_TTS_EXTERNAL_VOICE", "nova")

	cfg := DefaultConfiguration()
	if err := ApplyEnv(&cfg); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}
	if cfg.Type != "placeholder" {
		t.Errorf("type = %q", cfg.Type)
	}
	if cfg.MaxRetryCount != 1 {
		t.Errorf("max retries = %d", cfg.MaxRetryCount)
	}
	if cfg.External.Voice != "nova" {
		t.Errorf("voice = %q", cfg.External.Voice)
	}
	if cfg.TimeoutSeconds != 30 {
		t.Errorf("unset env var should keep default, got %d", cfg.TimeoutSeconds)
	}
}
