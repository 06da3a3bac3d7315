package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/vpet-tts/internal/tts"
)

// Common errors for cache operations
var (
	// ErrItemTooLarge is returned when an item exceeds the cache capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCacheCorrupted is returned when cache data is corrupted
	ErrCacheCorrupted = errors.New("cache data corrupted")
)

// Level represents the cache tier
type Level int

const (
	// LevelMemory is the in-process LRU (fastest)
	LevelMemory Level = iota

	// LevelDisk is the compressed on-disk tier
	LevelDisk

	// LevelRedis is the shared Redis tier
	LevelRedis
)

// String returns the string representation of the cache level
func (l Level) String() string {
	switch l {
	case LevelMemory:
		return "L1-Memory"
	case LevelDisk:
		return "L2-Disk"
	case LevelRedis:
		return "L2-Redis"
	default:
		return "Unknown"
	}
}

// Stats holds cache performance metrics
type Stats struct {
	Level Level

	// Capacity is the byte limit, 0 when unbounded
	Capacity  int64
	Size      int64
	ItemCount int64

	Hits      int64
	Misses    int64
	Evictions int64
	Expired   int64
	HitRate   float64

	LastAccess time.Time
	LastEvict  time.Time
}

func (s *Stats) updateHitRate() {
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
}

// Store is one cache tier.
type Store interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte) error
	Delete(key string) error
	Clear() error
	Stats() Stats
	Close() error
}

// Config holds configuration for the cache manager
type Config struct {
	// Memory tier (L1)
	MemoryItems    int
	MemoryCapacity int64 // bytes

	// Disk tier (L2), used when RedisAddr is empty
	DiskPath         string
	DiskCapacity     int64 // bytes
	CompressionLevel int   // zstd level (1-22), 0 disables compression

	// Redis tier (L2)
	RedisAddr string

	// TTL expires entries in every tier, 0 keeps them forever
	TTL             time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		MemoryItems:      100,
		MemoryCapacity:   32 * 1024 * 1024,  // 32MB
		DiskCapacity:     100 * 1024 * 1024, // 100MB
		CompressionLevel: 3,
		TTL:              time.Hour,
		CleanupInterval:  10 * time.Minute,
	}
}

// ConfigFromTTS derives the cache configuration from the service settings.
func ConfigFromTTS(cfg tts.Configuration) Config {
	c := DefaultConfig()
	if cfg.Cache.MemoryItems > 0 {
		c.MemoryItems = cfg.Cache.MemoryItems
	}
	if cfg.Cache.MaxSizeMB > 0 {
		c.DiskCapacity = int64(cfg.Cache.MaxSizeMB) * 1024 * 1024
	}
	c.DiskPath = cfg.Cache.Dir
	c.RedisAddr = cfg.Cache.RedisAddr
	c.TTL = cfg.CacheTTL()
	return c
}

// Key derives a cache key from everything that changes the rendered audio.
func Key(text, voice string, speed float64, backend tts.BackendType, format tts.AudioFormat) string {
	if format == "" {
		format = tts.FormatWAV
	}
	data := fmt.Sprintf("%s|%s|%.2f|%s|%s", strings.TrimSpace(text), voice, speed, backend, format)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:16]) // Use first 16 bytes for shorter keys
}

// RequestKey derives the cache key for req rendered by backend.
func RequestKey(req *tts.Request, backend tts.BackendType) string {
	s := req.Settings
	return Key(req.Text, s.Voice, s.Speed, backend, s.Format)
}
