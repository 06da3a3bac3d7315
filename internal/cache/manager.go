package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Manager layers the memory tier over an optional persistent tier (disk or
// Redis). Hits in L2 are promoted to L1. It implements tts.AudioCache.
type Manager struct {
	l1 *MemoryCache
	l2 Store

	config Config
	logger *log.Logger

	// Cleanup goroutine control
	cleanupStop chan struct{}
	cleanupWg   sync.WaitGroup
	closeOnce   sync.Once

	mu    sync.Mutex
	stats ManagerStats
}

// ManagerStats aggregates counts across tiers.
type ManagerStats struct {
	Hits        int64
	Misses      int64
	L1Hits      int64
	L2Hits      int64
	Promotions  int64
	CleanupRuns int64
	LastCleanup time.Time
	HitRate     float64

	L1 Stats
	L2 *Stats
}

// NewManager builds the tiers described by cfg. A Redis address selects the
// Redis tier, otherwise a disk path selects the disk tier, otherwise only
// the memory tier is used.
func NewManager(ctx context.Context, cfg Config, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.Default()
	}

	var l2 Store
	switch {
	case cfg.RedisAddr != "":
		rc, err := NewRedisCache(ctx, cfg.RedisAddr, cfg.TTL, logger)
		if err != nil {
			return nil, err
		}
		l2 = rc
	case cfg.DiskPath != "":
		dc, err := NewDiskCache(cfg.DiskPath, cfg.DiskCapacity, cfg.CompressionLevel, cfg.TTL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create disk cache: %w", err)
		}
		l2 = dc
	}

	return NewManagerWithStores(cfg, NewMemoryCache(cfg.MemoryItems, cfg.MemoryCapacity, cfg.TTL), l2, logger), nil
}

// NewManagerWithStores assembles a manager from existing tiers. l2 may be nil.
func NewManagerWithStores(cfg Config, l1 *MemoryCache, l2 Store, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	m := &Manager{
		l1:          l1,
		l2:          l2,
		config:      cfg,
		logger:      logger,
		cleanupStop: make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		m.startCleanupRoutine()
	}
	return m
}

// Get checks L1, then L2.
func (m *Manager) Get(key string) ([]byte, bool) {
	if data, ok := m.l1.Get(key); ok {
		m.mu.Lock()
		m.stats.L1Hits++
		m.stats.Hits++
		m.mu.Unlock()
		return data, true
	}

	if m.l2 != nil {
		if data, ok := m.l2.Get(key); ok {
			// Promote to L1 for faster future access
			_ = m.l1.Put(key, data)

			m.mu.Lock()
			m.stats.L2Hits++
			m.stats.Hits++
			m.stats.Promotions++
			m.mu.Unlock()
			return data, true
		}
	}

	m.mu.Lock()
	m.stats.Misses++
	m.mu.Unlock()
	return nil, false
}

// Put stores value in every tier. An item too large for L1 is still
// offered to L2.
func (m *Manager) Put(key string, value []byte) error {
	if err := m.l1.Put(key, value); err != nil && !errors.Is(err, ErrItemTooLarge) {
		return fmt.Errorf("L1 cache error: %w", err)
	}
	if m.l2 == nil {
		return nil
	}
	if err := m.l2.Put(key, value); err != nil {
		if errors.Is(err, ErrItemTooLarge) {
			return nil
		}
		m.logger.Warn("Failed to store audio in L2 cache", "key", key, "error", err)
		return fmt.Errorf("L2 cache error: %w", err)
	}
	return nil
}

// Delete removes an entry from all tiers.
func (m *Manager) Delete(key string) error {
	var errs []error
	if err := m.l1.Delete(key); err != nil {
		errs = append(errs, fmt.Errorf("L1 delete: %w", err))
	}
	if m.l2 != nil {
		if err := m.l2.Delete(key); err != nil {
			errs = append(errs, fmt.Errorf("L2 delete: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Clear removes all entries from all tiers.
func (m *Manager) Clear() error {
	var errs []error
	if err := m.l1.Clear(); err != nil {
		errs = append(errs, fmt.Errorf("L1 clear: %w", err))
	}
	if m.l2 != nil {
		if err := m.l2.Clear(); err != nil {
			errs = append(errs, fmt.Errorf("L2 clear: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Stats returns aggregated statistics from all tiers.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	stats := m.stats
	m.mu.Unlock()

	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	stats.L1 = m.l1.Stats()
	if m.l2 != nil {
		l2 := m.l2.Stats()
		stats.L2 = &l2
	}
	return stats
}

// Cleanup drops expired entries from the tiers that keep their own expiry.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	m.stats.CleanupRuns++
	m.stats.LastCleanup = time.Now()
	m.mu.Unlock()

	removed := m.l1.Prune()
	if dc, ok := m.l2.(*DiskCache); ok {
		removed += dc.Prune()
	}
	if removed > 0 {
		m.logger.Debug("Pruned expired audio", "entries", removed)
	}
	return removed
}

// Close stops the cleanup routine and closes the tiers.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.cleanupStop)
		m.cleanupWg.Wait()

		_ = m.l1.Close()
		if m.l2 != nil {
			if cerr := m.l2.Close(); cerr != nil {
				err = fmt.Errorf("failed to close L2 cache: %w", cerr)
			}
		}
	})
	return err
}

// startCleanupRoutine starts the background cleanup goroutine.
func (m *Manager) startCleanupRoutine() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	m.cleanupWg.Add(1)

	go func() {
		defer m.cleanupWg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.Cleanup()
			case <-m.cleanupStop:
				return
			}
		}
	}()
}
