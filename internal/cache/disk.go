package cache

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
)

const indexFile = "cache.index"

// DiskCache is the L2 tier: zstd-compressed files with a gob index that
// survives restarts.
type DiskCache struct {
	basePath string
	capacity int64 // Maximum size in bytes, 0 for unbounded
	ttl      time.Duration
	size     int64

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	// Index for fast lookups
	index map[string]*diskEntry

	mu     sync.Mutex
	stats  Stats
	logger *log.Logger

	now func() time.Time
}

// diskEntry is one record of the on-disk index
type diskEntry struct {
	Key          string
	FilePath     string
	Size         int64 // Size on disk
	OriginalSize int64
	Stored       time.Time
	LastAccess   time.Time
	Compressed   bool
}

// NewDiskCache opens or creates a disk cache under basePath.
// compressionLevel 0 disables compression.
func NewDiskCache(basePath string, capacity int64, compressionLevel int, ttl time.Duration, logger *log.Logger) (*DiskCache, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}

	dc := &DiskCache{
		basePath: basePath,
		capacity: capacity,
		ttl:      ttl,
		index:    make(map[string]*diskEntry),
		stats:    Stats{Level: LevelDisk, Capacity: capacity},
		logger:   logger,
		now:      time.Now,
	}

	if compressionLevel > 0 {
		var err error
		dc.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}
	// Entries written with compression stay readable after it is turned off.
	var err error
	dc.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	if err := dc.loadIndex(); err != nil {
		logger.Warn("Discarding unreadable cache index", "path", basePath, "error", err)
		dc.index = make(map[string]*diskEntry)
	}
	for _, entry := range dc.index {
		dc.size += entry.Size
	}

	return dc, nil
}

// Get retrieves a value from the disk cache.
func (dc *DiskCache) Get(key string) ([]byte, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	entry, ok := dc.index[key]
	if !ok {
		dc.stats.Misses++
		return nil, false
	}

	now := dc.now()
	if dc.expired(entry, now) {
		dc.removeEntry(entry)
		dc.stats.Expired++
		dc.stats.Misses++
		return nil, false
	}

	data, err := os.ReadFile(entry.FilePath)
	if err == nil && entry.Compressed {
		data, err = dc.decoder.DecodeAll(data, nil)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
		}
	}
	if err != nil {
		dc.logger.Debug("Dropping unreadable cache entry", "key", key, "error", err)
		dc.removeEntry(entry)
		dc.stats.Misses++
		return nil, false
	}

	entry.LastAccess = now
	dc.stats.Hits++
	dc.stats.LastAccess = now
	return data, true
}

// Put stores a value in the disk cache.
func (dc *DiskCache) Put(key string, value []byte) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	data, compressed := value, false
	if dc.encoder != nil && len(value) > 1024 { // Only compress if > 1KB
		if c := dc.encoder.EncodeAll(value, nil); len(c) < len(value) {
			data, compressed = c, true
		}
	}
	diskSize := int64(len(data))
	if dc.capacity > 0 && diskSize > dc.capacity {
		return ErrItemTooLarge
	}

	if existing, ok := dc.index[key]; ok {
		dc.removeEntry(existing)
	}
	for dc.capacity > 0 && dc.size+diskSize > dc.capacity && len(dc.index) > 0 {
		dc.evictOldest()
	}

	path := dc.filePath(key)
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	now := dc.now()
	dc.index[key] = &diskEntry{
		Key:          key,
		FilePath:     path,
		Size:         diskSize,
		OriginalSize: int64(len(value)),
		Stored:       now,
		LastAccess:   now,
		Compressed:   compressed,
	}
	dc.size += diskSize
	return nil
}

// Delete removes an entry from the disk cache.
func (dc *DiskCache) Delete(key string) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if entry, ok := dc.index[key]; ok {
		dc.removeEntry(entry)
	}
	return nil
}

// Clear removes all entries from the disk cache.
func (dc *DiskCache) Clear() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	for _, entry := range dc.index {
		_ = os.Remove(entry.FilePath)
	}
	dc.index = make(map[string]*diskEntry)
	dc.size = 0
	return dc.saveIndex()
}

// Stats returns cache statistics.
func (dc *DiskCache) Stats() Stats {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	stats := dc.stats
	stats.Size = dc.size
	stats.ItemCount = int64(len(dc.index))
	stats.updateHitRate()
	return stats
}

// Prune removes expired entries and returns how many were dropped.
func (dc *DiskCache) Prune() int {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	now := dc.now()
	removed := 0
	for _, entry := range dc.index {
		if dc.expired(entry, now) {
			dc.removeEntry(entry)
			removed++
		}
	}
	dc.stats.Expired += int64(removed)
	return removed
}

// Close saves the index.
func (dc *DiskCache) Close() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.encoder != nil {
		_ = dc.encoder.Close()
	}
	dc.decoder.Close()
	return dc.saveIndex()
}

func (dc *DiskCache) expired(entry *diskEntry, now time.Time) bool {
	return dc.ttl > 0 && !now.Before(entry.Stored.Add(dc.ttl))
}

// removeEntry drops entry and its file (must be called with lock held).
func (dc *DiskCache) removeEntry(entry *diskEntry) {
	_ = os.Remove(entry.FilePath)
	delete(dc.index, entry.Key)
	dc.size -= entry.Size
}

// evictOldest removes the least recently accessed entry (must be called with lock held).
func (dc *DiskCache) evictOldest() {
	var oldest *diskEntry
	for _, entry := range dc.index {
		if oldest == nil || entry.LastAccess.Before(oldest.LastAccess) {
			oldest = entry
		}
	}
	if oldest != nil {
		dc.removeEntry(oldest)
		dc.stats.Evictions++
		dc.stats.LastEvict = dc.now()
	}
}

func (dc *DiskCache) filePath(key string) string {
	hash := sha256.Sum256([]byte(key))
	return filepath.Join(dc.basePath, hex.EncodeToString(hash[:16])+".cache")
}

// writeFileAtomic writes to a temp file first, then renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}
	_, err = file.Write(data)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	return os.Rename(tempPath, path)
}

func (dc *DiskCache) loadIndex() error {
	file, err := os.Open(filepath.Join(dc.basePath, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No index file yet
		}
		return err
	}
	defer file.Close() //nolint:errcheck

	return gob.NewDecoder(file).Decode(&dc.index)
}

func (dc *DiskCache) saveIndex() error {
	indexPath := filepath.Join(dc.basePath, indexFile)
	tempPath := indexPath + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}
	err = gob.NewEncoder(file).Encode(dc.index)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	return os.Rename(tempPath, indexPath)
}
