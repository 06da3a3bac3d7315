package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	filePrefix = "events-"
	fileSuffix = ".jsonl"
	dayLayout  = "2006-01-02"
)

// FileSink writes one JSON object per line into one file per day.
type FileSink struct {
	dir string

	mu   sync.Mutex
	day  string
	file *os.File
	enc  *json.Encoder
}

// NewFileSink creates dir if needed and returns a sink writing into it.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// FileName returns the file an event stamped at t is written to.
func FileName(t time.Time) string {
	return filePrefix + t.Format(dayLayout) + fileSuffix
}

// Write appends ev to the file for its day.
func (s *FileSink) Write(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := ev.Timestamp.Format(dayLayout)
	if s.file == nil || s.day != day {
		if err := s.rotate(day); err != nil {
			return err
		}
	}
	if err := s.enc.Encode(ev); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// rotate switches to the file for day. Callers hold mu.
func (s *FileSink) rotate(day string) error {
	if s.file != nil {
		_ = s.file.Close()
		s.file, s.enc = nil, nil
	}
	path := filepath.Join(s.dir, filePrefix+day+fileSuffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	s.file, s.enc, s.day = f, json.NewEncoder(f), day
	return nil
}

// RemoveBefore deletes day files whose whole day lies before cutoff.
func (s *FileSink) RemoveBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read event log directory: %w", err)
	}

	cutoffDay := cutoff.Format(dayLayout)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		day := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		if _, err := time.Parse(dayLayout, day); err != nil {
			continue
		}
		// Layout sorts lexically.
		if day >= cutoffDay {
			continue
		}
		if day == s.day && s.file != nil {
			_ = s.file.Close()
			s.file, s.enc, s.day = nil, nil, ""
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

// ReadDay loads every event persisted for the day of t.
func (s *FileSink) ReadDay(t time.Time) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(filepath.Join(s.dir, FileName(t)))
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	var out []Event
	dec := json.NewDecoder(f)
	for dec.More() {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			return out, fmt.Errorf("failed to decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Close closes the current file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.enc, s.day = nil, nil, ""
	return err
}
