// Package store holds the most recently fetched dataset snapshot: one
// in-memory slot mirrored to a JSON file so the data survives restarts.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/qavit/smorrery/internal/metrics"
)

// Store is a single-slot snapshot cache. Writes serialize on the mutex
// and update memory and the backing file as one unit, so the last write
// wins and readers never observe a torn snapshot. The file may lag the
// memory slot when a disk write fails; memory always reflects the most
// recent successful Set.
type Store struct {
	name   string
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	data     json.RawMessage
	storedAt time.Time
}

// New creates a Store named name (used in logs and metrics) backed by the
// JSON file at path.
func New(name, path string, logger *slog.Logger) *Store {
	return &Store{
		name:   name,
		path:   path,
		logger: logger,
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the in-memory snapshot, or ok=false if none has been set
// or loaded yet. Callers must not mutate the returned bytes.
func (s *Store) Load() (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil, false
	}
	return s.data, true
}

// Set replaces the snapshot with data and mirrors it to the backing file,
// pretty-printed. The memory slot is updated even when the file write
// fails; the error reports the failed mirror only.
func (s *Store) Set(data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = data
	s.storedAt = time.Now()
	metrics.SetCacheRecords(s.name, RecordCount(data))

	if err := s.writeFile(data); err != nil {
		metrics.IncCacheWrite(s.name, "file_error")
		return fmt.Errorf("persisting %s snapshot: %w", s.name, err)
	}
	metrics.IncCacheWrite(s.name, "ok")
	return nil
}

// Snapshot returns the current dataset, falling back to the backing file
// when memory is empty. A successful disk load populates the memory slot
// so later reads are served from memory. ok=false means no usable data
// exists in either place.
func (s *Store) Snapshot() (json.RawMessage, bool) {
	if data, ok := s.Load(); ok {
		return data, true
	}

	data, err := s.loadFromDisk()
	if err != nil {
		s.logger.Warn("no snapshot available", "component", "store", "dataset", s.name, "error", err)
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another request may have fetched fresh data while we read the file;
	// fresh data wins over the disk copy.
	if s.data == nil {
		s.data = data
		s.storedAt = time.Now()
	}
	return s.data, true
}

// Age returns the age of the in-memory snapshot, or -1 when empty.
func (s *Store) Age() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return -1
	}
	return time.Since(s.storedAt).Seconds()
}

// Name returns the dataset name.
func (s *Store) Name() string {
	return s.name
}

func (s *Store) loadFromDisk() (json.RawMessage, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot file: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("snapshot file %s is not valid JSON", s.path)
	}
	s.logger.Info("loaded snapshot from disk",
		"component", "store",
		"dataset", s.name,
		"path", s.path,
		"records", RecordCount(raw),
	)
	return json.RawMessage(raw), nil
}

// writeFile persists data pretty-printed via a temp file and rename, so a
// crash mid-write cannot leave a truncated snapshot behind.
func (s *Store) writeFile(data json.RawMessage) error {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		return fmt.Errorf("formatting snapshot: %w", err)
	}
	pretty.WriteByte('\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(pretty.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing snapshot file: %w", err)
	}
	return nil
}

// RecordCount reports how many records a raw snapshot holds without
// imposing a schema: a top-level JSON array is counted directly, an
// object's "count" field is honored (the SBDB APIs return it as either a
// number or a string), and an object's "data" array length is the
// fallback.
func RecordCount(data json.RawMessage) int {
	parsed := gjson.ParseBytes(data)
	if parsed.IsArray() {
		return len(parsed.Array())
	}
	if count := parsed.Get("count"); count.Exists() {
		return int(count.Int())
	}
	if rows := parsed.Get("data"); rows.IsArray() {
		return len(rows.Array())
	}
	return 0
}
