// Package eventstore provides durable, ordered storage of run events in
// a single directory: an append-only newline-delimited record file, a
// derived index cache, and an advisory lock file for cross-process
// exclusivity. Appends within a process are serialized so call order
// equals file order.
package eventstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/basket/runledger/internal/bus"
	"github.com/basket/runledger/internal/event"
	"github.com/basket/runledger/internal/otel"
)

const (
	recordFileName = "events.jsonl"
	indexFileName  = "index.json"
	lockFileName   = "ledger.lock"

	// Record lines can carry large violation arrays; the default
	// bufio.Scanner limit of 64KiB is too small.
	maxRecordLine = 4 * 1024 * 1024
)

// Store owns one storage directory. Safe for concurrent use within a
// process; the lock file guards against other processes.
type Store struct {
	dir    string
	holder string

	mu      sync.Mutex
	logger  *slog.Logger
	bus     *bus.Bus
	metrics *otel.Metrics
}

// Option configures a Store.
type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func WithBus(b *bus.Bus) Option {
	return func(s *Store) { s.bus = b }
}

func WithMetrics(m *otel.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a store over the given directory. The directory is
// created lazily on first write.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		dir:    dir,
		holder: uuid.NewString(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

// Holder returns this instance's lock identity.
func (s *Store) Holder() string { return s.holder }

func (s *Store) recordPath() string { return filepath.Join(s.dir, recordFileName) }
func (s *Store) indexPath() string  { return filepath.Join(s.dir, indexFileName) }
func (s *Store) lockPath() string   { return filepath.Join(s.dir, lockFileName) }

// Append serializes the event as one JSON line and appends it to the
// record file, creating the directory on first use. Concurrent calls
// are serialized; completed appends appear in call order.
func (s *Store) Append(ev event.RunEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()

	err := s.appendLocked(ev)
	if s.metrics != nil {
		ctx := context.Background()
		s.metrics.AppendDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			s.metrics.AppendErrors.Add(ctx, 1)
		} else {
			s.metrics.AppendsTotal.Add(ctx, 1)
		}
	}
	return err
}

func (s *Store) appendLocked(ev event.RunEvent) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return storageErr("mkdir", s.dir, err)
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.EventID, err)
	}

	preSize, err := s.recordFileSize()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(s.recordPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return storageErr("open", s.recordPath(), err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return storageErr("append", s.recordPath(), err)
	}
	if err := f.Close(); err != nil {
		return storageErr("close", s.recordPath(), err)
	}

	if s.metrics != nil {
		s.metrics.StoreBytes.Add(context.Background(), int64(len(line)+1))
	}
	s.updateIndexAfterAppend(ev, preSize, int64(len(line)+1))
	return nil
}

// updateIndexAfterAppend maintains the index incrementally when the
// cache was valid before the append, and rebuilds it from the record
// file otherwise. Index write failures are logged, not fatal: the
// cache is reconstructible.
func (s *Store) updateIndexAfterAppend(ev event.RunEvent, preSize, written int64) {
	idx, ok := s.readIndex()
	if ok && idx.StorageSizeBytes == preSize {
		idx.EventCount++
		idx.StorageSizeBytes = preSize + written
		ts := ev.Timestamp
		if idx.OldestEvent == nil || ts < *idx.OldestEvent {
			v := ts
			idx.OldestEvent = &v
		}
		if idx.NewestEvent == nil || ts > *idx.NewestEvent {
			v := ts
			idx.NewestEvent = &v
		}
	} else {
		rebuilt, err := s.rebuildIndexLocked()
		if err != nil {
			s.logger.Warn("index rebuild failed after append", "error", err)
			return
		}
		idx = rebuilt
	}
	if err := s.writeIndex(idx); err != nil {
		s.logger.Warn("index write failed after append", "error", err)
	}
}

func (s *Store) rebuildIndexLocked() (StorageStats, error) {
	records, err := s.readAllLocked()
	if err != nil {
		return StorageStats{}, err
	}
	size, err := s.recordFileSize()
	if err != nil {
		return StorageStats{}, err
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicIndexRebuilt, nil)
	}
	return computeIndex(records, size), nil
}

// ReadAll returns every record in file order. Lines that fail to parse
// are logged and skipped; a missing record file means an empty store.
func (s *Store) ReadAll() ([]event.RunEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAllLocked()
}

func (s *Store) readAllLocked() ([]event.RunEvent, error) {
	f, err := os.Open(s.recordPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, storageErr("open", s.recordPath(), err)
	}
	defer f.Close()

	var records []event.RunEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxRecordLine)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec event.RunEvent
		if err := json.Unmarshal(line, &rec); err != nil {
			s.logger.Warn("skipping malformed record line",
				"line", lineNo, "error", err)
			if s.bus != nil {
				s.bus.Publish(bus.TopicMalformedRecord, bus.MalformedRecordEvent{
					Line: lineNo, Err: err.Error(),
				})
			}
			if s.metrics != nil {
				s.metrics.MalformedRecords.Add(context.Background(), 1)
			}
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, storageErr("scan", s.recordPath(), err)
	}
	return records, nil
}

// ReadRange returns the records whose timestamp lies in [start, end]
// inclusive, in original append order.
func (s *Store) ReadRange(start, end int64) ([]event.RunEvent, error) {
	records, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []event.RunEvent
	for _, rec := range records {
		if rec.Timestamp >= start && rec.Timestamp <= end {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Compact retains the maxEvents newest records by timestamp (ties kept
// in append order), rewrites the record file in ascending timestamp
// order, and returns the evicted count. A store at or under the bound
// is left untouched.
func (s *Store) Compact(maxEvents int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()

	records, err := s.readAllLocked()
	if err != nil {
		return 0, err
	}
	if len(records) <= maxEvents {
		return 0, nil
	}

	sorted := make([]event.RunEvent, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})
	retained := sorted[len(sorted)-maxEvents:]
	evicted := len(records) - maxEvents

	if err := s.rewriteLocked(retained); err != nil {
		return 0, err
	}

	elapsed := time.Since(start)
	if s.bus != nil {
		s.bus.Publish(bus.TopicCompactionRun, bus.CompactionRunEvent{
			Evicted:   evicted,
			Retained:  len(retained),
			MaxEvents: maxEvents,
			Elapsed:   elapsed.Milliseconds(),
		})
	}
	if s.metrics != nil {
		ctx := context.Background()
		s.metrics.CompactionEvictions.Add(ctx, int64(evicted))
		s.metrics.CompactionDuration.Record(ctx, elapsed.Seconds())
	}
	s.logger.Info("compaction complete",
		"evicted", evicted, "retained", len(retained), "max_events", maxEvents)
	return evicted, nil
}

// Rewrite replaces the whole record set with the given events, in the
// order given. Used by checkpoint saves.
func (s *Store) Rewrite(records []event.RunEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rewriteLocked(records)
}

func (s *Store) rewriteLocked(records []event.RunEvent) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return storageErr("mkdir", s.dir, err)
	}
	preSize, err := s.recordFileSize()
	if err != nil {
		return err
	}

	tmp := s.recordPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return storageErr("create", tmp, err)
	}
	w := bufio.NewWriter(f)
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("encode event %s: %w", rec.EventID, err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			f.Close()
			os.Remove(tmp)
			return storageErr("write", tmp, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return storageErr("flush", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return storageErr("close", tmp, err)
	}
	if err := os.Rename(tmp, s.recordPath()); err != nil {
		os.Remove(tmp)
		return storageErr("rename", s.recordPath(), err)
	}

	size, err := s.recordFileSize()
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.StoreBytes.Add(context.Background(), size-preSize)
	}
	if err := s.writeIndex(computeIndex(records, size)); err != nil {
		s.logger.Warn("index write failed after rewrite", "error", err)
	}
	return nil
}

// Stats returns the store's aggregate stats. The index cache is
// trusted only while its recorded size matches the record file;
// otherwise stats are recomputed from the records and the cache is
// repaired.
func (s *Store) Stats() (StorageStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	size, err := s.recordFileSize()
	if err != nil {
		return StorageStats{}, err
	}
	if idx, ok := s.readIndex(); ok && idx.StorageSizeBytes == size {
		return idx, nil
	}

	idx, err := s.rebuildIndexLocked()
	if err != nil {
		return StorageStats{}, err
	}
	if err := s.writeIndex(idx); err != nil {
		s.logger.Warn("index repair failed", "error", err)
	}
	return idx, nil
}

// Destroy removes the record, index, and lock files. Full teardown,
// not normal shutdown.
func (s *Store) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range []string{s.recordPath(), s.indexPath(), s.lockPath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return storageErr("remove", path, err)
		}
	}
	return nil
}
