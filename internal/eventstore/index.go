package eventstore

import (
	"encoding/json"
	"os"

	"github.com/basket/runledger/internal/event"
)

// StorageStats describes the durable record set. OldestEvent and
// NewestEvent are nil exactly when the store is empty.
type StorageStats struct {
	EventCount       int    `json:"eventCount"`
	StorageSizeBytes int64  `json:"storageSizeBytes"`
	OldestEvent      *int64 `json:"oldestEvent"`
	NewestEvent      *int64 `json:"newestEvent"`
}

// The index file caches StorageStats so Stats does not have to rescan
// the record file. It is derived state: SizeBytes doubling as a
// validity check against the real record file size, so any out-of-band
// modification of the records invalidates the cache.
func computeIndex(records []event.RunEvent, sizeBytes int64) StorageStats {
	idx := StorageStats{
		EventCount:       len(records),
		StorageSizeBytes: sizeBytes,
	}
	for _, rec := range records {
		ts := rec.Timestamp
		if idx.OldestEvent == nil || ts < *idx.OldestEvent {
			v := ts
			idx.OldestEvent = &v
		}
		if idx.NewestEvent == nil || ts > *idx.NewestEvent {
			v := ts
			idx.NewestEvent = &v
		}
	}
	return idx
}

func (s *Store) readIndex() (StorageStats, bool) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		return StorageStats{}, false
	}
	var idx StorageStats
	if err := json.Unmarshal(data, &idx); err != nil {
		return StorageStats{}, false
	}
	return idx, true
}

// writeIndex persists the index atomically (temp file + rename) so a
// crash mid-write never leaves a truncated cache.
func (s *Store) writeIndex(idx StorageStats) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return storageErr("encode index", s.indexPath(), err)
	}
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return storageErr("write index", tmp, err)
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		return storageErr("rename index", s.indexPath(), err)
	}
	return nil
}

// recordFileSize returns the record file's byte length, 0 when absent.
func (s *Store) recordFileSize() (int64, error) {
	info, err := os.Stat(s.recordPath())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, storageErr("stat", s.recordPath(), err)
	}
	return info.Size(), nil
}
