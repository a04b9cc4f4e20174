package eventstore

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/basket/runledger/internal/bus"
)

// lockStaleAfter is the liveness threshold: a lock older than this is
// treated as abandoned and reclaimable regardless of holder.
const lockStaleAfter = 30 * time.Second

type lockRecord struct {
	Holder    string `json:"holder"`
	PID       int    `json:"pid"`
	Timestamp int64  `json:"timestamp"`
}

// AcquireLock takes the advisory cross-process lock on the storage
// directory. It returns ErrLockHeld when another instance holds a live
// lock, reclaims stale locks unconditionally, and refreshes a lock this
// instance already owns. Ambiguous filesystem errors fail closed.
func (s *Store) AcquireLock() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return storageErr("mkdir", s.dir, err)
	}

	// Exclusive create wins immediately on an unlocked directory.
	f, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		werr := s.writeLockTo(f)
		f.Close()
		if werr != nil {
			os.Remove(s.lockPath())
			return werr
		}
		return nil
	}
	if !os.IsExist(err) {
		return storageErr("create lock", s.lockPath(), err)
	}

	existing, rerr := s.readLock()
	if rerr != nil {
		if os.IsNotExist(rerr) {
			// Lost a race with a release; take over.
			return s.overwriteLock()
		}
		return storageErr("read lock", s.lockPath(), rerr)
	}

	if existing == nil {
		// Unparseable lock file carries no usable holder or age.
		// Reclaim rather than deadlock on garbage.
		s.logger.Warn("replacing corrupt lock file", "path", s.lockPath())
		return s.overwriteLock()
	}

	if existing.Holder == s.holder {
		// Refresh our own lease.
		return s.overwriteLock()
	}

	age := time.Since(time.UnixMilli(existing.Timestamp))
	if age > lockStaleAfter {
		s.logger.Info("reclaiming stale lock",
			"holder", existing.Holder, "pid", existing.PID, "age_ms", age.Milliseconds())
		if s.bus != nil {
			s.bus.Publish(bus.TopicLockReclaimed, bus.LockReclaimedEvent{
				Holder: existing.Holder,
				PID:    existing.PID,
				AgeMS:  age.Milliseconds(),
			})
		}
		if s.metrics != nil {
			s.metrics.LockReclaims.Add(context.Background(), 1)
		}
		return s.overwriteLock()
	}

	return ErrLockHeld
}

// ReleaseLock removes the lock file only when this instance owns it.
// Releasing a lock held by someone else, or no lock at all, is a strict
// no-op: a non-owner must never void another instance's lock.
func (s *Store) ReleaseLock() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readLock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return storageErr("read lock", s.lockPath(), err)
	}
	if existing == nil || existing.Holder != s.holder {
		return nil
	}
	if err := os.Remove(s.lockPath()); err != nil && !os.IsNotExist(err) {
		return storageErr("remove lock", s.lockPath(), err)
	}
	return nil
}

// readLock returns (nil, nil) for an unparseable lock file and passes
// filesystem errors through unwrapped so callers can os.IsNotExist them.
func (s *Store) readLock() (*lockRecord, error) {
	data, err := os.ReadFile(s.lockPath())
	if err != nil {
		return nil, err
	}
	var rec lockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil
	}
	if rec.Holder == "" {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) overwriteLock() error {
	f, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return storageErr("write lock", s.lockPath(), err)
	}
	werr := s.writeLockTo(f)
	f.Close()
	return werr
}

func (s *Store) writeLockTo(f *os.File) error {
	rec := lockRecord{
		Holder:    s.holder,
		PID:       os.Getpid(),
		Timestamp: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return storageErr("encode lock", s.lockPath(), err)
	}
	if _, err := f.Write(data); err != nil {
		return storageErr("write lock", s.lockPath(), err)
	}
	return nil
}

// LockInfo reports the current lock file contents and whether it is
// stale, for diagnostics. ok is false when no parseable lock exists.
func (s *Store) LockInfo() (holder string, pid int, age time.Duration, stale, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readLock()
	if err != nil || rec == nil {
		return "", 0, 0, false, false
	}
	age = time.Since(time.UnixMilli(rec.Timestamp))
	return rec.Holder, rec.PID, age, age > lockStaleAfter, true
}
