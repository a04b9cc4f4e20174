package eventstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/runledger/internal/bus"
)

func writeLockFile(t *testing.T, dir, holder string, acquiredAt time.Time) {
	t.Helper()
	rec := lockRecord{Holder: holder, PID: 12345, Timestamp: acquiredAt.UnixMilli()}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal lock: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, lockFileName), data, 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}
}

func TestAcquireLock_FreshDirectory(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	if err := s.AcquireLock(); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, lockFileName))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	var rec lockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("parse lock file: %v", err)
	}
	if rec.Holder != s.Holder() {
		t.Fatalf("holder = %q, want %q", rec.Holder, s.Holder())
	}
	if rec.PID != os.Getpid() {
		t.Fatalf("pid = %d, want %d", rec.PID, os.Getpid())
	}
}

func TestAcquireLock_LiveForeignLockFails(t *testing.T) {
	dir := t.TempDir()
	writeLockFile(t, dir, "other-instance", time.Now())

	s := New(dir)
	if err := s.AcquireLock(); err != ErrLockHeld {
		t.Fatalf("acquire = %v, want ErrLockHeld", err)
	}
}

func TestAcquireLock_StaleForeignLockReclaimed(t *testing.T) {
	dir := t.TempDir()
	writeLockFile(t, dir, "dead-instance", time.Now().Add(-lockStaleAfter-time.Second))

	b := bus.New()
	sub := b.Subscribe(bus.TopicLockReclaimed)
	defer b.Unsubscribe(sub)

	s := New(dir, WithBus(b))
	if err := s.AcquireLock(); err != nil {
		t.Fatalf("acquire over stale lock: %v", err)
	}

	holder, _, _, stale, ok := s.LockInfo()
	if !ok {
		t.Fatal("expected a lock file after reclaim")
	}
	if holder != s.Holder() {
		t.Fatalf("holder = %q, want own identity", holder)
	}
	if stale {
		t.Fatal("fresh lock reported stale")
	}

	select {
	case ev := <-sub.Ch():
		payload := ev.Payload.(bus.LockReclaimedEvent)
		if payload.Holder != "dead-instance" {
			t.Fatalf("reclaimed holder = %q, want dead-instance", payload.Holder)
		}
	default:
		t.Fatal("expected lock reclaimed event on bus")
	}
}

func TestAcquireLock_RefreshOwnLock(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	if err := s.AcquireLock(); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := s.AcquireLock(); err != nil {
		t.Fatalf("re-acquire own lock: %v", err)
	}
}

func TestAcquireLock_CorruptLockReplaced(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, lockFileName), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write corrupt lock: %v", err)
	}

	s := New(dir)
	if err := s.AcquireLock(); err != nil {
		t.Fatalf("acquire over corrupt lock: %v", err)
	}
	holder, _, _, _, ok := s.LockInfo()
	if !ok || holder != s.Holder() {
		t.Fatalf("holder = %q ok=%v, want own identity", holder, ok)
	}
}

func TestReleaseLock_OwnLock(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	if err := s.AcquireLock(); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := s.ReleaseLock(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, lockFileName)); !os.IsNotExist(err) {
		t.Fatal("lock file still present after release")
	}
}

func TestReleaseLock_ForeignLockUntouched(t *testing.T) {
	dir := t.TempDir()
	writeLockFile(t, dir, "other-instance", time.Now())

	s := New(dir)
	if err := s.ReleaseLock(); err != nil {
		t.Fatalf("release: %v", err)
	}

	// The foreign lock must survive: release by a non-owner is a no-op.
	data, err := os.ReadFile(filepath.Join(dir, lockFileName))
	if err != nil {
		t.Fatalf("foreign lock removed by non-owner: %v", err)
	}
	var rec lockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("parse lock: %v", err)
	}
	if rec.Holder != "other-instance" {
		t.Fatalf("holder = %q, want other-instance", rec.Holder)
	}
}

func TestReleaseLock_NeverAcquiredIsNoop(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nothing-here"))
	if err := s.ReleaseLock(); err != nil {
		t.Fatalf("release without acquire: %v", err)
	}
}

func TestTwoInstances_SecondBlockedThenStale(t *testing.T) {
	dir := t.TempDir()

	first := New(dir)
	if err := first.AcquireLock(); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	second := New(dir)
	if err := second.AcquireLock(); err != ErrLockHeld {
		t.Fatalf("second acquire = %v, want ErrLockHeld", err)
	}

	// Age the first instance's lock past the staleness threshold.
	writeLockFile(t, dir, first.Holder(), time.Now().Add(-lockStaleAfter-time.Second))
	if err := second.AcquireLock(); err != nil {
		t.Fatalf("second acquire over stale lock: %v", err)
	}
	holder, _, _, _, ok := second.LockInfo()
	if !ok || holder != second.Holder() {
		t.Fatalf("holder = %q, want second instance identity", holder)
	}
}
