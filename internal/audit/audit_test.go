package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecordWritesOpsEntry(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record("compact", "ok", "evicted=5 retained=10", "store")
	Record("lock_reclaim", "ok", "age_ms=45000", "dead-instance")

	path := filepath.Join(home, "logs", "ops.jsonl")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read ops file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected at least two entries, got %d", len(lines))
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first entry: %v", err)
	}
	if first["action"] != "compact" {
		t.Fatalf("action = %#v, want compact", first["action"])
	}
	if first["outcome"] != "ok" {
		t.Fatalf("outcome = %#v, want ok", first["outcome"])
	}
	if first["detail"] == "" || first["timestamp"] == "" {
		t.Fatalf("expected detail and timestamp in entry: %#v", first)
	}
}

func TestOpsLogAppendOnly(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record("compact", "ok", "pass 1", "store")
	Record("destroy", "ok", "teardown", "store")

	path := filepath.Join(home, "logs", "ops.jsonl")

	info1, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat ops file: %v", err)
	}
	size1 := info1.Size()

	Record("compact", "ok", "pass 2", "store")

	info2, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat ops file after append: %v", err)
	}
	if info2.Size() <= size1 {
		t.Fatalf("expected file to grow (append-only), size before=%d after=%d", size1, info2.Size())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read ops file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) < 3 {
		t.Fatalf("expected at least 3 lines, got %d", len(lines))
	}
	for i, line := range lines {
		var e map[string]any
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i, err)
		}
		if _, ok := e["timestamp"]; !ok {
			t.Fatalf("line %d missing timestamp", i)
		}
		if _, ok := e["action"]; !ok {
			t.Fatalf("line %d missing action", i)
		}
	}
}

func TestRecordBeforeInitIsDropped(t *testing.T) {
	// Not initialized: Record must not panic or create files.
	Record("compact", "ok", "early", "store")
	if RecordCount() == 0 {
		t.Fatal("record count should still advance")
	}
}
