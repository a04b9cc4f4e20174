// Package doctor runs storage diagnostics for the verify command.
package doctor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/basket/runledger/internal/config"
	"github.com/basket/runledger/internal/event"
	"github.com/basket/runledger/internal/eventstore"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks against the configured storage.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkStorageDir,
		checkRecordFile,
		checkIndex,
		checkLock,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

// Healthy reports whether no check failed.
func (d Diagnosis) Healthy() bool {
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			return false
		}
	}
	return true
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if cfg.NeedsGenesis {
		return CheckResult{Name: "Config", Status: "WARN", Message: "No config.yaml yet (defaults in effect)"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir)}
}

func checkStorageDir(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Storage Dir", Status: "SKIP", Message: "Config missing"}
	}
	dir := cfg.StoragePath()
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{Name: "Storage Dir", Status: "WARN",
				Message: fmt.Sprintf("%s does not exist yet (created on first append)", dir)}
		}
		return CheckResult{Name: "Storage Dir", Status: "FAIL", Message: fmt.Sprintf("Stat failed: %v", err)}
	}
	if !info.IsDir() {
		return CheckResult{Name: "Storage Dir", Status: "FAIL", Message: fmt.Sprintf("%s is not a directory", dir)}
	}

	testFile := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Storage Dir", Status: "FAIL", Message: fmt.Sprintf("Unwritable: %v", err)}
	}
	os.Remove(testFile)
	return CheckResult{Name: "Storage Dir", Status: "PASS", Message: fmt.Sprintf("%s writable", dir)}
}

func checkRecordFile(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Record File", Status: "SKIP", Message: "Config missing"}
	}
	path := filepath.Join(cfg.StoragePath(), "events.jsonl")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{Name: "Record File", Status: "PASS", Message: "Empty store (no record file)"}
		}
		return CheckResult{Name: "Record File", Status: "FAIL", Message: fmt.Sprintf("Open failed: %v", err)}
	}
	defer f.Close()

	var total, bad int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		total++
		var rec event.RunEvent
		if err := json.Unmarshal(line, &rec); err != nil {
			bad++
		}
	}
	if err := scanner.Err(); err != nil {
		return CheckResult{Name: "Record File", Status: "FAIL", Message: fmt.Sprintf("Scan failed: %v", err)}
	}

	if bad > 0 {
		return CheckResult{
			Name:    "Record File",
			Status:  "WARN",
			Message: fmt.Sprintf("%d of %d lines malformed (skipped on read)", bad, total),
			Detail:  "Run compact to rewrite the file with only parseable records",
		}
	}
	return CheckResult{Name: "Record File", Status: "PASS", Message: fmt.Sprintf("%d records, all parseable", total)}
}

func checkIndex(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Index", Status: "SKIP", Message: "Config missing"}
	}
	dir := cfg.StoragePath()
	idxPath := filepath.Join(dir, "index.json")
	data, err := os.ReadFile(idxPath)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{Name: "Index", Status: "PASS", Message: "No index cache (rebuilt on demand)"}
		}
		return CheckResult{Name: "Index", Status: "FAIL", Message: fmt.Sprintf("Read failed: %v", err)}
	}

	var idx eventstore.StorageStats
	if err := json.Unmarshal(data, &idx); err != nil {
		return CheckResult{Name: "Index", Status: "WARN",
			Message: "Index cache unparseable (rebuilt on next stats read)"}
	}

	var size int64
	if info, err := os.Stat(filepath.Join(dir, "events.jsonl")); err == nil {
		size = info.Size()
	}
	if idx.StorageSizeBytes != size {
		return CheckResult{
			Name:    "Index",
			Status:  "WARN",
			Message: fmt.Sprintf("Cache stale: recorded %d bytes, record file has %d", idx.StorageSizeBytes, size),
			Detail:  "Stats reads rebuild the cache automatically",
		}
	}
	return CheckResult{Name: "Index", Status: "PASS",
		Message: fmt.Sprintf("Consistent: %d events, %d bytes", idx.EventCount, idx.StorageSizeBytes)}
}

func checkLock(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Lock", Status: "SKIP", Message: "Config missing"}
	}
	store := eventstore.New(cfg.StoragePath())
	holder, pid, age, stale, ok := store.LockInfo()
	if !ok {
		return CheckResult{Name: "Lock", Status: "PASS", Message: "No lock held"}
	}
	if stale {
		return CheckResult{
			Name:    "Lock",
			Status:  "WARN",
			Message: fmt.Sprintf("Stale lock from pid %d (age %s), reclaimed on next acquire", pid, age.Round(time.Second)),
			Detail:  fmt.Sprintf("holder=%s", holder),
		}
	}
	return CheckResult{
		Name:    "Lock",
		Status:  "WARN",
		Message: fmt.Sprintf("Live lock held by pid %d (age %s)", pid, age.Round(time.Second)),
		Detail:  fmt.Sprintf("holder=%s", holder),
	}
}
