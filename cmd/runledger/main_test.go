package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/basket/runledger/internal/event"
	"github.com/basket/runledger/internal/eventstore"
)

func TestFormatEpochMS(t *testing.T) {
	if got := formatEpochMS(nil); got != "-" {
		t.Fatalf("formatEpochMS(nil) = %q, want -", got)
	}
	ms := int64(1700000000000)
	got := formatEpochMS(&ms)
	if !strings.HasPrefix(got, "1700000000000 (") {
		t.Fatalf("formatEpochMS = %q", got)
	}
	if !strings.Contains(got, "2023-11-14T22:13:20Z") {
		t.Fatalf("formatEpochMS = %q, want RFC3339 rendering", got)
	}
}

func TestWriteJSONL_RoundTrip(t *testing.T) {
	events := []event.RunEvent{
		{EventID: "e1", TaskID: "t1", Timestamp: 1000, Intent: event.IntentFix},
		{EventID: "e2", TaskID: "t2", Timestamp: 2000, Intent: event.IntentDocs},
	}

	var buf bytes.Buffer
	if err := writeJSONL(&buf, events); err != nil {
		t.Fatalf("write: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2", len(lines))
	}
	for i, line := range lines {
		var ev event.RunEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if ev.EventID != events[i].EventID {
			t.Fatalf("line %d eventId = %q, want %q", i, ev.EventID, events[i].EventID)
		}
	}
}

func TestCompactCommand_EndToEnd(t *testing.T) {
	home := t.TempDir()
	t.Setenv("RUNLEDGER_HOME", home)

	store := eventstore.New(home + "/store")
	for i := 0; i < 8; i++ {
		if err := store.Append(event.RunEvent{
			EventID: event.NewEventID(), TaskID: "t", Timestamp: int64(1000 + i),
		}); err != nil {
			t.Fatalf("seed append: %v", err)
		}
	}

	if code := runCompactCommand(context.Background(), []string{"-max", "3"}); code != 0 {
		t.Fatalf("compact exit = %d, want 0", code)
	}

	records, err := store.ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}
}

func TestDestroyCommand_RequiresForce(t *testing.T) {
	home := t.TempDir()
	t.Setenv("RUNLEDGER_HOME", home)

	if code := runDestroyCommand(context.Background(), nil); code != 2 {
		t.Fatalf("destroy without -force exit = %d, want 2", code)
	}
}

func TestStatsCommand_EmptyStore(t *testing.T) {
	home := t.TempDir()
	t.Setenv("RUNLEDGER_HOME", home)

	if code := runStatsCommand(context.Background(), []string{"-json"}); code != 0 {
		t.Fatalf("stats exit = %d, want 0", code)
	}
}

func TestVerifyCommand_FreshHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("RUNLEDGER_HOME", home)

	if code := runVerifyCommand(context.Background(), []string{"-json"}); code != 0 {
		t.Fatalf("verify exit = %d, want 0 on a fresh home", code)
	}
}
