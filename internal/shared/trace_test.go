package shared

import (
	"context"
	"testing"
)

func TestTraceID_Default(t *testing.T) {
	if got := TraceID(context.Background()); got != "-" {
		t.Fatalf("TraceID() = %q, want \"-\"", got)
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-123")
	if got := TraceID(ctx); got != "trace-123" {
		t.Fatalf("TraceID() = %q, want trace-123", got)
	}
}

func TestTaskID_RoundTrip(t *testing.T) {
	if got := TaskID(context.Background()); got != "" {
		t.Fatalf("TaskID() = %q, want empty", got)
	}
	ctx := WithTaskID(context.Background(), "task-9")
	if got := TaskID(ctx); got != "task-9" {
		t.Fatalf("TaskID() = %q, want task-9", got)
	}
}

func TestNewTraceID_Unique(t *testing.T) {
	a, b := NewTraceID(), NewTraceID()
	if a == "" || a == b {
		t.Fatalf("trace ids not unique: %q %q", a, b)
	}
}
