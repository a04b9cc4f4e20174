// Package ledger holds the in-memory run ledger and the persistent
// ledger that layers asynchronous durability over it.
package ledger

import (
	"sync"

	"github.com/basket/runledger/internal/event"
)

// Ledger is the in-memory base ledger: an ordered event collection with
// import/export and aggregate metrics. Safe for concurrent use.
type Ledger struct {
	mu     sync.RWMutex
	events []event.RunEvent
}

func New() *Ledger {
	return &Ledger{}
}

// LogEvent appends to memory, assigning an event id when the caller
// left it empty.
func (l *Ledger) LogEvent(ev event.RunEvent) event.RunEvent {
	if ev.EventID == "" {
		ev.EventID = event.NewEventID()
	}
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	return ev
}

// Events returns a copy of the event sequence in log order.
func (l *Ledger) Events() []event.RunEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]event.RunEvent, len(l.events))
	copy(out, l.events)
	return out
}

func (l *Ledger) EventCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// ImportEvents replaces the in-memory set wholesale.
func (l *Ledger) ImportEvents(events []event.RunEvent) {
	replacement := make([]event.RunEvent, len(events))
	copy(replacement, events)
	l.mu.Lock()
	l.events = replacement
	l.mu.Unlock()
}

// ExportEvents returns the full event set. Two ledgers exchange state
// losslessly through ExportEvents/ImportEvents: both operate on the
// same RunEvent shape.
func (l *Ledger) ExportEvents() []event.RunEvent {
	return l.Events()
}

// Metrics aggregates the ledger's event history.
type Metrics struct {
	TaskCount      int     `json:"taskCount"`
	EventCount     int     `json:"eventCount"`
	ViolationRate  float64 `json:"violationRate"`
	AvgReworkLines float64 `json:"avgReworkLines"`
	AcceptanceRate float64 `json:"acceptanceRate"`
	AvgDurationMS  float64 `json:"avgDurationMs"`
}

// ComputeMetrics derives aggregate quality metrics from the in-memory
// set. ViolationRate is the share of events carrying at least one
// violation.
func (l *Ledger) ComputeMetrics() Metrics {
	l.mu.RLock()
	defer l.mu.RUnlock()

	m := Metrics{EventCount: len(l.events)}
	if len(l.events) == 0 {
		return m
	}

	tasks := make(map[string]struct{})
	var violated, accepted int
	var rework, duration int64
	for _, ev := range l.events {
		tasks[ev.TaskID] = struct{}{}
		if len(ev.Violations) > 0 {
			violated++
		}
		if ev.OutcomeAccepted {
			accepted++
		}
		rework += int64(ev.ReworkLines)
		duration += ev.DurationMS
	}

	n := float64(len(l.events))
	m.TaskCount = len(tasks)
	m.ViolationRate = float64(violated) / n
	m.AvgReworkLines = float64(rework) / n
	m.AcceptanceRate = float64(accepted) / n
	m.AvgDurationMS = float64(duration) / n
	return m
}
