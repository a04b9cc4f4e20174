// Package bus provides a small in-process pub/sub message bus. It is
// the side channel for failures on the fire-and-forget durability path:
// a write that fails after LogEvent has already returned can only be
// reported out-of-band.
package bus

import (
	"strings"
	"sync"
)

const defaultBufferSize = 100

// Event is a message published on the bus.
type Event struct {
	Topic   string
	Payload interface{}
}

// Ledger and store event topics.
const (
	TopicWALAppendFailed = "ledger.wal.append_failed"
	TopicCompactionRun   = "store.compaction.run"
	TopicLockReclaimed   = "store.lock.reclaimed"
	TopicIndexRebuilt    = "store.index.rebuilt"
	TopicMalformedRecord = "store.record.malformed"
)

// WALAppendFailedEvent is published when a scheduled durable append
// fails. The originating LogEvent call has already returned by then.
type WALAppendFailedEvent struct {
	EventID string // Event that could not be persisted
	TaskID  string // Task the event belongs to
	Err     error  // Underlying append error
}

// CompactionRunEvent is published after a compaction pass.
type CompactionRunEvent struct {
	Evicted   int   // Records dropped by this pass
	Retained  int   // Records remaining in the store
	MaxEvents int   // Retention bound used
	Elapsed   int64 // Pass duration in milliseconds
}

// LockReclaimedEvent is published when a stale foreign lock is removed
// during acquisition.
type LockReclaimedEvent struct {
	Holder string // Identity recorded in the stale lock
	PID    int    // Process id recorded in the stale lock
	AgeMS  int64  // Lock age at reclaim time
}

// MalformedRecordEvent is published for each record line skipped during
// a read.
type MalformedRecordEvent struct {
	Line int    // 1-based line number in the record file
	Err  string // Parse error text
}

// Subscription represents an active subscription.
type Subscription struct {
	id     int
	prefix string
	ch     chan Event
}

// Ch returns the channel to receive events on.
func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Bus is a simple in-process pub/sub message bus with topic prefix matching.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

// New creates a new Bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*Subscription),
	}
}

// Subscribe creates a subscription for events matching the given topic prefix.
// An empty prefix matches all topics.
// The returned channel has a buffer of 100 events; slow consumers will miss
// events (non-blocking send).
func (b *Bus) Subscribe(topicPrefix string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		prefix: topicPrefix,
		ch:     make(chan Event, defaultBufferSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish sends an event to all matching subscribers.
// Delivery is non-blocking: if a subscriber's buffer is full, the event is
// dropped.
func (b *Bus) Publish(topic string, payload interface{}) {
	event := Event{
		Topic:   topic,
		Payload: payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.prefix == "" || strings.HasPrefix(topic, sub.prefix) {
			select {
			case sub.ch <- event:
			default:
				// Buffer full, drop event for this subscriber.
			}
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
