package bus

import (
	"errors"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe(TopicWALAppendFailed)
	defer b.Unsubscribe(sub)

	b.Publish(TopicWALAppendFailed, WALAppendFailedEvent{
		EventID: "evt-1",
		TaskID:  "task-1",
		Err:     errors.New("disk full"),
	})

	select {
	case event := <-sub.Ch():
		if event.Topic != TopicWALAppendFailed {
			t.Fatalf("topic = %q, want %q", event.Topic, TopicWALAppendFailed)
		}
		payload, ok := event.Payload.(WALAppendFailedEvent)
		if !ok {
			t.Fatalf("payload type = %T, want WALAppendFailedEvent", event.Payload)
		}
		if payload.EventID != "evt-1" {
			t.Fatalf("payload.EventID = %q, want evt-1", payload.EventID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBus_PrefixMatching(t *testing.T) {
	b := New()

	storeSub := b.Subscribe("store.")
	defer b.Unsubscribe(storeSub)

	allSub := b.Subscribe("")
	defer b.Unsubscribe(allSub)

	b.Publish(TopicCompactionRun, CompactionRunEvent{Evicted: 3})
	b.Publish(TopicWALAppendFailed, WALAppendFailedEvent{EventID: "e"})

	// storeSub receives the compaction event only.
	select {
	case event := <-storeSub.Ch():
		if event.Topic != TopicCompactionRun {
			t.Fatalf("topic = %q, want %q", event.Topic, TopicCompactionRun)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for store event")
	}
	select {
	case event := <-storeSub.Ch():
		t.Fatalf("unexpected event on storeSub: %v", event)
	case <-time.After(50 * time.Millisecond):
	}

	// allSub receives both.
	for i := 0; i < 2; i++ {
		select {
		case <-allSub.Ch():
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event on allSub")
		}
	}
}

func TestBus_NonBlocking(t *testing.T) {
	b := New()
	sub := b.Subscribe("store.")
	defer b.Unsubscribe(sub)

	// Overfill the buffer; Publish must never block.
	for i := 0; i < defaultBufferSize+10; i++ {
		b.Publish(TopicMalformedRecord, MalformedRecordEvent{Line: i + 1})
	}

	count := 0
	for {
		select {
		case <-sub.Ch():
			count++
		default:
			if count != defaultBufferSize {
				t.Fatalf("received %d events, want %d (buffer size)", count, defaultBufferSize)
			}
			return
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	b.Unsubscribe(sub)
	if n := b.SubscriberCount(); n != 0 {
		t.Fatalf("SubscriberCount() = %d, want 0", n)
	}
	// Double unsubscribe is a no-op.
	b.Unsubscribe(sub)
	b.Publish(TopicCompactionRun, nil)
}
