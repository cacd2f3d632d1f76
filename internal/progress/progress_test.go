package progress

import (
	"testing"
)

func TestSubscribeReceivesPublished(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(Event{Type: EventRunStarted, RunID: "run-1"})

	ev := <-ch
	if ev.Type != EventRunStarted || ev.RunID != "run-1" {
		t.Fatalf("received %+v, want run_started for run-1", ev)
	}
	if ev.At.IsZero() {
		t.Fatalf("At not stamped")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster()
	_, cancel := b.Subscribe() // never drained
	defer cancel()

	// More events than the subscriber buffer; Publish must not block.
	for i := 0; i < subscriberBuffer*2; i++ {
		b.Publish(Event{Type: EventProgress, RunID: "run-1"})
	}
}

func TestCancelClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatalf("channel open after cancel, want closed")
	}
	// Publishing after cancel must not panic.
	b.Publish(Event{Type: EventLog})
}
