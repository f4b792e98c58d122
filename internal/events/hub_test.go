package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()

	h := NewHub(16)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(TypeRunStarted, RunPayload{Module: "echo", ExecutionID: "e1"})

	select {
	case ev := <-ch:
		if ev.Type != TypeRunStarted || ev.ID != 1 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSnapshotSinceReplaysForLateSubscribers(t *testing.T) {
	t.Parallel()

	h := NewHub(4)
	for i := 0; i < 6; i++ {
		h.Publish(TypeSchedulerTick, nil)
	}

	// Ring holds the newest 4 events (IDs 3..6).
	all := h.SnapshotSince(0)
	if len(all) != 4 || all[0].ID != 3 || all[3].ID != 6 {
		t.Fatalf("unexpected snapshot: %+v", all)
	}

	newer := h.SnapshotSince(4)
	if len(newer) != 2 || newer[0].ID != 5 {
		t.Fatalf("unexpected filtered snapshot: %+v", newer)
	}
}

func TestSlowSubscriberNeverBlocksPublish(t *testing.T) {
	t.Parallel()

	h := NewHub(8)
	_, cancel := h.Subscribe() // never read
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.Publish(TypeRunStarted, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked by unread subscriber")
	}
}
