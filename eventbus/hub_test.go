package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSubscriber struct {
	mu       sync.Mutex
	received []Event
	failNext bool
	closed   bool
}

func (f *fakeSubscriber) Send(e Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return errors.New("write failed")
	}
	f.received = append(f.received, e)
	return nil
}

func (f *fakeSubscriber) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSubscriber) events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, len(f.received))
	copy(out, f.received)
	return out
}

func TestHub_PublishDeliversToSubscriber(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	sub := &fakeSubscriber{}
	h.Subscribe("run-1", "user-1", RoleDriver, sub)

	h.Publish(context.Background(), Event{RunID: "run-1", EventType: TypeRunProgress})

	events := sub.events()
	if len(events) == 0 {
		t.Fatal("expected at least the progress event to be delivered")
	}
	found := false
	for _, e := range events {
		if e.EventType == TypeRunProgress {
			found = true
		}
	}
	if !found {
		t.Error("expected a progress event among delivered events")
	}
}

func TestHub_ShadowHintOnlyToDriverAndApprover(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	driver := &fakeSubscriber{}
	shadow := &fakeSubscriber{}
	h.Subscribe("run-1", "driver-1", RoleDriver, driver)
	h.Subscribe("run-1", "shadow-1", RoleShadow, shadow)

	h.Publish(context.Background(), Event{RunID: "run-1", EventType: TypeShadowHint})

	driverHasHint := false
	for _, e := range driver.events() {
		if e.EventType == TypeShadowHint {
			driverHasHint = true
		}
	}
	if !driverHasHint {
		t.Error("expected driver to receive shadow_hint")
	}
	for _, e := range shadow.events() {
		if e.EventType == TypeShadowHint {
			t.Error("expected shadow role not to receive shadow_hint")
		}
	}
}

func TestHub_DeadSubscriberIsEvicted(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	sub := &fakeSubscriber{failNext: true}
	h.Subscribe("run-1", "user-1", RoleDriver, sub)

	h.Publish(context.Background(), Event{RunID: "run-1", EventType: TypeRunProgress})

	if !sub.closed {
		t.Error("expected a failed Send to close and evict the subscriber")
	}

	// A second publish should find no subscribers left, and since the
	// channel emptied out it should have been dropped.
	h.Publish(context.Background(), Event{RunID: "run-1", EventType: TypeRunProgress})
}

func TestHub_UnsubscribeDropsEmptyChannel(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	sub := &fakeSubscriber{}
	h.Subscribe("run-1", "user-1", RoleDriver, sub)
	h.Unsubscribe("run-1", "user-1")

	h.mu.Lock()
	_, exists := h.channels["run-1"]
	h.mu.Unlock()
	if exists {
		t.Error("expected the channel to be dropped once its last subscriber unsubscribed")
	}
}

func TestHub_PublishAlwaysMirrorsToMemoryBus(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	h.Publish(context.Background(), Event{RunID: "run-1", EventType: TypeRunStarted})

	mirrored := h.mirror.Peek("run-1")
	if len(mirrored) != 1 {
		t.Fatalf("expected the fallback mirror to hold 1 event, got %d", len(mirrored))
	}
}

func TestHub_HeartbeatSentAfterIdlePeriod(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	sub := &fakeSubscriber{}
	h.Subscribe("run-1", "user-1", RoleDriver, sub)

	ch := h.channelFor("run-1")
	ch.mu.Lock()
	ch.subscribers["user-1"].lastSent = time.Now().Add(-time.Hour)
	ch.mu.Unlock()

	h.sweepIdle()

	found := false
	for _, e := range sub.events() {
		if e.EventType == TypeHeartbeat {
			found = true
		}
	}
	if !found {
		t.Error("expected a heartbeat ping for a long-idle subscriber")
	}
}
