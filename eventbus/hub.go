package eventbus

import (
	"context"
	"sync"
	"time"
)

// heartbeatInterval is how long a subscriber may go without receiving any
// event before the hub emits a synthetic ping, per spec.md §4.4.
const heartbeatInterval = 30 * time.Second

// heartbeatSweep is how often the background goroutine checks for idle
// subscribers. Shorter than heartbeatInterval so no subscriber waits much
// longer than the documented 30s before its ping arrives.
const heartbeatSweep = 5 * time.Second

type subscriberEntry struct {
	userID   string
	role     Role
	sub      Subscriber
	lastSent time.Time
}

type runChannel struct {
	mu          sync.Mutex
	subscribers map[string]*subscriberEntry // keyed by userID
}

// Hub manages channel presence (one channel per run_id) and applies the
// shadow.hint-to-driver/approver-only filter from spec.md §4.4. Every
// Publish mirrors to a MemoryBus unconditionally and, when redis is
// non-nil, to the shared pub/sub store as well.
type Hub struct {
	mirror *MemoryBus
	redis  *RedisBus

	mu       sync.Mutex
	channels map[string]*runChannel

	stop chan struct{}
}

// NewHub constructs a Hub. redis may be nil to run in-process only.
func NewHub(redis *RedisBus) *Hub {
	h := &Hub{
		mirror:   NewMemoryBus(),
		redis:    redis,
		channels: make(map[string]*runChannel),
		stop:     make(chan struct{}),
	}
	go h.heartbeatLoop()
	return h
}

// Close stops the heartbeat goroutine. Safe to call once.
func (h *Hub) Close() {
	close(h.stop)
}

// Subscribe registers a subscriber for runID under (userID, role),
// broadcasting a presence.update event to the channel.
func (h *Hub) Subscribe(runID, userID string, role Role, sub Subscriber) {
	ch := h.channelFor(runID)
	ch.mu.Lock()
	ch.subscribers[userID] = &subscriberEntry{userID: userID, role: role, sub: sub, lastSent: time.Now()}
	ch.mu.Unlock()

	h.Publish(context.Background(), Event{
		TimestampUTC: time.Now().UTC(),
		RunID:        runID,
		EventType:    TypePresenceUpdate,
		Payload:      map[string]string{"user_id": userID, "role": string(role), "action": "joined"},
	})
}

// Unsubscribe removes userID from runID's presence list, broadcasts
// presence.update, and drops the channel entirely once it's empty.
func (h *Hub) Unsubscribe(runID, userID string) {
	h.mu.Lock()
	ch, ok := h.channels[runID]
	h.mu.Unlock()
	if !ok {
		return
	}

	ch.mu.Lock()
	delete(ch.subscribers, userID)
	empty := len(ch.subscribers) == 0
	ch.mu.Unlock()

	h.Publish(context.Background(), Event{
		TimestampUTC: time.Now().UTC(),
		RunID:        runID,
		EventType:    TypePresenceUpdate,
		Payload:      map[string]string{"user_id": userID, "action": "left"},
	})

	if empty {
		h.mu.Lock()
		if c, ok := h.channels[runID]; ok && len(c.subscribers) == 0 {
			delete(h.channels, runID)
		}
		h.mu.Unlock()
	}
}

// Publish mirrors event to the in-process fallback, optionally publishes it
// to the shared store, and fans it out to every eligible local subscriber
// of event.RunID, evicting any subscriber whose Send fails.
func (h *Hub) Publish(ctx context.Context, event Event) {
	h.mirror.Publish(event)
	if h.redis != nil {
		_ = h.redis.Publish(ctx, event)
	}

	h.mu.Lock()
	ch, ok := h.channels[event.RunID]
	h.mu.Unlock()
	if !ok {
		return
	}

	ch.mu.Lock()
	h.deliverLocked(ch, event)
	empty := len(ch.subscribers) == 0
	ch.mu.Unlock()

	if empty {
		h.mu.Lock()
		if c, ok := h.channels[event.RunID]; ok && len(c.subscribers) == 0 {
			delete(h.channels, event.RunID)
		}
		h.mu.Unlock()
	}
}

// deliverLocked sends event to every subscriber for whom visibleTo permits
// it, removing any subscriber whose Send fails (spec.md §4.4 "dead
// subscribers are removed"). Caller holds ch.mu.
func (h *Hub) deliverLocked(ch *runChannel, event Event) {
	for userID, entry := range ch.subscribers {
		if !visibleTo(event.EventType, entry.role) {
			continue
		}
		if err := entry.sub.Send(event); err != nil {
			_ = entry.sub.Close()
			delete(ch.subscribers, userID)
			continue
		}
		entry.lastSent = time.Now()
	}
}

func (h *Hub) channelFor(runID string) *runChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[runID]
	if !ok {
		ch = &runChannel{subscribers: make(map[string]*subscriberEntry)}
		h.channels[runID] = ch
	}
	return ch
}

// heartbeatLoop periodically pings any subscriber that has gone
// heartbeatInterval without receiving an event.
func (h *Hub) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatSweep)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.sweepIdle()
		}
	}
}

func (h *Hub) sweepIdle() {
	h.mu.Lock()
	runIDs := make([]string, 0, len(h.channels))
	for runID := range h.channels {
		runIDs = append(runIDs, runID)
	}
	h.mu.Unlock()

	now := time.Now()
	for _, runID := range runIDs {
		h.mu.Lock()
		ch, ok := h.channels[runID]
		h.mu.Unlock()
		if !ok {
			continue
		}

		ch.mu.Lock()
		var idle []string
		for userID, entry := range ch.subscribers {
			if now.Sub(entry.lastSent) >= heartbeatInterval {
				idle = append(idle, userID)
			}
		}
		ch.mu.Unlock()

		if len(idle) == 0 {
			continue
		}
		h.Publish(context.Background(), Event{
			TimestampUTC: now.UTC(),
			RunID:        runID,
			EventType:    TypeHeartbeat,
		})
	}
}
