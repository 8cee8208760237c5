package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"kasirinaja/dinein/internal/xid"
)

// subscriber is a room member: a websocket client or an in-process
// subscription. offer must not block.
type subscriber interface {
	offer(ev Event, frame []byte) bool
	closeSend()
}

// Relay forwards locally published events to other instances.
type Relay interface {
	Forward(ctx context.Context, ev Event) error
}

// Hub maintains room membership and fans events out from a single loop, so
// subscribers see events in the order they were published.
type Hub struct {
	origin string

	mu      sync.RWMutex
	rooms   map[string]map[subscriber]bool
	members map[subscriber]map[string]bool
	relay   Relay
	closed  bool

	broadcast chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewHub() *Hub {
	return &Hub{
		origin:    xid.New("node"),
		rooms:     make(map[string]map[subscriber]bool),
		members:   make(map[subscriber]map[string]bool),
		broadcast: make(chan Event, 256),
		done:      make(chan struct{}),
	}
}

// Origin identifies this hub on a shared relay.
func (h *Hub) Origin() string {
	return h.origin
}

func (h *Hub) SetRelay(relay Relay) {
	h.mu.Lock()
	h.relay = relay
	h.mu.Unlock()
}

// Run fans out published events until ctx ends, then closes every member.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.broadcast:
			h.fanout(ev)
		}
	}
}

// Publish stamps ev and queues it for fan-out. The stamped event is returned
// so callers can reference its id.
func (h *Hub) Publish(ctx context.Context, ev Event) (Event, error) {
	if ev.ID == "" {
		ev.ID = xid.New("evt")
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	ev.Origin = h.origin
	if err := h.enqueue(ctx, ev); err != nil {
		return ev, err
	}

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay != nil {
		if err := relay.Forward(ctx, ev); err != nil {
			log.Printf("[realtime] WARN: relay event %s (%s): %v", ev.ID, ev.Type, err)
		}
	}
	return ev, nil
}

// Emit publishes payload to room without an actor.
func (h *Hub) Emit(room string, eventType string, payload any) (Event, error) {
	ev, err := NewEvent(room, eventType, "", "", payload)
	if err != nil {
		return Event{}, err
	}
	return h.Publish(context.Background(), ev)
}

// deliver queues an event received from another instance without relaying it again.
func (h *Hub) deliver(ctx context.Context, ev Event) error {
	return h.enqueue(ctx, ev)
}

func (h *Hub) enqueue(ctx context.Context, ev Event) error {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return ErrTransportUnavailable
	}
	select {
	case h.broadcast <- ev:
		return nil
	case <-h.done:
		return ErrTransportUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

// attach registers sub with no rooms so a later drop still closes it.
func (h *Hub) attach(sub subscriber) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrTransportUnavailable
	}
	if h.members[sub] == nil {
		h.members[sub] = make(map[string]bool)
	}
	return nil
}

func (h *Hub) join(room string, sub subscriber) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrTransportUnavailable
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[subscriber]bool)
	}
	h.rooms[room][sub] = true
	if h.members[sub] == nil {
		h.members[sub] = make(map[string]bool)
	}
	h.members[sub][room] = true
	return nil
}

func (h *Hub) leave(room string, sub subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.rooms[room]; ok {
		delete(clients, sub)
		if len(clients) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.members[sub]; ok {
		delete(rooms, room)
	}
}

// drop removes sub from every room and closes its outbound channel once.
func (h *Hub) drop(sub subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(sub)
}

func (h *Hub) dropLocked(sub subscriber) {
	rooms, ok := h.members[sub]
	if !ok {
		return
	}
	for room := range rooms {
		if clients, ok := h.rooms[room]; ok {
			delete(clients, sub)
			if len(clients) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	delete(h.members, sub)
	sub.closeSend()
}

func (h *Hub) fanout(ev Event) {
	frame, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[realtime] WARN: encode event %s: %v", ev.ID, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.rooms[ev.Room] {
		if !sub.offer(ev, frame) {
			log.Printf("[realtime] WARN: dropping slow subscriber in room %s", ev.Room)
			h.dropLocked(sub)
		}
	}
}

func (h *Hub) shutdown() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		for sub := range h.members {
			h.dropLocked(sub)
		}
		h.mu.Unlock()
		close(h.done)
	})
}

// RoomSize reports how many members are in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
