package realtime

import (
	"context"
	"sync"
)

// Manager hands out scoped in-process room subscriptions on top of a hub.
type Manager struct {
	hub *Hub

	mu     sync.Mutex
	active map[*Subscription]struct{}
}

func NewManager(hub *Hub) *Manager {
	return &Manager{hub: hub, active: make(map[*Subscription]struct{})}
}

// Subscription receives the events of one room until released. Its channel
// is closed on release, on hub shutdown, or when it falls too far behind.
type Subscription struct {
	room    string
	events  chan Event
	manager *Manager
	once    sync.Once
}

func (s *Subscription) offer(ev Event, _ []byte) bool {
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscription) closeSend() {
	close(s.events)
}

func (s *Subscription) Room() string {
	return s.room
}

func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Release leaves the room. Safe to call more than once.
func (s *Subscription) Release() {
	s.once.Do(func() {
		s.manager.hub.drop(s)
		s.manager.mu.Lock()
		delete(s.manager.active, s)
		s.manager.mu.Unlock()
	})
}

// Acquire joins room. It fails with ErrTransportUnavailable once the hub has
// shut down.
func (m *Manager) Acquire(ctx context.Context, room string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ValidRoom(room) {
		return nil, ErrInvalidRoom
	}
	sub := &Subscription{room: room, events: make(chan Event, 32), manager: m}
	if err := m.hub.join(room, sub); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.active[sub] = struct{}{}
	m.mu.Unlock()
	return sub, nil
}

// Active reports how many subscriptions have not been released.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
