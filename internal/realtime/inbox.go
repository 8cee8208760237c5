package realtime

import (
	"context"
	"sync"
)

type Handler func(Event)

const maxSeenEvents = 1024

// Inbox is the receiving side of a session. State handlers run once per
// event id; notify handlers are also skipped for events the session caused.
type Inbox struct {
	actor string

	mu       sync.Mutex
	handlers map[string][]Handler
	notify   map[string][]Handler
	seen     map[string]struct{}
	order    []string
	acked    map[string]struct{}
}

// NewInbox builds an inbox for the session acting as actor.
func NewInbox(actor string) *Inbox {
	return &Inbox{
		actor:    actor,
		handlers: make(map[string][]Handler),
		notify:   make(map[string][]Handler),
		seen:     make(map[string]struct{}),
		acked:    make(map[string]struct{}),
	}
}

// On registers a handler that reconciles local state.
func (i *Inbox) On(eventType string, handler Handler) {
	i.mu.Lock()
	i.handlers[eventType] = append(i.handlers[eventType], handler)
	i.mu.Unlock()
}

// OnNotify registers a handler that alerts the operator.
func (i *Inbox) OnNotify(eventType string, handler Handler) {
	i.mu.Lock()
	i.notify[eventType] = append(i.notify[eventType], handler)
	i.mu.Unlock()
}

// Ack marks an event id as produced by this session.
func (i *Inbox) Ack(eventID string) {
	if eventID == "" {
		return
	}
	i.mu.Lock()
	i.acked[eventID] = struct{}{}
	i.mu.Unlock()
}

// Dispatch runs the handlers for ev. It returns false when ev was already seen.
func (i *Inbox) Dispatch(ev Event) bool {
	i.mu.Lock()
	if _, dup := i.seen[ev.ID]; dup && ev.ID != "" {
		i.mu.Unlock()
		return false
	}
	if ev.ID != "" {
		i.remember(ev.ID)
	}
	state := append([]Handler(nil), i.handlers[ev.Type]...)
	var alerts []Handler
	if !i.ownLocked(ev) {
		alerts = append(alerts, i.notify[ev.Type]...)
	}
	i.mu.Unlock()

	for _, h := range state {
		h(ev)
	}
	for _, h := range alerts {
		h(ev)
	}
	return true
}

// Consume dispatches from events until the channel closes or ctx ends.
func (i *Inbox) Consume(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			i.Dispatch(ev)
		}
	}
}

// ownLocked reports whether the session caused ev: either it acknowledged the
// exact id, or the event names this session's actor.
func (i *Inbox) ownLocked(ev Event) bool {
	if _, ok := i.acked[ev.ID]; ok {
		delete(i.acked, ev.ID)
		return true
	}
	return i.actor != "" && ev.Actor == i.actor
}

func (i *Inbox) remember(id string) {
	i.seen[id] = struct{}{}
	i.order = append(i.order, id)
	if len(i.order) > maxSeenEvents {
		oldest := i.order[0]
		i.order = i.order[1:]
		delete(i.seen, oldest)
	}
}
