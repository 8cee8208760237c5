package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"kasirinaja/dinein/internal/domain"
	"kasirinaja/dinein/internal/lock"
	"kasirinaja/dinein/internal/realtime"
	"kasirinaja/dinein/internal/store"
	"kasirinaja/dinein/internal/xid"
)

// ErrForbidden is returned when the acting role may not perform an operation.
var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

func actorOf(ctx context.Context) domain.Actor {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{Username: "system", Role: "system"}
	}
	return actor
}

// Service owns every mutation of orders and invoices. Mutations on one
// aggregate are serialized by a keyed lock that stays held until the
// resulting events are published, so subscribers observe commit order.
type Service struct {
	repo   store.Repository
	events realtime.Publisher
	locks  *lock.Keyed
}

func New(repo store.Repository, events realtime.Publisher) *Service {
	if events == nil {
		events = realtime.NopPublisher{}
	}
	return &Service{
		repo:   repo,
		events: events,
		locks:  lock.NewKeyed(),
	}
}

func orderKey(id string) string {
	return "order:" + id
}

func invoiceKey(id string) string {
	return "invoice:" + id
}

func (s *Service) lockOrders(ids ...string) func() {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, orderKey(id))
	}
	return s.locks.Lock(keys...)
}

// lockItemOrder resolves the order owning itemID and locks it. A merge may
// move the item between lookup and lock, so ownership is checked again.
func (s *Service) lockItemOrder(ctx context.Context, itemID string) (string, func(), error) {
	for attempt := 0; attempt < 3; attempt++ {
		orderID, err := s.repo.FindOrderIDByItem(ctx, itemID)
		if err != nil {
			return "", nil, err
		}
		unlock := s.lockOrders(orderID)
		current, err := s.repo.FindOrderIDByItem(ctx, itemID)
		if err == nil && current == orderID {
			return orderID, unlock, nil
		}
		unlock()
		if err != nil {
			return "", nil, err
		}
	}
	return "", nil, store.ErrStaleAggregate
}

// checkVersion rejects a request made against an older read of order. Zero
// means the caller did not ask for the check.
func checkVersion(order *domain.Order, expected int64) error {
	if expected > 0 && expected != order.Version {
		return fmt.Errorf("order %s at version %d, expected %d: %w", order.ID, order.Version, expected, store.ErrStaleAggregate)
	}
	return nil
}

// Committed is a change after a successful commit together with the order
// versions it started from.
type Committed struct {
	*store.OrderChange
	before map[string]int64
}

// Touched reports whether the order was inserted or rewritten by the change.
func (c Committed) Touched(id string) bool {
	order, ok := c.Get(id)
	if !ok {
		return false
	}
	version, existed := c.before[id]
	return !existed || version != order.Version
}

// commitLocked runs fn through the repository and publishes the events that
// build derives from the committed change. The caller holds the order locks.
func (s *Service) commitLocked(
	ctx context.Context,
	ids []string,
	fn func(*store.OrderChange) error,
	build func(Committed) []realtime.Event,
) (Committed, []realtime.Event, error) {
	before := make(map[string]int64, len(ids))
	change, err := s.repo.UpdateOrders(ctx, ids, func(c *store.OrderChange) error {
		for _, order := range c.Orders() {
			before[order.ID] = order.Version
		}
		return fn(c)
	})
	if err != nil {
		return Committed{}, nil, err
	}
	committed := Committed{OrderChange: change, before: before}
	var published []realtime.Event
	if build != nil {
		published = s.publish(ctx, build(committed)...)
	}
	return committed, published, nil
}

// publish delivers events best-effort. A committed change is never undone
// because the transport is down.
func (s *Service) publish(ctx context.Context, events ...realtime.Event) []realtime.Event {
	ctx = context.WithoutCancel(ctx)
	actor := actorOf(ctx).Username
	published := make([]realtime.Event, 0, len(events))
	for _, ev := range events {
		if ev.Actor == "" {
			ev.Actor = actor
		}
		out, err := s.events.Publish(ctx, ev)
		if err != nil {
			log.Printf("[service] WARN: publish %s to %s: %v", ev.Type, ev.Room, err)
			continue
		}
		published = append(published, out)
	}
	return published
}

func event(room string, eventType string, aggregateID string, payload any) realtime.Event {
	ev, err := realtime.NewEvent(room, eventType, aggregateID, "", payload)
	if err != nil {
		log.Printf("[service] WARN: encode %s payload: %v", eventType, err)
	}
	return ev
}

func orderUpdated(order domain.Order, reason string) realtime.Event {
	return event(realtime.OrderRoom(order.ID), realtime.EventOrderUpdated, order.ID, realtime.OrderUpdated{
		OrderID: order.ID,
		State:   order.State,
		Status:  order.Status,
		Version: order.Version,
		Reason:  reason,
	})
}

// updatedEvents emits order.updated for every order the change wrote.
func updatedEvents(c Committed, reason string) []realtime.Event {
	events := make([]realtime.Event, 0, 2)
	for _, order := range c.Orders() {
		if c.Touched(order.ID) {
			events = append(events, orderUpdated(order, reason))
		}
	}
	return events
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor := actorOf(ctx)
	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, entityType string, entityID string, limit int) ([]domain.AuditLog, error) {
	return s.repo.ListAuditLogs(ctx, entityType, entityID, limit)
}
