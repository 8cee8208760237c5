package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kasirinaja/dinein/internal/domain"
	"kasirinaja/dinein/internal/kitchen"
	"kasirinaja/dinein/internal/realtime"
	"kasirinaja/dinein/internal/store"
	"kasirinaja/dinein/internal/xid"
)

var voidSources = map[string]bool{
	domain.VoidSourceCashier: true,
	domain.VoidSourceWaiter:  true,
	domain.VoidSourceKitchen: true,
	domain.VoidSourceSystem:  true,
}

// voidSource picks the requested source, or derives it from the actor's role.
func voidSource(ctx context.Context, requested string) (string, error) {
	requested = strings.ToLower(strings.TrimSpace(requested))
	if requested != "" {
		if !voidSources[requested] {
			return "", fmt.Errorf("void source %q: %w", requested, store.ErrInvalidTransaction)
		}
		return requested, nil
	}
	switch actorOf(ctx).Role {
	case domain.RoleKitchen:
		return domain.VoidSourceKitchen, nil
	case domain.RoleWaiter:
		return domain.VoidSourceWaiter, nil
	case "system":
		return domain.VoidSourceSystem, nil
	default:
		return domain.VoidSourceCashier, nil
	}
}

// applyVoid takes qty off a live line and records the matching void event in
// the same change. The caller has validated qty.
func applyVoid(c *store.OrderChange, order *domain.Order, idx int, qty int, source string, actor string, reason string) domain.VoidEvent {
	item := &order.Items[idx]
	item.Qty -= qty
	item.VoidedQty += qty
	if item.Qty == 0 {
		item.Status = domain.ItemStatusCancelled
	}
	item.UpdatedAt = c.Now()

	v := domain.VoidEvent{
		ID:          xid.New("void"),
		OrderID:     order.ID,
		OrderItemID: item.ID,
		MenuItemID:  item.MenuItemID,
		TableName:   order.TableName,
		Qty:         qty,
		Source:      source,
		Actor:       actor,
		Reason:      reason,
		CreatedAt:   c.Now(),
	}
	c.RecordVoid(v)
	return v
}

// VoidItem cancels qty units of a line. The request is checked against the
// live quantity read under the order lock, so a stale request that asks for
// more than is left fails with ErrOverVoid.
func (s *Service) VoidItem(ctx context.Context, orderID string, itemID string, req domain.VoidRequest) (domain.VoidResult, error) {
	if req.Qty < 1 {
		return domain.VoidResult{}, fmt.Errorf("void qty %d: %w", req.Qty, store.ErrInvalidQuantity)
	}
	return s.voidLine(ctx, orderID, itemID, req, false)
}

// voidLine voids req.Qty units, or with all set whatever is still live when
// the lock is held. An empty orderID is resolved from the item.
func (s *Service) voidLine(ctx context.Context, orderID string, itemID string, req domain.VoidRequest, all bool) (domain.VoidResult, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.VoidResult{}, fmt.Errorf("void reason required: %w", store.ErrInvalidTransaction)
	}
	source, err := voidSource(ctx, req.Source)
	if err != nil {
		return domain.VoidResult{}, err
	}
	actor := actorOf(ctx).Username

	var unlock func()
	if strings.TrimSpace(orderID) == "" {
		orderID, unlock, err = s.lockItemOrder(ctx, itemID)
		if err != nil {
			return domain.VoidResult{}, err
		}
	} else {
		unlock = s.lockOrders(orderID)
	}
	defer unlock()

	var voided domain.VoidEvent
	var ticketID string
	committed, published, err := s.commitLocked(ctx, []string{orderID}, func(c *store.OrderChange) error {
		order, err := c.Order(orderID)
		if err != nil {
			return err
		}
		if order.State != domain.OrderStateOpen {
			return fmt.Errorf("order %s is %s: %w", order.ID, order.State, store.ErrOrderNotOpen)
		}
		idx, ok := order.FindItem(itemID)
		if !ok {
			return fmt.Errorf("item %s: %w", itemID, store.ErrNotFound)
		}
		if err := checkVersion(order, req.ExpectedVersion); err != nil {
			return err
		}
		item := order.Items[idx]
		if item.Status == domain.ItemStatusServed {
			return fmt.Errorf("item %s already served: %w", item.ID, store.ErrInvalidTransition)
		}
		qty := req.Qty
		if all {
			if !item.IsLive() {
				return fmt.Errorf("item %s %s -> %s: %w", item.ID, item.Status, domain.ItemStatusCancelled, store.ErrInvalidTransition)
			}
			qty = item.Qty
		}
		if !item.IsLive() || qty > item.Qty {
			return fmt.Errorf("item %s live %d, void %d: %w", item.ID, item.Qty, qty, store.ErrOverVoid)
		}
		ticketID = kitchen.TicketKey(item)
		voided = applyVoid(c, order, idx, qty, source, actor, reason)
		return nil
	}, func(c Committed) []realtime.Event {
		payload := realtime.VoidSynced{
			OrderID:     voided.OrderID,
			MenuItemID:  voided.MenuItemID,
			OrderItemID: voided.OrderItemID,
			Qty:         voided.Qty,
			Reason:      voided.Reason,
			By:          voided.Actor,
			TicketID:    ticketID,
		}
		return append([]realtime.Event{
			event(realtime.KitchenRoom, realtime.EventVoidSynced, orderID, payload),
			event(realtime.OrderRoom(orderID), realtime.EventVoidSynced, orderID, payload),
		}, updatedEvents(c, "item_voided")...)
	})
	if err != nil {
		return domain.VoidResult{}, err
	}

	order, _ := committed.Get(orderID)
	idx, _ := order.FindItem(itemID)
	result := domain.VoidResult{Void: voided, Item: order.Items[idx]}
	for _, ev := range published {
		if ev.Type == realtime.EventVoidSynced && ev.Room == realtime.KitchenRoom {
			result.EventID = ev.ID
		}
	}
	s.logAudit(ctx, "order.void_item", "order_item", itemID, fmt.Sprintf("qty=%d source=%s reason=%s", voided.Qty, source, reason))
	return result, nil
}

// CancelOrder voids every live line and closes the order. Orders that already
// served something must be checked out instead.
func (s *Service) CancelOrder(ctx context.Context, orderID string, req domain.CancelOrderRequest) (domain.CancelOrderResult, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.CancelOrderResult{}, fmt.Errorf("cancel reason required: %w", store.ErrInvalidTransaction)
	}
	source, err := voidSource(ctx, req.Source)
	if err != nil {
		return domain.CancelOrderResult{}, err
	}
	actor := actorOf(ctx).Username

	unlock := s.lockOrders(orderID)
	defer unlock()

	voids := make([]domain.VoidEvent, 0, 4)
	committed, published, err := s.commitLocked(ctx, []string{orderID}, func(c *store.OrderChange) error {
		order, err := c.Order(orderID)
		if err != nil {
			return err
		}
		if order.State != domain.OrderStateOpen {
			return fmt.Errorf("order %s is %s: %w", order.ID, order.State, store.ErrOrderNotOpen)
		}
		for _, item := range order.Items {
			if item.IsLive() && item.Status == domain.ItemStatusServed {
				return fmt.Errorf("item %s already served: %w", item.ID, store.ErrInvalidTransition)
			}
		}
		for i := range order.Items {
			if order.Items[i].IsLive() {
				voids = append(voids, applyVoid(c, order, i, order.Items[i].Qty, source, actor, reason))
			}
		}
		closedAt := c.Now()
		order.State = domain.OrderStateClosed
		order.ClosedAt = &closedAt
		order.Notes = appendNote(order.Notes, "cancelled: "+reason)
		return nil
	}, func(c Committed) []realtime.Event {
		events := updatedEvents(c, "order_cancelled")
		if len(voids) == 0 {
			return events
		}
		items := make([]realtime.VoidedItem, 0, len(voids))
		for _, v := range voids {
			items = append(items, realtime.VoidedItem{MenuItemID: v.MenuItemID, Qty: v.Qty, Reason: v.Reason, By: v.Actor})
		}
		payload := realtime.TicketsVoided{OrderID: orderID, Items: items}
		return append([]realtime.Event{
			event(realtime.KitchenRoom, realtime.EventTicketsVoided, orderID, payload),
			event(realtime.OrderRoom(orderID), realtime.EventTicketsVoided, orderID, payload),
		}, events...)
	})
	if err != nil {
		return domain.CancelOrderResult{}, err
	}

	order, _ := committed.Get(orderID)
	result := domain.CancelOrderResult{Order: order, Voids: voids}
	for _, ev := range published {
		if ev.Type == realtime.EventTicketsVoided && ev.Room == realtime.KitchenRoom {
			result.EventID = ev.ID
		}
	}
	s.logAudit(ctx, "order.cancel", "order", orderID, fmt.Sprintf("voided_lines=%d reason=%s", len(voids), reason))
	return result, nil
}

func (s *Service) ListVoids(ctx context.Context, orderID string) ([]domain.VoidEvent, error) {
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListVoidEvents(ctx, orderID)
}

func appendNote(notes string, note string) string {
	stamp := time.Now().UTC().Format(time.RFC3339)
	if strings.TrimSpace(notes) == "" {
		return fmt.Sprintf("[%s] %s", stamp, note)
	}
	return fmt.Sprintf("%s\n[%s] %s", notes, stamp, note)
}
