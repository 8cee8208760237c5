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

func (s *Service) ListMenu(ctx context.Context) ([]domain.MenuItem, error) {
	return s.repo.ListMenu(ctx)
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) ListOrders(ctx context.Context, states ...string) ([]domain.Order, error) {
	return s.repo.ListOrders(ctx, states...)
}

func (s *Service) OpenOrder(ctx context.Context, req domain.OpenOrderRequest) (domain.Order, error) {
	tableID := strings.TrimSpace(req.TableID)
	if tableID == "" {
		return domain.Order{}, store.ErrInvalidTransaction
	}
	table, err := s.repo.GetTable(ctx, tableID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("table %s: %w", tableID, err)
	}

	order, err := s.repo.CreateOrder(ctx, domain.Order{
		ID:        xid.New("order"),
		TableID:   table.ID,
		TableName: table.Name,
		State:     domain.OrderStateOpen,
		Notes:     strings.TrimSpace(req.Notes),
		Items:     []domain.OrderItem{},
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.publish(ctx, orderUpdated(*order, "opened"))
	s.logAudit(ctx, "order.open", "order", order.ID, "table="+table.ID)
	return *order, nil
}

// AddItems appends PENDING lines priced from the menu. A line that is still
// PENDING, has not gone to the kitchen and carries the same menu item and
// note absorbs the added quantity instead.
func (s *Service) AddItems(ctx context.Context, orderID string, req domain.AddItemsRequest) (domain.Order, error) {
	if len(req.Items) == 0 {
		return domain.Order{}, store.ErrInvalidTransaction
	}
	menuIDs := make([]string, 0, len(req.Items))
	for i, in := range req.Items {
		if strings.TrimSpace(in.MenuItemID) == "" {
			return domain.Order{}, fmt.Errorf("item[%d]: %w", i, store.ErrInvalidTransaction)
		}
		if in.Qty < 1 {
			return domain.Order{}, fmt.Errorf("item[%d]: %w", i, store.ErrInvalidQuantity)
		}
		menuIDs = append(menuIDs, strings.TrimSpace(in.MenuItemID))
	}
	menu, err := s.repo.GetMenuItems(ctx, menuIDs)
	if err != nil {
		return domain.Order{}, err
	}
	for _, id := range menuIDs {
		if item, ok := menu[id]; !ok || !item.Active {
			return domain.Order{}, fmt.Errorf("menu item %s: %w", id, store.ErrNotFound)
		}
	}

	unlock := s.lockOrders(orderID)
	defer unlock()

	committed, _, err := s.commitLocked(ctx, []string{orderID}, func(c *store.OrderChange) error {
		order, err := c.Order(orderID)
		if err != nil {
			return err
		}
		if order.State != domain.OrderStateOpen {
			return fmt.Errorf("order %s is %s: %w", order.ID, order.State, store.ErrOrderNotOpen)
		}
		if err := checkVersion(order, req.ExpectedVersion); err != nil {
			return err
		}

		now := c.Now()
		for _, in := range req.Items {
			menuItem := menu[strings.TrimSpace(in.MenuItemID)]
			note := strings.TrimSpace(in.Note)
			if idx, ok := mergeableLine(*order, menuItem.ID, note); ok {
				order.Items[idx].Qty += in.Qty
				order.Items[idx].OriginalQty += in.Qty
				order.Items[idx].UpdatedAt = now
				continue
			}
			order.Items = append(order.Items, domain.OrderItem{
				ID:             xid.New("item"),
				OrderID:        order.ID,
				MenuItemID:     menuItem.ID,
				Name:           menuItem.Name,
				Qty:            in.Qty,
				OriginalQty:    in.Qty,
				UnitPriceCents: menuItem.PriceCents,
				Note:           note,
				Status:         domain.ItemStatusPending,
				CreatedAt:      now,
				UpdatedAt:      now,
			})
		}
		return nil
	}, func(c Committed) []realtime.Event {
		return updatedEvents(c, "items_added")
	})
	if err != nil {
		return domain.Order{}, err
	}

	order, _ := committed.Get(orderID)
	s.logAudit(ctx, "order.add_items", "order", orderID, fmt.Sprintf("lines=%d version=%d", len(req.Items), order.Version))
	return order, nil
}

func mergeableLine(order domain.Order, menuItemID string, note string) (int, bool) {
	for i, item := range order.Items {
		if item.MenuItemID == menuItemID && item.Note == note &&
			item.Status == domain.ItemStatusPending && item.IsLive() && !item.IsDispatched() {
			return i, true
		}
	}
	return -1, false
}

// SetItemStatus moves a line forward along its lifecycle. CANCELLED is
// routed through the void path so the quantity is audited.
func (s *Service) SetItemStatus(ctx context.Context, itemID string, req domain.SetItemStatusRequest) (domain.OrderItem, error) {
	target := strings.ToUpper(strings.TrimSpace(req.Status))
	if !domain.IsKnownStatus(target) {
		return domain.OrderItem{}, fmt.Errorf("status %q: %w", req.Status, store.ErrInvalidTransition)
	}
	if target == domain.ItemStatusCancelled {
		return s.cancelItem(ctx, itemID)
	}

	orderID, unlock, err := s.lockItemOrder(ctx, itemID)
	if err != nil {
		return domain.OrderItem{}, err
	}
	defer unlock()

	var fromLane string
	committed, _, err := s.commitLocked(ctx, []string{orderID}, func(c *store.OrderChange) error {
		order, err := c.Order(orderID)
		if err != nil {
			return err
		}
		idx, ok := order.FindItem(itemID)
		if !ok {
			return fmt.Errorf("item %s: %w", itemID, store.ErrNotFound)
		}
		item := &order.Items[idx]
		if !domain.CanTransition(item.Status, target) {
			return fmt.Errorf("item %s %s -> %s: %w", item.ID, item.Status, target, store.ErrInvalidTransition)
		}
		ticket, _, _ := kitchen.FindTicket(*order, kitchen.TicketKey(*item))
		fromLane = ticket.Lane
		item.Status = target
		item.UpdatedAt = c.Now()
		return nil
	}, func(c Committed) []realtime.Event {
		order, _ := c.Get(orderID)
		events := updatedEvents(c, "item_status")
		idx, _ := order.FindItem(itemID)
		ticket, members, _ := kitchen.FindTicket(order, kitchen.TicketKey(order.Items[idx]))
		if ticket.Lane != fromLane {
			events = append(events, laneChanged(order.ID, ticket.ID, target, fromLane, ticket.Lane, 1, len(members)))
		}
		return events
	})
	if err != nil {
		return domain.OrderItem{}, err
	}

	order, _ := committed.Get(orderID)
	idx, _ := order.FindItem(itemID)
	s.logAudit(ctx, "order.item_status", "order_item", itemID, "status="+target)
	return order.Items[idx], nil
}

func (s *Service) cancelItem(ctx context.Context, itemID string) (domain.OrderItem, error) {
	res, err := s.voidLine(ctx, "", itemID, domain.VoidRequest{Reason: "cancelled"}, true)
	if err != nil {
		return domain.OrderItem{}, err
	}
	return res.Item, nil
}

// RemoveItem deletes a line that never reached the kitchen. Dispatched lines
// must be voided instead.
func (s *Service) RemoveItem(ctx context.Context, orderID string, itemID string) (domain.Order, error) {
	unlock := s.lockOrders(orderID)
	defer unlock()

	committed, _, err := s.commitLocked(ctx, []string{orderID}, func(c *store.OrderChange) error {
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
		if order.Items[idx].IsDispatched() {
			return fmt.Errorf("item %s: %w", itemID, store.ErrItemDispatched)
		}
		order.Items = append(order.Items[:idx], order.Items[idx+1:]...)
		return nil
	}, func(c Committed) []realtime.Event {
		return updatedEvents(c, "item_removed")
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logAudit(ctx, "order.remove_item", "order_item", itemID, "order="+orderID)
	order, _ := committed.Get(orderID)
	return order, nil
}

// ConfirmItems moves every live PENDING line to CONFIRMED.
func (s *Service) ConfirmItems(ctx context.Context, orderID string) (domain.Order, error) {
	unlock := s.lockOrders(orderID)
	defer unlock()

	confirmed := 0
	committed, _, err := s.commitLocked(ctx, []string{orderID}, func(c *store.OrderChange) error {
		order, err := c.Order(orderID)
		if err != nil {
			return err
		}
		if order.State != domain.OrderStateOpen {
			return fmt.Errorf("order %s is %s: %w", order.ID, order.State, store.ErrOrderNotOpen)
		}
		for i := range order.Items {
			item := &order.Items[i]
			if item.IsLive() && item.Status == domain.ItemStatusPending {
				item.Status = domain.ItemStatusConfirmed
				item.UpdatedAt = c.Now()
				confirmed++
			}
		}
		return nil
	}, func(c Committed) []realtime.Event {
		return updatedEvents(c, "items_confirmed")
	})
	if err != nil {
		return domain.Order{}, err
	}

	if confirmed > 0 {
		s.logAudit(ctx, "order.confirm", "order", orderID, fmt.Sprintf("confirmed=%d", confirmed))
	}
	order, _ := committed.Get(orderID)
	return order, nil
}

// NotifyKitchen dispatches every live line not yet sent as one batch, which
// becomes a single kitchen ticket.
func (s *Service) NotifyKitchen(ctx context.Context, orderID string, req domain.NotifyKitchenRequest) (domain.Ticket, error) {
	unlock := s.lockOrders(orderID)
	defer unlock()

	batchID := xid.New("batch")
	committed, _, err := s.commitLocked(ctx, []string{orderID}, func(c *store.OrderChange) error {
		order, err := c.Order(orderID)
		if err != nil {
			return err
		}
		if order.State != domain.OrderStateOpen {
			return fmt.Errorf("order %s is %s: %w", order.ID, order.State, store.ErrOrderNotOpen)
		}
		now := c.Now()
		sent := 0
		for i := range order.Items {
			item := &order.Items[i]
			if !item.IsLive() || item.IsDispatched() {
				continue
			}
			if item.Status != domain.ItemStatusPending && item.Status != domain.ItemStatusConfirmed {
				continue
			}
			dispatchedAt := now
			item.Status = domain.ItemStatusConfirmed
			item.BatchID = batchID
			item.BatchNote = strings.TrimSpace(req.Note)
			item.Priority = req.Priority
			item.DispatchedAt = &dispatchedAt
			item.UpdatedAt = now
			sent++
		}
		if sent == 0 {
			return fmt.Errorf("order %s has nothing to send: %w", order.ID, store.ErrInvalidTransaction)
		}
		return nil
	}, func(c Committed) []realtime.Event {
		order, _ := c.Get(orderID)
		ticket, _, _ := kitchen.FindTicket(order, batchID)
		return append(updatedEvents(c, "kitchen_notified"),
			event(realtime.KitchenRoom, realtime.EventTicketsDispatched, order.ID, realtime.TicketsDispatched{
				OrderID:   order.ID,
				TicketID:  ticket.ID,
				TableName: order.TableName,
				Priority:  ticket.Priority,
				Items:     len(ticket.Items),
			}))
	})
	if err != nil {
		return domain.Ticket{}, err
	}

	order, _ := committed.Get(orderID)
	ticket, _, _ := kitchen.FindTicket(order, batchID)
	s.logAudit(ctx, "order.notify_kitchen", "order", orderID, fmt.Sprintf("ticket=%s items=%d priority=%t", batchID, len(ticket.Items), req.Priority))
	return ticket, nil
}
