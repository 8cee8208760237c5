package service

import (
	"context"
	"fmt"
	"strings"

	"kasirinaja/dinein/internal/domain"
	"kasirinaja/dinein/internal/realtime"
	"kasirinaja/dinein/internal/store"
	"kasirinaja/dinein/internal/xid"
)

// SplitOrder moves quantities of undispatched lines to another open order, or
// to a new order on ToTableID. Each source line gives up quantity through a
// system void so the source keeps qty = original - voided.
func (s *Service) SplitOrder(ctx context.Context, fromID string, req domain.SplitRequest) (domain.SplitResult, error) {
	toOrderID := strings.TrimSpace(req.ToOrderID)
	toTableID := strings.TrimSpace(req.ToTableID)
	if (toOrderID == "") == (toTableID == "") {
		return domain.SplitResult{}, fmt.Errorf("exactly one of to_order_id and to_table_id: %w", store.ErrInvalidTransaction)
	}
	if toOrderID == fromID {
		return domain.SplitResult{}, fmt.Errorf("split %s into itself: %w", fromID, store.ErrInvalidTransaction)
	}
	if len(req.Items) == 0 {
		return domain.SplitResult{}, store.ErrInvalidTransaction
	}
	requested := make(map[string]int, len(req.Items))
	lineOrder := make([]string, 0, len(req.Items))
	for _, line := range req.Items {
		if line.Qty < 1 {
			return domain.SplitResult{}, fmt.Errorf("split qty %d for %s: %w", line.Qty, line.ItemID, store.ErrInvalidQuantity)
		}
		if _, ok := requested[line.ItemID]; !ok {
			lineOrder = append(lineOrder, line.ItemID)
		}
		requested[line.ItemID] += line.Qty
	}

	var table *domain.Table
	if toTableID != "" {
		var err error
		table, err = s.repo.GetTable(ctx, toTableID)
		if err != nil {
			return domain.SplitResult{}, fmt.Errorf("table %s: %w", toTableID, err)
		}
		toOrderID = xid.New("order")
	}

	ids := []string{fromID}
	if table == nil {
		ids = append(ids, toOrderID)
	}
	unlock := s.lockOrders(ids...)
	defer unlock()

	actor := actorOf(ctx).Username
	moved := make([]domain.MovedLine, 0, len(lineOrder))
	committed, _, err := s.commitLocked(ctx, ids, func(c *store.OrderChange) error {
		src, err := c.Order(fromID)
		if err != nil {
			return err
		}
		var dst *domain.Order
		if table != nil {
			dst, err = c.Insert(domain.Order{
				ID:        toOrderID,
				TableID:   table.ID,
				TableName: table.Name,
				State:     domain.OrderStateOpen,
				Notes:     "split from " + fromID,
				Items:     []domain.OrderItem{},
				CreatedAt: c.Now(),
			})
		} else {
			dst, err = c.Order(toOrderID)
		}
		if err != nil {
			return err
		}
		for _, o := range []*domain.Order{src, dst} {
			if o.State != domain.OrderStateOpen {
				return fmt.Errorf("order %s is %s: %w", o.ID, o.State, store.ErrOrderNotOpen)
			}
		}
		if err := checkVersion(src, req.ExpectedVersion); err != nil {
			return err
		}

		for _, itemID := range lineOrder {
			qty := requested[itemID]
			idx, ok := src.FindItem(itemID)
			if !ok {
				return fmt.Errorf("item %s: %w", itemID, store.ErrNotFound)
			}
			item := src.Items[idx]
			if item.IsDispatched() {
				return fmt.Errorf("item %s: %w", itemID, store.ErrItemDispatched)
			}
			if item.Status != domain.ItemStatusPending && item.Status != domain.ItemStatusConfirmed {
				return fmt.Errorf("item %s is %s: %w", itemID, item.Status, store.ErrInvalidTransition)
			}
			if qty > item.Qty {
				return fmt.Errorf("item %s live %d, split %d: %w", itemID, item.Qty, qty, store.ErrInvalidQuantity)
			}

			applyVoid(c, src, idx, qty, domain.VoidSourceSystem, actor, "split")
			line := domain.OrderItem{
				ID:             xid.New("item"),
				OrderID:        dst.ID,
				MenuItemID:     item.MenuItemID,
				Name:           item.Name,
				Qty:            qty,
				OriginalQty:    qty,
				UnitPriceCents: item.UnitPriceCents,
				Note:           item.Note,
				Status:         item.Status,
				CreatedAt:      c.Now(),
				UpdatedAt:      c.Now(),
			}
			dst.Items = append(dst.Items, line)
			moved = append(moved, domain.MovedLine{FromItemID: itemID, ToItemID: line.ID, Qty: qty})
		}
		return nil
	}, func(c Committed) []realtime.Event {
		return updatedEvents(c, "split")
	})
	if err != nil {
		return domain.SplitResult{}, err
	}

	source, _ := committed.Get(fromID)
	destination, _ := committed.Get(toOrderID)
	s.logAudit(ctx, "order.split", "order", fromID, fmt.Sprintf("to=%s lines=%d", toOrderID, len(moved)))
	return domain.SplitResult{Source: source, Destination: destination, Moved: moved}, nil
}

// MergeOrder moves every live line of fromID into the target order, keeping
// item ids, batches and statuses, then closes the source.
func (s *Service) MergeOrder(ctx context.Context, fromID string, req domain.MergeRequest) (domain.MergeResult, error) {
	intoID := strings.TrimSpace(req.IntoOrderID)
	if intoID == "" || intoID == fromID {
		return domain.MergeResult{}, fmt.Errorf("merge %s into %q: %w", fromID, intoID, store.ErrInvalidTransaction)
	}

	unlock := s.lockOrders(fromID, intoID)
	defer unlock()

	moved := 0
	committed, _, err := s.commitLocked(ctx, []string{fromID, intoID}, func(c *store.OrderChange) error {
		src, err := c.Order(fromID)
		if err != nil {
			return err
		}
		dst, err := c.Order(intoID)
		if err != nil {
			return err
		}
		for _, o := range []*domain.Order{src, dst} {
			if o.State != domain.OrderStateOpen {
				return fmt.Errorf("order %s is %s: %w", o.ID, o.State, store.ErrOrderNotOpen)
			}
		}
		if err := checkVersion(src, req.ExpectedVersion); err != nil {
			return err
		}

		kept := make([]domain.OrderItem, 0, len(src.Items))
		for _, item := range src.Items {
			if !item.IsLive() {
				kept = append(kept, item)
				continue
			}
			item.OrderID = dst.ID
			item.UpdatedAt = c.Now()
			dst.Items = append(dst.Items, item)
			moved++
		}
		src.Items = kept

		closedAt := c.Now()
		src.State = domain.OrderStateClosed
		src.ClosedAt = &closedAt
		src.Notes = appendNote(src.Notes, "merged into "+dst.ID)
		return nil
	}, func(c Committed) []realtime.Event {
		return updatedEvents(c, "merged")
	})
	if err != nil {
		return domain.MergeResult{}, err
	}

	source, _ := committed.Get(fromID)
	into, _ := committed.Get(intoID)
	s.logAudit(ctx, "order.merge", "order", fromID, fmt.Sprintf("into=%s lines=%d", intoID, moved))
	return domain.MergeResult{Source: source, Into: into, Moved: moved}, nil
}
