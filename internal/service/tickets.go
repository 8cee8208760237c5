package service

import (
	"context"
	"fmt"
	"time"

	"kasirinaja/dinein/internal/domain"
	"kasirinaja/dinein/internal/kitchen"
	"kasirinaja/dinein/internal/realtime"
	"kasirinaja/dinein/internal/store"
)

func (s *Service) KitchenBoard(ctx context.Context) (domain.KitchenBoard, error) {
	orders, err := s.repo.ListOrders(ctx, domain.OrderStateOpen)
	if err != nil {
		return domain.KitchenBoard{}, err
	}
	return kitchen.BuildBoard(orders, time.Now().UTC()), nil
}

func (s *Service) OrderTickets(ctx context.Context, orderID string) ([]domain.Ticket, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return kitchen.BuildTickets(*order), nil
}

func (s *Service) StartCooking(ctx context.Context, orderID string, ticketID string) (domain.TicketTransitionResult, error) {
	return s.advanceTicket(ctx, orderID, ticketID, domain.ItemStatusPreparing)
}

func (s *Service) MarkReady(ctx context.Context, orderID string, ticketID string) (domain.TicketTransitionResult, error) {
	return s.advanceTicket(ctx, orderID, ticketID, domain.ItemStatusReady)
}

func (s *Service) MarkServed(ctx context.Context, orderID string, ticketID string) (domain.TicketTransitionResult, error) {
	return s.advanceTicket(ctx, orderID, ticketID, domain.ItemStatusServed)
}

// advanceTicket applies target to every line of a ticket in one commit.
// Lines voided in the meantime, or that cannot move to target, are skipped
// and reported; the rest still move.
func (s *Service) advanceTicket(ctx context.Context, orderID string, ticketID string, target string) (domain.TicketTransitionResult, error) {
	unlock := s.lockOrders(orderID)
	defer unlock()

	result := domain.TicketTransitionResult{OrderID: orderID, TicketID: ticketID, Target: target}
	_, _, err := s.commitLocked(ctx, []string{orderID}, func(c *store.OrderChange) error {
		order, err := c.Order(orderID)
		if err != nil {
			return err
		}
		ticket, members, ok := kitchen.FindTicket(*order, ticketID)
		if !ok {
			return fmt.Errorf("ticket %s: %w", ticketID, store.ErrNotFound)
		}
		result.FromLane = ticket.Lane
		result.Total = len(members)

		now := c.Now()
		for _, idx := range members {
			item := &order.Items[idx]
			switch {
			case !item.IsLive():
				result.Skipped = append(result.Skipped, domain.SkippedItem{OrderItemID: item.ID, Status: item.Status, Reason: "voided"})
			case !domain.CanTransition(item.Status, target):
				result.Skipped = append(result.Skipped, domain.SkippedItem{OrderItemID: item.ID, Status: item.Status, Reason: "not allowed from " + item.Status})
			default:
				item.Status = target
				item.UpdatedAt = now
				result.Updated++
			}
		}
		if result.Updated > 0 && order.State != domain.OrderStateOpen {
			return fmt.Errorf("order %s is %s: %w", order.ID, order.State, store.ErrOrderNotOpen)
		}

		updated, _, _ := kitchen.FindTicket(*order, ticketID)
		result.Lane = updated.Lane
		return nil
	}, func(c Committed) []realtime.Event {
		if result.Updated == 0 {
			return nil
		}
		events := updatedEvents(c, "ticket_"+target)
		return append(events, laneChanged(orderID, ticketID, target, result.FromLane, result.Lane, result.Updated, result.Total))
	})
	if err != nil {
		return domain.TicketTransitionResult{}, err
	}

	result.Message = fmt.Sprintf("%d of %d items updated", result.Updated, result.Total)
	if result.Updated > 0 {
		s.logAudit(ctx, "kitchen.ticket_"+target, "ticket", ticketID, result.Message)
	}
	return result, nil
}

func laneChanged(orderID, ticketID, target, fromLane, lane string, updated, total int) realtime.Event {
	return event(realtime.KitchenRoom, realtime.EventTicketLaneChanged, orderID, realtime.TicketLaneChanged{
		OrderID:  orderID,
		TicketID: ticketID,
		Target:   target,
		FromLane: fromLane,
		Lane:     lane,
		Updated:  updated,
		Total:    total,
	})
}
