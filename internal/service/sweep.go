package service

import (
	"context"
	"time"

	"kasirinaja/dinein/internal/domain"
	"kasirinaja/dinein/internal/realtime"
	"kasirinaja/dinein/internal/store"
)

// CloseEmptyOrders closes open orders older than olderThan that have no live
// lines left. It returns how many were closed.
func (s *Service) CloseEmptyOrders(ctx context.Context, olderThan time.Duration) (int, error) {
	orders, err := s.repo.ListOrders(ctx, domain.OrderStateOpen)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	closed := 0
	for _, candidate := range orders {
		if !candidate.IsEmpty() || candidate.UpdatedAt.After(cutoff) {
			continue
		}
		ok, err := s.closeIfEmpty(ctx, candidate.ID, cutoff)
		if err != nil {
			return closed, err
		}
		if ok {
			closed++
		}
	}
	return closed, nil
}

func (s *Service) closeIfEmpty(ctx context.Context, orderID string, cutoff time.Time) (bool, error) {
	unlock := s.lockOrders(orderID)
	defer unlock()

	closed := false
	_, _, err := s.commitLocked(ctx, []string{orderID}, func(c *store.OrderChange) error {
		order, err := c.Order(orderID)
		if err != nil {
			return err
		}
		if order.State != domain.OrderStateOpen || !order.IsEmpty() || order.UpdatedAt.After(cutoff) {
			return nil
		}
		closedAt := c.Now()
		order.State = domain.OrderStateClosed
		order.ClosedAt = &closedAt
		closed = true
		return nil
	}, func(c Committed) []realtime.Event {
		return updatedEvents(c, "empty_closed")
	})
	return closed, err
}
