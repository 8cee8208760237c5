package service

import (
	"context"
	"fmt"

	"kasirinaja/dinein/internal/domain"
	"kasirinaja/dinein/internal/realtime"
	"kasirinaja/dinein/internal/returns"
)

// CreateReturn prices and posts a return against a paid invoice. Pricing and
// the over-return check run against totals read inside the same commit.
func (s *Service) CreateReturn(ctx context.Context, invoiceID string, req domain.ReturnRequest) (domain.Return, error) {
	actor := actorOf(ctx).Username

	unlock := s.locks.Lock(invoiceKey(invoiceID))
	defer unlock()

	ret, err := s.repo.CreateReturn(ctx, invoiceID, func(inv domain.Invoice, returned map[string]domain.ReturnedTotals) (domain.Return, error) {
		return returns.Build(inv, returned, req, actor)
	})
	if err != nil {
		return domain.Return{}, err
	}

	s.publish(ctx, event(realtime.InvoiceRoom(invoiceID), realtime.EventReturnPosted, invoiceID, realtime.ReturnPosted{
		InvoiceID:   invoiceID,
		ReturnID:    ret.ID,
		RefundCents: ret.RefundCents,
		Method:      ret.RefundMethod,
	}))
	s.logAudit(ctx, "invoice.return", "return", ret.ID, fmt.Sprintf("invoice=%s refund=%d lines=%d", invoiceID, ret.RefundCents, len(ret.Lines)))
	return *ret, nil
}

// ReturnSummary reports, per invoice line, what is still returnable.
func (s *Service) ReturnSummary(ctx context.Context, invoiceID string) (domain.ReturnSummary, error) {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return domain.ReturnSummary{}, err
	}
	returned, err := s.repo.GetReturnedTotals(ctx, invoiceID)
	if err != nil {
		return domain.ReturnSummary{}, err
	}
	return domain.ReturnSummary{InvoiceID: inv.ID, Lines: returns.Remaining(*inv, returned)}, nil
}

func (s *Service) ListReturns(ctx context.Context, invoiceID string) ([]domain.Return, error) {
	if _, err := s.repo.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.repo.ListReturns(ctx, invoiceID)
}
