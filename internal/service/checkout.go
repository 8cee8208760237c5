package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"kasirinaja/dinein/internal/domain"
	"kasirinaja/dinein/internal/realtime"
	"kasirinaja/dinein/internal/returns"
	"kasirinaja/dinein/internal/store"
	"kasirinaja/dinein/internal/xid"
)

// Checkout freezes the live lines of an open order into an invoice and moves
// the order to billing. Lines still on their way from the kitchen block
// checkout unless a manager forces it.
func (s *Service) Checkout(ctx context.Context, orderID string, req domain.CheckoutRequest) (domain.Invoice, error) {
	if req.DiscountCents < 0 || req.DiscountPercent < 0 || req.DiscountPercent > 100 {
		return domain.Invoice{}, fmt.Errorf("discount out of range: %w", store.ErrInvalidTransaction)
	}
	if req.DiscountCents > 0 && req.DiscountPercent > 0 {
		return domain.Invoice{}, fmt.Errorf("discount_cents and discount_percent are exclusive: %w", store.ErrInvalidTransaction)
	}
	if req.Force && actorOf(ctx).Role != domain.RoleManager {
		return domain.Invoice{}, fmt.Errorf("forced checkout: %w", ErrForbidden)
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
		if order.PendingServe() && !req.Force {
			return fmt.Errorf("order %s has unserved items: %w", order.ID, store.ErrInvalidTransition)
		}
		inv, err := priceInvoice(*order, req)
		if err != nil {
			return err
		}
		inv.CreatedAt = c.Now()
		order.State = domain.OrderStateBilling
		c.IssueInvoice(inv)
		return nil
	}, func(c Committed) []realtime.Event {
		return updatedEvents(c, "checkout")
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	inv := committed.Invoice()
	s.logAudit(ctx, "order.checkout", "invoice", inv.ID, fmt.Sprintf("order=%s total=%d force=%t", orderID, inv.TotalCents, req.Force))
	if inv.TotalCents == 0 {
		res, err := s.ApplySettlement(ctx, inv.ID, domain.SettlementNotice{Status: domain.InvoiceStatusPaid, Method: "cash"})
		if err != nil {
			return domain.Invoice{}, err
		}
		return res.Invoice, nil
	}
	return *inv, nil
}

// priceInvoice computes line nets, the order discount split and totals.
func priceInvoice(order domain.Order, req domain.CheckoutRequest) (domain.Invoice, error) {
	live := make([]domain.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		if item.IsLive() {
			live = append(live, item)
		}
	}
	if len(live) == 0 {
		return domain.Invoice{}, fmt.Errorf("order %s has no billable items: %w", order.ID, store.ErrInvalidTransaction)
	}
	for itemID := range req.LineDiscounts {
		idx, ok := order.FindItem(itemID)
		if !ok || !order.Items[idx].IsLive() {
			return domain.Invoice{}, fmt.Errorf("line discount for %s: %w", itemID, store.ErrInvalidTransaction)
		}
	}

	inv := domain.Invoice{
		ID:        xid.New("inv"),
		OrderID:   order.ID,
		TableName: order.TableName,
		Lines:     make([]domain.InvoiceLine, 0, len(live)),
		Status:    domain.InvoiceStatusUnpaid,
	}
	gross := make([]int64, len(live))
	net := make([]int64, len(live))
	var netTotal int64
	for i, item := range live {
		gross[i] = item.LineTotalCents()
		lineDiscount := req.LineDiscounts[item.ID]
		if lineDiscount < 0 || lineDiscount > gross[i] {
			return domain.Invoice{}, fmt.Errorf("line discount %d on %s: %w", lineDiscount, item.ID, store.ErrInvalidTransaction)
		}
		net[i] = gross[i] - lineDiscount
		netTotal += net[i]
		inv.SubtotalCents += gross[i]
		inv.LineDiscountCents += lineDiscount
		inv.Lines = append(inv.Lines, domain.InvoiceLine{
			OrderItemID:       item.ID,
			MenuItemID:        item.MenuItemID,
			Name:              item.Name,
			Qty:               item.Qty,
			UnitPriceCents:    item.UnitPriceCents,
			LineDiscountCents: lineDiscount,
		})
	}

	orderDiscount := req.DiscountCents
	if req.DiscountPercent > 0 {
		orderDiscount = decimal.NewFromInt(netTotal).
			Mul(decimal.NewFromFloat(req.DiscountPercent)).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
	}
	if orderDiscount > netTotal {
		orderDiscount = netTotal
	}

	shares := returns.AllocateDiscount(gross, orderDiscount)
	for i := range shares {
		if shares[i] > net[i] {
			shares = returns.AllocateDiscount(net, orderDiscount)
			break
		}
	}

	var lineSum int64
	for i := range inv.Lines {
		inv.Lines[i].AllocatedDiscountCents = shares[i]
		inv.Lines[i].LineTotalCents = net[i] - shares[i]
		lineSum += inv.Lines[i].LineTotalCents
	}
	inv.OrderDiscountCents = orderDiscount
	inv.DiscountCents = inv.LineDiscountCents + orderDiscount
	inv.AdjustmentCents = req.AdjustmentCents
	inv.TotalCents = lineSum + req.AdjustmentCents
	if inv.TotalCents < 0 {
		return domain.Invoice{}, fmt.Errorf("invoice total %d: %w", inv.TotalCents, store.ErrInvalidTransaction)
	}
	return inv, nil
}

func (s *Service) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *inv, nil
}

func (s *Service) InvoiceForOrder(ctx context.Context, orderID string) (domain.Invoice, error) {
	inv, err := s.repo.FindInvoiceByOrder(ctx, orderID)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *inv, nil
}

func (s *Service) ListPayments(ctx context.Context, invoiceID string) ([]domain.Payment, error) {
	if _, err := s.repo.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, invoiceID)
}

// RecordPayment credits a cashier payment. Replaying an idempotency key
// returns the original result without crediting again.
func (s *Service) RecordPayment(ctx context.Context, invoiceID string, req domain.PaymentRequest) (domain.PaymentResult, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = xid.New("idem")
	}

	unlock := s.locks.Lock(invoiceKey(invoiceID))
	defer unlock()

	res, err := s.repo.ApplyPayment(ctx, invoiceID, domain.Payment{
		Method:            req.Method,
		AmountCents:       req.AmountCents,
		CashReceivedCents: req.CashReceivedCents,
		Reference:         strings.TrimSpace(req.Reference),
		IdempotencyKey:    key,
		Source:            domain.PaymentSourceCashier,
	})
	if err != nil {
		return domain.PaymentResult{}, err
	}
	if !res.Duplicate {
		s.publishPayment(ctx, *res)
		s.logAudit(ctx, "invoice.payment", "invoice", invoiceID, fmt.Sprintf("method=%s amount=%d status=%s", res.Payment.Method, res.Payment.AmountCents, res.Invoice.Status))
	}
	return *res, nil
}

// ApplySettlement credits an external PAID notice for the remaining balance.
// It is safe to call any number of times for the same invoice.
func (s *Service) ApplySettlement(ctx context.Context, invoiceID string, notice domain.SettlementNotice) (*domain.PaymentResult, error) {
	if strings.ToUpper(strings.TrimSpace(notice.Status)) != domain.InvoiceStatusPaid {
		return nil, fmt.Errorf("settlement status %q: %w", notice.Status, store.ErrInvalidTransaction)
	}
	method := strings.ToLower(strings.TrimSpace(notice.Method))
	if method == "" {
		method = "qris"
	}

	unlock := s.locks.Lock(invoiceKey(invoiceID))
	defer unlock()

	res, err := s.repo.ApplyPayment(ctx, invoiceID, domain.Payment{
		Method:         method,
		Reference:      strings.TrimSpace(notice.Reference),
		IdempotencyKey: store.SettlementIdempotencyKey(invoiceID),
		Source:         domain.PaymentSourceSettlement,
	})
	if err != nil {
		return nil, err
	}
	if res.Duplicate {
		return res, nil
	}
	if notice.PaidAmountCents > 0 && notice.PaidAmountCents != res.Payment.AmountCents {
		log.Printf("[service] WARN: settlement for invoice %s reported %d, credited remaining %d", invoiceID, notice.PaidAmountCents, res.Payment.AmountCents)
	}
	s.publishPayment(ctx, *res)
	s.logAudit(ctx, "invoice.settlement", "invoice", invoiceID, fmt.Sprintf("method=%s amount=%d", method, res.Payment.AmountCents))
	return res, nil
}

func (s *Service) publishPayment(ctx context.Context, res domain.PaymentResult) {
	inv := res.Invoice
	room := realtime.InvoiceRoom(inv.ID)
	if inv.Status != domain.InvoiceStatusPaid {
		s.publish(ctx, event(room, realtime.EventInvoicePartial, inv.ID, realtime.InvoicePartial{
			InvoiceID: inv.ID,
			OrderID:   inv.OrderID,
			Amount:    res.Payment.AmountCents,
			Remaining: inv.RemainingCents(),
		}))
		return
	}

	events := []realtime.Event{event(room, realtime.EventInvoicePaid, inv.ID, realtime.InvoicePaid{
		InvoiceID: inv.ID,
		OrderID:   inv.OrderID,
		Amount:    inv.PaidCents,
		Method:    inv.PaymentMethod,
		PaidAt:    *inv.PaidAt,
	})}
	if order, err := s.repo.GetOrder(ctx, inv.OrderID); err == nil {
		events = append(events, orderUpdated(*order, "paid"))
	} else {
		log.Printf("[service] WARN: reload order %s after payment: %v", inv.OrderID, err)
	}
	s.publish(ctx, events...)
}
