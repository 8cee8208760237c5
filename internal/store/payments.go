package store

import (
	"fmt"
	"strings"
	"time"

	"kasirinaja/dinein/internal/domain"
)

var supportedPaymentMethods = map[string]bool{
	"cash":     true,
	"card":     true,
	"qris":     true,
	"transfer": true,
	"ewallet":  true,
}

func IsSupportedPaymentMethod(method string) bool {
	return supportedPaymentMethods[strings.ToLower(strings.TrimSpace(method))]
}

// SettlementIdempotencyKey is the key under which an external settlement is
// recorded, so a paid notice can only ever credit an invoice once.
func SettlementIdempotencyKey(invoiceID string) string {
	return "settlement:" + invoiceID
}

// ApplyPaymentTo credits payment against inv. Cash overpayment turns into
// change; other methods may not exceed the remaining balance. Settlement
// payments always credit exactly the remaining balance.
func ApplyPaymentTo(inv *domain.Invoice, payment *domain.Payment, at time.Time) error {
	if inv.Status == domain.InvoiceStatusPaid {
		return fmt.Errorf("invoice %s already paid: %w", inv.ID, ErrInvalidTransaction)
	}
	remaining := inv.RemainingCents()
	payment.Method = strings.ToLower(strings.TrimSpace(payment.Method))
	payment.ChangeCents = 0

	switch {
	case payment.Source == domain.PaymentSourceSettlement:
		payment.AmountCents = remaining
	case payment.Method == "cash":
		if payment.CashReceivedCents < 1 {
			return ErrInvalidTransaction
		}
		payment.AmountCents = payment.CashReceivedCents
		if payment.AmountCents > remaining {
			payment.ChangeCents = payment.AmountCents - remaining
			payment.AmountCents = remaining
		}
	default:
		if !IsSupportedPaymentMethod(payment.Method) {
			return fmt.Errorf("payment method %q: %w", payment.Method, ErrInvalidTransaction)
		}
		if payment.AmountCents < 1 || payment.AmountCents > remaining {
			return fmt.Errorf("amount %d against remaining %d: %w", payment.AmountCents, remaining, ErrInvalidTransaction)
		}
	}

	inv.PaidCents += payment.AmountCents
	inv.ChangeCents += payment.ChangeCents
	inv.PaymentMethod = payment.Method
	if inv.PaidCents >= inv.TotalCents {
		inv.Status = domain.InvoiceStatusPaid
		paidAt := at
		inv.PaidAt = &paidAt
	} else if inv.PaidCents > 0 {
		inv.Status = domain.InvoiceStatusPartial
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = at
	}
	payment.InvoiceID = inv.ID
	return nil
}

// ValidateReturn re-checks a priced return against the posted totals. Nothing
// may be returned beyond what was sold and no line may refund more than its
// remaining net amount.
func ValidateReturn(inv domain.Invoice, returned map[string]domain.ReturnedTotals, ret domain.Return) error {
	if inv.Status != domain.InvoiceStatusPaid {
		return fmt.Errorf("invoice %s status %s: %w", inv.ID, inv.Status, ErrInvalidTransaction)
	}
	if len(ret.Lines) == 0 {
		return ErrInvalidTransaction
	}
	requested := make(map[string]domain.ReturnedTotals, len(ret.Lines))
	total := int64(0)
	for _, line := range ret.Lines {
		if line.Qty < 1 || line.RefundCents < 0 {
			return fmt.Errorf("return line %s: %w", line.OrderItemID, ErrInvalidQuantity)
		}
		current := requested[line.OrderItemID]
		current.Qty += line.Qty
		current.RefundCents += line.RefundCents
		requested[line.OrderItemID] = current
		total += line.RefundCents
	}
	for itemID, req := range requested {
		sold, ok := inv.FindLine(itemID)
		if !ok {
			return fmt.Errorf("line %s not on invoice %s: %w", itemID, inv.ID, ErrInvalidTransaction)
		}
		prior := returned[itemID]
		if prior.Qty+req.Qty > sold.Qty {
			return fmt.Errorf("line %s: %d returned + %d requested > %d sold: %w", itemID, prior.Qty, req.Qty, sold.Qty, ErrOverReturn)
		}
		if prior.RefundCents+req.RefundCents > sold.LineTotalCents {
			return fmt.Errorf("line %s refund exceeds net line total: %w", itemID, ErrInvalidTransaction)
		}
	}
	if total != ret.RefundCents {
		return fmt.Errorf("return refund %d != sum of lines %d: %w", ret.RefundCents, total, ErrInvalidTransaction)
	}
	return nil
}

// AddReturned folds a posted return into per-line totals.
func AddReturned(totals map[string]domain.ReturnedTotals, ret domain.Return) {
	for _, line := range ret.Lines {
		current := totals[line.OrderItemID]
		current.Qty += line.Qty
		current.RefundCents += line.RefundCents
		totals[line.OrderItemID] = current
	}
}
