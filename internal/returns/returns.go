// Package returns prices partial refunds against paid invoices.
package returns

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"kasirinaja/dinein/internal/domain"
	"kasirinaja/dinein/internal/store"
)

// AllocateDiscount splits an order-level discount across lines in proportion
// to their gross amount (unit price times qty). Leftover cents go to the
// lines with the largest fractional shares so the parts always sum to total.
func AllocateDiscount(gross []int64, total int64) []int64 {
	shares := make([]int64, len(gross))
	if total <= 0 || len(gross) == 0 {
		return shares
	}

	var weight int64
	for _, g := range gross {
		if g > 0 {
			weight += g
		}
	}
	if weight == 0 {
		return shares
	}

	type remainder struct {
		index int
		frac  decimal.Decimal
	}
	totalDec := decimal.NewFromInt(total)
	weightDec := decimal.NewFromInt(weight)
	rems := make([]remainder, 0, len(gross))
	var assigned int64
	for i, g := range gross {
		if g <= 0 {
			continue
		}
		exact := totalDec.Mul(decimal.NewFromInt(g)).Div(weightDec)
		floor := exact.Floor()
		shares[i] = floor.IntPart()
		assigned += shares[i]
		rems = append(rems, remainder{index: i, frac: exact.Sub(floor)})
	}

	sort.SliceStable(rems, func(a, b int) bool {
		return rems[a].frac.GreaterThan(rems[b].frac)
	})
	for left := total - assigned; left > 0 && len(rems) > 0; left-- {
		shares[rems[0].index]++
		rems = append(rems[1:], rems[0])
	}
	return shares
}

// Refund prices qty units of an invoice line given what was already
// returned. Partial returns refund the net line total pro rata, rounded half
// up; the return that exhausts the line refunds whatever net is left.
func Refund(line domain.InvoiceLine, prior domain.ReturnedTotals, qty int) (int64, error) {
	if qty < 1 {
		return 0, store.ErrInvalidQuantity
	}
	if prior.Qty+qty > line.Qty {
		return 0, fmt.Errorf("line %s: %d returned, %d requested of %d: %w", line.OrderItemID, prior.Qty, qty, line.Qty, store.ErrOverReturn)
	}
	if prior.Qty+qty == line.Qty {
		return line.LineTotalCents - prior.RefundCents, nil
	}
	refund := decimal.NewFromInt(line.LineTotalCents).
		Mul(decimal.NewFromInt(int64(qty))).
		Div(decimal.NewFromInt(int64(line.Qty))).
		Round(0).
		IntPart()
	if remaining := line.LineTotalCents - prior.RefundCents; refund > remaining {
		refund = remaining
	}
	return refund, nil
}

// Remaining lists what is still returnable per invoice line.
func Remaining(inv domain.Invoice, returned map[string]domain.ReturnedTotals) []domain.ReturnableLine {
	lines := make([]domain.ReturnableLine, 0, len(inv.Lines))
	for _, line := range inv.Lines {
		taken := returned[line.OrderItemID]
		remain := line.Qty - taken.Qty
		if remain < 0 {
			remain = 0
		}
		lines = append(lines, domain.ReturnableLine{
			OrderItemID:   line.OrderItemID,
			Name:          line.Name,
			SoldQty:       line.Qty,
			ReturnedQty:   taken.Qty,
			RemainQty:     remain,
			RefundedCents: taken.RefundCents,
		})
	}
	return lines
}

// Build prices a return request. Repeated lines for the same item count
// against each other.
func Build(inv domain.Invoice, returned map[string]domain.ReturnedTotals, req domain.ReturnRequest, actor string) (domain.Return, error) {
	if inv.Status != domain.InvoiceStatusPaid {
		return domain.Return{}, fmt.Errorf("invoice %s is %s: %w", inv.ID, inv.Status, store.ErrInvalidTransaction)
	}
	if len(req.Lines) == 0 {
		return domain.Return{}, store.ErrInvalidTransaction
	}

	running := make(map[string]domain.ReturnedTotals, len(returned))
	for id, t := range returned {
		running[id] = t
	}

	ret := domain.Return{
		InvoiceID:    inv.ID,
		Lines:        make([]domain.ReturnLine, 0, len(req.Lines)),
		RefundMethod: strings.ToLower(strings.TrimSpace(req.RefundMethod)),
		Reason:       strings.TrimSpace(req.Reason),
		Actor:        actor,
	}
	if ret.RefundMethod == "" {
		ret.RefundMethod = inv.PaymentMethod
	}

	for _, in := range req.Lines {
		line, ok := inv.FindLine(in.OrderItemID)
		if !ok {
			return domain.Return{}, fmt.Errorf("line %s: %w", in.OrderItemID, store.ErrNotFound)
		}
		prior := running[in.OrderItemID]
		refund, err := Refund(line, prior, in.Qty)
		if err != nil {
			return domain.Return{}, err
		}
		running[in.OrderItemID] = domain.ReturnedTotals{Qty: prior.Qty + in.Qty, RefundCents: prior.RefundCents + refund}
		ret.Lines = append(ret.Lines, domain.ReturnLine{
			OrderItemID: in.OrderItemID,
			Qty:         in.Qty,
			Reason:      strings.TrimSpace(in.Reason),
			RefundCents: refund,
		})
		ret.RefundCents += refund
	}
	return ret, nil
}
