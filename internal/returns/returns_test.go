package returns

import (
	"errors"
	"testing"

	"kasirinaja/dinein/internal/domain"
	"kasirinaja/dinein/internal/store"
)

func TestAllocateDiscountSumsExactly(t *testing.T) {
	shares := AllocateDiscount([]int64{10000, 10000, 10000}, 10000)
	var sum int64
	for _, s := range shares {
		sum += s
	}
	if sum != 10000 {
		t.Fatalf("expected shares to sum to 10000, got %v", shares)
	}
	if shares[0] != 3334 || shares[1] != 3333 || shares[2] != 3333 {
		t.Fatalf("unexpected largest-remainder split: %v", shares)
	}

	weighted := AllocateDiscount([]int64{30000, 10000}, 4000)
	if weighted[0] != 3000 || weighted[1] != 1000 {
		t.Fatalf("expected 3000/1000 split, got %v", weighted)
	}
}

func TestRefundExhaustingReturnTakesRemainder(t *testing.T) {
	line := domain.InvoiceLine{OrderItemID: "item-1", Qty: 3, UnitPriceCents: 10000, AllocatedDiscountCents: 1000, LineTotalCents: 29000}

	first, err := Refund(line, domain.ReturnedTotals{}, 1)
	if err != nil || first != 9667 {
		t.Fatalf("expected 9667 for one of three, got %d (%v)", first, err)
	}
	second, _ := Refund(line, domain.ReturnedTotals{Qty: 1, RefundCents: first}, 1)
	last, _ := Refund(line, domain.ReturnedTotals{Qty: 2, RefundCents: first + second}, 1)
	if first+second+last != line.LineTotalCents {
		t.Fatalf("expected refunds to total %d, got %d", line.LineTotalCents, first+second+last)
	}
}

func TestBuildRejectsOverReturn(t *testing.T) {
	inv := domain.Invoice{
		ID:     "inv-1",
		Status: domain.InvoiceStatusPaid,
		Lines:  []domain.InvoiceLine{{OrderItemID: "item-1", Name: "Es Teh", Qty: 5, UnitPriceCents: 10000, LineTotalCents: 50000}},
	}
	req := domain.ReturnRequest{Lines: []domain.ReturnLineInput{{OrderItemID: "item-1", Qty: 2}}, RefundMethod: "cash"}
	ret, err := Build(inv, nil, req, "cashier")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if ret.RefundCents != 20000 {
		t.Fatalf("expected refund 20000, got %d", ret.RefundCents)
	}

	returned := map[string]domain.ReturnedTotals{"item-1": {Qty: 2, RefundCents: 20000}}
	over := domain.ReturnRequest{Lines: []domain.ReturnLineInput{{OrderItemID: "item-1", Qty: 4}}}
	if _, err := Build(inv, returned, over, "cashier"); !errors.Is(err, store.ErrOverReturn) {
		t.Fatalf("expected ErrOverReturn, got %v", err)
	}
	remaining := Remaining(inv, returned)
	if remaining[0].RemainQty != 3 {
		t.Fatalf("expected remain 3, got %d", remaining[0].RemainQty)
	}

	split := domain.ReturnRequest{Lines: []domain.ReturnLineInput{{OrderItemID: "item-1", Qty: 2}, {OrderItemID: "item-1", Qty: 2}}}
	if _, err := Build(inv, returned, split, "cashier"); !errors.Is(err, store.ErrOverReturn) {
		t.Fatalf("expected repeated lines to count together, got %v", err)
	}
}

func TestBuildRequiresPaidInvoice(t *testing.T) {
	inv := domain.Invoice{ID: "inv-2", Status: domain.InvoiceStatusPartial}
	_, err := Build(inv, nil, domain.ReturnRequest{Lines: []domain.ReturnLineInput{{OrderItemID: "x", Qty: 1}}}, "cashier")
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected ErrInvalidTransaction, got %v", err)
	}
}
