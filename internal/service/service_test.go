package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"kasirinaja/dinein/internal/domain"
	"kasirinaja/dinein/internal/realtime"
	"kasirinaja/dinein/internal/store"
	"kasirinaja/dinein/internal/store/memory"
)

type recorder struct {
	mu     sync.Mutex
	seq    int
	events []realtime.Event
}

func (r *recorder) Publish(_ context.Context, ev realtime.Event) (realtime.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	ev.ID = fmt.Sprintf("evt-%d", r.seq)
	r.events = append(r.events, ev)
	return ev, nil
}

func (r *recorder) ofType(eventType string, room string) []realtime.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]realtime.Event, 0, 2)
	for _, ev := range r.events {
		if ev.Type == eventType && (room == "" || ev.Room == room) {
			out = append(out, ev)
		}
	}
	return out
}

func newTestService() (*Service, *memory.Store, *recorder) {
	repo := memory.NewSeeded()
	events := &recorder{}
	return New(repo, events), repo, events
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: domain.RoleCashier})
}

func kitchenCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "chef", Role: domain.RoleKitchen})
}

func openWith(t *testing.T, svc *Service, table string, items ...domain.AddItemInput) domain.Order {
	t.Helper()
	ctx := cashierCtx()
	order, err := svc.OpenOrder(ctx, domain.OpenOrderRequest{TableID: table})
	if err != nil {
		t.Fatalf("open order: %v", err)
	}
	if len(items) == 0 {
		return order
	}
	order, err = svc.AddItems(ctx, order.ID, domain.AddItemsRequest{Items: items})
	if err != nil {
		t.Fatalf("add items: %v", err)
	}
	return order
}

func TestVoidReducesLiveQuantityAndSyncsKitchen(t *testing.T) {
	svc, _, events := newTestService()
	order := openWith(t, svc, "T01", domain.AddItemInput{MenuItemID: "menu-sate", Qty: 4})
	itemID := order.Items[0].ID

	ticket, err := svc.NotifyKitchen(cashierCtx(), order.ID, domain.NotifyKitchenRequest{})
	if err != nil {
		t.Fatalf("notify kitchen: %v", err)
	}

	res, err := svc.VoidItem(cashierCtx(), order.ID, itemID, domain.VoidRequest{Qty: 1, Reason: "guest changed mind"})
	if err != nil {
		t.Fatalf("void 1: %v", err)
	}
	if res.Item.Qty != 3 || res.Item.VoidedQty != 1 || res.Item.OriginalQty != 4 {
		t.Fatalf("expected qty 3 voided 1 of 4, got %+v", res.Item)
	}
	synced := events.ofType(realtime.EventVoidSynced, realtime.KitchenRoom)
	if len(synced) != 1 || res.EventID != synced[0].ID {
		t.Fatalf("expected one kitchen void event matching result, got %d (%q)", len(synced), res.EventID)
	}
	var payload realtime.VoidSynced
	if err := synced[0].Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Qty != 1 || payload.TicketID != ticket.ID || payload.By != "cashier" {
		t.Fatalf("unexpected void payload %+v", payload)
	}

	started, err := svc.StartCooking(kitchenCtx(), order.ID, ticket.ID)
	if err != nil {
		t.Fatalf("start cooking: %v", err)
	}
	if started.Updated != 1 || started.Lane != domain.LanePreparing {
		t.Fatalf("expected ticket preparing, got %+v", started)
	}

	res, err = svc.VoidItem(kitchenCtx(), "", itemID, domain.VoidRequest{Qty: 3, Reason: "burnt"})
	if err != nil {
		t.Fatalf("void rest: %v", err)
	}
	if res.Item.Status != domain.ItemStatusCancelled || res.Item.Qty != 0 || res.Void.Source != domain.VoidSourceKitchen {
		t.Fatalf("expected cancelled line voided by kitchen, got %+v / %+v", res.Item, res.Void)
	}

	if _, err := svc.VoidItem(cashierCtx(), order.ID, itemID, domain.VoidRequest{Qty: 1, Reason: "again"}); !errors.Is(err, store.ErrOverVoid) {
		t.Fatalf("expected ErrOverVoid, got %v", err)
	}

	voids, err := svc.ListVoids(context.Background(), order.ID)
	if err != nil || len(voids) != 2 {
		t.Fatalf("expected 2 void events, got %d (%v)", len(voids), err)
	}
}

func TestVoidValidatesRequest(t *testing.T) {
	svc, _, _ := newTestService()
	order := openWith(t, svc, "T01", domain.AddItemInput{MenuItemID: "menu-kopi", Qty: 2})
	itemID := order.Items[0].ID

	cases := []struct {
		name string
		req  domain.VoidRequest
		want error
	}{
		{name: "zero qty", req: domain.VoidRequest{Qty: 0, Reason: "x"}, want: store.ErrInvalidQuantity},
		{name: "missing reason", req: domain.VoidRequest{Qty: 1}, want: store.ErrInvalidTransaction},
		{name: "unknown source", req: domain.VoidRequest{Qty: 1, Reason: "x", Source: "robot"}, want: store.ErrInvalidTransaction},
		{name: "over live", req: domain.VoidRequest{Qty: 3, Reason: "x"}, want: store.ErrOverVoid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.VoidItem(cashierCtx(), order.ID, itemID, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestTicketTransitionSkipsVoidedLines(t *testing.T) {
	svc, _, events := newTestService()
	order := openWith(t, svc, "T02",
		domain.AddItemInput{MenuItemID: "menu-nasgor", Qty: 1},
		domain.AddItemInput{MenuItemID: "menu-tehmanis", Qty: 2},
	)
	ticket, err := svc.NotifyKitchen(cashierCtx(), order.ID, domain.NotifyKitchenRequest{Priority: true})
	if err != nil {
		t.Fatalf("notify kitchen: %v", err)
	}
	if len(ticket.Items) != 2 || !ticket.Priority || ticket.Lane != domain.LaneNew {
		t.Fatalf("unexpected ticket %+v", ticket)
	}

	if _, err := svc.VoidItem(cashierCtx(), order.ID, order.Items[1].ID, domain.VoidRequest{Qty: 2, Reason: "out of stock"}); err != nil {
		t.Fatalf("void: %v", err)
	}

	res, err := svc.StartCooking(kitchenCtx(), order.ID, ticket.ID)
	if err != nil {
		t.Fatalf("start cooking: %v", err)
	}
	if res.Message != "1 of 2 items updated" || len(res.Skipped) != 1 || res.Skipped[0].Reason != "voided" {
		t.Fatalf("unexpected transition result %+v", res)
	}
	if len(events.ofType(realtime.EventTicketLaneChanged, realtime.KitchenRoom)) != 1 {
		t.Fatal("expected one lane change event")
	}

	again, err := svc.StartCooking(kitchenCtx(), order.ID, ticket.ID)
	if err != nil {
		t.Fatalf("repeat start cooking: %v", err)
	}
	if again.Updated != 0 || again.Message != "0 of 2 items updated" {
		t.Fatalf("expected no-op repeat, got %+v", again)
	}
	if len(events.ofType(realtime.EventTicketLaneChanged, "")) != 1 {
		t.Fatal("no-op transition must not emit events")
	}

	if _, err := svc.MarkServed(kitchenCtx(), order.ID, "batch-missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown ticket, got %v", err)
	}
}

func TestSplitMovesQuantityToNewTable(t *testing.T) {
	svc, repo, _ := newTestService()
	order := openWith(t, svc, "T03", domain.AddItemInput{MenuItemID: "menu-nasgor", Qty: 3})
	itemID := order.Items[0].ID

	res, err := svc.SplitOrder(cashierCtx(), order.ID, domain.SplitRequest{
		ToTableID: "T04",
		Items:     []domain.SplitLine{{ItemID: itemID, Qty: 1}, {ItemID: itemID, Qty: 1}},
	})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	src := res.Source.Items[0]
	if src.Qty != 1 || src.VoidedQty != 2 || src.OriginalQty != 3 {
		t.Fatalf("unexpected source line %+v", src)
	}
	if len(res.Destination.Items) != 1 || res.Destination.Items[0].Qty != 2 || res.Destination.TableID != "T04" {
		t.Fatalf("unexpected destination %+v", res.Destination)
	}
	if len(res.Moved) != 1 || res.Moved[0].Qty != 2 {
		t.Fatalf("expected duplicate lines aggregated, got %+v", res.Moved)
	}
	voids, _ := repo.ListVoidEvents(context.Background(), order.ID)
	if len(voids) != 1 || voids[0].Source != domain.VoidSourceSystem || voids[0].Reason != "split" {
		t.Fatalf("expected system split void, got %+v", voids)
	}

	if _, err := svc.NotifyKitchen(cashierCtx(), order.ID, domain.NotifyKitchenRequest{}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	_, err = svc.SplitOrder(cashierCtx(), order.ID, domain.SplitRequest{
		ToOrderID: res.Destination.ID,
		Items:     []domain.SplitLine{{ItemID: itemID, Qty: 1}},
	})
	if !errors.Is(err, store.ErrItemDispatched) {
		t.Fatalf("expected ErrItemDispatched, got %v", err)
	}
}

func TestSplitRejectsBadTargets(t *testing.T) {
	svc, _, _ := newTestService()
	order := openWith(t, svc, "T03", domain.AddItemInput{MenuItemID: "menu-nasgor", Qty: 1})
	itemID := order.Items[0].ID

	if _, err := svc.SplitOrder(cashierCtx(), order.ID, domain.SplitRequest{
		ToOrderID: order.ID,
		Items:     []domain.SplitLine{{ItemID: itemID, Qty: 1}},
	}); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected ErrInvalidTransaction for self split, got %v", err)
	}
	if _, err := svc.SplitOrder(cashierCtx(), order.ID, domain.SplitRequest{
		ToTableID: "T05",
		Items:     []domain.SplitLine{{ItemID: itemID, Qty: 2}},
	}); !errors.Is(err, store.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestMergeMovesLiveLinesAndClosesSource(t *testing.T) {
	svc, repo, _ := newTestService()
	from := openWith(t, svc, "T05",
		domain.AddItemInput{MenuItemID: "menu-soto", Qty: 1},
		domain.AddItemInput{MenuItemID: "menu-jeruk", Qty: 1},
	)
	into := openWith(t, svc, "T06", domain.AddItemInput{MenuItemID: "menu-kopi", Qty: 1})
	if _, err := svc.VoidItem(cashierCtx(), from.ID, from.Items[1].ID, domain.VoidRequest{Qty: 1, Reason: "mistake"}); err != nil {
		t.Fatalf("void: %v", err)
	}

	res, err := svc.MergeOrder(cashierCtx(), from.ID, domain.MergeRequest{IntoOrderID: into.ID})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.Moved != 1 || len(res.Into.Items) != 2 {
		t.Fatalf("expected one moved line, got %+v", res)
	}
	if res.Source.State != domain.OrderStateClosed || len(res.Source.Items) != 1 || res.Source.Items[0].Status != domain.ItemStatusCancelled {
		t.Fatalf("expected closed source keeping cancelled line, got %+v", res.Source)
	}
	owner, err := repo.FindOrderIDByItem(context.Background(), from.Items[0].ID)
	if err != nil || owner != into.ID {
		t.Fatalf("expected moved item owned by %s, got %q (%v)", into.ID, owner, err)
	}

	if _, err := svc.MergeOrder(cashierCtx(), from.ID, domain.MergeRequest{IntoOrderID: into.ID}); !errors.Is(err, store.ErrOrderNotOpen) {
		t.Fatalf("expected ErrOrderNotOpen merging closed order, got %v", err)
	}
}

func servedOrder(t *testing.T, svc *Service, items ...domain.AddItemInput) domain.Order {
	t.Helper()
	order := openWith(t, svc, "T07", items...)
	ticket, err := svc.NotifyKitchen(cashierCtx(), order.ID, domain.NotifyKitchenRequest{})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if _, err := svc.MarkServed(kitchenCtx(), order.ID, ticket.ID); err != nil {
		t.Fatalf("serve: %v", err)
	}
	return order
}

func TestCheckoutAllocatesDiscountAndPaymentsAreIdempotent(t *testing.T) {
	svc, _, events := newTestService()
	order := servedOrder(t, svc,
		domain.AddItemInput{MenuItemID: "menu-sate", Qty: 2},
		domain.AddItemInput{MenuItemID: "menu-tehmanis", Qty: 1},
	)

	inv, err := svc.Checkout(cashierCtx(), order.ID, domain.CheckoutRequest{DiscountPercent: 10})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if inv.SubtotalCents != 88000 || inv.OrderDiscountCents != 8800 || inv.TotalCents != 79200 {
		t.Fatalf("unexpected totals %+v", inv)
	}
	if inv.Lines[0].AllocatedDiscountCents != 8000 || inv.Lines[1].AllocatedDiscountCents != 800 {
		t.Fatalf("unexpected allocation %+v", inv.Lines)
	}

	first, err := svc.RecordPayment(cashierCtx(), inv.ID, domain.PaymentRequest{Method: "card", AmountCents: 50000, IdempotencyKey: "pay-1"})
	if err != nil {
		t.Fatalf("card payment: %v", err)
	}
	if first.Invoice.Status != domain.InvoiceStatusPartial {
		t.Fatalf("expected partial, got %s", first.Invoice.Status)
	}
	replay, err := svc.RecordPayment(cashierCtx(), inv.ID, domain.PaymentRequest{Method: "card", AmountCents: 50000, IdempotencyKey: "pay-1"})
	if err != nil || !replay.Duplicate || replay.Invoice.PaidCents != 50000 {
		t.Fatalf("expected duplicate replay, got %+v (%v)", replay, err)
	}

	paid, err := svc.RecordPayment(cashierCtx(), inv.ID, domain.PaymentRequest{Method: "cash", CashReceivedCents: 30000, IdempotencyKey: "pay-2"})
	if err != nil {
		t.Fatalf("cash payment: %v", err)
	}
	if paid.Invoice.Status != domain.InvoiceStatusPaid || paid.Payment.ChangeCents != 800 {
		t.Fatalf("expected paid with 800 change, got %+v", paid)
	}
	closed, _ := svc.GetOrder(context.Background(), order.ID)
	if closed.State != domain.OrderStateClosed {
		t.Fatalf("expected order closed, got %s", closed.State)
	}

	room := realtime.InvoiceRoom(inv.ID)
	if n := len(events.ofType(realtime.EventInvoicePartial, room)); n != 1 {
		t.Fatalf("expected one partial event, got %d", n)
	}
	if n := len(events.ofType(realtime.EventInvoicePaid, room)); n != 1 {
		t.Fatalf("expected one paid event, got %d", n)
	}

	settled, err := svc.ApplySettlement(context.Background(), inv.ID, domain.SettlementNotice{Status: "paid"})
	if err != nil || !settled.Duplicate {
		t.Fatalf("expected settlement on paid invoice to be a no-op, got %+v (%v)", settled, err)
	}
}

func TestCheckoutRequiresServedItemsOrManagerForce(t *testing.T) {
	svc, _, _ := newTestService()
	order := openWith(t, svc, "T08", domain.AddItemInput{MenuItemID: "menu-pho", Qty: 1})
	if _, err := svc.NotifyKitchen(cashierCtx(), order.ID, domain.NotifyKitchenRequest{}); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if _, err := svc.Checkout(cashierCtx(), order.ID, domain.CheckoutRequest{}); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := svc.Checkout(cashierCtx(), order.ID, domain.CheckoutRequest{Force: true}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	manager := WithActor(context.Background(), domain.Actor{Username: "boss", Role: domain.RoleManager})
	inv, err := svc.Checkout(manager, order.ID, domain.CheckoutRequest{Force: true, DiscountCents: 5000})
	if err != nil {
		t.Fatalf("forced checkout: %v", err)
	}
	if inv.TotalCents != 40000 {
		t.Fatalf("expected total 40000, got %d", inv.TotalCents)
	}
	if _, err := svc.AddItems(cashierCtx(), order.ID, domain.AddItemsRequest{Items: []domain.AddItemInput{{MenuItemID: "menu-kopi", Qty: 1}}}); !errors.Is(err, store.ErrOrderNotOpen) {
		t.Fatalf("expected ErrOrderNotOpen after checkout, got %v", err)
	}
}

func TestReturnsRejectOverReturn(t *testing.T) {
	svc, _, events := newTestService()
	order := servedOrder(t, svc, domain.AddItemInput{MenuItemID: "menu-sate", Qty: 2})
	inv, err := svc.Checkout(cashierCtx(), order.ID, domain.CheckoutRequest{DiscountCents: 8000})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	itemID := inv.Lines[0].OrderItemID

	if _, err := svc.CreateReturn(cashierCtx(), inv.ID, domain.ReturnRequest{Lines: []domain.ReturnLineInput{{OrderItemID: itemID, Qty: 1}}}); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected unpaid invoice to reject returns, got %v", err)
	}
	if _, err := svc.RecordPayment(cashierCtx(), inv.ID, domain.PaymentRequest{Method: "card", AmountCents: 72000}); err != nil {
		t.Fatalf("pay: %v", err)
	}

	ret, err := svc.CreateReturn(cashierCtx(), inv.ID, domain.ReturnRequest{Lines: []domain.ReturnLineInput{{OrderItemID: itemID, Qty: 1, Reason: "cold"}}})
	if err != nil {
		t.Fatalf("first return: %v", err)
	}
	if ret.RefundCents != 36000 || ret.RefundMethod != "card" {
		t.Fatalf("unexpected return %+v", ret)
	}
	if _, err := svc.CreateReturn(cashierCtx(), inv.ID, domain.ReturnRequest{Lines: []domain.ReturnLineInput{{OrderItemID: itemID, Qty: 2}}}); !errors.Is(err, store.ErrOverReturn) {
		t.Fatalf("expected ErrOverReturn, got %v", err)
	}

	summary, err := svc.ReturnSummary(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Lines[0].RemainQty != 1 || summary.Lines[0].RefundedCents != 36000 {
		t.Fatalf("unexpected summary %+v", summary.Lines[0])
	}
	if n := len(events.ofType(realtime.EventReturnPosted, realtime.InvoiceRoom(inv.ID))); n != 1 {
		t.Fatalf("expected one return event, got %d", n)
	}
}

func TestAddItemsRejectsStaleVersion(t *testing.T) {
	svc, _, _ := newTestService()
	order := openWith(t, svc, "T09", domain.AddItemInput{MenuItemID: "menu-lumpia", Qty: 1})

	_, err := svc.AddItems(cashierCtx(), order.ID, domain.AddItemsRequest{
		Items:           []domain.AddItemInput{{MenuItemID: "menu-lumpia", Qty: 1}},
		ExpectedVersion: order.Version - 1,
	})
	if !errors.Is(err, store.ErrStaleAggregate) {
		t.Fatalf("expected ErrStaleAggregate, got %v", err)
	}

	updated, err := svc.AddItems(cashierCtx(), order.ID, domain.AddItemsRequest{
		Items:           []domain.AddItemInput{{MenuItemID: "menu-lumpia", Qty: 1}},
		ExpectedVersion: order.Version,
	})
	if err != nil {
		t.Fatalf("add with current version: %v", err)
	}
	if len(updated.Items) != 1 || updated.Items[0].Qty != 2 {
		t.Fatalf("expected pending line to absorb qty, got %+v", updated.Items)
	}
}

func TestCancelOrderVoidsEverythingOrRejectsServed(t *testing.T) {
	svc, _, events := newTestService()
	order := openWith(t, svc, "T10",
		domain.AddItemInput{MenuItemID: "menu-miegoreng", Qty: 2},
		domain.AddItemInput{MenuItemID: "menu-pisang", Qty: 1},
	)
	res, err := svc.CancelOrder(cashierCtx(), order.ID, domain.CancelOrderRequest{Reason: "guest left"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Order.State != domain.OrderStateClosed || len(res.Voids) != 2 {
		t.Fatalf("unexpected cancel result %+v", res)
	}
	if len(events.ofType(realtime.EventTicketsVoided, realtime.KitchenRoom)) != 1 {
		t.Fatal("expected a tickets_voided event for the kitchen")
	}

	served := servedOrder(t, svc, domain.AddItemInput{MenuItemID: "menu-kopi", Qty: 1})
	if _, err := svc.CancelOrder(cashierCtx(), served.ID, domain.CancelOrderRequest{Reason: "nope"}); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for served order, got %v", err)
	}
}

func TestCloseEmptyOrders(t *testing.T) {
	svc, _, _ := newTestService()
	empty := openWith(t, svc, "T11")
	busy := openWith(t, svc, "T12", domain.AddItemInput{MenuItemID: "menu-kopi", Qty: 1})

	closed, err := svc.CloseEmptyOrders(context.Background(), 0)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if closed != 1 {
		t.Fatalf("expected 1 closed, got %d", closed)
	}
	got, _ := svc.GetOrder(context.Background(), empty.ID)
	if got.State != domain.OrderStateClosed {
		t.Fatalf("expected empty order closed, got %s", got.State)
	}
	got, _ = svc.GetOrder(context.Background(), busy.ID)
	if got.State != domain.OrderStateOpen {
		t.Fatalf("expected busy order open, got %s", got.State)
	}
}

func TestCancelStatusVoidsRemainingQuantityAfterPartialVoid(t *testing.T) {
	svc, _, events := newTestService()
	order := openWith(t, svc, "T02", domain.AddItemInput{MenuItemID: "menu-sate", Qty: 3})
	itemID := order.Items[0].ID

	if _, err := svc.VoidItem(cashierCtx(), order.ID, itemID, domain.VoidRequest{Qty: 1, Reason: "short"}); err != nil {
		t.Fatalf("partial void: %v", err)
	}
	item, err := svc.SetItemStatus(cashierCtx(), itemID, domain.SetItemStatusRequest{Status: "cancelled"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if item.Status != domain.ItemStatusCancelled || item.Qty != 0 || item.VoidedQty != 3 {
		t.Fatalf("expected remaining 2 voided on cancel, got %+v", item)
	}

	voids, err := svc.ListVoids(context.Background(), order.ID)
	if err != nil || len(voids) != 2 || voids[1].Qty != 2 {
		t.Fatalf("expected second void of 2, got %+v (%v)", voids, err)
	}
	if n := len(events.ofType(realtime.EventVoidSynced, realtime.KitchenRoom)); n != 2 {
		t.Fatalf("expected 2 kitchen void syncs, got %d", n)
	}
	if _, err := svc.SetItemStatus(cashierCtx(), itemID, domain.SetItemStatusRequest{Status: "cancelled"}); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected cancelling a cancelled line to fail, got %v", err)
	}
}

func TestOrderMutationsRejectStaleVersion(t *testing.T) {
	svc, _, _ := newTestService()
	order := openWith(t, svc, "T03", domain.AddItemInput{MenuItemID: "menu-nasgor", Qty: 2})
	into := openWith(t, svc, "T04", domain.AddItemInput{MenuItemID: "menu-kopi", Qty: 1})
	itemID := order.Items[0].ID
	stale := order.Version - 1

	if _, err := svc.VoidItem(cashierCtx(), order.ID, itemID, domain.VoidRequest{Qty: 1, Reason: "x", ExpectedVersion: stale}); !errors.Is(err, store.ErrStaleAggregate) {
		t.Fatalf("void: expected ErrStaleAggregate, got %v", err)
	}
	if _, err := svc.SplitOrder(cashierCtx(), order.ID, domain.SplitRequest{
		ToTableID:       "T05",
		Items:           []domain.SplitLine{{ItemID: itemID, Qty: 1}},
		ExpectedVersion: stale,
	}); !errors.Is(err, store.ErrStaleAggregate) {
		t.Fatalf("split: expected ErrStaleAggregate, got %v", err)
	}
	if _, err := svc.MergeOrder(cashierCtx(), order.ID, domain.MergeRequest{IntoOrderID: into.ID, ExpectedVersion: stale}); !errors.Is(err, store.ErrStaleAggregate) {
		t.Fatalf("merge: expected ErrStaleAggregate, got %v", err)
	}

	got, err := svc.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Version != order.Version || got.State != domain.OrderStateOpen || got.Items[0].Qty != 2 {
		t.Fatalf("expected order untouched by stale writes, got %+v", got)
	}

	res, err := svc.VoidItem(cashierCtx(), order.ID, itemID, domain.VoidRequest{Qty: 1, Reason: "x", ExpectedVersion: order.Version})
	if err != nil || res.Item.Qty != 1 {
		t.Fatalf("void with current version: %+v (%v)", res.Item, err)
	}
}
