package payment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kasirinaja/dinein/internal/domain"
	"kasirinaja/dinein/internal/realtime"
	"kasirinaja/dinein/internal/settlement"
)

type fakeLedger struct {
	mu      sync.Mutex
	inv     domain.Invoice
	credits int
}

func (f *fakeLedger) GetInvoice(_ context.Context, _ string) (*domain.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv := f.inv
	return &inv, nil
}

func (f *fakeLedger) ApplySettlement(_ context.Context, _ string, _ domain.SettlementNotice) (*domain.PaymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inv.Status == domain.InvoiceStatusPaid {
		return &domain.PaymentResult{Invoice: f.inv, Duplicate: true}, nil
	}
	f.credits++
	f.inv.PaidCents = f.inv.TotalCents
	f.inv.Status = domain.InvoiceStatusPaid
	return &domain.PaymentResult{Invoice: f.inv}, nil
}

type scriptedSource struct {
	calls  atomic.Int32
	paidOn int32
	amount int64
}

func (s *scriptedSource) Status(_ context.Context, _ string) (domain.SettlementStatus, error) {
	n := s.calls.Add(1)
	if s.paidOn > 0 && n >= s.paidOn {
		return domain.SettlementStatus{Status: settlement.StatusPaid, PaidAmountCents: s.amount}, nil
	}
	return domain.SettlementStatus{Status: settlement.StatusUnsettled}, nil
}

func newLedger() *fakeLedger {
	return &fakeLedger{inv: domain.Invoice{ID: "inv-1", OrderID: "order-1", TotalCents: 50000, Status: domain.InvoiceStatusUnpaid}}
}

func startHub(t *testing.T) (*realtime.Hub, *realtime.Manager) {
	t.Helper()
	hub := realtime.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub, realtime.NewManager(hub)
}

func TestWaitResolvesOnSecondPoll(t *testing.T) {
	ledger := newLedger()
	source := &scriptedSource{paidOn: 2, amount: 50000}
	_, manager := startHub(t)
	r := NewReconciler(ledger, source, manager, ledger, 20*time.Millisecond)

	res, err := r.WaitUntilPaid(context.Background(), "inv-1", 250*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.Via != ViaPoll || res.PaidCents != 50000 {
		t.Fatalf("expected poll settlement of 50000, got %+v", res)
	}
	if r.State("inv-1") != domain.SettlementSettled {
		t.Fatalf("expected SETTLED, got %s", r.State("inv-1"))
	}
	if manager.Active() != 0 {
		t.Fatalf("expected subscription released, %d active", manager.Active())
	}
}

func TestWaitResolvesOnPush(t *testing.T) {
	ledger := newLedger()
	source := &scriptedSource{}
	hub, manager := startHub(t)
	r := NewReconciler(ledger, source, manager, ledger, time.Hour)

	go func() {
		for hub.RoomSize(realtime.InvoiceRoom("inv-1")) == 0 {
			time.Sleep(time.Millisecond)
		}
		_, _ = hub.Emit(realtime.InvoiceRoom("inv-1"), realtime.EventInvoicePaid, realtime.InvoicePaid{InvoiceID: "inv-1", Amount: 50000, Method: "qris"})
	}()

	res, err := r.WaitUntilPaid(context.Background(), "inv-1", time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.Via != ViaPush || ledger.credits != 1 {
		t.Fatalf("expected single push credit, got %+v credits=%d", res, ledger.credits)
	}
	if source.calls.Load() != 0 {
		t.Fatal("expected no poll before the first interval")
	}
}

func TestConcurrentWaitersCreditOnceOnRedeliveredPush(t *testing.T) {
	ledger := newLedger()
	hub, manager := startHub(t)
	r := NewReconciler(ledger, &scriptedSource{}, manager, ledger, time.Hour)
	room := realtime.InvoiceRoom("inv-1")

	const waiters = 5
	go func() {
		for hub.RoomSize(room) < waiters {
			time.Sleep(time.Millisecond)
		}
		_, _ = hub.Emit(room, realtime.EventInvoicePaid, realtime.InvoicePaid{InvoiceID: "inv-2", Amount: 1})
		paid, _ := realtime.NewEvent(room, realtime.EventInvoicePaid, "inv-1", "", realtime.InvoicePaid{InvoiceID: "inv-1", Amount: 50000, Method: "qris"})
		paid, _ = hub.Publish(context.Background(), paid)
		_, _ = hub.Publish(context.Background(), paid)
	}()

	results := make([]Result, waiters)
	errs := make([]error, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.WaitUntilPaid(context.Background(), "inv-1", 2*time.Second)
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("waiter %d: %v", i, errs[i])
		}
		if results[i].PaidCents != 50000 {
			t.Fatalf("waiter %d: expected 50000 paid, got %+v", i, results[i])
		}
	}
	if ledger.credits != 1 {
		t.Fatalf("expected one credit, got %d", ledger.credits)
	}
	if r.State("inv-1") != domain.SettlementSettled {
		t.Fatalf("expected SETTLED, got %s", r.State("inv-1"))
	}
}

func TestWaitTimesOutAndReleases(t *testing.T) {
	ledger := newLedger()
	_, manager := startHub(t)
	r := NewReconciler(ledger, &scriptedSource{}, manager, ledger, 10*time.Millisecond)

	_, err := r.WaitUntilPaid(context.Background(), "inv-1", 60*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if r.State("inv-1") != domain.SettlementConfirming {
		t.Fatalf("expected CONFIRMING after timeout, got %s", r.State("inv-1"))
	}
	if manager.Active() != 0 {
		t.Fatal("expected subscription released after timeout")
	}
}

func TestWaitReturnsCallerCancellation(t *testing.T) {
	ledger := newLedger()
	source := &scriptedSource{}
	_, manager := startHub(t)
	r := NewReconciler(ledger, source, manager, ledger, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	_, err := r.WaitUntilPaid(ctx, "inv-1", time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	polled := source.calls.Load()
	time.Sleep(40 * time.Millisecond)
	if source.calls.Load() != polled {
		t.Fatal("poller kept running after the wait was abandoned")
	}
	if manager.Active() != 0 {
		t.Fatal("expected subscription released after cancellation")
	}
}

type brokenSubscriber struct{}

func (brokenSubscriber) Acquire(context.Context, string) (*realtime.Subscription, error) {
	return nil, realtime.ErrTransportUnavailable
}

func TestWaitFallsBackToPollWhenTransportDown(t *testing.T) {
	ledger := newLedger()
	r := NewReconciler(ledger, &scriptedSource{paidOn: 1, amount: 50000}, brokenSubscriber{}, ledger, 10*time.Millisecond)

	res, err := r.WaitUntilPaid(context.Background(), "inv-1", 200*time.Millisecond)
	if err != nil || res.Via != ViaPoll {
		t.Fatalf("expected poll-only settlement, got %+v (%v)", res, err)
	}
}

func TestWaitOnPaidInvoiceResolvesImmediately(t *testing.T) {
	ledger := newLedger()
	ledger.inv.Status = domain.InvoiceStatusPaid
	ledger.inv.PaidCents = 50000
	r := NewReconciler(ledger, &scriptedSource{}, nil, ledger, time.Hour)

	res, err := r.WaitUntilPaid(context.Background(), "inv-1", time.Millisecond)
	if err != nil || res.Via != ViaLedger || res.PaidCents != 50000 {
		t.Fatalf("expected ledger resolution, got %+v (%v)", res, err)
	}
	if ledger.credits != 0 {
		t.Fatal("expected no settlement credit for an already paid invoice")
	}

	again, _ := r.WaitUntilPaid(context.Background(), "inv-1", time.Millisecond)
	if again != res {
		t.Fatalf("expected repeated wait to return the settled result, got %+v", again)
	}
}

func TestPruneForgetsOldStates(t *testing.T) {
	r := NewReconciler(newLedger(), &scriptedSource{}, nil, newLedger(), time.Second)
	r.Begin("inv-old")
	if removed := r.Prune(time.Now().Add(time.Minute)); removed != 1 {
		t.Fatalf("expected one pruned state, got %d", removed)
	}
	if r.State("inv-old") != domain.SettlementUnsettled {
		t.Fatal("expected pruned invoice to read as UNSETTLED")
	}
}
