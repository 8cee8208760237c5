// Package payment confirms invoice settlement from two racing signals: a
// realtime invoice.paid push and a fixed-interval status poll.
package payment

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kasirinaja/dinein/internal/domain"
	"kasirinaja/dinein/internal/realtime"
	"kasirinaja/dinein/internal/settlement"
)

var ErrTimeout = errors.New("timed out waiting for payment")

const (
	ViaLedger = "ledger"
	ViaPush   = "push"
	ViaPoll   = "poll"
)

type InvoiceReader interface {
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
}

// Settler credits a confirmed settlement. It must be idempotent per invoice.
type Settler interface {
	ApplySettlement(ctx context.Context, invoiceID string, notice domain.SettlementNotice) (*domain.PaymentResult, error)
}

type Subscriber interface {
	Acquire(ctx context.Context, room string) (*realtime.Subscription, error)
}

type Result struct {
	InvoiceID string `json:"invoice_id"`
	PaidCents int64  `json:"paid_cents"`
	Via       string `json:"via"`
}

type state struct {
	status    string
	paidCents int64
	via       string
	updatedAt time.Time
}

type signal struct {
	via        string
	paidAmount int64
	method     string
	reference  string
}

type Reconciler struct {
	invoices InvoiceReader
	source   settlement.Source
	subs     Subscriber
	settler  Settler
	interval time.Duration

	mu     sync.Mutex
	states map[string]*state
}

// NewReconciler wires the reconciler. subs may be nil, which means poll-only.
func NewReconciler(invoices InvoiceReader, source settlement.Source, subs Subscriber, settler Settler, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Reconciler{
		invoices: invoices,
		source:   source,
		subs:     subs,
		settler:  settler,
		interval: interval,
		states:   make(map[string]*state),
	}
}

// Begin marks an invoice as awaiting confirmation. Settled invoices stay settled.
func (r *Reconciler) Begin(invoiceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[invoiceID]; ok && st.status == domain.SettlementSettled {
		return
	}
	r.states[invoiceID] = &state{status: domain.SettlementConfirming, updatedAt: time.Now().UTC()}
}

func (r *Reconciler) State(invoiceID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[invoiceID]
	if !ok {
		return domain.SettlementUnsettled
	}
	return st.status
}

// Prune forgets states untouched since before cutoff and returns how many went.
func (r *Reconciler) Prune(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, st := range r.states {
		if st.updatedAt.Before(cutoff) {
			delete(r.states, id)
			removed++
		}
	}
	return removed
}

func (r *Reconciler) settled(invoiceID string) (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[invoiceID]
	if !ok || st.status != domain.SettlementSettled {
		return Result{}, false
	}
	return Result{InvoiceID: invoiceID, PaidCents: st.paidCents, Via: st.via}, true
}

func (r *Reconciler) markSettled(invoiceID string, paidCents int64, via string) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[invoiceID]
	if ok && st.status == domain.SettlementSettled {
		return Result{InvoiceID: invoiceID, PaidCents: st.paidCents, Via: st.via}
	}
	r.states[invoiceID] = &state{status: domain.SettlementSettled, paidCents: paidCents, via: via, updatedAt: time.Now().UTC()}
	return Result{InvoiceID: invoiceID, PaidCents: paidCents, Via: via}
}

// WaitUntilPaid blocks until the invoice is confirmed paid, the timeout
// elapses (ErrTimeout) or ctx is cancelled (ctx.Err()). The room subscription
// and the poller are released on every return path.
func (r *Reconciler) WaitUntilPaid(ctx context.Context, invoiceID string, timeout time.Duration) (Result, error) {
	if res, ok := r.settled(invoiceID); ok {
		return res, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Subscribe before reading the ledger so a payment landing in between is
	// still seen by one of the two.
	var sub *realtime.Subscription
	if r.subs != nil {
		acquired, err := r.subs.Acquire(waitCtx, realtime.InvoiceRoom(invoiceID))
		if err != nil {
			log.Printf("[payment] WARN: invoice %s realtime unavailable, polling only: %v", invoiceID, err)
		} else {
			sub = acquired
			defer sub.Release()
		}
	}

	inv, err := r.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return Result{}, err
	}
	if inv.Status == domain.InvoiceStatusPaid {
		return r.markSettled(invoiceID, inv.PaidCents, ViaLedger), nil
	}
	r.Begin(invoiceID)

	signals := make(chan signal, 2)
	g, gctx := errgroup.WithContext(waitCtx)
	if sub != nil {
		g.Go(func() error {
			r.listen(gctx, invoiceID, sub, signals)
			return nil
		})
	}
	g.Go(func() error {
		r.poll(gctx, invoiceID, signals)
		return nil
	})

	var got *signal
	select {
	case s := <-signals:
		got = &s
	case <-waitCtx.Done():
	}
	cancel()
	_ = g.Wait()

	if got == nil {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		return Result{}, ErrTimeout
	}

	res, err := r.settler.ApplySettlement(ctx, invoiceID, domain.SettlementNotice{
		Status:          settlement.StatusPaid,
		PaidAmountCents: got.paidAmount,
		Method:          got.method,
		Reference:       got.reference,
	})
	if err != nil {
		return Result{}, err
	}
	return r.markSettled(invoiceID, res.Invoice.PaidCents, got.via), nil
}

// listen consumes the invoice room through an Inbox, so a paid event the
// relay delivers twice is only seen once.
func (r *Reconciler) listen(ctx context.Context, invoiceID string, sub *realtime.Subscription, out chan<- signal) {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	inbox := realtime.NewInbox("")
	inbox.On(realtime.EventInvoicePaid, func(ev realtime.Event) {
		var paid realtime.InvoicePaid
		if err := ev.Decode(&paid); err != nil || paid.InvoiceID != invoiceID {
			return
		}
		send(ctx, out, signal{via: ViaPush, paidAmount: paid.Amount, method: paid.Method, reference: ev.ID})
		stop()
	})
	inbox.Consume(ctx, sub.Events())

	if ctx.Err() == nil {
		log.Printf("[payment] WARN: invoice %s subscription closed, polling only", invoiceID)
	}
}

func (r *Reconciler) poll(ctx context.Context, invoiceID string, out chan<- signal) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := r.source.Status(ctx, invoiceID)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("[payment] WARN: poll invoice %s: %v", invoiceID, err)
				}
				continue
			}
			if status.Status != settlement.StatusPaid {
				continue
			}
			send(ctx, out, signal{via: ViaPoll, paidAmount: status.PaidAmountCents})
			return
		}
	}
}

func send(ctx context.Context, out chan<- signal, s signal) {
	select {
	case out <- s:
	case <-ctx.Done():
	}
}
