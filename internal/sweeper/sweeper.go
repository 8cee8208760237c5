// Package sweeper runs periodic housekeeping: closing abandoned empty orders
// and dropping old settlement wait state.
package sweeper

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

type OrderCloser interface {
	CloseEmptyOrders(ctx context.Context, olderThan time.Duration) (int, error)
}

type StatePruner interface {
	Prune(cutoff time.Time) int
}

type Sweeper struct {
	orders   OrderCloser
	states   StatePruner
	maxAge   time.Duration
	schedule string
	cron     *cron.Cron
}

// New builds a sweeper. states may be nil.
func New(orders OrderCloser, states StatePruner, schedule string, maxAge time.Duration) *Sweeper {
	if schedule == "" {
		schedule = "@every 5m"
	}
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	return &Sweeper{
		orders:   orders,
		states:   states,
		maxAge:   maxAge,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// RunOnce performs a single sweep and reports what it cleaned up.
func (s *Sweeper) RunOnce(ctx context.Context) (closed int, pruned int, err error) {
	closed, err = s.orders.CloseEmptyOrders(ctx, s.maxAge)
	if err != nil {
		return closed, 0, err
	}
	if s.states != nil {
		pruned = s.states.Prune(time.Now().UTC().Add(-s.maxAge))
	}
	return closed, pruned, nil
}

func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		closed, pruned, err := s.RunOnce(ctx)
		if err != nil {
			log.Printf("[sweeper] WARN: sweep failed after closing %d orders: %v", closed, err)
			return
		}
		if closed > 0 || pruned > 0 {
			log.Printf("[sweeper] closed %d empty orders, pruned %d settlement states", closed, pruned)
		}
	})
	if err != nil {
		return fmt.Errorf("sweeper schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	log.Printf("[sweeper] started with schedule %q", s.schedule)
	return nil
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
