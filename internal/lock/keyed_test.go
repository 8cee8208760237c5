package lock

import (
	"sync"
	"testing"
	"time"
)

func TestLockSerializesSameKey(t *testing.T) {
	k := NewKeyed()
	var mu sync.Mutex
	active, maxActive := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("order:a")
			defer unlock()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("expected exclusive access, saw %d concurrent holders", maxActive)
	}
	if k.Len() != 0 {
		t.Fatalf("expected all keys released, got %d", k.Len())
	}
}

func TestLockOppositeOrderDoesNotDeadlock(t *testing.T) {
	k := NewKeyed()
	done := make(chan struct{})

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				unlock := k.Lock("order:a", "order:b")
				unlock()
			}()
			go func() {
				defer wg.Done()
				unlock := k.Lock("order:b", "order:a")
				unlock()
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock acquisition deadlocked")
	}
}

func TestUnlockIsIdempotent(t *testing.T) {
	k := NewKeyed()
	unlock := k.Lock("invoice:1", "", "invoice:1")
	unlock()
	unlock()

	relock := k.Lock("invoice:1")
	relock()
	if k.Len() != 0 {
		t.Fatalf("expected empty table, got %d", k.Len())
	}
}
