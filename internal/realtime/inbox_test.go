package realtime

import "testing"

func TestInboxDropsRedeliveredEvents(t *testing.T) {
	inbox := NewInbox("cashier-1")
	applied := 0
	inbox.On(EventInvoicePaid, func(Event) { applied++ })

	ev := Event{ID: "evt-1", Type: EventInvoicePaid, Actor: "system"}
	if !inbox.Dispatch(ev) {
		t.Fatal("expected first delivery to dispatch")
	}
	if inbox.Dispatch(ev) {
		t.Fatal("expected re-delivery to be dropped")
	}
	if applied != 1 {
		t.Fatalf("expected handler to run once, ran %d", applied)
	}
}

func TestInboxSuppressesOwnNotifications(t *testing.T) {
	inbox := NewInbox("cashier-1")
	var state, banners []string
	inbox.On(EventVoidSynced, func(ev Event) { state = append(state, ev.ID) })
	inbox.OnNotify(EventVoidSynced, func(ev Event) { banners = append(banners, ev.ID) })

	inbox.Dispatch(Event{ID: "evt-own", Type: EventVoidSynced, Actor: "cashier-1"})
	inbox.Dispatch(Event{ID: "evt-kitchen", Type: EventVoidSynced, Actor: "kitchen"})

	inbox.Ack("evt-acked")
	inbox.Dispatch(Event{ID: "evt-acked", Type: EventVoidSynced, Actor: "waiter"})

	if len(state) != 3 {
		t.Fatalf("expected every event to reconcile state, got %v", state)
	}
	if len(banners) != 1 || banners[0] != "evt-kitchen" {
		t.Fatalf("expected banner only for the kitchen void, got %v", banners)
	}
}
