// Package realtime relays order, kitchen and payment events to subscribers
// grouped in rooms. It carries no business state of its own.
//
// Hub and Manager are the server side. Inbox is the receiving side a
// client session runs over its event stream: it applies each event id once
// and keeps operator alerts quiet for events the session caused itself.
// The payment reconciler consumes invoice rooms through an Inbox.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrTransportUnavailable = errors.New("realtime transport unavailable")
	ErrInvalidRoom          = errors.New("invalid room")
)

const (
	EventOrderUpdated      = "order.updated"
	EventInvoicePaid       = "invoice.paid"
	EventInvoicePartial    = "invoice.partial"
	EventReturnPosted      = "invoice.return_posted"
	EventVoidSynced        = "kitchen.void_synced"
	EventTicketsVoided     = "kitchen.tickets_voided"
	EventTicketLaneChanged = "kitchen.ticket_lane_changed"
	EventTicketsDispatched = "kitchen.tickets_dispatched"
)

const KitchenRoom = "kitchen"

func OrderRoom(orderID string) string {
	return "order:" + orderID
}

func InvoiceRoom(invoiceID string) string {
	return "invoice:" + invoiceID
}

// ValidRoom accepts the kitchen room and order:/invoice: rooms with an id.
func ValidRoom(room string) bool {
	if room == KitchenRoom {
		return true
	}
	for _, prefix := range []string{"order:", "invoice:"} {
		if id, ok := strings.CutPrefix(room, prefix); ok {
			return strings.TrimSpace(id) != ""
		}
	}
	return false
}

// Event is the envelope written to every subscriber. ID identifies one
// logical occurrence so re-delivery can be detected.
type Event struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Room        string          `json:"room"`
	AggregateID string          `json:"aggregate_id"`
	Actor       string          `json:"actor,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	At          time.Time       `json:"at"`
	Origin      string          `json:"origin,omitempty"`
}

// NewEvent encodes payload into an event addressed to room.
func NewEvent(room string, eventType string, aggregateID string, actor string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Room: room, AggregateID: aggregateID, Actor: actor, Payload: raw}, nil
}

func (e Event) Decode(dst any) error {
	return json.Unmarshal(e.Payload, dst)
}

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(ctx context.Context, ev Event) (Event, error)
}

type NopPublisher struct{}

func (NopPublisher) Publish(_ context.Context, ev Event) (Event, error) {
	return ev, nil
}

type OrderUpdated struct {
	OrderID string `json:"orderId"`
	State   string `json:"state"`
	Status  string `json:"status"`
	Version int64  `json:"version"`
	Reason  string `json:"reason"`
}

type InvoicePaid struct {
	InvoiceID string    `json:"invoiceId"`
	OrderID   string    `json:"orderId,omitempty"`
	Amount    int64     `json:"amount"`
	Method    string    `json:"method"`
	PaidAt    time.Time `json:"paidAt"`
}

type InvoicePartial struct {
	InvoiceID string `json:"invoiceId"`
	OrderID   string `json:"orderId,omitempty"`
	Amount    int64  `json:"amount"`
	Remaining int64  `json:"remaining"`
}

type ReturnPosted struct {
	InvoiceID   string `json:"invoiceId"`
	ReturnID    string `json:"returnId"`
	RefundCents int64  `json:"refund"`
	Method      string `json:"method"`
}

type VoidSynced struct {
	OrderID     string `json:"orderId"`
	MenuItemID  string `json:"menuItemId"`
	OrderItemID string `json:"orderItemId"`
	Qty         int    `json:"qty"`
	Reason      string `json:"reason"`
	By          string `json:"by"`
	TicketID    string `json:"ticketId"`
}

type VoidedItem struct {
	MenuItemID string `json:"menuItemId"`
	Qty        int    `json:"qty"`
	Reason     string `json:"reason"`
	By         string `json:"by"`
}

type TicketsVoided struct {
	OrderID string       `json:"orderId"`
	Items   []VoidedItem `json:"items"`
}

type TicketLaneChanged struct {
	OrderID  string `json:"orderId"`
	TicketID string `json:"ticketId"`
	Target   string `json:"target"`
	FromLane string `json:"fromLane"`
	Lane     string `json:"lane"`
	Updated  int    `json:"updated"`
	Total    int    `json:"total"`
}

type TicketsDispatched struct {
	OrderID   string `json:"orderId"`
	TicketID  string `json:"ticketId"`
	TableName string `json:"tableName"`
	Priority  bool   `json:"priority"`
	Items     int    `json:"items"`
}
