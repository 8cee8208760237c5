// Package kitchen projects order lines into kitchen tickets and lanes.
// Tickets are never stored; they are rebuilt from order items on every read.
package kitchen

import (
	"sort"
	"time"

	"kasirinaja/dinein/internal/domain"
)

// TicketKey is the batch id for dispatched lines and the line id otherwise.
func TicketKey(item domain.OrderItem) string {
	if item.BatchID != "" {
		return item.BatchID
	}
	return item.ID
}

// onTicket reports whether a line still needs kitchen attention.
func onTicket(item domain.OrderItem) bool {
	return item.IsLive() && item.Status != domain.ItemStatusServed
}

// LaneFor buckets a set of line statuses. Everything still PENDING or
// CONFIRMED is new, everything READY is ready, and any other mix, including
// READY next to unstarted lines, is preparing. No statuses means done.
func LaneFor(statuses []string) string {
	if len(statuses) == 0 {
		return domain.LaneDone
	}
	allNew, allReady := true, true
	for _, status := range statuses {
		if status != domain.ItemStatusPending && status != domain.ItemStatusConfirmed {
			allNew = false
		}
		if status != domain.ItemStatusReady {
			allReady = false
		}
	}
	switch {
	case allNew:
		return domain.LaneNew
	case allReady:
		return domain.LaneReady
	default:
		return domain.LanePreparing
	}
}

// BuildTickets groups the order's open kitchen work by ticket key, keeping
// the order in which each ticket's first line was added.
func BuildTickets(order domain.Order) []domain.Ticket {
	tickets := make([]domain.Ticket, 0, len(order.Items))
	index := make(map[string]int)
	statuses := make([][]string, 0, len(order.Items))

	for _, item := range order.Items {
		if !onTicket(item) {
			continue
		}
		key := TicketKey(item)
		pos, ok := index[key]
		if !ok {
			pos = len(tickets)
			index[key] = pos
			tickets = append(tickets, domain.Ticket{
				ID:        key,
				OrderID:   order.ID,
				TableName: order.TableName,
				Items:     make([]domain.TicketItem, 0, 4),
				Note:      ticketNote(item),
				CreatedAt: ticketTime(item),
			})
			statuses = append(statuses, nil)
		}
		t := &tickets[pos]
		t.Items = append(t.Items, domain.TicketItem{
			OrderItemID: item.ID,
			MenuItemID:  item.MenuItemID,
			Name:        item.Name,
			Qty:         item.Qty,
			Note:        item.Note,
			Status:      item.Status,
		})
		t.Qty += item.Qty
		t.Priority = t.Priority || item.Priority
		if at := ticketTime(item); at.Before(t.CreatedAt) {
			t.CreatedAt = at
		}
		statuses[pos] = append(statuses[pos], item.Status)
	}

	for i := range tickets {
		tickets[i].Lane = LaneFor(statuses[i])
	}
	return tickets
}

// FindTicket returns the projected ticket plus the positions of every line
// carrying its key, including lines no longer on the ticket.
func FindTicket(order domain.Order, ticketID string) (domain.Ticket, []int, bool) {
	members := make([]int, 0, 4)
	for i, item := range order.Items {
		if TicketKey(item) == ticketID {
			members = append(members, i)
		}
	}
	if len(members) == 0 {
		return domain.Ticket{}, nil, false
	}
	for _, t := range BuildTickets(order) {
		if t.ID == ticketID {
			return t, members, true
		}
	}
	return domain.Ticket{ID: ticketID, OrderID: order.ID, TableName: order.TableName, Lane: domain.LaneDone}, members, true
}

// BuildBoard lays out the tickets of every unclosed order into lanes.
func BuildBoard(orders []domain.Order, now time.Time) domain.KitchenBoard {
	board := domain.KitchenBoard{
		New:         []domain.Ticket{},
		Preparing:   []domain.Ticket{},
		Ready:       []domain.Ticket{},
		GeneratedAt: now,
	}
	for _, order := range orders {
		if order.State == domain.OrderStateClosed {
			continue
		}
		for _, t := range BuildTickets(order) {
			switch t.Lane {
			case domain.LaneNew:
				board.New = append(board.New, t)
			case domain.LanePreparing:
				board.Preparing = append(board.Preparing, t)
			case domain.LaneReady:
				board.Ready = append(board.Ready, t)
			}
		}
	}
	SortLane(board.New)
	SortLane(board.Preparing)
	SortLane(board.Ready)
	return board
}

// SortLane puts priority tickets first, then oldest first.
func SortLane(tickets []domain.Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		a, b := tickets[i], tickets[j]
		if a.Priority != b.Priority {
			return a.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func ticketNote(item domain.OrderItem) string {
	if item.BatchID != "" {
		return item.BatchNote
	}
	return item.Note
}

func ticketTime(item domain.OrderItem) time.Time {
	if item.DispatchedAt != nil {
		return *item.DispatchedAt
	}
	return item.CreatedAt
}
