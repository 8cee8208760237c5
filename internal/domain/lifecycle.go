package domain

var statusRank = map[string]int{
	ItemStatusPending:   0,
	ItemStatusConfirmed: 1,
	ItemStatusPreparing: 2,
	ItemStatusReady:     3,
	ItemStatusServed:    4,
}

// StatusRank orders the forward lifecycle. Unknown and cancelled statuses return -1.
func StatusRank(status string) int {
	rank, ok := statusRank[status]
	if !ok {
		return -1
	}
	return rank
}

func IsKnownStatus(status string) bool {
	_, ok := statusRank[status]
	return ok || status == ItemStatusCancelled
}

func IsTerminalStatus(status string) bool {
	return status == ItemStatusServed || status == ItemStatusCancelled
}

// CanTransition reports whether an item may move from one status to another.
// Forward moves along the lifecycle are allowed, and CANCELLED is reachable
// from every non-terminal status. Staying in place is not a transition.
func CanTransition(from string, to string) bool {
	if from == to || IsTerminalStatus(from) {
		return false
	}
	if to == ItemStatusCancelled {
		return IsKnownStatus(from)
	}
	fromRank, toRank := StatusRank(from), StatusRank(to)
	if fromRank < 0 || toRank < 0 {
		return false
	}
	return toRank > fromRank
}

func (i OrderItem) IsLive() bool {
	return i.Status != ItemStatusCancelled && i.Qty > 0
}

func (i OrderItem) IsDispatched() bool {
	return i.BatchID != "" || i.DispatchedAt != nil
}

func (i OrderItem) LineTotalCents() int64 {
	return int64(i.Qty) * i.UnitPriceCents
}

// DeriveStatus is the lowest status among live items, or CANCELLED when none are live.
func (o Order) DeriveStatus() string {
	status := ""
	for _, item := range o.Items {
		if !item.IsLive() {
			continue
		}
		if status == "" || StatusRank(item.Status) < StatusRank(status) {
			status = item.Status
		}
	}
	if status == "" {
		return ItemStatusCancelled
	}
	return status
}

func (o Order) IsEmpty() bool {
	for _, item := range o.Items {
		if item.IsLive() {
			return false
		}
	}
	return true
}

func (o Order) FindItem(itemID string) (int, bool) {
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			return i, true
		}
	}
	return -1, false
}

// PendingServe reports whether any live item has not reached SERVED.
func (o Order) PendingServe() bool {
	for _, item := range o.Items {
		if item.IsLive() && item.Status != ItemStatusServed {
			return true
		}
	}
	return false
}

func (inv Invoice) RemainingCents() int64 {
	remaining := inv.TotalCents - inv.PaidCents
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (inv Invoice) FindLine(orderItemID string) (InvoiceLine, bool) {
	for _, line := range inv.Lines {
		if line.OrderItemID == orderItemID {
			return line, true
		}
	}
	return InvoiceLine{}, false
}
