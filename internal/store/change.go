package store

import (
	"fmt"
	"reflect"
	"time"

	"kasirinaja/dinein/internal/domain"
)

// OrderChange is the unit of work handed to UpdateOrders callbacks. It holds
// private copies of the locked orders plus the void events and invoice that
// must be written in the same commit.
type OrderChange struct {
	now     time.Time
	ids     []string
	orders  map[string]*domain.Order
	created map[string]bool
	voids   []domain.VoidEvent
	invoice *domain.Invoice
}

func NewOrderChange(orders []domain.Order, now time.Time) *OrderChange {
	c := &OrderChange{
		now:     now,
		ids:     make([]string, 0, len(orders)),
		orders:  make(map[string]*domain.Order, len(orders)),
		created: make(map[string]bool),
	}
	for _, order := range orders {
		cloned := CloneOrder(order)
		c.ids = append(c.ids, order.ID)
		c.orders[order.ID] = &cloned
	}
	return c
}

func (c *OrderChange) Now() time.Time {
	return c.now
}

func (c *OrderChange) Order(id string) (*domain.Order, error) {
	order, ok := c.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return order, nil
}

// Insert adds a brand-new order to the change.
func (c *OrderChange) Insert(order domain.Order) (*domain.Order, error) {
	if order.ID == "" {
		return nil, ErrInvalidTransaction
	}
	if _, exists := c.orders[order.ID]; exists {
		return nil, ErrInvalidTransaction
	}
	cloned := CloneOrder(order)
	c.ids = append(c.ids, order.ID)
	c.orders[order.ID] = &cloned
	c.created[order.ID] = true
	return &cloned, nil
}

func (c *OrderChange) Created(id string) bool {
	return c.created[id]
}

func (c *OrderChange) RecordVoid(event domain.VoidEvent) {
	c.voids = append(c.voids, event)
}

func (c *OrderChange) IssueInvoice(inv domain.Invoice) {
	cloned := CloneInvoice(inv)
	c.invoice = &cloned
}

func (c *OrderChange) Voids() []domain.VoidEvent {
	return append([]domain.VoidEvent(nil), c.voids...)
}

func (c *OrderChange) Invoice() *domain.Invoice {
	if c.invoice == nil {
		return nil
	}
	cloned := CloneInvoice(*c.invoice)
	return &cloned
}

// Orders returns copies in lock order followed by inserted orders.
func (c *OrderChange) Orders() []domain.Order {
	result := make([]domain.Order, 0, len(c.ids))
	for _, id := range c.ids {
		result = append(result, CloneOrder(*c.orders[id]))
	}
	return result
}

func (c *OrderChange) Get(id string) (domain.Order, bool) {
	order, ok := c.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return CloneOrder(*order), true
}

// Finalize derives order status and bumps the version of every order whose
// content differs from before. It returns the ids of touched orders.
func (c *OrderChange) Finalize(before []domain.Order) []string {
	prior := make(map[string]domain.Order, len(before))
	for _, order := range before {
		prior[order.ID] = order
	}
	touched := make([]string, 0, len(c.ids))
	for _, id := range c.ids {
		order := c.orders[id]
		order.Status = order.DeriveStatus()
		old, existed := prior[id]
		if existed && orderContentEqual(old, *order) {
			continue
		}
		order.UpdatedAt = c.now
		if existed {
			order.Version = old.Version + 1
		} else if order.Version < 1 {
			order.Version = 1
		}
		for i := range order.Items {
			order.Items[i].OrderID = order.ID
		}
		touched = append(touched, id)
	}
	return touched
}

// ValidateOrderChange enforces the storage-boundary invariants: live quantity
// never negative and always original minus voided, voided quantity backed by
// void events, forward-only status moves and no removal of dispatched lines.
func ValidateOrderChange(before []domain.Order, c *OrderChange) error {
	priorOrders := make(map[string]domain.Order, len(before))
	priorItems := make(map[string]domain.OrderItem)
	for _, order := range before {
		priorOrders[order.ID] = order
		for _, item := range order.Items {
			priorItems[item.ID] = item
		}
	}

	voidQty := make(map[string]int)
	for _, v := range c.voids {
		if v.Qty < 1 {
			return fmt.Errorf("void %s: %w", v.ID, ErrInvalidQuantity)
		}
		if v.OrderItemID != "" {
			voidQty[v.OrderItemID] += v.Qty
		}
	}

	seen := make(map[string]string)
	for _, id := range c.ids {
		order := c.orders[id]
		old, existed := priorOrders[id]
		if err := validateOrderState(old, *order, existed); err != nil {
			return err
		}
		for _, item := range order.Items {
			if other, dup := seen[item.ID]; dup {
				return fmt.Errorf("item %s present in orders %s and %s: %w", item.ID, other, id, ErrInvalidTransaction)
			}
			seen[item.ID] = id
			if err := validateItem(item, priorItems, voidQty[item.ID]); err != nil {
				return err
			}
		}
	}

	for itemID, item := range priorItems {
		if _, still := seen[itemID]; still {
			continue
		}
		if item.IsDispatched() {
			return fmt.Errorf("item %s: %w", itemID, ErrItemDispatched)
		}
	}
	for _, v := range c.voids {
		if v.OrderItemID == "" {
			continue
		}
		if _, ok := seen[v.OrderItemID]; !ok {
			return fmt.Errorf("void for unknown item %s: %w", v.OrderItemID, ErrInvalidTransaction)
		}
	}

	if c.invoice != nil {
		order, ok := c.orders[c.invoice.OrderID]
		if !ok || order.State != domain.OrderStateBilling {
			return fmt.Errorf("invoice %s: %w", c.invoice.ID, ErrInvalidTransaction)
		}
		if old, existed := priorOrders[order.ID]; !existed || old.State != domain.OrderStateOpen {
			return fmt.Errorf("invoice %s: %w", c.invoice.ID, ErrOrderNotOpen)
		}
	}
	return nil
}

func validateOrderState(old domain.Order, next domain.Order, existed bool) error {
	switch next.State {
	case domain.OrderStateOpen, domain.OrderStateBilling, domain.OrderStateClosed:
	default:
		return fmt.Errorf("order %s state %q: %w", next.ID, next.State, ErrInvalidTransaction)
	}
	if !existed {
		if next.State != domain.OrderStateOpen {
			return fmt.Errorf("new order %s: %w", next.ID, ErrInvalidTransaction)
		}
		return nil
	}
	if old.State == next.State {
		if old.State != domain.OrderStateOpen && !reflect.DeepEqual(old.Items, next.Items) {
			return fmt.Errorf("order %s: %w", next.ID, ErrOrderNotOpen)
		}
		return nil
	}
	switch {
	case old.State == domain.OrderStateOpen:
	case old.State == domain.OrderStateBilling && next.State == domain.OrderStateClosed:
	default:
		return fmt.Errorf("order %s %s -> %s: %w", next.ID, old.State, next.State, ErrOrderNotOpen)
	}
	if old.State != domain.OrderStateOpen && !reflect.DeepEqual(old.Items, next.Items) {
		return fmt.Errorf("order %s: %w", next.ID, ErrOrderNotOpen)
	}
	return nil
}

func validateItem(item domain.OrderItem, prior map[string]domain.OrderItem, voided int) error {
	if item.Qty < 0 || item.VoidedQty < 0 || item.OriginalQty < 1 {
		return fmt.Errorf("item %s: %w", item.ID, ErrInvalidQuantity)
	}
	if item.Qty != item.OriginalQty-item.VoidedQty {
		return fmt.Errorf("item %s qty %d != %d-%d: %w", item.ID, item.Qty, item.OriginalQty, item.VoidedQty, ErrInvalidQuantity)
	}
	if !domain.IsKnownStatus(item.Status) {
		return fmt.Errorf("item %s status %q: %w", item.ID, item.Status, ErrInvalidTransition)
	}
	if (item.Qty == 0) != (item.Status == domain.ItemStatusCancelled) {
		return fmt.Errorf("item %s cancelled with qty %d: %w", item.ID, item.Qty, ErrInvalidTransition)
	}

	old, existed := prior[item.ID]
	if !existed {
		if item.VoidedQty != voided {
			return fmt.Errorf("item %s voided qty without audit: %w", item.ID, ErrInvalidTransaction)
		}
		if item.Status != domain.ItemStatusPending && item.Status != domain.ItemStatusConfirmed {
			return fmt.Errorf("new item %s status %s: %w", item.ID, item.Status, ErrInvalidTransition)
		}
		return nil
	}

	if old.Status != item.Status && !domain.CanTransition(old.Status, item.Status) {
		return fmt.Errorf("item %s %s -> %s: %w", item.ID, old.Status, item.Status, ErrInvalidTransition)
	}
	if item.VoidedQty-old.VoidedQty != voided {
		return fmt.Errorf("item %s voided qty without audit: %w", item.ID, ErrInvalidTransaction)
	}
	if item.OriginalQty != old.OriginalQty {
		grew := item.OriginalQty > old.OriginalQty
		if !grew || old.Status != domain.ItemStatusPending || old.IsDispatched() {
			return fmt.Errorf("item %s original qty changed: %w", item.ID, ErrInvalidQuantity)
		}
	}
	if item.UnitPriceCents != old.UnitPriceCents || item.MenuItemID != old.MenuItemID {
		return fmt.Errorf("item %s pricing changed: %w", item.ID, ErrInvalidTransaction)
	}
	return nil
}

func orderContentEqual(a domain.Order, b domain.Order) bool {
	return a.State == b.State &&
		a.Notes == b.Notes &&
		a.TableID == b.TableID &&
		a.TableName == b.TableName &&
		reflect.DeepEqual(a.Items, b.Items)
}

func CloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = make([]domain.OrderItem, len(src.Items))
	for i, item := range src.Items {
		dst.Items[i] = cloneItem(item)
	}
	if src.ClosedAt != nil {
		at := *src.ClosedAt
		dst.ClosedAt = &at
	}
	return dst
}

func cloneItem(src domain.OrderItem) domain.OrderItem {
	dst := src
	if src.DispatchedAt != nil {
		at := *src.DispatchedAt
		dst.DispatchedAt = &at
	}
	return dst
}

func CloneInvoice(src domain.Invoice) domain.Invoice {
	dst := src
	dst.Lines = append([]domain.InvoiceLine(nil), src.Lines...)
	if src.PaidAt != nil {
		at := *src.PaidAt
		dst.PaidAt = &at
	}
	return dst
}

func CloneReturn(src domain.Return) domain.Return {
	dst := src
	dst.Lines = append([]domain.ReturnLine(nil), src.Lines...)
	return dst
}
