package domain

import "time"

const (
	ItemStatusPending   = "PENDING"
	ItemStatusConfirmed = "CONFIRMED"
	ItemStatusPreparing = "PREPARING"
	ItemStatusReady     = "READY"
	ItemStatusServed    = "SERVED"
	ItemStatusCancelled = "CANCELLED"
)

const (
	OrderStateOpen    = "open"
	OrderStateBilling = "billing"
	OrderStateClosed  = "closed"
)

const (
	VoidSourceCashier = "cashier"
	VoidSourceWaiter  = "waiter"
	VoidSourceKitchen = "kitchen"
	VoidSourceSystem  = "system"
)

const (
	InvoiceStatusUnpaid  = "UNPAID"
	InvoiceStatusPartial = "PARTIAL"
	InvoiceStatusPaid    = "PAID"
)

const (
	SettlementUnsettled  = "UNSETTLED"
	SettlementConfirming = "CONFIRMING"
	SettlementSettled    = "SETTLED"
)

const (
	PaymentSourceCashier    = "cashier"
	PaymentSourceSettlement = "settlement"
)

const (
	LaneNew       = "new"
	LanePreparing = "preparing"
	LaneReady     = "ready"
	LaneDone      = "done"
)

const (
	RoleCashier = "cashier"
	RoleWaiter  = "waiter"
	RoleKitchen = "kitchen"
	RoleManager = "manager"
)

type MenuItem struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	Station    string `json:"station"`
	PriceCents int64  `json:"price_cents"`
	Active     bool   `json:"active"`
}

type Table struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Order struct {
	ID        string      `json:"id"`
	TableID   string      `json:"table_id"`
	TableName string      `json:"table_name"`
	State     string      `json:"state"`
	Status    string      `json:"status"`
	Notes     string      `json:"notes,omitempty"`
	Version   int64       `json:"version"`
	Items     []OrderItem `json:"items"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	ClosedAt  *time.Time  `json:"closed_at,omitempty"`
}

type OrderItem struct {
	ID             string     `json:"id"`
	OrderID        string     `json:"order_id"`
	MenuItemID     string     `json:"menu_item_id"`
	Name           string     `json:"name"`
	Qty            int        `json:"qty"`
	OriginalQty    int        `json:"original_qty"`
	VoidedQty      int        `json:"voided_qty"`
	UnitPriceCents int64      `json:"unit_price_cents"`
	Note           string     `json:"note,omitempty"`
	Status         string     `json:"status"`
	BatchID        string     `json:"batch_id,omitempty"`
	BatchNote      string     `json:"batch_note,omitempty"`
	Priority       bool       `json:"priority"`
	DispatchedAt   *time.Time `json:"dispatched_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type AddItemInput struct {
	MenuItemID string `json:"menu_item_id"`
	Qty        int    `json:"qty"`
	Note       string `json:"note,omitempty"`
}

type OpenOrderRequest struct {
	TableID string `json:"table_id"`
	Notes   string `json:"notes,omitempty"`
}

type AddItemsRequest struct {
	Items           []AddItemInput `json:"items"`
	ExpectedVersion int64          `json:"expected_version,omitempty"`
}

type SetItemStatusRequest struct {
	Status string `json:"status"`
}

type NotifyKitchenRequest struct {
	Priority bool   `json:"priority"`
	Note     string `json:"note,omitempty"`
}

type Ticket struct {
	ID        string       `json:"id"`
	OrderID   string       `json:"order_id"`
	TableName string       `json:"table_name"`
	Items     []TicketItem `json:"items"`
	Qty       int          `json:"qty"`
	Priority  bool         `json:"priority"`
	Note      string       `json:"note,omitempty"`
	Lane      string       `json:"lane"`
	CreatedAt time.Time    `json:"created_at"`
}

type TicketItem struct {
	OrderItemID string `json:"order_item_id"`
	MenuItemID  string `json:"menu_item_id"`
	Name        string `json:"name"`
	Qty         int    `json:"qty"`
	Note        string `json:"note,omitempty"`
	Status      string `json:"status"`
}

type KitchenBoard struct {
	New         []Ticket  `json:"new"`
	Preparing   []Ticket  `json:"preparing"`
	Ready       []Ticket  `json:"ready"`
	GeneratedAt time.Time `json:"generated_at"`
}

type TicketTransitionResult struct {
	OrderID  string        `json:"order_id"`
	TicketID string        `json:"ticket_id"`
	Target   string        `json:"target"`
	Updated  int           `json:"updated"`
	Total    int           `json:"total"`
	Skipped  []SkippedItem `json:"skipped,omitempty"`
	FromLane string        `json:"from_lane"`
	Lane     string        `json:"lane"`
	Message  string        `json:"message"`
}

type SkippedItem struct {
	OrderItemID string `json:"order_item_id"`
	Status      string `json:"status"`
	Reason      string `json:"reason"`
}

type VoidEvent struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	OrderItemID string    `json:"order_item_id,omitempty"`
	MenuItemID  string    `json:"menu_item_id"`
	TableName   string    `json:"table_name"`
	Qty         int       `json:"qty"`
	Source      string    `json:"source"`
	Actor       string    `json:"actor"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

type VoidRequest struct {
	Qty             int    `json:"qty"`
	Reason          string `json:"reason"`
	Source          string `json:"source,omitempty"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

type VoidResult struct {
	Void    VoidEvent `json:"void"`
	Item    OrderItem `json:"item"`
	EventID string    `json:"event_id,omitempty"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason"`
	Source string `json:"source,omitempty"`
}

type CancelOrderResult struct {
	Order   Order       `json:"order"`
	Voids   []VoidEvent `json:"voids"`
	EventID string      `json:"event_id,omitempty"`
}

type SplitLine struct {
	ItemID string `json:"item_id"`
	Qty    int    `json:"qty"`
}

type SplitRequest struct {
	ToOrderID       string      `json:"to_order_id,omitempty"`
	ToTableID       string      `json:"to_table_id,omitempty"`
	Items           []SplitLine `json:"items"`
	ExpectedVersion int64       `json:"expected_version,omitempty"`
}

type MovedLine struct {
	FromItemID string `json:"from_item_id"`
	ToItemID   string `json:"to_item_id"`
	Qty        int    `json:"qty"`
}

type SplitResult struct {
	Source      Order       `json:"source"`
	Destination Order       `json:"destination"`
	Moved       []MovedLine `json:"moved"`
}

type MergeRequest struct {
	IntoOrderID     string `json:"into_order_id"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

type MergeResult struct {
	Source Order `json:"source"`
	Into   Order `json:"into"`
	Moved  int   `json:"moved"`
}

type CheckoutRequest struct {
	DiscountCents   int64            `json:"discount_cents"`
	DiscountPercent float64          `json:"discount_percent"`
	LineDiscounts   map[string]int64 `json:"line_discounts,omitempty"`
	AdjustmentCents int64            `json:"adjustment_cents"`
	Force           bool             `json:"force"`
}

type Invoice struct {
	ID                 string        `json:"id"`
	OrderID            string        `json:"order_id"`
	TableName          string        `json:"table_name"`
	Lines              []InvoiceLine `json:"lines"`
	SubtotalCents      int64         `json:"subtotal_cents"`
	LineDiscountCents  int64         `json:"line_discount_cents"`
	OrderDiscountCents int64         `json:"order_discount_cents"`
	DiscountCents      int64         `json:"discount_cents"`
	AdjustmentCents    int64         `json:"adjustment_cents"`
	TotalCents         int64         `json:"total_cents"`
	PaidCents          int64         `json:"paid_cents"`
	ChangeCents        int64         `json:"change_cents"`
	PaymentMethod      string        `json:"payment_method,omitempty"`
	Status             string        `json:"status"`
	CreatedAt          time.Time     `json:"created_at"`
	PaidAt             *time.Time    `json:"paid_at,omitempty"`
}

type InvoiceLine struct {
	OrderItemID            string `json:"order_item_id"`
	MenuItemID             string `json:"menu_item_id"`
	Name                   string `json:"name"`
	Qty                    int    `json:"qty"`
	UnitPriceCents         int64  `json:"unit_price_cents"`
	LineDiscountCents      int64  `json:"line_discount_cents"`
	AllocatedDiscountCents int64  `json:"allocated_discount_cents"`
	LineTotalCents         int64  `json:"line_total_cents"`
}

type PaymentRequest struct {
	Method            string `json:"method"`
	AmountCents       int64  `json:"amount_cents"`
	CashReceivedCents int64  `json:"cash_received_cents"`
	Reference         string `json:"reference,omitempty"`
	IdempotencyKey    string `json:"idempotency_key"`
}

type Payment struct {
	ID                string    `json:"id"`
	InvoiceID         string    `json:"invoice_id"`
	Method            string    `json:"method"`
	AmountCents       int64     `json:"amount_cents"`
	CashReceivedCents int64     `json:"cash_received_cents"`
	ChangeCents       int64     `json:"change_cents"`
	Reference         string    `json:"reference,omitempty"`
	IdempotencyKey    string    `json:"idempotency_key"`
	Source            string    `json:"source"`
	CreatedAt         time.Time `json:"created_at"`
}

type PaymentResult struct {
	Invoice   Invoice `json:"invoice"`
	Payment   Payment `json:"payment"`
	Duplicate bool    `json:"duplicate"`
}

type SettlementStatus struct {
	Status          string `json:"status"`
	PaidAmountCents int64  `json:"paid_amount"`
}

type SettlementNotice struct {
	Status          string `json:"status"`
	PaidAmountCents int64  `json:"paid_amount"`
	Method          string `json:"method"`
	Reference       string `json:"reference,omitempty"`
}

type Return struct {
	ID           string       `json:"id"`
	InvoiceID    string       `json:"invoice_id"`
	Lines        []ReturnLine `json:"lines"`
	RefundCents  int64        `json:"refund_cents"`
	RefundMethod string       `json:"refund_method"`
	Reason       string       `json:"reason,omitempty"`
	Actor        string       `json:"actor"`
	CreatedAt    time.Time    `json:"created_at"`
}

type ReturnLine struct {
	OrderItemID string `json:"order_item_id"`
	Qty         int    `json:"qty"`
	Reason      string `json:"reason,omitempty"`
	RefundCents int64  `json:"refund_cents"`
}

type ReturnLineInput struct {
	OrderItemID string `json:"order_item_id"`
	Qty         int    `json:"qty"`
	Reason      string `json:"reason,omitempty"`
}

type ReturnRequest struct {
	Lines        []ReturnLineInput `json:"lines"`
	RefundMethod string            `json:"refund_method"`
	Reason       string            `json:"reason,omitempty"`
	ManagerPIN   string            `json:"manager_pin,omitempty"`
}

// ReturnedTotals is what posted returns have already taken from one invoice line.
type ReturnedTotals struct {
	Qty         int
	RefundCents int64
}

type ReturnSummary struct {
	InvoiceID string           `json:"invoice_id"`
	Lines     []ReturnableLine `json:"lines"`
}

type ReturnableLine struct {
	OrderItemID   string `json:"order_item_id"`
	Name          string `json:"name"`
	SoldQty       int    `json:"sold_qty"`
	ReturnedQty   int    `json:"returned_qty"`
	RemainQty     int    `json:"remain_qty"`
	RefundedCents int64  `json:"refunded_cents"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
