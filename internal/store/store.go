package store

import (
	"context"
	"errors"

	"kasirinaja/dinein/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrOverVoid           = errors.New("void quantity exceeds live quantity")
	ErrOverReturn         = errors.New("return quantity exceeds remaining returnable quantity")
	ErrStaleAggregate     = errors.New("aggregate changed since it was read")
	ErrItemDispatched     = errors.New("item already dispatched to kitchen")
	ErrOrderNotOpen       = errors.New("order is not open")
)

// ReturnBuilder prices a return against the invoice and the totals already
// returned. It runs inside the same boundary as the insert.
type ReturnBuilder func(inv domain.Invoice, returned map[string]domain.ReturnedTotals) (domain.Return, error)

type Repository interface {
	ListMenu(ctx context.Context) ([]domain.MenuItem, error)
	GetMenuItems(ctx context.Context, ids []string) (map[string]domain.MenuItem, error)
	GetTable(ctx context.Context, id string) (*domain.Table, error)

	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, states ...string) ([]domain.Order, error)
	FindOrderIDByItem(ctx context.Context, itemID string) (string, error)
	// UpdateOrders locks the given orders, hands clones to fn and commits the
	// change only if fn succeeds and the result passes ValidateOrderChange.
	UpdateOrders(ctx context.Context, ids []string, fn func(*OrderChange) error) (*OrderChange, error)
	ListVoidEvents(ctx context.Context, orderID string) ([]domain.VoidEvent, error)

	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	FindInvoiceByOrder(ctx context.Context, orderID string) (*domain.Invoice, error)
	ApplyPayment(ctx context.Context, invoiceID string, payment domain.Payment) (*domain.PaymentResult, error)
	ListPayments(ctx context.Context, invoiceID string) ([]domain.Payment, error)

	GetReturnedTotals(ctx context.Context, invoiceID string) (map[string]domain.ReturnedTotals, error)
	CreateReturn(ctx context.Context, invoiceID string, build ReturnBuilder) (*domain.Return, error)
	ListReturns(ctx context.Context, invoiceID string) ([]domain.Return, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, entityType string, entityID string, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}
