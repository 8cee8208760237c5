package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kasirinaja/dinein/internal/domain"
	"kasirinaja/dinein/internal/store"
	"kasirinaja/dinein/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	menu             map[string]domain.MenuItem
	tables           map[string]domain.Table
	ordersByID       map[string]*domain.Order
	orderByItem      map[string]string
	voidEvents       []domain.VoidEvent
	invoicesByID     map[string]*domain.Invoice
	invoiceByOrder   map[string]string
	payments         []domain.Payment
	paymentsByIdem   map[string]domain.Payment
	returnsByInvoice map[string][]domain.Return
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial staff accounts for dev/demo mode.
// Passwords come from SEED_<ROLE>_PASSWORD; when unset a dev default is used
// and a warning is logged. Production runs on PostgreSQL.
func seedUsers() map[string]domain.UserAccount {
	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	usedDefault := false
	for _, u := range []struct {
		username string
		envKey   string
		fallback string
		role     string
	}{
		{"manager", "SEED_MANAGER_PASSWORD", "manager123", domain.RoleManager},
		{"cashier", "SEED_CASHIER_PASSWORD", "cashier123", domain.RoleCashier},
		{"waiter", "SEED_WAITER_PASSWORD", "waiter123", domain.RoleWaiter},
		{"kitchen", "SEED_KITCHEN_PASSWORD", "kitchen123", domain.RoleKitchen},
	} {
		password := os.Getenv(u.envKey)
		if password == "" {
			password = u.fallback
			usedDefault = true
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	if usedDefault {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_*_PASSWORD to override.")
	}
	return users
}

func NewSeeded() *Store {
	menu := []domain.MenuItem{
		{ID: "menu-nasgor", Name: "Nasi Goreng Kampung", Category: "main", Station: "wok", PriceCents: 35000, Active: true},
		{ID: "menu-miegoreng", Name: "Mie Goreng Jawa", Category: "main", Station: "wok", PriceCents: 32000, Active: true},
		{ID: "menu-sate", Name: "Sate Ayam 10 Tusuk", Category: "main", Station: "grill", PriceCents: 40000, Active: true},
		{ID: "menu-pho", Name: "Phở Bò", Category: "main", Station: "soup", PriceCents: 45000, Active: true},
		{ID: "menu-soto", Name: "Soto Betawi", Category: "main", Station: "soup", PriceCents: 38000, Active: true},
		{ID: "menu-lumpia", Name: "Lumpia Semarang", Category: "starter", Station: "fryer", PriceCents: 18000, Active: true},
		{ID: "menu-tehmanis", Name: "Es Teh Manis", Category: "beverage", Station: "bar", PriceCents: 8000, Active: true},
		{ID: "menu-kopi", Name: "Kopi Susu", Category: "beverage", Station: "bar", PriceCents: 18000, Active: true},
		{ID: "menu-jeruk", Name: "Es Jeruk", Category: "beverage", Station: "bar", PriceCents: 12000, Active: true},
		{ID: "menu-pisang", Name: "Pisang Goreng Keju", Category: "dessert", Station: "fryer", PriceCents: 20000, Active: true},
		{ID: "menu-seasonal", Name: "Rendang Special", Category: "main", Station: "wok", PriceCents: 55000, Active: false},
	}
	menuMap := make(map[string]domain.MenuItem, len(menu))
	for _, item := range menu {
		menuMap[item.ID] = item
	}

	tables := make(map[string]domain.Table, 12)
	for i := 1; i <= 12; i++ {
		id := fmt.Sprintf("T%02d", i)
		tables[id] = domain.Table{ID: id, Name: fmt.Sprintf("Meja %d", i)}
	}

	return &Store{
		menu:             menuMap,
		tables:           tables,
		ordersByID:       make(map[string]*domain.Order),
		orderByItem:      make(map[string]string),
		invoicesByID:     make(map[string]*domain.Invoice),
		invoiceByOrder:   make(map[string]string),
		paymentsByIdem:   make(map[string]domain.Payment),
		returnsByInvoice: make(map[string][]domain.Return),
		usersByUsername:  seedUsers(),
	}
}

func (s *Store) ListMenu(_ context.Context) ([]domain.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.MenuItem, 0, len(s.menu))
	for _, item := range s.menu {
		if !item.Active {
			continue
		}
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.MenuItem) int {
		if c := strings.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return items, nil
}

func (s *Store) GetMenuItems(_ context.Context, ids []string) (map[string]domain.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.MenuItem, len(ids))
	for _, id := range ids {
		if item, ok := s.menu[id]; ok {
			result[id] = item
		}
	}
	return result, nil
}

func (s *Store) GetTable(_ context.Context, id string) (*domain.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table, ok := s.tables[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &table, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == "" {
		order.ID = xid.New("order")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if order.State == "" {
		order.State = domain.OrderStateOpen
	}
	if order.State != domain.OrderStateOpen || strings.TrimSpace(order.TableID) == "" {
		return nil, store.ErrInvalidTransaction
	}
	order.UpdatedAt = order.CreatedAt
	order.Version = 1
	order.Status = order.DeriveStatus()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ordersByID[order.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	stored := store.CloneOrder(order)
	s.ordersByID[order.ID] = &stored
	for _, item := range stored.Items {
		s.orderByItem[item.ID] = order.ID
	}
	created := store.CloneOrder(stored)
	return &created, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cloned := store.CloneOrder(*order)
	return &cloned, nil
}

func (s *Store) ListOrders(_ context.Context, states ...string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0, len(s.ordersByID))
	for _, order := range s.ordersByID {
		if len(states) > 0 && !slices.Contains(states, order.State) {
			continue
		}
		result = append(result, store.CloneOrder(*order))
	}
	slices.SortFunc(result, func(a, b domain.Order) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) FindOrderIDByItem(_ context.Context, itemID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orderID, ok := s.orderByItem[itemID]
	if !ok {
		return "", store.ErrNotFound
	}
	return orderID, nil
}

func (s *Store) UpdateOrders(_ context.Context, ids []string, fn func(*store.OrderChange) error) (*store.OrderChange, error) {
	ids = uniqueSorted(ids)
	if len(ids) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		order, ok := s.ordersByID[id]
		if !ok {
			return nil, fmt.Errorf("order %s: %w", id, store.ErrNotFound)
		}
		before = append(before, store.CloneOrder(*order))
	}

	now := time.Now().UTC()
	change := store.NewOrderChange(before, now)
	if err := fn(change); err != nil {
		return nil, err
	}
	if err := store.ValidateOrderChange(before, change); err != nil {
		return nil, err
	}
	if inv := change.Invoice(); inv != nil {
		if _, exists := s.invoiceByOrder[inv.OrderID]; exists {
			return nil, fmt.Errorf("order %s already invoiced: %w", inv.OrderID, store.ErrInvalidTransaction)
		}
	}
	change.Finalize(before)

	for _, order := range change.Orders() {
		if change.Created(order.ID) {
			if _, exists := s.ordersByID[order.ID]; exists {
				return nil, store.ErrInvalidTransaction
			}
		}
	}
	for _, order := range change.Orders() {
		stored := order
		s.ordersByID[order.ID] = &stored
		for _, item := range stored.Items {
			s.orderByItem[item.ID] = order.ID
		}
	}
	for _, order := range before {
		for _, item := range order.Items {
			if owner, ok := s.orderByItem[item.ID]; ok && owner == order.ID {
				if current, ok := change.Get(order.ID); ok {
					if _, still := current.FindItem(item.ID); !still {
						delete(s.orderByItem, item.ID)
					}
				}
			}
		}
	}
	s.voidEvents = append(s.voidEvents, change.Voids()...)
	if inv := change.Invoice(); inv != nil {
		s.invoicesByID[inv.ID] = inv
		s.invoiceByOrder[inv.OrderID] = inv.ID
	}
	return change, nil
}

func (s *Store) ListVoidEvents(_ context.Context, orderID string) ([]domain.VoidEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.VoidEvent, 0, 8)
	for _, v := range s.voidEvents {
		if v.OrderID == orderID {
			result = append(result, v)
		}
	}
	return result, nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cloned := store.CloneInvoice(*inv)
	return &cloned, nil
}

func (s *Store) FindInvoiceByOrder(_ context.Context, orderID string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.invoiceByOrder[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cloned := store.CloneInvoice(*s.invoicesByID[id])
	return &cloned, nil
}

func (s *Store) ApplyPayment(_ context.Context, invoiceID string, payment domain.Payment) (*domain.PaymentResult, error) {
	if strings.TrimSpace(payment.IdempotencyKey) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoicesByID[invoiceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if existing, ok := s.paymentsByIdem[payment.IdempotencyKey]; ok {
		if existing.InvoiceID != invoiceID {
			return nil, store.ErrInvalidTransaction
		}
		return &domain.PaymentResult{Invoice: store.CloneInvoice(*inv), Payment: existing, Duplicate: true}, nil
	}
	if payment.Source == domain.PaymentSourceSettlement && inv.Status == domain.InvoiceStatusPaid {
		return &domain.PaymentResult{Invoice: store.CloneInvoice(*inv), Duplicate: true}, nil
	}

	now := time.Now().UTC()
	next := store.CloneInvoice(*inv)
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if err := store.ApplyPaymentTo(&next, &payment, now); err != nil {
		return nil, err
	}

	if next.Status == domain.InvoiceStatusPaid {
		if order, ok := s.ordersByID[next.OrderID]; ok && order.State != domain.OrderStateClosed {
			closedAt := now
			order.State = domain.OrderStateClosed
			order.ClosedAt = &closedAt
			order.UpdatedAt = now
			order.Version++
		}
	}
	*inv = next
	s.payments = append(s.payments, payment)
	s.paymentsByIdem[payment.IdempotencyKey] = payment

	return &domain.PaymentResult{Invoice: store.CloneInvoice(next), Payment: payment}, nil
}

func (s *Store) ListPayments(_ context.Context, invoiceID string) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Payment, 0, 4)
	for _, p := range s.payments {
		if p.InvoiceID == invoiceID {
			result = append(result, p)
		}
	}
	return result, nil
}

func (s *Store) GetReturnedTotals(_ context.Context, invoiceID string) (map[string]domain.ReturnedTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.returnedTotalsLocked(invoiceID), nil
}

func (s *Store) returnedTotalsLocked(invoiceID string) map[string]domain.ReturnedTotals {
	totals := make(map[string]domain.ReturnedTotals)
	for _, ret := range s.returnsByInvoice[invoiceID] {
		store.AddReturned(totals, ret)
	}
	return totals
}

func (s *Store) CreateReturn(_ context.Context, invoiceID string, build store.ReturnBuilder) (*domain.Return, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoicesByID[invoiceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	returned := s.returnedTotalsLocked(invoiceID)
	ret, err := build(store.CloneInvoice(*inv), returned)
	if err != nil {
		return nil, err
	}
	if err := store.ValidateReturn(*inv, returned, ret); err != nil {
		return nil, err
	}
	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = time.Now().UTC()
	}
	ret.InvoiceID = invoiceID

	s.returnsByInvoice[invoiceID] = append(s.returnsByInvoice[invoiceID], store.CloneReturn(ret))
	created := store.CloneReturn(ret)
	return &created, nil
}

func (s *Store) ListReturns(_ context.Context, invoiceID string) ([]domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Return, 0, len(s.returnsByInvoice[invoiceID]))
	for _, ret := range s.returnsByInvoice[invoiceID] {
		result = append(result, store.CloneReturn(ret))
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, entityType string, entityID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 32)
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		entry := s.auditLogs[i]
		if entityType != "" && entry.EntityType != entityType {
			continue
		}
		if entityID != "" && entry.EntityID != entityID {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func uniqueSorted(ids []string) []string {
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || slices.Contains(result, id) {
			continue
		}
		result = append(result, id)
	}
	slices.Sort(result)
	return result
}
