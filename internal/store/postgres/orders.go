package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"kasirinaja/dinein/internal/domain"
	"kasirinaja/dinein/internal/store"
	"kasirinaja/dinein/internal/xid"
)

const orderColumns = `id, table_id, table_name, state, status, notes, version, created_at, updated_at, closed_at`

const itemColumns = `id, order_id, menu_item_id, name, qty, original_qty, voided_qty, unit_price_cents,
	note, status, COALESCE(batch_id, ''), batch_note, priority, dispatched_at, created_at, updated_at`

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
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

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertOrder(ctx, tx, order); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}
	if err := writeItems(ctx, tx, order); err != nil {
		return nil, err
	}
	if err := commit(tx); err != nil {
		return nil, err
	}
	created := store.CloneOrder(order)
	return &created, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return loadOrder(ctx, s.db, id, false)
}

func (s *Store) ListOrders(ctx context.Context, states ...string) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE cardinality($1::text[]) = 0 OR state = ANY($1)
		ORDER BY created_at, id
	`, states)
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, 32)
	index := make(map[string]int)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		index[order.ID] = len(orders)
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.ID)
	}
	itemRows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, ids)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		item, err := scanItem(itemRows)
		if err != nil {
			return nil, err
		}
		pos := index[item.OrderID]
		orders[pos].Items = append(orders[pos].Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) FindOrderIDByItem(ctx context.Context, itemID string) (string, error) {
	var orderID string
	err := s.db.QueryRowContext(ctx, `SELECT order_id FROM order_items WHERE id = $1`, itemID).Scan(&orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return orderID, nil
}

func (s *Store) UpdateOrders(ctx context.Context, ids []string, fn func(*store.OrderChange) error) (*store.OrderChange, error) {
	ids = uniqueSorted(ids)
	if len(ids) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	before := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		order, err := loadOrder(ctx, tx, id, true)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", id, err)
		}
		before = append(before, *order)
	}

	change := store.NewOrderChange(before, time.Now().UTC())
	if err := fn(change); err != nil {
		return nil, err
	}
	if err := store.ValidateOrderChange(before, change); err != nil {
		return nil, err
	}
	touched := change.Finalize(before)

	for _, id := range touched {
		order, _ := change.Get(id)
		if change.Created(id) {
			if err := insertOrder(ctx, tx, order); err != nil {
				if isUniqueViolation(err) {
					return nil, store.ErrInvalidTransaction
				}
				return nil, err
			}
		} else if _, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET state = $2, status = $3, notes = $4, version = $5, updated_at = $6, closed_at = $7
			WHERE id = $1
		`, order.ID, order.State, order.Status, order.Notes, order.Version, order.UpdatedAt, nullTime(order.ClosedAt)); err != nil {
			return nil, err
		}
	}
	// Moved items are written after every removal so the upsert wins.
	for _, id := range touched {
		order, _ := change.Get(id)
		keep := make([]string, 0, len(order.Items))
		for _, item := range order.Items {
			keep = append(keep, item.ID)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM order_items
			WHERE order_id = $1 AND NOT (id = ANY($2))
		`, order.ID, keep); err != nil {
			return nil, err
		}
	}
	for _, id := range touched {
		order, _ := change.Get(id)
		if err := writeItems(ctx, tx, order); err != nil {
			return nil, err
		}
	}

	for _, v := range change.Voids() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO void_events (id, order_id, order_item_id, menu_item_id, table_name, qty, source, actor, reason, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, v.ID, v.OrderID, nullIfEmpty(v.OrderItemID), v.MenuItemID, v.TableName, v.Qty, v.Source, v.Actor, v.Reason, v.CreatedAt); err != nil {
			return nil, err
		}
	}
	if inv := change.Invoice(); inv != nil {
		if err := insertInvoice(ctx, tx, *inv); err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("order %s already invoiced: %w", inv.OrderID, store.ErrInvalidTransaction)
			}
			return nil, err
		}
	}

	if err := commit(tx); err != nil {
		return nil, err
	}
	return change, nil
}

func (s *Store) ListVoidEvents(ctx context.Context, orderID string) ([]domain.VoidEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, COALESCE(order_item_id, ''), menu_item_id, table_name, qty, source, actor, reason, created_at
		FROM void_events
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.VoidEvent, 0, 8)
	for rows.Next() {
		var v domain.VoidEvent
		if err := rows.Scan(&v.ID, &v.OrderID, &v.OrderItemID, &v.MenuItemID, &v.TableName, &v.Qty, &v.Source, &v.Actor, &v.Reason, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.CreatedAt = v.CreatedAt.UTC()
		events = append(events, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func loadOrder(ctx context.Context, q queryer, id string, forUpdate bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	order, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	itemQuery := `SELECT ` + itemColumns + ` FROM order_items WHERE order_id = $1 ORDER BY position`
	if forUpdate {
		itemQuery += ` FOR UPDATE`
	}
	rows, err := q.QueryContext(ctx, itemQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	order.Items = make([]domain.OrderItem, 0, 8)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &order, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var order domain.Order
	var closedAt sql.NullTime
	err := row.Scan(&order.ID, &order.TableID, &order.TableName, &order.State, &order.Status, &order.Notes,
		&order.Version, &order.CreatedAt, &order.UpdatedAt, &closedAt)
	if err != nil {
		return domain.Order{}, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	order.ClosedAt = timePtr(closedAt)
	order.Items = []domain.OrderItem{}
	return order, nil
}

func scanItem(row rowScanner) (domain.OrderItem, error) {
	var item domain.OrderItem
	var dispatchedAt sql.NullTime
	err := row.Scan(&item.ID, &item.OrderID, &item.MenuItemID, &item.Name, &item.Qty, &item.OriginalQty, &item.VoidedQty,
		&item.UnitPriceCents, &item.Note, &item.Status, &item.BatchID, &item.BatchNote, &item.Priority,
		&dispatchedAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return domain.OrderItem{}, err
	}
	item.DispatchedAt = timePtr(dispatchedAt)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

func insertOrder(ctx context.Context, q queryer, order domain.Order) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO orders (id, table_id, table_name, state, status, notes, version, created_at, updated_at, closed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, order.ID, order.TableID, order.TableName, order.State, order.Status, order.Notes, order.Version,
		order.CreatedAt, order.UpdatedAt, nullTime(order.ClosedAt))
	return err
}

func writeItems(ctx context.Context, q queryer, order domain.Order) error {
	for pos, item := range order.Items {
		_, err := q.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, position, menu_item_id, name, qty, original_qty, voided_qty, unit_price_cents,
				note, status, batch_id, batch_note, priority, dispatched_at, created_at, updated_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
			ON CONFLICT (id) DO UPDATE SET
				order_id = EXCLUDED.order_id,
				position = EXCLUDED.position,
				qty = EXCLUDED.qty,
				original_qty = EXCLUDED.original_qty,
				voided_qty = EXCLUDED.voided_qty,
				note = EXCLUDED.note,
				status = EXCLUDED.status,
				batch_id = EXCLUDED.batch_id,
				batch_note = EXCLUDED.batch_note,
				priority = EXCLUDED.priority,
				dispatched_at = EXCLUDED.dispatched_at,
				updated_at = EXCLUDED.updated_at
		`, item.ID, order.ID, pos, item.MenuItemID, item.Name, item.Qty, item.OriginalQty, item.VoidedQty, item.UnitPriceCents,
			item.Note, item.Status, nullIfEmpty(item.BatchID), item.BatchNote, item.Priority, nullTime(item.DispatchedAt),
			item.CreatedAt, item.UpdatedAt)
		if err != nil {
			return err
		}
	}
	return nil
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
