package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"kasirinaja/dinein/internal/domain"
	"kasirinaja/dinein/internal/store"
	"kasirinaja/dinein/internal/xid"
)

const invoiceColumns = `id, order_id, table_name, lines, subtotal_cents, line_discount_cents, order_discount_cents,
	discount_cents, adjustment_cents, total_cents, paid_cents, change_cents, payment_method, status, created_at, paid_at`

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	return loadInvoice(ctx, s.db, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
}

func (s *Store) FindInvoiceByOrder(ctx context.Context, orderID string) (*domain.Invoice, error) {
	return loadInvoice(ctx, s.db, `SELECT `+invoiceColumns+` FROM invoices WHERE order_id = $1`, orderID)
}

func (s *Store) ApplyPayment(ctx context.Context, invoiceID string, payment domain.Payment) (*domain.PaymentResult, error) {
	if strings.TrimSpace(payment.IdempotencyKey) == "" {
		return nil, store.ErrInvalidTransaction
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	inv, err := loadInvoice(ctx, tx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, invoiceID)
	if err != nil {
		return nil, err
	}

	existing, err := scanPayment(tx.QueryRowContext(ctx, `
		SELECT id, invoice_id, method, amount_cents, cash_received_cents, change_cents,
			COALESCE(reference, ''), idempotency_key, source, created_at
		FROM payments
		WHERE idempotency_key = $1
	`, payment.IdempotencyKey))
	switch {
	case err == nil:
		if existing.InvoiceID != invoiceID {
			return nil, store.ErrInvalidTransaction
		}
		return &domain.PaymentResult{Invoice: *inv, Payment: existing, Duplicate: true}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}
	if payment.Source == domain.PaymentSourceSettlement && inv.Status == domain.InvoiceStatusPaid {
		return &domain.PaymentResult{Invoice: *inv, Duplicate: true}, nil
	}

	now := time.Now().UTC()
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if err := store.ApplyPaymentTo(inv, &payment, now); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE invoices
		SET paid_cents = $2, change_cents = $3, payment_method = $4, status = $5, paid_at = $6
		WHERE id = $1
	`, inv.ID, inv.PaidCents, inv.ChangeCents, inv.PaymentMethod, inv.Status, nullTime(inv.PaidAt)); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO payments (
			id, invoice_id, method, amount_cents, cash_received_cents, change_cents, reference, idempotency_key, source, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, payment.ID, payment.InvoiceID, payment.Method, payment.AmountCents, payment.CashReceivedCents, payment.ChangeCents,
		nullIfEmpty(payment.Reference), payment.IdempotencyKey, payment.Source, payment.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrStaleAggregate
		}
		return nil, err
	}
	if inv.Status == domain.InvoiceStatusPaid {
		if _, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET state = $2, closed_at = $3, updated_at = $3, version = version + 1
			WHERE id = $1 AND state <> $2
		`, inv.OrderID, domain.OrderStateClosed, now); err != nil {
			return nil, err
		}
	}

	if err := commit(tx); err != nil {
		return nil, err
	}
	return &domain.PaymentResult{Invoice: *inv, Payment: payment}, nil
}

func (s *Store) ListPayments(ctx context.Context, invoiceID string) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, method, amount_cents, cash_received_cents, change_cents,
			COALESCE(reference, ''), idempotency_key, source, created_at
		FROM payments
		WHERE invoice_id = $1
		ORDER BY created_at, id
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 4)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

func (s *Store) GetReturnedTotals(ctx context.Context, invoiceID string) (map[string]domain.ReturnedTotals, error) {
	return returnedTotals(ctx, s.db, invoiceID)
}

func (s *Store) CreateReturn(ctx context.Context, invoiceID string, build store.ReturnBuilder) (*domain.Return, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	inv, err := loadInvoice(ctx, tx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, invoiceID)
	if err != nil {
		return nil, err
	}
	returned, err := returnedTotals(ctx, tx, invoiceID)
	if err != nil {
		return nil, err
	}
	ret, err := build(*inv, returned)
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

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO returns (id, invoice_id, refund_cents, refund_method, reason, actor, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, ret.ID, ret.InvoiceID, ret.RefundCents, ret.RefundMethod, ret.Reason, ret.Actor, ret.CreatedAt); err != nil {
		return nil, err
	}
	for _, line := range ret.Lines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO return_lines (return_id, order_item_id, qty, reason, refund_cents)
			VALUES ($1,$2,$3,$4,$5)
		`, ret.ID, line.OrderItemID, line.Qty, line.Reason, line.RefundCents); err != nil {
			return nil, err
		}
	}

	if err := commit(tx); err != nil {
		return nil, err
	}
	created := store.CloneReturn(ret)
	return &created, nil
}

func (s *Store) ListReturns(ctx context.Context, invoiceID string) ([]domain.Return, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.invoice_id, r.refund_cents, r.refund_method, r.reason, r.actor, r.created_at,
			l.order_item_id, l.qty, l.reason, l.refund_cents
		FROM returns r
		JOIN return_lines l ON l.return_id = r.id
		WHERE r.invoice_id = $1
		ORDER BY r.created_at, r.id
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	returns := make([]domain.Return, 0, 4)
	for rows.Next() {
		var ret domain.Return
		var line domain.ReturnLine
		if err := rows.Scan(&ret.ID, &ret.InvoiceID, &ret.RefundCents, &ret.RefundMethod, &ret.Reason, &ret.Actor, &ret.CreatedAt,
			&line.OrderItemID, &line.Qty, &line.Reason, &line.RefundCents); err != nil {
			return nil, err
		}
		if n := len(returns); n > 0 && returns[n-1].ID == ret.ID {
			returns[n-1].Lines = append(returns[n-1].Lines, line)
			continue
		}
		ret.CreatedAt = ret.CreatedAt.UTC()
		ret.Lines = []domain.ReturnLine{line}
		returns = append(returns, ret)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return returns, nil
}

func loadInvoice(ctx context.Context, q queryer, query string, arg string) (*domain.Invoice, error) {
	var inv domain.Invoice
	var lines []byte
	var paidAt sql.NullTime
	err := q.QueryRowContext(ctx, query, arg).Scan(
		&inv.ID, &inv.OrderID, &inv.TableName, &lines, &inv.SubtotalCents, &inv.LineDiscountCents, &inv.OrderDiscountCents,
		&inv.DiscountCents, &inv.AdjustmentCents, &inv.TotalCents, &inv.PaidCents, &inv.ChangeCents, &inv.PaymentMethod,
		&inv.Status, &inv.CreatedAt, &paidAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(lines, &inv.Lines); err != nil {
		return nil, err
	}
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.PaidAt = timePtr(paidAt)
	return &inv, nil
}

func insertInvoice(ctx context.Context, q queryer, inv domain.Invoice) error {
	lines, err := json.Marshal(inv.Lines)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO invoices (
			id, order_id, table_name, lines, subtotal_cents, line_discount_cents, order_discount_cents,
			discount_cents, adjustment_cents, total_cents, paid_cents, change_cents, payment_method, status, created_at, paid_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, inv.ID, inv.OrderID, inv.TableName, lines, inv.SubtotalCents, inv.LineDiscountCents, inv.OrderDiscountCents,
		inv.DiscountCents, inv.AdjustmentCents, inv.TotalCents, inv.PaidCents, inv.ChangeCents, inv.PaymentMethod,
		inv.Status, inv.CreatedAt, nullTime(inv.PaidAt))
	return err
}

func returnedTotals(ctx context.Context, q queryer, invoiceID string) (map[string]domain.ReturnedTotals, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT l.order_item_id, COALESCE(SUM(l.qty), 0), COALESCE(SUM(l.refund_cents), 0)
		FROM return_lines l
		JOIN returns r ON r.id = l.return_id
		WHERE r.invoice_id = $1
		GROUP BY l.order_item_id
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]domain.ReturnedTotals)
	for rows.Next() {
		var itemID string
		var t domain.ReturnedTotals
		if err := rows.Scan(&itemID, &t.Qty, &t.RefundCents); err != nil {
			return nil, err
		}
		totals[itemID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return totals, nil
}

func scanPayment(row rowScanner) (domain.Payment, error) {
	var payment domain.Payment
	err := row.Scan(&payment.ID, &payment.InvoiceID, &payment.Method, &payment.AmountCents, &payment.CashReceivedCents,
		&payment.ChangeCents, &payment.Reference, &payment.IdempotencyKey, &payment.Source, &payment.CreatedAt)
	if err != nil {
		return domain.Payment{}, err
	}
	payment.CreatedAt = payment.CreatedAt.UTC()
	return payment, nil
}
