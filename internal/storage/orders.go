package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
)

const paymentColumns = `id, order_id, track_id, provider, amount, currency, pay_currency, network,
	address, pay_amount, pay_link, status, tx_id, expires_at, created_at, updated_at`

// CreateOrder inserts an order together with its line items.
func (s *Store) CreateOrder(ctx context.Context, order *core.Order) error {
	if order.Version == 0 {
		order.Version = 1
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO orders (id, human_id, email, total, currency, status, custom_fields, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), order.ID, order.HumanID, order.Email, order.Total, order.Currency, string(order.Status),
			marshalJSON(order.CustomFields), order.Version, nanos(order.CreatedAt), nanos(order.UpdatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		for _, item := range order.Items {
			_, err := tx.ExecContext(ctx, s.q(`
				INSERT INTO order_items (id, order_id, product_id, variant_id, quantity, unit_price)
				VALUES (?, ?, ?, ?, ?, ?)
			`), item.ID, order.ID, item.ProductID, item.VariantID, item.Quantity, item.UnitPrice)
			if err != nil {
				return fmt.Errorf("failed to insert line item: %w", err)
			}
		}
		for i := range order.Payments {
			if err := s.insertPayment(ctx, tx, &order.Payments[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetOrder returns the order with items and payments (oldest first).
func (s *Store) GetOrder(ctx context.Context, id string) (*core.Order, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, human_id, email, total, currency, status, custom_fields, version, created_at, updated_at
		FROM orders WHERE id = ?
	`), id)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrOrderNotFound, id)
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, order_id, product_id, variant_id, quantity, unit_price
		FROM order_items WHERE order_id = ? ORDER BY id
	`), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item core.LineItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.VariantID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	order.Payments, err = s.listPayments(ctx, s.db, `WHERE order_id = ? ORDER BY created_at, id`, id)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders returns orders newest first, without items or payments. An empty
// status lists every order.
func (s *Store) ListOrders(ctx context.Context, status core.OrderStatus, limit int) ([]core.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, human_id, email, total, currency, status, custom_fields, version, created_at, updated_at FROM orders`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []core.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*core.Order, error) {
	var (
		o                    core.Order
		status, customFields string
		created, updated     int64
	)
	if err := row.Scan(&o.ID, &o.HumanID, &o.Email, &o.Total, &o.Currency, &status,
		&customFields, &o.Version, &created, &updated); err != nil {
		return nil, err
	}
	o.Status = core.OrderStatus(status)
	o.CreatedAt = fromNanos(created)
	o.UpdatedAt = fromNanos(updated)
	if err := json.Unmarshal([]byte(customFields), &o.CustomFields); err != nil {
		return nil, fmt.Errorf("failed to decode custom fields of order %s: %w", o.ID, err)
	}
	return &o, nil
}

// ApplyTransition performs the guarded order update and its payment write in
// one transaction.
func (s *Store) ApplyTransition(ctx context.Context, tr core.Transition) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE orders SET status = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`), string(tr.To), nanos(tr.At), tr.OrderID, tr.FromVersion)
		if err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM orders WHERE id = ?`), tr.OrderID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", core.ErrOrderNotFound, tr.OrderID)
			}
			return fmt.Errorf("%w: order %s is no longer at version %d", core.ErrConflict, tr.OrderID, tr.FromVersion)
		}

		if tr.NewPayment != nil {
			if err := s.insertPayment(ctx, tx, tr.NewPayment); err != nil {
				return err
			}
		}
		if tr.UpdatePayment != nil {
			if err := s.updatePayment(ctx, tx, tr.UpdatePayment); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) insertPayment(ctx context.Context, tx querier, p *core.Payment) error {
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), p.ID, p.OrderID, p.TrackID, p.Provider, p.Amount, p.Currency, p.PayCurrency, p.Network,
		p.Address, p.PayAmount, p.PayLink, string(p.Status), p.TxID,
		nanos(p.ExpiresAt), nanos(p.CreatedAt), nanos(p.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order %s", core.ErrActivePayment, p.OrderID)
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (s *Store) updatePayment(ctx context.Context, tx querier, p *core.Payment) error {
	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE payments SET track_id = ?, status = ?, tx_id = ?, address = ?, pay_amount = ?,
			pay_link = ?, expires_at = ?, updated_at = ?
		WHERE id = ? AND order_id = ?
	`), p.TrackID, string(p.Status), p.TxID, p.Address, p.PayAmount, p.PayLink,
		nanos(p.ExpiresAt), nanos(p.UpdatedAt), p.ID, p.OrderID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order %s", core.ErrActivePayment, p.OrderID)
		}
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", core.ErrPaymentNotFound, p.ID)
	}
	return nil
}

// PaymentByTrackID looks up a payment by the provider's reference. When a
// track id was reused the newest payment wins.
func (s *Store) PaymentByTrackID(ctx context.Context, trackID string) (*core.Payment, error) {
	payments, err := s.listPayments(ctx, s.db, `WHERE track_id = ? ORDER BY created_at DESC LIMIT 1`, trackID)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, fmt.Errorf("%w: track id %s", core.ErrPaymentNotFound, trackID)
	}
	return &payments[0], nil
}

// ListStalePayments returns non-terminal payments whose invoice expired before now.
func (s *Store) ListStalePayments(ctx context.Context, now time.Time) ([]core.Payment, error) {
	return s.listPayments(ctx, s.db, `
		WHERE status IN ('new', 'waiting', 'confirming') AND expires_at > 0 AND expires_at < ?
		ORDER BY expires_at`, nanos(now))
}

// ListOpenPayments returns every non-terminal payment with a track id.
func (s *Store) ListOpenPayments(ctx context.Context) ([]core.Payment, error) {
	return s.listPayments(ctx, s.db, `
		WHERE status IN ('new', 'waiting', 'confirming') AND track_id <> ''
		ORDER BY created_at`)
}

func (s *Store) listPayments(ctx context.Context, db querier, where string, args ...any) ([]core.Payment, error) {
	rows, err := db.QueryContext(ctx, s.q(`SELECT `+paymentColumns+` FROM payments `+where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []core.Payment
	for rows.Next() {
		var (
			p                         core.Payment
			status                    string
			expires, created, updated int64
		)
		if err := rows.Scan(&p.ID, &p.OrderID, &p.TrackID, &p.Provider, &p.Amount, &p.Currency,
			&p.PayCurrency, &p.Network, &p.Address, &p.PayAmount, &p.PayLink, &status, &p.TxID,
			&expires, &created, &updated); err != nil {
			return nil, err
		}
		p.Status = core.PaymentStatus(status)
		p.ExpiresAt = fromNanos(expires)
		p.CreatedAt = fromNanos(created)
		p.UpdatedAt = fromNanos(updated)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
