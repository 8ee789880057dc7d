package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
)

// ErrInsufficientStock means a line item could not be fully allocated.
var ErrInsufficientStock = errors.New("insufficient stock")

// AddStock loads deliverable items (license keys, accounts, ...) for a product.
func (s *Store) AddStock(ctx context.Context, productID string, contents ...string) error {
	now := nanos(time.Now())
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, content := range contents {
			_, err := tx.ExecContext(ctx, s.q(`
				INSERT INTO stock_items (id, product_id, content, created_at) VALUES (?, ?, ?, ?)
			`), uuid.New().String(), productID, content, now)
			if err != nil {
				return fmt.Errorf("failed to add stock: %w", err)
			}
		}
		return nil
	})
}

// AvailableStock counts unassigned items for a product.
func (s *Store) AvailableStock(ctx context.Context, productID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*) FROM stock_items WHERE product_id = ? AND order_id = ''
	`), productID).Scan(&n)
	return n, err
}

// AssignStock allocates stock to each line item of the order up to its
// quantity. Items already allocated are kept, so repeated calls return the
// same assets. Whatever could be allocated is committed; a shortfall is
// reported with ErrInsufficientStock.
func (s *Store) AssignStock(ctx context.Context, order *core.Order) ([]core.Asset, error) {
	var short []string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := nanos(time.Now())
		for _, item := range order.Items {
			var have int
			err := tx.QueryRowContext(ctx, s.q(`
				SELECT COUNT(*) FROM stock_items WHERE order_id = ? AND line_item_id = ?
			`), order.ID, item.ID).Scan(&have)
			if err != nil {
				return err
			}
			need := item.Quantity - have
			if need <= 0 {
				continue
			}

			ids, err := s.freeStock(ctx, tx, item.ProductID, need)
			if err != nil {
				return err
			}
			for _, id := range ids {
				_, err := tx.ExecContext(ctx, s.q(`
					UPDATE stock_items SET order_id = ?, line_item_id = ?, assigned_at = ?
					WHERE id = ? AND order_id = ''
				`), order.ID, item.ID, now, id)
				if err != nil {
					return fmt.Errorf("failed to assign stock: %w", err)
				}
			}
			if len(ids) < need {
				short = append(short, fmt.Sprintf("%s (%d/%d)", item.ProductID, have+len(ids), item.Quantity))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	assets, err := s.ListAssets(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if len(short) > 0 {
		return assets, fmt.Errorf("%w: %v", ErrInsufficientStock, short)
	}
	return assets, nil
}

func (s *Store) freeStock(ctx context.Context, tx *sql.Tx, productID string, limit int) ([]string, error) {
	rows, err := tx.QueryContext(ctx, s.q(`
		SELECT id FROM stock_items WHERE product_id = ? AND order_id = '' ORDER BY created_at, id LIMIT ?
	`), productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListAssets returns the content allocated to an order.
func (s *Store) ListAssets(ctx context.Context, orderID string) ([]core.Asset, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, order_id, line_item_id, product_id, content, assigned_at
		FROM stock_items WHERE order_id = ? ORDER BY assigned_at, id
	`), orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []core.Asset
	for rows.Next() {
		var (
			a        core.Asset
			assigned int64
		)
		if err := rows.Scan(&a.ID, &a.OrderID, &a.LineItemID, &a.ProductID, &a.Content, &assigned); err != nil {
			return nil, err
		}
		a.CreatedAt = fromNanos(assigned)
		assets = append(assets, a)
	}
	return assets, rows.Err()
}
