package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
)

// SaveCustomer inserts or replaces a customer record.
func (s *Store) SaveCustomer(ctx context.Context, c *core.Customer) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO customers (id, user_id, email, role, status, balance, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id, email = excluded.email, role = excluded.role,
			status = excluded.status, balance = excluded.balance, updated_at = excluded.updated_at
	`), c.ID, c.UserID, c.Email, c.Role, c.Status, c.Balance, nanos(c.UpdatedAt))
	return err
}

// GetCustomer retrieves a customer by ID
func (s *Store) GetCustomer(ctx context.Context, id string) (*core.Customer, error) {
	var (
		c       core.Customer
		updated int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, user_id, email, role, status, balance, updated_at FROM customers WHERE id = ?
	`), id).Scan(&c.ID, &c.UserID, &c.Email, &c.Role, &c.Status, &c.Balance, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrCustomerNotFound, id)
		}
		return nil, err
	}
	c.UpdatedAt = fromNanos(updated)
	return &c, nil
}

func (s *Store) UpdateCustomerStatus(ctx context.Context, id, status string) error {
	return s.updateCustomer(ctx, id, "status", status)
}

func (s *Store) UpdateCustomerRole(ctx context.Context, id, role string) error {
	return s.updateCustomer(ctx, id, "role", role)
}

func (s *Store) UpdateCustomerBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	return s.updateCustomer(ctx, id, "balance", balance)
}

// updateCustomer sets one column. column is always a constant from this file.
func (s *Store) updateCustomer(ctx context.Context, id, column string, value any) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE customers SET `+column+` = ?, updated_at = ? WHERE id = ?`),
		value, nanos(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update customer %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", core.ErrCustomerNotFound, id)
	}
	return nil
}

// CountAdmins returns the number of customers holding the admin role.
func (s *Store) CountAdmins(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM customers WHERE role = ?`), core.RoleAdmin).Scan(&n)
	return n, err
}
