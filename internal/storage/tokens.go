package storage

import (
	"context"
	"fmt"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
)

// MarkTokenUsed atomically records a token use. Exactly one of several
// concurrent callers for the same token id gets true.
func (s *Store) MarkTokenUsed(ctx context.Context, use core.TokenUse) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO delivery_token_uses (token_id, order_id, ip_address, user_agent, used_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (token_id) DO NOTHING
	`), use.TokenID, use.OrderID, use.IPAddress, use.UserAgent, nanos(use.UsedAt))
	if err != nil {
		return false, fmt.Errorf("failed to mark token used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) IsTokenUsed(ctx context.Context, tokenID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM delivery_token_uses WHERE token_id = ?`), tokenID).Scan(&n)
	return n > 0, err
}

// LogAccess appends a delivery access-log row.
func (s *Store) LogAccess(ctx context.Context, e *core.AccessLogEntry) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO delivery_access_log (id, order_id, token_id, outcome, reason, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), e.ID, e.OrderID, e.TokenID, e.Outcome, e.Reason, e.IPAddress, e.UserAgent, nanos(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to write access log: %w", err)
	}
	return nil
}

// ListAccessLog returns the access attempts for an order, oldest first.
func (s *Store) ListAccessLog(ctx context.Context, orderID string) ([]core.AccessLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, order_id, token_id, outcome, reason, ip_address, user_agent, created_at
		FROM delivery_access_log WHERE order_id = ? ORDER BY created_at, id
	`), orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []core.AccessLogEntry
	for rows.Next() {
		var (
			e       core.AccessLogEntry
			created int64
		)
		if err := rows.Scan(&e.ID, &e.OrderID, &e.TokenID, &e.Outcome, &e.Reason, &e.IPAddress, &e.UserAgent, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = fromNanos(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
