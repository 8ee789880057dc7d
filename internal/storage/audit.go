package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
)

// CreateAuditLog appends an audit entry. Audit rows are never updated.
func (s *Store) CreateAuditLog(ctx context.Context, entry *core.AuditLogEntry) error {
	var actor sql.NullString
	if entry.ActorID != nil {
		actor = sql.NullString{String: *entry.ActorID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO audit_logs (id, actor_id, action, target_table, target_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), entry.ID, actor, entry.Action, entry.TargetTable, entry.TargetID, marshalJSON(entry.Details), nanos(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// CreateAdminAction appends an admin action record.
func (s *Store) CreateAdminAction(ctx context.Context, action *core.AdminAction) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO admin_actions (id, admin_id, target_id, action, details, ip_address, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), action.ID, action.AdminID, action.TargetID, action.Action, marshalJSON(action.Details), action.IPAddress, nanos(action.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to write admin action: %w", err)
	}
	return nil
}

// ListAuditLogs returns audit entries for a target, oldest first. An empty
// targetTable returns entries for any table.
func (s *Store) ListAuditLogs(ctx context.Context, targetTable, targetID string) ([]core.AuditLogEntry, error) {
	query := `SELECT id, actor_id, action, target_table, target_id, details, created_at FROM audit_logs WHERE target_id = ?`
	args := []any{targetID}
	if targetTable != "" {
		query += ` AND target_table = ?`
		args = append(args, targetTable)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query+` ORDER BY created_at, id`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []core.AuditLogEntry
	for rows.Next() {
		var (
			e       core.AuditLogEntry
			actor   sql.NullString
			details string
			created int64
		)
		if err := rows.Scan(&e.ID, &actor, &e.Action, &e.TargetTable, &e.TargetID, &details, &created); err != nil {
			return nil, err
		}
		if actor.Valid {
			e.ActorID = &actor.String
		}
		json.Unmarshal([]byte(details), &e.Details)
		e.CreatedAt = fromNanos(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListAdminActions returns admin actions against a target, oldest first.
func (s *Store) ListAdminActions(ctx context.Context, targetID string) ([]core.AdminAction, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, admin_id, target_id, action, details, ip_address, created_at
		FROM admin_actions WHERE target_id = ? ORDER BY created_at, id
	`), targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []core.AdminAction
	for rows.Next() {
		var (
			a       core.AdminAction
			details string
			created int64
		)
		if err := rows.Scan(&a.ID, &a.AdminID, &a.TargetID, &a.Action, &details, &a.IPAddress, &created); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(details), &a.Details)
		a.CreatedAt = fromNanos(created)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
