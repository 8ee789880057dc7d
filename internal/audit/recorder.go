// Package audit writes the append-only audit trail: general audit entries,
// admin-action compensation witnesses and security events.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
)

// Recorder writes audit records through an AuditStore.
type Recorder struct {
	store  core.AuditStore
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder. logger may be nil.
func NewRecorder(store core.AuditStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger, now: time.Now}
}

// Log appends an audit entry. actorID is nil for system events.
func (r *Recorder) Log(ctx context.Context, actorID *string, action, targetTable, targetID string, details map[string]any) error {
	entry := &core.AuditLogEntry{
		ID:          uuid.New().String(),
		ActorID:     actorID,
		Action:      action,
		TargetTable: targetTable,
		TargetID:    targetID,
		Details:     details,
		CreatedAt:   r.now().UTC(),
	}
	if err := r.store.CreateAuditLog(ctx, entry); err != nil {
		return fmt.Errorf("audit %s: %w", action, err)
	}
	return nil
}

// AdminAction appends the witness for an administrative mutation. details
// must carry the pre-mutation value needed to undo it.
func (r *Recorder) AdminAction(ctx context.Context, adminID, targetID, action string, details map[string]any, ip string) error {
	rec := &core.AdminAction{
		ID:        uuid.New().String(),
		AdminID:   adminID,
		TargetID:  targetID,
		Action:    action,
		Details:   details,
		IPAddress: ip,
		CreatedAt: r.now().UTC(),
	}
	if err := r.store.CreateAdminAction(ctx, rec); err != nil {
		return fmt.Errorf("admin action %s: %w", action, err)
	}
	return nil
}

// Security records a security-relevant denial. It is best effort: a failed
// write is logged and never fails the caller.
func (r *Recorder) Security(ctx context.Context, action string, details map[string]any) {
	args := []any{"event", "security", "action", action}
	for k, v := range details {
		args = append(args, k, v)
	}
	r.logger.Warn("security event", args...)

	targetID, _ := details["target_id"].(string)
	if err := r.Log(ctx, nil, action, "security", targetID, details); err != nil {
		r.logger.Error("failed to persist security event", "action", action, "error", err)
	}
}
