package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
)

// RecordWebhookEvent journals a provider notification. It returns false when
// the same (provider, track id, status, tx id) was already recorded, so a
// status repeated with a newly known tx id is still applied. An earlier
// record whose processing failed is replaced so the redelivery is applied.
func (s *Store) RecordWebhookEvent(ctx context.Context, e *core.WebhookEvent) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO webhook_events (id, provider, track_id, status, tx_id, payload, signature_valid, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, track_id, status, tx_id) DO UPDATE SET
			id = excluded.id, payload = excluded.payload, signature_valid = excluded.signature_valid,
			processed_at = 0, processing_error = '', created_at = excluded.created_at
		WHERE webhook_events.processing_error <> ''
	`), e.ID, e.Provider, e.TrackID, e.Status, e.TxID, e.Payload, e.SignatureValid, nanos(e.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkWebhookProcessed stamps a journaled event with its processing outcome.
func (s *Store) MarkWebhookProcessed(ctx context.Context, id string, processingErr string) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		UPDATE webhook_events SET processed_at = ?, processing_error = ? WHERE id = ?
	`), nanos(time.Now()), processingErr, id)
	return err
}

// GetWebhookEvent returns a journaled event by its natural key.
func (s *Store) GetWebhookEvent(ctx context.Context, provider, trackID, status, txID string) (*core.WebhookEvent, error) {
	var (
		e                  core.WebhookEvent
		processed, created int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, provider, track_id, status, tx_id, payload, signature_valid, processed_at, processing_error, created_at
		FROM webhook_events WHERE provider = ? AND track_id = ? AND status = ? AND tx_id = ?
	`), provider, trackID, status, txID).Scan(&e.ID, &e.Provider, &e.TrackID, &e.Status, &e.TxID, &e.Payload,
		&e.SignatureValid, &processed, &e.ProcessingError, &created)
	if err != nil {
		return nil, err
	}
	e.ProcessedAt = fromNanos(processed)
	e.CreatedAt = fromNanos(created)
	return &e, nil
}
