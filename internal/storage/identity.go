package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateSession opens a session for a user and returns its id.
func (s *Store) CreateSession(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	id := uuid.New().String()
	now := time.Now()
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)
	`), id, userID, nanos(now), nanos(now.Add(ttl)))
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return id, nil
}

// ActiveSessions counts unrevoked, unexpired sessions for a user.
func (s *Store) ActiveSessions(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*) FROM sessions WHERE user_id = ? AND revoked_at = 0 AND expires_at > ?
	`), userID, nanos(time.Now())).Scan(&n)
	return n, err
}

// ForceSignOut revokes every open session of the user.
func (s *Store) ForceSignOut(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		UPDATE sessions SET revoked_at = ? WHERE user_id = ? AND revoked_at = 0
	`), nanos(time.Now()), userID)
	if err != nil {
		return fmt.Errorf("failed to sign out user: %w", err)
	}
	return nil
}

// SetBanned sets or clears the indefinite suspension flag.
func (s *Store) SetBanned(ctx context.Context, userID string, banned bool) error {
	now := time.Now()
	var bannedAt int64
	if banned {
		bannedAt = nanos(now)
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO identities (user_id, banned, banned_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			banned = excluded.banned, banned_at = excluded.banned_at, updated_at = excluded.updated_at
	`), userID, banned, bannedAt, nanos(now))
	if err != nil {
		return fmt.Errorf("failed to set ban flag: %w", err)
	}
	return nil
}

// IsBanned reports the identity-layer suspension flag.
func (s *Store) IsBanned(ctx context.Context, userID string) (bool, error) {
	var banned bool
	err := s.db.QueryRowContext(ctx, s.q(`SELECT banned FROM identities WHERE user_id = ?`), userID).Scan(&banned)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return banned, nil
}
