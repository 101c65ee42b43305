package redis

import (
	"context"
	"fmt"
	"time"
)

// RevokeSession marks a session token id as terminated until it would
// have expired anyway. Expired tokens need no entry.
func (s *Store) RevokeSession(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, RevokedKey(tokenID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// IsSessionRevoked reports whether tokenID was terminated.
func (s *Store) IsSessionRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.client.Exists(ctx, RevokedKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session revocation: %w", err)
	}
	return n > 0, nil
}
