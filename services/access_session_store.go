package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pilab-dev/shadow-auth/cache"
	serrors "github.com/pilab-dev/shadow-auth/errors"
	"github.com/pilab-dev/shadow-auth/internal/metrics"
)

// AccessSessionStore records issued access tokens by jti so they can be
// revoked before they expire.
type AccessSessionStore struct {
	store cache.Store
	ttl   time.Duration
}

func NewAccessSessionStore(store cache.Store, ttl time.Duration) *AccessSessionStore {
	return &AccessSessionStore{store: store, ttl: ttl}
}

func (s *AccessSessionStore) Record(ctx context.Context, jti, userID string) error {
	if err := s.store.Set(ctx, accessSessionKey(jti), userID, s.ttl); err != nil {
		return fmt.Errorf("failed to store access session: %w", err)
	}
	return nil
}

// Lookup returns the owner of an active access session, or Unauthorized.
func (s *AccessSessionStore) Lookup(ctx context.Context, jti string) (string, error) {
	userID, err := s.store.Get(ctx, accessSessionKey(jti))
	if errors.Is(err, cache.ErrNotFound) {
		return "", serrors.New(serrors.Unauthorized)
	}
	if err != nil {
		return "", serrors.Wrap(serrors.Internal, err)
	}
	return userID, nil
}

func (s *AccessSessionStore) Revoke(ctx context.Context, jti string) error {
	if err := s.store.Delete(ctx, accessSessionKey(jti)); err != nil {
		return fmt.Errorf("failed to delete access session: %w", err)
	}
	metrics.SessionsRevokedTotal.WithLabelValues("access").Inc()
	return nil
}
