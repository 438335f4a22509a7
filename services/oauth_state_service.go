package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/pilab-dev/shadow-auth/cache"
	serrors "github.com/pilab-dev/shadow-auth/errors"
)

const oauthStateTTL = 10 * time.Minute

// OAuthStateService issues and consumes the anti-replay state of an OAuth
// transaction. A state is valid for one consumption only.
type OAuthStateService struct {
	store cache.Store
}

func NewOAuthStateService(store cache.Store) *OAuthStateService {
	return &OAuthStateService{store: store}
}

// Generate creates a random state bound to oauthLoginID.
func (s *OAuthStateService) Generate(ctx context.Context, oauthLoginID string) (string, error) {
	state, err := randomURLToken(32)
	if err != nil {
		return "", err
	}
	if err := s.store.Set(ctx, oauthStateKey(oauthLoginID, state), "1", oauthStateTTL); err != nil {
		return "", fmt.Errorf("failed to store oauth state: %w", err)
	}
	return state, nil
}

// Consume atomically validates and removes the state. Of two concurrent
// callers at most one succeeds.
func (s *OAuthStateService) Consume(ctx context.Context, oauthLoginID, state string) error {
	if isBlank(oauthLoginID) || isBlank(state) {
		return serrors.New(serrors.InvalidOAuthState)
	}
	_, err := s.store.GetDel(ctx, oauthStateKey(oauthLoginID, state))
	if errors.Is(err, cache.ErrNotFound) {
		return serrors.New(serrors.InvalidOAuthState)
	}
	if err != nil {
		return serrors.Wrap(serrors.Internal, err)
	}
	return nil
}

func randomURLToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
