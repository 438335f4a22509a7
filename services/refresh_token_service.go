package services

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/shadow-auth/cache"
	"github.com/pilab-dev/shadow-auth/domain"
	serrors "github.com/pilab-dev/shadow-auth/errors"
	"github.com/pilab-dev/shadow-auth/internal/metrics"
	"github.com/rs/zerolog/log"
)

const refreshSecretBytes = 48

// IssuedRefreshToken is a freshly created refresh session.
type IssuedRefreshToken struct {
	Token     string
	SessionID string
	ExpiresIn int64
}

// RefreshTokenService stores hashed refresh sessions in a TTL store, indexed
// per user for bulk revocation.
type RefreshTokenService struct {
	store cache.Store
	ttl   time.Duration
}

func NewRefreshTokenService(store cache.Store, ttl time.Duration) *RefreshTokenService {
	return &RefreshTokenService{store: store, ttl: ttl}
}

// ExpiresIn returns the refresh lifetime in seconds.
func (s *RefreshTokenService) ExpiresIn() int64 {
	return int64(s.ttl / time.Second)
}

// Issue creates a session for userID. The returned token is never stored in
// clear.
func (s *RefreshTokenService) Issue(ctx context.Context, userID string) (*IssuedRefreshToken, error) {
	sessionID := strings.ReplaceAll(uuid.NewString(), "-", "")
	secret, err := randomURLToken(refreshSecretBytes)
	if err != nil {
		return nil, err
	}
	token := sessionID + "." + secret

	record, err := json.Marshal(domain.RefreshSession{UserID: userID, TokenHash: hashRefreshToken(token)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode refresh session: %w", err)
	}
	if err := s.store.Set(ctx, refreshSessionKey(sessionID), string(record), s.ttl); err != nil {
		return nil, fmt.Errorf("failed to store refresh session: %w", err)
	}
	if err := s.store.AddToSet(ctx, refreshUserKey(userID), sessionID, s.ttl); err != nil {
		_ = s.store.Delete(ctx, refreshSessionKey(sessionID))
		return nil, fmt.Errorf("failed to index refresh session: %w", err)
	}

	return &IssuedRefreshToken{Token: token, SessionID: sessionID, ExpiresIn: s.ExpiresIn()}, nil
}

// Validate checks token against its stored session.
func (s *RefreshTokenService) Validate(ctx context.Context, token string) (*domain.RefreshSession, error) {
	session, _, err := s.load(ctx, token)
	return session, err
}

// Rotate validates token and removes its session so it can never be used
// again. Of two concurrent rotations of one token only one succeeds; the
// caller issues the replacement session.
func (s *RefreshTokenService) Rotate(ctx context.Context, token string) (*domain.RefreshSession, error) {
	session, record, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}

	deleted, err := s.store.CompareAndDelete(ctx, refreshSessionKey(session.SessionID), record)
	if err != nil {
		return nil, serrors.Wrap(serrors.Internal, err)
	}
	if !deleted {
		return nil, serrors.New(serrors.RefreshTokenInvalid)
	}
	if err := s.store.RemoveFromSet(ctx, refreshUserKey(session.UserID), session.SessionID); err != nil {
		log.Warn().Err(err).Str("userID", session.UserID).Msg("failed to remove rotated session from user index")
	}

	metrics.RefreshRotationsTotal.Inc()
	return session, nil
}

// Revoke deletes the session behind token. Unknown or invalid tokens are
// ignored.
func (s *RefreshTokenService) Revoke(ctx context.Context, token string) error {
	session, _, err := s.load(ctx, token)
	if err != nil {
		if serrors.KindOf(err) == serrors.Internal {
			return err
		}
		return nil
	}

	if err := s.store.Delete(ctx, refreshSessionKey(session.SessionID)); err != nil {
		return fmt.Errorf("failed to delete refresh session: %w", err)
	}
	if err := s.store.RemoveFromSet(ctx, refreshUserKey(session.UserID), session.SessionID); err != nil {
		return fmt.Errorf("failed to update refresh index: %w", err)
	}

	metrics.SessionsRevokedTotal.WithLabelValues("refresh").Inc()
	return nil
}

// RevokeAll deletes every session indexed for userID and returns how many
// were indexed.
func (s *RefreshTokenService) RevokeAll(ctx context.Context, userID string) (int, error) {
	members, err := s.store.SetMembers(ctx, refreshUserKey(userID))
	if err != nil {
		return 0, fmt.Errorf("failed to read refresh index: %w", err)
	}

	keys := make([]string, 0, len(members)+1)
	for _, sessionID := range members {
		keys = append(keys, refreshSessionKey(sessionID))
	}
	keys = append(keys, refreshUserKey(userID))
	if err := s.store.Delete(ctx, keys...); err != nil {
		return 0, fmt.Errorf("failed to delete refresh sessions: %w", err)
	}

	metrics.SessionsRevokedTotal.WithLabelValues("refresh_all").Add(float64(len(members)))
	return len(members), nil
}

func (s *RefreshTokenService) load(ctx context.Context, token string) (*domain.RefreshSession, string, error) {
	token = strings.TrimSpace(token)
	sessionID, ok := parseRefreshToken(token)
	if !ok {
		return nil, "", serrors.New(serrors.RefreshTokenInvalid)
	}

	record, err := s.store.Get(ctx, refreshSessionKey(sessionID))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, "", serrors.New(serrors.RefreshTokenExpired)
	}
	if err != nil {
		return nil, "", serrors.Wrap(serrors.Internal, err)
	}

	var session domain.RefreshSession
	if err := json.Unmarshal([]byte(record), &session); err != nil || session.UserID == "" || session.TokenHash == "" {
		return nil, "", serrors.New(serrors.RefreshTokenInvalid)
	}
	if subtle.ConstantTimeCompare([]byte(session.TokenHash), []byte(hashRefreshToken(token))) != 1 {
		return nil, "", serrors.New(serrors.RefreshTokenInvalid)
	}

	session.SessionID = sessionID
	return &session, record, nil
}

const sessionIDLength = 32

// parseRefreshToken splits sessionId.secret. The session id must be the 32
// lowercase hex characters Issue generates, so no other key in the refresh
// namespace can be addressed through it.
func parseRefreshToken(token string) (string, bool) {
	sessionID, secret, found := strings.Cut(token, ".")
	if !found || secret == "" || !isSessionID(sessionID) {
		return "", false
	}
	return sessionID, true
}

func isSessionID(s string) bool {
	if len(s) != sessionIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
