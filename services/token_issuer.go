package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pilab-dev/shadow-auth/domain"
	serrors "github.com/pilab-dev/shadow-auth/errors"
	"github.com/pilab-dev/shadow-auth/internal/metrics"
)

const tokenTypeBearer = "Bearer"

// errAccountMissing marks issuance for an id with no stored account, e.g. a
// binding whose account is still being created by a concurrent request.
var errAccountMissing = errors.New("account not found for token issuance")

// GrantStatus is the outcome kind of a grant.
type GrantStatus string

const (
	StatusTokenIssued  GrantStatus = "TOKEN_ISSUED"
	StatusBindRequired GrantStatus = "BIND_REQUIRED"
)

// GrantResult is returned by every grant. Either tokens are set, or only the
// bind ticket.
type GrantResult struct {
	Status           GrantStatus `json:"result_type"`
	AccessToken      string      `json:"access_token,omitempty"`
	TokenType        string      `json:"token_type,omitempty"`
	ExpiresIn        int64       `json:"expires_in_sec,omitempty"`
	RefreshToken     string      `json:"refresh_token,omitempty"`
	RefreshExpiresIn int64       `json:"refresh_expires_in_sec,omitempty"`
	UserID           string      `json:"user_id,omitempty"`
	Groups           []string    `json:"groups,omitempty"`
	BindTicket       string      `json:"bind_ticket,omitempty"`
}

// BindRequired builds the result returned on an email collision.
func BindRequired(ticket string) *GrantResult {
	return &GrantResult{Status: StatusBindRequired, BindTicket: ticket}
}

// TokenIssuer turns a resolved user id into tokens.
type TokenIssuer struct {
	accounts  domain.AccountRepository
	signer    *TokenSigner
	refresh   *RefreshTokenService
	access    *AccessSessionStore
	accessTTL time.Duration
	now       func() time.Time
}

func NewTokenIssuer(accounts domain.AccountRepository, signer *TokenSigner, refresh *RefreshTokenService,
	access *AccessSessionStore, accessTTL time.Duration,
) *TokenIssuer {
	return &TokenIssuer{
		accounts:  accounts,
		signer:    signer,
		refresh:   refresh,
		access:    access,
		accessTTL: accessTTL,
		now:       time.Now,
	}
}

// IssueTokenPair issues an access token and a new refresh session.
func (i *TokenIssuer) IssueTokenPair(ctx context.Context, userID string) (*GrantResult, error) {
	result, err := i.issueAccess(ctx, userID)
	if err != nil {
		return nil, err
	}

	issued, err := i.refresh.Issue(ctx, userID)
	if err != nil {
		return nil, serrors.Wrap(serrors.Internal, err)
	}
	result.RefreshToken = issued.Token
	result.RefreshExpiresIn = issued.ExpiresIn

	metrics.TokensIssuedTotal.WithLabelValues("true").Inc()
	return result, nil
}

// IssueWithExistingRefresh issues only an access token and echoes the
// still-valid refresh token.
func (i *TokenIssuer) IssueWithExistingRefresh(ctx context.Context, userID, refreshToken string, refreshExpiresIn int64) (*GrantResult, error) {
	result, err := i.issueAccess(ctx, userID)
	if err != nil {
		return nil, err
	}
	result.RefreshToken = refreshToken
	result.RefreshExpiresIn = refreshExpiresIn

	metrics.TokensIssuedTotal.WithLabelValues("false").Inc()
	return result, nil
}

func (i *TokenIssuer) issueAccess(ctx context.Context, userID string) (*GrantResult, error) {
	account, err := i.accounts.GetByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, serrors.Wrap(serrors.Internal, fmt.Errorf("%w: %s", errAccountMissing, userID))
	}
	if err != nil {
		return nil, serrors.Wrap(serrors.Internal, err)
	}

	groups := account.GroupsOrDefault()
	now := i.now()
	jti := uuid.NewString()
	claims := AccessClaims{
		Groups: groups,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.signer.Issuer(),
			Subject:   account.ID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
	}

	token, err := i.signer.Sign(claims, "")
	if err != nil {
		return nil, serrors.Wrap(serrors.Internal, err)
	}
	if err := i.access.Record(ctx, jti, account.ID); err != nil {
		return nil, serrors.Wrap(serrors.Internal, err)
	}

	return &GrantResult{
		Status:      StatusTokenIssued,
		AccessToken: token,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   int64(i.accessTTL / time.Second),
		UserID:      account.ID,
		Groups:      groups,
	}, nil
}
