package services

import (
	"context"
	"fmt"
	"strings"

	serrors "github.com/pilab-dev/shadow-auth/errors"
	"github.com/pilab-dev/shadow-auth/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GrantType names an authentication method of a token request.
type GrantType string

const (
	GrantPassword     GrantType = "password"
	GrantOAuthCode    GrantType = "oauth_code"
	GrantRefreshToken GrantType = "refresh_token"
)

// RequiredGrantTypes must each have exactly one strategy.
var RequiredGrantTypes = []GrantType{GrantPassword, GrantOAuthCode, GrantRefreshToken}

// GrantCommand is the union of all grant inputs; each strategy reads only its
// own fields.
type GrantCommand struct {
	GrantType    GrantType
	Email        string
	Password     string
	Provider     string
	OAuthLoginID string
	Code         string
	State        string
	RefreshToken string
}

// GrantStrategy handles one grant type.
type GrantStrategy interface {
	GrantType() GrantType
	Grant(ctx context.Context, cmd GrantCommand) (*GrantResult, error)
}

// GrantDispatcher routes a grant to its strategy by exact type match.
type GrantDispatcher struct {
	strategies map[GrantType]GrantStrategy
}

// NewGrantDispatcher fails on a duplicate strategy or when a required grant
// type has none.
func NewGrantDispatcher(strategies ...GrantStrategy) (*GrantDispatcher, error) {
	table := make(map[GrantType]GrantStrategy, len(strategies))
	for _, s := range strategies {
		if _, dup := table[s.GrantType()]; dup {
			return nil, fmt.Errorf("duplicate grant strategy for %q", s.GrantType())
		}
		table[s.GrantType()] = s
	}
	for _, gt := range RequiredGrantTypes {
		if _, ok := table[gt]; !ok {
			return nil, fmt.Errorf("missing grant strategy for %q", gt)
		}
	}
	return &GrantDispatcher{strategies: table}, nil
}

// IssueToken runs the strategy for cmd.GrantType.
func (d *GrantDispatcher) IssueToken(ctx context.Context, cmd GrantCommand) (*GrantResult, error) {
	strategy, ok := d.strategies[GrantType(strings.TrimSpace(string(cmd.GrantType)))]
	if !ok {
		metrics.GrantsTotal.WithLabelValues("unknown", string(serrors.UnsupportedGrant)).Inc()
		return nil, serrors.New(serrors.UnsupportedGrant)
	}

	ctx, span := tracer.Start(ctx, "GrantDispatcher.IssueToken",
		trace.WithAttributes(attribute.String("auth.grant_type", string(strategy.GrantType()))))
	defer span.End()

	result, err := strategy.Grant(ctx, cmd)
	if err != nil {
		kind := serrors.KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		metrics.GrantsTotal.WithLabelValues(string(strategy.GrantType()), string(kind)).Inc()
		return nil, err
	}

	span.SetAttributes(attribute.String("auth.result", string(result.Status)))
	metrics.GrantsTotal.WithLabelValues(string(strategy.GrantType()), string(result.Status)).Inc()
	return result, nil
}

// PasswordGrant authenticates by email and password.
type PasswordGrant struct {
	verifier *CredentialVerifier
	issuer   *TokenIssuer
}

func NewPasswordGrant(verifier *CredentialVerifier, issuer *TokenIssuer) *PasswordGrant {
	return &PasswordGrant{verifier: verifier, issuer: issuer}
}

func (g *PasswordGrant) GrantType() GrantType { return GrantPassword }

func (g *PasswordGrant) Grant(ctx context.Context, cmd GrantCommand) (*GrantResult, error) {
	account, err := g.verifier.Verify(ctx, cmd.Email, cmd.Password)
	if err != nil {
		return nil, err
	}
	return g.issuer.IssueTokenPair(ctx, account.ID)
}

// OAuthCodeGrant completes an OAuth LOGIN transaction.
type OAuthCodeGrant struct {
	flow *OAuthFlowService
}

func NewOAuthCodeGrant(flow *OAuthFlowService) *OAuthCodeGrant {
	return &OAuthCodeGrant{flow: flow}
}

func (g *OAuthCodeGrant) GrantType() GrantType { return GrantOAuthCode }

func (g *OAuthCodeGrant) Grant(ctx context.Context, cmd GrantCommand) (*GrantResult, error) {
	return g.flow.GrantByCode(ctx, OAuthCodeCommand{
		Provider:     cmd.Provider,
		OAuthLoginID: cmd.OAuthLoginID,
		Code:         cmd.Code,
		State:        cmd.State,
	})
}

// RefreshTokenGrant exchanges a refresh token, rotating it when enabled.
type RefreshTokenGrant struct {
	refresh *RefreshTokenService
	issuer  *TokenIssuer
	rotate  bool
}

func NewRefreshTokenGrant(refresh *RefreshTokenService, issuer *TokenIssuer, rotate bool) *RefreshTokenGrant {
	return &RefreshTokenGrant{refresh: refresh, issuer: issuer, rotate: rotate}
}

func (g *RefreshTokenGrant) GrantType() GrantType { return GrantRefreshToken }

func (g *RefreshTokenGrant) Grant(ctx context.Context, cmd GrantCommand) (*GrantResult, error) {
	if isBlank(cmd.RefreshToken) {
		return nil, serrors.WithMessage(serrors.BadRequest, "refresh_token is required")
	}

	if !g.rotate {
		session, err := g.refresh.Validate(ctx, cmd.RefreshToken)
		if err != nil {
			return nil, err
		}
		return g.issuer.IssueWithExistingRefresh(ctx, session.UserID, strings.TrimSpace(cmd.RefreshToken), g.refresh.ExpiresIn())
	}

	session, err := g.refresh.Rotate(ctx, cmd.RefreshToken)
	if err != nil {
		return nil, err
	}
	return g.issuer.IssueTokenPair(ctx, session.UserID)
}
