package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/shadow-auth/cache"
	"github.com/pilab-dev/shadow-auth/domain"
	serrors "github.com/pilab-dev/shadow-auth/errors"
	"github.com/pilab-dev/shadow-auth/internal/audit"
	"github.com/pilab-dev/shadow-auth/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Options are the tunables of AuthService. Zero values fall back to the
// defaults below.
type Options struct {
	AccessTTL                    time.Duration
	RefreshTTL                   time.Duration
	BindTicketTTL                time.Duration
	RotateRefreshToken           bool
	TrustUnverifiedProviderEmail bool
	Email                        EmailVerificationOptions
}

const (
	DefaultAccessTTL  = 2 * time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		AccessTTL:                    DefaultAccessTTL,
		RefreshTTL:                   DefaultRefreshTTL,
		BindTicketTTL:                DefaultBindTicketTTL,
		RotateRefreshToken:           true,
		TrustUnverifiedProviderEmail: true,
		Email: EmailVerificationOptions{
			CodeTTL:     DefaultEmailCodeTTL,
			Cooldown:    DefaultEmailCooldown,
			MaxAttempts: DefaultEmailMaxAttempts,
		},
	}
}

// Dependencies are the stores and adapters AuthService is built on.
type Dependencies struct {
	Accounts         domain.AccountRepository
	Bindings         domain.OAuthBindingRepository
	Logins           domain.OAuthLoginRepository
	GroupPermissions domain.GroupPermissionRepository
	Store            cache.Store
	Providers        ProviderRegistry
	Hasher           PasswordHasher
	Mailer           Mailer
	Signer           *TokenSigner
}

// LogoutCommand ends the current session, or every session of the caller.
type LogoutCommand struct {
	AccessToken  string
	RefreshToken string
	LogoutAll    bool
}

// RegisterCommand creates an account from a verified email.
type RegisterCommand struct {
	Email     string
	Password  string
	Nickname  string
	EmailCode string
}

// BindEmailCommand attaches email and password to an existing account.
type BindEmailCommand struct {
	Email     string
	Password  string
	EmailCode string
}

// AuthService is the entry point used by transports.
type AuthService struct {
	accounts domain.AccountRepository
	groups   domain.GroupPermissionRepository
	hasher   PasswordHasher
	signer   *TokenSigner
	refresh  *RefreshTokenService
	access   *AccessSessionStore
	issuer   *TokenIssuer
	flow     *OAuthFlowService
	emails   *EmailVerificationService
	grants   *GrantDispatcher
	now      func() time.Time
}

func NewAuthService(deps Dependencies, opts Options) (*AuthService, error) {
	if deps.Accounts == nil || deps.Bindings == nil || deps.Logins == nil || deps.GroupPermissions == nil {
		return nil, errors.New("auth service: repositories are required")
	}
	if deps.Store == nil || deps.Providers == nil || deps.Hasher == nil || deps.Signer == nil {
		return nil, errors.New("auth service: store, providers, hasher and signer are required")
	}
	if deps.Mailer == nil {
		deps.Mailer = LogMailer{}
	}
	defaults := DefaultOptions()
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = defaults.AccessTTL
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = defaults.RefreshTTL
	}

	refresh := NewRefreshTokenService(deps.Store, opts.RefreshTTL)
	access := NewAccessSessionStore(deps.Store, opts.AccessTTL)
	issuer := NewTokenIssuer(deps.Accounts, deps.Signer, refresh, access, opts.AccessTTL)
	verifier := NewCredentialVerifier(deps.Accounts, deps.Hasher)
	tickets := NewBindTicketStore(deps.Store, opts.BindTicketTTL)
	linker := NewAccountLinker(deps.Accounts, deps.Bindings, tickets, issuer,
		WithTrustUnverifiedEmail(opts.TrustUnverifiedProviderEmail))

	flow := NewOAuthFlowService(OAuthFlowDeps{
		Providers: deps.Providers,
		States:    NewOAuthStateService(deps.Store),
		Logins:    deps.Logins,
		Accounts:  deps.Accounts,
		Bindings:  deps.Bindings,
		Tickets:   tickets,
		Linker:    linker,
		Verifier:  verifier,
		Issuer:    issuer,
	})

	grants, err := NewGrantDispatcher(
		NewPasswordGrant(verifier, issuer),
		NewOAuthCodeGrant(flow),
		NewRefreshTokenGrant(refresh, issuer, opts.RotateRefreshToken),
	)
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}

	return &AuthService{
		accounts: deps.Accounts,
		groups:   deps.GroupPermissions,
		hasher:   deps.Hasher,
		signer:   deps.Signer,
		refresh:  refresh,
		access:   access,
		issuer:   issuer,
		flow:     flow,
		emails:   NewEmailVerificationService(deps.Store, deps.Mailer, opts.Email),
		grants:   grants,
		now:      time.Now,
	}, nil
}

func (s *AuthService) IssueToken(ctx context.Context, cmd GrantCommand) (*GrantResult, error) {
	return s.grants.IssueToken(ctx, cmd)
}

func (s *AuthService) CreateAuthorization(ctx context.Context, cmd AuthorizationCommand) (*AuthorizationResult, error) {
	return s.flow.CreateAuthorization(ctx, cmd)
}

func (s *AuthService) ConfirmConflictBinding(ctx context.Context, bindTicket, email, password string) (*GrantResult, error) {
	return s.flow.ConfirmConflictBinding(ctx, bindTicket, email, password)
}

func (s *AuthService) BindOAuth(ctx context.Context, callerID string, cmd OAuthCodeCommand) error {
	return s.flow.BindOAuth(ctx, callerID, cmd)
}

func (s *AuthService) SendEmailCode(ctx context.Context, email string, purpose EmailPurpose) (*SendCodeResult, error) {
	return s.emails.SendCode(ctx, email, purpose)
}

// Logout revokes the given refresh token and the current access session. With
// LogoutAll it revokes every refresh session of the authenticated caller.
func (s *AuthService) Logout(ctx context.Context, cmd LogoutCommand) error {
	claims, sessionErr := s.activeSession(ctx, cmd.AccessToken)
	hasSession := sessionErr == nil

	if cmd.LogoutAll {
		if !hasSession {
			return serrors.New(serrors.Unauthorized)
		}
		count, err := s.refresh.RevokeAll(ctx, claims.Subject)
		if err != nil {
			return serrors.Wrap(serrors.Internal, err)
		}
		if err := s.access.Revoke(ctx, claims.ID); err != nil {
			return serrors.Wrap(serrors.Internal, err)
		}
		audit.Log(audit.ActionLogoutAll, claims.Subject, "", fmt.Sprintf("refresh_sessions=%d", count), true, nil)
		return nil
	}

	if !hasSession && isBlank(cmd.RefreshToken) {
		return serrors.New(serrors.Unauthorized)
	}
	if !isBlank(cmd.RefreshToken) {
		if err := s.refresh.Revoke(ctx, cmd.RefreshToken); err != nil {
			return serrors.Wrap(serrors.Internal, err)
		}
	}
	userID := ""
	if hasSession {
		userID = claims.Subject
		if err := s.access.Revoke(ctx, claims.ID); err != nil {
			return serrors.Wrap(serrors.Internal, err)
		}
	}
	audit.Log(audit.ActionLogout, userID, "", "", true, nil)
	return nil
}

// Introspect resolves an access token to its principal, including the
// permissions granted through groups.
func (s *AuthService) Introspect(ctx context.Context, accessToken string) (*domain.Principal, error) {
	claims, err := s.activeSession(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, claims.Subject)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, serrors.New(serrors.Unauthorized)
	}
	if err != nil {
		return nil, serrors.Wrap(serrors.Internal, err)
	}

	groups := normalizeGroups(account.GroupsOrDefault())
	groupPerms, err := s.groups.ListPermissions(ctx, groups)
	if err != nil {
		return nil, serrors.Wrap(serrors.Internal, err)
	}

	return &domain.Principal{
		UserID:      account.ID,
		Username:    account.Username,
		Nickname:    account.Nickname,
		Email:       account.Email,
		Groups:      groups,
		Permissions: unionSorted(account.Permissions, groupPerms),
	}, nil
}

// RegisterByEmail creates a password account after checking the REGISTER
// code, then signs the user in.
func (s *AuthService) RegisterByEmail(ctx context.Context, cmd RegisterCommand) (*GrantResult, error) {
	email := normalizeEmail(cmd.Email)
	if email == "" {
		return nil, serrors.WithMessage(serrors.BadRequest, "Email is required")
	}

	_, err := s.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, serrors.New(serrors.EmailAlreadyRegistered)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, serrors.Wrap(serrors.Internal, err)
	}

	if err := s.emails.ValidateAndConsume(ctx, email, PurposeRegister, cmd.EmailCode); err != nil {
		return nil, err
	}
	if isBlank(cmd.Password) {
		return nil, serrors.WithMessage(serrors.BadRequest, "Password is required")
	}
	hash, err := s.hasher.Hash(cmd.Password)
	if err != nil {
		return nil, serrors.Wrap(serrors.Internal, err)
	}

	now := s.now()
	account := &domain.UserAccount{
		ID:            uuid.NewString(),
		Username:      email,
		PasswordHash:  hash,
		Email:         email,
		EmailVerified: true,
		Nickname:      registerNickname(email, cmd.Nickname),
		Groups:        []string{domain.DefaultGroup},
		Permissions:   []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			return nil, serrors.New(serrors.EmailAlreadyRegistered)
		}
		return nil, serrors.Wrap(serrors.Internal, err)
	}

	metrics.AccountsCreatedTotal.WithLabelValues("email").Inc()
	audit.Log(audit.ActionEmailRegister, account.ID, "", "", true, nil)
	return s.issuer.IssueTokenPair(ctx, account.ID)
}

// BindEmail attaches a verified email and a password to the caller account.
func (s *AuthService) BindEmail(ctx context.Context, callerID string, cmd BindEmailCommand) error {
	account, err := s.flow.requireAccount(ctx, callerID)
	if err != nil {
		return err
	}
	email := normalizeEmail(cmd.Email)
	if email == "" {
		return serrors.WithMessage(serrors.BadRequest, "Email is required")
	}

	existing, err := s.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil && existing.ID != account.ID:
		return serrors.New(serrors.EmailAlreadyBound)
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return serrors.Wrap(serrors.Internal, err)
	}

	if err := s.emails.ValidateAndConsume(ctx, email, PurposeBind, cmd.EmailCode); err != nil {
		return err
	}
	if isBlank(cmd.Password) {
		return serrors.WithMessage(serrors.BadRequest, "Password is required")
	}
	hash, err := s.hasher.Hash(cmd.Password)
	if err != nil {
		return serrors.Wrap(serrors.Internal, err)
	}

	account.Email = email
	account.EmailVerified = true
	account.PasswordHash = hash
	account.UpdatedAt = s.now()
	if err := s.accounts.Update(ctx, account); err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			return serrors.New(serrors.EmailAlreadyBound)
		}
		return serrors.Wrap(serrors.Internal, err)
	}

	audit.Log(audit.ActionEmailBind, account.ID, "", "", true, nil)
	return nil
}

// activeSession verifies the token signature and that its access session has
// not been revoked.
func (s *AuthService) activeSession(ctx context.Context, accessToken string) (*AccessClaims, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return nil, serrors.New(serrors.Unauthorized)
	}
	claims, err := s.signer.Parse(token)
	if err != nil {
		return nil, serrors.Wrap(serrors.Unauthorized, err)
	}
	owner, err := s.access.Lookup(ctx, claims.ID)
	if err != nil {
		if serrors.KindOf(err) == serrors.Internal {
			log.Error().Err(err).Msg("access session lookup failed")
		}
		return nil, err
	}
	if owner != claims.Subject {
		return nil, serrors.New(serrors.Unauthorized)
	}
	return claims, nil
}

func normalizeGroups(groups []string) []string {
	seen := make(map[string]bool, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		g = strings.ToUpper(strings.TrimSpace(g))
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	if len(out) == 0 {
		out = append(out, domain.DefaultGroup)
	}
	sort.Strings(out)
	return out
}

func unionSorted(sets ...[]string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, set := range sets {
		for _, v := range set {
			v = strings.TrimSpace(v)
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func registerNickname(email, nickname string) string {
	if n := strings.TrimSpace(nickname); n != "" {
		return n
	}
	if idx := strings.Index(email, "@"); idx > 0 {
		return email[:idx]
	}
	return email
}
