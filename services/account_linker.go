package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/shadow-auth/domain"
	serrors "github.com/pilab-dev/shadow-auth/errors"
	"github.com/pilab-dev/shadow-auth/internal/federation"
	"github.com/pilab-dev/shadow-auth/internal/metrics"
	"github.com/rs/zerolog/log"
)

// BindingOutcome tells how InsertBindingIdempotent resolved.
type BindingOutcome int

const (
	// BindingCreated means this call inserted the binding.
	BindingCreated BindingOutcome = iota
	// BindingAlreadyOwned means the same user already held the binding.
	BindingAlreadyOwned
)

// InsertBindingIdempotent inserts binding and, on a unique-key violation,
// re-reads the identity to classify the conflict. A binding already owned by
// binding.UserID is a success; any other owner is ProviderAlreadyBound.
func InsertBindingIdempotent(ctx context.Context, bindings domain.OAuthBindingRepository, binding *domain.OAuthBinding) (BindingOutcome, error) {
	err := bindings.Create(ctx, binding)
	if err == nil {
		return BindingCreated, nil
	}
	if !errors.Is(err, domain.ErrDuplicateKey) {
		return 0, serrors.Wrap(serrors.Internal, err)
	}

	existing, err := bindings.GetByProviderUserID(ctx, binding.Provider, binding.ProviderUserID)
	if errors.Is(err, domain.ErrNotFound) {
		// The user holds another identity of the same provider.
		return 0, serrors.New(serrors.ProviderAlreadyBound)
	}
	if err != nil {
		return 0, serrors.Wrap(serrors.Internal, err)
	}
	if existing.UserID != binding.UserID {
		return 0, serrors.New(serrors.ProviderAlreadyBound)
	}
	return BindingAlreadyOwned, nil
}

const rollbackTimeout = 5 * time.Second

var usernamePrefixes = map[string]string{
	federation.GitHubCode:  "gh_",
	federation.LinuxDoCode: "ld_",
}

// AccountLinker resolves a verified provider identity on the login path:
// reuse a binding, demand confirmation on an email collision, or create a
// new account with its binding.
type AccountLinker struct {
	accounts             domain.AccountRepository
	bindings             domain.OAuthBindingRepository
	tickets              *BindTicketStore
	issuer               *TokenIssuer
	trustUnverifiedEmail bool

	newID        func() string
	randomSuffix func() string
	now          func() time.Time
}

type AccountLinkerOption func(*AccountLinker)

// WithTrustUnverifiedEmail controls whether an email the provider marks as
// unverified takes part in collision detection and is copied to new accounts.
func WithTrustUnverifiedEmail(trust bool) AccountLinkerOption {
	return func(l *AccountLinker) { l.trustUnverifiedEmail = trust }
}

func NewAccountLinker(accounts domain.AccountRepository, bindings domain.OAuthBindingRepository,
	tickets *BindTicketStore, issuer *TokenIssuer, opts ...AccountLinkerOption,
) *AccountLinker {
	l := &AccountLinker{
		accounts:             accounts,
		bindings:             bindings,
		tickets:              tickets,
		issuer:               issuer,
		trustUnverifiedEmail: true,
		newID:                uuid.NewString,
		randomSuffix:         func() string { return uuid.NewString()[:6] },
		now:                  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LinkLogin resolves identity for the LOGIN transaction login.
func (l *AccountLinker) LinkLogin(ctx context.Context, identity *domain.ProviderIdentity, login *domain.OAuthLogin) (*GrantResult, error) {
	provider := federation.NormalizeCode(identity.Provider)

	binding, err := l.bindings.GetByProviderUserID(ctx, provider, identity.ProviderUserID)
	switch {
	case err == nil:
		result, err := l.issuer.IssueTokenPair(ctx, binding.UserID)
		if !errors.Is(err, errAccountMissing) {
			return result, err
		}
		restored, err := l.restoreAccount(ctx, provider, identity, binding)
		if err != nil {
			return nil, err
		}
		if restored {
			return l.issuer.IssueTokenPair(ctx, binding.UserID)
		}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, serrors.Wrap(serrors.Internal, err)
	}

	email := l.usableEmail(identity)
	if email != "" {
		existing, err := l.accounts.GetByEmail(ctx, email)
		switch {
		case err == nil:
			ticket, err := l.tickets.Issue(ctx, domain.BindTicket{
				Provider:       provider,
				OAuthLoginID:   login.ID,
				TargetUserID:   existing.ID,
				ProviderUserID: identity.ProviderUserID,
				ProviderLogin:  identity.Login,
				ProviderEmail:  email,
			})
			if err != nil {
				return nil, serrors.Wrap(serrors.Internal, err)
			}
			return BindRequired(ticket), nil
		case !errors.Is(err, domain.ErrNotFound):
			return nil, serrors.Wrap(serrors.Internal, err)
		}
	}

	userID, err := l.createAccountWithBinding(ctx, provider, identity, email)
	if err != nil {
		return nil, err
	}
	return l.issuer.IssueTokenPair(ctx, userID)
}

// restoreAccount handles a binding whose account was never stored, left by
// a first login that failed between the two inserts or one still in flight.
// The account is created under the binding's user id. When the identity's
// email now belongs to another account the binding is released instead and
// restoreAccount reports false, so resolution continues with the email match.
func (l *AccountLinker) restoreAccount(ctx context.Context, provider string, identity *domain.ProviderIdentity, binding *domain.OAuthBinding) (bool, error) {
	email := l.usableEmail(identity)
	if email != "" {
		owner, err := l.accounts.GetByEmail(ctx, email)
		switch {
		case err == nil && owner.ID != binding.UserID:
			log.Warn().Str("bindingID", binding.ID).Str("provider", provider).
				Msg("releasing binding without account, email owned by another account")
			l.rollbackBinding(ctx, binding)
			return false, nil
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return false, serrors.Wrap(serrors.Internal, err)
		}
	}

	if err := l.createAccount(ctx, binding.UserID, provider, identity, email); err != nil {
		return false, err
	}
	log.Warn().Str("userID", binding.UserID).Str("provider", provider).Msg("restored account for orphaned binding")
	return true, nil
}

// createAccountWithBinding claims the binding for a pre-allocated account id
// before the account exists. A request that loses the claim creates nothing.
func (l *AccountLinker) createAccountWithBinding(ctx context.Context, provider string, identity *domain.ProviderIdentity, email string) (string, error) {
	accountID := l.newID()
	binding := &domain.OAuthBinding{
		ID:             l.newID(),
		Provider:       provider,
		ProviderUserID: identity.ProviderUserID,
		UserID:         accountID,
		ProviderLogin:  identity.Login,
		ProviderEmail:  email,
		CreatedAt:      l.now(),
	}
	if _, err := InsertBindingIdempotent(ctx, l.bindings, binding); err != nil {
		return "", err
	}

	if err := l.createAccount(ctx, accountID, provider, identity, email); err != nil {
		l.rollbackBinding(ctx, binding)
		return "", err
	}
	return accountID, nil
}

// createAccount stores the OAuth account under id, retrying once with a
// random username suffix. An account that already exists under id, created
// by a concurrent restore, counts as success.
func (l *AccountLinker) createAccount(ctx context.Context, id, provider string, identity *domain.ProviderIdentity, email string) error {
	account, err := l.newOAuthAccount(ctx, id, provider, identity, email, false)
	if err != nil {
		return err
	}
	err = l.accounts.Create(ctx, account)
	if errors.Is(err, domain.ErrDuplicateKey) {
		if stored, lookupErr := l.accountStored(ctx, id); lookupErr != nil || stored {
			return lookupErr
		}
		account, err = l.newOAuthAccount(ctx, id, provider, identity, email, true)
		if err == nil {
			err = l.accounts.Create(ctx, account)
		}
		if errors.Is(err, domain.ErrDuplicateKey) {
			if stored, lookupErr := l.accountStored(ctx, id); lookupErr != nil || stored {
				return lookupErr
			}
			return serrors.Wrap(serrors.AccountCreationConflict, err)
		}
	}
	if err != nil {
		return serrors.Wrap(serrors.Internal, err)
	}

	metrics.AccountsCreatedTotal.WithLabelValues("oauth_" + provider).Inc()
	log.Info().Str("userID", id).Str("provider", provider).Msg("created account from oauth login")
	return nil
}

func (l *AccountLinker) accountStored(ctx context.Context, id string) (bool, error) {
	_, err := l.accounts.GetByID(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	default:
		return false, serrors.Wrap(serrors.Internal, err)
	}
}

// rollbackBinding runs detached from the request so a cancelled or timed out
// caller still releases its claim.
func (l *AccountLinker) rollbackBinding(ctx context.Context, binding *domain.OAuthBinding) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if err := l.bindings.Delete(ctx, binding.ID); err != nil {
		log.Error().Err(err).Str("bindingID", binding.ID).Str("provider", binding.Provider).
			Msg("failed to roll back binding claim")
	}
}

func (l *AccountLinker) newOAuthAccount(ctx context.Context, id, provider string, identity *domain.ProviderIdentity,
	email string, withRandomSuffix bool,
) (*domain.UserAccount, error) {
	username, err := l.buildUsername(ctx, provider, identity)
	if err != nil {
		return nil, err
	}
	if withRandomSuffix {
		username += "_" + l.randomSuffix()
	}

	now := l.now()
	return &domain.UserAccount{
		ID:            id,
		Username:      username,
		Email:         email,
		EmailVerified: email != "",
		Nickname:      oauthNickname(identity),
		Groups:        []string{domain.DefaultGroup},
		Permissions:   []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (l *AccountLinker) buildUsername(ctx context.Context, provider string, identity *domain.ProviderIdentity) (string, error) {
	login := strings.ToLower(strings.TrimSpace(identity.Login))
	if login == "" {
		login = provider + "_" + identity.ProviderUserID
	}
	prefix, ok := usernamePrefixes[provider]
	if !ok {
		prefix = provider + "_"
	}
	base := prefix + login

	taken, err := l.accounts.ExistsByUsername(ctx, base)
	if err != nil {
		return "", serrors.Wrap(serrors.Internal, fmt.Errorf("username lookup: %w", err))
	}
	if !taken {
		return base, nil
	}

	suffix := identity.ProviderUserID
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	return base + "_" + suffix, nil
}

func (l *AccountLinker) usableEmail(identity *domain.ProviderIdentity) string {
	email := normalizeEmail(identity.Email)
	if email == "" {
		return ""
	}
	if !identity.EmailVerified && !l.trustUnverifiedEmail {
		return ""
	}
	return email
}

func oauthNickname(identity *domain.ProviderIdentity) string {
	if nickname := strings.TrimSpace(identity.Nickname); nickname != "" {
		return nickname
	}
	if login := strings.TrimSpace(identity.Login); login != "" {
		return login
	}
	return "user-" + identity.ProviderUserID
}
