package services

import (
	"context"
	"errors"
	"sync"

	"github.com/pilab-dev/shadow-auth/domain"
	serrors "github.com/pilab-dev/shadow-auth/errors"
	"github.com/rs/zerolog/log"
)

// CredentialVerifier checks an email and password against stored accounts.
// Every failure that depends on stored state yields the same
// InvalidCredentials error.
type CredentialVerifier struct {
	accounts domain.AccountRepository
	hasher   PasswordHasher

	decoyOnce sync.Once
	decoyHash string
}

const decoyPassword = "shadow-auth-decoy-password"

func NewCredentialVerifier(accounts domain.AccountRepository, hasher PasswordHasher) *CredentialVerifier {
	return &CredentialVerifier{accounts: accounts, hasher: hasher}
}

// Verify returns the account owning email when password matches.
func (v *CredentialVerifier) Verify(ctx context.Context, email, password string) (*domain.UserAccount, error) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return nil, serrors.WithMessage(serrors.BadRequest, "Email is required")
	}
	if isBlank(password) {
		return nil, serrors.WithMessage(serrors.BadRequest, "Password is required")
	}

	account, err := v.accounts.GetByEmail(ctx, normalized)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, v.RejectPassword(password)
	}
	if err != nil {
		return nil, serrors.Wrap(serrors.Internal, err)
	}

	if err := v.CheckPassword(account, password); err != nil {
		return nil, err
	}
	return account, nil
}

// CheckPassword verifies password against account without any lookup.
func (v *CredentialVerifier) CheckPassword(account *domain.UserAccount, password string) error {
	if account == nil || !account.HasPassword() {
		return v.RejectPassword(password)
	}
	if err := v.hasher.Verify(account.PasswordHash, password); err != nil {
		if !errors.Is(err, ErrPasswordMismatch) {
			log.Warn().Err(err).Str("userID", account.ID).Msg("password hash verification failed")
		}
		return serrors.New(serrors.InvalidCredentials)
	}
	return nil
}

// RejectPassword compares password against a fixed decoy hash and returns
// InvalidCredentials. Failures found without a stored hash take as long as a
// real mismatch.
func (v *CredentialVerifier) RejectPassword(password string) error {
	v.decoyOnce.Do(func() {
		hash, err := v.hasher.Hash(decoyPassword)
		if err != nil {
			log.Warn().Err(err).Msg("failed to prepare decoy password hash")
			return
		}
		v.decoyHash = hash
	})
	if v.decoyHash != "" {
		_ = v.hasher.Verify(v.decoyHash, password)
	}
	return serrors.New(serrors.InvalidCredentials)
}
