package services

import (
	"context"
	"errors"

	"github.com/pilab-dev/shadow-auth/internal/federation"
)

// ErrPasswordMismatch is returned by PasswordHasher.Verify when the password
// does not match the hash.
var ErrPasswordMismatch = errors.New("password mismatch")

// PasswordHasher defines an interface for hashing and verifying passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hashedPassword, password string) error
}

// ProviderRegistry resolves identity exchangers by provider code.
type ProviderRegistry interface {
	Get(code string) (federation.IdentityExchanger, error)
}

// Mailer delivers email verification codes.
type Mailer interface {
	SendVerificationCode(ctx context.Context, email string, purpose EmailPurpose, code string) error
}

var _ ProviderRegistry = (*federation.Registry)(nil)
