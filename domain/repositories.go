package domain

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by repositories when no record matches.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey is returned when an insert violates a unique constraint.
	ErrDuplicateKey = errors.New("duplicate key")
)

// AccountRepository stores local accounts. Username and (non-empty) email are
// unique; Create returns ErrDuplicateKey on violation.
type AccountRepository interface {
	Create(ctx context.Context, account *UserAccount) error
	GetByID(ctx context.Context, id string) (*UserAccount, error)
	GetByEmail(ctx context.Context, email string) (*UserAccount, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	Update(ctx context.Context, account *UserAccount) error
}

// OAuthBindingRepository stores provider bindings.
type OAuthBindingRepository interface {
	// Create returns ErrDuplicateKey when the identity or the (user, provider)
	// pair is already bound.
	Create(ctx context.Context, binding *OAuthBinding) error
	GetByProviderUserID(ctx context.Context, provider, providerUserID string) (*OAuthBinding, error)
	// Delete removes a binding claim. Used only to roll back a claim whose
	// account could not be created.
	Delete(ctx context.Context, id string) error
}

// OAuthLoginRepository stores OAuth transactions.
type OAuthLoginRepository interface {
	Create(ctx context.Context, login *OAuthLogin) error
	GetByID(ctx context.Context, id string) (*OAuthLogin, error)
	UpdateOutcome(ctx context.Context, id string, outcome OAuthLoginOutcome) error
}

// GroupPermissionRepository resolves the permissions granted to groups.
type GroupPermissionRepository interface {
	ListPermissions(ctx context.Context, groups []string) ([]string, error)
}
