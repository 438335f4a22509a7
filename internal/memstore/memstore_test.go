package memstore

import (
	"context"
	"testing"

	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountRepository_UniqueConstraints(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository()

	require.NoError(t, repo.Create(ctx, &domain.UserAccount{ID: "1", Username: "alice", Email: "a@x.io"}))
	assert.ErrorIs(t, repo.Create(ctx, &domain.UserAccount{ID: "2", Username: "alice"}), domain.ErrDuplicateKey)
	assert.ErrorIs(t, repo.Create(ctx, &domain.UserAccount{ID: "3", Username: "other", Email: "a@x.io"}), domain.ErrDuplicateKey)
	require.NoError(t, repo.Create(ctx, &domain.UserAccount{ID: "4", Username: "no-email"}))
	require.NoError(t, repo.Create(ctx, &domain.UserAccount{ID: "5", Username: "no-email-2"}))

	got, err := repo.GetByEmail(ctx, "a@x.io")
	require.NoError(t, err)
	assert.Equal(t, "1", got.ID)

	exists, err := repo.ExistsByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAccountRepository_UpdateEmail(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository()

	require.NoError(t, repo.Create(ctx, &domain.UserAccount{ID: "1", Username: "u1"}))
	require.NoError(t, repo.Create(ctx, &domain.UserAccount{ID: "2", Username: "u2", Email: "b@x.io"}))

	acc, err := repo.GetByID(ctx, "1")
	require.NoError(t, err)
	acc.Email = "b@x.io"
	assert.ErrorIs(t, repo.Update(ctx, acc), domain.ErrDuplicateKey)

	acc.Email = "c@x.io"
	require.NoError(t, repo.Update(ctx, acc))
	got, err := repo.GetByEmail(ctx, "c@x.io")
	require.NoError(t, err)
	assert.Equal(t, "1", got.ID)
}

func TestOAuthBindingRepository_UniqueConstraints(t *testing.T) {
	ctx := context.Background()
	repo := NewOAuthBindingRepository()

	require.NoError(t, repo.Create(ctx, &domain.OAuthBinding{ID: "b1", Provider: "github", ProviderUserID: "42", UserID: "u1"}))
	assert.ErrorIs(t, repo.Create(ctx, &domain.OAuthBinding{ID: "b2", Provider: "github", ProviderUserID: "42", UserID: "u2"}), domain.ErrDuplicateKey)
	assert.ErrorIs(t, repo.Create(ctx, &domain.OAuthBinding{ID: "b3", Provider: "github", ProviderUserID: "43", UserID: "u1"}), domain.ErrDuplicateKey)
	require.NoError(t, repo.Create(ctx, &domain.OAuthBinding{ID: "b4", Provider: "linuxdo", ProviderUserID: "42", UserID: "u1"}))

	require.NoError(t, repo.Delete(ctx, "b1"))
	_, err := repo.GetByProviderUserID(ctx, "github", "42")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGroupPermissionRepository(t *testing.T) {
	repo := NewGroupPermissionRepository()
	repo.Grant("admin", "users:write", "users:read")
	repo.Grant("USER", "users:read")

	perms, err := repo.ListPermissions(context.Background(), []string{" Admin ", "user"})
	require.NoError(t, err)
	assert.Equal(t, []string{"users:read", "users:write"}, perms)
}
