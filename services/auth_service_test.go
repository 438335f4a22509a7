package services

import (
	"context"
	"testing"

	"github.com/pilab-dev/shadow-auth/domain"
	serrors "github.com/pilab-dev/shadow-auth/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passwordGrant(email, password string) GrantCommand {
	return GrantCommand{GrantType: GrantPassword, Email: email, Password: password}
}

func TestAuthService_AliceRegistersAndLogsIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	registered := f.register(t, "alice@example.com", "p1")
	assert.Equal(t, StatusTokenIssued, registered.Status)

	first, err := f.svc.IssueToken(ctx, passwordGrant("alice@example.com", "p1"))
	require.NoError(t, err)
	second, err := f.svc.IssueToken(ctx, passwordGrant(" Alice@Example.com ", "p1"))
	require.NoError(t, err)

	assert.Equal(t, registered.UserID, first.UserID)
	assert.Equal(t, first.UserID, second.UserID)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, "Bearer", first.TokenType)
	assert.Equal(t, []string{domain.DefaultGroup}, first.Groups)
	assert.Equal(t, 1, f.accounts.Count())

	_, err = f.svc.IssueToken(ctx, passwordGrant("alice@example.com", "p2"))
	assert.True(t, serrors.IsKind(err, serrors.InvalidCredentials))
}

func TestAuthService_InvalidCredentialsAreUniform(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@example.com", "p1")

	// OAuth-only account without a password.
	f.expectExchange("code-bob", githubIdentity("7", "bob", "bob@example.com"))
	_, err := f.svc.IssueToken(ctx, f.oauthGrant(f.authorize(t, domain.OAuthSceneLogin, ""), "code-bob"))
	require.NoError(t, err)

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "alice@example.com", "nope"},
		{"unknown email", "nobody@example.com", "p1"},
		{"oauth-only account", "bob@example.com", "anything"},
	}

	var messages []string
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := f.hasher.verifies.Load()
			_, err := f.svc.IssueToken(ctx, passwordGrant(tc.email, tc.password))
			require.Error(t, err)
			assert.Equal(t, serrors.InvalidCredentials, serrors.KindOf(err))
			assert.Equal(t, before+1, f.hasher.verifies.Load(), "every failure compares one hash")
			messages = append(messages, serrors.Public(err).Message)
		})
	}
	require.Len(t, messages, 3)
	assert.Equal(t, messages[0], messages[1])
	assert.Equal(t, messages[1], messages[2])
}

func TestAuthService_PasswordGrantRejectsBlankPassword(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.IssueToken(context.Background(), passwordGrant("alice@example.com", "  "))
	assert.True(t, serrors.IsKind(err, serrors.BadRequest))
}

func TestAuthService_AliceOAuthConflictScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice@example.com", "p1")

	f.expectExchange("code-1", githubIdentity("42", "alice-gh", "Alice@Example.com"))
	auth := f.authorize(t, domain.OAuthSceneLogin, "")

	result, err := f.svc.IssueToken(ctx, f.oauthGrant(auth, "code-1"))
	require.NoError(t, err)
	require.Equal(t, StatusBindRequired, result.Status)
	assert.NotEmpty(t, result.BindTicket)
	assert.Empty(t, result.AccessToken)
	assert.Equal(t, 0, f.bindings.Count())

	login, err := f.logins.GetByID(ctx, auth.OAuthLoginID)
	require.NoError(t, err)
	assert.Equal(t, domain.OAuthLoginFailed, login.Status)
	assert.Equal(t, "BIND_REQUIRED", login.ErrorMessage)

	confirmed, err := f.svc.ConfirmConflictBinding(ctx, result.BindTicket, "alice@example.com", "p1")
	require.NoError(t, err)
	assert.Equal(t, StatusTokenIssued, confirmed.Status)
	assert.Equal(t, alice.UserID, confirmed.UserID)

	binding, err := f.bindings.GetByProviderUserID(ctx, "github", "42")
	require.NoError(t, err)
	assert.Equal(t, alice.UserID, binding.UserID)

	login, err = f.logins.GetByID(ctx, auth.OAuthLoginID)
	require.NoError(t, err)
	assert.Equal(t, domain.OAuthLoginSuccess, login.Status)
	assert.Equal(t, alice.UserID, login.UserID)

	// Second login resolves through the binding.
	f.expectExchange("code-2", githubIdentity("42", "alice-gh", "alice@example.com"))
	again, err := f.svc.IssueToken(ctx, f.oauthGrant(f.authorize(t, domain.OAuthSceneLogin, ""), "code-2"))
	require.NoError(t, err)
	assert.Equal(t, StatusTokenIssued, again.Status)
	assert.Equal(t, alice.UserID, again.UserID)
	assert.Empty(t, again.BindTicket)
	assert.Equal(t, 1, f.accounts.Count())
}

func TestAuthService_RefreshRotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "alice@example.com", "p1")

	b, err := f.svc.IssueToken(ctx, GrantCommand{GrantType: GrantRefreshToken, RefreshToken: a.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, a.RefreshToken, b.RefreshToken)
	assert.Equal(t, a.UserID, b.UserID)

	_, err = f.svc.IssueToken(ctx, GrantCommand{GrantType: GrantRefreshToken, RefreshToken: a.RefreshToken})
	require.Error(t, err)
	kind := serrors.KindOf(err)
	assert.Contains(t, []serrors.Kind{serrors.RefreshTokenInvalid, serrors.RefreshTokenExpired}, kind)

	c, err := f.svc.IssueToken(ctx, GrantCommand{GrantType: GrantRefreshToken, RefreshToken: b.RefreshToken})
	require.NoError(t, err)
	assert.Equal(t, a.UserID, c.UserID)
}

func TestAuthService_RefreshWithoutRotationReusesToken(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.RotateRefreshToken = false })
	ctx := context.Background()
	a := f.register(t, "alice@example.com", "p1")

	for range 2 {
		r, err := f.svc.IssueToken(ctx, GrantCommand{GrantType: GrantRefreshToken, RefreshToken: a.RefreshToken})
		require.NoError(t, err)
		assert.Equal(t, a.RefreshToken, r.RefreshToken)
		assert.Equal(t, int64(DefaultRefreshTTL.Seconds()), r.RefreshExpiresIn)
		assert.NotEmpty(t, r.AccessToken)
	}
}

func TestAuthService_UnsupportedGrant(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.IssueToken(context.Background(), GrantCommand{GrantType: "client_credentials"})
	assert.True(t, serrors.IsKind(err, serrors.UnsupportedGrant))
}

func TestAuthService_LogoutAllIsolatesUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice1 := f.register(t, "alice@example.com", "p1")
	alice2, err := f.svc.IssueToken(ctx, passwordGrant("alice@example.com", "p1"))
	require.NoError(t, err)
	bob := f.register(t, "bob@example.com", "p2")

	require.NoError(t, f.svc.Logout(ctx, LogoutCommand{AccessToken: alice1.AccessToken, LogoutAll: true}))

	for _, token := range []string{alice1.RefreshToken, alice2.RefreshToken} {
		_, err := f.svc.IssueToken(ctx, GrantCommand{GrantType: GrantRefreshToken, RefreshToken: token})
		assert.True(t, serrors.IsKind(err, serrors.RefreshTokenExpired))
	}
	_, err = f.svc.Introspect(ctx, alice1.AccessToken)
	assert.True(t, serrors.IsKind(err, serrors.Unauthorized))

	_, err = f.svc.IssueToken(ctx, GrantCommand{GrantType: GrantRefreshToken, RefreshToken: bob.RefreshToken})
	assert.NoError(t, err)
	_, err = f.svc.Introspect(ctx, bob.AccessToken)
	assert.NoError(t, err)
}

func TestAuthService_Logout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s1 := f.register(t, "alice@example.com", "p1")
	s2, err := f.svc.IssueToken(ctx, passwordGrant("alice@example.com", "p1"))
	require.NoError(t, err)

	t.Run("without session or refresh token", func(t *testing.T) {
		err := f.svc.Logout(ctx, LogoutCommand{})
		assert.True(t, serrors.IsKind(err, serrors.Unauthorized))
	})

	t.Run("logout all requires session", func(t *testing.T) {
		err := f.svc.Logout(ctx, LogoutCommand{RefreshToken: s1.RefreshToken, LogoutAll: true})
		assert.True(t, serrors.IsKind(err, serrors.Unauthorized))
	})

	t.Run("unknown refresh token is ignored", func(t *testing.T) {
		assert.NoError(t, f.svc.Logout(ctx, LogoutCommand{RefreshToken: "nosuchsession.secret"}))
	})

	t.Run("single session", func(t *testing.T) {
		require.NoError(t, f.svc.Logout(ctx, LogoutCommand{AccessToken: s1.AccessToken, RefreshToken: s1.RefreshToken}))

		_, err := f.svc.Introspect(ctx, s1.AccessToken)
		assert.True(t, serrors.IsKind(err, serrors.Unauthorized))
		_, err = f.svc.IssueToken(ctx, GrantCommand{GrantType: GrantRefreshToken, RefreshToken: s1.RefreshToken})
		assert.Error(t, err)

		_, err = f.svc.Introspect(ctx, s2.AccessToken)
		assert.NoError(t, err)
	})
}

func TestAuthService_Introspect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.groups.Grant("USER", "profile.read")
	f.groups.Grant("ADMIN", "user.manage")
	s := f.register(t, "alice@example.com", "p1")

	account, err := f.accounts.GetByID(ctx, s.UserID)
	require.NoError(t, err)
	account.Groups = []string{" admin ", "user"}
	account.Permissions = []string{"blog.post.create", "profile.read"}
	require.NoError(t, f.accounts.Update(ctx, account))

	p, err := f.svc.Introspect(ctx, s.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, s.UserID, p.UserID)
	assert.Equal(t, "alice@example.com", p.Email)
	assert.Equal(t, []string{"ADMIN", "USER"}, p.Groups)
	assert.Equal(t, []string{"blog.post.create", "profile.read", "user.manage"}, p.Permissions)

	_, err = f.svc.Introspect(ctx, "not-a-jwt")
	assert.True(t, serrors.IsKind(err, serrors.Unauthorized))
	_, err = f.svc.Introspect(ctx, "")
	assert.True(t, serrors.IsKind(err, serrors.Unauthorized))
}

func TestAuthService_RegisterByEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.register(t, "Carol@Example.com", "pw")

	account, err := f.accounts.GetByID(ctx, s.UserID)
	require.NoError(t, err)
	assert.Equal(t, "carol@example.com", account.Username)
	assert.Equal(t, "carol", account.Nickname)
	assert.True(t, account.EmailVerified)
	assert.Equal(t, []string{domain.DefaultGroup}, account.Groups)

	_, err = f.svc.RegisterByEmail(ctx, RegisterCommand{Email: "carol@example.com", Password: "pw", EmailCode: "000000"})
	assert.True(t, serrors.IsKind(err, serrors.EmailAlreadyRegistered))

	_, err = f.svc.RegisterByEmail(ctx, RegisterCommand{Email: "dave@example.com", Password: "pw", EmailCode: "123456"})
	assert.True(t, serrors.IsKind(err, serrors.VerificationCodeExpired))

	_, err = f.svc.SendEmailCode(ctx, "dave@example.com", PurposeRegister)
	require.NoError(t, err)
	_, err = f.svc.RegisterByEmail(ctx, RegisterCommand{
		Email:     "dave@example.com",
		EmailCode: f.mailer.last(PurposeRegister, "dave@example.com"),
	})
	assert.True(t, serrors.IsKind(err, serrors.BadRequest))
}

func TestAuthService_BindEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@example.com", "p1")

	f.expectExchange("code-bob", githubIdentity("7", "bob", ""))
	bob, err := f.svc.IssueToken(ctx, f.oauthGrant(f.authorize(t, domain.OAuthSceneLogin, ""), "code-bob"))
	require.NoError(t, err)

	err = f.svc.BindEmail(ctx, bob.UserID, BindEmailCommand{Email: "alice@example.com", Password: "x", EmailCode: "1"})
	assert.True(t, serrors.IsKind(err, serrors.EmailAlreadyBound))

	err = f.svc.BindEmail(ctx, "missing-user", BindEmailCommand{Email: "bob@example.com", Password: "x", EmailCode: "1"})
	assert.True(t, serrors.IsKind(err, serrors.Unauthorized))

	_, err = f.svc.SendEmailCode(ctx, "bob@example.com", PurposeBind)
	require.NoError(t, err)
	require.NoError(t, f.svc.BindEmail(ctx, bob.UserID, BindEmailCommand{
		Email:     "bob@example.com",
		Password:  "bob-pw",
		EmailCode: f.mailer.last(PurposeBind, "bob@example.com"),
	}))

	login, err := f.svc.IssueToken(ctx, passwordGrant("bob@example.com", "bob-pw"))
	require.NoError(t, err)
	assert.Equal(t, bob.UserID, login.UserID)
}
