package services

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pilab-dev/shadow-auth/cache"
	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/pilab-dev/shadow-auth/internal/federation"
	"github.com/pilab-dev/shadow-auth/internal/memstore"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testRedirectURI = "https://app.example.com/oauth/callback"

// --- Mock Implementations ---

type MockExchanger struct {
	mock.Mock
	code string
}

func (m *MockExchanger) Code() string { return m.code }

func (m *MockExchanger) AuthorizeURL(state, redirectURI string) (string, error) {
	args := m.Called(state, redirectURI)
	return args.String(0), args.Error(1)
}

func (m *MockExchanger) ExchangeCode(ctx context.Context, code, redirectURI string) (*domain.ProviderIdentity, error) {
	args := m.Called(ctx, code, redirectURI)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	identity := *args.Get(0).(*domain.ProviderIdentity)
	return &identity, args.Error(1)
}

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendVerificationCode(ctx context.Context, email string, purpose EmailPurpose, code string) error {
	args := m.Called(ctx, email, purpose, code)
	return args.Error(0)
}

// plainHasher keeps tests fast; bcrypt is covered in internal/auth.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }

func (plainHasher) Verify(hashedPassword, password string) error {
	if hashedPassword != "plain:"+password {
		return ErrPasswordMismatch
	}
	return nil
}

// countingHasher is a plainHasher that counts Verify calls.
type countingHasher struct {
	plainHasher
	verifies atomic.Int32
}

func (h *countingHasher) Verify(hashedPassword, password string) error {
	h.verifies.Add(1)
	return h.plainHasher.Verify(hashedPassword, password)
}

// captureMailer remembers the last code sent to each address.
type captureMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *captureMailer) SendVerificationCode(_ context.Context, email string, purpose EmailPurpose, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes == nil {
		m.codes = map[string]string{}
	}
	m.codes[string(purpose)+":"+email] = code
	return nil
}

func (m *captureMailer) last(purpose EmailPurpose, email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[string(purpose)+":"+email]
}

// --- Fixture ---

type fixture struct {
	svc      *AuthService
	accounts *memstore.AccountRepository
	bindings *memstore.OAuthBindingRepository
	logins   *memstore.OAuthLoginRepository
	groups   *memstore.GroupPermissionRepository
	store    *cache.MemoryStore
	signer   *TokenSigner
	github   *MockExchanger
	mailer   *captureMailer
	hasher   *countingHasher
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()

	f := &fixture{
		accounts: memstore.NewAccountRepository(),
		bindings: memstore.NewOAuthBindingRepository(),
		logins:   memstore.NewOAuthLoginRepository(),
		groups:   memstore.NewGroupPermissionRepository(),
		store:    cache.NewMemoryStore(),
		signer:   NewTokenSigner("shadow-auth-test"),
		github:   &MockExchanger{code: federation.GitHubCode},
		mailer:   &captureMailer{},
		hasher:   &countingHasher{},
	}
	t.Cleanup(func() { _ = f.store.Close() })
	f.signer.AddKeySigner("test", "test-secret-test-secret-test-secret")

	f.github.On("AuthorizeURL", mock.Anything, testRedirectURI).
		Return("https://github.com/login/oauth/authorize?state=x", nil).Maybe()

	registry, err := federation.NewRegistry(f.github)
	require.NoError(t, err)

	opts := DefaultOptions()
	for _, fn := range mutate {
		fn(&opts)
	}

	f.svc, err = NewAuthService(Dependencies{
		Accounts:         f.accounts,
		Bindings:         f.bindings,
		Logins:           f.logins,
		GroupPermissions: f.groups,
		Store:            f.store,
		Providers:        registry,
		Hasher:           f.hasher,
		Mailer:           f.mailer,
		Signer:           f.signer,
	}, opts)
	require.NoError(t, err)
	return f
}

// register creates a password account through the email code flow.
func (f *fixture) register(t *testing.T, email, password string) *GrantResult {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.SendEmailCode(ctx, email, PurposeRegister)
	require.NoError(t, err)

	result, err := f.svc.RegisterByEmail(ctx, RegisterCommand{
		Email:     email,
		Password:  password,
		EmailCode: f.mailer.last(PurposeRegister, strings.ToLower(strings.TrimSpace(email))),
	})
	require.NoError(t, err)
	return result
}

func (f *fixture) authorize(t *testing.T, scene domain.OAuthScene, callerID string) *AuthorizationResult {
	t.Helper()
	result, err := f.svc.CreateAuthorization(context.Background(), AuthorizationCommand{
		Provider:    "GitHub",
		RedirectURI: testRedirectURI,
		Scene:       scene,
		CallerID:    callerID,
	})
	require.NoError(t, err)
	return result
}

// expectExchange makes code resolve to identity.
func (f *fixture) expectExchange(code string, identity *domain.ProviderIdentity) {
	f.github.On("ExchangeCode", mock.Anything, code, testRedirectURI).Return(identity, nil)
}

func (f *fixture) oauthGrant(auth *AuthorizationResult, code string) GrantCommand {
	return GrantCommand{
		GrantType:    GrantOAuthCode,
		Provider:     "github",
		OAuthLoginID: auth.OAuthLoginID,
		Code:         code,
		State:        auth.State,
	}
}

func githubIdentity(providerUserID, login, email string) *domain.ProviderIdentity {
	return &domain.ProviderIdentity{
		Provider:       federation.GitHubCode,
		ProviderUserID: providerUserID,
		Login:          login,
		Nickname:       login,
		Email:          email,
		EmailVerified:  true,
	}
}
