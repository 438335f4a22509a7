package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pilab-dev/shadow-auth/cache"
	"github.com/pilab-dev/shadow-auth/domain"
	serrors "github.com/pilab-dev/shadow-auth/errors"
	"github.com/pilab-dev/shadow-auth/internal/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) Create(ctx context.Context, account *domain.UserAccount) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*domain.UserAccount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UserAccount), args.Error(1)
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*domain.UserAccount, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UserAccount), args.Error(1)
}

func (m *MockAccountRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	args := m.Called(ctx, username)
	return args.Bool(0), args.Error(1)
}

func (m *MockAccountRepository) Update(ctx context.Context, account *domain.UserAccount) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

type MockBindingRepository struct {
	mock.Mock
}

func (m *MockBindingRepository) Create(ctx context.Context, binding *domain.OAuthBinding) error {
	args := m.Called(ctx, binding)
	return args.Error(0)
}

func (m *MockBindingRepository) GetByProviderUserID(ctx context.Context, provider, providerUserID string) (*domain.OAuthBinding, error) {
	args := m.Called(ctx, provider, providerUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OAuthBinding), args.Error(1)
}

func (m *MockBindingRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func newTestIssuer(t *testing.T, accounts domain.AccountRepository, store cache.Store) *TokenIssuer {
	t.Helper()
	signer := NewTokenSigner("linker-test")
	signer.AddKeySigner("", "linker-secret")
	return NewTokenIssuer(accounts, signer,
		NewRefreshTokenService(store, time.Hour),
		NewAccessSessionStore(store, time.Hour),
		time.Hour)
}

func newTestLinker(t *testing.T, accounts domain.AccountRepository, bindings domain.OAuthBindingRepository) (*AccountLinker, *cache.MemoryStore) {
	t.Helper()
	store := cache.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	issuer := newTestIssuer(t, accounts, store)
	return NewAccountLinker(accounts, bindings, NewBindTicketStore(store, time.Minute), issuer), store
}

var loginTx = &domain.OAuthLogin{ID: "login-1", Scene: domain.OAuthSceneLogin, Provider: "github"}

func TestInsertBindingIdempotent(t *testing.T) {
	ctx := context.Background()
	binding := &domain.OAuthBinding{ID: "b1", Provider: "github", ProviderUserID: "42", UserID: "u1"}

	cases := []struct {
		name     string
		setup    func(*MockBindingRepository)
		outcome  BindingOutcome
		wantKind serrors.Kind
	}{
		{
			name: "inserted",
			setup: func(m *MockBindingRepository) {
				m.On("Create", ctx, binding).Return(nil)
			},
			outcome: BindingCreated,
		},
		{
			name: "same owner",
			setup: func(m *MockBindingRepository) {
				m.On("Create", ctx, binding).Return(domain.ErrDuplicateKey)
				m.On("GetByProviderUserID", ctx, "github", "42").Return(&domain.OAuthBinding{UserID: "u1"}, nil)
			},
			outcome: BindingAlreadyOwned,
		},
		{
			name: "other owner",
			setup: func(m *MockBindingRepository) {
				m.On("Create", ctx, binding).Return(domain.ErrDuplicateKey)
				m.On("GetByProviderUserID", ctx, "github", "42").Return(&domain.OAuthBinding{UserID: "u2"}, nil)
			},
			wantKind: serrors.ProviderAlreadyBound,
		},
		{
			name: "user already holds another identity of the provider",
			setup: func(m *MockBindingRepository) {
				m.On("Create", ctx, binding).Return(domain.ErrDuplicateKey)
				m.On("GetByProviderUserID", ctx, "github", "42").Return(nil, domain.ErrNotFound)
			},
			wantKind: serrors.ProviderAlreadyBound,
		},
		{
			name: "store failure",
			setup: func(m *MockBindingRepository) {
				m.On("Create", ctx, binding).Return(errors.New("connection reset"))
			},
			wantKind: serrors.Internal,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := new(MockBindingRepository)
			tc.setup(repo)

			outcome, err := InsertBindingIdempotent(ctx, repo, binding)
			if tc.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tc.wantKind, serrors.KindOf(err))
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.outcome, outcome)
			}
			repo.AssertExpectations(t)
		})
	}
}

func TestAccountLinker_ConcurrentFirstLoginCreatesOneAccount(t *testing.T) {
	accounts := memstore.NewAccountRepository()
	bindings := memstore.NewOAuthBindingRepository()
	linker, _ := newTestLinker(t, accounts, bindings)
	identity := githubIdentity("4242", "twin", "")

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		userIDs = map[string]bool{}
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := linker.LinkLogin(context.Background(), identity, loginTx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.Contains(t, []serrors.Kind{serrors.ProviderAlreadyBound, serrors.AccountCreationConflict}, serrors.KindOf(err))
				return
			}
			userIDs[result.UserID] = true
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accounts.Count())
	assert.Equal(t, 1, bindings.Count())
	assert.Len(t, userIDs, 1)

	// Once settled every login resolves to the single account.
	result, err := linker.LinkLogin(context.Background(), identity, loginTx)
	require.NoError(t, err)
	binding, err := bindings.GetByProviderUserID(context.Background(), "github", "4242")
	require.NoError(t, err)
	assert.Equal(t, binding.UserID, result.UserID)
}

func TestAccountLinker_UsernameDerivation(t *testing.T) {
	ctx := context.Background()
	accounts := memstore.NewAccountRepository()
	bindings := memstore.NewOAuthBindingRepository()
	linker, _ := newTestLinker(t, accounts, bindings)

	first, err := linker.LinkLogin(ctx, githubIdentity("1001", "Octo", ""), loginTx)
	require.NoError(t, err)
	second, err := linker.LinkLogin(ctx, githubIdentity("123456789012", "octo", ""), loginTx)
	require.NoError(t, err)

	a, err := accounts.GetByID(ctx, first.UserID)
	require.NoError(t, err)
	b, err := accounts.GetByID(ctx, second.UserID)
	require.NoError(t, err)
	assert.Equal(t, "gh_octo", a.Username)
	assert.Equal(t, "gh_octo_56789012", b.Username)

	anon := &domain.ProviderIdentity{Provider: "linuxdo", ProviderUserID: "9"}
	third, err := linker.LinkLogin(ctx, anon, loginTx)
	require.NoError(t, err)
	c, err := accounts.GetByID(ctx, third.UserID)
	require.NoError(t, err)
	assert.Equal(t, "ld_linuxdo_9", c.Username)
	assert.Equal(t, "user-9", c.Nickname)
	assert.Empty(t, c.Email)
	assert.Equal(t, []string{domain.DefaultGroup}, c.Groups)
}

func TestAccountLinker_EmailCollisionIssuesTicket(t *testing.T) {
	ctx := context.Background()
	accounts := memstore.NewAccountRepository()
	bindings := memstore.NewOAuthBindingRepository()
	require.NoError(t, accounts.Create(ctx, &domain.UserAccount{ID: "alice", Username: "alice", Email: "alice@example.com"}))
	linker, store := newTestLinker(t, accounts, bindings)

	result, err := linker.LinkLogin(ctx, githubIdentity("42", "alice-gh", " ALICE@example.com "), loginTx)
	require.NoError(t, err)
	require.Equal(t, StatusBindRequired, result.Status)
	assert.Empty(t, result.AccessToken)
	assert.Equal(t, 1, accounts.Count())
	assert.Equal(t, 0, bindings.Count())

	ticket, err := NewBindTicketStore(store, time.Minute).Consume(ctx, result.BindTicket)
	require.NoError(t, err)
	assert.Equal(t, "alice", ticket.TargetUserID)
	assert.Equal(t, "42", ticket.ProviderUserID)
	assert.Equal(t, "login-1", ticket.OAuthLoginID)
	assert.Equal(t, "alice@example.com", ticket.ProviderEmail)
}

func TestAccountLinker_SecondUsernameConflictRollsBackBinding(t *testing.T) {
	ctx := context.Background()
	accounts := new(MockAccountRepository)
	bindings := new(MockBindingRepository)
	linker, _ := newTestLinker(t, accounts, bindings)

	bindings.On("GetByProviderUserID", ctx, "github", "42").Return(nil, domain.ErrNotFound)
	bindings.On("Create", ctx, mock.AnythingOfType("*domain.OAuthBinding")).Return(nil)
	bindings.On("Delete", mock.Anything, mock.AnythingOfType("string")).Return(nil).Once()
	accounts.On("ExistsByUsername", ctx, "gh_dup").Return(false, nil)
	accounts.On("GetByID", ctx, mock.AnythingOfType("string")).Return(nil, domain.ErrNotFound).Twice()
	accounts.On("Create", ctx, mock.AnythingOfType("*domain.UserAccount")).Return(domain.ErrDuplicateKey).Twice()

	_, err := linker.LinkLogin(ctx, githubIdentity("42", "dup", ""), loginTx)
	assert.True(t, serrors.IsKind(err, serrors.AccountCreationConflict))

	accounts.AssertExpectations(t)
	bindings.AssertExpectations(t)
	retried := accounts.Calls[len(accounts.Calls)-1].Arguments.Get(1).(*domain.UserAccount)
	assert.Regexp(t, `^gh_dup_[0-9a-f]{6}$`, retried.Username)
}

func TestAccountLinker_SuffixRetrySucceeds(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	backing := memstore.NewAccountRepository()
	accounts := new(MockAccountRepository)
	accounts.On("ExistsByUsername", ctx, "gh_lucky").Return(false, nil)
	accounts.On("GetByID", ctx, mock.AnythingOfType("string")).Return(nil, domain.ErrNotFound).Once()
	accounts.On("Create", ctx, mock.AnythingOfType("*domain.UserAccount")).Return(domain.ErrDuplicateKey).Once()
	accounts.On("Create", ctx, mock.AnythingOfType("*domain.UserAccount")).
		Run(func(args mock.Arguments) { _ = backing.Create(ctx, args.Get(1).(*domain.UserAccount)) }).
		Return(nil).Once()

	bindings := memstore.NewOAuthBindingRepository()
	linker := NewAccountLinker(accounts, bindings, NewBindTicketStore(store, time.Minute), newTestIssuer(t, backing, store))

	result, err := linker.LinkLogin(ctx, githubIdentity("8", "lucky", ""), loginTx)
	require.NoError(t, err)
	assert.Equal(t, StatusTokenIssued, result.Status)
	assert.Equal(t, 1, bindings.Count())
	assert.Equal(t, 1, backing.Count())
}

// cancellingAccounts cancels the request context from inside Create, the way a
// client disconnect lands between the binding claim and the account insert.
type cancellingAccounts struct {
	*memstore.AccountRepository
	cancel context.CancelFunc
}

func (a *cancellingAccounts) Create(ctx context.Context, _ *domain.UserAccount) error {
	a.cancel()
	return ctx.Err()
}

// ctxBindings fails like a network store once the context is done.
type ctxBindings struct {
	*memstore.OAuthBindingRepository
}

func (b *ctxBindings) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.OAuthBindingRepository.Delete(ctx, id)
}

func TestAccountLinker_CancelledFirstLoginReleasesBinding(t *testing.T) {
	backing := memstore.NewAccountRepository()
	bindings := &ctxBindings{memstore.NewOAuthBindingRepository()}
	identity := githubIdentity("77", "quitter", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	failing, _ := newTestLinker(t, &cancellingAccounts{AccountRepository: backing, cancel: cancel}, bindings)

	_, err := failing.LinkLogin(ctx, identity, loginTx)
	require.Error(t, err)
	assert.Equal(t, 0, backing.Count())
	assert.Equal(t, 0, bindings.Count())

	linker, _ := newTestLinker(t, backing, bindings)
	for range 3 {
		result, err := linker.LinkLogin(context.Background(), identity, loginTx)
		require.NoError(t, err)
		assert.Equal(t, StatusTokenIssued, result.Status)
	}
	assert.Equal(t, 1, backing.Count())
	assert.Equal(t, 1, bindings.Count())
}

func TestAccountLinker_RestoresAccountForOrphanedBinding(t *testing.T) {
	ctx := context.Background()
	accounts := memstore.NewAccountRepository()
	bindings := memstore.NewOAuthBindingRepository()
	require.NoError(t, bindings.Create(ctx, &domain.OAuthBinding{
		ID: "b-orphan", Provider: "github", ProviderUserID: "55", UserID: "lost-user",
	}))
	linker, _ := newTestLinker(t, accounts, bindings)

	result, err := linker.LinkLogin(ctx, githubIdentity("55", "phoenix", "phoenix@example.com"), loginTx)
	require.NoError(t, err)
	assert.Equal(t, StatusTokenIssued, result.Status)
	assert.Equal(t, "lost-user", result.UserID)

	account, err := accounts.GetByID(ctx, "lost-user")
	require.NoError(t, err)
	assert.Equal(t, "gh_phoenix", account.Username)
	assert.Equal(t, "phoenix@example.com", account.Email)

	again, err := linker.LinkLogin(ctx, githubIdentity("55", "phoenix", "phoenix@example.com"), loginTx)
	require.NoError(t, err)
	assert.Equal(t, "lost-user", again.UserID)
	assert.Equal(t, 1, accounts.Count())
	assert.Equal(t, 1, bindings.Count())
}

func TestAccountLinker_OrphanedBindingWithTakenEmailAsksToBind(t *testing.T) {
	ctx := context.Background()
	accounts := memstore.NewAccountRepository()
	bindings := memstore.NewOAuthBindingRepository()
	require.NoError(t, accounts.Create(ctx, &domain.UserAccount{ID: "alice", Username: "alice", Email: "alice@example.com"}))
	require.NoError(t, bindings.Create(ctx, &domain.OAuthBinding{
		ID: "b-orphan", Provider: "github", ProviderUserID: "56", UserID: "lost-user",
	}))
	linker, _ := newTestLinker(t, accounts, bindings)

	result, err := linker.LinkLogin(ctx, githubIdentity("56", "alice-gh", "alice@example.com"), loginTx)
	require.NoError(t, err)
	assert.Equal(t, StatusBindRequired, result.Status)
	assert.Equal(t, 0, bindings.Count())
	assert.Equal(t, 1, accounts.Count())
}
