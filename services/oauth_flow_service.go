package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/shadow-auth/domain"
	serrors "github.com/pilab-dev/shadow-auth/errors"
	"github.com/pilab-dev/shadow-auth/internal/audit"
	"github.com/pilab-dev/shadow-auth/internal/federation"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const bindRequiredReason = "BIND_REQUIRED"

// AuthorizationCommand starts an OAuth round trip.
type AuthorizationCommand struct {
	Provider    string
	RedirectURI string
	Scene       domain.OAuthScene
	// CallerID is the authenticated user; required for the BIND scene.
	CallerID string
}

// AuthorizationResult is returned to the caller who then redirects the user.
type AuthorizationResult struct {
	OAuthLoginID string `json:"oauth_login_id"`
	AuthorizeURL string `json:"authorize_url"`
	State        string `json:"state"`
}

// OAuthCodeCommand completes an OAuth round trip with an authorization code.
type OAuthCodeCommand struct {
	Provider     string
	OAuthLoginID string
	Code         string
	State        string
}

// OAuthFlowService owns the OAuth transaction lifecycle: authorization,
// login by code, explicit bind and conflict confirmation.
type OAuthFlowService struct {
	providers ProviderRegistry
	states    *OAuthStateService
	logins    domain.OAuthLoginRepository
	accounts  domain.AccountRepository
	bindings  domain.OAuthBindingRepository
	tickets   *BindTicketStore
	linker    *AccountLinker
	verifier  *CredentialVerifier
	issuer    *TokenIssuer
	now       func() time.Time
}

// OAuthFlowDeps groups the collaborators of OAuthFlowService.
type OAuthFlowDeps struct {
	Providers ProviderRegistry
	States    *OAuthStateService
	Logins    domain.OAuthLoginRepository
	Accounts  domain.AccountRepository
	Bindings  domain.OAuthBindingRepository
	Tickets   *BindTicketStore
	Linker    *AccountLinker
	Verifier  *CredentialVerifier
	Issuer    *TokenIssuer
}

func NewOAuthFlowService(deps OAuthFlowDeps) *OAuthFlowService {
	return &OAuthFlowService{
		providers: deps.Providers,
		states:    deps.States,
		logins:    deps.Logins,
		accounts:  deps.Accounts,
		bindings:  deps.Bindings,
		tickets:   deps.Tickets,
		linker:    deps.Linker,
		verifier:  deps.Verifier,
		issuer:    deps.Issuer,
		now:       time.Now,
	}
}

// CreateAuthorization persists a PENDING transaction and returns the
// provider authorize URL carrying a fresh state.
func (f *OAuthFlowService) CreateAuthorization(ctx context.Context, cmd AuthorizationCommand) (*AuthorizationResult, error) {
	exchanger, err := f.providers.Get(cmd.Provider)
	if err != nil {
		return nil, err
	}
	if cmd.Scene == domain.OAuthSceneBind && isBlank(cmd.CallerID) {
		return nil, serrors.WithMessage(serrors.Unauthorized, "Login required for oauth bind")
	}
	if isBlank(cmd.RedirectURI) {
		return nil, serrors.WithMessage(serrors.BadRequest, "redirect_uri is required")
	}
	scene := cmd.Scene
	if scene == "" {
		scene = domain.OAuthSceneLogin
	}

	loginID := uuid.NewString()
	state, err := f.states.Generate(ctx, loginID)
	if err != nil {
		return nil, serrors.Wrap(serrors.Internal, err)
	}
	authorizeURL, err := exchanger.AuthorizeURL(state, cmd.RedirectURI)
	if err != nil {
		return nil, err
	}

	now := f.now()
	login := &domain.OAuthLogin{
		ID:          loginID,
		Provider:    exchanger.Code(),
		RedirectURI: cmd.RedirectURI,
		State:       state,
		Scene:       scene,
		Status:      domain.OAuthLoginPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if scene == domain.OAuthSceneBind {
		login.InitiatorUserID = cmd.CallerID
	}
	if err := f.logins.Create(ctx, login); err != nil {
		return nil, serrors.Wrap(serrors.Internal, err)
	}

	return &AuthorizationResult{OAuthLoginID: loginID, AuthorizeURL: authorizeURL, State: state}, nil
}

// GrantByCode exchanges the code of a LOGIN transaction and links the
// resulting identity.
func (f *OAuthFlowService) GrantByCode(ctx context.Context, cmd OAuthCodeCommand) (*GrantResult, error) {
	login, identity, err := f.exchange(ctx, cmd, domain.OAuthSceneLogin)
	if err != nil {
		return nil, err
	}

	result, err := f.linker.LinkLogin(ctx, identity, login)
	if err != nil {
		f.markFailure(ctx, login, err.Error())
		audit.Log(audit.ActionOAuthLogin, "", identityTarget(identity), login.ID, false, err)
		return nil, err
	}

	if result.Status == StatusBindRequired {
		f.markFailure(ctx, login, bindRequiredReason)
		audit.Log(audit.ActionOAuthLogin, "", identityTarget(identity), bindRequiredReason, false, nil)
		return result, nil
	}

	f.markSuccess(ctx, login, identity.ProviderUserID, result.UserID)
	audit.Log(audit.ActionOAuthLogin, result.UserID, identityTarget(identity), login.ID, true, nil)
	return result, nil
}

// BindOAuth links a provider identity to the authenticated caller. The
// transaction must be a BIND transaction started by the same caller.
func (f *OAuthFlowService) BindOAuth(ctx context.Context, callerID string, cmd OAuthCodeCommand) error {
	if _, err := f.requireAccount(ctx, callerID); err != nil {
		return err
	}

	login, identity, err := f.exchangeForCaller(ctx, cmd, callerID)
	if err != nil {
		return err
	}

	err = f.bindToCaller(ctx, callerID, identity)
	if err != nil {
		f.markFailure(ctx, login, err.Error())
		audit.Log(audit.ActionOAuthBind, callerID, identityTarget(identity), login.ID, false, err)
		return err
	}

	f.markSuccess(ctx, login, identity.ProviderUserID, callerID)
	audit.Log(audit.ActionOAuthBind, callerID, identityTarget(identity), login.ID, true, nil)
	return nil
}

func (f *OAuthFlowService) bindToCaller(ctx context.Context, callerID string, identity *domain.ProviderIdentity) error {
	provider := federation.NormalizeCode(identity.Provider)
	existing, err := f.bindings.GetByProviderUserID(ctx, provider, identity.ProviderUserID)
	switch {
	case err == nil && existing.UserID == callerID:
		return nil
	case err == nil:
		return serrors.New(serrors.ProviderAlreadyBound)
	case !errors.Is(err, domain.ErrNotFound):
		return serrors.Wrap(serrors.Internal, err)
	}

	_, err = InsertBindingIdempotent(ctx, f.bindings, &domain.OAuthBinding{
		ID:             uuid.NewString(),
		Provider:       provider,
		ProviderUserID: identity.ProviderUserID,
		UserID:         callerID,
		ProviderLogin:  identity.Login,
		ProviderEmail:  normalizeEmail(identity.Email),
		CreatedAt:      f.now(),
	})
	return err
}

// exchangeForCaller is exchange for the BIND scene with the initiator check
// placed between transaction load and the provider call.
func (f *OAuthFlowService) exchangeForCaller(ctx context.Context, cmd OAuthCodeCommand, callerID string) (*domain.OAuthLogin, *domain.ProviderIdentity, error) {
	login, exchanger, err := f.openTransaction(ctx, cmd, domain.OAuthSceneBind)
	if err != nil {
		return nil, nil, err
	}
	if login.InitiatorUserID != callerID {
		err := serrors.New(serrors.BindInitiatorMismatch)
		f.markFailure(ctx, login, err.Error())
		return nil, nil, err
	}
	identity, err := f.exchangeCode(ctx, login, exchanger, cmd.Code)
	if err != nil {
		return nil, nil, err
	}
	return login, identity, nil
}

func (f *OAuthFlowService) exchange(ctx context.Context, cmd OAuthCodeCommand, scene domain.OAuthScene) (*domain.OAuthLogin, *domain.ProviderIdentity, error) {
	login, exchanger, err := f.openTransaction(ctx, cmd, scene)
	if err != nil {
		return nil, nil, err
	}
	identity, err := f.exchangeCode(ctx, login, exchanger, cmd.Code)
	if err != nil {
		return nil, nil, err
	}
	return login, identity, nil
}

// openTransaction validates the payload, consumes the state and loads the
// transaction for scene.
func (f *OAuthFlowService) openTransaction(ctx context.Context, cmd OAuthCodeCommand, scene domain.OAuthScene) (*domain.OAuthLogin, federation.IdentityExchanger, error) {
	if isBlank(cmd.OAuthLoginID) || isBlank(cmd.Code) || isBlank(cmd.State) {
		return nil, nil, serrors.WithMessage(serrors.BadRequest, "oauth_login_id, code and state are required")
	}
	if err := f.states.Consume(ctx, cmd.OAuthLoginID, cmd.State); err != nil {
		return nil, nil, err
	}

	login, err := f.logins.GetByID(ctx, cmd.OAuthLoginID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, serrors.New(serrors.InvalidOAuthState)
	}
	if err != nil {
		return nil, nil, serrors.Wrap(serrors.Internal, err)
	}
	if login.Scene != scene {
		err := serrors.New(serrors.OAuthSceneMismatch)
		f.markFailure(ctx, login, err.Error())
		return nil, nil, err
	}

	provider, err := chooseProvider(cmd.Provider, login.Provider)
	if err != nil {
		f.markFailure(ctx, login, err.Error())
		return nil, nil, err
	}
	exchanger, err := f.providers.Get(provider)
	if err != nil {
		f.markFailure(ctx, login, err.Error())
		return nil, nil, err
	}
	return login, exchanger, nil
}

func (f *OAuthFlowService) exchangeCode(ctx context.Context, login *domain.OAuthLogin, exchanger federation.IdentityExchanger, code string) (*domain.ProviderIdentity, error) {
	ctx, span := tracer.Start(ctx, "OAuthFlowService.exchangeCode", trace.WithAttributes(
		attribute.String("oauth.provider", exchanger.Code()),
		attribute.String("oauth.scene", string(login.Scene)),
	))
	defer span.End()

	identity, err := exchanger.ExchangeCode(ctx, code, login.RedirectURI)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(serrors.KindOf(err)))
		f.markFailure(ctx, login, err.Error())
		return nil, err
	}
	return identity, nil
}

func (f *OAuthFlowService) requireAccount(ctx context.Context, userID string) (*domain.UserAccount, error) {
	if isBlank(userID) {
		return nil, serrors.New(serrors.Unauthorized)
	}
	account, err := f.accounts.GetByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, serrors.New(serrors.Unauthorized)
	}
	if err != nil {
		return nil, serrors.Wrap(serrors.Internal, err)
	}
	return account, nil
}

func (f *OAuthFlowService) markSuccess(ctx context.Context, login *domain.OAuthLogin, providerUserID, userID string) {
	f.updateOutcome(ctx, login, domain.OAuthLoginOutcome{
		Status:         domain.OAuthLoginSuccess,
		ProviderUserID: providerUserID,
		UserID:         userID,
	})
}

// markFailure records reason on the transaction only; it is never returned
// to the caller.
func (f *OAuthFlowService) markFailure(ctx context.Context, login *domain.OAuthLogin, reason string) {
	f.updateOutcome(ctx, login, domain.OAuthLoginOutcome{
		Status:       domain.OAuthLoginFailed,
		ErrorMessage: reason,
	})
}

func (f *OAuthFlowService) updateOutcome(ctx context.Context, login *domain.OAuthLogin, outcome domain.OAuthLoginOutcome) {
	if err := f.logins.UpdateOutcome(ctx, login.ID, outcome); err != nil {
		log.Warn().Err(err).Str("oauthLoginID", login.ID).Str("status", string(outcome.Status)).
			Msg("failed to record oauth transaction outcome")
	}
}

// chooseProvider reconciles the provider named by the caller with the one
// persisted on the transaction.
func chooseProvider(input, persisted string) (string, error) {
	in := federation.NormalizeCode(input)
	stored := federation.NormalizeCode(persisted)
	switch {
	case in == "" && stored == "":
		return "", serrors.WithMessage(serrors.BadRequest, "OAuth provider is required")
	case in == "":
		return stored, nil
	case stored == "" || in == stored:
		return in, nil
	default:
		return "", serrors.WithMessage(serrors.BadRequest, "OAuth provider mismatch")
	}
}

func identityTarget(identity *domain.ProviderIdentity) string {
	return federation.NormalizeCode(identity.Provider) + ":" + identity.ProviderUserID
}
