package authgin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pilab-dev/shadow-auth/domain"
	serrors "github.com/pilab-dev/shadow-auth/errors"
	"github.com/pilab-dev/shadow-auth/internal/auth/rbac"
	"github.com/pilab-dev/shadow-auth/middleware"
	"github.com/pilab-dev/shadow-auth/services"
)

// AuthService is the part of services.AuthService the HTTP layer calls.
type AuthService interface {
	IssueToken(ctx context.Context, cmd services.GrantCommand) (*services.GrantResult, error)
	CreateAuthorization(ctx context.Context, cmd services.AuthorizationCommand) (*services.AuthorizationResult, error)
	ConfirmConflictBinding(ctx context.Context, bindTicket, email, password string) (*services.GrantResult, error)
	BindOAuth(ctx context.Context, callerID string, cmd services.OAuthCodeCommand) error
	SendEmailCode(ctx context.Context, email string, purpose services.EmailPurpose) (*services.SendCodeResult, error)
	Logout(ctx context.Context, cmd services.LogoutCommand) error
	Introspect(ctx context.Context, accessToken string) (*domain.Principal, error)
	RegisterByEmail(ctx context.Context, cmd services.RegisterCommand) (*services.GrantResult, error)
	BindEmail(ctx context.Context, callerID string, cmd services.BindEmailCommand) error
}

var _ AuthService = (*services.AuthService)(nil)

// AuthAPI serves the /auth routes.
type AuthAPI struct {
	service AuthService
	authn   *middleware.Authenticator
}

// NewAuthAPI creates the API. authn should wrap the same service.
func NewAuthAPI(service AuthService, authn *middleware.Authenticator) *AuthAPI {
	if authn == nil {
		authn = middleware.NewAuthenticator(service, nil)
	}
	return &AuthAPI{service: service, authn: authn}
}

// RegisterRoutes registers the auth routes on r.
func (a *AuthAPI) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/auth")

	g.POST("/token", a.TokenHandler)
	g.POST("/register", a.RegisterHandler)
	g.POST("/email-code", a.SendEmailCodeHandler)
	g.GET("/oauth/:provider/authorize", a.authn.Optional(), a.AuthorizeHandler)
	g.POST("/oauth/confirm", a.ConfirmBindingHandler)
	g.POST("/logout", a.authn.Optional(), a.LogoutHandler)

	g.POST("/oauth/bind", a.authn.Required(),
		middleware.RequirePermission(rbac.PermOAuthBindSelf), a.OAuthBindHandler)
	g.POST("/email/bind", a.authn.Required(),
		middleware.RequirePermission(rbac.PermEmailBindSelf), a.EmailBindHandler)
	g.GET("/introspect", a.authn.Required(), a.IntrospectHandler)
}

// bindBody decodes the JSON body or aborts with BadRequest.
func bindBody(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		middleware.AbortWithError(c, serrors.WithMessage(serrors.BadRequest, "Invalid request body"))
		return false
	}
	return true
}

// TokenHandler issues tokens for every supported grant type. A BIND_REQUIRED
// outcome is a successful response carrying the bind ticket.
func (a *AuthAPI) TokenHandler(c *gin.Context) {
	var req TokenRequest
	if !bindBody(c, &req) {
		return
	}

	result, err := a.service.IssueToken(c.Request.Context(), services.GrantCommand{
		GrantType:    services.GrantType(req.GrantType),
		Email:        req.Email,
		Password:     req.Password,
		Provider:     req.Provider,
		OAuthLoginID: req.OAuthLoginID,
		Code:         req.Code,
		State:        req.State,
		RefreshToken: req.RefreshToken,
	})
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (a *AuthAPI) RegisterHandler(c *gin.Context) {
	var req RegisterRequest
	if !bindBody(c, &req) {
		return
	}

	result, err := a.service.RegisterByEmail(c.Request.Context(), services.RegisterCommand{
		Email:     req.Email,
		Password:  req.Password,
		Nickname:  req.Nickname,
		EmailCode: req.EmailCode,
	})
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (a *AuthAPI) SendEmailCodeHandler(c *gin.Context) {
	var req SendEmailCodeRequest
	if !bindBody(c, &req) {
		return
	}

	purpose, err := services.ParseEmailPurpose(req.Purpose)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	result, err := a.service.SendEmailCode(c.Request.Context(), req.Email, purpose)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// AuthorizeHandler starts an OAuth round trip. The BIND scene needs a
// signed-in caller; LOGIN works anonymously.
func (a *AuthAPI) AuthorizeHandler(c *gin.Context) {
	cmd := services.AuthorizationCommand{
		Provider:    c.Param("provider"),
		RedirectURI: c.Query("redirect_uri"),
		Scene:       domain.ParseOAuthScene(c.Query("scene")),
	}
	if p, ok := middleware.PrincipalFrom(c); ok {
		cmd.CallerID = p.UserID
	}

	result, err := a.service.CreateAuthorization(c.Request.Context(), cmd)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (a *AuthAPI) OAuthBindHandler(c *gin.Context) {
	var req OAuthBindRequest
	if !bindBody(c, &req) {
		return
	}
	p, _ := middleware.PrincipalFrom(c)

	err := a.service.BindOAuth(c.Request.Context(), p.UserID, services.OAuthCodeCommand{
		Provider:     req.Provider,
		OAuthLoginID: req.OAuthLoginID,
		Code:         req.Code,
		State:        req.State,
	})
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, StatusResponse{Status: "BOUND"})
}

func (a *AuthAPI) ConfirmBindingHandler(c *gin.Context) {
	var req ConfirmBindingRequest
	if !bindBody(c, &req) {
		return
	}

	result, err := a.service.ConfirmConflictBinding(c.Request.Context(), req.BindTicket, req.Email, req.Password)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (a *AuthAPI) EmailBindHandler(c *gin.Context) {
	var req EmailBindRequest
	if !bindBody(c, &req) {
		return
	}
	p, _ := middleware.PrincipalFrom(c)

	err := a.service.BindEmail(c.Request.Context(), p.UserID, services.BindEmailCommand{
		Email:     req.Email,
		Password:  req.Password,
		EmailCode: req.EmailCode,
	})
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, StatusResponse{Status: "BOUND"})
}

// LogoutHandler accepts an empty body when only the bearer token is revoked.
func (a *AuthAPI) LogoutHandler(c *gin.Context) {
	var req LogoutRequest
	if c.Request.ContentLength != 0 && !bindBody(c, &req) {
		return
	}
	accessToken := middleware.AccessTokenFrom(c)

	err := a.service.Logout(c.Request.Context(), services.LogoutCommand{
		AccessToken:  accessToken,
		RefreshToken: req.RefreshToken,
		LogoutAll:    req.LogoutAll,
	})
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	a.authn.Forget(accessToken)

	c.JSON(http.StatusOK, StatusResponse{Status: "LOGGED_OUT"})
}

func (a *AuthAPI) IntrospectHandler(c *gin.Context) {
	p, _ := middleware.PrincipalFrom(c)
	c.JSON(http.StatusOK, p)
}
