package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pilab-dev/shadow-auth/cache"
	"github.com/pilab-dev/shadow-auth/domain"
	serrors "github.com/pilab-dev/shadow-auth/errors"
	"github.com/pilab-dev/shadow-auth/internal/metrics"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const (
	// PrincipalKey holds the *domain.Principal of an authenticated request.
	PrincipalKey = "auth-principal"
	// AccessTokenKey holds the raw bearer token of an authenticated request.
	AccessTokenKey = "auth-access-token"
)

// Introspector resolves an access token to the caller it belongs to.
type Introspector interface {
	Introspect(ctx context.Context, accessToken string) (*domain.Principal, error)
}

// Authenticator validates bearer tokens. Successful introspections are kept
// in a short-lived cache so hot tokens skip the store round trip.
type Authenticator struct {
	introspector Introspector
	cache        *cache.TokenCache[*domain.Principal]
}

// NewAuthenticator creates an Authenticator. tokenCache may be nil.
func NewAuthenticator(introspector Introspector, tokenCache *cache.TokenCache[*domain.Principal]) *Authenticator {
	return &Authenticator{introspector: introspector, cache: tokenCache}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticate resolves token, consulting the cache first.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*domain.Principal, error) {
	if a.cache != nil {
		if p, ok := a.cache.Get(token); ok {
			metrics.TokenCacheLookups.WithLabelValues("hit").Inc()
			return p, nil
		}
		metrics.TokenCacheLookups.WithLabelValues("miss").Inc()
	}

	p, err := a.introspector.Introspect(ctx, token)
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		a.cache.Put(token, p)
	}
	return p, nil
}

// Forget drops token from the cache. Called after logout.
func (a *Authenticator) Forget(token string) {
	if a.cache != nil && token != "" {
		a.cache.Invalidate(token)
	}
}

// Required rejects requests without a valid bearer token.
func (a *Authenticator) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := otel.Tracer("").Start(c.Request.Context(), "AuthMiddleware")
		defer span.End()

		token, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			span.SetStatus(codes.Error, "missing bearer token")
			AbortWithError(c, serrors.New(serrors.Unauthorized))
			return
		}

		p, err := a.Authenticate(ctx, token)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "introspection failed")
			log.Debug().Ctx(ctx).Err(err).Msg("Rejected access token")
			AbortWithError(c, err)
			return
		}

		setPrincipal(c, p, token)
		c.Next()
	}
}

// Optional attaches the principal when a valid bearer token is present and
// lets every request through.
func (a *Authenticator) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c.GetHeader("Authorization"))
		if ok {
			c.Set(AccessTokenKey, token)
			if p, err := a.Authenticate(c.Request.Context(), token); err == nil {
				setPrincipal(c, p, token)
			}
		}
		c.Next()
	}
}

func setPrincipal(c *gin.Context, p *domain.Principal, token string) {
	c.Set(PrincipalKey, p)
	c.Set(AccessTokenKey, token)
	c.Request = c.Request.WithContext(domain.WithPrincipal(c.Request.Context(), p))
}

// PrincipalFrom returns the principal attached by Required or Optional.
func PrincipalFrom(c *gin.Context) (*domain.Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*domain.Principal)
	return p, ok && p != nil
}

// AccessTokenFrom returns the raw bearer token of the request, if any.
func AccessTokenFrom(c *gin.Context) string {
	return c.GetString(AccessTokenKey)
}

// AbortWithError renders err with its public message and status.
func AbortWithError(c *gin.Context, err error) {
	public := serrors.Public(err)
	if public.Kind == serrors.Internal {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(public.HTTPStatus(), public)
}

// AbortForbidden is used when the caller lacks a permission.
func AbortForbidden(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"error":             "forbidden",
		"error_description": "Permission denied",
	})
}
