package middleware

import (
	"github.com/gin-gonic/gin"
	serrors "github.com/pilab-dev/shadow-auth/errors"
	"github.com/pilab-dev/shadow-auth/internal/auth/rbac"
	"github.com/rs/zerolog/log"
)

// RequirePermission must run after Authenticator.Required.
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			AbortWithError(c, serrors.New(serrors.Unauthorized))
			return
		}

		if !rbac.HasPermission(p.Permissions, permission) {
			log.Warn().Str("userID", p.UserID).Str("required_permission", permission).
				Msg("Permission denied")
			AbortForbidden(c)
			return
		}

		c.Next()
	}
}
