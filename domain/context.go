package domain

import "context"

type contextKey string

// PrincipalContextKey is the key used to store the authenticated Principal.
const PrincipalContextKey contextKey = "auth_principal"

// Principal is the caller resolved from an access token.
type Principal struct {
	UserID      string   `json:"userId"`
	Username    string   `json:"username"`
	Nickname    string   `json:"nickname"`
	Email       string   `json:"email,omitempty"`
	Groups      []string `json:"groups"`
	Permissions []string `json:"permissions"`
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, p)
}

// PrincipalFromContext retrieves the Principal stored by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(*Principal)
	return p, ok && p != nil
}
