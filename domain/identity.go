package domain

// ProviderIdentity is what a provider exchange yields about the user.
// ProviderUserID is always non-blank.
type ProviderIdentity struct {
	Provider       string
	ProviderUserID string
	Login          string
	Nickname       string
	Email          string
	// EmailVerified is false only when the provider explicitly says so.
	EmailVerified bool
	AvatarURL     string
}

// BindTicket is the short-lived proof that a provider identity collided with
// an existing account by email. It lives only in the TTL store.
type BindTicket struct {
	Provider       string `json:"provider"`
	OAuthLoginID   string `json:"oauthLoginId"`
	TargetUserID   string `json:"targetUserId"`
	ProviderUserID string `json:"providerUserId"`
	ProviderLogin  string `json:"providerLogin,omitempty"`
	ProviderEmail  string `json:"providerEmail,omitempty"`
}

// RefreshSession is the stored form of a refresh token.
type RefreshSession struct {
	SessionID string `json:"-"`
	UserID    string `json:"userId"`
	TokenHash string `json:"tokenHash"`
}
