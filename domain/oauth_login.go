package domain

import "time"

// OAuthScene tells what an OAuth round trip is for.
type OAuthScene string

const (
	OAuthSceneLogin OAuthScene = "LOGIN"
	OAuthSceneBind  OAuthScene = "BIND"
)

// ParseOAuthScene maps user input to a scene. Anything but BIND is LOGIN.
func ParseOAuthScene(s string) OAuthScene {
	if OAuthScene(s) == OAuthSceneBind {
		return OAuthSceneBind
	}
	return OAuthSceneLogin
}

// OAuthLoginStatus is the lifecycle of one OAuth transaction.
type OAuthLoginStatus string

const (
	OAuthLoginPending OAuthLoginStatus = "PENDING"
	OAuthLoginSuccess OAuthLoginStatus = "SUCCESS"
	OAuthLoginFailed  OAuthLoginStatus = "FAILED"
)

// OAuthLogin records one authorize/callback round trip. It moves from
// PENDING to SUCCESS or FAILED exactly once.
type OAuthLogin struct {
	ID              string           `bson:"_id" json:"oauth_login_id"`
	Provider        string           `bson:"provider" json:"provider"`
	RedirectURI     string           `bson:"redirect_uri" json:"redirect_uri"`
	State           string           `bson:"state" json:"-"`
	Scene           OAuthScene       `bson:"scene" json:"scene"`
	Status          OAuthLoginStatus `bson:"status" json:"status"`
	ProviderUserID  string           `bson:"provider_user_id,omitempty" json:"provider_user_id,omitempty"`
	UserID          string           `bson:"user_id,omitempty" json:"user_id,omitempty"`
	ErrorMessage    string           `bson:"error_message,omitempty" json:"-"`
	InitiatorUserID string           `bson:"initiator_user_id,omitempty" json:"-"`
	CreatedAt       time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `bson:"updated_at" json:"updated_at"`
}

// OAuthLoginOutcome is the terminal update applied to a transaction.
type OAuthLoginOutcome struct {
	Status         OAuthLoginStatus
	ProviderUserID string
	UserID         string
	ErrorMessage   string
}
