package domain

import "time"

// OAuthBinding links a local account to one identity at an external provider.
// (Provider, ProviderUserID) is globally unique and so is (UserID, Provider).
// Bindings are immutable once created.
type OAuthBinding struct {
	ID             string    `bson:"_id" json:"id"`
	Provider       string    `bson:"provider" json:"provider"`
	ProviderUserID string    `bson:"provider_user_id" json:"provider_user_id"`
	UserID         string    `bson:"user_id" json:"user_id"`
	ProviderLogin  string    `bson:"provider_login,omitempty" json:"provider_login,omitempty"`
	ProviderEmail  string    `bson:"provider_email,omitempty" json:"provider_email,omitempty"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
}
