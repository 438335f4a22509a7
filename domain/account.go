package domain

import "time"

// DefaultGroup is assigned to every account that has no explicit group.
const DefaultGroup = "USER"

// UserAccount is a local account. Accounts are created by email registration
// or by a first OAuth login and are never deleted by the auth engine.
type UserAccount struct {
	ID            string    `bson:"_id" json:"id"`
	Username      string    `bson:"username" json:"username"`
	PasswordHash  string    `bson:"password_hash,omitempty" json:"-"`
	Email         string    `bson:"email,omitempty" json:"email,omitempty"`
	EmailVerified bool      `bson:"email_verified" json:"email_verified"`
	Nickname      string    `bson:"nickname" json:"nickname"`
	Groups        []string  `bson:"groups" json:"groups"`
	Permissions   []string  `bson:"permissions,omitempty" json:"permissions,omitempty"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updated_at"`
}

// HasPassword reports whether the account can sign in with a password.
func (a *UserAccount) HasPassword() bool {
	return a.PasswordHash != ""
}

// GroupsOrDefault returns the account groups, or [USER] when none are set.
func (a *UserAccount) GroupsOrDefault() []string {
	if len(a.Groups) == 0 {
		return []string{DefaultGroup}
	}
	out := make([]string, len(a.Groups))
	copy(out, a.Groups)
	return out
}
