package mongodb

const (
	AccountsCollection         = "user_accounts"
	OAuthBindingsCollection    = "oauth_bindings"
	OAuthLoginsCollection      = "oauth_logins"
	GroupPermissionsCollection = "group_permissions"
)
