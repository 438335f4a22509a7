package federation

import "errors"

var (
	ErrProviderMisconfigured = errors.New("provider is misconfigured")
	ErrMissingAccessToken    = errors.New("token response missing access_token")
	ErrMissingProviderUserID = errors.New("user info response missing provider user id")
	ErrDuplicateProvider     = errors.New("provider code registered twice")
)
