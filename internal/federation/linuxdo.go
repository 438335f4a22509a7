package federation

import (
	"net/http"

	"github.com/pilab-dev/shadow-auth/domain"
)

const LinuxDoCode = "linuxdo"

var (
	LinuxDoAuthorizeEndpoint = "https://connect.linux.do/oauth2/authorize"
	LinuxDoTokenEndpoint     = "https://connect.linux.do/oauth2/token"
	LinuxDoUserInfoEndpoint  = "https://connect.linux.do/api/user"
)

// LinuxDoProvider exchanges LinuxDo Connect authorization codes.
type LinuxDoProvider struct {
	*BaseProvider
}

func NewLinuxDoProvider(cfg ProviderConfig, httpClient *http.Client, retry RetryPolicy) *LinuxDoProvider {
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = LinuxDoAuthorizeEndpoint
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = LinuxDoTokenEndpoint
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = LinuxDoUserInfoEndpoint
	}

	return &LinuxDoProvider{
		BaseProvider: newBaseProvider(LinuxDoCode, cfg, httpClient, retry, mapLinuxDoIdentity),
	}
}

func mapLinuxDoIdentity(payload map[string]any) (*domain.ProviderIdentity, error) {
	id := firstNonBlank(readString(payload, "sub"), readString(payload, "id"), readString(payload, "user_id"))
	if id == "" {
		return nil, ErrMissingProviderUserID
	}
	login := firstNonBlank(
		readString(payload, "preferred_username"),
		readString(payload, "username"),
		readString(payload, "login"),
	)
	email := readString(payload, "email")

	return &domain.ProviderIdentity{
		ProviderUserID: id,
		Login:          login,
		Nickname:       firstNonBlank(readString(payload, "name"), readString(payload, "nickname"), login),
		Email:          email,
		EmailVerified:  email != "" && emailVerified(payload),
		AvatarURL:      firstNonBlank(readString(payload, "picture"), readString(payload, "avatar_url")),
	}, nil
}

var _ IdentityExchanger = (*LinuxDoProvider)(nil)
