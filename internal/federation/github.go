package federation

import (
	"net/http"

	"github.com/pilab-dev/shadow-auth/domain"
	githubOAuth2 "golang.org/x/oauth2/github"
)

const GitHubCode = "github"

var GithubUserInfoEndpoint = "https://api.github.com/user"

// GitHubProvider exchanges GitHub authorization codes.
type GitHubProvider struct {
	*BaseProvider
}

// NewGitHubProvider fills in GitHub's well-known endpoints when cfg leaves them blank.
func NewGitHubProvider(cfg ProviderConfig, httpClient *http.Client, retry RetryPolicy) *GitHubProvider {
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = githubOAuth2.Endpoint.AuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = githubOAuth2.Endpoint.TokenURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = GithubUserInfoEndpoint
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"read:user", "user:email"}
	}

	return &GitHubProvider{
		BaseProvider: newBaseProvider(GitHubCode, cfg, httpClient, retry, mapGitHubIdentity),
	}
}

func mapGitHubIdentity(payload map[string]any) (*domain.ProviderIdentity, error) {
	id := firstNonBlank(readString(payload, "id"), readString(payload, "node_id"))
	if id == "" {
		return nil, ErrMissingProviderUserID
	}
	login := readString(payload, "login")
	email := readString(payload, "email")

	return &domain.ProviderIdentity{
		ProviderUserID: id,
		Login:          login,
		Nickname:       firstNonBlank(readString(payload, "name"), login),
		Email:          email,
		EmailVerified:  email != "" && emailVerified(payload),
		AvatarURL:      readString(payload, "avatar_url"),
	}, nil
}

var _ IdentityExchanger = (*GitHubProvider)(nil)
