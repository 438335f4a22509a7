package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pilab-dev/shadow-auth/domain"
	serrors "github.com/pilab-dev/shadow-auth/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

// IdentityExchanger turns an authorization code into a verified provider
// identity. One implementation exists per provider code.
type IdentityExchanger interface {
	// Code returns the lower-case provider code, e.g. "github".
	Code() string

	// AuthorizeURL builds the URL the browser is sent to.
	AuthorizeURL(state, redirectURI string) (string, error)

	// ExchangeCode swaps code for a token and fetches the user profile.
	// Failures are *errors.AuthError of kind ProviderTransientError or
	// ProviderRejected.
	ExchangeCode(ctx context.Context, code, redirectURI string) (*domain.ProviderIdentity, error)
}

// ProviderConfig holds the endpoints and client credentials of one provider.
type ProviderConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	AuthorizeURL string   `mapstructure:"authorize_url"`
	TokenURL     string   `mapstructure:"token_url"`
	UserInfoURL  string   `mapstructure:"user_info_url"`
	Scopes       []string `mapstructure:"scopes"`
}

func (c ProviderConfig) complete() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.AuthorizeURL != "" &&
		c.TokenURL != "" && c.UserInfoURL != ""
}

// HTTPOptions bounds every outbound call to a provider.
type HTTPOptions struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// DefaultHTTPOptions returns the connect and read timeouts used when none are configured.
func DefaultHTTPOptions() HTTPOptions {
	return HTTPOptions{ConnectTimeout: 500 * time.Millisecond, ReadTimeout: 1200 * time.Millisecond}
}

// NewHTTPClient creates the client used for token and user info calls.
func NewHTTPClient(opts HTTPOptions) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: opts.ConnectTimeout}).DialContext,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{
		Transport: otelhttp.NewTransport(transport),
		Timeout:   opts.ConnectTimeout + opts.ReadTimeout,
	}
}

// identityMapper converts a decoded user info payload into an identity.
type identityMapper func(payload map[string]any) (*domain.ProviderIdentity, error)

// BaseProvider implements IdentityExchanger for OAuth2 providers that expose
// a JSON user info endpoint. Providers differ only in their field mapping.
type BaseProvider struct {
	code        string
	config      ProviderConfig
	httpClient  *http.Client
	retry       RetryPolicy
	mapIdentity identityMapper
}

func newBaseProvider(code string, cfg ProviderConfig, httpClient *http.Client, retry RetryPolicy, mapper identityMapper) *BaseProvider {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultHTTPOptions())
	}
	return &BaseProvider{
		code:        strings.ToLower(code),
		config:      cfg,
		httpClient:  httpClient,
		retry:       retry,
		mapIdentity: mapper,
	}
}

func (b *BaseProvider) Code() string {
	return b.code
}

func (b *BaseProvider) oauth2Config(redirectURI string) (*oauth2.Config, error) {
	if !b.config.complete() {
		return nil, ErrProviderMisconfigured
	}
	return &oauth2.Config{
		ClientID:     b.config.ClientID,
		ClientSecret: b.config.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       b.config.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  b.config.AuthorizeURL,
			TokenURL: b.config.TokenURL,
			// Credentials go in the form body; auto-detection would retry
			// a rejected code with the other style.
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, nil
}

func (b *BaseProvider) AuthorizeURL(state, redirectURI string) (string, error) {
	conf, err := b.oauth2Config(redirectURI)
	if err != nil {
		return "", serrors.Wrap(serrors.ProviderRejected, err)
	}
	return conf.AuthCodeURL(state), nil
}

func (b *BaseProvider) ExchangeCode(ctx context.Context, code, redirectURI string) (*domain.ProviderIdentity, error) {
	conf, err := b.oauth2Config(redirectURI)
	if err != nil {
		return nil, serrors.Wrap(serrors.ProviderRejected, err)
	}

	return retryTransient(ctx, b.code, b.retry, func() (*domain.ProviderIdentity, error) {
		return b.exchangeOnce(ctx, conf, code)
	})
}

func (b *BaseProvider) exchangeOnce(ctx context.Context, conf *oauth2.Config, code string) (*domain.ProviderIdentity, error) {
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
	token, err := conf.Exchange(tokenCtx, code)
	if err != nil {
		return nil, classify(err)
	}
	if token.AccessToken == "" {
		return nil, serrors.Wrap(serrors.ProviderRejected, ErrMissingAccessToken)
	}

	payload, err := b.fetchUserInfo(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	identity, err := b.mapIdentity(payload)
	if err != nil {
		return nil, serrors.Wrap(serrors.ProviderRejected, err)
	}
	identity.Provider = b.code
	return identity, nil
}

func (b *BaseProvider) fetchUserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.config.UserInfoURL, nil)
	if err != nil {
		return nil, serrors.Wrap(serrors.ProviderRejected, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("%s: user info status %d, body: %s", b.code, resp.StatusCode, string(body))
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, serrors.Wrap(serrors.ProviderTransientError, statusErr)
		}
		return nil, serrors.Wrap(serrors.ProviderRejected, statusErr)
	}

	var payload map[string]any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, classify(fmt.Errorf("%s: failed to decode user info: %w", b.code, err))
	}
	return payload, nil
}

// readString reads payload[key] as text. Blank values read as "".
func readString(payload map[string]any, key string) string {
	var text string
	switch v := payload[key].(type) {
	case nil:
		return ""
	case string:
		text = v
	case json.Number:
		text = v.String()
	case bool:
		text = strconv.FormatBool(v)
	default:
		text = fmt.Sprint(v)
	}
	return strings.TrimSpace(text)
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// emailVerified is false only when the payload says so explicitly.
func emailVerified(payload map[string]any) bool {
	switch v := payload["email_verified"].(type) {
	case bool:
		return v
	case string:
		return !strings.EqualFold(v, "false")
	default:
		return true
	}
}
