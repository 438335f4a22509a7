package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pilab-dev/shadow-auth/internal/federation"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. SHADOW_AUTH_AUTH_ACCESS_TTL.
const EnvPrefix = "SHADOW_AUTH"

// Backend names accepted by StoreConfig.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBolt   = "bolt"
	BackendMongo  = "mongo"
)

// ServerConfig holds all configuration for the server.
type ServerConfig struct {
	HTTPPort        string `mapstructure:"http_port"`
	LogLevel        string `mapstructure:"log_level"`
	LogPretty       bool   `mapstructure:"log_pretty"`
	OtelServiceName string `mapstructure:"otel_service_name"`
	TracingEnabled  bool   `mapstructure:"tracing_enabled"`
	HSTS            bool   `mapstructure:"hsts"`

	Auth      AuthConfig                            `mapstructure:"auth"`
	JWT       JWTConfig                             `mapstructure:"jwt"`
	Email     EmailConfig                           `mapstructure:"email"`
	OAuth     OAuthConfig                           `mapstructure:"oauth"`
	Providers map[string]federation.ProviderConfig `mapstructure:"providers"`
	Store     StoreConfig                           `mapstructure:"store"`
	Mongo     MongoConfig                           `mapstructure:"mongo"`
	Redis     RedisConfig                           `mapstructure:"redis"`
	Bolt      BoltConfig                            `mapstructure:"bolt"`
}

// AuthConfig tunes token lifetimes and the linking policy.
type AuthConfig struct {
	AccessTTL                    time.Duration `mapstructure:"access_ttl"`
	RefreshTTL                   time.Duration `mapstructure:"refresh_ttl"`
	BindTicketTTL                time.Duration `mapstructure:"bind_ticket_ttl"`
	RotateRefreshToken           bool          `mapstructure:"rotate_refresh_token"`
	TrustUnverifiedProviderEmail bool          `mapstructure:"trust_unverified_provider_email"`
	TokenCacheTTL                time.Duration `mapstructure:"token_cache_ttl"`
	TokenCacheSize               uint64        `mapstructure:"token_cache_size"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
	KeyID  string `mapstructure:"key_id"`
}

type EmailConfig struct {
	CodeTTL     time.Duration `mapstructure:"code_ttl"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	// LogCodes lets the built-in log mailer write codes at debug level.
	LogCodes bool `mapstructure:"log_codes"`
}

// OAuthConfig bounds outbound calls to the identity providers.
type OAuthConfig struct {
	RetryCount     int           `mapstructure:"retry_count"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
}

// StoreConfig selects the key-value backend for short-lived state and the
// durable backend for accounts, bindings and login transactions.
type StoreConfig struct {
	KV      string `mapstructure:"kv"`
	Durable string `mapstructure:"durable"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
	// OAuthLoginRetention expires OAuth transactions after this long. Zero
	// keeps them.
	OAuthLoginRetention time.Duration `mapstructure:"oauth_login_retention"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type BoltConfig struct {
	Path            string        `mapstructure:"path"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// DevJWTSecret is the default signing secret. It must be overridden outside
// local development.
const DevJWTSecret = "shadow-auth-dev-secret-change-me-0123456789"

var defaults = map[string]any{
	"http_port":         "8080",
	"log_level":         "info",
	"log_pretty":        false,
	"otel_service_name": "shadow-auth",
	"tracing_enabled":   false,
	"hsts":              false,

	"auth.access_ttl":                      2 * time.Hour,
	"auth.refresh_ttl":                     30 * 24 * time.Hour,
	"auth.bind_ticket_ttl":                 10 * time.Minute,
	"auth.rotate_refresh_token":            true,
	"auth.trust_unverified_provider_email": true,
	"auth.token_cache_ttl":                 30 * time.Second,
	"auth.token_cache_size":                10000,

	"jwt.secret": DevJWTSecret,
	"jwt.issuer": "shadow-auth",
	"jwt.key_id": "default",

	"email.code_ttl":     5 * time.Minute,
	"email.cooldown":     time.Minute,
	"email.max_attempts": 5,
	"email.log_codes":    false,

	"oauth.retry_count":     1,
	"oauth.retry_backoff":   120 * time.Millisecond,
	"oauth.max_backoff":     time.Second,
	"oauth.connect_timeout": 500 * time.Millisecond,
	"oauth.read_timeout":    1200 * time.Millisecond,

	"store.kv":      BackendMemory,
	"store.durable": BackendMemory,

	"mongo.uri":                   "mongodb://localhost:27017",
	"mongo.database":              "shadow_auth",
	"mongo.oauth_login_retention": time.Duration(0),

	"redis.addr":     "localhost:6379",
	"redis.password": "",
	"redis.db":       0,
	"redis.prefix":   "shadow-auth:",

	"bolt.path":             "data/shadow_auth.db",
	"bolt.cleanup_interval": time.Minute,
}

// KnownProviders get an empty default for every key so that their settings
// can come from the environment alone, e.g. SHADOW_AUTH_PROVIDERS_GITHUB_CLIENT_ID.
// Blank endpoints fall back to the provider's well-known URLs.
var KnownProviders = []string{federation.GitHubCode, federation.LinuxDoCode}

var providerKeys = []string{"client_id", "client_secret", "authorize_url", "token_url", "user_info_url"}

// LoadConfig reads shadow_auth.yaml from configPaths (or the default search
// paths), then environment variables, then defaults. A missing file is fine.
func LoadConfig(configPaths ...string) (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("shadow_auth")
	v.SetConfigType("yaml")
	if len(configPaths) == 0 {
		configPaths = []string{"/etc/shadow-auth/", "$HOME/.shadow-auth", "."}
	}
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, name := range KnownProviders {
		for _, key := range providerKeys {
			v.SetDefault("providers."+name+"."+key, "")
		}
		v.SetDefault("providers."+name+".scopes", []string{})
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Normalize raises out-of-range values to their minimums.
func (c *ServerConfig) Normalize() {
	atLeast(&c.Auth.AccessTTL, 300*time.Second)
	atLeast(&c.Auth.RefreshTTL, time.Hour)
	atLeast(&c.Auth.BindTicketTTL, 60*time.Second)
	atLeast(&c.Auth.TokenCacheTTL, time.Second)
	if c.Auth.TokenCacheSize == 0 {
		c.Auth.TokenCacheSize = 1
	}

	if c.OAuth.RetryCount < 0 {
		c.OAuth.RetryCount = 0
	}
	atLeast(&c.OAuth.RetryBackoff, 50*time.Millisecond)
	atLeast(&c.OAuth.MaxBackoff, c.OAuth.RetryBackoff)
	atLeast(&c.OAuth.ConnectTimeout, 100*time.Millisecond)
	atLeast(&c.OAuth.ReadTimeout, 200*time.Millisecond)

	atLeast(&c.Email.CodeTTL, 60*time.Second)
	atLeast(&c.Email.Cooldown, 10*time.Second)
	if c.Email.MaxAttempts < 1 {
		c.Email.MaxAttempts = 1
	}

	if c.Mongo.OAuthLoginRetention < 0 {
		c.Mongo.OAuthLoginRetention = 0
	}
	if c.Mongo.OAuthLoginRetention > 0 {
		atLeast(&c.Mongo.OAuthLoginRetention, 24*time.Hour)
	}

	c.Store.KV = strings.ToLower(strings.TrimSpace(c.Store.KV))
	c.Store.Durable = strings.ToLower(strings.TrimSpace(c.Store.Durable))
}

func atLeast(d *time.Duration, floor time.Duration) {
	if *d < floor {
		*d = floor
	}
}

// Validate reports settings that cannot be repaired by Normalize.
func (c *ServerConfig) Validate() error {
	switch c.Store.KV {
	case BackendMemory, BackendRedis, BackendBolt:
	default:
		return fmt.Errorf("unsupported kv store %q", c.Store.KV)
	}
	switch c.Store.Durable {
	case BackendMemory, BackendMongo:
	default:
		return fmt.Errorf("unsupported durable store %q", c.Store.Durable)
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("jwt secret must be at least 32 bytes")
	}
	if strings.TrimSpace(c.JWT.Issuer) == "" {
		return errors.New("jwt issuer is required")
	}
	return nil
}

// RetryPolicy converts the OAuth settings for the federation package.
func (c *ServerConfig) RetryPolicy() federation.RetryPolicy {
	return federation.RetryPolicy{
		RetryCount:     c.OAuth.RetryCount,
		InitialBackoff: c.OAuth.RetryBackoff,
		MaxBackoff:     c.OAuth.MaxBackoff,
	}
}

// HTTPOptions converts the OAuth timeouts for the federation package.
func (c *ServerConfig) HTTPOptions() federation.HTTPOptions {
	return federation.HTTPOptions{
		ConnectTimeout: c.OAuth.ConnectTimeout,
		ReadTimeout:    c.OAuth.ReadTimeout,
	}
}
