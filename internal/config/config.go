// Package config loads the process configuration once at startup.
//
// Values come from the environment, optionally seeded from a .env file
// (godotenv never overrides variables that are already set). The result is
// a plain Config value that main passes to every component; nothing reads
// the environment after Load returns.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/sakif/linkedin-profile-viewer/internal/apperror"
	"github.com/sakif/linkedin-profile-viewer/internal/auth"
)

// Config holds every setting of the server.
type Config struct {
	Port    int    `env:"PORT"     envDefault:"3000"                  validate:"min=1,max=65535"`
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:3000" validate:"required,http_url"`

	LinkedIn LinkedIn

	DatabaseURL   string `env:"DATABASE_URL"   envDefault:"data/profiles.db"  validate:"required"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"linkedin_profiles" validate:"required"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0" validate:"min=0"`

	SessionSecret string        `env:"SESSION_SECRET,required" validate:"min=32"`
	SessionTTL    time.Duration `env:"SESSION_TTL"   envDefault:"24h" validate:"gt=0"`
	CookieSecure  bool          `env:"COOKIE_SECURE" envDefault:"false"`

	// SingleTenant lets /profile fall back to the most recently created
	// profile when the caller has no session. Demo deployments only.
	SingleTenant       bool `env:"SINGLE_TENANT"        envDefault:"false"`
	SignOutViaProvider bool `env:"SIGNOUT_VIA_PROVIDER" envDefault:"false"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json text"`

	// RedirectURIDefaulted is set when LINKEDIN_REDIRECT_URI was empty and
	// the redirect URI was derived from BaseURL.
	RedirectURIDefaulted bool
}

// LinkedIn holds the OAuth client registration and endpoints.
type LinkedIn struct {
	ClientID     string `env:"LINKEDIN_CLIENT_ID,required"     validate:"required"`
	ClientSecret string `env:"LINKEDIN_CLIENT_SECRET,required" validate:"required"`
	// RedirectURI is used by both /signin and /callback.
	RedirectURI string `env:"LINKEDIN_REDIRECT_URI" validate:"omitempty,http_url"`

	AuthURL   string `env:"LINKEDIN_AUTH_URL"   validate:"omitempty,http_url"`
	TokenURL  string `env:"LINKEDIN_TOKEN_URL"  validate:"omitempty,http_url"`
	APIURL    string `env:"LINKEDIN_API_URL"    validate:"omitempty,http_url"`
	LogoutURL string `env:"LINKEDIN_LOGOUT_URL" validate:"omitempty,http_url"`

	Issuer        string `env:"LINKEDIN_ISSUER"   validate:"omitempty,http_url"`
	JWKSURL       string `env:"LINKEDIN_JWKS_URL" validate:"omitempty,http_url"`
	VerifyIDToken bool   `env:"VERIFY_ID_TOKEN" envDefault:"true"`

	Timeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s" validate:"gt=0"`
}

// Load reads envFile (if it exists) into the process environment and then
// parses the environment.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, apperror.Configuration("reading "+envFile, err)
		}
	}
	return parse(env.Options{})
}

// Parse builds a Config from environ only, ignoring the process
// environment.
func Parse(environ map[string]string) (Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, apperror.Configuration("invalid environment", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.LinkedIn.RedirectURI == "" {
		cfg.LinkedIn.RedirectURI = cfg.BaseURL + "/callback"
		cfg.RedirectURIDefaulted = true
	}
	cfg.LinkedIn.AuthURL = orDefault(cfg.LinkedIn.AuthURL, auth.DefaultAuthURL)
	cfg.LinkedIn.TokenURL = orDefault(cfg.LinkedIn.TokenURL, auth.DefaultTokenURL)
	cfg.LinkedIn.APIURL = orDefault(cfg.LinkedIn.APIURL, auth.DefaultAPIURL)
	cfg.LinkedIn.LogoutURL = orDefault(cfg.LinkedIn.LogoutURL, auth.DefaultLogoutURL)
	cfg.LinkedIn.Issuer = orDefault(cfg.LinkedIn.Issuer, auth.DefaultIssuer)
	cfg.LinkedIn.JWKSURL = orDefault(cfg.LinkedIn.JWKSURL, auth.DefaultJWKSURL)

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, apperror.Configuration("invalid configuration", err)
	}
	return cfg, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// UsesMongo reports whether DatabaseURL selects the MongoDB store.
func (c Config) UsesMongo() bool {
	return strings.HasPrefix(c.DatabaseURL, "mongodb://") ||
		strings.HasPrefix(c.DatabaseURL, "mongodb+srv://")
}

// UsesRedis reports whether sessions are kept in Redis.
func (c Config) UsesRedis() bool {
	return c.RedisAddr != ""
}

// Addr is the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Provider returns the settings of the LinkedIn OAuth client.
func (c Config) Provider() auth.ProviderConfig {
	return auth.ProviderConfig{
		ClientID:        c.LinkedIn.ClientID,
		ClientSecret:    c.LinkedIn.ClientSecret,
		RedirectURL:     c.LinkedIn.RedirectURI,
		AuthURL:         c.LinkedIn.AuthURL,
		TokenURL:        c.LinkedIn.TokenURL,
		APIURL:          c.LinkedIn.APIURL,
		LogoutURL:       c.LinkedIn.LogoutURL,
		LogoutReturnURL: c.BaseURL,
		Timeout:         c.LinkedIn.Timeout,
	}
}

// SlogLevel maps LogLevel to a slog.Level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogValue keeps secrets out of startup logs.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("port", c.Port),
		slog.String("base_url", c.BaseURL),
		slog.String("redirect_uri", c.LinkedIn.RedirectURI),
		slog.Bool("mongo", c.UsesMongo()),
		slog.Bool("redis", c.UsesRedis()),
		slog.Bool("verify_id_token", c.LinkedIn.VerifyIDToken),
		slog.Bool("single_tenant", c.SingleTenant),
		slog.Bool("signout_via_provider", c.SignOutViaProvider),
		slog.Duration("provider_timeout", c.LinkedIn.Timeout),
		slog.Duration("session_ttl", c.SessionTTL),
	)
}
