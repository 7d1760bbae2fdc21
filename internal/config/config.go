// Package config loads connector configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration of a connector process. Every
// field maps to one EDDIE_-prefixed environment variable.
type Config struct {
	// Region identifies the connector deployment, e.g. "fi" or "es".
	Region string
	// CountryCode and AdministratorID describe the permission
	// administrator this connector talks to; both go into every outward
	// status message.
	CountryCode     string
	AdministratorID string

	HTTPAddr string
	PgDSN    string

	// Upstream metering API.
	UpstreamBaseURL string
	UpstreamRPS     float64

	// OAuth against the permission administrator.
	OAuthClientID     string
	OAuthClientSecret string
	OAuthAuthURL      string
	OAuthTokenURL     string
	OAuthRedirectURL  string
	OAuthScopes       []string
	StateSigningKey   string

	PollInterval    time.Duration
	TimeoutInterval time.Duration
	// TimeoutAfter is how long a request may sit in a transient status
	// before the timeout sweep expires it.
	TimeoutAfter time.Duration

	// NegotiateGranularity enables granularity escalation on empty
	// upstream responses.
	NegotiateGranularity bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first without overriding already-exported variables,
// matching local-development expectations.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Region:               getenv("EDDIE_REGION", "sim"),
		CountryCode:          getenv("EDDIE_COUNTRY_CODE", "AT"),
		AdministratorID:      getenv("EDDIE_ADMINISTRATOR_ID", "sim-admin"),
		HTTPAddr:             getenv("EDDIE_HTTP_ADDR", ":8080"),
		PgDSN:                os.Getenv("EDDIE_PG_DSN"),
		UpstreamBaseURL:      os.Getenv("EDDIE_UPSTREAM_BASE_URL"),
		OAuthClientID:        os.Getenv("EDDIE_OAUTH_CLIENT_ID"),
		OAuthClientSecret:    os.Getenv("EDDIE_OAUTH_CLIENT_SECRET"),
		OAuthAuthURL:         os.Getenv("EDDIE_OAUTH_AUTH_URL"),
		OAuthTokenURL:        os.Getenv("EDDIE_OAUTH_TOKEN_URL"),
		OAuthRedirectURL:     os.Getenv("EDDIE_OAUTH_REDIRECT_URL"),
		StateSigningKey:      os.Getenv("EDDIE_STATE_SIGNING_KEY"),
		NegotiateGranularity: getenvBool("EDDIE_NEGOTIATE_GRANULARITY", true),
	}

	if scopes := os.Getenv("EDDIE_OAUTH_SCOPES"); scopes != "" {
		cfg.OAuthScopes = strings.Split(scopes, ",")
	}

	var err error
	if cfg.UpstreamRPS, err = getenvFloat("EDDIE_UPSTREAM_RPS", 5); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = getenvDuration("EDDIE_POLL_INTERVAL", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.TimeoutInterval, err = getenvDuration("EDDIE_TIMEOUT_INTERVAL", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.TimeoutAfter, err = getenvDuration("EDDIE_TIMEOUT_AFTER", 48*time.Hour); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
