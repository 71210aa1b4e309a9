// Package config holds the environment-driven configuration for the
// authorization server. Values are read with cleanenv; every field has a
// development default so a bare process starts with in-memory stores.
package config

import (
	"fmt"
	"time"

	"github.com/relayhq/relay-auth/pkg/notification"
)

type ServerConfig struct {
	Host          string `env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port          uint16 `env:"SERVER_PORT" env-default:"4000"`
	BaseURL       string `env:"BASE_URL" env-default:"http://localhost:4000"`
	SecureCookies bool   `env:"COOKIE_SECURE" env-default:"false"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DbConfig selects the persistence backend. With Enabled false all stores
// are in-memory, which is enough for development and tests.
type DbConfig struct {
	Enabled  bool   `env:"PG_ENABLED" env-default:"false"`
	Host     string `env:"PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"PG_PORT" env-default:"5432"`
	Database string `env:"PG_DATABASE" env-default:"relay_auth"`
	User     string `env:"PG_USER" env-default:"relay_auth"`
	Password string `env:"PG_PASSWORD" env-default:"pwd"`
}

func (d DbConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.User, d.Password, d.Host, d.Port, d.Database)
}

type JwksConfig struct {
	RotationInterval time.Duration `env:"JWKS_ROTATION_INTERVAL" env-default:"20m"`
	KeySize          int           `env:"JWKS_KEY_SIZE" env-default:"2048"`
}

type TokenConfig struct {
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" env-default:"1h"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" env-default:"720h"`
}

type FlowConfig struct {
	AttemptTTL    time.Duration `env:"FLOW_ATTEMPT_TTL" env-default:"2m"`
	SweepInterval time.Duration `env:"FLOW_SWEEP_INTERVAL" env-default:"1m"`
}

type SMTPConfig struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT" env-default:"587"`
	TLS      bool   `env:"SMTP_TLS" env-default:"true"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM" env-default:"no-reply@relay.chat"`
}

// ProviderConfig configures one federated identity provider
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	Enabled      bool
}

type GoogleConfig struct {
	ClientID     string `env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	Enabled      bool   `env:"GOOGLE_ENABLED" env-default:"false"`
}

type SlackConfig struct {
	ClientID     string `env:"SLACK_CLIENT_ID"`
	ClientSecret string `env:"SLACK_CLIENT_SECRET"`
	Enabled      bool   `env:"SLACK_ENABLED" env-default:"false"`
}

type AuthzConfig struct {
	AdminScope string `env:"ADMIN_SCOPE" env-default:"clients.admin"`
}

type Config struct {
	Server ServerConfig
	Db     DbConfig
	Jwks   JwksConfig
	Token  TokenConfig
	Flow   FlowConfig
	SMTP   SMTPConfig
	Twilio notification.TwilioConfig
	Google GoogleConfig
	Slack  SlackConfig
	Authz  AuthzConfig
}
