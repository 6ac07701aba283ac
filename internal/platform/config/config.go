package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Identity modes.
const (
	IdentityModeOIDC = "oidc"
	IdentityModeNone = "none"
)

// Audit sinks.
const (
	AuditSinkMemory   = "memory"
	AuditSinkPostgres = "postgres"
	AuditSinkKafka    = "kafka"
	AuditSinkNone     = "none"
)

// Server captures process-level configuration for the frontend server.
type Server struct {
	Addr         string        `env:"BLOGFRONT_ADDR" envDefault:":3000" validate:"required"`
	Environment  string        `env:"BLOGFRONT_ENV" envDefault:"development" validate:"oneof=development staging production test"`
	LogLevel     string        `env:"BLOGFRONT_LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat    string        `env:"BLOGFRONT_LOG_FORMAT" envDefault:"json" validate:"oneof=json text"`
	LandingRoute string        `env:"BLOGFRONT_LANDING_ROUTE" envDefault:"/" validate:"startswith=/"`
	ScopeCookie  string        `env:"BLOGFRONT_SCOPE_COOKIE" envDefault:"blogfront_scope" validate:"required"`
	ScopeIdleTTL time.Duration `env:"BLOGFRONT_SCOPE_IDLE_TTL" envDefault:"30m" validate:"gt=0"`

	UserService UserServiceConfig
	Identity    IdentityConfig
	Redis       RedisConfig
	Session     SessionConfig
	Audit       AuditConfig
}

// UserServiceConfig locates the backend that issues local session tokens.
type UserServiceConfig struct {
	URL     string        `env:"USER_SERVICE_URL" envDefault:"http://localhost:8080" validate:"required,url"`
	Timeout time.Duration `env:"USER_SERVICE_TIMEOUT" envDefault:"10s" validate:"gt=0"`
}

// IdentityConfig configures the identity provider adapter. Mode "none" selects
// the non-interactive adapter and ignores the remaining fields.
type IdentityConfig struct {
	Mode         string   `env:"BLOGFRONT_IDENTITY_MODE" envDefault:"oidc" validate:"oneof=oidc none"`
	ClientID     string   `env:"ASGARDEO_CLIENT_ID" validate:"required_if=Mode oidc"`
	ClientSecret string   `env:"ASGARDEO_CLIENT_SECRET"`
	BaseURL      string   `env:"ASGARDEO_BASE_URL" validate:"required_if=Mode oidc,omitempty,url"`
	Issuer       string   `env:"AUTH_ASGARDEO_ISSUER" validate:"omitempty,url"`
	RedirectURL  string   `env:"ASGARDEO_REDIRECT_URL" validate:"required_if=Mode oidc,omitempty,url"`
	Scopes       []string `env:"ASGARDEO_SCOPE" envDefault:"openid profile email groups" envSeparator:" "`
}

// IssuerURL returns the configured issuer, falling back to the Asgardeo
// convention of <base>/oauth2/token.
func (c IdentityConfig) IssuerURL() string {
	if c.Issuer != "" {
		return c.Issuer
	}
	return strings.TrimRight(c.BaseURL, "/") + "/oauth2/token"
}

// RedisConfig holds connection settings. An empty URL disables Redis and the
// server falls back to in-memory session storage.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10" validate:"gte=0"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2" validate:"gte=0"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// SessionConfig controls persisted session keys.
type SessionConfig struct {
	Prefix string        `env:"BLOGFRONT_SESSION_PREFIX" envDefault:"blogfront:session:"`
	TTL    time.Duration `env:"BLOGFRONT_SESSION_TTL" envDefault:"0s" validate:"gte=0"`
}

// AuditConfig selects where auth audit events go.
type AuditConfig struct {
	Sink         string   `env:"BLOGFRONT_AUDIT_SINK" envDefault:"memory" validate:"oneof=memory postgres kafka none"`
	PostgresDSN  string   `env:"BLOGFRONT_AUDIT_POSTGRES_DSN" validate:"required_if=Sink postgres"`
	KafkaBrokers []string `env:"BLOGFRONT_AUDIT_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"BLOGFRONT_AUDIT_KAFKA_TOPIC" envDefault:"blogfront.auth.audit"`
	AsyncBuffer  int      `env:"BLOGFRONT_AUDIT_ASYNC_BUFFER" envDefault:"256" validate:"gte=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// FromEnv parses and validates configuration from the process environment.
func FromEnv() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and the cross-field rules the tags cannot
// express.
func (c Server) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Audit.Sink == AuditSinkKafka && len(c.Audit.KafkaBrokers) == 0 {
		return errors.New("invalid config: kafka audit sink requires BLOGFRONT_AUDIT_KAFKA_BROKERS")
	}
	return nil
}
