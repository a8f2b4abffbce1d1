// Package config provides onbbu configuration loaded from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/njavilas2015/onbbu/pkg/commsutil"
)

const logPrefix = "config:LoadConfig"

// Config holds onbbu configuration.
type Config struct {
	// COMMS: COMMSURL wins over NATSHost/NATSPort when set.
	COMMSURL  string `envconfig:"COMMS_URL"`
	NATSHost  string `envconfig:"NATS_HOST" default:"127.0.0.1"`
	NATSPort  int    `envconfig:"NATS_PORT" default:"4222"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"onbbu"`

	// Worker subject
	Subject string `envconfig:"SUBJECT"`

	// Timeouts
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
	DrainTimeout   time.Duration `envconfig:"DRAIN_TIMEOUT" default:"10s"`

	// Database
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBSSL       bool   `envconfig:"DB_SSL" default:"false"`

	// Redis: the worker's store contracts are enabled when REDIS_URL is set.
	RedisURL      string `envconfig:"REDIS_URL"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`

	// Tokens
	SecretKey string        `envconfig:"SECRET_KEY"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"8640h"`

	// Gateway
	HTTPPort         int           `envconfig:"HTTP_PORT" default:"8000"`
	HTTPSPort        int           `envconfig:"HTTPS_PORT" default:"443"`
	TLSKey           string        `envconfig:"TLS_KEY"`
	TLSCert          string        `envconfig:"TLS_CERT"`
	RoutesFile       string        `envconfig:"ROUTES_FILE" default:"routes.yaml"`
	RateLimitEnabled bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	RateLimitRPS     float64       `envconfig:"RATE_LIMIT_RPS" default:"0.0833"`
	RateLimitBurst   int           `envconfig:"RATE_LIMIT_BURST" default:"5"`
	WSPingInterval   time.Duration `envconfig:"WS_PING_INTERVAL" default:"30s"`

	// Health and metrics endpoint
	HealthPort int `envconfig:"HEALTH_PORT" default:"8080"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ServersURL returns COMMS_URL, or the URL built from NATS_HOST and NATS_PORT.
func (c *Config) ServersURL() string {
	if u := strings.TrimSpace(c.COMMSURL); u != "" {
		return u
	}
	return commsutil.BuildServersURL(c.NATSHost, c.NATSPort)
}

// TLSEnabled reports whether both TLS key and certificate are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSKey != "" && c.TLSCert != ""
}

// ValidateForWorker checks required config when running a worker.
func (c *Config) ValidateForWorker() error {
	if err := commsutil.ValidateSubject(c.Subject); err != nil {
		return fmt.Errorf("%s - SUBJECT is invalid: %w", logPrefix, err)
	}
	if c.DrainTimeout <= 0 {
		return fmt.Errorf("%s - DRAIN_TIMEOUT must be positive", logPrefix)
	}
	return nil
}

// ValidateForGateway checks required config when running the HTTP and websocket gateway.
func (c *Config) ValidateForGateway() error {
	if c.RoutesFile == "" {
		return fmt.Errorf("%s - ROUTES_FILE is required for gateway", logPrefix)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.HTTPPort <= 0 {
		return fmt.Errorf("%s - HTTP_PORT must be positive", logPrefix)
	}
	if (c.TLSKey == "") != (c.TLSCert == "") {
		return fmt.Errorf("%s - TLS_KEY and TLS_CERT must be set together", logPrefix)
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		return fmt.Errorf("%s - RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive", logPrefix)
	}
	if c.WSPingInterval <= 0 {
		return fmt.Errorf("%s - WS_PING_INTERVAL must be positive", logPrefix)
	}
	return nil
}

// ValidateForCall checks required config for one-shot calls.
func (c *Config) ValidateForCall() error {
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - REQUEST_TIMEOUT must be positive", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands.
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}

// ValidateForSign checks required config for issuing and verifying tokens.
func (c *Config) ValidateForSign() error {
	if c.SecretKey == "" {
		return fmt.Errorf("%s - SECRET_KEY is required", logPrefix)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("%s - TOKEN_TTL must be positive", logPrefix)
	}
	return nil
}
