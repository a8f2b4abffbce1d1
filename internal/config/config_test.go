package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

var allEnvVars = []string{
	"COMMS_URL", "NATS_HOST", "NATS_PORT", "SERVICE_NAME", "SUBJECT",
	"REQUEST_TIMEOUT", "DRAIN_TIMEOUT", "DATABASE_URL", "DB_SSL",
	"REDIS_URL", "REDIS_PASSWORD", "SECRET_KEY", "TOKEN_TTL",
	"HTTP_PORT", "HTTPS_PORT", "TLS_KEY", "TLS_CERT", "ROUTES_FILE",
	"RATE_LIMIT_ENABLED", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"WS_PING_INTERVAL", "HEALTH_PORT", "LOG_LEVEL",
}

func clearEnv() {
	for _, env := range allEnvVars {
		os.Unsetenv(env)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if cfg.COMMSURL != "" {
		t.Errorf("config:config_test - COMMSURL = %q, want empty", cfg.COMMSURL)
	}
	if got := cfg.ServersURL(); got != "nats://127.0.0.1:4222" {
		t.Errorf("config:config_test - ServersURL = %q, want %q", got, "nats://127.0.0.1:4222")
	}
	if cfg.COMMSName != "onbbu" {
		t.Errorf("config:config_test - COMMSName = %q, want %q", cfg.COMMSName, "onbbu")
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("config:config_test - RequestTimeout = %v, want 10s", cfg.RequestTimeout)
	}
	if cfg.DrainTimeout != 10*time.Second {
		t.Errorf("config:config_test - DrainTimeout = %v, want 10s", cfg.DrainTimeout)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("config:config_test - DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
	if cfg.TokenTTL != 360*24*time.Hour {
		t.Errorf("config:config_test - TokenTTL = %v, want 360 days", cfg.TokenTTL)
	}
	if cfg.HTTPPort != 8000 {
		t.Errorf("config:config_test - HTTPPort = %d, want 8000", cfg.HTTPPort)
	}
	if cfg.HTTPSPort != 443 {
		t.Errorf("config:config_test - HTTPSPort = %d, want 443", cfg.HTTPSPort)
	}
	if cfg.TLSEnabled() {
		t.Error("config:config_test - expected TLS disabled by default")
	}
	if !cfg.RateLimitEnabled || cfg.RateLimitBurst != 5 {
		t.Errorf("config:config_test - rate limit = %v/%d, want enabled with burst 5", cfg.RateLimitEnabled, cfg.RateLimitBurst)
	}
	if cfg.WSPingInterval != 30*time.Second {
		t.Errorf("config:config_test - WSPingInterval = %v, want 30s", cfg.WSPingInterval)
	}
	if cfg.HealthPort != 8080 {
		t.Errorf("config:config_test - HealthPort = %d, want 8080", cfg.HealthPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("config:config_test - LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	clearEnv()
	overrides := map[string]string{
		"NATS_HOST":        "bus.internal",
		"NATS_PORT":        "4333",
		"SERVICE_NAME":     "users",
		"SUBJECT":          "svc.users",
		"REQUEST_TIMEOUT":  "3s",
		"DRAIN_TIMEOUT":    "1s",
		"DATABASE_URL":     "postgres://test@localhost/test",
		"DB_SSL":           "true",
		"SECRET_KEY":       "s3cret",
		"TOKEN_TTL":        "1h",
		"HTTP_PORT":        "9090",
		"TLS_KEY":          "/tmp/key.pem",
		"TLS_CERT":         "/tmp/cert.pem",
		"ROUTES_FILE":      "/etc/onbbu/routes.yaml",
		"WS_PING_INTERVAL": "5s",
		"LOG_LEVEL":        "debug",
	}
	for key, val := range overrides {
		os.Setenv(key, val)
	}
	defer clearEnv()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if got := cfg.ServersURL(); got != "nats://bus.internal:4333" {
		t.Errorf("config:config_test - ServersURL = %q, want %q", got, "nats://bus.internal:4333")
	}
	if cfg.Subject != "svc.users" {
		t.Errorf("config:config_test - Subject = %q, want %q", cfg.Subject, "svc.users")
	}
	if cfg.RequestTimeout != 3*time.Second || cfg.DrainTimeout != time.Second {
		t.Errorf("config:config_test - timeouts = %v/%v, want 3s/1s", cfg.RequestTimeout, cfg.DrainTimeout)
	}
	if !cfg.DBSSL {
		t.Error("config:config_test - expected DBSSL=true")
	}
	if cfg.SecretKey != "s3cret" || cfg.TokenTTL != time.Hour {
		t.Errorf("config:config_test - sign config = %q/%v", cfg.SecretKey, cfg.TokenTTL)
	}
	if cfg.HTTPPort != 9090 {
		t.Errorf("config:config_test - HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if !cfg.TLSEnabled() {
		t.Error("config:config_test - expected TLS enabled")
	}
	if cfg.RoutesFile != "/etc/onbbu/routes.yaml" {
		t.Errorf("config:config_test - RoutesFile = %q", cfg.RoutesFile)
	}
	if cfg.WSPingInterval != 5*time.Second {
		t.Errorf("config:config_test - WSPingInterval = %v, want 5s", cfg.WSPingInterval)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("config:config_test - LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestServersURL_COMMSURLWins(t *testing.T) {
	cfg := &Config{COMMSURL: " nats://custom:4222 ", NATSHost: "ignored", NATSPort: 1}
	if got := cfg.ServersURL(); got != "nats://custom:4222" {
		t.Errorf("config:config_test - ServersURL = %q, want %q", got, "nats://custom:4222")
	}
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	clearEnv()
	os.Setenv("REQUEST_TIMEOUT", "soon")
	defer clearEnv()

	if _, err := LoadConfig(); err == nil {
		t.Error("config:config_test - expected error for invalid duration")
	}
}

func TestLoadConfig_LogLevels(t *testing.T) {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, level := range validLevels {
		os.Setenv("LOG_LEVEL", level)
		cfg, err := LoadConfig()
		os.Unsetenv("LOG_LEVEL")

		if err != nil {
			t.Fatalf("config:config_test - unexpected error for level %q: %v", level, err)
		}
		if cfg.LogLevel != level {
			t.Errorf("config:config_test - LogLevel = %q, want %q", cfg.LogLevel, level)
		}
	}
}

func validConfig() *Config {
	return &Config{
		Subject:          "svc.users",
		RequestTimeout:   time.Second,
		DrainTimeout:     time.Second,
		DatabaseURL:      "postgres://localhost/onbbu",
		SecretKey:        "k",
		TokenTTL:         time.Hour,
		HTTPPort:         8000,
		RoutesFile:       "routes.yaml",
		RateLimitEnabled: true,
		RateLimitRPS:     1,
		RateLimitBurst:   5,
		WSPingInterval:   time.Second,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		check   func(*Config) error
		wantErr string
	}{
		{"worker ok", func(*Config) {}, (*Config).ValidateForWorker, ""},
		{"worker no subject", func(c *Config) { c.Subject = "" }, (*Config).ValidateForWorker, "SUBJECT"},
		{"worker wildcard subject", func(c *Config) { c.Subject = "svc.*" }, (*Config).ValidateForWorker, "SUBJECT"},
		{"worker drain", func(c *Config) { c.DrainTimeout = 0 }, (*Config).ValidateForWorker, "DRAIN_TIMEOUT"},
		{"gateway ok", func(*Config) {}, (*Config).ValidateForGateway, ""},
		{"gateway routes", func(c *Config) { c.RoutesFile = "" }, (*Config).ValidateForGateway, "ROUTES_FILE"},
		{"gateway half tls", func(c *Config) { c.TLSKey = "k.pem" }, (*Config).ValidateForGateway, "TLS_KEY"},
		{"gateway rate", func(c *Config) { c.RateLimitRPS = 0 }, (*Config).ValidateForGateway, "RATE_LIMIT"},
		{"gateway rate disabled", func(c *Config) { c.RateLimitEnabled = false; c.RateLimitRPS = 0 }, (*Config).ValidateForGateway, ""},
		{"gateway ping", func(c *Config) { c.WSPingInterval = 0 }, (*Config).ValidateForGateway, "WS_PING_INTERVAL"},
		{"call timeout", func(c *Config) { c.RequestTimeout = 0 }, (*Config).ValidateForCall, "REQUEST_TIMEOUT"},
		{"db ok", func(*Config) {}, (*Config).ValidateForDB, ""},
		{"db missing", func(c *Config) { c.DatabaseURL = "" }, (*Config).ValidateForDB, "DATABASE_URL"},
		{"sign missing key", func(c *Config) { c.SecretKey = "" }, (*Config).ValidateForSign, "SECRET_KEY"},
		{"sign ttl", func(c *Config) { c.TokenTTL = 0 }, (*Config).ValidateForSign, "TOKEN_TTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := tt.check(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("config:config_test - unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("config:config_test - error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}
