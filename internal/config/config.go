package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`

	TemplateLimit          int           `mapstructure:"TEMPLATE_LIMIT"`
	TemplateCacheTTL       time.Duration `mapstructure:"TEMPLATE_CACHE_TTL"`
	TemplateRetryAttempts  int           `mapstructure:"TEMPLATE_RETRY_ATTEMPTS"`
	TemplateRetryBaseDelay time.Duration `mapstructure:"TEMPLATE_RETRY_BASE_DELAY"`

	// Used by the templates client commands.
	APIURL   string `mapstructure:"MEDIMIND_API_URL"`
	APIToken string `mapstructure:"MEDIMIND_TOKEN"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT",
	"TEMPLATE_LIMIT", "TEMPLATE_CACHE_TTL", "TEMPLATE_RETRY_ATTEMPTS", "TEMPLATE_RETRY_BASE_DELAY",
	"MEDIMIND_API_URL", "MEDIMIND_TOKEN",
}

// Load reads configuration from the environment and an optional .env file in
// the working directory. Environment variables win.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "256K")
	v.SetDefault("TEMPLATE_LIMIT", 50)
	v.SetDefault("TEMPLATE_CACHE_TTL", "5m")
	v.SetDefault("TEMPLATE_RETRY_ATTEMPTS", 3)
	v.SetDefault("TEMPLATE_RETRY_BASE_DELAY", "1s")
	v.SetDefault("MEDIMIND_API_URL", "http://localhost:8000")

	// Unmarshal only sees env vars that are bound.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env file is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(strings.Join(cfg.CORSOrigins, ","))

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SigningKey decodes AUTH_SIGNING_KEY. It returns nil when no key is set.
func (c *Config) SigningKey() ([]byte, error) {
	if c.AuthSigningKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.AuthSigningKey)
	if err != nil {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	return key, nil
}

// RequireDatabase reports a missing DATABASE_URL for commands that talk to
// Postgres.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// Validate checks the settings the server needs. Outside development a token
// verifier must be configured: a signing key, a JWKS URL, or an issuer whose
// discovery document names one.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must be set")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) and DB_MAX_CONNS (%d) must satisfy 0 <= min <= max, max > 0",
			c.DBMinConns, c.DBMaxConns)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.TemplateLimit <= 0 {
		return fmt.Errorf("TEMPLATE_LIMIT must be positive, got %d", c.TemplateLimit)
	}
	if c.TemplateCacheTTL <= 0 {
		return fmt.Errorf("TEMPLATE_CACHE_TTL must be positive, got %s", c.TemplateCacheTTL)
	}
	if c.TemplateRetryAttempts <= 0 {
		return fmt.Errorf("TEMPLATE_RETRY_ATTEMPTS must be positive, got %d", c.TemplateRetryAttempts)
	}
	if c.TemplateRetryBaseDelay < 0 {
		return fmt.Errorf("TEMPLATE_RETRY_BASE_DELAY must not be negative")
	}
	if _, err := c.SigningKey(); err != nil {
		return err
	}
	if c.IsProduction() && c.AuthIssuer == "" {
		return fmt.Errorf("AUTH_ISSUER is required in production")
	}
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" && c.AuthIssuer == "" {
		return fmt.Errorf("ENV=%q requires AUTH_SIGNING_KEY, AUTH_JWKS_URL or AUTH_ISSUER", c.Env)
	}
	return nil
}
