package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

type Config struct {
	Port                   int    `env:"PORT" envDefault:"8080"`
	StoreBackend           string `env:"STORE_BACKEND" envDefault:"postgres"`
	DatabaseURL            string `env:"DATABASE_URL"`
	RedisURL               string `env:"REDIS_URL"`
	RelayAPIKey            string `env:"RELAY_API_KEY"`
	RelayAPIKeyHash        string `env:"RELAY_API_KEY_HASH"`
	VerificationSecret     string `env:"VERIFICATION_SECRET"`
	PairingCodePrefix      string `env:"PAIRING_CODE_PREFIX" envDefault:"CORA"`
	PairingCodeTTLSeconds  int    `env:"PAIRING_CODE_TTL_SECONDS" envDefault:"300"`
	PresenceStaleSeconds   int    `env:"PRESENCE_STALE_SECONDS" envDefault:"60"`
	CommandLeaseSeconds    int    `env:"COMMAND_LEASE_SECONDS" envDefault:"600"`
	PairingRateLimitPerMin int    `env:"PAIRING_RATE_LIMIT_PER_MIN" envDefault:"20"`
	LogLevel               string `env:"LOG_LEVEL" envDefault:"info"`
	MigrateOnStart         bool   `env:"MIGRATE_ON_START" envDefault:"true"`
}

func (c *Config) PairingCodeTTL() time.Duration {
	return time.Duration(c.PairingCodeTTLSeconds) * time.Second
}

func (c *Config) PresenceStaleWindow() time.Duration {
	return time.Duration(c.PresenceStaleSeconds) * time.Second
}

func (c *Config) CommandLease() time.Duration {
	return time.Duration(c.CommandLeaseSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	switch c.StoreBackend {
	case StoreBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=%s", StoreBackendPostgres)
		}
	case StoreBackendMemory:
		if isProduction {
			return fmt.Errorf("STORE_BACKEND=%s is not allowed in production", StoreBackendMemory)
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreBackendPostgres, StoreBackendMemory, c.StoreBackend)
	}

	if c.RelayAPIKey == "" && c.RelayAPIKeyHash == "" {
		return fmt.Errorf("one of RELAY_API_KEY or RELAY_API_KEY_HASH must be set")
	}

	if c.RelayAPIKeyHash != "" {
		if !strings.HasPrefix(c.RelayAPIKeyHash, "$2a$") &&
			!strings.HasPrefix(c.RelayAPIKeyHash, "$2b$") &&
			!strings.HasPrefix(c.RelayAPIKeyHash, "$2y$") {
			return fmt.Errorf("RELAY_API_KEY_HASH must be a bcrypt hash (generate with: go run scripts/hash-key.go <key>)")
		}
	}

	if c.PairingCodeTTLSeconds <= 0 {
		return fmt.Errorf("PAIRING_CODE_TTL_SECONDS must be positive")
	}
	if c.PresenceStaleSeconds <= 0 {
		return fmt.Errorf("PRESENCE_STALE_SECONDS must be positive")
	}

	if isProduction {
		if err := validateSecret("VERIFICATION_SECRET", c.VerificationSecret); err != nil {
			return err
		}
		if c.RelayAPIKey != "" {
			if err := validateSecret("RELAY_API_KEY", c.RelayAPIKey); err != nil {
				return err
			}
		}

		if c.RedisURL == "" {
			log.Warn().Msg("REDIS_URL is empty in production: pairing rate limits are per-instance only")
		} else if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
