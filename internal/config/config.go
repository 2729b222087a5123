// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Persistence (both optional; in-memory stores are used when unset)
	DatabaseURL string // PostgreSQL connection string
	RedisURL    string // Redis URL for challenge nonces and active sessions

	// Ledger network
	HorizonURL        string // Transaction submission endpoint
	NetworkPassphrase string // Expected network; wallets on another network are rejected

	// Wallet and auth policy
	SignTimeout  time.Duration // Bound on user-interactive signature approval
	ChallengeTTL time.Duration // Challenge nonce lifetime
	SessionTTL   time.Duration // Auth session token lifetime
	TokenSecret  string        // HMAC secret for session tokens

	// Escrow policy
	RefundScanInterval time.Duration // How often to scan for refund-eligible agreements
}

// Testnet defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultHorizonURL        = "https://horizon-testnet.lumenlock.dev"
	DefaultNetworkPassphrase = "LumenLock Test Network ; August 2026"
)

// Load reads configuration from environment variables.
// It loads a .env file first if one is present (local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		HorizonURL:         getEnv("HORIZON_URL", DefaultHorizonURL),
		NetworkPassphrase:  getEnv("NETWORK_PASSPHRASE", DefaultNetworkPassphrase),
		SignTimeout:        getEnvDuration("SIGN_TIMEOUT", 60*time.Second),
		ChallengeTTL:       getEnvDuration("CHALLENGE_TTL", 5*time.Minute),
		SessionTTL:         getEnvDuration("SESSION_TTL", time.Hour),
		TokenSecret:        os.Getenv("TOKEN_SECRET"),
		RefundScanInterval: getEnvDuration("REFUND_SCAN_INTERVAL", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.TokenSecret == "" {
		if c.IsProduction() {
			return fmt.Errorf("TOKEN_SECRET is required in production")
		}
		// Deterministic dev secret so restarts keep sessions valid locally.
		c.TokenSecret = "lumenlock-dev-secret"
	}
	if c.HorizonURL == "" {
		return fmt.Errorf("HORIZON_URL is required")
	}
	if c.NetworkPassphrase == "" {
		return fmt.Errorf("NETWORK_PASSPHRASE is required")
	}
	if c.SignTimeout <= 0 {
		return fmt.Errorf("SIGN_TIMEOUT must be positive")
	}
	return nil
}

// IsDevelopment returns true when running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Allow plain seconds for convenience.
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
