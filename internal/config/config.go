// Package config defines the top-level configuration for the clearstrike
// settlement engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CLEARSTRIKE_* environment variables.
type Config struct {
	Admin    AdminConfig    `toml:"admin"`
	Signer   SignerConfig   `toml:"signer"`
	Token    TokenConfig    `toml:"token"`
	Engine   EngineConfig   `toml:"engine"`
	Feeds    []FeedConfig   `toml:"feeds"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Relayer  RelayerConfig  `toml:"relayer"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// AdminConfig identifies the engine administrator and the fee receiver.
type AdminConfig struct {
	Address     string `toml:"address"`
	FeeReceiver string `toml:"fee_receiver"`
}

// SignerConfig holds the trusted oracle signer. Address is the only field the
// verifying side needs; the private-key fields are required for relay mode.
type SignerConfig struct {
	Address          string `toml:"address"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// TokenConfig selects the collateral backend: an in-process ledger for
// development, or an on-chain ERC-20 contract.
type TokenConfig struct {
	Backend     string `toml:"backend"` // "memory" or "erc20"
	RPCURL      string `toml:"rpc_url"`
	Contract    string `toml:"contract"`
	OperatorKey string `toml:"operator_key"`
	ChainID     int64  `toml:"chain_id"`
	PoolAddress string `toml:"pool_address"`
}

// EngineConfig holds global settlement-engine parameters. Fractions use the
// engine's fixed-point base of 10,000.
type EngineConfig struct {
	PriceExpiryThreshold uint64 `toml:"price_expiry_threshold"` // seconds
	MaxReserveFraction   uint64 `toml:"max_reserve_fraction"`
}

// FeedConfig declares one price feed and its trading parameters. Deposit
// amounts are decimal strings in the collateral token's smallest unit.
type FeedConfig struct {
	Address              string `toml:"address"`
	Description          string `toml:"description"`
	Decimals             uint8  `toml:"decimals"`
	MinimumDeposit       string `toml:"minimum_deposit"`
	PayoutMultiplier     uint64 `toml:"payout_multiplier"`
	MinimumDuration      uint64 `toml:"minimum_duration"` // seconds
	MaximumDuration      uint64 `toml:"maximum_duration"` // seconds
	PriceExpiryThreshold uint64 `toml:"price_expiry_threshold"`
	FeeFraction          uint64 `toml:"fee_fraction"`
	Enabled              bool   `toml:"enabled"`

	// DurationMultipliers maps a duration in seconds to the payout
	// multiplier that overrides the static one for that exact duration.
	DurationMultipliers map[string]uint64 `toml:"duration_multipliers"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the settlement
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled       bool     `toml:"enabled"`
	Port          int      `toml:"port"`
	AuthToken     string   `toml:"auth_token"`
	CORSOrigins   []string `toml:"cors_origins"`
	RateLimit     int      `toml:"rate_limit"` // requests per window per client, 0 disables
	RateWindowSec int      `toml:"rate_window_sec"`
}

// RelayerConfig holds parameters for the price relayer loop.
type RelayerConfig struct {
	Enabled      bool     `toml:"enabled"`
	SourceWSURL  string   `toml:"source_ws_url"`
	Symbols      []string `toml:"symbols"` // source symbol per feed, aligned with feeds order
	PushInterval duration `toml:"push_interval"`
	LockTTL      duration `toml:"lock_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Token: TokenConfig{
			Backend: "memory",
			ChainID: 1,
		},
		Engine: EngineConfig{
			PriceExpiryThreshold: 60,
			MaxReserveFraction:   10_000,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "clearstrike",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "clearstrike-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:       true,
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:     0,
			RateWindowSec: 60,
		},
		Relayer: RelayerConfig{
			Enabled:      false,
			SourceWSURL:  "wss://stream.binance.com:9443/ws",
			PushInterval: duration{5 * time.Second},
			LockTTL:      duration{30 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_settled", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve": true,
	"relay": true,
	"full":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, relay, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Admin
	if c.Admin.Address == "" {
		errs = append(errs, "admin: address must not be empty")
	}

	// Signer — the verifying side always needs the address; relay mode also
	// needs key material to sign rounds.
	if c.Signer.Address == "" && c.Signer.PrivateKey == "" && c.Signer.EncryptedKeyPath == "" {
		errs = append(errs, "signer: one of address, private_key, or encrypted_key_path must be set")
	}
	needsKey := c.Mode == "relay" || (c.Mode == "full" && c.Relayer.Enabled)
	if needsKey {
		if c.Signer.PrivateKey == "" && c.Signer.EncryptedKeyPath == "" {
			errs = append(errs, "signer: private_key or encrypted_key_path is required for relay mode")
		}
		if c.Signer.EncryptedKeyPath != "" && c.Signer.KeyPassword == "" {
			errs = append(errs, "signer: key_password is required when encrypted_key_path is set")
		}
	}

	// Token
	switch strings.ToLower(c.Token.Backend) {
	case "memory":
	case "erc20":
		if c.Token.RPCURL == "" {
			errs = append(errs, "token: rpc_url is required for the erc20 backend")
		}
		if c.Token.Contract == "" {
			errs = append(errs, "token: contract is required for the erc20 backend")
		}
		if c.Token.OperatorKey == "" {
			errs = append(errs, "token: operator_key is required for the erc20 backend")
		}
		if c.Token.ChainID <= 0 {
			errs = append(errs, "token: chain_id must be positive for the erc20 backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("token: unknown backend %q (valid: memory, erc20)", c.Token.Backend))
	}

	// Engine
	if c.Engine.MaxReserveFraction == 0 || c.Engine.MaxReserveFraction > 10_000 {
		errs = append(errs, fmt.Sprintf("engine: max_reserve_fraction must be 1-10000, got %d", c.Engine.MaxReserveFraction))
	}

	// Feeds
	for i, f := range c.Feeds {
		if f.Address == "" {
			errs = append(errs, fmt.Sprintf("feeds[%d]: address must not be empty", i))
		}
		if f.Enabled {
			if f.PayoutMultiplier <= 10_000 || f.PayoutMultiplier > 20_000 {
				errs = append(errs, fmt.Sprintf("feeds[%d]: payout_multiplier must be 10001-20000, got %d", i, f.PayoutMultiplier))
			}
			if f.MinimumDuration > f.MaximumDuration {
				errs = append(errs, fmt.Sprintf("feeds[%d]: minimum_duration exceeds maximum_duration", i))
			}
			if f.FeeFraction > 10_000 {
				errs = append(errs, fmt.Sprintf("feeds[%d]: fee_fraction must be <= 10000, got %d", i, f.FeeFraction))
			}
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindowSec <= 0 {
			errs = append(errs, "server: rate_window_sec must be > 0 when rate_limit is set")
		}
	}

	// Relayer
	if c.Relayer.Enabled {
		if c.Relayer.SourceWSURL == "" {
			errs = append(errs, "relayer: source_ws_url must not be empty when enabled")
		}
		if c.Relayer.PushInterval.Duration <= 0 {
			errs = append(errs, "relayer: push_interval must be > 0")
		}
		if len(c.Relayer.Symbols) > 0 && len(c.Relayer.Symbols) != len(c.Feeds) {
			errs = append(errs, fmt.Sprintf("relayer: symbols length %d must match feeds length %d", len(c.Relayer.Symbols), len(c.Feeds)))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
