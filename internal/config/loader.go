package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CLEARSTRIKE_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CLEARSTRIKE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Admin ──
	setStr(&cfg.Admin.Address, "CLEARSTRIKE_ADMIN_ADDRESS")
	setStr(&cfg.Admin.FeeReceiver, "CLEARSTRIKE_ADMIN_FEE_RECEIVER")

	// ── Signer ──
	setStr(&cfg.Signer.Address, "CLEARSTRIKE_SIGNER_ADDRESS")
	setStr(&cfg.Signer.PrivateKey, "CLEARSTRIKE_SIGNER_PRIVATE_KEY")
	setStr(&cfg.Signer.EncryptedKeyPath, "CLEARSTRIKE_SIGNER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Signer.KeyPassword, "CLEARSTRIKE_SIGNER_KEY_PASSWORD")

	// ── Token ──
	setStr(&cfg.Token.Backend, "CLEARSTRIKE_TOKEN_BACKEND")
	setStr(&cfg.Token.RPCURL, "CLEARSTRIKE_TOKEN_RPC_URL")
	setStr(&cfg.Token.Contract, "CLEARSTRIKE_TOKEN_CONTRACT")
	setStr(&cfg.Token.OperatorKey, "CLEARSTRIKE_TOKEN_OPERATOR_KEY")
	setInt64(&cfg.Token.ChainID, "CLEARSTRIKE_TOKEN_CHAIN_ID")
	setStr(&cfg.Token.PoolAddress, "CLEARSTRIKE_TOKEN_POOL_ADDRESS")

	// ── Engine ──
	setUint64(&cfg.Engine.PriceExpiryThreshold, "CLEARSTRIKE_ENGINE_PRICE_EXPIRY_THRESHOLD")
	setUint64(&cfg.Engine.MaxReserveFraction, "CLEARSTRIKE_ENGINE_MAX_RESERVE_FRACTION")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "CLEARSTRIKE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "CLEARSTRIKE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CLEARSTRIKE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CLEARSTRIKE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CLEARSTRIKE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CLEARSTRIKE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CLEARSTRIKE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CLEARSTRIKE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CLEARSTRIKE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CLEARSTRIKE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CLEARSTRIKE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CLEARSTRIKE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CLEARSTRIKE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CLEARSTRIKE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CLEARSTRIKE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CLEARSTRIKE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CLEARSTRIKE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CLEARSTRIKE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CLEARSTRIKE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CLEARSTRIKE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CLEARSTRIKE_S3_REGION")
	setStr(&cfg.S3.Bucket, "CLEARSTRIKE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CLEARSTRIKE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CLEARSTRIKE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CLEARSTRIKE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CLEARSTRIKE_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CLEARSTRIKE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CLEARSTRIKE_SERVER_PORT")
	setStr(&cfg.Server.AuthToken, "CLEARSTRIKE_SERVER_AUTH_TOKEN")
	setStringSlice(&cfg.Server.CORSOrigins, "CLEARSTRIKE_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "CLEARSTRIKE_SERVER_RATE_LIMIT")
	setInt(&cfg.Server.RateWindowSec, "CLEARSTRIKE_SERVER_RATE_WINDOW_SEC")

	// ── Relayer ──
	setBool(&cfg.Relayer.Enabled, "CLEARSTRIKE_RELAYER_ENABLED")
	setStr(&cfg.Relayer.SourceWSURL, "CLEARSTRIKE_RELAYER_SOURCE_WS_URL")
	setStringSlice(&cfg.Relayer.Symbols, "CLEARSTRIKE_RELAYER_SYMBOLS")
	setDuration(&cfg.Relayer.PushInterval, "CLEARSTRIKE_RELAYER_PUSH_INTERVAL")
	setDuration(&cfg.Relayer.LockTTL, "CLEARSTRIKE_RELAYER_LOCK_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CLEARSTRIKE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CLEARSTRIKE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CLEARSTRIKE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CLEARSTRIKE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CLEARSTRIKE_MODE")
	setStr(&cfg.LogLevel, "CLEARSTRIKE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
