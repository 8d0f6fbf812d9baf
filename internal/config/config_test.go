package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Admin.Address = "0x00000000000000000000000000000000000000ad"
	cfg.Signer.Address = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	return cfg
}

func TestDefaultsValidateWithIdentities(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "turbo"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateRelayNeedsKey(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "relay"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private_key or encrypted_key_path")
}

func TestValidateFeedBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Feeds = []FeedConfig{{
		Address:          "0x00000000000000000000000000000000000000e1",
		PayoutMultiplier: 25_000,
		MinimumDuration:  600,
		MaximumDuration:  60,
		Enabled:          true,
	}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payout_multiplier")
	assert.Contains(t, err.Error(), "minimum_duration exceeds maximum_duration")
}

func TestValidateErc20BackendRequirements(t *testing.T) {
	cfg := validConfig()
	cfg.Token.Backend = "erc20"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc_url")
	assert.Contains(t, err.Error(), "contract")
	assert.Contains(t, err.Error(), "operator_key")
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "serve"
log_level = "debug"

[admin]
address = "0x00000000000000000000000000000000000000ad"

[signer]
address = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

[[feeds]]
address = "0x00000000000000000000000000000000000000e1"
description = "ETH/USD"
decimals = 8
minimum_deposit = "1000000000000000000"
payout_multiplier = 19000
minimum_duration = 60
maximum_duration = 3600
fee_fraction = 0
enabled = true

[feeds.duration_multipliers]
"300" = 19000
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("CLEARSTRIKE_SERVER_PORT", "9100")
	t.Setenv("CLEARSTRIKE_REDIS_ADDR", "redis.internal:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "serve", cfg.Mode)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	require.Len(t, cfg.Feeds, 1)
	assert.Equal(t, uint64(19000), cfg.Feeds[0].DurationMultipliers["300"])
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Signer.PrivateKey = "supersecret"
	cfg.Postgres.Password = "hunter2"
	cfg.Server.AuthToken = "token"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Signer.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Server.AuthToken)

	// The original is untouched.
	assert.Equal(t, "supersecret", cfg.Signer.PrivateKey)
}
