package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	commonerrors "github.com/ClipFinance/gas-relay/common/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, rest, err := Parse([]string{"relay", "request.json"})
	require.NoError(t, err)

	assert.Equal(t, []string{"relay", "request.json"}, rest)
	assert.Equal(t, RelayConfigDefault.Nonce.SyncTTL, cfg.Nonce.SyncTTL)
	assert.Equal(t, 3, cfg.Executor.MaxRetries)
	assert.Equal(t, uint64(10), cfg.Relay.DeviationPercent)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Ordered)

	override, err := cfg.BalanceOverride()
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000000000", override.String())
}

func TestParseFlags(t *testing.T) {
	cfg, rest, err := Parse([]string{
		"fund", "--chain.chain-id", "59144",
		"--chain.rpc-url", "http://localhost:8545",
		"--executor.max-retries", "5",
		"--nonce.sync-ttl", "2s",
		"--ordered",
		"0x0000000000000000000000000000000000000001",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"fund", "0x0000000000000000000000000000000000000001"}, rest)
	assert.Equal(t, uint64(59144), cfg.Chain.ChainID)
	assert.Equal(t, 5, cfg.Executor.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Nonce.SyncTTL)
	assert.True(t, cfg.Ordered)

	chain := cfg.ChainConfig()
	assert.Equal(t, uint64(59144), chain.ChainID)
	assert.Equal(t, "http://localhost:8545", chain.RpcUrl)
}

func TestParseFileEnvAndFlagPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.json")
	contents := `{
		"chain": {"chain-id": 1, "rpc-url": "http://file:8545", "wait-n-blocks": 4},
		"relay": {"deviation-percent": 20, "fund-amount-wei": "1000"},
		"executor": {"max-retries": 7}
	}`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	t.Setenv("GASRELAY_CHAIN__RPC_URL", "http://env:8545")
	t.Setenv("GASRELAY_EXECUTOR__MAX_RETRIES", "8")

	cfg, _, err := Parse([]string{
		"--conf.file", path,
		"--conf.env-prefix", "GASRELAY",
		"--executor.max-retries", "9",
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), cfg.Chain.ChainID)
	assert.Equal(t, uint64(4), cfg.Chain.WaitNBlocks)
	assert.Equal(t, uint64(20), cfg.Relay.DeviationPercent)
	assert.Equal(t, "http://env:8545", cfg.Chain.RpcUrl)
	assert.Equal(t, 9, cfg.Executor.MaxRetries)

	amount, err := cfg.FundAmount()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), amount.Int64())
}

func TestParseMissingFile(t *testing.T) {
	_, _, err := Parse([]string{"--conf.file", filepath.Join(t.TempDir(), "missing.json")})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *RelayConfig)
	}{
		{"deviation above 100", func(c *RelayConfig) { c.Relay.DeviationPercent = 101 }},
		{"no retries", func(c *RelayConfig) { c.Executor.MaxRetries = 0 }},
		{"zero sync ttl", func(c *RelayConfig) { c.Nonce.SyncTTL = 0 }},
		{"zero poll interval", func(c *RelayConfig) { c.Sequencer.PollInterval = 0 }},
		{"zero health check", func(c *RelayConfig) { c.Monitor.HealthCheckInterval = 0 }},
		{"unknown tx type", func(c *RelayConfig) { c.Chain.TxType = 1 }},
		{"negative fund amount", func(c *RelayConfig) { c.Relay.FundAmountWei = "-1" }},
		{"garbage fund amount", func(c *RelayConfig) { c.Relay.FundAmountWei = "1e18" }},
		{"zero balance override", func(c *RelayConfig) { c.Relay.BalanceOverrideWei = "0" }},
		{"unknown log format", func(c *RelayConfig) { c.LogFormat = "xml" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := RelayConfigDefault
			tc.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), commonerrors.ErrInvalidConfig)
		})
	}

	cfg := RelayConfigDefault
	require.NoError(t, cfg.Validate())
}
