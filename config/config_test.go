package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestFromYAML(t *testing.T) {
	path := writeConfig(t, `
network: testnet
bridge_coin: "0x2::sui::SUI"
wal_dir: /tmp/tidepool
listen_addr: ":9090"
poll_interval: 30s
registry:
  - pool_id: "0xabc"
    coin_a: "0x2::sui::SUI"
    coin_b: "0x2::usdc::USDC"
strategies:
  - name: weekly-sui
    source_token: "0x2::usdc::USDC"
    target_token: "0x2::sui::SUI"
    amount_per_order: 1000
    interval: 168h
    total_orders: 10
    min_price: "0.5"
    max_price: "2.5"
    max_slippage_bps: 50
    funding: 10000
`)

	cfg, err := fromYAML(path)
	require.NoError(t, err)
	cfg.applyDefaults()
	require.NoError(t, cfg.validate())

	require.Equal(t, "testnet", cfg.Network)
	require.Equal(t, ":9090", cfg.ListenAddr)
	require.Equal(t, 30*time.Second, cfg.PollInterval)
	require.Equal(t, 5*time.Second, cfg.PoolCacheTTL)
	require.Len(t, cfg.Registry, 1)

	params, err := cfg.Strategies[0].Params()
	require.NoError(t, err)
	require.Equal(t, 168*time.Hour, params.Interval)
	require.True(t, params.MinPrice.Equal(decimal.NewFromFloat(0.5)))
	require.True(t, params.MaxPrice.Equal(decimal.NewFromFloat(2.5)))
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	require.Equal(t, "localnet", cfg.Network)
	require.Equal(t, "0x2::sui::SUI", cfg.BridgeCoin)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, time.Minute, cfg.PollInterval)
	require.NoError(t, cfg.validate())
}

func TestValidateRejectsBadBridgeCoin(t *testing.T) {
	cfg := &Config{BridgeCoin: "not-a-coin-type"}
	cfg.applyDefaults()
	require.Error(t, cfg.validate())
}

func TestValidateRejectsBadRegistryEntry(t *testing.T) {
	cfg := &Config{Registry: []RegistryEntry{{CoinA: "0x2::sui::SUI", CoinB: "0x2::usdc::USDC"}}}
	cfg.applyDefaults()
	require.Error(t, cfg.validate(), "empty pool_id must be rejected")

	cfg = &Config{Registry: []RegistryEntry{{PoolID: "0xabc", CoinA: "bad", CoinB: "0x2::usdc::USDC"}}}
	cfg.applyDefaults()
	require.Error(t, cfg.validate())
}

func TestValidateRejectsBadStrategy(t *testing.T) {
	cfg := &Config{Strategies: []StrategySpec{{
		Name:           "broken",
		SourceToken:    "0x2::usdc::USDC",
		TargetToken:    "0x2::usdc::USDC",
		AmountPerOrder: 1000,
		Interval:       time.Hour,
		TotalOrders:    5,
	}}}
	cfg.applyDefaults()
	require.Error(t, cfg.validate())
}

func TestStrategySpecRejectsUnparsablePrice(t *testing.T) {
	spec := StrategySpec{
		Name:           "bad-price",
		SourceToken:    "0x2::usdc::USDC",
		TargetToken:    "0x2::sui::SUI",
		AmountPerOrder: 1000,
		Interval:       time.Hour,
		TotalOrders:    5,
		MinPrice:       "cheap",
	}
	_, err := spec.Params()
	require.Error(t, err)
}
