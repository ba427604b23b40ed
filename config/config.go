// Package config loads daemon configuration from a YAML file or CLI
// flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"tidepool/internal/domain"
)

// RegistryEntry pins a coin pair to a known pool id.
type RegistryEntry struct {
	PoolID string `yaml:"pool_id"`
	CoinA  string `yaml:"coin_a"`
	CoinB  string `yaml:"coin_b"`
}

// GenesisPool seeds the simulated backend with a funded pool.
type GenesisPool struct {
	CoinA   string `yaml:"coin_a"`
	CoinB   string `yaml:"coin_b"`
	AmountA uint64 `yaml:"amount_a"`
	AmountB uint64 `yaml:"amount_b"`
}

// StrategySpec declares a DCA strategy to create at startup.
type StrategySpec struct {
	Name           string        `yaml:"name"`
	SourceToken    string        `yaml:"source_token"`
	TargetToken    string        `yaml:"target_token"`
	AmountPerOrder uint64        `yaml:"amount_per_order"`
	Interval       time.Duration `yaml:"interval"`
	TotalOrders    int           `yaml:"total_orders"`
	MinPrice       string        `yaml:"min_price,omitempty"`
	MaxPrice       string        `yaml:"max_price,omitempty"`
	MaxSlippageBps uint64        `yaml:"max_slippage_bps"`
	Funding        uint64        `yaml:"funding"`
}

// Params converts the spec into validated domain parameters.
func (s StrategySpec) Params() (domain.StrategyParams, error) {
	minPrice, err := parsePrice(s.MinPrice)
	if err != nil {
		return domain.StrategyParams{}, fmt.Errorf("incorrect 'min_price' for strategy %q: %w", s.Name, err)
	}
	maxPrice, err := parsePrice(s.MaxPrice)
	if err != nil {
		return domain.StrategyParams{}, fmt.Errorf("incorrect 'max_price' for strategy %q: %w", s.Name, err)
	}
	params := domain.StrategyParams{
		Name:           s.Name,
		SourceToken:    domain.CoinType(s.SourceToken),
		TargetToken:    domain.CoinType(s.TargetToken),
		AmountPerOrder: s.AmountPerOrder,
		Interval:       s.Interval,
		TotalOrders:    s.TotalOrders,
		MinPrice:       minPrice,
		MaxPrice:       maxPrice,
		MaxSlippageBps: s.MaxSlippageBps,
	}
	return params, params.Validate()
}

// Config is the validated daemon configuration.
type Config struct {
	Network         string          `yaml:"network"`
	BridgeCoin      string          `yaml:"bridge_coin"`
	WALDir          string          `yaml:"wal_dir"`
	ListenAddr      string          `yaml:"listen_addr"`
	PollInterval    time.Duration   `yaml:"poll_interval"`
	PoolCacheTTL    time.Duration   `yaml:"pool_cache_ttl"`
	LocatorCacheTTL time.Duration   `yaml:"locator_cache_ttl"`
	Registry        []RegistryEntry `yaml:"registry,omitempty"`
	GenesisPools    []GenesisPool   `yaml:"genesis_pools,omitempty"`
	Strategies      []StrategySpec  `yaml:"strategies,omitempty"`
}

// Get loads configuration from --config when given, otherwise from CLI
// flags.
func Get() (*Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	network := flag.String("network", "localnet", "ledger network name")
	bridge := flag.String("bridge", "0x2::sui::SUI", "bridge coin type for one-hop routing")
	walDir := flag.String("waldir", "./wal", "directory for local WAL storage")
	listen := flag.String("listen", ":8080", "status server listen address")
	poll := flag.Duration("pollinterval", time.Minute, "dca scheduler poll interval")
	flag.Parse()

	var cfg *Config
	if *configPath != "" {
		loaded, err := fromYAML(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = &Config{
			Network:      *network,
			BridgeCoin:   *bridge,
			WALDir:       *walDir,
			ListenAddr:   *listen,
			PollInterval: *poll,
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromYAML(path string) (*Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(f, &cfg); err != nil {
		return nil, fmt.Errorf("incorrect yaml config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Network == "" {
		c.Network = "localnet"
	}
	if c.BridgeCoin == "" {
		c.BridgeCoin = "0x2::sui::SUI"
	}
	if c.WALDir == "" {
		c.WALDir = "./wal"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.PoolCacheTTL <= 0 {
		c.PoolCacheTTL = 5 * time.Second
	}
	if c.LocatorCacheTTL <= 0 {
		c.LocatorCacheTTL = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if _, err := domain.ParseCoinType(c.BridgeCoin); err != nil {
		return fmt.Errorf("incorrect 'bridge_coin' param: %w", err)
	}
	for _, e := range c.Registry {
		if e.PoolID == "" {
			return fmt.Errorf("registry entry for %s/%s has empty pool_id", e.CoinA, e.CoinB)
		}
		if _, err := domain.ParseCoinType(e.CoinA); err != nil {
			return fmt.Errorf("incorrect registry coin type: %w", err)
		}
		if _, err := domain.ParseCoinType(e.CoinB); err != nil {
			return fmt.Errorf("incorrect registry coin type: %w", err)
		}
	}
	for _, s := range c.Strategies {
		if _, err := s.Params(); err != nil {
			return err
		}
	}
	return nil
}

func parsePrice(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
