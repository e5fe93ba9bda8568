package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int `yaml:"port"`
	ReadTimeoutMS     int `yaml:"read_timeout_ms"`
	WriteTimeoutMS    int `yaml:"write_timeout_ms"`
	ShutdownTimeoutMS int `yaml:"shutdown_timeout_ms"`
}

// ChainConfig points at the Aptos fullnode and the account update stream.
type ChainConfig struct {
	FullnodeURL   string `yaml:"fullnode_url"`
	StreamURL     string `yaml:"stream_url"`
	ModuleAddress string `yaml:"module_address"` // address hosting the trading/vault modules
	TxTimeoutSec  int    `yaml:"tx_timeout_sec"` // finality wait per submitted transaction
}

// ReplicatorConfig controls the position replication engine.
type ReplicatorConfig struct {
	RetryDelaySec    int    `yaml:"retry_delay_sec"`   // fixed delay before restarting a failed session
	SizingMode       string `yaml:"sizing_mode"`       // "proportional" or "fixed" (1:1)
	CollateralBps    int    `yaml:"collateral_bps"`    // fallback collateral as bps of size when leader ratio unknown
	PreserveLeverage bool   `yaml:"preserve_leverage"` // copy the leader's collateral/size ratio when available
	MinSizeBaseUnits string `yaml:"min_size_base_units"`
}

// LeaderConfig is one lead trader to mirror at startup.
type LeaderConfig struct {
	Address string `yaml:"address"`
	VaultID string `yaml:"vault_id"`
}

// Config aggregates all app configuration knobs.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Chain      ChainConfig      `yaml:"chain"`
	Replicator ReplicatorConfig `yaml:"replicator"`
	Leaders    []LeaderConfig   `yaml:"leaders"`
}

// Load reads configuration from disk, falling back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	configPath := path
	if configPath == "" {
		configPath = filepath.Join("config", "default.yaml")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: unable to read %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unable to parse %s: %w", configPath, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns baseline configuration values.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:              8082,
			ReadTimeoutMS:     10000,
			WriteTimeoutMS:    10000,
			ShutdownTimeoutMS: 5000,
		},
		Chain: ChainConfig{
			FullnodeURL:  "https://fullnode.mainnet.aptoslabs.com/v1",
			StreamURL:    "wss://stream.aptos-mirror.local/v1/accounts",
			TxTimeoutSec: 30,
		},
		Replicator: ReplicatorConfig{
			RetryDelaySec:    10,
			SizingMode:       "proportional",
			CollateralBps:    1000, // 10% of size when the leader's ratio is unknown
			PreserveLeverage: true,
			MinSizeBaseUnits: "0",
		},
	}
}

func (c *Config) applyDefaults() {
	def := Default()

	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.ReadTimeoutMS == 0 {
		c.Server.ReadTimeoutMS = def.Server.ReadTimeoutMS
	}
	if c.Server.WriteTimeoutMS == 0 {
		c.Server.WriteTimeoutMS = def.Server.WriteTimeoutMS
	}
	if c.Server.ShutdownTimeoutMS == 0 {
		c.Server.ShutdownTimeoutMS = def.Server.ShutdownTimeoutMS
	}

	if c.Chain.FullnodeURL == "" {
		c.Chain.FullnodeURL = def.Chain.FullnodeURL
	}
	if c.Chain.StreamURL == "" {
		c.Chain.StreamURL = def.Chain.StreamURL
	}
	if c.Chain.TxTimeoutSec == 0 {
		c.Chain.TxTimeoutSec = def.Chain.TxTimeoutSec
	}

	if c.Replicator.RetryDelaySec == 0 {
		c.Replicator.RetryDelaySec = def.Replicator.RetryDelaySec
	}
	if c.Replicator.SizingMode == "" {
		c.Replicator.SizingMode = def.Replicator.SizingMode
	}
	if c.Replicator.CollateralBps == 0 {
		c.Replicator.CollateralBps = def.Replicator.CollateralBps
	}
	if c.Replicator.MinSizeBaseUnits == "" {
		c.Replicator.MinSizeBaseUnits = def.Replicator.MinSizeBaseUnits
	}
}

func (c *Config) validate() error {
	switch c.Replicator.SizingMode {
	case "proportional", "fixed":
	default:
		return fmt.Errorf("config: unknown sizing_mode %q (want proportional or fixed)", c.Replicator.SizingMode)
	}
	for _, l := range c.Leaders {
		if l.Address == "" || l.VaultID == "" {
			return fmt.Errorf("config: leader entries need both address and vault_id")
		}
	}
	return nil
}
