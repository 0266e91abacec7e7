package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tolelom/lastout/crypto"
	"github.com/tolelom/lastout/escrow"
	"github.com/tolelom/lastout/logging"
)

// EnvPrefix prefixes every environment override, e.g. LASTOUT_RPC_PORT.
const EnvPrefix = "LASTOUT"

// PasswordEnv names the variable holding the keystore password.
const PasswordEnv = EnvPrefix + "_PASSWORD"

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID string `json:"chain_id" mapstructure:"chain_id"`
	// Timestamp is the genesis block time in Unix seconds.
	Timestamp int64 `json:"timestamp" mapstructure:"timestamp"`
	// Alloc maps address to initial balance.
	Alloc  map[string]uint64 `json:"alloc" mapstructure:"alloc"`
	Escrow escrow.Params     `json:"escrow" mapstructure:"escrow"`
}

// PeerConfig identifies a node to connect to on startup.
type PeerConfig struct {
	ID   string `json:"id" mapstructure:"id"`
	Addr string `json:"addr" mapstructure:"addr"`
}

// Config holds all node configuration.
type Config struct {
	NodeID        string         `json:"node_id" mapstructure:"node_id"`
	DataDir       string         `json:"data_dir" mapstructure:"data_dir"`
	RPCPort       int            `json:"rpc_port" mapstructure:"rpc_port"`
	RPCAuthToken  string         `json:"rpc_auth_token,omitempty" mapstructure:"rpc_auth_token"`
	P2PPort       int            `json:"p2p_port" mapstructure:"p2p_port"` // 0 → no P2P listener
	SeedPeers     []PeerConfig   `json:"seed_peers" mapstructure:"seed_peers"`
	TLS           TLSConfig      `json:"tls" mapstructure:"tls"` // P2P mTLS; empty → plain TCP
	BlockInterval time.Duration  `json:"block_interval" mapstructure:"block_interval"`
	MaxBlockTxs   int            `json:"max_block_txs" mapstructure:"max_block_txs"` // 0 → 500
	Validators    []string       `json:"validators" mapstructure:"validators"`       // proposer addresses
	Log           logging.Config `json:"log" mapstructure:"log"`
	Genesis       GenesisConfig  `json:"genesis" mapstructure:"genesis"`
}

// DefaultConfig returns a single-node development configuration. The escrow
// roles are left empty and must be configured before the first start.
func DefaultConfig() *Config {
	return &Config{
		NodeID:        "node0",
		DataDir:       "./data",
		RPCPort:       8545,
		P2PPort:       30303,
		BlockInterval: 2 * time.Second,
		MaxBlockTxs:   500,
		Log: logging.Config{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Genesis: GenesisConfig{
			ChainID: "lastout-dev",
			Alloc:   map[string]uint64{},
			Escrow: escrow.Params{
				Implementation: "lastout-escrow-v4",
				StakeAmount:    1_000_000,
				CommissionMode: "fixed",
			},
		},
	}
}

// NewViper returns a viper instance seeded with DefaultConfig and reading
// LASTOUT_* environment overrides.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("node_id", d.NodeID)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("rpc_port", d.RPCPort)
	v.SetDefault("rpc_auth_token", d.RPCAuthToken)
	v.SetDefault("p2p_port", d.P2PPort)
	v.SetDefault("tls.ca_cert", "")
	v.SetDefault("tls.node_cert", "")
	v.SetDefault("tls.node_key", "")
	v.SetDefault("block_interval", d.BlockInterval)
	v.SetDefault("max_block_txs", d.MaxBlockTxs)
	v.SetDefault("validators", d.Validators)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
	v.SetDefault("genesis.chain_id", d.Genesis.ChainID)
	v.SetDefault("genesis.timestamp", d.Genesis.Timestamp)
	v.SetDefault("genesis.escrow.owner", "")
	v.SetDefault("genesis.escrow.backend", "")
	v.SetDefault("genesis.escrow.commission_recipient", "")
	v.SetDefault("genesis.escrow.implementation", d.Genesis.Escrow.Implementation)
	v.SetDefault("genesis.escrow.stake_amount", d.Genesis.Escrow.StakeAmount)
	v.SetDefault("genesis.escrow.commission_mode", string(d.Genesis.Escrow.CommissionMode))
	v.SetDefault("genesis.escrow.commission_amount", d.Genesis.Escrow.CommissionAmount)
	v.SetDefault("genesis.escrow.commission_bps", d.Genesis.Escrow.CommissionBps)
	v.SetDefault("genesis.escrow.referral_bps", d.Genesis.Escrow.ReferralBps)
	v.SetDefault("genesis.escrow.required_player_count", d.Genesis.Escrow.RequiredPlayerCount)
	return v
}

// Load reads path (JSON or YAML, by extension) into v, then decodes and
// validates the result. An empty path uses defaults and environment only.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Genesis.Alloc == nil {
		cfg.Genesis.Alloc = map[string]uint64{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the node settings. Escrow parameters are validated at
// genesis, where defaults such as the commission recipient are applied.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir required")
	}
	if c.RPCPort < 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port out of range: %d", c.RPCPort)
	}
	if c.P2PPort < 0 || c.P2PPort > 65535 {
		return fmt.Errorf("p2p_port out of range: %d", c.P2PPort)
	}
	for i, p := range c.SeedPeers {
		if p.ID == "" || p.Addr == "" {
			return fmt.Errorf("seed_peers[%d]: id and addr required", i)
		}
	}
	if err := c.TLS.validate(); err != nil {
		return err
	}
	if c.BlockInterval <= 0 {
		return fmt.Errorf("block_interval must be positive, got %s", c.BlockInterval)
	}
	if c.Genesis.ChainID == "" {
		return errors.New("genesis.chain_id required")
	}
	for i, v := range c.Validators {
		addr, err := crypto.NormalizeAddress(v)
		if err != nil {
			return fmt.Errorf("validators[%d]: %w", i, err)
		}
		c.Validators[i] = addr
	}
	for addr := range c.Genesis.Alloc {
		if _, err := crypto.NormalizeAddress(addr); err != nil {
			return fmt.Errorf("genesis.alloc: %w", err)
		}
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
