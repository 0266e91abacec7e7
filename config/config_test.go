package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tolelom/lastout/crypto"
	"github.com/tolelom/lastout/escrow"
	"github.com/tolelom/lastout/internal/testutil"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().RPCPort, cfg.RPCPort)
	require.Equal(t, 2*time.Second, cfg.BlockInterval)
	require.Equal(t, "lastout-dev", cfg.Genesis.ChainID)
	require.NotNil(t, cfg.Genesis.Alloc)
}

func TestLoadJSONFile(t *testing.T) {
	path := writeFile(t, "node.json", `{
		"node_id": "n7",
		"rpc_port": 9000,
		"block_interval": "500ms",
		"validators": ["0x7E5F4552091A69125D5DFCB7B8C2659029395BDF"],
		"seed_peers": [{"id": "n1", "addr": "10.0.0.1:30303"}],
		"genesis": {
			"chain_id": "lastout-prod",
			"escrow": {"stake_amount": 5000, "referral_bps": 250}
		}
	}`)
	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)
	require.Equal(t, "n7", cfg.NodeID)
	require.Equal(t, 9000, cfg.RPCPort)
	require.Equal(t, 500*time.Millisecond, cfg.BlockInterval)
	require.Equal(t, []string{"0x7e5f4552091a69125d5dfcb7b8c2659029395bdf"}, cfg.Validators)
	require.Equal(t, []PeerConfig{{ID: "n1", Addr: "10.0.0.1:30303"}}, cfg.SeedPeers)
	require.Equal(t, "lastout-prod", cfg.Genesis.ChainID)
	require.EqualValues(t, 5000, cfg.Genesis.Escrow.StakeAmount)
	require.EqualValues(t, 250, cfg.Genesis.Escrow.ReferralBps)
	// Unset nested keys keep their defaults.
	require.Equal(t, "lastout-escrow-v4", cfg.Genesis.Escrow.Implementation)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "node.yaml", "rpc_port: 9000\nlog:\n  level: debug\n")
	t.Setenv("LASTOUT_RPC_PORT", "9100")
	t.Setenv("LASTOUT_LOG_LEVEL", "warn")

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)
	require.Equal(t, 9100, cfg.RPCPort)
	require.Equal(t, "warn", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no data dir", func(c *Config) { c.DataDir = "" }},
		{"rpc port", func(c *Config) { c.RPCPort = 70000 }},
		{"p2p port", func(c *Config) { c.P2PPort = -1 }},
		{"seed peer", func(c *Config) { c.SeedPeers = []PeerConfig{{ID: "n1"}} }},
		{"interval", func(c *Config) { c.BlockInterval = 0 }},
		{"chain id", func(c *Config) { c.Genesis.ChainID = "" }},
		{"validator", func(c *Config) { c.Validators = []string{"0x12"} }},
		{"alloc", func(c *Config) { c.Genesis.Alloc = map[string]uint64{"nope": 1} }},
	}
	require.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodeID = "saved"
	cfg.Genesis.Alloc = map[string]uint64{"0x7e5f4552091a69125d5dfcb7b8c2659029395bdf": 1_000_000_000_000}
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(NewViper(), path)
	require.NoError(t, err)
	require.Equal(t, "saved", loaded.NodeID)
	require.Equal(t, cfg.BlockInterval, loaded.BlockInterval)
	require.EqualValues(t, 1_000_000_000_000, loaded.Genesis.Alloc["0x7e5f4552091a69125d5dfcb7b8c2659029395bdf"])
}

func genesisConfig(t *testing.T) (*Config, crypto.PrivateKey) {
	t.Helper()
	validator, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Validators = []string{validator.Address()}
	cfg.Genesis.Timestamp = 1_700_000_000
	cfg.Genesis.Alloc = map[string]uint64{validator.Address(): 42}
	cfg.Genesis.Escrow.Owner = validator.Address()
	cfg.Genesis.Escrow.Backend = validator.Address()
	return cfg, validator
}

func TestGenesisIsDeterministic(t *testing.T) {
	cfg, validator := genesisConfig(t)
	other, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	signed, err := CreateGenesisBlock(cfg, testutil.NewStateDB(), validator)
	require.NoError(t, err)
	require.NoError(t, signed.Verify())
	require.EqualValues(t, 1_700_000_000, signed.Header.Timestamp)
	require.True(t, IsGenesisHash(signed.Header.PrevHash))

	unsigned, err := CreateGenesisBlock(cfg, testutil.NewStateDB(), other)
	require.NoError(t, err)
	require.Equal(t, signed.Hash, unsigned.Hash)
	require.Empty(t, unsigned.Signature)
	require.Equal(t, signed.Header.StateRoot, unsigned.Header.StateRoot)

	cfg.Genesis.ChainID = "another-chain"
	forked, err := CreateGenesisBlock(cfg, testutil.NewStateDB(), validator)
	require.NoError(t, err)
	require.NotEqual(t, signed.Hash, forked.Hash)
}

func TestGenesisInitialisesEscrow(t *testing.T) {
	cfg, validator := genesisConfig(t)
	state := testutil.NewStateDB()
	_, err := CreateGenesisBlock(cfg, state, validator)
	require.NoError(t, err)

	ct, err := escrow.New(state, nil).Contract()
	require.NoError(t, err)
	require.Equal(t, validator.Address(), ct.Owner)
	require.Equal(t, validator.Address(), ct.CommissionRecipient)
	require.EqualValues(t, 1, ct.NextGameID)

	acc, err := state.GetAccount(validator.Address())
	require.NoError(t, err)
	require.EqualValues(t, 42, acc.Balance)

	cfg.Genesis.Escrow.Owner = ""
	_, err = CreateGenesisBlock(cfg, testutil.NewStateDB(), validator)
	require.ErrorIs(t, err, escrow.ErrZeroAddress)
}
