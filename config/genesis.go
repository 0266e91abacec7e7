package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/crypto"
	"github.com/tolelom/lastout/escrow"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CreateGenesisBlock builds block #0: it credits the Alloc accounts,
// initialises the escrow contract and commits the state. The header depends
// only on cfg, so every node sharing a config derives the same genesis hash.
// The proposer is the first validator (or proposerPriv without validators);
// the block is signed only when proposerPriv is that proposer.
func CreateGenesisBlock(cfg *Config, state core.State, proposerPriv crypto.PrivateKey) (*core.Block, error) {
	addrs := make([]string, 0, len(cfg.Genesis.Alloc))
	for addr := range cfg.Genesis.Alloc {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, raw := range addrs {
		addr, err := crypto.NormalizeAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("genesis alloc: %w", err)
		}
		acc := &core.Account{
			Address: addr,
			Balance: cfg.Genesis.Alloc[raw],
			Nonce:   0,
		}
		if err := state.SetAccount(acc); err != nil {
			return nil, err
		}
	}

	if err := escrow.New(state, nil).Initialize(cfg.Genesis.Escrow); err != nil {
		return nil, fmt.Errorf("genesis escrow: %w", err)
	}

	var err error
	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	proposer := proposerPriv.Address()
	if len(cfg.Validators) > 0 {
		if proposer, err = crypto.NormalizeAddress(cfg.Validators[0]); err != nil {
			return nil, fmt.Errorf("genesis proposer: %w", err)
		}
	}
	block := core.NewBlockAt(0, GenesisHash, proposer, nil, cfg.Genesis.Timestamp)
	block.Header.StateRoot = stateRoot
	// TxRoot identifies the chain.
	block.Header.TxRoot = crypto.Hash([]byte(cfg.Genesis.ChainID))
	if proposer == proposerPriv.Address() {
		block.Sign(proposerPriv)
	} else {
		block.Hash = block.ComputeHash()
	}
	return block, nil
}

// IsGenesisHash returns true if the hash is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}
