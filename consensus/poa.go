// Package consensus implements Proof-of-Authority block production.
// Validators propose blocks in round-robin order. Each block is signed by
// the proposer; other nodes verify the signature before accepting the block.
package consensus

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/tolelom/lastout/config"
	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/crypto"
	"github.com/tolelom/lastout/events"
	"github.com/tolelom/lastout/vm"
)

var log = slog.Disabled

// UseLogger sets the package logger.
func UseLogger(logger slog.Logger) {
	log = logger
}

// ErrNotProposer is returned when this node is not the proposer for the
// next height.
var ErrNotProposer = errors.New("not the proposer for this round")

// PoA is the Proof-of-Authority consensus engine.
type PoA struct {
	cfg     *config.Config
	bc      *core.Blockchain
	state   core.State
	mempool *core.Mempool
	exec    *vm.Executor
	emitter *events.Emitter
	privKey crypto.PrivateKey
	address string
	now     func() time.Time

	// mu serialises state writers: local production and imported blocks.
	mu sync.Mutex
}

// New creates a PoA engine for the local validator identified by privKey.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
) *PoA {
	return &PoA{
		cfg:     cfg,
		bc:      bc,
		state:   state,
		mempool: mempool,
		exec:    exec,
		emitter: emitter,
		privKey: privKey,
		address: privKey.Address(),
		now:     time.Now,
	}
}

// SetClock replaces the wall clock used to stamp blocks.
func (p *PoA) SetClock(now func() time.Time) {
	p.now = now
}

// IsProposer reports whether this node should propose the next block.
func (p *PoA) IsProposer() bool {
	if len(p.cfg.Validators) == 0 {
		return false
	}
	nextHeight := p.bc.Height() + 1
	idx := int(nextHeight) % len(p.cfg.Validators)
	return p.cfg.Validators[idx] == p.address
}

// ProduceBlock builds, executes, signs and commits the next block.
// Pending transactions that fail are left out of the block, reported as
// tx_failed events and dropped from the mempool.
func (p *PoA) ProduceBlock() (*core.Block, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.IsProposer() {
		return nil, ErrNotProposer
	}

	limit := p.cfg.MaxBlockTxs
	if limit <= 0 {
		limit = 500
	}
	pending := p.mempool.Pending(limit)

	tip := p.bc.Tip()
	var prevHash string
	var nextHeight int64
	ts := p.now().Unix()
	if tip == nil {
		prevHash = config.GenesisHash
		nextHeight = 1
	} else {
		prevHash = tip.Hash
		nextHeight = tip.Header.Height + 1
		if ts < tip.Header.Timestamp {
			ts = tip.Header.Timestamp
		}
	}

	block := core.NewBlockAt(nextHeight, prevHash, p.address, nil, ts)

	snap, err := p.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	included := make([]*core.Transaction, 0, len(pending))
	processed := make([]string, 0, len(pending))
	for _, tx := range pending {
		processed = append(processed, tx.ID)
		if err := p.exec.ExecuteTx(block, tx); err != nil {
			log.Debugf("Dropping tx %s: %v", tx.ID, err)
			p.emitter.Emit(events.Event{
				Type:        events.EventTxFailed,
				TxID:        tx.ID,
				BlockHeight: nextHeight,
				Data: map[string]any{
					"type":  string(tx.Type),
					"from":  tx.From,
					"error": err.Error(),
				},
			})
			continue
		}
		included = append(included, tx)
	}
	block.Transactions = included
	block.Header.TxRoot = core.ComputeTxRoot(included)

	// Compute root from the write buffer BEFORE flushing so that if AddBlock
	// fails the state has not yet been persisted and the node stays consistent.
	block.Header.StateRoot = p.state.ComputeRoot()
	block.Sign(p.privKey)

	if err := p.bc.AddBlock(block); err != nil {
		if revertErr := p.state.RevertToSnapshot(snap); revertErr != nil {
			log.Errorf("Revert after failed block %d: %v", nextHeight, revertErr)
		}
		return nil, fmt.Errorf("add block: %w", err)
	}

	// Flush state only after the block is safely stored.
	if err := p.state.Commit(); err != nil {
		log.Criticalf("Block %d stored but state commit failed: %v", block.Header.Height, err)
		os.Exit(1)
	}

	// Emit after Sign() so block.Hash is set correctly.
	p.emitCommit(block, len(processed)-len(included))

	p.mempool.Remove(processed)
	if len(processed) > 0 {
		log.Infof("Produced block %d: %d txs, %d dropped", block.Header.Height,
			len(included), len(processed)-len(included))
	}
	return block, nil
}

// ValidateBlock checks that block was proposed and signed by the expected
// validator and links to the current tip.
func (p *PoA) ValidateBlock(block *core.Block) error {
	if len(p.cfg.Validators) == 0 {
		return errors.New("no validators configured")
	}
	idx := int(block.Header.Height) % len(p.cfg.Validators)
	expected := p.cfg.Validators[idx]
	if block.Header.Proposer != expected {
		return fmt.Errorf("wrong proposer: got %s want %s", block.Header.Proposer, expected)
	}
	if block.ComputeHash() != block.Hash {
		return errors.New("block hash does not match header")
	}
	if err := block.Verify(); err != nil {
		return fmt.Errorf("block signature invalid: %w", err)
	}

	tip := p.bc.Tip()
	if tip == nil {
		if !config.IsGenesisHash(block.Header.PrevHash) {
			return errors.New("first block must reference genesis prev-hash")
		}
	} else {
		if block.Header.PrevHash != tip.Hash {
			return fmt.Errorf("prev_hash mismatch: got %s want %s", block.Header.PrevHash, tip.Hash)
		}
		if block.Header.Height != tip.Header.Height+1 {
			return fmt.Errorf("height mismatch: got %d want %d", block.Header.Height, tip.Header.Height+1)
		}
	}
	return nil
}

// ImportBlock validates a block produced elsewhere, replays its
// transactions and appends it. Any failure leaves state and chain unchanged.
func (p *PoA) ImportBlock(block *core.Block) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ValidateBlock(block); err != nil {
		return err
	}
	if got := core.ComputeTxRoot(block.Transactions); got != block.Header.TxRoot {
		return fmt.Errorf("tx root mismatch: computed %s want %s", got, block.Header.TxRoot)
	}

	snap, err := p.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	revert := func(cause error) error {
		if revertErr := p.state.RevertToSnapshot(snap); revertErr != nil {
			log.Criticalf("Revert after rejected block %d failed: %v", block.Header.Height, revertErr)
			os.Exit(1)
		}
		return cause
	}

	if err := p.exec.ExecuteBlock(block); err != nil {
		return revert(err)
	}
	if root := p.state.ComputeRoot(); root != block.Header.StateRoot {
		return revert(fmt.Errorf("state root mismatch: computed %s want %s", root, block.Header.StateRoot))
	}
	if err := p.bc.AddBlock(block); err != nil {
		return revert(fmt.Errorf("add block: %w", err))
	}
	if err := p.state.Commit(); err != nil {
		log.Criticalf("Block %d stored but state commit failed: %v", block.Header.Height, err)
		os.Exit(1)
	}

	ids := make([]string, len(block.Transactions))
	for i, tx := range block.Transactions {
		ids[i] = tx.ID
	}
	p.mempool.Remove(ids)
	p.emitCommit(block, 0)
	log.Debugf("Imported block %d from %s", block.Header.Height, block.Header.Proposer)
	return nil
}

func (p *PoA) emitCommit(block *core.Block, dropped int) {
	p.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: block.Header.Height,
		Data: map[string]any{
			"hash":      block.Hash,
			"txs":       len(block.Transactions),
			"dropped":   dropped,
			"timestamp": block.Header.Timestamp,
		},
	})
}

// Run starts the block-production loop with the given interval. It blocks
// until done is closed.
func (p *PoA) Run(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if p.IsProposer() {
				if _, err := p.ProduceBlock(); err != nil {
					log.Errorf("Produce block: %v", err)
				}
			}
		}
	}
}
