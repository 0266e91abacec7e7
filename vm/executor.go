package vm

import (
	"errors"
	"fmt"
	"math"

	"github.com/decred/slog"
	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/events"
)

var log = slog.Disabled

// UseLogger sets the package logger.
func UseLogger(logger slog.Logger) {
	log = logger
}

// ErrNotPayable is returned when value is attached to a transaction type
// that does not accept it.
var ErrNotPayable = errors.New("vm: transaction type is not payable")

// Context is passed to every Handler and provides access to the chain state,
// the current block, the triggering transaction, and the event emitter.
type Context struct {
	State   core.State
	Block   *core.Block
	Tx      *core.Transaction
	Emitter *events.Emitter
}

// Executor applies transactions to the state using a Handler registry.
type Executor struct {
	state    core.State
	emitter  *events.Emitter
	registry *Registry
}

// NewExecutor creates an Executor using the global registry.
func NewExecutor(state core.State, emitter *events.Emitter) *Executor {
	return &Executor{
		state:    state,
		emitter:  emitter,
		registry: globalRegistry,
	}
}

// NewExecutorWithRegistry creates an Executor dispatching through r.
func NewExecutorWithRegistry(state core.State, emitter *events.Emitter, r *Registry) *Executor {
	return &Executor{state: state, emitter: emitter, registry: r}
}

// ExecuteBlock applies all transactions in block sequentially.
// A failing transaction causes the whole block to be rejected.
func (e *Executor) ExecuteBlock(block *core.Block) error {
	for _, tx := range block.Transactions {
		if err := e.ExecuteTx(block, tx); err != nil {
			return fmt.Errorf("tx %s failed: %w", tx.ID, err)
		}
	}
	return nil
}

// ExecuteTx verifies and executes a single transaction with snapshot/rollback.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) error {
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("signature: %w", err)
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	if err := e.applyTx(block, tx); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", err, revertErr)
		}
		log.Debugf("Tx %s (%s) from %s reverted: %v", tx.ID, tx.Type, tx.From, err)
		return err
	}
	if err := e.state.DiscardSnapshot(snapID); err != nil {
		return fmt.Errorf("release snapshot: %w", err)
	}

	if e.emitter != nil {
		e.emitter.Emit(events.Event{
			Type:        events.EventTxExecuted,
			TxID:        tx.ID,
			BlockHeight: block.Header.Height,
			Data:        map[string]any{"type": string(tx.Type), "from": tx.From},
		})
	}
	return nil
}

// applyTx deducts the fee, increments the nonce, moves attached value into
// the escrow account, then dispatches to the handler.
func (e *Executor) applyTx(block *core.Block, tx *core.Transaction) error {
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("invalid nonce: expected %d got %d", acc.Nonce, tx.Nonce)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	if tx.Value > 0 && !e.registry.Payable(tx.Type) {
		return fmt.Errorf("%w: %s", ErrNotPayable, tx.Type)
	}
	if tx.Fee > math.MaxUint64-tx.Value || acc.Balance < tx.Fee+tx.Value {
		return fmt.Errorf("insufficient balance for fee and value: have %d need %d+%d", acc.Balance, tx.Fee, tx.Value)
	}
	acc.Balance -= tx.Fee + tx.Value
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return err
	}

	if tx.Value > 0 {
		escrow, err := e.state.GetAccount(core.EscrowAccount)
		if err != nil {
			return err
		}
		if escrow.Balance > math.MaxUint64-tx.Value {
			return fmt.Errorf("escrow balance overflow")
		}
		escrow.Balance += tx.Value
		if err := e.state.SetAccount(escrow); err != nil {
			return err
		}
	}

	ctx := &Context{
		State:   e.state,
		Block:   block,
		Tx:      tx,
		Emitter: e.emitter,
	}
	return e.registry.Execute(tx.Type, ctx, tx.Payload)
}
