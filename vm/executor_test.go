package vm_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/crypto"
	"github.com/tolelom/lastout/events"
	"github.com/tolelom/lastout/internal/testutil"
	"github.com/tolelom/lastout/storage"
	"github.com/tolelom/lastout/vm"
)

const (
	chainID          = "lastout-test"
	txPay            = core.TxType("test_pay")
	txPlain          = core.TxType("test_plain")
	txBoom           = core.TxType("test_boom")
	startingBalance  = 1_000
	sideEffectTarget = "0x00000000000000000000000000000000000000aa"
)

var errBoom = errors.New("boom")

// sideEffect credits a marker account so reverts are observable.
func sideEffect(ctx *vm.Context, _ json.RawMessage) error {
	acc, err := ctx.State.GetAccount(sideEffectTarget)
	if err != nil {
		return err
	}
	acc.Balance++
	return ctx.State.SetAccount(acc)
}

func newExecutor(t *testing.T) (*vm.Executor, *storage.StateDB, crypto.PrivateKey, *[]events.Event) {
	t.Helper()
	r := vm.NewRegistry()
	r.RegisterPayable(txPay, sideEffect)
	r.Register(txPlain, sideEffect)
	r.Register(txBoom, func(ctx *vm.Context, p json.RawMessage) error {
		if err := sideEffect(ctx, p); err != nil {
			return err
		}
		return errBoom
	})

	state := testutil.NewStateDB()
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, state.SetAccount(&core.Account{Address: priv.Address(), Balance: startingBalance}))

	emitter := events.NewEmitter()
	var seen []events.Event
	emitter.SubscribeAll(func(ev events.Event) { seen = append(seen, ev) })
	return vm.NewExecutorWithRegistry(state, emitter, r), state, priv, &seen
}

func tx(t *testing.T, priv crypto.PrivateKey, typ core.TxType, nonce, fee, value uint64) *core.Transaction {
	t.Helper()
	out, err := core.NewTransaction(chainID, typ, priv.Address(), nonce, fee, value, core.EmptyPayload{})
	require.NoError(t, err)
	out.Sign(priv)
	return out
}

func account(t *testing.T, s *storage.StateDB, addr string) *core.Account {
	t.Helper()
	acc, err := s.GetAccount(addr)
	require.NoError(t, err)
	return acc
}

func TestPayableValueReachesEscrow(t *testing.T) {
	exec, state, priv, seen := newExecutor(t)
	block := core.NewBlockAt(1, "prev", priv.Address(), nil, 10)

	require.NoError(t, exec.ExecuteTx(block, tx(t, priv, txPay, 0, 2, 300)))

	sender := account(t, state, priv.Address())
	require.EqualValues(t, startingBalance-302, sender.Balance)
	require.EqualValues(t, 1, sender.Nonce)
	require.EqualValues(t, 300, account(t, state, core.EscrowAccount).Balance)
	require.EqualValues(t, 1, account(t, state, sideEffectTarget).Balance)

	require.Len(t, *seen, 1)
	require.Equal(t, events.EventTxExecuted, (*seen)[0].Type)
}

func TestNonPayableRejectsValue(t *testing.T) {
	exec, state, priv, _ := newExecutor(t)
	block := core.NewBlockAt(1, "prev", priv.Address(), nil, 10)

	err := exec.ExecuteTx(block, tx(t, priv, txPlain, 0, 0, 1))
	require.ErrorIs(t, err, vm.ErrNotPayable)
	require.EqualValues(t, 0, account(t, state, priv.Address()).Nonce)
}

func TestFailedHandlerRevertsEverything(t *testing.T) {
	exec, state, priv, seen := newExecutor(t)
	block := core.NewBlockAt(1, "prev", priv.Address(), nil, 10)

	err := exec.ExecuteTx(block, tx(t, priv, txBoom, 0, 5, 0))
	require.ErrorIs(t, err, errBoom)

	sender := account(t, state, priv.Address())
	require.EqualValues(t, startingBalance, sender.Balance)
	require.Zero(t, sender.Nonce)
	require.Zero(t, account(t, state, sideEffectTarget).Balance)
	require.Empty(t, *seen)
}

func TestNonceAndBalanceChecks(t *testing.T) {
	exec, _, priv, _ := newExecutor(t)
	block := core.NewBlockAt(1, "prev", priv.Address(), nil, 10)

	require.Error(t, exec.ExecuteTx(block, tx(t, priv, txPlain, 1, 0, 0)), "nonce gap")
	require.Error(t, exec.ExecuteTx(block, tx(t, priv, txPay, 0, 0, startingBalance+1)), "overdraft")
	require.Error(t, exec.ExecuteTx(block, tx(t, priv, core.TxType("unknown"), 0, 0, 0)))

	bad := tx(t, priv, txPlain, 0, 0, 0)
	bad.Nonce = 7
	require.Error(t, exec.ExecuteTx(block, bad), "signature no longer matches")
}

func TestExecuteBlockStopsAtFirstFailure(t *testing.T) {
	exec, state, priv, _ := newExecutor(t)
	txs := []*core.Transaction{
		tx(t, priv, txPlain, 0, 0, 0),
		tx(t, priv, txBoom, 1, 0, 0),
	}
	block := core.NewBlockAt(1, "prev", priv.Address(), txs, 10)
	require.ErrorIs(t, exec.ExecuteBlock(block), errBoom)
	// The first tx stays applied; the caller discards the block's state.
	require.EqualValues(t, 1, account(t, state, priv.Address()).Nonce)
}

func TestExecutedTxsReleaseSnapshots(t *testing.T) {
	exec, state, priv, _ := newExecutor(t)
	txs := []*core.Transaction{
		tx(t, priv, txPlain, 0, 0, 0),
		tx(t, priv, txPay, 1, 0, 10),
		tx(t, priv, txPlain, 2, 0, 0),
	}
	block := core.NewBlockAt(1, "prev", priv.Address(), txs, 10)
	require.NoError(t, exec.ExecuteBlock(block))
	require.Error(t, exec.ExecuteTx(block, tx(t, priv, txBoom, 3, 0, 0)))

	snap, err := state.Snapshot()
	require.NoError(t, err)
	require.Zero(t, snap)
	require.EqualValues(t, 3, account(t, state, sideEffectTarget).Balance)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := vm.NewRegistry()
	r.Register(txPlain, sideEffect)
	require.Panics(t, func() { r.Register(txPlain, sideEffect) })
	require.False(t, r.Payable(txPlain))
	require.False(t, r.Payable(txPay))
}
