package economy

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/events"
	"github.com/tolelom/lastout/internal/testutil"
	"github.com/tolelom/lastout/vm"
	"github.com/tolelom/lastout/wallet"
)

func TestTransferAndFundEscrow(t *testing.T) {
	state := testutil.NewStateDB()
	emitter := events.NewEmitter()
	var seen []events.EventType
	emitter.SubscribeAll(func(ev events.Event) { seen = append(seen, ev.Type) })
	exec := vm.NewExecutor(state, emitter)
	block := core.NewBlockAt(1, "prev", "", nil, 10)

	from, err := wallet.Generate("lastout-test")
	require.NoError(t, err)
	to, err := wallet.Generate("lastout-test")
	require.NoError(t, err)
	require.NoError(t, state.SetAccount(&core.Account{Address: from.Address(), Balance: 1000}))

	tx, err := from.Transfer(to.Address(), 400, 0, 0)
	require.NoError(t, err)
	require.NoError(t, exec.ExecuteTx(block, tx))

	tx, err = from.FundEscrow(100, 1, 0)
	require.NoError(t, err)
	require.NoError(t, exec.ExecuteTx(block, tx))

	balance := func(addr string) uint64 {
		acc, err := state.GetAccount(addr)
		require.NoError(t, err)
		return acc.Balance
	}
	require.EqualValues(t, 500, balance(from.Address()))
	require.EqualValues(t, 400, balance(to.Address()))
	require.EqualValues(t, 100, balance(core.EscrowAccount))
	require.Contains(t, seen, events.EventTokenTransfer)
	require.Contains(t, seen, events.EventEscrowFunded)
}

func TestTransferRejections(t *testing.T) {
	state := testutil.NewStateDB()
	exec := vm.NewExecutor(state, nil)
	block := core.NewBlockAt(1, "prev", "", nil, 10)

	from, err := wallet.Generate("lastout-test")
	require.NoError(t, err)
	require.NoError(t, state.SetAccount(&core.Account{Address: from.Address(), Balance: 1000}))

	tx, err := from.Transfer(core.EscrowAccount, 10, 0, 0)
	require.NoError(t, err)
	require.Error(t, exec.ExecuteTx(block, tx), "escrow only takes payable value")

	tx, err = from.Transfer(from.Address(), 0, 0, 0)
	require.NoError(t, err)
	require.Error(t, exec.ExecuteTx(block, tx))

	tx, err = from.FundEscrow(0, 0, 0)
	require.NoError(t, err)
	require.Error(t, exec.ExecuteTx(block, tx))
}
