package game

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/escrow"
	"github.com/tolelom/lastout/events"
	"github.com/tolelom/lastout/internal/testutil"
	"github.com/tolelom/lastout/storage"
	"github.com/tolelom/lastout/vm"
	"github.com/tolelom/lastout/wallet"
)

const chainID = "lastout-test"

type harness struct {
	t       *testing.T
	state   *storage.StateDB
	exec    *vm.Executor
	block   *core.Block
	owner   *wallet.Wallet
	backend *wallet.Wallet
	players []*wallet.Wallet
	nonces  map[string]uint64
}

func newHarness(t *testing.T, numPlayers int) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		state:  testutil.NewStateDB(),
		nonces: make(map[string]uint64),
	}
	var err error
	h.owner, err = wallet.Generate(chainID)
	require.NoError(t, err)
	h.backend, err = wallet.Generate(chainID)
	require.NoError(t, err)
	for i := 0; i < numPlayers; i++ {
		w, err := wallet.Generate(chainID)
		require.NoError(t, err)
		require.NoError(t, h.state.SetAccount(&core.Account{Address: w.Address(), Balance: 10_000}))
		h.players = append(h.players, w)
	}
	require.NoError(t, escrow.New(h.state, nil).Initialize(escrow.Params{
		Owner:            h.owner.Address(),
		Backend:          h.backend.Address(),
		StakeAmount:      1000,
		CommissionAmount: 100,
	}))
	h.exec = vm.NewExecutor(h.state, events.NewEmitter())
	h.block = core.NewBlockAt(1, "prev", h.backend.Address(), nil, 1_700_000_000)
	return h
}

// send builds a tx with the sender's next nonce and executes it. The nonce
// only advances when execution succeeds.
func (h *harness) send(w *wallet.Wallet, build func(nonce uint64) (*core.Transaction, error)) error {
	h.t.Helper()
	tx, err := build(h.nonces[w.Address()])
	require.NoError(h.t, err)
	if err := h.exec.ExecuteTx(h.block, tx); err != nil {
		return err
	}
	h.nonces[w.Address()]++
	return nil
}

func (h *harness) balance(addr string) uint64 {
	h.t.Helper()
	acc, err := h.state.GetAccount(addr)
	require.NoError(h.t, err)
	return acc.Balance
}

func (h *harness) createGame() {
	h.t.Helper()
	addrs := make([]string, len(h.players))
	for i, p := range h.players {
		addrs[i] = p.Address()
	}
	require.NoError(h.t, h.send(h.backend, func(n uint64) (*core.Transaction, error) {
		return h.backend.CreateGame(1, addrs, nil, nil, n, 0)
	}))
}

func TestDepositMovesValueIntoEscrow(t *testing.T) {
	h := newHarness(t, 2)
	h.createGame()

	p := h.players[0]
	require.NoError(t, h.send(p, func(n uint64) (*core.Transaction, error) { return p.Deposit(1, 1000, n, 0) }))
	require.EqualValues(t, 9_000, h.balance(p.Address()))
	require.EqualValues(t, 1000, h.balance(core.EscrowAccount))
	require.True(t, escrow.New(h.state, nil).PlayerDepositStatus(1, p.Address()))
}

func TestFailedDepositRevertsValueAndNonce(t *testing.T) {
	h := newHarness(t, 2)
	h.createGame()

	p := h.players[0]
	err := h.send(p, func(n uint64) (*core.Transaction, error) { return p.Deposit(1, 999, n, 0) })
	require.ErrorIs(t, err, escrow.ErrWrongStake)

	acc, err := h.state.GetAccount(p.Address())
	require.NoError(t, err)
	require.EqualValues(t, 10_000, acc.Balance)
	require.Zero(t, acc.Nonce)
	require.Zero(t, h.balance(core.EscrowAccount))
}

func TestValueRejectedOnNonPayableType(t *testing.T) {
	h := newHarness(t, 2)
	h.createGame()

	p := h.players[0]
	err := h.send(p, func(n uint64) (*core.Transaction, error) {
		return p.NewTx(core.TxClaimWinnings, n, 0, 5, core.GamePayload{GameID: 1})
	})
	require.ErrorIs(t, err, vm.ErrNotPayable)
	require.EqualValues(t, 10_000, h.balance(p.Address()))
}

func TestOnlyBackendCreatesGames(t *testing.T) {
	h := newHarness(t, 2)
	p := h.players[0]
	err := h.send(p, func(n uint64) (*core.Transaction, error) {
		return p.CreateGame(1, []string{h.players[0].Address(), h.players[1].Address()}, nil, nil, n, 0)
	})
	require.ErrorIs(t, err, escrow.ErrNotBackend)
}

func TestCreateGameWithReferralSignature(t *testing.T) {
	h := newHarness(t, 2)
	ref, err := wallet.Generate(chainID)
	require.NoError(t, err)

	sig, err := ref.SignReferral(h.players[0].Address())
	require.NoError(t, err)

	players := []string{h.players[0].Address(), h.players[1].Address()}
	require.NoError(t, h.send(h.backend, func(n uint64) (*core.Transaction, error) {
		return h.backend.CreateGame(1, players, []string{ref.Address(), ""}, []string{sig, ""}, n, 0)
	}))

	bound, err := escrow.New(h.state, nil).Referrer(h.players[0].Address())
	require.NoError(t, err)
	require.Equal(t, ref.Address(), bound)
}

func TestMalformedSignatureHex(t *testing.T) {
	h := newHarness(t, 2)
	ref, err := wallet.Generate(chainID)
	require.NoError(t, err)

	players := []string{h.players[0].Address(), h.players[1].Address()}
	err = h.send(h.backend, func(n uint64) (*core.Transaction, error) {
		return h.backend.CreateGame(1, players, []string{ref.Address(), ""}, []string{"0xnothex", ""}, n, 0)
	})
	require.ErrorIs(t, err, escrow.ErrInvalidReferralSignature)
}

func TestSettleAndClaimThroughTransactions(t *testing.T) {
	h := newHarness(t, 3)
	h.createGame()
	for _, p := range h.players {
		p := p
		require.NoError(t, h.send(p, func(n uint64) (*core.Transaction, error) { return p.Deposit(1, 1000, n, 0) }))
	}

	winners := []string{h.players[0].Address(), h.players[1].Address()}
	require.NoError(t, h.send(h.backend, func(n uint64) (*core.Transaction, error) {
		return h.backend.RecordResults(1, winners, h.players[2].Address(), n, 0)
	}))

	w := h.players[0]
	require.NoError(t, h.send(w, func(n uint64) (*core.Transaction, error) { return w.ClaimWinnings(1, n, 0) }))
	// Pot 3000, commission 100 to the house, 1450 to each winner.
	require.EqualValues(t, 9_000+1450, h.balance(w.Address()))

	err := h.send(w, func(n uint64) (*core.Transaction, error) { return w.ClaimWinnings(1, n, 0) })
	require.ErrorIs(t, err, escrow.ErrAlreadyClaimed)

	require.NoError(t, h.send(h.backend, func(n uint64) (*core.Transaction, error) {
		return h.backend.WithdrawCommission(n, 0)
	}))
	require.EqualValues(t, 100, h.balance(h.owner.Address()))
}

func TestOwnerConfigUpdate(t *testing.T) {
	h := newHarness(t, 2)
	require.NoError(t, h.send(h.owner, func(n uint64) (*core.Transaction, error) {
		return h.owner.AmountOp(core.TxSetStake, 2000, n, 0)
	}))
	require.NoError(t, h.send(h.owner, func(n uint64) (*core.Transaction, error) {
		return h.owner.SetPlayerCount(3, n, 0)
	}))
	ct, err := escrow.New(h.state, nil).Contract()
	require.NoError(t, err)
	require.EqualValues(t, 2000, ct.StakeAmount)
	require.Equal(t, 3, ct.RequiredPlayerCount)

	err = h.send(h.backend, func(n uint64) (*core.Transaction, error) {
		return h.backend.AmountOp(core.TxSetStake, 5, n, 0)
	})
	require.ErrorIs(t, err, escrow.ErrNotOwner)
}
