package indexer

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/events"
	"github.com/tolelom/lastout/internal/testutil"
)

const (
	alice = "0x00000000000000000000000000000000000000a1"
	bob   = "0x00000000000000000000000000000000000000b0"
	carol = "0x00000000000000000000000000000000000000c0"
)

func newIndexer() (*Indexer, *events.Emitter) {
	emitter := events.NewEmitter()
	return New(testutil.NewMemDB(), emitter), emitter
}

func TestGamesByPlayer(t *testing.T) {
	idx, emitter := newIndexer()
	emitter.Emit(events.Event{Type: events.EventGameCreated, Data: map[string]any{
		"game_id": uint64(1), "players": []string{alice, bob},
	}})
	emitter.Emit(events.Event{Type: events.EventGameCreated, Data: map[string]any{
		"game_id": uint64(2), "players": []string{alice, carol},
	}})
	// Replays of the same event do not duplicate entries.
	emitter.Emit(events.Event{Type: events.EventGameCreated, Data: map[string]any{
		"game_id": uint64(2), "players": []string{alice, carol},
	}})

	ids, err := idx.GetGamesByPlayer(alice)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, ids)

	ids, err = idx.GetGamesByPlayer(bob)
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, ids)

	ids, err = idx.GetGamesByPlayer("0x00000000000000000000000000000000000000ff")
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestReferees(t *testing.T) {
	idx, emitter := newIndexer()
	emitter.Emit(events.Event{Type: events.EventReferrerBound, Data: map[string]any{"player": bob, "referrer": alice}})
	emitter.Emit(events.Event{Type: events.EventReferrerBound, Data: map[string]any{"player": carol, "referrer": alice}})
	emitter.Emit(events.Event{Type: events.EventReferrerBound, Data: map[string]any{"player": carol}})

	refs, err := idx.GetReferees(alice)
	require.NoError(t, err)
	require.Equal(t, []string{bob, carol}, refs)
}

func TestReceipts(t *testing.T) {
	idx, emitter := newIndexer()
	emitter.Emit(events.Event{Type: events.EventTxExecuted, TxID: "tx1", BlockHeight: 4,
		Data: map[string]any{"type": "deposit_stake", "from": alice}})
	emitter.Emit(events.Event{Type: events.EventTxFailed, TxID: "tx2", BlockHeight: 4,
		Data: map[string]any{"type": "claim_winnings", "from": bob, "error": "escrow: nothing to claim"}})

	r, err := idx.GetReceipt("tx1")
	require.NoError(t, err)
	require.True(t, r.Success)
	require.EqualValues(t, 4, r.BlockHeight)
	require.Equal(t, alice, r.From)

	r, err = idx.GetReceipt("tx2")
	require.NoError(t, err)
	require.False(t, r.Success)
	require.Equal(t, "escrow: nothing to claim", r.Error)

	_, err = idx.GetReceipt("missing")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestLateFailureKeepsSuccessfulReceipt(t *testing.T) {
	idx, emitter := newIndexer()
	emitter.Emit(events.Event{Type: events.EventTxExecuted, TxID: "tx1", BlockHeight: 3})
	emitter.Emit(events.Event{Type: events.EventTxFailed, TxID: "tx1", BlockHeight: 5,
		Data: map[string]any{"error": "invalid nonce"}})

	r, err := idx.GetReceipt("tx1")
	require.NoError(t, err)
	require.True(t, r.Success)
	require.EqualValues(t, 3, r.BlockHeight)
}
