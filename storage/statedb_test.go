package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/internal/testutil"
	"github.com/tolelom/lastout/storage"
)

const player = "0x1111111111111111111111111111111111111111"

func TestSnapshotRevert(t *testing.T) {
	s := testutil.NewStateDB()
	require.NoError(t, s.SetAccount(&core.Account{Address: player, Balance: 100}))

	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.NoError(t, s.SetAccount(&core.Account{Address: player, Balance: 5}))
	require.NoError(t, s.SetReferralEarnings(player, 9))
	require.NoError(t, s.RevertToSnapshot(snap))

	acc, err := s.GetAccount(player)
	require.NoError(t, err)
	require.EqualValues(t, 100, acc.Balance)
	earned, err := s.GetReferralEarnings(player)
	require.NoError(t, err)
	require.Zero(t, earned)

	require.Error(t, s.RevertToSnapshot(snap), "snapshot is consumed by revert")
}

func TestDiscardSnapshotKeepsWritesAndOuterSnapshot(t *testing.T) {
	s := testutil.NewStateDB()
	require.NoError(t, s.SetAccount(&core.Account{Address: player, Balance: 100}))

	outer, err := s.Snapshot()
	require.NoError(t, err)
	inner, err := s.Snapshot()
	require.NoError(t, err)
	require.NoError(t, s.SetAccount(&core.Account{Address: player, Balance: 40}))
	require.NoError(t, s.DiscardSnapshot(inner))
	require.Error(t, s.RevertToSnapshot(inner), "discarded snapshot is gone")

	acc, err := s.GetAccount(player)
	require.NoError(t, err)
	require.EqualValues(t, 40, acc.Balance)

	// ids are reused once released
	again, err := s.Snapshot()
	require.NoError(t, err)
	require.Equal(t, inner, again)
	require.NoError(t, s.DiscardSnapshot(again))

	require.NoError(t, s.RevertToSnapshot(outer))
	acc, err = s.GetAccount(player)
	require.NoError(t, err)
	require.EqualValues(t, 100, acc.Balance)
	require.Error(t, s.DiscardSnapshot(outer))
}

func TestMissingKeysReadAsZero(t *testing.T) {
	s := testutil.NewStateDB()

	acc, err := s.GetAccount(player)
	require.NoError(t, err)
	require.Equal(t, player, acc.Address)
	require.Zero(t, acc.Balance)

	ref, err := s.GetReferrer(player)
	require.NoError(t, err)
	require.Empty(t, ref)

	_, err = s.GetGame(7)
	require.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetContract()
	require.ErrorIs(t, err, core.ErrNotFound)

	require.Error(t, s.SetGame(&core.Game{}), "game id 0 is reserved")
}

func TestComputeRootCoversBufferedAndCommittedState(t *testing.T) {
	db := testutil.NewMemDB()
	s := storage.NewStateDB(db)
	empty := s.ComputeRoot()

	require.NoError(t, s.SetGame(&core.Game{ID: 1, Stake: 10}))
	buffered := s.ComputeRoot()
	require.NotEqual(t, empty, buffered)

	require.NoError(t, s.Commit())
	require.Equal(t, buffered, s.ComputeRoot(), "commit must not change the root")

	// A fresh view over the same database agrees.
	require.Equal(t, buffered, storage.NewStateDB(db).ComputeRoot())

	// Zeroed counters are removed rather than stored as zero.
	require.NoError(t, s.SetReferralEarnings(player, 4))
	require.NotEqual(t, buffered, s.ComputeRoot())
	require.NoError(t, s.SetReferralEarnings(player, 0))
	require.Equal(t, buffered, s.ComputeRoot())
}

func TestCommitPersists(t *testing.T) {
	db := testutil.NewMemDB()
	s := storage.NewStateDB(db)
	require.NoError(t, s.SetReferrer(player, "0x2222222222222222222222222222222222222222"))
	require.NoError(t, s.SetContract(&core.Contract{Owner: player}))
	require.NoError(t, s.Commit())

	fresh := storage.NewStateDB(db)
	ref, err := fresh.GetReferrer(player)
	require.NoError(t, err)
	require.Equal(t, "0x2222222222222222222222222222222222222222", ref)
	ct, err := fresh.GetContract()
	require.NoError(t, err)
	require.Equal(t, player, ct.Owner)
}

func TestLevelDBBlockStore(t *testing.T) {
	db, err := storage.NewLevelDB(filepath.Join(t.TempDir(), "chain"))
	require.NoError(t, err)
	defer db.Close()

	bs := storage.NewBlockStore(db)
	tip, err := bs.GetTip()
	require.NoError(t, err)
	require.Empty(t, tip)

	block := core.NewBlockAt(0, "genesis", player, nil, 1)
	block.Hash = block.ComputeHash()
	require.NoError(t, bs.CommitBlock(block))

	tip, err = bs.GetTip()
	require.NoError(t, err)
	require.Equal(t, block.Hash, tip)

	byHeight, err := bs.GetBlockByHeight(0)
	require.NoError(t, err)
	require.Equal(t, block.Hash, byHeight.Hash)

	_, err = bs.GetBlockByHeight(1)
	require.ErrorIs(t, err, core.ErrNotFound)
}
