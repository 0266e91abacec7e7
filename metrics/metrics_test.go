package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/lastout/events"
)

func TestCollectorObservesEscrowEvents(t *testing.T) {
	c := New()
	em := events.NewEmitter()
	c.Attach(em)

	em.Emit(events.Event{Type: events.EventGameCreated, Data: map[string]any{"game_id": uint64(1)}})
	em.Emit(events.Event{Type: events.EventStakeDeposited, Data: map[string]any{"amount": uint64(1000)}})
	em.Emit(events.Event{Type: events.EventStakeDeposited, Data: map[string]any{"amount": uint64(1000)}})
	em.Emit(events.Event{Type: events.EventGameFinished, Data: map[string]any{"commission": uint64(100)}})
	em.Emit(events.Event{Type: events.EventWinningsClaimed, Data: map[string]any{"amount": uint64(1900)}})
	em.Emit(events.Event{Type: events.EventOwnerProposed, Data: map[string]any{}})
	em.Emit(events.Event{Type: events.EventBlockCommit, BlockHeight: 7})
	em.Emit(events.Event{Type: events.EventTxFailed, Data: map[string]any{"type": "claim_winnings"}})

	require.Equal(t, float64(1), testutil.ToFloat64(c.games.WithLabelValues("created")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.games.WithLabelValues("finished")))
	require.Equal(t, float64(2000), testutil.ToFloat64(c.deposited))
	require.Equal(t, float64(100), testutil.ToFloat64(c.commission))
	require.Equal(t, float64(1900), testutil.ToFloat64(c.paidOut.WithLabelValues("winnings")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.governance.WithLabelValues("owner_proposed")))
	require.Equal(t, float64(7), testutil.ToFloat64(c.blockHeight))
	require.Equal(t, float64(1), testutil.ToFloat64(c.txs.WithLabelValues("claim_winnings", "failed")))
}
