// Package metrics exports chain and escrow activity as Prometheus metrics,
// fed by the event emitter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tolelom/lastout/events"
)

const namespace = "lastout"

// Collector turns events into Prometheus counters and gauges.
type Collector struct {
	registry *prometheus.Registry

	blockHeight  prometheus.Gauge
	txs          *prometheus.CounterVec
	games        *prometheus.CounterVec
	deposited    prometheus.Counter
	paidOut      *prometheus.CounterVec
	commission   prometheus.Counter
	referral     prometheus.Counter
	governance   *prometheus.CounterVec
	escrowFunded prometheus.Counter
}

// New creates a Collector registered on its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		blockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "block_height",
			Help:      "Height of the last committed block.",
		}),
		txs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Transactions processed, by type and result.",
		}, []string{"type", "result"}),
		games: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "games_total",
			Help:      "Game lifecycle transitions, by resulting state.",
		}, []string{"state"}),
		deposited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "deposited_total",
			Help:      "Base units locked as stakes.",
		}),
		paidOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "paid_out_total",
			Help:      "Base units transferred out of escrow, by kind.",
		}, []string{"kind"}),
		commission: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "commission_accrued_total",
			Help:      "Net platform commission accrued by settlements.",
		}),
		referral: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "referral_accrued_total",
			Help:      "Referral bonuses accrued by settlements.",
		}),
		governance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "governance_events_total",
			Help:      "Governance actions, by event type.",
		}, []string{"event"}),
		escrowFunded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "funded_total",
			Help:      "Base units sent to the escrow without a game.",
		}),
	}
	c.registry.MustRegister(
		c.blockHeight, c.txs, c.games, c.deposited, c.paidOut,
		c.commission, c.referral, c.governance, c.escrowFunded,
	)
	return c
}

// Registry returns the registry to expose over HTTP.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Attach subscribes the collector to every event emitter publishes.
func (c *Collector) Attach(emitter *events.Emitter) {
	emitter.SubscribeAll(c.observe)
}

func amount(ev events.Event, key string) float64 {
	v, _ := ev.Data[key].(uint64)
	return float64(v)
}

func (c *Collector) observe(ev events.Event) {
	switch ev.Type {
	case events.EventBlockCommit:
		c.blockHeight.Set(float64(ev.BlockHeight))
	case events.EventTxExecuted, events.EventTxFailed:
		typ, _ := ev.Data["type"].(string)
		result := "ok"
		if ev.Type == events.EventTxFailed {
			result = "failed"
		}
		c.txs.WithLabelValues(typ, result).Inc()
	case events.EventGameCreated:
		c.games.WithLabelValues("created").Inc()
	case events.EventGameCancelled:
		c.games.WithLabelValues("cancelled").Inc()
	case events.EventGameFailed:
		c.games.WithLabelValues("failed").Inc()
	case events.EventGameFinished:
		c.games.WithLabelValues("finished").Inc()
		c.commission.Add(amount(ev, "commission"))
	case events.EventStakeDeposited:
		c.deposited.Add(amount(ev, "amount"))
	case events.EventWinningsClaimed:
		c.paidOut.WithLabelValues("winnings").Add(amount(ev, "amount"))
	case events.EventRefundClaimed:
		c.paidOut.WithLabelValues("refund").Add(amount(ev, "amount"))
	case events.EventReferralClaimed:
		c.paidOut.WithLabelValues("referral").Add(amount(ev, "amount"))
	case events.EventCommissionWithdrawn:
		c.paidOut.WithLabelValues("commission").Add(amount(ev, "amount"))
	case events.EventEmergencyWithdrawn:
		c.paidOut.WithLabelValues("emergency").Add(amount(ev, "amount"))
	case events.EventReferralAccrued:
		c.referral.Add(amount(ev, "amount"))
	case events.EventEscrowFunded:
		c.escrowFunded.Add(amount(ev, "amount"))
	case events.EventBackendChanged, events.EventConfigChanged,
		events.EventOwnerProposed, events.EventOwnerChanged,
		events.EventRecipientProposed, events.EventRecipientChanged,
		events.EventUpgradeProposed, events.EventUpgradeCancelled, events.EventUpgradeAuthorized,
		events.EventEmergencyProposed, events.EventEmergencyCancelled:
		c.governance.WithLabelValues(string(ev.Type)).Inc()
	}
}
