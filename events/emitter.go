package events

import (
	"sync"

	"github.com/decred/slog"
)

var log = slog.Disabled

// UseLogger sets the package logger.
func UseLogger(logger slog.Logger) {
	log = logger
}

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit   EventType = "block_commit"
	EventTxExecuted    EventType = "tx_executed"
	EventTxFailed      EventType = "tx_failed"
	EventTokenTransfer EventType = "token_transfer"
	EventEscrowFunded  EventType = "escrow_funded"

	// Game lifecycle.
	EventGameCreated     EventType = "game_created"
	EventReferrerBound   EventType = "referrer_bound"
	EventReferrerBlocked EventType = "referrer_blocked"
	EventStakeDeposited  EventType = "stake_deposited"
	EventGameCancelled   EventType = "game_cancelled"
	EventGameFailed      EventType = "game_failed"
	EventGameFinished    EventType = "game_finished"

	// Payouts.
	EventWinningsClaimed     EventType = "winnings_claimed"
	EventRefundClaimed       EventType = "refund_claimed"
	EventReferralAccrued     EventType = "referral_accrued"
	EventReferralClaimed     EventType = "referral_claimed"
	EventCommissionWithdrawn EventType = "commission_withdrawn"

	// Governance.
	EventBackendChanged     EventType = "backend_changed"
	EventConfigChanged      EventType = "config_changed"
	EventOwnerProposed      EventType = "owner_proposed"
	EventOwnerChanged       EventType = "owner_changed"
	EventRecipientProposed  EventType = "recipient_proposed"
	EventRecipientChanged   EventType = "recipient_changed"
	EventUpgradeProposed    EventType = "upgrade_proposed"
	EventUpgradeCancelled   EventType = "upgrade_cancelled"
	EventUpgradeAuthorized  EventType = "upgrade_authorized"
	EventEmergencyProposed  EventType = "emergency_proposed"
	EventEmergencyCancelled EventType = "emergency_cancelled"
	EventEmergencyWithdrawn EventType = "emergency_withdrawn"
)

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// SubscribeAll registers h for every event type.
func (e *Emitter) SubscribeAll(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// A panicking subscriber is logged and skipped so it cannot halt block
// production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.handlers[ev.Type])+len(e.all))
	handlers = append(handlers, e.handlers[ev.Type]...)
	handlers = append(handlers, e.all...)
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("Handler panicked for %s: %v", ev.Type, r)
				}
			}()
			h(ev)
		}()
	}
}
