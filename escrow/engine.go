// Package escrow implements the stake escrow and settlement engine for
// "last one out loses" games: a sequential game ledger driven by a trusted
// backend, pull-payment claims for winners, refunds, referral accrual, and
// timelocked governance with an emergency recovery path.
//
// Every exported mutating method is one atomic operation: it runs under a
// state snapshot that is reverted on any error, behind a guard that rejects
// nested entry, and its events are emitted only after it succeeds.
package escrow

import (
	"errors"
	"fmt"
	"math/bits"
	"sync/atomic"
	"time"

	"github.com/decred/slog"
	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/crypto"
	"github.com/tolelom/lastout/events"
)

var log = slog.Disabled

// UseLogger sets the package logger.
func UseLogger(logger slog.Logger) {
	log = logger
}

const (
	// TimelockDelay separates a governance proposal from its execution.
	TimelockDelay = 7 * 24 * time.Hour

	MinPlayers     = 2
	MaxPlayers     = 20
	BpsDenominator = 10_000

	// BlockedReferrer permanently marks a player as having no referrer.
	BlockedReferrer = "0x000000000000000000000000000000000000dead"

	// Version is the layout/behaviour revision written at initialisation.
	Version = 4
)

var timelockSeconds = int64(TimelockDelay / time.Second)

// Store is the slice of chain state the engine reads and writes.
type Store interface {
	GetAccount(address string) (*core.Account, error)
	SetAccount(account *core.Account) error
	GetContract() (*core.Contract, error)
	SetContract(c *core.Contract) error
	GetGame(id uint64) (*core.Game, error)
	SetGame(g *core.Game) error
	GetReferrer(player string) (string, error)
	SetReferrer(player, referrer string) error
	GetReferralEarnings(referrer string) (uint64, error)
	SetReferralEarnings(referrer string, amount uint64) error
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	DiscardSnapshot(id int) error
}

// Call identifies who invokes an operation and in which environment.
type Call struct {
	Caller string // 0x address of the signer
	Value  uint64 // native value attached to the call
	Time   int64  // block time, Unix seconds
	TxID   string
	Height int64
}

// Transferer pays native value out of the escrow account. It may fail, and
// it may call back into the engine.
type Transferer interface {
	Transfer(to string, amount uint64) error
}

// SignatureVerifier recovers the signer of a referral consent for player.
type SignatureVerifier interface {
	RecoverSigner(player string, sig []byte) (string, error)
}

type consentVerifier struct{}

func (consentVerifier) RecoverSigner(player string, sig []byte) (string, error) {
	return crypto.RecoverAddressConsent(player, sig)
}

// Option customises an Engine.
type Option func(*Engine)

// WithTransferer replaces the default account-ledger transfer primitive.
func WithTransferer(t Transferer) Option {
	return func(e *Engine) { e.bank = t }
}

// WithVerifier replaces the default personal-sign consent verifier.
func WithVerifier(v SignatureVerifier) Option {
	return func(e *Engine) { e.verifier = v }
}

// Engine executes escrow operations against a Store.
type Engine struct {
	store    Store
	emitter  *events.Emitter
	bank     Transferer
	verifier SignatureVerifier

	entered atomic.Bool
	call    Call
	pending []events.Event
}

// New creates an Engine over store. emitter may be nil.
func New(store Store, emitter *events.Emitter, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		emitter:  emitter,
		verifier: consentVerifier{},
	}
	e.bank = &AccountBank{store: store}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run executes fn as one all-or-nothing operation.
func (e *Engine) run(c Call, fn func() error) error {
	if !e.entered.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	defer e.entered.Store(false)

	if c.Time <= 0 {
		return ErrInvalidTime
	}
	caller, err := crypto.NormalizeAddress(c.Caller)
	if err != nil {
		return fmt.Errorf("%w: caller %q", ErrInvalidAddress, c.Caller)
	}
	c.Caller = caller

	snap, err := e.store.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	e.call = c
	e.pending = e.pending[:0]

	if err := fn(); err != nil {
		e.pending = e.pending[:0]
		if revertErr := e.store.RevertToSnapshot(snap); revertErr != nil {
			return fmt.Errorf("revert after failure: %w (revert: %v)", err, revertErr)
		}
		return err
	}
	if err := e.store.DiscardSnapshot(snap); err != nil {
		e.pending = e.pending[:0]
		return fmt.Errorf("release snapshot: %w", err)
	}

	if e.emitter != nil {
		for _, ev := range e.pending {
			e.emitter.Emit(ev)
		}
	}
	e.pending = e.pending[:0]
	return nil
}

// emit buffers an event for delivery once the current operation succeeds.
func (e *Engine) emit(typ events.EventType, data map[string]any) {
	e.pending = append(e.pending, events.Event{
		Type:        typ,
		TxID:        e.call.TxID,
		BlockHeight: e.call.Height,
		Data:        data,
	})
}

func (e *Engine) contract() (*core.Contract, error) {
	c, err := e.store.GetContract()
	if errors.Is(err, core.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("load contract: %w", err)
	}
	return c, nil
}

func (e *Engine) game(id uint64) (*core.Game, error) {
	g, err := e.store.GetGame(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrGameNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load game %d: %w", id, err)
	}
	if g.ID == 0 {
		return nil, fmt.Errorf("%w: %d", ErrGameNotFound, id)
	}
	return g, nil
}

// address normalises a caller-supplied address.
func address(s string) (string, error) {
	a, err := crypto.NormalizeAddress(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return a, nil
}

// ---- checked arithmetic ----

func addChecked(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

func mulChecked(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// mulDiv returns a*b/d computed on the 128-bit product.
func mulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrOverflow
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, nil
}

const zeroAddress = crypto.ZeroAddress
