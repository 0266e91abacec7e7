package escrow

import (
	"errors"
	"fmt"

	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/events"
)

func requireOwner(ct *core.Contract, caller string) error {
	if caller != ct.Owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller)
	}
	return nil
}

func requireBackend(ct *core.Contract, caller string) error {
	if caller != ct.Backend {
		return fmt.Errorf("%w: %s", ErrNotBackend, caller)
	}
	return nil
}

// Params is the initial configuration of the escrow contract.
type Params struct {
	Owner               string              `json:"owner" mapstructure:"owner"`
	Backend             string              `json:"backend" mapstructure:"backend"`
	CommissionRecipient string              `json:"commission_recipient" mapstructure:"commission_recipient"`
	Implementation      string              `json:"implementation" mapstructure:"implementation"`
	StakeAmount         uint64              `json:"stake_amount" mapstructure:"stake_amount"`
	CommissionMode      core.CommissionMode `json:"commission_mode" mapstructure:"commission_mode"`
	CommissionAmount    uint64              `json:"commission_amount" mapstructure:"commission_amount"`
	CommissionBps       uint64              `json:"commission_bps" mapstructure:"commission_bps"`
	ReferralBps         uint64              `json:"referral_bps" mapstructure:"referral_bps"`
	RequiredPlayerCount int                 `json:"required_player_count" mapstructure:"required_player_count"`
}

// Validate checks p and fills defaults: an empty recipient becomes the owner
// and an empty commission mode becomes fixed.
func (p *Params) Validate() error {
	var err error
	if p.Owner, err = address(p.Owner); err != nil {
		return err
	}
	if p.Owner == zeroAddress {
		return fmt.Errorf("%w: owner", ErrZeroAddress)
	}
	if p.Backend, err = address(p.Backend); err != nil {
		return err
	}
	if p.Backend == zeroAddress {
		return fmt.Errorf("%w: backend", ErrZeroAddress)
	}
	if p.CommissionRecipient, err = address(p.CommissionRecipient); err != nil {
		return err
	}
	if p.CommissionRecipient == zeroAddress {
		p.CommissionRecipient = p.Owner
	}
	if p.CommissionMode == "" {
		p.CommissionMode = core.CommissionFixed
	}
	if p.CommissionMode != core.CommissionFixed && p.CommissionMode != core.CommissionBps {
		return fmt.Errorf("escrow: unknown commission mode %q", p.CommissionMode)
	}
	if p.ReferralBps > BpsDenominator || p.CommissionBps > BpsDenominator {
		return ErrInvalidBps
	}
	if err := validatePlayerCount(p.RequiredPlayerCount); err != nil {
		return err
	}
	ct := p.contract()
	_, err = commissionFor(ct, ct.StakeAmount)
	return err
}

func (p *Params) contract() *core.Contract {
	return &core.Contract{
		Version:             Version,
		Owner:               p.Owner,
		Backend:             p.Backend,
		CommissionRecipient: p.CommissionRecipient,
		Implementation:      p.Implementation,
		StakeAmount:         p.StakeAmount,
		CommissionMode:      p.CommissionMode,
		CommissionAmount:    p.CommissionAmount,
		CommissionBps:       p.CommissionBps,
		ReferralBps:         p.ReferralBps,
		RequiredPlayerCount: p.RequiredPlayerCount,
		NextGameID:          1,
		Reserved:            make([]uint64, 16),
	}
}

// Initialize writes the contract record. It runs once, at genesis.
func (e *Engine) Initialize(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, err := e.store.GetContract(); err == nil {
		return ErrAlreadyInitialized
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}
	return e.store.SetContract(p.contract())
}

// Contract returns a copy of the contract record.
func (e *Engine) Contract() (*core.Contract, error) {
	return e.contract()
}

// SetBackend replaces the backend operator immediately.
func (e *Engine) SetBackend(c Call, backend string) error {
	return e.run(c, func() error {
		ct, err := e.contract()
		if err != nil {
			return err
		}
		if err := requireOwner(ct, e.call.Caller); err != nil {
			return err
		}
		addr, err := address(backend)
		if err != nil {
			return err
		}
		if addr == zeroAddress {
			return fmt.Errorf("%w: backend", ErrZeroAddress)
		}
		old := ct.Backend
		ct.Backend = addr
		if err := e.store.SetContract(ct); err != nil {
			return err
		}
		e.emit(events.EventBackendChanged, map[string]any{"old": old, "new": addr})
		log.Infof("Backend changed from %s to %s", old, addr)
		return nil
	})
}
