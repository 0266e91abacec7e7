package escrow

import (
	"fmt"

	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/events"
)

// commissionFor derives the per-game commission for stake under the current
// mode and checks that it stays strictly below the stake.
func commissionFor(ct *core.Contract, stake uint64) (uint64, error) {
	if stake == 0 {
		return 0, ErrZeroStake
	}
	// a full game's pot must fit in a uint64
	if _, err := mulChecked(stake, MaxPlayers); err != nil {
		return 0, fmt.Errorf("%w: stake %d", err, stake)
	}
	var commission uint64
	switch ct.CommissionMode {
	case core.CommissionBps:
		if ct.CommissionBps > BpsDenominator {
			return 0, ErrInvalidBps
		}
		var err error
		if commission, err = mulDiv(stake, ct.CommissionBps, BpsDenominator); err != nil {
			return 0, err
		}
	default:
		commission = ct.CommissionAmount
	}
	if commission >= stake {
		return 0, fmt.Errorf("%w: commission %d, stake %d", ErrCommissionTooHigh, commission, stake)
	}
	return commission, nil
}

func validatePlayerCount(n int) error {
	if n != 0 && (n < MinPlayers || n > MaxPlayers) {
		return fmt.Errorf("%w: %d", ErrInvalidPlayerReq, n)
	}
	return nil
}

// updateConfig runs an owner-only configuration change. mutate edits the
// contract; the result must still yield a valid commission.
func (e *Engine) updateConfig(c Call, key string, value any, mutate func(ct *core.Contract) error) error {
	return e.run(c, func() error {
		ct, err := e.contract()
		if err != nil {
			return err
		}
		if err := requireOwner(ct, e.call.Caller); err != nil {
			return err
		}
		if err := mutate(ct); err != nil {
			return err
		}
		if _, err := commissionFor(ct, ct.StakeAmount); err != nil {
			return err
		}
		if err := e.store.SetContract(ct); err != nil {
			return err
		}
		e.emit(events.EventConfigChanged, map[string]any{"key": key, "value": value})
		log.Infof("Config %s set to %v", key, value)
		return nil
	})
}

// SetStake changes the stake for games created from now on.
func (e *Engine) SetStake(c Call, amount uint64) error {
	return e.updateConfig(c, "stake_amount", amount, func(ct *core.Contract) error {
		if amount == 0 {
			return ErrZeroStake
		}
		ct.StakeAmount = amount
		return nil
	})
}

// SetCommission switches to a fixed per-game commission.
func (e *Engine) SetCommission(c Call, amount uint64) error {
	return e.updateConfig(c, "commission_amount", amount, func(ct *core.Contract) error {
		ct.CommissionMode = core.CommissionFixed
		ct.CommissionAmount = amount
		return nil
	})
}

// SetCommissionBps switches to a commission expressed in basis points of
// the stake.
func (e *Engine) SetCommissionBps(c Call, bps uint64) error {
	return e.updateConfig(c, "commission_bps", bps, func(ct *core.Contract) error {
		if bps > BpsDenominator {
			return fmt.Errorf("%w: %d", ErrInvalidBps, bps)
		}
		ct.CommissionMode = core.CommissionBps
		ct.CommissionBps = bps
		return nil
	})
}

// SetReferralBps sets the share of commission paid to referrers. Zero
// disables the referral program.
func (e *Engine) SetReferralBps(c Call, bps uint64) error {
	return e.updateConfig(c, "referral_bps", bps, func(ct *core.Contract) error {
		if bps > BpsDenominator {
			return fmt.Errorf("%w: %d", ErrInvalidBps, bps)
		}
		ct.ReferralBps = bps
		return nil
	})
}

// SetRequiredPlayerCount pins the number of players per game. Zero allows
// any count between MinPlayers and MaxPlayers.
func (e *Engine) SetRequiredPlayerCount(c Call, n int) error {
	return e.updateConfig(c, "required_player_count", n, func(ct *core.Contract) error {
		if err := validatePlayerCount(n); err != nil {
			return err
		}
		ct.RequiredPlayerCount = n
		return nil
	})
}
