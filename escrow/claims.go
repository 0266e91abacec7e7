package escrow

import (
	"fmt"

	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/events"
)

// ClaimWinnings pays the caller's winnings from a finished game.
func (e *Engine) ClaimWinnings(c Call, id uint64) error {
	return e.run(c, func() error {
		g, err := e.game(id)
		if err != nil {
			return err
		}
		if g.State != core.GameFinished {
			return fmt.Errorf("%w: game %d is %s", ErrInvalidState, id, g.State)
		}
		player := e.call.Caller
		if !g.Winners[player] {
			return fmt.Errorf("%w: %s", ErrNotWinner, player)
		}
		if g.WinningsClaimed[player] {
			return fmt.Errorf("%w: %s in game %d", ErrAlreadyClaimed, player, id)
		}
		amount := g.WinningsPerWinner
		if amount == 0 {
			return fmt.Errorf("%w: game %d", ErrNothingToClaim, id)
		}
		g.WinningsClaimed[player] = true
		if err := e.store.SetGame(g); err != nil {
			return err
		}
		if err := e.pay(player, amount); err != nil {
			return err
		}
		e.emit(events.EventWinningsClaimed, map[string]any{
			"game_id": id,
			"player":  player,
			"amount":  amount,
		})
		return nil
	})
}

// RequestRefund returns the caller's stake from a cancelled or failed game.
func (e *Engine) RequestRefund(c Call, id uint64) error {
	return e.run(c, func() error {
		g, err := e.game(id)
		if err != nil {
			return err
		}
		if g.State != core.GameCancelled && g.State != core.GameFailed {
			return fmt.Errorf("%w: game %d is %s", ErrInvalidState, id, g.State)
		}
		player := e.call.Caller
		if g.RefundClaimed[player] {
			return fmt.Errorf("%w: %s in game %d", ErrAlreadyRefunded, player, id)
		}
		if !g.Deposited[player] {
			return fmt.Errorf("%w: %s in game %d", ErrNotDeposited, player, id)
		}
		g.RefundClaimed[player] = true
		delete(g.Deposited, player)
		g.DepositCount--
		if err := e.store.SetGame(g); err != nil {
			return err
		}
		if err := e.pay(player, g.Stake); err != nil {
			return err
		}
		e.emit(events.EventRefundClaimed, map[string]any{
			"game_id": id,
			"player":  player,
			"amount":  g.Stake,
		})
		return nil
	})
}

// WithdrawCommission pays the accumulated platform commission to the
// commission recipient. Only the backend may trigger it.
func (e *Engine) WithdrawCommission(c Call) error {
	return e.run(c, func() error {
		ct, err := e.contract()
		if err != nil {
			return err
		}
		if err := requireBackend(ct, e.call.Caller); err != nil {
			return err
		}
		amount := ct.AccumulatedCommission
		if amount == 0 {
			return fmt.Errorf("%w: no accumulated commission", ErrNothingToClaim)
		}
		ct.AccumulatedCommission = 0
		if err := e.store.SetContract(ct); err != nil {
			return err
		}
		if err := e.pay(ct.CommissionRecipient, amount); err != nil {
			return err
		}
		e.emit(events.EventCommissionWithdrawn, map[string]any{
			"recipient": ct.CommissionRecipient,
			"amount":    amount,
		})
		log.Infof("Commission %d withdrawn to %s", amount, ct.CommissionRecipient)
		return nil
	})
}

// Claimable returns what player can currently claim from game id: winnings,
// a refund, or zero.
func (e *Engine) Claimable(id uint64, player string) (uint64, error) {
	g, err := e.game(id)
	if err != nil {
		return 0, err
	}
	a, err := address(player)
	if err != nil {
		return 0, err
	}
	switch g.State {
	case core.GameFinished:
		if g.Winners[a] && !g.WinningsClaimed[a] {
			return g.WinningsPerWinner, nil
		}
	case core.GameCancelled, core.GameFailed:
		if g.Deposited[a] && !g.RefundClaimed[a] {
			return g.Stake, nil
		}
	}
	return 0, nil
}
