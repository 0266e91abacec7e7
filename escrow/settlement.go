package escrow

import (
	"fmt"

	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/events"
)

// Split is the payout breakdown of one settled game.
type Split struct {
	Commission    uint64            // gross commission taken from the loser's stake
	NetCommission uint64            // commission left after referral bonuses
	Share         uint64            // each winner's share of the residual
	PerWinner     uint64            // stake + Share
	Bonuses       map[string]uint64 // referrer -> bonus
	Remainder     uint64            // residual left over by integer division
}

// ComputeSplit divides the loser's stake among winners. referrers holds the
// bound referrer of each deposited player that has one (duplicates allowed:
// a referrer with two referees earns two bonuses).
func ComputeSplit(stake, commission, referralBps uint64, depositCount, winners int, referrers []string) (*Split, error) {
	if commission >= stake {
		return nil, fmt.Errorf("%w: commission %d, stake %d", ErrCommissionTooHigh, commission, stake)
	}
	if referralBps > BpsDenominator {
		return nil, ErrInvalidBps
	}
	s := &Split{
		Commission: commission,
		Bonuses:    make(map[string]uint64),
	}

	var paid uint64
	if referralBps > 0 && depositCount > 0 {
		for _, r := range referrers {
			perCount, err := mulDiv(commission, referralBps, uint64(depositCount))
			if err != nil {
				return nil, err
			}
			bonus := perCount / BpsDenominator
			if bonus == 0 {
				continue
			}
			s.Bonuses[r] += bonus
			paid += bonus
		}
	}
	if paid > commission {
		return nil, fmt.Errorf("%w: referral bonuses %d exceed commission %d", ErrOverflow, paid, commission)
	}
	s.NetCommission = commission - paid

	residual := stake - commission
	if winners > 0 {
		s.Share = residual / uint64(winners)
		s.Remainder = residual - s.Share*uint64(winners)
	} else {
		s.Remainder = residual
	}
	per, err := addChecked(stake, s.Share)
	if err != nil {
		return nil, err
	}
	if per < stake {
		return nil, fmt.Errorf("%w: %d < %d", ErrPayoutBelowFloor, per, stake)
	}
	s.PerWinner = per
	return s, nil
}

// RecordResults settles game id: loser forfeits their stake, every other
// deposited player is a winner entitled to claim PerWinner.
func (e *Engine) RecordResults(c Call, id uint64, winners []string, loser string) error {
	return e.run(c, func() error {
		ct, err := e.contract()
		if err != nil {
			return err
		}
		if err := requireBackend(ct, e.call.Caller); err != nil {
			return err
		}

		g, err := e.game(id)
		if err != nil {
			return err
		}
		if g.State != core.GameWaitingForDeposits {
			return fmt.Errorf("%w: game %d is %s", ErrInvalidState, id, g.State)
		}

		deposited := make(map[string]bool, g.DepositCount)
		for _, p := range g.Players {
			if g.Deposited[p] {
				deposited[p] = true
			}
		}
		if len(deposited) < 2 {
			return fmt.Errorf("%w: game %d has %d", ErrNotEnoughDeposits, id, len(deposited))
		}
		if len(winners) != len(deposited)-1 {
			return fmt.Errorf("%w: got %d want %d", ErrWinnerCount, len(winners), len(deposited)-1)
		}

		loserAddr, err := address(loser)
		if err != nil {
			return err
		}
		if !deposited[loserAddr] || !g.Registered[loserAddr] {
			return fmt.Errorf("%w: %s", ErrInvalidLoser, loserAddr)
		}

		winnerSet := make(map[string]bool, len(winners))
		for _, w := range winners {
			a, err := address(w)
			if err != nil {
				return err
			}
			if a == loserAddr || !deposited[a] || !g.Registered[a] {
				return fmt.Errorf("%w: %s", ErrInvalidWinner, a)
			}
			if winnerSet[a] {
				return fmt.Errorf("%w: %s listed twice", ErrInvalidWinner, a)
			}
			winnerSet[a] = true
		}

		commission, err := commissionFor(ct, g.Stake)
		if err != nil {
			return err
		}

		var referred []string
		if ct.ReferralBps > 0 {
			for _, p := range g.Players {
				if !deposited[p] {
					continue
				}
				r, err := e.store.GetReferrer(p)
				if err != nil {
					return err
				}
				if r != "" && r != zeroAddress && r != BlockedReferrer {
					referred = append(referred, r)
				}
			}
		}

		split, err := ComputeSplit(g.Stake, commission, ct.ReferralBps, g.DepositCount, len(winnerSet), referred)
		if err != nil {
			return err
		}

		if ct.AccumulatedCommission, err = addChecked(ct.AccumulatedCommission, split.NetCommission); err != nil {
			return err
		}
		if err := e.store.SetContract(ct); err != nil {
			return err
		}
		for _, r := range sortedKeys(split.Bonuses) {
			bonus := split.Bonuses[r]
			cur, err := e.store.GetReferralEarnings(r)
			if err != nil {
				return err
			}
			next, err := addChecked(cur, bonus)
			if err != nil {
				return err
			}
			if err := e.store.SetReferralEarnings(r, next); err != nil {
				return err
			}
			e.emit(events.EventReferralAccrued, map[string]any{
				"game_id":  id,
				"referrer": r,
				"amount":   bonus,
			})
		}

		g.WinningsPerWinner = split.PerWinner
		for w := range winnerSet {
			g.Winners[w] = true
		}
		g.Loser = loserAddr
		g.State = core.GameFinished
		g.EndedAt = e.call.Time
		if err := e.store.SetGame(g); err != nil {
			return err
		}

		e.emit(events.EventGameFinished, map[string]any{
			"game_id":             id,
			"loser":               loserAddr,
			"winners":             sortedKeys(winnerSet),
			"winnings_per_winner": split.PerWinner,
			"commission":          split.NetCommission,
		})
		log.Infof("Game %d settled: loser %s, %d winners at %d, commission %d",
			id, loserAddr, len(winnerSet), split.PerWinner, split.NetCommission)
		return nil
	})
}
