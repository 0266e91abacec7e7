package escrow

import (
	"fmt"
	"sort"

	"github.com/tolelom/lastout/events"
)

// bindReferrers records a referrer for every player that has none yet.
// Players already bound (to a referrer or to BlockedReferrer) are skipped
// without looking at their entry.
func (e *Engine) bindReferrers(players, referrers []string, signatures [][]byte) error {
	for i, player := range players {
		current, err := e.store.GetReferrer(player)
		if err != nil {
			return err
		}
		if current != "" {
			continue
		}
		ref, err := address(referrers[i])
		if err != nil {
			return err
		}
		switch {
		case ref == BlockedReferrer:
			if err := e.store.SetReferrer(player, BlockedReferrer); err != nil {
				return err
			}
			e.emit(events.EventReferrerBlocked, map[string]any{"player": player})
		case ref == zeroAddress, ref == player:
			// left open for a later game
		default:
			signer, err := e.verifier.RecoverSigner(player, signatures[i])
			if err != nil {
				return fmt.Errorf("%w: player %s: %v", ErrInvalidReferralSignature, player, err)
			}
			if signer != ref {
				return fmt.Errorf("%w: player %s signed by %s, claimed %s",
					ErrInvalidReferralSignature, player, signer, ref)
			}
			if err := e.store.SetReferrer(player, ref); err != nil {
				return err
			}
			e.emit(events.EventReferrerBound, map[string]any{"player": player, "referrer": ref})
		}
	}
	return nil
}

// ClaimReferralEarnings pays the caller's accrued referral earnings.
func (e *Engine) ClaimReferralEarnings(c Call) error {
	return e.run(c, func() error {
		referrer := e.call.Caller
		amount, err := e.store.GetReferralEarnings(referrer)
		if err != nil {
			return err
		}
		if amount == 0 {
			return fmt.Errorf("%w: no referral earnings for %s", ErrNothingToClaim, referrer)
		}
		if err := e.store.SetReferralEarnings(referrer, 0); err != nil {
			return err
		}
		if err := e.pay(referrer, amount); err != nil {
			return err
		}
		e.emit(events.EventReferralClaimed, map[string]any{"referrer": referrer, "amount": amount})
		return nil
	})
}

// Referrer returns the referrer bound to player: "" when unset, or
// BlockedReferrer.
func (e *Engine) Referrer(player string) (string, error) {
	a, err := address(player)
	if err != nil {
		return "", err
	}
	return e.store.GetReferrer(a)
}

// ReferralEarnings returns the unclaimed referral balance of referrer.
func (e *Engine) ReferralEarnings(referrer string) (uint64, error) {
	a, err := address(referrer)
	if err != nil {
		return 0, err
	}
	return e.store.GetReferralEarnings(a)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
