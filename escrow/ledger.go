package escrow

import (
	"fmt"

	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/events"
)

// CreateGame allocates game id with the given players. referrers and
// signatures are optional; when referrers is non-empty both must have one
// entry per player (a signature may be empty where no referrer is bound).
func (e *Engine) CreateGame(c Call, id uint64, players, referrers []string, signatures [][]byte) error {
	return e.run(c, func() error {
		ct, err := e.contract()
		if err != nil {
			return err
		}
		if err := requireBackend(ct, e.call.Caller); err != nil {
			return err
		}
		if id == 0 || id != ct.NextGameID {
			return fmt.Errorf("%w: got %d want %d", ErrInvalidGameID, id, ct.NextGameID)
		}
		if n := len(players); n < MinPlayers || n > MaxPlayers {
			return fmt.Errorf("%w: %d", ErrPlayerCount, n)
		}
		if ct.RequiredPlayerCount != 0 && len(players) != ct.RequiredPlayerCount {
			return fmt.Errorf("%w: %d, required %d", ErrPlayerCount, len(players), ct.RequiredPlayerCount)
		}
		if len(referrers) > 0 && (len(referrers) != len(players) || len(signatures) != len(players)) {
			return fmt.Errorf("%w: %d players, %d referrers, %d signatures",
				ErrArrayLength, len(players), len(referrers), len(signatures))
		}
		if len(referrers) == 0 && len(signatures) > 0 {
			return fmt.Errorf("%w: signatures without referrers", ErrArrayLength)
		}

		normalized := make([]string, len(players))
		for i, p := range players {
			a, err := address(p)
			if err != nil {
				return err
			}
			if a == zeroAddress {
				return fmt.Errorf("%w: index %d", ErrZeroPlayer, i)
			}
			for j := 0; j < i; j++ {
				if normalized[j] == a {
					return fmt.Errorf("%w: %s", ErrDuplicatePlayer, a)
				}
			}
			normalized[i] = a
		}

		if _, err := e.store.GetGame(id); err == nil {
			return fmt.Errorf("%w: %d", ErrGameExists, id)
		}

		g := &core.Game{
			ID:              id,
			State:           core.GameWaitingForDeposits,
			Stake:           ct.StakeAmount,
			Players:         normalized,
			Registered:      make(map[string]bool, len(normalized)),
			Deposited:       make(map[string]bool),
			Winners:         make(map[string]bool),
			CreatedAt:       e.call.Time,
			WinningsClaimed: make(map[string]bool),
			RefundClaimed:   make(map[string]bool),
		}
		for _, p := range normalized {
			g.Registered[p] = true
		}
		if err := e.store.SetGame(g); err != nil {
			return err
		}
		ct.NextGameID++
		if err := e.store.SetContract(ct); err != nil {
			return err
		}

		if len(referrers) > 0 {
			if err := e.bindReferrers(normalized, referrers, signatures); err != nil {
				return err
			}
		}

		e.emit(events.EventGameCreated, map[string]any{
			"game_id": id,
			"players": normalized,
			"stake":   g.Stake,
		})
		log.Debugf("Game %d created with %d players, stake %d", id, len(normalized), g.Stake)
		return nil
	})
}

// Deposit locks the caller's stake into game id. The attached value must
// equal the game's stake exactly.
func (e *Engine) Deposit(c Call, id uint64) error {
	return e.run(c, func() error {
		g, err := e.game(id)
		if err != nil {
			return err
		}
		if g.State != core.GameWaitingForDeposits {
			return fmt.Errorf("%w: game %d is %s", ErrInvalidState, id, g.State)
		}
		player := e.call.Caller
		if !g.Registered[player] {
			return fmt.Errorf("%w: %s", ErrNotRegistered, player)
		}
		if g.Deposited[player] {
			return fmt.Errorf("%w: %s in game %d", ErrAlreadyDeposited, player, id)
		}
		if e.call.Value != g.Stake {
			return fmt.Errorf("%w: got %d want %d", ErrWrongStake, e.call.Value, g.Stake)
		}
		g.Deposited[player] = true
		g.DepositCount++
		if err := e.store.SetGame(g); err != nil {
			return err
		}
		e.emit(events.EventStakeDeposited, map[string]any{
			"game_id":       id,
			"player":        player,
			"amount":        g.Stake,
			"deposit_count": g.DepositCount,
		})
		return nil
	})
}

// CancelGame moves a game that is still waiting for deposits to Cancelled.
// Deposited players recover their stake through RequestRefund.
func (e *Engine) CancelGame(c Call, id uint64) error {
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
		prior := g.State
		g.State = core.GameCancelled
		g.EndedAt = e.call.Time
		if err := e.store.SetGame(g); err != nil {
			return err
		}
		e.emit(events.EventGameCancelled, map[string]any{
			"game_id":     id,
			"prior_state": prior.String(),
		})
		log.Infof("Game %d cancelled with %d deposits", id, g.DepositCount)
		return nil
	})
}

// FailGame marks a non-terminal game as Failed with a human-readable reason.
func (e *Engine) FailGame(c Call, id uint64, reason string) error {
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
		if g.State.Terminal() {
			return fmt.Errorf("%w: game %d is %s", ErrInvalidState, id, g.State)
		}
		g.State = core.GameFailed
		g.EndedAt = e.call.Time
		g.FailReason = reason
		if err := e.store.SetGame(g); err != nil {
			return err
		}
		e.emit(events.EventGameFailed, map[string]any{
			"game_id": id,
			"reason":  reason,
		})
		log.Warnf("Game %d failed: %s", id, reason)
		return nil
	})
}

// GameInfo is the public summary of a game.
type GameInfo struct {
	ID           uint64         `json:"id"`
	State        core.GameState `json:"state"`
	StateName    string         `json:"state_name"`
	Players      []string       `json:"players"`
	DepositCount int            `json:"deposit_count"`
	CreatedAt    int64          `json:"created_at"`
	EndedAt      int64          `json:"ended_at"`
	Loser        string         `json:"loser"`
}

// GameInfo returns the summary of game id.
func (e *Engine) GameInfo(id uint64) (*GameInfo, error) {
	g, err := e.game(id)
	if err != nil {
		return nil, err
	}
	players := make([]string, len(g.Players))
	copy(players, g.Players)
	return &GameInfo{
		ID:           g.ID,
		State:        g.State,
		StateName:    g.State.String(),
		Players:      players,
		DepositCount: g.DepositCount,
		CreatedAt:    g.CreatedAt,
		EndedAt:      g.EndedAt,
		Loser:        g.Loser,
	}, nil
}

// PlayerDepositStatus reports whether player currently has a stake locked in
// game id. Unknown games and malformed addresses report false.
func (e *Engine) PlayerDepositStatus(id uint64, player string) bool {
	g, err := e.game(id)
	if err != nil {
		return false
	}
	a, err := address(player)
	if err != nil {
		return false
	}
	return g.Deposited[a]
}

// IsWinner reports whether player is a recorded winner of game id.
func (e *Engine) IsWinner(id uint64, player string) bool {
	g, err := e.game(id)
	if err != nil {
		return false
	}
	a, err := address(player)
	if err != nil {
		return false
	}
	return g.Winners[a]
}
