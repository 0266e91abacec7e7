package core

// Account holds a participant's native balance and replay-protection nonce.
// Address is the 0x-prefixed secp256k1 account address.
type Account struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// GameState is the lifecycle position of a game.
type GameState uint8

const (
	GameWaitingForDeposits GameState = iota
	// GameActive is reserved for off-chain progress reporting. No
	// transition in this module enters it.
	GameActive
	GameFinished
	GameCancelled
	GameFailed
)

var gameStateNames = [...]string{"waiting_for_deposits", "active", "finished", "cancelled", "failed"}

func (s GameState) String() string {
	if int(s) < len(gameStateNames) {
		return gameStateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further lifecycle transition is possible.
func (s GameState) Terminal() bool {
	return s == GameFinished || s == GameCancelled || s == GameFailed
}

// Game is the escrow record of one match. Sets are stored as maps keyed by
// address so JSON encoding stays deterministic. Stake is the stake amount in
// force when the game was created; deposits, refunds and settlement use it.
type Game struct {
	ID                uint64          `json:"id"`
	State             GameState       `json:"state"`
	Stake             uint64          `json:"stake"`
	Players           []string        `json:"players"`
	Registered        map[string]bool `json:"registered"`
	Deposited         map[string]bool `json:"deposited"`
	DepositCount      int             `json:"deposit_count"`
	Loser             string          `json:"loser"`
	Winners           map[string]bool `json:"winners"`
	CreatedAt         int64           `json:"created_at"`
	EndedAt           int64           `json:"ended_at"`
	FailReason        string          `json:"fail_reason,omitempty"`
	WinningsPerWinner uint64          `json:"winnings_per_winner"`
	WinningsClaimed   map[string]bool `json:"winnings_claimed"`
	RefundClaimed     map[string]bool `json:"refund_claimed"`
}

// Proposal is a pending timelocked change. A zero ProposedAt means none.
type Proposal struct {
	Candidate  string `json:"candidate"`
	ProposedAt int64  `json:"proposed_at"`
}

// Pending reports whether the proposal is outstanding.
func (p Proposal) Pending() bool { return p.ProposedAt != 0 }

// CommissionMode selects how the per-game commission is derived.
type CommissionMode string

const (
	CommissionFixed CommissionMode = "fixed"
	CommissionBps   CommissionMode = "bps"
)

// Contract is the singleton governance and accounting record of the escrow.
// Field order is part of the persisted layout: append new fields before
// Reserved and never reorder.
type Contract struct {
	Version               int            `json:"version"`
	Owner                 string         `json:"owner"`
	Backend               string         `json:"backend"`
	CommissionRecipient   string         `json:"commission_recipient"`
	Implementation        string         `json:"implementation"`
	StakeAmount           uint64         `json:"stake_amount"`
	CommissionMode        CommissionMode `json:"commission_mode"`
	CommissionAmount      uint64         `json:"commission_amount"`
	CommissionBps         uint64         `json:"commission_bps"`
	ReferralBps           uint64         `json:"referral_bps"`
	RequiredPlayerCount   int            `json:"required_player_count"`
	NextGameID            uint64         `json:"next_game_id"`
	AccumulatedCommission uint64         `json:"accumulated_commission"`
	OwnerProposal         Proposal       `json:"owner_proposal"`
	RecipientProposal     Proposal       `json:"recipient_proposal"`
	UpgradeProposal       Proposal       `json:"upgrade_proposal"`
	EmergencyProposal     Proposal       `json:"emergency_proposal"`
	Reserved              []uint64       `json:"reserved"`
}

// State is the full chain state interface. Implementations must be
// snapshot-able so failed transactions can be rolled back.
type State interface {
	// Accounts
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Escrow contract singleton; ErrNotFound before genesis initialises it.
	GetContract() (*Contract, error)
	SetContract(c *Contract) error

	// Games
	GetGame(id uint64) (*Game, error)
	SetGame(g *Game) error

	// Referrals. GetReferrer returns "" when unset.
	GetReferrer(player string) (string, error)
	SetReferrer(player, referrer string) error
	GetReferralEarnings(referrer string) (uint64, error)
	SetReferralEarnings(referrer string, amount uint64) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	DiscardSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	Commit() error
}

// EscrowAccount holds every escrowed stake and accrued balance. No key
// controls it; only the escrow engine debits it.
const EscrowAccount = "0x000000000000000000000000000000000000e5c0"
