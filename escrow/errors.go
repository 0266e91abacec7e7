package escrow

import "errors"

// Authorization errors.
var (
	ErrNotOwner      = errors.New("escrow: caller is not the owner")
	ErrNotBackend    = errors.New("escrow: caller is not the backend")
	ErrNotAuthorized = errors.New("escrow: caller is not authorized")
	ErrReentrantCall = errors.New("escrow: reentrant call")
)

// Not-found / already-exists errors.
var (
	ErrNotInitialized     = errors.New("escrow: contract not initialized")
	ErrAlreadyInitialized = errors.New("escrow: contract already initialized")
	ErrGameNotFound       = errors.New("escrow: game not found")
	ErrGameExists         = errors.New("escrow: game already exists")
)

// Invariant-violation errors.
var (
	ErrInvalidGameID     = errors.New("escrow: game id is not the next expected id")
	ErrInvalidAddress    = errors.New("escrow: malformed address")
	ErrPlayerCount       = errors.New("escrow: invalid player count")
	ErrZeroPlayer        = errors.New("escrow: zero address player")
	ErrDuplicatePlayer   = errors.New("escrow: duplicate player")
	ErrArrayLength       = errors.New("escrow: array length mismatch")
	ErrInvalidState      = errors.New("escrow: game not in required state")
	ErrNotRegistered     = errors.New("escrow: caller is not a player of this game")
	ErrAlreadyDeposited  = errors.New("escrow: stake already deposited")
	ErrWrongStake        = errors.New("escrow: attached value must equal the stake")
	ErrNotDeposited      = errors.New("escrow: no stake deposited")
	ErrAlreadyClaimed    = errors.New("escrow: winnings already claimed")
	ErrAlreadyRefunded   = errors.New("escrow: stake already refunded")
	ErrNotWinner         = errors.New("escrow: caller is not a winner of this game")
	ErrNothingToClaim    = errors.New("escrow: nothing to claim")
	ErrNotEnoughDeposits = errors.New("escrow: fewer than two deposited players")
	ErrWinnerCount       = errors.New("escrow: winners must be every deposited player except the loser")
	ErrInvalidLoser      = errors.New("escrow: loser is not a deposited player")
	ErrInvalidWinner     = errors.New("escrow: invalid winner")
	ErrInvalidTime       = errors.New("escrow: call time must be positive")
)

// Arithmetic / configuration errors.
var (
	ErrCommissionTooHigh = errors.New("escrow: commission must be below the stake")
	ErrInvalidBps        = errors.New("escrow: basis points exceed 10000")
	ErrZeroStake         = errors.New("escrow: stake must be positive")
	ErrPayoutBelowFloor  = errors.New("escrow: per-winner payout below stake")
	ErrOverflow          = errors.New("escrow: arithmetic overflow")
	ErrInvalidPlayerReq  = errors.New("escrow: required player count out of range")
)

// Governance errors.
var (
	ErrZeroAddress     = errors.New("escrow: zero address")
	ErrSameValue       = errors.New("escrow: candidate equals current value")
	ErrNoProposal      = errors.New("escrow: no pending proposal")
	ErrTimelockActive  = errors.New("escrow: timelock has not elapsed")
	ErrProposalPending = errors.New("escrow: proposal already pending")
	ErrUpgradeMismatch = errors.New("escrow: implementation does not match proposal")
)

// External-call and signature errors.
var (
	ErrTransferFailed           = errors.New("escrow: transfer failed")
	ErrInvalidReferralSignature = errors.New("escrow: invalid referral signature")
)
