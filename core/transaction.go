package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/lastout/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer   TxType = "transfer"
	TxFundEscrow TxType = "fund_escrow"

	// Backend operations.
	TxCreateGame         TxType = "create_game"
	TxCancelGame         TxType = "cancel_game"
	TxFailGame           TxType = "fail_game"
	TxRecordResults      TxType = "record_results"
	TxWithdrawCommission TxType = "withdraw_commission"

	// Player operations.
	TxDepositStake          TxType = "deposit_stake"
	TxClaimWinnings         TxType = "claim_winnings"
	TxRequestRefund         TxType = "request_refund"
	TxClaimReferralEarnings TxType = "claim_referral_earnings"

	// Owner operations.
	TxSetBackend       TxType = "set_backend"
	TxProposeOwner     TxType = "propose_owner"
	TxExecuteOwner     TxType = "execute_owner"
	TxProposeRecipient TxType = "propose_recipient"
	TxExecuteRecipient TxType = "execute_recipient"
	TxProposeUpgrade   TxType = "propose_upgrade"
	TxCancelUpgrade    TxType = "cancel_upgrade"
	TxAuthorizeUpgrade TxType = "authorize_upgrade"
	TxSetStake         TxType = "set_stake"
	TxSetCommission    TxType = "set_commission"
	TxSetCommissionBps TxType = "set_commission_bps"
	TxSetReferralBps   TxType = "set_referral_bps"
	TxSetPlayerCount   TxType = "set_player_count"
	TxProposeEmergency TxType = "propose_emergency"
	TxCancelEmergency  TxType = "cancel_emergency"
	TxExecuteEmergency TxType = "execute_emergency"
)

// Transaction is the atomic unit of work on the chain.
// From is the sender's 0x account address; the signature must recover to it.
// Value is native currency attached to the call and credited to the escrow
// account before the handler runs; only payable types accept it.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Value     uint64          `json:"value"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Value     uint64          `json:"value"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	body := signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Value:     tx.Value,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks that the signature recovers to From.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	canonical, err := crypto.NormalizeAddress(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from: %w", err)
	}
	if canonical != tx.From {
		return fmt.Errorf("from must be lowercase hex: %s", tx.From)
	}
	return crypto.Verify(tx.From, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce, fee, value uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Value:     value,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload transfers native tokens.
type TransferPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// EmptyPayload is used by operations that carry no arguments.
type EmptyPayload struct{}

// CreateGamePayload registers a new game. Referrers and Signatures are
// optional; when present they align index-by-index with Players.
// Signatures are hex-encoded 65-byte [R || S || V] personal-sign signatures.
type CreateGamePayload struct {
	GameID     uint64   `json:"game_id"`
	Players    []string `json:"players"`
	Referrers  []string `json:"referrers,omitempty"`
	Signatures []string `json:"signatures,omitempty"`
}

// GamePayload addresses a single game.
type GamePayload struct {
	GameID uint64 `json:"game_id"`
}

// FailGamePayload marks a game failed with a human-readable reason.
type FailGamePayload struct {
	GameID uint64 `json:"game_id"`
	Reason string `json:"reason"`
}

// RecordResultsPayload settles a game.
type RecordResultsPayload struct {
	GameID  uint64   `json:"game_id"`
	Winners []string `json:"winners"`
	Loser   string   `json:"loser"`
}

// AddressPayload carries a single candidate address (backend, owner,
// commission recipient or emergency recipient).
type AddressPayload struct {
	Address string `json:"address"`
}

// UpgradePayload names an upgrade target (implementation identifier).
type UpgradePayload struct {
	Implementation string `json:"implementation"`
}

// AmountPayload carries a currency amount or basis-point value.
type AmountPayload struct {
	Amount uint64 `json:"amount"`
}

// PlayerCountPayload sets the required player count (0 = any in range).
type PlayerCountPayload struct {
	Count int `json:"count"`
}
