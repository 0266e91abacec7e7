package wallet

import (
	"encoding/hex"

	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/crypto"
)

// Wallet holds a key pair and provides transaction-building helpers.
type Wallet struct {
	priv    crypto.PrivateKey
	pub     crypto.PublicKey
	chainID string
}

// New creates a Wallet from an existing private key. Every transaction it
// builds targets chainID.
func New(priv crypto.PrivateKey, chainID string) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public(), chainID: chainID}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate(chainID string) (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv, chainID), nil
}

// PrivKey returns the private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded compressed public key.
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the 0x account address used as the "from" field.
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// NewTx creates a signed transaction. nonce should match the account's
// current nonce; value is only accepted by payable types.
func (w *Wallet) NewTx(typ core.TxType, nonce, fee, value uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(w.chainID, typ, w.Address(), nonce, fee, value, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// SignReferral returns the hex-encoded consent signature that lets a
// backend bind this wallet as player's referrer.
func (w *Wallet) SignReferral(player string) (string, error) {
	sig, err := crypto.SignAddressConsent(w.priv, player)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// Transfer moves native value to another account.
func (w *Wallet) Transfer(to string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxTransfer, nonce, fee, 0, core.TransferPayload{To: to, Amount: amount})
}

// FundEscrow sends value to the escrow account without touching any game.
func (w *Wallet) FundEscrow(value, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxFundEscrow, nonce, fee, value, core.EmptyPayload{})
}

// ---- Player ----

// Deposit locks stake in game id. stake must equal the game's stake.
func (w *Wallet) Deposit(id, stake, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxDepositStake, nonce, fee, stake, core.GamePayload{GameID: id})
}

// ClaimWinnings withdraws a winner's share of game id.
func (w *Wallet) ClaimWinnings(id, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxClaimWinnings, nonce, fee, 0, core.GamePayload{GameID: id})
}

// RequestRefund returns the stake locked in a cancelled or failed game.
func (w *Wallet) RequestRefund(id, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxRequestRefund, nonce, fee, 0, core.GamePayload{GameID: id})
}

// ClaimReferralEarnings withdraws everything accrued as a referrer.
func (w *Wallet) ClaimReferralEarnings(nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxClaimReferralEarnings, nonce, fee, 0, core.EmptyPayload{})
}

// ---- Backend ----

// CreateGame registers a game. referrers and signatures may be nil, or must
// align with players.
func (w *Wallet) CreateGame(id uint64, players, referrers, signatures []string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxCreateGame, nonce, fee, 0, core.CreateGamePayload{
		GameID:     id,
		Players:    players,
		Referrers:  referrers,
		Signatures: signatures,
	})
}

// CancelGame cancels a game so depositors can refund.
func (w *Wallet) CancelGame(id, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxCancelGame, nonce, fee, 0, core.GamePayload{GameID: id})
}

// FailGame marks a game failed.
func (w *Wallet) FailGame(id uint64, reason string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxFailGame, nonce, fee, 0, core.FailGamePayload{GameID: id, Reason: reason})
}

// RecordResults settles a game.
func (w *Wallet) RecordResults(id uint64, winners []string, loser string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxRecordResults, nonce, fee, 0, core.RecordResultsPayload{
		GameID:  id,
		Winners: winners,
		Loser:   loser,
	})
}

// WithdrawCommission pays accrued commission to the commission recipient.
func (w *Wallet) WithdrawCommission(nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxWithdrawCommission, nonce, fee, 0, core.EmptyPayload{})
}

// ---- Owner ----

// Address-carrying owner operations: set_backend, propose_owner,
// propose_recipient and propose_emergency.
func (w *Wallet) AddressOp(typ core.TxType, addr string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(typ, nonce, fee, 0, core.AddressPayload{Address: addr})
}

// AmountOp builds set_stake, set_commission, set_commission_bps and
// set_referral_bps.
func (w *Wallet) AmountOp(typ core.TxType, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(typ, nonce, fee, 0, core.AmountPayload{Amount: amount})
}

// UpgradeOp builds propose_upgrade and authorize_upgrade.
func (w *Wallet) UpgradeOp(typ core.TxType, impl string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(typ, nonce, fee, 0, core.UpgradePayload{Implementation: impl})
}

// SetPlayerCount sets the required player count; 0 allows any count.
func (w *Wallet) SetPlayerCount(n int, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxSetPlayerCount, nonce, fee, 0, core.PlayerCountPayload{Count: n})
}

// Op builds an argument-less governance transaction: execute_owner,
// execute_recipient, cancel_upgrade, cancel_emergency, execute_emergency.
func (w *Wallet) Op(typ core.TxType, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(typ, nonce, fee, 0, core.EmptyPayload{})
}
