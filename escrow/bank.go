package escrow

import (
	"errors"
	"fmt"

	"github.com/tolelom/lastout/core"
)

// AccountBank moves native value out of core.EscrowAccount on the account
// ledger.
type AccountBank struct {
	store Store
}

// NewAccountBank returns the ledger-backed Transferer over store.
func NewAccountBank(store Store) *AccountBank {
	return &AccountBank{store: store}
}

// Transfer debits the escrow account and credits to.
func (b *AccountBank) Transfer(to string, amount uint64) error {
	if to == "" || to == zeroAddress || to == core.EscrowAccount {
		return fmt.Errorf("%w: invalid recipient %q", ErrTransferFailed, to)
	}
	from, err := b.store.GetAccount(core.EscrowAccount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if from.Balance < amount {
		return fmt.Errorf("%w: escrow holds %d, need %d", ErrTransferFailed, from.Balance, amount)
	}
	dst, err := b.store.GetAccount(to)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	credited, err := addChecked(dst.Balance, amount)
	if err != nil {
		return fmt.Errorf("%w: recipient balance overflow", ErrTransferFailed)
	}
	from.Balance -= amount
	dst.Balance = credited
	if err := b.store.SetAccount(from); err != nil {
		return err
	}
	return b.store.SetAccount(dst)
}

// EscrowBalance returns the native balance held by the escrow account.
func (e *Engine) EscrowBalance() (uint64, error) {
	acc, err := e.store.GetAccount(core.EscrowAccount)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// pay sends amount to recipient through the configured Transferer. Callers
// zero the claimable balance before calling pay.
func (e *Engine) pay(to string, amount uint64) error {
	if err := e.bank.Transfer(to, amount); err != nil {
		log.Warnf("Transfer of %d to %s failed: %v", amount, to, err)
		if errors.Is(err, ErrTransferFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}
