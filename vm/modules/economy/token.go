package economy

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/crypto"
	"github.com/tolelom/lastout/events"
	"github.com/tolelom/lastout/vm"
)

func init() {
	vm.Register(core.TxTransfer, handleTransfer)
	vm.RegisterPayable(core.TxFundEscrow, handleFundEscrow)
}

func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer payload: %w", err)
	}
	if p.Amount == 0 {
		return fmt.Errorf("transfer amount must be > 0")
	}
	to, err := crypto.NormalizeAddress(p.To)
	if err != nil {
		return fmt.Errorf("transfer to: %w", err)
	}
	if crypto.IsZeroAddress(to) {
		return fmt.Errorf("transfer to address required")
	}
	// The escrow account is only credited through payable entry points.
	if to == core.EscrowAccount {
		return fmt.Errorf("use %s to send value to the escrow", core.TxFundEscrow)
	}

	sender, err := ctx.State.GetAccount(ctx.Tx.From)
	if err != nil {
		return err
	}
	if sender.Balance < p.Amount {
		return fmt.Errorf("insufficient balance: have %d, need %d", sender.Balance, p.Amount)
	}
	sender.Balance -= p.Amount
	if err := ctx.State.SetAccount(sender); err != nil {
		return err
	}

	recipient, err := ctx.State.GetAccount(to)
	if err != nil {
		return err
	}
	if recipient.Balance > math.MaxUint64-p.Amount {
		return fmt.Errorf("recipient balance overflow")
	}
	recipient.Balance += p.Amount
	if err := ctx.State.SetAccount(recipient); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventTokenTransfer,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data: map[string]any{
				"from":   ctx.Tx.From,
				"to":     to,
				"amount": p.Amount,
			},
		})
	}
	return nil
}

// handleFundEscrow accepts unsolicited value. The executor has already moved
// the value into the escrow account, so nothing else changes.
func handleFundEscrow(ctx *vm.Context, _ json.RawMessage) error {
	if ctx.Tx.Value == 0 {
		return fmt.Errorf("fund_escrow requires attached value")
	}
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventEscrowFunded,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data: map[string]any{
				"from":   ctx.Tx.From,
				"amount": ctx.Tx.Value,
			},
		})
	}
	return nil
}
