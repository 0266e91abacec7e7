// Package game exposes the escrow engine as transaction handlers. Each
// handler decodes its payload and runs one engine operation against the
// block's state; the executor's snapshot makes a failed operation leave no
// trace, including the attached value.
package game

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/escrow"
	"github.com/tolelom/lastout/vm"
)

func init() {
	// Backend
	vm.Register(core.TxCreateGame, handleCreateGame)
	vm.Register(core.TxCancelGame, withGame(core.TxCancelGame, (*escrow.Engine).CancelGame))
	vm.Register(core.TxFailGame, handleFailGame)
	vm.Register(core.TxRecordResults, handleRecordResults)
	vm.Register(core.TxWithdrawCommission, noArgs((*escrow.Engine).WithdrawCommission))

	// Players
	vm.RegisterPayable(core.TxDepositStake, withGame(core.TxDepositStake, (*escrow.Engine).Deposit))
	vm.Register(core.TxClaimWinnings, withGame(core.TxClaimWinnings, (*escrow.Engine).ClaimWinnings))
	vm.Register(core.TxRequestRefund, withGame(core.TxRequestRefund, (*escrow.Engine).RequestRefund))
	vm.Register(core.TxClaimReferralEarnings, noArgs((*escrow.Engine).ClaimReferralEarnings))

	// Owner
	vm.Register(core.TxSetBackend, withAddress(core.TxSetBackend, (*escrow.Engine).SetBackend))
	vm.Register(core.TxProposeOwner, withAddress(core.TxProposeOwner, (*escrow.Engine).ProposeOwner))
	vm.Register(core.TxExecuteOwner, noArgs((*escrow.Engine).ExecuteOwner))
	vm.Register(core.TxProposeRecipient, withAddress(core.TxProposeRecipient, (*escrow.Engine).ProposeRecipient))
	vm.Register(core.TxExecuteRecipient, noArgs((*escrow.Engine).ExecuteRecipient))
	vm.Register(core.TxProposeUpgrade, withImplementation(core.TxProposeUpgrade, (*escrow.Engine).ProposeUpgrade))
	vm.Register(core.TxCancelUpgrade, noArgs((*escrow.Engine).CancelUpgrade))
	vm.Register(core.TxAuthorizeUpgrade, withImplementation(core.TxAuthorizeUpgrade, (*escrow.Engine).AuthorizeUpgrade))
	vm.Register(core.TxSetStake, withAmount(core.TxSetStake, (*escrow.Engine).SetStake))
	vm.Register(core.TxSetCommission, withAmount(core.TxSetCommission, (*escrow.Engine).SetCommission))
	vm.Register(core.TxSetCommissionBps, withAmount(core.TxSetCommissionBps, (*escrow.Engine).SetCommissionBps))
	vm.Register(core.TxSetReferralBps, withAmount(core.TxSetReferralBps, (*escrow.Engine).SetReferralBps))
	vm.Register(core.TxSetPlayerCount, handleSetPlayerCount)
	vm.Register(core.TxProposeEmergency, withAddress(core.TxProposeEmergency, (*escrow.Engine).ProposeEmergency))
	vm.Register(core.TxCancelEmergency, noArgs((*escrow.Engine).CancelEmergency))
	vm.Register(core.TxExecuteEmergency, noArgs((*escrow.Engine).ExecuteEmergency))
}

func engine(ctx *vm.Context) *escrow.Engine {
	return escrow.New(ctx.State, ctx.Emitter)
}

func call(ctx *vm.Context) escrow.Call {
	return escrow.Call{
		Caller: ctx.Tx.From,
		Value:  ctx.Tx.Value,
		Time:   ctx.Block.Header.Timestamp,
		TxID:   ctx.Tx.ID,
		Height: ctx.Block.Header.Height,
	}
}

func decode[T any](typ core.TxType, payload json.RawMessage) (T, error) {
	var p T
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", typ, err)
	}
	return p, nil
}

func noArgs(op func(*escrow.Engine, escrow.Call) error) vm.Handler {
	return func(ctx *vm.Context, _ json.RawMessage) error {
		return op(engine(ctx), call(ctx))
	}
}

func withGame(typ core.TxType, op func(*escrow.Engine, escrow.Call, uint64) error) vm.Handler {
	return func(ctx *vm.Context, payload json.RawMessage) error {
		p, err := decode[core.GamePayload](typ, payload)
		if err != nil {
			return err
		}
		return op(engine(ctx), call(ctx), p.GameID)
	}
}

func withAddress(typ core.TxType, op func(*escrow.Engine, escrow.Call, string) error) vm.Handler {
	return func(ctx *vm.Context, payload json.RawMessage) error {
		p, err := decode[core.AddressPayload](typ, payload)
		if err != nil {
			return err
		}
		return op(engine(ctx), call(ctx), p.Address)
	}
}

func withImplementation(typ core.TxType, op func(*escrow.Engine, escrow.Call, string) error) vm.Handler {
	return func(ctx *vm.Context, payload json.RawMessage) error {
		p, err := decode[core.UpgradePayload](typ, payload)
		if err != nil {
			return err
		}
		return op(engine(ctx), call(ctx), p.Implementation)
	}
}

func withAmount(typ core.TxType, op func(*escrow.Engine, escrow.Call, uint64) error) vm.Handler {
	return func(ctx *vm.Context, payload json.RawMessage) error {
		p, err := decode[core.AmountPayload](typ, payload)
		if err != nil {
			return err
		}
		return op(engine(ctx), call(ctx), p.Amount)
	}
}

func handleCreateGame(ctx *vm.Context, payload json.RawMessage) error {
	p, err := decode[core.CreateGamePayload](core.TxCreateGame, payload)
	if err != nil {
		return err
	}
	var sigs [][]byte
	if len(p.Signatures) > 0 {
		sigs = make([][]byte, len(p.Signatures))
		for i, s := range p.Signatures {
			if s == "" {
				continue
			}
			raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
			if err != nil {
				return fmt.Errorf("%w: signature %d: %v", escrow.ErrInvalidReferralSignature, i, err)
			}
			sigs[i] = raw
		}
	}
	return engine(ctx).CreateGame(call(ctx), p.GameID, p.Players, p.Referrers, sigs)
}

func handleFailGame(ctx *vm.Context, payload json.RawMessage) error {
	p, err := decode[core.FailGamePayload](core.TxFailGame, payload)
	if err != nil {
		return err
	}
	return engine(ctx).FailGame(call(ctx), p.GameID, p.Reason)
}

func handleRecordResults(ctx *vm.Context, payload json.RawMessage) error {
	p, err := decode[core.RecordResultsPayload](core.TxRecordResults, payload)
	if err != nil {
		return err
	}
	return engine(ctx).RecordResults(call(ctx), p.GameID, p.Winners, p.Loser)
}

func handleSetPlayerCount(ctx *vm.Context, payload json.RawMessage) error {
	p, err := decode[core.PlayerCountPayload](core.TxSetPlayerCount, payload)
	if err != nil {
		return err
	}
	return engine(ctx).SetRequiredPlayerCount(call(ctx), p.Count)
}
