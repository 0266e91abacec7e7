package escrow

import (
	"fmt"

	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/events"
)

// ProposeEmergency schedules a withdrawal of the entire escrow balance to
// recipient. Unlike other proposals it cannot be overwritten while pending.
func (e *Engine) ProposeEmergency(c Call, recipient string) error {
	return e.run(c, func() error {
		ct, err := e.contract()
		if err != nil {
			return err
		}
		if err := requireOwner(ct, e.call.Caller); err != nil {
			return err
		}
		to, err := address(recipient)
		if err != nil {
			return err
		}
		if to == zeroAddress {
			return fmt.Errorf("%w: emergency recipient", ErrZeroAddress)
		}
		if ct.EmergencyProposal.Pending() {
			return ErrProposalPending
		}
		ct.EmergencyProposal = core.Proposal{Candidate: to, ProposedAt: e.call.Time}
		if err := e.store.SetContract(ct); err != nil {
			return err
		}
		e.emit(events.EventEmergencyProposed, map[string]any{
			"recipient":     to,
			"executable_at": ExecutableAt(ct.EmergencyProposal),
		})
		log.Warnf("Emergency withdrawal to %s proposed, executable at %d", to, ExecutableAt(ct.EmergencyProposal))
		return nil
	})
}

// CancelEmergency clears any pending emergency withdrawal.
func (e *Engine) CancelEmergency(c Call) error {
	return e.run(c, func() error {
		ct, err := e.contract()
		if err != nil {
			return err
		}
		if err := requireOwner(ct, e.call.Caller); err != nil {
			return err
		}
		ct.EmergencyProposal = core.Proposal{}
		if err := e.store.SetContract(ct); err != nil {
			return err
		}
		e.emit(events.EventEmergencyCancelled, nil)
		return nil
	})
}

// ExecuteEmergency transfers the whole escrow balance to the proposed
// recipient once the timelock has elapsed.
func (e *Engine) ExecuteEmergency(c Call) error {
	return e.run(c, func() error {
		ct, err := e.contract()
		if err != nil {
			return err
		}
		if err := requireOwner(ct, e.call.Caller); err != nil {
			return err
		}
		p := ct.EmergencyProposal
		if err := checkTimelock(p, e.call.Time); err != nil {
			return err
		}
		ct.EmergencyProposal = core.Proposal{}
		if err := e.store.SetContract(ct); err != nil {
			return err
		}
		amount, err := e.EscrowBalance()
		if err != nil {
			return err
		}
		if amount == 0 {
			return fmt.Errorf("%w: escrow is empty", ErrNothingToClaim)
		}
		if err := e.pay(p.Candidate, amount); err != nil {
			return err
		}
		e.emit(events.EventEmergencyWithdrawn, map[string]any{
			"recipient": p.Candidate,
			"amount":    amount,
		})
		log.Warnf("Emergency withdrawal of %d to %s executed", amount, p.Candidate)
		return nil
	})
}
