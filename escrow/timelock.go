package escrow

import (
	"fmt"

	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/events"
)

// ExecutableAt returns the earliest time p may be executed.
func ExecutableAt(p core.Proposal) int64 {
	return p.ProposedAt + timelockSeconds
}

func checkTimelock(p core.Proposal, now int64) error {
	if !p.Pending() {
		return ErrNoProposal
	}
	if now < ExecutableAt(p) {
		return fmt.Errorf("%w: executable at %d, now %d", ErrTimelockActive, ExecutableAt(p), now)
	}
	return nil
}

// proposal selects one timelocked slot of the contract.
type proposal struct {
	name     string
	slot     func(ct *core.Contract) *core.Proposal
	current  func(ct *core.Contract) string
	proposed events.EventType
}

var (
	ownerChange = proposal{
		name:     "owner",
		slot:     func(ct *core.Contract) *core.Proposal { return &ct.OwnerProposal },
		current:  func(ct *core.Contract) string { return ct.Owner },
		proposed: events.EventOwnerProposed,
	}
	recipientChange = proposal{
		name:     "recipient",
		slot:     func(ct *core.Contract) *core.Proposal { return &ct.RecipientProposal },
		current:  func(ct *core.Contract) string { return ct.CommissionRecipient },
		proposed: events.EventRecipientProposed,
	}
	upgradeChange = proposal{
		name:     "upgrade",
		slot:     func(ct *core.Contract) *core.Proposal { return &ct.UpgradeProposal },
		current:  func(ct *core.Contract) string { return ct.Implementation },
		proposed: events.EventUpgradeProposed,
	}
)

// propose records candidate in kind's slot, overwriting any earlier one.
func (e *Engine) propose(c Call, kind proposal, candidate string) error {
	return e.run(c, func() error {
		ct, err := e.contract()
		if err != nil {
			return err
		}
		if err := requireOwner(ct, e.call.Caller); err != nil {
			return err
		}
		if candidate == "" || candidate == zeroAddress {
			return fmt.Errorf("%w: %s candidate", ErrZeroAddress, kind.name)
		}
		if candidate == kind.current(ct) {
			return fmt.Errorf("%w: %s", ErrSameValue, candidate)
		}
		p := kind.slot(ct)
		*p = core.Proposal{Candidate: candidate, ProposedAt: e.call.Time}
		if err := e.store.SetContract(ct); err != nil {
			return err
		}
		e.emit(kind.proposed, map[string]any{
			"candidate":     candidate,
			"executable_at": ExecutableAt(*p),
		})
		log.Infof("Proposed %s change to %s, executable at %d", kind.name, candidate, ExecutableAt(*p))
		return nil
	})
}

// ProposeOwner starts a timelocked ownership transfer to candidate.
func (e *Engine) ProposeOwner(c Call, candidate string) error {
	a, err := address(candidate)
	if err != nil {
		return err
	}
	return e.propose(c, ownerChange, a)
}

// ExecuteOwner completes a pending ownership transfer. The current owner or
// the proposed owner may call it once the timelock has elapsed.
func (e *Engine) ExecuteOwner(c Call) error {
	return e.run(c, func() error {
		ct, err := e.contract()
		if err != nil {
			return err
		}
		p := ct.OwnerProposal
		if e.call.Caller != ct.Owner && (!p.Pending() || e.call.Caller != p.Candidate) {
			return fmt.Errorf("%w: %s", ErrNotAuthorized, e.call.Caller)
		}
		if !p.Pending() {
			return ErrNoProposal
		}
		if err := checkTimelock(p, e.call.Time); err != nil {
			return err
		}
		old := ct.Owner
		ct.Owner = p.Candidate
		ct.OwnerProposal = core.Proposal{}
		if err := e.store.SetContract(ct); err != nil {
			return err
		}
		e.emit(events.EventOwnerChanged, map[string]any{"old": old, "new": ct.Owner})
		log.Infof("Owner changed from %s to %s", old, ct.Owner)
		return nil
	})
}

// ProposeRecipient starts a timelocked commission-recipient change.
func (e *Engine) ProposeRecipient(c Call, candidate string) error {
	a, err := address(candidate)
	if err != nil {
		return err
	}
	return e.propose(c, recipientChange, a)
}

// ExecuteRecipient completes a pending commission-recipient change.
func (e *Engine) ExecuteRecipient(c Call) error {
	return e.run(c, func() error {
		ct, err := e.contract()
		if err != nil {
			return err
		}
		if err := requireOwner(ct, e.call.Caller); err != nil {
			return err
		}
		p := ct.RecipientProposal
		if err := checkTimelock(p, e.call.Time); err != nil {
			return err
		}
		old := ct.CommissionRecipient
		ct.CommissionRecipient = p.Candidate
		ct.RecipientProposal = core.Proposal{}
		if err := e.store.SetContract(ct); err != nil {
			return err
		}
		e.emit(events.EventRecipientChanged, map[string]any{"old": old, "new": ct.CommissionRecipient})
		return nil
	})
}

// ProposeUpgrade starts a timelocked switch to implementation impl.
func (e *Engine) ProposeUpgrade(c Call, impl string) error {
	return e.propose(c, upgradeChange, impl)
}

// CancelUpgrade clears any pending upgrade proposal.
func (e *Engine) CancelUpgrade(c Call) error {
	return e.run(c, func() error {
		ct, err := e.contract()
		if err != nil {
			return err
		}
		if err := requireOwner(ct, e.call.Caller); err != nil {
			return err
		}
		cancelled := ct.UpgradeProposal.Candidate
		ct.UpgradeProposal = core.Proposal{}
		if err := e.store.SetContract(ct); err != nil {
			return err
		}
		e.emit(events.EventUpgradeCancelled, map[string]any{"candidate": cancelled})
		return nil
	})
}

// AuthorizeUpgrade accepts impl as the active implementation if it matches
// the pending proposal and the timelock has elapsed.
func (e *Engine) AuthorizeUpgrade(c Call, impl string) error {
	return e.run(c, func() error {
		ct, err := e.contract()
		if err != nil {
			return err
		}
		if err := requireOwner(ct, e.call.Caller); err != nil {
			return err
		}
		p := ct.UpgradeProposal
		if !p.Pending() {
			return ErrNoProposal
		}
		if impl != p.Candidate {
			return fmt.Errorf("%w: got %q, proposed %q", ErrUpgradeMismatch, impl, p.Candidate)
		}
		if err := checkTimelock(p, e.call.Time); err != nil {
			return err
		}
		old := ct.Implementation
		ct.Implementation = impl
		ct.UpgradeProposal = core.Proposal{}
		if err := e.store.SetContract(ct); err != nil {
			return err
		}
		e.emit(events.EventUpgradeAuthorized, map[string]any{"old": old, "new": impl})
		log.Infof("Upgrade to %s authorized", impl)
		return nil
	})
}
