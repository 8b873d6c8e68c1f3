// Package event holds the pure schema rules for a Party lifecycle: the
// monotonic status graph, applicant transitions and the paid-seat gate.
// Validators report results, they never mutate and never panic.
package event

import (
	"fmt"

	"github.com/partyware/go-partysync/internal/types"
)

// Result is a validation outcome. Remaining is only meaningful for the
// playing gate, where it carries the number of unresolved tickets.
type Result struct {
	OK        bool
	Reason    string
	Remaining int
}

func ok() Result {
	return Result{OK: true}
}

func fail(reason string) Result {
	return Result{Reason: reason}
}

// CanTransition enforces the monotonic status graph
// opening → accepted → playing → finished, with cancelled reachable
// only from opening/accepted while no applicant has been accepted.
func CanTransition(p *types.Party, next types.PartyStatus) Result {
	if p == nil {
		return fail("party does not exist")
	}

	switch next {
	case types.PartyAccepted:
		if p.Status != types.PartyOpening {
			return fail(fmt.Sprintf("cannot accept from status %q", p.Status))
		}
		return ok()
	case types.PartyPlaying:
		if p.Status != types.PartyAccepted {
			return fail(fmt.Sprintf("cannot start playing from status %q", p.Status))
		}
		return canStartPlaying(p)
	case types.PartyFinished:
		if p.Status != types.PartyPlaying {
			return fail(fmt.Sprintf("cannot finish from status %q", p.Status))
		}
		return ok()
	case types.PartyCancelled:
		return CanCancel(p)
	default:
		return fail(fmt.Sprintf("unknown status %q", next))
	}
}

// CanStartPlaying is the paid-seat gate: every accepted applicant on a
// paid party must have an exchanged (sold) ticket before the party may
// enter playing. Remaining reports the blocking count.
func CanStartPlaying(p *types.Party) Result {
	if p == nil {
		return fail("party does not exist")
	}
	if p.Status != types.PartyAccepted {
		return fail(fmt.Sprintf("cannot start playing from status %q", p.Status))
	}
	return canStartPlaying(p)
}

func canStartPlaying(p *types.Party) Result {
	remaining := RemainingTickets(p)
	if remaining > 0 {
		return Result{
			Reason:    fmt.Sprintf("%d ticket(s) not yet exchanged", remaining),
			Remaining: remaining,
		}
	}
	return ok()
}

// RemainingTickets counts accepted applicants on a paid party whose
// seat has not settled (sticker not sold). Free parties never block.
func RemainingTickets(p *types.Party) int {
	if p == nil || p.PaymentMode != types.PaymentPaid {
		return 0
	}

	var n int
	for _, a := range p.Applicants {
		if a.Status == types.ApplicantAccepted && !a.StickerSold {
			n++
		}
	}
	return n
}

// CanApply validates a join request: the party must still be opening
// and the applier must not already hold an applicant record.
func CanApply(p *types.Party, applierId int) Result {
	if p == nil {
		return fail("party does not exist")
	}
	if p.Status != types.PartyOpening {
		return fail(fmt.Sprintf("party is %q, applications closed", p.Status))
	}
	if p.CreatorId == applierId {
		return fail("creator cannot apply to own party")
	}
	if _, exists := p.ApplicantByApplier(applierId); exists {
		return fail("user already applied")
	}
	return ok()
}

// CanAccept is valid only while the applicant is pending.
func CanAccept(a *types.Applicant) Result {
	if a == nil {
		return fail("applicant does not exist")
	}
	if a.Status != types.ApplicantPending {
		return fail(fmt.Sprintf("applicant is %q, not pending", a.Status))
	}
	return ok()
}

// CanDecline is valid only while the applicant is pending.
func CanDecline(a *types.Applicant) Result {
	if a == nil {
		return fail("applicant does not exist")
	}
	if a.Status != types.ApplicantPending {
		return fail(fmt.Sprintf("applicant is %q, not pending", a.Status))
	}
	return ok()
}

// CanCancel permits cancellation only from opening or accepted, and
// only while no applicant has been accepted.
func CanCancel(p *types.Party) Result {
	if p == nil {
		return fail("party does not exist")
	}
	if p.Status != types.PartyOpening && p.Status != types.PartyAccepted {
		return fail(fmt.Sprintf("cannot cancel from status %q", p.Status))
	}
	for _, a := range p.Applicants {
		if a.Status == types.ApplicantAccepted {
			return fail("party has accepted applicants")
		}
	}
	return ok()
}

// CanRequestFinishApproval is valid only while the party is playing.
func CanRequestFinishApproval(p *types.Party) Result {
	if p == nil {
		return fail("party does not exist")
	}
	if p.Status != types.PartyPlaying {
		return fail(fmt.Sprintf("party is %q, not playing", p.Status))
	}
	return ok()
}

// CanFinish requires the party to be playing with at least one
// recorded finish approval.
func CanFinish(p *types.Party) Result {
	if p == nil {
		return fail("party does not exist")
	}
	if p.Status != types.PartyPlaying {
		return fail(fmt.Sprintf("party is %q, not playing", p.Status))
	}
	if len(p.FinishApprovals) == 0 {
		return fail("no finish approvals recorded")
	}
	return ok()
}
