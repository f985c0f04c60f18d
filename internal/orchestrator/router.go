package orchestrator

import (
	"fmt"

	"github.com/solcredito/solcredito/internal/domain"
)

// ErrGateRejected is returned in strict mode when a specialist requests a
// handoff to underwriting before the state qualifies for it.
var ErrGateRejected = fmt.Errorf("underwriting gate rejected handoff")

// UnderwritingGateSatisfied reports whether the state qualifies for
// underwriting: every required task complete, at least one photo insight
// recorded, and no offer generated yet.
func UnderwritingGateSatisfied(s *domain.State) bool {
	return s.Tasks.AllComplete() && len(s.PhotoInsights) > 0 && s.LoanOffer == nil
}

// Route decides where control goes next. It honors the specialist's explicit
// handoff request, except that handoffs into underwriting pass through the
// gate: when the gate rejects, strict mode returns ErrGateRejected and
// non-strict mode silently ends the turn so the conversation keeps flowing.
func Route(requested SpecialistID, s *domain.State, strict bool) (SpecialistID, error) {
	switch requested {
	case SpecialistEnd, "":
		return SpecialistEnd, nil
	case SpecialistUnderwriting:
		if !UnderwritingGateSatisfied(s) {
			if strict {
				return SpecialistEnd, ErrGateRejected
			}
			return SpecialistEnd, nil
		}
		return SpecialistUnderwriting, nil
	case SpecialistOnboarding, SpecialistServicing, SpecialistCoaching:
		return requested, nil
	default:
		return SpecialistEnd, fmt.Errorf("unknown specialist %q", requested)
	}
}
