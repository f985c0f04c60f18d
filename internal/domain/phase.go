package domain

// Phase is the coarse life-cycle stage of the loan relationship.
type Phase string

const (
	PhaseOnboarding       Phase = "onboarding"
	PhaseOffer            Phase = "offer"
	PhasePostDisbursement Phase = "post_disbursement"
	PhaseDelinquent       Phase = "delinquent"
)

// Recovery statuses that do NOT indicate active delinquency.
const (
	RecoveryResolved  = "resolved"
	RecoveryEscalated = "escalated"
)

// NextPhase evaluates the phase state machine against the current state and
// returns the phase the conversation should be in. Transitions only move
// forward, except that delinquent resolves back to post_disbursement once the
// recovery status reports resolved. Any unmatched combination leaves the
// phase unchanged.
func NextPhase(s *State) Phase {
	switch s.Phase {
	case PhaseOnboarding:
		if s.LoanOffer != nil {
			return PhaseOffer
		}
	case PhaseOffer:
		if s.LoanAccepted && s.DisbursementStatus == DisbursementCompleted {
			return PhasePostDisbursement
		}
	case PhasePostDisbursement:
		if s.RecoveryStatus != "" && s.RecoveryStatus != RecoveryResolved && s.RecoveryStatus != RecoveryEscalated {
			return PhaseDelinquent
		}
	case PhaseDelinquent:
		if s.RecoveryStatus == RecoveryResolved {
			return PhasePostDisbursement
		}
	}
	return s.Phase
}
