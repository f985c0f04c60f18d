package orchestrator

import (
	"context"

	"github.com/solcredito/solcredito/internal/domain"
)

// SpecialistID names one specialist agent in the routing graph.
type SpecialistID string

const (
	SpecialistOnboarding   SpecialistID = "onboarding"
	SpecialistUnderwriting SpecialistID = "underwriting"
	SpecialistServicing    SpecialistID = "servicing"
	SpecialistCoaching     SpecialistID = "coaching"

	// SpecialistEnd is not a specialist: it is the terminal routing target
	// that finishes the turn.
	SpecialistEnd SpecialistID = "end"
)

// Specialist is one agent in the graph. Run reads the state, does its work,
// and returns an explicit delta plus the next specialist it wants control
// handed to. Specialists never mutate the state directly.
type Specialist interface {
	ID() SpecialistID
	Run(ctx context.Context, s *domain.State) (domain.Delta, SpecialistID, error)
}
