// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/solcredito/solcredito/internal/domain"
)

// ErrOfferExists is returned by SaveLoanOffer when a loan application row
// already exists for the conversation. Offers are write-once.
var ErrOfferExists = errors.New("loan offer already exists for conversation")

// Loan application status values.
const (
	LoanStatusOffered   = "offered"
	LoanStatusAccepted  = "accepted"
	LoanStatusDisbursed = "disbursed"
)

// Store defines the persistence boundary for conversation state. The turn
// orchestrator depends on this interface and writes exactly once per turn;
// implementations must provide per-conversation isolation.
type Store interface {
	// GetOrCreateConversation maps a (userID, sessionID) pair to a stable
	// conversation ID. Idempotent: the same pair always yields the same ID.
	GetOrCreateConversation(ctx context.Context, userID, sessionID string) (string, error)

	// AppendMessages appends messages to the conversation log, preserving
	// order. Callers pass only messages not yet stored.
	AppendMessages(ctx context.Context, conversationID string, msgs []domain.Message) error

	// MessageCount returns how many messages are stored for a conversation.
	MessageCount(ctx context.Context, conversationID string) (int, error)

	// SaveLoanOffer records the underwriting result. Write-once per
	// conversation; a second call returns ErrOfferExists.
	SaveLoanOffer(ctx context.Context, conversationID, userID string, offer domain.LoanOffer, riskScore *float64, loanPurpose *string) error

	// UpdateLoanStatus moves the loan application through its status
	// lifecycle (offered, accepted, disbursed).
	UpdateLoanStatus(ctx context.Context, conversationID, status string) error

	// LoadState retrieves the persisted State Record snapshot.
	// Returns (nil, nil) when no snapshot exists yet.
	LoadState(ctx context.Context, conversationID string) (*domain.State, error)

	// SaveState persists the State Record snapshot for the conversation.
	SaveState(ctx context.Context, state *domain.State) error

	// Ping verifies store connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
