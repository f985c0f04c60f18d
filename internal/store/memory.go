package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/solcredito/solcredito/internal/domain"
)

// MemoryStore is an in-memory Store used in tests and for ephemeral runs.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]string // "userID\x00sessionID" -> conversation ID
	messages      map[string][]domain.Message
	offers        map[string]memoryOffer
	states        map[string]*domain.State

	failAppend error
	failState  error
}

type memoryOffer struct {
	userID      string
	offer       domain.LoanOffer
	riskScore   *float64
	loanPurpose *string
	status      string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]string),
		messages:      make(map[string][]domain.Message),
		offers:        make(map[string]memoryOffer),
		states:        make(map[string]*domain.State),
	}
}

// FailAppends makes subsequent AppendMessages calls return err. Pass nil to
// restore normal behavior.
func (m *MemoryStore) FailAppends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAppend = err
}

// FailStateSaves makes subsequent SaveState calls return err.
func (m *MemoryStore) FailStateSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failState = err
}

func (m *MemoryStore) GetOrCreateConversation(_ context.Context, userID, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := userID + "\x00" + sessionID
	if id, ok := m.conversations[key]; ok {
		return id, nil
	}
	id := uuid.NewString()
	m.conversations[key] = id
	return id, nil
}

func (m *MemoryStore) AppendMessages(_ context.Context, conversationID string, msgs []domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAppend != nil {
		return m.failAppend
	}
	m.messages[conversationID] = append(m.messages[conversationID], msgs...)
	return nil
}

func (m *MemoryStore) MessageCount(_ context.Context, conversationID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages[conversationID]), nil
}

func (m *MemoryStore) SaveLoanOffer(_ context.Context, conversationID, userID string, offer domain.LoanOffer, riskScore *float64, loanPurpose *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.offers[conversationID]; ok {
		return ErrOfferExists
	}
	m.offers[conversationID] = memoryOffer{
		userID:      userID,
		offer:       offer,
		riskScore:   riskScore,
		loanPurpose: loanPurpose,
		status:      LoanStatusOffered,
	}
	return nil
}

func (m *MemoryStore) UpdateLoanStatus(_ context.Context, conversationID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.offers[conversationID]
	if !ok {
		return fmt.Errorf("no loan application for conversation %s", conversationID)
	}
	rec.status = status
	m.offers[conversationID] = rec
	return nil
}

func (m *MemoryStore) LoadState(_ context.Context, conversationID string) (*domain.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[conversationID]
	if !ok {
		return nil, nil
	}
	return s.Snapshot(), nil
}

func (m *MemoryStore) SaveState(_ context.Context, state *domain.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failState != nil {
		return m.failState
	}
	if state.ConversationID == "" {
		return fmt.Errorf("save state: conversation id not set")
	}
	m.states[state.ConversationID] = state.Snapshot()
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// LoanStatus returns the recorded loan application status, for tests.
func (m *MemoryStore) LoanStatus(conversationID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.offers[conversationID]
	return rec.status, ok
}
