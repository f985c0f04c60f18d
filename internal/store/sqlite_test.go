package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solcredito/solcredito/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreateConversationStable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.GetOrCreateConversation(ctx, "user-1", "sess-1")
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	id2, err := s.GetOrCreateConversation(ctx, "user-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	id3, err := s.GetOrCreateConversation(ctx, "user-1", "sess-2")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestAppendMessagesAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	convID, err := s.GetOrCreateConversation(ctx, "user-1", "sess-1")
	require.NoError(t, err)

	n, err := s.MessageCount(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	msgs := []domain.Message{
		domain.TextMessage(domain.RoleUser, "hola"),
		domain.TextMessage(domain.RoleAssistant, "hello, welcome"),
	}
	require.NoError(t, s.AppendMessages(ctx, convID, msgs))

	n, err = s.MessageCount(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.AppendMessages(ctx, convID, msgs[:1]))
	n, err = s.MessageCount(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSaveLoanOfferWriteOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	convID, err := s.GetOrCreateConversation(ctx, "user-1", "sess-1")
	require.NoError(t, err)

	offer := domain.LoanOffer{
		Amount:            5000,
		TermDays:          45,
		Installments:      3,
		InstallmentAmount: 1850,
		TotalRepayment:    5550,
		InterestRateFlat:  0.11,
		TermsURL:          "https://lender.com.mx/terms/msme-loan-agreement",
	}
	risk := 82.5
	purpose := "inventory"

	require.NoError(t, s.SaveLoanOffer(ctx, convID, "user-1", offer, &risk, &purpose))

	err = s.SaveLoanOffer(ctx, convID, "user-1", offer, &risk, &purpose)
	assert.True(t, errors.Is(err, ErrOfferExists))

	require.NoError(t, s.UpdateLoanStatus(ctx, convID, LoanStatusAccepted))
}

func TestSaveLoanOfferNullableFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	convID, err := s.GetOrCreateConversation(ctx, "user-1", "sess-1")
	require.NoError(t, err)

	offer := domain.LoanOffer{Amount: 5000, TermDays: 45, Installments: 3, InterestRateFlat: 0.11}
	require.NoError(t, s.SaveLoanOffer(ctx, convID, "user-1", offer, nil, nil))
}

func TestStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	convID, err := s.GetOrCreateConversation(ctx, "user-7", "sess-7")
	require.NoError(t, err)

	loaded, err := s.LoadState(ctx, convID)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	state := domain.NewState("sess-7", "user-7")
	state.ConversationID = convID
	name := "Tortilleria Lupita"
	state.BusinessName = &name
	state.Messages = append(state.Messages,
		domain.TextMessage(domain.RoleUser, "quiero un prestamo"),
	)
	state.Tasks.MarkComplete(domain.TaskConfirmEligibility)
	state.PersistedMessages = 1

	require.NoError(t, s.SaveState(ctx, state))

	loaded, err = s.LoadState(ctx, convID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "sess-7", loaded.SessionID)
	require.NotNil(t, loaded.BusinessName)
	assert.Equal(t, "Tortilleria Lupita", *loaded.BusinessName)
	assert.True(t, loaded.Tasks.IsComplete(domain.TaskConfirmEligibility))
	assert.Equal(t, 1, loaded.PersistedMessages)
	require.Len(t, loaded.Messages, 1)
	assert.Equal(t, "quiero un prestamo", loaded.Messages[0].Text())

	// Upsert path: second save overwrites the snapshot.
	state.PersistedMessages = 3
	require.NoError(t, s.SaveState(ctx, state))
	loaded, err = s.LoadState(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.PersistedMessages)
}

func TestSaveStateRequiresConversationID(t *testing.T) {
	s := newTestStore(t)
	state := domain.NewState("sess", "user")
	assert.Error(t, s.SaveState(context.Background(), state))
}

func TestRetryQueueEventuallySucceeds(t *testing.T) {
	q := NewRetryQueue(slog.New(slog.NewTextHandler(io.Discard, nil)), time.Millisecond, 3)
	defer q.Close()

	var attempts atomic.Int32
	done := make(chan struct{})
	q.Enqueue("test-job", func(context.Context) error {
		if attempts.Add(1) < 2 {
			return errors.New("transient")
		}
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("retry queue never ran the job to success")
	}
}
