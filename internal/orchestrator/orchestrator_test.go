package orchestrator_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solcredito/solcredito/internal/domain"
	"github.com/solcredito/solcredito/internal/llm"
	"github.com/solcredito/solcredito/internal/metrics"
	"github.com/solcredito/solcredito/internal/orchestrator"
	"github.com/solcredito/solcredito/internal/specialist"
	"github.com/solcredito/solcredito/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubSpecialist drives the turn loop without real agent logic.
type stubSpecialist struct {
	id   orchestrator.SpecialistID
	run  func(*domain.State) (domain.Delta, orchestrator.SpecialistID, error)
	runs atomic.Int32
}

func (s *stubSpecialist) ID() orchestrator.SpecialistID { return s.id }

func (s *stubSpecialist) Run(_ context.Context, st *domain.State) (domain.Delta, orchestrator.SpecialistID, error) {
	s.runs.Add(1)
	return s.run(st)
}

func replyingStub(id orchestrator.SpecialistID, reply string, next orchestrator.SpecialistID) *stubSpecialist {
	return &stubSpecialist{id: id, run: func(*domain.State) (domain.Delta, orchestrator.SpecialistID, error) {
		return domain.Delta{Messages: []domain.Message{domain.TextMessage(domain.RoleAssistant, reply)}}, next, nil
	}}
}

const extractionJSON = `{
  "business_type": "tortilleria",
  "location": "Oaxaca",
  "years_operating": 6,
  "num_employees": 2,
  "monthly_revenue": 48000,
  "monthly_expenses": 30000,
  "loan_purpose": "buy inventory"
}`

const photoAnalysis = "Cleanliness: 8/10\nOrganization: 7/10\nStock Level: high\nObservations:\n- Well stocked shelves\nCoaching Tips:\n- Add price labels"

// fullOrchestrator wires the real specialists over a mock vendor client.
func fullOrchestrator(t *testing.T, mem *store.MemoryStore, opts orchestrator.Options) (*orchestrator.Orchestrator, *llm.MockClient) {
	t.Helper()

	mock := llm.NewMockClient("How can I help you today?").
		Respond("Return ONLY the JSON object", extractionJSON).
		Respond("Analyze this business photo", photoAnalysis).
		Respond("Generate personalized coaching advice", "Keep your shelves organized and track daily sales.").
		Respond("Customer Situation", "Let's agree on a payment plan.")

	logger := testLogger()
	specialists := []orchestrator.Specialist{
		specialist.NewOnboarding(mock, nil, logger),
		specialist.NewUnderwriting(logger),
		specialist.NewServicing(mock, nil, logger),
		specialist.NewCoaching(mock, nil, logger),
	}

	o, err := orchestrator.New(mem, specialists, logger, opts)
	require.NoError(t, err)
	t.Cleanup(o.Close)
	return o, mock
}

func TestFullOnboardingToOfferScenario(t *testing.T) {
	mem := store.NewMemory()
	o, _ := fullOrchestrator(t, mem, orchestrator.Options{})

	inbound := domain.Message{
		Role: domain.RoleUser,
		Parts: []domain.ContentPart{
			{Type: "text", Text: "Tengo una tortilleria en Oaxaca, 6 años, 2 empleados, gano 48000 al mes y gasto 30000. Quiero comprar inventario. Aquí está la foto de mi tienda."},
			{Type: "image", MediaType: "image/jpeg", Data: "photodata"},
		},
	}

	res, err := o.Turn(context.Background(), "sess-1", "user-1", inbound)
	require.NoError(t, err)
	require.NotEmpty(t, res.Reply.Text())

	st := res.State
	assert.True(t, st.Tasks.AllComplete())
	require.NotNil(t, st.LoanOffer)
	assert.Equal(t, 5000.0, st.LoanOffer.Amount)
	require.NotNil(t, st.RiskScore)
	assert.Equal(t, domain.PhaseOffer, st.Phase)
	assert.True(t, st.OfferPersisted)

	status, ok := mem.LoanStatus(st.ConversationID)
	require.True(t, ok)
	assert.Equal(t, store.LoanStatusOffered, status)

	// Everything the turn produced landed in the store, exactly once.
	n, err := mem.MessageCount(context.Background(), st.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, len(st.Messages), n)
	assert.Equal(t, len(st.Messages), st.PersistedMessages)
}

func TestAcceptanceTriggersCoachingAndDisbursement(t *testing.T) {
	mem := store.NewMemory()
	o, _ := fullOrchestrator(t, mem, orchestrator.Options{})

	first := domain.Message{
		Role: domain.RoleUser,
		Parts: []domain.ContentPart{
			{Type: "text", Text: "Tortilleria en Oaxaca, 6 años, 2 empleados, 48000 de ingresos, 30000 de gastos, quiero inventario."},
			{Type: "image", MediaType: "image/jpeg", Data: "photodata"},
		},
	}
	_, err := o.Turn(context.Background(), "sess-2", "user-2", first)
	require.NoError(t, err)

	res, err := o.Turn(context.Background(), "sess-2", "user-2",
		domain.TextMessage(domain.RoleUser, "Sí, acepto la oferta"))
	require.NoError(t, err)

	st := res.State
	assert.True(t, st.LoanAccepted)
	assert.True(t, st.CoachingProvided)
	assert.NotEmpty(t, st.CoachingAdvice)
	assert.Equal(t, domain.DisbursementInitiated, st.DisbursementStatus)
	require.NotNil(t, st.PaymentSchedule)

	// Disbursement was initiated in the same turn, which marks the
	// application disbursed.
	status, ok := mem.LoanStatus(st.ConversationID)
	require.True(t, ok)
	assert.Equal(t, store.LoanStatusDisbursed, status)

	// Offer row written exactly once across both turns.
	n, err := mem.MessageCount(context.Background(), st.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, st.PersistedMessages, n)
}

func TestPrematureUnderwritingIsDowngraded(t *testing.T) {
	mem := store.NewMemory()

	onboarding := replyingStub(orchestrator.SpecialistOnboarding, "hello", orchestrator.SpecialistUnderwriting)
	underwriting := replyingStub(orchestrator.SpecialistUnderwriting, "offer", orchestrator.SpecialistOnboarding)

	o, err := orchestrator.New(mem, []orchestrator.Specialist{onboarding, underwriting}, testLogger(), orchestrator.Options{})
	require.NoError(t, err)
	defer o.Close()

	downgrades := testutil.ToFloat64(metrics.GateDowngrades)

	res, err := o.Turn(context.Background(), "sess", "user", domain.TextMessage(domain.RoleUser, "give me a loan now"))
	require.NoError(t, err)

	assert.Equal(t, "hello", res.Reply.Text())
	assert.Equal(t, int32(0), underwriting.runs.Load())
	assert.Nil(t, res.State.LoanOffer)

	// The downgrade leaves a diagnostic trail.
	assert.Equal(t, downgrades+1, testutil.ToFloat64(metrics.GateDowngrades))
}

func TestPrematureUnderwritingStrictMode(t *testing.T) {
	mem := store.NewMemory()

	onboarding := replyingStub(orchestrator.SpecialistOnboarding, "hello", orchestrator.SpecialistUnderwriting)
	underwriting := replyingStub(orchestrator.SpecialistUnderwriting, "offer", orchestrator.SpecialistOnboarding)

	o, err := orchestrator.New(mem, []orchestrator.Specialist{onboarding, underwriting}, testLogger(), orchestrator.Options{StrictGate: true})
	require.NoError(t, err)
	defer o.Close()

	res, err := o.Turn(context.Background(), "sess", "user", domain.TextMessage(domain.RoleUser, "loan please"))
	require.NoError(t, err)

	// Turn still replies and persists; underwriting never ran.
	require.NotEmpty(t, res.Reply.Text())
	assert.Equal(t, int32(0), underwriting.runs.Load())
}

func TestRoutingHopCeiling(t *testing.T) {
	mem := store.NewMemory()

	// Onboarding hands off to itself forever.
	looping := replyingStub(orchestrator.SpecialistOnboarding, "again", orchestrator.SpecialistOnboarding)

	o, err := orchestrator.New(mem, []orchestrator.Specialist{looping}, testLogger(), orchestrator.Options{MaxHops: 4})
	require.NoError(t, err)
	defer o.Close()

	res, err := o.Turn(context.Background(), "sess", "user", domain.TextMessage(domain.RoleUser, "hi"))
	require.NoError(t, err)

	assert.Equal(t, int32(4), looping.runs.Load())

	// The looping specialist's output is discarded in favor of the
	// degraded reply.
	assert.NotEqual(t, "again", res.Reply.Text())
	assert.Contains(t, res.Reply.Text(), "something went wrong")

	// Partial progress persisted: inbound, four replies, degraded reply.
	n, err := mem.MessageCount(context.Background(), res.State.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestSpecialistFailureReturnsFallbackAndPersists(t *testing.T) {
	mem := store.NewMemory()

	failing := &stubSpecialist{id: orchestrator.SpecialistOnboarding, run: func(*domain.State) (domain.Delta, orchestrator.SpecialistID, error) {
		return domain.Delta{}, orchestrator.SpecialistEnd, errors.New("vendor exploded")
	}}

	o, err := orchestrator.New(mem, []orchestrator.Specialist{failing}, testLogger(), orchestrator.Options{})
	require.NoError(t, err)
	defer o.Close()

	res, err := o.Turn(context.Background(), "sess", "user", domain.TextMessage(domain.RoleUser, "hola"))
	require.NoError(t, err)
	require.NotEmpty(t, res.Reply.Text())

	// Inbound message and fallback reply both persisted.
	n, err := mem.MessageCount(context.Background(), res.State.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPersistenceFailureStillReturnsReply(t *testing.T) {
	mem := store.NewMemory()
	mem.FailAppends(errors.New("disk full"))

	o, err := orchestrator.New(mem, []orchestrator.Specialist{
		replyingStub(orchestrator.SpecialistOnboarding, "hello", orchestrator.SpecialistEnd),
	}, testLogger(), orchestrator.Options{})
	require.NoError(t, err)
	defer o.Close()

	res, err := o.Turn(context.Background(), "sess", "user", domain.TextMessage(domain.RoleUser, "hola"))
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Reply.Text())
	assert.Equal(t, 0, res.State.PersistedMessages)
}

func TestStalePersistenceRetryIsDropped(t *testing.T) {
	mem := store.NewMemory()

	o, err := orchestrator.New(mem, []orchestrator.Specialist{
		replyingStub(orchestrator.SpecialistOnboarding, "hello", orchestrator.SpecialistEnd),
	}, testLogger(), orchestrator.Options{RetryInterval: 150 * time.Millisecond})
	require.NoError(t, err)
	defer o.Close()

	// The first turn cannot persist; its snapshot lands on the retry queue.
	mem.FailAppends(errors.New("disk full"))
	_, err = o.Turn(context.Background(), "sess", "user", domain.TextMessage(domain.RoleUser, "uno"))
	require.NoError(t, err)

	// The store recovers and a second turn persists before the retry fires.
	mem.FailAppends(nil)
	res, err := o.Turn(context.Background(), "sess", "user", domain.TextMessage(domain.RoleUser, "dos"))
	require.NoError(t, err)
	convID := res.State.ConversationID

	// The stale snapshot must neither append the first turn's rows behind
	// the second turn's nor roll the stored state back.
	assert.Never(t, func() bool {
		n, err := mem.MessageCount(context.Background(), convID)
		return err != nil || n != 2
	}, 500*time.Millisecond, 25*time.Millisecond)

	stored, err := mem.LoadState(context.Background(), convID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 2, stored.PersistedMessages)
	assert.Equal(t, "dos", stored.Messages[0].Text())
}

func TestTurnsForSameSessionAreSerialized(t *testing.T) {
	mem := store.NewMemory()

	var active, maxActive atomic.Int32
	slow := &stubSpecialist{id: orchestrator.SpecialistOnboarding, run: func(*domain.State) (domain.Delta, orchestrator.SpecialistID, error) {
		n := active.Add(1)
		for {
			cur := maxActive.Load()
			if n <= cur || maxActive.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return domain.Delta{Messages: []domain.Message{domain.TextMessage(domain.RoleAssistant, "ok")}}, orchestrator.SpecialistEnd, nil
	}}

	o, err := orchestrator.New(mem, []orchestrator.Specialist{slow}, testLogger(), orchestrator.Options{})
	require.NoError(t, err)
	defer o.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Turn(context.Background(), "same-session", "user", domain.TextMessage(domain.RoleUser, "hola"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())

	// All eight turns persisted without interleaving: 8 inbound + 8 replies.
	convID, err := mem.GetOrCreateConversation(context.Background(), "user", "same-session")
	require.NoError(t, err)
	n, err := mem.MessageCount(context.Background(), convID)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
}
