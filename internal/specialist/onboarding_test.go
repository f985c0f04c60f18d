package specialist

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solcredito/solcredito/internal/domain"
	"github.com/solcredito/solcredito/internal/llm"
	"github.com/solcredito/solcredito/internal/orchestrator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strp(s string) *string { return &s }

func intp(i int) *int { return &i }

func floatp(f float64) *float64 { return &f }

const extractionJSON = `{
  "business_type": "tortilleria",
  "location": "Oaxaca",
  "years_operating": 6,
  "num_employees": 2,
  "monthly_revenue": 48000,
  "monthly_expenses": 30000,
  "loan_purpose": "buy inventory"
}`

func TestOnboardingExtractsFactsAndMarksTasks(t *testing.T) {
	mock := llm.NewMockClient("Thanks, tell me more about your business!").
		Respond("Return ONLY the JSON object", extractionJSON)
	ob := NewOnboarding(mock, nil, testLogger())

	state := domain.NewState("sess", "user")
	state.Messages = []domain.Message{
		domain.TextMessage(domain.RoleUser, "I run a tortilleria in Oaxaca, 6 years now with 2 employees. I make about 48000 a month, spend 30000, and want to buy inventory."),
	}

	delta, next, err := ob.Run(context.Background(), state)
	require.NoError(t, err)

	require.NotNil(t, delta.BusinessType)
	assert.Equal(t, "tortilleria", *delta.BusinessType)
	require.NotNil(t, delta.MonthlyRevenue)
	assert.Equal(t, 48000.0, *delta.MonthlyRevenue)

	assert.Contains(t, delta.CompletedTasks, domain.TaskConfirmEligibility)
	assert.Contains(t, delta.CompletedTasks, domain.TaskBusinessProfile)
	assert.Contains(t, delta.CompletedTasks, domain.TaskBusinessFinancials)
	assert.NotContains(t, delta.CompletedTasks, domain.TaskBusinessPhotos)

	// No photos yet, so no handoff to underwriting.
	assert.Equal(t, orchestrator.SpecialistEnd, next)

	require.Len(t, delta.Messages, 1)
	assert.Equal(t, domain.RoleAssistant, delta.Messages[0].Role)
	assert.Equal(t, "Thanks, tell me more about your business!", delta.Messages[0].Text())
}

func TestOnboardingCapturesAndAnalyzesPhotos(t *testing.T) {
	mock := llm.NewMockClient("Great photo!").
		Respond("Return ONLY the JSON object", "{}").
		Respond("Analyze this business photo", sampleAnalysis)
	ob := NewOnboarding(mock, nil, testLogger())

	state := domain.NewState("sess", "user")
	state.Messages = []domain.Message{
		{
			Role: domain.RoleUser,
			Parts: []domain.ContentPart{
				{Type: "text", Text: "Here is a photo of my shop"},
				{Type: "image", MediaType: "image/jpeg", Data: "base64photodata"},
			},
		},
	}

	delta, _, err := ob.Run(context.Background(), state)
	require.NoError(t, err)

	require.Equal(t, []string{"base64photodata"}, delta.Photos)
	require.Len(t, delta.PhotoInsights, 1)
	assert.Equal(t, 0, delta.PhotoInsights[0].PhotoIndex)
	assert.Equal(t, 8.0, delta.PhotoInsights[0].CleanlinessScore)

	assert.Contains(t, delta.CompletedTasks, domain.TaskBusinessPhotos)
	assert.Contains(t, delta.CompletedTasks, domain.TaskPhotoAnalysisDone)
}

func TestOnboardingDoesNotRecaptureKnownPhoto(t *testing.T) {
	mock := llm.NewMockClient("ok").Respond("Return ONLY the JSON object", "{}")
	ob := NewOnboarding(mock, nil, testLogger())

	state := domain.NewState("sess", "user")
	state.Photos = []string{"base64photodata"}
	state.PhotoInsights = []domain.PhotoInsight{{PhotoIndex: 0}}
	state.Messages = []domain.Message{
		{
			Role:  domain.RoleUser,
			Parts: []domain.ContentPart{{Type: "image", MediaType: "image/jpeg", Data: "base64photodata"}},
		},
	}

	delta, _, err := ob.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Empty(t, delta.Photos)
	assert.Empty(t, delta.PhotoInsights)
}

func TestOnboardingRoutesToUnderwritingWhenGateSatisfied(t *testing.T) {
	mock := llm.NewMockClient("Let me check what we can offer you.").
		Respond("Return ONLY the JSON object", "{}")
	ob := NewOnboarding(mock, nil, testLogger())

	state := completeOnboardingState()
	state.Messages = append(state.Messages, domain.TextMessage(domain.RoleUser, "What can you offer me?"))

	_, next, err := ob.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.SpecialistUnderwriting, next)
}

func TestOnboardingDetectsAcceptanceAndRoutesToCoaching(t *testing.T) {
	mock := llm.NewMockClient("Congratulations!").
		Respond("Return ONLY the JSON object", "{}")
	ob := NewOnboarding(mock, nil, testLogger())

	state := completeOnboardingState()
	offer := domain.LoanOffer{Amount: 5000, TermDays: 45, Installments: 3}
	state.LoanOffer = &offer
	state.Phase = domain.PhaseOffer
	state.Messages = append(state.Messages, domain.TextMessage(domain.RoleUser, "Sí, acepto la oferta"))

	delta, next, err := ob.Run(context.Background(), state)
	require.NoError(t, err)

	require.NotNil(t, delta.LoanAccepted)
	assert.True(t, *delta.LoanAccepted)
	assert.Equal(t, orchestrator.SpecialistCoaching, next)
}

func TestOnboardingRoutesToServicingOnKeywords(t *testing.T) {
	mock := llm.NewMockClient("Let me check your schedule.").
		Respond("Return ONLY the JSON object", "{}")
	ob := NewOnboarding(mock, nil, testLogger())

	state := completeOnboardingState()
	offer := domain.LoanOffer{Amount: 5000, TermDays: 45, Installments: 3}
	state.LoanOffer = &offer
	state.LoanAccepted = true
	state.CoachingProvided = true
	state.DisbursementStatus = domain.DisbursementCompleted
	state.Phase = domain.PhasePostDisbursement
	state.Messages = append(state.Messages, domain.TextMessage(domain.RoleUser, "When is my next payment due?"))

	_, next, err := ob.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.SpecialistServicing, next)
}

func TestOnboardingSurvivesExtractionFailure(t *testing.T) {
	// Extraction returns unparseable output; the reply must still go out.
	mock := llm.NewMockClient("All good, tell me about your business.").
		Respond("Return ONLY the JSON object", "I cannot produce JSON today")
	ob := NewOnboarding(mock, nil, testLogger())

	state := domain.NewState("sess", "user")
	state.Messages = []domain.Message{domain.TextMessage(domain.RoleUser, "hola")}

	delta, next, err := ob.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.SpecialistEnd, next)
	require.Len(t, delta.Messages, 1)
}

func TestIsAcceptance(t *testing.T) {
	assert.True(t, isAcceptance("Sí, acepto"))
	assert.True(t, isAcceptance("OK!"))
	assert.True(t, isAcceptance("yes please"))
	assert.False(t, isAcceptance("nunca"))
	assert.False(t, isAcceptance("tell me more"))
}

// completeOnboardingState returns a state with all required tasks complete
// and one analyzed photo, ready for underwriting.
func completeOnboardingState() *domain.State {
	s := domain.NewState("sess", "user")
	s.BusinessType = strp("tortilleria")
	s.Location = strp("Oaxaca")
	s.YearsOperating = intp(6)
	s.NumEmployees = intp(2)
	s.MonthlyRevenue = floatp(48000)
	s.MonthlyExpenses = floatp(30000)
	s.LoanPurpose = strp("buy inventory")
	s.Photos = []string{"photo"}
	s.PhotoInsights = []domain.PhotoInsight{{PhotoIndex: 0, CleanlinessScore: 8, OrganizationScore: 7, StockLevel: domain.StockHigh}}
	for _, task := range domain.RequiredTasks() {
		s.Tasks.MarkComplete(task)
	}
	s.Messages = []domain.Message{
		domain.TextMessage(domain.RoleUser, "hola"),
		domain.TextMessage(domain.RoleAssistant, "hola, cuéntame de tu negocio"),
	}
	return s
}
