package specialist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/solcredito/solcredito/internal/domain"
	"github.com/solcredito/solcredito/internal/llm"
	"github.com/solcredito/solcredito/internal/orchestrator"
	"github.com/solcredito/solcredito/internal/prompts"
)

// Servicing interaction types.
const (
	servicingDisbursement    = "disbursement"
	servicingRepayment       = "repayment"
	servicingSchedule        = "payment_schedule"
	servicingRepaymentImpact = "repayment_impact"
	servicingRecovery        = "recovery"
	servicingGeneral         = "general"
)

// Repayment methods.
const (
	methodExistingBank = "existing_bank"
	methodNewAccount   = "new_account"
	methodInPerson     = "in_person"
)

// Servicing handles everything after loan acceptance: disbursement, payment
// schedules, repayments, and recovery conversations. Money movement is
// mocked; the structured records it produces are real state.
type Servicing struct {
	llm     llm.Client
	prompts prompts.Resolver
	logger  *slog.Logger
	now     func() time.Time
}

func NewServicing(client llm.Client, resolver prompts.Resolver, logger *slog.Logger) *Servicing {
	return &Servicing{llm: client, prompts: resolver, logger: logger, now: time.Now}
}

func (sv *Servicing) ID() orchestrator.SpecialistID {
	return orchestrator.SpecialistServicing
}

func (sv *Servicing) Run(ctx context.Context, s *domain.State) (domain.Delta, orchestrator.SpecialistID, error) {
	kind := detectServicingType(s)

	var delta domain.Delta
	var err error
	switch kind {
	case servicingDisbursement:
		delta = sv.disburse(s)
	case servicingRepayment:
		delta = sv.repay(s)
	case servicingSchedule:
		delta = sv.schedule(s)
	case servicingRepaymentImpact:
		delta, err = sv.explainImpact(ctx, s)
	case servicingRecovery:
		delta, err = sv.recover(ctx, s)
	default:
		// Nothing actionable; hand straight back.
	}
	if err != nil {
		return domain.Delta{}, orchestrator.SpecialistEnd, err
	}

	// Settle a pending disbursement once its window has passed. The mocked
	// transfer has no callback, so completion is observed on the next
	// servicing interaction after the estimated completion time.
	if delta.DisbursementStatus == nil {
		if done, info := sv.settleDisbursement(s); done != nil {
			delta.DisbursementStatus = done
			delta.DisbursementInfo = info
		}
	}

	sv.logger.Info("servicing interaction handled", "session_id", s.SessionID, "type", kind)
	return delta, orchestrator.SpecialistOnboarding, nil
}

// settleDisbursement reports a completed disbursement when the initiated
// transfer's estimated completion time is in the past.
func (sv *Servicing) settleDisbursement(s *domain.State) (*string, *domain.DisbursementInfo) {
	if s.DisbursementStatus != domain.DisbursementInitiated || s.DisbursementInfo == nil {
		return nil, nil
	}
	eta, err := time.Parse(time.RFC3339, s.DisbursementInfo.EstimatedCompletion)
	if err != nil || sv.now().Before(eta) {
		return nil, nil
	}

	status := domain.DisbursementCompleted
	info := *s.DisbursementInfo
	info.Status = domain.DisbursementCompleted
	return &status, &info
}

// detectServicingType classifies the interaction from state and the last user
// message. Disbursement wins once a loan is accepted and nothing has been
// disbursed; recovery beats repayment so distress phrasing is not mistaken
// for a payment request.
func detectServicingType(s *domain.State) string {
	if s.LoanAccepted && s.DisbursementStatus == "" {
		return servicingDisbursement
	}

	var text string
	if last, ok := s.LastUserMessage(); ok {
		text = strings.ToLower(last.Text())
	}

	switch {
	case containsAny(text, "trouble", "difficulty", "can't pay", "late", "missed"):
		return servicingRecovery
	case containsAny(text, "impact", "affect", "future loan", "credit", "eligibility"):
		return servicingRepaymentImpact
	case containsAny(text, "payment", "repay", "installment", "pay now"):
		return servicingRepayment
	case containsAny(text, "schedule", "when", "due date", "payment dates"):
		return servicingSchedule
	}
	return servicingGeneral
}

// disburse mocks the transfer and lays out the payment schedule in the same
// pass.
func (sv *Servicing) disburse(s *domain.State) domain.Delta {
	if s.LoanOffer == nil {
		return domain.Delta{}
	}

	now := sv.now()
	info := domain.DisbursementInfo{
		Amount:              s.LoanOffer.Amount,
		Status:              "pending",
		InitiatedAt:         now.Format(time.RFC3339),
		EstimatedCompletion: now.Add(2 * time.Hour).Format(time.RFC3339),
		BankAccount:         "***1234",
		ReferenceNumber:     "DISP-" + now.Format("20060102150405"),
	}
	status := domain.DisbursementInitiated
	schedule := buildSchedule(s.LoanOffer, now)

	return domain.Delta{
		DisbursementStatus: &status,
		DisbursementInfo:   &info,
		PaymentSchedule:    &schedule,
	}
}

func (sv *Servicing) repay(s *domain.State) domain.Delta {
	if s.LoanOffer == nil {
		return domain.Delta{}
	}

	method := methodExistingBank
	if last, ok := s.LastUserMessage(); ok {
		text := strings.ToLower(last.Text())
		switch {
		case containsAny(text, "new account", "add account"):
			method = methodNewAccount
		case containsAny(text, "in person", "in-person", "cash"):
			method = methodInPerson
		}
	}

	now := sv.now()
	info := domain.RepaymentInfo{
		Method:          method,
		Amount:          s.LoanOffer.InstallmentAmount,
		Status:          "processing",
		InitiatedAt:     now.Format(time.RFC3339),
		ReferenceNumber: "PAY-" + now.Format("20060102150405"),
	}
	switch method {
	case methodExistingBank:
		info.BankAccount = "***1234"
		info.EstimatedCompletion = now.Add(time.Hour).Format(time.RFC3339)
	case methodNewAccount:
		info.BankAccount = "pending_verification"
		info.EstimatedCompletion = now.Add(24 * time.Hour).Format(time.RFC3339)
	case methodInPerson:
		info.Location = "Visit any partner location"
		info.Instructions = "Bring valid ID and reference number"
		info.EstimatedCompletion = "immediate"
	}

	status := "processing"
	return domain.Delta{RepaymentStatus: &status, RepaymentInfo: &info}
}

func (sv *Servicing) schedule(s *domain.State) domain.Delta {
	if s.LoanOffer == nil {
		return domain.Delta{}
	}

	start := sv.now()
	if s.DisbursementInfo != nil {
		if t, err := time.Parse(time.RFC3339, s.DisbursementInfo.InitiatedAt); err == nil {
			start = t
		}
	}
	schedule := buildSchedule(s.LoanOffer, start)
	return domain.Delta{PaymentSchedule: &schedule}
}

func buildSchedule(offer *domain.LoanOffer, start time.Time) domain.PaymentSchedule {
	daysBetween := float64(offer.TermDays) / float64(offer.Installments)

	payments := make([]domain.ScheduledPayment, 0, offer.Installments)
	for i := 1; i <= offer.Installments; i++ {
		due := start.Add(time.Duration(daysBetween*float64(i)*24) * time.Hour)
		payments = append(payments, domain.ScheduledPayment{
			InstallmentNumber: i,
			DueDate:           due.Format("2006-01-02"),
			Amount:            offer.InstallmentAmount,
			Status:            "pending",
		})
	}

	return domain.PaymentSchedule{
		TotalInstallments:   offer.Installments,
		InstallmentAmount:   offer.InstallmentAmount,
		TotalAmount:         offer.TotalRepayment,
		Schedule:            payments,
		DaysBetweenPayments: int(daysBetween),
	}
}

// explainImpact asks the model to explain how repayment behavior affects the
// customer's future eligibility. The answer lands in CoachingAdvice so the
// onboarding reply can fold it in.
func (sv *Servicing) explainImpact(ctx context.Context, s *domain.State) (domain.Delta, error) {
	if s.LoanOffer == nil {
		return domain.Delta{}, nil
	}

	prompt := prompts.Resolve(ctx, sv.prompts, prompts.SlotServicing)
	details := fmt.Sprintf(`Loan Details:
- Amount: %.0f pesos
- Term: %d days
- Installments: %d
- Payment Amount: %.2f pesos per installment

Payment Schedule:
%s

Explain to the customer:
1. How on-time payments improve their credit profile
2. How payment behavior affects future loan eligibility
3. Benefits of maintaining good repayment history
4. Consequences of late or missed payments (if applicable)`,
		s.LoanOffer.Amount, s.LoanOffer.TermDays, s.LoanOffer.Installments,
		s.LoanOffer.InstallmentAmount, formatSchedule(s.PaymentSchedule))

	resp, err := sv.llm.Complete(ctx, llm.Request{
		System:   prompt.Content,
		Messages: []llm.Message{llm.Text(llm.RoleUser, details)},
	})
	if err != nil {
		return domain.Delta{}, fmt.Errorf("explain repayment impact: %w", err)
	}

	return domain.Delta{CoachingAdvice: &resp.Content}, nil
}

// recover runs one step of a recovery conversation and detects whether the
// exchange reached a resolution (promise to pay, payment plan, restructuring).
func (sv *Servicing) recover(ctx context.Context, s *domain.State) (domain.Delta, error) {
	userMessage := "I'm having trouble making my payment"
	if last, ok := s.LastUserMessage(); ok && last.Text() != "" {
		userMessage = last.Text()
	}

	status := s.RecoveryStatus
	if status == "" {
		status = "initial"
	}
	outstanding := 0.0
	amount := 0.0
	if s.LoanOffer != nil {
		outstanding = s.LoanOffer.TotalRepayment
		amount = s.LoanOffer.Amount
	}

	prompt := prompts.Resolve(ctx, sv.prompts, prompts.SlotServicing)
	situation := fmt.Sprintf(`Customer Situation:
- Loan Amount: %.0f pesos
- Outstanding Balance: %.2f pesos
- Current Status: %s

Payment Schedule:
%s

Customer Message: %s

Your task:
1. Listen empathetically to their circumstances
2. Explain available options (promise to pay, payment plan, restructuring)
3. Help them understand the implications of each option
4. Work towards a mutually agreeable solution
5. Be supportive but clear about obligations

Be compassionate but professional. Focus on finding solutions.`,
		amount, outstanding, status, formatSchedule(s.PaymentSchedule), userMessage)

	resp, err := sv.llm.Complete(ctx, llm.Request{
		System:   prompt.Content,
		Messages: []llm.Message{llm.Text(llm.RoleUser, situation)},
	})
	if err != nil {
		return domain.Delta{}, fmt.Errorf("recovery conversation: %w", err)
	}

	info := domain.RecoveryInfo{
		Status:             status,
		ConversationActive: true,
		LastInteraction:    sv.now().Format(time.RFC3339),
	}
	lower := strings.ToLower(resp.Content)
	if containsAny(lower, "promise to pay", "payment plan", "agreed", "accepted") {
		info.Status = "resolution_pending"
		info.ResolutionType = resolutionType(lower)
	}

	return domain.Delta{
		RecoveryStatus: &info.Status,
		RecoveryInfo:   &info,
		CoachingAdvice: &resp.Content,
	}, nil
}

func resolutionType(lower string) string {
	switch {
	case strings.Contains(lower, "promise to pay"):
		return "promise_to_pay"
	case strings.Contains(lower, "payment plan") || strings.Contains(lower, "installment plan"):
		return "payment_plan"
	case strings.Contains(lower, "restructur"):
		return "restructuring"
	default:
		return "other"
	}
}

func formatSchedule(ps *domain.PaymentSchedule) string {
	if ps == nil || len(ps.Schedule) == 0 {
		return "No payment schedule available"
	}
	lines := make([]string, 0, len(ps.Schedule))
	for _, p := range ps.Schedule {
		lines = append(lines, fmt.Sprintf("Payment %d: %.2f pesos due %s", p.InstallmentNumber, p.Amount, p.DueDate))
	}
	return strings.Join(lines, "\n")
}

func containsAny(text string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
