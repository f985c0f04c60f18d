// Package specialist implements the four specialist agents: onboarding is the
// single customer-facing voice, underwriting prices the loan, servicing runs
// the post-acceptance operations, and coaching generates growth advice.
package specialist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/solcredito/solcredito/internal/domain"
	"github.com/solcredito/solcredito/internal/llm"
	"github.com/solcredito/solcredito/internal/orchestrator"
	"github.com/solcredito/solcredito/internal/prompts"
)

// acceptanceKeywords signal the customer accepted a pending loan offer.
var acceptanceKeywords = []string{"yes", "sí", "si", "accept", "acepto", "okay", "ok"}

// servicingKeywords pull the conversation into the servicing specialist.
var servicingKeywords = []string{
	"payment", "repay", "installment", "due date", "schedule",
	"disbursement", "when will i receive", "bank account",
	"trouble paying", "can't pay", "late payment", "missed payment",
	"recovery", "payment plan", "promise to pay",
}

// Onboarding is the conversational front of the system. It extracts business
// facts from the transcript, captures and analyzes photos, maintains the task
// ledger, detects offer acceptance, decides handoffs, and composes every
// customer-visible reply.
type Onboarding struct {
	llm     llm.Client
	prompts prompts.Resolver
	logger  *slog.Logger
}

func NewOnboarding(client llm.Client, resolver prompts.Resolver, logger *slog.Logger) *Onboarding {
	return &Onboarding{llm: client, prompts: resolver, logger: logger}
}

func (o *Onboarding) ID() orchestrator.SpecialistID {
	return orchestrator.SpecialistOnboarding
}

func (o *Onboarding) Run(ctx context.Context, s *domain.State) (domain.Delta, orchestrator.SpecialistID, error) {
	var delta domain.Delta

	// Pull structured facts out of the transcript. A failed extraction is
	// logged and skipped; it must never fail the turn.
	if hasUserMessage(s) {
		facts, err := o.extractFacts(ctx, s)
		if err != nil {
			o.logger.Warn("business fact extraction failed", "session_id", s.SessionID, "error", err)
		} else {
			applyFacts(&delta, facts)
		}
	}

	// Capture photos carried by the latest user message.
	if last, ok := s.LastUserMessage(); ok {
		for _, img := range last.Images() {
			if !hasPhoto(s, img.Data) {
				delta.Photos = append(delta.Photos, img.Data)
			}
		}
	}

	// Analyze anything not yet analyzed. Insights stay index-aligned with
	// the photo list.
	allPhotos := append(append([]string(nil), s.Photos...), delta.Photos...)
	for idx := len(s.PhotoInsights); idx < len(allPhotos); idx++ {
		insight, err := o.analyzePhoto(ctx, allPhotos[idx], idx, s)
		if err != nil {
			o.logger.Warn("photo analysis failed", "session_id", s.SessionID, "photo_index", idx, "error", err)
			break
		}
		delta.PhotoInsights = append(delta.PhotoInsights, insight)
	}

	delta.CompletedTasks = completedTasks(s, &delta)

	// Offer acceptance from the latest user message.
	if s.LoanOffer != nil && !s.LoanAccepted {
		if last, ok := s.LastUserMessage(); ok && isAcceptance(last.Text()) {
			accepted := true
			delta.LoanAccepted = &accepted
		}
	}

	next := o.decideHandoff(s, &delta)

	reply, err := o.composeReply(ctx, s, &delta)
	if err != nil {
		return delta, orchestrator.SpecialistEnd, fmt.Errorf("compose reply: %w", err)
	}
	delta.Messages = append(delta.Messages, domain.TextMessage(domain.RoleAssistant, reply))

	return delta, next, nil
}

// extractedFacts mirrors the JSON shape requested from the model.
type extractedFacts struct {
	BusinessName    *string  `json:"business_name"`
	BusinessType    *string  `json:"business_type"`
	Location        *string  `json:"location"`
	YearsOperating  *int     `json:"years_operating"`
	NumEmployees    *int     `json:"num_employees"`
	MonthlyRevenue  *float64 `json:"monthly_revenue"`
	MonthlyExpenses *float64 `json:"monthly_expenses"`
	LoanPurpose     *string  `json:"loan_purpose"`
}

func (o *Onboarding) extractFacts(ctx context.Context, s *domain.State) (extractedFacts, error) {
	var transcript strings.Builder
	for _, msg := range s.Messages {
		role := "Assistant"
		if msg.Role == domain.RoleUser {
			role = "User"
		}
		transcript.WriteString(role)
		transcript.WriteString(": ")
		transcript.WriteString(msg.Text())
		transcript.WriteString("\n")
	}

	prompt := prompts.Resolve(ctx, o.prompts, prompts.SlotExtraction)
	req := llm.Request{
		System: prompt.Content,
		Messages: []llm.Message{
			llm.Text(llm.RoleUser, "Conversation:\n"+transcript.String()+"\nReturn ONLY the JSON object, no other text:"),
		},
	}

	resp, err := o.llm.Complete(ctx, req)
	if err != nil {
		return extractedFacts{}, err
	}

	var facts extractedFacts
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Content)), &facts); err != nil {
		return extractedFacts{}, fmt.Errorf("decode extraction result: %w", err)
	}
	return facts, nil
}

// applyFacts copies non-null extracted values into the delta. Extraction sees
// the full transcript, so a newly stated value wins over an older one.
func applyFacts(d *domain.Delta, f extractedFacts) {
	if f.BusinessName != nil {
		d.BusinessName = f.BusinessName
	}
	if f.BusinessType != nil {
		d.BusinessType = f.BusinessType
	}
	if f.Location != nil {
		d.Location = f.Location
	}
	if f.YearsOperating != nil {
		d.YearsOperating = f.YearsOperating
	}
	if f.NumEmployees != nil {
		d.NumEmployees = f.NumEmployees
	}
	if f.MonthlyRevenue != nil {
		d.MonthlyRevenue = f.MonthlyRevenue
	}
	if f.MonthlyExpenses != nil {
		d.MonthlyExpenses = f.MonthlyExpenses
	}
	if f.LoanPurpose != nil {
		d.LoanPurpose = f.LoanPurpose
	}
}

// completedTasks evaluates the task predicates against the state as it will
// look once the delta merges, and returns the tasks that hold now.
func completedTasks(s *domain.State, d *domain.Delta) []domain.TaskID {
	businessType := firstStr(d.BusinessType, s.BusinessType)
	location := firstStr(d.Location, s.Location)
	years := firstInt(d.YearsOperating, s.YearsOperating)
	employees := firstInt(d.NumEmployees, s.NumEmployees)
	revenue := firstFloat(d.MonthlyRevenue, s.MonthlyRevenue)
	expenses := firstFloat(d.MonthlyExpenses, s.MonthlyExpenses)
	purpose := firstStr(d.LoanPurpose, s.LoanPurpose)

	var done []domain.TaskID
	if businessType != nil && location != nil {
		done = append(done, domain.TaskConfirmEligibility)
	}
	if years != nil && employees != nil {
		done = append(done, domain.TaskBusinessProfile)
	}
	if revenue != nil && expenses != nil && purpose != nil {
		done = append(done, domain.TaskBusinessFinancials)
	}
	if len(s.Photos)+len(d.Photos) >= 1 {
		done = append(done, domain.TaskBusinessPhotos)
	}
	if len(s.PhotoInsights)+len(d.PhotoInsights) >= 1 {
		done = append(done, domain.TaskPhotoAnalysisDone)
	}
	return done
}

// decideHandoff picks the next specialist: underwriting once everything is
// captured, coaching right after acceptance, servicing on demand, otherwise
// the turn ends here.
func (o *Onboarding) decideHandoff(s *domain.State, d *domain.Delta) orchestrator.SpecialistID {
	merged := s.Snapshot()
	merged.Apply(*d)

	switch {
	case orchestrator.UnderwritingGateSatisfied(merged):
		return orchestrator.SpecialistUnderwriting
	case merged.LoanAccepted && !merged.CoachingProvided:
		return orchestrator.SpecialistCoaching
	case wantsServicing(merged):
		return orchestrator.SpecialistServicing
	default:
		return orchestrator.SpecialistEnd
	}
}

func wantsServicing(s *domain.State) bool {
	if s.LoanAccepted && s.DisbursementStatus == "" {
		return true
	}
	if last, ok := s.LastUserMessage(); ok {
		text := strings.ToLower(last.Text())
		for _, kw := range servicingKeywords {
			if strings.Contains(text, kw) {
				return true
			}
		}
	}
	if s.RecoveryStatus != "" && s.RecoveryStatus != domain.RecoveryResolved && s.RecoveryStatus != domain.RecoveryEscalated {
		return true
	}
	return false
}

// composeReply asks the model for the customer-facing response, with the
// state's known facts and specialist results folded into the system prompt so
// the model never re-asks for what it already has.
func (o *Onboarding) composeReply(ctx context.Context, s *domain.State, d *domain.Delta) (string, error) {
	merged := s.Snapshot()
	merged.Apply(*d)

	prompt := prompts.Resolve(ctx, o.prompts, prompts.SlotOnboarding)
	system := prompt.Content
	if ctxBlock := contextBlock(merged); ctxBlock != "" {
		system += "\n\n" + ctxBlock
	}

	var history []llm.Message
	for _, msg := range merged.Messages {
		role := llm.RoleAssistant
		if msg.Role == domain.RoleUser {
			role = llm.RoleUser
		}
		history = append(history, convertMessage(role, msg))
	}

	resp, err := o.llm.Complete(ctx, llm.Request{System: system, Messages: history})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// contextBlock renders the model-facing summary of everything already known:
// collected facts, photo results, the offer, and servicing/coaching results.
func contextBlock(s *domain.State) string {
	var b strings.Builder

	var facts []string
	if s.BusinessName != nil {
		facts = append(facts, "Business name: "+*s.BusinessName)
	}
	if s.BusinessType != nil {
		facts = append(facts, "Business type: "+*s.BusinessType)
	}
	if s.Location != nil {
		facts = append(facts, "Location: "+*s.Location)
	}
	if s.YearsOperating != nil {
		facts = append(facts, fmt.Sprintf("Years operating: %d", *s.YearsOperating))
	}
	if s.NumEmployees != nil {
		facts = append(facts, fmt.Sprintf("Employees: %d", *s.NumEmployees))
	}
	if s.MonthlyRevenue != nil {
		facts = append(facts, fmt.Sprintf("Monthly revenue: %.0f pesos", *s.MonthlyRevenue))
	}
	if s.MonthlyExpenses != nil {
		facts = append(facts, fmt.Sprintf("Monthly expenses: %.0f pesos", *s.MonthlyExpenses))
	}
	if s.LoanPurpose != nil {
		facts = append(facts, "Loan purpose: "+*s.LoanPurpose)
	}
	if len(facts) > 0 {
		b.WriteString("[ALREADY COLLECTED INFORMATION - DO NOT ASK FOR THIS AGAIN]\n")
		b.WriteString(strings.Join(facts, "\n"))
		b.WriteString("\n")
	}

	if len(s.PhotoInsights) > 0 {
		b.WriteString("\n[PHOTO ANALYSIS RESULTS]\n")
		for _, in := range s.PhotoInsights {
			fmt.Fprintf(&b, "Photo %d: Cleanliness: %.1f/10, Organization: %.1f/10, Stock: %s\n",
				in.PhotoIndex+1, in.CleanlinessScore, in.OrganizationScore, in.StockLevel)
			if len(in.Observations) > 0 {
				fmt.Fprintf(&b, "  Observations: %s\n", strings.Join(in.Observations, ", "))
			}
		}
	}

	if s.LoanOffer != nil {
		offer := s.LoanOffer
		b.WriteString("\n[LOAN OFFER READY]\n")
		fmt.Fprintf(&b, "Amount: %.0f pesos\n", offer.Amount)
		fmt.Fprintf(&b, "Term: %d days (%d installments)\n", offer.TermDays, offer.Installments)
		fmt.Fprintf(&b, "Payment: %.2f pesos every 15 days\n", offer.InstallmentAmount)
		fmt.Fprintf(&b, "Total: %.2f pesos (%.0f%% flat rate)\n", offer.TotalRepayment, offer.InterestRateFlat)
		fmt.Fprintf(&b, "Terms: %s\n", offer.TermsURL)
	}

	if s.DisbursementInfo != nil {
		b.WriteString("\n[DISBURSEMENT STATUS]\n")
		fmt.Fprintf(&b, "Status: %s\n", s.DisbursementStatus)
		fmt.Fprintf(&b, "Reference: %s\n", s.DisbursementInfo.ReferenceNumber)
		fmt.Fprintf(&b, "Amount: %.0f pesos\n", s.DisbursementInfo.Amount)
		fmt.Fprintf(&b, "Estimated Completion: %s\n", s.DisbursementInfo.EstimatedCompletion)
	}

	if s.PaymentSchedule != nil {
		b.WriteString("\n[PAYMENT SCHEDULE]\n")
		for _, p := range s.PaymentSchedule.Schedule {
			fmt.Fprintf(&b, "Payment %d: %.2f pesos due %s\n", p.InstallmentNumber, p.Amount, p.DueDate)
		}
	}

	if s.RepaymentInfo != nil {
		b.WriteString("\n[REPAYMENT STATUS]\n")
		fmt.Fprintf(&b, "Status: %s\n", s.RepaymentStatus)
		fmt.Fprintf(&b, "Method: %s\n", s.RepaymentInfo.Method)
		fmt.Fprintf(&b, "Amount: %.2f pesos\n", s.RepaymentInfo.Amount)
		fmt.Fprintf(&b, "Reference: %s\n", s.RepaymentInfo.ReferenceNumber)
	}

	if s.RecoveryInfo != nil {
		b.WriteString("\n[RECOVERY CONVERSATION]\n")
		fmt.Fprintf(&b, "Status: %s\n", s.RecoveryStatus)
		fmt.Fprintf(&b, "Active: %t\n", s.RecoveryInfo.ConversationActive)
	}

	if s.CoachingAdvice != "" {
		b.WriteString("\n[COACHING ADVICE FROM SPECIALIST]\n")
		b.WriteString(s.CoachingAdvice)
		b.WriteString("\nIntegrate this advice naturally into your response to the customer.\n")
	}

	return strings.TrimSpace(b.String())
}

func convertMessage(role llm.Role, msg domain.Message) llm.Message {
	if len(msg.Parts) == 0 {
		return llm.Text(role, msg.Content)
	}
	out := llm.Message{Role: role}
	for _, p := range msg.Parts {
		switch p.Type {
		case "text":
			out.Parts = append(out.Parts, llm.Part{Text: p.Text})
		case "image":
			out.Parts = append(out.Parts, llm.Part{MediaType: p.MediaType, Data: p.Data})
		}
	}
	return out
}

func isAcceptance(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, kw := range acceptanceKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func hasUserMessage(s *domain.State) bool {
	_, ok := s.LastUserMessage()
	return ok
}

func hasPhoto(s *domain.State, data string) bool {
	for _, p := range s.Photos {
		if p == data {
			return true
		}
	}
	return false
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func firstStr(vals ...*string) *string {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstInt(vals ...*int) *int {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstFloat(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
