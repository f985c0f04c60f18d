package specialist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/solcredito/solcredito/internal/domain"
	"github.com/solcredito/solcredito/internal/llm"
	"github.com/solcredito/solcredito/internal/orchestrator"
	"github.com/solcredito/solcredito/internal/prompts"
)

// Coaching generates personalized business advice from the profile and photo
// insights. The advice lands in state; the onboarding specialist weaves it
// into the customer-facing reply.
type Coaching struct {
	llm     llm.Client
	prompts prompts.Resolver
	logger  *slog.Logger
}

func NewCoaching(client llm.Client, resolver prompts.Resolver, logger *slog.Logger) *Coaching {
	return &Coaching{llm: client, prompts: resolver, logger: logger}
}

func (c *Coaching) ID() orchestrator.SpecialistID {
	return orchestrator.SpecialistCoaching
}

func (c *Coaching) Run(ctx context.Context, s *domain.State) (domain.Delta, orchestrator.SpecialistID, error) {
	advice, err := c.generateAdvice(ctx, s)
	if err != nil {
		return domain.Delta{}, orchestrator.SpecialistEnd, fmt.Errorf("generate coaching advice: %w", err)
	}

	provided := true
	c.logger.Info("coaching advice generated", "session_id", s.SessionID, "length", len(advice))
	return domain.Delta{
		CoachingAdvice:   &advice,
		CoachingProvided: &provided,
	}, orchestrator.SpecialistOnboarding, nil
}

func (c *Coaching) generateAdvice(ctx context.Context, s *domain.State) (string, error) {
	businessType := "business"
	if s.BusinessType != nil {
		businessType = *s.BusinessType
	}
	purpose := "growing the business"
	if s.LoanPurpose != nil {
		purpose = *s.LoanPurpose
	}
	revenue := 0.0
	if s.MonthlyRevenue != nil {
		revenue = *s.MonthlyRevenue
	}

	var observations, tips []string
	for _, in := range s.PhotoInsights {
		observations = append(observations, in.Observations...)
		tips = append(tips, in.CoachingTips...)
	}
	observationsText := "No photos analyzed yet"
	if len(observations) > 0 {
		observationsText = "- " + strings.Join(observations, "\n- ")
	}
	tipsText := "No initial tips"
	if len(tips) > 0 {
		tipsText = "- " + strings.Join(tips, "\n- ")
	}

	profile := fmt.Sprintf(`Business Profile:
- Type: %s
- Loan Purpose: %s
- Monthly Revenue: %.0f pesos

Photo Analysis Observations:
%s

Initial Tips from Visual Analysis:
%s`, businessType, purpose, revenue, observationsText, tipsText)

	prompt := prompts.Resolve(ctx, c.prompts, prompts.SlotCoaching)
	resp, err := c.llm.Complete(ctx, llm.Request{
		System: prompt.Content,
		Messages: []llm.Message{
			llm.Text(llm.RoleUser, "Generate personalized coaching advice for this business owner:\n\n"+
				profile+"\n\nProvide 3-4 specific, actionable tips to help them succeed."),
		},
		MaxTokens: 800,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
