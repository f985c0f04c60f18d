package specialist

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/solcredito/solcredito/internal/domain"
	"github.com/solcredito/solcredito/internal/orchestrator"
)

// Standard demo offer terms. A production system would price from the risk
// score; here the score is recorded alongside a fixed offer.
const (
	offerAmount       = 5000.0
	offerTermDays     = 45
	offerInstallments = 3
	offerFlatRate     = 11.0
	offerTermsURL     = "https://lender.com.mx/terms/msme-loan-agreement"
)

// Underwriting computes the risk score and generates the loan offer. It runs
// at most once per conversation: a state that already carries an offer makes
// it a no-op.
type Underwriting struct {
	logger *slog.Logger
}

func NewUnderwriting(logger *slog.Logger) *Underwriting {
	return &Underwriting{logger: logger}
}

func (u *Underwriting) ID() orchestrator.SpecialistID {
	return orchestrator.SpecialistUnderwriting
}

func (u *Underwriting) Run(_ context.Context, s *domain.State) (domain.Delta, orchestrator.SpecialistID, error) {
	if s.LoanOffer != nil {
		return domain.Delta{}, orchestrator.SpecialistOnboarding, nil
	}

	risk := riskScore(s)
	offer := buildOffer()

	u.logger.Info("loan offer generated",
		"session_id", s.SessionID, "risk_score", risk, "amount", offer.Amount)

	return domain.Delta{
		RiskScore: &risk,
		LoanOffer: &offer,
	}, orchestrator.SpecialistOnboarding, nil
}

// riskScore applies the demo heuristics: base 60, up to +15 for longevity,
// revenue bands, photo quality bonus, +5 for inventory purposes, capped at
// 100. Higher is less risky.
func riskScore(s *domain.State) float64 {
	score := 60.0

	if s.YearsOperating != nil {
		score += math.Min(float64(*s.YearsOperating)*2, 15)
	}

	if s.MonthlyRevenue != nil {
		switch {
		case *s.MonthlyRevenue >= 50000:
			score += 10
		case *s.MonthlyRevenue >= 30000:
			score += 5
		}
	}

	if len(s.PhotoInsights) > 0 {
		var clean, org float64
		for _, in := range s.PhotoInsights {
			clean += in.CleanlinessScore
			org += in.OrganizationScore
		}
		n := float64(len(s.PhotoInsights))
		score += (clean/n + org/n) / 2
	}

	if s.LoanPurpose != nil {
		purpose := strings.ToLower(*s.LoanPurpose)
		for _, kw := range []string{"inventory", "stock", "supplies"} {
			if strings.Contains(purpose, kw) {
				score += 5
				break
			}
		}
	}

	return math.Min(score, 100)
}

func buildOffer() domain.LoanOffer {
	total := offerAmount * (1 + offerFlatRate/100)
	installment := total / offerInstallments
	return domain.LoanOffer{
		Amount:            offerAmount,
		TermDays:          offerTermDays,
		Installments:      offerInstallments,
		InstallmentAmount: round2(installment),
		TotalRepayment:    round2(total),
		InterestRateFlat:  offerFlatRate,
		TermsURL:          offerTermsURL,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
