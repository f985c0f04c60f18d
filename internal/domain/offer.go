package domain

// Disbursement status values.
const (
	DisbursementInitiated = "initiated"
	DisbursementCompleted = "completed"
)

// LoanOffer is the structured offer produced by underwriting. Amounts are in
// pesos; the rate is a flat percentage over the full term.
type LoanOffer struct {
	Amount            float64 `json:"amount"`
	TermDays          int     `json:"term_days"`
	Installments      int     `json:"installments"`
	InstallmentAmount float64 `json:"installment_amount"`
	TotalRepayment    float64 `json:"total_repayment"`
	InterestRateFlat  float64 `json:"interest_rate_flat"`
	TermsURL          string  `json:"terms_url"`
}

// DisbursementInfo records a disbursement attempt.
type DisbursementInfo struct {
	Amount              float64 `json:"amount"`
	Status              string  `json:"status"`
	InitiatedAt         string  `json:"initiated_at"`
	EstimatedCompletion string  `json:"estimated_completion"`
	BankAccount         string  `json:"bank_account,omitempty"`
	ReferenceNumber     string  `json:"reference_number"`
}

// ScheduledPayment is one installment in a payment schedule.
type ScheduledPayment struct {
	InstallmentNumber int     `json:"installment_number"`
	DueDate           string  `json:"due_date"` // YYYY-MM-DD
	Amount            float64 `json:"amount"`
	Status            string  `json:"status"`
}

// PaymentSchedule lays out the full repayment plan for an accepted offer.
type PaymentSchedule struct {
	TotalInstallments   int                `json:"total_installments"`
	InstallmentAmount   float64            `json:"installment_amount"`
	TotalAmount         float64            `json:"total_amount"`
	Schedule            []ScheduledPayment `json:"schedule"`
	DaysBetweenPayments int                `json:"days_between_payments"`
}

// RepaymentInfo records a repayment attempt.
type RepaymentInfo struct {
	Method              string  `json:"method"` // existing_bank, new_account, in_person
	Amount              float64 `json:"amount"`
	Status              string  `json:"status"`
	InitiatedAt         string  `json:"initiated_at"`
	ReferenceNumber     string  `json:"reference_number"`
	BankAccount         string  `json:"bank_account,omitempty"`
	Location            string  `json:"location,omitempty"`
	Instructions        string  `json:"instructions,omitempty"`
	EstimatedCompletion string  `json:"estimated_completion,omitempty"`
}

// RecoveryInfo tracks an active recovery conversation with a customer who is
// behind on payments.
type RecoveryInfo struct {
	Status             string `json:"status"`
	ConversationActive bool   `json:"conversation_active"`
	LastInteraction    string `json:"last_interaction"`
	ResolutionType     string `json:"resolution_type,omitempty"` // promise_to_pay, payment_plan, restructuring, other
}
