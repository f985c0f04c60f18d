package domain

// State is the canonical conversation/business record for one session. It is
// exclusively owned by the turn orchestrator while a turn is running and
// persisted as a snapshot between turns. Specialists never mutate it
// directly; they return a Delta that the orchestrator merges.
type State struct {
	SessionID      string `json:"session_id"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id,omitempty"`

	Messages []Message `json:"messages"`

	// Business facts, each nullable until captured during onboarding.
	BusinessName    *string  `json:"business_name,omitempty"`
	BusinessType    *string  `json:"business_type,omitempty"`
	Location        *string  `json:"location,omitempty"`
	YearsOperating  *int     `json:"years_operating,omitempty"`
	NumEmployees    *int     `json:"num_employees,omitempty"`
	MonthlyRevenue  *float64 `json:"monthly_revenue,omitempty"`
	MonthlyExpenses *float64 `json:"monthly_expenses,omitempty"`
	LoanPurpose     *string  `json:"loan_purpose,omitempty"`

	Photos        []string       `json:"photos,omitempty"`
	PhotoInsights []PhotoInsight `json:"photo_insights,omitempty"`

	RiskScore          *float64          `json:"risk_score,omitempty"`
	LoanOffer          *LoanOffer        `json:"loan_offer,omitempty"`
	LoanAccepted       bool              `json:"loan_accepted"`
	DisbursementStatus string            `json:"disbursement_status,omitempty"`
	DisbursementInfo   *DisbursementInfo `json:"disbursement_info,omitempty"`
	PaymentSchedule    *PaymentSchedule  `json:"payment_schedule,omitempty"`
	RepaymentStatus    string            `json:"repayment_status,omitempty"`
	RepaymentInfo      *RepaymentInfo    `json:"repayment_info,omitempty"`
	RecoveryStatus     string            `json:"recovery_status,omitempty"`
	RecoveryInfo       *RecoveryInfo     `json:"recovery_info,omitempty"`
	CoachingAdvice     string            `json:"coaching_advice,omitempty"`
	CoachingProvided   bool              `json:"coaching_provided"`

	Tasks TaskLedger `json:"completed_tasks"`
	Phase Phase      `json:"phase"`

	// Persistence accounting: how many messages the store already holds, and
	// whether the loan offer row has been written. Used to keep end-of-turn
	// writes duplicate-free across turns.
	PersistedMessages int  `json:"persisted_messages"`
	OfferPersisted    bool `json:"offer_persisted"`

	// Revision increments once per turn. A background persistence retry
	// compares it against the stored revision so a replayed snapshot can
	// never overwrite a later turn's state.
	Revision int `json:"revision"`
}

// NewState creates the State Record for a fresh session: phase onboarding,
// empty task ledger.
func NewState(sessionID, userID string) *State {
	return &State{
		SessionID: sessionID,
		UserID:    userID,
		Tasks:     NewTaskLedger(),
		Phase:     PhaseOnboarding,
	}
}

// Delta is an explicit partial update returned by a specialist. Nil pointer
// fields leave the corresponding State field untouched; list fields append.
type Delta struct {
	Messages []Message

	BusinessName    *string
	BusinessType    *string
	Location        *string
	YearsOperating  *int
	NumEmployees    *int
	MonthlyRevenue  *float64
	MonthlyExpenses *float64
	LoanPurpose     *string

	Photos        []string
	PhotoInsights []PhotoInsight

	RiskScore          *float64
	LoanOffer          *LoanOffer
	LoanAccepted       *bool
	DisbursementStatus *string
	DisbursementInfo   *DisbursementInfo
	PaymentSchedule    *PaymentSchedule
	RepaymentStatus    *string
	RepaymentInfo      *RepaymentInfo
	RecoveryStatus     *string
	RecoveryInfo       *RecoveryInfo
	CoachingAdvice     *string
	CoachingProvided   *bool

	CompletedTasks []TaskID
}

// Apply merges a delta into the state: scalar fields overwrite when set,
// list fields append, completed tasks are added to the ledger. The loan offer
// is write-once; a delta carrying an offer while one is already set is
// ignored for that field.
func (s *State) Apply(d Delta) {
	s.Messages = append(s.Messages, d.Messages...)

	if d.BusinessName != nil {
		s.BusinessName = d.BusinessName
	}
	if d.BusinessType != nil {
		s.BusinessType = d.BusinessType
	}
	if d.Location != nil {
		s.Location = d.Location
	}
	if d.YearsOperating != nil {
		s.YearsOperating = d.YearsOperating
	}
	if d.NumEmployees != nil {
		s.NumEmployees = d.NumEmployees
	}
	if d.MonthlyRevenue != nil {
		s.MonthlyRevenue = d.MonthlyRevenue
	}
	if d.MonthlyExpenses != nil {
		s.MonthlyExpenses = d.MonthlyExpenses
	}
	if d.LoanPurpose != nil {
		s.LoanPurpose = d.LoanPurpose
	}

	s.Photos = append(s.Photos, d.Photos...)
	s.PhotoInsights = append(s.PhotoInsights, d.PhotoInsights...)

	if d.RiskScore != nil {
		s.RiskScore = d.RiskScore
	}
	if d.LoanOffer != nil && s.LoanOffer == nil {
		offer := *d.LoanOffer
		s.LoanOffer = &offer
	}
	if d.LoanAccepted != nil {
		s.LoanAccepted = *d.LoanAccepted
	}
	if d.DisbursementStatus != nil {
		s.DisbursementStatus = *d.DisbursementStatus
	}
	if d.DisbursementInfo != nil {
		s.DisbursementInfo = d.DisbursementInfo
	}
	if d.PaymentSchedule != nil {
		s.PaymentSchedule = d.PaymentSchedule
	}
	if d.RepaymentStatus != nil {
		s.RepaymentStatus = *d.RepaymentStatus
	}
	if d.RepaymentInfo != nil {
		s.RepaymentInfo = d.RepaymentInfo
	}
	if d.RecoveryStatus != nil {
		s.RecoveryStatus = *d.RecoveryStatus
	}
	if d.RecoveryInfo != nil {
		s.RecoveryInfo = d.RecoveryInfo
	}
	if d.CoachingAdvice != nil {
		s.CoachingAdvice = *d.CoachingAdvice
	}
	if d.CoachingProvided != nil {
		s.CoachingProvided = *d.CoachingProvided
	}

	if s.Tasks == nil {
		s.Tasks = NewTaskLedger()
	}
	for _, t := range d.CompletedTasks {
		s.Tasks.MarkComplete(t)
	}
}

// Snapshot returns a deep copy of the state, safe to hand to the persistence
// layer while the orchestrator keeps mutating the original.
func (s *State) Snapshot() *State {
	c := *s

	c.Messages = append([]Message(nil), s.Messages...)
	for i, m := range c.Messages {
		c.Messages[i].Parts = append([]ContentPart(nil), m.Parts...)
	}
	c.Photos = append([]string(nil), s.Photos...)
	c.PhotoInsights = append([]PhotoInsight(nil), s.PhotoInsights...)
	for i, in := range c.PhotoInsights {
		c.PhotoInsights[i].EvidenceFlags = append([]string(nil), in.EvidenceFlags...)
		c.PhotoInsights[i].Observations = append([]string(nil), in.Observations...)
		c.PhotoInsights[i].CoachingTips = append([]string(nil), in.CoachingTips...)
	}
	c.Tasks = s.Tasks.Clone()

	c.BusinessName = copyStr(s.BusinessName)
	c.BusinessType = copyStr(s.BusinessType)
	c.Location = copyStr(s.Location)
	c.YearsOperating = copyInt(s.YearsOperating)
	c.NumEmployees = copyInt(s.NumEmployees)
	c.MonthlyRevenue = copyFloat(s.MonthlyRevenue)
	c.MonthlyExpenses = copyFloat(s.MonthlyExpenses)
	c.LoanPurpose = copyStr(s.LoanPurpose)
	c.RiskScore = copyFloat(s.RiskScore)

	if s.LoanOffer != nil {
		offer := *s.LoanOffer
		c.LoanOffer = &offer
	}
	if s.DisbursementInfo != nil {
		di := *s.DisbursementInfo
		c.DisbursementInfo = &di
	}
	if s.PaymentSchedule != nil {
		ps := *s.PaymentSchedule
		ps.Schedule = append([]ScheduledPayment(nil), s.PaymentSchedule.Schedule...)
		c.PaymentSchedule = &ps
	}
	if s.RepaymentInfo != nil {
		ri := *s.RepaymentInfo
		c.RepaymentInfo = &ri
	}
	if s.RecoveryInfo != nil {
		rc := *s.RecoveryInfo
		c.RecoveryInfo = &rc
	}

	return &c
}

// LastUserMessage returns the most recent user message, or a zero Message if
// there is none.
func (s *State) LastUserMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

func copyStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
