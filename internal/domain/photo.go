package domain

// Stock level buckets for photo analysis.
const (
	StockLow    = "low"
	StockMedium = "medium"
	StockHigh   = "high"
)

// Photo authenticity assessments.
const (
	AuthLooksGenuine  = "looks_genuine"
	AuthStockPhoto    = "looks_like_stock_photo"
	AuthUnclear       = "unclear"
	DupNewAngle       = "new_angle_or_scene"
	DupPossibleRepeat = "possible_duplicate_of_previous"
)

// PhotoInsight is the structured result of analyzing one business photo.
// PhotoIndex points back into State.Photos; insights are index-aligned and an
// insight always corresponds to an already-captured photo.
type PhotoInsight struct {
	PhotoIndex         int      `json:"photo_index"`
	CleanlinessScore   float64  `json:"cleanliness_score"`  // 0-10
	OrganizationScore  float64  `json:"organization_score"` // 0-10
	StockLevel         string   `json:"stock_level"`
	BusinessLayoutType string   `json:"business_layout_type,omitempty"`
	EvidenceFlags      []string `json:"evidence_flags,omitempty"`
	AuthenticityFlag   string   `json:"authenticity_flag,omitempty"`
	DuplicateFlag      string   `json:"duplicate_flag,omitempty"`
	PhotoNote          string   `json:"photo_note,omitempty"` // internal, never shown to the customer
	Observations       []string `json:"observations"`
	CoachingTips       []string `json:"coaching_tips"`
}
