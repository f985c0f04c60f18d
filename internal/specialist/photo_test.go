package specialist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solcredito/solcredito/internal/domain"
)

const sampleAnalysis = `Cleanliness: 8/10
Organization: 6.5/10
Stock Level: high
Business Layout Type: small_shop
Evidence Flags: [has_signage, refrigeration, non_perishable_stock]
Authenticity Flag: looks_genuine
Duplicate Flag: new_angle_or_scene
Photo Note (internal): Active shop with steady stock. Appears well established.
Observations:
- Shelves are fully stocked
- Clear product grouping by category
Coaching Tips:
- Add visible price labels
- Keep the entrance area clear`

func TestParseInsightFullFormat(t *testing.T) {
	in := parseInsight(sampleAnalysis, 2)

	assert.Equal(t, 2, in.PhotoIndex)
	assert.Equal(t, 8.0, in.CleanlinessScore)
	assert.Equal(t, 6.5, in.OrganizationScore)
	assert.Equal(t, domain.StockHigh, in.StockLevel)
	assert.Equal(t, "small_shop", in.BusinessLayoutType)
	assert.Equal(t, []string{"has_signage", "refrigeration", "non_perishable_stock"}, in.EvidenceFlags)
	assert.Equal(t, domain.AuthLooksGenuine, in.AuthenticityFlag)
	assert.Equal(t, domain.DupNewAngle, in.DuplicateFlag)
	assert.Contains(t, in.PhotoNote, "well established")
	assert.Equal(t, []string{"Shelves are fully stocked", "Clear product grouping by category"}, in.Observations)
	assert.Equal(t, []string{"Add visible price labels", "Keep the entrance area clear"}, in.CoachingTips)
}

func TestParseInsightDefaults(t *testing.T) {
	in := parseInsight("I could not make out much from this image.", 0)

	assert.Equal(t, 7.5, in.CleanlinessScore)
	assert.Equal(t, 7.5, in.OrganizationScore)
	assert.Equal(t, domain.StockMedium, in.StockLevel)
	assert.Equal(t, "cannot_tell", in.BusinessLayoutType)
	assert.Equal(t, domain.AuthUnclear, in.AuthenticityFlag)
	assert.Equal(t, []string{"Photo analyzed successfully"}, in.Observations)
	assert.Equal(t, []string{"Continue maintaining your business well"}, in.CoachingTips)
}

func TestParseInsightMalformedScoreKeepsDefault(t *testing.T) {
	in := parseInsight("Cleanliness: excellent/10\nOrganization: 9/10\nStock Level: enormous", 0)

	assert.Equal(t, 7.5, in.CleanlinessScore)
	assert.Equal(t, 9.0, in.OrganizationScore)
	assert.Equal(t, domain.StockMedium, in.StockLevel)
}

func TestSplitDataURI(t *testing.T) {
	mediaType, data := splitDataURI("data:image/png;base64,iVBORw0KGgo=")
	assert.Equal(t, "image/png", mediaType)
	assert.Equal(t, "iVBORw0KGgo=", data)

	mediaType, data = splitDataURI("/9j/4AAQSkZJRg==")
	assert.Equal(t, "image/jpeg", mediaType)
	assert.Equal(t, "/9j/4AAQSkZJRg==", data)
}

func TestStripCodeFence(t *testing.T) {
	require.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	require.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
}
