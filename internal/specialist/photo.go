package specialist

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/solcredito/solcredito/internal/domain"
	"github.com/solcredito/solcredito/internal/llm"
	"github.com/solcredito/solcredito/internal/prompts"
)

const photoFormatInstruction = "Provide your analysis in this exact format:\n" +
	"Cleanliness: [score]/10\n" +
	"Organization: [score]/10\n" +
	"Stock Level: [low/medium/high]\n" +
	"Business Layout Type: [street_stall|market_stall|small_shop|food_stand|salon_or_barbershop|workshop|home_based_other|cannot_tell]\n" +
	"Evidence Flags: [has_signage, visible_customers, multiple_employees, perishable_stock, non_perishable_stock, seating_area, cooking_equipment, refrigeration, etc.]\n" +
	"Authenticity Flag: [looks_genuine|looks_like_stock_photo|unclear]\n" +
	"Duplicate Flag: [new_angle_or_scene|possible_duplicate_of_previous]\n" +
	"Photo Note (internal): [2-3 sentences about business activity, establishment level, strengths/concerns]\n" +
	"Observations:\n- [observation 1]\n- [observation 2]\n" +
	"Coaching Tips:\n- [tip 1]\n- [tip 2]"

// analyzePhoto runs the vision completion for one photo and parses the
// structured result.
func (o *Onboarding) analyzePhoto(ctx context.Context, photoB64 string, index int, s *domain.State) (domain.PhotoInsight, error) {
	mediaType, data := splitDataURI(photoB64)

	businessType := "unknown"
	if s.BusinessType != nil {
		businessType = *s.BusinessType
	}
	location := "unknown"
	if s.Location != nil {
		location = *s.Location
	}

	prompt := prompts.Resolve(ctx, o.prompts, prompts.SlotPhotoAnalysis)
	req := llm.Request{
		System: prompt.Content,
		Messages: []llm.Message{
			{
				Role: llm.RoleUser,
				Parts: []llm.Part{
					{MediaType: mediaType, Data: data},
					{Text: fmt.Sprintf("Analyze this business photo. Context: Business type: %s, Location: %s\n\n%s",
						businessType, location, photoFormatInstruction)},
				},
			},
		},
	}

	resp, err := o.llm.Complete(ctx, req)
	if err != nil {
		return domain.PhotoInsight{}, err
	}
	return parseInsight(resp.Content, index), nil
}

// splitDataURI strips an optional data:image/...;base64, prefix and returns
// the media type and raw payload. Plain base64 defaults to JPEG.
func splitDataURI(photo string) (mediaType, data string) {
	mediaType = "image/jpeg"
	data = photo
	if strings.HasPrefix(photo, "data:") {
		if strings.Contains(photo, "image/png") {
			mediaType = "image/png"
		} else if strings.Contains(photo, "image/webp") {
			mediaType = "image/webp"
		}
		if _, rest, ok := strings.Cut(photo, ","); ok {
			data = rest
		}
	}
	return mediaType, data
}

// parseInsight parses the model's line-oriented analysis. Missing or
// malformed fields keep their defaults: 7.5 scores, medium stock, unclear
// authenticity. Unrecognized lines are skipped.
func parseInsight(text string, index int) domain.PhotoInsight {
	insight := domain.PhotoInsight{
		PhotoIndex:         index,
		CleanlinessScore:   7.5,
		OrganizationScore:  7.5,
		StockLevel:         domain.StockMedium,
		BusinessLayoutType: "cannot_tell",
		AuthenticityFlag:   domain.AuthUnclear,
		DuplicateFlag:      domain.DupNewAngle,
	}

	section := ""
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)

		switch {
		case strings.HasPrefix(lower, "cleanliness:"):
			if v, ok := parseScore(line); ok {
				insight.CleanlinessScore = v
			}
		case strings.HasPrefix(lower, "organization:"):
			if v, ok := parseScore(line); ok {
				insight.OrganizationScore = v
			}
		case strings.HasPrefix(lower, "stock level:"):
			level := fieldValue(line)
			if level == domain.StockLow || level == domain.StockMedium || level == domain.StockHigh {
				insight.StockLevel = level
			}
		case strings.HasPrefix(lower, "business layout type:") || strings.HasPrefix(lower, "layout type:"):
			if layout := fieldValue(line); validLayout(layout) {
				insight.BusinessLayoutType = layout
			}
		case strings.HasPrefix(lower, "evidence flags:") || strings.HasPrefix(lower, "evidence:"):
			insight.EvidenceFlags = parseFlags(line)
		case strings.HasPrefix(lower, "authenticity flag:"):
			auth := fieldValue(line)
			if auth == domain.AuthLooksGenuine || auth == domain.AuthStockPhoto || auth == domain.AuthUnclear {
				insight.AuthenticityFlag = auth
			}
		case strings.HasPrefix(lower, "duplicate flag:"):
			dup := fieldValue(line)
			if dup == domain.DupNewAngle || dup == domain.DupPossibleRepeat {
				insight.DuplicateFlag = dup
			}
		case strings.HasPrefix(lower, "photo note"):
			if _, note, ok := strings.Cut(line, ":"); ok {
				insight.PhotoNote = strings.TrimSpace(note)
			}
		case strings.HasPrefix(lower, "observations:"):
			section = "observations"
		case strings.HasPrefix(lower, "coaching tips:"):
			section = "coaching"
		case strings.HasPrefix(line, "-") || strings.HasPrefix(line, "•"):
			item := strings.TrimSpace(strings.TrimLeft(line, "-•"))
			switch section {
			case "observations":
				insight.Observations = append(insight.Observations, item)
			case "coaching":
				insight.CoachingTips = append(insight.CoachingTips, item)
			}
		}
	}

	if len(insight.Observations) == 0 {
		insight.Observations = []string{"Photo analyzed successfully"}
	}
	if len(insight.CoachingTips) == 0 {
		insight.CoachingTips = []string{"Continue maintaining your business well"}
	}
	return insight
}

// parseScore reads "Cleanliness: 8/10" style lines.
func parseScore(line string) (float64, bool) {
	_, rest, ok := strings.Cut(line, ":")
	if !ok {
		return 0, false
	}
	raw, _, _ := strings.Cut(strings.TrimSpace(rest), "/")
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func fieldValue(line string) string {
	_, rest, _ := strings.Cut(line, ":")
	return strings.ToLower(strings.TrimSpace(rest))
}

func parseFlags(line string) []string {
	_, rest, _ := strings.Cut(line, ":")
	rest = strings.Trim(strings.TrimSpace(rest), "[]")
	var flags []string
	for _, f := range strings.Split(rest, ",") {
		f = strings.Trim(strings.TrimSpace(f), `"'`)
		if f != "" {
			flags = append(flags, f)
		}
	}
	return flags
}

func validLayout(layout string) bool {
	switch layout {
	case "street_stall", "market_stall", "small_shop", "food_stand",
		"salon_or_barbershop", "workshop", "home_based_other", "cannot_tell":
		return true
	}
	return false
}
