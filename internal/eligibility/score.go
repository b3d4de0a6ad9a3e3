package eligibility

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/trial-eligibility/internal/model"
)

// Markers the model is asked to emit.
const (
	MarkerEligible   = "**ELIGIBLE**"
	MarkerIneligible = "**INELIGIBLE**"
)

// Fallback scores used when the model omits the score line.
const (
	FallbackEligibleScore   = 0.80
	FallbackIneligibleScore = 0.30
)

var scoreLine = regexp.MustCompile(`(?i)ELIGIBILITY_SCORE:\s*(\d+)%`)

// ParseScore extracts a score in [0,1] from model output. The explicit
// ELIGIBILITY_SCORE line wins; otherwise the eligible and ineligible markers
// map to fixed fallbacks; otherwise the score is 0.
func ParseScore(text string) float64 {
	if m := scoreLine.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n > 100 {
			// Digits overflowed int or exceeded a percentage.
			return 1
		}
		return float64(n) / 100
	}
	switch {
	case strings.Contains(text, MarkerEligible):
		return FallbackEligibleScore
	case strings.Contains(text, MarkerIneligible):
		return FallbackIneligibleScore
	default:
		return 0
	}
}

// ParseStatus reads the verdict marker. When a response carries both
// markers the ineligible verdict wins.
func ParseStatus(text string) model.EligibilityStatus {
	switch {
	case strings.Contains(text, MarkerIneligible):
		return model.StatusIneligible
	case strings.Contains(text, MarkerEligible):
		return model.StatusEligible
	default:
		return model.StatusUnknown
	}
}
