package dashboard

import (
	"sort"

	"github.com/sells-group/trial-eligibility/internal/session"
	"github.com/sells-group/trial-eligibility/internal/trials"
)

// Score band labels.
const (
	BandHigh        = "High Eligibility"
	BandModerate    = "Moderate Eligibility"
	BandLow         = "Low Eligibility"
	BandNotEligible = "Not Eligible"
	BandNotAssessed = "Not Assessed"
)

// ScoreBand labels a score for display. A nil score is unassessed.
func ScoreBand(score *float64) string {
	switch {
	case score == nil:
		return BandNotAssessed
	case *score >= 0.85:
		return BandHigh
	case *score >= 0.70:
		return BandModerate
	case *score >= 0.50:
		return BandLow
	default:
		return BandNotEligible
	}
}

// PatientRow is one line of the screening view.
type PatientRow struct {
	session.Patient
	EligibilityScore *float64 `json:"eligibility_score"`
	ScoreBand        string   `json:"score_band"`
}

// Screen filters patients to those matching the trial's age range and
// genders, attaching cached scores. A patient with no recorded gender is
// kept. When trial is nil every patient is returned. With sortByScore the
// rows are ordered by score descending with unassessed rows last; ties keep
// their input order.
func Screen(patients []session.Patient, trial *trials.Trial, cache *AssessmentCache, sortByScore bool) []PatientRow {
	rows := make([]PatientRow, 0, len(patients))
	for _, p := range patients {
		var score *float64
		if trial != nil {
			if !trial.AgeRange.Contains(p.Age) {
				continue
			}
			if p.Gender != session.UnknownGender && !trial.AllowsGender(p.Gender) {
				continue
			}
			if cache != nil {
				score = cache.Score(p.ID, trial.ID)
			}
		}
		rows = append(rows, PatientRow{
			Patient:          p,
			EligibilityScore: score,
			ScoreBand:        ScoreBand(score),
		})
	}

	if sortByScore {
		sort.SliceStable(rows, func(i, j int) bool {
			a, b := rows[i].EligibilityScore, rows[j].EligibilityScore
			switch {
			case a == nil:
				return false
			case b == nil:
				return true
			default:
				return *a > *b
			}
		})
	}
	return rows
}
