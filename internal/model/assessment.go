package model

import (
	"math"
	"time"
)

// EligibilityStatus is the model's overall verdict for a patient and trial.
type EligibilityStatus string

const (
	StatusEligible   EligibilityStatus = "ELIGIBLE"
	StatusIneligible EligibilityStatus = "INELIGIBLE"
	StatusUnknown    EligibilityStatus = "UNKNOWN"
)

// AssessmentRecord is one cached eligibility assessment, unique per
// (PatientSessionID, TrialProtocolID).
type AssessmentRecord struct {
	PatientSessionID      string            `json:"patient_session_id"`
	PatientName           string            `json:"patient_name"`
	TrialProtocolID       string            `json:"trial_protocol_id"`
	TrialName             string            `json:"trial_name"`
	EligibilityPercentage int               `json:"eligibility_percentage"`
	EligibilityStatus     EligibilityStatus `json:"eligibility_status"`
	AssessmentResult      string            `json:"assessment_result"`
	AssessedAt            time.Time         `json:"assessed_at"`
}

// Score returns the stored percentage as a normalized score in [0,1].
func (r AssessmentRecord) Score() float64 {
	return float64(r.EligibilityPercentage) / 100
}

// PercentFromScore converts a [0,1] score to a whole percentage in [0,100].
func PercentFromScore(score float64) int {
	pct := int(math.Round(score * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
