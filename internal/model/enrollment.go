package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Stage is a step in the enrollment pipeline. Stages are totally ordered.
type Stage string

const (
	StagePreScreening        Stage = "Pre-Screening"
	StageFirstVisitScheduled Stage = "First Visit Scheduled"
	StageRandomisation       Stage = "Randomisation"
	Stage30DayFollowUp       Stage = "30-Day Follow Up"
	Stage60DayFollowUp       Stage = "60-Day Follow Up"
	Stage90DayFollowUp       Stage = "90-Day Follow Up"
)

var stageOrder = []Stage{
	StagePreScreening,
	StageFirstVisitScheduled,
	StageRandomisation,
	Stage30DayFollowUp,
	Stage60DayFollowUp,
	Stage90DayFollowUp,
}

// Stages returns every stage in pipeline order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Order returns the 1-based position of s in the pipeline, or 0 if s is not
// a known stage.
func (s Stage) Order() int {
	for i, st := range stageOrder {
		if st == s {
			return i + 1
		}
	}
	return 0
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s.Order() > 0
}

// Before reports whether s comes strictly earlier in the pipeline than other.
func (s Stage) Before(other Stage) bool {
	return s.Order() < other.Order()
}

// ParseStage converts a stored or user-supplied label into a Stage.
func ParseStage(v string) (Stage, error) {
	s := Stage(v)
	if !s.Valid() {
		return "", eris.Errorf("model: unknown enrollment stage %q", v)
	}
	return s, nil
}

// EnrolledPatient is a prescreened or enrolled patient, unique per
// (PatientSessionID, TrialProtocolID).
type EnrolledPatient struct {
	ID               string    `json:"id"`
	PatientSessionID string    `json:"patient_session_id"`
	PatientName      string    `json:"patient_name"`
	Age              int       `json:"age"`
	Gender           string    `json:"gender"`
	MRN              string    `json:"mrn"`
	TrialProtocolID  string    `json:"trial_protocol_id"`
	TrialName        string    `json:"trial_name"`
	EligibilityScore int       `json:"eligibility_score"` // percentage 0-100
	Stage            Stage     `json:"stage"`
	EnrolledAt       time.Time `json:"enrolled_at"`
}
