package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/trial-eligibility/internal/model"
)

// assessmentArgs returns the insert arguments in assessmentColumns order,
// stamping AssessedAt when the caller left it zero.
func assessmentArgs(rec *model.AssessmentRecord, now time.Time) ([]any, error) {
	if rec.PatientSessionID == "" || rec.TrialProtocolID == "" {
		return nil, eris.New("patient session id and trial protocol id are required")
	}
	if rec.EligibilityPercentage < 0 || rec.EligibilityPercentage > 100 {
		return nil, eris.Errorf("eligibility percentage %d out of range", rec.EligibilityPercentage)
	}
	if rec.EligibilityStatus == "" {
		rec.EligibilityStatus = model.StatusUnknown
	}
	if rec.AssessedAt.IsZero() {
		rec.AssessedAt = now
	}
	rec.AssessedAt = rec.AssessedAt.UTC()

	return []any{
		rec.PatientSessionID,
		rec.TrialProtocolID,
		rec.PatientName,
		rec.TrialName,
		rec.EligibilityPercentage,
		string(rec.EligibilityStatus),
		rec.AssessmentResult,
		rec.AssessedAt,
	}, nil
}

// enrollmentArgs returns the insert arguments in enrollmentColumns order.
// New rows always start at Pre-Screening.
func enrollmentArgs(p *model.EnrolledPatient, now time.Time) ([]any, error) {
	if p.PatientSessionID == "" || p.TrialProtocolID == "" {
		return nil, eris.New("patient session id and trial protocol id are required")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.EnrolledAt.IsZero() {
		p.EnrolledAt = now
	}
	p.EnrolledAt = p.EnrolledAt.UTC()
	p.Stage = model.StagePreScreening

	return []any{
		p.ID,
		p.PatientSessionID,
		p.TrialProtocolID,
		p.PatientName,
		p.Age,
		p.Gender,
		p.MRN,
		p.TrialName,
		p.EligibilityScore,
		string(p.Stage),
		p.EnrolledAt,
	}, nil
}

// checkAdvance validates a forward-only stage move.
func checkAdvance(current string, next model.Stage) error {
	if !next.Valid() {
		return eris.Errorf("unknown enrollment stage %q", next)
	}
	cur, err := model.ParseStage(current)
	if err != nil {
		return err
	}
	if next.Before(cur) {
		return eris.Wrapf(ErrStageRegression, "%s -> %s", cur, next)
	}
	return nil
}
