// Package store persists eligibility assessments and enrollment records.
package store

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trial-eligibility/internal/db"
	"github.com/sells-group/trial-eligibility/internal/model"
)

// Store defines the persistence interface for the assessment cache and the
// enrollment pipeline. Every failure is returned as a *PersistenceError.
type Store interface {
	// Assessment cache
	UpsertAssessment(ctx context.Context, rec model.AssessmentRecord) error
	ListAssessments(ctx context.Context) ([]model.AssessmentRecord, error)

	// Enrollment
	UpsertEnrollment(ctx context.Context, p model.EnrolledPatient) error
	ListEnrollments(ctx context.Context) ([]model.EnrolledPatient, error)
	AdvanceStage(ctx context.Context, sessionID, protocolID string, stage model.Stage) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ErrNotFound is returned (wrapped) when a keyed row does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrStageRegression is returned (wrapped) when AdvanceStage would move a
// patient backwards in the pipeline.
var ErrStageRegression = eris.New("store: enrollment stage cannot move backwards")

// PersistenceError reports a failed store read or write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "persistence: " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError reports whether err carries a *PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

const (
	assessmentTable = "assessment_cache"
	enrollmentTable = "enrolled_patients"
)

var compositeKey = []string{"patient_session_id", "trial_protocol_id"}

var assessmentColumns = []string{
	"patient_session_id",
	"trial_protocol_id",
	"patient_name",
	"trial_name",
	"eligibility_percentage",
	"eligibility_status",
	"assessment_result",
	"assessed_at",
}

var enrollmentColumns = []string{
	"id",
	"patient_session_id",
	"trial_protocol_id",
	"patient_name",
	"patient_age",
	"patient_gender",
	"patient_mrn",
	"trial_name",
	"eligibility_score",
	"enrollment_stage",
	"enrolled_date",
}

// enrollmentUpdateCols leaves id, enrollment_stage and enrolled_date alone on
// conflict, so re-prescreening never rewinds a patient's stage.
var enrollmentUpdateCols = []string{
	"patient_name",
	"patient_age",
	"patient_gender",
	"patient_mrn",
	"trial_name",
	"eligibility_score",
}

func assessmentUpsertSQL(ph db.Placeholder) string {
	sql, err := db.UpsertSQL(db.UpsertConfig{
		Table:        assessmentTable,
		Columns:      assessmentColumns,
		ConflictKeys: compositeKey,
		Placeholder:  ph,
	})
	if err != nil {
		panic(err) // static config
	}
	return sql
}

func enrollmentUpsertSQL(ph db.Placeholder) string {
	sql, err := db.UpsertSQL(db.UpsertConfig{
		Table:        enrollmentTable,
		Columns:      enrollmentColumns,
		ConflictKeys: compositeKey,
		UpdateCols:   enrollmentUpdateCols,
		Placeholder:  ph,
	})
	if err != nil {
		panic(err) // static config
	}
	return sql
}
