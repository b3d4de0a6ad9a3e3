package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trial-eligibility/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock, now: func() time.Time { return baseTime }}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS assessment_cache`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertAssessment(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO "assessment_cache" .* ON CONFLICT \("patient_session_id", "trial_protocol_id"\) DO UPDATE SET`).
		WithArgs("A", "CT-1", "Jane Doe", "Trial", 91, "ELIGIBLE", "ELIGIBILITY_SCORE: 91%", baseTime).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertAssessment(context.Background(), model.AssessmentRecord{
		PatientSessionID:      "A",
		TrialProtocolID:       "CT-1",
		PatientName:           "Jane Doe",
		TrialName:             "Trial",
		EligibilityPercentage: 91,
		EligibilityStatus:     model.StatusEligible,
		AssessmentResult:      "ELIGIBILITY_SCORE: 91%",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertAssessment_ExecError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection refused"))

	err := s.UpsertAssessment(context.Background(), model.AssessmentRecord{PatientSessionID: "A", TrialProtocolID: "CT-1"})
	require.Error(t, err)

	var pe *PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "upsert assessment", pe.Op)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAssessments(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{
		"patient_session_id", "trial_protocol_id", "patient_name", "trial_name",
		"eligibility_percentage", "eligibility_status", "assessment_result", "assessed_at",
	}).
		AddRow("B", "CT-1", "Bob", "Trial", 80, "ELIGIBLE", "text b", baseTime.Add(time.Hour)).
		AddRow("A", "CT-1", "Ann", "Trial", 30, "INELIGIBLE", "text a", baseTime)

	mock.ExpectQuery(`SELECT .* FROM assessment_cache ORDER BY assessed_at DESC`).WillReturnRows(rows)

	got, err := s.ListAssessments(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].PatientSessionID)
	assert.Equal(t, model.StatusEligible, got[0].EligibilityStatus)
	assert.Equal(t, 30, got[1].EligibilityPercentage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAssessments_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM assessment_cache`).WillReturnError(errors.New("relation does not exist"))

	_, err := s.ListAssessments(context.Background())
	require.Error(t, err)
	assert.True(t, IsPersistenceError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertEnrollment_PreservesStageOnConflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO "enrolled_patients" .* DO UPDATE SET "patient_name" = EXCLUDED."patient_name", "patient_age" = EXCLUDED."patient_age", "patient_gender" = EXCLUDED."patient_gender", "patient_mrn" = EXCLUDED."patient_mrn", "trial_name" = EXCLUDED."trial_name", "eligibility_score" = EXCLUDED."eligibility_score"$`).
		WithArgs(pgxmock.AnyArg(), "A", "CT-1", "Jane", 44, "Female", "MRN-1", "Trial", 91, "Pre-Screening", baseTime).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertEnrollment(context.Background(), model.EnrolledPatient{
		PatientSessionID: "A",
		TrialProtocolID:  "CT-1",
		PatientName:      "Jane",
		Age:              44,
		Gender:           "Female",
		MRN:              "MRN-1",
		TrialName:        "Trial",
		EligibilityScore: 91,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListEnrollments(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{
		"id", "patient_session_id", "trial_protocol_id", "patient_name", "patient_age",
		"patient_gender", "patient_mrn", "trial_name", "eligibility_score", "enrollment_stage", "enrolled_date",
	}).AddRow("id-1", "A", "CT-1", "Jane", 44, "Female", "MRN-1", "Trial", 91, "Randomisation", baseTime)

	mock.ExpectQuery(`FROM enrolled_patients ORDER BY enrolled_date DESC`).WillReturnRows(rows)

	got, err := s.ListEnrollments(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.StageRandomisation, got[0].Stage)
	assert.Equal(t, 44, got[0].Age)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AdvanceStage(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT enrollment_stage FROM enrolled_patients`).
		WithArgs("A", "CT-1").
		WillReturnRows(pgxmock.NewRows([]string{"enrollment_stage"}).AddRow("Pre-Screening"))
	mock.ExpectExec(`UPDATE enrolled_patients SET enrollment_stage`).
		WithArgs("First Visit Scheduled", "A", "CT-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.AdvanceStage(context.Background(), "A", "CT-1", model.StageFirstVisitScheduled))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AdvanceStage_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT enrollment_stage FROM enrolled_patients`).
		WithArgs("missing", "CT-1").
		WillReturnError(pgx.ErrNoRows)

	err := s.AdvanceStage(context.Background(), "missing", "CT-1", model.StageRandomisation)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AdvanceStage_Regression(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT enrollment_stage FROM enrolled_patients`).
		WithArgs("A", "CT-1").
		WillReturnRows(pgxmock.NewRows([]string{"enrollment_stage"}).AddRow("60-Day Follow Up"))

	err := s.AdvanceStage(context.Background(), "A", "CT-1", model.StagePreScreening)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStageRegression))
	assert.NoError(t, mock.ExpectationsWereMet())
}
