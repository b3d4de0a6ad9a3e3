package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/trial-eligibility/internal/db"
	"github.com/sells-group/trial-eligibility/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var (
	sqliteUpsertAssessment = assessmentUpsertSQL(db.Question)
	sqliteUpsertEnrollment = enrollmentUpsertSQL(db.Question)
)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, persistErr("connect", eris.Wrap(err, "sqlite: open"))
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, persistErr("connect", eris.Wrapf(err, "sqlite: exec %s", pragma))
		}
	}
	return &SQLiteStore{db: conn, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS assessment_cache (
	patient_session_id     TEXT NOT NULL,
	trial_protocol_id      TEXT NOT NULL,
	patient_name           TEXT NOT NULL DEFAULT '',
	trial_name             TEXT NOT NULL DEFAULT '',
	eligibility_percentage INTEGER NOT NULL DEFAULT 0,
	eligibility_status     TEXT NOT NULL DEFAULT 'UNKNOWN',
	assessment_result      TEXT NOT NULL DEFAULT '',
	assessed_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (patient_session_id, trial_protocol_id)
);

CREATE INDEX IF NOT EXISTS idx_assessment_cache_assessed_at ON assessment_cache(assessed_at);

CREATE TABLE IF NOT EXISTS enrolled_patients (
	id                 TEXT PRIMARY KEY,
	patient_session_id TEXT NOT NULL,
	trial_protocol_id  TEXT NOT NULL,
	patient_name       TEXT NOT NULL DEFAULT '',
	patient_age        INTEGER NOT NULL DEFAULT 0,
	patient_gender     TEXT NOT NULL DEFAULT '',
	patient_mrn        TEXT NOT NULL DEFAULT '',
	trial_name         TEXT NOT NULL DEFAULT '',
	eligibility_score  INTEGER NOT NULL DEFAULT 0,
	enrollment_stage   TEXT NOT NULL DEFAULT 'Pre-Screening',
	enrolled_date      DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (patient_session_id, trial_protocol_id)
);

CREATE INDEX IF NOT EXISTS idx_enrolled_patients_enrolled_date ON enrolled_patients(enrolled_date);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return persistErr("migrate", eris.Wrap(err, "sqlite: migrate"))
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func (s *SQLiteStore) UpsertAssessment(ctx context.Context, rec model.AssessmentRecord) error {
	args, err := assessmentArgs(&rec, s.clock())
	if err != nil {
		return persistErr("upsert assessment", eris.Wrap(err, "sqlite: upsert assessment"))
	}
	if _, err := s.db.ExecContext(ctx, sqliteUpsertAssessment, args...); err != nil {
		return persistErr("upsert assessment", eris.Wrapf(err, "sqlite: upsert assessment %s/%s", rec.PatientSessionID, rec.TrialProtocolID))
	}
	return nil
}

func (s *SQLiteStore) ListAssessments(ctx context.Context) ([]model.AssessmentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT patient_session_id, trial_protocol_id, patient_name, trial_name, eligibility_percentage, eligibility_status, assessment_result, assessed_at
		 FROM assessment_cache ORDER BY assessed_at DESC, patient_session_id`)
	if err != nil {
		return nil, persistErr("list assessments", eris.Wrap(err, "sqlite: list assessments"))
	}
	defer rows.Close()

	var out []model.AssessmentRecord
	for rows.Next() {
		var r model.AssessmentRecord
		var status string
		if err := rows.Scan(&r.PatientSessionID, &r.TrialProtocolID, &r.PatientName, &r.TrialName,
			&r.EligibilityPercentage, &status, &r.AssessmentResult, &r.AssessedAt); err != nil {
			return nil, persistErr("list assessments", eris.Wrap(err, "sqlite: scan assessment"))
		}
		r.EligibilityStatus = model.EligibilityStatus(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list assessments", eris.Wrap(err, "sqlite: list assessments iterate"))
	}
	return out, nil
}

func (s *SQLiteStore) UpsertEnrollment(ctx context.Context, p model.EnrolledPatient) error {
	args, err := enrollmentArgs(&p, s.clock())
	if err != nil {
		return persistErr("upsert enrollment", eris.Wrap(err, "sqlite: upsert enrollment"))
	}
	if _, err := s.db.ExecContext(ctx, sqliteUpsertEnrollment, args...); err != nil {
		return persistErr("upsert enrollment", eris.Wrapf(err, "sqlite: upsert enrollment %s/%s", p.PatientSessionID, p.TrialProtocolID))
	}
	return nil
}

func (s *SQLiteStore) ListEnrollments(ctx context.Context) ([]model.EnrolledPatient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, patient_session_id, trial_protocol_id, patient_name, patient_age, patient_gender, patient_mrn, trial_name, eligibility_score, enrollment_stage, enrolled_date
		 FROM enrolled_patients ORDER BY enrolled_date DESC, patient_session_id`)
	if err != nil {
		return nil, persistErr("list enrollments", eris.Wrap(err, "sqlite: list enrollments"))
	}
	defer rows.Close()

	var out []model.EnrolledPatient
	for rows.Next() {
		var p model.EnrolledPatient
		var stage string
		if err := rows.Scan(&p.ID, &p.PatientSessionID, &p.TrialProtocolID, &p.PatientName, &p.Age,
			&p.Gender, &p.MRN, &p.TrialName, &p.EligibilityScore, &stage, &p.EnrolledAt); err != nil {
			return nil, persistErr("list enrollments", eris.Wrap(err, "sqlite: scan enrollment"))
		}
		p.Stage = model.Stage(stage)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list enrollments", eris.Wrap(err, "sqlite: list enrollments iterate"))
	}
	return out, nil
}

func (s *SQLiteStore) AdvanceStage(ctx context.Context, sessionID, protocolID string, stage model.Stage) error {
	var current string
	err := s.db.QueryRowContext(ctx,
		`SELECT enrollment_stage FROM enrolled_patients WHERE patient_session_id = ? AND trial_protocol_id = ?`,
		sessionID, protocolID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return persistErr("advance stage", eris.Wrapf(ErrNotFound, "enrollment %s/%s", sessionID, protocolID))
	}
	if err != nil {
		return persistErr("advance stage", eris.Wrap(err, "sqlite: get enrollment stage"))
	}
	if err := checkAdvance(current, stage); err != nil {
		return persistErr("advance stage", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE enrolled_patients SET enrollment_stage = ? WHERE patient_session_id = ? AND trial_protocol_id = ?`,
		string(stage), sessionID, protocolID,
	); err != nil {
		return persistErr("advance stage", eris.Wrap(err, "sqlite: set enrollment stage"))
	}
	return nil
}
