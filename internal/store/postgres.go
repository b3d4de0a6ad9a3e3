package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/trial-eligibility/internal/db"
	"github.com/sells-group/trial-eligibility/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var (
	pgUpsertAssessment = assessmentUpsertSQL(db.Dollar)
	pgUpsertEnrollment = enrollmentUpsertSQL(db.Dollar)
)

const (
	pgListAssessments = `SELECT patient_session_id, trial_protocol_id, patient_name, trial_name, eligibility_percentage, eligibility_status, assessment_result, assessed_at FROM assessment_cache ORDER BY assessed_at DESC, patient_session_id`
	pgListEnrollments = `SELECT id, patient_session_id, trial_protocol_id, patient_name, patient_age, patient_gender, patient_mrn, trial_name, eligibility_score, enrollment_stage, enrolled_date FROM enrolled_patients ORDER BY enrolled_date DESC, patient_session_id`
	pgGetStage        = `SELECT enrollment_stage FROM enrolled_patients WHERE patient_session_id = $1 AND trial_protocol_id = $2`
	pgSetStage        = `UPDATE enrolled_patients SET enrollment_stage = $1 WHERE patient_session_id = $2 AND trial_protocol_id = $3`
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, persistErr("connect", eris.Wrap(err, "postgres: parse config"))
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, persistErr("connect", eris.Wrap(err, "postgres: create pool"))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, persistErr("connect", eris.Wrap(err, "postgres: ping"))
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS assessment_cache (
	id                     TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	patient_session_id     TEXT NOT NULL,
	trial_protocol_id      TEXT NOT NULL,
	patient_name           TEXT NOT NULL DEFAULT '',
	trial_name             TEXT NOT NULL DEFAULT '',
	eligibility_percentage INTEGER NOT NULL DEFAULT 0 CHECK (eligibility_percentage BETWEEN 0 AND 100),
	eligibility_status     TEXT NOT NULL DEFAULT 'UNKNOWN',
	assessment_result      TEXT NOT NULL DEFAULT '',
	assessed_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (patient_session_id, trial_protocol_id)
);

CREATE INDEX IF NOT EXISTS idx_assessment_cache_assessed_at ON assessment_cache(assessed_at DESC);

CREATE TABLE IF NOT EXISTS enrolled_patients (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	patient_session_id TEXT NOT NULL,
	trial_protocol_id  TEXT NOT NULL,
	patient_name       TEXT NOT NULL DEFAULT '',
	patient_age        INTEGER NOT NULL DEFAULT 0,
	patient_gender     TEXT NOT NULL DEFAULT '',
	patient_mrn        TEXT NOT NULL DEFAULT '',
	trial_name         TEXT NOT NULL DEFAULT '',
	eligibility_score  INTEGER NOT NULL DEFAULT 0,
	enrollment_stage   TEXT NOT NULL DEFAULT 'Pre-Screening',
	enrolled_date      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (patient_session_id, trial_protocol_id)
);

CREATE INDEX IF NOT EXISTS idx_enrolled_patients_enrolled_date ON enrolled_patients(enrolled_date DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return persistErr("ping", eris.Wrap(s.pool.Ping(ctx), "postgres: ping"))
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return persistErr("migrate", eris.Wrap(err, "postgres: migrate"))
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func (s *PostgresStore) UpsertAssessment(ctx context.Context, rec model.AssessmentRecord) error {
	args, err := assessmentArgs(&rec, s.clock())
	if err != nil {
		return persistErr("upsert assessment", eris.Wrap(err, "postgres: upsert assessment"))
	}
	if _, err := s.pool.Exec(ctx, pgUpsertAssessment, args...); err != nil {
		return persistErr("upsert assessment", eris.Wrapf(err, "postgres: upsert assessment %s/%s", rec.PatientSessionID, rec.TrialProtocolID))
	}
	return nil
}

func (s *PostgresStore) ListAssessments(ctx context.Context) ([]model.AssessmentRecord, error) {
	rows, err := s.pool.Query(ctx, pgListAssessments)
	if err != nil {
		return nil, persistErr("list assessments", eris.Wrap(err, "postgres: list assessments"))
	}
	defer rows.Close()

	var out []model.AssessmentRecord
	for rows.Next() {
		var r model.AssessmentRecord
		var status string
		if err := rows.Scan(&r.PatientSessionID, &r.TrialProtocolID, &r.PatientName, &r.TrialName,
			&r.EligibilityPercentage, &status, &r.AssessmentResult, &r.AssessedAt); err != nil {
			return nil, persistErr("list assessments", eris.Wrap(err, "postgres: scan assessment"))
		}
		r.EligibilityStatus = model.EligibilityStatus(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list assessments", eris.Wrap(err, "postgres: list assessments iterate"))
	}
	return out, nil
}

func (s *PostgresStore) UpsertEnrollment(ctx context.Context, p model.EnrolledPatient) error {
	args, err := enrollmentArgs(&p, s.clock())
	if err != nil {
		return persistErr("upsert enrollment", eris.Wrap(err, "postgres: upsert enrollment"))
	}
	if _, err := s.pool.Exec(ctx, pgUpsertEnrollment, args...); err != nil {
		return persistErr("upsert enrollment", eris.Wrapf(err, "postgres: upsert enrollment %s/%s", p.PatientSessionID, p.TrialProtocolID))
	}
	return nil
}

func (s *PostgresStore) ListEnrollments(ctx context.Context) ([]model.EnrolledPatient, error) {
	rows, err := s.pool.Query(ctx, pgListEnrollments)
	if err != nil {
		return nil, persistErr("list enrollments", eris.Wrap(err, "postgres: list enrollments"))
	}
	defer rows.Close()

	var out []model.EnrolledPatient
	for rows.Next() {
		var p model.EnrolledPatient
		var stage string
		if err := rows.Scan(&p.ID, &p.PatientSessionID, &p.TrialProtocolID, &p.PatientName, &p.Age,
			&p.Gender, &p.MRN, &p.TrialName, &p.EligibilityScore, &stage, &p.EnrolledAt); err != nil {
			return nil, persistErr("list enrollments", eris.Wrap(err, "postgres: scan enrollment"))
		}
		p.Stage = model.Stage(stage)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list enrollments", eris.Wrap(err, "postgres: list enrollments iterate"))
	}
	return out, nil
}

func (s *PostgresStore) AdvanceStage(ctx context.Context, sessionID, protocolID string, stage model.Stage) error {
	var current string
	err := s.pool.QueryRow(ctx, pgGetStage, sessionID, protocolID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return persistErr("advance stage", eris.Wrapf(ErrNotFound, "enrollment %s/%s", sessionID, protocolID))
	}
	if err != nil {
		return persistErr("advance stage", eris.Wrap(err, "postgres: get enrollment stage"))
	}
	if err := checkAdvance(current, stage); err != nil {
		return persistErr("advance stage", err)
	}
	if _, err := s.pool.Exec(ctx, pgSetStage, string(stage), sessionID, protocolID); err != nil {
		return persistErr("advance stage", eris.Wrap(err, "postgres: set enrollment stage"))
	}
	return nil
}
