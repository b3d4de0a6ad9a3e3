package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trial-eligibility/internal/eligibility"
	"github.com/sells-group/trial-eligibility/internal/model"
	"github.com/sells-group/trial-eligibility/internal/session"
	"github.com/sells-group/trial-eligibility/internal/store"
	"github.com/sells-group/trial-eligibility/internal/trials"
	"github.com/sells-group/trial-eligibility/pkg/heidi"
)

// Lookup failures for caller-supplied identifiers.
var (
	ErrUnknownTrial   = eris.New("dashboard: unknown trial")
	ErrUnknownPatient = eris.New("dashboard: unknown patient")
)

// Assessor scores one patient against one trial.
type Assessor interface {
	Assess(ctx context.Context, in eligibility.Input) (*eligibility.Result, error)
}

// Snapshot is the result of one successful session load.
type Snapshot struct {
	Records  []session.Record
	Patients []session.Patient
	LoadedAt time.Time
}

func (s *Snapshot) find(patientID string) (int, bool) {
	for i, p := range s.Patients {
		if p.ID == patientID {
			return i, true
		}
	}
	return 0, false
}

// Deps are the collaborators a Service needs.
type Deps struct {
	Heidi       heidi.Client
	Credentials heidi.Credentials
	SessionKeys []string
	Assessor    Assessor
	Store       store.Store
	Catalog     *trials.Catalog
	Cache       *AssessmentCache
}

// Service orchestrates the dashboard actions.
type Service struct {
	deps Deps
	now  func() time.Time

	mu       sync.RWMutex
	snapshot *Snapshot
}

// NewService creates a Service. A nil Cache or Catalog is replaced with an
// empty cache or the default catalog.
func NewService(deps Deps) *Service {
	if deps.Cache == nil {
		deps.Cache = NewAssessmentCache()
	}
	if deps.Catalog == nil {
		deps.Catalog = trials.Default()
	}
	return &Service{deps: deps, now: time.Now}
}

// Catalog returns the trial catalog.
func (s *Service) Catalog() *trials.Catalog { return s.deps.Catalog }

// Cache returns the assessment cache.
func (s *Service) Cache() *AssessmentCache { return s.deps.Cache }

// LoadCache fills the assessment cache from the store.
func (s *Service) LoadCache(ctx context.Context) (int, error) {
	records, err := s.deps.Store.ListAssessments(ctx)
	if err != nil {
		return 0, err
	}
	n := s.deps.Cache.Populate(records, s.deps.Catalog)
	zap.L().Info("dashboard: assessment cache loaded", zap.Int("entries", n), zap.Int("rows", len(records)))
	return n, nil
}

// Load mints a token, fetches every configured session and derives the
// patient list. On failure the previous snapshot is kept.
func (s *Service) Load(ctx context.Context) (*Snapshot, error) {
	token, err := s.deps.Heidi.IssueToken(ctx, s.deps.Credentials)
	if err != nil {
		return nil, err
	}

	records, err := session.FetchBatch(ctx, s.deps.Heidi, token, s.deps.SessionKeys)
	if err != nil {
		return nil, err
	}

	now := s.now()
	patients := make([]session.Patient, len(records))
	for i, rec := range records {
		patients[i] = session.DerivePatient(i, rec, now)
	}

	snap := &Snapshot{Records: records, Patients: patients, LoadedAt: now}
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
	return snap, nil
}

// Snapshot returns the last loaded snapshot, loading one if none exists.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	snap := s.snapshot
	s.mu.RUnlock()
	if snap != nil {
		return snap, nil
	}
	return s.Load(ctx)
}

// Screening returns the screening view for trialID. An empty trialID lists
// every patient unfiltered.
func (s *Service) Screening(ctx context.Context, trialID string, sortByScore bool) ([]PatientRow, error) {
	var trial *trials.Trial
	if trialID != "" {
		t, ok := s.deps.Catalog.Get(trialID)
		if !ok {
			return nil, eris.Wrapf(ErrUnknownTrial, "%q", trialID)
		}
		trial = &t
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return Screen(snap.Patients, trial, s.deps.Cache, sortByScore), nil
}

// Transcript returns the transcript view for a patient.
func (s *Service) Transcript(ctx context.Context, patientID string) (session.AudioTranscript, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return session.AudioTranscript{}, err
	}
	i, ok := snap.find(patientID)
	if !ok {
		return session.AudioTranscript{}, eris.Wrapf(ErrUnknownPatient, "%q", patientID)
	}
	return snap.Records[i].Transcript, nil
}

func (s *Service) resolve(ctx context.Context, patientID, trialID string) (session.Record, session.Patient, trials.Trial, error) {
	trial, ok := s.deps.Catalog.Get(trialID)
	if !ok {
		return session.Record{}, session.Patient{}, trials.Trial{}, eris.Wrapf(ErrUnknownTrial, "%q", trialID)
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return session.Record{}, session.Patient{}, trials.Trial{}, err
	}
	i, ok := snap.find(patientID)
	if !ok {
		return session.Record{}, session.Patient{}, trials.Trial{}, eris.Wrapf(ErrUnknownPatient, "%q", patientID)
	}
	return snap.Records[i], snap.Patients[i], trial, nil
}

// Assess runs an eligibility assessment, persists it and updates the cache.
// The cache is only updated once the row is stored.
func (s *Service) Assess(ctx context.Context, patientID, trialID string) (*model.AssessmentRecord, error) {
	rec, patient, trial, err := s.resolve(ctx, patientID, trialID)
	if err != nil {
		return nil, err
	}

	res, err := s.deps.Assessor.Assess(ctx, BuildInput(rec, patient, trial))
	if err != nil {
		return nil, err
	}

	row := model.AssessmentRecord{
		PatientSessionID:      patient.ID,
		PatientName:           patient.Name,
		TrialProtocolID:       trial.ProtocolID,
		TrialName:             trial.Name,
		EligibilityPercentage: res.Percentage(),
		EligibilityStatus:     res.Status,
		AssessmentResult:      res.Assessment,
		AssessedAt:            s.now().UTC(),
	}
	if err := s.deps.Store.UpsertAssessment(ctx, row); err != nil {
		return nil, err
	}

	s.deps.Cache.Put(CachedAssessment{
		SessionID:  patient.ID,
		TrialID:    trial.ID,
		Result:     res.Assessment,
		Score:      res.Score,
		Status:     res.Status,
		AssessedAt: row.AssessedAt,
	})
	return &row, nil
}

// Assessments lists stored assessments, newest first.
func (s *Service) Assessments(ctx context.Context) ([]model.AssessmentRecord, error) {
	return s.deps.Store.ListAssessments(ctx)
}

// Prescreen records the patient in the enrollment pipeline for the trial,
// carrying the cached score as a percentage (0 when unassessed).
func (s *Service) Prescreen(ctx context.Context, patientID, trialID string) (*model.EnrolledPatient, error) {
	_, patient, trial, err := s.resolve(ctx, patientID, trialID)
	if err != nil {
		return nil, err
	}

	pct := 0
	if score := s.deps.Cache.Score(patient.ID, trial.ID); score != nil {
		pct = model.PercentFromScore(*score)
	}

	ep := model.EnrolledPatient{
		PatientSessionID: patient.ID,
		PatientName:      patient.Name,
		Age:              patient.Age,
		Gender:           patient.Gender,
		MRN:              patient.MRN,
		TrialProtocolID:  trial.ProtocolID,
		TrialName:        trial.Name,
		EligibilityScore: pct,
		Stage:            model.StagePreScreening,
		EnrolledAt:       s.now().UTC(),
	}
	if err := s.deps.Store.UpsertEnrollment(ctx, ep); err != nil {
		return nil, err
	}
	return &ep, nil
}

// AdvanceStage moves an enrolled patient forward in the trial pipeline.
func (s *Service) AdvanceStage(ctx context.Context, patientID, trialID string, stage model.Stage) error {
	trial, ok := s.deps.Catalog.Get(trialID)
	if !ok {
		return eris.Wrapf(ErrUnknownTrial, "%q", trialID)
	}
	return s.deps.Store.AdvanceStage(ctx, patientID, trial.ProtocolID, stage)
}

// Enrollments builds the enrollment view, optionally filtered to one trial.
func (s *Service) Enrollments(ctx context.Context, trialID string) (EnrollmentView, error) {
	list, err := s.deps.Store.ListEnrollments(ctx)
	if err != nil {
		return EnrollmentView{}, err
	}
	return BuildEnrollmentView(list, s.deps.Catalog, trialID), nil
}

// BuildInput assembles the assessment input for a patient and trial.
func BuildInput(rec session.Record, p session.Patient, t trials.Trial) eligibility.Input {
	return eligibility.Input{
		Trial: t.Descriptor(),
		Patient: eligibility.Patient{
			SessionID:     p.ID,
			Name:          p.Name,
			Demographics:  fmt.Sprintf("Age: %d, Gender: %s, MRN: %s", p.Age, p.Gender, p.MRN),
			Transcript:    rec.Transcript.Text(),
			ExtractedInfo: extractedInfo(rec.Flat),
		},
	}
}

// transcriptKeys are already carried in the transcript section of the prompt.
var transcriptKeys = map[string]bool{"audio": true, "transcript": true}

// extractedInfo lists the flat session fields as sorted "key: value" lines.
func extractedInfo(flat session.Flat) string {
	keys := make([]string, 0, len(flat))
	for k, v := range flat {
		if transcriptKeys[k] || v == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %v\n", k, flat[k])
	}
	return strings.TrimRight(b.String(), "\n")
}
