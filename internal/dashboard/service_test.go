package dashboard

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trial-eligibility/internal/eligibility"
	"github.com/sells-group/trial-eligibility/internal/model"
	"github.com/sells-group/trial-eligibility/internal/session"
	"github.com/sells-group/trial-eligibility/internal/store"
	"github.com/sells-group/trial-eligibility/internal/trials"
	"github.com/sells-group/trial-eligibility/pkg/heidi"
)

type mockHeidi struct {
	mock.Mock
}

func (m *mockHeidi) IssueToken(ctx context.Context, creds heidi.Credentials) (string, error) {
	args := m.Called(ctx, creds)
	return args.String(0), args.Error(1)
}

func (m *mockHeidi) GetSession(ctx context.Context, token, key string) (map[string]any, bool) {
	args := m.Called(ctx, token, key)
	tree, _ := args.Get(0).(map[string]any)
	return tree, args.Bool(1)
}

type mockAssessor struct {
	mock.Mock
}

func (m *mockAssessor) Assess(ctx context.Context, in eligibility.Input) (*eligibility.Result, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*eligibility.Result), args.Error(1)
}

var testCreds = heidi.Credentials{APIKey: "k", Email: "e@test", ThirdPartyID: "tp"}

func newTestSQLiteStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sessionA() map[string]any {
	return map[string]any{
		"session_id": "A",
		"created_at": "2025-02-20T10:00:00Z",
		"audio": []any{
			map[string]any{"transcript": "I get dizzy when I roll over in bed."},
		},
		"patient": map[string]any{"name": "Jane Doe", "gender": "female", "age": float64(52), "mrn": "MRN-778"},
	}
}

type fixture struct {
	heidi    *mockHeidi
	assessor *mockAssessor
	store    store.Store
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		heidi:    new(mockHeidi),
		assessor: new(mockAssessor),
		store:    newTestSQLiteStore(t),
	}
	f.svc = NewService(Deps{
		Heidi:       f.heidi,
		Credentials: testCreds,
		SessionKeys: []string{"A", "B"},
		Assessor:    f.assessor,
		Store:       f.store,
	})
	f.svc.now = func() time.Time { return baseTime }
	return f
}

func (f *fixture) expectSessions() {
	f.heidi.On("IssueToken", mock.Anything, testCreds).Return("tok", nil)
	f.heidi.On("GetSession", mock.Anything, "tok", "A").Return(sessionA(), true)
	f.heidi.On("GetSession", mock.Anything, "tok", "B").Return(nil, false)
}

func TestService_Load(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.expectSessions()

	snap, err := f.svc.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)
	require.Len(t, snap.Patients, 1)

	assert.Equal(t, "A", snap.Records[0].Transcript.SessionID)
	p := snap.Patients[0]
	assert.Equal(t, "A", p.ID)
	assert.Equal(t, "Jane Doe", p.Name)
	assert.Equal(t, 52, p.Age)
	assert.Equal(t, "Female", p.Gender)
	assert.Equal(t, "MRN-778", p.MRN)
	f.heidi.AssertExpectations(t)
}

func TestService_LoadAuthFailureKeepsSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.heidi.On("IssueToken", mock.Anything, testCreds).Return("tok", nil).Once()
	f.heidi.On("GetSession", mock.Anything, "tok", "A").Return(sessionA(), true)
	f.heidi.On("GetSession", mock.Anything, "tok", "B").Return(nil, false)
	first, err := f.svc.Load(context.Background())
	require.NoError(t, err)

	authErr := &heidi.AuthError{StatusCode: 401, Body: "bad key"}
	f.heidi.On("IssueToken", mock.Anything, testCreds).Return("", authErr).Once()

	_, err = f.svc.Load(context.Background())
	var ae *heidi.AuthError
	require.ErrorAs(t, err, &ae)

	snap, err := f.svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, snap)
}

func TestService_LoadNoData(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.heidi.On("IssueToken", mock.Anything, testCreds).Return("tok", nil)
	f.heidi.On("GetSession", mock.Anything, "tok", mock.Anything).Return(nil, false)

	_, err := f.svc.Load(context.Background())
	assert.ErrorIs(t, err, session.ErrNoData)
}

func TestService_AssessPersistsAndCaches(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.expectSessions()
	ctx := context.Background()

	text := "ELIGIBILITY_SCORE: 91%\n**ELIGIBLE**\n\nPositional vertigo documented."
	f.assessor.On("Assess", mock.Anything, mock.MatchedBy(func(in eligibility.Input) bool {
		return in.Trial.ProtocolID == "CT-2024-RA-042" &&
			in.Patient.SessionID == "A" &&
			in.Patient.Transcript == "I get dizzy when I roll over in bed." &&
			in.Patient.Demographics == "Age: 52, Gender: Female, MRN: MRN-778"
	})).Return(&eligibility.Result{
		Assessment: text,
		Score:      eligibility.ParseScore(text),
		Status:     eligibility.ParseStatus(text),
	}, nil)

	row, err := f.svc.Assess(ctx, "A", "trial-4")
	require.NoError(t, err)
	assert.Equal(t, 91, row.EligibilityPercentage)
	assert.Equal(t, model.StatusEligible, row.EligibilityStatus)

	stored, err := f.store.ListAssessments(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 91, stored[0].EligibilityPercentage)
	assert.Equal(t, "CT-2024-RA-042", stored[0].TrialProtocolID)
	assert.Equal(t, "Jane Doe", stored[0].PatientName)
	assert.Equal(t, text, stored[0].AssessmentResult)

	score := f.svc.Cache().Score("A", "trial-4")
	require.NotNil(t, score)
	assert.InDelta(t, 0.91, *score, 1e-9)

	rows, err := f.svc.Screening(ctx, "trial-4", true)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, BandHigh, rows[0].ScoreBand)
}

func TestService_AssessFailureLeavesCache(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.expectSessions()
	ctx := context.Background()

	f.assessor.On("Assess", mock.Anything, mock.Anything).
		Return(nil, &eligibility.AssessmentError{SessionID: "A", Trial: "CT-2024-RA-042", Err: errors.New("overloaded")})

	_, err := f.svc.Assess(ctx, "A", "trial-4")
	var ae *eligibility.AssessmentError
	require.ErrorAs(t, err, &ae)

	assert.Equal(t, 0, f.svc.Cache().Len())
	stored, err := f.store.ListAssessments(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestService_AssessUnknownIDs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.expectSessions()
	ctx := context.Background()

	_, err := f.svc.Assess(ctx, "A", "no-such-trial")
	assert.ErrorIs(t, err, ErrUnknownTrial)

	_, err = f.svc.Assess(ctx, "Z", "trial-1")
	assert.ErrorIs(t, err, ErrUnknownPatient)
	f.assessor.AssertNotCalled(t, "Assess", mock.Anything, mock.Anything)
}

func TestService_PrescreenUsesCachedScore(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.expectSessions()
	ctx := context.Background()

	f.svc.Cache().Put(CachedAssessment{SessionID: "A", TrialID: "trial-4", Score: 0.764})

	ep, err := f.svc.Prescreen(ctx, "A", "CT-2024-RA-042")
	require.NoError(t, err)
	assert.Equal(t, 76, ep.EligibilityScore)
	assert.Equal(t, model.StagePreScreening, ep.Stage)

	view, err := f.svc.Enrollments(ctx, "trial-4")
	require.NoError(t, err)
	require.Len(t, view.Patients, 1)
	got := view.Patients[0]
	assert.Equal(t, "A", got.PatientSessionID)
	assert.Equal(t, "Jane Doe", got.PatientName)
	assert.Equal(t, 52, got.Age)
	assert.Equal(t, "MRN-778", got.MRN)
	assert.Equal(t, 76, got.EligibilityScore)
	assert.Equal(t, "trial-4", got.TrialID)
	assert.True(t, got.Progress[0].Current)
}

func TestService_PrescreenUnassessedIsZero(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.expectSessions()

	ep, err := f.svc.Prescreen(context.Background(), "A", "trial-1")
	require.NoError(t, err)
	assert.Equal(t, 0, ep.EligibilityScore)
}

func TestService_AdvanceStage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.expectSessions()
	ctx := context.Background()

	_, err := f.svc.Prescreen(ctx, "A", "trial-1")
	require.NoError(t, err)

	require.NoError(t, f.svc.AdvanceStage(ctx, "A", "trial-1", model.StageRandomisation))
	err = f.svc.AdvanceStage(ctx, "A", "trial-1", model.StagePreScreening)
	assert.ErrorIs(t, err, store.ErrStageRegression)
	assert.True(t, store.IsPersistenceError(err))

	err = f.svc.AdvanceStage(ctx, "A", "nope", model.StageRandomisation)
	assert.ErrorIs(t, err, ErrUnknownTrial)

	view, err := f.svc.Enrollments(ctx, "trial-1")
	require.NoError(t, err)
	require.Len(t, view.Patients, 1)
	assert.Equal(t, model.StageRandomisation, view.Patients[0].Stage)
}

func TestService_LoadCache(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertAssessment(ctx, model.AssessmentRecord{
		PatientSessionID: "A", TrialProtocolID: "CT-2024-DM-001", EligibilityPercentage: 55,
	}))
	require.NoError(t, f.store.UpsertAssessment(ctx, model.AssessmentRecord{
		PatientSessionID: "A", TrialProtocolID: "RETIRED-9", EligibilityPercentage: 10,
	}))

	n, err := f.svc.LoadCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.InDelta(t, 0.55, *f.svc.Cache().Score("A", "trial-1"), 1e-9)
}

func TestService_Transcript(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.expectSessions()

	at, err := f.svc.Transcript(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "I get dizzy when I roll over in bed.", at.Text())

	_, err = f.svc.Transcript(context.Background(), "B")
	assert.ErrorIs(t, err, ErrUnknownPatient)
}

func TestBuildInput_ExtractedInfo(t *testing.T) {
	t.Parallel()

	rec := session.Record{Key: "A", Tree: sessionA(), Flat: session.Normalize(sessionA()), Transcript: session.NewAudioTranscript("A", sessionA())}
	p := session.DerivePatient(0, rec, baseTime)
	tr, ok := trials.Default().Get("trial-1")
	require.True(t, ok)

	in := BuildInput(rec, p, tr)
	assert.Equal(t, "CT-2024-DM-001", in.Trial.ProtocolID)
	assert.Equal(t,
		"- created_at: 2025-02-20T10:00:00Z\n- patient_age: 52\n- patient_gender: female\n- patient_mrn: MRN-778\n- patient_name: Jane Doe\n- session_id: A",
		in.Patient.ExtractedInfo)
}
