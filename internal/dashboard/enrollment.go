package dashboard

import (
	"github.com/sells-group/trial-eligibility/internal/model"
	"github.com/sells-group/trial-eligibility/internal/trials"
)

// StageStep is one step of a patient's stage progress bar.
type StageStep struct {
	Stage     model.Stage `json:"stage"`
	Order     int         `json:"order"`
	Completed bool        `json:"completed"`
	Current   bool        `json:"current"`
}

// StageProgress marks the steps before current as completed.
func StageProgress(current model.Stage) []StageStep {
	stages := model.Stages()
	steps := make([]StageStep, len(stages))
	for i, s := range stages {
		steps[i] = StageStep{
			Stage:     s,
			Order:     s.Order(),
			Completed: s.Before(current),
			Current:   s == current,
		}
	}
	return steps
}

// EnrollmentRow is one patient in the enrollment view.
type EnrollmentRow struct {
	model.EnrolledPatient
	TrialID  string      `json:"trial_id,omitempty"`
	Progress []StageStep `json:"progress"`
}

// TrialSummary is a trial with its enrolled count.
type TrialSummary struct {
	trials.Trial
	Enrolled int `json:"enrolled"`
}

// EnrollmentView is the enrollment tracking dashboard.
type EnrollmentView struct {
	Trials   []TrialSummary  `json:"trials"`
	Patients []EnrollmentRow `json:"patients"`
}

// BuildEnrollmentView groups enrollments by catalog trial. trialID filters
// patients by trial id, protocol id or alias; empty means all. Enrollment
// order is preserved.
func BuildEnrollmentView(list []model.EnrolledPatient, catalog *trials.Catalog, trialID string) EnrollmentView {
	counts := make(map[string]int)
	var filter *trials.Trial
	if trialID != "" {
		if t, ok := catalog.Get(trialID); ok {
			filter = &t
		}
	}

	rows := make([]EnrollmentRow, 0, len(list))
	for _, p := range list {
		t, known := catalog.Get(p.TrialProtocolID)
		if known {
			counts[t.ID]++
		}

		switch {
		case trialID == "":
		case filter != nil && !filter.Matches(p.TrialProtocolID):
			continue
		case filter == nil && p.TrialProtocolID != trialID:
			continue
		}

		row := EnrollmentRow{EnrolledPatient: p, Progress: StageProgress(p.Stage)}
		if known {
			row.TrialID = t.ID
		}
		rows = append(rows, row)
	}

	all := catalog.All()
	summaries := make([]TrialSummary, len(all))
	for i, t := range all {
		summaries[i] = TrialSummary{Trial: t, Enrolled: counts[t.ID]}
	}

	return EnrollmentView{Trials: summaries, Patients: rows}
}
