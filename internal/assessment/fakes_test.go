package assessment

import (
	"context"
	"time"

	"reviewflow/api/internal/governance"
	"reviewflow/api/internal/store"
)

type fakeGateway struct {
	submitFn func(context.Context, governance.Proposal) (uint64, error)
	tallyFn  func(context.Context, uint64) (*governance.Tally, error)
	submits  []governance.Proposal
}

func (f *fakeGateway) SubmitProposal(ctx context.Context, p governance.Proposal) (uint64, error) {
	f.submits = append(f.submits, p)
	if f.submitFn != nil {
		return f.submitFn(ctx, p)
	}
	return 1, nil
}

func (f *fakeGateway) GetTally(ctx context.Context, id uint64) (*governance.Tally, error) {
	if f.tallyFn != nil {
		return f.tallyFn(ctx, id)
	}
	return nil, nil
}

type fixedBounds struct{ lo, hi uint32 }

func (b fixedBounds) GradeBounds() (uint32, uint32) { return b.lo, b.hi }

var testNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func gradePhaseFixture() (store.Project, store.PhaseInstance, store.PhaseTemplate) {
	project := store.Project{ID: 5, Owner: "owner", Title: "Orbit", Status: store.ProjectOpen, CurrentPhase: 1}
	phase := store.PhaseInstance{
		ProjectID:         5,
		Ordinal:           1,
		Status:            store.PhaseSubmitted,
		Method:            store.AssessGrade,
		StartAssessmentAt: testNow.Add(-time.Hour),
		EndAssessmentAt:   testNow.Add(time.Hour),
	}
	tpl := store.PhaseTemplate{
		Ordinal: 1,
		Method:  store.AssessGrade,
		Steps:   []store.StepTemplate{{Ordinal: 0}, {Ordinal: 1}},
	}
	return project, phase, tpl
}
