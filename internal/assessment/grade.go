package assessment

import (
	"context"
	"fmt"
	"time"

	"reviewflow/api/internal/apperr"
	"reviewflow/api/internal/rbac"
	"reviewflow/api/internal/store"
)

// Bounds supplies the accepted grade range.
type Bounds interface {
	GradeBounds() (uint32, uint32)
}

// Grading averages reviewer grades.
type Grading struct {
	repo   *store.Repository
	bounds Bounds
}

func NewGrading(repo *store.Repository, bounds Bounds) *Grading {
	return &Grading{repo: repo, bounds: bounds}
}

// GradeInput is a reviewer's grade for one step.
type GradeInput struct {
	Grader string
	Step   uint64
	Grade  uint32
}

// SubmitGrade records or replaces in.Grader's grade for a step.
func (g *Grading) SubmitGrade(ctx context.Context, project store.Project, phase store.PhaseInstance, tpl store.PhaseTemplate, in GradeInput, now time.Time) (store.GradeRecord, error) {
	if !rbac.Can(rbac.RoleOf(project.Owner, in.Grader), rbac.ActionGrade) {
		return store.GradeRecord{}, apperr.Precondition("OWNER_CANNOT_GRADE", "project owners cannot grade their own project")
	}
	if phase.Method != store.AssessGrade {
		return store.GradeRecord{}, apperr.Precondition("NOT_GRADE_PHASE", fmt.Sprintf("phase %d is not grade assessed", phase.Ordinal))
	}
	if phase.Status != store.PhaseSubmitted {
		return store.GradeRecord{}, apperr.Precondition("PHASE_NOT_SUBMITTED", fmt.Sprintf("phase %d is %s", phase.Ordinal, phase.Status))
	}
	if now.After(phase.EndAssessmentAt) {
		return store.GradeRecord{}, apperr.Precondition("ASSESSMENT_CLOSED", "assessment window has ended")
	}
	if _, ok := tpl.Step(in.Step); !ok {
		return store.GradeRecord{}, apperr.NotFound("STEP_NOT_FOUND", fmt.Sprintf("phase %d has no step %d", phase.Ordinal, in.Step))
	}
	lo, hi := g.bounds.GradeBounds()
	if in.Grade < lo || in.Grade > hi {
		return store.GradeRecord{}, apperr.Invalid("GRADE_OUT_OF_RANGE", fmt.Sprintf("grade must be between %d and %d", lo, hi))
	}

	record := store.GradeRecord{
		Grader:    in.Grader,
		ProjectID: project.ID,
		Phase:     phase.Ordinal,
		Step:      in.Step,
		Grade:     in.Grade,
		GradedAt:  now,
	}
	if err := g.repo.PutGrade(ctx, record); err != nil {
		return store.GradeRecord{}, err
	}
	return record, nil
}

// Resolve computes and caches the grade result. Any computed result
// approves the phase: there is no score threshold.
func (g *Grading) Resolve(ctx context.Context, project store.Project, phase store.PhaseInstance, tpl store.PhaseTemplate, now time.Time) (Decision, error) {
	grades, err := g.repo.ListGrades(ctx, project.ID, phase.Ordinal)
	if err != nil {
		return Decision{}, err
	}
	steps := make([]uint64, 0, len(tpl.Steps))
	for _, s := range tpl.Steps {
		steps = append(steps, s.Ordinal)
	}
	perStep, average := Average(steps, grades)

	result := store.GradeResult{
		ProjectID:  project.ID,
		Phase:      phase.Ordinal,
		Steps:      perStep,
		Average:    average,
		ComputedAt: now,
	}
	if err := g.repo.PutGradeResult(ctx, result); err != nil {
		return Decision{}, err
	}
	return Decision{Ready: true, Approved: true}, nil
}

// Average returns the mean grade of each step and the mean of those means.
// Steps without grades average 0; a phase without steps averages 0.
func Average(steps []uint64, grades []store.GradeRecord) ([]store.StepAverage, float64) {
	sums := make(map[uint64]uint64, len(steps))
	counts := make(map[uint64]int, len(steps))
	for _, g := range grades {
		sums[g.Step] += uint64(g.Grade)
		counts[g.Step]++
	}

	perStep := make([]store.StepAverage, 0, len(steps))
	total := 0.0
	for _, step := range steps {
		avg := 0.0
		if counts[step] > 0 {
			avg = float64(sums[step]) / float64(counts[step])
		}
		perStep = append(perStep, store.StepAverage{Step: step, Average: avg, Graders: counts[step]})
		total += avg
	}
	if len(steps) == 0 {
		return perStep, 0
	}
	return perStep, total / float64(len(steps))
}
