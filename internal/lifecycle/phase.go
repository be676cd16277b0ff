package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"reviewflow/api/internal/apperr"
	"reviewflow/api/internal/assessment"
	"reviewflow/api/internal/events"
	"reviewflow/api/internal/rbac"
	"reviewflow/api/internal/store"
)

// Outcome describes what a resolve pass did to a phase.
type Outcome struct {
	ProjectID     uint64              `json:"project_id"`
	Phase         uint64              `json:"phase"`
	PhaseStatus   store.PhaseStatus   `json:"phase_status"`
	ProjectStatus store.ProjectStatus `json:"project_status"`
	Changed       bool                `json:"changed"`
	Pending       bool                `json:"pending"`
	NextPhase     *uint64             `json:"next_phase,omitempty"`
}

// CreatePhase instantiates phase ordinal of an Open project from its template.
func (e *Engine) CreatePhase(ctx context.Context, projectID, ordinal uint64) (store.PhaseInstance, error) {
	var created store.PhaseInstance
	err := e.withPhaseLock(ctx, projectID, ordinal, func() error {
		now := e.now()
		project, err := e.loadProject(ctx, projectID)
		if err != nil {
			return err
		}
		if err := requireOpenProject(project); err != nil {
			return err
		}
		created, err = e.createPhase(ctx, project, ordinal, now)
		return err
	})
	return created, err
}

// createPhase must run under the (project, ordinal) lock. Step submissions
// are seeded first and removed again if the phase cannot be inserted.
func (e *Engine) createPhase(ctx context.Context, project store.Project, ordinal uint64, now time.Time) (store.PhaseInstance, error) {
	tpl, err := e.catalog.PhaseTemplate(ctx, ordinal)
	if err != nil {
		return store.PhaseInstance{}, err
	}
	_, err = e.repo.GetPhase(ctx, project.ID, ordinal)
	if err == nil {
		return store.PhaseInstance{}, phaseExists(project.ID, ordinal)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.PhaseInstance{}, err
	}

	endOpen := now.Add(e.catalog.OpenDuration())
	phase := store.PhaseInstance{
		ProjectID:         project.ID,
		Ordinal:           ordinal,
		Status:            store.PhaseOpen,
		Method:            tpl.Method,
		StartOpenAt:       now,
		EndOpenAt:         endOpen,
		StartAssessmentAt: endOpen,
		EndAssessmentAt:   endOpen.Add(time.Duration(len(tpl.Steps)) * e.catalog.AssessmentDuration()),
	}

	seeded := make([]uint64, 0, len(tpl.Steps))
	rollback := func() {
		for _, step := range seeded {
			if err := e.repo.RemoveStep(ctx, project.ID, ordinal, step); err != nil {
				e.log.Error("roll back seeded step",
					zap.Uint64("project_id", project.ID),
					zap.Uint64("phase", ordinal),
					zap.Uint64("step", step),
					zap.Error(err))
			}
		}
	}

	for _, st := range tpl.Steps {
		submission := defaultSubmission(project.ID, ordinal, st)
		err := e.repo.InsertStep(ctx, submission)
		if errors.Is(err, store.ErrExists) {
			// Left behind by an attempt that never inserted its phase.
			err = e.repo.UpdateStep(ctx, submission)
		}
		if err != nil {
			rollback()
			return store.PhaseInstance{}, fmt.Errorf("seed step %d of phase %d: %w", st.Ordinal, ordinal, err)
		}
		seeded = append(seeded, st.Ordinal)
	}

	if err := e.repo.InsertPhase(ctx, phase); err != nil {
		rollback()
		if errors.Is(err, store.ErrExists) {
			return store.PhaseInstance{}, phaseExists(project.ID, ordinal)
		}
		return store.PhaseInstance{}, fmt.Errorf("insert phase %d: %w", ordinal, err)
	}

	if ordinal > project.CurrentPhase {
		if err := e.advanceCurrentPhase(ctx, project.ID, ordinal, now); err != nil {
			return store.PhaseInstance{}, err
		}
	}

	e.log.Info("phase created",
		zap.Uint64("project_id", project.ID),
		zap.Uint64("phase", ordinal),
		zap.String("method", string(tpl.Method)),
		zap.Time("end_open_at", phase.EndOpenAt))
	e.emit(ctx, events.PhaseCreated, project.ID, ordinal, string(store.PhaseOpen), now)
	return phase, nil
}

func phaseExists(projectID, ordinal uint64) error {
	return apperr.Conflict("PHASE_EXISTS", fmt.Sprintf("project %d already has phase %d", projectID, ordinal),
		map[string]any{"projectId": projectID, "phase": ordinal})
}

func defaultSubmission(projectID, phase uint64, st store.StepTemplate) store.StepSubmission {
	s := store.StepSubmission{
		ProjectID:  projectID,
		Phase:      phase,
		Step:       st.Ordinal,
		Questions:  make([]store.QuestionResponse, 0, len(st.Questions)),
		Checkboxes: make([]store.CheckboxValue, 0, len(st.Checkboxes)),
		Numerics:   make([]store.NumericValue, 0, len(st.Numerics)),
		Documents:  make([]store.DocumentRef, 0, len(st.Documents)),
	}
	for _, q := range st.Questions {
		s.Questions = append(s.Questions, store.QuestionResponse{ID: q.ID})
	}
	for _, c := range st.Checkboxes {
		s.Checkboxes = append(s.Checkboxes, store.CheckboxValue{ID: c.ID, Value: c.Default})
	}
	for _, n := range st.Numerics {
		s.Numerics = append(s.Numerics, store.NumericValue{ID: n.ID, Value: n.Default})
	}
	for _, d := range st.Documents {
		s.Documents = append(s.Documents, store.DocumentRef{Type: d})
	}
	return s
}

// advanceCurrentPhase moves the project pointer forward, never back.
func (e *Engine) advanceCurrentPhase(ctx context.Context, projectID, ordinal uint64, now time.Time) error {
	_, err := e.mutateProject(ctx, projectID, func(p *store.Project) error {
		if ordinal > p.CurrentPhase {
			p.CurrentPhase = ordinal
			p.UpdatedAt = now
		}
		return nil
	})
	return err
}

// ClosePhase submits an Open phase for assessment. Vote phases open their
// governance vote first; if that fails nothing is written.
func (e *Engine) ClosePhase(ctx context.Context, caller string, projectID, ordinal uint64) (store.PhaseInstance, error) {
	var closed store.PhaseInstance
	err := e.withPhaseLock(ctx, projectID, ordinal, func() error {
		now := e.now()
		project, err := e.loadProject(ctx, projectID)
		if err != nil {
			return err
		}
		if err := authorize(project, caller, rbac.ActionSubmit); err != nil {
			return err
		}
		if err := requireOpenProject(project); err != nil {
			return err
		}
		phase, err := e.loadPhase(ctx, projectID, ordinal)
		if err != nil {
			return err
		}
		if phase.Status != store.PhaseOpen {
			return apperr.Precondition("PHASE_NOT_OPEN", fmt.Sprintf("phase %d is %s", ordinal, phase.Status))
		}
		if now.After(phase.EndOpenAt) {
			return apperr.Precondition("OPEN_DEADLINE_PASSED", fmt.Sprintf("phase %d closed for submissions at %s", ordinal, phase.EndOpenAt.Format(time.RFC3339)))
		}

		updated := phase
		updated.Status = store.PhaseSubmitted
		updated.EndOpenAt = now
		submitted := now
		updated.SubmittedAt = &submitted
		updated.StartAssessmentAt = now
		updated.EndAssessmentAt = now.Add(e.catalog.AssessmentDuration())

		if updated.Method == store.AssessVote {
			if e.voting == nil {
				return apperr.Dependency("GOVERNANCE_NOT_CONFIGURED", "vote phases need a governance gateway", nil)
			}
			deadline, err := e.voting.Open(ctx, project, updated, now)
			if err != nil {
				return err
			}
			if deadline != nil && deadline.After(updated.EndAssessmentAt) {
				updated.EndAssessmentAt = *deadline
			}
		}

		if err := e.repo.UpdatePhase(ctx, updated); err != nil {
			return fmt.Errorf("update phase %d: %w", ordinal, err)
		}
		closed = updated
		e.log.Info("phase submitted",
			zap.Uint64("project_id", projectID),
			zap.Uint64("phase", ordinal),
			zap.Time("end_assessment_at", updated.EndAssessmentAt))
		e.emit(ctx, events.PhaseSubmitted, projectID, ordinal, string(store.PhaseSubmitted), now)
		return nil
	})
	return closed, err
}

// ReconcileProject resolves the project's current phase.
func (e *Engine) ReconcileProject(ctx context.Context, projectID uint64) (Outcome, error) {
	project, err := e.loadProject(ctx, projectID)
	if err != nil {
		return Outcome{}, err
	}
	return e.ResolvePhase(ctx, projectID, project.CurrentPhase)
}

// ResolvePhase applies whatever deadline or assessment transition is due
// for the phase. It is a no-op for terminal phases and closed projects.
func (e *Engine) ResolvePhase(ctx context.Context, projectID, ordinal uint64) (Outcome, error) {
	var out Outcome
	err := e.withPhaseLock(ctx, projectID, ordinal, func() error {
		now := e.now()
		project, err := e.loadProject(ctx, projectID)
		if err != nil {
			return err
		}
		phase, err := e.loadPhase(ctx, projectID, ordinal)
		if err != nil {
			return err
		}
		out = Outcome{
			ProjectID:     projectID,
			Phase:         ordinal,
			PhaseStatus:   phase.Status,
			ProjectStatus: project.Status,
		}
		if project.Status != store.ProjectOpen {
			return nil
		}

		switch phase.Status {
		case store.PhaseOpen:
			if !now.After(phase.EndOpenAt) {
				out.Pending = true
				return nil
			}
			return e.markNotSubmitted(ctx, project, phase, now, &out)

		case store.PhaseSubmitted:
			strategy := e.strategyFor(phase.Method)
			if strategy == nil {
				out.Pending = true
				return nil
			}
			if phase.Method == store.AssessGrade && !now.After(phase.EndAssessmentAt) {
				out.Pending = true
				return nil
			}
			tpl, err := e.catalog.PhaseTemplate(ctx, ordinal)
			if err != nil {
				return err
			}
			decision, err := strategy.Resolve(ctx, project, phase, tpl, now)
			if err != nil {
				return err
			}
			if !decision.Ready {
				out.Pending = true
				return nil
			}
			return e.applyDecision(ctx, project, phase, decision.Approved, now, &out)
		}
		return nil
	})
	return out, err
}

func (e *Engine) strategyFor(method store.AssessmentMethod) assessment.Strategy {
	switch method {
	case store.AssessGrade:
		if e.grading != nil {
			return e.grading
		}
	case store.AssessVote:
		if e.voting != nil {
			return e.voting
		}
	}
	return nil
}

func (e *Engine) markNotSubmitted(ctx context.Context, project store.Project, phase store.PhaseInstance, now time.Time, out *Outcome) error {
	phase.Status = store.PhaseNotSubmitted
	if err := e.repo.UpdatePhase(ctx, phase); err != nil {
		return fmt.Errorf("update phase %d: %w", phase.Ordinal, err)
	}
	updated, err := e.setProjectStatus(ctx, project.ID, store.ProjectNotSubmitted, now)
	if err != nil {
		return err
	}
	out.Changed = true
	out.PhaseStatus = phase.Status
	out.ProjectStatus = updated.Status

	e.log.Info("phase missed its open deadline",
		zap.Uint64("project_id", project.ID),
		zap.Uint64("phase", phase.Ordinal),
		zap.Time("end_open_at", phase.EndOpenAt))
	e.emit(ctx, events.PhaseNotSubmitted, project.ID, phase.Ordinal, string(phase.Status), now)
	e.emit(ctx, events.ProjectNotSubmitted, project.ID, phase.Ordinal, string(updated.Status), now)
	return nil
}

func (e *Engine) applyDecision(ctx context.Context, project store.Project, phase store.PhaseInstance, approved bool, now time.Time, out *Outcome) error {
	if !approved {
		phase.Status = store.PhaseNotApproved
		if err := e.repo.UpdatePhase(ctx, phase); err != nil {
			return fmt.Errorf("update phase %d: %w", phase.Ordinal, err)
		}
		updated, err := e.setProjectStatus(ctx, project.ID, store.ProjectNotFunded, now)
		if err != nil {
			return err
		}
		out.Changed = true
		out.PhaseStatus = phase.Status
		out.ProjectStatus = updated.Status
		e.log.Info("phase not approved", zap.Uint64("project_id", project.ID), zap.Uint64("phase", phase.Ordinal))
		e.emit(ctx, events.PhaseNotApproved, project.ID, phase.Ordinal, string(phase.Status), now)
		e.emit(ctx, events.ProjectNotFunded, project.ID, phase.Ordinal, string(updated.Status), now)
		return nil
	}

	next := phase.Ordinal + 1
	hasNext := next < uint64(e.catalog.PhaseTemplateCount(ctx))
	if hasNext {
		// The next phase is created before this one is marked Approved so a
		// failure leaves this phase Submitted and the next pass retries.
		err := e.withPhaseLock(ctx, project.ID, next, func() error {
			_, err := e.createPhase(ctx, project, next, now)
			if apperr.Is(err, apperr.KindConflict) {
				e.log.Info("next phase already exists", zap.Uint64("project_id", project.ID), zap.Uint64("phase", next))
				return e.advanceCurrentPhase(ctx, project.ID, next, now)
			}
			return err
		})
		if err != nil {
			return err
		}
		out.NextPhase = &next
	}

	phase.Status = store.PhaseApproved
	if err := e.repo.UpdatePhase(ctx, phase); err != nil {
		return fmt.Errorf("update phase %d: %w", phase.Ordinal, err)
	}
	out.Changed = true
	out.PhaseStatus = phase.Status
	e.log.Info("phase approved", zap.Uint64("project_id", project.ID), zap.Uint64("phase", phase.Ordinal))
	e.emit(ctx, events.PhaseApproved, project.ID, phase.Ordinal, string(phase.Status), now)

	if hasNext {
		return nil
	}
	if phase.Method != store.AssessVote {
		// Only a vote can fund a project; it stays Open.
		e.log.Warn("final phase approved without a vote, project left open",
			zap.Uint64("project_id", project.ID),
			zap.Uint64("phase", phase.Ordinal),
			zap.String("method", string(phase.Method)))
		return nil
	}
	updated, err := e.setProjectStatus(ctx, project.ID, store.ProjectFunded, now)
	if err != nil {
		return err
	}
	out.ProjectStatus = updated.Status
	e.log.Info("project funded", zap.Uint64("project_id", project.ID))
	e.emit(ctx, events.ProjectFunded, project.ID, phase.Ordinal, string(updated.Status), now)
	return nil
}

func (e *Engine) setProjectStatus(ctx context.Context, projectID uint64, status store.ProjectStatus, now time.Time) (store.Project, error) {
	return e.mutateProject(ctx, projectID, func(p *store.Project) error {
		p.Status = status
		p.UpdatedAt = now
		return nil
	})
}

// Queries

func (e *Engine) GetPhase(ctx context.Context, projectID, ordinal uint64) (store.PhaseInstance, error) {
	return e.loadPhase(ctx, projectID, ordinal)
}

func (e *Engine) ListPhases(ctx context.Context, projectID uint64) ([]store.PhaseInstance, error) {
	if _, err := e.loadProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.repo.ListPhases(ctx, projectID)
}

func (e *Engine) GetStep(ctx context.Context, projectID, phase, step uint64) (store.StepSubmission, error) {
	return e.loadStep(ctx, projectID, phase, step)
}

func (e *Engine) ListSteps(ctx context.Context, projectID, phase uint64) ([]store.StepSubmission, error) {
	if _, err := e.loadPhase(ctx, projectID, phase); err != nil {
		return nil, err
	}
	return e.repo.ListSteps(ctx, projectID, phase)
}
