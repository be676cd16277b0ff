package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"reviewflow/api/internal/apperr"
	"reviewflow/api/internal/assessment"
	"reviewflow/api/internal/store"
	"reviewflow/api/internal/upload"
)

// SubmitGrade records grader's grade for one step of a Submitted Grade
// phase. A later grade from the same grader replaces the earlier one.
func (e *Engine) SubmitGrade(ctx context.Context, grader string, projectID, phaseOrdinal, step uint64, grade uint32) (store.GradeRecord, error) {
	if grader == "" {
		return store.GradeRecord{}, apperr.Invalid("VALIDATION_ERROR", "grader identity is required")
	}
	if e.grading == nil {
		return store.GradeRecord{}, apperr.Dependency("GRADING_NOT_CONFIGURED", "grading is not configured", nil)
	}
	var record store.GradeRecord
	err := e.withPhaseLock(ctx, projectID, phaseOrdinal, func() error {
		now := e.now()
		project, err := e.loadProject(ctx, projectID)
		if err != nil {
			return err
		}
		if err := requireOpenProject(project); err != nil {
			return err
		}
		phase, err := e.loadPhase(ctx, projectID, phaseOrdinal)
		if err != nil {
			return err
		}
		tpl, err := e.catalog.PhaseTemplate(ctx, phaseOrdinal)
		if err != nil {
			return err
		}
		record, err = e.grading.SubmitGrade(ctx, project, phase, tpl, assessment.GradeInput{
			Grader: grader,
			Step:   step,
			Grade:  grade,
		}, now)
		return err
	})
	return record, err
}

func (e *Engine) GetGrade(ctx context.Context, grader string, projectID, phase, step uint64) (store.GradeRecord, error) {
	record, err := e.repo.GetGrade(ctx, grader, projectID, phase, step)
	if errors.Is(err, store.ErrNotFound) {
		return store.GradeRecord{}, apperr.NotFound("GRADE_NOT_FOUND", fmt.Sprintf("%s has not graded step %d", grader, step))
	}
	return record, err
}

func (e *Engine) ListGraderGrades(ctx context.Context, grader string, projectID, phase uint64) ([]store.GradeRecord, error) {
	if _, err := e.loadPhase(ctx, projectID, phase); err != nil {
		return nil, err
	}
	return e.repo.ListGraderGrades(ctx, grader, projectID, phase)
}

// GetGradeResult returns the averages of a Grade phase once its assessment
// window has ended.
func (e *Engine) GetGradeResult(ctx context.Context, projectID, ordinal uint64) (store.GradeResult, error) {
	phase, err := e.loadPhase(ctx, projectID, ordinal)
	if err != nil {
		return store.GradeResult{}, err
	}
	if phase.Method != store.AssessGrade {
		return store.GradeResult{}, apperr.Precondition("NOT_GRADE_PHASE", fmt.Sprintf("phase %d is not grade assessed", ordinal))
	}
	if phase.Status == store.PhaseOpen || !e.now().After(phase.EndAssessmentAt) {
		return store.GradeResult{}, apperr.Precondition("ASSESSMENT_IN_PROGRESS", "grade results are available after the assessment window ends")
	}
	result, err := e.repo.GetGradeResult(ctx, projectID, ordinal)
	if errors.Is(err, store.ErrNotFound) {
		return store.GradeResult{}, apperr.NotFound("GRADE_RESULT_NOT_FOUND", fmt.Sprintf("phase %d has not been resolved yet", ordinal))
	}
	return result, err
}

func (e *Engine) GetVoteResult(ctx context.Context, projectID, ordinal uint64) (store.VoteResult, error) {
	result, err := e.repo.GetVoteResult(ctx, projectID, ordinal)
	if errors.Is(err, store.ErrNotFound) {
		return store.VoteResult{}, apperr.NotFound("VOTE_RESULT_NOT_FOUND", fmt.Sprintf("phase %d has no vote result", ordinal))
	}
	return result, err
}

func (e *Engine) GetProposalLink(ctx context.Context, projectID, ordinal uint64) (store.ProposalLink, error) {
	link, err := e.repo.GetProposal(ctx, projectID, ordinal)
	if errors.Is(err, store.ErrNotFound) {
		return store.ProposalLink{}, apperr.NotFound("PROPOSAL_NOT_FOUND", fmt.Sprintf("no proposal linked to project %d phase %d", projectID, ordinal))
	}
	return link, err
}

// ValidateProposal answers the governance system's pre-execution check: the
// proposal must target the project's current, Submitted Vote phase.
func (e *Engine) ValidateProposal(ctx context.Context, payload assessment.ProposalPayload) error {
	project, err := e.loadProject(ctx, payload.ProjectID)
	if err != nil {
		return err
	}
	if err := requireOpenProject(project); err != nil {
		return err
	}
	if project.CurrentPhase != payload.Phase {
		return apperr.Precondition("NOT_CURRENT_PHASE", fmt.Sprintf("project %d is in phase %d, not %d", project.ID, project.CurrentPhase, payload.Phase))
	}
	phase, err := e.loadPhase(ctx, payload.ProjectID, payload.Phase)
	if err != nil {
		return err
	}
	if phase.Method != store.AssessVote || phase.Status != store.PhaseSubmitted {
		return apperr.Precondition("PHASE_NOT_VOTING", fmt.Sprintf("phase %d is not awaiting a vote", payload.Phase))
	}
	return nil
}

// ExecuteProposal is called once a vote has passed; it resolves the phase
// immediately instead of waiting for the next reconcile tick.
func (e *Engine) ExecuteProposal(ctx context.Context, payload assessment.ProposalPayload) (Outcome, error) {
	if err := e.ValidateProposal(ctx, payload); err != nil {
		return Outcome{}, err
	}
	return e.ResolvePhase(ctx, payload.ProjectID, payload.Phase)
}

// UploadTicket is a presigned URL for one step document.
type UploadTicket struct {
	URL       string    `json:"url"`
	ObjectKey string    `json:"object_key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueUploadURL presigns an upload for a document the step requires and
// records the object key on the step.
func (e *Engine) IssueUploadURL(ctx context.Context, caller string, projectID, phaseOrdinal, stepOrdinal uint64, docType store.DocumentType) (UploadTicket, error) {
	if e.presigner == nil {
		return UploadTicket{}, apperr.Dependency("UPLOADS_NOT_CONFIGURED", "document uploads are not configured", nil)
	}
	if !docType.Valid() {
		return UploadTicket{}, apperr.Invalid("INVALID_DOCUMENT_TYPE", fmt.Sprintf("unknown document type %q", docType))
	}
	var ticket UploadTicket
	err := e.withPhaseLock(ctx, projectID, phaseOrdinal, func() error {
		now := e.now()
		if _, _, err := e.loadEditablePhase(ctx, caller, projectID, phaseOrdinal, now); err != nil {
			return err
		}
		tpl, err := e.catalog.PhaseTemplate(ctx, phaseOrdinal)
		if err != nil {
			return err
		}
		stepTpl, ok := tpl.Step(stepOrdinal)
		if !ok {
			return apperr.NotFound("STEP_NOT_FOUND", fmt.Sprintf("phase %d has no step %d", phaseOrdinal, stepOrdinal))
		}
		if !stepTpl.RequiresDocument(docType) {
			return apperr.Invalid("INVALID_DOCUMENT_TYPE", fmt.Sprintf("step %d does not request a %s", stepOrdinal, docType))
		}
		step, err := e.loadStep(ctx, projectID, phaseOrdinal, stepOrdinal)
		if err != nil {
			return err
		}

		key := upload.ObjectKey(projectID, phaseOrdinal, stepOrdinal, string(docType))
		url, expires, err := e.presigner.PresignPut(ctx, key)
		if err != nil {
			return apperr.Dependency("PRESIGN_FAILED", "could not presign upload", err)
		}

		step.Documents = mergeDocuments(step.Documents, []store.DocumentRef{{Type: docType, ObjectKey: key}})
		step.UpdatedBy = caller
		stamped := now
		step.UpdatedAt = &stamped
		if err := e.repo.UpdateStep(ctx, step); err != nil {
			return fmt.Errorf("update step %d: %w", stepOrdinal, err)
		}
		ticket = UploadTicket{URL: url, ObjectKey: key, ExpiresAt: expires.UTC()}
		e.log.Info("upload url issued",
			zap.Uint64("project_id", projectID),
			zap.Uint64("phase", phaseOrdinal),
			zap.Uint64("step", stepOrdinal),
			zap.String("document", string(docType)))
		return nil
	})
	return ticket, err
}
