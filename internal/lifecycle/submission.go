package lifecycle

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"reviewflow/api/internal/apperr"
	"reviewflow/api/internal/rbac"
	"reviewflow/api/internal/store"
)

// SubmissionInput carries a caller's answers for one step. A nil slice
// leaves that kind of field untouched; a non-nil slice must answer every
// field of its kind.
type SubmissionInput struct {
	Questions  []store.QuestionResponse `json:"questions"`
	Checkboxes []store.CheckboxValue    `json:"checkboxes"`
	Numerics   []store.NumericValue     `json:"numerics"`
	Documents  []store.DocumentRef      `json:"documents"`
}

// RecordSubmission validates and stores a step submission while its phase
// is Open and before the open deadline.
func (e *Engine) RecordSubmission(ctx context.Context, caller string, projectID, phaseOrdinal, stepOrdinal uint64, in SubmissionInput) (store.StepSubmission, error) {
	var saved store.StepSubmission
	err := e.withPhaseLock(ctx, projectID, phaseOrdinal, func() error {
		now := e.now()
		project, phase, err := e.loadEditablePhase(ctx, caller, projectID, phaseOrdinal, now)
		if err != nil {
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
		if err := ValidateSubmission(stepTpl, in); err != nil {
			return err
		}
		current, err := e.loadStep(ctx, project.ID, phase.Ordinal, stepOrdinal)
		if err != nil {
			return err
		}

		if in.Questions != nil {
			current.Questions = in.Questions
		}
		if in.Checkboxes != nil {
			current.Checkboxes = in.Checkboxes
		}
		if in.Numerics != nil {
			current.Numerics = in.Numerics
		}
		current.Documents = mergeDocuments(current.Documents, in.Documents)
		current.UpdatedBy = caller
		stamped := now
		current.UpdatedAt = &stamped

		if err := e.repo.UpdateStep(ctx, current); err != nil {
			return fmt.Errorf("update step %d: %w", stepOrdinal, err)
		}
		saved = current
		e.log.Debug("step submission recorded",
			zap.Uint64("project_id", projectID),
			zap.Uint64("phase", phaseOrdinal),
			zap.Uint64("step", stepOrdinal),
			zap.String("caller", caller))
		return nil
	})
	return saved, err
}

// loadEditablePhase checks that caller may still change the phase's steps.
func (e *Engine) loadEditablePhase(ctx context.Context, caller string, projectID, ordinal uint64, now time.Time) (store.Project, store.PhaseInstance, error) {
	project, err := e.loadProject(ctx, projectID)
	if err != nil {
		return store.Project{}, store.PhaseInstance{}, err
	}
	if err := authorize(project, caller, rbac.ActionEdit); err != nil {
		return store.Project{}, store.PhaseInstance{}, err
	}
	if err := requireOpenProject(project); err != nil {
		return store.Project{}, store.PhaseInstance{}, err
	}
	phase, err := e.loadPhase(ctx, projectID, ordinal)
	if err != nil {
		return store.Project{}, store.PhaseInstance{}, err
	}
	if phase.Status != store.PhaseOpen {
		return store.Project{}, store.PhaseInstance{}, apperr.Precondition("PHASE_NOT_OPEN", fmt.Sprintf("phase %d is %s", ordinal, phase.Status))
	}
	if !now.Before(phase.EndOpenAt) {
		return store.Project{}, store.PhaseInstance{}, apperr.Precondition("OPEN_DEADLINE_PASSED", fmt.Sprintf("phase %d closed for submissions at %s", ordinal, phase.EndOpenAt.Format(time.RFC3339)))
	}
	return project, phase, nil
}

func mergeDocuments(current, incoming []store.DocumentRef) []store.DocumentRef {
	if len(incoming) == 0 {
		return current
	}
	merged := make([]store.DocumentRef, len(current))
	copy(merged, current)
	for _, doc := range incoming {
		replaced := false
		for i := range merged {
			if merged[i].Type == doc.Type {
				if doc.ObjectKey == "" {
					doc.ObjectKey = merged[i].ObjectKey
				}
				if doc.FileName == "" {
					doc.FileName = merged[i].FileName
				}
				merged[i] = doc
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, doc)
		}
	}
	return merged
}

// ValidateSubmission checks in against the step template and reports every
// violation it finds as a single InvalidInput error.
func ValidateSubmission(tpl store.StepTemplate, in SubmissionInput) error {
	var errs error

	if in.Questions != nil {
		limits := make(map[string]int, len(tpl.Questions))
		for _, q := range tpl.Questions {
			limits[q.ID] = q.MaxBytes
		}
		errs = multierr.Append(errs, checkCount("question", len(tpl.Questions), len(in.Questions)))
		seen := make(map[string]bool, len(in.Questions))
		for _, q := range in.Questions {
			errs = multierr.Append(errs, checkID("question", q.ID, seen, hasKey(limits, q.ID)))
			if strings.TrimSpace(q.Response) == "" {
				errs = multierr.Append(errs, fmt.Errorf("question %s response is empty", q.ID))
				continue
			}
			if limit, ok := limits[q.ID]; ok && len(q.Response) > limit {
				errs = multierr.Append(errs, fmt.Errorf("question %s response is %d bytes, limit is %d", q.ID, len(q.Response), limit))
			}
		}
	}

	if in.Checkboxes != nil {
		known := make(map[string]bool, len(tpl.Checkboxes))
		for _, c := range tpl.Checkboxes {
			known[c.ID] = true
		}
		errs = multierr.Append(errs, checkCount("checkbox", len(tpl.Checkboxes), len(in.Checkboxes)))
		seen := make(map[string]bool, len(in.Checkboxes))
		for _, c := range in.Checkboxes {
			errs = multierr.Append(errs, checkID("checkbox", c.ID, seen, known[c.ID]))
		}
	}

	if in.Numerics != nil {
		known := make(map[string]bool, len(tpl.Numerics))
		for _, n := range tpl.Numerics {
			known[n.ID] = true
		}
		errs = multierr.Append(errs, checkCount("numeric", len(tpl.Numerics), len(in.Numerics)))
		seen := make(map[string]bool, len(in.Numerics))
		for _, n := range in.Numerics {
			errs = multierr.Append(errs, checkID("numeric", n.ID, seen, known[n.ID]))
			if math.IsNaN(n.Value) || math.IsInf(n.Value, 0) {
				errs = multierr.Append(errs, fmt.Errorf("numeric %s is not a finite number", n.ID))
			}
		}
	}

	seenDocs := make(map[store.DocumentType]bool, len(in.Documents))
	for _, d := range in.Documents {
		switch {
		case !tpl.RequiresDocument(d.Type):
			errs = multierr.Append(errs, fmt.Errorf("document type %q is not requested by this step", d.Type))
		case seenDocs[d.Type]:
			errs = multierr.Append(errs, fmt.Errorf("duplicate document type %q", d.Type))
		}
		seenDocs[d.Type] = true
	}

	return apperr.Violations(errs)
}

func checkCount(kind string, expected, received int) error {
	if expected == received {
		return nil
	}
	return fmt.Errorf("%s count mismatch: expected %d, received %d", kind, expected, received)
}

func checkID(kind, id string, seen map[string]bool, known bool) error {
	var err error
	if !known {
		err = fmt.Errorf("unknown %s id %q", kind, id)
	} else if seen[id] {
		err = fmt.Errorf("duplicate %s id %q", kind, id)
	}
	seen[id] = true
	return err
}

func hasKey(m map[string]int, k string) bool {
	_, ok := m[k]
	return ok
}
