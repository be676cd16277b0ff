// Package lifecycle drives projects through their review phases.
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
	"reviewflow/api/internal/lock"
	"reviewflow/api/internal/metrics"
	"reviewflow/api/internal/rbac"
	"reviewflow/api/internal/store"
)

// Catalog supplies templates, tunables and category checks.
type Catalog interface {
	OpenDuration() time.Duration
	AssessmentDuration() time.Duration
	PhaseTemplate(ctx context.Context, ordinal uint64) (store.PhaseTemplate, error)
	PhaseTemplateCount(ctx context.Context) int
	CheckCategories(ctx context.Context, ids []uint64) error
}

// Grader records grades and resolves grade assessed phases.
type Grader interface {
	assessment.Strategy
	SubmitGrade(ctx context.Context, project store.Project, phase store.PhaseInstance, tpl store.PhaseTemplate, in assessment.GradeInput, now time.Time) (store.GradeRecord, error)
}

// VoteOpener opens and resolves governance votes.
type VoteOpener interface {
	assessment.Strategy
	Open(ctx context.Context, project store.Project, phase store.PhaseInstance, now time.Time) (*time.Time, error)
}

// Presigner issues upload URLs for step documents.
type Presigner interface {
	PresignPut(ctx context.Context, objectKey string) (string, time.Time, error)
}

// Indexer receives project profiles after every change.
type Indexer interface {
	IndexProject(p store.Project)
}

type Deps struct {
	Repo      *store.Repository
	Catalog   Catalog
	Grading   Grader
	Voting    VoteOpener
	Locks     lock.Locker
	Events    events.Publisher
	Presigner Presigner
	Indexer   Indexer
	Log       *zap.Logger
	Now       func() time.Time
}

// Engine owns every project and phase state transition. Mutations of one
// (project, phase) pair are serialized through Locks.
type Engine struct {
	repo      *store.Repository
	catalog   Catalog
	grading   Grader
	voting    VoteOpener
	locks     lock.Locker
	events    events.Publisher
	presigner Presigner
	indexer   Indexer
	log       *zap.Logger
	now       func() time.Time
}

func New(d Deps) *Engine {
	e := &Engine{
		repo:      d.Repo,
		catalog:   d.Catalog,
		grading:   d.Grading,
		voting:    d.Voting,
		locks:     d.Locks,
		events:    d.Events,
		presigner: d.Presigner,
		indexer:   d.Indexer,
		log:       d.Log,
		now:       d.Now,
	}
	if e.locks == nil {
		e.locks = lock.NewLocal()
	}
	if e.events == nil {
		e.events = events.Noop{}
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e
}

func phaseLockKey(projectID, phase uint64) string {
	return "phase:" + store.EncodeKey(projectID, phase)
}

func projectLockKey(projectID uint64) string {
	return "project:" + store.EncodeKey(projectID)
}

// withPhaseLock runs fn while holding the (project, phase) lock. Phase locks
// of one project are always taken in ascending ordinal order and before
// the project lock.
func (e *Engine) withPhaseLock(ctx context.Context, projectID, phase uint64, fn func() error) error {
	unlock, err := e.locks.Lock(ctx, phaseLockKey(projectID, phase))
	if err != nil {
		return fmt.Errorf("lock project %d phase %d: %w", projectID, phase, err)
	}
	defer unlock()
	return fn()
}

// mutateProject applies fn to the stored project under the project lock.
func (e *Engine) mutateProject(ctx context.Context, id uint64, fn func(*store.Project) error) (store.Project, error) {
	unlock, err := e.locks.Lock(ctx, projectLockKey(id))
	if err != nil {
		return store.Project{}, fmt.Errorf("lock project %d: %w", id, err)
	}
	defer unlock()

	project, err := e.loadProject(ctx, id)
	if err != nil {
		return store.Project{}, err
	}
	if err := fn(&project); err != nil {
		return store.Project{}, err
	}
	if err := e.repo.UpdateProject(ctx, project); err != nil {
		return store.Project{}, fmt.Errorf("update project %d: %w", id, err)
	}
	if e.indexer != nil {
		e.indexer.IndexProject(project)
	}
	return project, nil
}

func (e *Engine) loadProject(ctx context.Context, id uint64) (store.Project, error) {
	project, err := e.repo.GetProject(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Project{}, apperr.NotFound("PROJECT_NOT_FOUND", fmt.Sprintf("project %d not found", id))
	}
	return project, err
}

func (e *Engine) loadPhase(ctx context.Context, projectID, ordinal uint64) (store.PhaseInstance, error) {
	phase, err := e.repo.GetPhase(ctx, projectID, ordinal)
	if errors.Is(err, store.ErrNotFound) {
		return store.PhaseInstance{}, apperr.NotFound("PHASE_NOT_FOUND", fmt.Sprintf("project %d has no phase %d", projectID, ordinal))
	}
	return phase, err
}

func (e *Engine) loadStep(ctx context.Context, projectID, phase, step uint64) (store.StepSubmission, error) {
	submission, err := e.repo.GetStep(ctx, projectID, phase, step)
	if errors.Is(err, store.ErrNotFound) {
		return store.StepSubmission{}, apperr.NotFound("STEP_NOT_FOUND", fmt.Sprintf("phase %d has no step %d", phase, step))
	}
	return submission, err
}

func authorize(project store.Project, caller string, action rbac.Action) error {
	if !rbac.Can(rbac.RoleOf(project.Owner, caller), action) {
		return apperr.Precondition("NOT_OWNER", "only the project owner may do this")
	}
	return nil
}

func requireOpenProject(project store.Project) error {
	if project.Status != store.ProjectOpen {
		return apperr.Precondition("PROJECT_CLOSED", fmt.Sprintf("project %d is %s", project.ID, project.Status))
	}
	return nil
}

// emit publishes a committed transition. Failures are logged only.
func (e *Engine) emit(ctx context.Context, eventType string, projectID, phase uint64, status string, at time.Time) {
	metrics.RecordTransition(eventType)
	err := e.events.Publish(ctx, events.Event{
		Type:      eventType,
		ProjectID: projectID,
		Phase:     phase,
		Status:    status,
		At:        at,
	})
	if err != nil {
		e.log.Warn("publish event failed",
			zap.String("event", eventType),
			zap.Uint64("project_id", projectID),
			zap.Uint64("phase", phase),
			zap.Error(err))
	}
}
