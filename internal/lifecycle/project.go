package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"reviewflow/api/internal/apperr"
	"reviewflow/api/internal/events"
	"reviewflow/api/internal/rbac"
	"reviewflow/api/internal/store"
)

const (
	maxTitleBytes       = 256
	maxMotoBytes        = 256
	maxDescriptionBytes = 5000
	maxLinks            = 20
	maxLinkBytes        = 2048
	maxTeamMembers      = 50
)

type ProjectInput struct {
	Title       string             `json:"title"`
	Moto        string             `json:"moto"`
	Description string             `json:"description"`
	TeamMembers []store.TeamMember `json:"team_members"`
	Links       []string           `json:"links"`
	Categories  []uint64           `json:"categories"`
}

// ProjectView pairs a project with the phase it is currently in.
type ProjectView struct {
	Project      store.Project        `json:"project"`
	CurrentPhase *store.PhaseInstance `json:"current_phase,omitempty"`
}

func (e *Engine) validateProfile(ctx context.Context, in ProjectInput) error {
	var errs error
	if strings.TrimSpace(in.Title) == "" {
		errs = multierr.Append(errs, errors.New("title is required"))
	}
	if len(in.Title) > maxTitleBytes {
		errs = multierr.Append(errs, fmt.Errorf("title exceeds %d bytes", maxTitleBytes))
	}
	if len(in.Moto) > maxMotoBytes {
		errs = multierr.Append(errs, fmt.Errorf("moto exceeds %d bytes", maxMotoBytes))
	}
	if len(in.Description) > maxDescriptionBytes {
		errs = multierr.Append(errs, fmt.Errorf("description exceeds %d bytes", maxDescriptionBytes))
	}
	if len(in.Links) > maxLinks {
		errs = multierr.Append(errs, fmt.Errorf("at most %d links are allowed", maxLinks))
	}
	for i, link := range in.Links {
		if len(link) > maxLinkBytes {
			errs = multierr.Append(errs, fmt.Errorf("link %d exceeds %d bytes", i, maxLinkBytes))
		}
	}
	if len(in.TeamMembers) > maxTeamMembers {
		errs = multierr.Append(errs, fmt.Errorf("at most %d team members are allowed", maxTeamMembers))
	}
	for i, member := range in.TeamMembers {
		if strings.TrimSpace(member.Name) == "" {
			errs = multierr.Append(errs, fmt.Errorf("team member %d needs a name", i))
		}
	}

	if err := e.catalog.CheckCategories(ctx, in.Categories); err != nil {
		var domainErr *apperr.Error
		if !errors.As(err, &domainErr) || domainErr.Kind != apperr.KindInvalidInput {
			return err
		}
		errs = multierr.Append(errs, fmt.Errorf("unknown or inactive categories: %v", domainErr.Details))
	}
	return apperr.Violations(errs)
}

// CreateProject stores a new Open project owned by caller and opens its
// first phase. The project is removed again if the phase cannot be created.
func (e *Engine) CreateProject(ctx context.Context, caller string, in ProjectInput) (store.Project, error) {
	if caller == "" {
		return store.Project{}, apperr.Invalid("VALIDATION_ERROR", "caller identity is required")
	}
	if err := e.validateProfile(ctx, in); err != nil {
		return store.Project{}, err
	}
	now := e.now()

	id, err := e.repo.NextProjectID(ctx)
	if err != nil {
		return store.Project{}, fmt.Errorf("allocate project id: %w", err)
	}
	project := store.Project{
		ID:           id,
		Owner:        caller,
		Title:        strings.TrimSpace(in.Title),
		Moto:         in.Moto,
		Description:  in.Description,
		TeamMembers:  in.TeamMembers,
		Links:        in.Links,
		Categories:   in.Categories,
		CurrentPhase: 0,
		Status:       store.ProjectOpen,
		CreatedAt:    now,
		UpdatedBy:    caller,
		UpdatedAt:    now,
	}
	if err := e.repo.InsertProject(ctx, project); err != nil {
		return store.Project{}, fmt.Errorf("insert project %d: %w", id, err)
	}

	err = e.withPhaseLock(ctx, id, 0, func() error {
		_, err := e.createPhase(ctx, project, 0, now)
		return err
	})
	if err != nil {
		if removeErr := e.repo.RemoveProject(ctx, id); removeErr != nil {
			e.log.Error("remove project after failed phase creation", zap.Uint64("project_id", id), zap.Error(removeErr))
		}
		return store.Project{}, err
	}

	e.log.Info("project created", zap.Uint64("project_id", id), zap.String("owner", caller))
	e.emit(ctx, events.ProjectCreated, id, 0, string(store.ProjectOpen), now)
	if e.indexer != nil {
		e.indexer.IndexProject(project)
	}
	return project, nil
}

// UpdateProject replaces the profile fields of an Open project.
func (e *Engine) UpdateProject(ctx context.Context, caller string, id uint64, in ProjectInput) (store.Project, error) {
	if err := e.validateProfile(ctx, in); err != nil {
		return store.Project{}, err
	}
	now := e.now()
	return e.mutateProject(ctx, id, func(p *store.Project) error {
		if err := authorize(*p, caller, rbac.ActionEdit); err != nil {
			return err
		}
		if err := requireOpenProject(*p); err != nil {
			return err
		}
		p.Title = strings.TrimSpace(in.Title)
		p.Moto = in.Moto
		p.Description = in.Description
		p.TeamMembers = in.TeamMembers
		p.Links = in.Links
		p.Categories = in.Categories
		p.UpdatedBy = caller
		p.UpdatedAt = now
		return nil
	})
}

func (e *Engine) GetProject(ctx context.Context, id uint64) (store.Project, error) {
	return e.loadProject(ctx, id)
}

func (e *Engine) ListProjects(ctx context.Context, offset, limit int) ([]store.Project, error) {
	if offset < 0 {
		offset = 0
	}
	return e.repo.ListProjects(ctx, offset, limit)
}

// ListOwnerProjects returns every project owned by owner in id order.
func (e *Engine) ListOwnerProjects(ctx context.Context, owner string) ([]store.Project, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, apperr.Invalid("VALIDATION_ERROR", "owner is required")
	}
	return e.repo.ListOwnerProjects(ctx, owner)
}

func (e *Engine) GetProjectWithCurrentPhase(ctx context.Context, id uint64) (ProjectView, error) {
	project, err := e.loadProject(ctx, id)
	if err != nil {
		return ProjectView{}, err
	}
	view := ProjectView{Project: project}
	phase, err := e.repo.GetPhase(ctx, id, project.CurrentPhase)
	switch {
	case err == nil:
		view.CurrentPhase = &phase
	case !errors.Is(err, store.ErrNotFound):
		return ProjectView{}, err
	}
	return view, nil
}

// OpenProjectIDs lists the projects the reconciler has to visit.
func (e *Engine) OpenProjectIDs(ctx context.Context) ([]uint64, error) {
	return e.repo.ListProjectIDsByStatus(ctx, store.ProjectOpen)
}
