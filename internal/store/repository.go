package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	bucketProjects       = "projects"
	bucketOwnerProjects  = "owner_projects"
	bucketPhaseTemplates = "phase_templates"
	bucketPhases         = "phases"
	bucketSteps          = "steps"
	bucketGrades         = "grades"
	bucketGradeResults   = "grade_results"
	bucketProposals      = "proposals"
	bucketVoteResults    = "vote_results"
	bucketCategories     = "categories"

	counterProjects   = "projects"
	counterCategories = "categories"
)

// Repository exposes typed access to the lifecycle records over a KV.
type Repository struct {
	kv KV
}

func NewRepository(kv KV) *Repository {
	return &Repository{kv: kv}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.kv.Ping(ctx)
}

func getJSON[T any](ctx context.Context, kv KV, bucket, key string) (T, error) {
	var out T
	raw, err := kv.Get(ctx, bucket, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s/%s: %w", bucket, key, err)
	}
	return out, nil
}

func encode(bucket string, value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", bucket, err)
	}
	return raw, nil
}

func insertJSON(ctx context.Context, kv KV, bucket, key string, value any) error {
	raw, err := encode(bucket, value)
	if err != nil {
		return err
	}
	return kv.Insert(ctx, bucket, key, raw)
}

func putJSON(ctx context.Context, kv KV, bucket, key string, value any) error {
	raw, err := encode(bucket, value)
	if err != nil {
		return err
	}
	return kv.Put(ctx, bucket, key, raw)
}

func updateJSON(ctx context.Context, kv KV, bucket, key string, value any) error {
	raw, err := encode(bucket, value)
	if err != nil {
		return err
	}
	return kv.Update(ctx, bucket, key, raw)
}

func scanJSON[T any](ctx context.Context, kv KV, bucket, prefix string) ([]T, error) {
	items := make([]T, 0)
	err := kv.Scan(ctx, bucket, prefix, func(key string, raw []byte) error {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return fmt.Errorf("decode %s/%s: %w", bucket, key, err)
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Projects

func (r *Repository) NextProjectID(ctx context.Context) (uint64, error) {
	return r.kv.Next(ctx, counterProjects)
}

// InsertProject writes the owner index entry before the project, so a
// dangling index entry is possible but an unindexed project is not.
func (r *Repository) InsertProject(ctx context.Context, p Project) error {
	indexKey := OwnerIndexKey(p.Owner, p.ID)
	if err := r.kv.Put(ctx, bucketOwnerProjects, indexKey, []byte{}); err != nil {
		return fmt.Errorf("index project %d: %w", p.ID, err)
	}
	if err := insertJSON(ctx, r.kv, bucketProjects, EncodeKey(p.ID), p); err != nil {
		if !errors.Is(err, ErrExists) {
			_ = r.kv.Remove(ctx, bucketOwnerProjects, indexKey)
		}
		return err
	}
	return nil
}

func (r *Repository) UpdateProject(ctx context.Context, p Project) error {
	return updateJSON(ctx, r.kv, bucketProjects, EncodeKey(p.ID), p)
}

func (r *Repository) RemoveProject(ctx context.Context, id uint64) error {
	p, err := r.GetProject(ctx, id)
	if err != nil {
		return err
	}
	if err := r.kv.Remove(ctx, bucketProjects, EncodeKey(id)); err != nil {
		return err
	}
	if err := r.kv.Remove(ctx, bucketOwnerProjects, OwnerIndexKey(p.Owner, id)); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("unindex project %d: %w", id, err)
	}
	return nil
}

func (r *Repository) GetProject(ctx context.Context, id uint64) (Project, error) {
	return getJSON[Project](ctx, r.kv, bucketProjects, EncodeKey(id))
}

// ListProjects returns projects in id order. A non-positive limit means all.
func (r *Repository) ListProjects(ctx context.Context, offset, limit int) ([]Project, error) {
	items := make([]Project, 0)
	index := 0
	errStop := errors.New("stop")
	err := r.kv.Scan(ctx, bucketProjects, "", func(key string, raw []byte) error {
		defer func() { index++ }()
		if index < offset {
			return nil
		}
		if limit > 0 && len(items) >= limit {
			return errStop
		}
		var p Project
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode %s/%s: %w", bucketProjects, key, err)
		}
		items = append(items, p)
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return items, nil
}

// ListOwnerProjects returns owner's projects in id order. Index entries whose
// project is gone are skipped.
func (r *Repository) ListOwnerProjects(ctx context.Context, owner string) ([]Project, error) {
	ids := make([]uint64, 0)
	err := r.kv.Scan(ctx, bucketOwnerProjects, OwnerIndexPrefix(owner), func(key string, _ []byte) error {
		_, parts, err := DecodeOwnerIndexKey(key, 1)
		if err != nil {
			return fmt.Errorf("decode %s/%s: %w", bucketOwnerProjects, key, err)
		}
		ids = append(ids, parts[0])
		return nil
	})
	if err != nil {
		return nil, err
	}
	items := make([]Project, 0, len(ids))
	for _, id := range ids {
		p, err := r.GetProject(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, nil
}

// ListProjectIDsByStatus returns the ids of every project with status.
func (r *Repository) ListProjectIDsByStatus(ctx context.Context, status ProjectStatus) ([]uint64, error) {
	projects, err := r.ListProjects(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0)
	for _, p := range projects {
		if p.Status == status {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

// Phase templates

// SeedPhaseTemplate stores t unless a template with the same ordinal exists.
// It reports whether t was written.
func (r *Repository) SeedPhaseTemplate(ctx context.Context, t PhaseTemplate) (bool, error) {
	err := insertJSON(ctx, r.kv, bucketPhaseTemplates, EncodeKey(t.Ordinal), t)
	if errors.Is(err, ErrExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) GetPhaseTemplate(ctx context.Context, ordinal uint64) (PhaseTemplate, error) {
	return getJSON[PhaseTemplate](ctx, r.kv, bucketPhaseTemplates, EncodeKey(ordinal))
}

func (r *Repository) ListPhaseTemplates(ctx context.Context) ([]PhaseTemplate, error) {
	return scanJSON[PhaseTemplate](ctx, r.kv, bucketPhaseTemplates, "")
}

// Phase instances

func (r *Repository) InsertPhase(ctx context.Context, p PhaseInstance) error {
	return insertJSON(ctx, r.kv, bucketPhases, EncodeKey(p.ProjectID, p.Ordinal), p)
}

func (r *Repository) UpdatePhase(ctx context.Context, p PhaseInstance) error {
	return updateJSON(ctx, r.kv, bucketPhases, EncodeKey(p.ProjectID, p.Ordinal), p)
}

func (r *Repository) GetPhase(ctx context.Context, projectID, ordinal uint64) (PhaseInstance, error) {
	return getJSON[PhaseInstance](ctx, r.kv, bucketPhases, EncodeKey(projectID, ordinal))
}

func (r *Repository) ListPhases(ctx context.Context, projectID uint64) ([]PhaseInstance, error) {
	return scanJSON[PhaseInstance](ctx, r.kv, bucketPhases, KeyPrefix(projectID))
}

// Step submissions

func (r *Repository) InsertStep(ctx context.Context, s StepSubmission) error {
	return insertJSON(ctx, r.kv, bucketSteps, EncodeKey(s.ProjectID, s.Phase, s.Step), s)
}

func (r *Repository) UpdateStep(ctx context.Context, s StepSubmission) error {
	return updateJSON(ctx, r.kv, bucketSteps, EncodeKey(s.ProjectID, s.Phase, s.Step), s)
}

func (r *Repository) RemoveStep(ctx context.Context, projectID, phase, step uint64) error {
	return r.kv.Remove(ctx, bucketSteps, EncodeKey(projectID, phase, step))
}

func (r *Repository) GetStep(ctx context.Context, projectID, phase, step uint64) (StepSubmission, error) {
	return getJSON[StepSubmission](ctx, r.kv, bucketSteps, EncodeKey(projectID, phase, step))
}

func (r *Repository) ListSteps(ctx context.Context, projectID, phase uint64) ([]StepSubmission, error) {
	return scanJSON[StepSubmission](ctx, r.kv, bucketSteps, KeyPrefix(projectID, phase))
}

// Grades

func (r *Repository) PutGrade(ctx context.Context, g GradeRecord) error {
	return putJSON(ctx, r.kv, bucketGrades, OwnedKey(g.Grader, g.ProjectID, g.Phase, g.Step), g)
}

func (r *Repository) GetGrade(ctx context.Context, grader string, projectID, phase, step uint64) (GradeRecord, error) {
	return getJSON[GradeRecord](ctx, r.kv, bucketGrades, OwnedKey(grader, projectID, phase, step))
}

// ListGrades returns every grade recorded for a phase, ordered by step.
func (r *Repository) ListGrades(ctx context.Context, projectID, phase uint64) ([]GradeRecord, error) {
	return scanJSON[GradeRecord](ctx, r.kv, bucketGrades, KeyPrefix(projectID, phase))
}

// ListGraderGrades returns one grader's grades for a phase. Other graders'
// records are filtered on the key and never decoded.
func (r *Repository) ListGraderGrades(ctx context.Context, grader string, projectID, phase uint64) ([]GradeRecord, error) {
	out := make([]GradeRecord, 0)
	err := r.kv.Scan(ctx, bucketGrades, KeyPrefix(projectID, phase), func(key string, raw []byte) error {
		owner, _, err := DecodeOwnedKey(key, 3)
		if err != nil {
			return fmt.Errorf("decode %s/%s: %w", bucketGrades, key, err)
		}
		if owner != grader {
			return nil
		}
		var g GradeRecord
		if err := json.Unmarshal(raw, &g); err != nil {
			return fmt.Errorf("decode %s/%s: %w", bucketGrades, key, err)
		}
		out = append(out, g)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) PutGradeResult(ctx context.Context, res GradeResult) error {
	return putJSON(ctx, r.kv, bucketGradeResults, EncodeKey(res.ProjectID, res.Phase), res)
}

func (r *Repository) GetGradeResult(ctx context.Context, projectID, phase uint64) (GradeResult, error) {
	return getJSON[GradeResult](ctx, r.kv, bucketGradeResults, EncodeKey(projectID, phase))
}

// Votes

func (r *Repository) InsertProposal(ctx context.Context, link ProposalLink) error {
	return insertJSON(ctx, r.kv, bucketProposals, EncodeKey(link.ProjectID, link.Phase), link)
}

func (r *Repository) GetProposal(ctx context.Context, projectID, phase uint64) (ProposalLink, error) {
	return getJSON[ProposalLink](ctx, r.kv, bucketProposals, EncodeKey(projectID, phase))
}

func (r *Repository) PutVoteResult(ctx context.Context, res VoteResult) error {
	return putJSON(ctx, r.kv, bucketVoteResults, EncodeKey(res.ProjectID, res.Phase), res)
}

func (r *Repository) GetVoteResult(ctx context.Context, projectID, phase uint64) (VoteResult, error) {
	return getJSON[VoteResult](ctx, r.kv, bucketVoteResults, EncodeKey(projectID, phase))
}

// Categories

func (r *Repository) NextCategoryID(ctx context.Context) (uint64, error) {
	return r.kv.Next(ctx, counterCategories)
}

func (r *Repository) InsertCategory(ctx context.Context, c Category) error {
	return insertJSON(ctx, r.kv, bucketCategories, EncodeKey(c.ID), c)
}

func (r *Repository) UpdateCategory(ctx context.Context, c Category) error {
	return updateJSON(ctx, r.kv, bucketCategories, EncodeKey(c.ID), c)
}

func (r *Repository) GetCategory(ctx context.Context, id uint64) (Category, error) {
	return getJSON[Category](ctx, r.kv, bucketCategories, EncodeKey(id))
}

func (r *Repository) ListCategories(ctx context.Context) ([]Category, error) {
	return scanJSON[Category](ctx, r.kv, bucketCategories, "")
}
