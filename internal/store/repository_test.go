package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRepositoryPhaseInsertIsIdempotentReject(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemoryKV())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := PhaseInstance{ProjectID: 1, Ordinal: 0, Status: PhaseOpen, StartOpenAt: now, EndOpenAt: now.Add(time.Hour)}
	if err := repo.InsertPhase(ctx, first); err != nil {
		t.Fatalf("insert phase: %v", err)
	}
	second := first
	second.Status = PhaseSubmitted
	if err := repo.InsertPhase(ctx, second); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, err := repo.GetPhase(ctx, 1, 0)
	if err != nil {
		t.Fatalf("get phase: %v", err)
	}
	if got.Status != PhaseOpen {
		t.Fatalf("expected first instance untouched, got %s", got.Status)
	}
}

func TestRepositoryListStepsIsScopedToPhase(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemoryKV())
	for _, s := range []StepSubmission{
		{ProjectID: 1, Phase: 1, Step: 2},
		{ProjectID: 1, Phase: 1, Step: 0},
		{ProjectID: 1, Phase: 10, Step: 0},
		{ProjectID: 11, Phase: 1, Step: 0},
	} {
		if err := repo.InsertStep(ctx, s); err != nil {
			t.Fatalf("insert step: %v", err)
		}
	}
	steps, err := repo.ListSteps(ctx, 1, 1)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 2 || steps[0].Step != 0 || steps[1].Step != 2 {
		t.Fatalf("expected steps 0 and 2 of project 1 phase 1, got %+v", steps)
	}
}

func TestRepositoryGradesOverwritePerGrader(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemoryKV())
	grades := []GradeRecord{
		{Grader: "alice", ProjectID: 3, Phase: 1, Step: 0, Grade: 2},
		{Grader: "alice", ProjectID: 3, Phase: 1, Step: 0, Grade: 7},
		{Grader: "bob", ProjectID: 3, Phase: 1, Step: 0, Grade: 5},
		{Grader: "bob", ProjectID: 3, Phase: 1, Step: 1, Grade: 9},
		{Grader: "bob", ProjectID: 3, Phase: 2, Step: 0, Grade: 1},
	}
	for _, g := range grades {
		if err := repo.PutGrade(ctx, g); err != nil {
			t.Fatalf("put grade: %v", err)
		}
	}

	all, err := repo.ListGrades(ctx, 3, 1)
	if err != nil {
		t.Fatalf("list grades: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 grades for phase 1, got %d", len(all))
	}

	alice, err := repo.GetGrade(ctx, "alice", 3, 1, 0)
	if err != nil {
		t.Fatalf("get grade: %v", err)
	}
	if alice.Grade != 7 {
		t.Fatalf("expected overwrite to keep latest grade 7, got %d", alice.Grade)
	}

	bob, err := repo.ListGraderGrades(ctx, "bob", 3, 1)
	if err != nil {
		t.Fatalf("list grader grades: %v", err)
	}
	if len(bob) != 2 {
		t.Fatalf("expected 2 grades for bob, got %d", len(bob))
	}
}

func TestRepositoryListGraderGradesMatchesWholeGraderID(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemoryKV())
	for _, g := range []GradeRecord{
		{Grader: "a", ProjectID: 1, Phase: 0, Step: 0, Grade: 3},
		{Grader: "ab", ProjectID: 1, Phase: 0, Step: 0, Grade: 4},
		{Grader: "ab", ProjectID: 1, Phase: 0, Step: 1, Grade: 5},
		{Grader: "a", ProjectID: 1, Phase: 1, Step: 0, Grade: 6},
	} {
		if err := repo.PutGrade(ctx, g); err != nil {
			t.Fatalf("put grade: %v", err)
		}
	}

	got, err := repo.ListGraderGrades(ctx, "a", 1, 0)
	if err != nil {
		t.Fatalf("list grader grades: %v", err)
	}
	if len(got) != 1 || got[0].Grader != "a" || got[0].Grade != 3 {
		t.Fatalf("expected only grader a's phase 0 grade, got %+v", got)
	}
	none, err := repo.ListGraderGrades(ctx, "zed", 1, 0)
	if err != nil {
		t.Fatalf("list grader grades: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no grades for an unknown grader, got %+v", none)
	}
}

func TestRepositoryListGraderGradesReportsMalformedKeys(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	repo := NewRepository(kv)
	if err := kv.Put(ctx, bucketGrades, KeyPrefix(1, 0)+"garbage", []byte(`{}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := repo.ListGraderGrades(ctx, "a", 1, 0); !errors.Is(err, ErrMalformedKey) {
		t.Fatalf("expected ErrMalformedKey, got %v", err)
	}
}

func TestRepositoryListOwnerProjects(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemoryKV())
	owners := []string{"alice", "bob", "alice", "alice/x", "alice"}
	for i, owner := range owners {
		if err := repo.InsertProject(ctx, Project{ID: uint64(i + 1), Owner: owner}); err != nil {
			t.Fatalf("insert project: %v", err)
		}
	}

	got, err := repo.ListOwnerProjects(ctx, "alice")
	if err != nil {
		t.Fatalf("list owner projects: %v", err)
	}
	if len(got) != 3 || got[0].ID != 1 || got[1].ID != 3 || got[2].ID != 5 {
		t.Fatalf("expected alice's projects [1 3 5], got %+v", got)
	}

	if err := repo.RemoveProject(ctx, 3); err != nil {
		t.Fatalf("remove project: %v", err)
	}
	got, err = repo.ListOwnerProjects(ctx, "alice")
	if err != nil {
		t.Fatalf("list owner projects: %v", err)
	}
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 5 {
		t.Fatalf("expected removal to drop project 3, got %+v", got)
	}

	slashed, err := repo.ListOwnerProjects(ctx, "alice/x")
	if err != nil {
		t.Fatalf("list owner projects: %v", err)
	}
	if len(slashed) != 1 || slashed[0].ID != 4 {
		t.Fatalf("expected project 4 for alice/x, got %+v", slashed)
	}

	empty, err := repo.ListOwnerProjects(ctx, "carol")
	if err != nil {
		t.Fatalf("list owner projects: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no projects for carol, got %+v", empty)
	}
}

func TestRepositoryInsertProjectKeepsIndexOnDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemoryKV())
	p := Project{ID: 7, Owner: "alice"}
	if err := repo.InsertProject(ctx, p); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	if err := repo.InsertProject(ctx, p); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, err := repo.ListOwnerProjects(ctx, "alice")
	if err != nil {
		t.Fatalf("list owner projects: %v", err)
	}
	if len(got) != 1 || got[0].ID != 7 {
		t.Fatalf("expected project 7 still indexed, got %+v", got)
	}
}

func TestRepositoryListProjectsPaginates(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemoryKV())
	for i := 0; i < 5; i++ {
		id, err := repo.NextProjectID(ctx)
		if err != nil {
			t.Fatalf("next id: %v", err)
		}
		status := ProjectOpen
		if i%2 == 1 {
			status = ProjectFunded
		}
		if err := repo.InsertProject(ctx, Project{ID: id, Status: status}); err != nil {
			t.Fatalf("insert project: %v", err)
		}
	}

	page, err := repo.ListProjects(ctx, 1, 2)
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(page) != 2 || page[0].ID != 2 || page[1].ID != 3 {
		t.Fatalf("expected projects 2 and 3, got %+v", page)
	}

	open, err := repo.ListProjectIDsByStatus(ctx, ProjectOpen)
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(open) != 3 || open[0] != 1 || open[1] != 3 || open[2] != 5 {
		t.Fatalf("expected open projects [1 3 5], got %v", open)
	}
}

func TestRepositorySeedPhaseTemplateKeepsFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemoryKV())
	written, err := repo.SeedPhaseTemplate(ctx, PhaseTemplate{Ordinal: 0, Name: "original", Method: AssessVote})
	if err != nil || !written {
		t.Fatalf("expected first seed to write, got %v %v", written, err)
	}
	written, err = repo.SeedPhaseTemplate(ctx, PhaseTemplate{Ordinal: 0, Name: "replacement", Method: AssessGrade})
	if err != nil || written {
		t.Fatalf("expected second seed to be skipped, got %v %v", written, err)
	}
	tpl, err := repo.GetPhaseTemplate(ctx, 0)
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if tpl.Name != "original" {
		t.Fatalf("expected template to stay immutable, got %q", tpl.Name)
	}
}
