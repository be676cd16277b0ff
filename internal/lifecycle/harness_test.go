package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"reviewflow/api/internal/assessment"
	"reviewflow/api/internal/catalog"
	"reviewflow/api/internal/config"
	"reviewflow/api/internal/events"
	"reviewflow/api/internal/governance"
	"reviewflow/api/internal/store"
)

var start = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeGateway struct {
	mu       sync.Mutex
	submits  []governance.Proposal
	submitFn func(governance.Proposal) (uint64, error)
	tallies  map[uint64]*governance.Tally
}

func (f *fakeGateway) SubmitProposal(_ context.Context, p governance.Proposal) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitFn != nil {
		return f.submitFn(p)
	}
	f.submits = append(f.submits, p)
	return uint64(len(f.submits)), nil
}

func (f *fakeGateway) GetTally(_ context.Context, id uint64) (*governance.Tally, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tallies[id], nil
}

func (f *fakeGateway) setTally(id, yes, total uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tallies == nil {
		f.tallies = make(map[uint64]*governance.Tally)
	}
	f.tallies[id] = &governance.Tally{Yes: yes, No: total - yes, Total: total}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fakePresigner struct{ calls []string }

func (f *fakePresigner) PresignPut(_ context.Context, key string) (string, time.Time, error) {
	f.calls = append(f.calls, key)
	return "https://uploads.test/" + key + "?sig=abc", start.Add(15 * time.Minute), nil
}

// failingKV fails inserts into one bucket after a number of successes.
type failingKV struct {
	*store.MemoryKV
	bucket    string
	succeed   int
	attempted int
}

func (f *failingKV) Insert(ctx context.Context, bucket, key string, value []byte) error {
	if bucket == f.bucket {
		f.attempted++
		if f.attempted > f.succeed {
			return errors.New("disk full")
		}
	}
	return f.MemoryKV.Insert(ctx, bucket, key, value)
}

type harness struct {
	engine  *Engine
	repo    *store.Repository
	catalog *catalog.Catalog
	gateway *fakeGateway
	clock   *testClock
	events  *recordingPublisher
	uploads *fakePresigner
}

func newHarness(t *testing.T, templates []store.PhaseTemplate) *harness {
	return newHarnessWithKV(t, templates, store.NewMemoryKV())
}

func newHarnessWithKV(t *testing.T, templates []store.PhaseTemplate, kv store.KV) *harness {
	t.Helper()
	repo := store.NewRepository(kv)
	cat := catalog.New(repo, config.DefaultTunables(), nil)
	if err := cat.Seed(context.Background(), templates, catalog.DefaultCategories); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	h := &harness{
		repo:    repo,
		catalog: cat,
		gateway: &fakeGateway{},
		clock:   &testClock{now: start},
		events:  &recordingPublisher{},
		uploads: &fakePresigner{},
	}
	h.engine = New(Deps{
		Repo:      repo,
		Catalog:   cat,
		Grading:   assessment.NewGrading(repo, cat),
		Voting:    assessment.NewVoting(repo, h.gateway, assessment.VoteSettings{TargetID: "target", Subaccount: "sub"}, nil),
		Events:    h.events,
		Presigner: h.uploads,
		Now:       h.clock.Now,
	})
	return h
}

func questions(phase, step uint64, n int) []store.QuestionTemplate {
	out := make([]store.QuestionTemplate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, store.QuestionTemplate{
			ID:       fmt.Sprintf("QUESTION_%d_%d_%d", phase, step, i),
			Question: fmt.Sprintf("Question %d", i),
			MaxBytes: 64,
		})
	}
	return out
}

// voteGradeVote is a small three phase catalogue.
func voteGradeVote() []store.PhaseTemplate {
	return []store.PhaseTemplate{
		{
			Ordinal: 0,
			Name:    "Application",
			Method:  store.AssessVote,
			Steps: []store.StepTemplate{{
				Ordinal:    0,
				Questions:  questions(0, 0, 6),
				Checkboxes: []store.CheckboxTemplate{{ID: "CHECKBOX_0_0_0", Default: true}},
				Numerics:   []store.NumericTemplate{{ID: "NUMERIC_0_0_0", Default: 1.5}},
				Documents:  []store.DocumentType{store.DocPitchDeck, store.DocLogo},
			}},
		},
		{
			Ordinal: 1,
			Name:    "Evaluation",
			Method:  store.AssessGrade,
			Steps:   []store.StepTemplate{{Ordinal: 0}, {Ordinal: 1}},
		},
		{
			Ordinal: 2,
			Name:    "Completion",
			Method:  store.AssessVote,
			Steps:   []store.StepTemplate{{Ordinal: 0}},
		},
	}
}

func (h *harness) createProject(t *testing.T) store.Project {
	t.Helper()
	project, err := h.engine.CreateProject(context.Background(), "owner", ProjectInput{Title: "Orbit", Categories: []uint64{1}})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return project
}

func (h *harness) phase(t *testing.T, projectID, ordinal uint64) store.PhaseInstance {
	t.Helper()
	phase, err := h.engine.GetPhase(context.Background(), projectID, ordinal)
	if err != nil {
		t.Fatalf("get phase %d: %v", ordinal, err)
	}
	return phase
}

func (h *harness) project(t *testing.T, id uint64) store.Project {
	t.Helper()
	project, err := h.engine.GetProject(context.Background(), id)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	return project
}
