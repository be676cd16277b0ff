package search

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"reviewflow/api/internal/store"
)

// ProjectLister is the slice of the repository the fallback scan reads.
type ProjectLister interface {
	ListProjects(ctx context.Context, offset, limit int) ([]store.Project, error)
}

// Service tries Meilisearch first and falls back to scanning stored projects.
type Service struct {
	meili    *Meili
	projects ProjectLister
	log      *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, projects ProjectLister, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{meili: meili, projects: projects, log: log}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("meilisearch error, falling back to scan", zap.Error(err))
	}

	results, total, err := s.scan(ctx, q)
	if err != nil {
		s.log.Error("project scan failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: results, Total: total, Query: q.Text}
}

// scan matches every term case-insensitively against title, moto and
// description. Title matches rank first.
func (s *Service) scan(ctx context.Context, q Query) ([]Result, int, error) {
	projects, err := s.projects.ListProjects(ctx, 0, 0)
	if err != nil {
		return nil, 0, err
	}
	terms := strings.Fields(strings.ToLower(q.Text))

	type scored struct {
		result Result
		score  int
	}
	matches := make([]scored, 0)
	for _, p := range projects {
		if q.Status != "" && string(p.Status) != q.Status {
			continue
		}
		score, ok := matchScore(p, terms)
		if !ok {
			continue
		}
		matches = append(matches, scored{
			result: Result{
				ID:           p.ID,
				Title:        p.Title,
				Snippet:      snippet(p.Description, 200),
				Status:       string(p.Status),
				CurrentPhase: p.CurrentPhase,
			},
			score: score,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })

	total := len(matches)
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	start := q.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	results := make([]Result, 0, end-start)
	for _, m := range matches[start:end] {
		results = append(results, m.result)
	}
	return results, total, nil
}

func matchScore(p store.Project, terms []string) (int, bool) {
	title := strings.ToLower(p.Title)
	body := strings.ToLower(p.Moto + " " + p.Description)
	score := 0
	for _, term := range terms {
		switch {
		case strings.Contains(title, term):
			score += 2
		case strings.Contains(body, term):
			score++
		default:
			return 0, false
		}
	}
	return score, true
}

// IndexProject pushes a project to Meilisearch without blocking the caller.
func (s *Service) IndexProject(p store.Project) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := RecordFromProject(p)
	go func() {
		if err := s.meili.IndexProject(record); err != nil {
			s.log.Warn("index project failed", zap.Uint64("project_id", record.ID), zap.Error(err))
		}
	}()
}

// ReindexAll pushes every stored project to Meilisearch.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	projects, err := s.projects.ListProjects(ctx, 0, 0)
	if err != nil {
		s.log.Warn("reindex load failed", zap.Error(err))
		return
	}
	records := make([]ProjectRecord, 0, len(projects))
	for _, p := range projects {
		records = append(records, RecordFromProject(p))
	}
	if err := s.meili.IndexProjects(records); err != nil {
		s.log.Warn("reindex projects failed", zap.Error(err))
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
