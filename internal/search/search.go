// Package search indexes project profiles for discovery.
package search

import (
	"strings"

	"reviewflow/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID           uint64 `json:"id"`
	Title        string `json:"title"`
	Snippet      string `json:"snippet"`
	Status       string `json:"status"`
	CurrentPhase uint64 `json:"current_phase"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Status string // empty = any status
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// ProjectRecord is the data we index for a project.
type ProjectRecord struct {
	ID           uint64   `json:"id"`
	Title        string   `json:"title"`
	Moto         string   `json:"moto"`
	Description  string   `json:"description"`
	Status       string   `json:"status"`
	CurrentPhase uint64   `json:"current_phase"`
	Categories   []uint64 `json:"categories"`
}

func RecordFromProject(p store.Project) ProjectRecord {
	categories := p.Categories
	if categories == nil {
		categories = []uint64{}
	}
	return ProjectRecord{
		ID:           p.ID,
		Title:        p.Title,
		Moto:         p.Moto,
		Description:  p.Description,
		Status:       string(p.Status),
		CurrentPhase: p.CurrentPhase,
		Categories:   categories,
	}
}

func snippet(text string, max int) string {
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8Start(text[cut]) {
		cut--
	}
	return text[:cut] + "…"
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
