// Package catalog supplies phase templates, tunables and project categories
// to the lifecycle engine.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"reviewflow/api/internal/apperr"
	"reviewflow/api/internal/config"
	"reviewflow/api/internal/store"
)

const maxCategoryNameBytes = 64

var DefaultCategories = []string{"Defi", "Dex", "Gaming"}

type Catalog struct {
	repo *store.Repository
	log  *zap.Logger
	now  func() time.Time

	mu        sync.RWMutex
	tunables  config.Tunables
	templates []store.PhaseTemplate
}

func New(repo *store.Repository, tunables config.Tunables, log *zap.Logger) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{
		repo:     repo,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		tunables: tunables,
	}
}

// Seed writes templates that are not stored yet, then loads the stored
// catalogue. Stored templates win over the supplied ones. Categories are
// only seeded into an empty category table.
func (c *Catalog) Seed(ctx context.Context, templates []store.PhaseTemplate, categories []string) error {
	for _, tpl := range templates {
		written, err := c.repo.SeedPhaseTemplate(ctx, tpl)
		if err != nil {
			return fmt.Errorf("seed phase template %d: %w", tpl.Ordinal, err)
		}
		if written {
			c.log.Info("phase template seeded", zap.Uint64("ordinal", tpl.Ordinal), zap.String("method", string(tpl.Method)))
		}
	}

	stored, err := c.repo.ListPhaseTemplates(ctx)
	if err != nil {
		return fmt.Errorf("load phase templates: %w", err)
	}
	for i, tpl := range stored {
		if tpl.Ordinal != uint64(i) {
			return fmt.Errorf("phase templates are not contiguous: ordinal %d at position %d", tpl.Ordinal, i)
		}
	}
	c.mu.Lock()
	c.templates = stored
	c.mu.Unlock()

	existing, err := c.repo.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("load categories: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	for _, name := range categories {
		if _, err := c.CreateCategory(ctx, name); err != nil {
			return fmt.Errorf("seed category %q: %w", name, err)
		}
	}
	return nil
}

func (c *Catalog) OpenDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tunables.OpenDuration
}

func (c *Catalog) AssessmentDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tunables.AssessmentDuration
}

func (c *Catalog) GradeBounds() (uint32, uint32) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tunables.GradeMin, c.tunables.GradeMax
}

func (c *Catalog) ReconcileInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tunables.ReconcileInterval
}

func (c *Catalog) Tunables() config.Tunables {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tunables
}

// UpdateTunables replaces the tunables. Phases already created keep the
// deadlines they were created with.
func (c *Catalog) UpdateTunables(t config.Tunables) error {
	if t.OpenDuration <= 0 || t.AssessmentDuration <= 0 || t.ReconcileInterval <= 0 {
		return apperr.Invalid("VALIDATION_ERROR", "durations must be positive")
	}
	if t.GradeMin > t.GradeMax {
		return apperr.Invalid("VALIDATION_ERROR", "grade_min must not exceed grade_max")
	}
	c.mu.Lock()
	c.tunables = t
	c.mu.Unlock()
	return nil
}

// PhaseTemplate returns the template for ordinal or a NOT_FOUND error.
func (c *Catalog) PhaseTemplate(_ context.Context, ordinal uint64) (store.PhaseTemplate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ordinal >= uint64(len(c.templates)) {
		return store.PhaseTemplate{}, apperr.NotFound("TEMPLATE_NOT_FOUND", fmt.Sprintf("no template for phase %d", ordinal))
	}
	return c.templates[ordinal], nil
}

func (c *Catalog) PhaseTemplateCount(context.Context) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.templates)
}

func (c *Catalog) PhaseTemplates() []store.PhaseTemplate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]store.PhaseTemplate, len(c.templates))
	copy(out, c.templates)
	return out
}

// Categories

func (c *Catalog) CreateCategory(ctx context.Context, name string) (store.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Category{}, apperr.Invalid("VALIDATION_ERROR", "category name is required")
	}
	if len(name) > maxCategoryNameBytes {
		return store.Category{}, apperr.Invalid("VALIDATION_ERROR", fmt.Sprintf("category name exceeds %d bytes", maxCategoryNameBytes))
	}

	existing, err := c.repo.ListCategories(ctx)
	if err != nil {
		return store.Category{}, err
	}
	for _, cat := range existing {
		if strings.EqualFold(cat.Name, name) {
			return store.Category{}, apperr.Conflict("CATEGORY_EXISTS", "category already exists", map[string]any{"id": cat.ID})
		}
	}

	id, err := c.repo.NextCategoryID(ctx)
	if err != nil {
		return store.Category{}, err
	}
	category := store.Category{ID: id, Name: name, Active: true, CreatedAt: c.now()}
	if err := c.repo.InsertCategory(ctx, category); err != nil {
		return store.Category{}, err
	}
	return category, nil
}

func (c *Catalog) ListCategories(ctx context.Context) ([]store.Category, error) {
	return c.repo.ListCategories(ctx)
}

func (c *Catalog) DeactivateCategory(ctx context.Context, id uint64) (store.Category, error) {
	category, err := c.repo.GetCategory(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Category{}, apperr.NotFound("CATEGORY_NOT_FOUND", fmt.Sprintf("category %d not found", id))
	}
	if err != nil {
		return store.Category{}, err
	}
	category.Active = false
	if err := c.repo.UpdateCategory(ctx, category); err != nil {
		return store.Category{}, err
	}
	return category, nil
}

// CheckCategories reports an INVALID_INPUT error naming every id that is
// unknown or inactive.
func (c *Catalog) CheckCategories(ctx context.Context, ids []uint64) error {
	var bad []uint64
	for _, id := range ids {
		category, err := c.repo.GetCategory(ctx, id)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !category.Active) {
			bad = append(bad, id)
			continue
		}
		if err != nil {
			return err
		}
	}
	if len(bad) > 0 {
		e := apperr.Invalid("INVALID_CATEGORY", "unknown or inactive categories")
		e.Details = bad
		return e
	}
	return nil
}
