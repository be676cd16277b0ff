// Package assessment turns the reviews of a submitted phase into an
// approve or reject decision.
package assessment

import (
	"context"
	"time"

	"reviewflow/api/internal/store"
)

// Decision is the outcome of resolving a phase. Ready is false while the
// strategy cannot decide yet; Approved is meaningful only when Ready.
type Decision struct {
	Ready    bool
	Approved bool
}

// Strategy resolves a submitted phase. Implementations persist their
// result record before returning a ready decision.
type Strategy interface {
	Resolve(ctx context.Context, project store.Project, phase store.PhaseInstance, tpl store.PhaseTemplate, now time.Time) (Decision, error)
}
