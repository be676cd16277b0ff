// Package events publishes lifecycle transitions to downstream consumers.
package events

import (
	"context"
	"time"
)

const (
	PhaseCreated        = "phase.created"
	PhaseSubmitted      = "phase.submitted"
	PhaseApproved       = "phase.approved"
	PhaseNotApproved    = "phase.not_approved"
	PhaseNotSubmitted   = "phase.not_submitted"
	ProjectCreated      = "project.created"
	ProjectFunded       = "project.funded"
	ProjectNotFunded    = "project.not_funded"
	ProjectNotSubmitted = "project.not_submitted"
	ProposalSubmitted   = "proposal.submitted"
)

type Event struct {
	Type       string    `json:"type"`
	ProjectID  uint64    `json:"project_id"`
	Phase      uint64    `json:"phase"`
	Status     string    `json:"status,omitempty"`
	ProposalID uint64    `json:"proposal_id,omitempty"`
	At         time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
