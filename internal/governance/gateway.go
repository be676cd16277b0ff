// Package governance talks to the external governance system that runs
// funding votes.
package governance

import (
	"context"
	"encoding/json"
	"time"
)

// Proposal is submitted to open a vote on a phase.
type Proposal struct {
	Title      string          `json:"title"`
	Summary    string          `json:"summary"`
	URL        string          `json:"url"`
	FunctionID uint64          `json:"function_id"`
	TargetID   string          `json:"target_id"`
	Subaccount string          `json:"subaccount"`
	Payload    json.RawMessage `json:"payload"`
}

// Tally is the current vote count of a proposal. Deadline is nil when the
// governance system does not report one.
type Tally struct {
	Yes      uint64     `json:"yes"`
	No       uint64     `json:"no"`
	Total    uint64     `json:"total"`
	Deadline *time.Time `json:"deadline,omitempty"`
}

// Gateway submits proposals and reads tallies. GetTally returns a nil
// Tally with a nil error while no tally is available yet.
type Gateway interface {
	SubmitProposal(ctx context.Context, p Proposal) (uint64, error)
	GetTally(ctx context.Context, proposalID uint64) (*Tally, error)
}
