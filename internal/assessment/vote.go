package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"reviewflow/api/internal/apperr"
	"reviewflow/api/internal/governance"
	"reviewflow/api/internal/store"
)

const (
	ProposalFunctionID = 4001
	proposalTitle      = "Project vote"
)

// VoteSettings identify where proposals are executed. Both the target and
// the subaccount are required to open a vote.
type VoteSettings struct {
	TargetID   string
	Subaccount string
	URL        string
}

// ProposalPayload is embedded in every proposal and echoed back by the
// governance system when it validates or executes it.
type ProposalPayload struct {
	ProjectID uint64 `json:"project_id"`
	Phase     uint64 `json:"phase"`
}

// Voting delegates the decision to an external governance vote.
type Voting struct {
	repo     *store.Repository
	gateway  governance.Gateway
	settings VoteSettings
	log      *zap.Logger
}

func NewVoting(repo *store.Repository, gateway governance.Gateway, settings VoteSettings, log *zap.Logger) *Voting {
	if log == nil {
		log = zap.NewNop()
	}
	return &Voting{repo: repo, gateway: gateway, settings: settings, log: log}
}

// Open submits a proposal for the phase and links it. It returns the
// externally reported voting deadline when one is known. A proposal that is
// already linked is reused.
func (v *Voting) Open(ctx context.Context, project store.Project, phase store.PhaseInstance, now time.Time) (*time.Time, error) {
	if v.gateway == nil || v.settings.TargetID == "" || v.settings.Subaccount == "" {
		return nil, apperr.Dependency("GOVERNANCE_NOT_CONFIGURED", "governance target and subaccount must be configured", nil)
	}

	link, err := v.repo.GetProposal(ctx, project.ID, phase.Ordinal)
	switch {
	case err == nil:
		v.log.Info("reusing linked proposal", zap.Uint64("project_id", project.ID), zap.Uint64("phase", phase.Ordinal), zap.Uint64("proposal_id", link.ProposalID))
	case errors.Is(err, store.ErrNotFound):
		link, err = v.submit(ctx, project, phase, now)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	tally, err := v.gateway.GetTally(ctx, link.ProposalID)
	if err != nil {
		v.log.Warn("voting deadline unavailable", zap.Uint64("proposal_id", link.ProposalID), zap.Error(err))
		return nil, nil
	}
	if tally == nil || tally.Deadline == nil {
		return nil, nil
	}
	deadline := tally.Deadline.UTC()
	return &deadline, nil
}

func (v *Voting) submit(ctx context.Context, project store.Project, phase store.PhaseInstance, now time.Time) (store.ProposalLink, error) {
	payload, err := json.Marshal(ProposalPayload{ProjectID: project.ID, Phase: phase.Ordinal})
	if err != nil {
		return store.ProposalLink{}, fmt.Errorf("encode proposal payload: %w", err)
	}
	id, err := v.gateway.SubmitProposal(ctx, governance.Proposal{
		Title:      proposalTitle,
		Summary:    fmt.Sprintf("Vote for %s", project.Title),
		URL:        v.settings.URL,
		FunctionID: ProposalFunctionID,
		TargetID:   v.settings.TargetID,
		Subaccount: v.settings.Subaccount,
		Payload:    payload,
	})
	if err != nil {
		return store.ProposalLink{}, apperr.Dependency("PROPOSAL_SUBMIT_FAILED", "governance rejected the proposal", err)
	}

	link := store.ProposalLink{ProjectID: project.ID, Phase: phase.Ordinal, ProposalID: id, SubmittedAt: now}
	if err := v.repo.InsertProposal(ctx, link); err != nil {
		return store.ProposalLink{}, fmt.Errorf("link proposal %d: %w", id, err)
	}
	return link, nil
}

// Resolve reads the linked proposal's tally. It is not ready until a tally
// with at least one vote exists, and not ready while the gateway is
// unreachable. Other gateway failures are dependency errors.
func (v *Voting) Resolve(ctx context.Context, project store.Project, phase store.PhaseInstance, _ store.PhaseTemplate, now time.Time) (Decision, error) {
	if v.gateway == nil {
		return Decision{}, apperr.Dependency("GOVERNANCE_NOT_CONFIGURED", "governance gateway is not configured", nil)
	}
	link, err := v.repo.GetProposal(ctx, project.ID, phase.Ordinal)
	if errors.Is(err, store.ErrNotFound) {
		return Decision{}, apperr.NotFound("PROPOSAL_NOT_FOUND", fmt.Sprintf("no proposal linked to project %d phase %d", project.ID, phase.Ordinal))
	}
	if err != nil {
		return Decision{}, err
	}

	tally, err := v.gateway.GetTally(ctx, link.ProposalID)
	if errors.Is(err, governance.ErrUnavailable) {
		v.log.Warn("tally unavailable, phase not ready", zap.Uint64("project_id", project.ID), zap.Uint64("phase", phase.Ordinal), zap.Error(err))
		return Decision{}, nil
	}
	if err != nil {
		return Decision{}, apperr.Dependency("TALLY_UNAVAILABLE", fmt.Sprintf("tally for proposal %d", link.ProposalID), err)
	}
	if tally == nil || tally.Total == 0 {
		return Decision{}, nil
	}

	result := store.VoteResult{
		ProjectID:  project.ID,
		Phase:      phase.Ordinal,
		ProposalID: link.ProposalID,
		Yes:        tally.Yes,
		No:         tally.No,
		Total:      tally.Total,
		Approved:   Approves(tally.Yes, tally.Total),
		ResolvedAt: now,
	}
	if err := v.repo.PutVoteResult(ctx, result); err != nil {
		return Decision{}, err
	}
	return Decision{Ready: true, Approved: result.Approved}, nil
}

// Approves reports whether yes is a strict majority of total.
func Approves(yes, total uint64) bool {
	if total == 0 || yes > total {
		return false
	}
	return yes > total-yes
}
