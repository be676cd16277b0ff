package governance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reviewflow/api/internal/metrics"
)

var ErrUnavailable = errors.New("governance gateway unavailable")

// Client reaches the governance gateway over JSON/HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *Breaker
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: NewBreaker(5, 30*time.Second),
	}
}

type submitResponse struct {
	ProposalID *uint64 `json:"proposal_id"`
	Error      string  `json:"error"`
}

func (c *Client) SubmitProposal(ctx context.Context, p Proposal) (id uint64, err error) {
	defer func() { metrics.RecordGatewayCall("submit_proposal", err) }()

	body, err := json.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("encode proposal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/proposals", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build proposal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out submitResponse
	status, err := c.do(req, &out)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return 0, fmt.Errorf("submit proposal rejected (%d): %s", status, out.Error)
	}
	if out.ProposalID == nil {
		return 0, errors.New("submit proposal: response has no proposal_id")
	}
	return *out.ProposalID, nil
}

func (c *Client) GetTally(ctx context.Context, proposalID uint64) (tally *Tally, err error) {
	defer func() { metrics.RecordGatewayCall("get_tally", err) }()

	url := fmt.Sprintf("%s/proposals/%d/tally", c.baseURL, proposalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build tally request: %w", err)
	}

	var out Tally
	status, err := c.do(req, &out)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		if out.Yes+out.No > out.Total {
			return nil, fmt.Errorf("tally for proposal %d is inconsistent: yes=%d no=%d total=%d", proposalID, out.Yes, out.No, out.Total)
		}
		return &out, nil
	case http.StatusNotFound, http.StatusNoContent:
		return nil, nil
	default:
		return nil, fmt.Errorf("get tally for proposal %d failed with status %d", proposalID, status)
	}
}

func (c *Client) do(req *http.Request, out any) (int, error) {
	if !c.breaker.Allow() {
		return 0, ErrCircuitOpen
	}
	status, err := c.roundTrip(req, out)
	c.breaker.Record(errors.Is(err, ErrUnavailable))
	return status, err
}

func (c *Client) roundTrip(req *http.Request, out any) (int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return resp.StatusCode, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read gateway response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode gateway response: %w", err)
	}
	return resp.StatusCode, nil
}
