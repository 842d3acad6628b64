package governance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	proposalsPath = "/v1/gov/proposals"
	votePath      = "/v1/gov/vote"
	neuronsPath   = "/v1/gov/neurons"
	dissolvePath  = "/v1/gov/neurons/dissolve-delay"
)

// HTTPClient talks JSON over HTTP to a governance-network gateway.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	identity string // opaque identity token presented on mutating calls
}

// Opts configures a new HTTPClient.
type Opts struct {
	Endpoint   string
	Timeout    time.Duration
	Identity   string
	HTTPClient *http.Client
}

// NewHTTPClient creates a client for the given gateway endpoint.
func NewHTTPClient(o Opts) *HTTPClient {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}
	return &HTTPClient{
		endpoint: o.Endpoint,
		client:   client,
		identity: o.Identity,
	}
}

func (c *HTTPClient) ListProposals(ctx context.Context, beforeID uint64, limit int) ([]Proposal, error) {
	path := fmt.Sprintf("%s?limit=%d", proposalsPath, limit)
	if beforeID > 0 {
		path = fmt.Sprintf("%s&before=%d", path, beforeID)
	}
	var out []Proposal
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	return out, nil
}

func (c *HTTPClient) GetProposal(ctx context.Context, id uint64) (*Proposal, error) {
	var out Proposal
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("%s/%d", proposalsPath, id), nil, &out); err != nil {
		return nil, fmt.Errorf("get proposal %d: %w", id, err)
	}
	return &out, nil
}

type castVoteRequest struct {
	NeuronID   uint64        `json:"neuron_id"`
	ProposalID uint64        `json:"proposal_id"`
	Direction  VoteDirection `json:"direction"`
}

func (c *HTTPClient) CastVote(ctx context.Context, neuronID, proposalID uint64, direction VoteDirection) error {
	req := castVoteRequest{NeuronID: neuronID, ProposalID: proposalID, Direction: direction}
	if err := c.doJSON(ctx, http.MethodPost, votePath, req, nil); err != nil {
		return fmt.Errorf("cast vote on proposal %d: %w", proposalID, err)
	}
	return nil
}

func (c *HTTPClient) ListNeurons(ctx context.Context) ([]Neuron, error) {
	var out []Neuron
	if err := c.doJSON(ctx, http.MethodGet, neuronsPath, nil, &out); err != nil {
		return nil, fmt.Errorf("list neurons: %w", err)
	}
	return out, nil
}

type dissolveDelayRequest struct {
	NeuronID uint64 `json:"neuron_id"`
	Seconds  uint64 `json:"seconds"`
}

func (c *HTTPClient) SetDissolveDelay(ctx context.Context, neuronID, seconds uint64) error {
	req := dissolveDelayRequest{NeuronID: neuronID, Seconds: seconds}
	if err := c.doJSON(ctx, http.MethodPost, dissolvePath, req, nil); err != nil {
		return fmt.Errorf("set dissolve delay on neuron %d: %w", neuronID, err)
	}
	return nil
}

// doJSON sends one JSON request and decodes the response into out when
// non-nil. Non-2xx responses surface the body text, which carries the
// network's rejection reason (already-voted, not-authorized, ...).
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, payload, out any) error {
	if c.endpoint == "" {
		return fmt.Errorf("no endpoint configured")
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.identity != "" {
		req.Header.Set("Authorization", "Bearer "+c.identity)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("http %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
