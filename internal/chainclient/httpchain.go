package chainclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tungdop2/RedTeam/internal/vlog"
)

var logger = vlog.Default().Module("chainclient")

// HTTPChain is the validator's own concrete Chain implementation: a thin
// HTTP client against a subnet sidecar that exposes the roster, axon
// queries and weight emission as plain JSON endpoints. Spec section 1
// leaves the real chain client out of scope; this exists only so
// cmd/validator has something concrete to run against when no other
// Chain is injected, following the same bounded-timeout net/http idiom
// already used by internal/challenge and internal/storage's L2 client.
type HTTPChain struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPChain returns an HTTPChain pointed at baseURL with the given
// per-request timeout.
func NewHTTPChain(baseURL string, timeout time.Duration) *HTTPChain {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPChain{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// Participants fetches the current subnet roster from GET /participants.
func (c *HTTPChain) Participants(ctx context.Context) ([]Participant, error) {
	var out []Participant
	if err := c.getJSON(ctx, "/participants", &out); err != nil {
		return nil, fmt.Errorf("chainclient: participants: %w", err)
	}
	return out, nil
}

// QueryCommit sends an empty Commit request to p's axon via
// POST /axons/commit.
func (c *HTTPChain) QueryCommit(ctx context.Context, p Participant) (CommitResponse, error) {
	var out CommitResponse
	body := map[string]string{"axon": p.Axon, "address": p.Address}
	if err := c.postJSON(ctx, "/axons/commit", body, &out); err != nil {
		return CommitResponse{}, fmt.Errorf("chainclient: query commit %s: %w", p.Address, err)
	}
	return out, nil
}

// SetWeights emits the normalized weight vector via POST /weights,
// retrying transient failures with an exponential backoff (spec section
// 4.F: set_weights failures are retried next epoch, but a handful of
// in-epoch retries first absorbs brief extrinsic-submission hiccups).
func (c *HTTPChain) SetWeights(ctx context.Context, weights []float64, versionTag int) error {
	body := map[string]any{"weights": weights, "version_tag": versionTag}

	op := func() (struct{}, error) {
		var out struct{}
		if err := c.postJSON(ctx, "/weights", body, &out); err != nil {
			logger.Warn("set_weights attempt failed, retrying", "err", err)
			return out, err
		}
		return out, nil
	}

	_, err := backoff.Retry(ctx, op, backoff.WithMaxTries(5))
	if err != nil {
		return fmt.Errorf("chainclient: set_weights: %w", err)
	}
	return nil
}

// NormalizeWeights clips negative weights to zero and rescales the
// vector to sum to 1, the normalization spec section 4.F expects the
// chain client's normalizer to apply before set_weights.
func (c *HTTPChain) NormalizeWeights(weights []float64) []float64 {
	out := make([]float64, len(weights))
	var sum float64
	for i, w := range weights {
		if w < 0 {
			w = 0
		}
		out[i] = w
		sum += w
	}
	if sum <= 0 {
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// IsRegistered checks GET /wallets/{address}/registered.
func (c *HTTPChain) IsRegistered(ctx context.Context, walletAddress string) (bool, error) {
	var out struct {
		Registered bool `json:"registered"`
	}
	if err := c.getJSON(ctx, "/wallets/"+walletAddress+"/registered", &out); err != nil {
		return false, fmt.Errorf("chainclient: is_registered: %w", err)
	}
	return out.Registered, nil
}

// Stake checks GET /wallets/{address}/stake.
func (c *HTTPChain) Stake(ctx context.Context, walletAddress string) (int64, error) {
	var out struct {
		Stake int64 `json:"stake"`
	}
	if err := c.getJSON(ctx, "/wallets/"+walletAddress+"/stake", &out); err != nil {
		return 0, fmt.Errorf("chainclient: stake: %w", err)
	}
	return out.Stake, nil
}

func (c *HTTPChain) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPChain) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
