package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// CentralClient talks to the L2 centralized HTTP API (spec section 4.E,
// section 6's endpoint table).
type CentralClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewCentralClient returns a CentralClient pointed at baseURL.
func NewCentralClient(baseURL string) *CentralClient {
	return &CentralClient{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// SignedPayload is the envelope every L2 write carries (spec section
// 4.G): a JSON body plus the signer's attached nonce and signature.
type SignedPayload struct {
	Body      any    `json:"body"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

// UploadSubmission posts one record to /upload-submission, retrying
// transient failures with exponential backoff (spec section 7: "transient
// network" errors retry; here bounded within the call rather than
// deferred to the next epoch, since storage writes are already async).
func (c *CentralClient) UploadSubmission(ctx context.Context, payload SignedPayload) error {
	return c.postWithRetry(ctx, "/upload-submission", payload)
}

// UploadChallengeRecords posts to /upload-challenge-records.
func (c *CentralClient) UploadChallengeRecords(ctx context.Context, payload SignedPayload) error {
	return c.postWithRetry(ctx, "/upload-challenge-records", payload)
}

// UploadRepoID posts to /upload-hf-repo-id.
func (c *CentralClient) UploadRepoID(ctx context.Context, payload SignedPayload) error {
	return c.postWithRetry(ctx, "/upload-hf-repo-id", payload)
}

// FetchMinerSubmissions posts a signed read request to
// /fetch-miner-submit, filtered by challenge names and optionally
// "is today scored".
func (c *CentralClient) FetchMinerSubmissions(ctx context.Context, payload SignedPayload, out any) error {
	return c.postJSONWithRetry(ctx, "/fetch-miner-submit", payload, out)
}

// FetchChallengeRecords posts a signed read request to
// /fetch-challenge-records.
func (c *CentralClient) FetchChallengeRecords(ctx context.Context, payload SignedPayload, out any) error {
	return c.postJSONWithRetry(ctx, "/fetch-challenge-records", payload, out)
}

// ScoringLogsResponse is GET /get_scoring_logs's response shape, used by
// the centralized-scoring validator loop variant (spec section 4.F).
type ScoringLogsResponse struct {
	SubmissionScoringLogs []json.RawMessage `json:"submission_scoring_logs"`
	IsScoringDone         bool              `json:"is_scoring_done"`
}

// GetScoringLogs fetches the current scoring log state for challengeName
// from the centralized scoring service.
func (c *CentralClient) GetScoringLogs(ctx context.Context, challengeName string) (ScoringLogsResponse, error) {
	u := fmt.Sprintf("%s/get_scoring_logs?challenge_name=%s", c.baseURL, url.QueryEscape(challengeName))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return ScoringLogsResponse{}, err
	}

	var out ScoringLogsResponse
	op := func() (ScoringLogsResponse, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return ScoringLogsResponse{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return ScoringLogsResponse{}, fmt.Errorf("storage: get_scoring_logs returned status %d", resp.StatusCode)
		}
		var r ScoringLogsResponse
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			return ScoringLogsResponse{}, err
		}
		return r, nil
	}

	out, err = backoff.Retry(ctx, op, backoff.WithMaxTries(3))
	return out, err
}

func (c *CentralClient) postWithRetry(ctx context.Context, path string, payload SignedPayload) error {
	var discard any
	return c.postJSONWithRetry(ctx, path, payload, &discard)
}

func (c *CentralClient) postJSONWithRetry(ctx context.Context, path string, payload SignedPayload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	op := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			return struct{}{}, fmt.Errorf("storage: %s returned status %d", path, resp.StatusCode)
		}
		if resp.StatusCode >= 300 {
			io.Copy(io.Discard, resp.Body)
			return struct{}{}, backoff.Permanent(fmt.Errorf("storage: %s returned status %d", path, resp.StatusCode))
		}
		if out != nil {
			_ = json.NewDecoder(resp.Body).Decode(out)
		}
		return struct{}{}, nil
	}

	_, err = backoff.Retry(ctx, op, backoff.WithMaxTries(3))
	return err
}
