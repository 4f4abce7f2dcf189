package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HubClient talks to the L1 public object hub: a HuggingFace Hub
// dataset repository addressed by owner/name, laid out as
// <challenge>/<YYYY-MM-DD>/<key>.json (spec section 4.E, section 6).
// No Go SDK for the Hub exists anywhere in this codebase's dependency
// lineage, so this client is deliberately built on stdlib net/http
// rather than adapting an unrelated object-store SDK to a REST API it
// was never designed for.
type HubClient struct {
	httpClient *http.Client
	baseURL    string // e.g. https://huggingface.co
	repoID     string // owner/name
	token      string
}

// NewHubClient returns a HubClient for repoID, authenticated with token
// (a write-scoped Hub access token).
func NewHubClient(baseURL, repoID, token string) *HubClient {
	return &HubClient{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		repoID:     repoID,
		token:      token,
	}
}

// EnsureRepo verifies the configured repository exists and is public,
// creating it if necessary. This supplements spec section 4.E: the
// original storage manager refuses to start against a private or
// missing repository. cmd/validator runs this check when it wires the
// storage tiers, rather than deferring it to the first failed upload.
func (h *HubClient) EnsureRepo(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/datasets/%s", h.baseURL, h.repoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	h.setAuth(req)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("storage: hub repo check: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var info struct {
			Private bool `json:"private"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&info); err == nil && info.Private {
			return fmt.Errorf("storage: hub repo %s is private, must be public", h.repoID)
		}
		return nil
	case http.StatusNotFound:
		return h.createRepo(ctx)
	default:
		return fmt.Errorf("storage: hub repo check returned status %d", resp.StatusCode)
	}
}

func (h *HubClient) createRepo(ctx context.Context) error {
	body, _ := json.Marshal(map[string]any{
		"type":    "dataset",
		"name":    h.repoID,
		"private": false,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/api/repos/create", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	h.setAuth(req)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("storage: create hub repo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("storage: create hub repo returned status %d", resp.StatusCode)
	}
	return nil
}

// Upload writes sanitized JSON to <challenge>/<date>/<key>.json via the
// Hub's upload API.
func (h *HubClient) Upload(ctx context.Context, challenge, date, key string, payload []byte) error {
	path := fmt.Sprintf("%s/%s/%s.json", challenge, date, key)
	url := fmt.Sprintf("%s/api/datasets/%s/upload/main/%s", h.baseURL, h.repoID, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	h.setAuth(req)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("storage: hub upload %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("storage: hub upload %s returned status %d", path, resp.StatusCode)
	}
	return nil
}

// Download fetches one dated key's JSON payload.
func (h *HubClient) Download(ctx context.Context, challenge, date, key string) ([]byte, error) {
	path := fmt.Sprintf("%s/%s/%s.json", challenge, date, key)
	url := fmt.Sprintf("%s/datasets/%s/resolve/main/%s", h.baseURL, h.repoID, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	h.setAuth(req)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: hub download %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("storage: hub download %s returned status %d", path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// ListKeys lists every key present under <challenge>/<date>/ via the
// Hub's tree API.
func (h *HubClient) ListKeys(ctx context.Context, challenge, date string) ([]string, error) {
	url := fmt.Sprintf("%s/api/datasets/%s/tree/main/%s/%s", h.baseURL, h.repoID, challenge, date)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	h.setAuth(req)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: hub list %s/%s: %w", challenge, date, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("storage: hub list %s/%s returned status %d", challenge, date, resp.StatusCode)
	}

	var entries []struct {
		Path string `json:"path"`
		Type string `json:"type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type != "file" {
			continue
		}
		name := e.Path[strings.LastIndex(e.Path, "/")+1:]
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	return keys, nil
}

func (h *HubClient) setAuth(req *http.Request) {
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
}
