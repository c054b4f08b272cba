// Package cloud talks to the NexusAI backend: pushing generation records
// during sync passes and reading the subscription, usage and plans snapshots
// the quota checks run against.
package cloud

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nexusai/nexusd/internal/quota"
	"github.com/nexusai/nexusd/internal/storage"
)

const (
	defaultBaseURL     = "https://api.nexusai.app"
	defaultPushTimeout = 30 * time.Second
	defaultReadTimeout = 10 * time.Second
)

// Result encodings accepted by the sync endpoint.
const (
	EncodingText   = "text"
	EncodingBase64 = "base64"
)

// Client communicates with the NexusAI cloud on behalf of one signed-in user.
type Client struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	pushTimeout time.Duration
	readTimeout time.Duration
}

// NewClient creates a cloud client with the given API key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{},
		pushTimeout: defaultPushTimeout,
		readTimeout: defaultReadTimeout,
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// SetTimeouts adjusts the per-endpoint bounds. Zero values keep the defaults
// (30s for pushes, 10s for reads).
func (c *Client) SetTimeouts(push, read time.Duration) {
	if push > 0 {
		c.pushTimeout = push
	}
	if read > 0 {
		c.readTimeout = read
	}
}

// SyncPayload is the wire form of one generation record.
type SyncPayload struct {
	ID             string            `json:"id"`
	UserID         string            `json:"userId"`
	Type           string            `json:"type"`
	Prompt         string            `json:"prompt"`
	Result         string            `json:"result"`
	ResultEncoding string            `json:"resultEncoding"`
	Model          string            `json:"model,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// NewSyncPayload converts a stored record into its wire form. Binary results
// are base64-encoded; text results pass through unchanged.
func NewSyncPayload(rec storage.GenerationRecord) SyncPayload {
	p := SyncPayload{
		ID:             rec.ID,
		UserID:         rec.UserID,
		Type:           string(rec.Type),
		Prompt:         rec.Prompt,
		Result:         rec.Result,
		ResultEncoding: EncodingText,
		Model:          rec.Model,
		Metadata:       rec.Metadata,
		CreatedAt:      rec.CreatedAt,
	}
	if len(rec.ResultBlob) > 0 {
		p.Result = base64.StdEncoding.EncodeToString(rec.ResultBlob)
		p.ResultEncoding = EncodingBase64
	}
	return p
}

// PushGeneration uploads one record. The remote endpoint is idempotent by
// record id, so re-pushing an already-synced record never duplicates it.
// The call is bounded by the push timeout regardless of the caller's ctx.
func (c *Client) PushGeneration(ctx context.Context, payload SyncPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.pushTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/v1/sync/generations", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pushing generation %s: %w", payload.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// Subscription fetches the user's current billing state.
func (c *Client) Subscription(ctx context.Context) (quota.Subscription, error) {
	var sub quota.Subscription
	if err := c.getJSON(ctx, "/v1/subscription", &sub); err != nil {
		return quota.Subscription{}, err
	}
	return sub, nil
}

// Usage fetches the user's per-feature usage counters.
func (c *Client) Usage(ctx context.Context) (map[string]int64, error) {
	var usage map[string]int64
	if err := c.getJSON(ctx, "/v1/usage", &usage); err != nil {
		return nil, err
	}
	if usage == nil {
		usage = map[string]int64{}
	}
	return usage, nil
}

// Plans fetches the plans catalog with per-feature limits.
func (c *Client) Plans(ctx context.Context) ([]quota.Plan, error) {
	var plans []quota.Plan
	if err := c.getJSON(ctx, "/v1/plans", &plans); err != nil {
		return nil, err
	}
	if plans == nil {
		plans = []quota.Plan{}
	}
	return plans, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", "nexusd")
}
