// Package elevenlabs is the voice-AI adapter: per-call signed WebSocket
// URLs, the conversation socket message types, and post-call webhook
// verification.
package elevenlabs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.elevenlabs.io"

// Client issues signed conversation URLs.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a configured Client.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// GetSignedURL obtains a short-lived WebSocket URL authorizing one
// conversation against the given agent.
func (c *Client) GetSignedURL(ctx context.Context, agentID string) (string, error) {
	q := url.Values{}
	q.Set("agent_id", agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/convai/conversation/get-signed-url?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("elevenlabs: build request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("elevenlabs: get signed url: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("elevenlabs: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("elevenlabs: signed url status %d: %s", resp.StatusCode, string(data))
	}
	var out struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("elevenlabs: decode signed url: %w", err)
	}
	if out.SignedURL == "" {
		return "", fmt.Errorf("elevenlabs: empty signed url")
	}
	return out.SignedURL, nil
}
