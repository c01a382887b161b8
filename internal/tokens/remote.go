package tokens

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rhbot/rhbot/internal/session"
)

const (
	// DefaultRemoteBaseURL is the Anthropic API root.
	DefaultRemoteBaseURL = "https://api.anthropic.com"
	// DefaultRemoteModel is the model the remote endpoint counts for.
	DefaultRemoteModel = "claude-3-7-sonnet-20250219"

	anthropicVersion = "2023-06-01"
	countTokensPath  = "/v1/messages/count_tokens"
)

type remoteMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type remoteRequest struct {
	Model    string          `json:"model"`
	System   string          `json:"system"`
	Messages []remoteMessage `json:"messages"`
}

type remoteResponse struct {
	InputTokens int `json:"input_tokens"`
}

// RemoteCounter asks the Anthropic count_tokens endpoint for a count.
type RemoteCounter struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// RemoteOption configures a RemoteCounter.
type RemoteOption func(*RemoteCounter)

// WithBaseURL overrides the API root.
func WithBaseURL(baseURL string) RemoteOption {
	return func(c *RemoteCounter) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithRemoteModel overrides the model sent to the endpoint.
func WithRemoteModel(model string) RemoteOption {
	return func(c *RemoteCounter) {
		c.model = model
	}
}

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(c *RemoteCounter) {
		c.client = client
	}
}

// NewRemoteCounter creates a remote counter. An empty apiKey is allowed;
// every count then fails with ErrCountUnavailable.
func NewRemoteCounter(apiKey string, opts ...RemoteOption) *RemoteCounter {
	c := &RemoteCounter{
		apiKey:  apiKey,
		baseURL: DefaultRemoteBaseURL,
		model:   DefaultRemoteModel,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Count implements Counter. System turns are joined into the system field;
// user and assistant turns pass through with role and content only.
func (c *RemoteCounter) Count(ctx context.Context, messages []session.Turn) (int, error) {
	if c.apiKey == "" {
		return 0, fmt.Errorf("%w: no API key configured", ErrCountUnavailable)
	}

	body, err := json.Marshal(buildRemoteRequest(c.model, messages))
	if err != nil {
		return 0, fmt.Errorf("%w: marshal request: %v", ErrCountUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+countTokensPath, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: create request: %v", ErrCountUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCountUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%w: read response: %v", ErrCountUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d: %s", ErrCountUnavailable, resp.StatusCode, truncate(string(respBody), 200))
	}

	var out remoteResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return 0, fmt.Errorf("%w: decode response: %v", ErrCountUnavailable, err)
	}
	return out.InputTokens, nil
}

func buildRemoteRequest(model string, messages []session.Turn) remoteRequest {
	var system []string
	chat := make([]remoteMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			system = append(system, msg.Content)
		case session.RoleUser, session.RoleAssistant:
			chat = append(chat, remoteMessage{Role: msg.Role, Content: msg.Content})
		}
	}
	return remoteRequest{
		Model:    model,
		System:   strings.Join(system, "\n"),
		Messages: chat,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
