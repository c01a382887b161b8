package providers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements the Provider interface for OpenAI-compatible
// APIs through go-openai. OpenRouter is the default endpoint.
type OpenAIProvider struct {
	name         string
	defaultModel string
	client       *openai.Client
}

// ProviderOption configures an OpenAIProvider.
type ProviderOption func(*openai.ClientConfig)

// WithHTTPClient sets a custom HTTP client (useful for testing).
// Extra headers are still applied on top of its transport.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(cfg *openai.ClientConfig) {
		cfg.HTTPClient = client
	}
}

// NewOpenAIProvider creates a new OpenAI-compatible provider. headers are
// added to every request (OpenRouter uses HTTP-Referer and X-Title).
func NewOpenAIProvider(name, apiKey, apiBase, defaultModel string, headers map[string]string, opts ...ProviderOption) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimSuffix(apiBase, "/")
	cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(headers) > 0 {
		base, ok := cfg.HTTPClient.(*http.Client)
		if !ok || base == nil {
			base = &http.Client{Timeout: 120 * time.Second}
		}
		wrapped := *base
		wrapped.Transport = &headerTransport{base: base.Transport, headers: headers}
		cfg.HTTPClient = &wrapped
	}

	return &OpenAIProvider{
		name:         name,
		defaultModel: defaultModel,
		client:       openai.NewClientWithConfig(cfg),
	}
}

// Name returns the provider's name.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// DefaultModel returns the provider's default model.
func (p *OpenAIProvider) DefaultModel() string {
	return p.defaultModel
}

// Chat sends a chat completion request to the OpenAI-compatible API.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: requestTemperature(req.Temperature),
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: %s API error (status %d): %s", ErrCompletionFailed, p.name, apiErr.HTTPStatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("%w: %v", ErrCompletionFailed, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", ErrCompletionFailed)
	}

	choice := resp.Choices[0]
	return &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// requestTemperature maps 0 to the smallest positive float32, since
// go-openai omits a zero temperature and the API would apply its default.
func requestTemperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

// toOpenAIMessages converts messages; a message carrying images is sent as
// multi-part content with the text first.
func toOpenAIMessages(msgs []ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(msgs))
	for i, msg := range msgs {
		m := openai.ChatCompletionMessage{
			Role: msg.Role,
			Name: msg.Name,
		}
		if len(msg.Images) == 0 {
			m.Content = msg.Content
		} else {
			parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: msg.Content}}
			for _, url := range msg.Images {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: openai.ImageURLDetailAuto},
				})
			}
			m.MultiContent = parts
		}
		out[i] = m
	}
	return out
}

// headerTransport adds fixed headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
