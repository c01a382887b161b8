package providers

import (
	"context"
	"errors"
)

// ErrCompletionFailed wraps every error returned by Provider.Chat.
var ErrCompletionFailed = errors.New("completion failed")

// ChatMessage represents a message in the conversation.
type ChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Name    string   `json:"name,omitempty"`
	Images  []string `json:"images,omitempty"` // image URLs, user messages only
}

// Usage represents token usage statistics from the LLM response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse represents the response from an LLM chat completion.
type ChatResponse struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
}

// ChatRequest represents a request to the LLM for chat completion.
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

// Provider defines the interface for LLM providers.
type Provider interface {
	// Name returns the provider's name.
	Name() string

	// Chat sends a chat completion request and returns the response.
	// Errors wrap ErrCompletionFailed.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// DefaultModel returns the provider's default model identifier.
	DefaultModel() string
}
