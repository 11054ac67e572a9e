// Package providers wraps the external chat-completion services the
// extraction pipeline depends on. Both pipeline stages are expressed as a
// single LLMClient capability so tests can substitute deterministic doubles.
package providers

import (
	"context"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// LLMClient is the interface for chat/completion requests.
type LLMClient interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// Name returns the client identifier (e.g., "huggingface").
	Name() string
}

// Message represents a chat message. ImageURL carries an inline data URL for
// vision messages.
type Message struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	ImageURL string `json:"-"`
}

// ChatRequest is a request to a chat completion service.
type ChatRequest struct {
	// Required
	Messages []Message `json:"messages"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	// Generation parameters
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// JSONMode asks the service to emit a JSON object response.
	JSONMode bool `json:"-"`

	// Timeout bounds this single call. Zero means the client default.
	Timeout time.Duration `json:"-"`

	// Request tracking
	RequestID string `json:"-"`
}

// ChatResult is the response from a chat completion call.
type ChatResult struct {
	Content string `json:"content"`

	// Token counts
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// Timing
	ExecutionTime time.Duration `json:"execution_time"`

	// Provider info
	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`

	// Request tracking
	RequestID string `json:"request_id"`
}
