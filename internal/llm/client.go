package llm

import "context"

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is a provider-neutral prompt message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage carries the token accounting a provider reports for one call.
// ReasoningTokens stays zero for providers that do not separate it out.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	ReasoningTokens  int
}

// Request is one completion request.
type Request struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// Response is the raw completion before any contract validation.
type Response struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// Client is the completion interface the generation cycle depends on.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
