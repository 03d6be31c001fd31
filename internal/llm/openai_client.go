package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultRouterBaseURL is the OpenAI-compatible inference router used when no
// base URL is configured.
const DefaultRouterBaseURL = "https://router.huggingface.co/v1"

type chatAPI interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint.
type OpenAIClient struct {
	api    chatAPI
	tracer trace.Tracer
}

// NewOpenAIClient wraps an existing chat API handle.
func NewOpenAIClient(api chatAPI) *OpenAIClient {
	if api == nil {
		panic("llm: chat client cannot be nil")
	}
	return &OpenAIClient{
		api:    api,
		tracer: otel.Tracer("scambaiter.internal.llm.openai"),
	}
}

// NewRouterClient builds an OpenAI-compatible client against baseURL. An
// empty baseURL falls back to the default router.
func NewRouterClient(token, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(token)
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultRouterBaseURL
	}
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return NewOpenAIClient(openai.NewClientWithConfig(cfg))
}

// Complete sends the request and returns the raw completion text and usage.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	ctx, span := c.tracer.Start(ctx, "llm.openai_complete")
	defer span.End()

	if strings.TrimSpace(req.Model) == "" {
		return Response{}, errors.New("llm: model is required")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.System)+len(req.Messages))
	for _, block := range req.System {
		if strings.TrimSpace(block) == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: block,
		})
	}
	for _, msg := range req.Messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		role, err := openAIRole(msg.Role)
		if err != nil {
			return Response{}, err
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	if len(messages) == 0 {
		return Response{}, errors.New("llm: request has no messages")
	}

	request := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		request.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		request.Temperature = req.Temperature
	}
	if req.TopP > 0 {
		request.TopP = req.TopP
	}

	resp, err := c.api.CreateChatCompletion(ctx, request)
	if err != nil {
		span.RecordError(err)
		return Response{}, fmt.Errorf("llm: completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		err := errors.New("llm: completion returned no choices")
		span.RecordError(err)
		return Response{}, err
	}
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("scambaiter.llm.model", req.Model),
			attribute.Int("scambaiter.llm.total_tokens", resp.Usage.TotalTokens),
		)
	}

	out := Response{
		Text:       strings.TrimSpace(resp.Choices[0].Message.Content),
		StopReason: string(resp.Choices[0].FinishReason),
		Usage: TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if details := resp.Usage.CompletionTokensDetails; details != nil {
		out.Usage.ReasoningTokens = details.ReasoningTokens
	}
	return out, nil
}

func openAIRole(role string) (string, error) {
	switch role {
	case ChatRoleSystem:
		return openai.ChatMessageRoleSystem, nil
	case ChatRoleUser:
		return openai.ChatMessageRoleUser, nil
	case ChatRoleAssistant:
		return openai.ChatMessageRoleAssistant, nil
	}
	return "", fmt.Errorf("llm: unsupported role %q", role)
}
