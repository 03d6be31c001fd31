package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	openai "github.com/sashabaranov/go-openai"
)

type stubChat struct {
	lastRequest openai.ChatCompletionRequest
	response    openai.ChatCompletionResponse
	err         error
}

func (s *stubChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.lastRequest = req
	return s.response, s.err
}

func TestOpenAIClientComplete(t *testing.T) {
	stub := &stubChat{
		response: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Content: "  {\"schema\": \"scambait.llm.v1\"}  "},
				FinishReason: openai.FinishReasonStop,
			}},
			Usage: openai.Usage{
				PromptTokens:     120,
				CompletionTokens: 40,
				TotalTokens:      160,
				CompletionTokensDetails: &openai.CompletionTokensDetails{
					ReasoningTokens: 12,
				},
			},
		},
	}
	client := NewOpenAIClient(stub)

	resp, err := client.Complete(context.Background(), Request{
		Model:     "test-model",
		System:    []string{"persona prompt"},
		Messages:  []ChatMessage{{Role: ChatRoleUser, Content: "history here"}},
		MaxTokens: 1500,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != `{"schema": "scambait.llm.v1"}` {
		t.Fatalf("text not trimmed: %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 160 || resp.Usage.ReasoningTokens != 12 {
		t.Fatalf("usage wrong: %+v", resp.Usage)
	}

	req := stub.lastRequest
	if req.Model != "test-model" || req.MaxTokens != 1500 {
		t.Fatalf("request wrong: %+v", req)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("system message not first: %+v", req.Messages)
	}
}

func TestOpenAIClientErrors(t *testing.T) {
	client := NewOpenAIClient(&stubChat{err: errors.New("boom")})
	if _, err := client.Complete(context.Background(), Request{
		Model:    "m",
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "x"}},
	}); err == nil {
		t.Fatal("expected transport error")
	}

	client = NewOpenAIClient(&stubChat{})
	if _, err := client.Complete(context.Background(), Request{
		Model:    "m",
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "x"}},
	}); err == nil {
		t.Fatal("expected no-choices error")
	}

	if _, err := client.Complete(context.Background(), Request{
		Model:    "m",
		Messages: []ChatMessage{{Role: "narrator", Content: "x"}},
	}); err == nil {
		t.Fatal("expected unsupported-role error")
	}
}

type stubConverse struct {
	out *bedrockruntime.ConverseOutput
	err error
}

func (s *stubConverse) Converse(_ context.Context, _ *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return s.out, s.err
}

func TestBedrockClientComplete(t *testing.T) {
	stub := &stubConverse{
		out: &bedrockruntime.ConverseOutput{
			Output: &brtypes.ConverseOutputMemberMessage{
				Value: brtypes.Message{
					Role: brtypes.ConversationRoleAssistant,
					Content: []brtypes.ContentBlock{
						&brtypes.ContentBlockMemberText{Value: "structured output"},
					},
				},
			},
			StopReason: brtypes.StopReasonEndTurn,
			Usage: &brtypes.TokenUsage{
				InputTokens:  aws.Int32(10),
				OutputTokens: aws.Int32(5),
				TotalTokens:  aws.Int32(15),
			},
		},
	}
	client := NewBedrockClient(stub)

	resp, err := client.Complete(context.Background(), Request{
		Model:    "anthropic.claude-3-haiku",
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "history"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != "structured output" || resp.Usage.TotalTokens != 15 {
		t.Fatalf("response wrong: %+v", resp)
	}
}

func TestCaptionerExtractsDescription(t *testing.T) {
	stub := &stubChat{
		response: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{
					Content: "<think>the user wants a caption</think>\nDESCRIPTION: A man in a suit stands in front of a private jet. He is holding a phone.",
				},
			}},
		},
	}
	captioner := NewCaptioner(stub, "vision-model")

	caption, err := captioner.Caption(context.Background(), []byte{0xff, 0xd8})
	if err != nil {
		t.Fatalf("caption: %v", err)
	}
	if !strings.Contains(caption, "private jet") {
		t.Fatalf("caption wrong: %q", caption)
	}
	if strings.Contains(caption, "DESCRIPTION") {
		t.Fatalf("marker not stripped: %q", caption)
	}

	parts := stub.lastRequest.Messages[0].MultiContent
	if len(parts) != 2 || parts[1].ImageURL == nil || !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/jpeg;base64,") {
		t.Fatalf("image payload wrong: %+v", parts)
	}
}

func TestCaptionerRejectsReasoningOnly(t *testing.T) {
	stub := &stubChat{
		response: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{
					Content: "Let me think about what this image shows.",
				},
			}},
		},
	}
	captioner := NewCaptioner(stub, "vision-model")
	if _, err := captioner.Caption(context.Background(), []byte{0x01}); err == nil {
		t.Fatal("reasoning-only output must be rejected")
	}
}

func TestExtractCaptionFiltersMetaLines(t *testing.T) {
	raw := "Looking at the image: preamble here\nNote: internal\nA passport photo with the name JOHN DOE visible."
	got := ExtractCaption(raw)
	if !strings.Contains(got, "JOHN DOE") {
		t.Fatalf("caption lost: %q", got)
	}
	if strings.Contains(strings.ToLower(got), "note:") {
		t.Fatalf("meta line kept: %q", got)
	}
}
