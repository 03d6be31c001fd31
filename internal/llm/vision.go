package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/baitlab/scambaiter/internal/contract"
)

const captionInstruction = "You are an image captioning assistant. " +
	"Return final answer only in this exact format: " +
	"DESCRIPTION: <2-4 complete sentences>. " +
	"Use concrete observable details, keep a benevolent tone, no speculation. " +
	"Do not include analysis, planning, bullets, or meta text."

const maxCaptionTokens = 720

// Captioner produces text descriptions of images a counterparty sends. Media
// goes through a multimodal OpenAI-compatible endpoint; the caller is
// responsible for caching by content hash.
type Captioner struct {
	api    chatAPI
	model  string
	tracer trace.Tracer
}

// NewRouterCaptioner builds a Captioner against an OpenAI-compatible router.
func NewRouterCaptioner(token, baseURL, model string) *Captioner {
	cfg := openai.DefaultConfig(token)
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultRouterBaseURL
	}
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return NewCaptioner(openai.NewClientWithConfig(cfg), model)
}

// NewCaptioner wraps a multimodal chat endpoint. model must support image
// inputs.
func NewCaptioner(api chatAPI, model string) *Captioner {
	if api == nil {
		panic("llm: vision chat client cannot be nil")
	}
	if strings.TrimSpace(model) == "" {
		panic("llm: vision model cannot be empty")
	}
	return &Captioner{
		api:    api,
		model:  model,
		tracer: otel.Tracer("scambaiter.internal.llm.vision"),
	}
}

// Caption describes the image. It returns an error when the model produced
// no usable description, so callers never cache reasoning spill.
func (c *Captioner) Caption(ctx context.Context, image []byte) (string, error) {
	ctx, span := c.tracer.Start(ctx, "llm.caption")
	defer span.End()

	if len(image) == 0 {
		return "", errors.New("llm: image is empty")
	}
	encoded := base64.StdEncoding.EncodeToString(image)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: maxCaptionTokens,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: captionInstruction},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL: fmt.Sprintf("data:image/jpeg;base64,%s", encoded),
				}},
			},
		}},
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("llm: caption request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm: caption returned no choices")
	}

	description := ExtractCaption(resp.Choices[0].Message.Content)
	if description == "" {
		return "", fmt.Errorf("llm: caption output unusable: %q", clip(resp.Choices[0].Message.Content, 200))
	}
	return description, nil
}

var (
	captionMarker   = regexp.MustCompile(`(?is)(?:^|\n)\s*(?:BESCHREIBUNG|DESCRIPTION)\s*:\s*(.+)`)
	draftingMarker  = regexp.MustCompile(`(?is)(?:drafting|entwurf|final(?: answer)?|beschreibung)\s*:\s*(.+)$`)
	captionRejects  = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(the user wants|let me|looking at the image|now i need|i will|i should|analysis|analyse|reasoning)\b`),
		regexp.MustCompile(`(?i)^(description should|bildbeschreibung)\b`),
		regexp.MustCompile(`(?i)^(meta|antwort|reply|hinweis|note)\s*:`),
		regexp.MustCompile(`^[-*]\s*`),
	}
	inlineReasoning = regexp.MustCompile(`(?i)^(looking at the image|analysis|let me|drafting|entwurf)\s*:`)
	multiSpace      = regexp.MustCompile(`\s+`)
)

// ExtractCaption pulls the usable description out of raw vision output,
// dropping reasoning lead-ins and meta lines. Returns "" when nothing
// survives filtering.
func ExtractCaption(raw string) string {
	cleaned := contract.StripThink(raw)
	if m := captionMarker.FindStringSubmatch(cleaned); m != nil {
		cleaned = strings.TrimSpace(m[1])
	}
	if m := draftingMarker.FindStringSubmatch(cleaned); m != nil {
		cleaned = strings.TrimSpace(m[1])
	}

	var filtered []string
lines:
	for _, line := range strings.Split(cleaned, "\n") {
		normalized := strings.Trim(strings.TrimSpace(line), `"'`)
		if normalized == "" {
			continue
		}
		if inlineReasoning.MatchString(normalized) {
			parts := strings.SplitN(normalized, ":", 2)
			if len(parts) < 2 {
				continue
			}
			normalized = strings.TrimSpace(parts[1])
			if normalized == "" {
				continue
			}
		}
		for _, pattern := range captionRejects {
			if pattern.MatchString(normalized) {
				continue lines
			}
		}
		filtered = append(filtered, normalized)
	}
	if len(filtered) == 0 {
		return ""
	}

	description := strings.TrimSpace(multiSpace.ReplaceAllString(strings.Join(filtered, " "), " "))
	description = strings.Trim(description, `"'`)
	if description == "" || contract.LooksLikeReasoning(description) {
		return ""
	}
	return description
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
