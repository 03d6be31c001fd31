package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/baitlab/scambaiter/cmd/mainconfig"
	appconfig "github.com/baitlab/scambaiter/internal/config"
	"github.com/baitlab/scambaiter/internal/contract"
	"github.com/baitlab/scambaiter/internal/cycle"
	"github.com/baitlab/scambaiter/internal/llm"
)

// llmtest sends one canned conversation through the configured provider and
// runs the structured-output validator over the reply, so a provider or
// prompt change can be smoke-tested without the full stack.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := appconfig.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("load AWS config: %v", err)
	}

	client, err := mainconfig.NewLLMClient(ctx, cfg, awsCfg)
	if err != nil {
		log.Fatalf("build LLM client: %v", err)
	}

	history := strings.Join([]string{
		"14:02 scammer: Hello dear, I saw your profile. I am an investment advisor.",
		"14:05 scambaiter: Oh how exciting! I never met a real advisor before.",
		"14:07 scammer: I can double your money in 30 days. Do you use Bitcoin?",
	}, "\n")

	req := llm.Request{
		Model:  mainconfig.ModelID(cfg),
		System: []string{cycle.SystemPrompt},
		Messages: []llm.ChatMessage{{
			Role:    llm.ChatRoleUser,
			Content: "Conversation so far:\n" + history + "\n\nProduce your structured result.",
		}},
		MaxTokens: cfg.LLMMaxTokens,
	}

	fmt.Printf("provider=%s model=%s\n", cfg.LLMProvider, req.Model)

	start := time.Now()
	resp, err := client.Complete(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		log.Fatalf("completion failed: %v", err)
	}

	fmt.Printf("latency=%v tokens: prompt=%d completion=%d\n",
		elapsed.Round(time.Millisecond), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	fmt.Println("--- raw output ---")
	fmt.Println(resp.Text)
	fmt.Println("--- validation ---")

	result := contract.Validate(resp.Text)
	if result.Accepted() {
		fmt.Printf("accepted: suggestion=%q actions=%d\n",
			result.Output.Suggestion(), len(result.Output.Actions))
		return
	}

	fmt.Printf("rejected: %s\n", result.RejectReason)
	for _, issue := range result.Issues {
		fmt.Printf("  - %s\n", issue)
	}
	os.Exit(1)
}
