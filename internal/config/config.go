package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	UseMemoryQueue bool
	WorkerCount    int
	DatabaseURL    string

	// LLM provider
	LLMProvider    string
	LLMToken       string
	LLMModel       string
	LLMBaseURL     string
	LLMMaxTokens   int
	LLMTimeout     time.Duration
	VisionModel    string
	BedrockModelID string
	GeminiAPIKey   string
	GeminiModel    string

	// Prompt building
	PromptTokenBudget int
	PromptMinTail     int
	PromptCacheTTL    time.Duration

	// Generation cycle
	MaxGenerationAttempts int
	AutoIntervalSeconds   int

	// AWS / queues
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	ActionQueueURL      string
	CycleQueueURL       string
	CycleJobsTable      string
	ArchiveBucket       string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	FeedbackTTL   time.Duration

	// Control surface auth
	AdminJWTSecret     string
	CORSAllowedOrigins []string

	// Escalation notifications
	EscalationEmailTo string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SESFromName       string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		LLMProvider:    strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "openai"))),
		LLMToken:       getEnv("LLM_TOKEN", ""),
		LLMModel:       getEnv("LLM_MODEL", ""),
		LLMBaseURL:     getEnv("LLM_BASE_URL", "https://router.huggingface.co/v1"),
		LLMMaxTokens:   getEnvAsInt("LLM_MAX_TOKENS", 1500),
		LLMTimeout:     getEnvAsDuration("LLM_TIMEOUT", 45*time.Second),
		VisionModel:    getEnv("VISION_MODEL", ""),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-1.5-flash"),

		PromptTokenBudget: getEnvAsInt("PROMPT_TOKEN_BUDGET", 150000),
		PromptMinTail:     getEnvAsInt("PROMPT_MIN_TAIL", 2),
		PromptCacheTTL:    getEnvAsDuration("PROMPT_CACHE_TTL", 24*time.Hour),

		MaxGenerationAttempts: getEnvAsInt("MAX_GENERATION_ATTEMPTS", 2),
		AutoIntervalSeconds:   getEnvAsInt("AUTO_INTERVAL_SECONDS", 120),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		ActionQueueURL:      getEnv("ACTION_QUEUE_URL", ""),
		CycleQueueURL:       getEnv("CYCLE_QUEUE_URL", ""),
		CycleJobsTable:      getEnv("CYCLE_JOBS_TABLE", "cycle_jobs"),
		ArchiveBucket:       getEnv("ARCHIVE_BUCKET", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		FeedbackTTL:   getEnvAsDuration("FEEDBACK_TTL", 7*24*time.Hour),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS"),

		EscalationEmailTo: getEnv("ESCALATION_EMAIL_TO", ""),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Scambaiter"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "Scambaiter"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsSlice splits a comma-separated environment variable into a slice.
func getEnvAsSlice(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
