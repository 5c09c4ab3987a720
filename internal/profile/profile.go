package profile

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// Profile is configuration to start main server.
type Profile struct {
	Mode string // dev, prod
	Addr string
	Port int
	DSN  string

	// OpenAI: orchestration, validation, summaries, embeddings.
	OpenAIAPIKey  string
	OpenAIBaseURL string

	// Groq (OpenAI-compatible): response generation, query expansion,
	// reranking.
	GroqAPIKey  string
	GroqBaseURL string

	// Embedding configuration
	EmbeddingModel      string
	EmbeddingDimensions int

	// Per-operation model assignments.
	OrchestratorModel string
	ExpansionModel    string
	RerankModel       string
	ValidationModel   string
	SummaryModel      string
	DefaultChatModel  string

	// LLM request timeout in seconds.
	LLMTimeout int

	// Whole-turn deadline in seconds.
	TurnTimeout int
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.OpenAIAPIKey = getEnvOrDefault("ATIENDO_OPENAI_API_KEY", "")
	p.OpenAIBaseURL = getEnvOrDefault("ATIENDO_OPENAI_BASE_URL", "https://api.openai.com/v1")
	p.GroqAPIKey = getEnvOrDefault("ATIENDO_GROQ_API_KEY", "")
	p.GroqBaseURL = getEnvOrDefault("ATIENDO_GROQ_BASE_URL", "https://api.groq.com/openai/v1")

	p.EmbeddingModel = getEnvOrDefault("ATIENDO_EMBEDDING_MODEL", "text-embedding-3-small")
	p.EmbeddingDimensions = getEnvOrDefaultInt("ATIENDO_EMBEDDING_DIMENSIONS", 1536)

	p.OrchestratorModel = getEnvOrDefault("ATIENDO_ORCHESTRATOR_MODEL", "gpt-5-mini")
	p.ExpansionModel = getEnvOrDefault("ATIENDO_EXPANSION_MODEL", "openai/gpt-oss-20b")
	p.RerankModel = getEnvOrDefault("ATIENDO_RERANK_MODEL", "openai/gpt-oss-20b")
	p.ValidationModel = getEnvOrDefault("ATIENDO_VALIDATION_MODEL", "gpt-5-mini")
	p.SummaryModel = getEnvOrDefault("ATIENDO_SUMMARY_MODEL", "gpt-5-mini")
	p.DefaultChatModel = getEnvOrDefault("ATIENDO_CHAT_MODEL", "openai/gpt-oss-20b")

	p.LLMTimeout = getEnvOrDefaultInt("ATIENDO_LLM_TIMEOUT_SECONDS", 120)
	p.TurnTimeout = getEnvOrDefaultInt("ATIENDO_TURN_TIMEOUT_SECONDS", 60)
}

func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}
	if p.DSN == "" {
		p.DSN = os.Getenv("ATIENDO_DSN")
	}
	if p.DSN == "" {
		return errors.New("dsn required")
	}
	if p.OpenAIAPIKey == "" {
		return errors.New("openai api key required")
	}
	if p.TurnTimeout <= 0 {
		p.TurnTimeout = 60
	}
	return nil
}
