package store

import (
	"context"
	"time"
)

// AgentConfig is the per-business agent configuration row
// (ai.agent_configs). Prompt fields are layered by ai/prompt.
type AgentConfig struct {
	ID         string
	BusinessID string

	BusinessName string
	Enabled      bool

	// Prompt layers. SystemPrompt always present; the rest optional.
	SystemPrompt   string
	AgentPrompt    string
	GreetPrompt    string
	HandoffPrompt  string
	FallbackPrompt string

	// Chat model used by the respond node.
	Provider    string
	Model       string
	MaxTokens   int
	Temperature *float32

	// Dynamic variable interpolation.
	EnableDynamicVariables bool
	CustomVariables        map[string]string

	// Conversation memory (summaries).
	EnableConversationMemory bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Defaults applied by EnsureAgentConfig when a business has no
// configuration row yet.
const (
	defaultProvider    = "openai"
	defaultModel       = "gpt-5-mini"
	defaultMaxTokens   = 2000
	defaultTemperature = float32(0.2)
)

// DefaultSystemPrompt seeds new agent configurations.
const DefaultSystemPrompt = `Eres un asistente virtual de atención al cliente profesional y amable.

Tu objetivo es:
- Responder preguntas de los clientes de forma clara y precisa
- Usar la información de la base de conocimiento cuando esté disponible
- Ser cortés y mantener un tono profesional
- Si no sabes algo, admítelo y ofrece transferir con un humano

Reglas:
- Nunca inventes información
- Sé breve y conciso
- Mantén la conversación enfocada en ayudar al cliente`

// EnsureAgentConfig returns the business's agent configuration,
// creating a default-enabled one when no row exists.
func (s *Store) EnsureAgentConfig(ctx context.Context, businessID, businessName string) (*AgentConfig, error) {
	cfg, err := s.GetAgentConfig(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}

	temperature := defaultTemperature
	return s.CreateAgentConfig(ctx, &AgentConfig{
		BusinessID:   businessID,
		BusinessName: businessName,
		Enabled:      true,
		SystemPrompt: DefaultSystemPrompt,
		Provider:     defaultProvider,
		Model:        defaultModel,
		MaxTokens:    defaultMaxTokens,
		Temperature:  &temperature,
	})
}

// UpdateAgentConfig carries a partial agent config update.
// Nil pointers leave the column untouched.
type UpdateAgentConfig struct {
	BusinessID string

	Enabled                *bool
	SystemPrompt           *string
	AgentPrompt            *string
	Provider               *string
	Model                  *string
	MaxTokens              *int
	EnableDynamicVariables *bool
	CustomVariables        map[string]string
}
