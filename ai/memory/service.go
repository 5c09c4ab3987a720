// Package memory maintains the rolling conversation summary that lets
// the orchestrator see a long conversation without paying for its full
// transcript. Everything here fails soft: a summary is an optimization
// and must never break a turn.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atiendohq/atiendo/ai/core/llm"
	"github.com/atiendohq/atiendo/ai/tracker"
	"github.com/atiendohq/atiendo/store"
)

const (
	// minMessagesForSummary is the floor below which a conversation
	// is too short to be worth summarizing.
	minMessagesForSummary = 5
	// refreshMessageDelta regenerates after this many new messages.
	refreshMessageDelta = 10
	// refreshAge regenerates stale summaries.
	refreshAge = 24 * time.Hour
	// maxMessagesToSummarize bounds the transcript sent to the model.
	maxMessagesToSummarize = 50
)

const summarizationSystemPrompt = `Eres un experto en resumir conversaciones entre clientes y agentes de IA.

Tu objetivo es crear un resumen CONCISO Y ÚTIL que capture:

1. **Contexto general**: ¿De qué trata la conversación?
2. **Necesidades del cliente**: ¿Qué busca o necesita?
3. **Temas discutidos**: ¿Qué tópicos se han tratado?
4. **Decisiones/Acuerdos**: ¿Qué se ha decidido o resuelto?
5. **Estado actual**: ¿En qué punto está la conversación?

**FORMATO**:
- 2-3 párrafos máximo (150-250 palabras)
- Lenguaje claro y directo
- Enfocado en información útil para continuar la conversación

**EVITAR**:
- Detalles irrelevantes
- Repeticiones
- Mensajes de saludo/despedida sin contenido

Resume la siguiente conversación en JSON estructurado.`

var summarySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"text": {
			"type": "string",
			"description": "Resumen de 2-3 párrafos de la conversación"
		},
		"topics": {
			"type": "array",
			"items": {"type": "string"},
			"description": "Lista de temas principales discutidos"
		}
	},
	"required": ["text", "topics"],
	"additionalProperties": false
}`)

// Turn is one conversation message as seen by the summarizer.
type Turn struct {
	Customer bool
	Content  string
}

// Service generates and caches conversation summaries.
type Service struct {
	store   *store.Store
	llm     llm.Service
	tracker *tracker.Tracker
	model   string
}

// New creates a memory Service. The model should be a cheap
// summarization model.
func New(s *store.Store, llmSvc llm.Service, t *tracker.Tracker, model string) *Service {
	return &Service{store: s, llm: llmSvc, tracker: t, model: model}
}

// GetOrCreate returns the current summary, regenerating it when it is
// missing, stale, or far behind the conversation. Returns nil when the
// conversation is too short or anything fails.
func (s *Service) GetOrCreate(ctx context.Context, conversationID, businessID, executionID string, turns []Turn) *store.ConversationSummary {
	existing, err := s.store.GetConversationSummary(ctx, conversationID)
	if err != nil {
		slog.Error("Memory: failed to load summary", "conversation_id", conversationID, "error", err)
		return nil
	}

	count := len(turns)
	needsRefresh := false
	switch {
	case existing == nil:
		if count < minMessagesForSummary {
			return nil
		}
		needsRefresh = true
	case count-existing.MessageCount >= refreshMessageDelta:
		needsRefresh = true
	case time.Since(existing.LastUpdatedAt) > refreshAge:
		needsRefresh = true
	}

	if !needsRefresh {
		slog.Debug("Memory: using cached summary",
			"conversation_id", conversationID,
			"summarized_messages", existing.MessageCount,
		)
		return existing
	}

	summary := s.generate(ctx, businessID, executionID, turns)
	if summary == nil {
		return nil
	}
	summary.MessageCount = count
	summary.LastUpdatedAt = time.Now()

	if err := s.store.UpsertConversationSummary(ctx, conversationID, summary); err != nil {
		slog.Error("Memory: failed to save summary", "conversation_id", conversationID, "error", err)
	}
	return summary
}

func (s *Service) generate(ctx context.Context, businessID, executionID string, turns []Turn) *store.ConversationSummary {
	if len(turns) > maxMessagesToSummarize {
		turns = turns[len(turns)-maxMessagesToSummarize:]
	}

	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		speaker := "Asistente"
		if turn.Customer {
			speaker = "Cliente"
		}
		lines = append(lines, speaker+": "+turn.Content)
	}

	call := s.tracker.Begin(tracker.CallOptions{
		BusinessID:      businessID,
		ExecutionID:     executionID,
		OperationType:   "summarization",
		Provider:        "openai",
		Model:           s.model,
		ReasoningEffort: "low",
		Context:         map[string]any{"message_count": len(turns)},
	})

	result, err := s.llm.Complete(ctx, &llm.Request{
		Model:           s.model,
		ReasoningEffort: "low",
		Schema:          &llm.Schema{Name: "conversation_summary", Schema: summarySchema},
		Messages: []llm.Message{
			llm.SystemPrompt(summarizationSystemPrompt),
			llm.UserMessage("CONVERSACIÓN:\n\n" + strings.Join(lines, "\n")),
		},
	})
	if err == nil {
		call.Record(result.Usage)
	}
	call.End(ctx, err)
	if err != nil {
		slog.Error("Memory: summary generation failed", "business_id", businessID, "error", err)
		return nil
	}

	summary, err := parseSummary(result.Text)
	if err != nil {
		slog.Error("Memory: summary parse failed", "business_id", businessID, "error", err)
		return nil
	}
	return summary
}

// parseSummary decodes the structured summary, tolerating markdown
// code fences some models wrap JSON in.
func parseSummary(text string) (*store.ConversationSummary, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	summary := &store.ConversationSummary{}
	if err := json.Unmarshal([]byte(cleaned), summary); err != nil {
		return nil, fmt.Errorf("invalid summary JSON: %w", err)
	}
	if summary.Text == "" {
		return nil, fmt.Errorf("summary text empty")
	}
	return summary, nil
}
