package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/atiendohq/atiendo/ai/core/llm"
	"github.com/atiendohq/atiendo/ai/prompt"
	"github.com/atiendohq/atiendo/ai/tracker"
)

// respondErrorFallback is what the customer sees when generation
// itself fails.
const respondErrorFallback = "Lo siento, tuve un problema al procesar tu mensaje. ¿Podrías intentar de nuevo?"

// noKBGuardrail forces an honest answer when the orchestrator wanted
// knowledge but retrieval came back empty. Without it the model
// happily invents business facts.
const noKBGuardrail = `CRITICAL INSTRUCTION:
You DO NOT have any information from the knowledge base about this query.
You MUST respond with:
"Lo siento, no tengo información específica sobre eso en mi base de conocimiento. ¿Te gustaría que te conecte con un asesor humano para ayudarte mejor?"

DO NOT make up or invent any information. DO NOT provide generic answers.
If you don't have the information in the knowledge base, you MUST say so and offer human assistance.`

// respond generates the customer-facing reply with the full layered
// prompt. Generation failure never fails the turn: the customer gets
// an apology instead.
func (t *turn) respond(ctx context.Context, s *State) (*Update, error) {
	systemPrompt := prompt.ComposeFull(t.cfg, t.promptContext(s), true, true)

	input := buildConversationInput(systemPrompt, s.Messages, 5)

	if len(s.RetrievedDocs) == 0 && s.NeedsKnowledgeBase {
		slog.Warn("Respond: knowledge wanted but none retrieved, applying guardrail",
			"business_id", s.BusinessID,
		)
		input = noKBGuardrail + "\n\n" + input
	}

	text, err := t.generateReply(ctx, s, "respond", input, "medium", 0.2)
	if err != nil {
		slog.Error("Respond: generation failed", "business_id", s.BusinessID, "error", err)
		text = respondErrorFallback
	}

	return &Update{AppendMessages: []Message{AIMessage(text)}}, nil
}

// respondEdge skips validation for confident turns.
func respondEdge(s *State) string {
	if s.Confidence >= confidenceSkipValidation {
		return End
	}
	return NodeValidate
}

// generateReply runs the configured chat model with tracking. Shared
// by respond and retry_respond.
func (t *turn) generateReply(ctx context.Context, s *State, node, input, effort string, temperature float32) (string, error) {
	model := t.cfg.Model
	if model == "" {
		model = t.engine.profile.DefaultChatModel
	}

	call := t.engine.tracker.Begin(tracker.CallOptions{
		BusinessID:      s.BusinessID,
		ExecutionID:     s.ExecutionID,
		OperationType:   "chat",
		Provider:        "groq",
		Model:           model,
		ReasoningEffort: effort,
		Context: map[string]any{
			"node":            node,
			"conversation_id": s.ConversationID,
			"has_kb_context":  len(s.RetrievedDocs) > 0,
		},
	})
	result, err := t.groq.Complete(ctx, &llm.Request{
		Model:           model,
		ReasoningEffort: effort,
		Temperature:     ptr(temperature),
		Messages: []llm.Message{
			llm.UserMessage(input),
		},
	})
	if err == nil {
		call.Record(result.Usage)
	}
	call.End(ctx, err)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// buildConversationInput flattens the system prompt and the last n
// messages into a single labeled transcript.
func buildConversationInput(systemPrompt string, messages []Message, n int) string {
	if len(messages) > n {
		messages = messages[len(messages)-n:]
	}

	var b strings.Builder
	b.WriteString("System: ")
	b.WriteString(systemPrompt)
	b.WriteString("\n\n")
	for _, m := range messages {
		role := "Assistant"
		if m.Role == RoleHuman {
			role = "User"
		}
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// promptContext adapts the turn state for the prompt composer.
func (t *turn) promptContext(s *State) *prompt.Context {
	summaryText := ""
	if s.Summary != nil {
		summaryText = s.Summary.Text
	}
	return &prompt.Context{
		CustomerName:   s.CustomerName,
		Sentiment:      string(s.Sentiment),
		Complexity:     string(s.Complexity),
		SummaryText:    summaryText,
		RetrievedDocs:  s.RetrievedDocs,
		Confidence:     s.Confidence,
		SuggestHandoff: s.SuggestHandoff,
	}
}
