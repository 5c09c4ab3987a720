package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/atiendohq/atiendo/ai/core/llm"
	"github.com/atiendohq/atiendo/ai/tracker"
)

// confidenceSkipValidation is the band above which a reply ships
// without the quality check.
const confidenceSkipValidation = 0.75

var validationSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"passed": {
			"type": "boolean",
			"description": "True si la respuesta es de calidad, False si necesita mejora"
		},
		"quality_score": {
			"type": "number",
			"description": "Score de calidad entre 0.0 y 1.0"
		},
		"issues": {
			"type": "array",
			"items": {"type": "string"},
			"description": "Lista de problemas encontrados en la respuesta"
		},
		"suggestions": {
			"type": "string",
			"description": "Feedback específico para mejorar la respuesta"
		}
	},
	"required": ["passed", "quality_score", "issues", "suggestions"],
	"additionalProperties": false
}`)

const validationSystemPrompt = `Eres un validador de calidad de respuestas de IA conversacional.

Tu trabajo es evaluar si una respuesta de IA es de ALTA CALIDAD o necesita mejora.

CRITERIOS DE EVALUACIÓN:

1. **Responde la pregunta** (25 puntos)
   - ✅ Aborda directamente lo que el cliente preguntó
   - ❌ Ignora la pregunta o da respuestas tangenciales

2. **Especificidad** (25 puntos)
   - ✅ Respuesta concreta con datos/detalles útiles
   - ❌ Respuesta vaga, genérica, sin sustancia

3. **Uso de contexto** (25 puntos)
   - ✅ Usa información relevante del conocimiento base
   - ❌ No usa contexto disponible o lo usa incorrectamente

4. **Profesionalismo** (15 puntos)
   - ✅ Tono apropiado, bien estructurada, sin errores
   - ❌ Errores gramaticales, tono inadecuado, mal formateo

5. **No inventa información** (10 puntos)
   - ✅ Solo usa información verificable del contexto
   - ❌ Inventa datos, hace suposiciones infundadas

SCORING:
- 0.85-1.0: Excelente (passed=true)
- 0.70-0.84: Buena (passed=true)
- 0.50-0.69: Regular (passed=false, necesita retry)
- 0.0-0.49: Mala (passed=false, necesita retry urgente)

RESPONDE EN JSON ESTRUCTURADO:
{
  "passed": boolean,
  "quality_score": 0.0-1.0,
  "issues": ["problema 1", "problema 2", ...],
  "suggestions": "Feedback específico para mejorar: ..."
}

**IMPORTANTE**: Si la respuesta es razonablemente buena (>0.70), marca passed=true aunque no sea perfecta.`

// validateResponse runs the quality check on the generated reply.
// Fails open: a broken validator ships the reply rather than blocking
// the customer.
func (t *turn) validateResponse(ctx context.Context, s *State) (*Update, error) {
	reply, ok := s.lastAIMessage()
	if !ok {
		return &Update{
			ValidationPassed: ptr(true),
			ValidationScore:  ptr(1.0),
			ValidationIssues: []string{},
		}, nil
	}

	userQuery := "N/A"
	if last, ok := s.lastHumanMessage(); ok {
		userQuery = last.Content
	}

	contextInfo := "Sin contexto de knowledge base"
	if len(s.RetrievedDocs) > 0 {
		preview := strings.Join(s.RetrievedDocs, "\n")
		if len([]rune(preview)) > 500 {
			preview = string([]rune(preview)[:500])
		}
		contextInfo = "Contexto disponible (preview):\n" + preview + "..."
	}

	input := "PREGUNTA DEL CLIENTE:\n" + userQuery +
		"\n\nRESPUESTA DEL ASISTENTE:\n" + reply.Content +
		"\n\nCONTEXTO DISPONIBLE:\n" + contextInfo +
		"\n\nEvalúa la calidad de la respuesta según los criterios definidos."

	call := t.engine.tracker.Begin(tracker.CallOptions{
		BusinessID:      s.BusinessID,
		ExecutionID:     s.ExecutionID,
		OperationType:   "validation",
		Provider:        "openai",
		Model:           t.engine.profile.ValidationModel,
		ReasoningEffort: "low",
		Context: map[string]any{
			"node":            "validate_response",
			"conversation_id": s.ConversationID,
			"confidence":      s.Confidence,
		},
	})
	result, err := t.openai.Complete(ctx, &llm.Request{
		Model:           t.engine.profile.ValidationModel,
		ReasoningEffort: "low",
		Schema:          &llm.Schema{Name: "validation_result", Schema: validationSchema},
		Messages: []llm.Message{
			llm.SystemPrompt(validationSystemPrompt),
			llm.UserMessage(input),
		},
	})
	if err == nil {
		call.Record(result.Usage)
	}
	call.End(ctx, err)
	if err != nil {
		slog.Error("Validation: model call failed, passing reply through",
			"business_id", s.BusinessID, "error", err,
		)
		return failOpenValidation(err), nil
	}

	var parsed struct {
		Passed       bool     `json:"passed"`
		QualityScore float64  `json:"quality_score"`
		Issues       []string `json:"issues"`
		Suggestions  string   `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(result.Text), &parsed); err != nil {
		slog.Error("Validation: undecodable output, passing reply through",
			"business_id", s.BusinessID, "error", err,
		)
		return failOpenValidation(err), nil
	}

	slog.Info("Validation: result",
		"business_id", s.BusinessID,
		"passed", parsed.Passed,
		"quality_score", parsed.QualityScore,
	)

	return &Update{
		ValidationPassed:   ptr(parsed.Passed),
		ValidationScore:    ptr(parsed.QualityScore),
		ValidationIssues:   parsed.Issues,
		ValidationFeedback: ptr(parsed.Suggestions),
	}, nil
}

func failOpenValidation(err error) *Update {
	return &Update{
		ValidationPassed: ptr(true),
		ValidationScore:  ptr(0.8),
		ValidationIssues: []string{"Validation error: " + err.Error()},
	}
}

// validateEdge retries a failed reply at most once.
func validateEdge(s *State) string {
	if s.ValidationPassed || s.WasRetried {
		return End
	}
	return NodeRetryRespond
}

// retryRespond regenerates the reply with the validator's feedback
// injected into the system prompt. One attempt only; if the retry
// itself fails, the original reply stands.
func (t *turn) retryRespond(ctx context.Context, s *State) (*Update, error) {
	feedback := s.ValidationFeedback
	if feedback == "" {
		feedback = "La respuesta anterior no fue suficientemente específica."
	}

	basePrompt := t.cfg.SystemPrompt
	if basePrompt == "" {
		basePrompt = "Eres un asistente virtual de atención al cliente."
	}

	var issues strings.Builder
	for _, issue := range s.ValidationIssues {
		issues.WriteString("- ")
		issues.WriteString(issue)
		issues.WriteString("\n")
	}

	enhanced := basePrompt + `

🔴 CRÍTICO - TU RESPUESTA ANTERIOR FUE RECHAZADA POR BAJA CALIDAD 🔴

Problemas encontrados:
` + issues.String() + `
Feedback para mejorar:
` + feedback + `

INSTRUCCIONES PARA ESTA RESPUESTA:
1. NO repitas la respuesta anterior
2. Sé MÁS ESPECÍFICO con datos concretos
3. Usa TODA la información disponible del contexto
4. Estructura la respuesta de forma CLARA
5. Responde DIRECTAMENTE a lo que se preguntó

Esta es tu ÚNICA oportunidad de mejorar. Hazlo bien.`

	if len(s.RetrievedDocs) > 0 {
		enhanced += "\n\nInformación relevante de la base de conocimiento:\n" + strings.Join(s.RetrievedDocs, "\n\n")
	}

	// Rebuild the transcript without the rejected reply.
	withoutFailed := s.Messages
	if len(withoutFailed) > 0 {
		withoutFailed = withoutFailed[:len(withoutFailed)-1]
	}
	input := buildConversationInput(enhanced, withoutFailed, 5)

	text, err := t.generateReply(ctx, s, "retry_respond", input, "high", 0.3)
	if err != nil {
		slog.Error("Retry: generation failed, keeping original reply",
			"business_id", s.BusinessID, "error", err,
		)
		return &Update{WasRetried: ptr(true)}, nil
	}

	slog.Info("Retry: reply regenerated", "business_id", s.BusinessID)
	return &Update{
		ReplaceLastAI: &Message{Role: RoleAI, Content: text},
		WasRetried:    ptr(true),
	}, nil
}
