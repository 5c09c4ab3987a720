package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/atiendohq/atiendo/ai/core/llm"
	"github.com/atiendohq/atiendo/ai/tracker"
)

// orchestratorSchema is enforced with strict structured outputs, so a
// successful call always decodes.
var orchestratorSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"intent": {
			"type": "string",
			"enum": ["greeting", "question", "complaint", "request_human", "other"]
		},
		"confidence": {
			"type": "number",
			"minimum": 0.0,
			"maximum": 1.0
		},
		"needs_knowledge_base": {"type": "boolean"},
		"kb_search_strategy": {
			"type": "string",
			"enum": ["exact", "broad", "multi_query", "none"]
		},
		"search_queries": {
			"type": "array",
			"items": {"type": "string"},
			"minItems": 0,
			"maxItems": 3
		},
		"complexity": {
			"type": "string",
			"enum": ["simple", "medium", "complex"]
		},
		"should_handoff": {"type": "boolean"},
		"handoff_reason": {"type": ["string", "null"]},
		"response_strategy": {
			"type": "string",
			"enum": ["direct", "with_context", "multi_step", "deflect"]
		},
		"customer_sentiment": {
			"type": "string",
			"enum": ["very_positive", "positive", "neutral", "negative", "very_negative"]
		},
		"reasoning": {"type": "string"}
	},
	"required": [
		"intent", "confidence", "needs_knowledge_base",
		"kb_search_strategy", "search_queries", "complexity",
		"should_handoff", "handoff_reason", "response_strategy",
		"customer_sentiment", "reasoning"
	],
	"additionalProperties": false
}`)

const orchestratorSystemPrompt = `Eres el orchestrator de un agente conversacional inteligente.

CONTEXTO DE NEGOCIO:
{business_context}

CONVERSACIÓN (últimos 3 mensajes + resumen):
{conversation_history}

MENSAJE ACTUAL DEL CLIENTE:
"{current_message}"

ESTADO:
- Es primer mensaje: {is_first_message}
- Resumen conversación: {conversation_summary}

ANALIZA Y RESPONDE EN JSON ESTRUCTURADO:
{
  "intent": "greeting|question|complaint|request_human|other",
  "confidence": 0.0-1.0,  // TU CONFIANZA en poder responder bien
  "needs_knowledge_base": boolean,
  "kb_search_strategy": "exact|broad|multi_query|none",
  "search_queries": ["query1", "query2"],  // Si multi_query, 2-3 variaciones
  "complexity": "simple|medium|complex",
  "should_handoff": boolean,
  "handoff_reason": "string|null",
  "response_strategy": "direct|with_context|multi_step|deflect",
  "customer_sentiment": "very_positive|positive|neutral|negative|very_negative",
  "reasoning": "Tu análisis paso a paso"
}

CRITERIOS DE CONFIDENCE:
• 0.9-1.0: Muy seguro (pregunta simple O info clara en KB esperada)
• 0.7-0.9: Seguro moderado (pregunta estándar, probablemente en KB)
• 0.5-0.7: Inseguro (pregunta ambigua, puede no estar en KB)
• 0.3-0.5: Muy inseguro (pregunta compleja/fuera de alcance)
• 0.0-0.3: Sin capacidad (pregunta imposible de responder)

CRITERIOS DE HANDOFF:
• Cliente pide explícitamente hablar con humano
• Pregunta fuera de alcance del negocio
• Sentimiento muy negativo + frustración creciente
• Confidence < 0.5 en temas críticos (precios, garantías, problemas técnicos)
• Cliente repite la misma pregunta 2+ veces (señal de insatisfacción)

KB SEARCH STRATEGY:
• exact: Query directa (ej: "horarios", "precio de X")
• broad: Expandir con sinónimos (ej: "costo" → "precio, costo, valor")
• multi_query: 2-3 variaciones (ej: "cuándo abren" → ["horarios apertura", "horario tienda", "cuándo abren"])
• none: No necesita KB (saludo, despedida, conversación casual)

RESPONSE STRATEGY:
• direct: Respuesta simple sin KB (saludos, confirmaciones)
• with_context: Respuesta usando KB (preguntas sobre productos/servicios)
• multi_step: Requiere varias interacciones (proceso complejo)
• deflect: No podemos responder, sugerir alternativa o handoff`

// Confidence bands the orchestrator routes on.
const (
	confidenceForceHandoff   = 0.4
	confidenceSuggestHandoff = 0.6
)

// orchestratorDecision mirrors the structured output.
type orchestratorDecision struct {
	Intent             Intent           `json:"intent"`
	Confidence         float64          `json:"confidence"`
	NeedsKnowledgeBase bool             `json:"needs_knowledge_base"`
	KBSearchStrategy   SearchStrategy   `json:"kb_search_strategy"`
	SearchQueries      []string         `json:"search_queries"`
	Complexity         Complexity       `json:"complexity"`
	ShouldHandoff      bool             `json:"should_handoff"`
	HandoffReason      *string          `json:"handoff_reason"`
	ResponseStrategy   ResponseStrategy `json:"response_strategy"`
	CustomerSentiment  Sentiment        `json:"customer_sentiment"`
	Reasoning          string           `json:"reasoning"`
}

// orchestrator analyzes the conversation and plans the turn: intent,
// confidence, retrieval strategy, and handoff. On any model failure it
// degrades to a conservative plan instead of failing the turn.
func (t *turn) orchestrator(ctx context.Context, s *State) (*Update, error) {
	last, ok := s.lastHumanMessage()
	if !ok {
		return defaultDecision(), nil
	}
	isFirst := s.humanMessageCount() == 1

	prompt := buildOrchestratorPrompt(s, last.Content, isFirst)

	call := t.engine.tracker.Begin(tracker.CallOptions{
		BusinessID:    s.BusinessID,
		ExecutionID:   s.ExecutionID,
		OperationType: "orchestration",
		Provider:      "openai",
		Model:         t.engine.profile.OrchestratorModel,
		Context:       map[string]any{"is_first_message": isFirst},
	})
	result, err := t.openai.Complete(ctx, &llm.Request{
		Model:  t.engine.profile.OrchestratorModel,
		Schema: &llm.Schema{Name: "orchestrator_decision", Schema: orchestratorSchema},
		Messages: []llm.Message{
			llm.UserMessage(prompt),
		},
	})
	if err == nil {
		call.Record(result.Usage)
	}
	call.End(ctx, err)
	if err != nil {
		slog.Error("Orchestrator: model call failed, using conservative fallback",
			"business_id", s.BusinessID, "error", err,
		)
		return fallbackDecision(last.Content, isFirst), nil
	}

	var decision orchestratorDecision
	if err := json.Unmarshal([]byte(result.Text), &decision); err != nil {
		slog.Error("Orchestrator: undecodable output, using conservative fallback",
			"business_id", s.BusinessID, "error", err,
		)
		return fallbackDecision(last.Content, isFirst), nil
	}

	routing, suggest := deriveRouting(&decision, isFirst)

	slog.Info("Orchestrator: decision",
		"business_id", s.BusinessID,
		"confidence", decision.Confidence,
		"strategy", string(decision.KBSearchStrategy),
		"routing", string(routing),
		"handoff", decision.ShouldHandoff,
	)

	handoffReason := ""
	if decision.HandoffReason != nil {
		handoffReason = *decision.HandoffReason
	}

	return &Update{
		Intent:                ptr(decision.Intent),
		Sentiment:             ptr(decision.CustomerSentiment),
		IsFirstMessage:        ptr(isFirst),
		Confidence:            ptr(decision.Confidence),
		NeedsKnowledgeBase:    ptr(decision.NeedsKnowledgeBase),
		KBSearchStrategy:      ptr(decision.KBSearchStrategy),
		SearchQueries:         decision.SearchQueries,
		SearchQueriesSet:      true,
		Complexity:            ptr(decision.Complexity),
		ResponseStrategy:      ptr(decision.ResponseStrategy),
		ShouldHandoff:         ptr(decision.ShouldHandoff),
		HandoffReason:         ptr(handoffReason),
		OrchestratorReasoning: ptr(decision.Reasoning),
		SuggestHandoff:        ptr(suggest),
		RoutingDecision:       ptr(routing),
	}, nil
}

// deriveRouting turns a decision into a routing label. Very low
// confidence forces a handoff outright; moderately low confidence
// keeps the bot answering but suggests a human in the reply.
func deriveRouting(d *orchestratorDecision, isFirst bool) (RoutingDecision, bool) {
	if d.ShouldHandoff || d.Confidence < confidenceForceHandoff {
		return RouteForceHandoff, false
	}
	suggest := d.Confidence < confidenceSuggestHandoff
	if suggest {
		return RouteSuggestHandoff, true
	}
	switch {
	case isFirst:
		return RouteGreet, false
	case d.NeedsKnowledgeBase:
		return RouteRetrieveKnowledge, false
	default:
		return RouteDirectRespond, false
	}
}

// buildOrchestratorPrompt fills the hard-coded template: sliding
// window of the last three messages, plus the rolling summary when the
// conversation is long enough for one to matter.
func buildOrchestratorPrompt(s *State, currentMessage string, isFirst bool) string {
	recent := s.Messages
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}

	var history []string
	if s.Summary != nil && len(s.Messages) > 5 {
		history = append(history, "[Resumen conversación previa: "+s.Summary.Text+"]")
		if len(s.Summary.Topics) > 0 {
			topics := s.Summary.Topics
			if len(topics) > 3 {
				topics = topics[:3]
			}
			history = append(history, "Temas clave: "+strings.Join(topics, ", "))
		}
		history = append(history, "")
	}
	for _, m := range recent {
		role := "Asistente"
		if m.Role == RoleHuman {
			role = "Cliente"
		}
		history = append(history, role+": "+m.Content)
	}

	summaryText := "Sin resumen previo"
	if s.Summary != nil {
		summaryText = s.Summary.Text
	}

	businessContext := "Negocio de atención al cliente"
	if s.BusinessName != "" {
		businessContext = s.BusinessName
	}

	replacer := strings.NewReplacer(
		"{business_context}", businessContext,
		"{conversation_history}", strings.Join(history, "\n"),
		"{current_message}", currentMessage,
		"{is_first_message}", fmt.Sprintf("%t", isFirst),
		"{conversation_summary}", summaryText,
	)
	return replacer.Replace(orchestratorSystemPrompt)
}

// defaultDecision handles the degenerate no-messages case.
func defaultDecision() *Update {
	return &Update{
		Intent:                ptr(IntentOther),
		Confidence:            ptr(0.5),
		NeedsKnowledgeBase:    ptr(false),
		KBSearchStrategy:      ptr(SearchNone),
		SearchQueries:         []string{},
		SearchQueriesSet:      true,
		Complexity:            ptr(ComplexitySimple),
		ShouldHandoff:         ptr(false),
		ResponseStrategy:      ptr(RespondDirect),
		Sentiment:             ptr(SentimentNeutral),
		OrchestratorReasoning: ptr("No messages to analyze"),
		RoutingDecision:       ptr(RouteDirectRespond),
	}
}

// fallbackDecision is the conservative plan used when the model call
// fails: low confidence, broad retrieval over the raw message.
func fallbackDecision(message string, isFirst bool) *Update {
	return &Update{
		Intent:                ptr(IntentQuestion),
		Confidence:            ptr(confidenceForceHandoff),
		NeedsKnowledgeBase:    ptr(true),
		KBSearchStrategy:      ptr(SearchBroad),
		SearchQueries:         []string{message},
		SearchQueriesSet:      true,
		Complexity:            ptr(ComplexityMedium),
		ShouldHandoff:         ptr(false),
		ResponseStrategy:      ptr(RespondWithContext),
		Sentiment:             ptr(SentimentNeutral),
		OrchestratorReasoning: ptr("Fallback por error en orchestrator"),
		IsFirstMessage:        ptr(isFirst),
		SuggestHandoff:        ptr(true),
		RoutingDecision:       ptr(RouteRetrieveKnowledge),
	}
}

// orchestratorEdge routes on the derived decision. A suggested handoff
// keeps the turn on the answering path with the suggestion flag set.
func orchestratorEdge(s *State) string {
	switch s.RoutingDecision {
	case RouteForceHandoff:
		return NodeHandoff
	case RouteGreet:
		return NodeGreet
	case RouteRetrieveKnowledge:
		return NodeOptimizedRAG
	case RouteDirectRespond:
		return NodeRespond
	case RouteSuggestHandoff:
		switch {
		case s.IsFirstMessage:
			return NodeGreet
		case s.NeedsKnowledgeBase:
			return NodeOptimizedRAG
		default:
			return NodeRespond
		}
	default:
		return NodeRespond
	}
}
