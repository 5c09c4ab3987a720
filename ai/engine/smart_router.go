package engine

import (
	"context"
	"log/slog"
	"strings"
)

// patternGroup pairs a fast-path label with the substrings that
// trigger it. Matching is case-insensitive containment, first group
// wins, so order is priority.
type patternGroup struct {
	label    string
	keywords []string
}

// obviousPatterns identify messages cheap enough to answer without the
// orchestrator: Spanish plus a few borrowed English/Italian forms.
var obviousPatterns = []patternGroup{
	{"greeting", []string{"hola", "buenos días", "buenas tardes", "buenas noches", "hey", "hi", "buenas"}},
	{"farewell", []string{"adiós", "adios", "chao", "chau", "hasta luego", "bye", "nos vemos"}},
	{"thanks", []string{"gracias", "thank", "thanks", "grazie", "muchas gracias"}},
	{"request_human", []string{"hablar con", "persona", "humano", "agente", "operador", "asesor"}},
}

// routerConfidence is the fixed confidence assigned to pattern hits.
const routerConfidence = 0.95

const handoffRequestedReason = "Cliente solicitó explícitamente hablar con humano"

// smartRouter is the zero-cost fast path: obvious messages (greetings,
// farewells, thanks, explicit human requests) skip the orchestrator
// entirely. Everything else falls through with UseFullOrchestrator set.
func smartRouter(ctx context.Context, s *State) (*Update, error) {
	last, ok := s.lastHumanMessage()
	if !ok {
		return &Update{UseFullOrchestrator: ptr(true)}, nil
	}
	message := strings.ToLower(last.Content)
	isFirst := s.humanMessageCount() == 1

	detected := ""
	for _, group := range obviousPatterns {
		for _, kw := range group.keywords {
			if strings.Contains(message, kw) {
				detected = group.label
				break
			}
		}
		if detected != "" {
			break
		}
	}

	if detected == "" {
		slog.Debug("SmartRouter: no fast-path detected, using full orchestrator",
			"business_id", s.BusinessID,
		)
		return &Update{
			UseFullOrchestrator: ptr(true),
			IsFirstMessage:      ptr(isFirst),
		}, nil
	}

	slog.Info("SmartRouter: fast path",
		"business_id", s.BusinessID,
		"pattern", detected,
	)

	update := &Update{
		UseFullOrchestrator:   ptr(false),
		IsFirstMessage:        ptr(isFirst),
		Confidence:            ptr(routerConfidence),
		NeedsKnowledgeBase:    ptr(false),
		KBSearchStrategy:      ptr(SearchNone),
		SearchQueries:         []string{},
		SearchQueriesSet:      true,
		Complexity:            ptr(ComplexitySimple),
		ResponseStrategy:      ptr(RespondDirect),
		Sentiment:             ptr(SentimentNeutral),
		ShouldHandoff:         ptr(false),
		OrchestratorReasoning: ptr("Fast-path: detected " + detected + " pattern"),
	}

	switch detected {
	case "greeting":
		update.Intent = ptr(IntentGreeting)
	case "farewell", "thanks":
		update.Intent = ptr(IntentOther)
		update.Sentiment = ptr(SentimentPositive)
	case "request_human":
		update.Intent = ptr(IntentRequestHuman)
		update.ShouldHandoff = ptr(true)
		update.HandoffReason = ptr(handoffRequestedReason)
		update.ResponseStrategy = ptr(RespondDeflect)
	}
	return update, nil
}

// smartRouterEdge sends fast-path turns straight to respond (or
// handoff), and everything else to the orchestrator.
func smartRouterEdge(s *State) string {
	if s.UseFullOrchestrator {
		return NodeOrchestrator
	}
	if s.ShouldHandoff {
		return NodeHandoff
	}
	return NodeRespond
}
