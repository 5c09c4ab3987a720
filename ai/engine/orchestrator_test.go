package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atiendohq/atiendo/ai/core/llm"
)

func TestDeriveRouting(t *testing.T) {
	tests := []struct {
		name        string
		decision    orchestratorDecision
		isFirst     bool
		want        RoutingDecision
		wantSuggest bool
	}{
		{"explicit handoff", orchestratorDecision{ShouldHandoff: true, Confidence: 0.9}, false, RouteForceHandoff, false},
		{"very low confidence forces handoff", orchestratorDecision{Confidence: 0.35}, false, RouteForceHandoff, false},
		{"boundary 0.4 does not force", orchestratorDecision{Confidence: 0.4}, false, RouteSuggestHandoff, true},
		{"low confidence suggests", orchestratorDecision{Confidence: 0.59}, false, RouteSuggestHandoff, true},
		{"boundary 0.6 does not suggest", orchestratorDecision{Confidence: 0.6, NeedsKnowledgeBase: true}, false, RouteRetrieveKnowledge, false},
		{"first message greets", orchestratorDecision{Confidence: 0.9}, true, RouteGreet, false},
		{"needs knowledge retrieves", orchestratorDecision{Confidence: 0.8, NeedsKnowledgeBase: true}, false, RouteRetrieveKnowledge, false},
		{"otherwise direct", orchestratorDecision{Confidence: 0.8}, false, RouteDirectRespond, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, suggest := deriveRouting(&tt.decision, tt.isFirst)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantSuggest, suggest)
		})
	}
}

func TestOrchestratorEdge(t *testing.T) {
	tests := []struct {
		name  string
		state *State
		want  string
	}{
		{"force handoff", &State{RoutingDecision: RouteForceHandoff}, NodeHandoff},
		{"greet", &State{RoutingDecision: RouteGreet}, NodeGreet},
		{"retrieve", &State{RoutingDecision: RouteRetrieveKnowledge}, NodeOptimizedRAG},
		{"direct", &State{RoutingDecision: RouteDirectRespond}, NodeRespond},
		{"suggest on first message", &State{RoutingDecision: RouteSuggestHandoff, IsFirstMessage: true}, NodeGreet},
		{"suggest with knowledge", &State{RoutingDecision: RouteSuggestHandoff, NeedsKnowledgeBase: true}, NodeOptimizedRAG},
		{"suggest direct", &State{RoutingDecision: RouteSuggestHandoff}, NodeRespond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, orchestratorEdge(tt.state))
		})
	}
}

func TestBuildOrchestratorPromptSlidingWindow(t *testing.T) {
	s := &State{
		BusinessName: "Tienda El Sol",
		Messages: []Message{
			HumanMessage("mensaje uno"),
			AIMessage("respuesta uno"),
			HumanMessage("mensaje dos"),
			AIMessage("respuesta dos"),
			HumanMessage("mensaje tres"),
			AIMessage("respuesta tres"),
			HumanMessage("¿tienen delivery?"),
		},
		Summary: &SummarySnapshot{
			Text:   "El cliente pregunta por envíos.",
			Topics: []string{"envíos", "precios"},
		},
	}

	prompt := buildOrchestratorPrompt(s, "¿tienen delivery?", false)

	assert.Contains(t, prompt, "Tienda El Sol")
	assert.Contains(t, prompt, `"¿tienen delivery?"`)
	assert.Contains(t, prompt, "Es primer mensaje: false")
	// Only the last three messages enter the window.
	assert.Contains(t, prompt, "Asistente: respuesta tres")
	assert.Contains(t, prompt, "Cliente: mensaje tres")
	assert.NotContains(t, prompt, "mensaje uno")
	// The rolling summary rides along for long conversations.
	assert.Contains(t, prompt, "[Resumen conversación previa: El cliente pregunta por envíos.]")
	assert.Contains(t, prompt, "Temas clave: envíos, precios")
}

func TestBuildOrchestratorPromptShortConversation(t *testing.T) {
	s := &State{Messages: []Message{HumanMessage("hola, ¿tienen delivery?")}}

	prompt := buildOrchestratorPrompt(s, "hola, ¿tienen delivery?", true)

	assert.Contains(t, prompt, "Negocio de atención al cliente")
	assert.Contains(t, prompt, "Es primer mensaje: true")
	assert.Contains(t, prompt, "Sin resumen previo")
	assert.NotContains(t, prompt, "[Resumen conversación previa")
}

func TestOrchestratorNodeParsesDecision(t *testing.T) {
	driver := &fakeDriver{cfg: enabledConfig()}
	openai := &scriptedLLM{fn: func(req *llm.Request) (*llm.Result, error) {
		require.NotNil(t, req.Schema)
		assert.Equal(t, "orchestrator_decision", req.Schema.Name)
		return textResult(decisionJSON(0.85, true, "multi_query", false))
	}}
	eng := newTestEngine(driver, openai, &scriptedLLM{})
	tn, err := eng.newTurn(driver.cfg)
	require.NoError(t, err)

	s := &State{
		BusinessID:  "biz-1",
		ExecutionID: "exec-1",
		Messages: []Message{
			HumanMessage("consulta previa"),
			AIMessage("respuesta previa"),
			HumanMessage("¿cuánto cuesta el plan anual?"),
		},
	}
	update, err := tn.orchestrator(context.Background(), s)
	require.NoError(t, err)
	s.apply(update)

	assert.Equal(t, IntentQuestion, s.Intent)
	assert.Equal(t, 0.85, s.Confidence)
	assert.Equal(t, SearchMultiQuery, s.KBSearchStrategy)
	assert.Equal(t, RouteRetrieveKnowledge, s.RoutingDecision)
	assert.False(t, s.SuggestHandoff)

	// The call reached the ledger with its execution id.
	calls := driver.callsByOperation("orchestration")
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].ExecutionID)
	assert.Equal(t, "exec-1", *calls[0].ExecutionID)
}

func TestOrchestratorNodeFallsBackOnError(t *testing.T) {
	driver := &fakeDriver{cfg: enabledConfig()}
	openai := &scriptedLLM{fn: func(req *llm.Request) (*llm.Result, error) {
		return nil, errors.New("rate limited")
	}}
	eng := newTestEngine(driver, openai, &scriptedLLM{})
	tn, err := eng.newTurn(driver.cfg)
	require.NoError(t, err)

	s := &State{
		BusinessID: "biz-1",
		Messages: []Message{
			HumanMessage("consulta previa"),
			AIMessage("respuesta previa"),
			HumanMessage("¿hacen facturas electrónicas?"),
		},
	}
	update, err := tn.orchestrator(context.Background(), s)
	require.NoError(t, err)
	s.apply(update)

	assert.Equal(t, IntentQuestion, s.Intent)
	assert.Equal(t, 0.4, s.Confidence)
	assert.True(t, s.NeedsKnowledgeBase)
	assert.Equal(t, SearchBroad, s.KBSearchStrategy)
	assert.Equal(t, []string{"¿hacen facturas electrónicas?"}, s.SearchQueries)
	assert.Equal(t, ComplexityMedium, s.Complexity)
	assert.Equal(t, RouteRetrieveKnowledge, s.RoutingDecision)
	assert.True(t, s.SuggestHandoff)

	// The failed call is still on the ledger.
	calls := driver.callsByOperation("orchestration")
	require.Len(t, calls, 1)
	assert.NotNil(t, calls[0].Error)
}

func TestOrchestratorNodeFallsBackOnBadJSON(t *testing.T) {
	driver := &fakeDriver{cfg: enabledConfig()}
	openai := &scriptedLLM{fn: func(req *llm.Request) (*llm.Result, error) {
		return textResult("no soy json")
	}}
	eng := newTestEngine(driver, openai, &scriptedLLM{})
	tn, err := eng.newTurn(driver.cfg)
	require.NoError(t, err)

	s := &State{
		BusinessID: "biz-1",
		Messages:   []Message{HumanMessage("¿puedo pagar con tarjeta?")},
	}
	update, err := tn.orchestrator(context.Background(), s)
	require.NoError(t, err)
	s.apply(update)

	assert.Equal(t, 0.4, s.Confidence)
	assert.Equal(t, SearchBroad, s.KBSearchStrategy)
}

func TestOrchestratorNodeNoMessages(t *testing.T) {
	eng := newTestEngine(&fakeDriver{cfg: enabledConfig()}, &scriptedLLM{}, &scriptedLLM{})
	tn, err := eng.newTurn(enabledConfig())
	require.NoError(t, err)

	s := &State{BusinessID: "biz-1"}
	update, err := tn.orchestrator(context.Background(), s)
	require.NoError(t, err)
	s.apply(update)

	assert.Equal(t, IntentOther, s.Intent)
	assert.Equal(t, RouteDirectRespond, s.RoutingDecision)
}
