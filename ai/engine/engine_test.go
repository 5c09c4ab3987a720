package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atiendohq/atiendo/ai/core/llm"
	"github.com/atiendohq/atiendo/ai/kb"
	"github.com/atiendohq/atiendo/ai/memory"
	"github.com/atiendohq/atiendo/ai/tracker"
	"github.com/atiendohq/atiendo/internal/profile"
	"github.com/atiendohq/atiendo/store"
)

// fakeDriver records everything the engine persists during a turn.
type fakeDriver struct {
	store.Driver
	mu sync.Mutex

	cfg    *store.AgentConfig
	cfgErr error

	chunkCount     int
	hybridFn       func(find *store.HybridSearch) ([]*store.Chunk, error)
	semanticChunks []*store.Chunk

	executions  []*store.AgentExecution
	finishes    []*store.FinishAgentExecution
	llmCalls    []*store.LLMCall
	ragMetrics  []*store.RAGMetrics
	toolExecs   []*store.ToolExecution
	hybridFinds []*store.HybridSearch
	semFinds    []*store.SemanticSearch
}

func (d *fakeDriver) GetAgentConfig(ctx context.Context, businessID string) (*store.AgentConfig, error) {
	return d.cfg, d.cfgErr
}

func (d *fakeDriver) CountChunksWithEmbeddings(ctx context.Context, businessID string) (int, error) {
	return d.chunkCount, nil
}

func (d *fakeDriver) HybridSearch(ctx context.Context, find *store.HybridSearch) ([]*store.Chunk, error) {
	d.mu.Lock()
	d.hybridFinds = append(d.hybridFinds, find)
	d.mu.Unlock()
	if d.hybridFn != nil {
		return d.hybridFn(find)
	}
	return nil, nil
}

func (d *fakeDriver) SemanticSearch(ctx context.Context, find *store.SemanticSearch) ([]*store.Chunk, error) {
	d.mu.Lock()
	d.semFinds = append(d.semFinds, find)
	d.mu.Unlock()
	return d.semanticChunks, nil
}

func (d *fakeDriver) CreateAgentExecution(ctx context.Context, create *store.AgentExecution) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executions = append(d.executions, create)
	return nil
}

func (d *fakeDriver) FinishAgentExecution(ctx context.Context, finish *store.FinishAgentExecution) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finishes = append(d.finishes, finish)
	return nil
}

func (d *fakeDriver) CreateLLMCall(ctx context.Context, create *store.LLMCall) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.llmCalls = append(d.llmCalls, create)
	return nil
}

func (d *fakeDriver) CreateRAGMetrics(ctx context.Context, create *store.RAGMetrics) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ragMetrics = append(d.ragMetrics, create)
	return nil
}

func (d *fakeDriver) CreateToolExecution(ctx context.Context, create *store.ToolExecution) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.toolExecs = append(d.toolExecs, create)
	return nil
}

func (d *fakeDriver) GetConversationSummary(ctx context.Context, conversationID string) (*store.ConversationSummary, error) {
	return nil, nil
}

func (d *fakeDriver) UpsertConversationSummary(ctx context.Context, conversationID string, summary *store.ConversationSummary) error {
	return nil
}

func (d *fakeDriver) callsByOperation(op string) []*store.LLMCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*store.LLMCall
	for _, c := range d.llmCalls {
		if c.OperationType == op {
			out = append(out, c)
		}
	}
	return out
}

// scriptedLLM answers each request through a test-provided function.
type scriptedLLM struct {
	mu       sync.Mutex
	fn       func(req *llm.Request) (*llm.Result, error)
	requests []*llm.Request
}

func (s *scriptedLLM) Complete(ctx context.Context, req *llm.Request) (*llm.Result, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.fn == nil {
		return &llm.Result{Text: "ok", Usage: llm.Usage{InputTokens: 100, OutputTokens: 50}}, nil
	}
	return s.fn(req)
}

func (s *scriptedLLM) Provider() string { return "test" }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (fakeEmbedder) Dimensions() int { return 3 }
func (fakeEmbedder) Model() string   { return "text-embedding-3-small" }

func enabledConfig() *store.AgentConfig {
	return &store.AgentConfig{
		ID:           "cfg-1",
		BusinessID:   "biz-1",
		BusinessName: "Tienda El Sol",
		Enabled:      true,
		Model:        "openai/gpt-oss-20b",
	}
}

func testProfile() *profile.Profile {
	return &profile.Profile{
		Mode:              "dev",
		TurnTimeout:       60,
		OrchestratorModel: "gpt-5-mini",
		ExpansionModel:    "openai/gpt-oss-20b",
		RerankModel:       "openai/gpt-oss-20b",
		ValidationModel:   "gpt-5-mini",
		SummaryModel:      "gpt-5-mini",
		DefaultChatModel:  "openai/gpt-oss-20b",
	}
}

func newTestEngine(driver *fakeDriver, openai, groq *scriptedLLM) *Engine {
	s := store.New(driver)
	track := tracker.New(s)
	knowledge := kb.New(s, fakeEmbedder{}, track)
	factory := llm.NewStaticFactory(map[string]llm.Service{
		"openai": openai,
		"groq":   groq,
	})
	mem := memory.New(s, openai, track, "gpt-5-mini")
	return New(s, factory, knowledge, mem, track, nil, testProfile())
}

func decisionJSON(confidence float64, needsKB bool, strategy string, shouldHandoff bool) string {
	return fmt.Sprintf(`{
		"intent": "question",
		"confidence": %v,
		"needs_knowledge_base": %t,
		"kb_search_strategy": "%s",
		"search_queries": [],
		"complexity": "medium",
		"should_handoff": %t,
		"handoff_reason": null,
		"response_strategy": "with_context",
		"customer_sentiment": "neutral",
		"reasoning": "análisis"
	}`, confidence, needsKB, strategy, shouldHandoff)
}

func textResult(text string) (*llm.Result, error) {
	return &llm.Result{Text: text, Usage: llm.Usage{InputTokens: 200, OutputTokens: 80}}, nil
}

func TestChatGreetingFastPath(t *testing.T) {
	driver := &fakeDriver{cfg: enabledConfig()}
	groq := &scriptedLLM{fn: func(req *llm.Request) (*llm.Result, error) {
		return textResult("¡Hola! ¿En qué puedo ayudarte?")
	}}
	eng := newTestEngine(driver, &scriptedLLM{}, groq)

	resp, err := eng.Chat(context.Background(), &ChatRequest{
		BusinessID:     "biz-1",
		ConversationID: "conv-1",
		Message:        "hola",
	})
	require.NoError(t, err)

	assert.Equal(t, "¡Hola! ¿En qué puedo ayudarte?", resp.Reply)
	assert.Equal(t, []string{NodeSmartRouter, NodeRespond}, resp.NodesVisited)
	assert.Equal(t, IntentGreeting, resp.Intent)
	assert.Equal(t, 0.95, resp.Confidence)
	assert.False(t, resp.Handoff)

	// Fast path plus high confidence: exactly one model call.
	require.Len(t, driver.llmCalls, 1)
	assert.Equal(t, "chat", driver.llmCalls[0].OperationType)

	require.Len(t, driver.finishes, 1)
	assert.Equal(t, store.ExecutionCompleted, driver.finishes[0].Status)
	assert.Equal(t, 280, driver.finishes[0].TokensUsed)
}

func TestChatExplicitHumanRequest(t *testing.T) {
	driver := &fakeDriver{cfg: enabledConfig()}
	eng := newTestEngine(driver, &scriptedLLM{}, &scriptedLLM{})

	resp, err := eng.Chat(context.Background(), &ChatRequest{
		BusinessID: "biz-1",
		Message:    "quiero hablar con una persona",
	})
	require.NoError(t, err)

	assert.Equal(t, handoffMessage, resp.Reply)
	assert.Equal(t, []string{NodeSmartRouter, NodeHandoff}, resp.NodesVisited)
	assert.True(t, resp.Handoff)
	assert.Empty(t, driver.llmCalls)

	require.Len(t, driver.finishes, 1)
	fin := driver.finishes[0]
	assert.Equal(t, store.ExecutionHandoff, fin.Status)
	assert.Equal(t, handoffRequestedReason, fin.Metadata["handoff_reason"])
}

func TestChatKnowledgeQuestion(t *testing.T) {
	driver := &fakeDriver{
		cfg:        enabledConfig(),
		chunkCount: 10,
		hybridFn: func(find *store.HybridSearch) ([]*store.Chunk, error) {
			return []*store.Chunk{
				{ID: "c1", DocumentID: "d1", ChunkIndex: 0, Content: "Envíos a Lima en 24 horas.", CombinedScore: 0.82},
				{ID: "c2", DocumentID: "d1", ChunkIndex: 1, Content: "El envío cuesta 10 soles.", CombinedScore: 0.77},
			}, nil
		},
	}
	openai := &scriptedLLM{fn: func(req *llm.Request) (*llm.Result, error) {
		return textResult(decisionJSON(0.9, true, "exact", false))
	}}
	groq := &scriptedLLM{fn: func(req *llm.Request) (*llm.Result, error) {
		return textResult("El envío a Lima cuesta 10 soles y llega en 24 horas.")
	}}
	eng := newTestEngine(driver, openai, groq)

	resp, err := eng.Chat(context.Background(), &ChatRequest{
		BusinessID:     "biz-1",
		ConversationID: "conv-1",
		Message:        "¿cuánto cuesta el envío a Lima?",
		History:        []Message{HumanMessage("quiero comprar una lámpara"), AIMessage("¡Claro! Tenemos varias.")},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{NodeSmartRouter, NodeOrchestrator, NodeOptimizedRAG, NodeRespond}, resp.NodesVisited)
	assert.Equal(t, "El envío a Lima cuesta 10 soles y llega en 24 horas.", resp.Reply)

	// Exact strategy: single query, no expansion call.
	require.Len(t, driver.hybridFinds, 1)
	assert.Empty(t, driver.callsByOperation("multi_query_expansion"))
	// Confidence 0.9 loosens the retrieval threshold.
	assert.Equal(t, 0.30, driver.hybridFinds[0].Threshold)

	require.Len(t, driver.ragMetrics, 1)
	m := driver.ragMetrics[0]
	assert.Equal(t, 2, m.ChunksReturned)
	assert.False(t, m.FallbackUsed)

	require.Len(t, driver.toolExecs, 1)
	assert.Equal(t, "optimized_rag_multi_query", driver.toolExecs[0].ToolName)

	fin := driver.finishes[0]
	assert.Equal(t, store.ExecutionCompleted, fin.Status)
	rag, ok := fin.Metadata["rag"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 2, rag["chunks_returned"])
}

func TestChatLowConfidenceSuggestsHandoffAndValidates(t *testing.T) {
	driver := &fakeDriver{cfg: enabledConfig(), chunkCount: 10,
		hybridFn: func(find *store.HybridSearch) ([]*store.Chunk, error) {
			return []*store.Chunk{
				{ID: "c1", DocumentID: "d1", ChunkIndex: 0, Content: "La garantía cubre 12 meses.", CombinedScore: 0.6},
			}, nil
		},
	}
	openai := &scriptedLLM{fn: func(req *llm.Request) (*llm.Result, error) {
		if req.Schema != nil && req.Schema.Name == "validation_result" {
			return textResult(`{"passed": true, "quality_score": 0.9, "issues": [], "suggestions": ""}`)
		}
		return textResult(decisionJSON(0.5, true, "exact", false))
	}}
	groq := &scriptedLLM{fn: func(req *llm.Request) (*llm.Result, error) {
		return textResult("La garantía es de 12 meses. Si necesitas más detalles, puedo conectarte con un asesor 👤")
	}}
	eng := newTestEngine(driver, openai, groq)

	resp, err := eng.Chat(context.Background(), &ChatRequest{
		BusinessID: "biz-1",
		Message:    "¿la garantía cubre daños por caídas y cuál es el proceso?",
		History:    []Message{HumanMessage("compré una licuadora"), AIMessage("¡Gracias por tu compra!")},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		NodeSmartRouter, NodeOrchestrator, NodeOptimizedRAG, NodeRespond, NodeValidate,
	}, resp.NodesVisited)

	fin := driver.finishes[0]
	assert.Equal(t, store.ExecutionCompleted, fin.Status)
	assert.Equal(t, true, fin.Metadata["suggest_handoff"])
	require.Len(t, driver.callsByOperation("validation"), 1)
}

func TestChatFailedValidationRetriesOnce(t *testing.T) {
	driver := &fakeDriver{cfg: enabledConfig()}
	openai := &scriptedLLM{fn: func(req *llm.Request) (*llm.Result, error) {
		if req.Schema != nil && req.Schema.Name == "validation_result" {
			return textResult(`{"passed": false, "quality_score": 0.4, "issues": ["respuesta vaga"], "suggestions": "Da datos concretos"}`)
		}
		return textResult(decisionJSON(0.65, false, "none", false))
	}}
	var chatCalls int
	groq := &scriptedLLM{fn: func(req *llm.Request) (*llm.Result, error) {
		chatCalls++
		if chatCalls == 1 {
			return textResult("Depende.")
		}
		return textResult("El horario es de lunes a sábado, de 9am a 7pm.")
	}}
	eng := newTestEngine(driver, openai, groq)

	resp, err := eng.Chat(context.Background(), &ChatRequest{
		BusinessID: "biz-1",
		Message:    "¿en qué horario atienden los sábados?",
		History:    []Message{HumanMessage("necesito ir a recoger un pedido"), AIMessage("Con gusto te ayudo.")},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		NodeSmartRouter, NodeOrchestrator, NodeRespond, NodeValidate, NodeRetryRespond,
	}, resp.NodesVisited)
	// The rejected reply was replaced, not appended.
	assert.Equal(t, "El horario es de lunes a sábado, de 9am a 7pm.", resp.Reply)
	assert.Equal(t, 2, chatCalls)
	// Only one validation pass: was_retried terminates the loop.
	require.Len(t, driver.callsByOperation("validation"), 1)
}

func TestChatVeryLowConfidenceForcesHandoff(t *testing.T) {
	driver := &fakeDriver{cfg: enabledConfig()}
	openai := &scriptedLLM{fn: func(req *llm.Request) (*llm.Result, error) {
		return textResult(decisionJSON(0.35, true, "broad", false))
	}}
	eng := newTestEngine(driver, openai, &scriptedLLM{})

	resp, err := eng.Chat(context.Background(), &ChatRequest{
		BusinessID: "biz-1",
		Message:    "necesito modificar el contrato de arrendamiento que firmé",
		History:    []Message{HumanMessage("consulta legal"), AIMessage("Cuéntame más.")},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{NodeSmartRouter, NodeOrchestrator, NodeHandoff}, resp.NodesVisited)
	assert.True(t, resp.Handoff)
	assert.Equal(t, handoffMessage, resp.Reply)
	assert.Equal(t, store.ExecutionHandoff, driver.finishes[0].Status)
}

func TestChatOrchestratorFailureDegrades(t *testing.T) {
	driver := &fakeDriver{cfg: enabledConfig(), chunkCount: 0}
	openai := &scriptedLLM{fn: func(req *llm.Request) (*llm.Result, error) {
		if req.Schema != nil && req.Schema.Name == "validation_result" {
			return textResult(`{"passed": true, "quality_score": 0.8, "issues": [], "suggestions": ""}`)
		}
		return nil, errors.New("rate limited")
	}}
	groq := &scriptedLLM{fn: func(req *llm.Request) (*llm.Result, error) {
		return textResult("Lo siento, no tengo información específica sobre eso en mi base de conocimiento. ¿Te gustaría que te conecte con un asesor humano para ayudarte mejor?")
	}}
	eng := newTestEngine(driver, openai, groq)

	resp, err := eng.Chat(context.Background(), &ChatRequest{
		BusinessID: "biz-1",
		Message:    "¿hacen facturas electrónicas?",
		History:    []Message{HumanMessage("consulta"), AIMessage("Dime.")},
	})
	require.NoError(t, err)

	// The conservative fallback still answers through the KB path.
	assert.Equal(t, []string{
		NodeSmartRouter, NodeOrchestrator, NodeOptimizedRAG, NodeRespond, NodeValidate,
	}, resp.NodesVisited)
	assert.Equal(t, 0.4, resp.Confidence)
	assert.Equal(t, store.ExecutionCompleted, driver.finishes[0].Status)
}

func TestChatAgentNotFound(t *testing.T) {
	eng := newTestEngine(&fakeDriver{cfg: nil}, &scriptedLLM{}, &scriptedLLM{})

	_, err := eng.Chat(context.Background(), &ChatRequest{BusinessID: "biz-1", Message: "hola"})
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestChatAgentDisabled(t *testing.T) {
	cfg := enabledConfig()
	cfg.Enabled = false
	eng := newTestEngine(&fakeDriver{cfg: cfg}, &scriptedLLM{}, &scriptedLLM{})

	_, err := eng.Chat(context.Background(), &ChatRequest{BusinessID: "biz-1", Message: "hola"})
	assert.ErrorIs(t, err, ErrAgentDisabled)
}

func TestChatValidatesRequest(t *testing.T) {
	eng := newTestEngine(&fakeDriver{cfg: enabledConfig()}, &scriptedLLM{}, &scriptedLLM{})

	_, err := eng.Chat(context.Background(), &ChatRequest{Message: "hola"})
	assert.Error(t, err)

	_, err = eng.Chat(context.Background(), &ChatRequest{BusinessID: "biz-1"})
	assert.Error(t, err)
}

func TestChatDeadlineMarksExecutionFailed(t *testing.T) {
	driver := &fakeDriver{cfg: enabledConfig()}
	eng := newTestEngine(driver, &scriptedLLM{}, &scriptedLLM{})
	eng.profile.TurnTimeout = 0 // expires immediately

	_, err := eng.Chat(context.Background(), &ChatRequest{BusinessID: "biz-1", Message: "hola"})
	require.Error(t, err)

	require.Len(t, driver.finishes, 1)
	fin := driver.finishes[0]
	assert.Equal(t, store.ExecutionFailed, fin.Status)
	require.NotNil(t, fin.Error)
	assert.Equal(t, "deadline_exceeded", *fin.Error)
}
