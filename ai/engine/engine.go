// Package engine runs one agent turn: a table-driven graph of nodes
// that classify the message, retrieve knowledge, generate the reply,
// validate it, and hand off to a human when needed. The engine is
// stateless between turns; callers supply the conversation history.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atiendohq/atiendo/ai/core/llm"
	"github.com/atiendohq/atiendo/ai/kb"
	"github.com/atiendohq/atiendo/ai/memory"
	"github.com/atiendohq/atiendo/ai/metrics"
	"github.com/atiendohq/atiendo/ai/tracker"
	"github.com/atiendohq/atiendo/internal/profile"
	"github.com/atiendohq/atiendo/store"
)

var (
	// ErrAgentNotFound means the business has no agent configured.
	ErrAgentNotFound = errors.New("agent not configured")
	// ErrAgentDisabled means the agent exists but is switched off.
	ErrAgentDisabled = errors.New("agent disabled")
)

// noReplyFallback covers the degenerate case of a turn that finished
// without producing an assistant message.
const noReplyFallback = "Lo siento, no pude procesar tu mensaje."

// finishTimeout bounds the terminal execution-row update.
const finishTimeout = 5 * time.Second

// Engine executes agent turns.
type Engine struct {
	store   *store.Store
	llm     *llm.Factory
	kb      *kb.KnowledgeBase
	memory  *memory.Service
	tracker *tracker.Tracker
	metrics *metrics.PrometheusExporter
	profile *profile.Profile
}

// New creates an Engine. The metrics exporter may be nil.
func New(
	s *store.Store,
	factory *llm.Factory,
	knowledge *kb.KnowledgeBase,
	mem *memory.Service,
	track *tracker.Tracker,
	exporter *metrics.PrometheusExporter,
	p *profile.Profile,
) *Engine {
	return &Engine{
		store:   s,
		llm:     factory,
		kb:      knowledge,
		memory:  mem,
		tracker: track,
		metrics: exporter,
		profile: p,
	}
}

// ChatRequest is one incoming customer message plus the conversation
// history the caller already holds.
type ChatRequest struct {
	BusinessID     string
	ConversationID string
	CustomerPhone  string
	CustomerName   string
	Message        string
	History        []Message
}

// ChatResponse is the outcome of a turn.
type ChatResponse struct {
	Reply       string
	ExecutionID string

	Intent     Intent
	Sentiment  Sentiment
	Confidence float64
	Handoff    bool

	NodesVisited []string
	TokensUsed   int
	Cost         float64
	DurationMs   int64
}

// turn bundles the per-turn dependencies the nodes need.
type turn struct {
	engine *Engine
	cfg    *store.AgentConfig
	openai llm.Service
	groq   llm.Service
}

// Chat runs one full agent turn under the whole-turn deadline.
func (e *Engine) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req.BusinessID == "" {
		return nil, fmt.Errorf("business id required")
	}
	if req.Message == "" {
		return nil, fmt.Errorf("message required")
	}

	cfg, err := e.store.GetAgentConfig(ctx, req.BusinessID)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent config: %w", err)
	}
	if cfg == nil {
		return nil, ErrAgentNotFound
	}
	if !cfg.Enabled {
		return nil, ErrAgentDisabled
	}

	t, err := e.newTurn(cfg)
	if err != nil {
		return nil, err
	}

	executionID := uuid.NewString()
	startedAt := time.Now()

	if err := e.store.CreateAgentExecution(ctx, &store.AgentExecution{
		ID:             executionID,
		BusinessID:     req.BusinessID,
		ConversationID: req.ConversationID,
		Status:         store.ExecutionActive,
		StartedAt:      startedAt,
	}); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	state := &State{
		Messages:       append(append([]Message{}, req.History...), HumanMessage(req.Message)),
		CustomerPhone:  req.CustomerPhone,
		CustomerName:   req.CustomerName,
		BusinessID:     req.BusinessID,
		ConversationID: req.ConversationID,
		BusinessName:   cfg.BusinessName,
		ExecutionID:    executionID,
		StartedAt:      startedAt,
	}

	usage := &tracker.TurnUsage{}
	runCtx, cancel := context.WithTimeout(tracker.WithTurn(ctx, usage), time.Duration(e.profile.TurnTimeout)*time.Second)
	defer cancel()

	if cfg.EnableConversationMemory && req.ConversationID != "" {
		state.Summary = e.loadSummary(runCtx, req, executionID, state.Messages)
	}

	e.metrics.TurnStarted()

	runErr := e.buildGraph(t).Run(runCtx, state)

	duration := time.Since(startedAt)

	if runErr != nil {
		errMsg := runErr.Error()
		if errors.Is(runErr, context.DeadlineExceeded) {
			errMsg = "deadline_exceeded"
		}
		slog.Error("Engine: turn failed",
			"business_id", req.BusinessID,
			"execution_id", executionID,
			"error", runErr,
		)
		e.finish(ctx, &store.FinishAgentExecution{
			ID:           executionID,
			Status:       store.ExecutionFailed,
			NodesVisited: state.NodesVisited,
			TokensUsed:   usage.Tokens(),
			Cost:         usage.Cost(),
			Error:        &errMsg,
		})
		e.metrics.TurnFinished(string(store.ExecutionFailed), duration)
		return nil, fmt.Errorf("turn failed: %w", runErr)
	}

	reply := noReplyFallback
	if last, ok := state.lastAIMessage(); ok {
		reply = last.Content
	}

	status := store.ExecutionCompleted
	if state.Visited(NodeHandoff) {
		status = store.ExecutionHandoff
	}

	metadata := map[string]any{
		"intent":      string(state.Intent),
		"sentiment":   string(state.Sentiment),
		"handoff":     status == store.ExecutionHandoff,
		"duration_ms": duration.Milliseconds(),
	}
	if status == store.ExecutionHandoff {
		metadata["handoff_reason"] = state.HandoffReason
	}
	if state.SuggestHandoff {
		metadata["suggest_handoff"] = true
	}
	if state.RAG != nil {
		metadata["rag"] = map[string]any{
			"chunks_retrieved": state.RAG.ChunksRetrieved,
			"chunks_returned":  state.RAG.ChunksReturned,
			"queries_executed": state.RAG.QueriesExecuted,
			"rerank_applied":   state.RAG.RerankApplied,
			"fallback_used":    state.RAG.FallbackUsed,
			"duration_ms":      state.RAG.DurationMs,
		}
	}

	e.finish(ctx, &store.FinishAgentExecution{
		ID:           executionID,
		Status:       status,
		NodesVisited: state.NodesVisited,
		TokensUsed:   usage.Tokens(),
		Cost:         usage.Cost(),
		Metadata:     metadata,
	})

	for _, node := range state.NodesVisited {
		e.metrics.NodeVisited(node)
	}
	e.metrics.TurnFinished(string(status), duration)

	slog.Info("Engine: turn completed",
		"business_id", req.BusinessID,
		"execution_id", executionID,
		"status", string(status),
		"nodes", state.NodesVisited,
		"tokens", usage.Tokens(),
		"cost", usage.Cost(),
		"duration_ms", duration.Milliseconds(),
	)

	return &ChatResponse{
		Reply:        reply,
		ExecutionID:  executionID,
		Intent:       state.Intent,
		Sentiment:    state.Sentiment,
		Confidence:   state.Confidence,
		Handoff:      status == store.ExecutionHandoff,
		NodesVisited: state.NodesVisited,
		TokensUsed:   usage.Tokens(),
		Cost:         usage.Cost(),
		DurationMs:   duration.Milliseconds(),
	}, nil
}

// newTurn resolves the per-turn LLM services. Groq handles response
// generation, expansion and reranking; deployments without a Groq key
// fall back to the OpenAI service for those operations.
func (e *Engine) newTurn(cfg *store.AgentConfig) (*turn, error) {
	openai, err := e.llm.Service("openai")
	if err != nil {
		return nil, err
	}
	groq, err := e.llm.Service("groq")
	if err != nil {
		groq = openai
	}
	return &turn{engine: e, cfg: cfg, openai: openai, groq: groq}, nil
}

// buildGraph wires the node table for one turn.
func (e *Engine) buildGraph(t *turn) *Graph {
	g := NewGraph(NodeSmartRouter)
	g.AddNode(NodeSmartRouter, smartRouter, smartRouterEdge)
	g.AddNode(NodeOrchestrator, t.orchestrator, orchestratorEdge)
	g.AddNode(NodeGreet, t.greet, func(*State) string { return NodeRespond })
	g.AddNode(NodeOptimizedRAG, t.optimizedRAG, func(*State) string { return NodeRespond })
	g.AddNode(NodeRespond, t.respond, respondEdge)
	g.AddNode(NodeValidate, t.validateResponse, validateEdge)
	g.AddNode(NodeRetryRespond, t.retryRespond, nil)
	g.AddNode(NodeHandoff, t.handoff, nil)
	return g
}

// loadSummary adapts the conversation history for the memory service.
func (e *Engine) loadSummary(ctx context.Context, req *ChatRequest, executionID string, messages []Message) *SummarySnapshot {
	turns := make([]memory.Turn, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			continue
		}
		turns = append(turns, memory.Turn{Customer: m.Role == RoleHuman, Content: m.Content})
	}

	summary := e.memory.GetOrCreate(ctx, req.ConversationID, req.BusinessID, executionID, turns)
	if summary == nil {
		return nil
	}
	return &SummarySnapshot{Text: summary.Text, Topics: summary.Topics}
}

// finish closes the execution row, detached from the turn context so a
// timed-out turn still gets its terminal status.
func (e *Engine) finish(ctx context.Context, fin *store.FinishAgentExecution) {
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if err := e.store.FinishAgentExecution(finishCtx, fin); err != nil {
		slog.Error("Engine: failed to finish execution",
			"execution_id", fin.ID,
			"status", string(fin.Status),
			"error", err,
		)
	}
}
