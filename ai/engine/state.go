package engine

import "time"

// Role identifies who produced a conversation message.
type Role string

const (
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
	RoleSystem Role = "system"
)

// Message is one conversation message inside a turn.
type Message struct {
	Role    Role
	Content string
}

// HumanMessage creates a customer message.
func HumanMessage(content string) Message {
	return Message{Role: RoleHuman, Content: content}
}

// AIMessage creates an assistant message.
func AIMessage(content string) Message {
	return Message{Role: RoleAI, Content: content}
}

// Intent classifies what the customer wants.
type Intent string

const (
	IntentGreeting     Intent = "greeting"
	IntentQuestion     Intent = "question"
	IntentComplaint    Intent = "complaint"
	IntentRequestHuman Intent = "request_human"
	IntentOther        Intent = "other"
)

// Sentiment is the detected customer mood.
type Sentiment string

const (
	SentimentVeryPositive Sentiment = "very_positive"
	SentimentPositive     Sentiment = "positive"
	SentimentNeutral      Sentiment = "neutral"
	SentimentNegative     Sentiment = "negative"
	SentimentVeryNegative Sentiment = "very_negative"
)

// SearchStrategy selects the retrieval expansion mode.
type SearchStrategy string

const (
	SearchExact      SearchStrategy = "exact"
	SearchBroad      SearchStrategy = "broad"
	SearchMultiQuery SearchStrategy = "multi_query"
	SearchNone       SearchStrategy = "none"
)

// Complexity is the orchestrator's difficulty estimate.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// ResponseStrategy is the orchestrator's plan for the reply.
type ResponseStrategy string

const (
	RespondDirect      ResponseStrategy = "direct"
	RespondWithContext ResponseStrategy = "with_context"
	RespondMultiStep   ResponseStrategy = "multi_step"
	RespondDeflect     ResponseStrategy = "deflect"
)

// RoutingDecision is where the orchestrator sends the turn next.
type RoutingDecision string

const (
	RouteForceHandoff      RoutingDecision = "force_handoff"
	RouteSuggestHandoff    RoutingDecision = "suggest_handoff"
	RouteGreet             RoutingDecision = "greet"
	RouteRetrieveKnowledge RoutingDecision = "retrieve_knowledge"
	RouteDirectRespond     RoutingDecision = "direct_respond"
)

// State carries everything a turn accumulates while walking the graph.
// Nodes never mutate it directly; they return an Update which the
// executor merges.
type State struct {
	// Conversation
	Messages []Message

	// Customer
	CustomerPhone string
	CustomerName  string

	// Business context
	BusinessID     string
	ConversationID string
	BusinessName   string

	// Classification
	Intent         Intent
	Sentiment      Sentiment
	IsFirstMessage bool

	// Planning (set by smart router or orchestrator)
	Confidence            float64
	NeedsKnowledgeBase    bool
	KBSearchStrategy      SearchStrategy
	SearchQueries         []string
	Complexity            Complexity
	ResponseStrategy      ResponseStrategy
	ShouldHandoff         bool
	HandoffReason         string
	OrchestratorReasoning string
	UseFullOrchestrator   bool
	SuggestHandoff        bool
	RoutingDecision       RoutingDecision

	// Conversation memory
	Summary *SummarySnapshot

	// Knowledge base
	RetrievedDocs []string

	// Validation
	ValidationPassed   bool
	ValidationScore    float64
	ValidationIssues   []string
	ValidationFeedback string
	WasRetried         bool

	// Tracking
	NodesVisited []string
	ToolsUsed    []string
	ExecutionID  string
	StartedAt    time.Time

	// RAG telemetry surfaced to the execution record.
	RAG *RAGSnapshot
}

// SummarySnapshot is the conversation memory visible to nodes.
type SummarySnapshot struct {
	Text   string
	Topics []string
}

// RAGSnapshot summarizes the retrieval run for execution metadata.
type RAGSnapshot struct {
	ChunksRetrieved int
	ChunksReturned  int
	QueriesExecuted int
	RerankApplied   bool
	FallbackUsed    bool
	DurationMs      int64
}

// Visited reports whether a node already ran this turn.
func (s *State) Visited(node string) bool {
	for _, v := range s.NodesVisited {
		if v == node {
			return true
		}
	}
	return false
}

// lastHumanMessage returns the most recent customer message.
func (s *State) lastHumanMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleHuman {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// lastAIMessage returns the most recent assistant message.
func (s *State) lastAIMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAI {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// humanMessageCount counts customer messages.
func (s *State) humanMessageCount() int {
	n := 0
	for _, m := range s.Messages {
		if m.Role == RoleHuman {
			n++
		}
	}
	return n
}

// Update is the partial state change a node returns. Messages are
// appended, slices replace only when set, and scalars overwrite only
// when their pointer is non-nil. The executor appends the node name to
// NodesVisited itself, keeping execution order authoritative.
type Update struct {
	AppendMessages []Message
	// ReplaceLastAI swaps the most recent assistant message instead of
	// appending, used by the retry node.
	ReplaceLastAI *Message

	Intent         *Intent
	Sentiment      *Sentiment
	IsFirstMessage *bool

	Confidence            *float64
	NeedsKnowledgeBase    *bool
	KBSearchStrategy      *SearchStrategy
	SearchQueries         []string
	SearchQueriesSet      bool
	Complexity            *Complexity
	ResponseStrategy      *ResponseStrategy
	ShouldHandoff         *bool
	HandoffReason         *string
	OrchestratorReasoning *string
	UseFullOrchestrator   *bool
	SuggestHandoff        *bool
	RoutingDecision       *RoutingDecision

	RetrievedDocs    []string
	RetrievedDocsSet bool

	ValidationPassed   *bool
	ValidationScore    *float64
	ValidationIssues   []string
	ValidationFeedback *string
	WasRetried         *bool

	AppendToolsUsed []string

	RAG *RAGSnapshot
}

// apply merges an update into the state.
func (s *State) apply(u *Update) {
	if u == nil {
		return
	}

	if u.ReplaceLastAI != nil {
		replaced := false
		for i := len(s.Messages) - 1; i >= 0; i-- {
			if s.Messages[i].Role == RoleAI {
				s.Messages[i] = *u.ReplaceLastAI
				replaced = true
				break
			}
		}
		if !replaced {
			s.Messages = append(s.Messages, *u.ReplaceLastAI)
		}
	}
	s.Messages = append(s.Messages, u.AppendMessages...)
	s.ToolsUsed = append(s.ToolsUsed, u.AppendToolsUsed...)

	if u.Intent != nil {
		s.Intent = *u.Intent
	}
	if u.Sentiment != nil {
		s.Sentiment = *u.Sentiment
	}
	if u.IsFirstMessage != nil {
		s.IsFirstMessage = *u.IsFirstMessage
	}
	if u.Confidence != nil {
		s.Confidence = *u.Confidence
	}
	if u.NeedsKnowledgeBase != nil {
		s.NeedsKnowledgeBase = *u.NeedsKnowledgeBase
	}
	if u.KBSearchStrategy != nil {
		s.KBSearchStrategy = *u.KBSearchStrategy
	}
	if u.SearchQueriesSet {
		s.SearchQueries = u.SearchQueries
	}
	if u.Complexity != nil {
		s.Complexity = *u.Complexity
	}
	if u.ResponseStrategy != nil {
		s.ResponseStrategy = *u.ResponseStrategy
	}
	if u.ShouldHandoff != nil {
		s.ShouldHandoff = *u.ShouldHandoff
	}
	if u.HandoffReason != nil {
		s.HandoffReason = *u.HandoffReason
	}
	if u.OrchestratorReasoning != nil {
		s.OrchestratorReasoning = *u.OrchestratorReasoning
	}
	if u.UseFullOrchestrator != nil {
		s.UseFullOrchestrator = *u.UseFullOrchestrator
	}
	if u.SuggestHandoff != nil {
		s.SuggestHandoff = *u.SuggestHandoff
	}
	if u.RoutingDecision != nil {
		s.RoutingDecision = *u.RoutingDecision
	}
	if u.RetrievedDocsSet {
		s.RetrievedDocs = u.RetrievedDocs
	}
	if u.ValidationPassed != nil {
		s.ValidationPassed = *u.ValidationPassed
	}
	if u.ValidationScore != nil {
		s.ValidationScore = *u.ValidationScore
	}
	if u.ValidationIssues != nil {
		s.ValidationIssues = u.ValidationIssues
	}
	if u.ValidationFeedback != nil {
		s.ValidationFeedback = *u.ValidationFeedback
	}
	if u.WasRetried != nil {
		s.WasRetried = *u.WasRetried
	}
	if u.RAG != nil {
		s.RAG = u.RAG
	}
}

// Pointer helpers keep Update literals readable.

func ptr[T any](v T) *T { return &v }
