package store

import "time"

// ExecutionStatus is the lifecycle state of an agent execution.
type ExecutionStatus string

const (
	ExecutionActive    ExecutionStatus = "active"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionHandoff   ExecutionStatus = "handoff"
)

// AgentExecution is one turn of the agent (ai.agent_executions).
// A row is inserted as active when the turn starts and finished with
// exactly one terminal status.
type AgentExecution struct {
	ID             string
	BusinessID     string
	ConversationID string
	Status         ExecutionStatus
	StartedAt      time.Time
}

// FinishAgentExecution closes an execution row with its terminal
// status and accumulated turn totals. Metadata is merged into the
// existing jsonb column.
type FinishAgentExecution struct {
	ID           string
	Status       ExecutionStatus
	NodesVisited []string
	TokensUsed   int
	Cost         float64
	Error        *string
	Metadata     map[string]any
}
