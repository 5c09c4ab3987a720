package store

import (
	"context"
)

// Driver is an interface for the database layer.
type Driver interface {
	GetDB() any
	Close() error

	// AgentConfig
	GetAgentConfig(ctx context.Context, businessID string) (*AgentConfig, error)
	CreateAgentConfig(ctx context.Context, create *AgentConfig) (*AgentConfig, error)
	UpdateAgentConfig(ctx context.Context, update *UpdateAgentConfig) (*AgentConfig, error)

	// Knowledge base
	CountChunksWithEmbeddings(ctx context.Context, businessID string) (int, error)
	SemanticSearch(ctx context.Context, find *SemanticSearch) ([]*Chunk, error)
	HybridSearch(ctx context.Context, find *HybridSearch) ([]*Chunk, error)
	GetKnowledgeStats(ctx context.Context, businessID string) (*KnowledgeStats, error)

	// Agent executions
	CreateAgentExecution(ctx context.Context, create *AgentExecution) error
	FinishAgentExecution(ctx context.Context, finish *FinishAgentExecution) error

	// Analytics
	CreateLLMCall(ctx context.Context, create *LLMCall) error
	CreateRAGMetrics(ctx context.Context, create *RAGMetrics) error
	CreateToolExecution(ctx context.Context, create *ToolExecution) error

	// Conversation summaries
	GetConversationSummary(ctx context.Context, conversationID string) (*ConversationSummary, error)
	UpsertConversationSummary(ctx context.Context, conversationID string, summary *ConversationSummary) error
}

// Store provides database access to all raw objects.
type Store struct {
	driver Driver
}

// New creates a new instance of Store.
func New(driver Driver) *Store {
	return &Store{driver: driver}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) GetAgentConfig(ctx context.Context, businessID string) (*AgentConfig, error) {
	return s.driver.GetAgentConfig(ctx, businessID)
}

func (s *Store) CreateAgentConfig(ctx context.Context, create *AgentConfig) (*AgentConfig, error) {
	return s.driver.CreateAgentConfig(ctx, create)
}

func (s *Store) UpdateAgentConfig(ctx context.Context, update *UpdateAgentConfig) (*AgentConfig, error) {
	return s.driver.UpdateAgentConfig(ctx, update)
}

func (s *Store) CountChunksWithEmbeddings(ctx context.Context, businessID string) (int, error) {
	return s.driver.CountChunksWithEmbeddings(ctx, businessID)
}

func (s *Store) SemanticSearch(ctx context.Context, find *SemanticSearch) ([]*Chunk, error) {
	return s.driver.SemanticSearch(ctx, find)
}

func (s *Store) HybridSearch(ctx context.Context, find *HybridSearch) ([]*Chunk, error) {
	return s.driver.HybridSearch(ctx, find)
}

func (s *Store) GetKnowledgeStats(ctx context.Context, businessID string) (*KnowledgeStats, error) {
	return s.driver.GetKnowledgeStats(ctx, businessID)
}

func (s *Store) CreateAgentExecution(ctx context.Context, create *AgentExecution) error {
	return s.driver.CreateAgentExecution(ctx, create)
}

func (s *Store) FinishAgentExecution(ctx context.Context, finish *FinishAgentExecution) error {
	return s.driver.FinishAgentExecution(ctx, finish)
}

func (s *Store) CreateLLMCall(ctx context.Context, create *LLMCall) error {
	return s.driver.CreateLLMCall(ctx, create)
}

func (s *Store) CreateRAGMetrics(ctx context.Context, create *RAGMetrics) error {
	return s.driver.CreateRAGMetrics(ctx, create)
}

func (s *Store) CreateToolExecution(ctx context.Context, create *ToolExecution) error {
	return s.driver.CreateToolExecution(ctx, create)
}

func (s *Store) GetConversationSummary(ctx context.Context, conversationID string) (*ConversationSummary, error) {
	return s.driver.GetConversationSummary(ctx, conversationID)
}

func (s *Store) UpsertConversationSummary(ctx context.Context, conversationID string, summary *ConversationSummary) error {
	return s.driver.UpsertConversationSummary(ctx, conversationID, summary)
}
