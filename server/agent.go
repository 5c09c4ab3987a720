package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/atiendohq/atiendo/store"
)

// EnsureConfigRequest creates the default agent configuration for a
// business when none exists yet.
type EnsureConfigRequest struct {
	BusinessID   string `json:"business_id"`
	BusinessName string `json:"business_name"`
}

// AgentConfigResponse is the externally visible slice of an agent
// configuration. Prompt layers stay internal.
type AgentConfigResponse struct {
	BusinessID   string `json:"business_id"`
	BusinessName string `json:"business_name"`
	Enabled      bool   `json:"enabled"`

	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature *float32 `json:"temperature,omitempty"`

	EnableDynamicVariables   bool `json:"enable_dynamic_variables"`
	EnableConversationMemory bool `json:"enable_conversation_memory"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Server) handleEnsureConfig(c echo.Context) error {
	req := &EnsureConfigRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request").SetInternal(err)
	}
	if req.BusinessID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "business_id is required")
	}

	cfg, err := s.Store.EnsureAgentConfig(c.Request().Context(), req.BusinessID, req.BusinessName)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to ensure agent config").SetInternal(err)
	}
	return c.JSON(http.StatusOK, toConfigResponse(cfg))
}

func (s *Server) handleGetConfig(c echo.Context) error {
	businessID := c.Param("businessID")

	cfg, err := s.Store.GetAgentConfig(c.Request().Context(), businessID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get agent config").SetInternal(err)
	}
	if cfg == nil {
		return echo.NewHTTPError(http.StatusNotFound, "agent not configured for business")
	}
	return c.JSON(http.StatusOK, toConfigResponse(cfg))
}

// KnowledgeStatsResponse summarizes a business's knowledge base.
type KnowledgeStatsResponse struct {
	BusinessID     string     `json:"business_id"`
	TotalDocuments int        `json:"total_documents"`
	TotalChunks    int        `json:"total_chunks"`
	AvgChunkChars  float64    `json:"avg_chunk_chars"`
	LastIndexedAt  *time.Time `json:"last_indexed_at,omitempty"`
}

func (s *Server) handleKnowledgeStats(c echo.Context) error {
	businessID := c.Param("businessID")

	stats, err := s.knowledge.Stats(c.Request().Context(), businessID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get knowledge stats").SetInternal(err)
	}
	return c.JSON(http.StatusOK, &KnowledgeStatsResponse{
		BusinessID:     businessID,
		TotalDocuments: stats.TotalDocuments,
		TotalChunks:    stats.TotalChunks,
		AvgChunkChars:  stats.AvgChunkChars,
		LastIndexedAt:  stats.LastIndexedAt,
	})
}

func toConfigResponse(cfg *store.AgentConfig) *AgentConfigResponse {
	return &AgentConfigResponse{
		BusinessID:               cfg.BusinessID,
		BusinessName:             cfg.BusinessName,
		Enabled:                  cfg.Enabled,
		Provider:                 cfg.Provider,
		Model:                    cfg.Model,
		MaxTokens:                cfg.MaxTokens,
		Temperature:              cfg.Temperature,
		EnableDynamicVariables:   cfg.EnableDynamicVariables,
		EnableConversationMemory: cfg.EnableConversationMemory,
		UpdatedAt:                cfg.UpdatedAt,
	}
}
