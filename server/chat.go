package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/atiendohq/atiendo/ai/engine"
)

// ChatRequest is one customer message plus the conversation history
// the caller already holds. History roles are "user" and "assistant".
type ChatRequest struct {
	BusinessID     string        `json:"business_id"`
	ConversationID string        `json:"conversation_id"`
	CustomerPhone  string        `json:"customer_phone"`
	CustomerName   string        `json:"customer_name"`
	Message        string        `json:"message"`
	History        []ChatMessage `json:"history"`
}

// ChatMessage is one prior turn of the conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the outcome of one agent turn.
type ChatResponse struct {
	Reply       string `json:"reply"`
	ExecutionID string `json:"execution_id"`

	Intent     string  `json:"intent"`
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
	Handoff    bool    `json:"handoff"`

	NodesVisited []string `json:"nodes_visited"`
	TokensUsed   int      `json:"tokens_used"`
	CostUSD      float64  `json:"cost_usd"`
	DurationMs   int64    `json:"duration_ms"`
}

func (s *Server) handleChat(c echo.Context) error {
	req := &ChatRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request").SetInternal(err)
	}
	if req.BusinessID == "" || req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "business_id and message are required")
	}

	history, err := convertHistory(req.History)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	resp, err := s.engine.Chat(c.Request().Context(), &engine.ChatRequest{
		BusinessID:     req.BusinessID,
		ConversationID: req.ConversationID,
		CustomerPhone:  req.CustomerPhone,
		CustomerName:   req.CustomerName,
		Message:        req.Message,
		History:        history,
	})
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrAgentNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "agent not configured for business")
		case errors.Is(err, engine.ErrAgentDisabled):
			return echo.NewHTTPError(http.StatusForbidden, "agent is disabled for business")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "chat turn failed").SetInternal(err)
		}
	}

	return c.JSON(http.StatusOK, &ChatResponse{
		Reply:        resp.Reply,
		ExecutionID:  resp.ExecutionID,
		Intent:       string(resp.Intent),
		Sentiment:    string(resp.Sentiment),
		Confidence:   resp.Confidence,
		Handoff:      resp.Handoff,
		NodesVisited: resp.NodesVisited,
		TokensUsed:   resp.TokensUsed,
		CostUSD:      resp.Cost,
		DurationMs:   resp.DurationMs,
	})
}

func convertHistory(history []ChatMessage) ([]engine.Message, error) {
	messages := make([]engine.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case "user":
			messages = append(messages, engine.HumanMessage(m.Content))
		case "assistant":
			messages = append(messages, engine.AIMessage(m.Content))
		default:
			return nil, fmt.Errorf("unknown history role %q", m.Role)
		}
	}
	return messages, nil
}
