// Package server exposes the agent over HTTP: the chat route, agent
// configuration management, knowledge-base stats, health and metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/atiendohq/atiendo/ai/core/embedding"
	"github.com/atiendohq/atiendo/ai/core/llm"
	"github.com/atiendohq/atiendo/ai/engine"
	"github.com/atiendohq/atiendo/ai/kb"
	"github.com/atiendohq/atiendo/ai/memory"
	"github.com/atiendohq/atiendo/ai/metrics"
	"github.com/atiendohq/atiendo/ai/tracker"
	"github.com/atiendohq/atiendo/internal/profile"
	"github.com/atiendohq/atiendo/store"
)

// chatEngine is the slice of the engine the HTTP layer needs.
type chatEngine interface {
	Chat(ctx context.Context, req *engine.ChatRequest) (*engine.ChatResponse, error)
}

// Server is the HTTP surface of the agent.
type Server struct {
	e *echo.Echo

	Profile *profile.Profile
	Store   *store.Store

	engine    chatEngine
	knowledge *kb.KnowledgeBase
	metrics   *metrics.PrometheusExporter
}

// NewServer wires the agent services and registers the HTTP routes.
func NewServer(_ context.Context, p *profile.Profile, s *store.Store) (*Server, error) {
	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())
	track := tracker.New(s)

	factory, err := llm.NewFactory(
		&llm.Config{
			Provider: "openai",
			APIKey:   p.OpenAIAPIKey,
			BaseURL:  p.OpenAIBaseURL,
			Timeout:  p.LLMTimeout,
		},
		&llm.Config{
			Provider: "groq",
			APIKey:   p.GroqAPIKey,
			BaseURL:  p.GroqBaseURL,
			Timeout:  p.LLMTimeout,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm factory: %w", err)
	}

	embedder, err := embedding.NewService(&embedding.Config{
		APIKey:     p.OpenAIAPIKey,
		BaseURL:    p.OpenAIBaseURL,
		Model:      p.EmbeddingModel,
		Dimensions: p.EmbeddingDimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding service: %w", err)
	}

	knowledge := kb.New(s, embedder, track)

	summaryLLM, err := factory.Service("openai")
	if err != nil {
		return nil, err
	}
	mem := memory.New(s, summaryLLM, track, p.SummaryModel)

	srv := &Server{
		e:         echo.New(),
		Profile:   p,
		Store:     s,
		engine:    engine.New(s, factory, knowledge, mem, track, exporter, p),
		knowledge: knowledge,
		metrics:   exporter,
	}

	srv.e.HideBanner = true
	srv.e.HidePort = true
	srv.e.Use(
		middleware.Recover(),
		middleware.CORS(),
	)
	srv.registerRoutes()

	return srv, nil
}

func (s *Server) registerRoutes() {
	s.e.GET("/healthz", s.handleHealthz)
	s.e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	v1 := s.e.Group("/api/v1")
	v1.POST("/chat", s.handleChat)
	v1.POST("/agent/config", s.handleEnsureConfig)
	v1.GET("/agent/config/:businessID", s.handleGetConfig)
	v1.GET("/knowledge/stats/:businessID", s.handleKnowledgeStats)
}

// Start begins serving in the background. Startup failures other than
// a regular shutdown are logged, not returned: the caller waits on the
// signal handler, matching the main loop.
func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	go func() {
		if err := s.e.Start(address); err != nil && err != http.ErrServerClosed {
			slog.Error("Server: failed to start", "address", address, "error", err)
		}
	}()
	slog.Info("Server: listening", "address", address, "mode", s.Profile.Mode)
	return nil
}

// Shutdown drains in-flight requests and closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.e.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server: failed to shut down", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("Server: failed to close store", "error", err)
	}
	slog.Info("Server: stopped")
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
