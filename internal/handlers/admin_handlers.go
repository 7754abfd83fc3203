package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/graphrag"
)

// HealthChecker is any collaborator with a liveness probe.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// AdminHandler exposes cache management and health endpoints.
type AdminHandler struct {
	pipeline *graphrag.Pipeline
	graph    HealthChecker
	llm      HealthChecker
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(pipeline *graphrag.Pipeline, graph, llm HealthChecker) *AdminHandler {
	return &AdminHandler{pipeline: pipeline, graph: graph, llm: llm}
}

// ClearResponseCache handles DELETE /admin/cache/response
func (h *AdminHandler) ClearResponseCache(c *gin.Context) {
	cleared := h.pipeline.ClearResponseCache()
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"entries_cleared": cleared,
	})
}

// Health handles GET /health, aggregating collaborator probes.
func (h *AdminHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	neo4jStatus := "ok"
	if err := h.graph.Health(ctx); err != nil {
		neo4jStatus = err.Error()
		status = http.StatusServiceUnavailable
	}
	ollamaStatus := "ok"
	if err := h.llm.Health(ctx); err != nil {
		ollamaStatus = err.Error()
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"neo4j":  neo4jStatus,
		"ollama": ollamaStatus,
	})
}
