package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/graphrag"
	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/models"
	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/security"
)

// GraphHandler exposes subgraph visualization data.
type GraphHandler struct {
	pipeline *graphrag.Pipeline
}

// NewGraphHandler creates a GraphHandler.
func NewGraphHandler(pipeline *graphrag.Pipeline) *GraphHandler {
	return &GraphHandler{pipeline: pipeline}
}

// Subgraph handles GET /graph/subgraph?ticker=SPY&top_n=10&min_weight=0.01
func (h *GraphHandler) Subgraph(c *gin.Context) {
	ticker := c.Query("ticker")
	if ticker == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "bad_request",
			Message: "ticker query parameter is required",
		})
		return
	}

	topN := 10
	if raw := c.Query("top_n"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "bad_request",
				Message: "top_n must be a positive integer",
			})
			return
		}
		topN = n
	}

	minWeight := 0.0
	if raw := c.Query("min_weight"); raw != "" {
		w, err := strconv.ParseFloat(raw, 64)
		if err != nil || w < 0 || w > 1 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "bad_request",
				Message: "min_weight must be a number between 0.0 and 1.0",
			})
			return
		}
		minWeight = w
	}

	subgraph, err := h.pipeline.Subgraph(c.Request.Context(), ticker, topN, minWeight)
	if err != nil {
		message := err.Error()
		if errors.Is(err, security.ErrSecurityViolation) {
			message = "query could not be executed"
		}
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "bad_request",
			Message: message,
		})
		return
	}
	c.JSON(http.StatusOK, subgraph)
}
