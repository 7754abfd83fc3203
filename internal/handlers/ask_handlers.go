package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/graphrag"
	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/models"
)

// AskRequest is the body for question endpoints.
type AskRequest struct {
	Query string `json:"query" binding:"required"`
}

// AskHandler exposes the question-answering pipeline.
type AskHandler struct {
	pipeline *graphrag.Pipeline
}

// NewAskHandler creates an AskHandler.
func NewAskHandler(pipeline *graphrag.Pipeline) *AskHandler {
	return &AskHandler{pipeline: pipeline}
}

// Ask handles POST /ask
func (h *AskHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "bad_request",
			Message: "query is required",
		})
		return
	}

	response := h.pipeline.Answer(c.Request.Context(), req.Query)
	c.JSON(http.StatusOK, response)
}

// Classify handles POST /intent
func (h *AskHandler) Classify(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "bad_request",
			Message: "query is required",
		})
		return
	}

	report, err := h.pipeline.Classify(c.Request.Context(), req.Query)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "bad_request",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, report)
}
