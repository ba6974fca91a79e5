package handler

import (
	"context"
	"net/http"
	"strconv"

	"oparl-geo/internal/models"

	"github.com/gin-gonic/gin"
)

// StateHandler serves read-only views of the processing ledger
type StateHandler struct {
	service StateService
}

type StateService interface {
	Stats(ctx context.Context) (models.StateStatistics, error)
	Failed(ctx context.Context, resourceType string) ([]models.ProcessedResource, error)
	Checkpoint(ctx context.Context, resourceType string) (*models.Checkpoint, error)
	Runs(ctx context.Context, limit int) ([]models.PipelineRun, error)
}

func NewStateHandler(svc StateService) *StateHandler {
	return &StateHandler{service: svc}
}

// Stats handles GET /state/stats requests
func (h *StateHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Failed handles GET /state/failed requests
func (h *StateHandler) Failed(c *gin.Context) {
	failed, err := h.service.Failed(c.Request.Context(), c.Query("type"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, failed)
}

// Checkpoint handles GET /state/checkpoint requests. The type defaults to
// paper.
func (h *StateHandler) Checkpoint(c *gin.Context) {
	cp, err := h.service.Checkpoint(c.Request.Context(), c.DefaultQuery("type", "paper"))
	if err != nil {
		respondError(c, err)
		return
	}
	if cp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no checkpoint recorded"})
		return
	}
	c.JSON(http.StatusOK, cp.Fields())
}

// Runs handles GET /state/runs requests
func (h *StateHandler) Runs(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit format"})
			return
		}
		limit = n
	}

	runs, err := h.service.Runs(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}
