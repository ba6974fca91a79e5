package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"oparl-geo/internal/models"
	"oparl-geo/internal/service"

	"github.com/gin-gonic/gin"
)

// GazetteerHandler handles street and district lookups
type GazetteerHandler struct {
	service GazetteerService
}

// GazetteerService interface for dependency injection
type GazetteerService interface {
	Search(ctx context.Context, query string, limit int) ([]models.GazetteerEntry, error)
	Nearest(ctx context.Context, lat, lon float64) (*models.GazetteerEntry, error)
}

func NewGazetteerHandler(svc GazetteerService) *GazetteerHandler {
	return &GazetteerHandler{service: svc}
}

// Search handles GET /gazetteer/search requests
func (h *GazetteerHandler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required query parameter 'q'"})
		return
	}

	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit format"})
			return
		}
		limit = n
	}

	entries, err := h.service.Search(c.Request.Context(), query, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, entries)
}

// Nearest handles GET /gazetteer/nearest requests
func (h *GazetteerHandler) Nearest(c *gin.Context) {
	latStr := c.Query("lat")
	lonStr := c.Query("lon")

	if latStr == "" || lonStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required query parameters 'lat' and 'lon'"})
		return
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid latitude format"})
		return
	}

	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid longitude format"})
		return
	}

	entry, err := h.service.Nearest(c.Request.Context(), lat, lon)
	if err != nil {
		respondError(c, err)
		return
	}

	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no entry found near the specified coordinates"})
		return
	}

	c.JSON(http.StatusOK, entry)
}

// respondError maps input errors to 400 and hides everything else.
func respondError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
