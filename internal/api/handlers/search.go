// Package handlers exposes the search engine over HTTP.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/metasearch-io/metasearch/internal/health"
	"github.com/metasearch-io/metasearch/internal/models"
	"github.com/metasearch-io/metasearch/internal/router"
	"github.com/metasearch-io/metasearch/pkg/utils"
)

type SearchHandler struct {
	router  *router.Router
	checker *health.Checker
	logger  *logrus.Logger
}

func NewSearchHandler(r *router.Router, checker *health.Checker, logger *logrus.Logger) *SearchHandler {
	return &SearchHandler{router: r, checker: checker, logger: logger}
}

// Register mounts every endpoint on the given group.
func (h *SearchHandler) Register(api *gin.RouterGroup) {
	api.POST("/search", h.Search)
	api.GET("/health", h.Health)
	api.GET("/providers", h.Providers)
	api.GET("/cache/stats", h.CacheStats)
	api.DELETE("/cache", h.ClearCache)
	api.DELETE("/cache/:type", h.InvalidateCacheType)
}

// Search handles POST /search.
func (h *SearchHandler) Search(c *gin.Context) {
	var req models.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	response, err := h.router.Search(c.Request.Context(), models.Query{
		Text:       req.Query,
		QueryType:  req.QueryType,
		MaxResults: req.MaxResults,
		Language:   req.Language,
	})
	if err != nil {
		switch {
		case errors.Is(err, router.ErrRateLimited):
			utils.ErrorResponse(c, http.StatusTooManyRequests, "Rate limit exceeded", err)
		case errors.Is(err, router.ErrEmptyQuery):
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid query", err)
		default:
			h.logger.WithError(err).Error("Search failed")
			utils.ErrorResponse(c, http.StatusInternalServerError, "Search failed", err)
		}
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Search completed", response)
}

// Health handles GET /health. Degraded still answers 200; only an
// unhealthy engine reports 503 so load balancers pull it.
func (h *SearchHandler) Health(c *gin.Context) {
	overall := h.checker.Check(c.Request.Context())

	code := http.StatusOK
	if overall.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, overall)
}

// Providers handles GET /providers.
func (h *SearchHandler) Providers(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Provider status", h.router.ProviderStatus(c.Request.Context()))
}

// CacheStats handles GET /cache/stats.
func (h *SearchHandler) CacheStats(c *gin.Context) {
	stats, err := h.router.CacheStats(c.Request.Context())
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to read cache stats", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Cache statistics", stats)
}

// ClearCache handles DELETE /cache.
func (h *SearchHandler) ClearCache(c *gin.Context) {
	if err := h.router.ClearCache(c.Request.Context()); err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to clear cache", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Cache cleared", nil)
}

// InvalidateCacheType handles DELETE /cache/:type.
func (h *SearchHandler) InvalidateCacheType(c *gin.Context) {
	queryType := c.Param("type")
	switch queryType {
	case models.TypeFactual, models.TypeCurrent, models.TypeGeneral:
	default:
		utils.ErrorResponse(c, http.StatusBadRequest, "Unknown query type", nil)
		return
	}

	removed, err := h.router.InvalidateCacheType(c.Request.Context(), queryType)
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to invalidate cache", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Cache entries invalidated", gin.H{
		"query_type": queryType,
		"removed":    removed,
	})
}
