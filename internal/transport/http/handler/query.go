package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openpermissions/chubindex/internal/domain"
)

// indexQuerier is the subset of indexstore.Client the query handler needs.
type indexQuerier interface {
	Query(ctx context.Context, inputs []domain.RepositoryLookup, relatedDepth int) (results []domain.LookupResult, invalid []domain.RepositoryLookup, err error)
}

type QueryHandler struct {
	store           indexQuerier
	maxRelatedDepth int
	logger          *slog.Logger
}

func NewQueryHandler(store indexQuerier, maxRelatedDepth int, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{
		store:           store,
		maxRelatedDepth: maxRelatedDepth,
		logger:          logger.With("component", "query_handler"),
	}
}

func (h *QueryHandler) clampDepth(raw string) int {
	depth, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	if depth < 0 {
		return 0
	}
	if depth > h.maxRelatedDepth {
		return h.maxRelatedDepth
	}
	return depth
}

// GetOne handles
// GET /entity-types/{entity_type}/id-types/{source_id_type}/ids/{source_id}/repositories
func (h *QueryHandler) GetOne(c *gin.Context) {
	input := domain.RepositoryLookup{
		SourceIDType: c.Param("source_id_type"),
		SourceID:     c.Param("source_id"),
	}
	depth := h.clampDepth(c.Query("related_depth"))

	results, invalid, err := h.store.Query(c.Request.Context(), []domain.RepositoryLookup{input}, depth)
	if err != nil {
		h.logger.Error("query index store", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": errInternalServer})
		return
	}
	if len(invalid) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": errInvalidInput, "data": invalid})
		return
	}

	result := results[0]
	if len(result.Repositories) == 0 && len(result.Relations) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": errSourceIDNotFound})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": result})
}

// PostBulk handles POST /entity-types/{entity_type}/repositories with a
// JSON array body of {source_id, source_id_type}.
func (h *QueryHandler) PostBulk(c *gin.Context) {
	var inputs []domain.RepositoryLookup
	if err := c.ShouldBindJSON(&inputs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}

	depth := h.clampDepth(c.Query("related_depth"))

	results, invalid, err := h.store.Query(c.Request.Context(), inputs, depth)
	if err != nil {
		h.logger.Error("query index store", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": errInternalServer})
		return
	}
	if len(invalid) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": errInvalidInput, "data": invalid})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": results})
}
