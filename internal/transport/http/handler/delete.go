package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openpermissions/chubindex/internal/domain"
)

// indexDeleter is the subset of indexstore.Client the delete handler needs.
type indexDeleter interface {
	Delete(ctx context.Context, entityType string, ids []domain.RepositoryLookup, repositoryID string) (invalid []domain.RepositoryLookup, err error)
}

type DeleteHandler struct {
	store  indexDeleter
	logger *slog.Logger
}

func NewDeleteHandler(store indexDeleter, logger *slog.Logger) *DeleteHandler {
	return &DeleteHandler{store: store, logger: logger.With("component", "delete_handler")}
}

// Delete handles
// DELETE /entity-types/{entity_type}/id-types/{source_id_type}/ids/{source_id}/repositories/{repository_id}
// source_id_type and source_id may each be a comma-separated list, provided
// both lists are the same length — the full identifier set must exactly
// match the entity's, or nothing is deleted.
func (h *DeleteHandler) Delete(c *gin.Context) {
	entityType := c.Param("entity_type")
	repositoryID := c.Param("repository_id")

	idTypes := strings.Split(c.Param("source_id_type"), ",")
	ids := strings.Split(c.Param("source_id"), ",")
	if len(idTypes) != len(ids) {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": errMismatchedLists})
		return
	}

	lookups := make([]domain.RepositoryLookup, len(ids))
	for i := range ids {
		lookups[i] = domain.RepositoryLookup{SourceIDType: idTypes[i], SourceID: ids[i]}
	}

	invalid, err := h.store.Delete(c.Request.Context(), entityType, lookups, repositoryID)
	if err != nil {
		h.logger.Error("delete entity", "repository_id", repositoryID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": errInternalServer})
		return
	}
	if len(invalid) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": errInvalidInput, "data": invalid})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
