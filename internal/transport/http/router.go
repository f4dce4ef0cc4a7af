package httptransport

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/openpermissions/chubindex/internal/transport/http/handler"
	"github.com/openpermissions/chubindex/internal/transport/http/middleware"
)

// NewRouter builds the query front-end's HTTP surface (§6): bulk and
// single-input lookup, bounded deletion, notification intake, and the
// banner/health endpoints. Metrics are served on a separate port (see
// internal/metrics.NewServer), mirroring the host stack's split.
func NewRouter(logger *slog.Logger, query *handler.QueryHandler, notify *handler.NotifyHandler, del *handler.DeleteHandler, health *handler.HealthHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), sloggin.New(logger), middleware.Metrics())

	r.GET("/", handler.Banner)
	r.GET("/healthz", health.Liveness)
	r.GET("/readyz", health.Readiness)

	r.POST("/notifications", notify.Create)

	entityTypes := r.Group("/entity-types/:entity_type")
	entityTypes.GET("/id-types/:source_id_type/ids/:source_id/repositories", query.GetOne)
	entityTypes.POST("/repositories", query.PostBulk)
	entityTypes.DELETE("/id-types/:source_id_type/ids/:source_id/repositories/:repository_id", del.Delete)

	return r
}
