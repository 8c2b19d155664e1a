package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"gorm.io/gorm"

	"signcast/pkg/contracts"
)

// HealthHandler reports process and dependency health
type HealthHandler struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewHealthHandler creates a health handler
func NewHealthHandler(db *gorm.DB, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		logger: logger.With(slog.String("handler", "health")),
	}
}

// Routes returns a chi router for the health endpoints
func (h *HealthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetHealth)
	r.Get("/live", h.GetLiveness)
	r.Get("/version", h.GetVersion)
	return r
}

// GetHealth handles GET /api/health with a database ping
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "ok"

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "database ping failed",
			slog.String("error", err.Error()))
		status = "degraded"
		dbStatus = "unreachable"
		render.Status(r, http.StatusServiceUnavailable)
	}

	render.JSON(w, r, map[string]interface{}{
		"status":    status,
		"database":  dbStatus,
		"version":   contracts.Version,
		"timestamp": time.Now().UTC(),
	})
}

// GetLiveness handles GET /api/health/live; it never touches dependencies
func (h *HealthHandler) GetLiveness(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// GetVersion handles GET /api/health/version with build information
func (h *HealthHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, contracts.GetVersionInfo())
}
