package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "signcast/internal/errors"
	"signcast/internal/infrastructure"
	"signcast/internal/services"
)

// adminKeyHeader carries the admin API key
const adminKeyHeader = "X-Admin-Key"

// AdminHandler handles the administrative endpoints
type AdminHandler struct {
	service services.AdminService
	logger  *slog.Logger
}

// NewAdminHandler creates an admin handler
func NewAdminHandler(service services.AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "admin")),
	}
}

// Routes returns a chi router for the admin endpoints
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/licenses", h.CreateLicense)
		r.Get("/licenses/{id}", h.GetLicense)
		r.Patch("/licenses/{id}", h.UpdateLicense)
		r.Get("/licenses/{id}/audit", h.ListAudit)
	})

	return r
}

// requireAuth guards the admin surface. Login is the only audited check;
// the rest authorize silently to keep the ledger readable.
func (h *AdminHandler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.service.Authorize(r.Header.Get(adminKeyHeader)); err != nil {
			render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Login handles POST /api/admin/login
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.service.Login(ctx, r.Header.Get(adminKeyHeader), r.RemoteAddr); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrUnauthorized))
		return
	}

	render.JSON(w, r, map[string]bool{"success": true})
}

// CreateLicense handles POST /api/admin/licenses
func (h *AdminHandler) CreateLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req services.CreateLicenseRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}
	if err := validate.Struct(&req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}

	record, err := h.service.CreateLicense(ctx, req, r.RemoteAddr)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "license created via admin api",
		slog.String("license_id", record.ID))

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, record)
}

// GetLicense handles GET /api/admin/licenses/{id}
func (h *AdminHandler) GetLicense(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.GetLicense(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, record)
}

// UpdateLicense handles PATCH /api/admin/licenses/{id}
func (h *AdminHandler) UpdateLicense(w http.ResponseWriter, r *http.Request) {
	var req services.UpdateLicenseRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}

	record, err := h.service.UpdateLicense(r.Context(), chi.URLParam(r, "id"), req, r.RemoteAddr)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, record)
}

// ListAudit handles GET /api/admin/licenses/{id}/audit
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	records, err := h.service.ListAudit(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, records)
}

func (h *AdminHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := err.(*apierrors.APIError)
	if !ok {
		apiErr = apierrors.ToAPIError(err)
	}
	if apiErr.StatusCode >= http.StatusInternalServerError {
		infrastructure.LoggerWithContext(r.Context()).Error("admin request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	render.Render(w, r, apierrors.NewErrorResponse(apiErr))
}
