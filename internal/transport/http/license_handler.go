// Package http contains the HTTP transport layer of the licensing service.
// Handlers bind and validate requests, delegate to the services, and map
// entitlement errors onto the wire taxonomy.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "signcast/internal/errors"
	customMiddleware "signcast/internal/middleware"
	"signcast/internal/services"
	"signcast/pkg/contracts/domain"
)

var validate = validator.New()

// LicenseHandler handles the device-facing entitlement endpoints
type LicenseHandler struct {
	service services.EntitlementService
	logger  *slog.Logger
}

// NewLicenseHandler creates a license handler
func NewLicenseHandler(service services.EntitlementService, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// Routes returns a chi router for the entitlement endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(customMiddleware.Timeout(30 * time.Second))

	r.Post("/activate", h.Activate)
	r.Post("/validate", h.Validate)
	r.Post("/refresh", h.Refresh)
	r.Post("/deactivate", h.Deactivate)

	return r
}

// Activate handles POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := customMiddleware.GetReqID(ctx)
	tracer := otel.Tracer("license-handler")

	ctx, span := tracer.Start(ctx, "license_handler.activate",
		trace.WithAttributes(
			attribute.String("http.route", "/api/license/activate"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	var req domain.ActivationRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}
	if err := validate.Struct(&req); err != nil {
		span.SetAttributes(attribute.String("error.type", "validation"))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}

	h.logger.InfoContext(ctx, "activation request received",
		slog.String("request_id", reqID),
		slog.String("device_id", req.DeviceID),
		slog.String("app_type", string(req.AppType)))

	resp, err := h.service.Activate(ctx, req, r.RemoteAddr)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("entitlement.result", apierrors.EntitlementCode(err)))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ToAPIError(err)))
		return
	}

	span.SetAttributes(attribute.String("entitlement.result", "success"))
	render.JSON(w, r, resp)
}

// Validate handles POST /api/license/validate. It always answers 200 with a
// flag; device UIs branch on the body rather than on status codes.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.ValidateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}
	if err := validate.Struct(&req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}

	resp := h.service.Validate(ctx, req)
	render.JSON(w, r, resp)
}

// Refresh handles POST /api/license/refresh
func (h *LicenseHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := customMiddleware.GetReqID(ctx)

	var req domain.RefreshRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}
	if err := validate.Struct(&req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}

	resp, err := h.service.Refresh(ctx, req, r.RemoteAddr)
	if err != nil {
		h.logger.InfoContext(ctx, "refresh denied",
			slog.String("request_id", reqID),
			slog.String("device_id", req.DeviceID),
			slog.String("reason", apierrors.EntitlementCode(err)))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ToAPIError(err)))
		return
	}

	render.JSON(w, r, resp)
}

// Deactivate handles POST /api/license/deactivate
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.DeactivateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}
	if err := validate.Struct(&req); err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.InvalidRequestWithError(err)))
		return
	}

	resp, err := h.service.Deactivate(ctx, req, r.RemoteAddr)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ToAPIError(err)))
		return
	}

	render.JSON(w, r, resp)
}
