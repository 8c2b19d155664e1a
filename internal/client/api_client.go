package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	apierrors "signcast/internal/errors"
	"signcast/pkg/contracts/domain"
)

// APIClient talks to the licensing service's device-facing endpoints.
// Transport failures are reported as ErrNetworkUnavailable so callers can
// fall back to the offline grace path.
type APIClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewAPIClient creates a client for the licensing service.
// baseURL is the server root, e.g. "https://license.signcast.io".
func NewAPIClient(baseURL string, timeout time.Duration, logger *slog.Logger) *APIClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "api_client")),
	}
}

// Activate claims a seat for this device
func (c *APIClient) Activate(ctx context.Context, req *domain.ActivationRequest) (*domain.ActivationResponse, error) {
	var resp domain.ActivationResponse
	if err := c.post(ctx, "/api/license/activate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Validate asks the server whether a cached token is still honored
func (c *APIClient) Validate(ctx context.Context, req *domain.ValidateRequest) (*domain.ValidateResponse, error) {
	var resp domain.ValidateResponse
	if err := c.post(ctx, "/api/license/validate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refresh exchanges the current token for one with a fresh expiry window
func (c *APIClient) Refresh(ctx context.Context, req *domain.RefreshRequest) (*domain.RefreshResponse, error) {
	var resp domain.RefreshResponse
	if err := c.post(ctx, "/api/license/refresh", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Deactivate releases this device's seat
func (c *APIClient) Deactivate(ctx context.Context, req *domain.DeactivateRequest) (*domain.DeactivateResponse, error) {
	var resp domain.DeactivateResponse
	if err := c.post(ctx, "/api/license/deactivate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.WarnContext(ctx, "license server unreachable",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", apierrors.ErrNetworkUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		var envelope apierrors.ErrorResponse
		if err := json.NewDecoder(httpResp.Body).Decode(&envelope); err != nil || envelope.Error == nil {
			return fmt.Errorf("server returned status %d", httpResp.StatusCode)
		}
		return apierrors.FromEntitlementCode(envelope.Error.ErrorCode, envelope.Error.Message)
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
