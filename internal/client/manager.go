package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apierrors "signcast/internal/errors"
	"signcast/pkg/contracts/domain"
)

// Mode describes how the device's entitlement was established at startup
type Mode string

const (
	// ModeOnline means the server confirmed the token just now
	ModeOnline Mode = "online"
	// ModeOffline means the server was unreachable but the cached token
	// is still inside the grace window
	ModeOffline Mode = "offline"
	// ModeNone means the device has no usable entitlement
	ModeNone Mode = "none"
)

// Entitlement is the outcome of a startup check
type Entitlement struct {
	Mode           Mode
	Payload        *domain.TokenPayload
	GraceRemaining time.Duration
	Reason         string
}

// ManagerConfig tunes the device-side entitlement manager
type ManagerConfig struct {
	CachePath        string
	DeviceID         string
	AppType          domain.AppType
	OfflineGrace     time.Duration
	ValidateTimeout  time.Duration
	RefreshThreshold time.Duration
	RefreshInterval  time.Duration
}

// Manager owns the device's entitlement lifecycle: activation, the
// startup online/offline decision, and background token refresh.
type Manager struct {
	api    *APIClient
	cfg    ManagerConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a device entitlement manager
func NewManager(api *APIClient, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		api:    api,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "entitlement_manager")),
		now:    time.Now,
	}
}

// Activate claims a seat for this device and persists the cache
func (m *Manager) Activate(ctx context.Context, licenseKey, displayName, osInfo string) (*domain.ActivationResponse, error) {
	resp, err := m.api.Activate(ctx, &domain.ActivationRequest{
		LicenseKey:  licenseKey,
		DeviceID:    m.cfg.DeviceID,
		AppType:     m.cfg.AppType,
		DisplayName: displayName,
		OSInfo:      osInfo,
	})
	if err != nil {
		return nil, err
	}

	cache := &EntitlementCache{
		Token:           resp.Token,
		DeviceID:        m.cfg.DeviceID,
		LicenseKey:      licenseKey,
		AppType:         string(m.cfg.AppType),
		ExpiresAt:       resp.ExpiresAt,
		LastOnlineCheck: m.now(),
	}
	if err := cache.Save(m.cfg.CachePath); err != nil {
		m.logger.WarnContext(ctx, "failed to persist entitlement cache",
			slog.String("path", m.cfg.CachePath),
			slog.String("error", err.Error()))
	}
	return resp, nil
}

// Deactivate releases this device's seat and removes the cache
func (m *Manager) Deactivate(ctx context.Context, licenseKey string) error {
	_, err := m.api.Deactivate(ctx, &domain.DeactivateRequest{
		DeviceID:   m.cfg.DeviceID,
		LicenseKey: licenseKey,
	})
	if err != nil {
		return err
	}
	return RemoveCache(m.cfg.CachePath)
}

// StartupCheck decides whether the device may run.
// It tries an online validate first; when the server is unreachable it
// falls back to the cached token, which must be structurally unexpired
// AND inside the offline grace window counted from the last successful
// online check.
func (m *Manager) StartupCheck(ctx context.Context) (*Entitlement, error) {
	cache, err := LoadCache(m.cfg.CachePath)
	if err != nil {
		return &Entitlement{Mode: ModeNone, Reason: "cache unreadable"}, err
	}
	if cache == nil || cache.Token == "" {
		return &Entitlement{Mode: ModeNone, Reason: "not activated"}, nil
	}

	validateCtx, cancel := context.WithTimeout(ctx, m.cfg.ValidateTimeout)
	defer cancel()

	resp, err := m.api.Validate(validateCtx, &domain.ValidateRequest{
		Token:    cache.Token,
		DeviceID: cache.DeviceID,
	})
	if err != nil {
		if errors.Is(err, apierrors.ErrNetworkUnavailable) {
			return m.offlineFallback(ctx, cache)
		}
		return &Entitlement{Mode: ModeNone, Reason: err.Error()}, err
	}

	if !resp.Valid {
		// A definitive server "no" is final: revoked, expired or
		// tampered tokens never get the offline grace path.
		m.logger.InfoContext(ctx, "entitlement rejected by server",
			slog.String("code", resp.Error))
		return &Entitlement{Mode: ModeNone, Reason: resp.Error}, nil
	}

	cache.LastOnlineCheck = m.now()
	if err := cache.Save(m.cfg.CachePath); err != nil {
		m.logger.WarnContext(ctx, "failed to update entitlement cache",
			slog.String("error", err.Error()))
	}

	m.logger.InfoContext(ctx, "entitlement confirmed online",
		slog.String("device_id", cache.DeviceID),
		slog.String("plan", string(resp.Payload.Plan)))
	return &Entitlement{Mode: ModeOnline, Payload: resp.Payload}, nil
}

func (m *Manager) offlineFallback(ctx context.Context, cache *EntitlementCache) (*Entitlement, error) {
	now := m.now()
	remaining, ok := m.offlineRemaining(cache, now)
	if !ok {
		m.logger.WarnContext(ctx, "offline grace exhausted",
			slog.String("device_id", cache.DeviceID),
			slog.Time("last_online_check", cache.LastOnlineCheck))
		return &Entitlement{Mode: ModeNone, Reason: apierrors.CodeOfflineGraceExpired},
			apierrors.ErrOfflineGraceExpired
	}

	payload, err := unverifiedPayload(cache.Token)
	if err != nil {
		return &Entitlement{Mode: ModeNone, Reason: apierrors.CodeTokenInvalid}, apierrors.ErrTokenInvalid
	}

	m.logger.InfoContext(ctx, "running in offline grace mode",
		slog.String("device_id", cache.DeviceID),
		slog.Duration("grace_remaining", remaining))
	return &Entitlement{Mode: ModeOffline, Payload: payload, GraceRemaining: remaining}, nil
}

// IsOfflineValid reports whether a cached entitlement still authorizes
// offline operation at the given instant.
func (m *Manager) IsOfflineValid(cache *EntitlementCache, now time.Time) bool {
	_, ok := m.offlineRemaining(cache, now)
	return ok
}

func (m *Manager) offlineRemaining(cache *EntitlementCache, now time.Time) (time.Duration, bool) {
	if cache == nil || cache.Token == "" {
		return 0, false
	}
	exp, err := unverifiedExpiry(cache.Token)
	if err != nil || !now.Before(exp) {
		return 0, false
	}
	deadline := cache.LastOnlineCheck.Add(m.cfg.OfflineGrace)
	if !now.Before(deadline) {
		return 0, false
	}
	return deadline.Sub(now), true
}

// StartAutoRefresh renews the token in the background whenever its
// remaining life drops below the refresh threshold. It returns when ctx
// is cancelled. Network failures are logged and retried on the next tick;
// a definitive rejection stops the loop.
func (m *Manager) StartAutoRefresh(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stop := m.refreshOnce(ctx); stop {
				return
			}
		}
	}
}

func (m *Manager) refreshOnce(ctx context.Context) (stop bool) {
	cache, err := LoadCache(m.cfg.CachePath)
	if err != nil || cache == nil || cache.Token == "" {
		return false
	}

	exp, err := unverifiedExpiry(cache.Token)
	if err != nil {
		return false
	}
	if exp.Sub(m.now()) >= m.cfg.RefreshThreshold {
		return false
	}

	resp, err := m.api.Refresh(ctx, &domain.RefreshRequest{
		DeviceID: cache.DeviceID,
		OldToken: cache.Token,
	})
	if err != nil {
		if errors.Is(err, apierrors.ErrNetworkUnavailable) {
			m.logger.WarnContext(ctx, "token refresh skipped, server unreachable")
			return false
		}
		m.logger.ErrorContext(ctx, "token refresh rejected",
			slog.String("error", err.Error()))
		return true
	}

	cache.Token = resp.Token
	cache.ExpiresAt = resp.ExpiresAt
	cache.LastOnlineCheck = m.now()
	if err := cache.Save(m.cfg.CachePath); err != nil {
		m.logger.WarnContext(ctx, "failed to persist refreshed token",
			slog.String("error", err.Error()))
	}

	m.logger.InfoContext(ctx, "token refreshed",
		slog.Time("expires_at", resp.ExpiresAt))
	return false
}

// unverifiedExpiry extracts the exp claim without verifying the signature.
// The client cannot verify RS256 signatures without the server's public
// key; structural expiry is enough here because the server re-verifies on
// every online call and offline mode is already bounded by the grace window.
func unverifiedExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("token has no expiry")
	}
	return exp.Time, nil
}

func unverifiedPayload(token string) (*domain.TokenPayload, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	payload := &domain.TokenPayload{}
	if v, ok := claims["license_id"].(string); ok {
		payload.LicenseID = v
	}
	if v, ok := claims["org_id"].(string); ok {
		payload.OrganizationID = v
	}
	if v, ok := claims["device_id"].(string); ok {
		payload.DeviceID = v
	}
	if v, ok := claims["plan"].(string); ok {
		payload.Plan = domain.Plan(v)
	}
	if v, ok := claims["app"].(string); ok {
		payload.AppType = domain.AppType(v)
	}
	if raw, ok := claims["features"].([]interface{}); ok {
		for _, f := range raw {
			if s, ok := f.(string); ok {
				payload.Features = append(payload.Features, s)
			}
		}
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		payload.ExpiresAt = exp.Time
	}
	return payload, nil
}
