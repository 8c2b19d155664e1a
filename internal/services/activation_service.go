// Package services contains the business logic of the licensing service.
// The activation service is the state machine that moves devices through
// Unregistered -> Active -> Deactivated and decides every entitlement.
package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	apierrors "signcast/internal/errors"
	"signcast/internal/infrastructure"
	"signcast/internal/store"
	"signcast/internal/token"
	"signcast/pkg/contracts/domain"
)

// EntitlementService drives activate / validate / refresh / deactivate.
// Validate is read-only and reports through a result value instead of an
// error, because device UIs branch on it directly.
type EntitlementService interface {
	Activate(ctx context.Context, req domain.ActivationRequest, sourceIP string) (*domain.ActivationResponse, error)
	Validate(ctx context.Context, req domain.ValidateRequest) *domain.ValidateResponse
	Refresh(ctx context.Context, req domain.RefreshRequest, sourceIP string) (*domain.RefreshResponse, error)
	Deactivate(ctx context.Context, req domain.DeactivateRequest, sourceIP string) (*domain.DeactivateResponse, error)
}

// activationService implements EntitlementService on the persistent
// registries and the token codec.
type activationService struct {
	licenses *store.LicenseRegistry
	devices  *store.DeviceRegistry
	audit    *store.AuditLedger
	codec    *token.Codec
	logger   *slog.Logger
	metrics  *infrastructure.EntitlementMetrics
	now      func() time.Time
}

// NewEntitlementService creates the activation protocol service.
// metrics may be nil in tests.
func NewEntitlementService(
	licenses *store.LicenseRegistry,
	devices *store.DeviceRegistry,
	audit *store.AuditLedger,
	codec *token.Codec,
	logger *slog.Logger,
	metrics *infrastructure.EntitlementMetrics,
) EntitlementService {
	if logger == nil {
		logger = slog.Default()
	}
	return &activationService{
		licenses: licenses,
		devices:  devices,
		audit:    audit,
		codec:    codec,
		logger:   logger.With(slog.String("service", "entitlement")),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Activate claims a seat for a device, or re-issues a token when the device
// is already registered. Repeated activate calls from the same device (app
// relaunches, installer retries) are deliberately idempotent.
func (s *activationService) Activate(ctx context.Context, req domain.ActivationRequest, sourceIP string) (*domain.ActivationResponse, error) {
	start := s.now()
	s.countAttempt(ctx, req.AppType)

	license, err := s.licenses.FindByKey(ctx, req.LicenseKey)
	if err != nil {
		return nil, s.denyActivation(ctx, req, sourceIP, "", err)
	}
	if err := s.licenses.CheckValidity(ctx, license, s.now()); err != nil {
		return nil, s.denyActivation(ctx, req, sourceIP, license.ID, err)
	}

	existing, err := s.devices.FindByDeviceID(ctx, req.DeviceID)
	switch {
	case err == nil && existing.Status == domain.DeviceStatusDeactivated:
		// Deactivation is terminal; reactivation needs a support action.
		return nil, s.denyActivation(ctx, req, sourceIP, license.ID, apierrors.ErrDeviceDeactivated)

	case err == nil:
		// Idempotent re-activation: the seat is already held, issue a
		// fresh token for the existing registration.
		return s.reissueForExisting(ctx, req, sourceIP, license, existing, start)

	case !errors.Is(err, apierrors.ErrDeviceNotFound):
		s.logger.ErrorContext(ctx, "device lookup failed",
			slog.String("device_id", req.DeviceID),
			slog.String("error", err.Error()))
		return nil, err
	}

	now := s.now()
	device := &store.Device{
		ID:          uuid.New().String(),
		DeviceID:    req.DeviceID,
		LicenseID:   license.ID,
		AppType:     req.AppType,
		Status:      domain.DeviceStatusActive,
		DisplayName: req.DisplayName,
		OSInfo:      req.OSInfo,
		ActivatedAt: now,
		LastSeenAt:  now,
	}
	limit := license.SeatLimits().ForAppType(req.AppType)
	if err := s.devices.AdmitDevice(ctx, device, limit); err != nil {
		var limitErr *apierrors.DeviceLimitError
		if errors.As(err, &limitErr) {
			s.countSeatRejection(ctx, req.AppType)
		}
		return nil, s.denyActivation(ctx, req, sourceIP, license.ID, err)
	}

	signed, expiresAt, err := s.issueToken(license, device, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "token issuance failed",
			slog.String("device_id", device.DeviceID),
			slog.String("error", err.Error()))
		return nil, err
	}

	s.audit.Record(ctx, store.AuditInput{
		Action:    domain.AuditActionActivation,
		ActorID:   device.DeviceID,
		LicenseID: license.ID,
		DeviceID:  device.ID,
		SourceIP:  sourceIP,
		Metadata: map[string]string{
			"app_type":     string(req.AppType),
			"display_name": req.DisplayName,
		},
	})
	s.countSuccess(ctx, req.AppType, start)

	s.logger.InfoContext(ctx, "device activated",
		slog.String("device_id", device.DeviceID),
		slog.String("license_id", license.ID),
		slog.String("app_type", string(req.AppType)),
		slog.Int("seat_limit", limit))

	return &domain.ActivationResponse{
		Token:     signed,
		ExpiresAt: expiresAt,
		Device:    device.Summary(),
		License:   domain.LicenseSummary{Plan: license.Plan, ValidUntil: license.ValidUntil},
	}, nil
}

// reissueForExisting handles the already-active branch of activate
func (s *activationService) reissueForExisting(ctx context.Context, req domain.ActivationRequest, sourceIP string, license *store.License, device *store.Device, start time.Time) (*domain.ActivationResponse, error) {
	if device.LicenseID != license.ID {
		// The device id is registered under a different license.
		return nil, s.denyActivation(ctx, req, sourceIP, license.ID, apierrors.ErrLicenseMismatch)
	}

	now := s.now()
	signed, expiresAt, err := s.issueToken(license, device, now)
	if err != nil {
		return nil, err
	}
	if err := s.devices.Touch(ctx, device.DeviceID, now); err != nil {
		s.logger.WarnContext(ctx, "failed to touch device on re-activation",
			slog.String("device_id", device.DeviceID),
			slog.String("error", err.Error()))
	}

	s.audit.Record(ctx, store.AuditInput{
		Action:    domain.AuditActionActivation,
		ActorID:   device.DeviceID,
		LicenseID: license.ID,
		DeviceID:  device.ID,
		SourceIP:  sourceIP,
		Metadata: map[string]string{
			"app_type":      string(req.AppType),
			"re_activation": "true",
		},
	})
	s.countSuccess(ctx, req.AppType, start)

	s.logger.InfoContext(ctx, "device re-activated",
		slog.String("device_id", device.DeviceID),
		slog.String("license_id", license.ID))

	return &domain.ActivationResponse{
		Token:     signed,
		ExpiresAt: expiresAt,
		Device:    device.Summary(),
		License:   domain.LicenseSummary{Plan: license.Plan, ValidUntil: license.ValidUntil},
	}, nil
}

// Validate answers whether a token is still honored. It is the high
// frequency read path: purely reads, no audit entry, and the result is a
// value rather than an error. Revocation works here - a deactivated device
// fails validation even while its token's signature still verifies.
func (s *activationService) Validate(ctx context.Context, req domain.ValidateRequest) *domain.ValidateResponse {
	claims, err := s.check(ctx, req.Token, req.DeviceID)
	if err != nil {
		return &domain.ValidateResponse{Valid: false, Error: apierrors.EntitlementCode(err)}
	}
	return &domain.ValidateResponse{Valid: true, Payload: claims.Payload()}
}

// Refresh re-issues a token with a fresh expiry window. The new window
// never extends past the remaining license validity.
func (s *activationService) Refresh(ctx context.Context, req domain.RefreshRequest, sourceIP string) (*domain.RefreshResponse, error) {
	claims, err := s.check(ctx, req.OldToken, req.DeviceID)
	if err != nil {
		s.audit.Record(ctx, store.AuditInput{
			Action:   domain.AuditActionRefreshDenied,
			ActorID:  req.DeviceID,
			SourceIP: sourceIP,
			Metadata: map[string]string{"reason": apierrors.EntitlementCode(err)},
		})
		return nil, err
	}

	license, err := s.licenses.FindByID(ctx, claims.LicenseID)
	if err != nil {
		return nil, err
	}
	device, err := s.devices.FindByDeviceID(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	signed, expiresAt, err := s.issueToken(license, device, now)
	if err != nil {
		return nil, err
	}
	if err := s.devices.Touch(ctx, device.DeviceID, now); err != nil {
		s.logger.WarnContext(ctx, "failed to touch device on refresh",
			slog.String("device_id", device.DeviceID),
			slog.String("error", err.Error()))
	}

	s.audit.Record(ctx, store.AuditInput{
		Action:    domain.AuditActionRefresh,
		ActorID:   device.DeviceID,
		LicenseID: license.ID,
		DeviceID:  device.ID,
		SourceIP:  sourceIP,
	})
	if s.metrics != nil {
		s.metrics.RefreshTotal.Add(ctx, 1)
	}

	return &domain.RefreshResponse{Token: signed, ExpiresAt: expiresAt}, nil
}

// Deactivate releases a seat. The caller must present the owning license
// key so one organization cannot deactivate another's screens. There is no
// token blacklist: revocation is enforced because validate and refresh
// re-read device status on every call.
func (s *activationService) Deactivate(ctx context.Context, req domain.DeactivateRequest, sourceIP string) (*domain.DeactivateResponse, error) {
	device, err := s.devices.FindByDeviceID(ctx, req.DeviceID)
	if err != nil {
		return nil, s.denyDeactivation(ctx, req, sourceIP, "", err)
	}

	license, err := s.licenses.FindByKey(ctx, req.LicenseKey)
	if err != nil {
		return nil, s.denyDeactivation(ctx, req, sourceIP, "", err)
	}
	if license.ID != device.LicenseID {
		return nil, s.denyDeactivation(ctx, req, sourceIP, license.ID, apierrors.ErrLicenseMismatch)
	}

	if device.Status == domain.DeviceStatusDeactivated {
		// Idempotent: retrying a deactivation is not an error.
		return &domain.DeactivateResponse{Success: true, Message: "Device already deactivated"}, nil
	}

	if err := s.devices.Deactivate(ctx, device.DeviceID, s.now()); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, store.AuditInput{
		Action:    domain.AuditActionDeactivation,
		ActorID:   device.DeviceID,
		LicenseID: license.ID,
		DeviceID:  device.ID,
		SourceIP:  sourceIP,
	})

	s.logger.InfoContext(ctx, "device deactivated",
		slog.String("device_id", device.DeviceID),
		slog.String("license_id", license.ID))

	return &domain.DeactivateResponse{Success: true, Message: "Device deactivated, seat released"}, nil
}

// check runs the shared validate/refresh verification chain: token
// signature and expiry, device binding, device status, license validity.
func (s *activationService) check(ctx context.Context, signed, deviceID string) (*token.Claims, error) {
	now := s.now()
	claims, err := s.codec.Verify(signed, now)
	if s.metrics != nil {
		s.metrics.TokenVerifications.Add(ctx, 1,
			metric.WithAttributes(attribute.Bool("valid", err == nil)))
	}
	if err != nil {
		return nil, err
	}

	if claims.DeviceID != deviceID {
		return nil, apierrors.ErrDeviceIDMismatch
	}

	device, err := s.devices.FindByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device.Status == domain.DeviceStatusDeactivated {
		return nil, apierrors.ErrDeviceDeactivated
	}

	license, err := s.licenses.FindByID(ctx, claims.LicenseID)
	if err != nil {
		return nil, err
	}
	if err := s.licenses.CheckValidity(ctx, license, now); err != nil {
		return nil, err
	}

	return claims, nil
}

func (s *activationService) issueToken(license *store.License, device *store.Device, now time.Time) (string, time.Time, error) {
	return s.codec.Issue(token.IssueInput{
		LicenseID:      license.ID,
		OrganizationID: license.OrganizationID,
		DeviceID:       device.DeviceID,
		Plan:           license.Plan,
		AppType:        device.AppType,
		Features:       domain.PlanFeatures(license.Plan),
		NotAfter:       license.ValidUntil,
	}, now)
}

// denyActivation audits a rejected activation and passes the error through
func (s *activationService) denyActivation(ctx context.Context, req domain.ActivationRequest, sourceIP, licenseID string, cause error) error {
	s.audit.Record(ctx, store.AuditInput{
		Action:    domain.AuditActionActivationDenied,
		ActorID:   req.DeviceID,
		LicenseID: licenseID,
		SourceIP:  sourceIP,
		Metadata: map[string]string{
			"reason":   apierrors.EntitlementCode(cause),
			"app_type": string(req.AppType),
		},
	})
	if s.metrics != nil {
		s.metrics.ActivationFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("reason", apierrors.EntitlementCode(cause))))
	}
	s.logger.InfoContext(ctx, "activation denied",
		slog.String("device_id", req.DeviceID),
		slog.String("reason", apierrors.EntitlementCode(cause)))
	return cause
}

func (s *activationService) denyDeactivation(ctx context.Context, req domain.DeactivateRequest, sourceIP, licenseID string, cause error) error {
	s.audit.Record(ctx, store.AuditInput{
		Action:    domain.AuditActionDeactivationDenied,
		ActorID:   req.DeviceID,
		LicenseID: licenseID,
		SourceIP:  sourceIP,
		Metadata:  map[string]string{"reason": apierrors.EntitlementCode(cause)},
	})
	return cause
}

func (s *activationService) countAttempt(ctx context.Context, appType domain.AppType) {
	if s.metrics != nil {
		s.metrics.ActivationAttempts.Add(ctx, 1,
			metric.WithAttributes(attribute.String("app_type", string(appType))))
	}
}

func (s *activationService) countSuccess(ctx context.Context, appType domain.AppType, start time.Time) {
	if s.metrics != nil {
		s.metrics.ActivationSuccess.Add(ctx, 1,
			metric.WithAttributes(attribute.String("app_type", string(appType))))
		s.metrics.ActivationDuration.Record(ctx, s.now().Sub(start).Seconds())
	}
}

func (s *activationService) countSeatRejection(ctx context.Context, appType domain.AppType) {
	if s.metrics != nil {
		s.metrics.SeatLimitRejections.Add(ctx, 1,
			metric.WithAttributes(attribute.String("app_type", string(appType))))
	}
}
