package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apierrors "signcast/internal/errors"
	"signcast/internal/store"
	"signcast/pkg/contracts/domain"
)

// License keys look like SGN-XXXX-XXXX-XXXX-XXXX. The alphabet drops the
// characters customers misread over the phone (0/O, 1/I/L).
const (
	licenseKeyPrefix   = "SGN"
	licenseKeyAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	licenseKeyGroups   = 4
	licenseKeyGroupLen = 4
)

// CreateLicenseRequest is the admin payload for minting a license
type CreateLicenseRequest struct {
	OrganizationID string             `json:"organization_id" validate:"required"`
	Plan           domain.Plan        `json:"plan" validate:"required,oneof=basic pro enterprise"`
	SeatLimits     *domain.SeatLimits `json:"seat_limits,omitempty"`
	ValidFrom      time.Time          `json:"valid_from" validate:"required"`
	ValidUntil     time.Time          `json:"valid_until" validate:"required"`
}

// UpdateLicenseRequest patches a license. Nil fields are left untouched.
type UpdateLicenseRequest struct {
	Status     *domain.LicenseStatus `json:"status,omitempty"`
	Plan       *domain.Plan          `json:"plan,omitempty"`
	SeatLimits *domain.SeatLimits    `json:"seat_limits,omitempty"`
	ValidFrom  *time.Time            `json:"valid_from,omitempty"`
	ValidUntil *time.Time            `json:"valid_until,omitempty"`
}

// AdminService exposes the administrative operations of the licensing
// service. Every call, including failed logins, lands in the audit ledger.
type AdminService interface {
	Login(ctx context.Context, apiKey, sourceIP string) error
	// Authorize checks the key without writing an audit entry; it guards
	// the non-login admin endpoints.
	Authorize(apiKey string) error
	CreateLicense(ctx context.Context, req CreateLicenseRequest, sourceIP string) (*domain.LicenseRecord, error)
	UpdateLicense(ctx context.Context, id string, req UpdateLicenseRequest, sourceIP string) (*domain.LicenseRecord, error)
	GetLicense(ctx context.Context, id string) (*domain.LicenseRecord, error)
	ListAudit(ctx context.Context, licenseID string, limit, offset int) ([]domain.AuditRecord, error)
}

type adminService struct {
	licenses *store.LicenseRegistry
	audit    *store.AuditLedger
	apiKey   string
	logger   *slog.Logger
}

// NewAdminService creates the admin service
func NewAdminService(licenses *store.LicenseRegistry, audit *store.AuditLedger, apiKey string, logger *slog.Logger) AdminService {
	if logger == nil {
		logger = slog.Default()
	}
	return &adminService{
		licenses: licenses,
		audit:    audit,
		apiKey:   apiKey,
		logger:   logger.With(slog.String("service", "admin")),
	}
}

// Authorize verifies the admin API key in constant time
func (s *adminService) Authorize(apiKey string) error {
	if s.apiKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.apiKey)) != 1 {
		return apierrors.ErrUnauthorized
	}
	return nil
}

// Login verifies the admin API key in constant time and audits the attempt
func (s *adminService) Login(ctx context.Context, apiKey, sourceIP string) error {
	if s.apiKey == "" {
		s.audit.Record(ctx, store.AuditInput{
			Action:   domain.AuditActionAdminLoginDenied,
			SourceIP: sourceIP,
			Metadata: map[string]string{"reason": "admin api key not configured"},
		})
		return apierrors.ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.apiKey)) != 1 {
		s.audit.Record(ctx, store.AuditInput{
			Action:   domain.AuditActionAdminLoginDenied,
			SourceIP: sourceIP,
			Metadata: map[string]string{"reason": "bad credentials"},
		})
		s.logger.WarnContext(ctx, "admin login denied",
			slog.String("source_ip", sourceIP))
		return apierrors.ErrUnauthorized
	}
	s.audit.Record(ctx, store.AuditInput{
		Action:   domain.AuditActionAdminLogin,
		SourceIP: sourceIP,
	})
	return nil
}

// CreateLicense mints a new license with a generated key
func (s *adminService) CreateLicense(ctx context.Context, req CreateLicenseRequest, sourceIP string) (*domain.LicenseRecord, error) {
	if !req.ValidFrom.Before(req.ValidUntil) {
		return nil, apierrors.ErrValidation("valid_until", "must be after valid_from")
	}
	if !req.Plan.IsValid() {
		return nil, apierrors.ErrValidation("plan", "unknown plan")
	}

	seats := domain.DefaultSeatLimits(req.Plan)
	if req.SeatLimits != nil {
		seats = *req.SeatLimits
	}

	key, err := generateLicenseKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate license key: %w", err)
	}

	now := time.Now().UTC()
	license := &store.License{
		ID:             uuid.New().String(),
		Key:            key,
		OrganizationID: req.OrganizationID,
		Plan:           req.Plan,
		Status:         domain.LicenseStatusActive,
		EditorSeats:    seats.Editor,
		PlayerSeats:    seats.Player,
		ValidFrom:      req.ValidFrom,
		ValidUntil:     req.ValidUntil,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.licenses.Create(ctx, license); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, store.AuditInput{
		Action:    domain.AuditActionLicenseCreated,
		LicenseID: license.ID,
		SourceIP:  sourceIP,
		Metadata: map[string]string{
			"organization_id": req.OrganizationID,
			"plan":            string(req.Plan),
		},
	})

	s.logger.InfoContext(ctx, "license created",
		slog.String("license_id", license.ID),
		slog.String("organization_id", req.OrganizationID),
		slog.String("plan", string(req.Plan)))

	record := license.Record()
	return &record, nil
}

// UpdateLicense applies a partial update to a license
func (s *adminService) UpdateLicense(ctx context.Context, id string, req UpdateLicenseRequest, sourceIP string) (*domain.LicenseRecord, error) {
	license, err := s.licenses.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	changed := map[string]string{}
	if req.Status != nil {
		if err := s.licenses.UpdateStatus(ctx, id, *req.Status); err != nil {
			return nil, err
		}
		changed["status"] = string(*req.Status)
	}
	if req.Plan != nil {
		seats := domain.DefaultSeatLimits(*req.Plan)
		if req.SeatLimits != nil {
			seats = *req.SeatLimits
		}
		if err := s.licenses.UpdatePlan(ctx, id, *req.Plan, seats); err != nil {
			return nil, err
		}
		changed["plan"] = string(*req.Plan)
	}
	if req.ValidFrom != nil || req.ValidUntil != nil {
		validFrom := license.ValidFrom
		validUntil := license.ValidUntil
		if req.ValidFrom != nil {
			validFrom = *req.ValidFrom
		}
		if req.ValidUntil != nil {
			validUntil = *req.ValidUntil
		}
		if !validFrom.Before(validUntil) {
			return nil, apierrors.ErrValidation("valid_until", "must be after valid_from")
		}
		if err := s.licenses.UpdateValidity(ctx, id, validFrom, validUntil); err != nil {
			return nil, err
		}
		changed["validity"] = "updated"
	}

	s.audit.Record(ctx, store.AuditInput{
		Action:    domain.AuditActionLicenseUpdated,
		LicenseID: id,
		SourceIP:  sourceIP,
		Metadata:  changed,
	})

	updated, err := s.licenses.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	record := updated.Record()
	return &record, nil
}

// GetLicense returns a license by id
func (s *adminService) GetLicense(ctx context.Context, id string) (*domain.LicenseRecord, error) {
	license, err := s.licenses.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	record := license.Record()
	return &record, nil
}

// ListAudit returns the ledger entries for a license, newest first
func (s *adminService) ListAudit(ctx context.Context, licenseID string, limit, offset int) ([]domain.AuditRecord, error) {
	return s.audit.ListByLicense(ctx, licenseID, limit, offset)
}

// generateLicenseKey produces a key like SGN-7KQP-2MWX-9ZRT-4HVN
func generateLicenseKey() (string, error) {
	raw := make([]byte, licenseKeyGroups*licenseKeyGroupLen)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	key := licenseKeyPrefix
	for i, b := range raw {
		if i%licenseKeyGroupLen == 0 {
			key += "-"
		}
		key += string(licenseKeyAlphabet[int(b)%len(licenseKeyAlphabet)])
	}
	return key, nil
}
