package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	apierrors "signcast/internal/errors"
	"signcast/pkg/contracts/domain"
)

// LicenseRegistry is the persistent record of licenses
type LicenseRegistry struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewLicenseRegistry creates a license registry
func NewLicenseRegistry(db *gorm.DB, logger *slog.Logger) *LicenseRegistry {
	return &LicenseRegistry{
		db:     db,
		logger: logger.With(slog.String("component", "license_registry")),
	}
}

// Create inserts a new license row
func (r *LicenseRegistry) Create(ctx context.Context, license *License) error {
	return r.db.WithContext(ctx).Create(license).Error
}

// FindByKey looks a license up by its opaque key
func (r *LicenseRegistry) FindByKey(ctx context.Context, key string) (*License, error) {
	var license License
	err := r.db.WithContext(ctx).Where("license_key = ?", key).First(&license).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierrors.ErrLicenseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &license, nil
}

// FindByID looks a license up by its primary key
func (r *LicenseRegistry) FindByID(ctx context.Context, id string) (*License, error) {
	var license License
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&license).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierrors.ErrLicenseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &license, nil
}

// UpdateStatus writes a new lifecycle status
func (r *LicenseRegistry) UpdateStatus(ctx context.Context, id string, status domain.LicenseStatus) error {
	return r.db.WithContext(ctx).Model(&License{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now().UTC()}).Error
}

// UpdatePlan changes a license's plan and seat allowance
func (r *LicenseRegistry) UpdatePlan(ctx context.Context, id string, plan domain.Plan, seats domain.SeatLimits) error {
	return r.db.WithContext(ctx).Model(&License{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"plan":         plan,
			"editor_seats": seats.Editor,
			"player_seats": seats.Player,
			"updated_at":   time.Now().UTC(),
		}).Error
}

// UpdateValidity changes a license's validity window
func (r *LicenseRegistry) UpdateValidity(ctx context.Context, id string, validFrom, validUntil time.Time) error {
	return r.db.WithContext(ctx).Model(&License{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"valid_from":  validFrom,
			"valid_until": validUntil,
			"updated_at":  time.Now().UTC(),
		}).Error
}

// CheckValidity decides whether the license can back new entitlements at
// the given instant. Discovering that the validity window has passed flips
// the stored status to expired; the write happens exactly once and the
// check is idempotent afterwards.
func (r *LicenseRegistry) CheckValidity(ctx context.Context, license *License, now time.Time) error {
	switch license.Status {
	case domain.LicenseStatusSuspended:
		return apierrors.NewLicenseInactive("suspended")
	case domain.LicenseStatusCancelled:
		return apierrors.NewLicenseInactive("cancelled")
	case domain.LicenseStatusExpired:
		return apierrors.ErrLicenseExpired
	}

	if now.Before(license.ValidFrom) {
		return apierrors.ErrLicenseNotYetValid
	}

	if now.After(license.ValidUntil) {
		// Lazy expiry: no background sweep exists, the first check past
		// validUntil records the transition.
		if err := r.db.WithContext(ctx).Model(&License{}).
			Where("id = ? AND status = ?", license.ID, domain.LicenseStatusActive).
			Updates(map[string]interface{}{"status": domain.LicenseStatusExpired, "updated_at": now.UTC()}).Error; err != nil {
			r.logger.WarnContext(ctx, "failed to record lazy license expiry",
				slog.String("license_id", license.ID),
				slog.String("error", err.Error()))
		}
		license.Status = domain.LicenseStatusExpired
		return apierrors.ErrLicenseExpired
	}

	return nil
}
