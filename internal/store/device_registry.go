package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	apierrors "signcast/internal/errors"
	"signcast/pkg/contracts/domain"
)

// DeviceRegistry is the persistent record of devices and the enforcement
// point for seat accounting.
type DeviceRegistry struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewDeviceRegistry creates a device registry
func NewDeviceRegistry(db *gorm.DB, logger *slog.Logger) *DeviceRegistry {
	return &DeviceRegistry{
		db:     db,
		logger: logger.With(slog.String("component", "device_registry")),
	}
}

// FindByDeviceID looks a device up by its client-chosen stable identifier
func (r *DeviceRegistry) FindByDeviceID(ctx context.Context, deviceID string) (*Device, error) {
	var device Device
	err := r.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierrors.ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// CountActive counts the seats in use for a license and app type
func (r *DeviceRegistry) CountActive(ctx context.Context, licenseID string, appType domain.AppType) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Device{}).
		Where("license_id = ? AND app_type = ? AND status = ?", licenseID, appType, domain.DeviceStatusActive).
		Count(&count).Error
	return int(count), err
}

// AdmitDevice runs the seat-limit check and the insert in one serializable
// transaction: re-count active devices for (license, app type) and insert
// only while count < limit. Two concurrent activations racing for the last
// free seat cannot both commit; sqlite serializes writers, postgres aborts
// one transaction with a serialization failure, which is retried once and
// then re-decided against the fresh count.
func (r *DeviceRegistry) AdmitDevice(ctx context.Context, device *Device, limit int) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var active int64
			if err := tx.Model(&Device{}).
				Where("license_id = ? AND app_type = ? AND status = ?",
					device.LicenseID, device.AppType, domain.DeviceStatusActive).
				Count(&active).Error; err != nil {
				return err
			}
			if int(active) >= limit {
				return apierrors.NewDeviceLimit(int(active), limit)
			}
			return tx.Create(device).Error
		}, &sql.TxOptions{Isolation: sql.LevelSerializable})

		var limitErr *apierrors.DeviceLimitError
		if err == nil || errors.As(err, &limitErr) {
			return err
		}

		lastErr = err
		r.logger.DebugContext(ctx, "seat admission conflict, retrying",
			slog.String("device_id", device.DeviceID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}
	return lastErr
}

// Touch updates lastSeenAt for a device
func (r *DeviceRegistry) Touch(ctx context.Context, deviceID string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&Device{}).
		Where("device_id = ?", deviceID).
		Update("last_seen_at", now.UTC()).Error
}

// Deactivate flips the device status and records the timestamp. The
// operation is idempotent: deactivating an already-deactivated device is a
// no-op rather than an error, so client retries are harmless.
func (r *DeviceRegistry) Deactivate(ctx context.Context, deviceID string, now time.Time) error {
	ts := now.UTC()
	return r.db.WithContext(ctx).Model(&Device{}).
		Where("device_id = ? AND status = ?", deviceID, domain.DeviceStatusActive).
		Updates(map[string]interface{}{
			"status":         domain.DeviceStatusDeactivated,
			"deactivated_at": &ts,
		}).Error
}
