package client

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// EntitlementCache is the on-disk record a device keeps between runs.
// LastOnlineCheck anchors the offline grace window: it only moves forward
// when the server actually answered a validate or refresh call.
type EntitlementCache struct {
	Token           string    `json:"token"`
	DeviceID        string    `json:"device_id"`
	LicenseKey      string    `json:"license_key"`
	AppType         string    `json:"app_type"`
	ExpiresAt       time.Time `json:"expires_at"`
	LastOnlineCheck time.Time `json:"last_online_check"`
}

// LoadCache reads the entitlement cache from disk.
// A missing file is not an error: it returns (nil, nil) so callers can
// distinguish "never activated" from a corrupt cache.
func LoadCache(path string) (*EntitlementCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read entitlement cache: %w", err)
	}

	var cache EntitlementCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("parse entitlement cache: %w", err)
	}
	return &cache, nil
}

// Save writes the cache to disk with owner-only permissions
func (c *EntitlementCache) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode entitlement cache: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write entitlement cache: %w", err)
	}
	return nil
}

// RemoveCache deletes the on-disk cache after a deactivation
func RemoveCache(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove entitlement cache: %w", err)
	}
	return nil
}
