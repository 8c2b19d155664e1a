package client

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"
)

// DeviceID derives a stable identifier for this machine from hardware
// factors: primary MAC address, hostname and platform. The same machine
// always produces the same ID, so re-activations after reinstalls land
// on the existing seat instead of consuming a new one.
func DeviceID() (string, error) {
	mac, err := primaryMACAddress()
	if err != nil {
		return "", err
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	hostname = strings.ToLower(strings.TrimSpace(hostname))

	platform := fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)

	h := sha256.New()
	h.Write([]byte(mac))
	h.Write([]byte("|"))
	h.Write([]byte(hostname))
	h.Write([]byte("|"))
	h.Write([]byte(platform))

	return hex.EncodeToString(h.Sum(nil))[:32], nil
}

// primaryMACAddress returns the MAC of the first up, non-loopback
// interface, falling back to any interface with a hardware address.
func primaryMACAddress() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}

	for _, iface := range interfaces {
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}

	return "", fmt.Errorf("no valid MAC address found")
}
