package devicelink

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// LoadOrCreateIdentifier returns the identifier persisted at path, creating
// one on first boot as kiosk-{mac}-{8 hex}.
func LoadOrCreateIdentifier(path string) (string, error) {
	return loadOrCreateIdentifier(path, primaryHardwareAddr)
}

func loadOrCreateIdentifier(path string, hwAddr func() string) (string, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("reading device identifier: %w", err)
	}

	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generating device identifier: %w", err)
	}

	mac := strings.ReplaceAll(hwAddr(), ":", "")
	if mac == "" {
		mac = "unknown"
	}
	id := fmt.Sprintf("kiosk-%s-%s", mac, hex.EncodeToString(suffix))

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("creating identifier directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", fmt.Errorf("writing device identifier: %w", err)
	}
	return id, nil
}

// primaryHardwareAddr returns the MAC of the first non-loopback interface.
func primaryHardwareAddr() string {
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.HardwareAddr == "" || slices.Contains(iface.Flags, "loopback") {
			continue
		}
		if iface.HardwareAddr == "00:00:00:00:00:00" {
			continue
		}
		return iface.HardwareAddr
	}
	return ""
}
