package device

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"Mansoor88-6/activity-agent/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const keyDeviceID = "device_id"

// DeviceManager resolves the id sent as X-Device-ID. Once resolved, the id
// is stored so it survives hardware lookups failing later.
type DeviceManager struct {
	state  *repository.StateRepository
	lookup func() (string, error)
	logger *zap.Logger
}

func NewDeviceManager(state *repository.StateRepository, logger *zap.Logger) *DeviceManager {
	return &DeviceManager{
		state:  state,
		lookup: platformDeviceID,
		logger: logger,
	}
}

// Resolve returns configured if set, else the stored id, else a hardware id,
// else a random UUID.
func (dm *DeviceManager) Resolve(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	var stored string
	ok, err := dm.state.Get(repository.ScopeAgent, keyDeviceID, &stored)
	if err != nil {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}
	if ok && stored != "" {
		return stored, nil
	}

	id, err := dm.lookup()
	if err != nil || id == "" {
		dm.logger.Warn("Hardware id unavailable, generating one", zap.Error(err))
		id = uuid.NewString()
	}
	if err := dm.state.Put(repository.ScopeAgent, keyDeviceID, id); err != nil {
		return "", fmt.Errorf("failed to store device id: %w", err)
	}
	dm.logger.Info("Device id generated", zap.String("device_id", id))
	return id, nil
}

func platformDeviceID() (string, error) {
	switch runtime.GOOS {
	case "windows":
		return windowsDeviceID()
	case "darwin":
		return darwinDeviceID()
	case "linux":
		return linuxDeviceID()
	default:
		return "", fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// windowsDeviceID reads the SMBIOS product UUID
func windowsDeviceID() (string, error) {
	out, err := exec.Command("wmic", "csproduct", "get", "uuid").Output()
	if err != nil {
		return "", fmt.Errorf("wmic failed: %w", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && line != "UUID" && len(line) > 10 {
			return line, nil
		}
	}
	return "", fmt.Errorf("no product uuid in wmic output")
}

func darwinDeviceID() (string, error) {
	out, err := exec.Command("system_profiler", "SPHardwareDataType").Output()
	if err != nil {
		return "", fmt.Errorf("system_profiler failed: %w", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if _, value, ok := strings.Cut(line, "Hardware UUID:"); ok {
			return strings.TrimSpace(value), nil
		}
	}
	return "", fmt.Errorf("no hardware uuid in system_profiler output")
}

func linuxDeviceID() (string, error) {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil && len(strings.TrimSpace(string(data))) > 0 {
			return strings.TrimSpace(string(data)), nil
		}
	}
	return "", fmt.Errorf("no machine-id found")
}
