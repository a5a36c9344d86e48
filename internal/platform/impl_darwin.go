//go:build darwin
// +build darwin

package platform

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

const frontmostScript = `tell application "System Events"
	set proc to first application process whose frontmost is true
	set appName to name of proc
	set winTitle to ""
	try
		set winTitle to name of front window of proc
	end try
	return appName & linefeed & winTitle
end tell`

// darwinImpl reads the foreground app through System Events. A CGEventTap
// needs the accessibility grant and cgo, so input comes from the renderer
// fallback.
type darwinImpl struct{}

func newPlatform() (Platform, error) {
	return &darwinImpl{}, nil
}

func (p *darwinImpl) GetActiveWindow() (*WindowInfo, error) {
	out, err := exec.Command("osascript", "-e", frontmostScript).Output()
	if err != nil {
		return nil, fmt.Errorf("failed to read frontmost application: %w", err)
	}
	parts := strings.SplitN(strings.TrimSpace(string(out)), "\n", 2)
	info := &WindowInfo{
		Application: parts[0],
		IsVisible:   true,
		Timestamp:   time.Now(),
	}
	if len(parts) > 1 {
		info.Title = parts[1]
	}
	return info, nil
}

func (p *darwinImpl) StartActivityMonitoring(callback func(ActivityEvent)) error {
	return fmt.Errorf("event tap: %w", ErrNotSupported)
}

func (p *darwinImpl) StopActivityMonitoring() error {
	return nil
}

func (p *darwinImpl) GetSystemInfo() (*SystemInfo, error) {
	hostname, _ := os.Hostname()
	return &SystemInfo{
		OS:        "darwin",
		OSVersion: runtime.GOOS,
		Arch:      runtime.GOARCH,
		Hostname:  hostname,
	}, nil
}

func (p *darwinImpl) CaptureScreenshot(path string) error {
	if out, err := exec.Command("screencapture", "-x", "-t", "png", path).CombinedOutput(); err != nil {
		return fmt.Errorf("screenshot failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
