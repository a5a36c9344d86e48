//go:build linux
// +build linux

package platform

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// linuxImpl reads the foreground window through xdotool. Global input hooks
// need a privileged evdev reader, so activity comes from the renderer
// fallback only.
type linuxImpl struct{}

func newPlatform() (Platform, error) {
	return &linuxImpl{}, nil
}

func (p *linuxImpl) GetActiveWindow() (*WindowInfo, error) {
	title, err := exec.Command("xdotool", "getactivewindow", "getwindowname").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to read active window: %w", err)
	}

	info := &WindowInfo{
		Title:     strings.TrimSpace(string(title)),
		IsVisible: true,
		Timestamp: time.Now(),
	}

	if out, err := exec.Command("xdotool", "getactivewindow", "getwindowpid").Output(); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(out))); err == nil {
			info.ProcessID = pid
			if path, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid)); err == nil {
				info.ProcessPath = path
				info.Application = filepath.Base(path)
			}
		}
	}
	return info, nil
}

func (p *linuxImpl) StartActivityMonitoring(callback func(ActivityEvent)) error {
	return fmt.Errorf("global input hooks: %w", ErrNotSupported)
}

func (p *linuxImpl) StopActivityMonitoring() error {
	return nil
}

func (p *linuxImpl) GetSystemInfo() (*SystemInfo, error) {
	hostname, _ := os.Hostname()
	return &SystemInfo{
		OS:        "linux",
		OSVersion: runtime.GOOS,
		Arch:      runtime.GOARCH,
		Hostname:  hostname,
	}, nil
}

func (p *linuxImpl) CaptureScreenshot(path string) error {
	tools := [][]string{
		{"gnome-screenshot", "-f", path},
		{"import", "-window", "root", path},
		{"scrot", "--overwrite", path},
	}
	for _, tool := range tools {
		if err := exec.Command(tool[0], tool[1:]...).Run(); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no screenshot tool found: %w", ErrNotSupported)
}
