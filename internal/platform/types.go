package platform

import (
	"errors"
	"time"
)

// ErrNotSupported is returned when a capability is missing on this OS or the
// agent lacks the permission to use it
var ErrNotSupported = errors.New("not supported on this platform")

// Platform defines the interface for platform-specific operations
type Platform interface {
	// GetActiveWindow returns information about the currently active window
	GetActiveWindow() (*WindowInfo, error)

	// StartActivityMonitoring installs the OS input hooks. The callback runs
	// on the hook thread and must not block.
	StartActivityMonitoring(callback func(ActivityEvent)) error

	// StopActivityMonitoring removes the hooks
	StopActivityMonitoring() error

	// GetSystemInfo returns system information
	GetSystemInfo() (*SystemInfo, error)

	// CaptureScreenshot writes a PNG of the primary display to path
	CaptureScreenshot(path string) error
}

// WindowInfo contains information about a window
type WindowInfo struct {
	Title       string
	Application string
	ProcessID   int
	ProcessPath string
	IsVisible   bool
	Timestamp   time.Time
}

// ActivityEvent is a raw input event from one hook source
type ActivityEvent struct {
	Kind ActivityKind
	// Identifier names the key or button; IdentifierAny when the source
	// cannot tell keys apart.
	Identifier string
	Source     string
	// Continuous marks sources that stream every movement at high frequency
	Continuous bool
	Timestamp  time.Time
}

// ActivityKind represents the type of activity
type ActivityKind string

const (
	ActivityKeyPress    ActivityKind = "key"
	ActivityMouseClick  ActivityKind = "click"
	ActivityMouseScroll ActivityKind = "scroll"
	ActivityMouseMove   ActivityKind = "move"
)

const IdentifierAny = "any"

// SystemInfo contains system information
type SystemInfo struct {
	OS        string
	OSVersion string
	Arch      string
	Hostname  string
}
