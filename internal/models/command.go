package models

import "encoding/json"

// Inbound command channel events
const (
	EventTakeScreenshot    = "take-screenshot"
	EventBreakApproved     = "break-approved"
	EventBreakRejected     = "break-rejected"
	EventRemoteBreakStart  = "remote-break-start"
	EventRemoteBreakStop   = "remote-break-stop"
	EventRemoteClockIn     = "remote-clock-in"
	EventRemoteClockOut    = "remote-clock-out"
	EventSettingsUpdated   = "settings-updated"
	EventUserStatusChanged = "user-status-changed"
)

// Outbound command channel events
const (
	EventRelayMessage   = "relay-message"
	RelayEmployeeStatus = "employee-status"
	RelayBreakRequest   = "break-request"
	RelayTargetAdmin    = "admin"
)

// Envelope is a single frame on the command channel
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RelayMessage asks the collector to forward an event to another party
type RelayMessage struct {
	Target  string `json:"target"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	UserID  string `json:"userId"`
}

// StatusReport is the periodic live status pushed over the command channel
type StatusReport struct {
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	State       string `json:"state"`
	WorkingTime int64  `json:"workingTime"` // seconds
	IdleTime    int64  `json:"idleTime"`    // seconds
	IsIdle      bool   `json:"isIdle"`
	OnBreak     bool   `json:"onBreak"`
	BreakEndsAt *int64 `json:"breakEndsAt,omitempty"`
	ClockedIn   bool   `json:"clockedIn"`
	Timestamp   int64  `json:"timestamp"`
}

type BreakApprovedPayload struct {
	Duration int `json:"duration"` // minutes
}

type BreakRejectedPayload struct {
	Reason string `json:"reason"`
}

type RemoteBreakPayload struct {
	Duration int    `json:"duration"` // minutes
	UserID   string `json:"userId"`
}

type UserPayload struct {
	UserID string `json:"userId"`
}

type UserStatusPayload struct {
	UserID   string `json:"userId"`
	IsActive bool   `json:"isActive"`
}

type BreakRequestPayload struct {
	Minutes  int    `json:"minutes"`
	UserName string `json:"userName"`
}
