package models

import "time"

// BreakKind tells how a break was started
type BreakKind string

const (
	BreakManual    BreakKind = "manual"
	BreakScheduled BreakKind = "scheduled"
	BreakRemote    BreakKind = "remote"
)

// Recurring break window names
const (
	WindowMorning = "morning"
	WindowEvening = "evening"
)

// ActiveBreak is the single break slot shared by manual and scheduled breaks
type ActiveBreak struct {
	Kind      BreakKind `json:"kind"`
	StartedAt time.Time `json:"startedAt"`
	EndsAt    time.Time `json:"endsAt"`
}

// ScheduledFlags records which recurring windows were consumed on Date
type ScheduledFlags struct {
	Date  string          `json:"date"` // YYYY-MM-DD, local
	Taken map[string]bool `json:"taken"`
}

// BreakState is a read-only view of the break scheduler
type BreakState struct {
	ManualBreakDate string         `json:"manualBreakDate,omitempty"`
	ScheduledFlags  ScheduledFlags `json:"scheduledFlags"`
	ActiveBreak     *ActiveBreak   `json:"activeBreak,omitempty"`
}

// DateKey formats t as a local calendar date
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
