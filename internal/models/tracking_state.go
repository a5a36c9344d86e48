package models

import "time"

// ActivityMetrics are monotonic input counters for the open session
type ActivityMetrics struct {
	KeyPresses     int64 `json:"keyPresses"`
	MouseClicks    int64 `json:"mouseClicks"`
	MouseMovements int64 `json:"mouseMovements"`
	MouseScrolls   int64 `json:"mouseScrolls"`
}

// Covers reports whether every counter of m is at least the one in other
func (m ActivityMetrics) Covers(other ActivityMetrics) bool {
	return m.KeyPresses >= other.KeyPresses && m.MouseClicks >= other.MouseClicks &&
		m.MouseMovements >= other.MouseMovements && m.MouseScrolls >= other.MouseScrolls
}

// Max returns the per-counter maximum of m and other
func (m ActivityMetrics) Max(other ActivityMetrics) ActivityMetrics {
	return ActivityMetrics{
		KeyPresses:     max(m.KeyPresses, other.KeyPresses),
		MouseClicks:    max(m.MouseClicks, other.MouseClicks),
		MouseMovements: max(m.MouseMovements, other.MouseMovements),
		MouseScrolls:   max(m.MouseScrolls, other.MouseScrolls),
	}
}

// AppUsage is the foreground time accumulated by one application
type AppUsage struct {
	Duration   time.Duration `json:"duration"`
	LastActive time.Time     `json:"lastActive"`
}

// Screenshot is a captured artifact waiting for a confirmed upload
type Screenshot struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Data      string    `json:"data,omitempty"` // base64
}

// TrackingState holds the counters and activity timestamps of the open session
type TrackingState struct {
	SessionStart         time.Time           `json:"sessionStart"`
	WorkingTime          time.Duration       `json:"workingTime"`
	IdleTime             time.Duration       `json:"idleTime"`
	IsIdle               bool                `json:"isIdle"`
	NotifiedPreIdle      bool                `json:"notifiedPreIdle"`
	LastActivity         time.Time           `json:"lastActivity"`
	LastKeyboardActivity time.Time           `json:"lastKeyboardActivity"`
	LastMouseActivity    time.Time           `json:"lastMouseActivity"`
	ActivityMetrics      ActivityMetrics     `json:"activityMetrics"`
	AppUsage             map[string]AppUsage `json:"appUsage"`
	Screenshots          []Screenshot        `json:"screenshots"`
	TotalScreenshotCount int                 `json:"totalScreenshotCount"`
}

// NewTrackingState returns a fresh state for a session starting at start
func NewTrackingState(start time.Time) TrackingState {
	return TrackingState{
		SessionStart:         start,
		LastActivity:         start,
		LastKeyboardActivity: start,
		LastMouseActivity:    start,
		AppUsage:             make(map[string]AppUsage),
		Screenshots:          []Screenshot{},
	}
}

// Clone returns a deep copy
func (s TrackingState) Clone() TrackingState {
	out := s
	out.AppUsage = make(map[string]AppUsage, len(s.AppUsage))
	for name, usage := range s.AppUsage {
		out.AppUsage[name] = usage
	}
	out.Screenshots = append([]Screenshot{}, s.Screenshots...)
	return out
}

// WithoutScreenshots returns a deep copy with the pending screenshots dropped
func (s TrackingState) WithoutScreenshots() TrackingState {
	out := s.Clone()
	out.Screenshots = []Screenshot{}
	return out
}

// TrackedTime is working plus idle time
func (s TrackingState) TrackedTime() time.Duration {
	return s.WorkingTime + s.IdleTime
}

// RaiseTo lifts the cumulative counters of s to those already reported in
// upload, so a resumed session never reports less than was queued.
func (s *TrackingState) RaiseTo(upload SessionUpload) {
	s.WorkingTime = max(s.WorkingTime, time.Duration(upload.WorkingTime)*time.Second)
	s.IdleTime = max(s.IdleTime, time.Duration(upload.IdleTime)*time.Second)
	s.TotalScreenshotCount = max(s.TotalScreenshotCount, upload.TotalScreenshotCount)
	s.ActivityMetrics = s.ActivityMetrics.Max(upload.ActivityMetrics)
	if s.AppUsage == nil {
		s.AppUsage = make(map[string]AppUsage)
	}
	for _, app := range upload.Applications {
		usage := s.AppUsage[app.Name]
		usage.Duration = max(usage.Duration, time.Duration(app.Duration)*time.Second)
		if last := time.UnixMilli(app.LastActive); last.After(usage.LastActive) {
			usage.LastActive = last
		}
		s.AppUsage[app.Name] = usage
	}
}
