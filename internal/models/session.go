package models

import (
	"sort"
	"time"
)

// Identity is the user the agent is tracking
type Identity struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// SessionBuffer is the crash-recovery snapshot. Screenshots are never part of it.
type SessionBuffer struct {
	UserID         string        `json:"userId"`
	UserName       string        `json:"userName"`
	State          TrackingState `json:"trackingState"`
	TrackingActive bool          `json:"trackingActive"`
	SavedAt        time.Time     `json:"savedAt"`
}

// ApplicationUsage is one entry of the upload's applications list
type ApplicationUsage struct {
	Name       string `json:"name"`
	Duration   int64  `json:"duration"` // seconds
	LastActive int64  `json:"lastActive"`
}

// UploadedScreenshot is a screenshot attached to an upload
type UploadedScreenshot struct {
	Timestamp int64  `json:"timestamp"` // ms epoch
	Data      string `json:"data"`
}

// SessionUpload is the body of POST /sessions/upload. Time fields are
// cumulative totals for the session, not deltas.
type SessionUpload struct {
	UploadID             string               `json:"uploadId"`
	UserID               string               `json:"userId"`
	UserName             string               `json:"userName"`
	WorkingTime          int64                `json:"workingTime"` // seconds
	IdleTime             int64                `json:"idleTime"`    // seconds
	SessionStart         int64                `json:"sessionStart"`
	SessionEnd           *int64               `json:"sessionEnd"`
	Date                 string               `json:"date"`
	ScreenshotCount      int                  `json:"screenshotCount"`
	TotalScreenshotCount int                  `json:"totalScreenshotCount"`
	ActivityMetrics      ActivityMetrics      `json:"activityMetrics"`
	Applications         []ApplicationUsage   `json:"applications"`
	Screenshots          []UploadedScreenshot `json:"screenshots,omitempty"`
	Recovered            bool                 `json:"recovered,omitempty"`
	CapturedAt           int64                `json:"capturedAt"` // ms epoch
}

// SessionKey identifies the logical session a cumulative upload belongs to
func (u SessionUpload) SessionKey() string {
	return SessionKeyFor(u.UserID, time.UnixMilli(u.SessionStart))
}

// SessionKeyFor is the session key of userID's session started at start
func SessionKeyFor(userID string, start time.Time) string {
	return userID + ":" + time.UnixMilli(start.UnixMilli()).UTC().Format(time.RFC3339Nano)
}

// Covers reports whether u carries every total of other, so delivering u
// makes other redundant.
func (u SessionUpload) Covers(other SessionUpload) bool {
	if u.SessionKey() != other.SessionKey() {
		return false
	}
	if other.SessionEnd != nil && u.SessionEnd == nil {
		return false
	}
	if u.WorkingTime < other.WorkingTime || u.IdleTime < other.IdleTime ||
		u.TotalScreenshotCount < other.TotalScreenshotCount {
		return false
	}
	if !u.ActivityMetrics.Covers(other.ActivityMetrics) {
		return false
	}
	apps := make(map[string]int64, len(u.Applications))
	for _, app := range u.Applications {
		apps[app.Name] = app.Duration
	}
	for _, app := range other.Applications {
		if apps[app.Name] < app.Duration {
			return false
		}
	}
	return true
}

// MergeTotals returns u with every counter raised to the maximum of u and
// other. The newer capture wins for CapturedAt.
func (u SessionUpload) MergeTotals(other SessionUpload) SessionUpload {
	out := u
	out.WorkingTime = max(u.WorkingTime, other.WorkingTime)
	out.IdleTime = max(u.IdleTime, other.IdleTime)
	out.TotalScreenshotCount = max(u.TotalScreenshotCount, other.TotalScreenshotCount)
	out.ActivityMetrics = u.ActivityMetrics.Max(other.ActivityMetrics)
	out.CapturedAt = max(u.CapturedAt, other.CapturedAt)
	out.Recovered = u.Recovered || other.Recovered
	if other.SessionEnd != nil && (u.SessionEnd == nil || *other.SessionEnd > *u.SessionEnd) {
		end := *other.SessionEnd
		out.SessionEnd = &end
	}

	byName := make(map[string]int, len(u.Applications))
	out.Applications = append([]ApplicationUsage(nil), u.Applications...)
	for i, app := range out.Applications {
		byName[app.Name] = i
	}
	for _, app := range other.Applications {
		i, ok := byName[app.Name]
		if !ok {
			byName[app.Name] = len(out.Applications)
			out.Applications = append(out.Applications, app)
			continue
		}
		out.Applications[i].Duration = max(out.Applications[i].Duration, app.Duration)
		out.Applications[i].LastActive = max(out.Applications[i].LastActive, app.LastActive)
	}
	sort.Slice(out.Applications, func(i, j int) bool { return out.Applications[i].Name < out.Applications[j].Name })
	return out
}

// UploadResponse is the collector's reply
type UploadResponse struct {
	Success bool `json:"success"`
	Data    struct {
		SessionID string `json:"sessionId"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

// UploadQueueItem is a payload waiting for redelivery
type UploadQueueItem struct {
	ID          int64
	SessionKey  string
	Payload     SessionUpload
	EnqueuedAt  time.Time
	Attempts    int
	LastAttempt *time.Time
}
