package config

// Settings is the subset of configuration the collector can push at runtime.
// Nil fields were not part of the push.
type Settings struct {
	ScreenshotInterval *int            `json:"screenshotInterval,omitempty"` // seconds
	IdleThreshold      *int            `json:"idleThreshold,omitempty"`      // seconds
	BreakSchedules     *BreakSchedules `json:"breakSchedules,omitempty"`
	HideTimer          *bool           `json:"hideTimer,omitempty"`
	HideScreenshots    *bool           `json:"hideScreenshots,omitempty"`
	HideBreakButton    *bool           `json:"hideBreakButton,omitempty"`
}

type BreakSchedules struct {
	Morning *BreakWindow `json:"morning,omitempty"`
	Evening *BreakWindow `json:"evening,omitempty"`
}

// Merge overlays the non-nil fields of other onto s
func (s Settings) Merge(other Settings) Settings {
	if other.ScreenshotInterval != nil {
		s.ScreenshotInterval = other.ScreenshotInterval
	}
	if other.IdleThreshold != nil {
		s.IdleThreshold = other.IdleThreshold
	}
	if other.BreakSchedules != nil {
		if s.BreakSchedules == nil {
			s.BreakSchedules = &BreakSchedules{}
		}
		if other.BreakSchedules.Morning != nil {
			s.BreakSchedules.Morning = other.BreakSchedules.Morning
		}
		if other.BreakSchedules.Evening != nil {
			s.BreakSchedules.Evening = other.BreakSchedules.Evening
		}
	}
	if other.HideTimer != nil {
		s.HideTimer = other.HideTimer
	}
	if other.HideScreenshots != nil {
		s.HideScreenshots = other.HideScreenshots
	}
	if other.HideBreakButton != nil {
		s.HideBreakButton = other.HideBreakButton
	}
	return s
}

// ApplySettings overlays cached or pushed settings onto the file configuration.
// Values that would fail validation are ignored.
func (c *Config) ApplySettings(s Settings) {
	if s.ScreenshotInterval != nil && *s.ScreenshotInterval > 0 {
		c.Tracking.ScreenshotInterval = *s.ScreenshotInterval
	}
	if s.IdleThreshold != nil && *s.IdleThreshold > 0 {
		c.Tracking.IdleThreshold = *s.IdleThreshold
	}
	if s.BreakSchedules != nil {
		if w := s.BreakSchedules.Morning; w != nil && validWindow(*w) {
			c.Breaks.Morning = *w
		}
		if w := s.BreakSchedules.Evening; w != nil && validWindow(*w) {
			c.Breaks.Evening = *w
		}
	}
}

func validWindow(w BreakWindow) bool {
	if w.Time == "" {
		return true
	}
	_, err := ParseClock(w.Time)
	return err == nil && w.DurationMinutes > 0
}
