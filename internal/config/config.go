package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the agent configuration loaded from YAML with environment overrides
type Config struct {
	Env         string   `yaml:"env" env:"AGENT_ENV" env-default:"local"`
	StoragePath string   `yaml:"storage_path" env:"AGENT_STORAGE_PATH" env-default:"./agent.db"`
	Log         Log      `yaml:"log"`
	Identity    Identity `yaml:"identity"`
	Backend     Backend  `yaml:"backend"`
	Tracking    Tracking `yaml:"tracking"`
	Breaks      Breaks   `yaml:"breaks"`
	Server      Server   `yaml:"server"`
	Tray        Tray     `yaml:"tray"`
	Device      Device   `yaml:"device"`
}

type Log struct {
	Level  string `yaml:"level" env:"AGENT_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"AGENT_LOG_FORMAT" env-default:"console"`
}

// Identity is the user the agent tracks until the collector says otherwise
type Identity struct {
	UserID   string `yaml:"user_id" env:"AGENT_USER_ID"`
	UserName string `yaml:"user_name" env:"AGENT_USER_NAME"`
}

type Backend struct {
	BaseURL     string `yaml:"base_url" env:"AGENT_BACKEND_URL" env-default:"http://localhost:5000/api"`
	WSURL       string `yaml:"ws_url" env:"AGENT_WS_URL" env-default:"ws://localhost:5000/ws"`
	APIKey      string `yaml:"api_key" env:"AGENT_API_KEY"`
	DeviceToken string `yaml:"device_token" env:"AGENT_DEVICE_TOKEN"`
	Timeout     int    `yaml:"timeout" env:"AGENT_BACKEND_TIMEOUT" env-default:"30"` // seconds
}

type Tracking struct {
	TickInterval       int    `yaml:"tick_interval" env-default:"1000"` // milliseconds
	IdleThreshold      int    `yaml:"idle_threshold" env:"AGENT_IDLE_THRESHOLD" env-default:"300"`
	WindowPollInterval int    `yaml:"window_poll_interval" env-default:"2"`
	HeartbeatInterval  int    `yaml:"heartbeat_interval" env-default:"15"`
	UploadInterval     int    `yaml:"upload_interval" env-default:"300"`
	StatusInterval     int    `yaml:"status_interval" env-default:"10"`
	ScreenshotInterval int    `yaml:"screenshot_interval" env-default:"600"`
	ScreenshotDir      string `yaml:"screenshot_dir" env-default:"./screenshots"`
	ResumeMaxAge       int    `yaml:"resume_max_age" env-default:"120"` // minutes
	AutoStart          bool   `yaml:"auto_start" env:"AGENT_AUTO_START" env-default:"true"`
}

// BreakWindow is a recurring daily break starting at Time (HH:MM, local)
type BreakWindow struct {
	Time            string `yaml:"time" json:"time"`
	DurationMinutes int    `yaml:"duration_minutes" json:"duration"`
}

type Breaks struct {
	ManualMinutes int         `yaml:"manual_minutes" env-default:"15"`
	Morning       BreakWindow `yaml:"morning"`
	Evening       BreakWindow `yaml:"evening"`
}

type Server struct {
	Enabled bool `yaml:"enabled" env:"AGENT_SERVER_ENABLED" env-default:"true"`
	Port    int  `yaml:"port" env:"AGENT_SERVER_PORT" env-default:"8765"`
}

type Tray struct {
	Enabled bool `yaml:"enabled" env:"AGENT_TRAY_ENABLED" env-default:"false"`
}

type Device struct {
	ID   string `yaml:"id" env:"AGENT_DEVICE_ID"`
	Name string `yaml:"name" env:"AGENT_DEVICE_NAME"`
}

// LoadConfig reads the YAML file at path and applies environment overrides
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks intervals and break windows
func (c *Config) Validate() error {
	intervals := map[string]int{
		"tracking.tick_interval":        c.Tracking.TickInterval,
		"tracking.idle_threshold":       c.Tracking.IdleThreshold,
		"tracking.window_poll_interval": c.Tracking.WindowPollInterval,
		"tracking.heartbeat_interval":   c.Tracking.HeartbeatInterval,
		"tracking.upload_interval":      c.Tracking.UploadInterval,
		"tracking.status_interval":      c.Tracking.StatusInterval,
		"tracking.screenshot_interval":  c.Tracking.ScreenshotInterval,
		"tracking.resume_max_age":       c.Tracking.ResumeMaxAge,
		"backend.timeout":               c.Backend.Timeout,
	}
	for name, value := range intervals {
		if value <= 0 {
			return fmt.Errorf("invalid config: %s must be positive, got %d", name, value)
		}
	}

	for name, window := range map[string]BreakWindow{"morning": c.Breaks.Morning, "evening": c.Breaks.Evening} {
		if window.Time == "" {
			continue
		}
		if _, err := ParseClock(window.Time); err != nil {
			return fmt.Errorf("invalid config: breaks.%s.time: %w", name, err)
		}
		if window.DurationMinutes <= 0 {
			return fmt.Errorf("invalid config: breaks.%s.duration_minutes must be positive", name)
		}
	}
	return nil
}

// ParseClock parses an HH:MM wall-clock time and returns the offset from midnight
func ParseClock(value string) (time.Duration, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	return time.Duration(parsed.Hour())*time.Hour + time.Duration(parsed.Minute())*time.Minute, nil
}

// IdleThreshold returns the configured idle threshold
func (c *Config) IdleThreshold() time.Duration {
	return time.Duration(c.Tracking.IdleThreshold) * time.Second
}

// ScreenshotInterval returns the configured screenshot interval
func (c *Config) ScreenshotInterval() time.Duration {
	return time.Duration(c.Tracking.ScreenshotInterval) * time.Second
}
