package editor

import (
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/protoboard/sched"
)

// Config holds all engine configuration.
type Config struct {
	ListenAddr  string         `yaml:"listen_addr"`
	DraftDBPath string         `yaml:"draft_db_path"`
	DraftTTL    time.Duration  `yaml:"draft_ttl"`
	Storage     StorageConfig  `yaml:"storage"`
	Autosave    AutosaveConfig `yaml:"autosave"`
	Sync        SyncConfig     `yaml:"sync"`
	Canvas      CanvasConfig   `yaml:"canvas"`

	// Logger and Scheduler are injection points, not file settings.
	Logger    *slog.Logger    `yaml:"-"`
	Scheduler sched.Scheduler `yaml:"-"`
}

// StorageConfig points at the document-storage service.
type StorageConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
}

// AutosaveConfig tunes the per-session save coordinator. Zero values take
// the coordinator defaults (5s debounce, 30s max wait).
type AutosaveConfig struct {
	Debounce  time.Duration `yaml:"debounce"`
	MaxWait   time.Duration `yaml:"max_wait"`
	SavedHold time.Duration `yaml:"saved_hold"`
	ErrorHold time.Duration `yaml:"error_hold"`
	Disabled  bool          `yaml:"disabled"`
}

// SyncConfig tunes canvas write retries. Zero values take the synchronizer
// defaults (10 attempts, 50ms apart).
type SyncConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Interval    time.Duration `yaml:"interval"`
}

// CanvasConfig names where the session status is mirrored on a bound host.
type CanvasConfig struct {
	StatusSelector string `yaml:"status_selector"`
	StatusProperty string `yaml:"status_property"`
}

func (c *Config) defaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8086"
	}
	if c.DraftDBPath == "" {
		c.DraftDBPath = "protoboard.db"
	}
	if c.DraftTTL == 0 {
		c.DraftTTL = 7 * 24 * time.Hour
	}
	if c.Storage.BaseURL == "" {
		c.Storage.BaseURL = "http://localhost:9090"
	}
	if c.Canvas.StatusSelector == "" {
		c.Canvas.StatusSelector = "[data-session-status]"
	}
	if c.Canvas.StatusProperty == "" {
		c.Canvas.StatusProperty = "textContent"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Scheduler == nil {
		c.Scheduler = sched.New()
	}
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
