// Package config loads taskd settings from defaults, an optional YAML file
// and TASKD_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/sandeepkv93/tasksync/internal/logging"
)

const (
	EnvPrefix         = "TASKD_"
	maxConfigFileSize = 1024 * 1024
)

const (
	RemoteNone   = "none"
	RemoteMemory = "memory"
	RemoteNATS   = "nats"
	RemoteDir    = "dir"
)

// Keys without a section; their env names must not be split on the first
// underscore.
var topLevelKeys = map[string]bool{
	"data_dir":    true,
	"account":     true,
	"device_file": true,
	"database":    true,
}

type Config struct {
	DataDir    string         `koanf:"data_dir"`
	Account    string         `koanf:"account"`
	DeviceFile string         `koanf:"device_file"`
	Database   string         `koanf:"database"`
	Remote     RemoteConfig   `koanf:"remote"`
	Sync       SyncConfig     `koanf:"sync"`
	Queue      QueueConfig    `koanf:"queue"`
	Log        logging.Config `koanf:"log"`
	Notify     NotifyConfig   `koanf:"notify"`
	Metrics    MetricsConfig  `koanf:"metrics"`
}

type RemoteConfig struct {
	Kind string `koanf:"kind"`
	URL  string `koanf:"url"`
	Dir  string `koanf:"dir"`
}

type SyncConfig struct {
	Interval time.Duration `koanf:"interval"`
	MinGap   time.Duration `koanf:"min_gap"`
}

type QueueConfig struct {
	LockDuration    time.Duration `koanf:"lock_duration"`
	DuplicateWindow time.Duration `koanf:"duplicate_window"`
	PollInterval    time.Duration `koanf:"poll_interval"`
	RepeatReminders bool          `koanf:"repeat_reminders"`
}

type NotifyConfig struct {
	Desktop  bool `koanf:"desktop"`
	Terminal bool `koanf:"terminal"`
}

type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

func Default() Config {
	dataDir := ".taskd"
	if dir, err := os.UserConfigDir(); err == nil {
		dataDir = filepath.Join(dir, "taskd")
	}
	return Config{
		DataDir: dataDir,
		Remote:  RemoteConfig{Kind: RemoteNone},
		Sync: SyncConfig{
			Interval: 5 * time.Minute,
			MinGap:   2 * time.Second,
		},
		Queue: QueueConfig{
			LockDuration:    30 * time.Second,
			DuplicateWindow: 2 * time.Minute,
			PollInterval:    30 * time.Second,
		},
		Log:    logging.NewDefaultConfig(),
		Notify: NotifyConfig{Terminal: true},
	}
}

// DefaultPath is where Load looks when no file is given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "taskd", "config.yaml")
}

// Load builds the configuration. An explicit path must exist; the default
// path is optional.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		content, err := readConfigFile(path)
		switch {
		case err == nil:
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, err
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps TASKD_QUEUE_LOCK_DURATION to queue.lock_duration and
// TASKD_DATA_DIR to data_dir.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if topLevelKeys[lower] {
		return lower
	}
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s too large: %d bytes", path, info.Size())
	}
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func (c *Config) resolvePaths() {
	if c.DeviceFile == "" {
		c.DeviceFile = filepath.Join(c.DataDir, "device.json")
	}
	if c.Database == "" {
		c.Database = filepath.Join(c.DataDir, "taskd.db")
	}
	if c.Remote.Kind == RemoteDir && c.Remote.Dir == "" {
		c.Remote.Dir = filepath.Join(c.DataDir, "remote")
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	switch c.Remote.Kind {
	case RemoteNone, RemoteMemory, RemoteDir:
	case RemoteNATS:
		if c.Remote.URL == "" {
			return errors.New("remote.url is required for the nats remote")
		}
	default:
		return fmt.Errorf("unknown remote.kind %q", c.Remote.Kind)
	}
	if c.Sync.Interval < 0 || c.Sync.MinGap < 0 {
		return errors.New("sync durations must not be negative")
	}
	if c.Queue.LockDuration <= 0 {
		return errors.New("queue.lock_duration must be positive")
	}
	if c.Queue.DuplicateWindow <= 0 {
		return errors.New("queue.duplicate_window must be positive")
	}
	if c.Queue.PollInterval <= 0 {
		return errors.New("queue.poll_interval must be positive")
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// SyncEnabled reports whether a remote store and account are configured.
func (c Config) SyncEnabled() bool {
	return c.Remote.Kind != RemoteNone && strings.TrimSpace(c.Account) != ""
}
