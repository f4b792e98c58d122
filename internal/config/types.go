package config

import (
	"time"

	"github.com/ameliarose/hub/internal/module"
)

// Config is the complete hub configuration.
type Config struct {
	Service    ServiceConfig         `yaml:"service"`
	Engine     EngineConfig          `yaml:"engine"`
	History    HistoryConfig         `yaml:"history"`
	API        APIConfig             `yaml:"api,omitempty"`
	ModulesDir string                `yaml:"modules_dir,omitempty"`
	Modules    map[string]ModuleConf `yaml:"modules"`

	// baseDir anchors relative paths; set by Load.
	baseDir string
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name         string        `yaml:"name"`
	LogLevel     string        `yaml:"log_level"`
	LogFormat    string        `yaml:"log_format"`
	TickInterval time.Duration `yaml:"tick_interval"`
	LockPath     string        `yaml:"lock_path,omitempty"`
}

// EngineConfig tunes the execution engine.
type EngineConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	Grace         time.Duration `yaml:"grace"`
	QueueCapacity int           `yaml:"queue_capacity"`
	BatchTick     time.Duration `yaml:"batch_tick"`
	BatchSize     int           `yaml:"batch_size"`
}

// HistoryConfig defines run history storage.
type HistoryConfig struct {
	Path string `yaml:"path"`
	// Retention prunes run_log rows older than this. Zero keeps everything.
	Retention time.Duration `yaml:"retention,omitempty"`
}

// APIConfig defines the local HTTP control surface.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key,omitempty"`
}

// ModuleConf declares one runnable module.
type ModuleConf struct {
	Enabled     *bool           `yaml:"enabled,omitempty"` // default true
	DisplayName string          `yaml:"display_name,omitempty"`
	Command     []string        `yaml:"command"`
	WorkingDir  string          `yaml:"working_dir,omitempty"`
	Timeout     time.Duration   `yaml:"timeout,omitempty"`
	Schedule    *ScheduleConfig `yaml:"schedule,omitempty"`
}

// IsEnabled reports whether the module should be registered.
func (m ModuleConf) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// ScheduleConfig defines when a module should run unattended.
type ScheduleConfig struct {
	Every  string        `yaml:"every"` // e.g. "5m", "hourly", "daily"
	Jitter time.Duration `yaml:"jitter,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:         "amelia-hub",
			LogLevel:     "info",
			LogFormat:    "text",
			TickInterval: 60 * time.Second,
		},
		Engine: EngineConfig{
			Timeout:       300 * time.Second,
			Grace:         2 * time.Second,
			QueueCapacity: 10000,
			BatchTick:     100 * time.Millisecond,
			BatchSize:     50,
		},
		History: HistoryConfig{
			Path: "./data/hub.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Modules: make(map[string]ModuleConf),
	}
}

// BaseDir is the directory config-relative paths resolve against.
func (c *Config) BaseDir() string { return c.baseDir }

// Descriptors converts configured, enabled modules into registry descriptors.
// Relative working dirs and script paths resolve against the config file's
// directory.
func (c *Config) Descriptors() []module.Descriptor {
	out := make([]module.Descriptor, 0, len(c.Modules))
	for key, mc := range c.Modules {
		if !mc.IsEnabled() {
			continue
		}
		out = append(out, module.Descriptor{
			Key:         key,
			DisplayName: mc.DisplayName,
			Command:     c.resolveCommand(mc.Command),
			WorkingDir:  c.resolvePath(mc.WorkingDir),
			Timeout:     mc.Timeout,
		})
	}
	return out
}
