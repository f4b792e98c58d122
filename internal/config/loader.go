// Package config loads and validates the hub's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, expands, defaults, and validates configuration from a file.
// If a .checksums manifest sits next to the file, the file is verified
// against it before parsing is trusted.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: check the path or run with --config", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	if err := VerifyChecksums(absPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.baseDir = filepath.Dir(absPath)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// expandEnvVars substitutes ${VAR} references. Unset variables are an error
// rather than a silent empty string.
func expandEnvVars(s string) (string, error) {
	var missing []string
	out := envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := envVarPattern.FindStringSubmatch(m)[1]
		val, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return m
		}
		return val
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("undefined environment variables in config: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func validate(cfg *Config) error {
	switch strings.ToUpper(cfg.Service.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR", "":
	default:
		return fmt.Errorf("service.log_level must be one of debug, info, warn, error")
	}
	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text", "":
	default:
		return fmt.Errorf("service.log_format must be json or text")
	}
	if cfg.Service.TickInterval <= 0 {
		return fmt.Errorf("service.tick_interval must be positive")
	}

	if cfg.Engine.Timeout <= 0 {
		return fmt.Errorf("engine.timeout must be positive")
	}
	if cfg.Engine.Grace <= 0 {
		return fmt.Errorf("engine.grace must be positive")
	}
	if cfg.Engine.QueueCapacity <= 0 {
		return fmt.Errorf("engine.queue_capacity must be positive")
	}
	if cfg.Engine.BatchTick <= 0 {
		return fmt.Errorf("engine.batch_tick must be positive")
	}
	if cfg.Engine.BatchSize <= 0 {
		return fmt.Errorf("engine.batch_size must be positive")
	}

	if cfg.History.Path == "" {
		return fmt.Errorf("history.path is required")
	}
	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api.enabled")
		}
		if cfg.API.APIKey == "" {
			return fmt.Errorf("api.api_key is required when api.enabled")
		}
	}

	for key, mc := range cfg.Modules {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("module key must not be empty")
		}
		if !mc.IsEnabled() {
			continue
		}
		if len(mc.Command) == 0 || strings.TrimSpace(mc.Command[0]) == "" {
			return fmt.Errorf("modules.%s.command is required", key)
		}
		if mc.Timeout < 0 {
			return fmt.Errorf("modules.%s.timeout must not be negative", key)
		}
		if mc.Schedule != nil {
			if _, err := ParseInterval(mc.Schedule.Every); err != nil {
				return fmt.Errorf("modules.%s.schedule.every: %w", key, err)
			}
			if mc.Schedule.Jitter < 0 {
				return fmt.Errorf("modules.%s.schedule.jitter must not be negative", key)
			}
		}
	}
	return nil
}

// ParseInterval converts schedule interval strings to durations. Accepts the
// shorthands "hourly", "daily", and "weekly" as well as Go duration syntax.
func ParseInterval(interval string) (time.Duration, error) {
	switch strings.TrimSpace(interval) {
	case "":
		return 0, fmt.Errorf("schedule interval is required")
	case "hourly":
		return time.Hour, nil
	case "daily":
		return 24 * time.Hour, nil
	case "weekly":
		return 7 * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(interval)
	if err != nil {
		return 0, fmt.Errorf("invalid schedule interval %q: %w", interval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("schedule interval must be positive: %q", interval)
	}
	return d, nil
}

// resolvePath anchors a relative path at the config directory.
func (c *Config) resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.baseDir == "" {
		return p
	}
	return filepath.Join(c.baseDir, p)
}

// resolveCommand anchors a relative script path (one containing a separator)
// at the config directory; bare program names resolve via PATH at run time.
func (c *Config) resolveCommand(cmd []string) []string {
	if len(cmd) == 0 || c.baseDir == "" {
		return cmd
	}
	prog := cmd[0]
	if !strings.ContainsRune(prog, os.PathSeparator) || filepath.IsAbs(prog) {
		return cmd
	}
	out := make([]string, len(cmd))
	copy(out, cmd)
	out[0] = filepath.Join(c.baseDir, prog)
	return out
}

// ModulesRoot returns the module discovery directory resolved against the
// config directory. Empty when discovery is disabled.
func (c *Config) ModulesRoot() string { return c.resolvePath(c.ModulesDir) }

// HistoryPath returns the history database path resolved against the config
// directory.
func (c *Config) HistoryPath() string { return c.resolvePath(c.History.Path) }

// LockPath returns the pid lock path, defaulting next to the history store.
func (c *Config) LockPath() string {
	if c.Service.LockPath != "" {
		return c.resolvePath(c.Service.LockPath)
	}
	return filepath.Join(filepath.Dir(c.HistoryPath()), "hub.lock")
}
