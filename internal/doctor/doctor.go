// Package doctor validates hub configuration and module setup before the
// service starts.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ameliarose/hub/internal/config"
	"github.com/ameliarose/hub/internal/module"
	"github.com/ameliarose/hub/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against the assembled module registry.
type Doctor struct {
	cfg      *config.Config
	registry *module.Registry
}

// New creates a Doctor from a loaded config and module registry.
func New(cfg *config.Config, registry *module.Registry) *Doctor {
	return &Doctor{cfg: cfg, registry: registry}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.checkModules(r)
	d.checkScripts(r)
	d.checkWorkingDirs(r)
	d.checkDataDir(r)
	d.checkAPIConfig(r)
	d.warnSuspiciousSchedules(r)
	d.warnDuplicateScripts(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// checkModules flags an empty registry; a hub with nothing to run is almost
// always a misconfiguration.
func (d *Doctor) checkModules(r *Result) {
	if d.registry.Len() == 0 {
		d.addWarning(r, "modules", "modules",
			"no modules configured or discovered; the hub will have nothing to run")
	}
}

// checkScripts verifies every module's program resolves to an executable.
func (d *Doctor) checkScripts(r *Result) {
	for _, desc := range d.registry.All() {
		field := fmt.Sprintf("modules.%s.command", desc.Key)
		if _, err := desc.Resolve(); err != nil {
			d.addError(r, "scripts", field, err.Error())
		}
	}
}

// checkWorkingDirs verifies configured working directories exist.
func (d *Doctor) checkWorkingDirs(r *Result) {
	for _, desc := range d.registry.All() {
		if desc.WorkingDir == "" {
			continue
		}
		field := fmt.Sprintf("modules.%s.working_dir", desc.Key)
		info, err := os.Stat(desc.WorkingDir)
		if err != nil {
			d.addError(r, "working_dirs", field,
				fmt.Sprintf("working directory %q does not exist", desc.WorkingDir))
			continue
		}
		if !info.IsDir() {
			d.addError(r, "working_dirs", field,
				fmt.Sprintf("working directory %q is not a directory", desc.WorkingDir))
		}
	}
}

// checkDataDir verifies the history database location is usable.
func (d *Doctor) checkDataDir(r *Result) {
	path := d.cfg.HistoryPath()
	if path == "" {
		d.addError(r, "storage", "history.path", "history.path is required")
		return
	}

	if err := storage.CheckLocalFilesystem(path); err != nil {
		d.addError(r, "storage", "history.path", err.Error())
		return
	}

	dir := filepath.Dir(path)
	if info, err := os.Stat(dir); err == nil {
		if !info.IsDir() {
			d.addError(r, "storage", "history.path",
				fmt.Sprintf("%q is not a directory", dir))
		}
	}
	// A missing directory is fine; Open creates it.
}

// checkAPIConfig checks API server settings.
func (d *Doctor) checkAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.APIKey == "" {
		d.addError(r, "api", "api.api_key", "api.api_key is required when API is enabled")
	}
	if !strings.HasPrefix(d.cfg.API.Listen, "127.0.0.1") && !strings.HasPrefix(d.cfg.API.Listen, "localhost") {
		d.addWarning(r, "api", "api.listen",
			fmt.Sprintf("api.listen %q is not loopback; the API will be reachable from the network", d.cfg.API.Listen))
	}
}

// warnSuspiciousSchedules flags intervals shorter than the engine can
// reasonably service.
func (d *Doctor) warnSuspiciousSchedules(r *Result) {
	for name, mc := range d.cfg.Modules {
		if mc.Schedule == nil || !mc.IsEnabled() {
			continue
		}
		field := fmt.Sprintf("modules.%s.schedule.every", name)
		interval, err := config.ParseInterval(mc.Schedule.Every)
		if err != nil {
			d.addError(r, "schedule", field, err.Error())
			continue
		}
		if interval.Minutes() < 1 {
			d.addWarning(r, "schedule", field,
				fmt.Sprintf("schedule interval %q is very short (< 1m)", mc.Schedule.Every))
		}
		if interval < d.cfg.Service.TickInterval {
			d.addWarning(r, "schedule", field,
				fmt.Sprintf("schedule interval %q is shorter than service.tick_interval %s; runs fire at most once per tick",
					mc.Schedule.Every, d.cfg.Service.TickInterval))
		}
	}
}

// warnDuplicateScripts flags two modules launching the same program, which is
// usually a copy-paste mistake.
func (d *Doctor) warnDuplicateScripts(r *Result) {
	byProgram := make(map[string][]string)
	for _, desc := range d.registry.All() {
		if len(desc.Command) == 0 {
			continue
		}
		byProgram[desc.Command[0]] = append(byProgram[desc.Command[0]], desc.Key)
	}
	for program, keys := range byProgram {
		if len(keys) < 2 {
			continue
		}
		sort.Strings(keys)
		d.addWarning(r, "modules", "",
			fmt.Sprintf("modules %s all launch %q", strings.Join(keys, ", "), program))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
