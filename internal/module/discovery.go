package module

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const manifestFilename = "module.yaml"

// Manifest is the on-disk declaration of a discoverable module. Paths in the
// manifest are resolved relative to the directory that contains it.
type Manifest struct {
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"display_name,omitempty"`
	Command     []string `yaml:"command"`
	WorkingDir  string   `yaml:"working_dir,omitempty"`
	Timeout     string   `yaml:"timeout,omitempty"`
}

// Discover scans the immediate subdirectories of root for module.yaml files
// and returns the descriptors they declare. A missing root is not an error;
// an invalid manifest is logged and skipped rather than fatal.
func Discover(root string, logger func(level, msg string, args ...any)) ([]Descriptor, error) {
	if logger == nil {
		logger = func(level, msg string, args ...any) {}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve modules dir %q: %w", root, err)
	}
	entries, err := os.ReadDir(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read modules dir: %w", err)
	}

	var out []Descriptor
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(absRoot, e.Name())
		manifestPath := filepath.Join(dir, manifestFilename)
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}

		d, err := loadManifest(manifestPath, dir)
		if err != nil {
			logger("warn", "skipping invalid module manifest", "path", manifestPath, "error", err)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func loadManifest(path, dir string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Descriptor{}, fmt.Errorf("parse manifest: %w", err)
	}

	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		m.Name = filepath.Base(dir)
	}

	d := Descriptor{
		Key:         m.Name,
		DisplayName: m.DisplayName,
		Command:     m.Command,
		WorkingDir:  dir,
	}
	if m.WorkingDir != "" {
		if filepath.IsAbs(m.WorkingDir) {
			d.WorkingDir = m.WorkingDir
		} else {
			d.WorkingDir = filepath.Join(dir, m.WorkingDir)
		}
	}
	// A relative program path in a manifest is anchored at the module dir.
	if len(d.Command) > 0 && strings.ContainsRune(d.Command[0], os.PathSeparator) && !filepath.IsAbs(d.Command[0]) {
		cmd := make([]string, len(d.Command))
		copy(cmd, d.Command)
		cmd[0] = filepath.Join(dir, cmd[0])
		d.Command = cmd
	}
	if m.Timeout != "" {
		t, err := time.ParseDuration(m.Timeout)
		if err != nil || t <= 0 {
			return Descriptor{}, fmt.Errorf("invalid timeout %q", m.Timeout)
		}
		d.Timeout = t
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Merge combines configured and discovered descriptors. Configured entries
// win on key collision, matching how operators expect explicit config to
// override on-disk manifests.
func Merge(configured, discovered []Descriptor) []Descriptor {
	seen := make(map[string]struct{}, len(configured))
	out := make([]Descriptor, 0, len(configured)+len(discovered))
	for _, d := range configured {
		seen[d.Key] = struct{}{}
		out = append(out, d)
	}
	for _, d := range discovered {
		if _, dup := seen[d.Key]; dup {
			continue
		}
		out = append(out, d)
	}
	return out
}
