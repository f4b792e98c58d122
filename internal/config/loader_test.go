package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
modules:
  echo:
    command: ["echo", "hi"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Service.Name != "amelia-hub" {
		t.Fatalf("unexpected default name: %q", cfg.Service.Name)
	}
	if cfg.Engine.Timeout != 300*time.Second {
		t.Fatalf("unexpected default timeout: %v", cfg.Engine.Timeout)
	}
	if cfg.Engine.QueueCapacity != 10000 || cfg.Engine.BatchSize != 50 {
		t.Fatalf("unexpected engine defaults: %+v", cfg.Engine)
	}
	if cfg.Engine.BatchTick != 100*time.Millisecond {
		t.Fatalf("unexpected batch tick: %v", cfg.Engine.BatchTick)
	}
	if cfg.BaseDir() != filepath.Dir(path) {
		t.Fatalf("base dir not recorded: %q", cfg.BaseDir())
	}
}

func TestLoadOverridesEngineSettings(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
engine:
  timeout: 30s
  queue_capacity: 100
  batch_tick: 50ms
  batch_size: 10
modules: {}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.Timeout != 30*time.Second || cfg.Engine.QueueCapacity != 100 {
		t.Fatalf("overrides not applied: %+v", cfg.Engine)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("HUB_TEST_KEY", "sekrit")

	path := writeConfig(t, `
api:
  enabled: true
  listen: 127.0.0.1:9999
  api_key: ${HUB_TEST_KEY}
modules: {}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.APIKey != "sekrit" {
		t.Fatalf("env var not expanded: %q", cfg.API.APIKey)
	}
}

func TestLoadRejectsUndefinedEnvVar(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
api:
  api_key: ${HUB_DEFINITELY_UNSET_VAR}
modules: {}
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "HUB_DEFINITELY_UNSET_VAR") {
		t.Fatalf("expected undefined env var error, got %v", err)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "module without command",
			content: `
modules:
  broken: {}
`,
			wantErr: "modules.broken.command",
		},
		{
			name: "api enabled without key",
			content: `
api:
  enabled: true
modules: {}
`,
			wantErr: "api.api_key",
		},
		{
			name: "bad log level",
			content: `
service:
  log_level: loud
modules: {}
`,
			wantErr: "log_level",
		},
		{
			name: "schedule without every",
			content: `
modules:
  echo:
    command: ["echo"]
    schedule: {}
`,
			wantErr: "schedule.every",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestDescriptorsResolveRelativePaths(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
modules:
  stock:
    display_name: "Stock Checker"
    command: ["./stock/check.sh"]
    working_dir: stock
  pricing:
    command: ["python3", "calc.py"]
  disabled:
    enabled: false
    command: ["echo"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	descs := cfg.Descriptors()
	if len(descs) != 2 {
		t.Fatalf("expected 2 enabled modules, got %d", len(descs))
	}

	base := filepath.Dir(path)
	for _, d := range descs {
		switch d.Key {
		case "stock":
			if d.Command[0] != filepath.Join(base, "stock/check.sh") {
				t.Fatalf("script path not anchored: %q", d.Command[0])
			}
			if d.WorkingDir != filepath.Join(base, "stock") {
				t.Fatalf("working dir not anchored: %q", d.WorkingDir)
			}
		case "pricing":
			// Bare program names stay as-is for PATH lookup.
			if d.Command[0] != "python3" {
				t.Fatalf("bare program mangled: %q", d.Command[0])
			}
		default:
			t.Fatalf("unexpected module %q", d.Key)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
