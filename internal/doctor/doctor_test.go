package doctor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ameliarose/hub/internal/config"
	"github.com/ameliarose/hub/internal/module"
)

func writeScript(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	return path
}

func validSetup(t *testing.T) (*config.Config, *module.Registry) {
	t.Helper()
	dir := t.TempDir()
	script := writeScript(t, dir, "stock.sh")

	cfg := config.Defaults()
	cfg.History.Path = filepath.Join(dir, "data", "hub.db")

	registry, err := module.NewRegistry([]module.Descriptor{
		{Key: "stock", Command: []string{script}},
	})
	require.NoError(t, err)
	return cfg, registry
}

func TestValidateCleanConfig(t *testing.T) {
	t.Parallel()

	cfg, registry := validSetup(t)
	r := New(cfg, registry).Validate()

	assert.True(t, r.Valid)
	assert.Empty(t, r.Errors)
	assert.Empty(t, r.Warnings)
}

func TestMissingScriptIsError(t *testing.T) {
	t.Parallel()

	cfg, _ := validSetup(t)
	registry, err := module.NewRegistry([]module.Descriptor{
		{Key: "stock", Command: []string{filepath.Join(t.TempDir(), "gone.sh")}},
	})
	require.NoError(t, err)

	r := New(cfg, registry).Validate()
	assert.False(t, r.Valid)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "scripts", r.Errors[0].Category)
	assert.Equal(t, "modules.stock.command", r.Errors[0].Field)
}

func TestMissingWorkingDirIsError(t *testing.T) {
	t.Parallel()

	cfg, _ := validSetup(t)
	dir := t.TempDir()
	script := writeScript(t, dir, "stock.sh")
	registry, err := module.NewRegistry([]module.Descriptor{
		{Key: "stock", Command: []string{script}, WorkingDir: filepath.Join(dir, "missing")},
	})
	require.NoError(t, err)

	r := New(cfg, registry).Validate()
	assert.False(t, r.Valid)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "working_dirs", r.Errors[0].Category)
}

func TestEmptyRegistryWarns(t *testing.T) {
	t.Parallel()

	cfg, _ := validSetup(t)
	registry, err := module.NewRegistry(nil)
	require.NoError(t, err)

	r := New(cfg, registry).Validate()
	assert.True(t, r.Valid)
	require.NotEmpty(t, r.Warnings)
	assert.Equal(t, "modules", r.Warnings[0].Category)
}

func TestAPIChecks(t *testing.T) {
	t.Parallel()

	cfg, registry := validSetup(t)
	cfg.API.Enabled = true
	cfg.API.Listen = "0.0.0.0:8080"
	cfg.API.APIKey = ""

	r := New(cfg, registry).Validate()
	assert.False(t, r.Valid)

	var sawKeyError, sawListenWarning bool
	for _, e := range r.Errors {
		if e.Field == "api.api_key" {
			sawKeyError = true
		}
	}
	for _, w := range r.Warnings {
		if w.Field == "api.listen" {
			sawListenWarning = true
		}
	}
	assert.True(t, sawKeyError)
	assert.True(t, sawListenWarning)
}

func TestShortScheduleWarns(t *testing.T) {
	t.Parallel()

	cfg, registry := validSetup(t)
	cfg.Modules = map[string]config.ModuleConf{
		"stock": {
			Command:  []string{"./stock.sh"},
			Schedule: &config.ScheduleConfig{Every: "10s"},
		},
	}

	r := New(cfg, registry).Validate()
	assert.True(t, r.Valid)
	require.NotEmpty(t, r.Warnings)
	assert.Equal(t, "schedule", r.Warnings[0].Category)
}

func TestDuplicateScriptsWarn(t *testing.T) {
	t.Parallel()

	cfg, _ := validSetup(t)
	dir := t.TempDir()
	script := writeScript(t, dir, "shared.sh")
	registry, err := module.NewRegistry([]module.Descriptor{
		{Key: "alpha", Command: []string{script}},
		{Key: "beta", Command: []string{script}},
	})
	require.NoError(t, err)

	r := New(cfg, registry).Validate()
	assert.True(t, r.Valid)
	require.NotEmpty(t, r.Warnings)
	assert.Contains(t, r.Warnings[0].Message, "alpha, beta")
}

func TestFormatHuman(t *testing.T) {
	t.Parallel()

	r := &Result{Valid: false}
	r.Errors = append(r.Errors, Issue{Category: "scripts", Field: "modules.stock.command", Message: "script not found"})
	r.Warnings = append(r.Warnings, Issue{Category: "schedule", Message: "interval is very short"})

	out := FormatHuman(r)
	assert.Contains(t, out, "Configuration invalid (1 error(s), 1 warning(s))")
	assert.Contains(t, out, "ERROR [scripts] modules.stock.command: script not found")
	assert.Contains(t, out, "WARN  [schedule] interval is very short")

	assert.Equal(t, "Configuration valid.\n", FormatHuman(&Result{Valid: true}))
}
