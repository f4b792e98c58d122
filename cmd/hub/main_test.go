package main

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()

	script := filepath.Join(dir, "hello.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho hi\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	configYAML := `
history:
  path: ./data/hub.db
modules:
  hello:
    command: ["` + script + `"]
`
	if err := os.WriteFile(configPath, []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	return configPath
}

func TestRunConfigHashUpdateDryRun(t *testing.T) {
	configPath := writeConfig(t, t.TempDir())

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigHashUpdate([]string{"--config", configPath, "--dry-run"})
	})
	if code != 0 {
		t.Fatalf("runConfigHashUpdate() code = %d, stderr: %s", code, stderr)
	}

	hashPattern := regexp.MustCompile(`HASH config\.yaml: [a-f0-9]{64}`)
	if !hashPattern.MatchString(stdout) {
		t.Fatalf("stdout missing valid hash output: %s", stdout)
	}
	if !strings.Contains(stdout, "Dry run completed") {
		t.Fatalf("stdout missing dry-run summary: %s", stdout)
	}

	if _, err := os.Stat(filepath.Join(filepath.Dir(configPath), ".checksums")); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
}

func TestRunConfigHashUpdateWritesChecksums(t *testing.T) {
	configPath := writeConfig(t, t.TempDir())

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigHashUpdate([]string{"--config", configPath})
	})
	if code != 0 {
		t.Fatalf("runConfigHashUpdate() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Wrote ") {
		t.Fatalf("stdout missing write confirmation: %s", stdout)
	}

	if _, err := os.Stat(filepath.Join(filepath.Dir(configPath), ".checksums")); err != nil {
		t.Fatalf("expected .checksums to be written: %v", err)
	}
}

func TestRunDoctorValidConfig(t *testing.T) {
	configPath := writeConfig(t, t.TempDir())

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runDoctor([]string{"--config", configPath})
	})
	if code != 0 {
		t.Fatalf("runDoctor() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Configuration valid") {
		t.Fatalf("stdout missing validity verdict: %s", stdout)
	}
}

func TestRunDoctorMissingScript(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	configYAML := `
history:
  path: ./data/hub.db
modules:
  ghost:
    command: ["` + filepath.Join(dir, "gone.sh") + `"]
`
	if err := os.WriteFile(configPath, []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runDoctor([]string{"--config", configPath})
	})
	if code != 1 {
		t.Fatalf("runDoctor() code = %d, want 1; stdout: %s", code, stdout)
	}
	if !strings.Contains(stdout, "Configuration invalid") {
		t.Fatalf("stdout missing invalid verdict: %s", stdout)
	}
}

func TestRunOnceExecutesModule(t *testing.T) {
	configPath := writeConfig(t, t.TempDir())

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runOnce([]string{"hello", "--config", configPath})
	})
	if code != 0 {
		t.Fatalf("runOnce() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "hi\n") {
		t.Fatalf("stdout missing module output: %s", stdout)
	}
}

func TestRunOnceUnknownModule(t *testing.T) {
	configPath := writeConfig(t, t.TempDir())

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runOnce([]string{"missing", "--config", configPath})
	})
	if code != 1 {
		t.Fatalf("runOnce() code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "module not found") {
		t.Fatalf("stderr missing reason: %s", stderr)
	}
}

func TestRunOnceMissingArg(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runOnce(nil)
	})
	if code != 1 {
		t.Fatalf("runOnce() code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Usage: hub run <module>") {
		t.Fatalf("stderr missing usage: %s", stderr)
	}
}

func TestPrintUsageListsCommands(t *testing.T) {
	_, stdout, _ := captureOutputWithExitCode(t, func() int {
		printUsage()
		return 0
	})
	for _, want := range []string{"start", "run <module>", "doctor", "hash-update", "version"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("usage missing %q: %s", want, stdout)
		}
	}
}
