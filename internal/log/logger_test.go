package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
)

func TestSetupDefaults(t *testing.T) {
	logger = nil
	once = *new(sync.Once)

	Setup("DEBUG", "json")
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}
}

func TestBuildLevelFallback(t *testing.T) {
	var buf bytes.Buffer
	l := build(&buf, "not-a-level", "json")

	// Fallback level is INFO: debug must be suppressed, info must pass.
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug suppressed at fallback level, got %q", buf.String())
	}
	l.Info("shown")
	if buf.Len() == 0 {
		t.Fatal("expected info record at fallback level")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithComponent("engine").Info("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["component"] != "engine" {
		t.Errorf("Expected component 'engine', got %v", out["component"])
	}
	if out["msg"] != "hello" {
		t.Errorf("Expected msg 'hello', got %v", out["msg"])
	}
}

func TestWithModule(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithModule("stock-checker").Info("module msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["module"] != "stock-checker" {
		t.Errorf("Expected module 'stock-checker', got %v", out["module"])
	}
}

func TestWithRun(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithRun("run-123").Info("run msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["execution_id"] != "run-123" {
		t.Errorf("Expected execution_id 'run-123', got %v", out["execution_id"])
	}
}
