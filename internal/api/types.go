package api

import "time"

// ErrorResponse is the JSON body for all non-2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	ModulesLoaded int    `json:"modules_loaded"`
	ModulesActive int    `json:"modules_active"`
}

// ModuleSummary is one entry in GET /v1/modules.
type ModuleSummary struct {
	Key         string     `json:"key"`
	DisplayName string     `json:"display_name"`
	State       string     `json:"state"`
	LastRun     *RunRecord `json:"last_run,omitempty"`
}

// ModuleListResponse is returned by GET /v1/modules.
type ModuleListResponse struct {
	Modules []ModuleSummary `json:"modules"`
}

// RunResponse is returned by POST /v1/modules/{key}/run.
type RunResponse struct {
	ExecutionID string `json:"execution_id"`
	Module      string `json:"module"`
	Status      string `json:"status"`
}

// RunRecord is one row of run history.
type RunRecord struct {
	ExecutionID string    `json:"execution_id"`
	Module      string    `json:"module"`
	State       string    `json:"state"`
	ExitCode    *int      `json:"exit_code,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	DurationMs  int64     `json:"duration_ms"`
}

// RunListResponse is returned by GET /v1/runs.
type RunListResponse struct {
	Runs []RunRecord `json:"runs"`
}
