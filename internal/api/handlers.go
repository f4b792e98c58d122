package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ameliarose/hub/internal/engine"
	"github.com/ameliarose/hub/internal/run"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	statuses := s.engine.Modules()
	active := 0
	for _, st := range statuses {
		if st.State == run.StateRunning {
			active++
		}
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		ModulesLoaded: len(statuses),
		ModulesActive: active,
	})
}

// handleListModules handles GET /v1/modules.
func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	statuses := s.engine.Modules()

	resp := ModuleListResponse{Modules: make([]ModuleSummary, 0, len(statuses))}
	for _, st := range statuses {
		summary := ModuleSummary{
			Key:         st.Descriptor.Key,
			DisplayName: st.Descriptor.Label(),
			State:       string(st.State),
		}
		if st.Last != nil {
			rec := toRecord(*st.Last)
			summary.LastRun = &rec
		}
		resp.Modules = append(resp.Modules, summary)
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleRunModule handles POST /v1/modules/{key}/run.
func (s *Server) handleRunModule(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	execID, err := s.engine.Run(key)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrModuleNotFound):
			s.writeError(w, http.StatusNotFound, "module not found")
		case errors.Is(err, engine.ErrAlreadyRunning):
			s.writeError(w, http.StatusConflict, "module is already running")
		case errors.Is(err, engine.ErrScriptNotFound):
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			s.logger.Error("run request failed", "module", key, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to start run")
		}
		return
	}

	s.logger.Info("run started via API", "module", key, "execution_id", execID)

	respondJSON(w, http.StatusAccepted, RunResponse{
		ExecutionID: execID,
		Module:      key,
		Status:      string(run.StateRunning),
	})
}

// handleCancelModule handles POST /v1/modules/{key}/cancel.
func (s *Server) handleCancelModule(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if err := s.engine.Cancel(key); err != nil {
		switch {
		case errors.Is(err, engine.ErrModuleNotFound):
			s.writeError(w, http.StatusNotFound, "module not found")
		case errors.Is(err, engine.ErrNotRunning):
			s.writeError(w, http.StatusConflict, "module is not running")
		default:
			s.logger.Error("cancel request failed", "module", key, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to cancel run")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListRuns handles GET /v1/runs?module=<key>&limit=<n>.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "run history is not enabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	var (
		results []run.Result
		err     error
	)
	if module := r.URL.Query().Get("module"); module != "" {
		results, err = s.history.ByModule(r.Context(), module, limit)
	} else {
		results, err = s.history.Recent(r.Context(), limit)
	}
	if err != nil {
		s.logger.Error("failed to query run history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to query run history")
		return
	}

	resp := RunListResponse{Runs: make([]RunRecord, 0, len(results))}
	for _, res := range results {
		resp.Runs = append(resp.Runs, toRecord(res))
	}

	respondJSON(w, http.StatusOK, resp)
}

func toRecord(res run.Result) RunRecord {
	return RunRecord{
		ExecutionID: res.ExecutionID,
		Module:      res.Module,
		State:       string(res.State),
		ExitCode:    res.ExitCode,
		Reason:      res.Reason,
		StartedAt:   res.StartedAt,
		EndedAt:     res.EndedAt,
		DurationMs:  res.Duration().Milliseconds(),
	}
}

// respondJSON is a helper to write JSON responses.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
