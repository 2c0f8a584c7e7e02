package agent

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shayancanonical/mysql-test-app/internal/relation"
	"github.com/shayancanonical/mysql-test-app/internal/writer"
)

// Router returns the HTTP handler for the operator action API. Every action
// answers with a small JSON object; errors are reported as {"error": ...}.
func (a *Agent) Router() http.Handler {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/continuous-writes/start", a.handleStart).Methods(http.MethodPost)
	v1.HandleFunc("/continuous-writes/stop", a.handleStop).Methods(http.MethodPost)
	v1.HandleFunc("/continuous-writes/clear", a.handleClear).Methods(http.MethodPost)
	v1.HandleFunc("/continuous-writes/last-written", a.handleLastWritten).Methods(http.MethodGet)
	v1.HandleFunc("/continuous-writes/count", a.handleCount).Methods(http.MethodGet)
	v1.HandleFunc("/state", a.handleState).Methods(http.MethodGet)
	v1.HandleFunc("/random-value", a.handleWriteRandomValue).Methods(http.MethodPost)
	v1.HandleFunc("/random-value", a.handleInsertedData).Methods(http.MethodGet)
	return r
}

type startRequest struct {
	// Interval is a Go duration string, e.g. "1s". Empty selects the
	// configured default.
	Interval string `json:"interval"`
}

func (a *Agent) handleStart(w http.ResponseWriter, r *http.Request) {
	// An empty body selects the defaults.
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	interval := a.cfg.WriteInterval
	if req.Interval != "" {
		parsed, err := time.ParseDuration(req.Interval)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		interval = parsed
	}

	if err := a.driver.Start(r.Context(), interval); err != nil {
		a.writeActionError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"state":    a.StateName(),
		"interval": interval.String(),
	})
}

func (a *Agent) handleStop(w http.ResponseWriter, r *http.Request) {
	writes, err := a.driver.Stop()
	if err != nil {
		a.writeActionError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"writes": writes})
}

func (a *Agent) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := a.driver.Clear(r.Context()); err != nil {
		a.writeActionError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

func (a *Agent) handleLastWritten(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{"value": a.driver.LastWritten()})
}

func (a *Agent) handleCount(w http.ResponseWriter, r *http.Request) {
	count, err := a.driver.CountRows(r.Context())
	if err != nil {
		a.writeActionError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

func (a *Agent) handleState(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{"state": a.StateName()})
}

func (a *Agent) handleWriteRandomValue(w http.ResponseWriter, r *http.Request) {
	value, err := a.WriteRandomValue(r.Context())
	if err != nil {
		a.writeActionError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"value": value})
}

func (a *Agent) handleInsertedData(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{"value": a.InsertedData()})
}

// writeActionError maps driver errors onto HTTP status codes: invalid state
// transitions are 409, missing relation data 503, bad relation data 400 and
// everything else (unreachable endpoint, failed query) 502.
func (a *Agent) writeActionError(w http.ResponseWriter, err error) {
	var invalidConfig *relation.InvalidConfigError
	switch {
	case errors.Is(err, writer.ErrAlreadyRunning),
		errors.Is(err, writer.ErrNotRunning),
		errors.Is(err, writer.ErrRunning):
		a.writeError(w, http.StatusConflict, err)
	case errors.Is(err, writer.ErrNoConfig):
		a.writeError(w, http.StatusServiceUnavailable, err)
	case errors.As(err, &invalidConfig):
		a.writeError(w, http.StatusBadRequest, err)
	default:
		a.writeError(w, http.StatusBadGateway, err)
	}
}

func (a *Agent) writeError(w http.ResponseWriter, code int, err error) {
	a.logger.Debug("action failed", zap.Int("status", code), zap.Error(err))
	a.writeJSON(w, code, map[string]any{"error": err.Error()})
}

func (a *Agent) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", zap.Error(err))
	}
}
