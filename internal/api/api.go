// Package api exposes the orchestration core over HTTP/JSON.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/seqflow-labs/seqflow-go/internal/pipelines"
	"github.com/seqflow-labs/seqflow-go/internal/platform/httpserver"
	"github.com/seqflow-labs/seqflow-go/internal/repo"
	"github.com/seqflow-labs/seqflow-go/internal/results"
)

type Handler struct {
	logger   *slog.Logger
	jobs     JobService
	catalog  pipelines.Catalog
	resolver ResultResolver
	refresh  StatusRefresher
}

func NewHandler(logger *slog.Logger, jobs JobService, catalog pipelines.Catalog, resolver ResultResolver, refresh StatusRefresher) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		jobs:     jobs,
		catalog:  catalog,
		resolver: resolver,
		refresh:  refresh,
	}
}

// Register wires the v1 routes onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/jobs", h.submitJob)
	mux.HandleFunc("GET /v1/jobs", h.listJobs)
	mux.HandleFunc("GET /v1/jobs/{id}", h.getJob)
	mux.HandleFunc("POST /v1/jobs/{id}/cancel", h.cancelJob)
	mux.HandleFunc("GET /v1/jobs/{id}/results", h.jobResults)
	mux.HandleFunc("GET /v1/pipelines", h.listPipelines)
	mux.HandleFunc("POST /v1/webhooks", h.createWebhook)
	mux.HandleFunc("GET /v1/webhooks", h.listWebhooks)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	httpserver.WriteJSON(w, status, errorBody{Error: code, Message: message})
}

// mapError translates domain error values to HTTP responses.
func (h *Handler) mapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, pipelines.ErrNotFound):
		writeError(w, http.StatusNotFound, "pipeline_not_found", "unknown pipeline id")
	case errors.Is(err, repo.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "resource already exists")
	case errors.Is(err, results.ErrUnavailable):
		writeError(w, http.StatusConflict, "results_unavailable", err.Error())
	default:
		requestID, _ := httpserver.RequestIDFromContext(r.Context())
		h.logger.Error("request failed", "request_id", requestID, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
