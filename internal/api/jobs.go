package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/seqflow-labs/seqflow-go/internal/domain"
	"github.com/seqflow-labs/seqflow-go/internal/platform/httpserver"
	"github.com/seqflow-labs/seqflow-go/internal/repo"
	"github.com/seqflow-labs/seqflow-go/internal/results"
	"github.com/seqflow-labs/seqflow-go/internal/service/jobs"
)

// JobService is the slice of the orchestration facade the API consumes.
type JobService interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (domain.Job, error)
	Get(ctx context.Context, jobID string) (domain.Job, error)
	List(ctx context.Context, filter repo.JobFilter) ([]domain.Job, error)
	RequestCancel(ctx context.Context, jobID string) (domain.Job, error)
	Subscribe(ctx context.Context, url string, events []string) (domain.Subscription, error)
	Subscriptions(ctx context.Context) ([]domain.Subscription, error)
}

// ResultResolver issues download references for completed jobs.
type ResultResolver interface {
	Resolve(ctx context.Context, job domain.Job) ([]results.Ref, error)
}

// StatusRefresher runs one on-demand reconciliation pass. Optional; when
// absent the refresh query parameter is ignored.
type StatusRefresher interface {
	PollNow(ctx context.Context, jobID string) (domain.Job, error)
}

type jobResponse struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	PipelineID  string         `json:"pipeline_id"`
	Status      string         `json:"status"`
	Params      map[string]any `json:"params,omitempty"`
	Description string         `json:"description,omitempty"`
	ExternalID  string         `json:"external_id,omitempty"`
	WorkDir     string         `json:"work_dir,omitempty"`
	OutputDir   string         `json:"output_dir,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func toJobResponse(job domain.Job) jobResponse {
	return jobResponse{
		ID:          job.ID,
		UserID:      job.UserID,
		PipelineID:  job.PipelineID,
		Status:      string(job.Status),
		Params:      job.Params,
		Description: job.Description,
		ExternalID:  job.ExternalID,
		WorkDir:     job.WorkDir,
		OutputDir:   job.OutputDir,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}

type submitJobRequest struct {
	UserID      string         `json:"user_id"`
	PipelineID  string         `json:"pipeline_id"`
	Params      map[string]any `json:"params,omitempty"`
	Description string         `json:"description,omitempty"`
}

func (h *Handler) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}
	if strings.TrimSpace(req.PipelineID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "pipeline_id is required")
		return
	}

	job, err := h.jobs.Submit(r.Context(), jobs.SubmitRequest{
		UserID:      req.UserID,
		PipelineID:  req.PipelineID,
		Params:      req.Params,
		Description: req.Description,
	})
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, toJobResponse(job))
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repo.JobFilter{
		UserID:     strings.TrimSpace(q.Get("user_id")),
		PipelineID: strings.TrimSpace(q.Get("pipeline_id")),
		Status:     domain.Status(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown status filter")
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	list, err := h.jobs.List(r.Context(), filter)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	out := make([]jobResponse, 0, len(list))
	for _, job := range list {
		out = append(out, toJobResponse(job))
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if h.refresh != nil && r.URL.Query().Get("refresh") == "true" {
		job, err := h.refresh.PollNow(r.Context(), id)
		if err == nil && job.ID != "" {
			httpserver.WriteJSON(w, http.StatusOK, toJobResponse(job))
			return
		}
		// Fall through to the stored record on a transient poll failure.
	}

	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, toJobResponse(job))
}

func (h *Handler) cancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.RequestCancel(r.Context(), r.PathValue("id"))
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, toJobResponse(job))
}

func (h *Handler) jobResults(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	refs, err := h.resolver.Resolve(r.Context(), job)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"job_id":  job.ID,
		"results": refs,
	})
}

func (h *Handler) listPipelines(w http.ResponseWriter, r *http.Request) {
	type pipelineResponse struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	list := h.catalog.List()
	out := make([]pipelineResponse, 0, len(list))
	for _, p := range list {
		out = append(out, pipelineResponse{ID: p.ID, Name: p.Name, Description: p.Description})
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"pipelines": out})
}

type createWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

type subscriptionResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	CreatedAt time.Time `json:"created_at"`
}

func toSubscriptionResponse(sub domain.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:        sub.ID,
		URL:       sub.URL,
		Events:    sub.Events,
		CreatedAt: sub.CreatedAt,
	}
}

func (h *Handler) createWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}
	probe := domain.Subscription{ID: "sub-probe", URL: req.URL, Events: req.Events}
	if err := probe.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sub, err := h.jobs.Subscribe(r.Context(), req.URL, req.Events)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, toSubscriptionResponse(sub))
}

func (h *Handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	subs, err := h.jobs.Subscriptions(r.Context())
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	out := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toSubscriptionResponse(sub))
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"webhooks": out})
}
