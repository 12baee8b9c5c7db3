package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/seqflow-labs/seqflow-go/internal/platform/env"
)

// BatchClient is a thin REST client for the remote batch scheduler's job
// API (submit/describe/terminate). Kept deliberately narrow; the scheduler
// itself is an opaque external system.
type BatchClient struct {
	baseURL string
	token   string
	http    *http.Client
}

type BatchConfig struct {
	BaseURL       string
	Token         string
	Queue         string
	JobDefinition string
	Timeout       time.Duration
}

func BatchConfigFromEnv() (BatchConfig, error) {
	timeout, err := env.Duration("SEQFLOW_BATCH_TIMEOUT", 15*time.Second)
	if err != nil {
		return BatchConfig{}, err
	}
	cfg := BatchConfig{
		BaseURL:       env.String("SEQFLOW_BATCH_URL", ""),
		Token:         env.String("SEQFLOW_BATCH_TOKEN", ""),
		Queue:         env.String("SEQFLOW_BATCH_QUEUE", "pipeline-queue"),
		JobDefinition: env.String("SEQFLOW_BATCH_JOB_DEFINITION", "nextflow-runner"),
		Timeout:       timeout,
	}
	if err := cfg.Validate(); err != nil {
		return BatchConfig{}, err
	}
	return cfg, nil
}

func (c BatchConfig) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("batch base url is required")
	}
	if strings.TrimSpace(c.Queue) == "" {
		return errors.New("batch queue is required")
	}
	if strings.TrimSpace(c.JobDefinition) == "" {
		return errors.New("batch job definition is required")
	}
	if c.Timeout <= 0 {
		return errors.New("batch timeout must be positive")
	}
	return nil
}

type BatchAPIError struct {
	StatusCode int
	Body       string
}

func (e *BatchAPIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("batch api error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("batch api error (status=%d): %s", e.StatusCode, body)
}

func NewBatchClient(cfg BatchConfig) (*BatchClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &BatchClient{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:   strings.TrimSpace(cfg.Token),
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type submitJobRequest struct {
	JobName       string            `json:"jobName"`
	JobQueue      string            `json:"jobQueue"`
	JobDefinition string            `json:"jobDefinition"`
	Parameters    map[string]string `json:"parameters,omitempty"`
}

type submitJobResponse struct {
	JobID string `json:"jobId"`
}

type batchJobDetail struct {
	JobID        string            `json:"jobId"`
	Status       string            `json:"status"`
	StatusReason string            `json:"statusReason,omitempty"`
	Parameters   map[string]string `json:"parameters,omitempty"`
}

type describeJobsRequest struct {
	Jobs []string `json:"jobs"`
}

type describeJobsResponse struct {
	Jobs []batchJobDetail `json:"jobs"`
}

type terminateJobRequest struct {
	JobID  string `json:"jobId"`
	Reason string `json:"reason"`
}

func (c *BatchClient) SubmitJob(ctx context.Context, name, queue, definition string, parameters map[string]string) (string, error) {
	req := submitJobRequest{
		JobName:       name,
		JobQueue:      queue,
		JobDefinition: definition,
		Parameters:    parameters,
	}
	var resp submitJobResponse
	if err := c.post(ctx, "/v1/submitjob", req, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.JobID) == "" {
		return "", errors.New("batch submit returned empty job id")
	}
	return resp.JobID, nil
}

func (c *BatchClient) DescribeJob(ctx context.Context, jobID string) (batchJobDetail, error) {
	var resp describeJobsResponse
	if err := c.post(ctx, "/v1/describejobs", describeJobsRequest{Jobs: []string{jobID}}, &resp); err != nil {
		return batchJobDetail{}, err
	}
	if len(resp.Jobs) == 0 {
		return batchJobDetail{}, fmt.Errorf("%w: %s", ErrRunNotFound, jobID)
	}
	return resp.Jobs[0], nil
}

func (c *BatchClient) TerminateJob(ctx context.Context, jobID, reason string) error {
	return c.post(ctx, "/v1/terminatejob", terminateJobRequest{JobID: jobID, Reason: reason}, nil)
}

func (c *BatchClient) post(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrRunNotFound, strings.TrimSpace(string(payload)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &BatchAPIError{StatusCode: resp.StatusCode, Body: string(payload)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// BatchExecutor launches pipeline runs as jobs on the remote batch
// scheduler. The runner job definition wraps the workflow engine; the
// pipeline coordinates entirely through job parameters.
type BatchExecutor struct {
	client        *BatchClient
	queue         string
	jobDefinition string
}

func NewBatchExecutor(client *BatchClient, cfg BatchConfig) (*BatchExecutor, error) {
	if client == nil {
		return nil, errors.New("batch client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &BatchExecutor{
		client:        client,
		queue:         cfg.Queue,
		jobDefinition: cfg.JobDefinition,
	}, nil
}

func (e *BatchExecutor) Kind() string {
	return "batch"
}

func (e *BatchExecutor) Launch(ctx context.Context, req LaunchRequest) (LaunchResult, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return LaunchResult{}, errors.New("job id is required")
	}
	if err := req.Pipeline.Validate(); err != nil {
		return LaunchResult{}, fmt.Errorf("%w: %v", ErrLaunchRejected, err)
	}
	paramsJSON, err := json.Marshal(req.Params)
	if err != nil {
		return LaunchResult{}, fmt.Errorf("encode params: %w", err)
	}

	parameters := map[string]string{
		"pipeline": req.Pipeline.Repo,
		"workdir":  req.WorkDir,
		"outdir":   req.OutputDir,
		"params":   string(paramsJSON),
	}
	if rev := strings.TrimSpace(req.Pipeline.Revision); rev != "" {
		parameters["revision"] = rev
	}
	if profile := strings.TrimSpace(req.Pipeline.Profile); profile != "" {
		parameters["profile"] = profile
	}

	externalID, err := e.client.SubmitJob(ctx, req.JobID, e.queue, e.jobDefinition, parameters)
	if err != nil {
		var apiErr *BatchAPIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return LaunchResult{}, fmt.Errorf("%w: %v", ErrLaunchRejected, err)
		}
		return LaunchResult{}, err
	}
	return LaunchResult{ExternalID: externalID, WorkDir: req.WorkDir}, nil
}

func (e *BatchExecutor) Poll(ctx context.Context, externalID string) (Observation, error) {
	detail, err := e.client.DescribeJob(ctx, externalID)
	if err != nil {
		return Observation{}, err
	}
	status := detail.Status
	// The scheduler reports operator terminations as FAILED with a
	// terminate reason; distinguish them for the lifecycle mapping.
	if strings.EqualFold(status, "failed") &&
		strings.Contains(strings.ToLower(detail.StatusReason), "terminat") {
		status = "terminated"
	}
	obs := Observation{Status: status, Message: detail.StatusReason}
	if strings.EqualFold(detail.Status, "succeeded") {
		obs.OutputDir = detail.Parameters["outdir"]
	}
	return obs, nil
}

func (e *BatchExecutor) Cancel(ctx context.Context, externalID string) error {
	return e.client.TerminateJob(ctx, externalID, "cancelled by user")
}
