package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/seqflow-labs/seqflow-go/internal/domain"
	"github.com/seqflow-labs/seqflow-go/internal/repo"
)

const jobColumns = `job_id, user_id, pipeline_id, status, params, description,
	external_id, work_dir, output_dir, error, created_at, updated_at, started_at, completed_at`

type JobStore struct {
	db DB
}

func NewJobStore(db DB) *JobStore {
	if db == nil {
		return nil
	}
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job domain.Job) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("job store not initialized")
	}
	if err := job.Validate(); err != nil {
		return err
	}
	paramsJSON, err := encodeParams(job.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		strings.TrimSpace(job.ID),
		strings.TrimSpace(job.UserID),
		strings.TrimSpace(job.PipelineID),
		string(job.Status),
		paramsJSON,
		nullIfEmpty(job.Description),
		nullIfEmpty(job.ExternalID),
		nullIfEmpty(job.WorkDir),
		nullIfEmpty(job.OutputDir),
		nullIfEmpty(job.Error),
		normalizeTime(job.CreatedAt),
		normalizeTime(job.UpdatedAt),
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", handleConflict(err))
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (domain.Job, error) {
	if s == nil || s.db == nil {
		return domain.Job{}, fmt.Errorf("job store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Job{}, fmt.Errorf("job id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`,
		id,
	)
	return scanJob(row)
}

func (s *JobStore) Update(ctx context.Context, job domain.Job) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("job store not initialized")
	}
	if err := job.Validate(); err != nil {
		return err
	}
	paramsJSON, err := encodeParams(job.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET
			status = $2,
			params = $3,
			description = $4,
			external_id = $5,
			work_dir = $6,
			output_dir = $7,
			error = $8,
			updated_at = $9,
			started_at = $10,
			completed_at = $11
		 WHERE job_id = $1`,
		strings.TrimSpace(job.ID),
		string(job.Status),
		paramsJSON,
		nullIfEmpty(job.Description),
		nullIfEmpty(job.ExternalID),
		nullIfEmpty(job.WorkDir),
		nullIfEmpty(job.OutputDir),
		nullIfEmpty(job.Error),
		normalizeTime(job.UpdatedAt),
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *JobStore) List(ctx context.Context, filter repo.JobFilter) ([]domain.Job, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("job store not initialized")
	}
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 5)

	if strings.TrimSpace(filter.UserID) != "" {
		args = append(args, strings.TrimSpace(filter.UserID))
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if strings.TrimSpace(filter.PipelineID) != "" {
		args = append(args, strings.TrimSpace(filter.PipelineID))
		clauses = append(clauses, fmt.Sprintf("pipeline_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return s.queryJobs(ctx, query, args...)
}

func (s *JobStore) ListActive(ctx context.Context) ([]domain.Job, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("job store not initialized")
	}
	return s.queryJobs(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status NOT IN ($1,$2,$3)
		 ORDER BY created_at ASC`,
		string(domain.StatusCompleted),
		string(domain.StatusFailed),
		string(domain.StatusCancelled),
	)
}

func (s *JobStore) queryJobs(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var job domain.Job
	var status string
	var paramsJSON []byte
	var description sql.NullString
	var externalID sql.NullString
	var workDir sql.NullString
	var outputDir sql.NullString
	var jobErr sql.NullString
	var startedAt sql.NullTime
	var completedAt sql.NullTime

	if err := row.Scan(&job.ID, &job.UserID, &job.PipelineID, &status, &paramsJSON,
		&description, &externalID, &workDir, &outputDir, &jobErr,
		&job.CreatedAt, &job.UpdatedAt, &startedAt, &completedAt); err != nil {
		return domain.Job{}, handleNotFound(err)
	}
	job.Status = domain.Status(status)
	if description.Valid {
		job.Description = description.String
	}
	if externalID.Valid {
		job.ExternalID = externalID.String
	}
	if workDir.Valid {
		job.WorkDir = workDir.String
	}
	if outputDir.Valid {
		job.OutputDir = outputDir.String
	}
	if jobErr.Valid {
		job.Error = jobErr.String
	}
	if startedAt.Valid {
		started := startedAt.Time.UTC()
		job.StartedAt = &started
	}
	if completedAt.Valid {
		completed := completedAt.Time.UTC()
		job.CompletedAt = &completed
	}
	params, err := decodeParams(paramsJSON)
	if err != nil {
		return domain.Job{}, fmt.Errorf("decode params: %w", err)
	}
	job.Params = params
	return job, nil
}
