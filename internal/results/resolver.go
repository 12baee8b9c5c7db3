// Package results turns a completed job's output location into concrete,
// time-limited download references. Results exist only for COMPLETED
// jobs; every other status is uniformly unavailable.
package results

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/seqflow-labs/seqflow-go/internal/domain"
	"github.com/seqflow-labs/seqflow-go/internal/platform/objectstore"
)

// ErrUnavailable means the job has no retrievable results: it is not
// COMPLETED, its output location is malformed, or the location is empty.
var ErrUnavailable = errors.New("job results unavailable")

// Store is the slice of the object store the resolver needs.
type Store interface {
	List(ctx context.Context, bucket, prefix string, max int) ([]objectstore.ObjectInfo, error)
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

type Config struct {
	// LinkTTL is the lifetime of issued download links.
	LinkTTL time.Duration
	// MaxObjects caps how many result objects one job may expose.
	MaxObjects int
}

func (c Config) withDefaults() Config {
	if c.LinkTTL <= 0 {
		c.LinkTTL = time.Hour
	}
	if c.MaxObjects <= 0 {
		c.MaxObjects = 1000
	}
	return c
}

type Resolver struct {
	logger *slog.Logger
	store  Store
	cfg    Config
}

func NewResolver(logger *slog.Logger, store Store, cfg Config) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		logger: logger.With("component", "results"),
		store:  store,
		cfg:    cfg.withDefaults(),
	}, nil
}

// Ref is one downloadable result artifact.
type Ref struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Resolve lists the objects under the job's output location and issues a
// presigned download link for each. Non-COMPLETED jobs and completed jobs
// whose location holds nothing both report ErrUnavailable.
func (r *Resolver) Resolve(ctx context.Context, job domain.Job) ([]Ref, error) {
	if job.Status != domain.StatusCompleted {
		return nil, fmt.Errorf("%w: job %s is %s", ErrUnavailable, job.ID, job.Status)
	}
	bucket, prefix, err := splitLocation(job.OutputDir)
	if err != nil {
		r.logger.Error("completed job has malformed output location",
			"job_id", job.ID, "output_dir", job.OutputDir, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	objects, err := r.store.List(ctx, bucket, prefix, r.cfg.MaxObjects)
	if err != nil {
		return nil, fmt.Errorf("list results for job %s: %w", job.ID, err)
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("%w: no objects under %s", ErrUnavailable, job.OutputDir)
	}

	expires := time.Now().UTC().Add(r.cfg.LinkTTL)
	refs := make([]Ref, 0, len(objects))
	for _, obj := range objects {
		link, err := r.store.PresignGet(ctx, bucket, obj.Key, r.cfg.LinkTTL)
		if err != nil {
			return nil, fmt.Errorf("presign %s: %w", obj.Key, err)
		}
		refs = append(refs, Ref{
			Name:      strings.TrimPrefix(strings.TrimPrefix(obj.Key, prefix), "/"),
			Size:      obj.Size,
			URL:       link,
			ExpiresAt: expires,
		})
	}
	return refs, nil
}

// splitLocation parses an s3://bucket/prefix output location.
func splitLocation(location string) (bucket, prefix string, err error) {
	u, err := url.Parse(strings.TrimSpace(location))
	if err != nil {
		return "", "", fmt.Errorf("parse output location: %v", err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("output location %q is not an s3 path", location)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}
