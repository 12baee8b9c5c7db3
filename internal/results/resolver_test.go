package results

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/seqflow-labs/seqflow-go/internal/domain"
	"github.com/seqflow-labs/seqflow-go/internal/platform/objectstore"
)

type fakeStore struct {
	objects map[string][]objectstore.ObjectInfo
	listErr error
}

func (f *fakeStore) List(_ context.Context, bucket, prefix string, _ int) ([]objectstore.ObjectInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.objects[bucket+"/"+prefix], nil
}

func (f *fakeStore) PresignGet(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return fmt.Sprintf("https://store.example.com/%s/%s?sig=abc", bucket, key), nil
}

func completedJob(id string) domain.Job {
	now := time.Now().UTC()
	return domain.Job{
		ID:          id,
		Status:      domain.StatusCompleted,
		OutputDir:   "s3://pipeline-data/results/" + id,
		CompletedAt: &now,
	}
}

func TestResolveCompletedJob(t *testing.T) {
	store := &fakeStore{objects: map[string][]objectstore.ObjectInfo{
		"pipeline-data/results/job-1": {
			{Key: "results/job-1/multiqc_report.html", Size: 2048},
			{Key: "results/job-1/counts/salmon.merged.tsv", Size: 4096},
		},
	}}
	r, err := NewResolver(nil, store, Config{LinkTTL: time.Hour})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	refs, err := r.Resolve(context.Background(), completedJob("job-1"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("refs = %d, want 2", len(refs))
	}
	if refs[0].Name != "multiqc_report.html" {
		t.Errorf("name = %q, prefix must be stripped", refs[0].Name)
	}
	if refs[1].Name != "counts/salmon.merged.tsv" {
		t.Errorf("name = %q", refs[1].Name)
	}
	for _, ref := range refs {
		if ref.URL == "" {
			t.Errorf("ref %q has no download link", ref.Name)
		}
		if ref.ExpiresAt.IsZero() {
			t.Errorf("ref %q has no expiry", ref.Name)
		}
	}
}

func TestResolveNonCompletedJob(t *testing.T) {
	r, err := NewResolver(nil, &fakeStore{}, Config{})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	for _, status := range []domain.Status{
		domain.StatusSubmitted, domain.StatusQueued, domain.StatusRunning,
		domain.StatusFailed, domain.StatusCancelled,
	} {
		job := domain.Job{ID: "job-1", Status: status}
		if _, err := r.Resolve(context.Background(), job); !errors.Is(err, ErrUnavailable) {
			t.Errorf("status %s: err = %v, want ErrUnavailable", status, err)
		}
	}
}

func TestResolveEmptyPrefix(t *testing.T) {
	r, err := NewResolver(nil, &fakeStore{objects: map[string][]objectstore.ObjectInfo{}}, Config{})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	if _, err := r.Resolve(context.Background(), completedJob("job-1")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable for empty output location", err)
	}
}

func TestResolveMalformedLocation(t *testing.T) {
	r, err := NewResolver(nil, &fakeStore{}, Config{})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	now := time.Now().UTC()
	job := domain.Job{
		ID:          "job-1",
		Status:      domain.StatusCompleted,
		OutputDir:   "/var/tmp/results",
		CompletedAt: &now,
	}
	if _, err := r.Resolve(context.Background(), job); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable for a non-s3 location", err)
	}
}

func TestResolveStoreFailure(t *testing.T) {
	r, err := NewResolver(nil, &fakeStore{listErr: errors.New("connection refused")}, Config{})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	_, err = r.Resolve(context.Background(), completedJob("job-1"))
	if err == nil || errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, a store outage is not the unavailable condition", err)
	}
}
