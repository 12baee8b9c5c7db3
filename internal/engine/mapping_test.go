package engine

import (
	"testing"

	"github.com/seqflow-labs/seqflow-go/internal/domain"
)

func TestMapStatus(t *testing.T) {
	cases := []struct {
		external string
		want     domain.Status
	}{
		{"submitted", domain.StatusQueued},
		{"pending", domain.StatusQueued},
		{"runnable", domain.StatusQueued},
		{"queued", domain.StatusQueued},
		{"starting", domain.StatusPreparing},
		{"preparing", domain.StatusPreparing},
		{"running", domain.StatusRunning},
		{"succeeded", domain.StatusCompleted},
		{"completed", domain.StatusCompleted},
		{"failed", domain.StatusFailed},
		{"error", domain.StatusFailed},
		{"terminated", domain.StatusCancelled},
		{"cancelled", domain.StatusCancelled},
		{"canceled", domain.StatusCancelled},
	}
	for _, tc := range cases {
		got, ok := MapStatus(tc.external)
		if !ok {
			t.Errorf("MapStatus(%q): expected a mapping", tc.external)
			continue
		}
		if got != tc.want {
			t.Errorf("MapStatus(%q) = %s, want %s", tc.external, got, tc.want)
		}
	}
}

func TestMapStatusCaseInsensitive(t *testing.T) {
	got, ok := MapStatus("RUNNING")
	if !ok || got != domain.StatusRunning {
		t.Fatalf("MapStatus(RUNNING) = (%s, %v)", got, ok)
	}
}

func TestMapStatusUnknown(t *testing.T) {
	for _, external := range []string{"", "rebalancing", "paused"} {
		if _, ok := MapStatus(external); ok {
			t.Errorf("MapStatus(%q): expected no mapping", external)
		}
	}
}
