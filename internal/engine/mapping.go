package engine

import (
	"strings"

	"github.com/seqflow-labs/seqflow-go/internal/domain"
)

// MapStatus folds the external status vocabulary (engine run states and
// batch scheduler job states) onto the job lifecycle. Unknown values map
// to nothing: the caller preserves the current status and logs the value.
func MapStatus(external string) (domain.Status, bool) {
	switch strings.ToLower(strings.TrimSpace(external)) {
	case "submitted", "pending", "runnable", "queued":
		return domain.StatusQueued, true
	case "starting", "preparing":
		return domain.StatusPreparing, true
	case "running":
		return domain.StatusRunning, true
	case "succeeded", "completed", "ok":
		return domain.StatusCompleted, true
	case "failed", "error", "err":
		return domain.StatusFailed, true
	case "terminated", "cancelled", "canceled", "aborted":
		return domain.StatusCancelled, true
	}
	return "", false
}
