package jobs

import "sync"

// lockRegistry hands out one mutex per job id so the facade, the
// reconciler, and the cancellation path serialize writes to the same job.
// Entries are refcounted and dropped when the last holder releases.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*lockEntry)}
}

// acquire blocks until the job's lock is held and returns the release
// function.
func (r *lockRegistry) acquire(jobID string) func() {
	r.mu.Lock()
	entry, ok := r.locks[jobID]
	if !ok {
		entry = &lockEntry{}
		r.locks[jobID] = entry
	}
	entry.refs++
	r.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		r.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(r.locks, jobID)
		}
		r.mu.Unlock()
	}
}
