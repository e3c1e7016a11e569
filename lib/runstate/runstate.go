// Package runstate holds the state shared between the job-manager loop
// and the committer loop: the set of outstanding tasks and the set of
// completed tasks. Both loops run as goroutines in the same process
// and must serialize their access to this state.
//
// The generation-finished sentinel that the original implementation
// stored in-band as completed[0] is modeled here as a dedicated
// boolean, not as a map entry: see spec.md section 9.
package runstate

import (
	"sync"

	"spits/lib/core"
)

// Completion records the outcome of one committed task.
type Completion struct {
	WorkerStatus int64
	CommitStatus int64
}

// State is the mutex-guarded store of outstanding and completed tasks.
//
// Multiple goroutines may invoke methods on a State simultaneously.
type State struct {
	mu        sync.Mutex
	tasks     map[core.TaskID][]byte
	completed map[core.TaskID]Completion
	finished  bool
}

// New returns an empty State.
func New() *State {
	return &State{
		tasks:     make(map[core.TaskID][]byte),
		completed: make(map[core.TaskID]Completion),
	}
}

// InsertTask records a newly generated task as outstanding. Invariant:
// callers only insert tasks that are not already completed.
func (s *State) InsertTask(id core.TaskID, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id] = payload
}

// HasTask reports whether id is currently outstanding.
func (s *State) HasTask(id core.TaskID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

// IsCompleted reports whether id has already been committed.
func (s *State) IsCompleted(id core.TaskID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.completed[id]
	return ok
}

// TryCommit atomically checks whether id is already completed; if not,
// it removes id from the outstanding set and records the completion.
// It returns alreadyCompleted=true if a caller must not commit again,
// and wasOutstanding=true if id had been in the outstanding set (a
// false wasOutstanding with a false alreadyCompleted indicates a
// taskid the job manager never generated, an "unknown task").
func (s *State) TryCommit(id core.TaskID, c Completion) (alreadyCompleted, wasOutstanding bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.completed[id]; ok {
		delete(s.tasks, id) // defensive: prune from outstanding regardless.
		return true, false
	}
	_, wasOutstanding = s.tasks[id]
	delete(s.tasks, id)
	s.completed[id] = c
	return false, wasOutstanding
}

// PruneCompleted removes any outstanding task that has since been
// completed (belt-and-braces cleanup after a committer pass).
func (s *State) PruneCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.completed {
		delete(s.tasks, id)
	}
}

// SetFinished marks task generation as complete. It is a no-op if
// already set. Single-writer: only the job-manager loop calls this.
func (s *State) SetFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
}

// Finished reports whether task generation has completed.
func (s *State) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Done reports whether the job is complete: no outstanding tasks and
// generation has finished. Both the job-manager loop and the
// committer loop terminate exactly when Done returns true.
func (s *State) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished && len(s.tasks) == 0
}

// OutstandingCount returns the number of outstanding tasks. Intended
// for tests and metrics, not for control flow (racy by construction
// the instant the lock is released).
func (s *State) OutstandingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// CompletedCount returns the number of completed tasks.
func (s *State) CompletedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed)
}
