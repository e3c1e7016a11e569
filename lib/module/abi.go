// Package module defines the job module ABI: the stable contract
// between the runtime and externally-supplied code that generates
// tasks, executes them, and commits results. See spec.md section 6.
//
// Go has no need for the original implementation's opaque handles
// threaded through free functions (job_manager_new, worker_new, ...);
// the same contract is expressed as interfaces with receiver state.
package module

import "errors"

// ErrNilResult is a sentinel for a worker, committer, or job-manager
// call that returns a nil result where one was required. No package in
// this repository returns it: lib/jm, lib/co, and lib/tm check for nil
// results directly and log them.
var ErrNilResult = errors.New("module: nil result")

// JobInfo is opaque context passed to NewJobManager and NewCommitter.
// The runtime never inspects Data; it exists so a Job implementation
// can thread shared setup (e.g. a parsed job description) between the
// job manager and committer halves of one job.
type JobInfo struct {
	Data any
}

// JobManager generates tasks for one job run.
//
// NextTask asks for the task that should be assigned nextTaskID. If
// hasMore is false, generation is complete and ctx/payload are
// ignored. If hasMore is true, ctx must equal nextTaskID; a mismatch,
// or a true hasMore with a nil payload, is a task-generation protocol
// error (spec.md section 7) and the caller aborts the current push
// attempt without treating the job manager as dead.
type JobManager interface {
	NextTask(nextTaskID int64) (hasMore bool, payload []byte, ctx int64)
	Finalize()
}

// Committer commits task results exactly once each, and commits the
// job as a whole once both the job-manager and committer loops have
// terminated.
type Committer interface {
	// CommitPit commits a single task's result. status is
	// module-defined; a non-zero status is logged but the task is
	// still marked completed to avoid infinite retry (spec.md
	// section 7).
	CommitPit(result []byte) (status int64)

	// CommitJob finalizes the whole job. ctx must equal magic; result
	// must be non-nil. Violations surface as ResModuleNoAns /
	// ResModuleCtxErr to the runtime's caller.
	CommitJob(magic int64) (status int64, result []byte, ctx int64)

	Finalize()
}

// Worker executes tasks on one worker goroutine of a task manager's
// pool. One Worker is created per goroutine via Job.NewWorker and
// reused for every task that goroutine dequeues.
type Worker interface {
	// Run executes one task. ctx must equal taskID; a nil result or a
	// ctx mismatch causes the result to be dropped (spec.md section
	// 7) — the task remains outstanding and will be replayed.
	Run(payload []byte, taskID int64) (status int64, result []byte, ctx int64)
}

// Job is the entry point a job module exposes. One Job value is
// loaded per process (job manager/committer process, or task manager
// process) and used to construct the role-specific handles that
// process needs.
type Job interface {
	// Main is called once, from cmd/jm, with the module's own argv
	// (everything after the module path on the command line) and a
	// run callback. Main is responsible for invoking run exactly
	// once with whatever JobInfo the module wants threaded into
	// NewJobManager/NewCommitter, and returning run's status code.
	Main(margv []string, run func(margv []string, info JobInfo) (status int64, result []byte)) int64

	NewJobManager(argv []string, info JobInfo) (JobManager, error)
	NewCommitter(argv []string, info JobInfo) (Committer, error)
	NewWorker(argv []string) (Worker, error)
}
