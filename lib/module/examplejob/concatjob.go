// Package examplejob is a minimal job module used by the runtime's
// own tests and as a worked example of the module.Job ABI: it
// generates a fixed list of byte-string tasks, workers echo their
// payload back unchanged, and the committer concatenates results in
// delivery order. It is registered in-process (see spits.go) rather
// than built as a Go plugin, since the toolchain cannot build
// -buildmode=plugin artifacts as part of an ordinary test run.
package examplejob

import (
	"sync"

	"spits/lib/module"
)

// ConcatJob implements module.Job over a fixed slice of tasks.
type ConcatJob struct {
	rows [][]byte

	mu        sync.Mutex
	committed []byte
}

// New returns a ConcatJob that will generate one task per element of
// tasks, in order, starting at taskid 1.
func New(tasks [][]byte) *ConcatJob {
	return &ConcatJob{rows: tasks}
}

// Result returns the bytes committed so far, in delivery order.
func (j *ConcatJob) Result() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]byte(nil), j.committed...)
}

func (j *ConcatJob) Main(margv []string, run func([]string, module.JobInfo) (int64, []byte)) int64 {
	status, _ := run(margv, module.JobInfo{Data: j})
	return status
}

// NewJobManager builds the task list from the module's own argv when
// the ConcatJob was registered without one (the in-process CLI case):
// each argv token becomes one task payload, in order. A ConcatJob
// constructed directly via New keeps the rows it was given.
func (j *ConcatJob) NewJobManager(argv []string, info module.JobInfo) (module.JobManager, error) {
	j.mu.Lock()
	if j.rows == nil {
		for _, tok := range argv {
			j.rows = append(j.rows, []byte(tok))
		}
	}
	j.mu.Unlock()
	return &jobManager{job: j}, nil
}

func (j *ConcatJob) NewCommitter(argv []string, info module.JobInfo) (module.Committer, error) {
	return &committer{job: j}, nil
}

func (j *ConcatJob) NewWorker(argv []string) (module.Worker, error) {
	return echoWorker{}, nil
}

type jobManager struct {
	job *ConcatJob
}

func (m *jobManager) NextTask(nextTaskID int64) (hasMore bool, payload []byte, ctx int64) {
	idx := nextTaskID - 1
	if idx < 0 || int(idx) >= len(m.job.rows) {
		return false, nil, 0
	}
	return true, m.job.rows[idx], nextTaskID
}

func (m *jobManager) Finalize() {}

type echoWorker struct{}

func (echoWorker) Run(payload []byte, taskID int64) (status int64, result []byte, ctx int64) {
	return 0, payload, taskID
}

type committer struct {
	job *ConcatJob
}

func (c *committer) CommitPit(result []byte) int64 {
	c.job.mu.Lock()
	defer c.job.mu.Unlock()
	c.job.committed = append(c.job.committed, result...)
	return 0
}

func (c *committer) CommitJob(magic int64) (status int64, result []byte, ctx int64) {
	return 0, c.job.Result(), magic
}

func (c *committer) Finalize() {}
