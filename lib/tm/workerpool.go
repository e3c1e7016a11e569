package tm

import (
	"spits/lib/intake"
	"spits/lib/metrics"
	"spits/lib/module"
	"spits/lib/resultqueue"
	"spits/lib/slog"
)

// WorkerPool runs N goroutines, each backed by one module.Worker,
// draining the intake queue and producing onto the result queue. See
// spec.md section 4.2.
type WorkerPool struct {
	n          int
	job        module.Job
	intake     *intake.Queue
	results    *resultqueue.Queue
	logger     slog.Logger
	workerArgv []string

	// Metrics is nil unless cmd/tm was given a metrics=addr key; set via
	// Server.Metrics before Start.
	Metrics *metrics.Collector
}

// NewWorkerPool constructs a WorkerPool. Start launches its goroutines.
// workerArgv is forwarded to Job.NewWorker for every goroutine; it is
// the module's own argv (cmd/tm's margv), optional since most existing
// callers have no use for it.
func NewWorkerPool(n int, job module.Job, in *intake.Queue, out *resultqueue.Queue, logger slog.Logger, workerArgv ...string) *WorkerPool {
	return &WorkerPool{n: n, job: job, intake: in, results: out, logger: logger, workerArgv: workerArgv}
}

// Start launches the pool's worker goroutines. Each constructs its own
// module.Worker via Job.NewWorker and reuses it for every task it
// dequeues thereafter.
func (p *WorkerPool) Start() {
	for i := 0; i < p.n; i++ {
		go p.runWorker()
	}
}

func (p *WorkerPool) runWorker() {
	worker, err := p.job.NewWorker(p.workerArgv)
	if err != nil {
		p.logger.Error(&slog.LogRecord{Msg: "tm: worker construction failed", Error: err})
		return
	}
	for {
		item, ok := p.intake.Get()
		if !ok {
			return
		}
		p.runTask(worker, item)
	}
}

// runTask isolates a single task execution: a panicking worker must not
// take down the worker goroutine (spec.md's "worker exceptions are
// isolated").
func (p *WorkerPool) runTask(worker module.Worker, item intake.Item) {
	if p.Metrics != nil {
		p.Metrics.WorkersBusy.Inc()
		defer p.Metrics.WorkersBusy.Dec()
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(&slog.LogRecord{Msg: "tm: worker task panicked, dropping", Details: r, TaskID: &item.TaskID})
		}
	}()

	status, result, ctx := worker.Run(item.Payload, int64(item.TaskID))
	if result == nil {
		p.logger.Error(&slog.LogRecord{Msg: "tm: worker returned nil result, dropping", TaskID: &item.TaskID})
		return
	}
	if ctx != int64(item.TaskID) {
		p.logger.Error(&slog.LogRecord{Msg: "tm: worker ctx mismatch, dropping", TaskID: &item.TaskID})
		return
	}
	p.results.Enqueue(resultqueue.Item{TaskID: item.TaskID, WorkerStatus: status, Payload: result})
}
