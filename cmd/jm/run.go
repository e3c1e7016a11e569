package main

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"spits/lib/co"
	"spits/lib/config"
	"spits/lib/discovery"
	"spits/lib/jm"
	"spits/lib/metrics"
	"spits/lib/module"
	"spits/lib/runstate"
	"spits/lib/slog"
)

func jmConfig(cfg config.Config) jm.Config {
	return jm.Config{
		ConnectTimeout:  cfg.ConnectTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		SendBackoff:     cfg.SendBackoff,
		MaxPayloadBytes: cfg.MaxPayload,
	}
}

func coConfig(cfg config.Config) co.Config {
	return co.Config{
		ConnectTimeout:  cfg.ConnectTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		RecvBackoff:     cfg.RecvBackoff,
		MaxPayloadBytes: cfg.MaxPayload,
	}
}

// runJob invokes the job module's Main entry point, handing it the run
// callback that wires up one job's job-manager and committer loops.
// Mirrors original_source/pypits-runtime/jm.py's main(): job.spits_main
// is called exactly once with a run_wrapper closure.
func runJob(cfg config.Config, job module.Job, margv []string, logger slog.Logger, collector *metrics.Collector) int64 {
	return job.Main(margv, func(argv []string, info module.JobInfo) (int64, []byte) {
		return runOnce(cfg, job, argv, info, logger, collector)
	})
}

func runOnce(cfg config.Config, job module.Job, argv []string, info module.JobInfo, logger slog.Logger, collector *metrics.Collector) (int64, []byte) {
	state := runstate.New()
	// The dispatcher and committer run concurrently (below) and each
	// calls Fleet.Reload every pass; Fleet is not safe for concurrent
	// use, so each loop gets its own instance, matching the original's
	// separate tmlist local per thread.
	dispatcherFleet := discovery.NewFleet(cfg.NodesFile, logger)
	committerFleet := discovery.NewFleet(cfg.NodesFile, logger)

	jobMgr, err := job.NewJobManager(argv, info)
	if err != nil {
		logger.Error(&slog.LogRecord{Msg: "jm: failed to create job manager", Error: err})
		return moduleErrorStatus, nil
	}
	committerHandle, err := job.NewCommitter(argv, info)
	if err != nil {
		logger.Error(&slog.LogRecord{Msg: "jm: failed to create committer", Error: err})
		return moduleErrorStatus, nil
	}

	dispatcher := jm.NewDispatcher(jmConfig(cfg), dispatcherFleet, state, jobMgr, logger)
	committer := co.NewCommitter(coConfig(cfg), committerFleet, state, committerHandle, logger)
	dispatcher.Metrics = collector
	committer.Metrics = collector

	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	logger.Info(&slog.LogRecord{Msg: "jm: starting job manager"})
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()
	logger.Info(&slog.LogRecord{Msg: "jm: starting committer"})
	go func() {
		defer wg.Done()
		committer.Run(ctx)
	}()
	wg.Wait()

	logger.Info(&slog.LogRecord{Msg: "jm: committing job"})
	result := co.Finalize(jobMgr, committerHandle, logger)
	return result.Status, result.Result
}

// runID is generated once per jm process and attached to every log
// record (SPEC_FULL.md section 10).
func runID() string {
	return uuid.NewString()
}

const moduleErrorStatus = -1 // wire.ResModuleError, repeated here to avoid importing wire for one constant.
