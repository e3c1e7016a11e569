package co

import (
	"context"
	"sync"

	"spits/lib/core"
	liberrors "spits/lib/errors"
	"spits/lib/module"
	"spits/lib/slog"
	"spits/lib/wire"
)

// FinalizeResult is the outcome of completing a job run.
type FinalizeResult struct {
	Status int64
	Result []byte
}

// Finalize invokes the module's job-level commit entry point once both
// the job-manager and committer loops have returned. Driven by cmd/jm's
// run routine, never by either loop. See spec.md §4.4.
func Finalize(jobMgr module.JobManager, committer module.Committer, logger slog.Logger) FinalizeResult {
	status, result, ctx := committer.CommitJob(finalizeMagic)
	switch {
	case result == nil:
		logger.Error(&slog.LogRecord{Msg: "co: commit_job returned a nil result"})
		status = wire.ResModuleNoAns
	case ctx != finalizeMagic:
		logger.Error(&slog.LogRecord{Msg: "co: commit_job ctx mismatch"})
		status = wire.ResModuleCtxErr
	}

	jobMgr.Finalize()
	committer.Finalize()

	return FinalizeResult{Status: status, Result: result}
}

// KillFleet opens every known TM and sends msg_terminate. Failures are
// logged, never fatal — spec.md §4.4's "TM kill", run unconditionally
// regardless of job outcome per the original's jm.py (SPEC_FULL.md §11).
func KillFleet(cfg Config, fleet core.Fleet, logger slog.Logger) error {
	errCh := make(chan error, len(fleet))
	var wg sync.WaitGroup
	for _, tm := range fleet {
		wg.Add(1)
		go func(tm core.TMEndpoint) {
			defer wg.Done()
			errCh <- killOne(cfg, tm, logger)
		}(tm)
	}
	go func() {
		wg.Wait()
		close(errCh)
	}()
	return liberrors.AggregateErrorFromChannel(errCh)
}

func killOne(cfg Config, tm core.TMEndpoint, logger slog.Logger) error {
	identity := tm.Identity()
	ep := wire.NewEndpoint(tm.Network, tm.Address)
	ep.MaxPayloadBytes = cfg.MaxPayloadBytes
	ep.WriteTimeout = cfg.WriteTimeout
	if err := ep.Open(context.Background(), cfg.ConnectTimeout); err != nil {
		logger.Warn(&slog.LogRecord{Msg: "co: failed to open tm for terminate", TM: &identity, Error: err})
		return err
	}
	defer ep.Close()
	if err := ep.WriteInt64(wire.MsgTerminate); err != nil {
		logger.Warn(&slog.LogRecord{Msg: "co: failed to send msg_terminate", TM: &identity, Error: err})
		return err
	}
	return nil
}
