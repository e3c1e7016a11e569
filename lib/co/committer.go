// Package co implements the committer loop: it drains results from the
// task manager fleet and enforces exactly-once commit semantics under
// duplicate delivery. See spec.md section 4.4.
package co

import (
	"context"
	"time"

	"spits/lib/core"
	"spits/lib/discovery"
	"spits/lib/metrics"
	"spits/lib/module"
	"spits/lib/runstate"
	"spits/lib/slog"
	"spits/lib/wire"
)

// Config holds the committer's tunables.
type Config struct {
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RecvBackoff     time.Duration
	MaxPayloadBytes int64
}

// finalizeMagic is the ctx value exchanged with CommitJob, per spec.md §4.4.
const finalizeMagic int64 = 0x12345678

// Committer drives the committer loop described in spec.md §4.4. Not
// safe for concurrent use from more than one goroutine.
type Committer struct {
	cfg       Config
	fleet     *discovery.Fleet
	state     *runstate.State
	committer module.Committer
	logger    slog.Logger

	// Metrics is nil unless cmd/jm was given a metrics=addr key; callers
	// set it after NewCommitter, before Run.
	Metrics *metrics.Collector

	total int
}

// NewCommitter constructs a Committer against the module's Committer
// handle for this run.
func NewCommitter(cfg Config, fleet *discovery.Fleet, state *runstate.State, committer module.Committer, logger slog.Logger) *Committer {
	return &Committer{cfg: cfg, fleet: fleet, state: state, committer: committer, logger: logger}
}

// Total reports the number of commits this Committer has made so far.
// Duplicate results that were logged and dropped are not counted.
func (c *Committer) Total() int { return c.total }

// Run executes pull passes until the job is complete or ctx is canceled.
func (c *Committer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.pass(ctx)
		if c.state.Done() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.RecvBackoff):
		}
	}
}

func (c *Committer) pass(ctx context.Context) {
	fleet := c.fleet.Reload()
	for _, tm := range fleet {
		if ctx.Err() != nil {
			return
		}
		c.pull(ctx, tm)
	}
	c.state.PruneCompleted()
}

func (c *Committer) pull(ctx context.Context, tm core.TMEndpoint) {
	identity := tm.Identity()
	ep := wire.NewEndpoint(tm.Network, tm.Address)
	ep.MaxPayloadBytes = c.cfg.MaxPayloadBytes
	ep.WriteTimeout = c.cfg.WriteTimeout
	if err := ep.Open(ctx, c.cfg.ConnectTimeout); err != nil {
		c.logger.Warn(&slog.LogRecord{Msg: "co: failed to open tm", TM: &identity, Error: err})
		return
	}
	defer ep.Close()

	if err := ep.WriteInt64(wire.MsgReadResult); err != nil {
		c.logger.Warn(&slog.LogRecord{Msg: "co: failed to send msg_read_result", TM: &identity, Error: err})
		return
	}
	tosend, err := ep.ReadInt64(c.cfg.ReadTimeout)
	if err != nil {
		c.logger.Warn(&slog.LogRecord{Msg: "co: failed to read tosend", TM: &identity, Error: err})
		return
	}
	if tosend <= 0 {
		return
	}

	for i := int64(0); i < tosend; i++ {
		taskid, err := ep.ReadInt64(c.cfg.ReadTimeout)
		if err != nil {
			c.logger.Warn(&slog.LogRecord{Msg: "co: failed to read taskid", TM: &identity, Error: err})
			return
		}
		if taskid == wire.MsgReadEmpty {
			return
		}
		status, err := ep.ReadInt64(c.cfg.ReadTimeout)
		if err != nil {
			c.logger.Warn(&slog.LogRecord{Msg: "co: failed to read worker status", TM: &identity, Error: err})
			return
		}
		size, err := ep.ReadInt64(c.cfg.ReadTimeout)
		if err != nil {
			c.logger.Warn(&slog.LogRecord{Msg: "co: failed to read result size", TM: &identity, Error: err})
			return
		}
		payload, err := ep.Read(size, c.cfg.ReadTimeout)
		if err != nil {
			c.logger.Warn(&slog.LogRecord{Msg: "co: failed to read result payload", TM: &identity, Error: err})
			return
		}

		c.commitOne(core.TaskID(taskid), status, payload)
	}
}

func (c *Committer) commitOne(id core.TaskID, workerStatus int64, payload []byte) {
	if c.state.IsCompleted(id) {
		c.logger.Info(&slog.LogRecord{Msg: "co: duplicate result, dropping", TaskID: &id})
		if c.Metrics != nil {
			c.Metrics.DuplicateCommit.Inc()
		}
		return
	}

	commitStatus := c.committer.CommitPit(payload)
	if commitStatus != 0 {
		c.logger.Error(&slog.LogRecord{Msg: "co: commit_pit returned non-zero status", TaskID: &id, Details: commitStatus})
	}

	_, wasOutstanding := c.state.TryCommit(id, runstate.Completion{WorkerStatus: workerStatus, CommitStatus: commitStatus})
	if !wasOutstanding {
		c.logger.Warn(&slog.LogRecord{Msg: "co: committed a task the job manager never generated", TaskID: &id})
	}
	c.total++
	if c.Metrics != nil {
		c.Metrics.TasksCommitted.Inc()
	}
}
