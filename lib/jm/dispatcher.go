// Package jm implements the job-manager dispatch loop: it streams
// tasks to a dynamically discovered fleet of task managers, tracks
// which are still outstanding, and replays them after generation ends.
// See spec.md section 4.3.
package jm

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

// Config holds the job manager's tunables.
type Config struct {
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	SendBackoff     time.Duration
	MaxPayloadBytes int64
}

type submission struct {
	taskID      core.TaskID
	payload     []byte
	submittedTo map[core.TMIdentity]struct{}
}

// Dispatcher drives the job-manager loop described in spec.md §4.3.
// It is not safe for concurrent use from more than one goroutine: Run
// owns it for the lifetime of the job.
type Dispatcher struct {
	cfg    Config
	fleet  *discovery.Fleet
	state  *runstate.State
	jobMgr module.JobManager
	logger slog.Logger

	// Metrics is nil unless cmd/jm was given a metrics=addr key; callers
	// set it after NewDispatcher, before Run.
	Metrics *metrics.Collector

	nextTaskID core.TaskID

	hasCurrentTask bool
	currentTaskID  core.TaskID
	currentPayload []byte
	currentTaskTMs map[core.TMIdentity]struct{}

	submissions []submission
}

// NewDispatcher constructs a Dispatcher. jobMgr is the job module's
// task generator for this run.
func NewDispatcher(cfg Config, fleet *discovery.Fleet, state *runstate.State, jobMgr module.JobManager, logger slog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:            cfg,
		fleet:          fleet,
		state:          state,
		jobMgr:         jobMgr,
		logger:         logger,
		nextTaskID:     1,
		currentTaskTMs: make(map[core.TMIdentity]struct{}),
	}
}

// Run executes dispatch passes until the job is complete (runstate.State.Done)
// or ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		d.pass(ctx)
		if d.state.Done() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.cfg.SendBackoff):
		}
	}
}

func (d *Dispatcher) pass(ctx context.Context) {
	fleet := d.fleet.Reload()
	for _, tm := range fleet {
		if ctx.Err() != nil {
			return
		}
		d.visit(ctx, tm)
	}
	d.finishPass()
}

func (d *Dispatcher) visit(ctx context.Context, tm core.TMEndpoint) {
	identity := tm.Identity()
	if d.hasCurrentTask {
		if _, sent := d.currentTaskTMs[identity]; sent {
			return // never send the same task twice to the same TM
		}
	}

	ep := wire.NewEndpoint(tm.Network, tm.Address)
	ep.MaxPayloadBytes = d.cfg.MaxPayloadBytes
	ep.WriteTimeout = d.cfg.WriteTimeout
	if err := ep.Open(ctx, d.cfg.ConnectTimeout); err != nil {
		d.logger.Warn(&slog.LogRecord{Msg: "jm: failed to open tm", TM: &identity, Error: err})
		return
	}
	defer ep.Close()

	if err := ep.WriteInt64(wire.MsgSendTask); err != nil {
		d.logger.Warn(&slog.LogRecord{Msg: "jm: failed to send msg_send_task", TM: &identity, Error: err})
		return
	}
	free, err := ep.ReadInt64(d.cfg.ReadTimeout)
	if err != nil {
		d.logger.Warn(&slog.LogRecord{Msg: "jm: failed to read free", TM: &identity, Error: err})
		return
	}
	if free <= 0 {
		return
	}

	d.pushPhase(ep, identity, free)
}

func (d *Dispatcher) pushPhase(ep *wire.Endpoint, identity core.TMIdentity, free int64) {
	for i := int64(0); i < free; i++ {
		if !d.hasCurrentTask {
			if !d.adoptNextTask(identity) {
				return
			}
		}

		if err := ep.WriteInt64(int64(d.currentTaskID)); err != nil {
			d.logger.Warn(&slog.LogRecord{Msg: "jm: write taskid failed, current task remains pending", TM: &identity, Error: err})
			return
		}
		if err := ep.WriteInt64(int64(len(d.currentPayload))); err != nil {
			d.logger.Warn(&slog.LogRecord{Msg: "jm: write size failed, current task remains pending", TM: &identity, Error: err})
			return
		}
		if err := ep.Write(d.currentPayload); err != nil {
			d.logger.Warn(&slog.LogRecord{Msg: "jm: write payload failed, current task remains pending", TM: &identity, Error: err})
			return
		}

		d.currentTaskTMs[identity] = struct{}{}
		d.submissions = append(d.submissions, submission{
			taskID:      d.currentTaskID,
			payload:     d.currentPayload,
			submittedTo: cloneSet(d.currentTaskTMs),
		})
		d.clearCurrent()
	}
}

// adoptNextTask picks the task to send next: a fresh one from the job
// module while generation is ongoing, or a replay candidate once
// generation has finished. identity excludes replay candidates already
// sent to this same TM.
func (d *Dispatcher) adoptNextTask(identity core.TMIdentity) bool {
	if !d.state.Finished() {
		hasMore, payload, ctx := d.jobMgr.NextTask(int64(d.nextTaskID))
		switch {
		case !hasMore:
			d.state.SetFinished()
		case payload == nil || ctx != int64(d.nextTaskID):
			d.logger.Error(&slog.LogRecord{Msg: "jm: task-generation protocol error, aborting push"})
			return false
		default:
			id := d.nextTaskID
			d.state.InsertTask(id, payload)
			d.nextTaskID++
			d.setCurrent(id, payload)
			if d.Metrics != nil {
				d.Metrics.TasksGenerated.Inc()
			}
			return true
		}
	}
	return d.adoptReplay(identity)
}

func (d *Dispatcher) adoptReplay(identity core.TMIdentity) bool {
	for i := 0; i < len(d.submissions); i++ {
		s := d.submissions[i]
		if !d.state.HasTask(s.taskID) {
			continue // already committed; pruned at end of pass
		}
		if _, already := s.submittedTo[identity]; already {
			continue // would resend to a TM that already holds it
		}
		d.submissions = append(d.submissions[:i], d.submissions[i+1:]...)
		d.setCurrentFrom(s)
		if d.Metrics != nil {
			d.Metrics.TasksReplayed.Inc()
		}
		return true
	}
	return false
}

func (d *Dispatcher) setCurrent(id core.TaskID, payload []byte) {
	d.hasCurrentTask = true
	d.currentTaskID = id
	d.currentPayload = payload
	d.currentTaskTMs = make(map[core.TMIdentity]struct{})
}

func (d *Dispatcher) setCurrentFrom(s submission) {
	d.hasCurrentTask = true
	d.currentTaskID = s.taskID
	d.currentPayload = s.payload
	d.currentTaskTMs = cloneSet(s.submittedTo)
}

func (d *Dispatcher) clearCurrent() {
	d.hasCurrentTask = false
	d.currentPayload = nil
}

// finishPass implements the post-pass bookkeeping from spec.md §9's
// open question (resolved in SPEC_FULL.md §12): a task still current at
// the end of a pass is pushed to the front of submissions and
// immediately popped back off as next pass's seed, so it is never
// silently dropped between passes. Stale submissions (already
// committed) are then pruned.
func (d *Dispatcher) finishPass() {
	if d.hasCurrentTask {
		d.submissions = append([]submission{{
			taskID:      d.currentTaskID,
			payload:     d.currentPayload,
			submittedTo: cloneSet(d.currentTaskTMs),
		}}, d.submissions...)
		d.clearCurrent()

		if len(d.submissions) > 0 {
			next := d.submissions[0]
			d.submissions = d.submissions[1:]
			if d.state.HasTask(next.taskID) {
				d.setCurrentFrom(next)
			}
		}
	}
	d.pruneSubmissions()
}

func (d *Dispatcher) pruneSubmissions() {
	kept := d.submissions[:0]
	for _, s := range d.submissions {
		if d.state.HasTask(s.taskID) {
			kept = append(kept, s)
		}
	}
	d.submissions = kept
	d.state.PruneCompleted()
}

func cloneSet(in map[core.TMIdentity]struct{}) map[core.TMIdentity]struct{} {
	out := make(map[core.TMIdentity]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
