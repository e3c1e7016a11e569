// Package metrics exposes the runtime's Prometheus counters and gauges
// over an HTTP /metrics endpoint, started when either binary is given
// a metrics=addr key. See SPEC_FULL.md section 10.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the job manager, committer, and task
// manager report. Each process owns exactly one Collector, registered
// against its own prometheus.Registry rather than the global default
// registry, so tests can construct more than one Collector without
// tripping a duplicate-registration panic.
type Collector struct {
	registry *prometheus.Registry

	TasksGenerated  prometheus.Counter
	TasksCommitted  prometheus.Counter
	TasksReplayed   prometheus.Counter
	DuplicateCommit prometheus.Counter

	IntakeQueueDepth prometheus.Gauge
	ResultQueueDepth prometheus.Gauge
	WorkersBusy      prometheus.Gauge
}

// NewCollector constructs and registers a Collector.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		TasksGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spits_tasks_generated_total",
			Help: "Total number of tasks generated by the job manager.",
		}),
		TasksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spits_tasks_committed_total",
			Help: "Total number of tasks committed by the committer.",
		}),
		TasksReplayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spits_tasks_replayed_total",
			Help: "Total number of tasks re-sent after generation finished.",
		}),
		DuplicateCommit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spits_duplicate_commits_total",
			Help: "Total number of duplicate results dropped by the committer.",
		}),
		IntakeQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spits_intake_queue_depth",
			Help: "Current number of tasks held in a task manager's intake queue.",
		}),
		ResultQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spits_result_queue_depth",
			Help: "Current number of results held in a task manager's result queue.",
		}),
		WorkersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spits_workers_busy",
			Help: "Current number of task manager worker goroutines executing a task.",
		}),
	}

	reg.MustRegister(
		c.TasksGenerated,
		c.TasksCommitted,
		c.TasksReplayed,
		c.DuplicateCommit,
		c.IntakeQueueDepth,
		c.ResultQueueDepth,
		c.WorkersBusy,
	)
	return c
}

// Serve starts an HTTP server exposing /metrics on addr, blocking until
// ctx is canceled or the listener fails. addr is empty disables the
// server; callers should not invoke Serve in that case.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = srv.Close()
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
