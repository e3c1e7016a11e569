// Package tm implements the Task Manager: a listener that accepts one
// connection at a time, a bounded intake queue, a worker pool, and an
// unbounded result queue. See spec.md section 4.2.
package tm

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"spits/lib/core"
	"spits/lib/intake"
	"spits/lib/metrics"
	"spits/lib/module"
	"spits/lib/resultqueue"
	"spits/lib/slog"
	"spits/lib/wire"
)

// Config holds the task manager's tunables, sourced from the key=value
// CLI surface (lib/config) by cmd/tm.
type Config struct {
	Network         string
	Address         string
	MaxWorkers      int
	Overfill        int
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxPayloadBytes int64
}

func (c Config) workerCount() int {
	if c.MaxWorkers <= 0 {
		return runtime.NumCPU()
	}
	return c.MaxWorkers
}

// Server is the task manager's listener and protocol handler.
type Server struct {
	cfg    Config
	logger slog.Logger
	job    module.Job

	intake  *intake.Queue
	results *resultqueue.Queue
	pool    *WorkerPool

	// WorkerArgv is forwarded to Job.NewWorker for every worker
	// goroutine: the module's own argv, set by cmd/tm before Start.
	WorkerArgv []string

	// Metrics is nil unless cmd/tm was given a metrics=addr key; callers
	// set it after NewServer, before Start.
	Metrics *metrics.Collector

	listener net.Listener

	// OnTerminate is invoked instead of os.Exit(0) when msg_terminate is
	// received, if set. Production builds leave it nil; tests set it to
	// observe termination without killing the test process.
	OnTerminate func()
}

// NewServer constructs a Server. Start must be called before Serve.
func NewServer(cfg Config, job module.Job, logger slog.Logger) *Server {
	capacity := cfg.workerCount() + cfg.Overfill
	return &Server{
		cfg:     cfg,
		logger:  logger,
		job:     job,
		intake:  intake.New(capacity),
		results: resultqueue.New(),
	}
}

// Start binds the listener and launches the worker pool. Announce is
// the caller's responsibility (cmd/tm), since it needs the bound addr.
func (s *Server) Start() error {
	ln, err := net.Listen(s.cfg.Network, s.cfg.Address)
	if err != nil {
		return fmt.Errorf("tm: listen on %s %s: %w", s.cfg.Network, s.cfg.Address, err)
	}
	s.listener = ln
	s.pool = NewWorkerPool(s.cfg.workerCount(), s.job, s.intake, s.results, s.logger, s.WorkerArgv...)
	s.pool.Metrics = s.Metrics
	s.pool.Start()
	return nil
}

// Addr returns the bound listener address. Only valid after Start.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close closes the listener, causing a blocked Serve to return.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// Serve accepts connections and handles each to completion before
// accepting the next, matching spec.md's "one connection at a time".
// Task execution itself still runs concurrently on the worker pool.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	ep := wire.FromConn(conn)
	ep.MaxPayloadBytes = s.cfg.effectiveMaxPayloadBytes()
	ep.WriteTimeout = s.cfg.WriteTimeout
	defer ep.Close()

	mtype, err := ep.ReadInt64(s.cfg.ReadTimeout)
	if err != nil {
		s.logger.Warn(&slog.LogRecord{Msg: "tm: failed to read message type", Error: err})
		return
	}

	switch mtype {
	case wire.MsgTerminate:
		s.logger.Info(&slog.LogRecord{Msg: "tm: received msg_terminate"})
		s.terminate()
	case wire.MsgSendTask:
		s.handleSendTask(ep)
	case wire.MsgReadResult:
		s.handleReadResult(ep)
	default:
		s.logger.Warn(&slog.LogRecord{Msg: "tm: unrecognized message type, ignoring", Details: mtype})
	}
}

func (s *Server) terminate() {
	if s.OnTerminate != nil {
		s.OnTerminate()
		return
	}
	os.Exit(0)
}

func (s *Server) handleSendTask(ep *wire.Endpoint) {
	if s.Metrics != nil {
		defer func() { s.Metrics.IntakeQueueDepth.Set(float64(s.intake.Depth())) }()
	}

	free := int64(s.intake.Free())
	if err := ep.WriteInt64(free); err != nil {
		s.logger.Warn(&slog.LogRecord{Msg: "tm: failed to reply with free", Error: err})
		return
	}
	for i := int64(0); i < free; i++ {
		taskid, err := ep.ReadInt64(s.cfg.ReadTimeout)
		if err != nil {
			s.logger.Warn(&slog.LogRecord{Msg: "tm: failed to read taskid", Error: err})
			return
		}
		size, err := ep.ReadInt64(s.cfg.ReadTimeout)
		if err != nil {
			s.logger.Warn(&slog.LogRecord{Msg: "tm: failed to read payload size", Error: err})
			return
		}
		payload, err := ep.Read(size, s.cfg.ReadTimeout)
		if err != nil {
			s.logger.Warn(&slog.LogRecord{Msg: "tm: failed to read payload", Error: err})
			return
		}
		id := core.TaskID(taskid)
		if !s.intake.TryPut(intake.Item{TaskID: id, Payload: payload}) {
			s.logger.Warn(&slog.LogRecord{Msg: "tm: intake queue full, dropping task", TaskID: &id})
		}
	}
}

func (s *Server) handleReadResult(ep *wire.Endpoint) {
	if s.Metrics != nil {
		defer func() { s.Metrics.ResultQueueDepth.Set(float64(s.results.Size())) }()
	}

	tosend := int64(s.results.Size())
	if err := ep.WriteInt64(tosend); err != nil {
		s.logger.Warn(&slog.LogRecord{Msg: "tm: failed to reply with tosend", Error: err})
		return
	}
	for i := int64(0); i < tosend; i++ {
		item, ok := s.results.Dequeue()
		if !ok {
			if err := ep.WriteInt64(wire.MsgReadEmpty); err != nil {
				s.logger.Warn(&slog.LogRecord{Msg: "tm: failed to signal early end-of-stream", Error: err})
			}
			return
		}
		if err := s.sendResult(ep, item); err != nil {
			s.logger.Warn(&slog.LogRecord{Msg: "tm: write failed mid-result, re-enqueueing", Error: err, TaskID: &item.TaskID})
			s.results.Requeue(item)
			return
		}
	}
}

func (s *Server) sendResult(ep *wire.Endpoint, item resultqueue.Item) error {
	if err := ep.WriteInt64(int64(item.TaskID)); err != nil {
		return err
	}
	if err := ep.WriteInt64(item.WorkerStatus); err != nil {
		return err
	}
	if err := ep.WriteInt64(int64(len(item.Payload))); err != nil {
		return err
	}
	return ep.Write(item.Payload)
}

func (c Config) effectiveMaxPayloadBytes() int64 {
	if c.MaxPayloadBytes <= 0 {
		return wire.DefaultMaxPayloadBytes
	}
	return c.MaxPayloadBytes
}
