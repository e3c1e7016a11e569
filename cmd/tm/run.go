package main

import (
	"fmt"
	"net"

	"spits/lib/config"
	"spits/lib/metrics"
	"spits/lib/module"
	"spits/lib/slog"
	"spits/lib/tm"
)

func tmConfig(cfg config.Config) tm.Config {
	network := cfg.TMMode
	if network == "" {
		network = "tcp"
	}
	return tm.Config{
		Network:         network,
		Address:         net.JoinHostPort(cfg.TMAddr, fmt.Sprintf("%d", cfg.TMPort)),
		MaxWorkers:      cfg.Workers,
		Overfill:        cfg.Overfill,
		ConnectTimeout:  cfg.ConnectTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxPayloadBytes: cfg.MaxPayload,
	}
}

// runServer starts the task manager: bind, construct the worker pool
// from the job module, announce, then serve until the process is
// killed (os.Exit(0) on msg_terminate, unless OnTerminate is set).
func runServer(cfg config.Config, job module.Job, margv []string, logger slog.Logger, collector *metrics.Collector) error {
	srv := tm.NewServer(tmConfig(cfg), job, logger)
	srv.WorkerArgv = margv
	srv.Metrics = collector

	if err := srv.Start(); err != nil {
		return fmt.Errorf("tm: %w", err)
	}

	addr := srv.Addr().String()
	logger.Info(&slog.LogRecord{Msg: "tm: listening", Details: addr})

	announceAddr, err := tm.ResolveConnectableAddr(addr)
	if err != nil {
		logger.Warn(&slog.LogRecord{Msg: "tm: failed to resolve a connectable address, announcing bound address", Error: err})
		announceAddr = addr
	}

	if err := tm.Announce(tm.AnnounceMode(cfg.Announce), cfg.NodesFile, announceAddr); err != nil {
		logger.Warn(&slog.LogRecord{Msg: "tm: failed to announce", Error: err})
	}

	return srv.Serve()
}
