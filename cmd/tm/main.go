// Command tm runs a task manager: a listener, a bounded intake queue,
// a worker pool, and an unbounded result queue. See spec.md section
// 4.2 and SPEC_FULL.md section 6.4.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	_ "spits/lib/module/examplejob"

	"spits/lib/config"
	"spits/lib/metrics"
	"spits/lib/module"
	"spits/lib/slog"
)

func main() {
	root := &cobra.Command{
		Use:   "tm [key=value ...] module [module-args ...]",
		Short: "Run a spits task manager",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(args)
		},
		SilenceUsage: true,
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func execute(args []string) error {
	tokens, modulePath, margv, err := parseArgs(args)
	if err != nil {
		return fmt.Errorf("tm: %w", err)
	}

	cfg, err := config.Load(tokens)
	if err != nil {
		return fmt.Errorf("tm: %w", err)
	}

	if cfg.Log != "" {
		f, err := os.OpenFile(cfg.Log, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("tm: opening log file: %w", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	logger := slog.WithRunID(slog.GetDefaultLogger(), uuid.NewString())
	logger.Info(&slog.LogRecord{Msg: "Hello!"})

	var collector *metrics.Collector
	if cfg.Metrics != "" {
		collector = metrics.NewCollector()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := collector.Serve(ctx, cfg.Metrics); err != nil {
				logger.Warn(&slog.LogRecord{Msg: "tm: metrics server stopped", Error: err})
			}
		}()
	}

	job, err := module.Load(modulePath)
	if err != nil {
		return fmt.Errorf("tm: %w", err)
	}

	err = runServer(cfg, job, margv, logger, collector)
	logger.Info(&slog.LogRecord{Msg: "Bye!"})
	return err
}
