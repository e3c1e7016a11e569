// Command jm runs the job-manager and committer loops for one spits
// job. See spec.md section 4.3/4.4 and SPEC_FULL.md section 6.4.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	_ "spits/lib/module/examplejob"

	"spits/lib/config"
	"spits/lib/metrics"
	"spits/lib/module"
	"spits/lib/slog"
)

func main() {
	root := &cobra.Command{
		Use:   "jm [key=value ...] module [module-args ...]",
		Short: "Run the spits job manager and committer for one job",
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
		return fmt.Errorf("jm: %w", err)
	}

	cfg, err := config.Load(tokens)
	if err != nil {
		return fmt.Errorf("jm: %w", err)
	}

	if cfg.Log != "" {
		f, err := os.OpenFile(cfg.Log, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("jm: opening log file: %w", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	logger := slog.WithRunID(slog.GetDefaultLogger(), runID())
	logger.Info(&slog.LogRecord{Msg: "Hello!"})

	var collector *metrics.Collector
	if cfg.Metrics != "" {
		collector = metrics.NewCollector()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := collector.Serve(ctx, cfg.Metrics); err != nil {
				logger.Warn(&slog.LogRecord{Msg: "jm: metrics server stopped", Error: err})
			}
		}()
	}

	job, err := module.Load(modulePath)
	if err != nil {
		return fmt.Errorf("jm: %w", err)
	}

	status := runJob(cfg, job, margv, logger, collector)
	logger.Info(&slog.LogRecord{Msg: "jm: job finished", Details: status})

	if cfg.KillTMs {
		fleet := loadFleetForKill(cfg, logger)
		if err := killFleet(cfg, fleet, logger); err != nil {
			logger.Warn(&slog.LogRecord{Msg: "jm: some task managers could not be terminated", Error: err})
		}
	}

	logger.Info(&slog.LogRecord{Msg: "Bye!"})

	if status != 0 {
		os.Exit(1)
	}
	return nil
}
