package main

import (
	"spits/lib/co"
	"spits/lib/config"
	"spits/lib/core"
	"spits/lib/discovery"
	"spits/lib/slog"
)

// loadFleetForKill re-reads nodes.txt once, independent of the
// discovery.Fleet instances owned by the job-manager/committer loops,
// since the kill sweep runs after both have already returned.
func loadFleetForKill(cfg config.Config, logger slog.Logger) core.Fleet {
	return discovery.NewFleet(cfg.NodesFile, logger).Reload()
}

// killFleet sends msg_terminate to every known task manager. Run
// unconditionally after the job finishes when killtms=true, regardless
// of the job's outcome (SPEC_FULL.md section 11).
func killFleet(cfg config.Config, fleet core.Fleet, logger slog.Logger) error {
	return co.KillFleet(coConfig(cfg), fleet, logger)
}
