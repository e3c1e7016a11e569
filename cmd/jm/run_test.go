package main

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"spits/lib/config"
	"spits/lib/module/examplejob"
	"spits/lib/slog"
	"spits/lib/tm"
	"spits/lib/wire"
)

func writeNodesFile(t *testing.T, addrs ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nodes.txt")
	var content string
	for _, a := range addrs {
		content += "node " + a + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func shortCfg(nodesPath string) config.Config {
	cfg := config.Defaults()
	cfg.NodesFile = nodesPath
	cfg.ConnectTimeout = time.Second
	cfg.ReadTimeout = time.Second
	cfg.WriteTimeout = time.Second
	cfg.SendBackoff = 5 * time.Millisecond
	cfg.RecvBackoff = 5 * time.Millisecond
	cfg.KillTMs = false
	return cfg
}

// TestRunJobEndToEndAgainstRealTM exercises cmd/jm's runOnce/runJob
// wiring end-to-end: a real tm.Server, the bundled example job, a run
// through the module.Job.Main ABI entry point (S1).
func TestRunJobEndToEndAgainstRealTM(t *testing.T) {
	job := examplejob.New([][]byte{[]byte("A"), []byte("B"), []byte("C")})

	logger := &slog.RecordingLogger{}
	srv := tm.NewServer(tm.Config{Network: "tcp", Address: "127.0.0.1:0", MaxWorkers: 1, ReadTimeout: time.Second, WriteTimeout: time.Second}, job, logger)
	require.NoError(t, srv.Start())
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })

	nodesPath := writeNodesFile(t, srv.Addr().String())
	cfg := shortCfg(nodesPath)

	status := runJob(cfg, job, nil, logger, nil)
	require.Equal(t, int64(0), status)
	require.Equal(t, []byte("ABC"), job.Result())
}

// TestKillFleetSendsTerminateToTM is S5 at the cmd/jm level: the kill
// sweep opens every nodes.txt entry and sends msg_terminate.
func TestKillFleetSendsTerminateToTM(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan int64, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		ep := wire.FromConn(conn)
		mtype, err := ep.ReadInt64(time.Second)
		if err == nil {
			received <- mtype
		}
	}()

	nodesPath := writeNodesFile(t, ln.Addr().String())
	logger := &slog.RecordingLogger{}
	cfg := shortCfg(nodesPath)

	fleet := loadFleetForKill(cfg, logger)
	require.Len(t, fleet, 1)
	require.NoError(t, killFleet(cfg, fleet, logger))

	select {
	case mtype := <-received:
		require.Equal(t, wire.MsgTerminate, mtype)
	case <-time.After(time.Second):
		t.Fatal("tm never received msg_terminate")
	}
}
