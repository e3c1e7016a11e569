package jm_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"spits/lib/core"
	"spits/lib/discovery"
	"spits/lib/jm"
	"spits/lib/metrics"
	"spits/lib/runstate"
	"spits/lib/slog"
	"spits/lib/wire"
)

// fakeJobManager hands out a fixed slice of payloads, one per taskid.
type fakeJobManager struct {
	rows [][]byte
}

func (f *fakeJobManager) NextTask(nextTaskID int64) (bool, []byte, int64) {
	idx := int(nextTaskID - 1)
	if idx < 0 || idx >= len(f.rows) {
		return false, nil, 0
	}
	return true, f.rows[idx], nextTaskID
}

func (f *fakeJobManager) Finalize() {}

// fakeTM is a minimal, protocol-level task manager stand-in that
// records every (taskid, payload) it receives via msg_send_task. It
// always advertises a fixed "free" and never produces results.
type fakeTM struct {
	free int64

	mu       sync.Mutex
	received []core.TaskID

	listener net.Listener
}

func newFakeTM(t *testing.T, free int64) *fakeTM {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeTM{free: free, listener: ln}
	go f.serve()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeTM) addr() string { return f.listener.Addr().String() }

func (f *fakeTM) taskIDs() []core.TaskID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.TaskID(nil), f.received...)
}

func (f *fakeTM) serve() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		f.handle(conn)
	}
}

func (f *fakeTM) handle(conn net.Conn) {
	defer conn.Close()
	ep := wire.FromConn(conn)
	mtype, err := ep.ReadInt64(time.Second)
	if err != nil || mtype != wire.MsgSendTask {
		return
	}
	if err := ep.WriteInt64(f.free); err != nil {
		return
	}
	for i := int64(0); i < f.free; i++ {
		taskid, err := ep.ReadInt64(time.Second)
		if err != nil {
			return
		}
		size, err := ep.ReadInt64(time.Second)
		if err != nil {
			return
		}
		if _, err := ep.Read(size, time.Second); err != nil {
			return
		}
		f.mu.Lock()
		f.received = append(f.received, core.TaskID(taskid))
		f.mu.Unlock()
	}
}

func TestPushPhaseDeliversAscendingTaskIDsWithinOneTM(t *testing.T) {
	tmA := newFakeTM(t, 3)

	dir := t.TempDir()
	nodesPath := writeNodesFile(t, dir, tmA.addr())

	state := runstate.New()
	fleet := discovery.NewFleet(nodesPath, &slog.RecordingLogger{})
	jobMgr := &fakeJobManager{rows: [][]byte{[]byte("1"), []byte("2"), []byte("3")}}

	d := jm.NewDispatcher(jm.Config{
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		WriteTimeout:   time.Second,
		SendBackoff:    time.Millisecond,
	}, fleet, state, jobMgr, &slog.RecordingLogger{})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	require.Eventually(t, func() bool { return len(tmA.taskIDs()) == 3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []core.TaskID{1, 2, 3}, tmA.taskIDs())
}

func TestBackpressureNeverExceedsAdvertisedFree(t *testing.T) {
	// S4: the JM never sends more than `free` tasks in one push phase.
	tmA := newFakeTM(t, 1)

	dir := t.TempDir()
	nodesPath := writeNodesFile(t, dir, tmA.addr())

	state := runstate.New()
	fleet := discovery.NewFleet(nodesPath, &slog.RecordingLogger{})
	jobMgr := &fakeJobManager{rows: [][]byte{[]byte("1"), []byte("2"), []byte("3")}}

	d := jm.NewDispatcher(jm.Config{
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		WriteTimeout:   time.Second,
		SendBackoff:    time.Hour, // single pass only
	}, fleet, state, jobMgr, &slog.RecordingLogger{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	require.LessOrEqual(t, len(tmA.taskIDs()), 1)
}

func TestDispatcherCountsGeneratedTasksWhenMetricsSet(t *testing.T) {
	tmA := newFakeTM(t, 3)

	dir := t.TempDir()
	nodesPath := writeNodesFile(t, dir, tmA.addr())

	state := runstate.New()
	fleet := discovery.NewFleet(nodesPath, &slog.RecordingLogger{})
	jobMgr := &fakeJobManager{rows: [][]byte{[]byte("1"), []byte("2"), []byte("3")}}

	d := jm.NewDispatcher(jm.Config{
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		WriteTimeout:   time.Second,
		SendBackoff:    time.Millisecond,
	}, fleet, state, jobMgr, &slog.RecordingLogger{})
	collector := metrics.NewCollector()
	d.Metrics = collector

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	require.Eventually(t, func() bool { return len(tmA.taskIDs()) == 3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, float64(3), testutil.ToFloat64(collector.TasksGenerated))
}
