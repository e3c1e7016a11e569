package tm

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"spits/lib/core"
	"spits/lib/intake"
	"spits/lib/metrics"
	"spits/lib/module"
	"spits/lib/resultqueue"
	"spits/lib/slog"
	"spits/lib/wire"
)

type echoJob struct{}

func (echoJob) Main(margv []string, run func([]string, module.JobInfo) (int64, []byte)) int64 {
	status, _ := run(margv, module.JobInfo{})
	return status
}
func (echoJob) NewJobManager(argv []string, info module.JobInfo) (module.JobManager, error) {
	return nil, nil
}
func (echoJob) NewCommitter(argv []string, info module.JobInfo) (module.Committer, error) {
	return nil, nil
}
func (echoJob) NewWorker(argv []string) (module.Worker, error) {
	return echoWorker{}, nil
}

type echoWorker struct{}

func (echoWorker) Run(payload []byte, taskID int64) (int64, []byte, int64) {
	return 0, payload, taskID
}

func startTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:0"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = time.Second
	}
	s := NewServer(cfg, echoJob{}, &slog.RecordingLogger{})
	require.NoError(t, s.Start())
	go s.Serve()
	t.Cleanup(func() { s.Close() })
	return s
}

func dial(t *testing.T, addr string) *wire.Endpoint {
	t.Helper()
	ep := wire.NewEndpoint("tcp", addr)
	require.NoError(t, ep.Open(context.Background(), time.Second))
	return ep
}

func TestSendTaskAdvertisesFreeEqualToCapacity(t *testing.T) {
	s := startTestServer(t, Config{MaxWorkers: 1, Overfill: 0})
	// An idle server with an empty intake queue advertises its full
	// capacity as free.
	ep := dial(t, s.Addr().String())
	defer ep.Close()

	require.NoError(t, ep.WriteInt64(wire.MsgSendTask))
	free, err := ep.ReadInt64(time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 1, free) // capacity = max_workers(1) + overfill(0)
}

func TestSendTaskSecondPushAdvertisesZeroWhenFull(t *testing.T) {
	// S4: nw=1, overfill=0 gives intake capacity 1. Exercised against
	// handleSendTask directly, with no worker pool draining the queue,
	// so the first push's item is still occupying the only slot when
	// the second push arrives.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := &Server{
		cfg:    Config{ReadTimeout: time.Second, WriteTimeout: time.Second},
		logger: &slog.RecordingLogger{},
		intake: intake.New(1),
	}

	serveOnce := func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		ep := wire.FromConn(conn)
		s.handleSendTask(ep)
		ep.Close()
	}

	go serveOnce()
	ep := dial(t, ln.Addr().String())
	require.NoError(t, ep.WriteInt64(wire.MsgSendTask))
	free, err := ep.ReadInt64(time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 1, free)
	require.NoError(t, ep.WriteInt64(1))
	require.NoError(t, ep.WriteInt64(int64(len("slow"))))
	require.NoError(t, ep.Write([]byte("slow")))
	require.NoError(t, ep.Close())
	time.Sleep(50 * time.Millisecond) // let the server finish draining this connection

	go serveOnce()
	ep2 := dial(t, ln.Addr().String())
	defer ep2.Close()
	require.NoError(t, ep2.WriteInt64(wire.MsgSendTask))
	free2, err := ep2.ReadInt64(time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 0, free2)
}

func TestHandleReadResultReenqueuesOnMidSendFailure(t *testing.T) {
	// Mid-send recovery: if the connection breaks while a result is being
	// streamed, that result must be re-enqueued rather than lost.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := &Server{
		cfg:     Config{ReadTimeout: time.Second, WriteTimeout: time.Second},
		logger:  &slog.RecordingLogger{},
		results: resultqueue.New(),
	}
	// The payload is larger than the socket buffers, so its write cannot
	// complete before the client resets the connection.
	s.results.Enqueue(resultqueue.Item{TaskID: 1, Payload: make([]byte, 32<<20)})

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		ep := wire.FromConn(conn)
		s.handleReadResult(ep)
		ep.Close()
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	// tosend, taskid, worker_status, size: four int64s, 32 bytes.
	buf := make([]byte, 32)
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	if tcpConn, ok := client.(*net.TCPConn); ok {
		tcpConn.SetLinger(0)
	}
	require.NoError(t, client.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not finish handling the connection in time")
	}

	require.Equal(t, 1, s.results.Size())
	item, ok := s.results.Dequeue()
	require.True(t, ok)
	require.Equal(t, core.TaskID(1), item.TaskID)
}

func TestHandleSendTaskSamplesIntakeDepthWhenMetricsSet(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	collector := metrics.NewCollector()
	s := &Server{
		cfg:     Config{ReadTimeout: time.Second, WriteTimeout: time.Second},
		logger:  &slog.RecordingLogger{},
		intake:  intake.New(2),
		Metrics: collector,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		require.NoError(t, err)
		ep := wire.FromConn(conn)
		s.handleSendTask(ep)
		ep.Close()
	}()

	ep := dial(t, ln.Addr().String())
	defer ep.Close()
	require.NoError(t, ep.WriteInt64(wire.MsgSendTask))
	free, err := ep.ReadInt64(time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 2, free)
	require.NoError(t, ep.WriteInt64(1))
	require.NoError(t, ep.WriteInt64(int64(len("x"))))
	require.NoError(t, ep.Write([]byte("x")))
	<-done

	require.Equal(t, float64(1), testutil.ToFloat64(collector.IntakeQueueDepth))
}

func TestHandleReadResultSamplesResultDepthWhenMetricsSet(t *testing.T) {
	collector := metrics.NewCollector()
	s := &Server{
		cfg:     Config{ReadTimeout: time.Second, WriteTimeout: time.Second},
		logger:  &slog.RecordingLogger{},
		results: resultqueue.New(),
		Metrics: collector,
	}
	s.results.Enqueue(resultqueue.Item{TaskID: 1, Payload: []byte("a")})
	s.results.Enqueue(resultqueue.Item{TaskID: 2, Payload: []byte("b")})

	server, client := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		ep := wire.FromConn(server)
		s.handleReadResult(ep)
	}()

	ep := wire.FromConn(client)
	tosend, err := ep.ReadInt64(time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 2, tosend)
	for i := 0; i < 2; i++ {
		_, err := ep.ReadInt64(time.Second) // taskid
		require.NoError(t, err)
		_, err = ep.ReadInt64(time.Second) // worker status
		require.NoError(t, err)
		size, err := ep.ReadInt64(time.Second)
		require.NoError(t, err)
		_, err = ep.Read(size, time.Second)
		require.NoError(t, err)
	}
	client.Close()
	<-done

	require.Equal(t, float64(0), testutil.ToFloat64(collector.ResultQueueDepth))
}

func TestHandleReadResultAdvertisesZeroOnEmptyQueue(t *testing.T) {
	s := &Server{
		cfg:     Config{ReadTimeout: time.Second, WriteTimeout: time.Second},
		logger:  &slog.RecordingLogger{},
		results: resultqueue.New(),
	}

	server, client := net.Pipe()
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		ep := wire.FromConn(server)
		s.handleReadResult(ep)
	}()

	clientEp := wire.FromConn(client)
	tosend, err := clientEp.ReadInt64(time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 0, tosend)
	<-doneCh
}
