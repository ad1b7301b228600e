package session

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"kvload/internal/codec"
	"kvload/internal/command"
	"kvload/internal/connector"
	"kvload/internal/events"
	"kvload/internal/kvtest"
	"kvload/internal/metrics"
)

// syncBuffer は複数ゴルーチンから書き込める bytes.Buffer
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startServer(t *testing.T, config kvtest.Config) *kvtest.Server {
	t.Helper()
	srv, err := kvtest.Start(config)
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func testConfig(addr string, iterations int) Config {
	config := DefaultConfig()
	config.Addr = addr
	config.Iterations = iterations
	config.Seed = 42
	config.Connector.RetryInterval = 20 * time.Millisecond
	return config
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Addr != "localhost:8888" {
		t.Errorf("expected localhost:8888, got %s", config.Addr)
	}
	if config.Iterations != 10000 {
		t.Errorf("expected 10000 iterations, got %d", config.Iterations)
	}
	if config.GetRatio != 0.99 {
		t.Errorf("expected get ratio 0.99, got %f", config.GetRatio)
	}
}

func TestSeededSessionsGenerateDistinctCommands(t *testing.T) {
	config := testConfig("127.0.0.1:0", 1)

	next := func(id int) []string {
		s := New(id, config, nil)
		cmds := make([]string, 50)
		for i := range cmds {
			cmds[i] = s.gen.Next().String()
		}
		return cmds
	}

	a, b, again := next(0), next(1), next(0)

	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("expected sessions 0 and 1 to generate different command streams")
	}

	for i := range a {
		if a[i] != again[i] {
			t.Fatalf("expected same id and seed to be deterministic, diverged at %d: %q != %q", i, a[i], again[i])
		}
	}
}

func TestSessionRun(t *testing.T) {
	srv := startServer(t, kvtest.Config{})

	out := &syncBuffer{}
	s := New(7, testConfig(srv.Addr(), 50), out)
	m := metrics.New()
	s.SetMetrics(m)

	if s.State() != StateReconnecting {
		t.Errorf("expected initial state reconnecting, got %s", s.State())
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if s.State() != StateDone {
		t.Errorf("expected state done, got %s", s.State())
	}
	if s.Completed() != 50 {
		t.Errorf("expected 50 iterations, got %d", s.Completed())
	}
	if srv.Requests() != 50 {
		t.Errorf("expected server to see 50 requests, got %d", srv.Requests())
	}
	if got := strings.Count(out.String(), "[Client 7] "); got != 50 {
		t.Errorf("expected 50 reply lines, got %d", got)
	}
	if m.SuccessRequests() != 50 || m.ActiveSessions() != 0 || m.ConnectedSessions() != 0 {
		t.Errorf("unexpected metrics: %+v", m.Snapshot())
	}
	if srv.Accepted() != 1 {
		t.Errorf("expected a single connection, got %d", srv.Accepted())
	}
}

func TestSessionLengthPrefixed(t *testing.T) {
	srv := startServer(t, kvtest.Config{Framer: codec.NewLengthPrefixedFramer(0)})

	config := testConfig(srv.Addr(), 20)
	config.Framer = codec.NewLengthPrefixedFramer(0)
	s := New(0, config, nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if srv.Requests() != 20 {
		t.Errorf("expected 20 requests, got %d", srv.Requests())
	}
}

func TestSessionWaitsForServer(t *testing.T) {
	srv := startServer(t, kvtest.Config{})
	addr := srv.Addr()
	_ = srv.Close()

	s := New(1, testConfig(addr, 5), nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	if s.State() != StateReconnecting {
		t.Errorf("expected reconnecting while server is down, got %s", s.State())
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Skipf("port %s was taken in the meantime: %v", addr, err)
	}
	srv2 := kvtest.Serve(ln, kvtest.Config{})
	defer srv2.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session")
	}
	if srv2.Requests() != 5 {
		t.Errorf("expected 5 requests, got %d", srv2.Requests())
	}
}

func TestSessionReconnectsAfterForcedClose(t *testing.T) {
	srv := startServer(t, kvtest.Config{})
	srv.Store().SetDelay(time.Millisecond)

	bus := events.NewBus()
	sub := bus.Subscribe()

	s := New(2, testConfig(srv.Addr(), 200), nil)
	s.SetEventBus(bus)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Requests() < 20 {
		if time.Now().After(deadline) {
			t.Fatal("session made no progress")
		}
		time.Sleep(time.Millisecond)
	}
	srv.DropConnections()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for session")
	}

	if s.Completed() != 200 {
		t.Errorf("expected 200 iterations, got %d", s.Completed())
	}
	if s.Reconnects() < 1 {
		t.Error("expected at least one reconnect")
	}
	if srv.Accepted() < 2 {
		t.Errorf("expected a second connection, got %d", srv.Accepted())
	}

	var sawReconnect, sawFinished bool
	for len(sub) > 0 {
		switch (<-sub).Type {
		case events.EventReconnecting:
			sawReconnect = true
		case events.EventSessionFinished:
			sawFinished = true
		}
	}
	if !sawReconnect || !sawFinished {
		t.Errorf("expected reconnecting and finished events, got reconnect=%v finished=%v", sawReconnect, sawFinished)
	}
}

func TestSessionNonTransportErrorIsReturned(t *testing.T) {
	srv := startServer(t, kvtest.Config{})
	srv.Store().SetDelay(time.Millisecond)

	config := testConfig(srv.Addr(), 1000)
	config.Connector.MaxAttempts = 2
	s := New(3, config, nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	for srv.Requests() < 5 {
		time.Sleep(time.Millisecond)
	}
	_ = srv.Close()

	select {
	case err := <-done:
		if !errors.Is(err, connector.ErrGaveUp) {
			t.Fatalf("expected ErrGaveUp, got %v", err)
		}
		if IsTransport(err) {
			t.Error("connector exhaustion must not be reported as a transport error")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session")
	}
}

func TestSessionContextCancel(t *testing.T) {
	srv := startServer(t, kvtest.Config{HoldUntil: 100})

	s := New(4, testConfig(srv.Addr(), 10), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// サーバーが応答を保留しているので Read でブロックする
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestExchangeDecodeError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := New(5, DefaultConfig(), nil)
	s.conn = client

	go func() {
		buf := make([]byte, 4096)
		_, _ = server.Read(buf)
		_, _ = server.Write([]byte("definitely not zlib"))
	}()

	_, err := s.Exchange(context.Background(), command.Get("tree"))
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Op != "decode" {
		t.Errorf("expected decode op, got %s", te.Op)
	}
}

func TestExchangeNotConnected(t *testing.T) {
	s := New(6, DefaultConfig(), nil)

	_, err := s.Exchange(context.Background(), command.Get("sky"))
	if !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestExchangeIOTimeout(t *testing.T) {
	srv := startServer(t, kvtest.Config{HoldUntil: 100})

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	config := DefaultConfig()
	config.IOTimeout = 50 * time.Millisecond
	s := New(8, config, nil)
	s.conn = conn
	defer s.closeConn()

	_, err = s.Exchange(context.Background(), command.Get("cloud"))
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "receive" {
		t.Fatalf("expected receive TransportError, got %v", err)
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Errorf("expected a timeout, got %v", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateReconnecting, "reconnecting"},
		{StateConnected, "connected"},
		{StateDone, "done"},
		{State(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}
