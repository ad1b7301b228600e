package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/multierr"

	"kvload/internal/events"
	"kvload/internal/kvtest"
)

func startServer(t *testing.T, config kvtest.Config) *kvtest.Server {
	t.Helper()
	srv, err := kvtest.Start(config)
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func testConfig(addr string, clients, iterations int) Config {
	config := DefaultConfig()
	config.NumClients = clients
	config.Session.Addr = addr
	config.Session.Iterations = iterations
	config.Session.Connector.RetryInterval = 20 * time.Millisecond
	return config
}

func TestDefaultClientConfig(t *testing.T) {
	config := DefaultConfig()

	if config.NumClients != 1 {
		t.Errorf("expected 1 client, got %d", config.NumClients)
	}
	if config.Session.Iterations != 10000 {
		t.Errorf("expected 10000 iterations, got %d", config.Session.Iterations)
	}
}

func TestNewClient(t *testing.T) {
	c := New(Config{NumClients: 0}, nil)

	if c.IsRunning() {
		t.Error("expected client to not be running initially")
	}
	if c.NumClients() != 1 {
		t.Errorf("expected non-positive count to default to 1, got %d", c.NumClients())
	}
}

func TestClientRunConcurrentSessions(t *testing.T) {
	// 3接続そろうまで応答しないので、並行でなければ終わらない
	srv := startServer(t, kvtest.Config{HoldUntil: 3})

	c := New(testConfig(srv.Addr(), 3, 20), nil)

	bus := events.NewBus()
	sub := bus.Subscribe()
	c.SetEventBus(bus)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if srv.Accepted() != 3 {
		t.Errorf("expected exactly 3 connections, got %d", srv.Accepted())
	}
	if srv.MaxConcurrent() != 3 {
		t.Errorf("expected 3 concurrent connections, got %d", srv.MaxConcurrent())
	}
	if srv.Requests() != 60 {
		t.Errorf("expected 60 requests, got %d", srv.Requests())
	}

	snap := c.Metrics().Snapshot()
	if snap.SuccessRequests != 60 {
		t.Errorf("expected 60 successful requests, got %d", snap.SuccessRequests)
	}
	if snap.ActiveSessions != 0 {
		t.Errorf("expected no active sessions after Run, got %d", snap.ActiveSessions)
	}

	finished := 0
	for len(sub) > 0 {
		if (<-sub).Type == events.EventSessionFinished {
			finished++
		}
	}
	if finished != 3 {
		t.Errorf("expected 3 finished events, got %d", finished)
	}

	ids := make(map[int]bool)
	for _, s := range c.Sessions() {
		ids[s.ID()] = true
		if s.Completed() != 20 {
			t.Errorf("session %d completed %d iterations, want 20", s.ID(), s.Completed())
		}
	}
	if len(ids) != 3 || !ids[0] || !ids[2] {
		t.Errorf("unexpected session ids %v", ids)
	}
}

func TestClientRunCombinesErrors(t *testing.T) {
	srv := startServer(t, kvtest.Config{})
	addr := srv.Addr()
	_ = srv.Close()

	config := testConfig(addr, 2, 5)
	config.Session.Connector.MaxAttempts = 1
	c := New(config, nil)

	err := c.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error when the server never answers")
	}
	if got := len(multierr.Errors(err)); got != 2 {
		t.Errorf("expected 2 combined errors, got %d: %v", got, err)
	}
}

func TestClientRunCancelled(t *testing.T) {
	srv := startServer(t, kvtest.Config{HoldUntil: 100})

	c := New(testConfig(srv.Addr(), 2, 10), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := c.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Run should stop promptly after the context ends")
	}
	if c.IsRunning() {
		t.Error("expected client to not be running after Run returns")
	}
}

func TestClientRunTwiceConcurrently(t *testing.T) {
	srv := startServer(t, kvtest.Config{HoldUntil: 100})

	c := New(testConfig(srv.Addr(), 1, 10), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	for !c.IsRunning() {
		time.Sleep(time.Millisecond)
	}
	if err := c.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}

	cancel()
	<-done
}
