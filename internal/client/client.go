// Package client fans out a fixed number of load sessions against the server.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"kvload/internal/events"
	"kvload/internal/logger"
	"kvload/internal/metrics"
	"kvload/internal/session"
	"kvload/internal/worker"
)

// ErrAlreadyRunning は実行中に Run を呼んだ場合に返る
var ErrAlreadyRunning = errors.New("client is already running")

// Config はClientの設定
type Config struct {
	NumClients int            // 同時に動かすセッション数
	Session    session.Config // 各セッションの設定
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		NumClients: 1,
		Session:    session.DefaultConfig(),
	}
}

// Client は複数セッションを並行に実行する負荷生成器
type Client struct {
	config   Config
	out      io.Writer
	metrics  *metrics.Metrics
	eventBus *events.Bus

	running atomic.Bool

	mu       sync.RWMutex
	sessions []*session.Session
}

// New は新しいClientを作成する。応答行は out に書かれる。
func New(config Config, out io.Writer) *Client {
	if config.NumClients <= 0 {
		config.NumClients = 1
	}
	return &Client{
		config:  config,
		out:     out,
		metrics: metrics.New(),
	}
}

// SetEventBus はイベントバスを設定する
func (c *Client) SetEventBus(bus *events.Bus) {
	c.eventBus = bus
}

// Run は NumClients 個のセッションを起動し、全て終わるまで待つ。
// 各セッションのエラーはまとめて返す。
func (c *Client) Run(ctx context.Context) error {
	if c.running.Swap(true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	n := c.config.NumClients
	sessions := make([]*session.Session, n)
	for i := range n {
		s := session.New(i, c.config.Session, c.out)
		s.SetMetrics(c.metrics)
		s.SetEventBus(c.eventBus)
		sessions[i] = s
	}

	c.mu.Lock()
	c.sessions = sessions
	c.mu.Unlock()

	// ワーカー数とセッション数を一致させ、全セッションを同時に動かす
	pool := worker.NewPool(n)
	pool.Start(ctx)
	defer pool.Stop()

	logger.Info("", "Client started (clients: %d, iterations: %d, addr: %s)",
		n, c.config.Session.Iterations, c.config.Session.Addr)

	var (
		errMu sync.Mutex
		errs  error
	)
	record := func(err error) {
		errMu.Lock()
		errs = multierr.Append(errs, err)
		errMu.Unlock()
	}

	for _, s := range sessions {
		submitted := pool.Submit(func(ctx context.Context) {
			if err := s.Run(ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Error(fmt.Sprint(s.ID()), "Session failed: %v", err)
				}
				record(err)
			}
		})
		if !submitted {
			record(fmt.Errorf("client %d: not started: %w", s.ID(), context.Cause(ctx)))
		}
	}

	pool.Wait()

	snap := c.metrics.Snapshot()
	logger.Info("", "Client finished (requests: %d, failed: %d, reconnects: %d, elapsed: %v)",
		snap.TotalRequests, snap.FailedRequests, snap.Reconnects, snap.Elapsed.Round(time.Millisecond))

	return errs
}

// Metrics はメトリクスを返す
func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

// IsRunning は実行中かどうかを返す
func (c *Client) IsRunning() bool {
	return c.running.Load()
}

// NumClients はセッション数を返す
func (c *Client) NumClients() int {
	return c.config.NumClients
}

// Sessions は最後の Run で作成したセッションを返す
func (c *Client) Sessions() []*session.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*session.Session(nil), c.sessions...)
}
