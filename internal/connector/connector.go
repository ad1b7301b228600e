// Package connector dials the server and keeps retrying until it answers.
package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/atomic"

	"kvload/internal/logger"
)

// ErrGaveUp は MaxAttempts 回失敗した場合に返る
var ErrGaveUp = errors.New("connector: gave up")

// Config はConnectorの設定
type Config struct {
	RetryInterval time.Duration // 再試行間隔
	MaxAttempts   int           // 最大試行回数（0で無制限）
	DialTimeout   time.Duration // 1回のダイヤルのタイムアウト（0でOS既定）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		RetryInterval: 1 * time.Second,
		MaxAttempts:   0,
		DialTimeout:   0,
	}
}

// Connector はTCP接続を確立する
type Connector struct {
	config   Config
	clientID string
	dialer   net.Dialer

	attempts atomic.Uint64
	failures atomic.Uint64
}

// New は新しいConnectorを作成する。clientID はログ出力にのみ使う。
func New(clientID string, config Config) *Connector {
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultConfig().RetryInterval
	}
	return &Connector{
		config:   config,
		clientID: clientID,
		dialer:   net.Dialer{Timeout: config.DialTimeout},
	}
}

// Connect はデフォルト設定で addr に接続する
func Connect(ctx context.Context, addr string) (net.Conn, error) {
	return New("", DefaultConfig()).Connect(ctx, addr)
}

// Connect は接続できるまで RetryInterval ごとに再試行する。
// ctx の終了か MaxAttempts の超過以外では失敗しない。
func (c *Connector) Connect(ctx context.Context, addr string) (net.Conn, error) {
	for attempt := 1; ; attempt++ {
		c.attempts.Inc()

		conn, err := c.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			if attempt > 1 {
				logger.Info(c.clientID, "Connected to %s after %d attempts", addr, attempt)
			}
			return conn, nil
		}
		c.failures.Inc()

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if c.config.MaxAttempts > 0 && attempt >= c.config.MaxAttempts {
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrGaveUp, attempt, err)
		}

		logger.Warn(c.clientID, "Waiting for server... (%v)", err)

		timer := time.NewTimer(c.config.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Attempts は累計のダイヤル試行回数を返す
func (c *Connector) Attempts() uint64 {
	return c.attempts.Load()
}

// Failures は累計のダイヤル失敗回数を返す
func (c *Connector) Failures() uint64 {
	return c.failures.Load()
}
