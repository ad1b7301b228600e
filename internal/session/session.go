// Package session runs one simulated client: a connection, a stream of
// generated commands, and a reconnect whenever the transport fails.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"

	"kvload/internal/codec"
	"kvload/internal/command"
	"kvload/internal/connector"
	"kvload/internal/events"
	"kvload/internal/logger"
	"kvload/internal/metrics"
)

// DefaultIterations は1セッションあたりのコマンド数
const DefaultIterations = 10000

// DefaultAddr は接続先のデフォルトアドレス
const DefaultAddr = "localhost:8888"

// State はセッションの状態
type State int32

const (
	StateReconnecting State = iota
	StateConnected
	StateDone
)

func (s State) String() string {
	switch s {
	case StateReconnecting:
		return "reconnecting"
	case StateConnected:
		return "connected"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

var errNotConnected = errors.New("not connected")

// TransportError は接続を作り直すべき失敗を表す
type TransportError struct {
	Op  string // send, receive, decode
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport は err が TransportError を含むかどうかを返す
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Config はセッションの設定
type Config struct {
	Addr       string
	Iterations int
	IOTimeout  time.Duration // 1往復の読み書き期限（0で無制限）
	Framer     codec.Framer  // nil で raw フレーミング
	Keys       []string
	GetRatio   float64
	Seed       int64 // 0 で時刻から決める
	Connector  connector.Config
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Addr:       DefaultAddr,
		Iterations: DefaultIterations,
		Keys:       command.DefaultKeys,
		GetRatio:   command.DefaultGetRatio,
		Connector:  connector.DefaultConfig(),
	}
}

// Session は1クライアント分の接続とコマンドループ
type Session struct {
	id        int
	name      string
	config    Config
	framer    codec.Framer
	gen       *command.Generator
	connector *connector.Connector
	out       io.Writer

	metrics  *metrics.Metrics
	eventBus *events.Bus

	mu   sync.Mutex
	conn net.Conn

	state      atomic.Int32
	completed  atomic.Int64
	reconnects atomic.Int64
}

// New は新しいセッションを作成する。応答は out に1行ずつ書かれる。
func New(id int, config Config, out io.Writer) *Session {
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	if config.Iterations <= 0 {
		config.Iterations = DefaultIterations
	}
	framer := config.Framer
	if framer == nil {
		framer = codec.NewRawFramer(0)
	}
	// 同じ Seed でもセッションごとに異なる系列にする
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	seed += int64(id)
	if out == nil {
		out = io.Discard
	}

	name := strconv.Itoa(id)
	return &Session{
		id:        id,
		name:      name,
		config:    config,
		framer:    framer,
		gen:       command.NewGenerator(seed, config.Keys, config.GetRatio),
		connector: connector.New(name, config.Connector),
		out:       out,
		metrics:   metrics.New(),
	}
}

// SetMetrics は記録先のメトリクスを設定する
func (s *Session) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetEventBus はイベントバスを設定する
func (s *Session) SetEventBus(bus *events.Bus) {
	s.eventBus = bus
}

func (s *Session) publishEvent(event events.Event) {
	if s.eventBus != nil {
		s.eventBus.Publish(event)
	}
}

// ID はセッションIDを返す
func (s *Session) ID() int { return s.id }

// State は現在の状態を返す
func (s *Session) State() State { return State(s.state.Load()) }

// Completed は実行済みの反復回数を返す
func (s *Session) Completed() int { return int(s.completed.Load()) }

// Reconnects は再接続した回数を返す
func (s *Session) Reconnects() int { return int(s.reconnects.Load()) }

// Run は Iterations 回コマンドを送る。
// 転送エラーでは再接続して続行し、それ以外のエラーはそのまま返す。
func (s *Session) Run(ctx context.Context) error {
	s.metrics.SessionStarted()
	defer s.metrics.SessionFinished()
	defer s.closeConn()

	s.publishEvent(events.NewSessionStartedEvent(s.id, s.config.Addr))

	// ブロック中の Read を ctx 終了時に解除する
	stop := context.AfterFunc(ctx, s.closeConn)
	defer stop()

	if err := s.connect(ctx, 0); err != nil {
		return s.fail(0, err)
	}

	for i := 0; i < s.config.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return s.fail(i, err)
		}

		cmd := s.gen.Next()
		start := time.Now()
		reply, err := s.Exchange(ctx, cmd)
		latency := time.Since(start)
		s.completed.Inc()

		if err == nil {
			s.metrics.RecordSuccess(cmd.Kind, latency)
			fmt.Fprintf(s.out, "[Client %d] %s\n", s.id, strings.TrimSpace(reply))
			continue
		}
		s.metrics.RecordFailure(cmd.Kind, latency)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return s.fail(i, ctxErr)
		}
		if !IsTransport(err) {
			return s.fail(i, err)
		}

		logger.Warn(s.name, "Reconnecting due to error: %v", err)
		s.publishEvent(events.NewReconnectingEvent(s.id, i, err))
		s.closeConn()
		s.reconnects.Inc()
		s.metrics.RecordReconnect()

		if err := s.connect(ctx, i+1); err != nil {
			return s.fail(i, err)
		}
	}

	s.state.Store(int32(StateDone))
	s.publishEvent(events.NewSessionFinishedEvent(s.id, s.Completed(), s.Reconnects()))
	logger.Debug(s.name, "Session finished (%d iterations, %d reconnects)", s.Completed(), s.Reconnects())
	return nil
}

func (s *Session) fail(iteration int, err error) error {
	s.state.Store(int32(StateDone))
	s.publishEvent(events.NewSessionFailedEvent(s.id, iteration, err))
	return fmt.Errorf("client %d: %w", s.id, err)
}

// connect は Reconnecting 状態から接続を確立して Connected に移る
func (s *Session) connect(ctx context.Context, iteration int) error {
	s.state.Store(int32(StateReconnecting))

	conn, err := s.connector.Connect(ctx, s.config.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.state.Store(int32(StateConnected))
	s.metrics.Connected()
	s.publishEvent(events.NewConnectedEvent(s.id, s.config.Addr, iteration))
	return nil
}

func (s *Session) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		s.metrics.Disconnected()
	}
}

func (s *Session) currentConn() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Exchange はコマンドを1往復させ、展開済みの応答を返す。
// 接続を作り直すべき失敗は *TransportError で返す。
func (s *Session) Exchange(ctx context.Context, cmd command.Command) (string, error) {
	payload, err := codec.EncodeText(cmd.String())
	if err != nil {
		return "", fmt.Errorf("encode %q: %w", cmd.String(), err)
	}

	conn := s.currentConn()
	if conn == nil {
		return "", &TransportError{Op: "send", Err: errNotConnected}
	}

	if deadline, ok := s.deadline(ctx); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return "", &TransportError{Op: "send", Err: err}
		}
	}

	if err := s.framer.WriteMessage(conn, payload); err != nil {
		return "", &TransportError{Op: "send", Err: err}
	}

	data, err := s.framer.ReadMessage(conn)
	if err != nil {
		return "", &TransportError{Op: "receive", Err: err}
	}

	reply, err := codec.DecodeText(data)
	if err != nil {
		return "", &TransportError{Op: "decode", Err: err}
	}
	return reply, nil
}

func (s *Session) deadline(ctx context.Context) (time.Time, bool) {
	deadline, ok := ctx.Deadline()
	if s.config.IOTimeout > 0 {
		d := time.Now().Add(s.config.IOTimeout)
		if !ok || d.Before(deadline) {
			deadline, ok = d, true
		}
	}
	return deadline, ok
}
