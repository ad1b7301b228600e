// Package kvtest runs an in-process server that speaks the compressed
// $get/$set protocol, for exercising the load client in tests.
package kvtest

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/net/nettest"

	"kvload/internal/codec"
	"kvload/internal/command"
	"kvload/internal/logger"
)

// Config はテスト用サーバーの設定
type Config struct {
	Framer codec.Framer // nil で raw フレーミング
	// HoldUntil が正なら、その数の接続を受け付けるまで応答を返さない
	HoldUntil int
}

// Server はテスト用のサーバー
type Server struct {
	config Config
	ln     net.Listener
	store  *Store

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup

	accepted      atomic.Int64
	active        atomic.Int64
	maxConcurrent atomic.Int64
	requests      atomic.Int64
	badRequests   atomic.Int64

	gate     chan struct{}
	gateOnce sync.Once
	closed   atomic.Bool
}

// Start はループバックの空きポートでサーバーを起動する
func Start(config Config) (*Server, error) {
	ln, err := nettest.NewLocalListener("tcp")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return Serve(ln, config), nil
}

// Serve は既存のリスナーでサーバーを起動する
func Serve(ln net.Listener, config Config) *Server {
	if config.Framer == nil {
		config.Framer = codec.NewRawFramer(0)
	}
	s := &Server{
		config: config,
		ln:     ln,
		store:  NewStore(),
		conns:  make(map[net.Conn]struct{}),
		gate:   make(chan struct{}),
	}
	if config.HoldUntil <= 0 {
		s.openGate()
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return s
}

// Addr はサーバーのアドレスを返す
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Store はサーバーのStoreを返す
func (s *Server) Store() *Store {
	return s.store
}

func (s *Server) openGate() {
	s.gateOnce.Do(func() { close(s.gate) })
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if !s.closed.Load() {
				logger.Warn("", "kvtest: accept failed: %v", err)
			}
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		n := s.accepted.Inc()
		active := s.active.Inc()
		for {
			peak := s.maxConcurrent.Load()
			if active <= peak || s.maxConcurrent.CAS(peak, active) {
				break
			}
		}
		if s.config.HoldUntil > 0 && n >= int64(s.config.HoldUntil) {
			s.openGate()
		}

		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.active.Dec()
		_ = conn.Close()
	}()

	for {
		msg, err := s.config.Framer.ReadMessage(conn)
		if err != nil {
			return
		}

		line, err := codec.DecodeText(msg)
		if err != nil {
			s.badRequests.Inc()
			logger.Warn("", "kvtest: decompression error: %v", err)
			continue
		}
		if line == "" {
			continue
		}
		s.requests.Inc()

		reply := s.apply(line)

		<-s.gate

		payload, err := codec.EncodeText(reply)
		if err != nil {
			return
		}
		if err := s.config.Framer.WriteMessage(conn, payload); err != nil {
			return
		}
	}
}

// apply はコマンドを実行し応答テキストを返す
func (s *Server) apply(line string) string {
	cmd, err := command.Parse(line)
	if err != nil {
		s.badRequests.Inc()
		if strings.HasPrefix(line, "$set ") {
			return "Invalid $set format\n"
		}
		return "Unknown command\n"
	}

	switch cmd.Kind {
	case command.KindSet:
		value := fmt.Sprint(cmd.Value)
		st := s.store.Set(cmd.Key, value)
		return fmt.Sprintf("Set %s=%s\nreads=%d\nwrites=%d\n", cmd.Key, value, st.Reads, st.Writes)
	default:
		value, st := s.store.Get(cmd.Key)
		return fmt.Sprintf("%s=%s\nreads=%d\nwrites=%d\n", cmd.Key, value, st.Reads, st.Writes)
	}
}

// DropConnections は現在の全接続を強制的に閉じ、閉じた数を返す
func (s *Server) DropConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.conns {
		_ = conn.Close()
	}
	return len(s.conns)
}

// Accepted は受け付けた接続の累計を返す
func (s *Server) Accepted() int64 { return s.accepted.Load() }

// Active は現在の接続数を返す
func (s *Server) Active() int64 { return s.active.Load() }

// MaxConcurrent は同時接続数の最大値を返す
func (s *Server) MaxConcurrent() int64 { return s.maxConcurrent.Load() }

// Requests は処理したコマンド数を返す
func (s *Server) Requests() int64 { return s.requests.Load() }

// BadRequests は解釈できなかったメッセージ数を返す
func (s *Server) BadRequests() int64 { return s.badRequests.Load() }

// Close はリスナーと全接続を閉じ、ハンドラーの終了を待つ
func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	err := s.ln.Close()
	s.openGate()
	s.DropConnections()
	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
