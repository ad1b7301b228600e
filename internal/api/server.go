package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"kvload/internal/client"
	"kvload/internal/events"
	"kvload/internal/logger"
)

// DefaultBroadcastInterval はメトリクスを配信する間隔
const DefaultBroadcastInterval = 1 * time.Second

// Server はステータスAPIサーバー
type Server struct {
	addr     string
	client   *client.Client
	eventBus *events.Bus
	interval time.Duration

	mu        sync.RWMutex
	wsClients map[*websocket.Conn]struct{}

	server *http.Server
}

// NewServer は新しいAPIサーバーを作成する
func NewServer(addr string, c *client.Client, bus *events.Bus) *Server {
	return &Server{
		addr:      addr,
		client:    c,
		eventBus:  bus,
		interval:  DefaultBroadcastInterval,
		wsClients: make(map[*websocket.Conn]struct{}),
	}
}

// Handler はルーティング済みのハンドラーを返す
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))

	return mux
}

// Start はサーバーを開始し、ctx が終わるまでブロックする
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.broadcastLoop(ctx)

	logger.Info("", "Status server starting on http://%s", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	Running           bool  `json:"running"`
	Clients           int   `json:"clients"`
	ActiveSessions    int64 `json:"active_sessions"`
	ConnectedSessions int64 `json:"connected_sessions"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m := s.client.Metrics()
	s.writeJSON(w, StatusResponse{
		Running:           s.client.IsRunning(),
		Clients:           s.client.NumClients(),
		ActiveSessions:    m.ActiveSessions(),
		ConnectedSessions: m.ConnectedSessions(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, s.client.Metrics().Snapshot())
}

// SessionInfo はセッション情報
type SessionInfo struct {
	ID         int    `json:"id"`
	State      string `json:"state"`
	Completed  int    `json:"completed"`
	Reconnects int    `json:"reconnects"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := s.client.Sessions()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, SessionInfo{
			ID:         sess.ID(),
			State:      sess.State().String(),
			Completed:  sess.Completed(),
			Reconnects: sess.Reconnects(),
		})
	}

	s.writeJSON(w, infos)
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// Keep connection alive
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

// WSClientCount は接続中のwebsocketクライアント数を返す
func (s *Server) WSClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

// Message はwebsocketで送るメッセージ
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func (s *Server) broadcast(msg Message) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(data))
	}
}

// broadcastLoop はイベントをそのまま、メトリクスを一定間隔で配信する
func (s *Server) broadcastLoop(ctx context.Context) {
	var sub <-chan events.Event
	if s.eventBus != nil {
		sub = s.eventBus.Subscribe()
		defer s.eventBus.Unsubscribe(sub)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				sub = nil
				continue
			}
			s.broadcast(Message{Type: "event", Payload: ev})
		case <-ticker.C:
			if !s.client.IsRunning() {
				continue
			}
			s.broadcast(Message{Type: "metrics", Payload: s.client.Metrics().Snapshot()})
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("", "Failed to encode JSON: %v", err)
	}
}
