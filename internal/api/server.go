// Package api provides the optional admin HTTP server: pool status,
// request metrics, a Prometheus endpoint and a websocket event stream.
package api

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"hello-tcp/internal/events"
	"hello-tcp/internal/logger"
	"hello-tcp/internal/metrics"
	"hello-tcp/internal/server"
	"hello-tcp/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"
)

//go:embed static/*
var staticFiles embed.FS

// Deps は管理APIが参照するコンポーネント
type Deps struct {
	Pool     *worker.Pool
	Acceptor *server.Server
	Metrics  *metrics.Metrics
	Bus      *events.Bus
	Gatherer prometheus.Gatherer
}

// Server は管理APIサーバー
type Server struct {
	addr      string
	deps      Deps
	startTime time.Time

	mu        sync.RWMutex
	wsClients map[*websocket.Conn]bool

	server *http.Server
}

// NewServer は新しい管理APIサーバーを作成する
func NewServer(addr string, deps Deps) *Server {
	return &Server{
		addr:      addr,
		deps:      deps,
		startTime: time.Now(),
		wsClients: make(map[*websocket.Conn]bool),
	}
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() (http.Handler, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/metrics", s.handleMetrics)

	if s.deps.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))

	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to get static files: %w", err)
	}
	mux.Handle("/", http.FileServer(http.FS(staticFS)))

	return mux, nil
}

// Start はサーバーを開始し、ctx がキャンセルされるまでブロックする
func (s *Server) Start(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.broadcastLoop(ctx)
	go s.forwardEvents(ctx)

	logger.Info("", "Admin API starting on http://%s", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeWebSockets()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	Listening string       `json:"listening,omitempty"`
	Accepted  uint64       `json:"accepted"`
	Uptime    string       `json:"uptime"`
	Pool      worker.Stats `json:"pool"`

	EventsDropped uint64 `json:"events_dropped"`
}

func (s *Server) status() StatusResponse {
	resp := StatusResponse{
		Uptime: time.Since(s.startTime).Truncate(time.Second).String(),
	}
	if s.deps.Acceptor != nil {
		if addr := s.deps.Acceptor.Addr(); addr != nil {
			resp.Listening = addr.String()
		}
		resp.Accepted = s.deps.Acceptor.Accepted()
	}
	if s.deps.Pool != nil {
		resp.Pool = s.deps.Pool.Stats()
	}
	if s.deps.Bus != nil {
		resp.EventsDropped = s.deps.Bus.Dropped()
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.status())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Metrics == nil {
		http.Error(w, "Metrics not available", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, s.deps.Metrics.Snapshot())
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// クライアントが切断するまで読み捨てる
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

func (s *Server) closeWebSockets() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ws := range s.wsClients {
		_ = ws.Close()
	}
}

func (s *Server) broadcast(data any) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

// broadcastLoop は1秒ごとにプールの状態を配信する
// /api/metrics の rps はこの周期のウィンドウで計算される
func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick は状態と直近ウィンドウのRPSを配信し、ウィンドウを始め直す
func (s *Server) tick() {
	msg := map[string]any{
		"type":   "status",
		"status": s.status(),
	}
	if s.deps.Metrics != nil {
		msg["rps"] = s.deps.Metrics.RPS()
		s.deps.Metrics.Reset()
	}
	s.broadcast(msg)
}

// forwardEvents はイベントバスのイベントをWebSocketに転送する
func (s *Server) forwardEvents(ctx context.Context) {
	if s.deps.Bus == nil {
		return
	}

	ch := s.deps.Bus.Subscribe()
	defer s.deps.Bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.broadcast(map[string]any{
				"type":  "event",
				"event": ev,
			})
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("", "Failed to encode JSON: %v", err)
	}
}
