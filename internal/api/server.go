package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"

	"churn-bench/internal/chaos"
	"churn-bench/internal/events"
	"churn-bench/internal/logger"
	"churn-bench/internal/metrics"
	"churn-bench/internal/pressure"
	"churn-bench/internal/scenario"
	"churn-bench/internal/worker"
)

// HeartbeatInterval はWebSocketへ集計を送る間隔
const HeartbeatInterval = time.Second

// Source はモニターが表示する実行の情報源。scenario.Engineが満たす
type Source interface {
	Running() bool
	RunID() string
	Config() scenario.Config
	Stats() *metrics.BenchStats
	PressureLevel() pressure.Level
	Workers() []worker.Summary
	ChaosStats() *chaos.Stats
}

// Server は実行中のベンチマークを監視するHTTPサーバー
type Server struct {
	addr     string
	source   Source
	bus      *events.Bus
	interval time.Duration

	mu        sync.RWMutex
	wsClients map[*websocket.Conn]bool

	handler  http.Handler
	server   *http.Server
	listener net.Listener
}

// NewServer は新しい監視サーバーを作成する。busがnilならイベントは流さない
func NewServer(addr string, source Source, bus *events.Bus) *Server {
	s := &Server{
		addr:      addr,
		source:    source,
		bus:       bus,
		interval:  HeartbeatInterval,
		wsClients: make(map[*websocket.Conn]bool),
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(s.source.Stats()))
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, reg}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/workers", s.handleWorkers)
	mux.HandleFunc("/api/presets", s.handlePresets)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))
	return mux
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr は待ち受け中のアドレスを返す。Start前は設定値を返す
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start はサーバーを開始し、ctxが終わるまでブロックする
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	go s.broadcastLoop(ctx)

	logger.Info("", "Monitor server listening on http://%s", ln.Addr())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.closeClients()
	}()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	Running      bool             `json:"running"`
	RunID        string           `json:"run_id,omitempty"`
	ScenarioName string           `json:"scenario_name,omitempty"`
	Pressure     string           `json:"pressure"`
	Workers      int              `json:"workers"`
	Stats        metrics.Snapshot `json:"stats"`
	TPS          float64          `json:"tps"`
	FailureRate  float64          `json:"failure_rate"`
	Chaos        *chaos.Stats     `json:"chaos,omitempty"`
}

func (s *Server) status() StatusResponse {
	snap := s.source.Stats().Snapshot()
	return StatusResponse{
		Running:      s.source.Running(),
		RunID:        s.source.RunID(),
		ScenarioName: s.source.Config().Name,
		Pressure:     s.source.PressureLevel().String(),
		Workers:      len(s.source.Workers()),
		Stats:        snap,
		TPS:          snap.TPS(),
		FailureRate:  snap.FailureRate(),
		Chaos:        s.source.ChaosStats(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.status())
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.source.Workers())
}

// PresetInfo はプリセット情報
type PresetInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var presets []PresetInfo
	for _, name := range scenario.ListPresets() {
		c, _ := scenario.GetPreset(name)
		presets = append(presets, PresetInfo{Name: name, Description: c.Description})
	}
	s.writeJSON(w, presets)
}

// Message はWebSocketで送る1件
type Message struct {
	Type   string          `json:"type"`
	Event  *events.Event   `json:"event,omitempty"`
	Status *StatusResponse `json:"status,omitempty"`
}

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

	// 接続直後に現在の状態を送る
	status := s.status()
	if err := websocket.JSON.Send(ws, Message{Type: "status", Status: &status}); err != nil {
		return
	}

	// クライアントが切断するまで待つ
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

// ClientCount は接続中のWebSocketクライアント数を返す
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
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

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ws := range s.wsClients {
		_ = ws.Close()
	}
}

// broadcastLoop はバスのイベントを中継し、一定間隔で集計を送る
func (s *Server) broadcastLoop(ctx context.Context) {
	var sub <-chan events.Event
	if s.bus != nil {
		sub = s.bus.Subscribe()
		defer s.bus.Unsubscribe(sub)
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
			s.broadcast(Message{Type: "event", Event: &ev})
		case <-ticker.C:
			if !s.source.Running() {
				continue
			}
			status := s.status()
			s.broadcast(Message{Type: "status", Status: &status})
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("", "Failed to encode JSON: %v", err)
	}
}
