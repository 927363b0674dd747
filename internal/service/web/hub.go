package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"liuproxy_rotator/internal/shared/logger"
	manager "liuproxy_rotator/proxypool"
)

// PoolStatsMessage 是推送给仪表盘的池状态
type PoolStatsMessage struct {
	Timestamp time.Time `json:"timestamp"`
	manager.Stats
}

// WebSocketMessage 定义了 WebSocket 消息的通用格式
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type client struct {
	id   string
	conn *websocket.Conn
}

// Hub maintains the set of active clients and broadcasts messages to the
// clients.
type Hub struct {
	clients    map[string]*client
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 16),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		clients:    make(map[string]*client),
	}
}

// Run 处理注册、注销和广播，直到 ctx 结束。
func (h *Hub) Run(ctx context.Context) {
	l := logger.WithComponent("Web/Hub")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				c.conn.Close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()
			l.Info().Str("client_id", c.id).Str("remote_addr", c.conn.RemoteAddr().String()).Msg("WebSocket client registered.")
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				c.conn.Close()
				l.Info().Str("client_id", c.id).Msg("WebSocket client unregistered.")
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for _, c := range h.clients {
				c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
					// 读循环会负责注销
					l.Warn().Err(err).Str("client_id", c.id).Msg("Error writing to websocket client.")
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount 返回当前连接的客户端数量
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// BroadcastPoolStats 广播池状态。广播队列满时丢弃本次更新。
func (h *Hub) BroadcastPoolStats(stats manager.Stats) {
	msg := WebSocketMessage{Type: "pool_stats", Data: PoolStatsMessage{Timestamp: time.Now().UTC(), Stats: stats}}
	jsonMsg, err := json.Marshal(msg)
	if err != nil {
		logger.Error().Err(err).Msg("Hub: Failed to marshal pool stats")
		return
	}

	select {
	case h.broadcast <- jsonMsg:
	default:
	}
}

// RunStatsTicker 每隔 interval 广播一次 source 的状态，直到 ctx 结束。
func (h *Hub) RunStatsTicker(ctx context.Context, interval time.Duration, source PoolController) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.BroadcastPoolStats(source.Stats())
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWs handles websocket requests from the peer.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to upgrade websocket")
		return
	}
	c := &client{id: uuid.NewString(), conn: conn}
	select {
	case hub.register <- c:
	case <-hub.done:
		conn.Close()
		return
	}

	// 读循环仅用于检测客户端断开。
	go func() {
		defer func() {
			select {
			case hub.unregister <- c:
			case <-hub.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.Warn().Err(err).Str("client_id", c.id).Msg("Unexpected websocket close error")
				}
				break
			}
		}
	}()
}
