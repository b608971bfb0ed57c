package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/seomaster/report_server/internal/pkg/metrics"
	"github.com/seomaster/report_server/internal/pkg/pubsub"
)

type Hub struct {
	// 每个用户可以有多个连接（多标签页、重连等场景）
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
	logger  zerolog.Logger
}

type Client struct {
	UserID string
	Conn   *websocket.Conn
	mu     sync.Mutex // 写锁，防止并发写入
}

type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger.With().Str("component", "ws_hub").Logger(),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.UserID] == nil {
		h.clients[client.UserID] = make(map[*Client]struct{})
	}
	h.clients[client.UserID][client] = struct{}{}
	metrics.WSConnections.Inc()

	h.logger.Debug().
		Str("user_id", client.UserID).
		Int("user_conns", len(h.clients[client.UserID])).
		Msg("client connected")
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.clients[client.UserID]
	if !ok {
		return
	}
	if _, ok := conns[client]; !ok {
		return
	}
	delete(conns, client)
	if len(conns) == 0 {
		delete(h.clients, client.UserID)
	}
	metrics.WSConnections.Dec()
	h.logger.Debug().Str("user_id", client.UserID).Msg("client disconnected")
}

// SendToUser 向指定用户的所有连接发送消息
func (h *Hub) SendToUser(userID string, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	conns, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return nil
	}
	// 复制一份引用，避免长时间持锁
	clients := make([]*Client, 0, len(conns))
	for c := range conns {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		err := c.Conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			h.logger.Warn().Err(err).Str("user_id", userID).Msg("write to client failed")
		}
	}
	return nil
}

// ForwardStatus 把状态变化推给报告所属用户
func (h *Hub) ForwardStatus(msg *pubsub.StatusMessage) {
	if msg.UserID == "" {
		return
	}
	_ = h.SendToUser(msg.UserID, &Message{Type: msg.Type, Data: msg})
}

// IsOnline 检查用户是否在线
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns, ok := h.clients[userID]
	return ok && len(conns) > 0
}

// ConnectionCount 获取在线连接数
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.clients {
		total += len(conns)
	}
	return total
}
