package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventType 事件类型
type EventType string

const (
	EventClassification EventType = "classification"
	EventModelReloaded  EventType = "model_reloaded"
	EventHeartbeat      EventType = "heartbeat"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendQueue    = 64
)

// Message 推送给客户端的消息结构
type Message struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// ClientMessage 客户端发来的订阅消息
type ClientMessage struct {
	Type  string    `json:"type"` // subscribe, unsubscribe, ping
	Topic EventType `json:"topic"`
}

// ClassificationEvent classification 事件内容
type ClassificationEvent struct {
	Category     string  `json:"category"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"model_version"`
	Cached       bool    `json:"cached"`
	TextLength   int     `json:"text_length"`
}

// client WebSocket客户端
type client struct {
	conn     *websocket.Conn
	send     chan []byte
	clientID string

	subsLock      sync.RWMutex
	subscriptions map[EventType]bool // 为空表示接收全部事件
}

func (c *client) wants(t EventType) bool {
	c.subsLock.RLock()
	defer c.subsLock.RUnlock()

	if len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[t]
}

type outbound struct {
	eventType EventType
	payload   []byte
}

// direct 只发给单个客户端的消息
type direct struct {
	client  *client
	payload []byte
}

// HeartbeatEvent 回复客户端 ping 的内容
type HeartbeatEvent struct {
	Clients int `json:"clients"`
}

// Hub WebSocket中心，单个协程维护客户端集合
type Hub struct {
	clients    map[*client]bool
	broadcast  chan outbound
	replies    chan direct
	register   chan *client
	unregister chan *client
	upgrader   websocket.Upgrader
	logger     *zap.Logger

	count   int
	countMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub 创建WebSocket中心。allowedOrigins 为空或包含 "*" 时不检查来源。
func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan outbound, 256),
		replies:    make(chan direct, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.Named("ws"),
		ctx:    ctx,
		cancel: cancel,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = true
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Run 启动WebSocket中心，直到 Stop 被调用
func (h *Hub) Run() {
	defer h.logger.Info("websocket hub stopped")

	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.setCount(len(h.clients))
			h.logger.Debug("client connected", zap.String("client_id", c.clientID), zap.Int("total", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.setCount(len(h.clients))
			h.logger.Debug("client disconnected", zap.String("client_id", c.clientID), zap.Int("total", len(h.clients)))

		case msg := <-h.broadcast:
			for c := range h.clients {
				if !c.wants(msg.eventType) {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					// 发送队列已满，断开慢客户端
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.setCount(len(h.clients))

		case r := <-h.replies:
			if !h.clients[r.client] {
				continue
			}
			select {
			case r.client.send <- r.payload:
			default:
			}

		case <-h.ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.setCount(0)
			return
		}
	}
}

// Stop 停止WebSocket中心
func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) setCount(n int) {
	h.countMu.Lock()
	h.count = n
	h.countMu.Unlock()
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.countMu.RLock()
	defer h.countMu.RUnlock()
	return h.count
}

// ServeHTTP 处理WebSocket连接
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn:          conn,
		send:          make(chan []byte, sendQueue),
		clientID:      uuid.NewString(),
		subscriptions: make(map[EventType]bool),
	}

	select {
	case h.register <- c:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(h)
}

func (h *Hub) encode(eventType EventType, data interface{}) ([]byte, bool) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Warn("encode event", zap.String("type", string(eventType)), zap.Error(err))
		return nil, false
	}
	message, err := json.Marshal(Message{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	})
	if err != nil {
		h.logger.Warn("encode message", zap.Error(err))
		return nil, false
	}
	return message, true
}

// Publish 广播事件；队列满时丢弃，不阻塞调用方
func (h *Hub) Publish(eventType EventType, data interface{}) {
	message, ok := h.encode(eventType, data)
	if !ok {
		return
	}

	select {
	case h.broadcast <- outbound{eventType: eventType, payload: message}:
	default:
		h.logger.Warn("websocket broadcast queue is full, dropping message", zap.String("type", string(eventType)))
	}
}

// writePump WebSocket写入泵
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// heartbeat 回复 ping，连接已注销时丢弃
func (h *Hub) heartbeat(c *client) {
	message, ok := h.encode(EventHeartbeat, HeartbeatEvent{Clients: h.ClientCount()})
	if !ok {
		return
	}
	select {
	case h.replies <- direct{client: c, payload: message}:
	case <-h.ctx.Done():
	}
}

// readPump WebSocket读取泵，处理订阅和 ping 消息
func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error", zap.String("client_id", c.clientID), zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			h.heartbeat(c)
			continue
		}
		c.handleClientMessage(msg)
	}
}

// handleClientMessage 处理客户端消息
func (c *client) handleClientMessage(msg ClientMessage) {
	c.subsLock.Lock()
	defer c.subsLock.Unlock()

	switch msg.Type {
	case "subscribe":
		c.subscriptions[msg.Topic] = true
	case "unsubscribe":
		delete(c.subscriptions, msg.Topic)
	}
}
