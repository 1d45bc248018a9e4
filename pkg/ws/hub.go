package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// MessageType WebSocket 消息类型
const (
	MsgTypeInit           = "init"            // 初始化数据（当前会话状态）
	MsgTypePositionUpdate = "position_update" // 位置与累计量更新
	MsgTypeSegmentPainted = "segment_painted" // 新路段涂色
	MsgTypeStateChange    = "state_change"    // 会话状态迁移
	MsgTypeError          = "error"           // 错误消息
)

// Message WebSocket 消息结构
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// envelope 按用户投递的消息
type envelope struct {
	userID int64
	data   []byte
}

// redisEnvelope 跨实例转发的消息
// Instance 标记发布方，订阅端据此跳过本实例已投递过的消息
type redisEnvelope struct {
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

// Client WebSocket 客户端
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID int64
	send   chan []byte
}

// Hub WebSocket 连接管理中心
// 连接按用户分组，消息只投递给同一用户的连接；
// 配置 Redis 后经 pub/sub 转发到其它实例
type Hub struct {
	logger     *zap.Logger
	redis      *redis.Client
	instanceID string
	clients    map[int64]map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	// 初始数据提供者回调
	getInitData func(userID int64) interface{}
}

// NewHub 创建 Hub
func NewHub(logger *zap.Logger, redisClient *redis.Client) *Hub {
	h := &Hub{
		logger:     logger,
		redis:      redisClient,
		instanceID: uuid.NewString(),
		clients:    make(map[int64]map[*Client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

// SetInitDataProvider 设置初始数据提供者
func (h *Hub) SetInitDataProvider(provider func(userID int64) interface{}) {
	h.getInitData = provider
}

// Run 运行 Hub
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.userID] == nil {
				h.clients[client.userID] = make(map[*Client]bool)
			}
			h.clients[client.userID][client] = true
			total := h.clientCountLocked()
			h.mu.Unlock()
			h.logger.Info("WebSocket client connected",
				zap.Int64("user_id", client.userID),
				zap.Int("total_clients", total))

			// 发送初始数据
			h.sendInitData(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if userClients, ok := h.clients[client.userID]; ok {
				if _, ok := userClients[client]; ok {
					delete(userClients, client)
					close(client.send)
					if len(userClients) == 0 {
						delete(h.clients, client.userID)
					}
				}
			}
			total := h.clientCountLocked()
			h.mu.Unlock()
			h.logger.Info("WebSocket client disconnected", zap.Int("total_clients", total))

		case env := <-h.broadcast:
			h.mu.Lock()
			userClients := h.clients[env.userID]
			for client := range userClients {
				select {
				case client.send <- env.data:
				default:
					// 慢消费者，关闭连接
					close(client.send)
					delete(userClients, client)
				}
			}
			if len(userClients) == 0 {
				delete(h.clients, env.userID)
			}
			h.mu.Unlock()
		}
	}
}

// sendInitData 发送初始数据给新连接的客户端
func (h *Hub) sendInitData(client *Client) {
	if h.getInitData == nil {
		h.logger.Warn("No init data provider set")
		return
	}

	initData := h.getInitData(client.userID)
	if initData == nil {
		return
	}

	msg := Message{
		Type: MsgTypeInit,
		Data: initData,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal init data", zap.Error(err))
		return
	}

	select {
	case client.send <- data:
		h.logger.Debug("Sent init data to client")
	default:
		h.logger.Warn("Failed to send init data, client buffer full")
	}
}

// BroadcastToUser 广播结构化消息给指定用户的所有连接
func (h *Hub) BroadcastToUser(userID int64, msgType string, data interface{}) {
	msg := Message{
		Type: msgType,
		Data: data,
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.broadcast <- envelope{userID: userID, data: jsonData}

	if h.redis != nil {
		h.publishRedis(userID, jsonData)
	}
}

// publishRedis 发布消息到 Redis 供其它实例转发
func (h *Hub) publishRedis(userID int64, data []byte) {
	payload, err := json.Marshal(redisEnvelope{Instance: h.instanceID, Data: data})
	if err != nil {
		h.logger.Error("Failed to marshal redis envelope", zap.Error(err))
		return
	}

	if err := h.redis.Publish(context.Background(), redisChannel(userID), payload).Err(); err != nil {
		h.logger.Warn("Redis publish failed", zap.Error(err))
	}
}

// subscribeRedis 订阅其它实例发布的消息并投递给本地连接
func (h *Hub) subscribeRedis() {
	pubsub := h.redis.PSubscribe(context.Background(), "tracking:*:broadcast")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		userID := userIDFromChannel(msg.Channel)
		if userID == 0 {
			continue
		}

		var env redisEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			h.logger.Warn("Invalid redis payload", zap.Error(err))
			continue
		}
		if env.Instance == h.instanceID {
			// 本实例发布的消息已在内存内投递
			continue
		}

		h.broadcast <- envelope{userID: userID, data: env.Data}
	}
}

// ClientCount 获取客户端数量
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clientCountLocked()
}

func (h *Hub) clientCountLocked() int {
	total := 0
	for _, userClients := range h.clients {
		total += len(userClients)
	}
	return total
}

func redisChannel(userID int64) string {
	return fmt.Sprintf("tracking:%d:broadcast", userID)
}

func userIDFromChannel(ch string) int64 {
	// tracking:{user_id}:broadcast
	const prefix = "tracking:"
	const suffix = ":broadcast"
	if len(ch) <= len(prefix)+len(suffix) {
		return 0
	}
	id, err := strconv.ParseInt(ch[len(prefix):len(ch)-len(suffix)], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// NewClient 创建客户端
func NewClient(hub *Hub, conn *websocket.Conn, userID int64) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, 256),
	}
}

// Register 注册客户端
func (c *Client) Register() {
	c.hub.register <- c
}

// Unregister 注销客户端
func (c *Client) Unregister() {
	c.hub.unregister <- c
}

// ReadPump 读取消息（保持连接活跃）
func (c *Client) ReadPump() {
	defer func() {
		c.Unregister()
		c.conn.Close()
	}()

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		// 简化版不处理客户端消息，仅保持连接
	}
}

// WritePump 发送消息
func (c *Client) WritePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			break
		}
	}
}
