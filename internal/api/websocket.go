// internal/api/websocket.go
package api

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Corphon/StoryWizard/internal/metrics"
	"github.com/Corphon/StoryWizard/internal/models"
	"github.com/Corphon/StoryWizard/internal/utils"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	sendBuffer   = 32
)

// WebSocketClient 表示一个订阅会话状态的连接
type WebSocketClient struct {
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	lastPing  atomic.Int64 // 最后一次活跃时间，UnixNano
	createdAt time.Time
}

func newWebSocketClient(conn *websocket.Conn, sessionID string) *WebSocketClient {
	client := &WebSocketClient{
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	client.UpdatePing()
	return client
}

// Close 关闭连接，可重复调用
func (client *WebSocketClient) Close() {
	client.closeOnce.Do(func() {
		close(client.done)
		if client.conn != nil {
			client.conn.Close()
		}
	})
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	select {
	case <-client.done:
		return true
	default:
		return false
	}
}

// UpdatePing 更新最后活跃时间
func (client *WebSocketClient) UpdatePing() {
	client.lastPing.Store(time.Now().UnixNano())
}

// IsExpired 检查连接是否超时
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(time.Unix(0, client.lastPing.Load())) > timeout
}

// enqueue 非阻塞地放入发送队列，队列满时返回 false
func (client *WebSocketClient) enqueue(message []byte) bool {
	select {
	case <-client.done:
		return false
	default:
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// SendMessage 序列化并发送消息
func (client *WebSocketClient) SendMessage(message interface{}) bool {
	msgBytes, err := json.Marshal(message)
	if err != nil {
		utils.GetLogger().Error("Failed to encode WebSocket message", map[string]interface{}{"error": err.Error()})
		return false
	}
	return client.enqueue(msgBytes)
}

// StateMessage 推送给订阅者的状态消息
type StateMessage struct {
	Type      string              `json:"type"`
	SessionID string              `json:"session_id"`
	State     *models.WizardState `json:"state"`
	Timestamp time.Time           `json:"timestamp"`
}

func newStateMessage(sessionID string, state *models.WizardState) StateMessage {
	return StateMessage{
		Type:      "state",
		SessionID: sessionID,
		State:     state,
		Timestamp: time.Now(),
	}
}

// WebSocketManager 按会话管理所有订阅连接
type WebSocketManager struct {
	connections     map[string]map[*WebSocketClient]struct{} // sessionID -> clients
	unregister      chan *WebSocketClient
	stop            chan struct{}
	stopOnce        sync.Once
	mutex           sync.RWMutex
	pingTimeout     time.Duration
	cleanupInterval time.Duration
}

// NewWebSocketManager 创建管理器，需要调用 Start 启动主循环
func NewWebSocketManager() *WebSocketManager {
	return &WebSocketManager{
		connections:     make(map[string]map[*WebSocketClient]struct{}),
		unregister:      make(chan *WebSocketClient, 256),
		stop:            make(chan struct{}),
		pingTimeout:     2 * pongWait,
		cleanupInterval: 30 * time.Second,
	}
}

// Start 启动管理器主循环
func (manager *WebSocketManager) Start() {
	go manager.run()
}

// Stop 关闭所有连接并退出主循环
func (manager *WebSocketManager) Stop() {
	manager.stopOnce.Do(func() { close(manager.stop) })
}

// run 运行管理器主循环
func (manager *WebSocketManager) run() {
	ticker := time.NewTicker(manager.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case client := <-manager.unregister:
			manager.unregisterClient(client)

		case <-ticker.C:
			manager.cleanupExpiredConnections()

		case <-manager.stop:
			manager.shutdown()
			return
		}
	}
}

// Register 注册客户端，返回后即可收到广播
func (manager *WebSocketManager) Register(client *WebSocketClient) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if manager.connections[client.sessionID] == nil {
		manager.connections[client.sessionID] = make(map[*WebSocketClient]struct{})
	}
	manager.connections[client.sessionID][client] = struct{}{}
	metrics.WebSocketConnections.Inc()

	utils.GetLogger().Debug("WebSocket client connected", map[string]interface{}{"session_id": client.sessionID})
}

// Unregister 异步注销客户端
func (manager *WebSocketManager) Unregister(client *WebSocketClient) {
	client.Close()
	select {
	case manager.unregister <- client:
	case <-manager.stop:
	default:
		// 队列满时直接同步注销
		manager.unregisterClient(client)
	}
}

// unregisterClient 从连接表中移除客户端
func (manager *WebSocketManager) unregisterClient(client *WebSocketClient) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	manager.removeLocked(client)
}

func (manager *WebSocketManager) removeLocked(client *WebSocketClient) {
	client.Close()
	clients, exists := manager.connections[client.sessionID]
	if !exists {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	metrics.WebSocketConnections.Dec()
	if len(clients) == 0 {
		delete(manager.connections, client.sessionID)
	}

	utils.GetLogger().Debug("WebSocket client disconnected", map[string]interface{}{"session_id": client.sessionID})
}

// cleanupExpiredConnections 清理过期和已关闭的连接
func (manager *WebSocketManager) cleanupExpiredConnections() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for _, clients := range manager.connections {
		for client := range clients {
			if client.IsClosed() || client.IsExpired(manager.pingTimeout) {
				manager.removeLocked(client)
			}
		}
	}
}

// shutdown 关闭所有连接
func (manager *WebSocketManager) shutdown() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for _, clients := range manager.connections {
		for client := range clients {
			manager.removeLocked(client)
		}
	}
}

// BroadcastState 向会话的所有订阅者推送状态快照
func (manager *WebSocketManager) BroadcastState(sessionID string, state *models.WizardState) {
	msgBytes, err := json.Marshal(newStateMessage(sessionID, state))
	if err != nil {
		utils.GetLogger().Error("Failed to encode state message", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return
	}

	for _, client := range manager.clientsFor(sessionID) {
		if !client.enqueue(msgBytes) {
			// 消费过慢的客户端直接断开，重连后会拿到最新快照
			manager.Unregister(client)
		}
	}
}

// CloseSession 断开会话的所有订阅者
func (manager *WebSocketManager) CloseSession(sessionID string) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for client := range manager.connections[sessionID] {
		manager.removeLocked(client)
	}
}

func (manager *WebSocketManager) clientsFor(sessionID string) []*WebSocketClient {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	clients := make([]*WebSocketClient, 0, len(manager.connections[sessionID]))
	for client := range manager.connections[sessionID] {
		if !client.IsClosed() {
			clients = append(clients, client)
		}
	}
	return clients
}

// GetStatus 获取管理器状态
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	totalConnections := 0
	for _, clients := range manager.connections {
		totalConnections += len(clients)
	}

	return map[string]interface{}{
		"total_sessions":    len(manager.connections),
		"total_connections": totalConnections,
	}
}
