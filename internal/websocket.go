package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何把每場對戰的 tick 流（每秒上百則）精準投遞給該場的兩名參與者
//   與任意多的觀戰者，而任何一個慢客戶端都不能拖慢模擬引擎？
//
// 方案：
//   Hub 模式集中管理兩類連線：
//     sessions: session id → 該場的所有連線（參與者 + 觀戰者）
//     lobby:    user id → 大廳連線（配對通知、列表刷新、天梯變動）
//   每條連線一個緩衝 send channel + 獨立的 readPump / writePump，
//   廣播用非阻塞發送 —— 緩衝滿就丟，模擬引擎永不等待網路。
//
//   斷線語義：參與者的對戰連線斷開（讀取失敗、心跳逾時）等同於
//   棄賽 —— Hub 透過 OnDisconnect 回調通知引擎立即中止該場。

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// WebSocketHub WebSocket 連線中心，實作 Broadcaster
type WebSocketHub struct {
	registry  *Registry
	directory UserDirectory
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]map[*Connection]struct{}
	lobby    map[string]*Connection

	// 事件入口回調（main 組裝時綁定）
	OnDisconnect func(sessionID, userID string)
	OnReady      func(sessionID, userID string) error
	OnMove       func(sessionID, userID, direction string) error
}

// Connection 一條 WebSocket 連線
type Connection struct {
	userID    string
	sessionID string // 大廳連線為空字串
	watcher   bool
	conn      *websocket.Conn
	send      chan []byte
	hub       *WebSocketHub
	closeOnce sync.Once
}

// NewWebSocketHub 創建連線中心
func NewWebSocketHub(registry *Registry, directory UserDirectory, logger *slog.Logger) *WebSocketHub {
	return &WebSocketHub{
		registry:  registry,
		directory: directory,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// 生產環境應該檢查來源
				return true
			},
		},
		sessions: make(map[string]map[*Connection]struct{}),
		lobby:    make(map[string]*Connection),
	}
}

// ServeSession 處理對戰連線（參與者或觀戰者）
//
// 觀戰規則：非排位賽的觀戰者與任一參與者存在封鎖關係即拒絕。
func (hub *WebSocketHub) ServeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	userID := r.URL.Query().Get("player_id")
	if sessionID == "" || userID == "" {
		http.Error(w, "缺少對戰或玩家 ID", http.StatusBadRequest)
		return
	}

	session, ok := hub.registry.GetSession(sessionID)
	if !ok {
		http.Error(w, "對戰不存在", http.StatusNotFound)
		return
	}

	_, participant := session.Participant(userID)
	if !participant && !session.Ranked {
		if hub.directory.Blocked(userID, session.Left.ID) ||
			hub.directory.Blocked(userID, session.Right.ID) {
			http.Error(w, "不能觀戰這場對戰", http.StatusForbidden)
			return
		}
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	connection := &Connection{
		userID:    userID,
		sessionID: sessionID,
		watcher:   !participant,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		hub:       hub,
	}
	hub.registerSession(connection)

	go connection.writePump()
	go connection.readPump()

	hub.logger.Info("對戰連線建立",
		"session_id", sessionID,
		"user_id", userID,
		"watcher", !participant)
}

// ServeLobby 處理大廳連線
func (hub *WebSocketHub) ServeLobby(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("player_id")
	if userID == "" {
		http.Error(w, "缺少玩家 ID", http.StatusBadRequest)
		return
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	connection := &Connection{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		hub:    hub,
	}

	hub.mu.Lock()
	if old, ok := hub.lobby[userID]; ok {
		old.shutdown()
	}
	hub.lobby[userID] = connection
	hub.mu.Unlock()

	go connection.writePump()
	go connection.readPump()
}

// registerSession 登記對戰連線；同一參與者重複連線時關閉舊連線
func (hub *WebSocketHub) registerSession(c *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	conns := hub.sessions[c.sessionID]
	if conns == nil {
		conns = make(map[*Connection]struct{})
		hub.sessions[c.sessionID] = conns
	}
	if !c.watcher {
		for old := range conns {
			if !old.watcher && old.userID == c.userID {
				delete(conns, old)
				old.shutdown()
			}
		}
	}
	conns[c] = struct{}{}
}

// unregister 移除連線；參與者的對戰連線斷開視為棄賽
func (hub *WebSocketHub) unregister(c *Connection) {
	var abandoned bool

	hub.mu.Lock()
	if c.sessionID == "" {
		if hub.lobby[c.userID] == c {
			delete(hub.lobby, c.userID)
		}
	} else if conns, ok := hub.sessions[c.sessionID]; ok {
		if _, ok := conns[c]; ok {
			delete(conns, c)
			abandoned = !c.watcher
			if len(conns) == 0 {
				delete(hub.sessions, c.sessionID)
			}
		}
	}
	hub.mu.Unlock()

	c.shutdown()

	// 回調在鎖外執行，避免與廣播路徑死鎖
	if abandoned && hub.OnDisconnect != nil {
		hub.OnDisconnect(c.sessionID, c.userID)
	}
}

// ToSession 推送給該場的所有連線
func (hub *WebSocketHub) ToSession(sessionID string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", event.Type, "error", err)
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	for c := range hub.sessions[sessionID] {
		c.trySend(data)
	}
}

// ToUser 推送給單一玩家的大廳連線
func (hub *WebSocketHub) ToUser(userID string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", event.Type, "error", err)
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	if c, ok := hub.lobby[userID]; ok {
		c.trySend(data)
	}
}

// ToLobby 推送給所有大廳連線，except 中的玩家跳過
func (hub *WebSocketHub) ToLobby(event Event, except ...string) {
	data, err := json.Marshal(event)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", event.Type, "error", err)
		return
	}

	skip := make(map[string]struct{}, len(except))
	for _, id := range except {
		skip[id] = struct{}{}
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	for userID, c := range hub.lobby {
		if _, ok := skip[userID]; ok {
			continue
		}
		c.trySend(data)
	}
}

// CloseSession 對戰終局後關閉該場的所有連線
func (hub *WebSocketHub) CloseSession(sessionID string) {
	hub.mu.Lock()
	conns := hub.sessions[sessionID]
	delete(hub.sessions, sessionID)
	hub.mu.Unlock()

	for c := range conns {
		c.shutdown()
	}
}

// Stop 關閉所有連線（服務關閉用）
func (hub *WebSocketHub) Stop() {
	hub.mu.Lock()
	for _, conns := range hub.sessions {
		for c := range conns {
			c.shutdown()
		}
	}
	hub.sessions = make(map[string]map[*Connection]struct{})
	for _, c := range hub.lobby {
		c.shutdown()
	}
	hub.lobby = make(map[string]*Connection)
	hub.mu.Unlock()

	hub.logger.Info("WebSocket Hub 已停止")
}

// trySend 非阻塞發送；緩衝滿就丟（慢客戶端不能拖慢引擎）
func (c *Connection) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
		c.hub.logger.Warn("連線緩衝區滿，丟棄訊息",
			"user_id", c.userID,
			"session_id", c.sessionID)
	}
}

// shutdown 關閉 send channel 與底層連線（冪等）
func (c *Connection) shutdown() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
	c.conn.Close()
}

// clientMessage 客戶端上行訊息
type clientMessage struct {
	Type      string `json:"type"`
	Direction string `json:"direction,omitempty"`
}

// readPump 讀取客戶端訊息
//
// 心跳：60 秒內沒有任何訊息（含 Pong）就視為死連接；writePump 每
// 54 秒發一次 Ping，留 6 秒餘量。
func (c *Connection) readPump() {
	defer c.hub.unregister(c)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket 讀取錯誤",
					"error", err,
					"user_id", c.userID,
					"session_id", c.sessionID)
			}
			return
		}
		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

// writePump 寫入訊息與定期 Ping
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量清空隊列中的積壓訊息
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 處理上行訊息（就緒訊號與球拍輸入走 WebSocket，
// 其餘操作走 HTTP API）
func (c *Connection) handleMessage(message []byte) {
	if c.sessionID == "" || c.watcher {
		return
	}

	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.hub.logger.Warn("解析客戶端訊息失敗",
			"error", err,
			"user_id", c.userID,
			"session_id", c.sessionID)
		return
	}

	switch msg.Type {
	case "ready":
		if c.hub.OnReady != nil {
			if err := c.hub.OnReady(c.sessionID, c.userID); err != nil {
				c.hub.logger.Warn("就緒訊號被拒絕",
					"error", err,
					"user_id", c.userID,
					"session_id", c.sessionID)
			}
		}
	case "move":
		if c.hub.OnMove != nil {
			if err := c.hub.OnMove(c.sessionID, c.userID, msg.Direction); err != nil {
				c.hub.logger.Debug("球拍輸入被拒絕",
					"error", err,
					"user_id", c.userID,
					"session_id", c.sessionID)
			}
		}
	default:
		c.hub.logger.Debug("收到未知訊息類型",
			"type", msg.Type,
			"user_id", c.userID)
	}
}
