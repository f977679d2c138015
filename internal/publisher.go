package internal

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// 系統設計問題：
//   對戰事件（開局、終局、天梯變動）除了即時推送給線上玩家，
//   還需要讓下游系統（統計分析、防作弊、回放服務）消費。
//
// 方案：
//   把 Broadcaster 的每一筆事件鏡射到 NATS JetStream。
//   WebSocket 管即時性，JetStream 管持久性與重放 —— 下游用
//   Durable Consumer 各自消費，互不影響推送延遲。
//
// 主題設計：
//   match.session.{session_id}.{event}  對戰內事件
//   match.user.{user_id}                定向通知
//   match.lobby                         大廳廣播

const (
	eventStreamName = "MATCH_EVENTS"
	eventSubjects   = "match.>"
)

// EventPublisher 把事件發佈到 JetStream
type EventPublisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *slog.Logger
}

// NewEventPublisher 連接 NATS 並確保 Stream 存在
func NewEventPublisher(url string, logger *slog.Logger) (*EventPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("match-service"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("獲取 JetStream 上下文失敗: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     eventStreamName,
		Subjects: []string{eventSubjects},
		Storage:  nats.FileStorage,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		conn.Close()
		return nil, fmt.Errorf("創建 Stream 失敗: %w", err)
	}

	logger.Info("事件發佈器已就緒", "stream", eventStreamName)
	return &EventPublisher{conn: conn, js: js, logger: logger}, nil
}

// ToSession 實作 Broadcaster
//
// tick 事件量大且只有即時價值，不鏡射。
func (p *EventPublisher) ToSession(sessionID string, event Event) {
	if event.Type == EventTick {
		return
	}
	p.publish(fmt.Sprintf("match.session.%s.%s", sessionID, event.Type), event)
}

// ToUser 實作 Broadcaster
func (p *EventPublisher) ToUser(userID string, event Event) {
	p.publish(fmt.Sprintf("match.user.%s", userID), event)
}

// ToLobby 實作 Broadcaster
//
// except 只影響即時投遞範圍，事件流照樣完整鏡射。
func (p *EventPublisher) ToLobby(event Event, except ...string) {
	p.publish("match.lobby", event)
}

// CloseSession 實作 Broadcaster（JetStream 沒有連線可關）
func (p *EventPublisher) CloseSession(sessionID string) {}

func (p *EventPublisher) publish(subject string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("序列化事件失敗", "subject", subject, "error", err)
		return
	}
	// 異步發佈：事件鏡射不能阻塞遊戲路徑
	if _, err := p.js.PublishAsync(subject, data); err != nil {
		p.logger.Warn("發佈事件失敗", "subject", subject, "error", err)
	}
}

// Close 關閉 NATS 連線
func (p *EventPublisher) Close() {
	p.conn.Drain()
}

// TeeBroadcaster 把事件同時送往兩個 Broadcaster：
// primary 是 WebSocket Hub（即時推送），mirror 是 JetStream（持久化）。
type TeeBroadcaster struct {
	primary Broadcaster
	mirror  Broadcaster
}

// NewTeeBroadcaster 創建複合廣播器
func NewTeeBroadcaster(primary, mirror Broadcaster) *TeeBroadcaster {
	return &TeeBroadcaster{primary: primary, mirror: mirror}
}

func (t *TeeBroadcaster) ToSession(sessionID string, event Event) {
	t.primary.ToSession(sessionID, event)
	t.mirror.ToSession(sessionID, event)
}

func (t *TeeBroadcaster) ToUser(userID string, event Event) {
	t.primary.ToUser(userID, event)
	t.mirror.ToUser(userID, event)
}

func (t *TeeBroadcaster) ToLobby(event Event, except ...string) {
	t.primary.ToLobby(event, except...)
	t.mirror.ToLobby(event, except...)
}

func (t *TeeBroadcaster) CloseSession(sessionID string) {
	t.primary.CloseSession(sessionID)
	t.mirror.CloseSession(sessionID)
}
