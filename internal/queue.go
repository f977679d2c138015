package internal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// 系統設計問題：
//   如何保證 FIFO 排位佇列的配對原子性 —— 沒有任何玩家會被配對兩次，
//   也沒有任何玩家會停留在「配對到一半」的暫態？
//
// 方案：
//   入隊與配對共用同一把鎖：每次入隊後，只要等待清單達到兩人，就在
//   鎖內彈出等待最久的兩名玩家。兩人都先離開清單，鎖才釋放、對戰才
//   創建 —— 第三個併發入隊者不可能配到一個正在配對中的玩家。
//
//   佇列不變量：任一 user id 在整個系統的佇列結構中最多出現一次。

type queueEntry struct {
	userID     string
	enqueuedAt time.Time
}

// Matchmaker 配對器：排位佇列 + 邀請流程
type Matchmaker struct {
	mu      sync.Mutex
	waiting []queueEntry
	queued  map[string]struct{}

	registry  *Registry
	directory UserDirectory
	broadcast Broadcaster
	logger    *slog.Logger
}

// NewMatchmaker 創建配對器
func NewMatchmaker(registry *Registry, directory UserDirectory, broadcast Broadcaster, logger *slog.Logger) *Matchmaker {
	return &Matchmaker{
		queued:    make(map[string]struct{}),
		registry:  registry,
		directory: directory,
		broadcast: broadcast,
		logger:    logger,
	}
}

// Enqueue 加入排位佇列
//
// 失敗情況：
//   - 已在佇列中 → ErrConflict
//   - 已在對戰中 → ErrAlreadyInSession
func (m *Matchmaker) Enqueue(userID string) error {
	if sessionID, ok := m.registry.GetSessionForUser(userID); ok {
		return fmt.Errorf("%w: %s（對戰 %s）", ErrAlreadyInSession, userID, sessionID)
	}

	m.mu.Lock()
	if _, ok := m.queued[userID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s 已在佇列中", ErrConflict, userID)
	}
	m.waiting = append(m.waiting, queueEntry{userID: userID, enqueuedAt: time.Now()})
	m.queued[userID] = struct{}{}
	pairs := m.popPairsLocked()
	m.mu.Unlock()

	m.logger.Info("玩家已入隊", "user_id", userID)

	for _, pair := range pairs {
		m.createRanked(pair[0], pair[1])
	}
	return nil
}

// Dequeue 離開排位佇列
func (m *Matchmaker) Dequeue(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queued[userID]; !ok {
		return fmt.Errorf("%w: %s 不在佇列中", ErrNotFound, userID)
	}
	delete(m.queued, userID)
	for i, entry := range m.waiting {
		if entry.userID == userID {
			m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
			break
		}
	}
	m.logger.Info("玩家已離隊", "user_id", userID)
	return nil
}

// QueueLength 當前等待人數
func (m *Matchmaker) QueueLength() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiting)
}

// popPairsLocked 在鎖內彈出所有可配對的玩家對（等待最久者優先）
func (m *Matchmaker) popPairsLocked() [][2]string {
	var pairs [][2]string
	for len(m.waiting) >= 2 {
		a, b := m.waiting[0], m.waiting[1]
		m.waiting = m.waiting[2:]
		delete(m.queued, a.userID)
		delete(m.queued, b.userID)
		pairs = append(pairs, [2]string{a.userID, b.userID})
	}
	return pairs
}

// requeueFront 把玩家放回佇列最前端（配對失敗時無辜一方不應重新排隊）
func (m *Matchmaker) requeueFront(userID string) {
	m.mu.Lock()
	if _, ok := m.queued[userID]; !ok {
		m.waiting = append([]queueEntry{{userID: userID, enqueuedAt: time.Now()}}, m.waiting...)
		m.queued[userID] = struct{}{}
	}
	m.mu.Unlock()
}

// createRanked 為一對玩家創建排位賽
//
// 邊界情況：玩家入隊後可能搶先接受了邀請（佇列項不是對戰，不受
// 單一對戰索引保護）。此時 CreateSession 會拒絕，無辜的另一方
// 放回佇列最前端等待下一位對手。
func (m *Matchmaker) createRanked(a, b string) {
	left := Player{ID: a, Name: m.displayName(a)}
	right := Player{ID: b, Name: m.displayName(b)}

	session, err := m.registry.CreateSession(left, right, DefaultMap, true)
	if err != nil {
		if _, occupied := m.registry.GetSessionForUser(a); occupied {
			m.requeueFront(b)
		} else {
			m.requeueFront(a)
		}
		m.logger.Warn("排位配對失敗", "left", a, "right", b, "error", err)
		return
	}

	m.logger.Info("排位配對成功",
		"session_id", session.ID,
		"left", a,
		"right", b)

	payload := NewSessionPayload{SessionID: session.ID}
	m.broadcast.ToUser(a, Event{Type: EventNewSession, Data: payload})
	m.broadcast.ToUser(b, Event{Type: EventNewSession, Data: payload})
	// 排位配對同時公告給其他大廳玩家（列表刷新）；這一對玩家
	// 已經各自收到通知，不用再收一次
	m.broadcast.ToLobby(Event{Type: EventNewSession, Data: payload}, a, b)
}

// Invite 邀請指定對手創建非排位賽（繞過佇列）
//
// 失敗情況：
//   - 對手不存在 → ErrNotFound
//   - 雙方任一側有封鎖關係 → ErrForbidden
//   - 邀請方已在對戰中 → ErrBadRequest
//   - 對手已在對戰中，或任一方還在排位佇列 → ErrConflict
func (m *Matchmaker) Invite(inviterID, opponentID, mapName string) (*GameSession, error) {
	inviterName, ok := m.directory.DisplayName(inviterID)
	if !ok {
		return nil, fmt.Errorf("%w: 玩家 %s", ErrNotFound, inviterID)
	}
	opponentName, ok := m.directory.DisplayName(opponentID)
	if !ok {
		return nil, fmt.Errorf("%w: 玩家 %s", ErrNotFound, opponentID)
	}
	if m.directory.Blocked(inviterID, opponentID) {
		return nil, fmt.Errorf("%w: 雙方存在封鎖關係", ErrForbidden)
	}
	if _, ok := m.registry.GetSessionForUser(inviterID); ok {
		return nil, fmt.Errorf("%w: 你已在對戰中", ErrBadRequest)
	}
	if _, ok := m.registry.GetSessionForUser(opponentID); ok {
		return nil, fmt.Errorf("%w: 對手已在對戰中", ErrConflict)
	}

	m.mu.Lock()
	_, inviterQueued := m.queued[inviterID]
	_, opponentQueued := m.queued[opponentID]
	m.mu.Unlock()
	if inviterQueued || opponentQueued {
		return nil, fmt.Errorf("%w: 請先離開排位佇列", ErrConflict)
	}

	if mapName == "" {
		mapName = DefaultMap
	}

	session, err := m.registry.CreateSession(
		Player{ID: inviterID, Name: inviterName},
		Player{ID: opponentID, Name: opponentName},
		mapName,
		false,
	)
	if err != nil {
		return nil, err
	}

	m.logger.Info("邀請賽已創建",
		"session_id", session.ID,
		"inviter", inviterID,
		"opponent", opponentID)

	payload := NewSessionPayload{SessionID: session.ID}
	m.broadcast.ToUser(inviterID, Event{Type: EventNewSession, Data: payload})
	m.broadcast.ToUser(opponentID, Event{Type: EventNewSession, Data: payload})
	return session, nil
}

// displayName 解析顯示名稱，目錄查不到時退回 user id
func (m *Matchmaker) displayName(userID string) string {
	if name, ok := m.directory.DisplayName(userID); ok {
		return name
	}
	return userID
}
