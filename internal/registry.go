package internal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// 系統設計問題：
//   如何維護「每名玩家同時最多一場對戰」的不變量？
//
// 方案：
//   Registry 同時持有兩張映射並在同一把鎖下更新：
//     sessions:      session id → 對戰
//     playerSession: user id → session id（一對一索引）
//   創建對戰時先查索引，任一參與者已被索引即拒絕；刪除對戰時
//   同步移除兩筆索引。這條不變量是排隊 / 邀請流程中所有
//   「已在對戰中」拒絕的依據。

// SessionSummary 對戰列表項
type SessionSummary struct {
	ID        string `json:"id"`
	LeftName  string `json:"leftName"`
	RightName string `json:"rightName"`
}

// Registry 對戰註冊表
//
// 併發控制：
//   - 註冊表層級（兩張映射、創建順序）由 RWMutex 保護
//   - 單場對戰內部的可變狀態由該場自己的鎖序列化
//   - 讀取不相關的對戰可以完全並行
type Registry struct {
	mu            sync.RWMutex
	sessions      map[string]*GameSession
	playerSession map[string]string
	order         []string // session id 依創建順序，供列表倒序輸出
	logger        *slog.Logger
}

// NewRegistry 創建對戰註冊表
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions:      make(map[string]*GameSession),
		playerSession: make(map[string]string),
		logger:        logger,
	}
}

// CreateSession 創建對戰並索引雙方
//
// 失敗情況：
//   - 任一參與者已被索引 → ErrAlreadyInSession
//   - 兩名參與者相同 / 地圖無效 → ErrBadRequest
func (r *Registry) CreateSession(left, right Player, mapName string, ranked bool) (*GameSession, error) {
	if left.ID == right.ID {
		return nil, fmt.Errorf("%w: 不能與自己對戰", ErrBadRequest)
	}
	if !ValidMap(mapName) {
		return nil, fmt.Errorf("%w: 未知的地圖 %q", ErrBadRequest, mapName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if occupied, ok := r.playerSession[left.ID]; ok {
		return nil, fmt.Errorf("%w: %s（對戰 %s）", ErrAlreadyInSession, left.ID, occupied)
	}
	if occupied, ok := r.playerSession[right.ID]; ok {
		return nil, fmt.Errorf("%w: %s（對戰 %s）", ErrAlreadyInSession, right.ID, occupied)
	}

	session := &GameSession{
		ID:        newSessionID(),
		Left:      left,
		Right:     right,
		Ranked:    ranked,
		CreatedAt: time.Now(),
		mapName:   mapName,
		state:     StateCreated,
	}

	r.sessions[session.ID] = session
	r.playerSession[left.ID] = session.ID
	r.playerSession[right.ID] = session.ID
	r.order = append(r.order, session.ID)

	r.logger.Info("對戰已創建",
		"session_id", session.ID,
		"left", left.ID,
		"right", right.ID,
		"ranked", ranked,
		"map", mapName)

	return session, nil
}

// GetSession 獲取對戰
func (r *Registry) GetSession(sessionID string) (*GameSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	return session, ok
}

// GetSessionForUser 獲取玩家當前所在的對戰 id
func (r *Registry) GetSessionForUser(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessionID, ok := r.playerSession[userID]
	return sessionID, ok
}

// DeleteSession 刪除對戰與雙方索引（冪等）
func (r *Registry) DeleteSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return
	}

	delete(r.sessions, sessionID)
	delete(r.playerSession, session.Left.ID)
	delete(r.playerSession, session.Right.ID)
	for i, id := range r.order {
		if id == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.logger.Info("對戰已移除", "session_id", sessionID)
}

// ChangeMap 更換地圖
//
// 規則（違反任一條都是 ErrForbidden）：
//   - 只有非排位賽可以換圖
//   - 只有左側（邀請方）玩家可以換圖
//   - 只能在 created 狀態換圖（任一方就緒後即鎖定）
func (r *Registry) ChangeMap(requesterID, sessionID, mapName string) (*GameSession, error) {
	session, ok := r.GetSession(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: 對戰 %s", ErrNotFound, sessionID)
	}
	if session.Ranked {
		return nil, fmt.Errorf("%w: 排位賽不能更換地圖", ErrForbidden)
	}
	if requesterID != session.Left.ID {
		return nil, fmt.Errorf("%w: 只有邀請方可以更換地圖", ErrForbidden)
	}
	if !ValidMap(mapName) {
		return nil, fmt.Errorf("%w: 未知的地圖 %q", ErrBadRequest, mapName)
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.state != StateCreated {
		return nil, fmt.Errorf("%w: 對戰已進入 %s 狀態", ErrForbidden, session.state)
	}
	session.mapName = mapName

	r.logger.Info("地圖已更換", "session_id", sessionID, "map", mapName)
	return session, nil
}

// ListActive 列出進行中的排位賽（最新創建在前）
//
// 非排位（邀請）賽可以憑 id 個別觀戰，但不出現在列表中。
func (r *Registry) ListActive() []SessionSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]SessionSummary, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		session := r.sessions[r.order[i]]
		if session == nil || !session.Ranked {
			continue
		}
		result = append(result, SessionSummary{
			ID:        session.ID,
			LeftName:  session.Left.Name,
			RightName: session.Right.Name,
		})
	}
	return result
}

// Stats 統計資訊
func (r *Registry) Stats() map[string]any {
	r.mu.RLock()
	sessions := make([]*GameSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	byState := make(map[LifecycleState]int)
	ranked := 0
	for _, s := range sessions {
		byState[s.State()]++
		if s.Ranked {
			ranked++
		}
	}

	return map[string]any{
		"total_sessions":  len(sessions),
		"ranked_sessions": ranked,
		"by_state":        byState,
	}
}

// newSessionID 生成對戰 id
//
// 21 字元 URL-safe 隨機字串，全域唯一；生成失敗時退回時間戳（與
// crypto/rand 同源的失敗極罕見，但不應讓創建對戰 panic）。
func newSessionID() string {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Sprintf("session_%d", time.Now().UnixNano())
	}
	return id
}
