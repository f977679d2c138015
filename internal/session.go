package internal

import (
	"sync"
	"time"
)

// LifecycleState 對戰生命週期狀態
//
// 有限狀態機設計：
//
//	created → awaiting-start → running → {completed | aborted}
//
// 狀態轉換規則：
//   - created → awaiting-start：任一玩家發出第一個就緒訊號（開賽屏障建立）
//   - awaiting-start → running：雙方都已就緒，引擎接管
//   - running → completed：一方先得滿分
//   - running → aborted：參與者斷線，或結果驗證失敗的強制中止
//   - created / awaiting-start → （刪除）：開賽屏障逾時
//
// 沒有任何對戰能越過終局狀態繼續存活：終局轉換後對戰與索引即被刪除，
// 除了發出完成通知外不保留任何歸檔狀態。
type LifecycleState string

const (
	StateCreated       LifecycleState = "created"
	StateAwaitingStart LifecycleState = "awaiting-start"
	StateRunning       LifecycleState = "running"
	StateCompleted     LifecycleState = "completed"
	StateAborted       LifecycleState = "aborted"
)

// Side 對戰中的一側
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Opposite 返回對側
func (s Side) Opposite() Side {
	if s == SideLeft {
		return SideRight
	}
	return SideLeft
}

// scoreIndex 比分陣列中的下標（左 0、右 1）
func (s Side) scoreIndex() int {
	if s == SideLeft {
		return 0
	}
	return 1
}

// Player 對戰參與者
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Ball 球的位置與速度向量
type Ball struct {
	X  float64
	Y  float64
	VX float64
	VY float64
}

// 預定義地圖：邀請賽（非排位）的邀請方可在開賽前更換，排位賽固定使用預設圖
const DefaultMap = "classic"

var gameMaps = map[string]bool{
	"classic": true,
	"ocean":   true,
	"forest":  true,
}

// ValidMap 檢查地圖名稱是否為三張預定義圖之一
func ValidMap(name string) bool {
	return gameMaps[name]
}

// GameSession 一場對戰
//
// 所有權設計：
//   - 對戰由 Registry 獨佔擁有；模擬引擎只會變更它當前推進的那一場
//   - 不可變欄位（ID、雙方玩家、是否排位、創建時間）直接導出
//   - 可變狀態（生命週期、比分、球、球拍、地圖）一律在 mu 之下存取，
//     保證沒有任何併發呼叫者能觀察到半更新的對戰
type GameSession struct {
	ID        string
	Left      Player
	Right     Player
	Ranked    bool
	CreatedAt time.Time

	mu      sync.Mutex
	mapName string
	state   LifecycleState
	scores  *[2]int // 開賽前為 nil
	ball    Ball
	paddles PaddleState
	serving bool // 發球延遲期間暫停球的移動
}

// Participant 判斷使用者是否為參與者，是則返回其所在側
func (s *GameSession) Participant(userID string) (Side, bool) {
	switch userID {
	case s.Left.ID:
		return SideLeft, true
	case s.Right.ID:
		return SideRight, true
	default:
		return "", false
	}
}

// PlayerOn 返回指定側的玩家
func (s *GameSession) PlayerOn(side Side) Player {
	if side == SideLeft {
		return s.Left
	}
	return s.Right
}

// State 當前生命週期狀態
func (s *GameSession) State() LifecycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Map 當前地圖
func (s *GameSession) Map() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapName
}

// Scores 當前比分副本；開賽前返回 false
func (s *GameSession) Scores() ([2]int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scores == nil {
		return [2]int{}, false
	}
	return *s.scores, true
}

// tickPayloadLocked 構建當前 tick 的廣播內容（呼叫者必須持有 s.mu）
func (s *GameSession) tickPayloadLocked() TickPayload {
	var scores [2]int
	if s.scores != nil {
		scores = *s.scores
	}
	return TickPayload{
		SessionID: s.ID,
		Scores:    scores,
		Ball:      BallState{X: s.ball.X, Y: s.ball.Y},
		Paddles:   s.paddles,
	}
}
