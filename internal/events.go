package internal

// 事件設計：
//
//	對戰期間的所有客戶端可見狀態變化都以具名事件推送。payload 一律使用
//	明確的結構型別而非 map[string]any：事件是服務的對外契約，動態字典
//	無法在編譯期保證欄位名稱與形狀。
//
//	順序保證：同一場對戰的事件（tick、得分、終局）按產生順序送達；
//	不同場之間沒有任何順序保證。

// 事件名稱
const (
	EventNewSession       = "newSession"
	EventMapChanged       = "mapChanged"
	EventTick             = "tick"
	EventSessionCancelled = "sessionCancelled"
	EventSessionAborted   = "sessionAborted"
	EventSessionCompleted = "sessionCompleted"
	EventLadderUpdate     = "ladderUpdate"
)

// Event 對外事件封包
type Event struct {
	Type string `json:"event"`
	Data any    `json:"data"`
}

// NewSessionPayload 配對成功 / 受邀通知
type NewSessionPayload struct {
	SessionID string `json:"sessionId"`
}

// MapChangedPayload 邀請方更換地圖（僅非排位賽，推給非邀請方）
type MapChangedPayload struct {
	Map string `json:"map"`
}

// BallState 球的位置（場地座標歸一化到 [0,1]×[0,1]）
type BallState struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PaddleState 左右球拍的垂直偏移
type PaddleState struct {
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
}

// TickPayload 每 tick 推送的權威對戰狀態
type TickPayload struct {
	SessionID string      `json:"sessionId"`
	Scores    [2]int      `json:"scores"`
	Ball      BallState   `json:"ball"`
	Paddles   PaddleState `json:"paddles"`
}

// SessionCancelledPayload 開賽會合逾時取消
type SessionCancelledPayload struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// SessionAbortedPayload 對戰中止（斷線或無效結果），Side 為責任方
type SessionAbortedPayload struct {
	Side Side `json:"side"`
}

// SessionCompletedPayload 對戰正常結束
type SessionCompletedPayload struct {
	WinnerSide Side `json:"winnerSide"`
}

// LadderUpdatePayload 排位賽結束後的天梯變動（推給天梯觀察者）
type LadderUpdatePayload struct {
	WinnerID string `json:"winnerId"`
	Ladder   int    `json:"ladder"`
}

// Broadcaster 事件推送介面
//
// 三個投遞範圍對應三種訂閱關係：
//   - ToSession：該場對戰的兩名參與者加上所有觀戰者
//   - ToUser：單一玩家的大廳連線（配對通知、受邀通知、換圖通知）
//   - ToLobby：所有大廳連線（排位配對公告、天梯變動）；except 列出
//     要跳過的玩家，給已經透過 ToUser 收到同一事件的人用
//
// CloseSession 在對戰終局後關閉該場的所有連線，釋放資源。
type Broadcaster interface {
	ToSession(sessionID string, event Event)
	ToUser(userID string, event Event)
	ToLobby(event Event, except ...string)
	CloseSession(sessionID string)
}
