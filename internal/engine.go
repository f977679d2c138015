package internal

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// 系統設計問題：
//   如何讓大量對戰各自以固定節奏推進，又保證單場內的所有狀態變更
//   嚴格序列化（比分每球恰好加一、終局後不再有任何 tick）？
//
// 方案：
//   每場對戰一個 goroutine 跑 time.Ticker 迴圈（預設 10ms 一拍），
//   終局時關閉自己的 stop channel 並從排程表移除。tick 內的全部
//   讀寫都在該場的鎖下進行；得分後的發球延遲用 time.AfterFunc
//   異步排程，絕不阻塞其他場的 tick。
//
//   終局路徑只有兩條，且用生命週期狀態互斥：
//     - 得滿分獲勝：發球延遲後的勝利檢查把狀態推進到 completed
//     - 中止（斷線 / 無效結果回報）：Abort 把狀態推進到 aborted
//   兩條路徑都先在鎖下完成狀態轉換，確認自己是唯一勝出者之後，
//   才停掉迴圈並把對戰交給 Finisher 收尾。

// FinishCause 終局原因
type FinishCause string

const (
	CauseWin           FinishCause = "win"
	CauseDisconnect    FinishCause = "disconnect"
	CauseInvalidReport FinishCause = "invalid-report"
)

// Finisher 終局收尾介面（由 Arbiter 實作：驗證、天梯、拆除）
type Finisher interface {
	Finalize(session *GameSession, winner Side, cause FinishCause)
}

// Engine 權威模擬引擎
type Engine struct {
	cfg       GameConfig
	registry  *Registry
	broadcast Broadcaster
	finisher  Finisher
	logger    *slog.Logger

	mu    sync.Mutex
	loops map[string]chan struct{} // session id → stop channel
	wg    sync.WaitGroup
}

// NewEngine 創建模擬引擎
func NewEngine(cfg GameConfig, registry *Registry, broadcast Broadcaster, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		registry:  registry,
		broadcast: broadcast,
		logger:    logger,
		loops:     make(map[string]chan struct{}),
	}
}

// SetFinisher 綁定終局收尾器（必須在第一場 Attach 之前完成）
func (e *Engine) SetFinisher(f Finisher) {
	e.finisher = f
}

// Attach 接管一場對戰：初始化比分與球局，進入 running 並啟動 tick 迴圈
func (e *Engine) Attach(session *GameSession) {
	session.mu.Lock()
	session.state = StateRunning
	session.scores = &[2]int{}
	center := (1 - paddleHeight) / 2
	session.paddles = PaddleState{Left: center, Right: center}
	resetBallLocked(session)
	session.serving = false
	session.mu.Unlock()

	stop := make(chan struct{})
	e.mu.Lock()
	e.loops[session.ID] = stop
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(session, stop)

	e.logger.Info("對戰開始",
		"session_id", session.ID,
		"tick_interval", e.cfg.TickInterval)
}

// run 單場對戰的 tick 迴圈
func (e *Engine) run(session *GameSession, stop <-chan struct{}) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if e.step(session) {
				return
			}
		}
	}
}

// step 推進一個 tick，返回 true 表示迴圈應該結束
func (e *Engine) step(session *GameSession) bool {
	session.mu.Lock()
	if session.state != StateRunning {
		session.mu.Unlock()
		return true
	}

	if session.serving {
		// 發球延遲期間球不動，但狀態照常廣播
		payload := session.tickPayloadLocked()
		session.mu.Unlock()
		e.broadcast.ToSession(session.ID, Event{Type: EventTick, Data: payload})
		return false
	}

	scored := advanceBall(&session.ball, session.paddles)
	if scored != "" {
		session.scores[scored.scoreIndex()]++
		session.serving = true
		payload := session.tickPayloadLocked()
		session.mu.Unlock()

		e.broadcast.ToSession(session.ID, Event{Type: EventTick, Data: payload})
		time.AfterFunc(e.cfg.ServeDelay, func() {
			e.afterServeDelay(session, scored)
		})
		return false
	}

	payload := session.tickPayloadLocked()
	session.mu.Unlock()
	e.broadcast.ToSession(session.ID, Event{Type: EventTick, Data: payload})
	return false
}

// afterServeDelay 發球延遲結束：先檢查勝利條件，未分出勝負則重新發球
func (e *Engine) afterServeDelay(session *GameSession, scored Side) {
	session.mu.Lock()
	if session.state != StateRunning {
		session.mu.Unlock()
		return
	}

	if session.scores[scored.scoreIndex()] >= e.cfg.WinScore {
		session.state = StateCompleted
		session.mu.Unlock()

		e.stopLoop(session.ID)
		e.logger.Info("對戰分出勝負",
			"session_id", session.ID,
			"winner", scored)
		e.finisher.Finalize(session, scored, CauseWin)
		return
	}

	resetBallLocked(session)
	session.serving = false
	session.mu.Unlock()
}

// Abort 強制中止一場進行中的對戰，勝利判給責任方的對側
//
// 斷線與無效結果回報共用這條路徑。對戰不在 running 狀態時是 no-op
// （返回 false），保證終局恰好發生一次。
func (e *Engine) Abort(sessionID string, responsible Side, cause FinishCause) bool {
	session, ok := e.registry.GetSession(sessionID)
	if !ok {
		return false
	}

	session.mu.Lock()
	if session.state != StateRunning {
		session.mu.Unlock()
		return false
	}
	session.state = StateAborted
	session.mu.Unlock()

	e.stopLoop(sessionID)

	winner := responsible.Opposite()
	e.logger.Warn("對戰中止",
		"session_id", sessionID,
		"responsible", responsible,
		"cause", cause)
	e.finisher.Finalize(session, winner, cause)
	return true
}

// MovePaddle 套用球拍輸入
//
// 除邊界夾緊外沒有中間驗證：輸入直接作用在該場的球拍狀態上。
func (e *Engine) MovePaddle(sessionID, userID, direction string) error {
	session, ok := e.registry.GetSession(sessionID)
	if !ok {
		return fmt.Errorf("%w: 對戰 %s", ErrNotFound, sessionID)
	}
	side, ok := session.Participant(userID)
	if !ok {
		return fmt.Errorf("%w: %s 不是這場對戰的參與者", ErrForbidden, userID)
	}

	var delta float64
	switch direction {
	case "up":
		delta = -paddleStep
	case "down":
		delta = paddleStep
	default:
		return fmt.Errorf("%w: 未知的方向 %q", ErrBadRequest, direction)
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.state != StateRunning {
		return fmt.Errorf("%w: 對戰不在進行中", ErrBadRequest)
	}
	if side == SideLeft {
		session.paddles.Left = clampPaddle(session.paddles.Left + delta)
	} else {
		session.paddles.Right = clampPaddle(session.paddles.Right + delta)
	}
	return nil
}

// stopLoop 停掉並移除一場對戰的 tick 迴圈（冪等）
func (e *Engine) stopLoop(sessionID string) {
	e.mu.Lock()
	if stop, ok := e.loops[sessionID]; ok {
		close(stop)
		delete(e.loops, sessionID)
	}
	e.mu.Unlock()
}

// Stop 停掉所有 tick 迴圈並等待退出（服務關閉用）
func (e *Engine) Stop() {
	e.mu.Lock()
	for id, stop := range e.loops {
		close(stop)
		delete(e.loops, id)
	}
	e.mu.Unlock()
	e.wg.Wait()
	e.logger.Info("模擬引擎已停止")
}

// resetBallLocked 發球：球置中（含球寬偏移），方向重新隨機
// （呼叫者必須持有 session.mu）
func resetBallLocked(session *GameSession) {
	session.ball = Ball{
		X:  0.5 - ballSize/2,
		Y:  0.5 - ballSize/2,
		VX: randomServeSpeed(),
		VY: randomServeSpeed(),
	}
}

// randomServeSpeed 獨立取 ±initialSpeed
func randomServeSpeed() float64 {
	if rand.Intn(2) == 0 {
		return initialSpeed
	}
	return -initialSpeed
}
