package internal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// 系統設計問題：
//   雙方客戶端必須都明確確認就緒，權威模擬才能開始 —— 否則引擎可能
//   對著一個根本沒載入對戰畫面的客戶端空跑。訊號可能從任一方、以任意
//   順序、經由不同網路路徑到達，還可能重複或遲到。
//
// 方案：
//   每場對戰一個開賽屏障（startBarrier）：記錄兩個預期身份的就緒集合
//   加一個可取消的計時器，全部狀態在屏障自己的鎖下變更。
//   「解析」（成功開賽或逾時取消）在所有交錯下恰好計算一次：
//     - 同一玩家的重複訊號合併，不觸發第二次解析
//     - 成功解析立即停掉計時器，避免殘留的計時器稍後拆掉一場
//       已經在進行中的對戰
//     - 逾時後遲到的訊號是 no-op
//   屏障在整個拆除流程結束後才從 map 退場：遲到的訊號若在拆除中途
//   到達，會命中已解析屏障的 no-op 路徑，而不是惰性創建出第二個
//   屏障。惰性創建前還會在協調器鎖下重新確認對戰仍存在且未開賽。

// startBarrier 單場對戰的開賽屏障
type startBarrier struct {
	mu       sync.Mutex
	ready    map[string]bool
	timer    *time.Timer
	resolved bool
}

// StartCoordinator 開賽會合協調器
//
// 屏障在第一個就緒訊號到達時惰性創建，解析後（無論成敗）即退場。
type StartCoordinator struct {
	mu       sync.Mutex
	barriers map[string]*startBarrier

	timeout   time.Duration
	registry  *Registry
	engine    *Engine
	broadcast Broadcaster
	logger    *slog.Logger
}

// NewStartCoordinator 創建開賽會合協調器
func NewStartCoordinator(timeout time.Duration, registry *Registry, engine *Engine, broadcast Broadcaster, logger *slog.Logger) *StartCoordinator {
	return &StartCoordinator{
		barriers:  make(map[string]*startBarrier),
		timeout:   timeout,
		registry:  registry,
		engine:    engine,
		broadcast: broadcast,
		logger:    logger,
	}
}

// SignalReady 玩家確認就緒
//
// 失敗情況：
//   - 對戰不存在 → ErrNotFound
//   - 非參與者 → ErrForbidden
//   - 對戰已開始或已終局 → ErrBadRequest
//
// 重複訊號與逾時後的遲到訊號都是無聲的 no-op。
func (c *StartCoordinator) SignalReady(sessionID, userID string) error {
	session, ok := c.registry.GetSession(sessionID)
	if !ok {
		return fmt.Errorf("%w: 對戰 %s", ErrNotFound, sessionID)
	}
	if _, ok := session.Participant(userID); !ok {
		return fmt.Errorf("%w: %s 不是這場對戰的參與者", ErrForbidden, userID)
	}

	switch session.State() {
	case StateCreated, StateAwaitingStart:
		// 可以接受就緒訊號
	default:
		return fmt.Errorf("%w: 對戰已開始", ErrBadRequest)
	}

	barrier := c.barrierFor(session)
	if barrier == nil {
		// 會合已在別處解析完畢：逾時拆除（對戰已不存在）或已開賽
		if _, ok := c.registry.GetSession(sessionID); !ok {
			return fmt.Errorf("%w: 對戰 %s", ErrNotFound, sessionID)
		}
		return fmt.Errorf("%w: 對戰已開始", ErrBadRequest)
	}

	barrier.mu.Lock()
	if barrier.resolved {
		// 逾時後的遲到訊號
		barrier.mu.Unlock()
		return nil
	}
	barrier.ready[userID] = true
	complete := barrier.ready[session.Left.ID] && barrier.ready[session.Right.ID]
	if complete {
		barrier.resolved = true
		barrier.timer.Stop()
	}
	barrier.mu.Unlock()

	c.logger.Info("玩家已就緒",
		"session_id", sessionID,
		"user_id", userID,
		"complete", complete)

	if complete {
		// 先讓引擎接管、再讓屏障退場：退場前遲到的重複訊號
		// 只會命中 resolved 的 no-op 路徑，不會造出第二個屏障
		c.engine.Attach(session)
		c.removeBarrier(sessionID)
	}
	return nil
}

// barrierFor 取得或惰性創建屏障；創建即啟動逾時計時器
//
// 惰性創建前在協調器鎖下重新確認對戰仍存在且尚未開賽：呼叫者的
// 前置檢查與這裡之間可能插入一整段逾時拆除或開賽流程，此時返回
// nil 而不是為一場已消失或進行中的對戰造出帶著新計時器的屏障。
func (c *StartCoordinator) barrierFor(session *GameSession) *startBarrier {
	c.mu.Lock()
	defer c.mu.Unlock()

	if barrier, ok := c.barriers[session.ID]; ok {
		return barrier
	}

	if _, ok := c.registry.GetSession(session.ID); !ok {
		return nil
	}

	session.mu.Lock()
	if session.state != StateCreated && session.state != StateAwaitingStart {
		session.mu.Unlock()
		return nil
	}
	session.state = StateAwaitingStart
	session.mu.Unlock()

	barrier := &startBarrier{ready: make(map[string]bool)}
	barrier.timer = time.AfterFunc(c.timeout, func() {
		c.expire(session)
	})
	c.barriers[session.ID] = barrier

	return barrier
}

// expire 逾時解析：刪除對戰、釋放索引、通知取消
//
// 屏障要等到對戰從註冊表刪除之後才退場，確保拆除期間的遲到訊號
// 找得到已解析的屏障（而不是重新創建一個）。
func (c *StartCoordinator) expire(session *GameSession) {
	c.mu.Lock()
	barrier, ok := c.barriers[session.ID]
	c.mu.Unlock()
	if !ok {
		return
	}

	barrier.mu.Lock()
	if barrier.resolved {
		barrier.mu.Unlock()
		return
	}
	barrier.resolved = true
	barrier.mu.Unlock()

	c.logger.Warn("開賽會合逾時，對戰取消",
		"session_id", session.ID,
		"timeout", c.timeout)

	event := Event{
		Type: EventSessionCancelled,
		Data: SessionCancelledPayload{SessionID: session.ID, Reason: "start timeout"},
	}
	c.broadcast.ToSession(session.ID, event)
	c.broadcast.ToUser(session.Left.ID, event)
	c.broadcast.ToUser(session.Right.ID, event)

	c.registry.DeleteSession(session.ID)
	c.broadcast.CloseSession(session.ID)

	c.removeBarrier(session.ID)
}

// removeBarrier 解析後退場
func (c *StartCoordinator) removeBarrier(sessionID string) {
	c.mu.Lock()
	delete(c.barriers, sessionID)
	c.mu.Unlock()
}

// Stop 停掉所有未解析屏障的計時器（服務關閉用）
func (c *StartCoordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, barrier := range c.barriers {
		barrier.mu.Lock()
		barrier.resolved = true
		barrier.timer.Stop()
		barrier.mu.Unlock()
		delete(c.barriers, id)
	}
}
