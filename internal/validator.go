package internal

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// 系統設計問題：
//   終局有兩個來源 —— 引擎自己的勝利偵測，以及客戶端自行回報的
//   完成事件。誰是事實來源？
//
// 方案（防作弊立場）：
//   引擎狀態是唯一權威。客戶端回報只作為保守的完整性檢查：
//     - 回報格式非法（比分不是恰好兩個值、平手、超出 [0,WinScore]）
//       → 拒絕；若該場還在進行中，視為可疑並強制中止，責任歸回報方
//     - 回報合法但與引擎當前狀態不符 → 同樣強制中止
//     - 回報合法且與引擎狀態一致 → 無害的確認，no-op
//   任何驗證失敗都不會以靜默懸掛收場：對手會收到點名責任方的中止事件。

// Arbiter 終局仲裁者：結果驗證 + 天梯更新 + 對戰拆除
//
// 它是對戰離開系統的唯一出口：引擎的勝利 / 中止路徑和客戶端回報
// 路徑最後都匯到 Finalize。
type Arbiter struct {
	registry  *Registry
	engine    *Engine
	ladder    LadderStore
	recorder  MatchRecorder
	broadcast Broadcaster
	logger    *slog.Logger
}

// NewArbiter 創建終局仲裁者
func NewArbiter(registry *Registry, engine *Engine, ladder LadderStore, recorder MatchRecorder, broadcast Broadcaster, logger *slog.Logger) *Arbiter {
	return &Arbiter{
		registry:  registry,
		engine:    engine,
		ladder:    ladder,
		recorder:  recorder,
		broadcast: broadcast,
		logger:    logger,
	}
}

// ValidateReportedScores 檢查回報比分的合法性
//
// 合法比分：恰好兩個值、不相等（本遊戲沒有平手）、都在 [0, winScore] 內。
func ValidateReportedScores(scores []int, winScore int) error {
	if len(scores) != 2 {
		return fmt.Errorf("%w: 比分必須恰好兩個值", ErrBadRequest)
	}
	if scores[0] == scores[1] {
		return fmt.Errorf("%w: 比分不能相等", ErrBadRequest)
	}
	for _, s := range scores {
		if s < 0 || s > winScore {
			return fmt.Errorf("%w: 比分 %d 超出範圍 [0,%d]", ErrBadRequest, s, winScore)
		}
	}
	return nil
}

// ReportResult 處理客戶端回報的完成事件
func (a *Arbiter) ReportResult(sessionID, reporterID string, scores []int) error {
	session, ok := a.registry.GetSession(sessionID)
	if !ok {
		// 格式錯誤與未知 id 一視同仁：都是壞請求，不洩漏對戰存在性
		return fmt.Errorf("%w: 未知的對戰 id", ErrBadRequest)
	}
	side, ok := session.Participant(reporterID)
	if !ok {
		return fmt.Errorf("%w: %s 不是這場對戰的參與者", ErrForbidden, reporterID)
	}

	if err := ValidateReportedScores(scores, a.engine.cfg.WinScore); err != nil {
		if session.State() == StateRunning {
			a.engine.Abort(sessionID, side, CauseInvalidReport)
		}
		return err
	}

	session.mu.Lock()
	state := session.state
	var current [2]int
	if session.scores != nil {
		current = *session.scores
	}
	session.mu.Unlock()

	if state != StateRunning {
		return fmt.Errorf("%w: 對戰不在進行中", ErrBadRequest)
	}

	// 與引擎狀態一致且已達勝分 → 引擎的發球延遲路徑即將收尾，確認即可
	winScore := a.engine.cfg.WinScore
	if current[0] == scores[0] && current[1] == scores[1] &&
		(current[0] >= winScore || current[1] >= winScore) {
		return nil
	}

	// 與權威狀態不符的「完成」回報：可疑，強制中止並點名回報方
	a.engine.Abort(sessionID, side, CauseInvalidReport)
	return fmt.Errorf("%w: 回報比分與對戰狀態不符", ErrBadRequest)
}

// Finalize 終局收尾（實作 Finisher）
//
// 順序固定：通知 → 天梯（僅排位）→ 戰績記錄（僅排位）→ 刪除對戰
// → 關閉該場連線。天梯或記錄失敗只記日誌，絕不影響對戰拆除，
// 更不影響其他場。
func (a *Arbiter) Finalize(session *GameSession, winner Side, cause FinishCause) {
	if cause == CauseWin {
		a.broadcast.ToSession(session.ID, Event{
			Type: EventSessionCompleted,
			Data: SessionCompletedPayload{WinnerSide: winner},
		})
	} else {
		a.broadcast.ToSession(session.ID, Event{
			Type: EventSessionAborted,
			Data: SessionAbortedPayload{Side: winner.Opposite()},
		})
	}

	if session.Ranked {
		a.settleRanked(session, winner, cause)
	}

	a.registry.DeleteSession(session.ID)
	a.broadcast.CloseSession(session.ID)

	a.logger.Info("對戰已收尾",
		"session_id", session.ID,
		"winner", winner,
		"cause", cause,
		"ranked", session.Ranked)
}

// settleRanked 排位賽結算：天梯增量 + 戰績入庫
func (a *Arbiter) settleRanked(session *GameSession, winner Side, cause FinishCause) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	scores, _ := session.Scores()
	winnerPlayer := session.PlayerOn(winner)
	loserPlayer := session.PlayerOn(winner.Opposite())
	winnerScore := scores[winner.scoreIndex()]
	loserScore := scores[winner.Opposite().scoreIndex()]

	winnerLadder, err := a.ladder.Ladder(ctx, winnerPlayer.ID)
	if err != nil {
		a.logger.Error("讀取勝方天梯失敗", "user_id", winnerPlayer.ID, "error", err)
		return
	}
	loserLadder, err := a.ladder.Ladder(ctx, loserPlayer.ID)
	if err != nil {
		a.logger.Error("讀取敗方天梯失敗", "user_id", loserPlayer.ID, "error", err)
		return
	}

	delta := LadderDelta(winnerLadder, loserLadder, winnerScore, loserScore)
	newLadder, err := a.ladder.ApplyDelta(ctx, winnerPlayer.ID, delta)
	if err != nil {
		a.logger.Error("套用天梯增量失敗", "user_id", winnerPlayer.ID, "error", err)
		return
	}

	a.broadcast.ToLobby(Event{
		Type: EventLadderUpdate,
		Data: LadderUpdatePayload{WinnerID: winnerPlayer.ID, Ladder: newLadder},
	})

	record := MatchRecord{
		SessionID:   session.ID,
		WinnerID:    winnerPlayer.ID,
		LoserID:     loserPlayer.ID,
		WinnerScore: winnerScore,
		LoserScore:  loserScore,
		Ranked:      true,
		Cause:       string(cause),
		FinishedAt:  time.Now(),
	}
	if err := a.recorder.Record(ctx, record); err != nil {
		a.logger.Error("戰績入庫失敗", "session_id", session.ID, "error", err)
	}

	a.logger.Info("天梯已更新",
		"winner", winnerPlayer.ID,
		"delta", delta,
		"ladder", newLadder)
}
