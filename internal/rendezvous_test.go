package internal_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-match-service/internal"
)

// TestStartCoordinator_BothReady 測試雙方就緒後引擎接管
func TestStartCoordinator_BothReady(t *testing.T) {
	stack := newTestStack(t, time.Minute)
	session, err := stack.matchmaker.Invite("alice", "bob", "")
	require.NoError(t, err)

	require.NoError(t, stack.start.SignalReady(session.ID, "alice"))
	assert.Equal(t, internal.StateAwaitingStart, session.State())

	require.NoError(t, stack.start.SignalReady(session.ID, "bob"))
	assert.Equal(t, internal.StateRunning, session.State())

	// 權威模擬開始廣播
	assert.Eventually(t, func() bool {
		for _, name := range stack.broadcast.sessionEvents(session.ID) {
			if name == internal.EventTick {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}

// TestStartCoordinator_DuplicateSignals 測試重複訊號合併
func TestStartCoordinator_DuplicateSignals(t *testing.T) {
	stack := newTestStack(t, time.Minute)
	session, err := stack.matchmaker.Invite("alice", "bob", "")
	require.NoError(t, err)

	// 同一玩家重複確認不會開賽
	require.NoError(t, stack.start.SignalReady(session.ID, "alice"))
	require.NoError(t, stack.start.SignalReady(session.ID, "alice"))
	require.NoError(t, stack.start.SignalReady(session.ID, "alice"))
	assert.Equal(t, internal.StateAwaitingStart, session.State())

	require.NoError(t, stack.start.SignalReady(session.ID, "bob"))
	assert.Equal(t, internal.StateRunning, session.State())
}

// TestStartCoordinator_Rejections 測試就緒訊號的拒絕情況
func TestStartCoordinator_Rejections(t *testing.T) {
	stack := newTestStack(t, time.Minute)
	session, err := stack.matchmaker.Invite("alice", "bob", "")
	require.NoError(t, err)

	// 未知對戰
	err = stack.start.SignalReady("missing", "alice")
	assert.ErrorIs(t, err, internal.ErrNotFound)

	// 非參與者
	err = stack.start.SignalReady(session.ID, "mallory")
	assert.ErrorIs(t, err, internal.ErrForbidden)

	// 已開賽後的就緒訊號
	require.NoError(t, stack.start.SignalReady(session.ID, "alice"))
	require.NoError(t, stack.start.SignalReady(session.ID, "bob"))
	err = stack.start.SignalReady(session.ID, "alice")
	assert.ErrorIs(t, err, internal.ErrBadRequest)
}

// TestStartCoordinator_Timeout 測試單方就緒逾時：對戰取消、索引釋放、雙方收到通知
func TestStartCoordinator_Timeout(t *testing.T) {
	stack := newTestStack(t, 30*time.Millisecond)
	session, err := stack.matchmaker.Invite("alice", "bob", "")
	require.NoError(t, err)

	require.NoError(t, stack.start.SignalReady(session.ID, "alice"))

	assert.Eventually(t, func() bool {
		_, exists := stack.registry.GetSession(session.ID)
		return !exists
	}, time.Second, time.Millisecond)

	// 雙方都收到取消事件（含從未就緒的一方）
	assert.Contains(t, stack.broadcast.userEvents("alice"), internal.EventSessionCancelled)
	assert.Contains(t, stack.broadcast.userEvents("bob"), internal.EventSessionCancelled)

	// 索引已釋放，雙方可以立即重新排隊
	require.NoError(t, stack.matchmaker.Enqueue("alice"))
	require.NoError(t, stack.matchmaker.Enqueue("bob"))

	// 對戰已刪除，遲到的訊號只會看到 NotFound
	assert.ErrorIs(t, stack.start.SignalReady(session.ID, "bob"), internal.ErrNotFound)
}

// TestStartCoordinator_ReadyStopsTimer 測試成功開賽後殘留計時器不會拆掉進行中的對戰
func TestStartCoordinator_ReadyStopsTimer(t *testing.T) {
	stack := newTestStack(t, 30*time.Millisecond)
	session, err := stack.matchmaker.Invite("alice", "bob", "")
	require.NoError(t, err)

	require.NoError(t, stack.start.SignalReady(session.ID, "alice"))
	require.NoError(t, stack.start.SignalReady(session.ID, "bob"))
	require.Equal(t, internal.StateRunning, session.State())

	// 越過原本的逾時窗口，對戰必須還活著
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, internal.StateRunning, session.State())
	_, exists := stack.registry.GetSession(session.ID)
	assert.True(t, exists)
}
