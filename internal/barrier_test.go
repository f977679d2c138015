package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T) (*StartCoordinator, *Engine, *Registry, *captureBroadcaster) {
	t.Helper()
	engine, registry, _, broadcast, _, _ := newTestEngine(t)
	coord := NewStartCoordinator(time.Hour, registry, engine, broadcast, testLogger())
	t.Cleanup(coord.Stop)
	return coord, engine, registry, broadcast
}

func countUserEvents(b *captureBroadcaster, userID, eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.user[userID] {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// TestStartCoordinator_LateSignalDuringTeardown 測試逾時拆除與遲到
// 就緒訊號的交錯：呼叫者已通過前置檢查並持有對戰引用，逾時拆除在
// 它取得屏障之前整段跑完。遲到者不能造出第二個屏障，引擎也不能
// 接管一場已從註冊表刪除的對戰。
func TestStartCoordinator_LateSignalDuringTeardown(t *testing.T) {
	coord, _, registry, broadcast := newTestCoordinator(t)

	session, err := registry.CreateSession(
		Player{ID: "alice", Name: "Alice"},
		Player{ID: "bob", Name: "Bob"},
		DefaultMap,
		true,
	)
	require.NoError(t, err)
	require.NoError(t, coord.SignalReady(session.ID, "alice"))

	coord.expire(session)

	_, ok := registry.GetSession(session.ID)
	assert.False(t, ok)

	// 遲到者重新進場：屏障不得惰性重生
	assert.Nil(t, coord.barrierFor(session))
	coord.mu.Lock()
	assert.Empty(t, coord.barriers)
	coord.mu.Unlock()

	assert.ErrorIs(t, coord.SignalReady(session.ID, "alice"), ErrNotFound)
	assert.ErrorIs(t, coord.SignalReady(session.ID, "bob"), ErrNotFound)

	// 引擎沒有接管，也沒有任何 tick 廣播出去
	assert.NotEqual(t, StateRunning, session.State())
	assert.NotContains(t, broadcast.sessionEvents(), EventTick)

	// 取消事件恰好每人一次，殘留計時器重入也不會再發
	assert.Equal(t, 1, countUserEvents(broadcast, "alice", EventSessionCancelled))
	assert.Equal(t, 1, countUserEvents(broadcast, "bob", EventSessionCancelled))
	coord.expire(session)
	assert.Equal(t, 1, countUserEvents(broadcast, "alice", EventSessionCancelled))
}

// TestStartCoordinator_StaleTimerAfterStart 測試開賽後的殘留路徑：
// 已開賽的對戰既不能掛上新屏障，殘留計時器重入也不能拆掉它。
func TestStartCoordinator_StaleTimerAfterStart(t *testing.T) {
	coord, _, registry, broadcast := newTestCoordinator(t)

	session, err := registry.CreateSession(
		Player{ID: "alice", Name: "Alice"},
		Player{ID: "bob", Name: "Bob"},
		DefaultMap,
		true,
	)
	require.NoError(t, err)
	require.NoError(t, coord.SignalReady(session.ID, "alice"))
	require.NoError(t, coord.SignalReady(session.ID, "bob"))
	require.Equal(t, StateRunning, session.State())

	assert.Nil(t, coord.barrierFor(session))
	coord.mu.Lock()
	assert.Empty(t, coord.barriers)
	coord.mu.Unlock()

	coord.expire(session)

	assert.Equal(t, StateRunning, session.State())
	_, ok := registry.GetSession(session.ID)
	assert.True(t, ok)
	assert.Zero(t, countUserEvents(broadcast, "alice", EventSessionCancelled))
	assert.Zero(t, countUserEvents(broadcast, "bob", EventSessionCancelled))
}
