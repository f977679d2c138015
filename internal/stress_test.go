package internal_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-match-service/internal"
)

// TestStress_ConcurrentEnqueue 壓力測試：大量玩家同時入隊
//
// 驗證配對原子性：每名玩家恰好被配對一次，沒有玩家殘留在佇列，
// 也沒有玩家同時出現在兩場對戰。
func TestStress_ConcurrentEnqueue(t *testing.T) {
	if testing.Short() {
		t.Skip("跳過壓力測試")
	}

	stack := newTestStack(t, time.Minute)

	const players = 100
	var wg sync.WaitGroup
	for i := range players {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			err := stack.matchmaker.Enqueue(fmt.Sprintf("player-%d", id))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// 每兩人一場，佇列清空
	assert.Equal(t, 0, stack.matchmaker.QueueLength())

	stats := stack.registry.Stats()
	assert.Equal(t, players/2, stats["total_sessions"])

	// 每名玩家恰好被索引到一場
	seen := make(map[string]int)
	for i := range players {
		userID := fmt.Sprintf("player-%d", i)
		sessionID, ok := stack.registry.GetSessionForUser(userID)
		require.True(t, ok, "玩家 %s 沒有被配對", userID)
		seen[sessionID]++
	}
	assert.Len(t, seen, players/2)
	for sessionID, count := range seen {
		assert.Equal(t, 2, count, "對戰 %s 的參與者數量異常", sessionID)
	}
}

// TestStress_ConcurrentSessions 壓力測試：多場對戰並行推進互不干擾
func TestStress_ConcurrentSessions(t *testing.T) {
	if testing.Short() {
		t.Skip("跳過壓力測試")
	}

	stack := newTestStack(t, time.Minute)

	const sessions = 20
	ids := make([]string, 0, sessions)
	for i := range sessions {
		session, err := stack.matchmaker.Invite(
			fmt.Sprintf("left-%d", i),
			fmt.Sprintf("right-%d", i),
			"",
		)
		require.NoError(t, err)
		require.NoError(t, stack.start.SignalReady(session.ID, session.Left.ID))
		require.NoError(t, stack.start.SignalReady(session.ID, session.Right.ID))
		ids = append(ids, session.ID)
	}

	// 所有對戰都在廣播各自的 tick
	assert.Eventually(t, func() bool {
		for _, id := range ids {
			found := false
			for _, name := range stack.broadcast.sessionEvents(id) {
				if name == internal.EventTick {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)

	// 同時操作不同場的球拍
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(sessionID, userID string) {
			defer wg.Done()
			for range 50 {
				if err := stack.engine.MovePaddle(sessionID, userID, "up"); err != nil {
					// 該場可能已自然終局
					return
				}
			}
		}(id, fmt.Sprintf("left-%d", i))
	}
	wg.Wait()

	// 中止其中一半，另一半必須不受影響
	for i := 0; i < sessions/2; i++ {
		stack.engine.Abort(ids[i], internal.SideLeft, internal.CauseDisconnect)
	}
	for i := sessions / 2; i < sessions; i++ {
		if session, ok := stack.registry.GetSession(ids[i]); ok {
			assert.Equal(t, internal.StateRunning, session.State())
		}
	}
}
