package internal_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-match-service/internal"
)

// TestMatchmaker_Enqueue 測試 FIFO 配對
func TestMatchmaker_Enqueue(t *testing.T) {
	stack := newTestStack(t, time.Minute)

	// 一個人不夠配對
	require.NoError(t, stack.matchmaker.Enqueue("alice"))
	assert.Equal(t, 1, stack.matchmaker.QueueLength())
	_, ok := stack.registry.GetSessionForUser("alice")
	assert.False(t, ok)

	// 第二個人到齊，立即配對
	require.NoError(t, stack.matchmaker.Enqueue("bob"))
	assert.Equal(t, 0, stack.matchmaker.QueueLength())

	aliceSession, ok := stack.registry.GetSessionForUser("alice")
	require.True(t, ok)
	bobSession, ok := stack.registry.GetSessionForUser("bob")
	require.True(t, ok)
	assert.Equal(t, aliceSession, bobSession)

	// 配出來的是排位賽，等待最久者在左側
	session, ok := stack.registry.GetSession(aliceSession)
	require.True(t, ok)
	assert.True(t, session.Ranked)
	assert.Equal(t, "alice", session.Left.ID)
	assert.Equal(t, "bob", session.Right.ID)

	// 雙方都收到配對通知，大廳也收到公告；公告跳過這一對玩家，
	// 他們已經透過個人通知收到了
	assert.Contains(t, stack.broadcast.userEvents("alice"), internal.EventNewSession)
	assert.Contains(t, stack.broadcast.userEvents("bob"), internal.EventNewSession)
	stack.broadcast.mu.Lock()
	lobbyCount := len(stack.broadcast.lobby)
	lobbyExcepts := stack.broadcast.lobbyExcepts
	stack.broadcast.mu.Unlock()
	assert.Equal(t, 1, lobbyCount)
	require.Len(t, lobbyExcepts, 1)
	assert.ElementsMatch(t, []string{"alice", "bob"}, lobbyExcepts[0])
}

// TestMatchmaker_EnqueueRejections 測試入隊的拒絕情況
func TestMatchmaker_EnqueueRejections(t *testing.T) {
	stack := newTestStack(t, time.Minute)

	require.NoError(t, stack.matchmaker.Enqueue("alice"))

	// 重複入隊
	err := stack.matchmaker.Enqueue("alice")
	assert.ErrorIs(t, err, internal.ErrConflict)

	// 已在對戰中
	require.NoError(t, stack.matchmaker.Enqueue("bob"))
	err = stack.matchmaker.Enqueue("alice")
	assert.ErrorIs(t, err, internal.ErrAlreadyInSession)
}

// TestMatchmaker_Dequeue 測試離隊
func TestMatchmaker_Dequeue(t *testing.T) {
	stack := newTestStack(t, time.Minute)

	require.NoError(t, stack.matchmaker.Enqueue("alice"))
	require.NoError(t, stack.matchmaker.Dequeue("alice"))
	assert.Equal(t, 0, stack.matchmaker.QueueLength())

	// 離隊後 bob 入隊不會配到已離隊的 alice
	require.NoError(t, stack.matchmaker.Enqueue("bob"))
	assert.Equal(t, 1, stack.matchmaker.QueueLength())

	// 不在佇列中
	err := stack.matchmaker.Dequeue("alice")
	assert.ErrorIs(t, err, internal.ErrNotFound)
}

// TestMatchmaker_Invite 測試邀請流程
func TestMatchmaker_Invite(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		stack := newTestStack(t, time.Minute)
		stack.directory.Register("alice", "Alice")
		stack.directory.Register("bob", "Bob")

		session, err := stack.matchmaker.Invite("alice", "bob", "ocean")
		require.NoError(t, err)
		assert.False(t, session.Ranked)
		assert.Equal(t, "ocean", session.Map())
		assert.Equal(t, "alice", session.Left.ID)
		assert.Equal(t, "Bob", session.Right.Name)

		// 雙方都收到通知，但邀請賽不公告到大廳
		assert.Contains(t, stack.broadcast.userEvents("alice"), internal.EventNewSession)
		assert.Contains(t, stack.broadcast.userEvents("bob"), internal.EventNewSession)
		stack.broadcast.mu.Lock()
		lobbyCount := len(stack.broadcast.lobby)
		stack.broadcast.mu.Unlock()
		assert.Equal(t, 0, lobbyCount)
	})

	t.Run("default map when omitted", func(t *testing.T) {
		stack := newTestStack(t, time.Minute)
		session, err := stack.matchmaker.Invite("alice", "bob", "")
		require.NoError(t, err)
		assert.Equal(t, internal.DefaultMap, session.Map())
	})

	t.Run("blocked pair", func(t *testing.T) {
		stack := newTestStack(t, time.Minute)
		stack.directory.Block("bob", "alice")

		// 封鎖是雙向否決：任一方封鎖另一方就不能開局
		_, err := stack.matchmaker.Invite("alice", "bob", "")
		assert.ErrorIs(t, err, internal.ErrForbidden)
		_, err = stack.matchmaker.Invite("bob", "alice", "")
		assert.ErrorIs(t, err, internal.ErrForbidden)
	})

	t.Run("inviter already in a session", func(t *testing.T) {
		stack := newTestStack(t, time.Minute)
		_, err := stack.matchmaker.Invite("alice", "bob", "")
		require.NoError(t, err)

		_, err = stack.matchmaker.Invite("alice", "carol", "")
		assert.ErrorIs(t, err, internal.ErrBadRequest)
	})

	t.Run("opponent already in a session", func(t *testing.T) {
		stack := newTestStack(t, time.Minute)
		_, err := stack.matchmaker.Invite("bob", "carol", "")
		require.NoError(t, err)

		_, err = stack.matchmaker.Invite("alice", "bob", "")
		assert.ErrorIs(t, err, internal.ErrConflict)
	})

	t.Run("either side still queued", func(t *testing.T) {
		stack := newTestStack(t, time.Minute)
		require.NoError(t, stack.matchmaker.Enqueue("alice"))

		_, err := stack.matchmaker.Invite("alice", "bob", "")
		assert.ErrorIs(t, err, internal.ErrConflict)
		_, err = stack.matchmaker.Invite("bob", "alice", "")
		assert.ErrorIs(t, err, internal.ErrConflict)
	})

	t.Run("unknown opponent without auto register", func(t *testing.T) {
		logger := testLogger()
		registry := internal.NewRegistry(logger)
		directory := internal.NewStaticDirectory(false)
		directory.Register("alice", "Alice")
		broadcast := newRecordingBroadcaster()
		matchmaker := internal.NewMatchmaker(registry, directory, broadcast, logger)

		_, err := matchmaker.Invite("alice", "ghost", "")
		assert.ErrorIs(t, err, internal.ErrNotFound)
	})

	t.Run("self invite", func(t *testing.T) {
		stack := newTestStack(t, time.Minute)
		_, err := stack.matchmaker.Invite("alice", "alice", "")
		assert.ErrorIs(t, err, internal.ErrBadRequest)
	})
}
