package internal

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultLadder 新玩家的起始天梯分
const DefaultLadder = 1000

// ladderGapScale 天梯差距對增量的縮放分母
const ladderGapScale = 42.0

// LadderDelta 計算排位賽勝方的天梯增量
//
// 純函數：只依賴賽前雙方天梯分與最終比分。
//
//	gap      = |winnerLadder - loserLadder|
//	scoreGap = |winnerScore - loserScore|
//	高分打贏低分：delta = max(floor(scoreGap × (1 - gap/42)), 1)（贏弱者至少 +1）
//	低分打贏高分：delta = floor(scoreGap × (1 + gap/42))（爆冷按差距放大）
//
// 敗方天梯分不受此計算影響；勝敗場次由持久層另行累計。
func LadderDelta(winnerLadder, loserLadder, winnerScore, loserScore int) int {
	gap := math.Abs(float64(winnerLadder - loserLadder))
	scoreGap := math.Abs(float64(winnerScore - loserScore))

	if winnerLadder >= loserLadder {
		delta := int(math.Floor(scoreGap * (1 - gap/ladderGapScale)))
		if delta < 1 {
			delta = 1
		}
		return delta
	}
	return int(math.Floor(scoreGap * (1 + gap/ladderGapScale)))
}

// LadderEntry 天梯排行項
type LadderEntry struct {
	UserID string `json:"userId"`
	Ladder int    `json:"ladder"`
}

// LadderStore 天梯儲存介面
type LadderStore interface {
	// Ladder 讀取玩家天梯分，未上榜者視為 DefaultLadder
	Ladder(ctx context.Context, userID string) (int, error)

	// ApplyDelta 套用增量並返回新天梯分
	ApplyDelta(ctx context.Context, userID string, delta int) (int, error)

	// Top 讀取前 n 名
	Top(ctx context.Context, n int) ([]LadderEntry, error)
}

// MemoryLadder 記憶體天梯（開發 / 測試用）
type MemoryLadder struct {
	mu      sync.RWMutex
	ladders map[string]int
}

// NewMemoryLadder 創建記憶體天梯
func NewMemoryLadder() *MemoryLadder {
	return &MemoryLadder{ladders: make(map[string]int)}
}

func (m *MemoryLadder) Ladder(_ context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ladder, ok := m.ladders[userID]; ok {
		return ladder, nil
	}
	return DefaultLadder, nil
}

func (m *MemoryLadder) ApplyDelta(_ context.Context, userID string, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.ladders[userID]
	if !ok {
		current = DefaultLadder
	}
	m.ladders[userID] = current + delta
	return current + delta, nil
}

func (m *MemoryLadder) Top(_ context.Context, n int) ([]LadderEntry, error) {
	m.mu.RLock()
	entries := make([]LadderEntry, 0, len(m.ladders))
	for id, ladder := range m.ladders {
		entries = append(entries, LadderEntry{UserID: id, Ladder: ladder})
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Ladder > entries[j].Ladder })
	if n < len(entries) {
		entries = entries[:n]
	}
	return entries, nil
}

// RedisLadder Redis 天梯
//
// 系統設計考量：
//   - Sorted Set 天然就是排行榜：ZSCORE 查分、ZINCRBY 加分、
//     ZREVRANGE 取前 n 名，全部 O(log N)
//   - 「未上榜視為起始分」+「加增量」必須是一個原子操作，否則兩場
//     同時結算同一玩家會丟失一次增量 —— 用 Lua 腳本在 Redis 端
//     單次執行完整邏輯
type RedisLadder struct {
	client *redis.Client
	key    string
	script *redis.Script
}

// Lua 腳本：讀取現值（缺席視為起始分）→ 加增量 → 寫回 → 返回新值
var ladderDeltaScript = redis.NewScript(`
local current = redis.call('ZSCORE', KEYS[1], ARGV[1])
if current then
  current = tonumber(current)
else
  current = tonumber(ARGV[3])
end
local updated = current + tonumber(ARGV[2])
redis.call('ZADD', KEYS[1], updated, ARGV[1])
return updated
`)

// NewRedisLadder 創建 Redis 天梯
func NewRedisLadder(client *redis.Client) *RedisLadder {
	return &RedisLadder{
		client: client,
		key:    "match:ladder",
		script: ladderDeltaScript,
	}
}

func (r *RedisLadder) Ladder(ctx context.Context, userID string) (int, error) {
	score, err := r.client.ZScore(ctx, r.key, userID).Result()
	if err == redis.Nil {
		return DefaultLadder, nil
	}
	if err != nil {
		return 0, fmt.Errorf("讀取天梯失敗: %w", err)
	}
	return int(score), nil
}

func (r *RedisLadder) ApplyDelta(ctx context.Context, userID string, delta int) (int, error) {
	result, err := r.script.Run(ctx, r.client,
		[]string{r.key}, userID, delta, DefaultLadder).Int()
	if err != nil {
		return 0, fmt.Errorf("套用天梯增量失敗: %w", err)
	}
	return result, nil
}

func (r *RedisLadder) Top(ctx context.Context, n int) ([]LadderEntry, error) {
	members, err := r.client.ZRevRangeWithScores(ctx, r.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("讀取天梯排行失敗: %w", err)
	}
	entries := make([]LadderEntry, 0, len(members))
	for _, m := range members {
		userID, _ := m.Member.(string)
		entries = append(entries, LadderEntry{UserID: userID, Ladder: int(m.Score)})
	}
	return entries, nil
}
