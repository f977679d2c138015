package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MatchRecord 一場已驗證完賽的戰績
type MatchRecord struct {
	SessionID   string
	WinnerID    string
	LoserID     string
	WinnerScore int
	LoserScore  int
	Ranked      bool
	Cause       string
	FinishedAt  time.Time
}

// MatchRecorder 戰績持久化介面
//
// 每場已驗證的排位完賽恰好呼叫一次；勝敗場次等衍生統計由持久層
// 自行累計，不屬於本服務。
type MatchRecorder interface {
	Record(ctx context.Context, record MatchRecord) error
}

// MemoryRecorder 記憶體戰績（開發 / 測試用）
type MemoryRecorder struct {
	mu      sync.Mutex
	records []MatchRecord
}

// NewMemoryRecorder 創建記憶體戰績
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (m *MemoryRecorder) Record(_ context.Context, record MatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

// Records 返回至今的所有戰績副本
func (m *MemoryRecorder) Records() []MatchRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MatchRecord, len(m.records))
	copy(out, m.records)
	return out
}

// PostgresRecorder PostgreSQL 戰績
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

// NewPostgresRecorder 連線並確保戰績表存在
func NewPostgresRecorder(ctx context.Context, databaseURL string) (*PostgresRecorder, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("連線 PostgreSQL 失敗: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS match_history (
			id           BIGSERIAL PRIMARY KEY,
			session_id   TEXT        NOT NULL,
			winner_id    TEXT        NOT NULL,
			loser_id     TEXT        NOT NULL,
			winner_score INT         NOT NULL,
			loser_score  INT         NOT NULL,
			ranked       BOOLEAN     NOT NULL,
			cause        TEXT        NOT NULL,
			finished_at  TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("初始化戰績表失敗: %w", err)
	}

	return &PostgresRecorder{pool: pool}, nil
}

func (p *PostgresRecorder) Record(ctx context.Context, record MatchRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO match_history
			(session_id, winner_id, loser_id, winner_score, loser_score, ranked, cause, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.SessionID,
		record.WinnerID,
		record.LoserID,
		record.WinnerScore,
		record.LoserScore,
		record.Ranked,
		record.Cause,
		record.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("寫入戰績失敗: %w", err)
	}
	return nil
}

// Close 關閉連線池
func (p *PostgresRecorder) Close() {
	p.pool.Close()
}
