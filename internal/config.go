package internal

import "time"

// Config 對戰服務配置
type Config struct {
	// HTTP 服務配置
	HTTPPort string

	// 運行環境（dev / prod），決定開賽逾時窗口
	Env string

	// 外部依賴連線（留空表示使用記憶體實作）
	RedisAddr   string
	PostgresURL string
	NATSUrl     string

	// 對戰模擬配置
	Game GameConfig
}

// GameConfig 模擬引擎配置
//
// 這些參數不對玩家暴露，只影響伺服器端的模擬節奏：
//   - TickInterval：物理推進間隔，預設 10ms（100 ticks/s）
//   - ServeDelay：得分後的發球延遲，期間該場暫停移動但照常廣播
//   - StartTimeout：開賽屏障的逾時窗口（開發環境短、生產環境長）
//   - WinScore：先得此分數者獲勝
type GameConfig struct {
	TickInterval time.Duration
	ServeDelay   time.Duration
	StartTimeout time.Duration
	WinScore     int
}

const (
	// DevStartTimeout 開發環境的開賽逾時（快速失敗，方便除錯）
	DevStartTimeout = 10 * time.Second

	// ProdStartTimeout 生產環境的開賽逾時（容忍較慢的客戶端載入）
	ProdStartTimeout = 60 * time.Second
)

// DefaultConfig 返回預設配置（開發環境）
func DefaultConfig() *Config {
	return &Config{
		HTTPPort: "8080",
		Env:      "dev",
		Game: GameConfig{
			TickInterval: 10 * time.Millisecond,
			ServeDelay:   250 * time.Millisecond,
			StartTimeout: DevStartTimeout,
			WinScore:     5,
		},
	}
}
