package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/14-match-service/internal"
)

func main() {
	// 解析命令行參數
	var (
		port      = flag.Int("port", 8080, "服務器端口")
		logLevel  = flag.String("log-level", "info", "日誌級別 (debug, info, warn, error)")
		logFormat = flag.String("log-format", "text", "日誌格式 (text, json)")
		env       = flag.String("env", "dev", "運行環境 (dev, prod)")
		redisAddr = flag.String("redis", "", "Redis 地址（留空使用記憶體天梯）")
		pgURL     = flag.String("postgres", "", "PostgreSQL 連線字串（留空使用記憶體對戰歷史）")
		natsURL   = flag.String("nats", "", "NATS 地址（留空不鏡射事件）")
	)
	flag.Parse()

	// 設置日誌
	logger := setupLogger(*logLevel, *logFormat)

	// 組裝配置
	cfg := internal.DefaultConfig()
	cfg.HTTPPort = fmt.Sprintf("%d", *port)
	cfg.Env = *env
	cfg.RedisAddr = *redisAddr
	cfg.PostgresURL = *pgURL
	cfg.NATSUrl = *natsURL
	if cfg.Env == "prod" {
		cfg.Game.StartTimeout = internal.ProdStartTimeout
	}

	// 玩家目錄（autoRegister：未註冊的 ID 用 ID 當顯示名稱）
	directory := internal.NewStaticDirectory(true)

	// 對戰索引
	registry := internal.NewRegistry(logger)

	// WebSocket Hub
	hub := internal.NewWebSocketHub(registry, directory, logger)

	// 廣播鏈：Hub 管即時推送；配置了 NATS 時再鏡射到 JetStream
	var broadcast internal.Broadcaster = hub
	var publisher *internal.EventPublisher
	if cfg.NATSUrl != "" {
		var err error
		publisher, err = internal.NewEventPublisher(cfg.NATSUrl, logger)
		if err != nil {
			logger.Error("初始化事件發佈器失敗", "error", err)
			os.Exit(1)
		}
		broadcast = internal.NewTeeBroadcaster(hub, publisher)
	}

	// 天梯存儲
	var ladder internal.LadderStore
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			logger.Error("連接 Redis 失敗", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		ladder = internal.NewRedisLadder(client)
		logger.Info("使用 Redis 天梯", "addr", cfg.RedisAddr)
	} else {
		ladder = internal.NewMemoryLadder()
		logger.Info("使用記憶體天梯")
	}

	// 對戰歷史
	var recorder internal.MatchRecorder
	var pgRecorder *internal.PostgresRecorder
	if cfg.PostgresURL != "" {
		var err error
		pgRecorder, err = internal.NewPostgresRecorder(context.Background(), cfg.PostgresURL)
		if err != nil {
			logger.Error("初始化對戰歷史存儲失敗", "error", err)
			os.Exit(1)
		}
		recorder = pgRecorder
		logger.Info("使用 PostgreSQL 對戰歷史")
	} else {
		recorder = internal.NewMemoryRecorder()
	}

	// 核心組件
	matchmaker := internal.NewMatchmaker(registry, directory, broadcast, logger)
	engine := internal.NewEngine(cfg.Game, registry, broadcast, logger)
	arbiter := internal.NewArbiter(registry, engine, ladder, recorder, broadcast, logger)
	engine.SetFinisher(arbiter)
	start := internal.NewStartCoordinator(cfg.Game.StartTimeout, registry, engine, broadcast, logger)

	// WebSocket 事件入口：斷線即棄賽、就緒訊號、球拍輸入
	hub.OnDisconnect = func(sessionID, userID string) {
		session, ok := registry.GetSession(sessionID)
		if !ok {
			return
		}
		side, ok := session.Participant(userID)
		if !ok {
			return
		}
		engine.Abort(sessionID, side, internal.CauseDisconnect)
	}
	hub.OnReady = start.SignalReady
	hub.OnMove = engine.MovePaddle

	// HTTP 處理器
	handler := internal.NewHandler(matchmaker, registry, start, engine, arbiter, ladder, directory, broadcast, logger)

	// 設置路由
	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	mux.HandleFunc("/ws/sessions/{session_id}", hub.ServeSession)
	mux.HandleFunc("/ws/lobby", hub.ServeLobby)

	// 創建 HTTP 服務器
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 啟動服務器
	go func() {
		logger.Info("對戰服務器啟動",
			"port", *port,
			"env", cfg.Env,
			"tick_interval", cfg.Game.TickInterval,
			"start_timeout", cfg.Game.StartTimeout)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("服務器啟動失敗", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("收到關閉信號，開始優雅關閉...")

	// 優雅關閉
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 停止接受新連接
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("服務器關閉失敗", "error", err)
	}

	// 停止模擬引擎與開賽協調器
	engine.Stop()
	start.Stop()

	// 停止 WebSocket Hub
	hub.Stop()

	// 關閉外部連線
	if publisher != nil {
		publisher.Close()
	}
	if pgRecorder != nil {
		pgRecorder.Close()
	}

	logger.Info("服務器已關閉")
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug", // debug 模式顯示源碼位置
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
