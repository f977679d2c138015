package internal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Handler HTTP 請求處理器
type Handler struct {
	matchmaker *Matchmaker
	registry   *Registry
	start      *StartCoordinator
	engine     *Engine
	arbiter    *Arbiter
	ladder     LadderStore
	directory  *StaticDirectory
	broadcast  Broadcaster
	logger     *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(
	matchmaker *Matchmaker,
	registry *Registry,
	start *StartCoordinator,
	engine *Engine,
	arbiter *Arbiter,
	ladder LadderStore,
	directory *StaticDirectory,
	broadcast Broadcaster,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		matchmaker: matchmaker,
		registry:   registry,
		start:      start,
		engine:     engine,
		arbiter:    arbiter,
		ladder:     ladder,
		directory:  directory,
		broadcast:  broadcast,
		logger:     logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// 配對隊列 API
	mux.HandleFunc("POST /api/v1/queue/join", wrap(h.joinQueue))
	mux.HandleFunc("POST /api/v1/queue/leave", wrap(h.leaveQueue))

	// 對戰 API
	mux.HandleFunc("POST /api/v1/sessions/invite", wrap(h.invite))
	mux.HandleFunc("POST /api/v1/sessions/{session_id}/ready", wrap(h.signalReady))
	mux.HandleFunc("POST /api/v1/sessions/{session_id}/map", wrap(h.changeMap))
	mux.HandleFunc("POST /api/v1/sessions/{session_id}/move", wrap(h.movePaddle))
	mux.HandleFunc("POST /api/v1/sessions/{session_id}/result", wrap(h.reportResult))
	mux.HandleFunc("GET /api/v1/sessions", wrap(h.listSessions))

	// 天梯 API
	mux.HandleFunc("GET /api/v1/ladder", wrap(h.topLadder))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

// 請求結構
type joinQueueRequest struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name,omitempty"`
}

type leaveQueueRequest struct {
	PlayerID string `json:"player_id"`
}

type inviteRequest struct {
	PlayerID   string `json:"player_id"`
	OpponentID string `json:"opponent_id"`
	Map        string `json:"map,omitempty"`
}

type readyRequest struct {
	PlayerID string `json:"player_id"`
}

type changeMapRequest struct {
	PlayerID string `json:"player_id"`
	Map      string `json:"map"`
}

type moveRequest struct {
	PlayerID  string `json:"player_id"`
	Direction string `json:"direction"`
}

type reportResultRequest struct {
	PlayerID string `json:"player_id"`
	Scores   []int  `json:"scores"`
}

// joinQueue 加入排位配對隊列
func (h *Handler) joinQueue(w http.ResponseWriter, r *http.Request) {
	var req joinQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "無效的請求格式", http.StatusBadRequest)
		return
	}
	if req.PlayerID == "" {
		h.errorResponse(w, "玩家ID為必填", http.StatusBadRequest)
		return
	}
	if req.PlayerName != "" {
		h.directory.Register(req.PlayerID, req.PlayerName)
	}

	if err := h.matchmaker.Enqueue(req.PlayerID); err != nil {
		h.errorResponse(w, err.Error(), h.statusForError(err))
		return
	}

	h.jsonResponse(w, map[string]any{
		"success":      true,
		"queue_length": h.matchmaker.QueueLength(),
	}, http.StatusOK)
}

// leaveQueue 離開配對隊列
func (h *Handler) leaveQueue(w http.ResponseWriter, r *http.Request) {
	var req leaveQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "無效的請求格式", http.StatusBadRequest)
		return
	}
	if req.PlayerID == "" {
		h.errorResponse(w, "玩家ID為必填", http.StatusBadRequest)
		return
	}

	if err := h.matchmaker.Dequeue(req.PlayerID); err != nil {
		h.errorResponse(w, err.Error(), h.statusForError(err))
		return
	}

	h.jsonResponse(w, map[string]any{"success": true}, http.StatusOK)
}

// invite 邀請指定玩家進行非排位對戰
func (h *Handler) invite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "無效的請求格式", http.StatusBadRequest)
		return
	}
	if req.PlayerID == "" || req.OpponentID == "" {
		h.errorResponse(w, "玩家資訊不完整", http.StatusBadRequest)
		return
	}

	session, err := h.matchmaker.Invite(req.PlayerID, req.OpponentID, req.Map)
	if err != nil {
		h.errorResponse(w, err.Error(), h.statusForError(err))
		return
	}

	h.jsonResponse(w, map[string]any{
		"session_id": session.ID,
		"map":        session.Map(),
	}, http.StatusCreated)
}

// signalReady 發出開局就緒訊號
func (h *Handler) signalReady(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	var req readyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "無效的請求格式", http.StatusBadRequest)
		return
	}
	if req.PlayerID == "" {
		h.errorResponse(w, "玩家ID為必填", http.StatusBadRequest)
		return
	}

	if err := h.start.SignalReady(sessionID, req.PlayerID); err != nil {
		h.errorResponse(w, err.Error(), h.statusForError(err))
		return
	}

	h.jsonResponse(w, map[string]any{"success": true}, http.StatusOK)
}

// changeMap 更換地圖（僅非排位、僅發起方、僅開局前）
func (h *Handler) changeMap(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	var req changeMapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "無效的請求格式", http.StatusBadRequest)
		return
	}
	if req.PlayerID == "" {
		h.errorResponse(w, "玩家ID為必填", http.StatusBadRequest)
		return
	}

	session, err := h.registry.ChangeMap(req.PlayerID, sessionID, req.Map)
	if err != nil {
		h.errorResponse(w, err.Error(), h.statusForError(err))
		return
	}

	// 換圖只發生在開局前，此時對手還掛在大廳連線上
	event := Event{Type: EventMapChanged, Data: MapChangedPayload{Map: req.Map}}
	h.broadcast.ToUser(session.Right.ID, event)

	h.jsonResponse(w, map[string]any{
		"success": true,
		"map":     req.Map,
	}, http.StatusOK)
}

// movePaddle 球拍輸入（HTTP 備援路徑，主路徑為 WebSocket）
func (h *Handler) movePaddle(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "無效的請求格式", http.StatusBadRequest)
		return
	}
	if req.PlayerID == "" {
		h.errorResponse(w, "玩家ID為必填", http.StatusBadRequest)
		return
	}

	if err := h.engine.MovePaddle(sessionID, req.PlayerID, req.Direction); err != nil {
		h.errorResponse(w, err.Error(), h.statusForError(err))
		return
	}

	h.jsonResponse(w, map[string]any{"success": true}, http.StatusOK)
}

// reportResult 客戶端回報終局比分（完整性校驗）
func (h *Handler) reportResult(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	var req reportResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "無效的請求格式", http.StatusBadRequest)
		return
	}
	if req.PlayerID == "" {
		h.errorResponse(w, "玩家ID為必填", http.StatusBadRequest)
		return
	}

	if err := h.arbiter.ReportResult(sessionID, req.PlayerID, req.Scores); err != nil {
		h.errorResponse(w, err.Error(), h.statusForError(err))
		return
	}

	h.jsonResponse(w, map[string]any{"success": true}, http.StatusOK)
}

// listSessions 列出可觀戰的排位對戰（新到舊）
func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.registry.ListActive()
	h.jsonResponse(w, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	}, http.StatusOK)
}

// topLadder 天梯排行榜
func (h *Handler) topLadder(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 && val <= 100 {
			limit = val
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	entries, err := h.ladder.Top(ctx, limit)
	if err != nil {
		h.logger.Error("讀取天梯失敗", "error", err)
		h.errorResponse(w, "讀取天梯失敗", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, map[string]any{"ladder": entries}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := h.registry.Stats()
	stats["queue_length"] = h.matchmaker.QueueLength()
	h.jsonResponse(w, stats, http.StatusOK)
}

// statusForError 把領域錯誤映射到 HTTP 狀態碼
func (h *Handler) statusForError(err error) int {
	switch {
	case errors.Is(err, ErrAlreadyInSession), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
