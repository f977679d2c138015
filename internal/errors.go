package internal

import "errors"

// 錯誤分類設計：
//
//	所有使用者可見的錯誤都在偵測到的邊界（Handler / Matchmaker / Registry）
//	立即解析，絕不留給模擬引擎在 tick 中途發現。引擎本身不返回使用者錯誤：
//	它遇到的非法狀態一律視為該場對戰的致命錯誤（強制中止），不影響其他對戰。
//
//	呼叫端以 errors.Is 判斷類別，HTTP 層據此映射狀態碼：
//	  ErrAlreadyInSession → 409（已佔用另一場對戰，該場結束前不可重試）
//	  ErrConflict         → 409（重複排隊 / 邀請已被佔用的玩家）
//	  ErrNotFound         → 404（未知的對戰 id / 玩家）
//	  ErrForbidden        → 403（非參與者操作、違反規則的換圖）
//	  ErrBadRequest       → 400（格式錯誤、生命週期狀態不符、無效比分）
//
//	開賽逾時刻意沒有對應的哨兵錯誤：它不會返回給任何呼叫者，
//	而是以對戰取消事件的形式呈現給雙方。
var (
	ErrAlreadyInSession = errors.New("玩家已在對戰中")
	ErrConflict         = errors.New("操作衝突")
	ErrNotFound         = errors.New("找不到對象")
	ErrForbidden        = errors.New("沒有操作權限")
	ErrBadRequest       = errors.New("無效的請求")
)
