// Package internal 實現即時對戰撮合服務的核心功能。
//
// 系統設計問題：
//
//	如何協調大量短時、雙人即時對戰（Pong 類遊戲）的完整生命週期，
//	從排隊配對、開賽會合、權威物理模擬，到結果驗證與天梯積分更新？
//
// 核心挑戰：
//  1. 會合協調：兩個獨立（可能隨時斷線）的客戶端必須同時確認就緒，對戰才能開始
//  2. 權威模擬：伺服器端以固定節奏推進每場對戰的物理狀態，客戶端只提交輸入
//  3. 部分失效：斷線、逾時、重複/遲到訊號都不能破壞單場對戰的不變量
//  4. 防作弊驗證：客戶端回報的結果只能作為完整性檢查，引擎狀態才是唯一事實
//
// 設計方案：
//
//	✅ Registry - 對戰的唯一事實來源（session id → 對戰，user id → session id 索引）
//	✅ Matchmaker - FIFO 排位佇列，原子配對；邀請賽繞過佇列
//	✅ StartCoordinator - 每場一個開賽屏障（雙方就緒 / 逾時取消，二擇一，恰好解析一次）
//	✅ Engine - 每場一個 goroutine 的固定節奏 tick 迴圈，終局即停
//	✅ Arbiter - 結果驗證、天梯計算、對戰收尾的唯一出口
//
// 架構設計：
//
//	Client → Handler / WebSocketHub
//	             ↓
//	        Matchmaker → Registry（創建對戰）
//	             ↓
//	      StartCoordinator（雙方就緒）
//	             ↓
//	         Engine（tick 迴圈）→ Broadcaster（每 tick 廣播）
//	             ↓ 終局
//	         Arbiter → LadderStore（Redis）/ MatchRecorder（PostgreSQL）
//	             ↓
//	        Registry（刪除對戰）
//
// 併發模型：
//   - 跨對戰共享的可變狀態只有 Registry 的索引與 Matchmaker 的等待清單，
//     各自以互斥鎖保護
//   - 單場對戰內的所有變更（就緒訊號、球拍輸入、tick 推進、終局）
//     都在該場的鎖下序列化
//   - 任何一場對戰的錯誤都不能影響其他對戰的 tick 或其他玩家的佇列狀態
package internal
