package internal

import "sync"

// UserDirectory 使用者目錄介面（外部協作者）
//
// 對戰服務只需要兩件事：解析顯示名稱，以及邀請 / 觀戰前的封鎖
// 關係檢查。帳號、好友、認證都屬於目錄服務本體，不在此範圍。
type UserDirectory interface {
	// DisplayName 解析顯示名稱；未知使用者返回 false
	DisplayName(userID string) (string, bool)

	// Blocked 任一方封鎖另一方即為 true
	Blocked(a, b string) bool
}

// StaticDirectory 記憶體使用者目錄
//
// autoRegister 開啟時，未知的 user id 以自身為顯示名稱放行
// （單機部署、無上游目錄服務時使用）。
type StaticDirectory struct {
	mu           sync.RWMutex
	names        map[string]string
	blocked      map[string]map[string]bool
	autoRegister bool
}

// NewStaticDirectory 創建記憶體使用者目錄
func NewStaticDirectory(autoRegister bool) *StaticDirectory {
	return &StaticDirectory{
		names:        make(map[string]string),
		blocked:      make(map[string]map[string]bool),
		autoRegister: autoRegister,
	}
}

// Register 登記顯示名稱
func (d *StaticDirectory) Register(userID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names[userID] = name
}

// Block 登記 a 封鎖 b（單向）
func (d *StaticDirectory) Block(a, b string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.blocked[a] == nil {
		d.blocked[a] = make(map[string]bool)
	}
	d.blocked[a][b] = true
}

func (d *StaticDirectory) DisplayName(userID string) (string, bool) {
	d.mu.RLock()
	name, ok := d.names[userID]
	d.mu.RUnlock()
	if !ok && d.autoRegister {
		return userID, true
	}
	return name, ok
}

func (d *StaticDirectory) Blocked(a, b string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.blocked[a][b] || d.blocked[b][a]
}
