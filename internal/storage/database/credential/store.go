package credential

import (
	"context"
	"errors"
	"time"
)

// 存儲層哨兵錯誤
// 上層（Registry / Authenticator / Quota Engine）據此轉換為錯誤分類，
// 驅動層的原始錯誤不會越過這個邊界。
var (
	// ErrKeyNotFound 密鑰不存在.
	ErrKeyNotFound = errors.New("credential: key not found")
	// ErrKeyExists 密鑰 ID 或摘要碰撞.
	ErrKeyExists = errors.New("credential: key already exists")
	// ErrStatusConflict CAS 狀態轉換失敗（當前狀態與預期不符）.
	ErrStatusConflict = errors.New("credential: status transition conflict")
	// ErrLimitExceeded 窗口計數已達上限，增量被拒絕.
	ErrLimitExceeded = errors.New("credential: window limit exceeded")
)

// Status API Key 狀態
type Status string

const (
	StatusActive    Status = "active"    // 活躍（可認證）
	StatusRotating  Status = "rotating"  // 輪換寬限期中（仍可認證）
	StatusSuspended Status = "suspended" // 暫停（不可認證，可恢復）
	StatusRevoked   Status = "revoked"   // 撤銷（終態）
)

// Authenticable 回傳該狀態是否允許認證
// suspended / revoked 對認證而言是終態（fail closed）.
func (s Status) Authenticable() bool {
	return s == StatusActive || s == StatusRotating
}

// WindowKind 配額窗口種類
type WindowKind string

const (
	WindowBurst WindowKind = "burst"
	WindowHour  WindowKind = "hour"
	WindowDay   WindowKind = "day"
	WindowMonth WindowKind = "month"
)

// WindowOrder 檢查順序：最緊的窗口最先檢查（fail fast）.
var WindowOrder = []WindowKind{WindowBurst, WindowHour, WindowDay, WindowMonth}

// APIKey API Key 數據模型
// SecretDigest 是呈遞密鑰的單向摘要，明文只在簽發時回傳一次。
type APIKey struct {
	ID            string     `bson:"_id" json:"id"`
	SecretDigest  string     `bson:"secret_digest" json:"-"`
	KeyPrefix     string     `bson:"key_prefix" json:"key_prefix"`
	OwnerUserID   string     `bson:"owner_user_id" json:"owner_user_id"`
	OwnerEmail    string     `bson:"owner_email" json:"owner_email"`
	Name          string     `bson:"name" json:"name"`
	Status        Status     `bson:"status" json:"status"`
	CreatedAt     time.Time  `bson:"created_at" json:"created_at"`
	ExpiresAt     *time.Time `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	LastUsedAt    *time.Time `bson:"last_used_at,omitempty" json:"last_used_at,omitempty"`
	RotatedFromID string     `bson:"rotated_from_id,omitempty" json:"rotated_from_id,omitempty"`
	RotatedToID   string     `bson:"rotated_to_id,omitempty" json:"rotated_to_id,omitempty"`
	RotatingSince *time.Time `bson:"rotating_since,omitempty" json:"rotating_since,omitempty"`
	Usage         Usage      `bson:"usage" json:"usage"`
}

// Usage 鏡像用量計數器
// 僅供展示，配額判定以 RateWindow 計數為準。
type Usage struct {
	RequestsToday     int64 `bson:"requests_today" json:"requests_today"`
	RequestsThisMonth int64 `bson:"requests_this_month" json:"requests_this_month"`
	TotalRequests     int64 `bson:"total_requests" json:"total_requests"`
}

// RateWindow 單一窗口的計數文件
// (KeyID, Kind, WindowStart) 唯一；Count 永不超過該窗口的限制。
type RateWindow struct {
	KeyID       string     `bson:"key_id"`
	Kind        WindowKind `bson:"window_kind"`
	WindowStart time.Time  `bson:"window_start"`
	Count       int64      `bson:"count"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

// Store 憑證存儲接口
// 所有共享可變狀態（狀態欄位、窗口計數）只能透過這裡的原子原語訪問，
// 呼叫方不做 read-then-write。
type Store interface {
	// GetKeyByDigest 以摘要查找密鑰（認證路徑）.
	GetKeyByDigest(ctx context.Context, digest string) (*APIKey, error)

	// GetKeyByID 以管理 ID 查找密鑰.
	GetKeyByID(ctx context.Context, id string) (*APIKey, error)

	// PutKeyIfAbsent 寫入新密鑰；ID 或摘要碰撞時回傳 ErrKeyExists.
	PutKeyIfAbsent(ctx context.Context, key *APIKey) error

	// ListKeysByOwner 列出擁有者的全部密鑰（含 revoked，軟刪除保留審計）.
	ListKeysByOwner(ctx context.Context, ownerUserID string) ([]*APIKey, error)

	// TransitionStatus CAS 狀態轉換：當前狀態必須在 expected 之中
	// next 為 StatusRotating 時同時記錄 rotating_since.
	TransitionStatus(ctx context.Context, id string, next Status, expected ...Status) error

	// LinkRotation 設置舊密鑰的 rotated_to_id 連結.
	LinkRotation(ctx context.Context, oldID, newID string) error

	// IncrementWindow 原子的「增量且結果 ≤ limit」
	// 成功回傳新計數；達到上限回傳 ErrLimitExceeded 且不改變計數.
	IncrementWindow(ctx context.Context, keyID string, kind WindowKind, windowStart time.Time, limit int64) (int64, error)

	// PeekWindow 讀取窗口當前計數（不增量）；窗口不存在時回傳 0.
	PeekWindow(ctx context.Context, keyID string, kind WindowKind, windowStart time.Time) (int64, error)

	// TouchLastUsed 更新 last_used_at（盡力而為，認證成功後呼叫）.
	TouchLastUsed(ctx context.Context, id string, at time.Time) error

	// MirrorUsage 鏡像展示用計數到密鑰文件並累加 total_requests.
	MirrorUsage(ctx context.Context, id string, requestsToday, requestsThisMonth int64) error

	// ListRotatingBefore 列出 rotating_since 早於 cutoff 的密鑰（清掃用）.
	ListRotatingBefore(ctx context.Context, cutoff time.Time) ([]*APIKey, error)
}
