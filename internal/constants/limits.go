package constants

// HTTP 請求相關常數
const (
	// 默認值（可被配置覆蓋）
	DefaultMaxRequestBodySize = 1 << 20 // 1MB
	DefaultRequestTimeout     = 30      // 秒
)

// 分頁相關常數
const (
	DefaultPage     = 1
	MaxPage         = 100
	DefaultPageSize = 20
	MaxPageSize     = 20
	MinPageSize     = 1
)

// API Key 格式相關常數
const (
	KeyPrefix        = "elx_live_"
	KeySuffixLength  = 32 // 隨機後綴長度（英數字符）
	KeyDisplayLength = 12 // 列表顯示用的前綴長度
	MaxKeyNameLength = 50
	KeyGenMaxRetries = 3 // 生成碰撞時的重試次數上限
)

// 用戶相關常數
const (
	MaxUserIDLength    = 100
	MaxUserEmailLength = 254
)

// 配額窗口默認限制（free 方案，可被配置覆蓋）
const (
	DefaultBurstLimit     = 20
	DefaultHourLimit      = 100
	DefaultDayLimit       = 1000
	DefaultMonthLimit     = 10000
	DefaultBurstIntervalS = 10 // 秒
	DefaultProMultiplier  = 10
)

// 密鑰輪換相關常數
const (
	DefaultRotationGraceHours = 24
	RotationSweepSchedule     = "@every 1m" // 後台清掃排程
)

// Rate Limit 回應標頭
const (
	HeaderRetryAfter         = "Retry-After"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// 認證標頭
const (
	HeaderAPIKey    = "x-api-key"
	HeaderUserEmail = "x-user-email"
	HeaderUserID    = "x-user-id"
)
