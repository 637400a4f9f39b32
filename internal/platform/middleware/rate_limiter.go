package middleware

import (
	"sync"
	"time"

	"elx-gateway/internal/apierr"
	"elx-gateway/internal/httputil"

	"github.com/gin-gonic/gin"
)

// IPRateLimiter IP 級速率限制器
// 掛在管理端點這類不走密鑰配額的路由前面，擋住單一來源的濫用；
// 密鑰級的多窗口配額由 QuotaMiddleware 負責。
type IPRateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	rate     int           // 每個時間窗口允許的請求數
	window   time.Duration // 時間窗口
}

type visitor struct {
	lastSeen  time.Time
	requests  int
	resetTime time.Time
}

// NewIPRateLimiter 創建 IP 級速率限制器
func NewIPRateLimiter(rate int, window time.Duration) *IPRateLimiter {
	rl := &IPRateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
	}

	// 定期清理過期的訪問者記錄
	go rl.cleanupVisitors()

	return rl
}

// Middleware 返回 Gin 中間件
func (rl *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		retryAfter, ok := rl.allowRequest(c.ClientIP())
		if !ok {
			httputil.HandleError(c, apierr.QuotaExceeded("ip", retryAfter))
			return
		}

		c.Next()
	}
}

// allowRequest 檢查是否允許請求；拒絕時回傳重試秒數
func (rl *IPRateLimiter) allowRequest(ip string) (int, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	v, exists := rl.visitors[ip]

	if !exists {
		rl.visitors[ip] = &visitor{
			lastSeen:  now,
			requests:  1,
			resetTime: now.Add(rl.window),
		}
		return 0, true
	}

	// 時間窗口已過期，重置計數器
	if now.After(v.resetTime) {
		v.requests = 1
		v.resetTime = now.Add(rl.window)
		v.lastSeen = now
		return 0, true
	}

	if v.requests >= rl.rate {
		v.lastSeen = now
		retryAfter := int(v.resetTime.Sub(now).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return retryAfter, false
	}

	v.requests++
	v.lastSeen = now
	return 0, true
}

// cleanupVisitors 定期清理過期的訪問者記錄
func (rl *IPRateLimiter) cleanupVisitors() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()

		for ip, v := range rl.visitors {
			// 超過 10 分鐘沒有活動就刪除記錄
			if now.Sub(v.lastSeen) > 10*time.Minute {
				delete(rl.visitors, ip)
			}
		}

		rl.mu.Unlock()
	}
}
