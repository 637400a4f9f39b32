package middleware

import (
	"context"
	"time"

	"elx-gateway/internal/apierr"
	"elx-gateway/internal/httputil"
	"elx-gateway/internal/quota"
	"elx-gateway/internal/subscription"

	"github.com/gin-gonic/gin"
)

const rateLimitMetaKey = "rate_limit_meta"

// QuotaEngine 配額引擎接口
type QuotaEngine interface {
	Admit(ctx context.Context, keyID string, tier subscription.Tier) (*quota.Decision, error)
	MirrorUsage(ctx context.Context, keyID string)
}

// QuotaMiddleware 配額准入中間件
// 必須掛在 APIKeyAuthMiddleware 之後；任一窗口超限即回 429，
// 成功時把最緊窗口的狀態留給處理器放進回應信封。
func QuotaMiddleware(engine QuotaEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok {
			httputil.Unauthorized(c)
			return
		}

		decision, err := engine.Admit(c.Request.Context(), principal.KeyID, principal.Tier)
		if err != nil {
			httputil.HandleError(c, err)
			return
		}

		if !decision.Allowed {
			if denied := decision.Denied(); denied != nil {
				httputil.SetRateLimitHeaders(c, httputil.NewRateLimitMeta(denied.Limit, 0, denied.ResetAt))
			}
			httputil.HandleError(c, apierr.QuotaExceeded(string(decision.DeniedWindow), decision.RetryAfterSeconds))
			return
		}

		if tightest := decision.Tightest(); tightest != nil {
			c.Set(rateLimitMetaKey, httputil.NewRateLimitMeta(tightest.Limit, tightest.Remaining, tightest.ResetAt))
		}

		// 鏡像用量是顯示數據，不在請求路徑上等它
		go func(keyID string) {
			mirrorCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			engine.MirrorUsage(mirrorCtx, keyID)
		}(principal.KeyID)

		c.Next()
	}
}

// GetRateLimitMeta 取本次請求的配額狀態
func GetRateLimitMeta(c *gin.Context) *httputil.RateLimitMeta {
	if value, exists := c.Get(rateLimitMetaKey); exists {
		if meta, ok := value.(*httputil.RateLimitMeta); ok {
			return meta
		}
	}
	return nil
}
