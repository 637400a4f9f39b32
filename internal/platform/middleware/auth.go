package middleware

import (
	"context"

	"elx-gateway/internal/auth"
	"elx-gateway/internal/constants"
	"elx-gateway/internal/httputil"
	"elx-gateway/internal/subscription"

	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

// Authenticator 認證器接口
type Authenticator interface {
	Authenticate(ctx context.Context, presentedKey, presentedEmail, clientIP string) (*auth.Principal, error)
}

// APIKeyAuthMiddleware API 密鑰認證中間件
// 從 x-api-key 與 x-user-email 標頭驗證憑證，
// 通過後把請求主體放入 context 供後續中間件與處理器使用。
// 使用方式：router.Use(APIKeyAuthMiddleware(authenticator))
func APIKeyAuthMiddleware(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		presentedKey := c.GetHeader(constants.HeaderAPIKey)
		presentedEmail := c.GetHeader(constants.HeaderUserEmail)

		principal, err := authn.Authenticate(c.Request.Context(), presentedKey, presentedEmail, GetClientIP(c))
		if err != nil {
			httputil.HandleError(c, err)
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// GetPrincipal 從 gin context 取認證後的請求主體
func GetPrincipal(c *gin.Context) (*auth.Principal, bool) {
	value, exists := c.Get(principalKey)
	if !exists {
		return nil, false
	}
	principal, ok := value.(*auth.Principal)
	return principal, ok
}

// SessionUserMiddleware 管理端點的會話身份中間件
// 密鑰管理端點不走 API 密鑰認證（撤銷後仍須能管理密鑰），
// 信任上游 web 會話層注入的 x-user-id 與 x-user-email 標頭。
func SessionUserMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(constants.HeaderUserID)
		email := c.GetHeader(constants.HeaderUserEmail)
		if userID == "" || email == "" {
			httputil.Unauthorized(c)
			return
		}

		c.Set(principalKey, &auth.Principal{
			UserID: userID,
			Email:  email,
			Tier:   subscription.TierFree,
		})
		c.Next()
	}
}
