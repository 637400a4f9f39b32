package httputil

import (
	"fmt"
	"strconv"

	"elx-gateway/internal/apierr"
	"elx-gateway/internal/constants"
	"elx-gateway/internal/platform/logger"

	"github.com/gin-gonic/gin"
)

// HandleError 把類型化錯誤轉為錯誤信封
// 內部錯誤的底層原因只進日誌；客戶端永遠只看到安全訊息。
// 配額錯誤額外帶 Retry-After 與 X-RateLimit-* 標頭。
func HandleError(c *gin.Context, err error) {
	e := apierr.AsError(err)
	statusCode := e.Kind.StatusCode()

	if e.Kind == apierr.KindInternal {
		logger.Error(c.Request.Context(), fmt.Sprintf("API Error: %v", e),
			logger.WithDetails(map[string]interface{}{
				"request_id": requestID(c),
				"path":       c.Request.URL.Path,
				"method":     c.Request.Method,
				"status":     statusCode,
			}))
	}

	if e.Kind == apierr.KindQuotaExceeded && e.RetryAfterSeconds > 0 {
		c.Header(constants.HeaderRetryAfter, strconv.Itoa(e.RetryAfterSeconds))
	}

	respondError(c, statusCode, e.Message)
}

// BadRequest 參數錯誤.
func BadRequest(c *gin.Context, message string) {
	if message == "" {
		message = MsgInvalidParameter
	}
	respondError(c, apierr.KindBadRequest.StatusCode(), message)
}

// Unauthorized 未授權.
func Unauthorized(c *gin.Context) {
	respondError(c, apierr.KindUnauthorized.StatusCode(), MsgInvalidCredentials)
}

// PayloadTooLarge 請求體過大.
func PayloadTooLarge(c *gin.Context) {
	respondError(c, apierr.KindPayloadTooLarge.StatusCode(), MsgPayloadTooLarge)
}

// InternalServerError 內部錯誤.
func InternalServerError(c *gin.Context, err error) {
	HandleError(c, apierr.Wrap(apierr.KindInternal, MsgInternalError, err))
}
