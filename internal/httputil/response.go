package httputil

import (
	"net/http"
	"strconv"
	"time"

	"elx-gateway/internal/constants"

	"github.com/gin-gonic/gin"
)

// requestIDKey 與 middleware.RequestIDKey 同值
// 這裡不 import middleware，避免循環依賴.
const requestIDKey = "request_id"

// requestID 從 gin context 取請求 ID.
func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// RateLimitMeta 回應中的配額狀態（最緊窗口）.
type RateLimitMeta struct {
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
	ResetAt   string `json:"resetAt"` // RFC3339 格式.
}

// Meta 成功回應的元數據.
type Meta struct {
	RequestID string         `json:"requestId"`
	Timestamp string         `json:"timestamp"`
	RateLimit *RateLimitMeta `json:"rateLimit,omitempty"`
}

// SuccessEnvelope 成功回應信封.
type SuccessEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Meta    *Meta       `json:"meta"`
}

// ErrorEnvelope 錯誤回應信封.
type ErrorEnvelope struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode"`
	Timestamp  string `json:"timestamp"`
}

// NewRateLimitMeta 創建配額元數據.
func NewRateLimitMeta(limit, remaining int64, resetAt time.Time) *RateLimitMeta {
	return &RateLimitMeta{
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt.UTC().Format(time.RFC3339),
	}
}

// SetRateLimitHeaders 設置 X-RateLimit-* 回應標頭.
func SetRateLimitHeaders(c *gin.Context, rate *RateLimitMeta) {
	if rate == nil {
		return
	}
	c.Header(constants.HeaderRateLimitLimit, strconv.FormatInt(rate.Limit, 10))
	c.Header(constants.HeaderRateLimitRemaining, strconv.FormatInt(rate.Remaining, 10))
	c.Header(constants.HeaderRateLimitReset, rate.ResetAt)
}

// Respond 寫出成功信封.
// rate 可為 nil（不經過配額的端點）.
func Respond(c *gin.Context, statusCode int, data interface{}, rate *RateLimitMeta) {
	SetRateLimitHeaders(c, rate)
	c.JSON(statusCode, SuccessEnvelope{
		Success: true,
		Data:    data,
		Meta: &Meta{
			RequestID: requestID(c),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			RateLimit: rate,
		},
	})
}

// RespondOK 寫出 200 成功信封.
func RespondOK(c *gin.Context, data interface{}, rate *RateLimitMeta) {
	Respond(c, http.StatusOK, data, rate)
}

// RespondCreated 寫出 201 成功信封.
func RespondCreated(c *gin.Context, data interface{}) {
	Respond(c, http.StatusCreated, data, nil)
}

// respondError 寫出錯誤信封並中止後續處理.
func respondError(c *gin.Context, statusCode int, message string) {
	c.AbortWithStatusJSON(statusCode, ErrorEnvelope{
		Success:    false,
		Error:      message,
		StatusCode: statusCode,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}
