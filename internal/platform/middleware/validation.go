package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"elx-gateway/internal/constants"
	"elx-gateway/internal/httputil"
	"elx-gateway/internal/platform/config"

	"github.com/gin-gonic/gin"
)

// ValidateKeyName 驗證密鑰名稱
func ValidateKeyName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("密鑰名稱不能為空")
	}

	if len(trimmed) > constants.MaxKeyNameLength {
		return fmt.Errorf("密鑰名稱超過最大長度限制 (%d 字符)", constants.MaxKeyNameLength)
	}

	// 防止 NULL 字符注入
	if strings.Contains(name, "\x00") {
		return fmt.Errorf("密鑰名稱包含非法字符")
	}

	return nil
}

// ValidateUserID 驗證用戶 ID 格式
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("用戶 ID 不能為空")
	}

	if len(userID) > constants.MaxUserIDLength {
		return fmt.Errorf("用戶 ID 格式錯誤")
	}

	// 防止 NULL 字符注入和特殊字符
	if strings.ContainsAny(userID, "\x00${}[]") {
		return fmt.Errorf("用戶 ID 包含非法字符")
	}

	return nil
}

// ValidateEmail 驗證 email 格式（寬鬆檢查，權威驗證在上游身份層）
func ValidateEmail(email string) error {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return fmt.Errorf("email 不能為空")
	}
	if len(trimmed) > constants.MaxUserEmailLength {
		return fmt.Errorf("email 格式錯誤")
	}
	at := strings.Index(trimmed, "@")
	if at <= 0 || at == len(trimmed)-1 {
		return fmt.Errorf("email 格式錯誤")
	}
	if strings.Contains(trimmed, "\x00") {
		return fmt.Errorf("email 包含非法字符")
	}
	return nil
}

// SanitizeInput 消毒輸入（移除危險字符）
func SanitizeInput(input string) string {
	// 移除 NULL 字符
	input = strings.ReplaceAll(input, "\x00", "")

	// 移除控制字符（除了換行和 Tab）
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}

	return result.String()
}

// Pagination 分頁參數
type Pagination struct {
	Page     int
	PageSize int
}

// Offset 回傳查詢偏移量
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// ParsePagination 解析分頁查詢參數
// 缺省時使用默認值；給了但不合法（非數字、超出範圍）一律拒絕，
// 不做靜默夾擠。
func ParsePagination(c *gin.Context) (Pagination, error) {
	p := Pagination{
		Page:     constants.DefaultPage,
		PageSize: constants.DefaultPageSize,
	}

	maxPageSize := constants.MaxPageSize
	maxPage := constants.MaxPage
	cfg := config.Get()
	if cfg != nil && cfg.Limits.Pagination.MaxPageSize > 0 {
		maxPageSize = cfg.Limits.Pagination.MaxPageSize
	}
	if cfg != nil && cfg.Limits.Pagination.MaxPage > 0 {
		maxPage = cfg.Limits.Pagination.MaxPage
	}

	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < constants.DefaultPage || page > maxPage {
			return p, fmt.Errorf("page 必須是 %d 到 %d 之間的整數", constants.DefaultPage, maxPage)
		}
		p.Page = page
	}

	if raw := c.Query("limit"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < constants.MinPageSize || size > maxPageSize {
			return p, fmt.Errorf("limit 必須是 %d 到 %d 之間的整數", constants.MinPageSize, maxPageSize)
		}
		p.PageSize = size
	}

	return p, nil
}

// RequestSizeLimiter 限制請求體大小的中間件
// ContentLength 先擋明顯超標的請求，MaxBytesReader 兜底
// 沒有聲明長度的分塊傳輸。
func RequestSizeLimiter(maxSize int64) gin.HandlerFunc {
	if maxSize <= 0 {
		maxSize = constants.DefaultMaxRequestBodySize
	}
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			httputil.PayloadTooLarge(c)
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}
