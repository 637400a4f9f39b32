package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 錯誤種類
// 閉合枚舉：閘道各層只能回傳這裡定義的種類，
// 對外的 HTTP 狀態碼只在傳輸層由 Kind 轉換。
type Kind int

const (
	// KindBadRequest 參數格式錯誤或超出範圍 (400).
	KindBadRequest Kind = iota + 1
	// KindUnauthorized 缺少標頭、密鑰不存在、狀態不可用或已過期 (401).
	KindUnauthorized
	// KindForbidden email 與密鑰擁有者不符，或操作他人的密鑰 (403).
	KindForbidden
	// KindNotFound 引用的資源不存在 (404).
	KindNotFound
	// KindConflict 資源重複或 CAS 競爭失敗，呼叫方應重試整個操作 (409).
	KindConflict
	// KindPayloadTooLarge 請求體超過大小上限 (413).
	KindPayloadTooLarge
	// KindQuotaExceeded 任一配額窗口已耗盡 (429).
	KindQuotaExceeded
	// KindInternal 存儲不可用、ID 生成重試耗盡等內部錯誤 (500).
	KindInternal
)

// String 回傳種類名稱.
func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPayloadTooLarge:
		return "payload_too_large"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindInternal:
		return "internal_error"
	default:
		return "unknown"
	}
}

// StatusCode 回傳對應的 HTTP 狀態碼.
func (k Kind) StatusCode() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error 閘道層的類型化錯誤
// Message 是可以直接回給用戶的安全訊息；
// cause 只用於服務端日誌，不會出現在回應中。
type Error struct {
	Kind    Kind
	Message string
	// RetryAfterSeconds 只在 KindQuotaExceeded 時有值.
	RetryAfterSeconds int
	// Window 觸發配額拒絕的窗口種類（burst/hour/day/month）.
	Window string
	cause  error
}

// Error 實現 error 接口.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap 支持 errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// New 創建類型化錯誤.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap 包裝底層錯誤，保留安全訊息
// 底層錯誤只進日誌，不對外.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// QuotaExceeded 創建配額耗盡錯誤，帶重試秒數與窗口種類.
func QuotaExceeded(window string, retryAfterSeconds int) *Error {
	return &Error{
		Kind:              KindQuotaExceeded,
		Message:           fmt.Sprintf("rate limit exceeded for %s window", window),
		RetryAfterSeconds: retryAfterSeconds,
		Window:            window,
	}
}

// KindOf 取出錯誤的種類；非類型化錯誤一律視為內部錯誤（fail closed）.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// AsError 取出類型化錯誤；取不到時包成內部錯誤.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(KindInternal, "internal server error", err)
}

// Is 判斷錯誤是否屬於指定種類.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
