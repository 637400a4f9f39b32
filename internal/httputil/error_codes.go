package httputil

// 對外的錯誤訊息常數.
// 訊息是封閉集合，處理器不得把內部錯誤字串直接回給客戶端.
const (
	MsgInvalidCredentials  = "invalid or missing credentials"
	MsgCredentialsMismatch = "credentials do not match"
	MsgInvalidParameter    = "invalid parameter"
	MsgPayloadTooLarge     = "request body too large"
	MsgRecordNotFound      = "record not found"
	MsgQuotaExceeded       = "rate limit exceeded"
	MsgConflict            = "resource state changed, retry the operation"
	MsgInternalError       = "internal server error"
)
