package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// AuditService 審計服務
// 記錄密鑰生命週期與閘道准入事件，供安全追溯使用。
type AuditService struct {
	enabled bool
	logger  *log.Logger
}

// NewAuditService 創建審計服務
func NewAuditService(enabled bool) *AuditService {
	return &AuditService{
		enabled: enabled,
		logger:  log.Default(),
	}
}

// AuditEvent 審計事件
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType string                 `json:"event_type"`
	UserID    string                 `json:"user_id,omitempty"`
	KeyID     string                 `json:"key_id,omitempty"`
	Action    string                 `json:"action"`
	Result    string                 `json:"result"` // success, failure, blocked
	Details   map[string]interface{} `json:"details,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
}

// LogKeyIssued 記錄密鑰簽發
func (a *AuditService) LogKeyIssued(ctx context.Context, userID, keyID string) {
	if a == nil || !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: "key_lifecycle",
		UserID:    userID,
		KeyID:     keyID,
		Action:    "issue_key",
		Result:    "success",
	}

	a.log(event)
}

// LogKeyRevoked 記錄密鑰撤銷
func (a *AuditService) LogKeyRevoked(ctx context.Context, userID, keyID string) {
	if a == nil || !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: "key_lifecycle",
		UserID:    userID,
		KeyID:     keyID,
		Action:    "revoke_key",
		Result:    "success",
	}

	a.log(event)
}

// LogKeyRotated 記錄密鑰輪換
func (a *AuditService) LogKeyRotated(ctx context.Context, userID, oldKeyID, newKeyID string) {
	if a == nil || !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: "key_lifecycle",
		UserID:    userID,
		KeyID:     oldKeyID,
		Action:    "rotate_key",
		Result:    "success",
		Details: map[string]interface{}{
			"new_key_id": newKeyID,
		},
	}

	a.log(event)
}

// LogKeySuspended 記錄密鑰暫停
func (a *AuditService) LogKeySuspended(ctx context.Context, userID, keyID string) {
	if a == nil || !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: "key_lifecycle",
		UserID:    userID,
		KeyID:     keyID,
		Action:    "suspend_key",
		Result:    "success",
	}

	a.log(event)
}

// LogKeyReinstated 記錄密鑰恢復
func (a *AuditService) LogKeyReinstated(ctx context.Context, userID, keyID string) {
	if a == nil || !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: "key_lifecycle",
		UserID:    userID,
		KeyID:     keyID,
		Action:    "reinstate_key",
		Result:    "success",
	}

	a.log(event)
}

// LogRotationExpired 記錄寬限期屆滿的自動撤銷
func (a *AuditService) LogRotationExpired(ctx context.Context, userID, keyID string) {
	if a == nil || !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: "key_lifecycle",
		UserID:    userID,
		KeyID:     keyID,
		Action:    "expire_rotation",
		Result:    "success",
		Details: map[string]interface{}{
			"reason": "grace_period_elapsed",
		},
	}

	a.log(event)
}

// LogAuthenticationFailure 記錄認證失敗
func (a *AuditService) LogAuthenticationFailure(ctx context.Context, ipAddress, reason string) {
	if a == nil || !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: "authentication",
		Action:    "authenticate",
		Result:    "failure",
		IPAddress: ipAddress,
		Details: map[string]interface{}{
			"reason": reason,
		},
	}

	a.log(event)
}

// LogQuotaExceeded 記錄配額拒絕
func (a *AuditService) LogQuotaExceeded(ctx context.Context, keyID, window string) {
	if a == nil || !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: "rate_limit",
		KeyID:     keyID,
		Action:    "api_request",
		Result:    "blocked",
		Details: map[string]interface{}{
			"window": window,
			"reason": "quota_exceeded",
		},
	}

	a.log(event)
}

// log 記錄審計事件
func (a *AuditService) log(event AuditEvent) {
	// 轉換為 JSON
	jsonData, err := json.Marshal(event)
	if err != nil {
		a.logger.Printf("[AUDIT-ERROR] Failed to marshal event: %v", err)
		return
	}

	// 記錄到日誌
	a.logger.Printf("[AUDIT] %s", string(jsonData))
}

// IsEnabled 檢查審計是否啟用
func (a *AuditService) IsEnabled() bool {
	return a != nil && a.enabled
}
