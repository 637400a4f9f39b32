package auth

import (
	"context"
	"errors"
	"time"

	"elx-gateway/internal/apierr"
	"elx-gateway/internal/apikey"
	"elx-gateway/internal/platform/logger"
	"elx-gateway/internal/security/audit"
	"elx-gateway/internal/storage/database/credential"
	"elx-gateway/internal/subscription"
)

// Principal 認證通過後的請求主體
type Principal struct {
	UserID string
	Email  string
	KeyID  string
	Tier   subscription.Tier
}

// Authenticator 以 API 密鑰認證請求
// 所有憑證層的失敗都回傳同一個 401 訊息，不洩露密鑰是否存在；
// 密鑰有效但 email 不符時才回傳 403。
type Authenticator struct {
	store credential.Store
	tiers subscription.TierLookup
	grace time.Duration
	audit *audit.AuditService
}

// NewAuthenticator 創建認證器
func NewAuthenticator(store credential.Store, tiers subscription.TierLookup, grace time.Duration, auditSvc *audit.AuditService) *Authenticator {
	return &Authenticator{
		store: store,
		tiers: tiers,
		grace: grace,
		audit: auditSvc,
	}
}

// errInvalidCredentials 統一的 401 錯誤
// 缺失、格式不符、查無此鑰、已撤銷、已過期都用同一個訊息。
func errInvalidCredentials() error {
	return apierr.New(apierr.KindUnauthorized, "invalid or missing credentials")
}

// Authenticate 驗證呈遞的密鑰與 email 綁定
func (a *Authenticator) Authenticate(ctx context.Context, presentedKey, presentedEmail, clientIP string) (*Principal, error) {
	if presentedKey == "" || presentedEmail == "" {
		a.audit.LogAuthenticationFailure(ctx, clientIP, "missing_credentials")
		return nil, errInvalidCredentials()
	}

	// 格式不符不需要查庫
	if !apikey.ValidFormat(presentedKey) {
		a.audit.LogAuthenticationFailure(ctx, clientIP, "malformed_key")
		return nil, errInvalidCredentials()
	}

	key, err := a.store.GetKeyByDigest(ctx, apikey.Digest(presentedKey))
	if err != nil {
		if errors.Is(err, credential.ErrKeyNotFound) {
			a.audit.LogAuthenticationFailure(ctx, clientIP, "unknown_key")
			return nil, errInvalidCredentials()
		}
		return nil, apierr.Wrap(apierr.KindInternal, "internal server error", err)
	}

	now := time.Now().UTC()

	// 輪換寬限期已過的密鑰在存取時即時收斂為 revoked，
	// 不等排程清掃。
	if apikey.RotationExpired(key, a.grace, now) {
		err := a.store.TransitionStatus(ctx, key.ID, credential.StatusRevoked, credential.StatusRotating)
		if err != nil && !errors.Is(err, credential.ErrStatusConflict) && !errors.Is(err, credential.ErrKeyNotFound) {
			logger.Warning(ctx, "存取時收斂輪換密鑰失敗",
				logger.WithKeyID(key.ID),
				logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		} else {
			a.audit.LogRotationExpired(ctx, key.OwnerUserID, key.ID)
		}
		a.audit.LogAuthenticationFailure(ctx, clientIP, "rotation_grace_elapsed")
		return nil, errInvalidCredentials()
	}

	if !key.Status.Authenticable() {
		a.audit.LogAuthenticationFailure(ctx, clientIP, "key_not_authenticable")
		return nil, errInvalidCredentials()
	}

	if apikey.Expired(key, now) {
		a.audit.LogAuthenticationFailure(ctx, clientIP, "key_expired")
		return nil, errInvalidCredentials()
	}

	// 密鑰有效但綁定不符：這裡才區分 403
	if apikey.NormalizeEmail(presentedEmail) != key.OwnerEmail {
		a.audit.LogAuthenticationFailure(ctx, clientIP, "email_mismatch")
		return nil, apierr.New(apierr.KindForbidden, "credentials do not match")
	}

	// 最後使用時間是盡力而為的觀測數據，不阻塞請求
	go func(keyID string) {
		touchCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.store.TouchLastUsed(touchCtx, keyID, now); err != nil {
			logger.Debug(touchCtx, "更新最後使用時間失敗", logger.WithKeyID(keyID))
		}
	}(key.ID)

	return &Principal{
		UserID: key.OwnerUserID,
		Email:  key.OwnerEmail,
		KeyID:  key.ID,
		Tier:   a.tiers.TierOf(ctx, key.OwnerUserID),
	}, nil
}
