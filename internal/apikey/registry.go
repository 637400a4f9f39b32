package apikey

import (
	"context"
	"errors"
	"strings"
	"time"

	"elx-gateway/internal/apierr"
	"elx-gateway/internal/constants"
	"elx-gateway/internal/platform/logger"
	"elx-gateway/internal/security/audit"
	"elx-gateway/internal/storage/database/credential"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Registry 密鑰生命週期操作
// 密鑰只能由這裡創建與轉換狀態；永不刪除，撤銷是軟刪除（保留審計）。
type Registry struct {
	store credential.Store
	grace time.Duration
	audit *audit.AuditService
}

// NewRegistry 創建密鑰註冊表
func NewRegistry(store credential.Store, grace time.Duration, auditSvc *audit.AuditService) *Registry {
	if grace <= 0 {
		grace = time.Duration(constants.DefaultRotationGraceHours) * time.Hour
	}
	return &Registry{
		store: store,
		grace: grace,
		audit: auditSvc,
	}
}

// GracePeriod 回傳輪換寬限期長度
func (r *Registry) GracePeriod() time.Duration {
	return r.grace
}

// IssueResult 簽發結果
// Plaintext 是密鑰明文，只在這裡出現一次，之後不可再取得。
type IssueResult struct {
	Key       *credential.APIKey
	Plaintext string
}

// Issue 簽發新密鑰
// 摘要碰撞視為真實錯誤：重新生成至多 KeyGenMaxRetries 次，
// 耗盡後回傳內部錯誤。
func (r *Registry) Issue(ctx context.Context, ownerUserID, ownerEmail, name string) (*IssueResult, error) {
	ownerEmail = NormalizeEmail(ownerEmail)
	if ownerUserID == "" || ownerEmail == "" {
		return nil, apierr.New(apierr.KindBadRequest, "owner user id and email are required")
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > constants.MaxKeyNameLength {
		return nil, apierr.New(apierr.KindBadRequest, "key name must be 1-50 characters")
	}

	for attempt := 0; attempt < constants.KeyGenMaxRetries; attempt++ {
		plaintext, err := GeneratePlaintext()
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "internal server error", err)
		}

		key := &credential.APIKey{
			ID:           bson.NewObjectID().Hex(),
			SecretDigest: Digest(plaintext),
			KeyPrefix:    DisplayPrefix(plaintext),
			OwnerUserID:  ownerUserID,
			OwnerEmail:   ownerEmail,
			Name:         name,
			Status:       credential.StatusActive,
			CreatedAt:    time.Now().UTC(),
		}

		err = r.store.PutKeyIfAbsent(ctx, key)
		if err == nil {
			r.audit.LogKeyIssued(ctx, ownerUserID, key.ID)
			return &IssueResult{Key: key, Plaintext: plaintext}, nil
		}
		if errors.Is(err, credential.ErrKeyExists) {
			// 碰撞：換一把重新生成
			logger.Warning(ctx, "密鑰生成碰撞，重新生成",
				logger.WithDetails(map[string]interface{}{"attempt": attempt + 1}))
			continue
		}
		return nil, apierr.Wrap(apierr.KindInternal, "internal server error", err)
	}

	return nil, apierr.New(apierr.KindInternal, "internal server error")
}

// List 列出擁有者的全部密鑰
// 摘要永不對外，這裡直接清空欄位。
func (r *Registry) List(ctx context.Context, ownerUserID string) ([]*credential.APIKey, error) {
	keys, err := r.store.ListKeysByOwner(ctx, ownerUserID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "internal server error", err)
	}
	for _, key := range keys {
		key.SecretDigest = ""
	}
	return keys, nil
}

// Revoke 撤銷密鑰
// 冪等：已撤銷的密鑰再次撤銷回報成功；操作他人的密鑰回傳 Forbidden。
func (r *Registry) Revoke(ctx context.Context, ownerUserID, keyID string) error {
	key, err := r.getOwned(ctx, ownerUserID, keyID)
	if err != nil {
		return err
	}

	if key.Status == credential.StatusRevoked {
		// 期望的副作用已經達成
		return nil
	}

	err = r.store.TransitionStatus(ctx, keyID, credential.StatusRevoked,
		credential.StatusActive, credential.StatusRotating, credential.StatusSuspended)
	if err != nil {
		if errors.Is(err, credential.ErrStatusConflict) {
			// 競爭對手可能已經撤銷；重讀確認
			current, getErr := r.store.GetKeyByID(ctx, keyID)
			if getErr == nil && current.Status == credential.StatusRevoked {
				return nil
			}
			return apierr.New(apierr.KindConflict, "key status changed, retry the operation")
		}
		return apierr.Wrap(apierr.KindInternal, "internal server error", err)
	}

	r.audit.LogKeyRevoked(ctx, ownerUserID, keyID)
	return nil
}

// Rotate 輪換密鑰
// 新密鑰立即生效，舊密鑰進入 rotating 寬限期，期間兩把都可認證；
// 寬限期過後由清掃轉為 revoked。
func (r *Registry) Rotate(ctx context.Context, ownerUserID, keyID string) (*IssueResult, error) {
	old, err := r.getOwned(ctx, ownerUserID, keyID)
	if err != nil {
		return nil, err
	}
	if old.Status != credential.StatusActive {
		return nil, apierr.New(apierr.KindConflict, "only active keys can be rotated")
	}

	// 先創建新密鑰，再 CAS 舊密鑰進入 rotating；
	// CAS 失敗代表輸掉並發輪換，回收剛建的新密鑰。
	result, err := r.issueLinked(ctx, old)
	if err != nil {
		return nil, err
	}

	err = r.store.TransitionStatus(ctx, keyID, credential.StatusRotating, credential.StatusActive)
	if err != nil {
		revokeErr := r.store.TransitionStatus(ctx, result.Key.ID, credential.StatusRevoked, credential.StatusActive)
		if revokeErr != nil {
			logger.Error(ctx, "回收輪換新密鑰失敗",
				logger.WithKeyID(result.Key.ID),
				logger.WithDetails(map[string]interface{}{"error": revokeErr.Error()}))
		}
		if errors.Is(err, credential.ErrStatusConflict) {
			return nil, apierr.New(apierr.KindConflict, "key status changed, retry the operation")
		}
		return nil, apierr.Wrap(apierr.KindInternal, "internal server error", err)
	}

	if err := r.store.LinkRotation(ctx, keyID, result.Key.ID); err != nil {
		logger.Error(ctx, "設置輪換連結失敗",
			logger.WithKeyID(keyID),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}))
	}

	r.audit.LogKeyRotated(ctx, ownerUserID, keyID, result.Key.ID)
	return result, nil
}

// issueLinked 為輪換簽發帶連結的新密鑰
func (r *Registry) issueLinked(ctx context.Context, old *credential.APIKey) (*IssueResult, error) {
	for attempt := 0; attempt < constants.KeyGenMaxRetries; attempt++ {
		plaintext, err := GeneratePlaintext()
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "internal server error", err)
		}

		key := &credential.APIKey{
			ID:            bson.NewObjectID().Hex(),
			SecretDigest:  Digest(plaintext),
			KeyPrefix:     DisplayPrefix(plaintext),
			OwnerUserID:   old.OwnerUserID,
			OwnerEmail:    old.OwnerEmail,
			Name:          old.Name,
			Status:        credential.StatusActive,
			CreatedAt:     time.Now().UTC(),
			ExpiresAt:     old.ExpiresAt,
			RotatedFromID: old.ID,
		}

		err = r.store.PutKeyIfAbsent(ctx, key)
		if err == nil {
			return &IssueResult{Key: key, Plaintext: plaintext}, nil
		}
		if errors.Is(err, credential.ErrKeyExists) {
			continue
		}
		return nil, apierr.Wrap(apierr.KindInternal, "internal server error", err)
	}
	return nil, apierr.New(apierr.KindInternal, "internal server error")
}

// Suspend 暫停密鑰
func (r *Registry) Suspend(ctx context.Context, ownerUserID, keyID string) error {
	if _, err := r.getOwned(ctx, ownerUserID, keyID); err != nil {
		return err
	}
	err := r.store.TransitionStatus(ctx, keyID, credential.StatusSuspended, credential.StatusActive)
	if err != nil {
		if errors.Is(err, credential.ErrStatusConflict) {
			return apierr.New(apierr.KindConflict, "only active keys can be suspended")
		}
		return apierr.Wrap(apierr.KindInternal, "internal server error", err)
	}
	r.audit.LogKeySuspended(ctx, ownerUserID, keyID)
	return nil
}

// Reinstate 恢復暫停中的密鑰
func (r *Registry) Reinstate(ctx context.Context, ownerUserID, keyID string) error {
	if _, err := r.getOwned(ctx, ownerUserID, keyID); err != nil {
		return err
	}
	err := r.store.TransitionStatus(ctx, keyID, credential.StatusActive, credential.StatusSuspended)
	if err != nil {
		if errors.Is(err, credential.ErrStatusConflict) {
			return apierr.New(apierr.KindConflict, "only suspended keys can be reinstated")
		}
		return apierr.Wrap(apierr.KindInternal, "internal server error", err)
	}
	r.audit.LogKeyReinstated(ctx, ownerUserID, keyID)
	return nil
}

// SweepRotating 清掃寬限期已過的輪換中密鑰
// 由排程器定期呼叫；認證路徑另有逐鍵的即時清掃。
// 回傳轉為 revoked 的數量。
func (r *Registry) SweepRotating(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-r.grace)
	keys, err := r.store.ListRotatingBefore(ctx, cutoff)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindInternal, "internal server error", err)
	}

	swept := 0
	for _, key := range keys {
		err := r.store.TransitionStatus(ctx, key.ID, credential.StatusRevoked, credential.StatusRotating)
		if err != nil {
			// 競爭輸了（已被撤銷或恢復）就跳過
			if errors.Is(err, credential.ErrStatusConflict) || errors.Is(err, credential.ErrKeyNotFound) {
				continue
			}
			return swept, apierr.Wrap(apierr.KindInternal, "internal server error", err)
		}
		swept++
		r.audit.LogRotationExpired(ctx, key.OwnerUserID, key.ID)
	}

	if swept > 0 {
		logger.Info(ctx, "輪換寬限期清掃完成",
			logger.WithAction("sweep_rotating"),
			logger.WithDetails(map[string]interface{}{"swept": swept}))
	}
	return swept, nil
}

// getOwned 取得密鑰並檢查擁有權
// 不存在 → NotFound；他人的密鑰 → Forbidden。
func (r *Registry) getOwned(ctx context.Context, ownerUserID, keyID string) (*credential.APIKey, error) {
	key, err := r.store.GetKeyByID(ctx, keyID)
	if err != nil {
		if errors.Is(err, credential.ErrKeyNotFound) {
			return nil, apierr.New(apierr.KindNotFound, "key not found")
		}
		return nil, apierr.Wrap(apierr.KindInternal, "internal server error", err)
	}
	if key.OwnerUserID != ownerUserID {
		return nil, apierr.New(apierr.KindForbidden, "key belongs to another account")
	}
	return key, nil
}

// NormalizeEmail 規範化 email（大小寫不敏感比對用）
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
