package quota

import (
	"context"
	"errors"
	"time"

	"elx-gateway/internal/apierr"
	"elx-gateway/internal/constants"
	"elx-gateway/internal/platform/config"
	"elx-gateway/internal/platform/logger"
	"elx-gateway/internal/security/audit"
	"elx-gateway/internal/storage/database/credential"
	"elx-gateway/internal/subscription"
)

// Limits 各窗口的基礎額度（free 方案）
// Enabled 為 false 時引擎全數放行，不讀寫窗口計數。
type Limits struct {
	Enabled       bool
	Burst         int64
	BurstInterval time.Duration
	Hour          int64
	Day           int64
	Month         int64
	ProMultiplier int64
}

// DefaultLimits 預設額度
func DefaultLimits() Limits {
	return Limits{
		Enabled:       true,
		Burst:         constants.DefaultBurstLimit,
		BurstInterval: time.Duration(constants.DefaultBurstIntervalS) * time.Second,
		Hour:          constants.DefaultHourLimit,
		Day:           constants.DefaultDayLimit,
		Month:         constants.DefaultMonthLimit,
		ProMultiplier: constants.DefaultProMultiplier,
	}
}

// LimitsFromConfig 從配置讀取額度，缺省時使用預設值
func LimitsFromConfig(cfg *config.Config) Limits {
	limits := DefaultLimits()
	if cfg == nil {
		return limits
	}

	q := cfg.Limits.Quota
	limits.Enabled = q.Enabled
	if q.BurstLimit > 0 {
		limits.Burst = q.BurstLimit
	}
	if q.BurstIntervalSeconds > 0 {
		limits.BurstInterval = time.Duration(q.BurstIntervalSeconds) * time.Second
	}
	if q.HourLimit > 0 {
		limits.Hour = q.HourLimit
	}
	if q.DayLimit > 0 {
		limits.Day = q.DayLimit
	}
	if q.MonthLimit > 0 {
		limits.Month = q.MonthLimit
	}
	if q.ProMultiplier > 0 {
		limits.ProMultiplier = q.ProMultiplier
	}
	return limits
}

// forTier 取方案乘算後的窗口額度
func (l Limits) forTier(kind credential.WindowKind, tier subscription.Tier) int64 {
	var base int64
	switch kind {
	case credential.WindowBurst:
		base = l.Burst
	case credential.WindowHour:
		base = l.Hour
	case credential.WindowDay:
		base = l.Day
	case credential.WindowMonth:
		base = l.Month
	}
	if tier == subscription.TierPro {
		return base * l.ProMultiplier
	}
	return base
}

// WindowState 單一窗口的狀態
type WindowState struct {
	Kind      credential.WindowKind
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// Decision 准入判定結果
// Windows 按檢查順序排列，供回應標頭取最緊的窗口。
type Decision struct {
	Allowed           bool
	DeniedWindow      credential.WindowKind
	RetryAfterSeconds int
	Windows           []WindowState
}

// TightestOf 回傳剩餘額度最少但仍有餘裕的窗口
// 全部窗口都耗盡時退回剩餘最少者。
func TightestOf(states []WindowState) *WindowState {
	if len(states) == 0 {
		return nil
	}

	var tightest *WindowState
	for i := range states {
		w := &states[i]
		if w.Remaining == 0 {
			continue
		}
		if tightest == nil || w.Remaining < tightest.Remaining {
			tightest = w
		}
	}
	if tightest == nil {
		tightest = &states[0]
	}
	return tightest
}

// Tightest 回傳本次判定中最緊的窗口
func (d *Decision) Tightest() *WindowState {
	return TightestOf(d.Windows)
}

// Denied 回傳被拒絕的窗口狀態；判定通過時回傳 nil
func (d *Decision) Denied() *WindowState {
	if d.Allowed {
		return nil
	}
	for i := range d.Windows {
		if d.Windows[i].Kind == d.DeniedWindow {
			return &d.Windows[i]
		}
	}
	return nil
}

// Engine 多窗口配額引擎
// 窗口按 burst → hour → day → month 順序檢查，任一超限即拒絕；
// 已消耗的較小窗口額度不退還，計數天然收斂。
type Engine struct {
	store  credential.Store
	limits Limits
	audit  *audit.AuditService
}

// NewEngine 創建配額引擎
func NewEngine(store credential.Store, limits Limits, auditSvc *audit.AuditService) *Engine {
	if limits.BurstInterval <= 0 {
		limits.BurstInterval = time.Duration(constants.DefaultBurstIntervalS) * time.Second
	}
	return &Engine{
		store:  store,
		limits: limits,
		audit:  auditSvc,
	}
}

// windowStart 計算窗口起點（固定窗口，UTC 對齊）
func (e *Engine) windowStart(kind credential.WindowKind, now time.Time) time.Time {
	now = now.UTC()
	switch kind {
	case credential.WindowBurst:
		return now.Truncate(e.limits.BurstInterval)
	case credential.WindowHour:
		return now.Truncate(time.Hour)
	case credential.WindowDay:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case credential.WindowMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return now
}

// windowEnd 計算窗口終點（下一個窗口的起點）
func (e *Engine) windowEnd(kind credential.WindowKind, start time.Time) time.Time {
	switch kind {
	case credential.WindowBurst:
		return start.Add(e.limits.BurstInterval)
	case credential.WindowHour:
		return start.Add(time.Hour)
	case credential.WindowDay:
		return start.AddDate(0, 0, 1)
	case credential.WindowMonth:
		return start.AddDate(0, 1, 0)
	}
	return start
}

// Admit 嘗試為一次請求取得全部窗口的額度
// 成功時每個窗口各消耗 1；在第 N 個窗口被拒時，前 N-1 個窗口
// 已消耗的額度不退還。
func (e *Engine) Admit(ctx context.Context, keyID string, tier subscription.Tier) (*Decision, error) {
	// 配額停用時全數放行，不留窗口狀態
	if !e.limits.Enabled {
		return &Decision{Allowed: true}, nil
	}

	now := time.Now().UTC()
	decision := &Decision{
		Allowed: true,
		Windows: make([]WindowState, 0, len(credential.WindowOrder)),
	}

	for _, kind := range credential.WindowOrder {
		limit := e.limits.forTier(kind, tier)
		start := e.windowStart(kind, now)
		end := e.windowEnd(kind, start)

		count, err := e.store.IncrementWindow(ctx, keyID, kind, start, limit)
		if err != nil {
			if errors.Is(err, credential.ErrLimitExceeded) {
				retryAfter := int(end.Sub(now).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				decision.Allowed = false
				decision.DeniedWindow = kind
				decision.RetryAfterSeconds = retryAfter
				decision.Windows = append(decision.Windows, WindowState{
					Kind:      kind,
					Limit:     limit,
					Remaining: 0,
					ResetAt:   end,
				})

				observeRejection(kind)
				e.audit.LogQuotaExceeded(ctx, keyID, string(kind))
				logger.Info(ctx, "配額超限",
					logger.WithKeyID(keyID),
					logger.WithAction("quota_reject"),
					logger.WithDetails(map[string]interface{}{
						"window":      string(kind),
						"retry_after": retryAfter,
					}))
				return decision, nil
			}
			return nil, apierr.Wrap(apierr.KindInternal, "internal server error", err)
		}

		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		decision.Windows = append(decision.Windows, WindowState{
			Kind:      kind,
			Limit:     limit,
			Remaining: remaining,
			ResetAt:   end,
		})
	}

	observeAdmission()
	return decision, nil
}

// Snapshot 讀取各窗口目前的用量，不消耗額度
// 供用量查詢端點使用。
func (e *Engine) Snapshot(ctx context.Context, keyID string, tier subscription.Tier) ([]WindowState, error) {
	now := time.Now().UTC()
	states := make([]WindowState, 0, len(credential.WindowOrder))

	for _, kind := range credential.WindowOrder {
		limit := e.limits.forTier(kind, tier)
		start := e.windowStart(kind, now)

		count, err := e.store.PeekWindow(ctx, keyID, kind, start)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "internal server error", err)
		}

		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		states = append(states, WindowState{
			Kind:      kind,
			Limit:     limit,
			Remaining: remaining,
			ResetAt:   e.windowEnd(kind, start),
		})
	}
	return states, nil
}

// MirrorUsage 將當日與當月計數鏡像回密鑰文件（盡力而為）
// 鏡像值僅供列表顯示，權威計數在窗口存儲。
func (e *Engine) MirrorUsage(ctx context.Context, keyID string) {
	now := time.Now().UTC()

	today, err := e.store.PeekWindow(ctx, keyID, credential.WindowDay, e.windowStart(credential.WindowDay, now))
	if err != nil {
		return
	}
	month, err := e.store.PeekWindow(ctx, keyID, credential.WindowMonth, e.windowStart(credential.WindowMonth, now))
	if err != nil {
		return
	}

	if err := e.store.MirrorUsage(ctx, keyID, today, month); err != nil {
		logger.Debug(ctx, "用量鏡像失敗",
			logger.WithKeyID(keyID),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}))
	}
}
