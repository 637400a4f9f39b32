package server

import (
	"errors"
	"time"

	"elx-gateway/internal/apierr"
	"elx-gateway/internal/apikey"
	"elx-gateway/internal/auth"
	"elx-gateway/internal/constants"
	"elx-gateway/internal/httputil"
	"elx-gateway/internal/platform/config"
	"elx-gateway/internal/platform/health"
	"elx-gateway/internal/platform/middleware"
	"elx-gateway/internal/quota"
	"elx-gateway/internal/storage/database"
	"elx-gateway/internal/storage/database/article"
	"elx-gateway/internal/storage/database/credential"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Dependencies 路由需要的服務集合.
type Dependencies struct {
	Registry      *apikey.Registry
	Authenticator *auth.Authenticator
	Quota         *quota.Engine
	Articles      article.ArticleRepository
}

// securityHeadersMiddleware 添加安全標頭
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 防止點擊劫持
		c.Header("X-Frame-Options", "DENY")

		// 防止 MIME 類型嗅探
		c.Header("X-Content-Type-Options", "nosniff")

		// 啟用 XSS 保護
		c.Header("X-XSS-Protection", "1; mode=block")

		// 內容安全策略
		c.Header("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none';")

		// 推薦政策
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		c.Next()
	}
}

// corsMiddleware 安全的 CORS 中間件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// 只允許特定的來源（生產環境應該從配置文件讀取）
		allowedOrigins := map[string]bool{
			"http://localhost:3000": true, // 開發環境前端
			"http://localhost:8080": true, // 本地測試
			"http://127.0.0.1:8080": true, // 本地測試 (127.0.0.1)
		}

		if allowedOrigins[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, x-api-key, x-user-email, x-user-id")
		c.Header("Access-Control-Max-Age", "86400") // 預檢請求緩存 24 小時

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// Router 設定路由
func Router(deps *Dependencies) *gin.Engine {
	r := gin.Default()

	r.Use(corsMiddleware())

	// 添加請求 ID 中間件（最優先）
	r.Use(middleware.RequestIDMiddleware())

	// 添加安全標頭中間件
	r.Use(securityHeadersMiddleware())

	// 添加請求元數據中間件（提取 IP、User-Agent）
	r.Use(middleware.RequestMetadataMiddleware())

	// 從配置讀取限制參數
	cfg := config.Get()

	// 請求體大小上限（防止大文件攻擊）
	maxBodySize := int64(constants.DefaultMaxRequestBodySize)
	if cfg != nil && cfg.Limits.Request.MaxBodySize > 0 {
		maxBodySize = cfg.Limits.Request.MaxBodySize
	}
	r.Use(middleware.RequestSizeLimiter(maxBodySize))

	// 創建處理器
	healthHandler := health.NewHealthHandler()

	// health check 與指標
	r.GET("/health", healthHandler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &handlers{deps: deps}

	// 密鑰管理端點：信任上游 web 會話層的身份標頭，
	// 不走密鑰認證（已撤銷的密鑰仍須能被管理），
	// 用 IP 級限流擋單一來源濫用。
	ipLimiter := middleware.NewIPRateLimiter(60, time.Minute)
	keys := r.Group("/api/v1/keys")
	keys.Use(ipLimiter.Middleware())
	keys.Use(middleware.SessionUserMiddleware())
	{
		keys.POST("", h.createKey)
		keys.GET("", h.listKeys)
		keys.DELETE("/:key_id", h.revokeKey)
		keys.POST("/:key_id/rotate", h.rotateKey)
		keys.POST("/:key_id/suspend", h.suspendKey)
		keys.POST("/:key_id/reinstate", h.reinstateKey)
	}

	// 數據端點：密鑰認證後才可達
	data := r.Group("/api/v1")
	data.Use(middleware.APIKeyAuthMiddleware(deps.Authenticator))
	{
		// 用量查詢只讀窗口計數，不經配額准入、不消耗額度
		data.GET("/usage", h.getUsage)

		// 業務資源走完整管線：多窗口配額准入後才放行
		quotaed := data.Group("")
		quotaed.Use(middleware.QuotaMiddleware(deps.Quota))
		{
			quotaed.GET("/articles", h.listArticles)
			quotaed.GET("/articles/:article_id", h.getArticle)
		}
	}

	return r
}

type handlers struct {
	deps *Dependencies
}

// keyView 密鑰的對外呈現（永不包含摘要）.
type keyView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	KeyPrefix   string     `json:"keyPrefix"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
	UsageToday  int64      `json:"usageToday"`
	UsageMonth  int64      `json:"usageThisMonth"`
	TotalUsage  int64      `json:"totalUsage"`
	RotatedFrom string     `json:"rotatedFromId,omitempty"`
	RotatedTo   string     `json:"rotatedToId,omitempty"`
}

func newKeyView(key *credential.APIKey) keyView {
	return keyView{
		ID:          key.ID,
		Name:        key.Name,
		KeyPrefix:   key.KeyPrefix,
		Status:      string(key.Status),
		CreatedAt:   key.CreatedAt,
		ExpiresAt:   key.ExpiresAt,
		LastUsedAt:  key.LastUsedAt,
		UsageToday:  key.Usage.RequestsToday,
		UsageMonth:  key.Usage.RequestsThisMonth,
		TotalUsage:  key.Usage.TotalRequests,
		RotatedFrom: key.RotatedFromID,
		RotatedTo:   key.RotatedToID,
	}
}

// createKey 簽發新密鑰
// 明文只在這個回應出現一次。
func (h *handlers) createKey(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	if err := middleware.ValidateKeyName(req.Name); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	principal, _ := middleware.GetPrincipal(c)
	result, err := h.deps.Registry.Issue(c.Request.Context(), principal.UserID, principal.Email, middleware.SanitizeInput(req.Name))
	if err != nil {
		httputil.HandleError(c, err)
		return
	}

	httputil.RespondCreated(c, gin.H{
		"id":        result.Key.ID,
		"key":       result.Plaintext,
		"keyPrefix": result.Key.KeyPrefix,
		"name":      result.Key.Name,
		"status":    string(result.Key.Status),
		"createdAt": result.Key.CreatedAt,
	})
}

// listKeys 列出會話用戶的全部密鑰
func (h *handlers) listKeys(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)
	keys, err := h.deps.Registry.List(c.Request.Context(), principal.UserID)
	if err != nil {
		httputil.HandleError(c, err)
		return
	}

	views := make([]keyView, 0, len(keys))
	for _, key := range keys {
		views = append(views, newKeyView(key))
	}

	httputil.RespondOK(c, gin.H{"keys": views, "total": len(views)}, nil)
}

// keyIDParam 取並驗證路徑中的密鑰 ID
func keyIDParam(c *gin.Context) (string, bool) {
	keyID := c.Param("key_id")
	if err := database.ValidateObjectID(keyID); err != nil {
		httputil.BadRequest(c, "無效的密鑰 ID 格式")
		return "", false
	}
	return keyID, true
}

// revokeKey 撤銷密鑰（冪等）
func (h *handlers) revokeKey(c *gin.Context) {
	keyID, ok := keyIDParam(c)
	if !ok {
		return
	}

	principal, _ := middleware.GetPrincipal(c)
	if err := h.deps.Registry.Revoke(c.Request.Context(), principal.UserID, keyID); err != nil {
		httputil.HandleError(c, err)
		return
	}

	httputil.RespondOK(c, gin.H{"id": keyID, "status": string(credential.StatusRevoked)}, nil)
}

// rotateKey 輪換密鑰
// 回應包含新密鑰明文與舊密鑰的寬限截止時間。
func (h *handlers) rotateKey(c *gin.Context) {
	keyID, ok := keyIDParam(c)
	if !ok {
		return
	}

	principal, _ := middleware.GetPrincipal(c)
	result, err := h.deps.Registry.Rotate(c.Request.Context(), principal.UserID, keyID)
	if err != nil {
		httputil.HandleError(c, err)
		return
	}

	graceUntil := time.Now().UTC().Add(h.deps.Registry.GracePeriod())
	httputil.RespondOK(c, gin.H{
		"id":             result.Key.ID,
		"key":            result.Plaintext,
		"keyPrefix":      result.Key.KeyPrefix,
		"name":           result.Key.Name,
		"status":         string(result.Key.Status),
		"createdAt":      result.Key.CreatedAt,
		"oldKeyId":       keyID,
		"oldKeyValidTil": graceUntil,
	}, nil)
}

// suspendKey 暫停密鑰
func (h *handlers) suspendKey(c *gin.Context) {
	keyID, ok := keyIDParam(c)
	if !ok {
		return
	}

	principal, _ := middleware.GetPrincipal(c)
	if err := h.deps.Registry.Suspend(c.Request.Context(), principal.UserID, keyID); err != nil {
		httputil.HandleError(c, err)
		return
	}

	httputil.RespondOK(c, gin.H{"id": keyID, "status": string(credential.StatusSuspended)}, nil)
}

// reinstateKey 恢復暫停中的密鑰
func (h *handlers) reinstateKey(c *gin.Context) {
	keyID, ok := keyIDParam(c)
	if !ok {
		return
	}

	principal, _ := middleware.GetPrincipal(c)
	if err := h.deps.Registry.Reinstate(c.Request.Context(), principal.UserID, keyID); err != nil {
		httputil.HandleError(c, err)
		return
	}

	httputil.RespondOK(c, gin.H{"id": keyID, "status": string(credential.StatusActive)}, nil)
}

// listArticles 列出文章（閘道後的示範資源）
func (h *handlers) listArticles(c *gin.Context) {
	pagination, err := middleware.ParsePagination(c)
	if err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	search := middleware.SanitizeInput(c.Query("q"))
	articles, total, err := h.deps.Articles.List(c.Request.Context(), pagination.Offset(), pagination.PageSize, search)
	if err != nil {
		httputil.InternalServerError(c, err)
		return
	}

	httputil.RespondOK(c, gin.H{
		"items":    articles,
		"total":    total,
		"page":     pagination.Page,
		"pageSize": pagination.PageSize,
	}, middleware.GetRateLimitMeta(c))
}

// getArticle 取單篇文章
func (h *handlers) getArticle(c *gin.Context) {
	articleID := c.Param("article_id")
	if err := database.ValidateObjectID(articleID); err != nil {
		httputil.BadRequest(c, "無效的文章 ID 格式")
		return
	}

	a, err := h.deps.Articles.GetByID(c.Request.Context(), articleID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			httputil.HandleError(c, apierr.New(apierr.KindNotFound, httputil.MsgRecordNotFound))
			return
		}
		httputil.InternalServerError(c, err)
		return
	}

	httputil.RespondOK(c, a, middleware.GetRateLimitMeta(c))
}

// getUsage 查詢本密鑰各配額窗口的狀態（不消耗額度）
func (h *handlers) getUsage(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		httputil.Unauthorized(c)
		return
	}

	states, err := h.deps.Quota.Snapshot(c.Request.Context(), principal.KeyID, principal.Tier)
	if err != nil {
		httputil.HandleError(c, err)
		return
	}

	windows := make([]gin.H, 0, len(states))
	for _, w := range states {
		windows = append(windows, gin.H{
			"window":    string(w.Kind),
			"limit":     w.Limit,
			"remaining": w.Remaining,
			"resetAt":   w.ResetAt.UTC().Format(time.RFC3339),
		})
	}

	var rate *httputil.RateLimitMeta
	if tightest := quota.TightestOf(states); tightest != nil {
		rate = httputil.NewRateLimitMeta(tightest.Limit, tightest.Remaining, tightest.ResetAt)
	}

	httputil.RespondOK(c, gin.H{
		"keyId":   principal.KeyID,
		"tier":    string(principal.Tier),
		"windows": windows,
	}, rate)
}
