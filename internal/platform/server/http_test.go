package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"elx-gateway/internal/apikey"
	"elx-gateway/internal/auth"
	"elx-gateway/internal/platform/config"
	"elx-gateway/internal/quota"
	"elx-gateway/internal/storage/database/article"
	"elx-gateway/internal/storage/database/credential"
	"elx-gateway/internal/subscription"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// memoryArticles 文章倉儲的測試替身
type memoryArticles struct {
	items []*article.Article
}

func (m *memoryArticles) Create(_ context.Context, a *article.Article) error {
	m.items = append(m.items, a)
	return nil
}

func (m *memoryArticles) GetByID(_ context.Context, id string) (*article.Article, error) {
	for _, a := range m.items {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (m *memoryArticles) List(_ context.Context, skip, limit int, _ string) ([]*article.Article, int64, error) {
	if skip >= len(m.items) {
		return nil, int64(len(m.items)), nil
	}
	end := skip + limit
	if end > len(m.items) {
		end = len(m.items)
	}
	return m.items[skip:end], int64(len(m.items)), nil
}

func testRouterConfig() *config.Config {
	return &config.Config{
		App:    config.AppConfig{Name: "elx-gateway", Version: "test"},
		Server: config.ServerConfig{Host: "localhost", Port: "0", Timeout: 5},
		Database: config.DatabaseConfig{
			Mongo: config.MongoConfig{URL: "mongodb://localhost:27017", Database: "test", MaxPoolSize: 10},
		},
		Log: config.LogConfig{RotationTimeHours: 24, MaxAgeDays: 1, MaxSizeMB: 10},
		Limits: config.LimitsConfig{
			Request:    config.RequestLimitsConfig{MaxBodySize: 512},
			Pagination: config.PaginationLimitsConfig{DefaultPageSize: 20, MaxPageSize: 20, MaxPage: 100},
		},
	}
}

func testRouterLimits(burst int64) quota.Limits {
	return quota.Limits{
		Enabled:       true,
		Burst:         burst,
		BurstInterval: 10 * time.Second,
		Hour:          100,
		Day:           1000,
		Month:         10000,
		ProMultiplier: 10,
	}
}

// newTestRouter 把內存存儲接進完整路由，覆蓋整條 HTTP 管線
func newTestRouter(t *testing.T, limits quota.Limits) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if err := config.Load(testRouterConfig()); err != nil {
		t.Fatalf("load config: %v", err)
	}

	store := credential.NewMemoryStore()
	registry := apikey.NewRegistry(store, 24*time.Hour, nil)
	authn := auth.NewAuthenticator(store, subscription.StaticTierLookup{}, 24*time.Hour, nil)
	engine := quota.NewEngine(store, limits, nil)

	return Router(&Dependencies{
		Registry:      registry,
		Authenticator: authn,
		Quota:         engine,
		Articles:      &memoryArticles{},
	})
}

func doRequest(r *gin.Engine, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sessionHeaders() map[string]string {
	return map[string]string{
		"Content-Type": "application/json",
		"x-user-id":    "user-1",
		"x-user-email": "alice@example.com",
	}
}

// issueTestKey 透過管理端點簽發密鑰，回傳管理 ID 與明文
func issueTestKey(t *testing.T, r *gin.Engine) (string, string) {
	t.Helper()

	w := doRequest(r, http.MethodPost, "/api/v1/keys", `{"name":"integration"}`, sessionHeaders())
	if w.Code != http.StatusCreated {
		t.Fatalf("issue key: status = %d, body = %s", w.Code, w.Body.String())
	}

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			ID  string `json:"id"`
			Key string `json:"key"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode issue response: %v", err)
	}
	if !body.Success || body.Data.ID == "" || body.Data.Key == "" {
		t.Fatalf("issue response incomplete: %s", w.Body.String())
	}
	return body.Data.ID, body.Data.Key
}

func keyHeaders(plaintext string) map[string]string {
	return map[string]string{
		"x-api-key":    plaintext,
		"x-user-email": "alice@example.com",
	}
}

func TestRouterIssueKeyEnvelope(t *testing.T) {
	r := newTestRouter(t, testRouterLimits(5))

	w := doRequest(r, http.MethodPost, "/api/v1/keys", `{"name":"my key"}`, sessionHeaders())
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("response should carry a request id header")
	}

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Key       string `json:"key"`
			KeyPrefix string `json:"keyPrefix"`
			Status    string `json:"status"`
		} `json:"data"`
		Meta struct {
			RequestID string `json:"requestId"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Success {
		t.Error("success = false, want true")
	}
	if !apikey.ValidFormat(body.Data.Key) {
		t.Errorf("issued key %q has invalid format", body.Data.Key)
	}
	if !strings.HasPrefix(body.Data.Key, body.Data.KeyPrefix) {
		t.Error("keyPrefix should be a prefix of the issued key")
	}
	if body.Data.Status != "active" {
		t.Errorf("status = %q, want active", body.Data.Status)
	}
	if body.Meta.RequestID == "" {
		t.Error("meta.requestId should be set")
	}
}

func TestRouterManagementRequiresSession(t *testing.T) {
	r := newTestRouter(t, testRouterLimits(5))

	w := doRequest(r, http.MethodPost, "/api/v1/keys", `{"name":"my key"}`, map[string]string{
		"Content-Type": "application/json",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	var body struct {
		Success    bool   `json:"success"`
		Error      string `json:"error"`
		StatusCode int    `json:"statusCode"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Success || body.StatusCode != http.StatusUnauthorized || body.Error == "" {
		t.Errorf("error envelope mismatch: %s", w.Body.String())
	}
}

func TestRouterUnknownKeyUnauthorized(t *testing.T) {
	r := newTestRouter(t, testRouterLimits(5))

	w := doRequest(r, http.MethodGet, "/api/v1/articles", "", map[string]string{
		"x-api-key":    "elx_live_" + strings.Repeat("z", 32),
		"x-user-email": "alice@example.com",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestRouterArticlesEnvelopeRateLimit(t *testing.T) {
	limits := testRouterLimits(3)
	r := newTestRouter(t, limits)
	_, plaintext := issueTestKey(t, r)

	w := doRequest(r, http.MethodGet, "/api/v1/articles", "", keyHeaders(plaintext))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var body struct {
		Success bool `json:"success"`
		Meta    struct {
			RequestID string `json:"requestId"`
			RateLimit *struct {
				Limit     int64  `json:"limit"`
				Remaining int64  `json:"remaining"`
				ResetAt   string `json:"resetAt"`
			} `json:"rateLimit"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Success || body.Meta.RequestID == "" {
		t.Errorf("envelope mismatch: %s", w.Body.String())
	}
	if body.Meta.RateLimit == nil {
		t.Fatal("meta.rateLimit should be present on quota-admitted endpoints")
	}
	if body.Meta.RateLimit.Limit != limits.Burst || body.Meta.RateLimit.Remaining != limits.Burst-1 {
		t.Errorf("rateLimit = %+v, want limit=%d remaining=%d",
			body.Meta.RateLimit, limits.Burst, limits.Burst-1)
	}
	if _, err := time.Parse(time.RFC3339, body.Meta.RateLimit.ResetAt); err != nil {
		t.Errorf("resetAt %q is not RFC3339: %v", body.Meta.RateLimit.ResetAt, err)
	}

	if got := w.Header().Get("X-RateLimit-Limit"); got != strconv.FormatInt(limits.Burst, 10) {
		t.Errorf("X-RateLimit-Limit = %q, want %d", got, limits.Burst)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != strconv.FormatInt(limits.Burst-1, 10) {
		t.Errorf("X-RateLimit-Remaining = %q, want %d", got, limits.Burst-1)
	}
}

func TestRouterQuotaExhausted(t *testing.T) {
	r := newTestRouter(t, testRouterLimits(2))
	_, plaintext := issueTestKey(t, r)

	for i := 0; i < 2; i++ {
		if w := doRequest(r, http.MethodGet, "/api/v1/articles", "", keyHeaders(plaintext)); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, w.Code)
		}
	}

	w := doRequest(r, http.MethodGet, "/api/v1/articles", "", keyHeaders(plaintext))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, want integer >= 1", w.Header().Get("Retry-After"))
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}

	var body struct {
		Success    bool   `json:"success"`
		Error      string `json:"error"`
		StatusCode int    `json:"statusCode"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Success || body.StatusCode != http.StatusTooManyRequests {
		t.Errorf("error envelope mismatch: %s", w.Body.String())
	}
	if !strings.Contains(body.Error, "burst") {
		t.Errorf("error %q should name the exhausted window", body.Error)
	}
}

func TestRouterUsageDoesNotConsume(t *testing.T) {
	limits := testRouterLimits(2)
	r := newTestRouter(t, limits)
	_, plaintext := issueTestKey(t, r)

	// 查詢次數遠超 burst 額度，仍全部成功
	var last *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		last = doRequest(r, http.MethodGet, "/api/v1/usage", "", keyHeaders(plaintext))
		if last.Code != http.StatusOK {
			t.Fatalf("usage query %d: status = %d", i+1, last.Code)
		}
	}

	var body struct {
		Data struct {
			Windows []struct {
				Window    string `json:"window"`
				Limit     int64  `json:"limit"`
				Remaining int64  `json:"remaining"`
			} `json:"windows"`
		} `json:"data"`
	}
	if err := json.Unmarshal(last.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Data.Windows) != 4 {
		t.Fatalf("windows = %d, want 4", len(body.Data.Windows))
	}
	for _, w := range body.Data.Windows {
		if w.Remaining != w.Limit {
			t.Errorf("window %s: usage queries consumed quota (%d/%d left)", w.Window, w.Remaining, w.Limit)
		}
	}
}

func TestRouterPayloadTooLarge(t *testing.T) {
	r := newTestRouter(t, testRouterLimits(5))

	oversized := `{"name":"` + strings.Repeat("a", 1024) + `"}`
	w := doRequest(r, http.MethodPost, "/api/v1/keys", oversized, sessionHeaders())
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}

	var body struct {
		Success    bool `json:"success"`
		StatusCode int  `json:"statusCode"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Success || body.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("error envelope mismatch: %s", w.Body.String())
	}
}
