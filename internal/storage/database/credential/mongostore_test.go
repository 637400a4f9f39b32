package credential

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// newMongoTestStore 連接整合測試用 MongoDB
// 未設置 MONGO_TEST_URL 時跳過，避免在無資料庫的環境失敗。
func newMongoTestStore(t *testing.T) *MongoStore {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URL")
	if uri == "" {
		t.Skip("MONGO_TEST_URL 未設置，跳過 MongoDB 整合測試")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	db := client.Database("elx_gateway_test")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := CreateIndexes(ctx, db); err != nil {
		t.Fatalf("create indexes: %v", err)
	}

	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cleanupCancel()
		_ = db.Collection("rate_windows").Drop(cleanupCtx)
		_ = db.Collection("api_keys").Drop(cleanupCtx)
		_ = client.Disconnect(cleanupCtx)
	})

	return NewMongoStore(db)
}

// 窗口文件首次創建時的併發競爭：
// 多個請求同時 upsert 不存在的窗口，輸家撞唯一索引，
// 必須重試成功而不是誤判為達到上限。
func TestIncrementWindowConcurrentFirstWrite(t *testing.T) {
	store := newMongoTestStore(t)
	ctx := context.Background()

	start := time.Now().UTC().Truncate(time.Hour)
	const workers = 16
	const limit = 100

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.IncrementWindow(ctx, "k1", WindowHour, start, limit); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("IncrementWindow() error: %v", err)
	}

	count, err := store.PeekWindow(ctx, "k1", WindowHour, start)
	if err != nil {
		t.Fatal(err)
	}
	if count != workers {
		t.Errorf("count = %d, want %d", count, workers)
	}
}

func TestMongoIncrementWindowCeiling(t *testing.T) {
	store := newMongoTestStore(t)
	ctx := context.Background()

	start := time.Now().UTC().Truncate(time.Hour)
	const limit = 5

	for i := int64(0); i < limit; i++ {
		count, err := store.IncrementWindow(ctx, "k2", WindowHour, start, limit)
		if err != nil {
			t.Fatalf("increment %d: %v", i+1, err)
		}
		if count != i+1 {
			t.Errorf("count = %d, want %d", count, i+1)
		}
	}

	if _, err := store.IncrementWindow(ctx, "k2", WindowHour, start, limit); !errors.Is(err, ErrLimitExceeded) {
		t.Errorf("past ceiling: got %v, want ErrLimitExceeded", err)
	}

	// 上限拒絕不改變計數
	count, err := store.PeekWindow(ctx, "k2", WindowHour, start)
	if err != nil {
		t.Fatal(err)
	}
	if count != limit {
		t.Errorf("count after rejection = %d, want %d", count, limit)
	}
}
