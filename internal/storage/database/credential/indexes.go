package credential

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateIndexes 創建憑證存儲所需的索引
// rate_windows 的唯一複合索引是 IncrementWindow 原子上限判定的前提，
// 缺少它時 upsert 競爭會產生重複窗口文件。
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	// api_keys 集合索引
	keysCollection := db.Collection("api_keys")

	// 1. 摘要唯一索引（認證查找路徑）
	digestIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "secret_digest", Value: 1},
		},
		Options: options.Index().SetName("secret_digest_idx").SetUnique(true),
	}

	// 2. 擁有者 + 創建時間索引（列表查詢）
	ownerIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "owner_user_id", Value: 1},
			{Key: "created_at", Value: -1},
		},
		Options: options.Index().SetName("owner_created_idx"),
	}

	// 3. 狀態 + 輪換時間索引（寬限期清掃）
	rotatingIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "rotating_since", Value: 1},
		},
		Options: options.Index().SetName("status_rotating_idx"),
	}

	keyIndexes := []mongo.IndexModel{
		digestIndex,
		ownerIndex,
		rotatingIndex,
	}

	if _, err := keysCollection.Indexes().CreateMany(ctx, keyIndexes); err != nil {
		return err
	}

	// rate_windows 集合索引
	windowsCollection := db.Collection("rate_windows")

	// 1. 窗口唯一複合索引（原子增量的依據）
	windowIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "key_id", Value: 1},
			{Key: "window_kind", Value: 1},
			{Key: "window_start", Value: 1},
		},
		Options: options.Index().SetName("window_idx").SetUnique(true),
	}

	// 2. TTL 索引：過期窗口文件自動清理
	ttlIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "updated_at", Value: 1},
		},
		Options: options.Index().
			SetName("window_ttl_idx").
			SetExpireAfterSeconds(int32((45 * 24 * time.Hour).Seconds())),
	}

	windowIndexes := []mongo.IndexModel{
		windowIndex,
		ttlIndex,
	}

	if _, err := windowsCollection.Indexes().CreateMany(ctx, windowIndexes); err != nil {
		return err
	}

	return nil
}
