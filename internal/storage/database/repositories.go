package database

import (
	"context"

	"elx-gateway/internal/platform/logger"
	"elx-gateway/internal/storage/database/article"
	"elx-gateway/internal/storage/database/credential"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Repositories 倉儲集合.
type Repositories struct {
	Credential *credential.MongoStore
	Article    *article.ArticleStore
}

// NewRepositories 創建倉儲集合.
func NewRepositories() *Repositories {
	db := mongoDB
	if db == nil {
		return nil
	}

	// 創建索引以優化查詢性能；失敗記錄但不中斷服務啟動
	ctx := context.Background()
	if err := credential.CreateIndexes(ctx, db); err != nil {
		logger.Warning(ctx, "創建密鑰索引失敗",
			logger.WithDetails(map[string]interface{}{"error": err.Error()}))
	}
	if err := article.CreateIndexes(ctx, db); err != nil {
		logger.Warning(ctx, "創建文章索引失敗",
			logger.WithDetails(map[string]interface{}{"error": err.Error()}))
	}

	return &Repositories{
		Credential: credential.NewMongoStore(db),
		Article:    article.NewArticleStore(db),
	}
}

// 全局變數，用於存儲 MongoDB 連接
var mongoDB *mongo.Database

// SetMongoDB 設置 MongoDB 連接.
func SetMongoDB(db *mongo.Database) {
	mongoDB = db
}
