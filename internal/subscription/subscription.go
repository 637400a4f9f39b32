package subscription

import (
	"context"
	"errors"

	"elx-gateway/internal/platform/logger"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Tier 訂閱方案
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// Valid 檢查方案是否為已知值
func (t Tier) Valid() bool {
	return t == TierFree || t == TierPro
}

// TierLookup 查詢用戶的訂閱方案
// 查不到或來源異常時回傳 free，配額寧可保守也不放大。
type TierLookup interface {
	TierOf(ctx context.Context, userID string) Tier
}

// record 訂閱記錄
type record struct {
	UserID string `bson:"user_id"`
	Tier   string `bson:"tier"`
}

// MongoTierLookup 從 MongoDB 讀取訂閱方案
type MongoTierLookup struct {
	collection *mongo.Collection
}

// NewMongoTierLookup 創建 MongoDB 訂閱查詢
func NewMongoTierLookup(db *mongo.Database) *MongoTierLookup {
	return &MongoTierLookup{
		collection: db.Collection("subscriptions"),
	}
}

// TierOf 查詢用戶方案
func (m *MongoTierLookup) TierOf(ctx context.Context, userID string) Tier {
	var rec record
	err := m.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&rec)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			logger.Warning(ctx, "訂閱查詢失敗，回退為 free",
				logger.WithUserID(userID),
				logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		}
		return TierFree
	}

	tier := Tier(rec.Tier)
	if !tier.Valid() {
		return TierFree
	}
	return tier
}

// StaticTierLookup 固定映射的訂閱查詢（測試用）
type StaticTierLookup map[string]Tier

// TierOf 查詢用戶方案
func (s StaticTierLookup) TierOf(ctx context.Context, userID string) Tier {
	if tier, ok := s[userID]; ok && tier.Valid() {
		return tier
	}
	return TierFree
}
