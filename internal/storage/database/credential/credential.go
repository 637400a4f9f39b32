package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore 憑證存儲的 MongoDB 實作
type MongoStore struct {
	keys    *mongo.Collection
	windows *mongo.Collection
}

// NewMongoStore 創建 MongoDB 憑證存儲
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		keys:    db.Collection("api_keys"),
		windows: db.Collection("rate_windows"),
	}
}

// GetKeyByDigest 以摘要查找密鑰
func (s *MongoStore) GetKeyByDigest(ctx context.Context, digest string) (*APIKey, error) {
	var key APIKey
	err := s.keys.FindOne(ctx, bson.M{"secret_digest": digest}).Decode(&key)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("find key by digest: %w", err)
	}
	return &key, nil
}

// GetKeyByID 以管理 ID 查找密鑰
func (s *MongoStore) GetKeyByID(ctx context.Context, id string) (*APIKey, error) {
	var key APIKey
	err := s.keys.FindOne(ctx, bson.M{"_id": id}).Decode(&key)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("find key by id: %w", err)
	}
	return &key, nil
}

// PutKeyIfAbsent 寫入新密鑰
// _id 與 secret_digest 都有唯一索引，任一碰撞都回傳 ErrKeyExists，
// 碰撞是真實錯誤，不能忽略。
func (s *MongoStore) PutKeyIfAbsent(ctx context.Context, key *APIKey) error {
	_, err := s.keys.InsertOne(ctx, key)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrKeyExists
		}
		return fmt.Errorf("insert key: %w", err)
	}
	return nil
}

// ListKeysByOwner 列出擁有者的全部密鑰
func (s *MongoStore) ListKeysByOwner(ctx context.Context, ownerUserID string) ([]*APIKey, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.keys.Find(ctx, bson.M{"owner_user_id": ownerUserID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer cursor.Close(ctx)

	var keys []*APIKey
	if err := cursor.All(ctx, &keys); err != nil {
		return nil, fmt.Errorf("decode keys: %w", err)
	}
	return keys, nil
}

// TransitionStatus CAS 狀態轉換
// 過濾條件帶上預期狀態，兩個並發轉換只有一個會命中文件。
func (s *MongoStore) TransitionStatus(ctx context.Context, id string, next Status, expected ...Status) error {
	if len(expected) == 0 {
		return fmt.Errorf("transition status: expected statuses required")
	}

	set := bson.M{"status": next}
	if next == StatusRotating {
		set["rotating_since"] = time.Now().UTC()
	}

	filter := bson.M{"_id": id, "status": bson.M{"$in": expected}}
	result, err := s.keys.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("transition status: %w", err)
	}
	if result.MatchedCount > 0 {
		return nil
	}

	// 沒命中：區分「密鑰不存在」與「狀態競爭失敗」
	if _, err := s.GetKeyByID(ctx, id); err != nil {
		return err
	}
	return ErrStatusConflict
}

// LinkRotation 設置舊密鑰的輪換連結
func (s *MongoStore) LinkRotation(ctx context.Context, oldID, newID string) error {
	result, err := s.keys.UpdateOne(ctx,
		bson.M{"_id": oldID},
		bson.M{"$set": bson.M{"rotated_to_id": newID}},
	)
	if err != nil {
		return fmt.Errorf("link rotation: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// IncrementWindow 原子的增量且結果 ≤ limit
//
// 過濾條件限定 count < limit 並開啟 upsert：
//   - 窗口不存在 → upsert 插入 count=1
//   - 窗口存在且 count < limit → $inc 命中
//   - 窗口存在且 count ≥ limit → 過濾不命中，upsert 嘗試插入，
//     撞上 (key_id, window_kind, window_start) 唯一索引 → 視為達到上限
//
// 唯一索引衝突還有一個來源：兩個請求同時首次創建同一個窗口，
// 輸家的 upsert 也會撞索引，此時文件已經存在，
// 不帶 upsert 重試一次；重試仍不命中才真的是達到上限。
//
// 這一個原語就是配額判定免於 TOCTOU 競爭的全部依據。
func (s *MongoStore) IncrementWindow(
	ctx context.Context, keyID string, kind WindowKind, windowStart time.Time, limit int64,
) (int64, error) {
	if limit <= 0 {
		return 0, ErrLimitExceeded
	}

	filter := bson.M{
		"key_id":       keyID,
		"window_kind":  kind,
		"window_start": windowStart.UTC(),
		"count":        bson.M{"$lt": limit},
	}
	update := bson.M{
		"$inc": bson.M{"count": 1},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var window RateWindow
	err := s.windows.FindOneAndUpdate(ctx, filter, update, opts).Decode(&window)
	if err == nil {
		return window.Count, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return 0, fmt.Errorf("increment window: %w", err)
	}

	retryOpts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err = s.windows.FindOneAndUpdate(ctx, filter, update, retryOpts).Decode(&window)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, ErrLimitExceeded
		}
		return 0, fmt.Errorf("increment window: %w", err)
	}
	return window.Count, nil
}

// PeekWindow 讀取窗口當前計數
func (s *MongoStore) PeekWindow(
	ctx context.Context, keyID string, kind WindowKind, windowStart time.Time,
) (int64, error) {
	filter := bson.M{
		"key_id":       keyID,
		"window_kind":  kind,
		"window_start": windowStart.UTC(),
	}

	var window RateWindow
	err := s.windows.FindOne(ctx, filter).Decode(&window)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("peek window: %w", err)
	}
	return window.Count, nil
}

// TouchLastUsed 更新 last_used_at
func (s *MongoStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.keys.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_used_at": at.UTC()}},
	)
	if err != nil {
		return fmt.Errorf("touch last used: %w", err)
	}
	return nil
}

// MirrorUsage 鏡像展示用計數
func (s *MongoStore) MirrorUsage(ctx context.Context, id string, requestsToday, requestsThisMonth int64) error {
	_, err := s.keys.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$set": bson.M{
				"usage.requests_today":      requestsToday,
				"usage.requests_this_month": requestsThisMonth,
			},
			"$inc": bson.M{"usage.total_requests": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("mirror usage: %w", err)
	}
	return nil
}

// ListRotatingBefore 列出寬限期已過的輪換中密鑰
func (s *MongoStore) ListRotatingBefore(ctx context.Context, cutoff time.Time) ([]*APIKey, error) {
	filter := bson.M{
		"status":         StatusRotating,
		"rotating_since": bson.M{"$lt": cutoff.UTC()},
	}
	cursor, err := s.keys.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list rotating keys: %w", err)
	}
	defer cursor.Close(ctx)

	var keys []*APIKey
	if err := cursor.All(ctx, &keys); err != nil {
		return nil, fmt.Errorf("decode rotating keys: %w", err)
	}
	return keys, nil
}
