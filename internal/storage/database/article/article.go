package article

import (
	"context"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ArticleRepository 文章倉儲接口
type ArticleRepository interface {
	Create(ctx context.Context, a *Article) error
	GetByID(ctx context.Context, id string) (*Article, error)
	List(ctx context.Context, skip, limit int, search string) ([]*Article, int64, error)
}

// Article 文章數據模型
// 閘道後面的示範資源，透過密鑰認證與配額後才能讀取。
type Article struct {
	ID          string    `bson:"_id" json:"id"`
	Title       string    `bson:"title" json:"title"`
	Summary     string    `bson:"summary" json:"summary"`
	Body        string    `bson:"body" json:"body"`
	Author      string    `bson:"author" json:"author"`
	PublishedAt time.Time `bson:"published_at" json:"published_at"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}

// ArticleStore 文章存儲實作
type ArticleStore struct {
	collection *mongo.Collection
}

// NewArticleStore 創建文章存儲
func NewArticleStore(db *mongo.Database) *ArticleStore {
	return &ArticleStore{
		collection: db.Collection("articles"),
	}
}

// Create 創建文章
func (s *ArticleStore) Create(ctx context.Context, a *Article) error {
	if a.ID == "" {
		a.ID = bson.NewObjectID().Hex()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := s.collection.InsertOne(ctx, a)
	return err
}

// GetByID 根據 ID 獲取文章
func (s *ArticleStore) GetByID(ctx context.Context, id string) (*Article, error) {
	var a Article
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&a)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// List 分頁列出文章，可選標題搜索
// 回傳該頁內容與總數。
func (s *ArticleStore) List(ctx context.Context, skip, limit int, search string) ([]*Article, int64, error) {
	filter := bson.M{}
	if search != "" {
		filter["title"] = safeRegexQuery(search)
	}

	total, err := s.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "published_at", Value: -1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	articles := make([]*Article, 0, limit)
	for cursor.Next(ctx) {
		var a Article
		if err := cursor.Decode(&a); err != nil {
			return nil, 0, err
		}
		articles = append(articles, &a)
	}
	if err := cursor.Err(); err != nil {
		return nil, 0, err
	}

	return articles, total, nil
}

// safeRegexQuery 創建安全的正則表達式查詢（防止 ReDoS）
func safeRegexQuery(pattern string) bson.M {
	return bson.M{
		"$regex":   regexp.QuoteMeta(pattern),
		"$options": "i", // 不區分大小寫
	}
}

// CreateIndexes 創建文章集合索引
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection("articles")

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "published_at", Value: -1}},
			Options: options.Index().SetName("published_at_idx"),
		},
		{
			Keys:    bson.D{{Key: "title", Value: 1}},
			Options: options.Index().SetName("title_idx"),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
