package store

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/YlovexLN/Pallas-Bot/module/repeater/model"
)

// ContextRepo context 集合：触发词 -> 学习结果
type ContextRepo struct {
	DB *mongo.Database
}

func (r *ContextRepo) coll() *mongo.Collection {
	return r.DB.Collection(model.ContextCollection)
}

// FindByKeywords 按触发词查找，查不到返回 (nil, nil)
func (r *ContextRepo) FindByKeywords(ctx context.Context, keywords string) (*model.Context, error) {
	var doc model.Context
	err := r.coll().FindOne(ctx, bson.M{"keywords": keywords}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find context")
	}
	return &doc, nil
}

// Insert 新建 context
func (r *ContextRepo) Insert(ctx context.Context, c *model.Context) error {
	_, err := r.coll().InsertOne(ctx, c)
	return errors.Wrap(err, "insert context")
}

// Save 整体覆盖可变字段（按触发词 upsert）
func (r *ContextRepo) Save(ctx context.Context, c *model.Context) error {
	_, err := r.coll().ReplaceOne(ctx,
		bson.M{"keywords": c.Keywords},
		c,
		options.Replace().SetUpsert(true),
	)
	return errors.Wrap(err, "save context")
}

// DeleteStale 删除太久没人说、且一直没学会的 context
func (r *ContextRepo) DeleteStale(ctx context.Context, expiration int64, triggerBelow int) error {
	_, err := r.coll().DeleteMany(ctx, bson.M{
		"time":  bson.M{"$lt": expiration},
		"count": bson.M{"$lt": triggerBelow},
	})
	return errors.Wrap(err, "delete stale contexts")
}

// FindHotOrStale 高频使用或太久没清理过的 context，供 GC 修剪 answers
func (r *ContextRepo) FindHotOrStale(ctx context.Context, triggerAbove int, clearBefore int64) ([]*model.Context, error) {
	cur, err := r.coll().Find(ctx, bson.M{"$or": bson.A{
		bson.M{"count": bson.M{"$gt": triggerAbove}},
		bson.M{"clear_time": bson.M{"$lt": clearBefore}},
	}})
	if err != nil {
		return nil, errors.Wrap(err, "find hot or stale contexts")
	}
	defer cur.Close(ctx)

	var out []*model.Context
	for cur.Next(ctx) {
		doc := &model.Context{}
		if err := cur.Decode(doc); err != nil {
			return nil, errors.Wrap(err, "decode context")
		}
		out = append(out, doc)
	}
	return out, errors.Wrap(cur.Err(), "iterate contexts")
}
