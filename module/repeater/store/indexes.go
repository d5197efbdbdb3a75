package store

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/YlovexLN/Pallas-Bot/module/repeater/model"
)

// EnsureIndexes 启动时建索引，GC 任务依赖 count / time 的二级索引
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(model.MessageCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "time", Value: -1}},
	})
	if err != nil {
		return errors.Wrap(err, "message indexes")
	}

	_, err = db.Collection(model.ContextCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "keywords", Value: "hashed"}}},
		{Keys: bson.D{{Key: "count", Value: -1}}},
		{Keys: bson.D{{Key: "time", Value: -1}}},
	})
	if err != nil {
		return errors.Wrap(err, "context indexes")
	}

	_, err = db.Collection(model.BlackListCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "group_id", Value: "hashed"}},
	})
	return errors.Wrap(err, "blacklist indexes")
}
