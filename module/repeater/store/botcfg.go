package store

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/YlovexLN/Pallas-Bot/module/repeater/model"
)

// BotConfigRepo config 集合：机器人账号的持久化配置
type BotConfigRepo struct {
	DB *mongo.Database
}

func (r *BotConfigRepo) coll() *mongo.Collection {
	return r.DB.Collection(model.BotConfigCollection)
}

// FindByAccount 查不到返回 (nil, nil)
func (r *BotConfigRepo) FindByAccount(ctx context.Context, account int64) (*model.BotConfigDoc, error) {
	var doc model.BotConfigDoc
	err := r.coll().FindOne(ctx, bson.M{"account": account}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find bot config")
	}
	return &doc, nil
}

// SetField 更新单个字段（upsert）
func (r *BotConfigRepo) SetField(ctx context.Context, account int64, field string, value interface{}) error {
	_, err := r.coll().UpdateOne(ctx,
		bson.M{"account": account},
		bson.M{
			"$set":         bson.M{field: value},
			"$setOnInsert": bson.M{"account": account},
		},
		options.Update().SetUpsert(true),
	)
	return errors.Wrapf(err, "set bot config %s", field)
}
