package store

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/YlovexLN/Pallas-Bot/module/repeater/model"
)

// GroupConfigRepo group_config 集合：群级开关
type GroupConfigRepo struct {
	DB *mongo.Database
}

func (r *GroupConfigRepo) coll() *mongo.Collection {
	return r.DB.Collection(model.GroupConfigCollection)
}

// FindByGroup 查不到返回 (nil, nil)
func (r *GroupConfigRepo) FindByGroup(ctx context.Context, groupID int64) (*model.GroupConfigDoc, error) {
	var doc model.GroupConfigDoc
	err := r.coll().FindOne(ctx, bson.M{"group_id": groupID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find group config")
	}
	return &doc, nil
}

// SetBanned 屏蔽 / 解除屏蔽某个群
func (r *GroupConfigRepo) SetBanned(ctx context.Context, groupID int64, banned bool) error {
	_, err := r.coll().UpdateOne(ctx,
		bson.M{"group_id": groupID},
		bson.M{
			"$set":         bson.M{"banned": banned},
			"$setOnInsert": bson.M{"group_id": groupID},
		},
		options.Update().SetUpsert(true),
	)
	return errors.Wrap(err, "set group banned")
}
