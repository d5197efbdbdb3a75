package store

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/YlovexLN/Pallas-Bot/module/repeater/model"
)

// BlacklistRepo blacklist 集合：按群维度的回复黑名单
type BlacklistRepo struct {
	DB *mongo.Database
}

func (r *BlacklistRepo) coll() *mongo.Collection {
	return r.DB.Collection(model.BlackListCollection)
}

// FindAll 加载全部群的黑名单
func (r *BlacklistRepo) FindAll(ctx context.Context) ([]model.BlackList, error) {
	cur, err := r.coll().Find(ctx, bson.M{})
	if err != nil {
		return nil, errors.Wrap(err, "find blacklists")
	}
	defer cur.Close(ctx)

	var out []model.BlackList
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode blacklists")
	}
	return out, nil
}

// UpsertAnswers 覆盖某群已转正的黑名单
func (r *BlacklistRepo) UpsertAnswers(ctx context.Context, groupID int64, answers []string) error {
	_, err := r.coll().UpdateOne(ctx,
		bson.M{"group_id": groupID},
		bson.M{
			"$set":         bson.M{"answers": answers},
			"$setOnInsert": bson.M{"group_id": groupID},
		},
		options.Update().SetUpsert(true),
	)
	return errors.Wrap(err, "upsert blacklist answers")
}

// UpsertReserve 覆盖某群的候补黑名单
func (r *BlacklistRepo) UpsertReserve(ctx context.Context, groupID int64, answers []string) error {
	_, err := r.coll().UpdateOne(ctx,
		bson.M{"group_id": groupID},
		bson.M{
			"$set":         bson.M{"answers_reserve": answers},
			"$setOnInsert": bson.M{"group_id": groupID},
		},
		options.Update().SetUpsert(true),
	)
	return errors.Wrap(err, "upsert blacklist reserve")
}
