package store

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/YlovexLN/Pallas-Bot/module/repeater/model"
)

// MessageRepo message 集合：群消息流水
type MessageRepo struct {
	DB *mongo.Database
}

// InsertMany 批量落库，持久化任务用
func (r *MessageRepo) InsertMany(ctx context.Context, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(msgs))
	for _, m := range msgs {
		docs = append(docs, m)
	}
	_, err := r.DB.Collection(model.MessageCollection).InsertMany(ctx, docs)
	return errors.Wrap(err, "insert messages")
}
