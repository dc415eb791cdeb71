package database

import (
	"context"
	"time"

	"docqa-go/pkg/log"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var MDB *mongo.Database

// InitMongo 初始化 MongoDB 连接，timeout 作为每个操作的客户端级超时。
func InitMongo(uri, database string, timeout time.Duration) {
	opts := options.Client().ApplyURI(uri)
	if timeout > 0 {
		opts.SetTimeout(timeout)
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		log.Fatal("failed to connect mongodb", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		log.Fatal("failed to ping mongodb", err)
	}

	MDB = client.Database(database)
	log.Info("MongoDB client connected successfully")
}

// CloseMongo 断开 MongoDB 连接
func CloseMongo(ctx context.Context) {
	if MDB == nil {
		return
	}
	if err := MDB.Client().Disconnect(ctx); err != nil {
		log.Error("failed to disconnect mongodb", err)
	}
}
