package archive

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config Mongo 归档连接配置。
type Config struct {
	Uri         string
	Database    string
	Collection  string
	MaxPoolSize int
	// 原始报文保留天数，0 表示不建 TTL 索引
	RetentionDays int
}

func (c *Config) norm() {
	if c.Database == "" {
		c.Database = "gps"
	}
	if c.Collection == "" {
		c.Collection = "gps_raw"
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = 20
	}
}

// RawArchive 把设备原始报文原样落 Mongo，用于事后排查与重放。
// 写入是 best-effort：归档失败绝不影响主链路。
type RawArchive struct {
	col *mongo.Collection
}

// Connect dials Mongo and prepares the archive collection, including a
// TTL index on received_at when retention is configured.
func Connect(ctx context.Context, cfg Config) (*RawArchive, *mongo.Client, error) {
	cfg.norm()
	if cfg.Uri == "" {
		return nil, nil, errors.New("mongo uri is required")
	}

	opts := options.Client().ApplyURI(cfg.Uri).SetMaxPoolSize(uint64(cfg.MaxPoolSize))
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "mongo connect")
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, nil, errors.WithMessage(err, "mongo ping")
	}

	col := cli.Database(cfg.Database).Collection(cfg.Collection)
	if cfg.RetentionDays > 0 {
		_, err = col.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "received_at", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(int32(cfg.RetentionDays * 24 * 3600)),
		})
		if err != nil {
			_ = cli.Disconnect(context.Background())
			return nil, nil, errors.WithMessage(err, "create ttl index")
		}
	}
	return &RawArchive{col: col}, cli, nil
}

// NewRawArchive wraps an existing collection (tests).
func NewRawArchive(col *mongo.Collection) *RawArchive {
	return &RawArchive{col: col}
}

func (a *RawArchive) SaveRaw(ctx context.Context, entity, deviceID string, payload map[string]any) error {
	doc := bson.M{
		"entity_id":   entity,
		"device_id":   deviceID,
		"payload":     payload,
		"received_at": time.Now().UTC(),
	}
	_, err := a.col.InsertOne(ctx, doc)
	return errors.WithMessage(err, "archive insert")
}
