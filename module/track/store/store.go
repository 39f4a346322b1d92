package store

import (
	"context"
	"time"

	"GProject/module/track/model"
)

// Store 落库抽象：生产实现 Postgres（pg.go）；内存实现（mem.go）用于
// 单测与降级运行。
//
// 语义约定：
//   - (entity_id, source_ts) 为自然键，BulkUpsert 冲突时 last-write-wins
//     覆盖非键字段，单批次一个事务，整批回滚。
//   - RangeQuery 按 source_ts 升序返回，时间谓词保证只扫描命中的分区。
//   - 分区按天管理，整表删除，清理代价与行数无关。
type Store interface {
	BulkUpsert(ctx context.Context, points []*model.LocationPoint) (int64, error)
	RangeQuery(ctx context.Context, entity string, from, to time.Time, limit int) ([]*model.LocationPoint, error)
	AggregateStats(ctx context.Context, entities []string, from, to time.Time) (map[string]*model.AggregateStats, error)

	EnsurePartitions(ctx context.Context, daysAhead int) (created int, err error)
	DropExpiredPartitions(ctx context.Context, retentionDays int) (dropped int, err error)
}

// PartitionName 按天分区的命名：gps_points_YYYYMMDD。
func PartitionName(day time.Time) string {
	return "gps_points_" + day.Format("20060102")
}
