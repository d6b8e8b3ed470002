package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FailureBucket 失败类事件按实体聚合时使用的伪事件类型
const FailureBucket = "_failure"

// IncrementWindow 原子地给 (eventType, entity, windowStart) 桶加一并返回新计数。
//
// upsert 与读取在同一事务内完成，同一个桶的并发增量被行锁串行化，
// 因此每个计数值只会被一个调用者观察到。
func (s *Store) IncrementWindow(ctx context.Context, eventType, entity string, windowStart int64) (int64, error) {
	var count int64
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		row := &CorrelationWindow{
			EventType:   eventType,
			Entity:      entity,
			WindowStart: windowStart,
			Count:       1,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "event_type"}, {Name: "entity"}, {Name: "window_start"}},
			DoUpdates: clause.Assignments(map[string]any{
				"count": gorm.Expr("correlation_windows.count + 1"),
			}),
		}).Create(row).Error
		if err != nil {
			return err
		}

		return tx.Model(&CorrelationWindow{}).
			Select("count").
			Where("event_type = ? AND entity = ? AND window_start = ?", eventType, entity, windowStart).
			Scan(&count).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment correlation window: %w", err)
	}
	return count, nil
}

// PruneWindows deletes buckets whose window started before the cutoff.
func (s *Store) PruneWindows(ctx context.Context, before int64) (int64, error) {
	res := s.conn(ctx).Where("window_start < ?", before).Delete(&CorrelationWindow{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune correlation windows: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// WindowEntities lists the entities that contributed to an event type in one window.
func (s *Store) WindowEntities(ctx context.Context, eventType string, windowStart int64) ([]string, error) {
	var entities []string
	err := s.conn(ctx).Model(&CorrelationWindow{}).
		Where("event_type = ? AND window_start = ? AND entity <> ''", eventType, windowStart).
		Order("entity").
		Pluck("entity", &entities).Error
	return entities, err
}

// SumWindows totals one bucket key across windows starting at or after since.
// The second return value is the number of matching buckets.
func (s *Store) SumWindows(ctx context.Context, eventType, entity string, since int64) (int64, int64, error) {
	var agg struct {
		Total   int64
		Buckets int64
	}
	err := s.conn(ctx).Model(&CorrelationWindow{}).
		Select("COALESCE(SUM(count), 0) AS total, COUNT(*) AS buckets").
		Where("event_type = ? AND entity = ? AND window_start >= ?", eventType, entity, since).
		Scan(&agg).Error
	if err != nil {
		return 0, 0, err
	}
	return agg.Total, agg.Buckets, nil
}
