package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IncrementInvocation 给 cartridge 调用计数加一并返回新值
func (s *Store) IncrementInvocation(ctx context.Context, name string, at time.Time) (int64, error) {
	var count int64
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		row := &CartridgeStat{CartridgeName: name, InvocationCount: 1, LastInvokedAt: at}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "cartridge_name"}},
			DoUpdates: clause.Assignments(map[string]any{
				"invocation_count": gorm.Expr("cartridge_stats.invocation_count + 1"),
				"last_invoked_at":  at,
			}),
		}).Create(row).Error
		if err != nil {
			return err
		}
		return tx.Model(&CartridgeStat{}).
			Select("invocation_count").
			Where("cartridge_name = ?", name).
			Scan(&count).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment cartridge stats: %w", err)
	}
	return count, nil
}

// GetCartridgeStat returns the stats row for one cartridge.
func (s *Store) GetCartridgeStat(ctx context.Context, name string) (*CartridgeStat, error) {
	var st CartridgeStat
	if err := s.conn(ctx).Where("cartridge_name = ?", name).First(&st).Error; err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

// ListCartridgeStats returns all stats rows ordered by name.
func (s *Store) ListCartridgeStats(ctx context.Context) ([]CartridgeStat, error) {
	var out []CartridgeStat
	if err := s.conn(ctx).Order("cartridge_name").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list cartridge stats: %w", err)
	}
	return out, nil
}
