package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StageCartridge inserts a staged cartridge. It returns false when the same
// name and version were already staged, leaving the existing row untouched.
func (s *Store) StageCartridge(ctx context.Context, c *StagedCartridge) (bool, error) {
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	res := s.conn(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}, {Name: "version"}},
			DoNothing: true,
		}).
		Create(c)
	if res.Error != nil {
		return false, fmt.Errorf("failed to stage cartridge: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// GetStaged loads one staged version.
func (s *Store) GetStaged(ctx context.Context, name, version string) (*StagedCartridge, error) {
	var c StagedCartridge
	if err := s.conn(ctx).Where("name = ? AND version = ?", name, version).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// LatestStaged returns the most recently staged version of a cartridge in
// one of the given states.
func (s *Store) LatestStaged(ctx context.Context, name string, statuses ...string) (*StagedCartridge, error) {
	q := s.conn(ctx).Where("name = ?", name)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var c StagedCartridge
	if err := q.Order("created_at DESC").Order("id DESC").First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ListStaged returns staged cartridges, optionally filtered by status.
func (s *Store) ListStaged(ctx context.Context, status string) ([]StagedCartridge, error) {
	q := s.conn(ctx).Model(&StagedCartridge{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []StagedCartridge
	if err := q.Order("name").Order("created_at").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list staged cartridges: %w", err)
	}
	return out, nil
}

// TransitionStaged moves a staged version from one of the allowed states to
// the target state. Activating a version supersedes any other active version
// of the same name in the same transaction.
func (s *Store) TransitionStaged(ctx context.Context, id uint, from []string, to, reason string) error {
	now := s.now()
	return s.transaction(ctx, func(tx *gorm.DB) error {
		var c StagedCartridge
		if err := tx.Where("id = ?", id).First(&c).Error; err != nil {
			return notFound(err)
		}

		updates := map[string]any{"status": to, "reason": reason, "updated_at": now}
		if to == StagedStatusActive {
			updates["activated_at"] = now
		}
		res := tx.Model(&StagedCartridge{}).
			Where("id = ? AND status IN ?", id, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: cartridge %s@%s is %s", ErrInvalidTransition, c.Name, c.Version, c.Status)
		}

		if to == StagedStatusActive {
			return tx.Model(&StagedCartridge{}).
				Where("name = ? AND id <> ? AND status = ?", c.Name, id, StagedStatusActive).
				Updates(map[string]any{"status": StagedStatusSuperseded, "updated_at": now}).Error
		}
		return nil
	})
}
