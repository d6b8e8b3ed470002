package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// QuarantineFilter 隔离列表过滤条件
type QuarantineFilter struct {
	Reviewed *bool
	Limit    int
	Offset   int
}

// Quarantine persists an envelope snapshot together with the trust flags
// that caused it to be held back.
func (s *Store) Quarantine(ctx context.Context, q *QuarantinedEvent, flags []string) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.ReceivedAt.IsZero() {
		q.ReceivedAt = s.now()
	}
	data, err := json.Marshal(flags)
	if err != nil {
		return fmt.Errorf("failed to encode flags: %w", err)
	}
	q.Flags = string(data)

	if err := s.conn(ctx).Create(q).Error; err != nil {
		return fmt.Errorf("failed to quarantine event: %w", err)
	}
	return nil
}

// ListQuarantined returns quarantined events, oldest first.
func (s *Store) ListQuarantined(ctx context.Context, f QuarantineFilter) ([]QuarantinedEvent, error) {
	q := s.conn(ctx).Model(&QuarantinedEvent{})
	if f.Reviewed != nil {
		q = q.Where("reviewed = ?", *f.Reviewed)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var out []QuarantinedEvent
	if err := q.Order("received_at").Order("id").Limit(limit).Offset(f.Offset).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list quarantined events: %w", err)
	}
	return out, nil
}

// MarkReviewed records that a human looked at a quarantined event.
func (s *Store) MarkReviewed(ctx context.Context, id string) error {
	now := s.now()
	res := s.conn(ctx).Model(&QuarantinedEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{"reviewed": true, "reviewed_at": now})
	if res.Error != nil {
		return fmt.Errorf("failed to mark reviewed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DecodeFlags returns the stored trust flags.
func (q *QuarantinedEvent) DecodeFlags() []string {
	var flags []string
	_ = json.Unmarshal([]byte(q.Flags), &flags)
	return flags
}
