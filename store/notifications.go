package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertResult 通知投影的结果
type UpsertResult int

const (
	// NotificationUnchanged 分组键已存在且有意义字段未变化
	NotificationUnchanged UpsertResult = iota
	// NotificationCreated 首次出现，新建了一行
	NotificationCreated
	// NotificationUpdated 有意义字段变化，内容被替换且状态被重置
	NotificationUpdated
)

// String returns the result name.
func (r UpsertResult) String() string {
	switch r {
	case NotificationCreated:
		return "created"
	case NotificationUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

// NotificationDraft 投影写入所需的字段
type NotificationDraft struct {
	GroupKey       string
	EventType      string
	Entity         string
	Source         string
	Level          string
	Domain         string
	Title          string
	Actionable     bool
	Content        map[string]any
	MeaningfulHash string
}

// UpsertNotification 按分组键创建或更新通知。
//
// 不存在时插入（unseen / unclaimed）；存在且 meaningful_hash 不同时替换内容并
// 重置为 unseen / unclaimed；哈希相同则不做任何修改。两步都是单条语句，
// 同一分组键的并发写入由数据库的唯一约束和条件更新串行化。
func (s *Store) UpsertNotification(ctx context.Context, d NotificationDraft) (UpsertResult, error) {
	content, err := json.Marshal(d.Content)
	if err != nil {
		return NotificationUnchanged, fmt.Errorf("failed to encode notification content: %w", err)
	}
	now := s.now()

	row := &Notification{
		ID:             uuid.NewString(),
		GroupKey:       d.GroupKey,
		EventType:      d.EventType,
		Entity:         d.Entity,
		Source:         d.Source,
		Level:          d.Level,
		Domain:         d.Domain,
		Title:          d.Title,
		Actionable:     d.Actionable,
		SeenState:      SeenStateUnseen,
		ClaimState:     ClaimStateUnclaimed,
		Content:        string(content),
		MeaningfulHash: d.MeaningfulHash,
		Revision:       1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	res := s.conn(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "group_key"}}, DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return NotificationUnchanged, fmt.Errorf("failed to insert notification: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return NotificationCreated, nil
	}

	res = s.conn(ctx).Model(&Notification{}).
		Where("group_key = ? AND meaningful_hash <> ?", d.GroupKey, d.MeaningfulHash).
		Updates(map[string]any{
			"event_type":      d.EventType,
			"entity":          d.Entity,
			"source":          d.Source,
			"level":           d.Level,
			"domain":          d.Domain,
			"title":           d.Title,
			"actionable":      d.Actionable,
			"content":         string(content),
			"meaningful_hash": d.MeaningfulHash,
			"seen_state":      SeenStateUnseen,
			"claim_state":     ClaimStateUnclaimed,
			"claimed_by":      "",
			"result":          "",
			"resolved_at":     nil,
			"revision":        gorm.Expr("revision + 1"),
			"updated_at":      now,
		})
	if res.Error != nil {
		return NotificationUnchanged, fmt.Errorf("failed to update notification: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return NotificationUpdated, nil
	}
	return NotificationUnchanged, nil
}

// =============================================================================
// 📖 通知读取面
// =============================================================================

// NotificationFilter 列表过滤条件，零值字段不参与过滤
type NotificationFilter struct {
	SeenState  string
	ClaimState string
	EventType  string
	Entity     string
	Actionable *bool
	Limit      int
	Offset     int
}

// GetNotification loads one notification by id.
func (s *Store) GetNotification(ctx context.Context, id string) (*Notification, error) {
	var n Notification
	if err := s.conn(ctx).Where("id = ?", id).First(&n).Error; err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}

// GetNotificationByGroupKey loads one notification by its grouping key.
func (s *Store) GetNotificationByGroupKey(ctx context.Context, groupKey string) (*Notification, error) {
	var n Notification
	if err := s.conn(ctx).Where("group_key = ?", groupKey).First(&n).Error; err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}

// ListNotifications returns notifications matching the filter, newest first.
func (s *Store) ListNotifications(ctx context.Context, f NotificationFilter) ([]Notification, error) {
	q := s.conn(ctx).Model(&Notification{})
	if f.SeenState != "" {
		q = q.Where("seen_state = ?", f.SeenState)
	}
	if f.ClaimState != "" {
		q = q.Where("claim_state = ?", f.ClaimState)
	}
	if f.EventType != "" {
		q = q.Where("event_type = ?", f.EventType)
	}
	if f.Entity != "" {
		q = q.Where("entity = ?", f.Entity)
	}
	if f.Actionable != nil {
		q = q.Where("actionable = ?", *f.Actionable)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var out []Notification
	err := q.Order("updated_at DESC").Order("id").Limit(limit).Offset(f.Offset).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, nil
}

// CountNotifications returns the number of rows matching the filter.
func (s *Store) CountNotifications(ctx context.Context, f NotificationFilter) (int64, error) {
	q := s.conn(ctx).Model(&Notification{})
	if f.SeenState != "" {
		q = q.Where("seen_state = ?", f.SeenState)
	}
	if f.ClaimState != "" {
		q = q.Where("claim_state = ?", f.ClaimState)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

// RecentNotificationsForEntity returns the latest notifications about an entity.
func (s *Store) RecentNotificationsForEntity(ctx context.Context, entity string, limit int) ([]Notification, error) {
	var out []Notification
	err := s.conn(ctx).
		Where("entity = ?", entity).
		Order("updated_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkSeen flags a notification as seen.
func (s *Store) MarkSeen(ctx context.Context, id string) error {
	return s.transition(ctx, id, nil, map[string]any{"seen_state": SeenStateSeen})
}

// Claim takes ownership of an unclaimed notification.
func (s *Store) Claim(ctx context.Context, id, claimant string) error {
	return s.transition(ctx, id, []string{ClaimStateUnclaimed}, map[string]any{
		"claim_state": ClaimStateClaimed,
		"claimed_by":  claimant,
		"seen_state":  SeenStateSeen,
	})
}

// StartProgress moves a claimed notification into progress.
func (s *Store) StartProgress(ctx context.Context, id string) error {
	return s.transition(ctx, id, []string{ClaimStateClaimed}, map[string]any{
		"claim_state": ClaimStateInProgress,
	})
}

// Resolve attaches a structured result and marks the notification terminal.
func (s *Store) Resolve(ctx context.Context, id string, result map[string]any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	now := s.now()
	return s.transition(ctx, id,
		[]string{ClaimStateUnclaimed, ClaimStateClaimed, ClaimStateInProgress},
		map[string]any{
			"claim_state": ClaimStateResolved,
			"seen_state":  SeenStateSeen,
			"result":      string(data),
			"resolved_at": now,
		})
}

// transition 条件更新：仅当当前 claim_state 在 from 中时生效。
func (s *Store) transition(ctx context.Context, id string, from []string, updates map[string]any) error {
	updates["updated_at"] = s.now()

	q := s.conn(ctx).Model(&Notification{}).Where("id = ?", id)
	if len(from) > 0 {
		q = q.Where("claim_state IN ?", from)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update notification: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var existing Notification
	if err := s.conn(ctx).Select("id", "claim_state").Where("id = ?", id).First(&existing).Error; err != nil {
		return notFound(err)
	}
	if len(from) == 0 {
		// 状态本来就一致
		return nil
	}
	s.logger.Debug("rejected notification transition",
		zap.String("id", id),
		zap.String("claim_state", existing.ClaimState),
		zap.Strings("allowed_from", from))
	return fmt.Errorf("%w: notification %s is %s", ErrInvalidTransition, id, existing.ClaimState)
}

// DecodeContent unmarshals the stored content snapshot.
func (n *Notification) DecodeContent() (map[string]any, error) {
	return decodeObject(n.Content)
}

// DecodeResult unmarshals the structured result attached by Resolve.
func (n *Notification) DecodeResult() (map[string]any, error) {
	return decodeObject(n.Result)
}

func decodeObject(raw string) (map[string]any, error) {
	out := make(map[string]any)
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}
