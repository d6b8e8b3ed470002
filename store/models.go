package store

import (
	"time"
)

// 通知阅读状态
const (
	SeenStateUnseen = "unseen"
	SeenStateSeen   = "seen"
)

// 通知认领状态
const (
	ClaimStateUnclaimed  = "unclaimed"
	ClaimStateClaimed    = "claimed"
	ClaimStateInProgress = "in_progress"
	ClaimStateResolved   = "resolved"
)

// Notification 持久化通知，每个分组键一行。
type Notification struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	GroupKey       string     `gorm:"size:64;uniqueIndex;not null" json:"group_key"`
	EventType      string     `gorm:"size:128;index;not null" json:"event_type"`
	Entity         string     `gorm:"size:255;index" json:"entity,omitempty"`
	Source         string     `gorm:"size:128" json:"source"`
	Level          string     `gorm:"size:32" json:"level"`
	Domain         string     `gorm:"size:64" json:"domain"`
	Title          string     `gorm:"size:255" json:"title,omitempty"`
	Actionable     bool       `json:"actionable"`
	SeenState      string     `gorm:"size:16;index;not null" json:"seen_state"`
	ClaimState     string     `gorm:"size:16;index;not null" json:"claim_state"`
	ClaimedBy      string     `gorm:"size:128" json:"claimed_by,omitempty"`
	Content        string     `gorm:"type:text" json:"content"`
	MeaningfulHash string     `gorm:"size:64;not null" json:"meaningful_hash"`
	Result         string     `gorm:"type:text" json:"result,omitempty"`
	Revision       int        `gorm:"not null;default:1" json:"revision"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// TableName returns the table name.
func (Notification) TableName() string { return "notifications" }

// QuarantinedEvent 被隔离的信封。
type QuarantinedEvent struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	EnvelopeID string     `gorm:"size:36;index" json:"envelope_id"`
	EventType  string     `gorm:"size:128;index;not null" json:"event_type"`
	Source     string     `gorm:"size:128;not null" json:"source"`
	Origin     string     `gorm:"size:128" json:"origin,omitempty"`
	ReceivedAt time.Time  `gorm:"index" json:"received_at"`
	Envelope   string     `gorm:"type:text;not null" json:"envelope"`
	Flags      string     `gorm:"type:text" json:"flags"`
	Reviewed   bool       `gorm:"index" json:"reviewed"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
}

// TableName returns the table name.
func (QuarantinedEvent) TableName() string { return "quarantined_events" }

// CorrelationWindow 时间窗口计数桶。Entity 为空串表示事件类型级聚合桶。
type CorrelationWindow struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	EventType   string `gorm:"size:128;not null;uniqueIndex:idx_window_key,priority:1" json:"event_type"`
	Entity      string `gorm:"size:255;not null;default:'';uniqueIndex:idx_window_key,priority:2" json:"entity"`
	WindowStart int64  `gorm:"not null;uniqueIndex:idx_window_key,priority:3;index" json:"window_start"`
	Count       int64  `gorm:"not null;default:0" json:"count"`
}

// TableName returns the table name.
func (CorrelationWindow) TableName() string { return "correlation_windows" }

// CartridgeStat 单个 cartridge 的调用计数。
type CartridgeStat struct {
	CartridgeName   string    `gorm:"primaryKey;size:128" json:"cartridge_name"`
	InvocationCount int64     `gorm:"not null;default:0" json:"invocation_count"`
	LastInvokedAt   time.Time `json:"last_invoked_at"`
}

// TableName returns the table name.
func (CartridgeStat) TableName() string { return "cartridge_stats" }

// 远程 cartridge 状态
const (
	StagedStatusPending    = "pending"
	StagedStatusActive     = "active"
	StagedStatusRejected   = "rejected"
	StagedStatusFailed     = "failed"
	StagedStatusSuperseded = "superseded"
)

// StagedCartridge 已暂存的远程 cartridge。同一名称可以有多个版本，
// 同一时刻最多一个版本处于 active。
type StagedCartridge struct {
	ID           uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string     `gorm:"size:128;not null;uniqueIndex:idx_staged_name_version,priority:1" json:"name"`
	Version      string     `gorm:"size:64;not null;uniqueIndex:idx_staged_name_version,priority:2" json:"version"`
	Publisher    string     `gorm:"size:128" json:"publisher"`
	EntryPoint   string     `gorm:"size:255;not null" json:"entry_point"`
	SourceCode   string     `gorm:"type:text" json:"-"`
	Dependencies string     `gorm:"type:text" json:"dependencies"`
	Status       string     `gorm:"size:16;index;not null" json:"status"`
	Autonomy     string     `gorm:"size:8" json:"autonomy"`
	Reason       string     `gorm:"size:512" json:"reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ActivatedAt  *time.Time `json:"activated_at,omitempty"`
}

// TableName returns the table name.
func (StagedCartridge) TableName() string { return "staged_cartridges" }

// Models lists every table owned by the store.
func Models() []any {
	return []any{
		&Notification{},
		&QuarantinedEvent{},
		&CorrelationWindow{},
		&CartridgeStat{},
		&StagedCartridge{},
	}
}
