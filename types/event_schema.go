package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Lifecycle 声明事件是否创建/更新持久化通知，以及分组键与“有意义变化”字段。
type Lifecycle struct {
	// Group 通知分组命名空间，为空时使用事件类型。
	// 不同事件类型共享同一 Group 时会投影到同一条通知。
	Group string `yaml:"group,omitempty" json:"group,omitempty"`
	// GroupFields 组成分组键的 payload 字段，为空时回退到幂等键字段。
	GroupFields []string `yaml:"group_fields,omitempty" json:"group_fields,omitempty"`
	// MeaningfulFields 发生变化时才会更新通知；为空表示比较全部非保留字段。
	MeaningfulFields []string `yaml:"meaningful_fields,omitempty" json:"meaningful_fields,omitempty"`
	// Title 通知标题
	Title string `yaml:"title,omitempty" json:"title,omitempty"`
}

// EventSchema 事件目录条目，注册后不可变。
type EventSchema struct {
	Event             string     `yaml:"event" json:"event"`
	Description       string     `yaml:"description,omitempty" json:"description,omitempty"`
	Level             Level      `yaml:"level" json:"level"`
	Domain            string     `yaml:"domain" json:"domain"`
	Visibility        Visibility `yaml:"visibility" json:"visibility"`
	IdempotencyFields []string   `yaml:"idempotency_fields,omitempty" json:"idempotency_fields,omitempty"`
	Lifecycle         *Lifecycle `yaml:"lifecycle,omitempty" json:"lifecycle,omitempty"`
	Actionable        bool       `yaml:"actionable" json:"actionable"`
	// Failure 标记该事件代表一次失败（用于实体退化检测与富化统计）。
	Failure bool `yaml:"failure,omitempty" json:"failure,omitempty"`
}

// Validate checks the structural invariants of a schema.
func (s *EventSchema) Validate() error {
	if s.Event == "" {
		return fmt.Errorf("schema event type is required")
	}
	if !s.Level.Valid() {
		return fmt.Errorf("schema %s: invalid level %q", s.Event, s.Level)
	}
	if !s.Visibility.Valid() {
		return fmt.Errorf("schema %s: invalid visibility %q", s.Event, s.Visibility)
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate catalog entries.
func (s *EventSchema) Clone() *EventSchema {
	if s == nil {
		return nil
	}
	cp := *s
	cp.IdempotencyFields = append([]string(nil), s.IdempotencyFields...)
	if s.Lifecycle != nil {
		lc := *s.Lifecycle
		lc.GroupFields = append([]string(nil), s.Lifecycle.GroupFields...)
		lc.MeaningfulFields = append([]string(nil), s.Lifecycle.MeaningfulFields...)
		cp.Lifecycle = &lc
	}
	return &cp
}

// NotificationWorthy reports whether the schema declares a lifecycle.
func (s *EventSchema) NotificationWorthy() bool {
	return s != nil && s.Lifecycle != nil
}

// =============================================================================
// 🔑 幂等键 / 分组键
// =============================================================================

// IdempotencyKey 计算信封的幂等键。schema 为空或未声明字段时
// 回退到 (event, source, entity)。结果为 SHA256 十六进制串。
func IdempotencyKey(schema *EventSchema, env *EventEnvelope) string {
	parts := []string{env.Event}
	if schema != nil && len(schema.IdempotencyFields) > 0 {
		for _, f := range schema.IdempotencyFields {
			parts = append(parts, f+"="+env.StringField(f))
		}
	} else {
		parts = append(parts, "source="+env.Source, "entity="+env.Entity)
	}
	return hashParts(parts)
}

// GroupKey 计算通知分组键。未声明 lifecycle 分组时等同于幂等键。
func GroupKey(schema *EventSchema, env *EventEnvelope) string {
	if schema == nil || schema.Lifecycle == nil {
		return IdempotencyKey(schema, env)
	}
	lc := schema.Lifecycle
	if lc.Group == "" && len(lc.GroupFields) == 0 {
		return IdempotencyKey(schema, env)
	}
	group := lc.Group
	if group == "" {
		group = env.Event
	}
	fields := lc.GroupFields
	if len(fields) == 0 {
		fields = schema.IdempotencyFields
	}
	parts := []string{"group:" + group}
	for _, f := range fields {
		parts = append(parts, f+"="+env.StringField(f))
	}
	return hashParts(parts)
}

// MeaningfulHash 计算“有意义字段”的摘要，用于判断通知内容是否变化。
func MeaningfulHash(schema *EventSchema, env *EventEnvelope) string {
	var subset map[string]any
	if schema != nil && schema.Lifecycle != nil && len(schema.Lifecycle.MeaningfulFields) > 0 {
		subset = make(map[string]any, len(schema.Lifecycle.MeaningfulFields))
		for _, f := range schema.Lifecycle.MeaningfulFields {
			subset[f] = env.Payload[f]
		}
	} else {
		subset = env.PublicPayload()
	}
	// map 序列化时键有序，保证摘要稳定
	data, err := json.Marshal(subset)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", subset))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hashParts(parts []string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// formatValue 将 payload 值格式化为稳定字符串；
// 本地 int 与经 JSON 往返后的 float64 得到相同结果。
func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
