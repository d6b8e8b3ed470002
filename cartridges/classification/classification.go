// Package classification tags every envelope with how downstream stages
// should treat it.
package classification

import (
	"context"

	"github.com/BaSui01/eventflow/pipeline"
	"github.com/BaSui01/eventflow/types"
)

// Name 是 classification cartridge 的名称
const Name = "classification"

// Treatment 下游处理方式
type Treatment string

const (
	// NotificationWorthy 由通知投影持久化
	NotificationWorthy Treatment = "notification-worthy"
	// SignalOnly 只作为信号流转，不落库
	SignalOnly Treatment = "signal-only"
)

// Classification 写入 payload 的分类结果
type Classification struct {
	Treatment   Treatment
	Actionable  bool
	SchemaKnown bool
}

// Classify 纯目录查找；未注册的事件类型降级为 signal-only 且不可操作。
func Classify(schema *types.EventSchema) Classification {
	if schema == nil {
		return Classification{Treatment: SignalOnly}
	}
	c := Classification{
		Treatment:   SignalOnly,
		Actionable:  schema.Actionable,
		SchemaKnown: true,
	}
	if schema.NotificationWorthy() {
		c.Treatment = NotificationWorthy
	}
	return c
}

// Map 转为 payload 中的结构
func (c Classification) Map() map[string]any {
	return map[string]any{
		"treatment":    string(c.Treatment),
		"actionable":   c.Actionable,
		"schema_known": c.SchemaKnown,
	}
}

// FromEnvelope 读取已附加的分类；缺失时视为 signal-only。
// 经过 JSON 往返的信封同样适用。
func FromEnvelope(env *types.EventEnvelope) (Classification, bool) {
	raw, ok := env.Payload[types.PayloadClassification].(map[string]any)
	if !ok {
		return Classification{Treatment: SignalOnly}, false
	}
	c := Classification{Treatment: SignalOnly}
	if t, ok := raw["treatment"].(string); ok && Treatment(t) == NotificationWorthy {
		c.Treatment = NotificationWorthy
	}
	c.Actionable, _ = raw["actionable"].(bool)
	c.SchemaKnown, _ = raw["schema_known"].(bool)
	return c, true
}

// Cartridge 分类 cartridge，从不丢弃信封。
type Cartridge struct{}

// New 创建 classification cartridge
func New() *Cartridge { return &Cartridge{} }

// Name implements pipeline.Cartridge.
func (*Cartridge) Name() string { return Name }

// Process implements pipeline.Cartridge.
func (*Cartridge) Process(_ context.Context, env *types.EventEnvelope, pctx *pipeline.Context) pipeline.Result {
	env.Payload[types.PayloadClassification] = Classify(pctx.Schema(env.Event)).Map()
	return pipeline.Pass(env)
}
