package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/eventflow/catalog"
	"github.com/BaSui01/eventflow/internal/metrics"
	"github.com/BaSui01/eventflow/store"
	"github.com/BaSui01/eventflow/types"
)

// Emitter 将派生信封作为新的独立工作单元提交给运行时。
type Emitter interface {
	Emit(ctx context.Context, env *types.EventEnvelope) error
}

// EmitterFunc 函数形式的 Emitter
type EmitterFunc func(ctx context.Context, env *types.EventEnvelope) error

// Emit implements Emitter.
func (f EmitterFunc) Emit(ctx context.Context, env *types.EventEnvelope) error {
	return f(ctx, env)
}

// Context 每次 cartridge 调用共享的依赖集合，本身没有行为。
type Context struct {
	Catalog *catalog.Catalog
	Store   *store.Store
	Emitter Emitter
	Metrics *metrics.Collector
	Logger  *zap.Logger

	// 本地节点身份
	NodeID  string
	Cluster string

	// Settings 按 cartridge 名称索引的附加配置
	Settings map[string]map[string]any
}

// Schema 查找事件目录条目；未注册或目录为空时返回 nil。
func (c *Context) Schema(event string) *types.EventSchema {
	if c == nil || c.Catalog == nil {
		return nil
	}
	schema, ok := c.Catalog.Get(event)
	if !ok {
		return nil
	}
	return schema
}

// Emit 通过共享发射器提交派生信封。
func (c *Context) Emit(ctx context.Context, env *types.EventEnvelope) error {
	if c == nil || c.Emitter == nil {
		return nil
	}
	return c.Emitter.Emit(ctx, env)
}

// Setting 读取某个 cartridge 的附加配置
func (c *Context) Setting(cartridge, key string) (any, bool) {
	if c == nil || c.Settings == nil {
		return nil, false
	}
	v, ok := c.Settings[cartridge][key]
	return v, ok
}

// Log 返回非 nil 的 logger
func (c *Context) Log() *zap.Logger {
	if c == nil || c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
