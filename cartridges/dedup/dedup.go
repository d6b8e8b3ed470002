package dedup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/eventflow/pipeline"
	"github.com/BaSui01/eventflow/types"
)

// Name 是 dedup cartridge 的名称
const Name = "dedup"

// DefaultRetention 默认保留窗口
const DefaultRetention = 10 * time.Minute

// Cartridge 去重 cartridge。必须位于富化与关联之前，
// 重复投递才不会抬高关联计数。
type Cartridge struct {
	index     Index
	retention time.Duration
	logger    *zap.Logger
}

// New 创建 dedup cartridge
func New(index Index, retention time.Duration, logger *zap.Logger) *Cartridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if index == nil {
		index = NewMemoryIndex(nil)
	}
	return &Cartridge{
		index:     index,
		retention: retention,
		logger:    logger.With(zap.String("component", "dedup")),
	}
}

// Name implements pipeline.Cartridge.
func (c *Cartridge) Name() string { return Name }

// Process implements pipeline.Cartridge.
func (c *Cartridge) Process(ctx context.Context, env *types.EventEnvelope, pctx *pipeline.Context) pipeline.Result {
	key := types.IdempotencyKey(pctx.Schema(env.Event), env)

	seen, err := c.index.Seen(ctx, key, c.retention)
	if err != nil {
		pctx.Metrics.RecordDedup("error")
		return pipeline.Fault(fmt.Errorf("dedup index: %w", err))
	}
	if seen {
		pctx.Metrics.RecordDedup("duplicate")
		c.logger.Debug("duplicate envelope",
			zap.String("event", env.Event),
			zap.String("envelope_id", env.ID),
		)
		return pipeline.Drop("duplicate")
	}
	pctx.Metrics.RecordDedup("first")
	return pipeline.Pass(env)
}
