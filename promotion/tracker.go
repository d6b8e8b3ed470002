// Package promotion counts cartridge invocations and suggests promoting
// experimental cartridges once they have proven themselves.
package promotion

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/eventflow/catalog"
	"github.com/BaSui01/eventflow/pipeline"
	"github.com/BaSui01/eventflow/store"
	"github.com/BaSui01/eventflow/types"
)

// Source 推广建议信封的 source
const Source = "promotion"

// DefaultThreshold 默认推广阈值
const DefaultThreshold = 1000

// Config 推广跟踪配置
type Config struct {
	Threshold int64
	Store     *store.Store
	Emitter   pipeline.Emitter
	// IsBuiltin 内置阶段不参与推广
	IsBuiltin func(name string) bool
	Now       func() time.Time
}

// Tracker 实现 pipeline.InvocationRecorder。
// 计数是节点本地的遥测，不会在网格中聚合。
type Tracker struct {
	threshold int64
	store     *store.Store
	emitter   pipeline.Emitter
	isBuiltin func(string) bool
	now       func() time.Time
	logger    *zap.Logger
}

// New 创建推广跟踪器
func New(cfg Config, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IsBuiltin == nil {
		cfg.IsBuiltin = func(string) bool { return false }
	}
	return &Tracker{
		threshold: cfg.Threshold,
		store:     cfg.Store,
		emitter:   cfg.Emitter,
		isBuiltin: cfg.IsBuiltin,
		now:       cfg.Now,
		logger:    logger.With(zap.String("component", "promotion")),
	}
}

// SetEmitter 设置发射器（运行时创建之后绑定）
func (t *Tracker) SetEmitter(e pipeline.Emitter) { t.emitter = e }

// SetBuiltin 设置内置阶段判断
func (t *Tracker) SetBuiltin(fn func(string) bool) {
	if fn != nil {
		t.isBuiltin = fn
	}
}

// Threshold returns the configured threshold.
func (t *Tracker) Threshold() int64 { return t.threshold }

// RecordInvocation implements pipeline.InvocationRecorder.
//
// 计数恰好等于阈值时发出一次 cartridge.promotion_suggested，
// 之后的调用不再重复建议。
func (t *Tracker) RecordInvocation(ctx context.Context, cartridge, eventType string) {
	if t.store == nil {
		return
	}
	count, err := t.store.IncrementInvocation(ctx, cartridge, t.now().UTC())
	if err != nil {
		t.logger.Warn("failed to record invocation", zap.String("cartridge", cartridge), zap.Error(err))
		return
	}
	if count != t.threshold || t.isBuiltin(cartridge) {
		return
	}

	env := types.NewEnvelope(catalog.EventPromotionSuggested, Source)
	env.Level = types.LevelOperational
	env.Domain = "cartridge"
	env.Visibility = types.VisibilityLocal
	env.Timestamp = t.now().UTC()
	env.Payload["cartridge"] = cartridge
	env.Payload["threshold"] = t.threshold
	env.Payload["invocation_count"] = count
	env.Payload["last_event"] = eventType

	t.logger.Info("cartridge promotion suggested",
		zap.String("cartridge", cartridge),
		zap.Int64("invocations", count),
	)
	if t.emitter == nil {
		return
	}
	if err := t.emitter.Emit(ctx, env); err != nil {
		t.logger.Warn("failed to emit promotion suggestion", zap.String("cartridge", cartridge), zap.Error(err))
	}
}
