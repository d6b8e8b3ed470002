// Package correlation counts envelopes in time windows and emits synthetic
// detection events when a count first reaches its threshold.
package correlation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/eventflow/catalog"
	"github.com/BaSui01/eventflow/pipeline"
	"github.com/BaSui01/eventflow/store"
	"github.com/BaSui01/eventflow/types"
)

// Name 是 correlation cartridge 的名称，也是其合成信封的 source。
const Name = "correlation"

// 检测器类别（用于日志与指标）
const (
	KindBurst       = "burst"
	KindCascade     = "cascade"
	KindDegradation = "degradation"
)

// Config 关联检测配置。阈值 <= 0 表示关闭对应检测器。
type Config struct {
	Window               time.Duration
	BurstThreshold       int64
	CascadeThreshold     int64
	CascadeEvents        []string
	DegradationThreshold int64
	// Now 时钟，测试时注入
	Now func() time.Time
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Window:               5 * time.Minute,
		BurstThreshold:       20,
		CascadeThreshold:     3,
		CascadeEvents:        []string{catalog.EventWorkerCrashed},
		DegradationThreshold: 3,
	}
}

// Cartridge 关联 cartridge，总是放行信封。
type Cartridge struct {
	cfg     Config
	cascade map[string]struct{}
	logger  *zap.Logger
}

// New 创建 correlation cartridge
func New(cfg Config, logger *zap.Logger) *Cartridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.CascadeEvents) == 0 {
		cfg.CascadeEvents = DefaultConfig().CascadeEvents
	}
	cascade := make(map[string]struct{}, len(cfg.CascadeEvents))
	for _, e := range cfg.CascadeEvents {
		cascade[e] = struct{}{}
	}
	return &Cartridge{
		cfg:     cfg,
		cascade: cascade,
		logger:  logger.With(zap.String("component", "correlation")),
	}
}

// Name implements pipeline.Cartridge.
func (c *Cartridge) Name() string { return Name }

// WindowStart 返回 t 所在窗口的起始 Unix 秒
func (c *Cartridge) WindowStart(t time.Time) int64 {
	return t.Truncate(c.cfg.Window).Unix()
}

// counts 一次调用中各个桶递增后的计数
type counts struct {
	windowStart int64
	typeCount   int64
	entityCount int64
	failures    int64
}

// Process implements pipeline.Cartridge.
func (c *Cartridge) Process(ctx context.Context, env *types.EventEnvelope, pctx *pipeline.Context) pipeline.Result {
	// 本节点自身合成的信封不再参与计数；远程信封的 source 不可信，照常计数
	if (env.Source == Name && !env.IsRemote(pctx.NodeID)) || pctx.Store == nil {
		return pipeline.Pass(env)
	}

	st := pctx.Store
	schema := pctx.Schema(env.Event)
	ws := c.WindowStart(c.cfg.Now())

	cutoff := ws - int64(2*c.cfg.Window/time.Second)
	if _, err := st.PruneWindows(ctx, cutoff); err != nil {
		return pipeline.Fault(err)
	}

	n, err := c.increment(ctx, st, env, schema, ws)
	if err != nil {
		return pipeline.Fault(err)
	}

	c.detect(ctx, pctx, env, schema, n)
	return pipeline.Pass(env)
}

// increment 递增事件类型聚合桶、实体桶以及失败桶。
func (c *Cartridge) increment(ctx context.Context, st *store.Store, env *types.EventEnvelope, schema *types.EventSchema, ws int64) (counts, error) {
	n := counts{windowStart: ws}

	var err error
	if n.typeCount, err = st.IncrementWindow(ctx, env.Event, "", ws); err != nil {
		return n, err
	}
	if env.Entity == "" {
		return n, nil
	}
	if n.entityCount, err = st.IncrementWindow(ctx, env.Event, env.Entity, ws); err != nil {
		return n, err
	}
	if schema != nil && schema.Failure {
		if n.failures, err = st.IncrementWindow(ctx, store.FailureBucket, env.Entity, ws); err != nil {
			return n, err
		}
	}
	return n, nil
}

// detect 三个检测器互相独立；只在计数恰好等于阈值时触发（边沿触发）。
func (c *Cartridge) detect(ctx context.Context, pctx *pipeline.Context, env *types.EventEnvelope, schema *types.EventSchema, n counts) {
	if c.cfg.BurstThreshold > 0 && n.typeCount == c.cfg.BurstThreshold {
		c.emit(ctx, pctx, KindBurst, catalog.EventBurstDetected, "", map[string]any{
			"event_type":   env.Event,
			"count":        n.typeCount,
			"window_start": n.windowStart,
			"window":       c.cfg.Window.String(),
		})
	}

	if _, ok := c.cascade[env.Event]; ok && c.cfg.CascadeThreshold > 0 && n.typeCount == c.cfg.CascadeThreshold {
		entities, err := pctx.Store.WindowEntities(ctx, env.Event, n.windowStart)
		if err != nil {
			c.logger.Warn("failed to list cascade entities", zap.Error(err))
		}
		c.emit(ctx, pctx, KindCascade, catalog.EventCascadeDetected, "", map[string]any{
			"event_type":   env.Event,
			"crash_count":  n.typeCount,
			"entities":     entities,
			"window_start": n.windowStart,
		})
	}

	if schema != nil && schema.Failure && env.Entity != "" &&
		c.cfg.DegradationThreshold > 0 && n.failures == c.cfg.DegradationThreshold {
		c.emit(ctx, pctx, KindDegradation, catalog.EventEntityDegraded, env.Entity, map[string]any{
			"entity":        env.Entity,
			"failure_count": n.failures,
			"last_event":    env.Event,
			"window_start":  n.windowStart,
		})
	}
}

func (c *Cartridge) emit(ctx context.Context, pctx *pipeline.Context, kind, event, entity string, payload map[string]any) {
	out := types.NewEnvelope(event, Name)
	out.Entity = entity
	out.Level = types.LevelOperational
	out.Domain = "system"
	out.Timestamp = c.cfg.Now().UTC()
	if schema := pctx.Schema(event); schema != nil {
		out.Level = schema.Level
		out.Domain = schema.Domain
		out.Visibility = schema.Visibility
	}
	for k, v := range payload {
		out.Payload[k] = v
	}

	pctx.Metrics.RecordDetection(kind)
	c.logger.Info("correlation detected",
		zap.String("kind", kind),
		zap.String("event", event),
		zap.Any("payload", payload),
	)
	if err := pctx.Emit(ctx, out); err != nil {
		c.logger.Warn("failed to emit detection", zap.String("event", event), zap.Error(err))
	}
}

// String 便于日志输出配置
func (c Config) String() string {
	return fmt.Sprintf("window=%s burst=%d cascade=%d degradation=%d",
		c.Window, c.BurstThreshold, c.CascadeThreshold, c.DegradationThreshold)
}
