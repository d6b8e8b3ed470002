// Package enrichment attaches entity-scoped history from the event store.
package enrichment

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/eventflow/catalog"
	"github.com/BaSui01/eventflow/pipeline"
	"github.com/BaSui01/eventflow/store"
	"github.com/BaSui01/eventflow/types"
)

// Name 是 enrichment cartridge 的名称
const Name = "enrichment"

// recentLimit 读取实体最近通知的条数
const recentLimit = 20

// Cartridge 富化 cartridge，从不丢弃信封。
type Cartridge struct {
	logger *zap.Logger
}

// New 创建 enrichment cartridge
func New(logger *zap.Logger) *Cartridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cartridge{logger: logger.With(zap.String("component", "enrichment"))}
}

// Name implements pipeline.Cartridge.
func (c *Cartridge) Name() string { return Name }

// Process implements pipeline.Cartridge.
func (c *Cartridge) Process(ctx context.Context, env *types.EventEnvelope, pctx *pipeline.Context) pipeline.Result {
	if env.Entity == "" || pctx.Store == nil {
		return pipeline.Pass(env)
	}
	kind, id, ok := types.ParseEntity(env.Entity)
	if !ok {
		return pipeline.Pass(env)
	}

	var (
		summary map[string]any
		err     error
	)
	switch kind {
	case types.EntityTodo:
		summary, err = c.todoSummary(ctx, pctx.Store, env.Entity)
	case types.EntityWorker:
		summary, err = c.workerSummary(ctx, pctx.Store, env.Entity)
	default:
		return pipeline.Pass(env)
	}
	if err != nil {
		return pipeline.Fault(fmt.Errorf("enrich %s: %w", env.Entity, err))
	}
	if summary == nil {
		return pipeline.Pass(env)
	}

	summary["kind"] = kind
	summary["id"] = id
	env.Payload[types.PayloadEnrichment] = summary
	return pipeline.Pass(env)
}

// todoSummary 工作项：失败次数、最近评分、当前阶段。
func (c *Cartridge) todoSummary(ctx context.Context, st *store.Store, entity string) (map[string]any, error) {
	failures, buckets, err := st.SumWindows(ctx, store.FailureBucket, entity, 0)
	if err != nil {
		return nil, err
	}
	recent, err := st.RecentNotificationsForEntity(ctx, entity, recentLimit)
	if err != nil {
		return nil, err
	}
	if buckets == 0 && len(recent) == 0 {
		return nil, nil
	}

	summary := map[string]any{"failure_count": failures}
	var haveScore, havePhase bool
	for i := range recent {
		content, err := recent[i].DecodeContent()
		if err != nil {
			c.logger.Debug("skip undecodable notification content",
				zap.String("notification_id", recent[i].ID), zap.Error(err))
			continue
		}
		if score, ok := content["score"]; ok && !haveScore {
			summary["last_score"] = score
			haveScore = true
		}
		if phase, ok := content["phase"]; ok && !havePhase {
			summary["phase"] = phase
			havePhase = true
		}
		if haveScore && havePhase {
			break
		}
	}
	return summary, nil
}

// workerSummary worker：近期崩溃次数与最近一次崩溃原因。
func (c *Cartridge) workerSummary(ctx context.Context, st *store.Store, entity string) (map[string]any, error) {
	crashes, buckets, err := st.SumWindows(ctx, catalog.EventWorkerCrashed, entity, 0)
	if err != nil {
		return nil, err
	}
	recent, err := st.RecentNotificationsForEntity(ctx, entity, 1)
	if err != nil {
		return nil, err
	}
	if buckets == 0 && len(recent) == 0 {
		return nil, nil
	}

	summary := map[string]any{"recent_crash_count": crashes}
	if len(recent) > 0 {
		if content, err := recent[0].DecodeContent(); err == nil {
			if reason, ok := content["reason"]; ok {
				summary["last_crash_reason"] = reason
			}
		}
	}
	return summary, nil
}
