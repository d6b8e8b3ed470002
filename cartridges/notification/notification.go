// Package notification projects notification-worthy envelopes onto
// persistent notification rows.
package notification

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/eventflow/cartridges/classification"
	"github.com/BaSui01/eventflow/pipeline"
	"github.com/BaSui01/eventflow/store"
	"github.com/BaSui01/eventflow/types"
)

// Name 是通知投影 cartridge 的名称
const Name = "notification"

// Projector 通知投影 cartridge，从不丢弃信封。
type Projector struct {
	logger *zap.Logger
}

// New 创建通知投影
func New(logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{logger: logger.With(zap.String("component", "notification"))}
}

// Name implements pipeline.Cartridge.
func (p *Projector) Name() string { return Name }

// Process implements pipeline.Cartridge.
func (p *Projector) Process(ctx context.Context, env *types.EventEnvelope, pctx *pipeline.Context) pipeline.Result {
	schema := pctx.Schema(env.Event)

	class, ok := classification.FromEnvelope(env)
	if !ok {
		class = classification.Classify(schema)
	}
	if class.Treatment != classification.NotificationWorthy || schema == nil || pctx.Store == nil {
		return pipeline.Pass(env)
	}

	draft := Draft(schema, env, class.Actionable)
	result, err := pctx.Store.UpsertNotification(ctx, draft)
	if err != nil {
		return pipeline.Fault(err)
	}
	pctx.Metrics.RecordNotification(result.String())

	if result != store.NotificationUnchanged {
		p.logger.Debug("notification projected",
			zap.String("event", env.Event),
			zap.String("group_key", draft.GroupKey),
			zap.String("result", result.String()),
		)
	}
	return pipeline.Pass(env)
}

// Draft 根据 schema 与信封构造通知写入参数。
func Draft(schema *types.EventSchema, env *types.EventEnvelope, actionable bool) store.NotificationDraft {
	content := env.PublicPayload()
	if enr, ok := env.Payload[types.PayloadEnrichment]; ok {
		content[types.PayloadEnrichment] = enr
	}

	title := env.Event
	if schema.Lifecycle != nil && schema.Lifecycle.Title != "" {
		title = schema.Lifecycle.Title
	}

	return store.NotificationDraft{
		GroupKey:       types.GroupKey(schema, env),
		EventType:      env.Event,
		Entity:         env.Entity,
		Source:         env.Source,
		Level:          string(env.Level),
		Domain:         env.Domain,
		Title:          title,
		Actionable:     actionable,
		Content:        content,
		MeaningfulHash: types.MeaningfulHash(schema, env),
	}
}
