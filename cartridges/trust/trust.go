// Package trust implements the pipeline's trust boundary.
package trust

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/eventflow/internal/ctxkeys"
	"github.com/BaSui01/eventflow/pipeline"
	"github.com/BaSui01/eventflow/store"
	"github.com/BaSui01/eventflow/types"
)

// Name 是 trust cartridge 的名称
const Name = "trust"

// Strictness 严格度
type Strictness string

const (
	Permissive Strictness = "permissive"
	Standard   Strictness = "standard"
	Strict     Strictness = "strict"
)

// ParseStrictness 解析严格度，未知值返回错误
func ParseStrictness(s string) (Strictness, error) {
	switch Strictness(strings.ToLower(strings.TrimSpace(s))) {
	case Permissive:
		return Permissive, nil
	case Standard, "":
		return Standard, nil
	case Strict:
		return Strict, nil
	}
	return "", fmt.Errorf("unknown trust strictness %q", s)
}

// Outcome 信任评估结果
type Outcome string

const (
	Accept     Outcome = "accept"
	Flag       Outcome = "flag"
	Quarantine Outcome = "quarantine"
	Reject     Outcome = "reject"
)

// 原因码
const (
	ReasonUnknownSource  = "unknown_source"
	ReasonUnknownSchema  = "unknown_schema"
	ReasonMalformedLevel = "malformed_level"
	ReasonMissingDomain  = "missing_domain"
)

// Decision 评估结果与原因码
type Decision struct {
	Outcome Outcome
	Reasons []string
}

// Config trust 配置
type Config struct {
	Strictness Strictness
	// KnownSources 本地信封的来源白名单
	KnownSources []string
	// KnownPeers 远程信封的来源节点白名单
	KnownPeers []string
}

// Cartridge 信任评估 cartridge
type Cartridge struct {
	strictness Strictness
	sources    map[string]struct{}
	peers      map[string]struct{}
	logger     *zap.Logger
}

// New 创建 trust cartridge
func New(cfg Config, logger *zap.Logger) *Cartridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Strictness == "" {
		cfg.Strictness = Standard
	}
	return &Cartridge{
		strictness: cfg.Strictness,
		sources:    toSet(cfg.KnownSources),
		peers:      toSet(cfg.KnownPeers),
		logger:     logger.With(zap.String("component", "trust")),
	}
}

// Name implements pipeline.Cartridge.
func (c *Cartridge) Name() string { return Name }

// Strictness returns the configured strictness.
func (c *Cartridge) Strictness() Strictness { return c.strictness }

// Evaluate 纯函数形式的状态机，不产生副作用。
//
// 远程信封以来源节点（Origin）判定是否可信，本地信封以 Source 判定。
func (c *Cartridge) Evaluate(env *types.EventEnvelope, schemaKnown bool, localNode string) Decision {
	if c.strictness == Permissive {
		return Decision{Outcome: Accept}
	}

	sourceKnown := c.sourceKnown(env, localNode)
	levelValid := env.Level.Valid()

	switch c.strictness {
	case Strict:
		if !levelValid {
			return Decision{Outcome: Reject, Reasons: []string{ReasonMalformedLevel}}
		}
		var reasons []string
		if !sourceKnown {
			reasons = append(reasons, ReasonUnknownSource)
		}
		if strings.TrimSpace(env.Domain) == "" {
			reasons = append(reasons, ReasonMissingDomain)
		}
		if !schemaKnown {
			reasons = append(reasons, ReasonUnknownSchema)
		}
		if !sourceKnown {
			return Decision{Outcome: Quarantine, Reasons: reasons}
		}
		if len(reasons) > 0 {
			return Decision{Outcome: Flag, Reasons: reasons}
		}
		return Decision{Outcome: Accept}

	default: // Standard
		var reasons []string
		if !levelValid {
			reasons = append(reasons, ReasonMalformedLevel)
		}
		if !sourceKnown {
			reasons = append(reasons, ReasonUnknownSource)
		}
		if !schemaKnown {
			reasons = append(reasons, ReasonUnknownSchema)
		}
		if !levelValid {
			return Decision{Outcome: Quarantine, Reasons: reasons}
		}
		if len(reasons) > 0 {
			return Decision{Outcome: Flag, Reasons: reasons}
		}
		return Decision{Outcome: Accept}
	}
}

// Process implements pipeline.Cartridge.
func (c *Cartridge) Process(ctx context.Context, env *types.EventEnvelope, pctx *pipeline.Context) pipeline.Result {
	decision := c.Evaluate(env, pctx.Schema(env.Event) != nil, pctx.NodeID)
	pctx.Metrics.RecordTrustOutcome(string(decision.Outcome))

	switch decision.Outcome {
	case Flag:
		env.Payload[types.PayloadTrustFlags] = mergeFlags(env.Payload[types.PayloadTrustFlags], decision.Reasons)
		return pipeline.Pass(env)

	case Quarantine:
		c.logger.Warn("envelope quarantined", logFields(ctx, env, decision.Reasons)...)
		c.quarantine(ctx, env, decision.Reasons, pctx.Store)
		return pipeline.Drop("quarantined: " + strings.Join(decision.Reasons, ","))

	case Reject:
		c.logger.Warn("envelope rejected", logFields(ctx, env, decision.Reasons)...)
		return pipeline.Drop("rejected: " + strings.Join(decision.Reasons, ","))
	}
	return pipeline.Pass(env)
}

// quarantine 持久化失败时仍然丢弃：信任边界不做 fail-open。
func (c *Cartridge) quarantine(ctx context.Context, env *types.EventEnvelope, reasons []string, st *store.Store) {
	if st == nil {
		return
	}
	data, err := env.Marshal()
	if err != nil {
		c.logger.Error("failed to encode quarantined envelope", zap.Error(err))
		return
	}
	q := &store.QuarantinedEvent{
		EnvelopeID: env.ID,
		EventType:  env.Event,
		Source:     env.Source,
		Origin:     env.Origin,
		Envelope:   string(data),
	}
	if err := st.Quarantine(ctx, q, reasons); err != nil {
		c.logger.Error("failed to persist quarantined envelope",
			zap.String("envelope_id", env.ID),
			zap.Error(err),
		)
	}
}

// logFields 附带来源连接（网格对等节点或 API 请求）以便追查
func logFields(ctx context.Context, env *types.EventEnvelope, reasons []string) []zap.Field {
	fields := []zap.Field{
		zap.String("event", env.Event),
		zap.String("source", env.Source),
		zap.String("origin", env.Origin),
		zap.Strings("reasons", reasons),
	}
	if peer, ok := ctxkeys.PeerID(ctx); ok {
		fields = append(fields, zap.String("peer", peer), zap.String("peer_cluster", ctxkeys.PeerCluster(ctx)))
	}
	if id, ok := ctxkeys.RequestID(ctx); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	return fields
}

func (c *Cartridge) sourceKnown(env *types.EventEnvelope, localNode string) bool {
	if env.IsRemote(localNode) {
		_, ok := c.peers[env.Origin]
		return ok
	}
	_, ok := c.sources[env.Source]
	return ok
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			set[item] = struct{}{}
		}
	}
	return set
}

// mergeFlags 合并已有标记（远程节点可能已附带）与新原因，去重保序。
func mergeFlags(existing any, reasons []string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(s string) {
		if _, ok := seen[s]; ok || s == "" {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	switch v := existing.(type) {
	case []string:
		for _, s := range v {
			add(s)
		}
	case []any:
		for _, s := range v {
			if str, ok := s.(string); ok {
				add(str)
			}
		}
	}
	for _, r := range reasons {
		add(r)
	}
	return out
}
