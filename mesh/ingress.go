package mesh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/eventflow/cartridges/trust"
	"github.com/BaSui01/eventflow/catalog"
	"github.com/BaSui01/eventflow/internal/metrics"
	"github.com/BaSui01/eventflow/pipeline"
	"github.com/BaSui01/eventflow/types"
)

// 拒绝原因
const (
	RejectMalformed      = "malformed"
	RejectSenderMismatch = "sender_mismatch"
	RejectOwnOrigin      = "own_origin"
)

// Runner 同步执行完整的链（从 trust 开始）
type Runner interface {
	Run(ctx context.Context, env *types.EventEnvelope) (*pipeline.RunReport, error)
}

// IngressConfig 入站配置
type IngressConfig struct {
	NodeID  string
	Runner  Runner
	Emitter pipeline.Emitter
	Metrics *metrics.Collector
	Now     func() time.Time
}

// Ingress 把对等节点的消息送回本地流水线。
type Ingress struct {
	nodeID  string
	runner  Runner
	emitter pipeline.Emitter
	metrics *metrics.Collector
	now     func() time.Time
	logger  *zap.Logger
}

// NewIngress 创建入站处理器
func NewIngress(cfg IngressConfig, logger *zap.Logger) *Ingress {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ingress{
		nodeID:  cfg.NodeID,
		runner:  cfg.Runner,
		emitter: cfg.Emitter,
		metrics: cfg.Metrics,
		now:     cfg.Now,
		logger:  logger.With(zap.String("component", "mesh_ingress")),
	}
}

// Receive 处理来自已认证对等节点的一条消息。
// 被拒绝的信封不返回错误，只在本地产生 mesh.event.rejected。
func (in *Ingress) Receive(ctx context.Context, peer PeerInfo, data []byte) (*pipeline.RunReport, error) {
	msg, env, err := Decode(data)
	if err != nil {
		in.metrics.RecordMeshReceived(RejectMalformed)
		in.reject(ctx, peer, env, RejectMalformed, err.Error())
		return nil, nil
	}
	if msg.From != peer.ID {
		in.metrics.RecordMeshReceived(RejectSenderMismatch)
		in.reject(ctx, peer, env, RejectSenderMismatch, fmt.Sprintf("message from %q on connection of %q", msg.From, peer.ID))
		return nil, nil
	}
	if peer.ID == in.nodeID {
		in.metrics.RecordMeshReceived(RejectOwnOrigin)
		in.reject(ctx, peer, env, RejectOwnOrigin, "peer identity equals local node")
		return nil, nil
	}

	stamp(env, peer, in.now())

	report, err := in.runner.Run(ctx, env)
	if err != nil {
		in.metrics.RecordMeshReceived("error")
		return nil, err
	}

	if report.Dropped() && report.DroppedBy == trust.Name {
		in.metrics.RecordMeshReceived("rejected")
		in.reject(ctx, peer, env, report.DropReason, "")
		return report, nil
	}
	if report.Dropped() {
		in.metrics.RecordMeshReceived("dropped")
	} else {
		in.metrics.RecordMeshReceived("accepted")
	}
	return report, nil
}

// stamp 清除对方写入的保留字段，并记录来源节点身份。
// 信封 Origin 一律以认证身份为准。
func stamp(env *types.EventEnvelope, peer PeerInfo, now time.Time) {
	for k := range env.Payload {
		if strings.HasPrefix(k, types.ReservedPrefix) {
			delete(env.Payload, k)
		}
	}
	env.Origin = peer.ID
	env.Payload[types.PayloadMesh] = map[string]any{
		"peer":        peer.ID,
		"cluster":     peer.Cluster,
		"received_at": now.UTC().Format(time.RFC3339Nano),
	}
}

// reject 产生一条本地 mesh.event.rejected 信封，从链头重新进入流水线。
func (in *Ingress) reject(ctx context.Context, peer PeerInfo, env *types.EventEnvelope, reason, detail string) {
	in.logger.Warn("peer envelope rejected",
		zap.String("peer", peer.ID),
		zap.String("reason", reason),
		zap.String("detail", detail),
	)
	if in.emitter == nil {
		return
	}

	out := types.NewEnvelope(catalog.EventMeshRejected, PublisherName)
	out.Level = types.LevelInfrastructure
	out.Domain = "mesh"
	out.Visibility = types.VisibilityLocal
	out.Timestamp = in.now().UTC()
	out.Payload["peer"] = peer.ID
	out.Payload["reason"] = reason
	if detail != "" {
		out.Payload["detail"] = detail
	}
	if env != nil {
		out.Payload["envelope_id"] = env.ID
		out.Payload["event_type"] = env.Event
	} else {
		out.Payload["envelope_id"] = ""
	}

	if err := in.emitter.Emit(ctx, out); err != nil && !errors.Is(err, context.Canceled) {
		in.logger.Warn("failed to emit mesh rejection", zap.Error(err))
	}
}
