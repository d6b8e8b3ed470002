package mesh

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/eventflow/internal/metrics"
	"github.com/BaSui01/eventflow/pipeline"
	"github.com/BaSui01/eventflow/types"
)

// PublisherName 是出站转发 cartridge 的名称，也是网格合成信封的 source。
const PublisherName = "mesh"

// DefaultSendTimeout 单个对等节点的默认发送超时
const DefaultSendTimeout = 5 * time.Second

// Publisher 按可见性把本地信封转发给对等节点。
// 转发在后台进行，Process 不等待任何对等节点。
type Publisher struct {
	discovery Discovery
	transport Transport
	timeout   time.Duration
	now       func() time.Time
	logger    *zap.Logger

	// 在途转发计数，Process 与 Wait 可以并发调用
	mu       sync.Mutex
	inflight int
	idle     chan struct{}
}

// PublisherOption 发布者选项
type PublisherOption func(*Publisher)

// WithSendTimeout 设置单个对等节点的发送超时
func WithSendTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithPublisherClock 设置消息时间戳使用的时钟
func WithPublisherClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPublisher 创建发布者
func NewPublisher(discovery Discovery, transport Transport, logger *zap.Logger, opts ...PublisherOption) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{
		discovery: discovery,
		transport: transport,
		timeout:   DefaultSendTimeout,
		now:       time.Now,
		logger:    logger.With(zap.String("component", "mesh_publisher")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements pipeline.Cartridge.
func (p *Publisher) Name() string { return PublisherName }

// Process implements pipeline.Cartridge.
func (p *Publisher) Process(ctx context.Context, env *types.EventEnvelope, pctx *pipeline.Context) pipeline.Result {
	if env.Visibility == types.VisibilityLocal || p.discovery == nil || p.transport == nil {
		return pipeline.Pass(env)
	}
	// 不转发其他节点产生的信封
	if env.IsRemote(pctx.NodeID) {
		return pipeline.Pass(env)
	}

	peers, err := p.discovery.Peers(ctx)
	if err != nil {
		return pipeline.Fault(err)
	}
	targets := Recipients(peers, env.Visibility, pctx.NodeID, pctx.Cluster)
	if len(targets) == 0 {
		return pipeline.Pass(env)
	}

	out := env.Clone()
	out.Payload = env.PublicPayload()
	out.Origin = pctx.NodeID
	data, err := Encode(out, pctx.NodeID, pctx.Cluster, p.now())
	if err != nil {
		return pipeline.Fault(err)
	}

	p.begin()
	go func() {
		defer p.end()
		p.fanOut(context.WithoutCancel(ctx), env, targets, data, pctx.Metrics)
	}()
	return pipeline.Pass(env)
}

// fanOut 并发发送；单个对等节点失败只记录日志，不重试。
func (p *Publisher) fanOut(ctx context.Context, env *types.EventEnvelope, targets []PeerInfo, data []byte, m *metrics.Collector) {
	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range targets {
		peer := peer
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(gctx, p.timeout)
			defer cancel()

			if err := p.transport.Send(sendCtx, peer, data); err != nil {
				m.RecordMeshSend("failed")
				p.logger.Warn("failed to forward envelope to peer",
					zap.String("peer", peer.ID),
					zap.String("event", env.Event),
					zap.String("envelope_id", env.ID),
					zap.Error(err),
				)
				return nil
			}
			m.RecordMeshSend("sent")
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Publisher) begin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight == 0 {
		p.idle = make(chan struct{})
	}
	p.inflight++
}

func (p *Publisher) end() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight--
	if p.inflight == 0 {
		close(p.idle)
		p.idle = nil
	}
}

// Wait 等待后台转发全部结束。生产者仍在提交时，
// 等到某一时刻没有在途转发即返回。
func (p *Publisher) Wait(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
