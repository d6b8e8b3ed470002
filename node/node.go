package node

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/eventflow/cartridges/classification"
	"github.com/BaSui01/eventflow/cartridges/correlation"
	"github.com/BaSui01/eventflow/cartridges/dedup"
	"github.com/BaSui01/eventflow/cartridges/enrichment"
	"github.com/BaSui01/eventflow/cartridges/notification"
	"github.com/BaSui01/eventflow/cartridges/trust"
	"github.com/BaSui01/eventflow/catalog"
	"github.com/BaSui01/eventflow/config"
	"github.com/BaSui01/eventflow/installer"
	"github.com/BaSui01/eventflow/internal/cache"
	"github.com/BaSui01/eventflow/internal/database"
	"github.com/BaSui01/eventflow/internal/metrics"
	"github.com/BaSui01/eventflow/internal/pool"
	"github.com/BaSui01/eventflow/mesh"
	"github.com/BaSui01/eventflow/pipeline"
	"github.com/BaSui01/eventflow/promotion"
	"github.com/BaSui01/eventflow/store"
	"github.com/BaSui01/eventflow/types"
)

// 节点内部产生派生事件的来源，始终被 trust 视为已知。
var internalSources = []string{
	correlation.Name,
	installer.Name,
	promotion.Source,
	mesh.PublisherName,
}

// ErrInvalidEnvelope 提交的信封缺少必需字段
var ErrInvalidEnvelope = errors.New("invalid envelope")

// =============================================================================
// 🧱 Node
// =============================================================================

// Node 组合根：持有存储、目录、运行时、网格组件、安装器与推广跟踪器。
type Node struct {
	cfg    *config.Config
	logger *zap.Logger
	now    func() time.Time

	db      *database.PoolManager
	store   *store.Store
	catalog *catalog.Catalog
	watcher *catalog.Watcher
	cache   *cache.Manager
	metrics *metrics.Collector

	runtime   *pipeline.Runtime
	trust     *trust.Cartridge
	installer *installer.Installer
	tracker   *promotion.Tracker
	registry  *pipeline.Registry

	discovery   mesh.Discovery
	transport   mesh.Transport
	wsTransport *mesh.WSTransport
	tokens      *mesh.TokenManager
	publisher   *mesh.Publisher
	ingress     *mesh.Ingress
	meshHandler *mesh.Handler

	// 外部传入的资源不由节点关闭
	gormDB    *gorm.DB
	dedupIdx  dedup.Index
	decider   installer.Decider
	closeOnce sync.Once
	closeErr  error
}

// Option 节点选项
type Option func(*Node)

// WithDB 使用已打开的数据库，节点不负责关闭
func WithDB(db *gorm.DB) Option {
	return func(n *Node) { n.gormDB = db }
}

// WithTransport 替换对等节点传输（即使配置中未启用网格也会挂载发布者）
func WithTransport(t mesh.Transport) Option {
	return func(n *Node) { n.transport = t }
}

// WithDiscovery 替换对等节点发现
func WithDiscovery(d mesh.Discovery) Option {
	return func(n *Node) { n.discovery = d }
}

// WithRegistry 设置实验 cartridge 的入口点注册表
func WithRegistry(r *pipeline.Registry) Option {
	return func(n *Node) { n.registry = r }
}

// WithDecider 设置 L2 自主级别的决策者
func WithDecider(d installer.Decider) Option {
	return func(n *Node) { n.decider = d }
}

// WithDedupIndex 替换去重索引
func WithDedupIndex(idx dedup.Index) Option {
	return func(n *Node) { n.dedupIdx = idx }
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(n *Node) { n.metrics = c }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithClock 设置时钟，传递给所有按时间窗口工作的组件
func WithClock(now func() time.Time) Option {
	return func(n *Node) {
		if now != nil {
			n.now = now
		}
	}
}

// New 按配置装配节点。返回的节点需要调用 Start 才会加载已激活的扩展。
func New(cfg *config.Config, opts ...Option) (*Node, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	n := &Node{
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With(zap.String("component", "node"), zap.String("node_id", cfg.Node.ID))

	if err := n.build(); err != nil {
		n.releaseResources()
		return nil, err
	}
	return n, nil
}

func (n *Node) build() error {
	cfg := n.cfg

	strictness, err := trust.ParseStrictness(cfg.Pipeline.Trust.Strictness)
	if err != nil {
		return err
	}
	autonomy, err := installer.ParseAutonomy(cfg.Pipeline.Installer.Autonomy)
	if err != nil {
		return err
	}

	// 1. 存储
	if err := n.openStore(); err != nil {
		return err
	}

	// 2. 目录
	n.catalog = catalog.NewDefault(n.logger)
	if path := cfg.Pipeline.SchemaFile; path != "" {
		if _, err := n.catalog.LoadFile(path); err != nil {
			return fmt.Errorf("failed to load schema file: %w", err)
		}
		n.watcher = catalog.NewWatcher(n.catalog, path, n.logger,
			catalog.WithPollInterval(cfg.Pipeline.SchemaPollInterval))
	}

	// 3. 去重索引
	if n.dedupIdx == nil {
		idx, err := n.dedupIndex()
		if err != nil {
			return err
		}
		n.dedupIdx = idx
	}

	// 4. 网格
	n.buildMesh()

	// 5. cartridge 链
	n.trust = trust.New(trust.Config{
		Strictness:   strictness,
		KnownSources: append(append([]string(nil), cfg.Pipeline.Trust.KnownSources...), internalSources...),
		KnownPeers:   n.knownPeers(),
	}, n.logger)

	corr := correlation.New(correlation.Config{
		Window:               cfg.Pipeline.Correlation.Window,
		BurstThreshold:       int64(cfg.Pipeline.Correlation.BurstThreshold),
		CascadeThreshold:     int64(cfg.Pipeline.Correlation.CascadeThreshold),
		CascadeEvents:        cfg.Pipeline.Correlation.CascadeEvents,
		DegradationThreshold: int64(cfg.Pipeline.Correlation.DegradationThreshold),
		Now:                  n.now,
	}, n.logger)

	if n.registry == nil {
		n.registry = pipeline.NewRegistry()
	}
	if err := n.registry.Register(pipeline.EntryPointTagger, pipeline.TaggerFactory); err != nil {
		n.logger.Debug("tagger entry point already registered")
	}

	n.installer = installer.New(installer.Config{
		Autonomy: autonomy,
		Decider:  n.decider,
		Registry: n.registry,
		Store:    n.store,
		Now:      n.now,
	}, n.logger)

	n.tracker = promotion.New(promotion.Config{
		Threshold: int64(cfg.Pipeline.Promotion.Threshold),
		Store:     n.store,
		Now:       n.now,
	}, n.logger)

	tail := []pipeline.Cartridge{notification.New(n.logger)}
	if n.publisher != nil {
		tail = append(tail, n.publisher)
	}
	tail = append(tail, n.installer)

	pctx := &pipeline.Context{
		Catalog: n.catalog,
		Store:   n.store,
		Metrics: n.metrics,
		Logger:  n.logger,
		NodeID:  cfg.Node.ID,
		Cluster: cfg.Node.Cluster,
	}

	poolCfg := pool.DefaultGoroutinePoolConfig()
	if cfg.Pipeline.Workers > 0 {
		poolCfg.MaxWorkers = cfg.Pipeline.Workers
	}
	if cfg.Pipeline.QueueSize > 0 {
		poolCfg.QueueSize = cfg.Pipeline.QueueSize
	}

	n.runtime = pipeline.NewRuntime(pctx,
		pipeline.WithHead(
			n.trust,
			dedup.New(n.dedupIdx, cfg.Pipeline.Dedup.Retention, n.logger),
			enrichment.New(n.logger),
			corr,
			classification.New(),
		),
		pipeline.WithTail(tail...),
		pipeline.WithRecorder(n.tracker),
		pipeline.WithMetrics(n.metrics),
		pipeline.WithLogger(n.logger),
		pipeline.WithClock(n.now),
		pipeline.WithPoolConfig(poolCfg),
	)

	n.installer.Bind(n.runtime)
	n.tracker.SetEmitter(n.runtime)
	n.tracker.SetBuiltin(n.runtime.Builtin)

	if n.publisher != nil || n.tokens != nil {
		n.ingress = mesh.NewIngress(mesh.IngressConfig{
			NodeID:  cfg.Node.ID,
			Runner:  n.runtime,
			Emitter: n.runtime,
			Metrics: n.metrics,
			Now:     n.now,
		}, n.logger)
	}
	if n.tokens != nil {
		n.meshHandler = mesh.NewHandler(mesh.HandlerConfig{
			Ingress:   n.ingress,
			Tokens:    n.tokens,
			RateLimit: cfg.Mesh.RateLimit,
			RateBurst: cfg.Mesh.RateBurst,
		}, n.logger)
	}

	n.logger.Info("node assembled",
		zap.Strings("chain", n.runtime.Chain()),
		zap.String("strictness", string(strictness)),
		zap.String("autonomy", string(autonomy)),
		zap.Bool("mesh", n.publisher != nil),
	)
	return nil
}

func (n *Node) openStore() error {
	if n.gormDB == nil {
		dbCfg := n.cfg.Database
		poolCfg := database.DefaultPoolConfig()
		if dbCfg.MaxOpenConns > 0 {
			poolCfg.MaxOpenConns = dbCfg.MaxOpenConns
		}
		if dbCfg.MaxIdleConns > 0 {
			poolCfg.MaxIdleConns = dbCfg.MaxIdleConns
		}
		poolCfg.ConnMaxLifetime = dbCfg.ConnMaxLifetime

		pm, err := database.Open(dbCfg.Driver, dbCfg.DSN(), poolCfg, n.logger)
		if err != nil {
			return err
		}
		n.db = pm
		n.gormDB = pm.DB()
	}

	n.store = store.New(n.gormDB, n.logger, store.WithClock(n.now))
	if n.cfg.Database.AutoMigrate {
		if err := n.store.AutoMigrate(context.Background()); err != nil {
			return fmt.Errorf("failed to migrate event store: %w", err)
		}
	}
	return nil
}

func (n *Node) dedupIndex() (dedup.Index, error) {
	switch strings.ToLower(n.cfg.Pipeline.Dedup.Backend) {
	case "", "memory":
		return dedup.NewMemoryIndex(n.now), nil
	case "redis":
		rc := n.cfg.Redis
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = rc.Addr
		cacheCfg.Password = rc.Password
		cacheCfg.DB = rc.DB
		if rc.PoolSize > 0 {
			cacheCfg.PoolSize = rc.PoolSize
		}
		if rc.MinIdleConns > 0 {
			cacheCfg.MinIdleConns = rc.MinIdleConns
		}
		m, err := cache.NewManager(cacheCfg, n.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect dedup redis: %w", err)
		}
		n.cache = m
		return dedup.NewRedisIndex(m, n.cfg.Pipeline.Dedup.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unsupported dedup backend %q", n.cfg.Pipeline.Dedup.Backend)
	}
}

func (n *Node) buildMesh() {
	mc := n.cfg.Mesh
	if mc.Enabled && mc.Secret != "" {
		n.tokens = mesh.NewTokenManager(mc.Secret, mc.TokenTTL)
	}
	if n.transport == nil && mc.Enabled && n.tokens != nil {
		n.wsTransport = mesh.NewWSTransport(n.cfg.Node.ID, n.cfg.Node.Cluster, n.tokens, n.logger)
		n.transport = n.wsTransport
	}
	if n.transport == nil {
		return
	}
	if n.discovery == nil {
		peers := make([]mesh.PeerInfo, 0, len(mc.Peers))
		for _, p := range mc.Peers {
			peers = append(peers, mesh.PeerInfo{ID: p.ID, Cluster: p.Cluster, URL: p.URL})
		}
		n.discovery = mesh.NewStaticDiscovery(peers...)
	}
	n.publisher = mesh.NewPublisher(n.discovery, n.transport, n.logger,
		mesh.WithSendTimeout(mc.SendTimeout),
		mesh.WithPublisherClock(n.now),
	)
}

// knownPeers 配置的对等节点默认可信，再合并显式白名单。
func (n *Node) knownPeers() []string {
	peers := append([]string(nil), n.cfg.Pipeline.Trust.KnownPeers...)
	for _, p := range n.cfg.Mesh.Peers {
		peers = append(peers, p.ID)
	}
	return peers
}

// =============================================================================
// ▶️ 生命周期
// =============================================================================

// Start 启动 schema 文件监听，并恢复上次已激活的扩展 cartridge。
func (n *Node) Start(ctx context.Context) error {
	if n.watcher != nil {
		if err := n.watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start schema watcher: %w", err)
		}
	}
	restored, err := n.installer.Restore(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore cartridges: %w", err)
	}
	n.logger.Info("node started", zap.Int("restored_cartridges", restored))
	return nil
}

// Submit 本地生产者的入口：只做受理，不返回处理结果。
// 本地提交不能声明远程来源，也不能预置保留键。
func (n *Node) Submit(ctx context.Context, env *types.EventEnvelope) error {
	if err := n.prepare(env); err != nil {
		return err
	}
	return n.runtime.Submit(ctx, env)
}

// Process 同步处理一个本地信封并返回运行报告。
func (n *Node) Process(ctx context.Context, env *types.EventEnvelope) (*pipeline.RunReport, error) {
	if err := n.prepare(env); err != nil {
		return nil, err
	}
	return n.runtime.Run(ctx, env)
}

func (n *Node) prepare(env *types.EventEnvelope) error {
	if env == nil || strings.TrimSpace(env.Event) == "" {
		return fmt.Errorf("%w: event type is required", ErrInvalidEnvelope)
	}
	if strings.TrimSpace(env.Source) == "" {
		return fmt.Errorf("%w: source is required", ErrInvalidEnvelope)
	}
	env.Origin = ""
	if env.Visibility == "" {
		// 未声明时采用 schema 的默认可见性，未知类型只在本地
		env.Visibility = types.VisibilityLocal
		if schema, ok := n.catalog.Get(env.Event); ok && schema.Visibility.Valid() {
			env.Visibility = schema.Visibility
		}
	}
	for k := range env.Payload {
		if strings.HasPrefix(k, types.ReservedPrefix) {
			delete(env.Payload, k)
		}
	}
	env.Normalize(n.now())
	return nil
}

// Drain 等待所有在途信封（包括派生信封）处理完毕。
// 生产者仍在提交时，Drain 只保证调用前受理的信封已处理。
func (n *Node) Drain(ctx context.Context) error {
	if err := n.runtime.Drain(ctx); err != nil {
		return err
	}
	if n.publisher != nil {
		return n.publisher.Wait(ctx)
	}
	return nil
}

// Close 停止受理新信封，等待在途运行与网格投递结束后释放资源。
func (n *Node) Close(ctx context.Context) error {
	n.closeOnce.Do(func() {
		var errs []error
		if err := n.runtime.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("runtime: %w", err))
		}
		if n.publisher != nil {
			if err := n.publisher.Wait(ctx); err != nil {
				errs = append(errs, fmt.Errorf("mesh publisher: %w", err))
			}
		}
		if err := n.releaseResources(); err != nil {
			errs = append(errs, err)
		}
		n.closeErr = errors.Join(errs...)
		n.logger.Info("node closed")
	})
	return n.closeErr
}

func (n *Node) releaseResources() error {
	var errs []error
	if n.watcher != nil {
		n.watcher.Stop()
	}
	if n.wsTransport != nil {
		if err := n.wsTransport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mesh transport: %w", err))
		}
	}
	if n.cache != nil {
		if err := n.cache.Close(); err != nil && !errors.Is(err, cache.ErrClosed) {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	if n.db != nil {
		if err := n.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// 🔍 访问器
// =============================================================================

// ID 返回节点 ID
func (n *Node) ID() string { return n.cfg.Node.ID }

// Cluster 返回集群归属
func (n *Node) Cluster() string { return n.cfg.Node.Cluster }

// Store 返回事件存储
func (n *Node) Store() *store.Store { return n.store }

// Catalog 返回事件目录
func (n *Node) Catalog() *catalog.Catalog { return n.catalog }

// Runtime 返回流水线运行时
func (n *Node) Runtime() *pipeline.Runtime { return n.runtime }

// Installer 返回安装器
func (n *Node) Installer() *installer.Installer { return n.installer }

// Tracker 返回推广跟踪器
func (n *Node) Tracker() *promotion.Tracker { return n.tracker }

// Ingress 返回网格入站处理器，未配置网格时为 nil
func (n *Node) Ingress() *mesh.Ingress { return n.ingress }

// MeshHandler 返回网格 WebSocket 端点，未启用网格时为 nil
func (n *Node) MeshHandler() *mesh.Handler { return n.meshHandler }

// Cache 返回 Redis 管理器，去重后端不是 redis 时为 nil
func (n *Node) Cache() *cache.Manager { return n.cache }

// DB 返回底层数据库
func (n *Node) DB() *gorm.DB { return n.gormDB }
