package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/eventflow/internal/metrics"
	"github.com/BaSui01/eventflow/internal/pool"
	"github.com/BaSui01/eventflow/internal/telemetry"
	"github.com/BaSui01/eventflow/types"
)

var (
	// ErrRuntimeClosed 运行时已关闭（或正在关闭），不再接受新信封
	ErrRuntimeClosed = errors.New("pipeline runtime is closed")
	// ErrQueueFull 工作队列已满
	ErrQueueFull = errors.New("pipeline queue is full")
	// ErrDuplicateCartridge 扩展槽中已存在同名 cartridge
	ErrDuplicateCartridge = errors.New("cartridge already in chain")
)

// InvocationRecorder 接收运行时发出的 cartridge.invoked 元事件。
// 每次 cartridge 返回 Passed 后调用一次。
type InvocationRecorder interface {
	RecordInvocation(ctx context.Context, cartridge, eventType string)
}

// StageReport 单个阶段的执行记录
type StageReport struct {
	Cartridge string        `json:"cartridge"`
	Outcome   string        `json:"outcome"`
	Reason    string        `json:"reason,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// RunReport 一次流水线运行的结果
type RunReport struct {
	EnvelopeID string        `json:"envelope_id"`
	Event      string        `json:"event"`
	Stages     []StageReport `json:"stages"`
	DroppedBy  string        `json:"dropped_by,omitempty"`
	DropReason string        `json:"drop_reason,omitempty"`
	Faulted    []string      `json:"faulted,omitempty"`
	Completed  bool          `json:"completed"`

	// Envelope 最后一个阶段之后的信封
	Envelope *types.EventEnvelope `json:"-"`
}

// Dropped reports whether a cartridge halted the run.
func (r *RunReport) Dropped() bool { return r.DroppedBy != "" }

// =============================================================================
// ⚙️ Runtime
// =============================================================================

// Runtime 按固定顺序驱动信封经过 cartridge 链。
type Runtime struct {
	pctx     *Context
	recorder InvocationRecorder
	metrics  *metrics.Collector
	otel     *telemetry.Instruments
	logger   *zap.Logger
	now      func() time.Time

	chainMu    sync.RWMutex
	head       []Cartridge
	extensions []Cartridge
	tail       []Cartridge

	pool       *pool.GoroutinePool
	poolConfig pool.GoroutinePoolConfig

	mu       sync.Mutex
	idle     *sync.Cond
	inflight int
	closing  bool
}

// Option 运行时选项
type Option func(*Runtime)

// WithHead 设置扩展槽之前的内置阶段
func WithHead(cartridges ...Cartridge) Option {
	return func(r *Runtime) { r.head = append(r.head, cartridges...) }
}

// WithTail 设置扩展槽之后的内置阶段
func WithTail(cartridges ...Cartridge) Option {
	return func(r *Runtime) { r.tail = append(r.tail, cartridges...) }
}

// WithRecorder 设置调用计数接收者
func WithRecorder(rec InvocationRecorder) Option {
	return func(r *Runtime) { r.recorder = rec }
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Runtime) { r.metrics = c }
}

// WithInstruments 设置 OTel 指标，默认使用全局 MeterProvider
func WithInstruments(ins *telemetry.Instruments) Option {
	return func(r *Runtime) { r.otel = ins }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock 设置时钟（用于填充信封时间戳）
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) {
		if now != nil {
			r.now = now
		}
	}
}

// WithPoolConfig 设置工作池参数
func WithPoolConfig(cfg pool.GoroutinePoolConfig) Option {
	return func(r *Runtime) { r.poolConfig = cfg }
}

// NewRuntime 创建运行时。pctx.Emitter 为空时运行时自身作为发射器。
func NewRuntime(pctx *Context, opts ...Option) *Runtime {
	if pctx == nil {
		pctx = &Context{}
	}
	r := &Runtime{
		pctx:       pctx,
		logger:     zap.NewNop(),
		now:        time.Now,
		poolConfig: pool.DefaultGoroutinePoolConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "pipeline"))
	if r.metrics == nil {
		r.metrics = pctx.Metrics
	}
	if r.otel == nil {
		r.otel = telemetry.DefaultInstruments()
	}
	if pctx.Emitter == nil {
		pctx.Emitter = r
	}
	if pctx.Logger == nil {
		pctx.Logger = r.logger
	}
	r.idle = sync.NewCond(&r.mu)

	r.poolConfig.PanicHandler = func(v any) {
		r.logger.Error("pipeline task panicked", zap.Any("recover", v))
	}
	r.pool = pool.NewGoroutinePool(r.poolConfig)
	return r
}

// Context returns the shared pipeline context.
func (r *Runtime) Context() *Context { return r.pctx }

// =============================================================================
// 🧩 链管理
// =============================================================================

// Activate 将 cartridge 加入扩展槽（分类之后、通知投影之前）。
func (r *Runtime) Activate(c Cartridge) error {
	r.chainMu.Lock()
	defer r.chainMu.Unlock()

	for _, existing := range r.chainLocked() {
		if existing.Name() == c.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateCartridge, c.Name())
		}
	}
	r.extensions = append(r.extensions, c)
	r.logger.Info("cartridge activated", zap.String("cartridge", c.Name()))
	return nil
}

// Deactivate 从扩展槽移除 cartridge，内置阶段不可移除。
func (r *Runtime) Deactivate(name string) bool {
	r.chainMu.Lock()
	defer r.chainMu.Unlock()

	for i, c := range r.extensions {
		if c.Name() == name {
			r.extensions = append(r.extensions[:i:i], r.extensions[i+1:]...)
			r.logger.Info("cartridge deactivated", zap.String("cartridge", name))
			return true
		}
	}
	return false
}

// IsActive reports whether a cartridge with the given name is in the chain.
func (r *Runtime) IsActive(name string) bool {
	for _, c := range r.chain() {
		if c.Name() == name {
			return true
		}
	}
	return false
}

// Chain 返回当前链上的 cartridge 名称（按执行顺序）
func (r *Runtime) Chain() []string {
	chain := r.chain()
	names := make([]string, len(chain))
	for i, c := range chain {
		names[i] = c.Name()
	}
	return names
}

// Extensions 返回扩展槽中的 cartridge 名称
func (r *Runtime) Extensions() []string {
	r.chainMu.RLock()
	defer r.chainMu.RUnlock()
	names := make([]string, len(r.extensions))
	for i, c := range r.extensions {
		names[i] = c.Name()
	}
	return names
}

// Builtin reports whether name is one of the fixed head or tail stages.
func (r *Runtime) Builtin(name string) bool {
	r.chainMu.RLock()
	defer r.chainMu.RUnlock()
	for _, c := range r.head {
		if c.Name() == name {
			return true
		}
	}
	for _, c := range r.tail {
		if c.Name() == name {
			return true
		}
	}
	return false
}

func (r *Runtime) chain() []Cartridge {
	r.chainMu.RLock()
	defer r.chainMu.RUnlock()
	return r.chainLocked()
}

func (r *Runtime) chainLocked() []Cartridge {
	chain := make([]Cartridge, 0, len(r.head)+len(r.extensions)+len(r.tail))
	chain = append(chain, r.head...)
	chain = append(chain, r.extensions...)
	chain = append(chain, r.tail...)
	return chain
}

// =============================================================================
// ▶️ 执行
// =============================================================================

// Run 同步处理一个信封。
func (r *Runtime) Run(ctx context.Context, env *types.EventEnvelope) (*RunReport, error) {
	if err := r.acquire(false); err != nil {
		return nil, err
	}
	defer r.release()

	r.metrics.RecordSubmitted(env.IsRemote(r.pctx.NodeID))
	return r.run(ctx, env), nil
}

// Submit 异步提交信封。队列满时返回 ErrQueueFull，调用方自行决定重试。
func (r *Runtime) Submit(ctx context.Context, env *types.EventEnvelope) error {
	return r.submit(ctx, env, false)
}

// Emit 提交派生信封。派生信封与发出它的运行完全解耦，
// 队列满时改用独立 goroutine，关闭过程中仍然接受。
func (r *Runtime) Emit(ctx context.Context, env *types.EventEnvelope) error {
	return r.submit(ctx, env, true)
}

func (r *Runtime) submit(ctx context.Context, env *types.EventEnvelope, derived bool) error {
	if env == nil {
		return errors.New("nil envelope")
	}
	if err := r.acquire(derived); err != nil {
		return err
	}

	env.Normalize(r.now())
	r.metrics.RecordSubmitted(env.IsRemote(r.pctx.NodeID))

	// 在途信封不随提交方取消
	runCtx := context.WithoutCancel(ctx)
	task := func(taskCtx context.Context) error {
		defer r.release()
		r.run(taskCtx, env)
		return nil
	}

	err := r.pool.Submit(runCtx, task)
	if err == nil {
		return nil
	}
	if derived && errors.Is(err, pool.ErrPoolFull) {
		go func() { _ = task(runCtx) }()
		return nil
	}

	r.release()
	if errors.Is(err, pool.ErrPoolFull) {
		return ErrQueueFull
	}
	return ErrRuntimeClosed
}

func (r *Runtime) run(ctx context.Context, env *types.EventEnvelope) *RunReport {
	env.Normalize(r.now())
	report := &RunReport{EnvelopeID: env.ID, Event: env.Event}

	current := env
	for _, c := range r.chain() {
		name := c.Name()
		in := current.Clone()

		start := time.Now()
		stageCtx, span := telemetry.StartStage(ctx, name, in.Event, in.ID)
		res := r.invoke(stageCtx, c, in)
		elapsed := time.Since(start)
		telemetry.EndStage(span, res.Outcome.String(), res.Err)
		r.metrics.RecordCartridge(name, res.Outcome.String(), elapsed)
		r.otel.RecordStage(ctx, name, res.Outcome.String(), elapsed)

		stage := StageReport{Cartridge: name, Outcome: res.Outcome.String(), Duration: elapsed}

		switch res.Outcome {
		case OutcomeDropped:
			stage.Reason = res.Reason
			report.Stages = append(report.Stages, stage)
			report.DroppedBy = name
			report.DropReason = res.Reason
			report.Envelope = current
			r.metrics.RecordRun(true)
			r.otel.RecordRun(ctx, true)
			r.logger.Debug("envelope dropped",
				zap.String("cartridge", name),
				zap.String("event", env.Event),
				zap.String("envelope_id", env.ID),
				zap.String("reason", res.Reason),
			)
			return report

		case OutcomeFaulted:
			if res.Err != nil {
				stage.Error = res.Err.Error()
			}
			report.Faulted = append(report.Faulted, name)
			r.logger.Error("cartridge faulted, passing envelope through",
				zap.String("cartridge", name),
				zap.String("event", env.Event),
				zap.String("envelope_id", env.ID),
				zap.Error(res.Err),
			)

		default:
			if res.Envelope != nil {
				current = res.Envelope
			} else {
				current = in
			}
			if r.recorder != nil {
				r.recorder.RecordInvocation(ctx, name, current.Event)
			}
		}
		report.Stages = append(report.Stages, stage)
	}

	report.Completed = true
	report.Envelope = current
	r.metrics.RecordRun(false)
	r.otel.RecordRun(ctx, false)
	return report
}

// invoke 调用 cartridge 并把 panic 转换为 Faulted。
func (r *Runtime) invoke(ctx context.Context, c Cartridge, env *types.EventEnvelope) (res Result) {
	defer func() {
		if v := recover(); v != nil {
			res = Fault(fmt.Errorf("cartridge %s panicked: %v", c.Name(), v))
		}
	}()
	return c.Process(ctx, env, r.pctx)
}

// =============================================================================
// 🛑 在途跟踪与关闭
// =============================================================================

func (r *Runtime) acquire(derived bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// 关闭过程中只接受在途运行派生出的信封
	if r.closing && (!derived || r.inflight == 0) {
		return ErrRuntimeClosed
	}
	r.inflight++
	return nil
}

func (r *Runtime) release() {
	r.mu.Lock()
	r.inflight--
	if r.inflight == 0 {
		r.idle.Broadcast()
	}
	r.mu.Unlock()
}

// InFlight 返回在途信封数量（含排队中的）
func (r *Runtime) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight
}

// Drain 等待所有在途信封（及其派生信封）处理完成，不关闭运行时。
func (r *Runtime) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.mu.Lock()
		for r.inflight > 0 {
			r.idle.Wait()
		}
		r.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 拒绝新提交，等待在途信封完成后停止工作池。
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()

	r.logger.Info("pipeline runtime draining", zap.Int("in_flight", r.InFlight()))
	if err := r.Drain(ctx); err != nil {
		r.logger.Warn("pipeline drain interrupted", zap.Error(err))
		return err
	}

	r.pool.Close()
	r.logger.Info("pipeline runtime stopped")
	return nil
}
