package pipeline

import (
	"context"

	"github.com/BaSui01/eventflow/types"
)

// =============================================================================
// 🧩 Cartridge
// =============================================================================

// Outcome 单次 cartridge 调用的结果类别
type Outcome int

const (
	// OutcomePassed 信封（可能已修改）继续进入下一阶段
	OutcomePassed Outcome = iota
	// OutcomeDropped 终止该信封的处理
	OutcomeDropped
	// OutcomeFaulted 内部故障，信封按原样放行
	OutcomeFaulted
)

// String returns the metric/log label of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomePassed:
		return "passed"
	case OutcomeDropped:
		return "dropped"
	case OutcomeFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Result 是 cartridge 的带标签返回值。
type Result struct {
	Outcome  Outcome
	Envelope *types.EventEnvelope
	// Reason 丢弃原因（仅 Dropped）
	Reason string
	// Err 故障原因（仅 Faulted）
	Err error
}

// Pass 放行信封。env 为 nil 时运行时沿用传入 cartridge 的副本。
func Pass(env *types.EventEnvelope) Result {
	return Result{Outcome: OutcomePassed, Envelope: env}
}

// Drop 丢弃信封并附带原因。
func Drop(reason string) Result {
	return Result{Outcome: OutcomeDropped, Reason: reason}
}

// Fault 报告内部故障；运行时放行调用前的信封。
func Fault(err error) Result {
	return Result{Outcome: OutcomeFaulted, Err: err}
}

// Cartridge 流水线处理阶段。Process 拿到的是信封的私有副本，可以原地修改。
type Cartridge interface {
	Name() string
	Process(ctx context.Context, env *types.EventEnvelope, pctx *Context) Result
}

// ProcessFunc 函数形式的处理逻辑
type ProcessFunc func(ctx context.Context, env *types.EventEnvelope, pctx *Context) Result

type funcCartridge struct {
	name string
	fn   ProcessFunc
}

// Func 将函数包装为 Cartridge。
func Func(name string, fn ProcessFunc) Cartridge {
	return &funcCartridge{name: name, fn: fn}
}

func (c *funcCartridge) Name() string { return c.name }

func (c *funcCartridge) Process(ctx context.Context, env *types.EventEnvelope, pctx *Context) Result {
	return c.fn(ctx, env, pctx)
}
