package installer

import (
	"context"

	"github.com/BaSui01/eventflow/pipeline"
)

// Verdict L2 决策结果
type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictReject Verdict = "reject"
	VerdictDefer  Verdict = "defer"
)

// Decision 外部决策者的答复
type Decision struct {
	Verdict Verdict
	Reason  string
}

// Decider L2 自主级别下裁决一次远程发布。
// 裁决策略由调用方提供，这里不做任何假设。
type Decider interface {
	Decide(ctx context.Context, spec pipeline.CartridgeSpec, publisher string) (Decision, error)
}

// DeciderFunc 函数形式的 Decider
type DeciderFunc func(ctx context.Context, spec pipeline.CartridgeSpec, publisher string) (Decision, error)

// Decide implements Decider.
func (f DeciderFunc) Decide(ctx context.Context, spec pipeline.CartridgeSpec, publisher string) (Decision, error) {
	return f(ctx, spec, publisher)
}

// DeferDecider 总是推迟，等价于 L1 的人工审批。
type DeferDecider struct{}

// Decide implements Decider.
func (DeferDecider) Decide(context.Context, pipeline.CartridgeSpec, string) (Decision, error) {
	return Decision{Verdict: VerdictDefer, Reason: "no decision collaborator configured"}, nil
}
