package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// =============================================================================
// 📈 流水线 OTel 指标
// =============================================================================

// Instruments 流水线的 OTel 指标，经 OTLP 导出。
// Prometheus 收集器负责 /metrics，两者记录同一批事件。
type Instruments struct {
	invocations   metric.Int64Counter
	stageDuration metric.Float64Histogram
	runs          metric.Int64Counter
}

// NewInstruments 在给定 MeterProvider 上创建指标；mp 为空时使用全局 provider。
func NewInstruments(mp metric.MeterProvider) (*Instruments, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(InstrumentationName)

	ins := &Instruments{}
	var err error

	// cartridge 调用计数
	ins.invocations, err = meter.Int64Counter("eventflow.cartridge.invocations",
		metric.WithDescription("Cartridge invocations by outcome"),
		metric.WithUnit("{invocation}"))
	if err != nil {
		return nil, err
	}

	// cartridge 耗时
	ins.stageDuration, err = meter.Float64Histogram("eventflow.cartridge.duration",
		metric.WithDescription("Cartridge invocation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1))
	if err != nil {
		return nil, err
	}

	// 运行结果
	ins.runs, err = meter.Int64Counter("eventflow.pipeline.runs",
		metric.WithDescription("Pipeline runs by result"),
		metric.WithUnit("{run}"))
	if err != nil {
		return nil, err
	}

	return ins, nil
}

var (
	defaultOnce        sync.Once
	defaultInstruments *Instruments
)

// DefaultInstruments 基于全局 MeterProvider 的共享指标。
// 在 Init 之前创建也没关系，全局 provider 会在设置后接管。
func DefaultInstruments() *Instruments {
	defaultOnce.Do(func() {
		ins, err := NewInstruments(nil)
		if err == nil {
			defaultInstruments = ins
		}
	})
	return defaultInstruments
}

// RecordStage 记录一次 cartridge 调用
func (i *Instruments) RecordStage(ctx context.Context, cartridge, result string, d time.Duration) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("cartridge", cartridge),
		attribute.String("result", result),
	)
	i.invocations.Add(ctx, 1, attrs)
	i.stageDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordRun 记录一次完整运行，dropped 表示被某个 cartridge 中止
func (i *Instruments) RecordRun(ctx context.Context, dropped bool) {
	if i == nil {
		return
	}
	result := "completed"
	if dropped {
		result = "dropped"
	}
	i.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
