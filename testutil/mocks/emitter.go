// Package mocks 提供测试用的发射器与对等节点传输实现。
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/eventflow/types"
)

// RecordingEmitter 记录所有派生信封，不做任何处理。
type RecordingEmitter struct {
	mu      sync.Mutex
	emitted []*types.EventEnvelope
	emitErr error
}

// NewRecordingEmitter 创建记录型发射器
func NewRecordingEmitter() *RecordingEmitter {
	return &RecordingEmitter{}
}

// WithError 让后续 Emit 返回错误
func (e *RecordingEmitter) WithError(err error) *RecordingEmitter {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitErr = err
	return e
}

// Emit implements pipeline.Emitter.
func (e *RecordingEmitter) Emit(_ context.Context, env *types.EventEnvelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.emitErr != nil {
		return e.emitErr
	}
	e.emitted = append(e.emitted, env.Clone())
	return nil
}

// Emitted 返回已记录的信封副本
func (e *RecordingEmitter) Emitted() []*types.EventEnvelope {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*types.EventEnvelope(nil), e.emitted...)
}

// ByEvent 返回指定事件类型的信封
func (e *RecordingEmitter) ByEvent(event string) []*types.EventEnvelope {
	var out []*types.EventEnvelope
	for _, env := range e.Emitted() {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

// Reset 清空记录
func (e *RecordingEmitter) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitted = nil
}
