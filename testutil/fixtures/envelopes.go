// Package fixtures 提供测试用的信封工厂。
package fixtures

import (
	"fmt"
	"time"

	"github.com/BaSui01/eventflow/catalog"
	"github.com/BaSui01/eventflow/types"
)

// Envelope 构造带常用字段的信封
func Envelope(event, source string, level types.Level, visibility types.Visibility, payload map[string]any) *types.EventEnvelope {
	env := types.NewEnvelope(event, source)
	env.Level = level
	env.Domain = "test"
	env.Visibility = visibility
	for k, v := range payload {
		env.Payload[k] = v
	}
	return env
}

// WorkerCrashed 构造 worker 崩溃事件
func WorkerCrashed(workerID string, pid int) *types.EventEnvelope {
	env := Envelope(catalog.EventWorkerCrashed, "supervisor", types.LevelOperational, types.VisibilityCluster,
		map[string]any{"worker_id": workerID, "pid": pid, "exit_code": 137, "reason": "oom"})
	env.Domain = "system"
	env.Entity = "telec://worker/" + workerID
	return env
}

// QualityGateFailed 构造质量门失败事件
func QualityGateFailed(todoID, runID string, score float64) *types.EventEnvelope {
	env := Envelope(catalog.EventGateFailed, "gatekeeper", types.LevelWorkflow, types.VisibilityCluster,
		map[string]any{"todo_id": todoID, "run_id": runID, "status": "failed", "score": score})
	env.Domain = "workflow"
	env.Entity = "telec://todo/" + todoID
	return env
}

// JobCompleted 构造任务完成事件（无 lifecycle，signal-only）
func JobCompleted(jobID string) *types.EventEnvelope {
	env := Envelope(catalog.EventJobCompleted, "scheduler", types.LevelOperational, types.VisibilityLocal,
		map[string]any{"job_id": jobID})
	env.Domain = "jobs"
	return env
}

// Unknown 构造目录中不存在的事件
func Unknown() *types.EventEnvelope {
	return Envelope("foo.bar.baz", "scheduler", types.LevelInfrastructure, types.VisibilityLocal,
		map[string]any{"n": 1})
}

// CartridgePublished 构造远程 cartridge 发布事件
func CartridgePublished(name, version, entryPoint, origin string) *types.EventEnvelope {
	env := Envelope(catalog.EventCartridgePublished, "publisher", types.LevelOperational, types.VisibilityPublic,
		map[string]any{
			"name":         name,
			"version":      version,
			"entry_point":  entryPoint,
			"source":       fmt.Sprintf("// %s %s", name, version),
			"dependencies": []any{"zap"},
		})
	env.Domain = "cartridge"
	env.Origin = origin
	return env
}

// At 设置时间戳并返回信封本身
func At(env *types.EventEnvelope, ts time.Time) *types.EventEnvelope {
	env.Timestamp = ts
	return env
}
