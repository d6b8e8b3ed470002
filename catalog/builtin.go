package catalog

import "github.com/BaSui01/eventflow/types"

// 内置事件类型
const (
	EventWorkerCrashed   = "system.worker.crashed"
	EventWorkerStarted   = "system.worker.started"
	EventJobCompleted    = "job.completed"
	EventJobFailed       = "job.failed"
	EventGatePassed      = "quality_gate.passed"
	EventGateFailed      = "quality_gate.failed"
	EventDeployCompleted = "deployment.completed"
	EventDeployFailed    = "deployment.failed"
	EventTodoPhase       = "todo.phase_changed"
	EventTodoReview      = "todo.review_scored"

	EventBurstDetected   = "system.burst.detected"
	EventCascadeDetected = "system.failure_cascade.detected"
	EventEntityDegraded  = "system.entity.degraded"
	EventMeshRejected    = "mesh.event.rejected"

	EventCartridgePublished   = "cartridge.published"
	EventCartridgeInvoked     = "cartridge.invoked"
	EventPromotionSuggested   = "cartridge.promotion_suggested"
	EventInstallationPending  = "cartridge.installation_pending"
	EventInstallationReviewed = "cartridge.installation_reviewed"
	EventCartridgeInstalled   = "cartridge.installed"
	EventInstallationRejected = "cartridge.installation_rejected"
)

// Builtin returns the schemas every node registers at startup.
func Builtin() []*types.EventSchema {
	return []*types.EventSchema{
		// ---- 工作进程 ----
		{
			Event:             EventWorkerCrashed,
			Description:       "A background worker process exited unexpectedly",
			Level:             types.LevelOperational,
			Domain:            "system",
			Visibility:        types.VisibilityCluster,
			IdempotencyFields: []string{"worker_id", "pid"},
			Lifecycle: &types.Lifecycle{
				Group:            "worker_health",
				GroupFields:      []string{"worker_id"},
				MeaningfulFields: []string{"exit_code", "reason"},
				Title:            "Worker crashed",
			},
			Actionable: true,
			Failure:    true,
		},
		{
			Event:             EventWorkerStarted,
			Level:             types.LevelInfrastructure,
			Domain:            "system",
			Visibility:        types.VisibilityLocal,
			IdempotencyFields: []string{"worker_id", "pid"},
		},

		// ---- 后台任务 ----
		{
			Event:             EventJobCompleted,
			Level:             types.LevelOperational,
			Domain:            "jobs",
			Visibility:        types.VisibilityLocal,
			IdempotencyFields: []string{"job_id"},
		},
		{
			Event:             EventJobFailed,
			Level:             types.LevelOperational,
			Domain:            "jobs",
			Visibility:        types.VisibilityCluster,
			IdempotencyFields: []string{"job_id", "attempt"},
			Lifecycle: &types.Lifecycle{
				Group:            "job",
				GroupFields:      []string{"job_id"},
				MeaningfulFields: []string{"error"},
				Title:            "Job failed",
			},
			Actionable: true,
			Failure:    true,
		},

		// ---- 质量门禁 ----
		{
			Event:             EventGatePassed,
			Level:             types.LevelWorkflow,
			Domain:            "workflow",
			Visibility:        types.VisibilityLocal,
			IdempotencyFields: []string{"todo_id", "run_id"},
			Lifecycle: &types.Lifecycle{
				Group:            "quality_gate",
				GroupFields:      []string{"todo_id"},
				MeaningfulFields: []string{"status", "score"},
				Title:            "Quality gate passed",
			},
		},
		{
			Event:             EventGateFailed,
			Level:             types.LevelWorkflow,
			Domain:            "workflow",
			Visibility:        types.VisibilityCluster,
			IdempotencyFields: []string{"todo_id", "run_id"},
			Lifecycle: &types.Lifecycle{
				Group:            "quality_gate",
				GroupFields:      []string{"todo_id"},
				MeaningfulFields: []string{"status", "score"},
				Title:            "Quality gate failed",
			},
			Actionable: true,
			Failure:    true,
		},

		// ---- 部署 ----
		{
			Event:             EventDeployCompleted,
			Level:             types.LevelBusiness,
			Domain:            "deploy",
			Visibility:        types.VisibilityPublic,
			IdempotencyFields: []string{"deployment_id"},
			Lifecycle: &types.Lifecycle{
				Group:            "deployment",
				GroupFields:      []string{"deployment_id"},
				MeaningfulFields: []string{"status", "version"},
				Title:            "Deployment completed",
			},
		},
		{
			Event:             EventDeployFailed,
			Level:             types.LevelBusiness,
			Domain:            "deploy",
			Visibility:        types.VisibilityPublic,
			IdempotencyFields: []string{"deployment_id", "attempt"},
			Lifecycle: &types.Lifecycle{
				Group:            "deployment",
				GroupFields:      []string{"deployment_id"},
				MeaningfulFields: []string{"status", "version", "error"},
				Title:            "Deployment failed",
			},
			Actionable: true,
			Failure:    true,
		},

		// ---- 工作项 ----
		{
			Event:             EventTodoPhase,
			Level:             types.LevelWorkflow,
			Domain:            "workflow",
			Visibility:        types.VisibilityLocal,
			IdempotencyFields: []string{"todo_id", "phase"},
			Lifecycle: &types.Lifecycle{
				Group:            "todo",
				GroupFields:      []string{"todo_id"},
				MeaningfulFields: []string{"phase"},
				Title:            "Todo phase changed",
			},
		},
		{
			Event:             EventTodoReview,
			Level:             types.LevelWorkflow,
			Domain:            "workflow",
			Visibility:        types.VisibilityLocal,
			IdempotencyFields: []string{"todo_id", "review_id"},
		},

		// ---- 关联检测（合成事件）----
		{
			Event:             EventBurstDetected,
			Level:             types.LevelOperational,
			Domain:            "system",
			Visibility:        types.VisibilityLocal,
			IdempotencyFields: []string{"event_type", "window_start"},
			Lifecycle: &types.Lifecycle{
				Group:            "burst",
				GroupFields:      []string{"event_type"},
				MeaningfulFields: []string{"window_start"},
				Title:            "Event burst detected",
			},
		},
		{
			Event:             EventCascadeDetected,
			Level:             types.LevelOperational,
			Domain:            "system",
			Visibility:        types.VisibilityCluster,
			IdempotencyFields: []string{"event_type", "window_start"},
			Lifecycle: &types.Lifecycle{
				Group:            "failure_cascade",
				GroupFields:      []string{"event_type"},
				MeaningfulFields: []string{"window_start", "crash_count"},
				Title:            "Failure cascade detected",
			},
			Actionable: true,
		},
		{
			Event:             EventEntityDegraded,
			Level:             types.LevelOperational,
			Domain:            "system",
			Visibility:        types.VisibilityLocal,
			IdempotencyFields: []string{"entity", "window_start"},
			Lifecycle: &types.Lifecycle{
				Group:            "entity_degraded",
				GroupFields:      []string{"entity"},
				MeaningfulFields: []string{"window_start"},
				Title:            "Entity degraded",
			},
			Actionable: true,
		},

		// ---- 网格 ----
		{
			Event:             EventMeshRejected,
			Level:             types.LevelInfrastructure,
			Domain:            "mesh",
			Visibility:        types.VisibilityLocal,
			IdempotencyFields: []string{"peer", "envelope_id"},
			Lifecycle: &types.Lifecycle{
				Group:            "mesh_rejected",
				GroupFields:      []string{"peer"},
				MeaningfulFields: []string{"envelope_id"},
				Title:            "Peer event rejected",
			},
		},

		// ---- cartridge 分发 ----
		{
			Event:             EventCartridgePublished,
			Level:             types.LevelOperational,
			Domain:            "cartridge",
			Visibility:        types.VisibilityPublic,
			IdempotencyFields: []string{"name", "version"},
		},
		{
			Event:             EventCartridgeInvoked,
			Level:             types.LevelInfrastructure,
			Domain:            "cartridge",
			Visibility:        types.VisibilityLocal,
			IdempotencyFields: []string{"cartridge", "envelope_id"},
		},
		{
			Event:             EventPromotionSuggested,
			Level:             types.LevelOperational,
			Domain:            "cartridge",
			Visibility:        types.VisibilityLocal,
			IdempotencyFields: []string{"cartridge", "threshold"},
			Lifecycle: &types.Lifecycle{
				Group:            "promotion",
				GroupFields:      []string{"cartridge"},
				MeaningfulFields: []string{"threshold"},
				Title:            "Cartridge promotion suggested",
			},
			Actionable: true,
		},
		{
			Event:             EventInstallationPending,
			Level:             types.LevelOperational,
			Domain:            "cartridge",
			Visibility:        types.VisibilityLocal,
			IdempotencyFields: []string{"name", "version"},
			Lifecycle: &types.Lifecycle{
				Group:            "cartridge_install",
				GroupFields:      []string{"name"},
				MeaningfulFields: []string{"version", "status"},
				Title:            "Cartridge awaiting installation approval",
			},
			Actionable: true,
		},
		{
			Event:             EventInstallationReviewed,
			Level:             types.LevelOperational,
			Domain:            "cartridge",
			Visibility:        types.VisibilityLocal,
			IdempotencyFields: []string{"name", "version", "decision"},
			Lifecycle: &types.Lifecycle{
				Group:            "cartridge_review",
				GroupFields:      []string{"name"},
				MeaningfulFields: []string{"version", "decision"},
				Title:            "Cartridge installation reviewed",
			},
		},
		{
			Event:             EventCartridgeInstalled,
			Level:             types.LevelOperational,
			Domain:            "cartridge",
			Visibility:        types.VisibilityLocal,
			IdempotencyFields: []string{"name", "version"},
			Lifecycle: &types.Lifecycle{
				Group:            "cartridge_install",
				GroupFields:      []string{"name"},
				MeaningfulFields: []string{"version", "status"},
				Title:            "Cartridge installed",
			},
		},
		{
			Event:             EventInstallationRejected,
			Level:             types.LevelOperational,
			Domain:            "cartridge",
			Visibility:        types.VisibilityLocal,
			IdempotencyFields: []string{"name", "version"},
			Lifecycle: &types.Lifecycle{
				Group:            "cartridge_install",
				GroupFields:      []string{"name"},
				MeaningfulFields: []string{"version", "status"},
				Title:            "Cartridge installation rejected",
			},
		},
	}
}
