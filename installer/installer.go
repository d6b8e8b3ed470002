// Package installer gates the activation of cartridges published by peers.
//
// Every first-time cartridge.published envelope from another node is staged.
// What happens next depends on the configured autonomy level:
//
//	L1  stage as pending and ask a human (cartridge.installation_pending)
//	L2  ask a Decider; accept activates, reject records the refusal,
//	    defer falls back to L1. The outcome is reported informationally.
//	L3  stage and activate immediately (cartridge.installed)
//
// Staging and activation are separate steps at every level. Code is only
// bound to entry points registered in the local pipeline.Registry.
package installer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/eventflow/catalog"
	"github.com/BaSui01/eventflow/pipeline"
	"github.com/BaSui01/eventflow/store"
	"github.com/BaSui01/eventflow/types"
)

// Name 是 installer cartridge 的名称，也是其合成信封的 source。
const Name = "installer"

// Autonomy 自主级别
type Autonomy string

const (
	L1 Autonomy = "L1"
	L2 Autonomy = "L2"
	L3 Autonomy = "L3"
)

// ParseAutonomy 解析自主级别，空值视为 L1
func ParseAutonomy(s string) (Autonomy, error) {
	switch Autonomy(strings.ToUpper(strings.TrimSpace(s))) {
	case L1, "":
		return L1, nil
	case L2:
		return L2, nil
	case L3:
		return L3, nil
	}
	return "", fmt.Errorf("unknown autonomy level %q", s)
}

var (
	// ErrNotStaged 没有找到可操作的暂存版本
	ErrNotStaged = errors.New("cartridge not staged")
	// ErrNotBound 安装器尚未绑定运行时
	ErrNotBound = errors.New("installer is not bound to a runtime")
	// ErrBuiltinName 与内置阶段同名
	ErrBuiltinName = errors.New("cartridge name collides with a builtin stage")
	// ErrInvalidPublication 发布信封缺少必需字段
	ErrInvalidPublication = errors.New("invalid cartridge publication")
)

// Runtime 安装器需要的运行时能力
type Runtime interface {
	Activate(c pipeline.Cartridge) error
	Deactivate(name string) bool
	Builtin(name string) bool
	Emit(ctx context.Context, env *types.EventEnvelope) error
}

// Config 安装器配置
type Config struct {
	Autonomy Autonomy
	Decider  Decider
	Registry *pipeline.Registry
	Store    *store.Store
	Now      func() time.Time
}

// Installer 主权门控安装器
type Installer struct {
	autonomy Autonomy
	decider  Decider
	registry *pipeline.Registry
	store    *store.Store
	now      func() time.Time
	logger   *zap.Logger

	rt Runtime
}

// New 创建安装器。运行时创建后需调用 Bind。
func New(cfg Config, logger *zap.Logger) *Installer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Autonomy == "" {
		cfg.Autonomy = L1
	}
	if cfg.Decider == nil {
		cfg.Decider = DeferDecider{}
	}
	if cfg.Registry == nil {
		cfg.Registry = pipeline.NewRegistry()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Installer{
		autonomy: cfg.Autonomy,
		decider:  cfg.Decider,
		registry: cfg.Registry,
		store:    cfg.Store,
		now:      cfg.Now,
		logger:   logger.With(zap.String("component", "installer")),
	}
}

// Bind 绑定运行时（安装器本身是运行时链中的一个阶段）
func (i *Installer) Bind(rt Runtime) { i.rt = rt }

// Name implements pipeline.Cartridge.
func (i *Installer) Name() string { return Name }

// Autonomy returns the configured level.
func (i *Installer) Autonomy() Autonomy { return i.autonomy }

// =============================================================================
// 📦 发布处理
// =============================================================================

// Process implements pipeline.Cartridge.
func (i *Installer) Process(ctx context.Context, env *types.EventEnvelope, pctx *pipeline.Context) pipeline.Result {
	if env.Event != catalog.EventCartridgePublished || i.store == nil {
		return pipeline.Pass(env)
	}
	// 本节点发布的 cartridge 不安装
	if !env.IsRemote(pctx.NodeID) {
		return pipeline.Pass(env)
	}

	spec, err := SpecFromEnvelope(env)
	if err != nil {
		i.logger.Warn("ignoring cartridge publication", zap.String("origin", env.Origin), zap.Error(err))
		return pipeline.Pass(env)
	}

	if _, err := i.store.GetStaged(ctx, spec.Name, spec.Version); err == nil {
		return pipeline.Pass(env)
	} else if !errors.Is(err, store.ErrNotFound) {
		return pipeline.Fault(err)
	}

	// 被 trust 标记的发布者不享有自主安装权限，一律等待人工审批
	flags := env.TrustFlags()
	level := i.autonomy
	if len(flags) > 0 && level != L1 {
		i.logger.Warn("flagged publication downgraded to manual approval",
			zap.String("name", spec.Name),
			zap.String("origin", env.Origin),
			zap.Strings("trust_flags", flags),
			zap.String("configured_autonomy", string(level)),
		)
		level = L1
	}

	switch level {
	case L3:
		err = i.installL3(ctx, spec, env.Origin, pctx)
	case L2:
		err = i.installL2(ctx, spec, env.Origin, pctx)
	default:
		_, err = i.stageL1(ctx, spec, env.Origin, L1, flags, pctx)
	}
	if err != nil {
		return pipeline.Fault(err)
	}
	return pipeline.Pass(env)
}

// stageL1 暂存为 pending 并请求人工审批。已存在时返回 nil。
func (i *Installer) stageL1(ctx context.Context, spec pipeline.CartridgeSpec, publisher string, level Autonomy, flags []string, em pipeline.Emitter) (*store.StagedCartridge, error) {
	row, created, err := i.stage(ctx, spec, publisher, level)
	if err != nil || !created {
		return nil, err
	}
	i.logger.Info("cartridge staged, awaiting approval",
		zap.String("name", spec.Name),
		zap.String("version", spec.Version),
		zap.String("publisher", publisher),
	)
	var extra map[string]any
	if len(flags) > 0 {
		extra = map[string]any{"trust_flags": flags}
	}
	i.emit(ctx, em, catalog.EventInstallationPending, row, extra)
	return row, nil
}

func (i *Installer) installL2(ctx context.Context, spec pipeline.CartridgeSpec, publisher string, em pipeline.Emitter) error {
	decision, err := i.decider.Decide(ctx, spec, publisher)
	if err != nil {
		i.logger.Warn("decider failed, deferring to human", zap.String("name", spec.Name), zap.Error(err))
		decision = Decision{Verdict: VerdictDefer, Reason: err.Error()}
	}

	var row *store.StagedCartridge
	switch decision.Verdict {
	case VerdictAccept:
		var created bool
		row, created, err = i.stage(ctx, spec, publisher, L2)
		if err != nil || !created {
			return err
		}
		if _, err := i.activate(ctx, row, em); err != nil {
			i.logger.Warn("accepted cartridge failed to activate", zap.String("name", spec.Name), zap.Error(err))
		}

	case VerdictReject:
		var created bool
		row, created, err = i.stage(ctx, spec, publisher, L2)
		if err != nil || !created {
			return err
		}
		if err := i.store.TransitionStaged(ctx, row.ID, []string{store.StagedStatusPending}, store.StagedStatusRejected, decision.Reason); err != nil {
			return err
		}
		row.Status = store.StagedStatusRejected
		row.Reason = decision.Reason

	default:
		row, err = i.stageL1(ctx, spec, publisher, L2, nil, em)
		if err != nil || row == nil {
			return err
		}
	}

	// 决策结果只作为知会通知
	i.emit(ctx, em, catalog.EventInstallationReviewed, row, map[string]any{
		"decision": string(decision.Verdict),
		"reason":   decision.Reason,
	})
	return nil
}

func (i *Installer) installL3(ctx context.Context, spec pipeline.CartridgeSpec, publisher string, em pipeline.Emitter) error {
	row, created, err := i.stage(ctx, spec, publisher, L3)
	if err != nil || !created {
		return err
	}
	if _, err := i.activate(ctx, row, em); err != nil {
		i.logger.Warn("cartridge failed to activate", zap.String("name", spec.Name), zap.Error(err))
	}
	return nil
}

func (i *Installer) stage(ctx context.Context, spec pipeline.CartridgeSpec, publisher string, level Autonomy) (*store.StagedCartridge, bool, error) {
	deps, err := json.Marshal(spec.Dependencies)
	if err != nil {
		return nil, false, err
	}
	row := &store.StagedCartridge{
		Name:         spec.Name,
		Version:      spec.Version,
		Publisher:    publisher,
		EntryPoint:   spec.EntryPoint,
		SourceCode:   spec.Source,
		Dependencies: string(deps),
		Status:       store.StagedStatusPending,
		Autonomy:     string(level),
	}
	created, err := i.store.StageCartridge(ctx, row)
	if err != nil {
		return nil, false, err
	}
	return row, created, nil
}

// =============================================================================
// 🔑 显式管理操作
// =============================================================================

// Activate 激活一个暂存版本；version 为空时选择最新的 pending 版本。
// 同名的已激活版本会被替换。
func (i *Installer) Activate(ctx context.Context, name, version string) (*store.StagedCartridge, error) {
	if i.rt == nil {
		return nil, ErrNotBound
	}
	row, err := i.find(ctx, name, version, store.StagedStatusPending)
	if err != nil {
		return nil, err
	}
	return i.activate(ctx, row, i.rt)
}

// Reject 拒绝一个 pending 版本
func (i *Installer) Reject(ctx context.Context, name, version, reason string) (*store.StagedCartridge, error) {
	row, err := i.find(ctx, name, version, store.StagedStatusPending)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "rejected by operator"
	}
	if err := i.store.TransitionStaged(ctx, row.ID, []string{store.StagedStatusPending}, store.StagedStatusRejected, reason); err != nil {
		return nil, err
	}
	row.Status = store.StagedStatusRejected
	row.Reason = reason

	i.logger.Info("cartridge rejected", zap.String("name", row.Name), zap.String("version", row.Version))
	if i.rt != nil {
		i.emit(ctx, i.rt, catalog.EventInstallationRejected, row, map[string]any{"reason": reason})
	}
	return row, nil
}

// Restore 启动时重新激活上次处于 active 的版本
func (i *Installer) Restore(ctx context.Context) (int, error) {
	if i.rt == nil {
		return 0, ErrNotBound
	}
	rows, err := i.store.ListStaged(ctx, store.StagedStatusActive)
	if err != nil {
		return 0, err
	}

	restored := 0
	for idx := range rows {
		row := &rows[idx]
		c, err := i.registry.Build(specFromRow(row))
		if err == nil {
			err = i.rt.Activate(c)
		}
		if err != nil {
			i.logger.Error("failed to restore cartridge",
				zap.String("name", row.Name),
				zap.String("version", row.Version),
				zap.Error(err),
			)
			_ = i.store.TransitionStaged(ctx, row.ID, []string{store.StagedStatusActive}, store.StagedStatusFailed, err.Error())
			continue
		}
		restored++
	}
	return restored, nil
}

func (i *Installer) find(ctx context.Context, name, version, status string) (*store.StagedCartridge, error) {
	if i.store == nil {
		return nil, ErrNotStaged
	}
	var (
		row *store.StagedCartridge
		err error
	)
	if version == "" {
		row, err = i.store.LatestStaged(ctx, name, status)
	} else {
		row, err = i.store.GetStaged(ctx, name, version)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotStaged, name, version)
	}
	return row, err
}

// activate 构造并插入扩展槽，然后把暂存行标记为 active。
func (i *Installer) activate(ctx context.Context, row *store.StagedCartridge, em pipeline.Emitter) (*store.StagedCartridge, error) {
	if i.rt == nil {
		return nil, ErrNotBound
	}
	if row.Status != store.StagedStatusPending && row.Status != store.StagedStatusSuperseded {
		return nil, fmt.Errorf("%w: cartridge %s@%s is %s", store.ErrInvalidTransition, row.Name, row.Version, row.Status)
	}
	if i.rt.Builtin(row.Name) {
		return nil, i.fail(ctx, row, em, fmt.Errorf("%w: %s", ErrBuiltinName, row.Name))
	}

	c, err := i.registry.Build(specFromRow(row))
	if err != nil {
		return nil, i.fail(ctx, row, em, err)
	}

	replaced := i.rt.Deactivate(row.Name)
	if err := i.rt.Activate(c); err != nil {
		return nil, i.fail(ctx, row, em, err)
	}
	if err := i.store.TransitionStaged(ctx, row.ID,
		[]string{store.StagedStatusPending, store.StagedStatusSuperseded}, store.StagedStatusActive, ""); err != nil {
		i.rt.Deactivate(row.Name)
		return nil, err
	}
	row.Status = store.StagedStatusActive

	i.logger.Info("cartridge activated",
		zap.String("name", row.Name),
		zap.String("version", row.Version),
		zap.Bool("replaced", replaced),
	)
	i.emit(ctx, em, catalog.EventCartridgeInstalled, row, nil)
	return row, nil
}

// fail 标记为 failed 并通知；返回原始错误。
func (i *Installer) fail(ctx context.Context, row *store.StagedCartridge, em pipeline.Emitter, cause error) error {
	if err := i.store.TransitionStaged(ctx, row.ID,
		[]string{store.StagedStatusPending, store.StagedStatusSuperseded}, store.StagedStatusFailed, cause.Error()); err != nil {
		i.logger.Warn("failed to mark cartridge failed", zap.String("name", row.Name), zap.Error(err))
	}
	row.Status = store.StagedStatusFailed
	row.Reason = cause.Error()
	i.emit(ctx, em, catalog.EventInstallationRejected, row, map[string]any{"reason": cause.Error()})
	return cause
}

func (i *Installer) emit(ctx context.Context, em pipeline.Emitter, event string, row *store.StagedCartridge, extra map[string]any) {
	if em == nil {
		return
	}
	env := types.NewEnvelope(event, Name)
	env.Level = types.LevelOperational
	env.Domain = "cartridge"
	env.Visibility = types.VisibilityLocal
	env.Timestamp = i.now().UTC()
	env.Payload["name"] = row.Name
	env.Payload["version"] = row.Version
	env.Payload["publisher"] = row.Publisher
	env.Payload["entry_point"] = row.EntryPoint
	env.Payload["status"] = row.Status
	env.Payload["autonomy"] = row.Autonomy
	for k, v := range extra {
		env.Payload[k] = v
	}
	if err := em.Emit(ctx, env); err != nil {
		i.logger.Warn("failed to emit installer event", zap.String("event", event), zap.Error(err))
	}
}

// =============================================================================
// 🔍 解析
// =============================================================================

// SpecFromEnvelope 从 cartridge.published 信封中读取发布内容
func SpecFromEnvelope(env *types.EventEnvelope) (pipeline.CartridgeSpec, error) {
	spec := pipeline.CartridgeSpec{
		Name:       env.StringField("name"),
		Version:    env.StringField("version"),
		EntryPoint: env.StringField("entry_point"),
		Source:     env.StringField("source"),
	}
	switch deps := env.Payload["dependencies"].(type) {
	case []string:
		spec.Dependencies = append(spec.Dependencies, deps...)
	case []any:
		for _, d := range deps {
			if s, ok := d.(string); ok {
				spec.Dependencies = append(spec.Dependencies, s)
			}
		}
	}

	var missing []string
	if spec.Name == "" {
		missing = append(missing, "name")
	}
	if spec.Version == "" {
		missing = append(missing, "version")
	}
	if spec.EntryPoint == "" {
		missing = append(missing, "entry_point")
	}
	if len(missing) > 0 {
		return spec, fmt.Errorf("%w: missing %s", ErrInvalidPublication, strings.Join(missing, ", "))
	}
	return spec, nil
}

func specFromRow(row *store.StagedCartridge) pipeline.CartridgeSpec {
	var deps []string
	_ = json.Unmarshal([]byte(row.Dependencies), &deps)
	return pipeline.CartridgeSpec{
		Name:         row.Name,
		Version:      row.Version,
		EntryPoint:   row.EntryPoint,
		Source:       row.SourceCode,
		Dependencies: deps,
	}
}
