package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/eventflow/types"
)

// CartridgeSpec 描述一个待构造的扩展 cartridge（通常来自已暂存的远程发布）。
type CartridgeSpec struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	EntryPoint   string   `json:"entry_point"`
	Source       string   `json:"-"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Factory 根据规格构造 cartridge
type Factory func(spec CartridgeSpec) (Cartridge, error)

// Registry 入口点 → 工厂。远程发布的代码只能绑定到本地已注册的入口点。
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register 注册入口点
func (r *Registry) Register(entryPoint string, f Factory) error {
	if entryPoint == "" || f == nil {
		return fmt.Errorf("entry point and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[entryPoint]; exists {
		return fmt.Errorf("entry point %q already registered", entryPoint)
	}
	r.factories[entryPoint] = f
	return nil
}

// Build 构造 cartridge。未知入口点返回 ErrUnknownEntryPoint 错误码。
func (r *Registry) Build(spec CartridgeSpec) (Cartridge, error) {
	r.mu.RLock()
	f, ok := r.factories[spec.EntryPoint]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.ErrUnknownEntryPoint,
			fmt.Sprintf("no factory registered for entry point %q", spec.EntryPoint))
	}
	c, err := f(spec)
	if err != nil {
		return nil, fmt.Errorf("build cartridge %s@%s: %w", spec.Name, spec.Version, err)
	}
	return c, nil
}

// EntryPoints 返回已注册的入口点（排序）
func (r *Registry) EntryPoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// 🏷️ 内置扩展
// =============================================================================

// EntryPointTagger 内置入口点：为信封追加标签
const EntryPointTagger = "eventflow.tagger"

// PayloadTags 标签写入的保留键
const PayloadTags = "_tags"

// TaggerFactory 构造一个把自身名称（或 Context.Settings[name]["tag"]）
// 追加到 payload["_tags"] 的 cartridge。
func TaggerFactory(spec CartridgeSpec) (Cartridge, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("tagger requires a name")
	}
	name := spec.Name
	return Func(name, func(_ context.Context, env *types.EventEnvelope, pctx *Context) Result {
		tag := name
		if v, ok := pctx.Setting(name, "tag"); ok {
			if s, ok := v.(string); ok && s != "" {
				tag = s
			}
		}
		var tags []string
		switch existing := env.Payload[PayloadTags].(type) {
		case []string:
			tags = append(tags, existing...)
		case []any:
			for _, t := range existing {
				if s, ok := t.(string); ok {
					tags = append(tags, s)
				}
			}
		}
		env.Payload[PayloadTags] = append(tags, tag)
		return Pass(env)
	}), nil
}
