package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/eventflow/installer"
	"github.com/BaSui01/eventflow/store"
	"github.com/BaSui01/eventflow/types"
)

// =============================================================================
// 🧩 Cartridge 管理
// =============================================================================

// CartridgeManager 安装器的显式管理操作
type CartridgeManager interface {
	Activate(ctx context.Context, name, version string) (*store.StagedCartridge, error)
	Reject(ctx context.Context, name, version, reason string) (*store.StagedCartridge, error)
}

// ChainInspector 运行时链的只读视图
type ChainInspector interface {
	Chain() []string
	Builtin(name string) bool
}

// CartridgeInfo 链中的一个阶段及其调用计数
type CartridgeInfo struct {
	Name            string     `json:"name"`
	Builtin         bool       `json:"builtin"`
	InvocationCount int64      `json:"invocation_count"`
	LastInvokedAt   *time.Time `json:"last_invoked_at,omitempty"`
}

// CartridgeOverview GET /api/v1/cartridges 响应
type CartridgeOverview struct {
	Chain  []CartridgeInfo         `json:"chain"`
	Staged []store.StagedCartridge `json:"staged"`
}

// ActivateRequest 激活请求，version 为空时选择最新的 pending 版本
type ActivateRequest struct {
	Version string `json:"version,omitempty"`
}

// RejectRequest 拒绝请求
type RejectRequest struct {
	Version string `json:"version,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// CartridgeHandler 列出 cartridge 并处理激活/拒绝
type CartridgeHandler struct {
	store   *store.Store
	manager CartridgeManager
	chain   ChainInspector
	logger  *zap.Logger
}

// NewCartridgeHandler 创建 cartridge 管理处理器
func NewCartridgeHandler(st *store.Store, manager CartridgeManager, chain ChainInspector, logger *zap.Logger) *CartridgeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CartridgeHandler{
		store:   st,
		manager: manager,
		chain:   chain,
		logger:  logger.With(zap.String("component", "cartridges_api")),
	}
}

// Register 注册路由
func (h *CartridgeHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/cartridges", h.HandleList)
	mux.HandleFunc("POST /api/v1/cartridges/{name}/activate", h.HandleActivate)
	mux.HandleFunc("POST /api/v1/cartridges/{name}/reject", h.HandleReject)
}

// HandleList 返回当前链（含调用计数）与所有暂存版本。?status= 过滤暂存版本。
func (h *CartridgeHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.store.ListCartridgeStats(ctx)
	if err != nil {
		WriteStoreError(w, r, err, h.logger)
		return
	}
	byName := make(map[string]store.CartridgeStat, len(stats))
	for _, s := range stats {
		byName[s.CartridgeName] = s
	}

	chain := h.chain.Chain()
	infos := make([]CartridgeInfo, 0, len(chain))
	for _, name := range chain {
		info := CartridgeInfo{Name: name, Builtin: h.chain.Builtin(name)}
		if s, ok := byName[name]; ok {
			info.InvocationCount = s.InvocationCount
			last := s.LastInvokedAt
			info.LastInvokedAt = &last
		}
		infos = append(infos, info)
	}

	staged, err := h.store.ListStaged(ctx, r.URL.Query().Get("status"))
	if err != nil {
		WriteStoreError(w, r, err, h.logger)
		return
	}
	if staged == nil {
		staged = []store.StagedCartridge{}
	}
	WriteSuccess(w, r, CartridgeOverview{Chain: infos, Staged: staged})
}

// HandleActivate 显式激活一个暂存版本
func (h *CartridgeHandler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if r.ContentLength != 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}
	row, err := h.manager.Activate(r.Context(), r.PathValue("name"), req.Version)
	if err != nil {
		h.writeInstallerError(w, r, err)
		return
	}
	WriteSuccess(w, r, row)
}

// HandleReject 拒绝一个 pending 版本
func (h *CartridgeHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if r.ContentLength != 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}
	row, err := h.manager.Reject(r.Context(), r.PathValue("name"), req.Version, req.Reason)
	if err != nil {
		h.writeInstallerError(w, r, err)
		return
	}
	WriteSuccess(w, r, row)
}

func (h *CartridgeHandler) writeInstallerError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *types.Error
	switch {
	case errors.As(err, &apiErr):
	case errors.Is(err, installer.ErrNotStaged), errors.Is(err, store.ErrNotFound):
		apiErr = types.NewError(types.ErrNotFound, err.Error())
	case errors.Is(err, installer.ErrBuiltinName):
		apiErr = types.NewError(types.ErrConflict, err.Error())
	case errors.Is(err, store.ErrInvalidTransition):
		apiErr = types.NewError(types.ErrInvalidTransition, err.Error())
	case errors.Is(err, installer.ErrNotBound):
		apiErr = types.NewError(types.ErrServiceUnavailable, err.Error())
	default:
		apiErr = types.NewError(types.ErrInternalError, "cartridge operation failed").WithCause(err)
	}
	WriteError(w, r, apiErr, h.logger)
}
