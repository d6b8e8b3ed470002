package handlers

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/eventflow/store"
	"github.com/BaSui01/eventflow/types"
)

// =============================================================================
// 🔔 通知读取面
// =============================================================================

// NotificationView 通知的 API 表示，content 与 result 已解码
type NotificationView struct {
	ID         string         `json:"id"`
	EventType  string         `json:"event_type"`
	Entity     string         `json:"entity,omitempty"`
	Source     string         `json:"source"`
	Level      string         `json:"level"`
	Domain     string         `json:"domain"`
	Title      string         `json:"title,omitempty"`
	Actionable bool           `json:"actionable"`
	SeenState  string         `json:"seen_state"`
	ClaimState string         `json:"claim_state"`
	ClaimedBy  string         `json:"claimed_by,omitempty"`
	Content    map[string]any `json:"content,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Revision   int            `json:"revision"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

func toNotificationView(n *store.Notification) NotificationView {
	v := NotificationView{
		ID:         n.ID,
		EventType:  n.EventType,
		Entity:     n.Entity,
		Source:     n.Source,
		Level:      n.Level,
		Domain:     n.Domain,
		Title:      n.Title,
		Actionable: n.Actionable,
		SeenState:  n.SeenState,
		ClaimState: n.ClaimState,
		ClaimedBy:  n.ClaimedBy,
		Revision:   n.Revision,
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
		ResolvedAt: n.ResolvedAt,
	}
	if content, err := n.DecodeContent(); err == nil {
		v.Content = content
	}
	if n.Result != "" {
		if result, err := n.DecodeResult(); err == nil {
			v.Result = result
		}
	}
	return v
}

// NotificationList 列表响应
type NotificationList struct {
	Items  []NotificationView `json:"items"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// ClaimRequest 认领请求
type ClaimRequest struct {
	Claimant string `json:"claimant"`
}

// ResolveRequest 解决请求，result 原样写入通知行
type ResolveRequest struct {
	Result map[string]any `json:"result"`
}

// NotificationHandler 通知读取与状态变更
type NotificationHandler struct {
	store  *store.Store
	logger *zap.Logger
}

// NewNotificationHandler 创建通知处理器
func NewNotificationHandler(st *store.Store, logger *zap.Logger) *NotificationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationHandler{
		store:  st,
		logger: logger.With(zap.String("component", "notifications_api")),
	}
}

// Register 注册路由
func (h *NotificationHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/notifications", h.HandleList)
	mux.HandleFunc("GET /api/v1/notifications/{id}", h.HandleGet)
	mux.HandleFunc("POST /api/v1/notifications/{id}/seen", h.HandleSeen)
	mux.HandleFunc("POST /api/v1/notifications/{id}/claim", h.HandleClaim)
	mux.HandleFunc("POST /api/v1/notifications/{id}/progress", h.HandleProgress)
	mux.HandleFunc("POST /api/v1/notifications/{id}/resolve", h.HandleResolve)
}

// HandleList 按状态过滤列出通知
//
// 查询参数：seen（unseen/seen）、claim（unclaimed/claimed/in_progress/resolved）、
// event、entity、actionable、limit、offset。
func (h *NotificationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.NotificationFilter{
		SeenState:  q.Get("seen"),
		ClaimState: q.Get("claim"),
		EventType:  q.Get("event"),
		Entity:     q.Get("entity"),
		Actionable: queryBool(r, "actionable"),
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	}
	if !validState(filter.SeenState, store.SeenStateUnseen, store.SeenStateSeen) {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "invalid seen filter", h.logger)
		return
	}
	if !validState(filter.ClaimState, store.ClaimStateUnclaimed, store.ClaimStateClaimed,
		store.ClaimStateInProgress, store.ClaimStateResolved) {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "invalid claim filter", h.logger)
		return
	}

	rows, err := h.store.ListNotifications(r.Context(), filter)
	if err != nil {
		WriteStoreError(w, r, err, h.logger)
		return
	}
	items := make([]NotificationView, 0, len(rows))
	for i := range rows {
		items = append(items, toNotificationView(&rows[i]))
	}
	WriteSuccess(w, r, NotificationList{Items: items, Limit: filter.Limit, Offset: filter.Offset})
}

// HandleGet 读取单条通知
func (h *NotificationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.GetNotification(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteStoreError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, toNotificationView(n))
}

// HandleSeen 标记已读
func (h *NotificationHandler) HandleSeen(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(id string) error { return h.store.MarkSeen(r.Context(), id) })
}

// HandleClaim 认领
func (h *NotificationHandler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Claimant) == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "claimant is required", h.logger)
		return
	}
	h.mutate(w, r, func(id string) error { return h.store.Claim(r.Context(), id, req.Claimant) })
}

// HandleProgress 开始处理
func (h *NotificationHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(id string) error { return h.store.StartProgress(r.Context(), id) })
}

// HandleResolve 附加结果并进入终态
func (h *NotificationHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	h.mutate(w, r, func(id string) error { return h.store.Resolve(r.Context(), id, req.Result) })
}

// mutate 执行状态变更并返回变更后的通知
func (h *NotificationHandler) mutate(w http.ResponseWriter, r *http.Request, fn func(id string) error) {
	id := r.PathValue("id")
	if err := fn(id); err != nil {
		WriteStoreError(w, r, err, h.logger)
		return
	}
	n, err := h.store.GetNotification(r.Context(), id)
	if err != nil {
		WriteStoreError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, toNotificationView(n))
}

func validState(v string, allowed ...string) bool {
	if v == "" {
		return true
	}
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
