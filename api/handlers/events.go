package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/eventflow/node"
	"github.com/BaSui01/eventflow/pipeline"
	"github.com/BaSui01/eventflow/types"
)

// =============================================================================
// 📨 事件提交 Handler
// =============================================================================

// EventSubmitter 节点的提交入口
type EventSubmitter interface {
	Submit(ctx context.Context, env *types.EventEnvelope) error
	Process(ctx context.Context, env *types.EventEnvelope) (*pipeline.RunReport, error)
}

// EventRequest 提交请求体。timestamp 缺省为受理时间。
type EventRequest struct {
	ID         string           `json:"id,omitempty"`
	Event      string           `json:"event"`
	Source     string           `json:"source"`
	Level      types.Level      `json:"level"`
	Domain     string           `json:"domain"`
	Entity     string           `json:"entity,omitempty"`
	Visibility types.Visibility `json:"visibility,omitempty"`
	Payload    map[string]any   `json:"payload,omitempty"`
	Timestamp  *time.Time       `json:"timestamp,omitempty"`
}

// Envelope converts the request into a pipeline envelope.
func (req *EventRequest) Envelope() *types.EventEnvelope {
	env := &types.EventEnvelope{
		ID:         req.ID,
		Event:      req.Event,
		Source:     req.Source,
		Level:      req.Level,
		Domain:     req.Domain,
		Entity:     req.Entity,
		Visibility: req.Visibility,
		Payload:    req.Payload,
	}
	if req.Timestamp != nil {
		env.Timestamp = req.Timestamp.UTC()
	}
	return env
}

// EventAccepted 异步受理响应
type EventAccepted struct {
	ID string `json:"id"`
}

// EventHandler 处理 POST /api/v1/events
type EventHandler struct {
	submitter EventSubmitter
	logger    *zap.Logger
}

// NewEventHandler 创建事件提交处理器
func NewEventHandler(submitter EventSubmitter, logger *zap.Logger) *EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandler{
		submitter: submitter,
		logger:    logger.With(zap.String("component", "events_api")),
	}
}

// Register 注册路由
func (h *EventHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/events", h.HandleSubmit)
}

// HandleSubmit 受理一个信封。默认异步返回 202；?wait=true 时同步运行并返回运行报告。
func (h *EventHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req EventRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	env := req.Envelope()

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if wait {
		report, err := h.submitter.Process(r.Context(), env)
		if err != nil {
			h.writeSubmitError(w, r, err)
			return
		}
		WriteSuccess(w, r, report)
		return
	}

	if err := h.submitter.Submit(r.Context(), env); err != nil {
		h.writeSubmitError(w, r, err)
		return
	}
	WriteStatus(w, r, http.StatusAccepted, EventAccepted{ID: env.ID})
}

func (h *EventHandler) writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *types.Error
	switch {
	case errors.Is(err, node.ErrInvalidEnvelope):
		apiErr = types.NewError(types.ErrInvalidRequest, err.Error())
	case errors.Is(err, pipeline.ErrQueueFull):
		apiErr = types.NewError(types.ErrServiceUnavailable, "pipeline queue is full").
			WithCause(err).WithRetryable(true)
	case errors.Is(err, pipeline.ErrRuntimeClosed):
		apiErr = types.NewError(types.ErrPipelineClosed, "node is shutting down").WithCause(err)
	default:
		apiErr = types.NewError(types.ErrInternalError, "failed to submit event").WithCause(err)
	}
	WriteError(w, r, apiErr, h.logger)
}
