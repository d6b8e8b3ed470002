package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/eventflow/store"
)

// QuarantineView 隔离记录的 API 表示
type QuarantineView struct {
	ID         string          `json:"id"`
	EnvelopeID string          `json:"envelope_id"`
	EventType  string          `json:"event_type"`
	Source     string          `json:"source"`
	Origin     string          `json:"origin,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
	Flags      []string        `json:"flags"`
	Reviewed   bool            `json:"reviewed"`
	ReviewedAt *time.Time      `json:"reviewed_at,omitempty"`
	Envelope   json.RawMessage `json:"envelope,omitempty"`
}

func toQuarantineView(q *store.QuarantinedEvent) QuarantineView {
	v := QuarantineView{
		ID:         q.ID,
		EnvelopeID: q.EnvelopeID,
		EventType:  q.EventType,
		Source:     q.Source,
		Origin:     q.Origin,
		ReceivedAt: q.ReceivedAt,
		Flags:      q.DecodeFlags(),
		Reviewed:   q.Reviewed,
		ReviewedAt: q.ReviewedAt,
	}
	if json.Valid([]byte(q.Envelope)) {
		v.Envelope = json.RawMessage(q.Envelope)
	}
	return v
}

// QuarantineHandler 隔离积压的审阅接口
type QuarantineHandler struct {
	store  *store.Store
	logger *zap.Logger
}

// NewQuarantineHandler 创建隔离审阅处理器
func NewQuarantineHandler(st *store.Store, logger *zap.Logger) *QuarantineHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuarantineHandler{
		store:  st,
		logger: logger.With(zap.String("component", "quarantine_api")),
	}
}

// Register 注册路由
func (h *QuarantineHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/quarantine", h.HandleList)
	mux.HandleFunc("POST /api/v1/quarantine/{id}/review", h.HandleReview)
}

// HandleList 列出隔离记录（最早的在前），?reviewed=false 只看未审阅的
func (h *QuarantineHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.ListQuarantined(r.Context(), store.QuarantineFilter{
		Reviewed: queryBool(r, "reviewed"),
		Limit:    queryInt(r, "limit", 50),
		Offset:   queryInt(r, "offset", 0),
	})
	if err != nil {
		WriteStoreError(w, r, err, h.logger)
		return
	}
	items := make([]QuarantineView, 0, len(rows))
	for i := range rows {
		items = append(items, toQuarantineView(&rows[i]))
	}
	WriteSuccess(w, r, items)
}

// HandleReview 标记已审阅
func (h *QuarantineHandler) HandleReview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.MarkReviewed(r.Context(), id); err != nil {
		WriteStoreError(w, r, err, h.logger)
		return
	}
	h.logger.Info("quarantined event reviewed", zap.String("id", id))
	WriteSuccess(w, r, map[string]any{"id": id, "reviewed": true})
}
