package mesh

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/eventflow/internal/ctxkeys"
)

// DefaultReadLimit 单条消息上限（cartridge.published 会携带源码）
const DefaultReadLimit = 4 << 20

// HandlerConfig 入站 WebSocket 配置
type HandlerConfig struct {
	Ingress *Ingress
	Tokens  *TokenManager
	// RateLimit 每个对等节点每秒消息数，<= 0 不限流
	RateLimit float64
	RateBurst int
	ReadLimit int64
}

// Handler 接受对等节点的 WebSocket 连接
type Handler struct {
	ingress   *Ingress
	tokens    *TokenManager
	limiters  *peerLimiters
	readLimit int64
	logger    *zap.Logger
}

// NewHandler 创建入站处理器
func NewHandler(cfg HandlerConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	return &Handler{
		ingress:   cfg.Ingress,
		tokens:    cfg.Tokens,
		limiters:  newPeerLimiters(cfg.RateLimit, cfg.RateBurst),
		readLimit: cfg.ReadLimit,
		logger:    logger.With(zap.String("component", "mesh_handler")),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		http.Error(w, "missing or malformed Authorization header", http.StatusUnauthorized)
		return
	}
	claims, err := h.tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		h.logger.Debug("peer token rejected", zap.Error(err))
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}
	peer := PeerInfo{ID: claims.Subject, Cluster: claims.Cluster}

	// 长连接不受服务器读写超时约束
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.String("peer", peer.ID), zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.readLimit)

	h.logger.Info("peer connected", zap.String("peer", peer.ID), zap.String("cluster", peer.Cluster))
	ctx := ctxkeys.WithPeer(r.Context(), peer.ID, peer.Cluster)
	h.serve(ctx, conn, peer)
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, peer PeerInfo) {
	limiter := h.limiters.get(peer.ID)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				h.logger.Debug("peer disconnected", zap.String("peer", peer.ID))
			} else {
				h.logger.Warn("peer read failed", zap.String("peer", peer.ID), zap.Error(err))
			}
			return
		}

		if !limiter.Allow() {
			h.ingress.metrics.RecordMeshReceived("rate_limited")
			h.logger.Warn("peer rate limit exceeded, message dropped", zap.String("peer", peer.ID))
			continue
		}

		if _, err := h.ingress.Receive(ctx, peer, data); err != nil {
			h.logger.Warn("peer envelope not processed", zap.String("peer", peer.ID), zap.Error(err))
		}
	}
}

// peerLimiters 每个对等节点一个令牌桶
type peerLimiters struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newPeerLimiters(rps float64, burst int) *peerLimiters {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &peerLimiters{limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (p *peerLimiters) get(peerID string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[peerID]
	if !ok {
		l = rate.NewLimiter(p.limit, p.burst)
		p.limiters[peerID] = l
	}
	return l
}
