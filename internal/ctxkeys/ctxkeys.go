package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey   contextKey = "request_id"
	peerIDKey      contextKey = "peer_id"
	peerClusterKey contextKey = "peer_cluster"
)

// WithRequestID 设置 HTTP 请求 ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 获取 HTTP 请求 ID
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithPeer 设置已认证的对等节点身份
func WithPeer(ctx context.Context, peerID, cluster string) context.Context {
	ctx = context.WithValue(ctx, peerIDKey, peerID)
	return context.WithValue(ctx, peerClusterKey, cluster)
}

// PeerID 获取对等节点 ID
func PeerID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(peerIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// PeerCluster 获取对等节点所属集群，可能为空
func PeerCluster(ctx context.Context) string {
	v, _ := ctx.Value(peerClusterKey).(string)
	return v
}
