package mesh

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/eventflow/internal/tlsutil"
)

// WSTransport 通过 WebSocket 向对等节点发送消息。
// 每个对等节点一条长连接，写操作按节点串行，不同节点互不阻塞。
type WSTransport struct {
	nodeID  string
	cluster string
	tokens  *TokenManager
	client  *http.Client
	logger  *zap.Logger

	mu     sync.Mutex
	conns  map[string]*peerConn
	closed bool
}

type peerConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSTransport 创建 WebSocket 传输
func NewWSTransport(nodeID, cluster string, tokens *TokenManager, logger *zap.Logger) *WSTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSTransport{
		nodeID:  nodeID,
		cluster: cluster,
		tokens:  tokens,
		client:  &http.Client{Transport: tlsutil.WebSocketTransport(10 * time.Second)},
		logger:  logger.With(zap.String("component", "mesh_transport")),
		conns:   make(map[string]*peerConn),
	}
}

// Send implements Transport.
func (t *WSTransport) Send(ctx context.Context, peer PeerInfo, data []byte) error {
	pc, err := t.peer(peer.ID)
	if err != nil {
		return err
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.conn == nil {
		conn, err := t.dial(ctx, peer)
		if err != nil {
			return err
		}
		pc.conn = conn
	}

	if err := pc.conn.Write(ctx, websocket.MessageText, data); err != nil {
		// 连接已不可用，下次发送重新拨号
		_ = pc.conn.CloseNow()
		pc.conn = nil
		return fmt.Errorf("websocket write to %s: %w", peer.ID, err)
	}
	return nil
}

func (t *WSTransport) peer(id string) (*peerConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("mesh transport closed")
	}
	pc, ok := t.conns[id]
	if !ok {
		pc = &peerConn{}
		t.conns[id] = pc
	}
	return pc, nil
}

func (t *WSTransport) dial(ctx context.Context, peer PeerInfo) (*websocket.Conn, error) {
	if peer.URL == "" {
		return nil, fmt.Errorf("peer %s has no url", peer.ID)
	}
	token, err := t.tokens.Issue(t.nodeID, t.cluster)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := websocket.Dial(ctx, peer.URL, &websocket.DialOptions{
		HTTPClient: t.client,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", peer.ID, err)
	}
	// 只写不读；CloseRead 负责处理控制帧
	conn.CloseRead(context.Background())

	t.logger.Info("connected to peer", zap.String("peer", peer.ID), zap.String("url", peer.URL))
	return conn, nil
}

// Close 关闭所有连接
func (t *WSTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	conns := t.conns
	t.conns = make(map[string]*peerConn)
	t.mu.Unlock()

	for id, pc := range conns {
		pc.mu.Lock()
		if pc.conn != nil {
			if err := pc.conn.Close(websocket.StatusNormalClosure, "shutdown"); err != nil {
				t.logger.Debug("close peer connection", zap.String("peer", id), zap.Error(err))
			}
			pc.conn = nil
		}
		pc.mu.Unlock()
	}
	return nil
}
