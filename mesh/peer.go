package mesh

import (
	"context"
	"sync"

	"github.com/BaSui01/eventflow/types"
)

// PeerInfo 对等节点
type PeerInfo struct {
	ID      string `json:"id"`
	Cluster string `json:"cluster,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Discovery 返回当前可见的对等节点
type Discovery interface {
	Peers(ctx context.Context) ([]PeerInfo, error)
}

// Transport 向单个对等节点发送一条已编码的消息
type Transport interface {
	Send(ctx context.Context, peer PeerInfo, data []byte) error
}

// StaticDiscovery 固定的对等节点列表，可在运行时替换。
type StaticDiscovery struct {
	mu    sync.RWMutex
	peers []PeerInfo
}

// NewStaticDiscovery 创建静态发现
func NewStaticDiscovery(peers ...PeerInfo) *StaticDiscovery {
	d := &StaticDiscovery{}
	d.Set(peers)
	return d
}

// Peers implements Discovery.
func (d *StaticDiscovery) Peers(context.Context) ([]PeerInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]PeerInfo(nil), d.peers...), nil
}

// Set 替换对等节点列表
func (d *StaticDiscovery) Set(peers []PeerInfo) {
	d.mu.Lock()
	d.peers = append([]PeerInfo(nil), peers...)
	d.mu.Unlock()
}

// Recipients 按可见性选择接收者，排除自身并按 ID 去重。
// CLUSTER 要求本地集群非空，且只选择同一集群的节点。
func Recipients(peers []PeerInfo, visibility types.Visibility, selfID, cluster string) []PeerInfo {
	if visibility != types.VisibilityCluster && visibility != types.VisibilityPublic {
		return nil
	}
	if visibility == types.VisibilityCluster && cluster == "" {
		return nil
	}

	out := make([]PeerInfo, 0, len(peers))
	seen := make(map[string]struct{}, len(peers))
	for _, p := range peers {
		if p.ID == "" || p.ID == selfID {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		if visibility == types.VisibilityCluster && p.Cluster != cluster {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}
