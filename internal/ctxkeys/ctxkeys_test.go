package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPeer(t *testing.T) {
	ctx := WithPeer(context.Background(), "node-b", "eu")

	id, ok := PeerID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "node-b", id)
	assert.Equal(t, "eu", PeerCluster(ctx))

	_, ok = PeerID(context.Background())
	assert.False(t, ok)
	assert.Empty(t, PeerCluster(context.Background()))
}

func TestRequestID(t *testing.T) {
	_, ok := RequestID(context.Background())
	assert.False(t, ok)

	v, ok := RequestID(WithRequestID(context.Background(), "r-42"))
	assert.True(t, ok)
	assert.Equal(t, "r-42", v)

	// 与对等节点身份使用不同的键
	_, ok = PeerID(WithRequestID(context.Background(), "r-42"))
	assert.False(t, ok)
}
