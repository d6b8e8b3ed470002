package mesh

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/eventflow/pipeline"
	"github.com/BaSui01/eventflow/testutil/fixtures"
	"github.com/BaSui01/eventflow/types"
)

// fakeTransport 记录每个对等节点收到的消息
type fakeTransport struct {
	mu    sync.Mutex
	sent  map[string][][]byte
	fail  map[string]error
	block map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sent:  make(map[string][][]byte),
		fail:  make(map[string]error),
		block: make(map[string]bool),
	}
}

func (f *fakeTransport) Send(ctx context.Context, peer PeerInfo, data []byte) error {
	f.mu.Lock()
	block, err := f.block[peer.ID], f.fail[peer.ID]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.sent[peer.ID] = append(f.sent[peer.ID], data)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) peers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for id := range f.sent {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (f *fakeTransport) messages(peer string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent[peer]...)
}

var meshPeers = []PeerInfo{
	{ID: "node-a", Cluster: "alpha"},
	{ID: "node-b", Cluster: "alpha"},
	{ID: "node-c", Cluster: "beta"},
}

func localContext() *pipeline.Context {
	return &pipeline.Context{NodeID: "node-a", Cluster: "alpha"}
}

func publish(t *testing.T, p *Publisher, env *types.EventEnvelope) pipeline.Result {
	t.Helper()
	res := p.Process(context.Background(), env, localContext())
	require.NoError(t, p.Wait(context.Background()))
	return res
}

func TestPublisher_Visibility(t *testing.T) {
	tests := []struct {
		name       string
		visibility types.Visibility
		want       []string
	}{
		{"local", types.VisibilityLocal, []string{}},
		{"cluster", types.VisibilityCluster, []string{"node-b"}},
		{"public", types.VisibilityPublic, []string{"node-b", "node-c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport()
			p := NewPublisher(NewStaticDiscovery(meshPeers...), tr, zaptest.NewLogger(t))

			env := fixtures.JobCompleted("j1")
			env.Visibility = tt.visibility
			res := publish(t, p, env)

			assert.Equal(t, pipeline.OutcomePassed, res.Outcome)
			assert.Equal(t, tt.want, tr.peers())
		})
	}
}

func TestPublisher_WireEnvelope(t *testing.T) {
	tr := newFakeTransport()
	p := NewPublisher(NewStaticDiscovery(meshPeers...), tr, nil)

	env := fixtures.WorkerCrashed("w1", 1)
	env.Payload[types.PayloadClassification] = map[string]any{"treatment": "signal-only"}
	publish(t, p, env)

	msgs := tr.messages("node-b")
	require.Len(t, msgs, 1)
	msg, got, err := Decode(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, "node-a", msg.From)
	assert.Equal(t, "node-a", got.Origin)
	assert.Equal(t, env.ID, got.ID)
	assert.NotContains(t, got.Payload, types.PayloadClassification)

	// 本地信封不受影响
	assert.Empty(t, env.Origin)
	assert.Contains(t, env.Payload, types.PayloadClassification)
}

func TestPublisher_DoesNotReforwardRemote(t *testing.T) {
	tr := newFakeTransport()
	p := NewPublisher(NewStaticDiscovery(meshPeers...), tr, nil)

	env := fixtures.WorkerCrashed("w1", 1)
	env.Visibility = types.VisibilityPublic
	env.Origin = "node-c"
	publish(t, p, env)

	assert.Empty(t, tr.peers())
}

func TestPublisher_SlowPeerDoesNotBlock(t *testing.T) {
	tr := newFakeTransport()
	tr.block["node-b"] = true
	tr.fail["node-d"] = errors.New("connection refused")
	peers := append(append([]PeerInfo(nil), meshPeers...), PeerInfo{ID: "node-d"})
	p := NewPublisher(NewStaticDiscovery(peers...), tr, nil, WithSendTimeout(200*time.Millisecond))

	env := fixtures.JobCompleted("j1")
	env.Visibility = types.VisibilityPublic

	start := time.Now()
	res := p.Process(context.Background(), env, localContext())
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, pipeline.OutcomePassed, res.Outcome)

	require.Eventually(t, func() bool { return len(tr.messages("node-c")) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
	assert.Equal(t, []string{"node-c"}, tr.peers())
}

type failingDiscovery struct{}

func (failingDiscovery) Peers(context.Context) ([]PeerInfo, error) {
	return nil, errors.New("registry down")
}

func TestPublisher_DiscoveryFailureFaults(t *testing.T) {
	p := NewPublisher(failingDiscovery{}, newFakeTransport(), nil)
	env := fixtures.WorkerCrashed("w1", 1)
	res := p.Process(context.Background(), env, localContext())
	assert.Equal(t, pipeline.OutcomeFaulted, res.Outcome)
}

func TestPublisher_WaitWhileProducing(t *testing.T) {
	tr := newFakeTransport()
	p := NewPublisher(NewStaticDiscovery(meshPeers...), tr, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				env := fixtures.JobCompleted("j1")
				env.Visibility = types.VisibilityCluster
				p.Process(ctx, env, localContext())
			}
		}()
	}
	for i := 0; i < 50; i++ {
		assert.NoError(t, p.Wait(ctx))
	}
	wg.Wait()

	require.NoError(t, p.Wait(ctx))
	assert.Len(t, tr.messages("node-b"), 200)
}
