package mesh

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/eventflow/testutil/fixtures"
	"github.com/BaSui01/eventflow/types"
)

func newMeshServer(t *testing.T, runner *fakeRunner, rps float64) (*httptest.Server, *TokenManager) {
	t.Helper()
	tokens := NewTokenManager("mesh-secret", time.Hour)
	in := NewIngress(IngressConfig{NodeID: "node-a", Runner: runner}, zaptest.NewLogger(t))
	h := NewHandler(HandlerConfig{Ingress: in, Tokens: tokens, RateLimit: rps, RateBurst: 1}, zaptest.NewLogger(t))

	mux := http.NewServeMux()
	mux.Handle("/mesh/v1/ws", h)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, tokens
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/mesh/v1/ws"
}

func TestHandler_DeliversToIngress(t *testing.T) {
	runner := &fakeRunner{}
	srv, tokens := newMeshServer(t, runner, 0)

	tr := NewWSTransport("node-b", "alpha", tokens, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = tr.Close() })
	peer := PeerInfo{ID: "node-a", URL: wsURL(srv)}

	for i := 0; i < 3; i++ {
		env := fixtures.JobCompleted("j")
		env.Origin = "node-b"
		data, err := Encode(env, "node-b", "alpha", time.Now())
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		require.NoError(t, tr.Send(ctx, peer, data))
		cancel()
	}

	require.Eventually(t, func() bool { return runner.count() == 3 }, 2*time.Second, 10*time.Millisecond)

	runner.mu.Lock()
	got := runner.envs[0]
	runner.mu.Unlock()
	assert.Equal(t, "node-b", got.Origin)
	meta := got.Payload[types.PayloadMesh].(map[string]any)
	assert.Equal(t, "alpha", meta["cluster"])
}

func TestHandler_RequiresToken(t *testing.T) {
	srv, _ := newMeshServer(t, &fakeRunner{}, 0)

	resp, err := http.Get(srv.URL + "/mesh/v1/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/mesh/v1/ws", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer forged")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_DialWithWrongSecretFails(t *testing.T) {
	srv, _ := newMeshServer(t, &fakeRunner{}, 0)

	tr := NewWSTransport("node-b", "", NewTokenManager("wrong", time.Hour), nil)
	t.Cleanup(func() { _ = tr.Close() })

	data, err := Encode(fixtures.JobCompleted("j"), "node-b", "", time.Now())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, tr.Send(ctx, PeerInfo{ID: "node-a", URL: wsURL(srv)}, data))
}

func TestHandler_PerPeerRateLimit(t *testing.T) {
	runner := &fakeRunner{}
	srv, tokens := newMeshServer(t, runner, 0.001)

	tr := NewWSTransport("node-b", "", tokens, nil)
	t.Cleanup(func() { _ = tr.Close() })
	peer := PeerInfo{ID: "node-a", URL: wsURL(srv)}

	for i := 0; i < 3; i++ {
		data, err := Encode(fixtures.JobCompleted("j"), "node-b", "", time.Now())
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		require.NoError(t, tr.Send(ctx, peer, data))
		cancel()
	}

	require.Eventually(t, func() bool { return runner.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, runner.count())
}

func TestWSTransport_ClosedRejectsSend(t *testing.T) {
	tr := NewWSTransport("node-b", "", NewTokenManager("s", time.Hour), nil)
	require.NoError(t, tr.Close())
	assert.Error(t, tr.Send(context.Background(), PeerInfo{ID: "node-a", URL: "ws://127.0.0.1:1"}, []byte("{}")))
}
