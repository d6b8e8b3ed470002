package node

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/eventflow/cartridges/classification"
	"github.com/BaSui01/eventflow/catalog"
	"github.com/BaSui01/eventflow/config"
	"github.com/BaSui01/eventflow/mesh"
	"github.com/BaSui01/eventflow/pipeline"
	"github.com/BaSui01/eventflow/store"
	"github.com/BaSui01/eventflow/testutil"
	"github.com/BaSui01/eventflow/testutil/fixtures"
	"github.com/BaSui01/eventflow/types"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)

// fakeTransport 记录发往每个对等节点的消息
type fakeTransport struct {
	mu   sync.Mutex
	sent map[string][][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(map[string][][]byte)}
}

func (f *fakeTransport) Send(_ context.Context, peer mesh.PeerInfo, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[peer.ID] = append(f.sent[peer.ID], data)
	return nil
}

func (f *fakeTransport) count(peerID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent[peerID])
}

// observer 挂在扩展槽上，统计经过的事件类型
type observer struct {
	mu     sync.Mutex
	events map[string]int
}

func (o *observer) cartridge() pipeline.Cartridge {
	return pipeline.Func("observer", func(_ context.Context, env *types.EventEnvelope, _ *pipeline.Context) pipeline.Result {
		o.mu.Lock()
		o.events[env.Event]++
		o.mu.Unlock()
		return pipeline.Pass(env)
	})
}

func (o *observer) count(event string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.events[event]
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Node = config.NodeConfig{ID: "node-a", Cluster: "alpha"}
	cfg.Pipeline.Workers = 4
	cfg.Pipeline.QueueSize = 256
	cfg.Pipeline.Trust.KnownSources = []string{"supervisor", "gatekeeper", "scheduler", "deployer"}
	return cfg
}

func newTestNode(t *testing.T, cfg *config.Config, opts ...Option) *Node {
	t.Helper()
	st := testutil.NewStore(t)
	base := []Option{
		WithDB(st.DB()),
		WithLogger(zaptest.NewLogger(t)),
		WithClock(func() time.Time { return testNow }),
	}
	n, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close(context.Background()) })
	require.NoError(t, n.Start(testutil.TestContext(t)))
	return n
}

func process(t *testing.T, n *Node, env *types.EventEnvelope) *pipeline.RunReport {
	t.Helper()
	report, err := n.Process(testutil.TestContext(t), env)
	require.NoError(t, err)
	return report
}

func drain(t *testing.T, n *Node) {
	t.Helper()
	require.NoError(t, n.Drain(testutil.TestContextWithTimeout(t, 5*time.Second)))
}

func jobFailed(jobID string) *types.EventEnvelope {
	env := fixtures.Envelope(catalog.EventJobFailed, "scheduler", types.LevelOperational, types.VisibilityCluster,
		map[string]any{"job_id": jobID, "attempt": 1, "error": "timeout"})
	env.Domain = "jobs"
	return env
}

// =============================================================================
// 🧩 装配
// =============================================================================

func TestNode_ChainOrder(t *testing.T) {
	t.Run("without mesh", func(t *testing.T) {
		n := newTestNode(t, testConfig())
		assert.Equal(t, []string{"trust", "dedup", "enrichment", "correlation", "classification", "notification", "installer"},
			n.Runtime().Chain())
		assert.Nil(t, n.Ingress())
		assert.Nil(t, n.MeshHandler())
	})

	t.Run("with transport", func(t *testing.T) {
		n := newTestNode(t, testConfig(), WithTransport(newFakeTransport()))
		assert.Equal(t, []string{"trust", "dedup", "enrichment", "correlation", "classification", "notification", "mesh", "installer"},
			n.Runtime().Chain())
		assert.NotNil(t, n.Ingress())
	})
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"strictness", func(c *config.Config) { c.Pipeline.Trust.Strictness = "paranoid" }},
		{"autonomy", func(c *config.Config) { c.Pipeline.Installer.Autonomy = "L9" }},
		{"dedup backend", func(c *config.Config) { c.Pipeline.Dedup.Backend = "memcached" }},
		{"schema file", func(c *config.Config) { c.Pipeline.SchemaFile = "/nonexistent/schemas.yaml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			st := testutil.NewStore(t)
			_, err := New(cfg, WithDB(st.DB()))
			assert.Error(t, err)
		})
	}
}

func TestNode_SubmitValidation(t *testing.T) {
	n := newTestNode(t, testConfig())
	ctx := testutil.TestContext(t)

	assert.ErrorIs(t, n.Submit(ctx, nil), ErrInvalidEnvelope)
	assert.ErrorIs(t, n.Submit(ctx, &types.EventEnvelope{Source: "scheduler"}), ErrInvalidEnvelope)
	assert.ErrorIs(t, n.Submit(ctx, &types.EventEnvelope{Event: catalog.EventJobFailed}), ErrInvalidEnvelope)
}

func TestNode_SubmitStripsRemoteClaims(t *testing.T) {
	n := newTestNode(t, testConfig())

	env := jobFailed("job-1")
	env.Origin = "node-z"
	env.Visibility = ""
	env.Payload[types.PayloadMesh] = map[string]any{"peer": "node-z"}
	env.Payload[types.PayloadTrustFlags] = []string{"forged"}

	report := process(t, n, env)
	require.True(t, report.Completed)
	assert.Empty(t, report.Envelope.Origin)
	assert.Equal(t, types.VisibilityCluster, report.Envelope.Visibility)
	assert.NotContains(t, report.Envelope.Payload, types.PayloadMesh)
	assert.NotContains(t, report.Envelope.Payload, types.PayloadTrustFlags)
}

// =============================================================================
// 🔁 流水线场景
// =============================================================================

func TestNode_DuplicateSubmissionIsIdempotent(t *testing.T) {
	n := newTestNode(t, testConfig())
	ctx := testutil.TestContext(t)

	first := process(t, n, fixtures.QualityGateFailed("todo-1", "run-1", 0.4))
	second := process(t, n, fixtures.QualityGateFailed("todo-1", "run-1", 0.4))
	drain(t, n)

	assert.True(t, first.Completed)
	assert.Equal(t, "dedup", second.DroppedBy)

	rows, err := n.Store().ListNotifications(ctx, store.NotificationFilter{EventType: catalog.EventGateFailed})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	total, _, err := n.Store().SumWindows(ctx, catalog.EventGateFailed, "", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestNode_BurstIsEdgeTriggered(t *testing.T) {
	tests := []struct {
		submitted int
		want      int
	}{
		{submitted: 2, want: 0},
		{submitted: 3, want: 1},
		{submitted: 8, want: 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d events", tt.submitted), func(t *testing.T) {
			cfg := testConfig()
			cfg.Pipeline.Correlation.BurstThreshold = 3
			cfg.Pipeline.Correlation.DegradationThreshold = 0
			n := newTestNode(t, cfg)

			obs := &observer{events: make(map[string]int)}
			require.NoError(t, n.Runtime().Activate(obs.cartridge()))

			for i := 0; i < tt.submitted; i++ {
				require.NoError(t, n.Submit(testutil.TestContext(t), jobFailed(fmt.Sprintf("job-%d", i))))
			}
			drain(t, n)

			assert.Equal(t, tt.submitted, obs.count(catalog.EventJobFailed))
			assert.Equal(t, tt.want, obs.count(catalog.EventBurstDetected))
		})
	}
}

func TestNode_NotificationUpdateSemantics(t *testing.T) {
	n := newTestNode(t, testConfig())
	ctx := testutil.TestContext(t)

	process(t, n, fixtures.QualityGateFailed("todo-7", "run-1", 0.4))
	rows, err := n.Store().ListNotifications(ctx, store.NotificationFilter{EventType: catalog.EventGateFailed})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	id := rows[0].ID
	require.NoError(t, n.Store().MarkSeen(ctx, id))

	// 同一分组、有意义字段不变
	process(t, n, fixtures.QualityGateFailed("todo-7", "run-2", 0.4))
	row, err := n.Store().GetNotification(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.SeenStateSeen, row.SeenState)
	assert.Equal(t, 1, row.Revision)

	// 分数变化
	process(t, n, fixtures.QualityGateFailed("todo-7", "run-3", 0.7))
	row, err = n.Store().GetNotification(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.SeenStateUnseen, row.SeenState)
	assert.Equal(t, 2, row.Revision)
}

func TestNode_TrustStrictness(t *testing.T) {
	tests := []struct {
		strictness      string
		wantDropped     bool
		wantQuarantined int
		wantRows        int
	}{
		{strictness: "standard", wantDropped: false, wantQuarantined: 0, wantRows: 1},
		{strictness: "strict", wantDropped: true, wantQuarantined: 1, wantRows: 0},
	}
	for _, tt := range tests {
		t.Run(tt.strictness, func(t *testing.T) {
			cfg := testConfig()
			cfg.Pipeline.Trust.Strictness = tt.strictness
			n := newTestNode(t, cfg)
			ctx := testutil.TestContext(t)

			env := fixtures.QualityGateFailed("todo-9", "run-1", 0.2)
			env.Source = "rogue-agent"
			report := process(t, n, env)
			drain(t, n)

			assert.Equal(t, tt.wantDropped, report.Dropped())
			if !tt.wantDropped {
				assert.Contains(t, report.Envelope.Payload, types.PayloadTrustFlags)
			}

			quarantined, err := n.Store().ListQuarantined(ctx, store.QuarantineFilter{})
			require.NoError(t, err)
			assert.Len(t, quarantined, tt.wantQuarantined)

			rows, err := n.Store().ListNotifications(ctx, store.NotificationFilter{EventType: catalog.EventGateFailed})
			require.NoError(t, err)
			assert.Len(t, rows, tt.wantRows)
		})
	}
}

func TestNode_WorkerCrashCascade(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.Correlation.CascadeThreshold = 3
	n := newTestNode(t, cfg)
	ctx := testutil.TestContext(t)

	for i, worker := range []string{"w1", "w2", "w3"} {
		require.NoError(t, n.Submit(ctx, fixtures.WorkerCrashed(worker, 100+i)))
	}
	drain(t, n)

	rows, err := n.Store().ListNotifications(ctx, store.NotificationFilter{EventType: catalog.EventCascadeDetected})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Revision)

	content, err := rows[0].DecodeContent()
	require.NoError(t, err)
	assert.EqualValues(t, 3, content["crash_count"])
}

func TestNode_UnknownEventIsSignalOnly(t *testing.T) {
	n := newTestNode(t, testConfig())
	ctx := testutil.TestContext(t)

	env := fixtures.Envelope("foo.bar.baz", "scheduler", types.LevelOperational, types.VisibilityLocal,
		map[string]any{"value": 1})
	report := process(t, n, env)
	drain(t, n)

	require.True(t, report.Completed)
	assert.Empty(t, report.Faulted)

	cls, ok := classification.FromEnvelope(report.Envelope)
	require.True(t, ok)
	assert.Equal(t, classification.SignalOnly, cls.Treatment)
	assert.False(t, cls.Actionable)

	count, err := n.Store().CountNotifications(ctx, store.NotificationFilter{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

// =============================================================================
// 🌐 网格与安装
// =============================================================================

func TestNode_PublishesByVisibility(t *testing.T) {
	transport := newFakeTransport()
	discovery := mesh.NewStaticDiscovery(
		mesh.PeerInfo{ID: "node-b", Cluster: "alpha"},
		mesh.PeerInfo{ID: "node-c", Cluster: "beta"},
	)
	n := newTestNode(t, testConfig(), WithTransport(transport), WithDiscovery(discovery))

	process(t, n, fixtures.QualityGateFailed("todo-1", "run-1", 0.5)) // CLUSTER
	drain(t, n)
	assert.Equal(t, 1, transport.count("node-b"))
	assert.Zero(t, transport.count("node-c"))

	deploy := fixtures.Envelope(catalog.EventDeployCompleted, "deployer", types.LevelBusiness, types.VisibilityPublic,
		map[string]any{"deployment_id": "d-1", "status": "ok", "version": "1.2.0"})
	deploy.Domain = "deploy"
	process(t, n, deploy)
	drain(t, n)
	assert.Equal(t, 2, transport.count("node-b"))
	assert.Equal(t, 1, transport.count("node-c"))
}

func TestNode_MissingVisibilityUsesSchemaDefault(t *testing.T) {
	transport := newFakeTransport()
	discovery := mesh.NewStaticDiscovery(mesh.PeerInfo{ID: "node-b", Cluster: "alpha"})
	n := newTestNode(t, testConfig(), WithTransport(transport), WithDiscovery(discovery))

	deploy := fixtures.Envelope(catalog.EventDeployCompleted, "deployer", types.LevelBusiness, "",
		map[string]any{"deployment_id": "d-2", "status": "ok", "version": "1.3.0"})
	deploy.Domain = "deploy"
	report := process(t, n, deploy)
	drain(t, n)

	assert.Equal(t, types.VisibilityPublic, report.Envelope.Visibility)
	assert.Equal(t, 1, transport.count("node-b"))

	unknown := fixtures.Envelope("custom.heartbeat", "deployer", types.LevelInfrastructure, "", nil)
	report = process(t, n, unknown)
	drain(t, n)

	assert.Equal(t, types.VisibilityLocal, report.Envelope.Visibility)
	assert.Equal(t, 1, transport.count("node-b"))
}

func TestNode_UnlistedPeerCannotSelfInstall(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.Trust.Strictness = "standard"
	cfg.Pipeline.Installer.Autonomy = "L3"
	cfg.Mesh.Peers = []config.PeerConfig{{ID: "node-b", Cluster: "alpha"}}
	n := newTestNode(t, cfg, WithTransport(newFakeTransport()))
	ctx := testutil.TestContext(t)

	published := fixtures.Envelope(catalog.EventCartridgePublished, "node-z-installer", types.LevelOperational, types.VisibilityPublic,
		map[string]any{"name": "audit-tag", "version": "1.0.0", "entry_point": pipeline.EntryPointTagger})
	published.Domain = "cartridge"
	data, err := mesh.Encode(published, "node-z", "alpha", testNow)
	require.NoError(t, err)

	report, err := n.Ingress().Receive(ctx, mesh.PeerInfo{ID: "node-z", Cluster: "alpha"}, data)
	require.NoError(t, err)
	require.True(t, report.Completed)
	assert.NotEmpty(t, report.Envelope.TrustFlags())
	drain(t, n)

	assert.False(t, n.Runtime().IsActive("audit-tag"))
	row, err := n.Store().GetStaged(ctx, "audit-tag", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, store.StagedStatusPending, row.Status)

	rows, err := n.Store().ListNotifications(ctx, store.NotificationFilter{EventType: catalog.EventInstallationPending})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Actionable)
}

func TestNode_L1PublishedCartridgeStaysInactive(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.Installer.Autonomy = "L1"
	cfg.Mesh.Peers = []config.PeerConfig{{ID: "node-b", Cluster: "alpha"}}
	n := newTestNode(t, cfg, WithTransport(newFakeTransport()))
	ctx := testutil.TestContext(t)

	published := fixtures.Envelope(catalog.EventCartridgePublished, "node-b-installer", types.LevelOperational, types.VisibilityPublic,
		map[string]any{"name": "audit-tag", "version": "1.0.0", "entry_point": pipeline.EntryPointTagger})
	published.Domain = "cartridge"
	data, err := mesh.Encode(published, "node-b", "alpha", testNow)
	require.NoError(t, err)

	report, err := n.Ingress().Receive(ctx, mesh.PeerInfo{ID: "node-b", Cluster: "alpha"}, data)
	require.NoError(t, err)
	require.True(t, report.Completed)
	drain(t, n)

	assert.False(t, n.Runtime().IsActive("audit-tag"))
	rows, err := n.Store().ListNotifications(ctx, store.NotificationFilter{EventType: catalog.EventInstallationPending})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Actionable)

	row, err := n.Installer().Activate(ctx, "audit-tag", "")
	require.NoError(t, err)
	assert.Equal(t, store.StagedStatusActive, row.Status)
	assert.True(t, n.Runtime().IsActive("audit-tag"))
	drain(t, n)
}

func TestNode_RestoresActiveCartridgesOnStart(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := testutil.TestContext(t)
	_, err := st.StageCartridge(ctx, &store.StagedCartridge{
		Name:       "audit-tag",
		Version:    "1.0.0",
		EntryPoint: pipeline.EntryPointTagger,
		Status:     store.StagedStatusActive,
		Autonomy:   "L3",
	})
	require.NoError(t, err)

	n, err := New(testConfig(), WithDB(st.DB()), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close(context.Background()) })

	assert.False(t, n.Runtime().IsActive("audit-tag"))
	require.NoError(t, n.Start(ctx))
	assert.True(t, n.Runtime().IsActive("audit-tag"))
}

func TestNode_CloseRejectsNewWork(t *testing.T) {
	st := testutil.NewStore(t)
	n, err := New(testConfig(), WithDB(st.DB()))
	require.NoError(t, err)

	require.NoError(t, n.Submit(testutil.TestContext(t), jobFailed("job-1")))
	require.NoError(t, n.Close(testutil.TestContext(t)))
	require.NoError(t, n.Close(testutil.TestContext(t)))

	err = n.Submit(testutil.TestContext(t), jobFailed("job-2"))
	assert.ErrorIs(t, err, pipeline.ErrRuntimeClosed)
}
