package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/BaSui01/eventflow/catalog"
	"github.com/BaSui01/eventflow/pipeline"
	"github.com/BaSui01/eventflow/store"
	"github.com/BaSui01/eventflow/testutil"
	"github.com/BaSui01/eventflow/testutil/fixtures"
	"github.com/BaSui01/eventflow/testutil/mocks"
	"github.com/BaSui01/eventflow/types"
)

var fixedNow = time.Date(2026, 3, 1, 12, 2, 30, 0, time.UTC)

func newCartridge(t *testing.T, mutate func(*Config)) *Cartridge {
	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return fixedNow }
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, zaptest.NewLogger(t))
}

func TestCorrelation_EdgeTriggeredBurst(t *testing.T) {
	st := testutil.NewStore(t)
	c := newCartridge(t, func(cfg *Config) {
		cfg.CascadeThreshold = 0
		cfg.DegradationThreshold = 0
	})

	var seq int
	rapid.Check(t, func(rt *rapid.T) {
		threshold := rapid.IntRange(1, 8).Draw(rt, "threshold")
		k := rapid.IntRange(0, 15).Draw(rt, "k")

		c.cfg.BurstThreshold = int64(threshold)
		seq++
		eventType := fmt.Sprintf("prop.burst.%d", seq)

		emitter := mocks.NewRecordingEmitter()
		pctx := testutil.NewContext(t, st)
		pctx.Emitter = emitter

		for i := 0; i < k; i++ {
			env := fixtures.Envelope(eventType, "scheduler", types.LevelOperational, types.VisibilityLocal, nil)
			res := c.Process(context.Background(), env, pctx)
			if res.Outcome != pipeline.OutcomePassed {
				rt.Fatalf("outcome %s", res.Outcome)
			}
		}

		want := 0
		if k >= threshold {
			want = 1
		}
		if got := len(emitter.ByEvent(catalog.EventBurstDetected)); got != want {
			rt.Fatalf("k=%d threshold=%d: got %d burst events, want %d", k, threshold, got, want)
		}
	})
}

func TestCorrelation_BurstBoundaries(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want int
	}{
		{"below threshold", 4, 0},
		{"exactly threshold", 5, 1},
		{"past threshold", 10, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := testutil.NewStore(t)
			pctx := testutil.NewContext(t, st)
			emitter := mocks.NewRecordingEmitter()
			pctx.Emitter = emitter
			c := newCartridge(t, func(cfg *Config) { cfg.BurstThreshold = 5 })

			for i := 0; i < tt.n; i++ {
				c.Process(context.Background(), fixtures.JobCompleted(fmt.Sprintf("j%d", i)), pctx)
			}

			bursts := emitter.ByEvent(catalog.EventBurstDetected)
			require.Len(t, bursts, tt.want)
			if tt.want == 1 {
				b := bursts[0]
				assert.Equal(t, Name, b.Source)
				assert.Equal(t, catalog.EventJobCompleted, b.Payload["event_type"])
				assert.EqualValues(t, 5, b.Payload["count"])
				assert.Equal(t, c.WindowStart(fixedNow), b.Payload["window_start"])
			}
		})
	}
}

func TestCorrelation_ConcurrentBurstFiresOnce(t *testing.T) {
	st := testutil.NewStore(t)
	pctx := testutil.NewContext(t, st)
	emitter := mocks.NewRecordingEmitter()
	pctx.Emitter = emitter
	c := newCartridge(t, func(cfg *Config) { cfg.BurstThreshold = 10 })

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Process(context.Background(), fixtures.JobCompleted(fmt.Sprintf("j%d", i)), pctx)
		}(i)
	}
	wg.Wait()

	assert.Len(t, emitter.ByEvent(catalog.EventBurstDetected), 1)
}

func TestCorrelation_WorkerCrashCascade(t *testing.T) {
	st := testutil.NewStore(t)
	pctx := testutil.NewContext(t, st)
	emitter := mocks.NewRecordingEmitter()
	pctx.Emitter = emitter
	c := newCartridge(t, nil)

	for i, w := range []string{"w1", "w2", "w3"} {
		res := c.Process(context.Background(), fixtures.WorkerCrashed(w, 100+i), pctx)
		require.Equal(t, pipeline.OutcomePassed, res.Outcome)
	}

	cascades := emitter.ByEvent(catalog.EventCascadeDetected)
	require.Len(t, cascades, 1)
	got := cascades[0]
	assert.EqualValues(t, 3, got.Payload["crash_count"])
	assert.Equal(t, []string{"telec://worker/w1", "telec://worker/w2", "telec://worker/w3"}, got.Payload["entities"])
	assert.Equal(t, types.VisibilityCluster, got.Visibility)
	assert.Equal(t, "system", got.Domain)

	// 第四次崩溃不会再次触发
	c.Process(context.Background(), fixtures.WorkerCrashed("w4", 200), pctx)
	assert.Len(t, emitter.ByEvent(catalog.EventCascadeDetected), 1)
	assert.Empty(t, emitter.ByEvent(catalog.EventEntityDegraded))
}

func TestCorrelation_EntityDegradation(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	pctx := testutil.NewContext(t, st)
	emitter := mocks.NewRecordingEmitter()
	pctx.Emitter = emitter
	c := newCartridge(t, nil)

	// 不同失败类型累计到同一个实体
	c.Process(ctx, fixtures.QualityGateFailed("42", "r1", 0.2), pctx)
	c.Process(ctx, fixtures.QualityGateFailed("42", "r2", 0.3), pctx)
	assert.Empty(t, emitter.ByEvent(catalog.EventEntityDegraded))

	job := fixtures.Envelope(catalog.EventJobFailed, "scheduler", types.LevelOperational, types.VisibilityLocal,
		map[string]any{"job_id": "x"})
	job.Entity = "telec://todo/42"
	c.Process(ctx, job, pctx)

	degraded := emitter.ByEvent(catalog.EventEntityDegraded)
	require.Len(t, degraded, 1)
	assert.Equal(t, "telec://todo/42", degraded[0].Entity)
	assert.Equal(t, "telec://todo/42", degraded[0].Payload["entity"])
	assert.EqualValues(t, 3, degraded[0].Payload["failure_count"])

	total, _, err := st.SumWindows(ctx, store.FailureBucket, "telec://todo/42", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
}

func TestCorrelation_SkipsOwnOutput(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	pctx := testutil.NewContext(t, st)
	emitter := mocks.NewRecordingEmitter()
	pctx.Emitter = emitter
	c := newCartridge(t, func(cfg *Config) { cfg.BurstThreshold = 1 })

	env := fixtures.Envelope(catalog.EventBurstDetected, Name, types.LevelOperational, types.VisibilityLocal,
		map[string]any{"event_type": "x"})
	res := c.Process(ctx, env, pctx)
	assert.Equal(t, pipeline.OutcomePassed, res.Outcome)
	assert.Empty(t, emitter.Emitted())

	total, buckets, err := st.SumWindows(ctx, catalog.EventBurstDetected, "", 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Zero(t, buckets)
}

func TestCorrelation_CountsRemoteClaimingOwnSource(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	pctx := testutil.NewContext(t, st)
	pctx.Emitter = mocks.NewRecordingEmitter()
	c := newCartridge(t, nil)

	env := fixtures.Envelope(catalog.EventJobFailed, Name, types.LevelOperational, types.VisibilityCluster,
		map[string]any{"job_id": "j1"})
	env.Origin = "node-x"
	require.NotEqual(t, pctx.NodeID, env.Origin)

	res := c.Process(ctx, env, pctx)
	assert.Equal(t, pipeline.OutcomePassed, res.Outcome)

	total, _, err := st.SumWindows(ctx, catalog.EventJobFailed, "", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestCorrelation_PrunesOldWindows(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	pctx := testutil.NewContext(t, st)
	c := newCartridge(t, nil)

	ws := c.WindowStart(fixedNow)
	window := int64(c.cfg.Window / time.Second)

	_, err := st.IncrementWindow(ctx, "old.event", "", ws-3*window)
	require.NoError(t, err)
	_, err = st.IncrementWindow(ctx, "recent.event", "", ws-window)
	require.NoError(t, err)

	c.Process(ctx, fixtures.JobCompleted("j1"), pctx)

	_, oldBuckets, err := st.SumWindows(ctx, "old.event", "", 0)
	require.NoError(t, err)
	assert.Zero(t, oldBuckets)

	_, recentBuckets, err := st.SumWindows(ctx, "recent.event", "", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, recentBuckets)
}

func TestCorrelation_NewWindowRearms(t *testing.T) {
	st := testutil.NewStore(t)
	pctx := testutil.NewContext(t, st)
	emitter := mocks.NewRecordingEmitter()
	pctx.Emitter = emitter

	now := fixedNow
	c := newCartridge(t, func(cfg *Config) {
		cfg.BurstThreshold = 2
		cfg.Now = func() time.Time { return now }
	})

	for i := 0; i < 3; i++ {
		c.Process(context.Background(), fixtures.JobCompleted("a"), pctx)
	}
	now = now.Add(c.cfg.Window)
	for i := 0; i < 3; i++ {
		c.Process(context.Background(), fixtures.JobCompleted("b"), pctx)
	}

	assert.Len(t, emitter.ByEvent(catalog.EventBurstDetected), 2)
}

func TestCorrelation_EmitFailureDoesNotFault(t *testing.T) {
	st := testutil.NewStore(t)
	pctx := testutil.NewContext(t, st)
	pctx.Emitter = mocks.NewRecordingEmitter().WithError(errors.New("queue full"))
	c := newCartridge(t, func(cfg *Config) { cfg.BurstThreshold = 1 })

	res := c.Process(context.Background(), fixtures.JobCompleted("j"), pctx)
	assert.Equal(t, pipeline.OutcomePassed, res.Outcome)
}

func TestCorrelation_StoreFailureFaults(t *testing.T) {
	st := testutil.NewStore(t)
	pctx := testutil.NewContext(t, st)
	c := newCartridge(t, nil)

	sqlDB, err := st.DB().DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	env := fixtures.JobCompleted("j")
	res := c.Process(context.Background(), env, pctx)
	assert.Equal(t, pipeline.OutcomeFaulted, res.Outcome)
	assert.Error(t, res.Err)
}
