package notification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/eventflow/cartridges/classification"
	"github.com/BaSui01/eventflow/pipeline"
	"github.com/BaSui01/eventflow/store"
	"github.com/BaSui01/eventflow/testutil"
	"github.com/BaSui01/eventflow/testutil/fixtures"
	"github.com/BaSui01/eventflow/types"
)

// classify 模拟链上前一阶段
func classify(t *testing.T, env *types.EventEnvelope, pctx *pipeline.Context) *types.EventEnvelope {
	t.Helper()
	res := classification.New().Process(context.Background(), env, pctx)
	require.Equal(t, pipeline.OutcomePassed, res.Outcome)
	return res.Envelope
}

func TestProjector_SignalOnlyIsPassThrough(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	pctx := testutil.NewContext(t, st)
	p := New(zaptest.NewLogger(t))

	for _, env := range []*types.EventEnvelope{fixtures.JobCompleted("j1"), fixtures.Unknown()} {
		res := p.Process(ctx, classify(t, env, pctx), pctx)
		assert.Equal(t, pipeline.OutcomePassed, res.Outcome)
	}

	n, err := st.CountNotifications(ctx, store.NotificationFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProjector_ExactlyOnceVisibleChange(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	pctx := testutil.NewContext(t, st)
	p := New(nil)

	first := classify(t, fixtures.QualityGateFailed("42", "r1", 0.3), pctx)
	require.Equal(t, pipeline.OutcomePassed, p.Process(ctx, first, pctx).Outcome)

	groupKey := types.GroupKey(pctx.Schema(first.Event), first)
	row, err := st.GetNotificationByGroupKey(ctx, groupKey)
	require.NoError(t, err)
	assert.Equal(t, store.SeenStateUnseen, row.SeenState)
	assert.Equal(t, store.ClaimStateUnclaimed, row.ClaimState)
	assert.Equal(t, "Quality gate failed", row.Title)
	assert.True(t, row.Actionable)
	require.NoError(t, st.MarkSeen(ctx, row.ID))

	// 新的 run_id，但 status 与 score 不变：通知保持已读
	same := classify(t, fixtures.QualityGateFailed("42", "r2", 0.3), pctx)
	p.Process(ctx, same, pctx)
	row, err = st.GetNotificationByGroupKey(ctx, groupKey)
	require.NoError(t, err)
	assert.Equal(t, store.SeenStateSeen, row.SeenState)
	assert.Equal(t, 1, row.Revision)

	// score 变化：重置为未读
	changed := classify(t, fixtures.QualityGateFailed("42", "r3", 0.6), pctx)
	p.Process(ctx, changed, pctx)
	row, err = st.GetNotificationByGroupKey(ctx, groupKey)
	require.NoError(t, err)
	assert.Equal(t, store.SeenStateUnseen, row.SeenState)
	assert.Equal(t, 2, row.Revision)

	content, err := row.DecodeContent()
	require.NoError(t, err)
	assert.EqualValues(t, 0.6, content["score"])
	assert.NotContains(t, content, types.PayloadClassification)

	n, err := st.CountNotifications(ctx, store.NotificationFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestProjector_ClassifiesWhenTagMissing(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	pctx := testutil.NewContext(t, st)

	res := New(nil).Process(ctx, fixtures.WorkerCrashed("w1", 7), pctx)
	require.Equal(t, pipeline.OutcomePassed, res.Outcome)

	n, err := st.CountNotifications(ctx, store.NotificationFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestProjector_KeepsEnrichmentInContent(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	pctx := testutil.NewContext(t, st)

	env := fixtures.WorkerCrashed("w1", 7)
	env.Payload[types.PayloadEnrichment] = map[string]any{"recent_crash_count": 2}
	New(nil).Process(ctx, classify(t, env, pctx), pctx)

	rows, err := st.ListNotifications(ctx, store.NotificationFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	content, err := rows[0].DecodeContent()
	require.NoError(t, err)
	assert.Contains(t, content, types.PayloadEnrichment)
	assert.Equal(t, "w1", content["worker_id"])
}

func TestProjector_StoreFailureFaults(t *testing.T) {
	st := testutil.NewStore(t)
	pctx := testutil.NewContext(t, st)

	sqlDB, err := st.DB().DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	res := New(nil).Process(context.Background(), classify(t, fixtures.WorkerCrashed("w1", 7), pctx), pctx)
	assert.Equal(t, pipeline.OutcomeFaulted, res.Outcome)
}
