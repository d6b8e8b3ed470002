package installer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/eventflow/catalog"
	"github.com/BaSui01/eventflow/pipeline"
	"github.com/BaSui01/eventflow/store"
	"github.com/BaSui01/eventflow/testutil"
	"github.com/BaSui01/eventflow/testutil/fixtures"
	"github.com/BaSui01/eventflow/testutil/mocks"
	"github.com/BaSui01/eventflow/types"
)

// recordingRuntime 使用真实的扩展槽，但把派生信封记录下来而不是执行
type recordingRuntime struct {
	*pipeline.Runtime
	emitter *mocks.RecordingEmitter
}

func (r *recordingRuntime) Emit(ctx context.Context, env *types.EventEnvelope) error {
	return r.emitter.Emit(ctx, env)
}

type fixture struct {
	inst    *Installer
	rt      *recordingRuntime
	store   *store.Store
	pctx    *pipeline.Context
	emitter *mocks.RecordingEmitter
}

func newFixture(t *testing.T, autonomy Autonomy, decider Decider) *fixture {
	t.Helper()
	st := testutil.NewStore(t)
	emitter := mocks.NewRecordingEmitter()
	pctx := testutil.NewContext(t, st)
	pctx.Emitter = emitter

	reg := pipeline.NewRegistry()
	require.NoError(t, reg.Register(pipeline.EntryPointTagger, pipeline.TaggerFactory))

	inst := New(Config{Autonomy: autonomy, Decider: decider, Registry: reg, Store: st}, zaptest.NewLogger(t))
	trustStage := pipeline.Func("trust", func(_ context.Context, env *types.EventEnvelope, _ *pipeline.Context) pipeline.Result {
		return pipeline.Pass(env)
	})
	rt := pipeline.NewRuntime(pctx, pipeline.WithHead(trustStage), pipeline.WithTail(inst))
	t.Cleanup(func() { _ = rt.Close(context.Background()) })

	wrapped := &recordingRuntime{Runtime: rt, emitter: emitter}
	inst.Bind(wrapped)
	return &fixture{inst: inst, rt: wrapped, store: st, pctx: pctx, emitter: emitter}
}

func (f *fixture) publish(t *testing.T, name, version, entryPoint, origin string) {
	t.Helper()
	res := f.inst.Process(context.Background(), fixtures.CartridgePublished(name, version, entryPoint, origin), f.pctx)
	require.Equal(t, pipeline.OutcomePassed, res.Outcome)
}

func TestInstaller_L1StagesWithoutActivating(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, L1, nil)

	f.publish(t, "audit-tag", "1.0.0", pipeline.EntryPointTagger, "node-b")

	row, err := f.store.GetStaged(ctx, "audit-tag", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, store.StagedStatusPending, row.Status)
	assert.Equal(t, "node-b", row.Publisher)
	assert.Equal(t, `["zap"]`, row.Dependencies)
	assert.Empty(t, f.rt.Extensions())

	pending := f.emitter.ByEvent(catalog.EventInstallationPending)
	require.Len(t, pending, 1)
	assert.Equal(t, "audit-tag", pending[0].Payload["name"])
	assert.Equal(t, Name, pending[0].Source)
	assert.Empty(t, f.emitter.ByEvent(catalog.EventCartridgeInstalled))

	// 显式激活
	activated, err := f.inst.Activate(ctx, "audit-tag", "")
	require.NoError(t, err)
	assert.Equal(t, store.StagedStatusActive, activated.Status)
	assert.Equal(t, []string{"trust", "audit-tag", Name}, f.rt.Chain())
	assert.Len(t, f.emitter.ByEvent(catalog.EventCartridgeInstalled), 1)

	_, err = f.inst.Activate(ctx, "audit-tag", "1.0.0")
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestInstaller_IgnoresRepeatsAndLocalPublications(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, L1, nil)

	f.publish(t, "audit-tag", "1.0.0", pipeline.EntryPointTagger, "node-b")
	f.publish(t, "audit-tag", "1.0.0", pipeline.EntryPointTagger, "node-c")
	f.publish(t, "local-tag", "1.0.0", pipeline.EntryPointTagger, "")
	f.publish(t, "self-tag", "1.0.0", pipeline.EntryPointTagger, f.pctx.NodeID)

	assert.Len(t, f.emitter.ByEvent(catalog.EventInstallationPending), 1)
	rows, err := f.store.ListStaged(ctx, "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "node-b", rows[0].Publisher)
}

func TestInstaller_IgnoresInvalidPublication(t *testing.T) {
	f := newFixture(t, L3, nil)

	env := fixtures.CartridgePublished("x", "1", pipeline.EntryPointTagger, "node-b")
	delete(env.Payload, "entry_point")
	res := f.inst.Process(context.Background(), env, f.pctx)
	assert.Equal(t, pipeline.OutcomePassed, res.Outcome)
	assert.Empty(t, f.emitter.Emitted())
}

func TestInstaller_L3ActivatesImmediately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, L3, nil)

	f.publish(t, "audit-tag", "1.0.0", pipeline.EntryPointTagger, "node-b")

	assert.Equal(t, []string{"audit-tag"}, f.rt.Extensions())
	row, err := f.store.GetStaged(ctx, "audit-tag", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, store.StagedStatusActive, row.Status)
	require.Len(t, f.emitter.ByEvent(catalog.EventCartridgeInstalled), 1)
	assert.Empty(t, f.emitter.ByEvent(catalog.EventInstallationPending))
}

func TestInstaller_FlaggedPublicationAwaitsApproval(t *testing.T) {
	accept := DeciderFunc(func(context.Context, pipeline.CartridgeSpec, string) (Decision, error) {
		return Decision{Verdict: VerdictAccept}, nil
	})

	for _, level := range []Autonomy{L2, L3} {
		t.Run(string(level), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, level, accept)

			env := fixtures.CartridgePublished("audit-tag", "1.0.0", pipeline.EntryPointTagger, "node-z")
			env.Payload[types.PayloadTrustFlags] = []string{"unknown_source"}
			res := f.inst.Process(ctx, env, f.pctx)
			require.Equal(t, pipeline.OutcomePassed, res.Outcome)

			assert.Empty(t, f.rt.Extensions())
			row, err := f.store.GetStaged(ctx, "audit-tag", "1.0.0")
			require.NoError(t, err)
			assert.Equal(t, store.StagedStatusPending, row.Status)
			assert.Equal(t, string(L1), row.Autonomy)

			pending := f.emitter.ByEvent(catalog.EventInstallationPending)
			require.Len(t, pending, 1)
			assert.Equal(t, []string{"unknown_source"}, pending[0].Payload["trust_flags"])
			assert.Empty(t, f.emitter.ByEvent(catalog.EventInstallationReviewed))
			assert.Empty(t, f.emitter.ByEvent(catalog.EventCartridgeInstalled))
		})
	}
}

func TestInstaller_L3UnknownEntryPointFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, L3, nil)

	f.publish(t, "mystery", "0.1.0", "evil.exec", "node-b")

	assert.Empty(t, f.rt.Extensions())
	row, err := f.store.GetStaged(ctx, "mystery", "0.1.0")
	require.NoError(t, err)
	assert.Equal(t, store.StagedStatusFailed, row.Status)
	assert.Contains(t, row.Reason, "evil.exec")

	rejected := f.emitter.ByEvent(catalog.EventInstallationRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, store.StagedStatusFailed, rejected[0].Payload["status"])
}

func TestInstaller_L3BuiltinNameCollision(t *testing.T) {
	f := newFixture(t, L3, nil)

	f.publish(t, "trust", "9.9.9", pipeline.EntryPointTagger, "node-b")

	assert.Empty(t, f.rt.Extensions())
	row, err := f.store.GetStaged(context.Background(), "trust", "9.9.9")
	require.NoError(t, err)
	assert.Equal(t, store.StagedStatusFailed, row.Status)
}

func TestInstaller_L2Decisions(t *testing.T) {
	tests := []struct {
		name       string
		decider    Decider
		wantStatus string
		wantExt    []string
		wantVerb   string
		pending    int
	}{
		{
			name: "accept",
			decider: DeciderFunc(func(context.Context, pipeline.CartridgeSpec, string) (Decision, error) {
				return Decision{Verdict: VerdictAccept, Reason: "trusted publisher"}, nil
			}),
			wantStatus: store.StagedStatusActive,
			wantExt:    []string{"audit-tag"},
			wantVerb:   "accept",
		},
		{
			name: "reject",
			decider: DeciderFunc(func(context.Context, pipeline.CartridgeSpec, string) (Decision, error) {
				return Decision{Verdict: VerdictReject, Reason: "unvetted dependency"}, nil
			}),
			wantStatus: store.StagedStatusRejected,
			wantExt:    []string{},
			wantVerb:   "reject",
		},
		{
			name:       "default defers",
			decider:    nil,
			wantStatus: store.StagedStatusPending,
			wantExt:    []string{},
			wantVerb:   "defer",
			pending:    1,
		},
		{
			name: "error defers",
			decider: DeciderFunc(func(context.Context, pipeline.CartridgeSpec, string) (Decision, error) {
				return Decision{}, errors.New("adjudicator offline")
			}),
			wantStatus: store.StagedStatusPending,
			wantExt:    []string{},
			wantVerb:   "defer",
			pending:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, L2, tt.decider)
			f.publish(t, "audit-tag", "1.0.0", pipeline.EntryPointTagger, "node-b")

			row, err := f.store.GetStaged(context.Background(), "audit-tag", "1.0.0")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, row.Status)
			assert.Equal(t, string(L2), row.Autonomy)
			assert.Equal(t, tt.wantExt, f.rt.Extensions())
			assert.Len(t, f.emitter.ByEvent(catalog.EventInstallationPending), tt.pending)

			reviewed := f.emitter.ByEvent(catalog.EventInstallationReviewed)
			require.Len(t, reviewed, 1)
			assert.Equal(t, tt.wantVerb, reviewed[0].Payload["decision"])
		})
	}
}

func TestInstaller_Reject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, L1, nil)
	f.publish(t, "audit-tag", "1.0.0", pipeline.EntryPointTagger, "node-b")

	row, err := f.inst.Reject(ctx, "audit-tag", "1.0.0", "")
	require.NoError(t, err)
	assert.Equal(t, store.StagedStatusRejected, row.Status)
	assert.Len(t, f.emitter.ByEvent(catalog.EventInstallationRejected), 1)

	_, err = f.inst.Activate(ctx, "audit-tag", "")
	assert.ErrorIs(t, err, ErrNotStaged)
	_, err = f.inst.Reject(ctx, "missing", "", "")
	assert.ErrorIs(t, err, ErrNotStaged)
}

func TestInstaller_NewVersionReplacesActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, L1, nil)

	f.publish(t, "audit-tag", "1.0.0", pipeline.EntryPointTagger, "node-b")
	_, err := f.inst.Activate(ctx, "audit-tag", "1.0.0")
	require.NoError(t, err)

	f.publish(t, "audit-tag", "1.1.0", pipeline.EntryPointTagger, "node-b")
	_, err = f.inst.Activate(ctx, "audit-tag", "1.1.0")
	require.NoError(t, err)

	assert.Equal(t, []string{"audit-tag"}, f.rt.Extensions())
	old, err := f.store.GetStaged(ctx, "audit-tag", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, store.StagedStatusSuperseded, old.Status)
}

func TestInstaller_Restore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, L3, nil)
	f.publish(t, "audit-tag", "1.0.0", pipeline.EntryPointTagger, "node-b")
	f.publish(t, "broken", "1.0.0", pipeline.EntryPointTagger, "node-b")

	// broken 的入口点在重启后不再可用
	require.NoError(t, f.store.DB().Model(&store.StagedCartridge{}).
		Where("name = ?", "broken").Update("entry_point", "gone.entry").Error)

	reg := pipeline.NewRegistry()
	require.NoError(t, reg.Register(pipeline.EntryPointTagger, pipeline.TaggerFactory))
	restarted := New(Config{Autonomy: L3, Registry: reg, Store: f.store}, nil)
	rt := pipeline.NewRuntime(testutil.NewContext(t, f.store), pipeline.WithTail(restarted))
	t.Cleanup(func() { _ = rt.Close(ctx) })
	restarted.Bind(rt)

	n, err := restarted.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"audit-tag"}, rt.Extensions())

	broken, err := f.store.GetStaged(ctx, "broken", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, store.StagedStatusFailed, broken.Status)
}

func TestInstaller_Unbound(t *testing.T) {
	inst := New(Config{Store: testutil.NewStore(t)}, nil)
	_, err := inst.Activate(context.Background(), "x", "")
	assert.ErrorIs(t, err, ErrNotBound)
	_, err = inst.Restore(context.Background())
	assert.ErrorIs(t, err, ErrNotBound)
}

func TestParseAutonomy(t *testing.T) {
	for in, want := range map[string]Autonomy{"": L1, "l1": L1, "L2": L2, " l3 ": L3} {
		got, err := ParseAutonomy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseAutonomy("L4")
	assert.Error(t, err)
}

func TestSpecFromEnvelope(t *testing.T) {
	env := fixtures.CartridgePublished("audit-tag", "1.0.0", pipeline.EntryPointTagger, "node-b")
	spec, err := SpecFromEnvelope(env)
	require.NoError(t, err)
	assert.Equal(t, []string{"zap"}, spec.Dependencies)
	assert.Contains(t, spec.Source, "audit-tag")

	delete(env.Payload, "name")
	delete(env.Payload, "version")
	_, err = SpecFromEnvelope(env)
	assert.ErrorIs(t, err, ErrInvalidPublication)
	assert.Contains(t, err.Error(), "name, version")
}
