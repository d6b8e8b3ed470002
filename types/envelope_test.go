package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_Rank(t *testing.T) {
	tests := []struct {
		level Level
		rank  int
	}{
		{LevelInfrastructure, 0},
		{LevelOperational, 1},
		{LevelWorkflow, 2},
		{LevelBusiness, 3},
		{Level("CRITICAL"), -1},
		{Level(""), -1},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			assert.Equal(t, tt.rank, tt.level.Rank())
			assert.Equal(t, tt.rank >= 0, tt.level.Valid())
		})
	}
}

func TestEnvelope_NormalizeAndClone(t *testing.T) {
	env := &EventEnvelope{Event: "job.completed", Source: "worker"}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	env.Normalize(now)

	require.NotEmpty(t, env.ID)
	assert.Equal(t, now, env.Timestamp)
	require.NotNil(t, env.Payload)

	env.Payload["job_id"] = "j1"
	cp := env.Clone()
	cp.Payload["job_id"] = "j2"
	cp.Payload[PayloadTrustFlags] = []string{"unknown_source"}

	assert.Equal(t, "j1", env.Payload["job_id"])
	_, leaked := env.Payload[PayloadTrustFlags]
	assert.False(t, leaked)
}

func TestEnvelope_RoundTrip(t *testing.T) {
	env := NewEnvelope("system.worker.crashed", "supervisor")
	env.Entity = "telec://worker/w1"
	env.Level = LevelOperational
	env.Payload["exit_code"] = 137

	data, err := env.Marshal()
	require.NoError(t, err)

	decoded, err := UnmarshalEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env.ID, decoded.ID)
	assert.Equal(t, env.Entity, decoded.Entity)
	// JSON 往返后数值变为 float64，但字符串化结果一致
	assert.Equal(t, env.StringField("exit_code"), decoded.StringField("exit_code"))
}

func TestEnvelope_PublicPayload(t *testing.T) {
	env := NewEnvelope("job.completed", "worker")
	env.Payload["job_id"] = "j1"
	env.Payload[PayloadEnrichment] = map[string]any{"x": 1}

	pub := env.PublicPayload()
	assert.Equal(t, map[string]any{"job_id": "j1"}, pub)
}

func TestEnvelope_IsRemote(t *testing.T) {
	env := NewEnvelope("job.completed", "worker")
	assert.False(t, env.IsRemote("node-a"))
	env.Origin = "node-a"
	assert.False(t, env.IsRemote("node-a"))
	env.Origin = "node-b"
	assert.True(t, env.IsRemote("node-a"))
}
