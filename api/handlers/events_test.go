package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/eventflow/node"
	"github.com/BaSui01/eventflow/pipeline"
	"github.com/BaSui01/eventflow/types"
)

type fakeSubmitter struct {
	submitted []*types.EventEnvelope
	processed []*types.EventEnvelope
	err       error
	report    *pipeline.RunReport
}

func (f *fakeSubmitter) Submit(ctx context.Context, env *types.EventEnvelope) error {
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, env)
	return nil
}

func (f *fakeSubmitter) Process(ctx context.Context, env *types.EventEnvelope) (*pipeline.RunReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.processed = append(f.processed, env)
	return f.report, nil
}

const validEvent = `{
	"id": "evt-1",
	"event": "job.failed",
	"source": "scheduler",
	"level": "WORKFLOW",
	"domain": "jobs",
	"entity": "job-7",
	"payload": {"job_id": "job-7"},
	"timestamp": "2026-03-01T12:00:00Z"
}`

func newEventMux(t *testing.T, sub EventSubmitter) *http.ServeMux {
	mux := http.NewServeMux()
	NewEventHandler(sub, zaptest.NewLogger(t)).Register(mux)
	return mux
}

func postEvent(mux http.Handler, path, body, contentType string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func TestEventHandler_SubmitAccepted(t *testing.T) {
	sub := &fakeSubmitter{}
	w := postEvent(newEventMux(t, sub), "/api/v1/events", validEvent, "application/json")

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, sub.submitted, 1)
	env := sub.submitted[0]
	assert.Equal(t, "job.failed", env.Event)
	assert.Equal(t, types.LevelWorkflow, env.Level)
	assert.Equal(t, "job-7", env.Entity)
	assert.Equal(t, "job-7", env.Payload["job_id"])
	assert.Equal(t, 2026, env.Timestamp.Year())

	var accepted EventAccepted
	decodeData(t, decodeResponse(t, w), &accepted)
	assert.Equal(t, "evt-1", accepted.ID)
}

func TestEventHandler_WaitReturnsReport(t *testing.T) {
	sub := &fakeSubmitter{report: &pipeline.RunReport{
		EnvelopeID: "evt-1",
		Event:      "job.failed",
		DroppedBy:  "dedup",
		DropReason: "duplicate",
	}}
	w := postEvent(newEventMux(t, sub), "/api/v1/events?wait=true", validEvent, "application/json")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, sub.submitted)
	require.Len(t, sub.processed, 1)

	var report pipeline.RunReport
	decodeData(t, decodeResponse(t, w), &report)
	assert.Equal(t, "dedup", report.DroppedBy)
	assert.False(t, report.Completed)
}

func TestEventHandler_Errors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		body        string
		contentType string
		wantStatus  int
		wantCode    types.ErrorCode
	}{
		{"wrong content type", nil, validEvent, "text/plain", http.StatusUnsupportedMediaType, types.ErrInvalidRequest},
		{"malformed body", nil, `{"event":`, "application/json", http.StatusBadRequest, types.ErrInvalidRequest},
		{"invalid envelope", fmt.Errorf("%w: source is required", node.ErrInvalidEnvelope), validEvent, "application/json", http.StatusBadRequest, types.ErrInvalidRequest},
		{"queue full", pipeline.ErrQueueFull, validEvent, "application/json", http.StatusServiceUnavailable, types.ErrServiceUnavailable},
		{"closed", pipeline.ErrRuntimeClosed, validEvent, "application/json", http.StatusServiceUnavailable, types.ErrPipelineClosed},
		{"unexpected", fmt.Errorf("boom"), validEvent, "application/json", http.StatusInternalServerError, types.ErrInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{err: tt.err}
			w := postEvent(newEventMux(t, sub), "/api/v1/events", tt.body, tt.contentType)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeResponse(t, w)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.wantCode), resp.Error.Code)
		})
	}
}

func TestEventHandler_QueueFullIsRetryable(t *testing.T) {
	w := postEvent(newEventMux(t, &fakeSubmitter{err: pipeline.ErrQueueFull}), "/api/v1/events", validEvent, "application/json")

	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.True(t, resp.Error.Retryable)
}
