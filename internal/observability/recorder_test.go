package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgentKernel/internal/planner"
	"AgentKernel/internal/webextract"
)

type captureSink struct {
	name   string
	err    error
	traces []RunTrace
}

func (s *captureSink) Name() string { return s.name }

func (s *captureSink) Record(_ context.Context, t RunTrace) error {
	s.traces = append(s.traces, t)
	return s.err
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &captureSink{name: "ok"}
	bad := &captureSink{name: "bad", err: errors.New("down")}
	f := NewFanout(ok, bad, nil)

	err := f.Record(context.Background(), RunTrace{RunID: "r1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink bad: down")
	assert.Len(t, ok.traces, 1)
	assert.Equal(t, []string{"ok", "bad"}, f.Names())

	replacement := &captureSink{name: "bad"}
	f.Add(replacement)
	assert.NoError(t, f.Record(context.Background(), RunTrace{}))
	assert.Len(t, replacement.traces, 1)

	var nilFanout *Fanout
	assert.NoError(t, nilFanout.Record(context.Background(), RunTrace{}))
}

func TestRecorderPush(t *testing.T) {
	sink := &captureSink{name: "capture", err: errors.New("ignored")}
	r := NewRecorder(WithCapacity(2), WithSinks(sink), WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))

	r.Push(context.Background(), RunTrace{RunID: "a", ToolCalls: 1})
	r.Push(context.Background(), RunTrace{RunID: "b", MemoryHits: 2})
	r.Push(context.Background(), RunTrace{RunID: "c"})

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, "c", last.RunID)
	assert.Len(t, r.List(0), 2)
	assert.Len(t, sink.traces, 3)
	assert.Equal(t, Metrics{TotalRuns: 2, AvgMemoryHits: 1}, r.Metrics())
	assert.Equal(t, []string{"capture"}, r.Sinks())
}

func TestAuditSink(t *testing.T) {
	var buf bytes.Buffer
	sink := &AuditSink{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	err := sink.Record(context.Background(), RunTrace{
		RunID:     "run-1",
		StartedAt: start,
		EndedAt:   start.Add(1500 * time.Millisecond),
		Stage:     7,
		Mode:      planner.ModePlanner,
		ToolCalls: 1,
		WebExtractions: []webextract.Outcome{
			{URL: "https://a.com/", OK: true, Mode: webextract.ModeStatic, TextLength: 10},
		},
	})
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "run-1", record["run_id"])
	assert.Equal(t, "planner", record["mode"])
	assert.Equal(t, "OK(static,len=10)", record["web_extractions"])
	assert.EqualValues(t, 7, record["stage"])
}

func TestRunTraceJSON(t *testing.T) {
	raw, err := json.Marshal(RunTrace{RunID: "x", Mode: planner.ModeSingle, WebExtractions: []webextract.Outcome{}})
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, key := range []string{"runId", "startedAt", "endedAt", "stage", "mode", "perception", "memoryHits", "planSteps", "toolCalls", "safetyBlocked", "webExtractions", "toolLoopUsed"} {
		assert.Contains(t, fields, key)
	}
	assert.NotContains(t, fields, "toolCallRaw")
}
