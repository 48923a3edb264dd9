package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/engine"
	"github.com/wesleyorama2/surge/internal/performance/executor"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
	"github.com/wesleyorama2/surge/internal/performance/rate"
	"github.com/wesleyorama2/surge/internal/performance/threshold"
)

// sampleResult builds a sealed result with one series of every kind.
func sampleResult(t *testing.T) *engine.Result {
	t.Helper()

	c := metrics.NewCollector()
	c.AddSubmetric(performance.MetricHTTPReqDuration, metrics.Tags{"name": "teams"})
	for i := 1; i <= 100; i++ {
		require.NoError(t, c.Record(performance.MetricHTTPReqDuration, metrics.Trend, float64(i), metrics.Tags{"name": "teams"}))
		require.NoError(t, c.Record(performance.MetricHTTPReqs, metrics.Counter, 1, nil))
		require.NoError(t, c.Record(performance.MetricHTTPReqFailed, metrics.Rate, metrics.Bool(i%10 == 0), nil))
		require.NoError(t, c.Record(performance.MetricDataReceived, metrics.Counter, 2048, nil))
	}
	require.NoError(t, c.Record(performance.MetricVUs, metrics.Gauge, 5, nil))
	require.NoError(t, c.Record(performance.MetricVUs, metrics.Gauge, 10, nil))
	require.NoError(t, c.Record("queue_depth", metrics.Trend, 3.5, nil))
	c.Freeze()
	snap := c.Snapshot()

	ts, err := threshold.ParseSet(map[string][]threshold.Definition{
		"http_req_duration": {{Expression: "p(95)<50"}},
		"http_req_failed":   {{Expression: "rate<0.2", AbortOnFail: true}},
		"missing":           {{Expression: "count>0"}},
	})
	require.NoError(t, err)
	results := threshold.Evaluate(snap, ts)

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &engine.Result{
		ID:       "run-1",
		Scenario: "kickoff",
		Status:   engine.StatusSealed,
		Config: &executor.Config{
			Kind: executor.KindConstant, VUs: 10, Duration: time.Minute,
		},
		StartTime:        start,
		EndTime:          start.Add(61 * time.Second),
		Duration:         61 * time.Second,
		Snapshot:         snap,
		Thresholds:       results,
		Passed:           threshold.Passed(results),
		Iterations:       100,
		FailedIterations: 2,
		Interrupted:      1,
		MaxVUs:           10,
		TeardownError:    errors.New("cleanup failed"),
		RateLimit:        rate.Stats{Rate: 50, Granted: 3000, TotalWait: 90 * time.Second},
	}
}

func newTestConsole(buf *bytes.Buffer, quiet bool) *Console {
	return NewConsole(ConsoleConfig{Writer: buf, Quiet: quiet, NoColor: true})
}

func TestConsole_PrintSummary(t *testing.T) {
	var buf bytes.Buffer
	c := newTestConsole(&buf, false)
	assert.False(t, c.IsTTY())

	c.PrintSummary(sampleResult(t))
	out := buf.String()

	for _, want := range []string{
		"scenario: kickoff",
		"executor: constant, 10 max VUs, 1m00s",
		"THRESHOLDS",
		"✗ http_req_duration: p(95)<50",
		"✓ http_req_failed: rate<0.2 (observed 0.10)",
		"✗ missing: count>0 (undefined metric)",
		"METRICS",
		"http_req_failed",
		"10.00%",
		"✓ 10",
		"✗ 90",
		"http_reqs",
		"100",
		"data_received",
		"204.8 kB",
		"  {name:teams}",
		"avg=50.50ms",
		"vus",
		"min=5 max=10",
		"queue_depth",
		"avg=3.50",
		"iterations: 100 complete, 1 interrupted, 2 failed",
		"rate limit: 50 req/s, 3,000 requests admitted, 1m30s spent waiting",
		"teardown error: cleanup failed",
		"FAILED (thresholds breached)",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "\033[", "no colours when disabled")
}

func TestConsole_Verdicts(t *testing.T) {
	r := sampleResult(t)

	tests := []struct {
		name   string
		mutate func(r *engine.Result)
		want   string
	}{
		{"passed", func(r *engine.Result) { r.Passed = true }, "PASSED"},
		{"thresholds", func(r *engine.Result) { r.Passed = false }, "FAILED (thresholds breached)"},
		{"aborted", func(r *engine.Result) { r.AbortedBy = &r.Thresholds[0] }, "FAILED (aborted by threshold"},
		{"setup", func(r *engine.Result) { r.Status = engine.StatusFailed }, "FAILED (run did not complete)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := *r
			tt.mutate(&cp)

			var buf bytes.Buffer
			newTestConsole(&buf, true).PrintSummary(&cp)
			assert.Equal(t, tt.want, strings.TrimSpace(buf.String())[:len(tt.want)])
		})
	}
}

func TestConsole_ProgressLine(t *testing.T) {
	c := metrics.NewCollector()
	for i := 1; i <= 100; i++ {
		require.NoError(t, c.Record(performance.MetricHTTPReqDuration, metrics.Trend, float64(i), nil))
	}

	var buf bytes.Buffer
	con := newTestConsole(&buf, false)
	con.OnProgress(engine.Progress{
		Elapsed: 12 * time.Second,
		Executor: executor.Stats{
			TotalDuration:    time.Minute,
			Progress:         0.2,
			RunningVUs:       8,
			TargetVUs:        10,
			CurrentStage:     1,
			TotalStages:      3,
			CurrentStageName: "ramp",
		},
		Iterations: 1234,
		Collector:  c,
	})

	line := buf.String()
	assert.True(t, strings.HasSuffix(line, "\n"), "non-terminal output prints whole lines")
	assert.Contains(t, line, "running (12.0s/1m00s)")
	assert.Contains(t, line, "20%")
	assert.Contains(t, line, "8/10 VUs")
	assert.Contains(t, line, "1,234 complete iterations")
	assert.Contains(t, line, "p95(10.0s)=95.")
	assert.Contains(t, line, "stage 2/3 ramp")
}

func TestConsole_ProgressWithoutSamples(t *testing.T) {
	var buf bytes.Buffer
	con := NewConsole(ConsoleConfig{Writer: &buf, NoColor: true, ForceTTY: true, Window: 5 * time.Second})
	assert.True(t, con.IsTTY())

	con.OnProgress(engine.Progress{Collector: metrics.NewCollector()})
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\r\033[2K"), "terminal output rewrites the line")
	assert.Contains(t, out, "p95(5.0s)=-")

	con.OnStatus(engine.Event{Status: engine.StatusSealed})
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestConsole_StatusAndQuiet(t *testing.T) {
	var buf bytes.Buffer
	con := newTestConsole(&buf, false)
	con.OnStatus(engine.Event{RunID: "abc", Status: engine.StatusRunning})
	con.OnStatus(engine.Event{Status: engine.StatusDraining})
	con.OnStatus(engine.Event{Status: engine.StatusFailed, Err: errors.New("setup failed: down")})

	out := buf.String()
	assert.Contains(t, out, "run abc started")
	assert.Contains(t, out, "waiting for VUs")
	assert.Contains(t, out, "run failed: setup failed: down")

	var quiet bytes.Buffer
	q := newTestConsole(&quiet, true)
	q.OnStatus(engine.Event{Status: engine.StatusRunning})
	q.OnProgress(engine.Progress{})
	assert.Empty(t, quiet.String())
}

func TestNewSummary(t *testing.T) {
	s := NewSummary(sampleResult(t))

	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, "sealed", s.Status)
	assert.False(t, s.Passed)
	assert.Equal(t, "constant", s.Executor)
	assert.Equal(t, 61.0, s.DurationSeconds)
	assert.Equal(t, "cleanup failed", s.TeardownError)
	assert.Len(t, s.Thresholds, 3)
	require.NotNil(t, s.RateLimit)
	assert.Equal(t, int64(3000), s.RateLimit.Granted)
	assert.Equal(t, 90.0, s.RateLimit.TotalWaitSeconds)

	dur := s.Metrics[performance.MetricHTTPReqDuration]
	assert.Equal(t, "trend", dur.Type)
	assert.InDelta(t, 50.5, dur.Values["avg"], 1e-9)
	assert.InDelta(t, 95, dur.Values["p(95)"], 0.1)
	assert.Equal(t, map[string]bool{"p(95)<50": false}, dur.Thresholds)

	failed := s.Metrics[performance.MetricHTTPReqFailed]
	assert.Equal(t, "rate", failed.Type)
	assert.InDelta(t, 0.1, failed.Values["rate"], 1e-9)
	assert.Equal(t, map[string]bool{"rate<0.2": true}, failed.Thresholds)

	vus := s.Metrics[performance.MetricVUs]
	assert.Equal(t, 10.0, vus.Values["value"])

	_, ok := s.Metrics["http_req_duration{name:teams}"]
	assert.True(t, ok)
}

func TestExportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, ExportFile(path, sampleResult(t)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1", decoded["runId"])
	assert.Contains(t, decoded["metrics"], "http_reqs")

	assert.Error(t, ExportFile(filepath.Join(t.TempDir(), "missing", "x.json"), sampleResult(t)))
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "500ms", formatDuration(500*time.Millisecond))
	assert.Equal(t, "1.5s", formatDuration(1500*time.Millisecond))
	assert.Equal(t, "2m05s", formatDuration(125*time.Second))
	assert.Equal(t, "1h01m01s", formatDuration(time.Hour+61*time.Second))

	assert.Equal(t, "0s", formatMillis(0))
	assert.Equal(t, "500.00µs", formatMillis(0.5))
	assert.Equal(t, "12.50ms", formatMillis(12.5))
	assert.Equal(t, "1.50s", formatMillis(1500))

	assert.Equal(t, "999 B", formatBytes(999))
	assert.Equal(t, "1.5 kB", formatBytes(1500))
	assert.Equal(t, "2.0 MB", formatBytes(2e6))

	assert.Equal(t, "1,234,567", formatNumber(1234567))
	assert.Equal(t, "-1,000", formatNumber(-1000))
	assert.Equal(t, "3", formatFloat(3))
	assert.Equal(t, "3.14", formatFloat(3.14159))
}
