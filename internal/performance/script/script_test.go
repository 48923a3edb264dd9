package script

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wesleyorama2/surge/internal/httpclient"
	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/config"
	"github.com/wesleyorama2/surge/internal/performance/engine"
	"github.com/wesleyorama2/surge/internal/performance/executor"
)

// createTestServer mimics a small JSON API with a health endpoint.
func createTestServer(t *testing.T, healthy *atomic.Bool) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			if !healthy.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case "/api/teams":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok","teams":[{"id":1,"name":"Lions"},{"id":2,"name":"Tigers"}]}`))
		case "/api/text":
			_, _ = w.Write([]byte(`plain text`))
		case "/api/broken":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"status":"error"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func ptr[T any](v T) *T { return &v }

func runScript(t *testing.T, sc *config.Scenario, d time.Duration) (*engine.Result, error) {
	t.Helper()

	s, err := New(sc, zaptest.NewLogger(t))
	require.NoError(t, err)

	cfg := &executor.Config{
		Name:         sc.ScenarioName(),
		Kind:         executor.KindConstant,
		VUs:          1,
		Duration:     d,
		GracefulStop: time.Second,
		TickInterval: 10 * time.Millisecond,
	}
	eng, err := engine.New(cfg, s.Iterate, s.Hooks(),
		engine.WithHTTPConfig(sc.HTTPConfig()),
		engine.WithClientOptions(httpclient.WithBaseURL(sc.BaseURL)),
		engine.WithThinkTime(performance.ThinkTime{Min: 2 * time.Millisecond}),
		engine.WithSeed(42),
	)
	require.NoError(t, err)
	return eng.Run(context.Background())
}

func TestScript_ChecksAndCustomMetrics(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	server := createTestServer(t, &healthy)

	sc := &config.Scenario{
		Name:      "api",
		BaseURL:   server.URL,
		Endpoints: []config.Endpoint{{Path: "/api/teams", Name: "teams"}},
		Checks: []config.CheckConfig{
			{Type: config.CheckStatus},
			{Type: config.CheckDuration, Max: config.Duration(5 * time.Second)},
			{Type: config.CheckJSON},
			{Type: config.CheckBody, Contains: "Tigers"},
			{Type: config.CheckJSONPath, Path: "$.teams[1].name", Equals: ptr("Tigers")},
			{Type: config.CheckJSONPath, Path: "teams.0.id"},
			{Type: config.CheckSchema, Schema: map[string]any{
				"type":     "object",
				"required": []any{"teams"},
			}},
		},
		Metrics: config.MetricsConfig{
			ErrorRate:      "errors",
			SuccessCounter: "successful_requests",
			DurationTrend:  "custom_request_duration",
		},
		Setup: &config.SetupConfig{HealthCheck: "/health"},
	}

	result, err := runScript(t, sc, 100*time.Millisecond)
	require.NoError(t, err)

	snap := result.Snapshot
	checks, ok := snap.Get(performance.MetricChecks)
	require.True(t, ok)
	assert.Equal(t, 1.0, checks.Rate(), "every check passes")
	assert.Equal(t, result.Iterations*7, checks.Count)

	errs, ok := snap.Get("errors")
	require.True(t, ok)
	assert.Equal(t, 0.0, errs.Rate())

	success, ok := snap.Get("successful_requests")
	require.True(t, ok)
	assert.Equal(t, float64(result.Iterations), success.Sum)

	trend, ok := snap.Get("custom_request_duration")
	require.True(t, ok)
	assert.Equal(t, result.Iterations, trend.Count)

	failed, ok := snap.Get(performance.MetricIterationFailed)
	require.True(t, ok)
	assert.Equal(t, 0.0, failed.Rate())
}

func TestScript_FailingChecks(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	server := createTestServer(t, &healthy)

	sc := &config.Scenario{
		BaseURL:   server.URL,
		Endpoints: []config.Endpoint{{Path: "/api/text"}},
		Checks: []config.CheckConfig{
			{Type: config.CheckStatus, Status: 200},
			{Type: config.CheckJSON},
			{Type: config.CheckJSONPath, Path: "status"},
		},
		Metrics: config.MetricsConfig{ErrorRate: "errors", SuccessCounter: "ok_count"},
	}

	result, err := runScript(t, sc, 100*time.Millisecond)
	require.NoError(t, err)

	snap := result.Snapshot
	checks, _ := snap.Get(performance.MetricChecks)
	assert.Equal(t, result.Iterations, checks.Trues, "only the status check passes")

	errs, _ := snap.Get("errors")
	assert.Equal(t, 1.0, errs.Rate())

	_, ok := snap.Get("ok_count")
	assert.False(t, ok, "no iteration passed every check")

	failed, _ := snap.Get(performance.MetricIterationFailed)
	assert.Equal(t, 0.0, failed.Rate(), "failed checks do not fail the iteration")
}

func TestScript_TransportErrorFailsIteration(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	sc := &config.Scenario{
		BaseURL:   url,
		Request:   config.RequestConfig{Timeout: config.Duration(time.Second)},
		Endpoints: []config.Endpoint{{Path: "/"}},
		Checks:    []config.CheckConfig{{Type: config.CheckStatus}},
		Metrics:   config.MetricsConfig{ErrorRate: "errors", DurationTrend: "custom_request_duration"},
	}

	result, err := runScript(t, sc, 50*time.Millisecond)
	require.NoError(t, err)

	failed, ok := result.Snapshot.Get(performance.MetricIterationFailed)
	require.True(t, ok)
	assert.Equal(t, 1.0, failed.Rate())

	checks, _ := result.Snapshot.Get(performance.MetricChecks)
	assert.Zero(t, checks.Trues)

	errs, _ := result.Snapshot.Get("errors")
	assert.Equal(t, 1.0, errs.Rate())

	trend, ok := result.Snapshot.Get("custom_request_duration")
	require.True(t, ok, "failed requests still feed the duration trend")
	assert.Positive(t, trend.Count)
	assert.Equal(t, failed.Count, trend.Count)
}

func TestScript_SetupHealthCheckFails(t *testing.T) {
	var healthy atomic.Bool
	server := createTestServer(t, &healthy)

	sc := &config.Scenario{
		BaseURL:   server.URL,
		Endpoints: []config.Endpoint{{Path: "/api/teams"}},
		Setup:     &config.SetupConfig{HealthCheck: "/health", Timeout: config.Duration(time.Second)},
	}

	result, err := runScript(t, sc, 100*time.Millisecond)
	require.ErrorIs(t, err, engine.ErrSetupFailed)
	assert.Contains(t, err.Error(), "returned status 503, expected 200")
	assert.Equal(t, engine.StatusFailed, result.Status)
	assert.Zero(t, result.Iterations)
}

func TestScript_SetupExpectStatus(t *testing.T) {
	var healthy atomic.Bool
	server := createTestServer(t, &healthy)

	sc := &config.Scenario{
		BaseURL:   server.URL,
		Endpoints: []config.Endpoint{{Path: "/api/teams"}},
		Setup:     &config.SetupConfig{HealthCheck: "/health", ExpectStatus: 503},
	}
	result, err := runScript(t, sc, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSealed, result.Status)
}

func TestScript_SetupWithoutHealthCheck(t *testing.T) {
	s, err := New(&config.Scenario{Endpoints: []config.Endpoint{{Path: "/"}}}, nil)
	require.NoError(t, err)

	data, err := s.Setup(context.Background(), nil)
	require.NoError(t, err)
	rd, ok := data.(*RunData)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), rd.Start, time.Second)

	assert.NoError(t, s.Teardown(context.Background(), nil, rd))
	assert.NoError(t, s.Teardown(context.Background(), nil, "unexpected"))

	h := s.Hooks()
	assert.NotNil(t, h.Setup)
	assert.NotNil(t, h.Teardown)
	assert.Zero(t, h.SetupTimeout)
}

func TestScript_PickHonorsWeights(t *testing.T) {
	s, err := New(&config.Scenario{Endpoints: []config.Endpoint{
		{Path: "/a", Weight: 1},
		{Path: "/b", Weight: 3},
		{Path: "/c"},
	}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, s.total, "a missing weight counts as 1")

	counts := map[string]int{}
	r := rand.New(rand.NewSource(1))
	const draws = 10000
	for i := 0; i < draws; i++ {
		counts[s.pick(r).path]++
	}
	assert.InDelta(t, 0.2, float64(counts["/a"])/draws, 0.03)
	assert.InDelta(t, 0.6, float64(counts["/b"])/draws, 0.03)
	assert.InDelta(t, 0.2, float64(counts["/c"])/draws, 0.03)
}

func TestScript_PickIsDeterministic(t *testing.T) {
	s, err := New(&config.Scenario{Endpoints: []config.Endpoint{
		{Path: "/a"}, {Path: "/b"}, {Path: "/c"}, {Path: "/d"}, {Path: "/e"},
	}}, nil)
	require.NoError(t, err)

	sequence := func(seed int64) []string {
		r := rand.New(rand.NewSource(seed))
		out := make([]string, 20)
		for i := range out {
			out[i] = s.pick(r).path
		}
		return out
	}
	assert.Equal(t, sequence(7), sequence(7))
	assert.NotEqual(t, sequence(7), sequence(8))
}

func TestScript_EndpointDefaults(t *testing.T) {
	s, err := New(&config.Scenario{Endpoints: []config.Endpoint{
		{Path: "/a"},
		{Path: "/b", Name: "create", Method: "post", Body: `{"x":1}`},
	}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "/a", s.endpoints[0].name)
	assert.Equal(t, http.MethodGet, s.endpoints[0].method)
	assert.Nil(t, s.endpoints[0].body)

	assert.Equal(t, "create", s.endpoints[1].name)
	assert.Equal(t, http.MethodPost, s.endpoints[1].method)
	assert.Equal(t, []byte(`{"x":1}`), s.endpoints[1].body)
	assert.Equal(t, config.DefaultRequestTimeout, s.opts.Timeout)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(&config.Scenario{}, nil)
	assert.Error(t, err)

	_, err = New(&config.Scenario{
		Endpoints: []config.Endpoint{{Path: "/"}},
		Checks:    []config.CheckConfig{{Type: "xml"}},
	}, nil)
	assert.Error(t, err)
}

func TestCompileCheck(t *testing.T) {
	resp := &httpclient.Response{
		Status:  201,
		Body:    []byte(`{"user":{"name":"ada","tags":["a","b"]},"meta":null}`),
		Timings: httpclient.Timings{Duration: 120 * time.Millisecond},
	}

	tests := []struct {
		name  string
		check config.CheckConfig
		want  bool
	}{
		{"status default 200", config.CheckConfig{Type: config.CheckStatus}, false},
		{"status 201", config.CheckConfig{Type: config.CheckStatus, Status: 201}, true},
		{"duration under", config.CheckConfig{Type: config.CheckDuration, Max: config.Duration(200 * time.Millisecond)}, true},
		{"duration over", config.CheckConfig{Type: config.CheckDuration, Max: config.Duration(100 * time.Millisecond)}, false},
		{"json", config.CheckConfig{Type: config.CheckJSON}, true},
		{"body", config.CheckConfig{Type: config.CheckBody}, true},
		{"body contains", config.CheckConfig{Type: config.CheckBody, Contains: "ada"}, true},
		{"body missing", config.CheckConfig{Type: config.CheckBody, Contains: "grace"}, false},
		{"path exists", config.CheckConfig{Type: config.CheckJSONPath, Path: "$.user.tags[1]"}, true},
		{"path equals", config.CheckConfig{Type: config.CheckJSONPath, Path: "user.name", Equals: ptr("ada")}, true},
		{"path differs", config.CheckConfig{Type: config.CheckJSONPath, Path: "user.name", Equals: ptr("grace")}, false},
		{"path null", config.CheckConfig{Type: config.CheckJSONPath, Path: "$.meta", Equals: ptr("null")}, true},
		{"path missing", config.CheckConfig{Type: config.CheckJSONPath, Path: "$.user.age"}, false},
		{"schema", config.CheckConfig{Type: config.CheckSchema, Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"user": map[string]any{"type": "object"}},
		}}, true},
		{"schema mismatch", config.CheckConfig{Type: config.CheckSchema, Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"user": map[string]any{"type": "string"}},
		}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chk, err := compileCheck(tt.check)
			require.NoError(t, err)
			assert.Equal(t, tt.check.DisplayName(), chk.name)
			assert.Equal(t, tt.want, chk.eval(resp))
		})
	}

	empty := &httpclient.Response{Status: 200}
	chk, err := compileCheck(config.CheckConfig{Type: config.CheckBody})
	require.NoError(t, err)
	assert.False(t, chk.eval(empty), "an empty body fails the body check")
}
