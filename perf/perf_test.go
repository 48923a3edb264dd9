package perf_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/testtarget"
	"github.com/wesleyorama2/surge/perf"
)

func TestRun(t *testing.T) {
	target := testtarget.New(testtarget.Config{}, nil)
	server := httptest.NewServer(target)
	defer server.Close()

	ts, err := perf.Thresholds(map[string][]string{
		"checks":          {"rate==1"},
		"http_req_failed": {"rate<0.01"},
		"teams_seen":      {"count>0"},
	})
	require.NoError(t, err)

	iterate := func(ctx context.Context, it *perf.Iteration) error {
		resp, err := it.HTTP.Get(ctx, it.HTTP.URL("/api/teams"), perf.RequestOptions{Name: "teams"})
		if err != nil {
			return err
		}
		it.Check("status is 200", resp.Status == http.StatusOK)
		return it.Record("teams_seen", perf.Counter, 1, nil)
	}

	cfg := &perf.Config{
		Kind:         perf.Constant,
		VUs:          2,
		Duration:     200 * time.Millisecond,
		GracefulStop: time.Second,
	}
	result, err := perf.Run(context.Background(), cfg, iterate, perf.Hooks{},
		perf.WithBaseURL(server.URL),
		perf.WithThresholds(ts),
		perf.WithThinkTime(perf.ThinkTime{Min: 5 * time.Millisecond}),
		perf.WithSeed(1),
	)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Positive(t, result.Iterations)
	assert.GreaterOrEqual(t, target.Requests(), result.Iterations)
}

func TestRun_SetupFailure(t *testing.T) {
	cfg := &perf.Config{Kind: perf.Constant, VUs: 1, Duration: time.Second}
	hooks := perf.Hooks{
		Setup: func(context.Context, *perf.HTTP) (any, error) {
			return nil, errors.New("no token")
		},
	}
	called := false
	result, err := perf.Run(context.Background(), cfg, func(context.Context, *perf.Iteration) error {
		called = true
		return nil
	}, hooks)
	require.ErrorIs(t, err, perf.ErrSetupFailed)
	assert.NotNil(t, result)
	assert.False(t, called)
}

func TestRun_InvalidConfig(t *testing.T) {
	_, err := perf.Run(context.Background(), &perf.Config{Kind: perf.Ramping}, func(context.Context, *perf.Iteration) error {
		return nil
	}, perf.Hooks{})
	assert.Error(t, err)
}

func TestThresholds(t *testing.T) {
	ts, err := perf.Thresholds(map[string][]string{"http_req_duration": {"p(95)<500"}})
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.False(t, ts[0].AbortOnFail)
	assert.True(t, perf.AbortOnFail(ts[0]).AbortOnFail)

	_, err = perf.Thresholds(map[string][]string{"http_req_duration": {"fast please"}})
	assert.Error(t, err)
}
