// Package script turns a declarative scenario into the iteration function
// and lifecycle hooks the engine runs.
package script

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/httpclient"
	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/config"
	"github.com/wesleyorama2/surge/internal/performance/engine"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// Script requests one scenario endpoint per iteration and validates the
// response with the scenario's checks.
type Script struct {
	endpoints []endpoint
	total     int
	checks    []check
	opts      httpclient.RequestOptions
	metrics   config.MetricsConfig
	setup     *config.SetupConfig
	logger    *zap.Logger
}

type endpoint struct {
	name   string
	path   string
	method string
	body   []byte

	// upper bound of this endpoint's slice of the cumulative weight
	cumulative int
}

// RunData is the setup result shared with every iteration and the
// teardown hook.
type RunData struct {
	Start time.Time
}

// New builds a script from a validated scenario.
func New(sc *config.Scenario, logger *zap.Logger) (*Script, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(sc.Endpoints) == 0 {
		return nil, fmt.Errorf("scenario has no endpoints")
	}

	s := &Script{
		opts: httpclient.RequestOptions{
			Timeout: sc.Request.Timeout.Or(config.DefaultRequestTimeout),
			Headers: sc.Request.Headers,
		},
		metrics: sc.Metrics,
		setup:   sc.Setup,
		logger:  logger,
	}

	for _, ep := range sc.Endpoints {
		weight := ep.Weight
		if weight <= 0 {
			weight = 1
		}
		s.total += weight

		e := endpoint{
			name:       ep.Name,
			path:       ep.Path,
			method:     strings.ToUpper(ep.Method),
			cumulative: s.total,
		}
		if e.name == "" {
			e.name = ep.Path
		}
		if e.method == "" {
			e.method = http.MethodGet
		}
		if ep.Body != "" {
			e.body = []byte(ep.Body)
		}
		s.endpoints = append(s.endpoints, e)
	}

	for i, c := range sc.Checks {
		chk, err := compileCheck(c)
		if err != nil {
			return nil, fmt.Errorf("checks[%d]: %w", i, err)
		}
		s.checks = append(s.checks, chk)
	}
	return s, nil
}

// Iterate is the performance.IterationFunc of the script.
//
// A transport failure fails every check and is returned as the iteration
// error. A response with a bad status is not an iteration error; it only
// fails the status check.
func (s *Script) Iterate(ctx context.Context, it *performance.Iteration) error {
	ep := s.pick(it.Rand)

	opts := s.opts
	opts.Name = ep.name
	start := time.Now()
	resp, err := it.HTTP.Do(ctx, ep.method, ep.path, ep.body, opts)
	elapsed := time.Since(start)
	if err != nil && ctx.Err() != nil {
		return err
	}

	passed := true
	for _, c := range s.checks {
		ok := resp != nil && err == nil && c.eval(resp)
		if !it.Check(c.name, ok) {
			passed = false
		}
	}

	tags := metrics.Tags{"name": ep.name}
	if s.metrics.ErrorRate != "" {
		if rerr := it.Record(s.metrics.ErrorRate, metrics.Rate, metrics.Bool(!passed), tags); rerr != nil {
			return rerr
		}
	}
	if s.metrics.SuccessCounter != "" && passed {
		if rerr := it.Record(s.metrics.SuccessCounter, metrics.Counter, 1, tags); rerr != nil {
			return rerr
		}
	}
	// Wall-clock time of the call, failed requests included.
	if s.metrics.DurationTrend != "" {
		ms := float64(elapsed) / float64(time.Millisecond)
		if rerr := it.Record(s.metrics.DurationTrend, metrics.Trend, ms, tags); rerr != nil {
			return rerr
		}
	}

	if err != nil {
		return fmt.Errorf("%s %s: %w", ep.method, ep.name, err)
	}
	return nil
}

// pick draws an endpoint by weight from the VU's random source.
func (s *Script) pick(r *rand.Rand) *endpoint {
	if len(s.endpoints) == 1 {
		return &s.endpoints[0]
	}
	n := r.Intn(s.total)
	i := sort.Search(len(s.endpoints), func(i int) bool {
		return s.endpoints[i].cumulative > n
	})
	return &s.endpoints[i]
}

// Hooks returns the setup and teardown hooks of the script.
func (s *Script) Hooks() engine.Hooks {
	h := engine.Hooks{Setup: s.Setup, Teardown: s.Teardown}
	if s.setup != nil {
		h.SetupTimeout = s.setup.Timeout.Or(config.DefaultSetupTimeout)
	}
	return h
}

// Setup probes the health check endpoint, if one is configured, and fails
// the run when it does not answer with the expected status.
func (s *Script) Setup(ctx context.Context, h *performance.HTTP) (any, error) {
	data := &RunData{Start: time.Now()}
	if s.setup == nil || s.setup.HealthCheck == "" {
		return data, nil
	}

	want := s.setup.ExpectStatus
	if want == 0 {
		want = config.DefaultExpectStatus
	}

	opts := s.opts
	opts.Name = "setup"
	resp, err := h.Get(ctx, s.setup.HealthCheck, opts)
	if err != nil {
		return nil, fmt.Errorf("health check %s: %w", h.URL(s.setup.HealthCheck), err)
	}
	if resp.Status != want {
		return nil, fmt.Errorf("health check %s returned status %d, expected %d",
			h.URL(s.setup.HealthCheck), resp.Status, want)
	}

	s.logger.Info("health check passed", zap.String("url", h.URL(s.setup.HealthCheck)), zap.Int("status", resp.Status))
	return data, nil
}

// Teardown reports how long the test ran since setup.
func (s *Script) Teardown(ctx context.Context, h *performance.HTTP, data any) error {
	rd, ok := data.(*RunData)
	if !ok {
		return nil
	}
	s.logger.Info("test completed", zap.Duration("elapsed", time.Since(rd.Start).Round(time.Millisecond)))
	return nil
}
