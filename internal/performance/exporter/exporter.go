// Package exporter exposes live run metrics in the Prometheus format.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/performance/engine"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// Namespace prefixes every exported metric.
const Namespace = "surge"

// quantiles exported for trend series.
var quantiles = []float64{0.5, 0.9, 0.95, 0.99}

// Exporter is a prometheus.Collector that renders a collector snapshot on
// every scrape. Submetrics are not exported. It also implements
// engine.Observer to publish the run status.
type Exporter struct {
	collector *metrics.Collector
	labels    prometheus.Labels

	mu     sync.Mutex
	status engine.Status
	runID  string
}

// New creates an exporter for c. labels are attached to every metric.
func New(c *metrics.Collector, labels map[string]string) *Exporter {
	return &Exporter{
		collector: c,
		labels:    prometheus.Labels(labels),
		status:    engine.StatusPending,
	}
}

// OnStatus records the run status and ID.
func (e *Exporter) OnStatus(ev engine.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = ev.Status
	if ev.RunID != "" {
		e.runID = ev.RunID
	}
}

// Describe sends nothing: the series set grows while the test runs, which
// makes this an unchecked collector.
func (e *Exporter) Describe(chan<- *prometheus.Desc) {}

// Collect renders the current snapshot.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	e.mu.Lock()
	status, runID := e.status, e.runID
	e.mu.Unlock()

	if runID != "" {
		info := prometheus.NewDesc(Namespace+"_run_info", "Identifies the current run.", []string{"run_id"}, e.labels)
		ch <- prometheus.MustNewConstMetric(info, prometheus.GaugeValue, 1, runID)
	}
	statusDesc := prometheus.NewDesc(Namespace+"_run_status", "Current run status (1 for the active status).", []string{"status"}, e.labels)
	ch <- prometheus.MustNewConstMetric(statusDesc, prometheus.GaugeValue, 1, string(status))

	snap := e.collector.Snapshot()
	elapsed := prometheus.NewDesc(Namespace+"_elapsed_seconds", "Time since the run started.", nil, e.labels)
	ch <- prometheus.MustNewConstMetric(elapsed, prometheus.GaugeValue, snap.Elapsed.Seconds())

	for _, name := range snap.Names() {
		s, _ := snap.Get(name)
		if s.Parent != "" {
			continue
		}
		e.collectSeries(ch, s)
	}
}

func (e *Exporter) collectSeries(ch chan<- prometheus.Metric, s *metrics.SeriesSnapshot) {
	base := Namespace + "_" + sanitize(s.Name)

	switch s.Kind {
	case metrics.Counter:
		desc := prometheus.NewDesc(base+"_total", "Counter "+s.Name+".", nil, e.labels)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, s.Sum)

	case metrics.Gauge:
		desc := prometheus.NewDesc(base, "Gauge "+s.Name+".", nil, e.labels)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, s.Value)

	case metrics.Rate:
		ratio := prometheus.NewDesc(base+"_ratio", "Share of true samples of rate "+s.Name+".", nil, e.labels)
		ch <- prometheus.MustNewConstMetric(ratio, prometheus.GaugeValue, s.Rate())
		total := prometheus.NewDesc(base+"_samples_total", "Samples of rate "+s.Name+" by outcome.", []string{"outcome"}, e.labels)
		ch <- prometheus.MustNewConstMetric(total, prometheus.CounterValue, float64(s.Trues), "true")
		ch <- prometheus.MustNewConstMetric(total, prometheus.CounterValue, float64(s.Fails()), "false")

	case metrics.Trend:
		q := make(map[float64]float64, len(quantiles))
		for _, p := range quantiles {
			q[p] = s.Percentile(p * 100)
		}
		desc := prometheus.NewDesc(base, "Trend "+s.Name+".", nil, e.labels)
		ch <- prometheus.MustNewConstSummary(desc, uint64(s.Count), s.Sum, q)
	}
}

// sanitize maps a metric name onto the Prometheus name alphabet.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
			return r
		default:
			return '_'
		}
	}, name)
}

// Handler returns an HTTP handler serving only this exporter's metrics.
func Handler(e *Exporter) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(e)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Server serves /metrics while a run is going.
type Server struct {
	srv    *http.Server
	addr   string
	logger *zap.Logger
	done   chan struct{}
}

// Serve starts serving e on addr in the background.
func Serve(addr string, e *Exporter, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(e))

	s := &Server{
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		addr:   ln.Addr().String(),
		logger: logger,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", s.addr))
	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}
