package performance

import (
	"context"
	"strconv"
	"time"

	"github.com/wesleyorama2/surge/internal/httpclient"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
	"github.com/wesleyorama2/surge/internal/performance/rate"
)

// HTTP is the request capability handed to iterations and hooks. Every
// request is recorded into the collector, including those that fail on a
// caller deadline or cancellation. Only requests cut short by the stop
// context set with StopOn go unrecorded.
type HTTP struct {
	client    *httpclient.Client
	collector *metrics.Collector
	limiter   *rate.Limiter
	tags      metrics.Tags
	stop      context.Context
}

// NewHTTP creates a request capability. A nil collector disables
// recording, which is how lifecycle hooks issue requests without skewing
// run metrics. A nil limiter disables rate capping.
func NewHTTP(client *httpclient.Client, collector *metrics.Collector, limiter *rate.Limiter, tags metrics.Tags) *HTTP {
	return &HTTP{client: client, collector: collector, limiter: limiter, tags: tags}
}

// StopOn sets the context whose cancellation marks a hard stop of the run.
// It returns h.
func (h *HTTP) StopOn(stop context.Context) *HTTP {
	h.stop = stop
	return h
}

// URL resolves a path against the client base URL.
func (h *HTTP) URL(path string) string {
	return h.client.Resolve(path)
}

// Get issues a GET request.
func (h *HTTP) Get(ctx context.Context, url string, opts httpclient.RequestOptions) (*httpclient.Response, error) {
	return h.Do(ctx, "GET", url, nil, opts)
}

// Do issues a request, waiting for the rate limiter first.
func (h *HTTP) Do(ctx context.Context, method, url string, body []byte, opts httpclient.RequestOptions) (*httpclient.Response, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := h.client.Do(ctx, method, url, body, opts)
	if h.stop != nil && h.stop.Err() != nil {
		// Interrupted by a hard stop, not a property of the target.
		return resp, err
	}

	h.record(method, url, opts.Name, len(body), start, resp, err)
	return resp, err
}

func (h *HTTP) record(method, url, name string, sent int, start time.Time, resp *httpclient.Response, err error) {
	if h.collector == nil {
		return
	}
	if name == "" {
		name = url
	}

	now := time.Now()
	status := 0
	if resp != nil {
		status = resp.Status
	}
	failed := err != nil || status < 200 || status >= 400

	tags := make(metrics.Tags, len(h.tags)+4)
	for k, v := range h.tags {
		tags[k] = v
	}
	tags["method"] = method
	tags["name"] = name
	tags["status"] = strconv.Itoa(status)
	tags["expected_response"] = strconv.FormatBool(!failed)

	add := func(metric string, kind metrics.Kind, value float64) {
		_ = h.collector.Add(metrics.Sample{Metric: metric, Kind: kind, Value: value, Tags: tags, Time: now})
	}

	add(MetricHTTPReqs, metrics.Counter, 1)
	add(MetricHTTPReqFailed, metrics.Rate, metrics.Bool(failed))
	add(MetricDataSent, metrics.Counter, float64(sent))

	if resp == nil {
		add(MetricHTTPReqDuration, metrics.Trend, millis(now.Sub(start)))
		return
	}

	tm := resp.Timings
	add(MetricHTTPReqDuration, metrics.Trend, millis(tm.Duration))
	add(MetricHTTPReqBlocked, metrics.Trend, millis(tm.Blocked))
	add(MetricHTTPReqConnecting, metrics.Trend, millis(tm.Connecting))
	add(MetricHTTPReqTLS, metrics.Trend, millis(tm.TLSHandshaking))
	add(MetricHTTPReqSending, metrics.Trend, millis(tm.Sending))
	add(MetricHTTPReqWaiting, metrics.Trend, millis(tm.Waiting))
	add(MetricHTTPReqReceiving, metrics.Trend, millis(tm.Receiving))
	add(MetricDataReceived, metrics.Counter, float64(len(resp.Body)))
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
