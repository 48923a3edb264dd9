package performance

import "github.com/wesleyorama2/surge/internal/performance/metrics"

// Built-in metric names.
const (
	MetricVUs               = "vus"
	MetricVUsMax            = "vus_max"
	MetricIterations        = "iterations"
	MetricIterationDuration = "iteration_duration"
	MetricIterationFailed   = "iteration_failed"
	MetricChecks            = "checks"

	MetricHTTPReqs          = "http_reqs"
	MetricHTTPReqFailed     = "http_req_failed"
	MetricHTTPReqDuration   = "http_req_duration"
	MetricHTTPReqBlocked    = "http_req_blocked"
	MetricHTTPReqConnecting = "http_req_connecting"
	MetricHTTPReqTLS        = "http_req_tls_handshaking"
	MetricHTTPReqSending    = "http_req_sending"
	MetricHTTPReqWaiting    = "http_req_waiting"
	MetricHTTPReqReceiving  = "http_req_receiving"
	MetricDataReceived      = "data_received"
	MetricDataSent          = "data_sent"
)

// BuiltinKinds maps every built-in metric to its series kind.
var BuiltinKinds = map[string]metrics.Kind{
	MetricVUs:               metrics.Gauge,
	MetricVUsMax:            metrics.Gauge,
	MetricIterations:        metrics.Counter,
	MetricIterationDuration: metrics.Trend,
	MetricIterationFailed:   metrics.Rate,
	MetricChecks:            metrics.Rate,
	MetricHTTPReqs:          metrics.Counter,
	MetricHTTPReqFailed:     metrics.Rate,
	MetricHTTPReqDuration:   metrics.Trend,
	MetricHTTPReqBlocked:    metrics.Trend,
	MetricHTTPReqConnecting: metrics.Trend,
	MetricHTTPReqTLS:        metrics.Trend,
	MetricHTTPReqSending:    metrics.Trend,
	MetricHTTPReqWaiting:    metrics.Trend,
	MetricHTTPReqReceiving:  metrics.Trend,
	MetricDataReceived:      metrics.Counter,
	MetricDataSent:          metrics.Counter,
}
