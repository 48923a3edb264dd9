// Package httpclient issues load test requests and reports per-phase timings.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/wesleyorama2/surge/internal/tracing"
)

// Config contains transport configuration shared by all virtual users.
type Config struct {
	// Timeout is the default per-request timeout
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host (0 = unlimited)
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool
}

// DefaultConfig returns transport defaults tuned for load generation.
func DefaultConfig() Config {
	return Config{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// Client is a thin wrapper over http.Client that captures connection,
// waiting and receiving timings for every request.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	timeout    time.Duration
	tracer     trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL resolves relative request paths against baseURL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithTracer records a client span per request and propagates its context.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = tracer
	}
}

// WithHTTPClient replaces the underlying client, typically in tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client with a pooled transport built from cfg.
func New(cfg Config, options ...Option) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
		ForceAttemptHTTP2:   true,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test targets
	}

	c := &Client{
		// Per-request timeouts are applied through the request context.
		httpClient: &http.Client{Transport: transport},
		headers:    make(map[string]string),
		timeout:    cfg.Timeout,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// RequestOptions are per-request settings.
type RequestOptions struct {
	// Timeout overrides the client default when > 0
	Timeout time.Duration

	// Headers are added on top of the client headers
	Headers map[string]string

	// Name groups requests in metrics and spans (defaults to the path)
	Name string
}

// Timings breaks a request down into phases.
type Timings struct {
	// Duration is Sending + Waiting + Receiving.
	Duration time.Duration `json:"duration"`

	// Blocked is the time spent waiting for a free connection.
	Blocked time.Duration `json:"blocked"`

	// Connecting is the TCP connect time (0 on a reused connection).
	Connecting time.Duration `json:"connecting"`

	// TLSHandshaking is the TLS handshake time (0 on a reused connection).
	TLSHandshaking time.Duration `json:"tlsHandshaking"`

	// Sending is the time spent writing the request.
	Sending time.Duration `json:"sending"`

	// Waiting is the time to first response byte after sending.
	Waiting time.Duration `json:"waiting"`

	// Receiving is the time spent reading the response body.
	Receiving time.Duration `json:"receiving"`
}

// Response is a fully read HTTP response.
type Response struct {
	Method  string
	URL     string
	Name    string
	Status  int
	Headers http.Header
	Body    []byte
	Timings Timings
}

// Resolve turns a path into an absolute URL using the base URL.
func (c *Client) Resolve(path string) string {
	if c.baseURL == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, url string, opts RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil, opts)
}

// Do issues a request and reads the whole body.
//
// Returns an error for transport failures (DNS, connect, timeout,
// cancellation). Any HTTP status, including 5xx, is a successful call.
func (c *Client) Do(ctx context.Context, method, url string, body []byte, opts RequestOptions) (*Response, error) {
	fullURL := c.Resolve(url)
	name := opts.Name
	if name == "" {
		name = url
	}

	timeout := c.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var span trace.Span
	if c.tracer != nil {
		ctx, span = tracing.StartRequestSpan(ctx, c.tracer, method, fullURL, name)
	}

	resp, err := c.do(ctx, method, fullURL, body, opts.Headers)
	if resp != nil {
		resp.Name = name
	}

	if span != nil {
		status := 0
		if resp != nil {
			status = resp.Status
		}
		tracing.EndSpan(span, status, err)
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, headers map[string]string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if c.tracer != nil {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	var (
		start                    = time.Now()
		gotConn, connectStart    time.Time
		tlsStart, wroteRequest   time.Time
		firstByte                time.Time
		connecting, tlsHandshake time.Duration
	)

	clientTrace := &httptrace.ClientTrace{
		ConnectStart: func(_, _ string) {
			connectStart = time.Now()
		},
		ConnectDone: func(_, _ string, err error) {
			if err == nil && !connectStart.IsZero() {
				connecting = time.Since(connectStart)
			}
		},
		TLSHandshakeStart: func() {
			tlsStart = time.Now()
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err == nil && !tlsStart.IsZero() {
				tlsHandshake = time.Since(tlsStart)
			}
		},
		GotConn: func(httptrace.GotConnInfo) {
			gotConn = time.Now()
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			wroteRequest = time.Now()
		},
		GotFirstResponseByte: func() {
			firstByte = time.Now()
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(ctx, clientTrace))

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	done := time.Now()
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	// The trace hooks fire on transport goroutines before Do returns,
	// except for failures; fall back to coarse boundaries if one is missing.
	if gotConn.IsZero() {
		gotConn = start
	}
	if wroteRequest.IsZero() {
		wroteRequest = gotConn
	}
	if firstByte.IsZero() {
		firstByte = wroteRequest
	}

	timings := Timings{
		Blocked:        nonNegative(gotConn.Sub(start) - connecting - tlsHandshake),
		Connecting:     connecting,
		TLSHandshaking: tlsHandshake,
		Sending:        nonNegative(wroteRequest.Sub(gotConn)),
		Waiting:        nonNegative(firstByte.Sub(wroteRequest)),
		Receiving:      nonNegative(done.Sub(firstByte)),
	}
	timings.Duration = timings.Sending + timings.Waiting + timings.Receiving

	return &Response{
		Method:  method,
		URL:     url,
		Status:  httpResp.StatusCode,
		Headers: httpResp.Header,
		Body:    respBody,
		Timings: timings,
	}, nil
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// IsSuccess reports whether the status is 2xx or 3xx.
func (r *Response) IsSuccess() bool {
	return r.Status >= 200 && r.Status < 400
}
