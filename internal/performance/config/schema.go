// Package config loads and validates scenario files for the load engine.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/surge/internal/tracing"
)

// Scenario is the root of a scenario file.
//
// Example YAML:
//
//	name: kickoff-load
//	baseUrl: http://localhost:8080
//	scenario:
//	  executor: constant
//	  vus: 20
//	  duration: 1m
//	thinkTime: {min: 1s, max: 3s}
//	endpoints: [/api/teams, /api/users, /health]
//	checks:
//	  - {name: status is 200, type: status, status: 200}
//	thresholds:
//	  http_req_duration: ["p(95)<500"]
type Scenario struct {
	// Name of the test (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// BaseURL is prefixed to every relative endpoint path
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`

	// Seed makes endpoint selection and think time reproducible. Unset
	// means a time-based seed; zero is a valid seed.
	Seed *int64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// Load is the VU profile
	Load LoadConfig `json:"scenario" yaml:"scenario"`

	ThinkTime *ThinkTimeConfig `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`
	Request   RequestConfig    `json:"request,omitempty" yaml:"request,omitempty"`

	// Endpoints are picked at random, by weight, on every iteration
	Endpoints []Endpoint `json:"endpoints" yaml:"endpoints"`

	// Checks validate every response
	Checks []CheckConfig `json:"checks,omitempty" yaml:"checks,omitempty"`

	// Metrics names the custom metrics fed by check outcomes
	Metrics MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`

	Setup *SetupConfig `json:"setup,omitempty" yaml:"setup,omitempty"`

	// Thresholds maps metric names to pass/fail expressions
	Thresholds map[string][]ThresholdEntry `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	Settings Settings        `json:"settings,omitempty" yaml:"settings,omitempty"`
	Tracing  *tracing.Config `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// LoadConfig defines the executor and its VU profile.
type LoadConfig struct {
	// Executor is "constant" or "ramping" (or the "-vus" suffixed aliases)
	Executor string `json:"executor" yaml:"executor"`

	// VUs and Duration drive the constant executor
	VUs      int      `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// StartVUs and Stages drive the ramping executor
	StartVUs int           `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`
	Stages   []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// GracefulStop bounds how long drained VUs may take to finish
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// StageConfig defines a single stage of a ramping profile.
type StageConfig struct {
	Duration Duration `json:"duration" yaml:"duration"`
	Target   int      `json:"target" yaml:"target"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
}

// ThinkTimeConfig is either a fixed pause or a uniform random range.
type ThinkTimeConfig struct {
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	Min      Duration `json:"min,omitempty" yaml:"min,omitempty"`
	Max      Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// RequestConfig applies to every endpoint request.
type RequestConfig struct {
	Timeout Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Endpoint is one request target. In a file it is either a bare path
// string or an object.
type Endpoint struct {
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
	Path   string `json:"path" yaml:"path"`
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
	Body   string `json:"body,omitempty" yaml:"body,omitempty"`
	Weight int    `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// UnmarshalYAML accepts a scalar path or a mapping.
func (e *Endpoint) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*e = Endpoint{Path: node.Value}
		return nil
	}
	type plain Endpoint
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*e = Endpoint(p)
	return nil
}

// UnmarshalJSON accepts a string path or an object.
func (e *Endpoint) UnmarshalJSON(b []byte) error {
	var path string
	if err := json.Unmarshal(b, &path); err == nil {
		*e = Endpoint{Path: path}
		return nil
	}
	type plain Endpoint
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*e = Endpoint(p)
	return nil
}

// Check types.
const (
	CheckStatus   = "status"
	CheckDuration = "duration"
	CheckJSON     = "json"
	CheckBody     = "body"
	CheckJSONPath = "jsonPath"
	CheckSchema   = "schema"
)

// CheckConfig is a response validation. Which fields apply depends on Type:
//
//	status:   Status (default 200)
//	duration: Max
//	json:     none, the body must be valid JSON
//	body:     Contains, or a non-empty body when Contains is empty
//	jsonPath: Path, and Equals when set (otherwise the path must exist)
//	schema:   Schema, a JSON Schema the body must satisfy
type CheckConfig struct {
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
	Type     string   `json:"type" yaml:"type"`
	Status   int      `json:"status,omitempty" yaml:"status,omitempty"`
	Max      Duration `json:"max,omitempty" yaml:"max,omitempty"`
	Contains string   `json:"contains,omitempty" yaml:"contains,omitempty"`
	Path     string   `json:"path,omitempty" yaml:"path,omitempty"`
	Equals   *string  `json:"equals,omitempty" yaml:"equals,omitempty"`
	Schema   any      `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// DisplayName returns Name or a generated description.
func (c CheckConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	switch c.Type {
	case CheckStatus:
		status := c.Status
		if status == 0 {
			status = 200
		}
		return fmt.Sprintf("status is %d", status)
	case CheckDuration:
		return "response time < " + c.Max.String()
	case CheckJSON:
		return "has valid JSON"
	case CheckBody:
		if c.Contains != "" {
			return fmt.Sprintf("body contains %q", c.Contains)
		}
		return "body is not empty"
	case CheckJSONPath:
		if c.Equals != nil {
			return fmt.Sprintf("%s == %q", c.Path, *c.Equals)
		}
		return c.Path + " exists"
	case CheckSchema:
		return "body matches schema"
	default:
		return c.Type
	}
}

// MetricsConfig names the custom metrics the built-in iteration records.
// An empty name disables that metric.
type MetricsConfig struct {
	// ErrorRate is a rate that is true when any check failed
	ErrorRate string `json:"errorRate,omitempty" yaml:"errorRate,omitempty"`

	// SuccessCounter counts iterations where every check passed
	SuccessCounter string `json:"successCounter,omitempty" yaml:"successCounter,omitempty"`

	// DurationTrend is a trend of request durations in milliseconds
	DurationTrend string `json:"durationTrend,omitempty" yaml:"durationTrend,omitempty"`
}

// SetupConfig configures the pre-run health probe.
type SetupConfig struct {
	HealthCheck  string   `json:"healthCheck,omitempty" yaml:"healthCheck,omitempty"`
	ExpectStatus int      `json:"expectStatus,omitempty" yaml:"expectStatus,omitempty"`
	Timeout      Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ThresholdEntry is a threshold expression, written either as a bare
// string or as an object with abort options.
type ThresholdEntry struct {
	Threshold      string   `json:"threshold" yaml:"threshold"`
	AbortOnFail    bool     `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
	DelayAbortEval Duration `json:"delayAbortEval,omitempty" yaml:"delayAbortEval,omitempty"`
}

// UnmarshalYAML accepts a scalar expression or a mapping.
func (t *ThresholdEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*t = ThresholdEntry{Threshold: node.Value}
		return nil
	}
	type plain ThresholdEntry
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*t = ThresholdEntry(p)
	return nil
}

// UnmarshalJSON accepts a string expression or an object.
func (t *ThresholdEntry) UnmarshalJSON(b []byte) error {
	var expr string
	if err := json.Unmarshal(b, &expr); err == nil {
		*t = ThresholdEntry{Threshold: expr}
		return nil
	}
	type plain ThresholdEntry
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*t = ThresholdEntry(p)
	return nil
}

// Settings contains global HTTP and execution settings.
type Settings struct {
	// MaxRPS caps requests per second across all VUs (0 means unlimited)
	MaxRPS float64 `json:"maxRPS,omitempty" yaml:"maxRPS,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("30s",
// "1m30s") or as an integer number of seconds.
type Duration time.Duration

// ParseDuration parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if seconds, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Or returns the duration or def if zero.
func (d Duration) Or(def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return time.Duration(d)
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		*d = 0
		return nil
	}
	dur, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	dur, err := ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(dur)
	return nil
}
