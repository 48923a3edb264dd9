package config

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/executor"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
	"github.com/wesleyorama2/surge/internal/performance/threshold"
	"github.com/wesleyorama2/surge/pkg/jsonschema"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Fields returns the field of every error, in order.
func (e *ValidationErrors) Fields() []string {
	out := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		out[i] = err.Field
	}
	return out
}

// Validate checks the scenario semantically.
//
// Returns nil if valid, or a *ValidationErrors containing every problem.
func (s *Scenario) Validate() error {
	errs := &ValidationErrors{}

	validateBaseURL(s.BaseURL, errs)
	validateLoad(&s.Load, errs)
	validateThinkTime(s.ThinkTime, errs)

	if s.Request.Timeout < 0 {
		errs.Add("request.timeout", "cannot be negative")
	}

	if len(s.Endpoints) == 0 {
		errs.Add("endpoints", "at least one endpoint is required")
	}
	for i, ep := range s.Endpoints {
		validateEndpoint(fmt.Sprintf("endpoints[%d]", i), ep, errs)
	}

	for i, c := range s.Checks {
		validateCheck(fmt.Sprintf("checks[%d]", i), c, errs)
	}

	validateMetricNames(&s.Metrics, errs)

	if s.Setup != nil {
		if s.Setup.ExpectStatus != 0 && (s.Setup.ExpectStatus < 100 || s.Setup.ExpectStatus > 599) {
			errs.Add("setup.expectStatus", fmt.Sprintf("invalid HTTP status: %d", s.Setup.ExpectStatus))
		}
		if s.Setup.Timeout < 0 {
			errs.Add("setup.timeout", "cannot be negative")
		}
	}

	if ts, err := s.ThresholdSet(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			errs.Add("thresholds", line)
		}
	} else {
		validateThresholdKinds(ts, s.Metrics.kinds(), errs)
	}

	if s.Settings.MaxRPS < 0 {
		errs.Add("settings.maxRPS", "cannot be negative")
	}
	if s.Settings.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}

	if s.Tracing != nil && s.Tracing.SampleRate != nil {
		if r := *s.Tracing.SampleRate; r < 0 || r > 1 {
			errs.Add("tracing.sampleRate", "must be between 0 and 1")
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateBaseURL(base string, errs *ValidationErrors) {
	if base == "" {
		errs.Add("baseUrl", "baseUrl is required")
		return
	}
	u, err := url.Parse(base)
	if err != nil {
		errs.Add("baseUrl", fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("baseUrl", fmt.Sprintf("unsupported scheme %q (want http or https)", u.Scheme))
	}
	if u.Host == "" {
		errs.Add("baseUrl", "host is required")
	}
}

func validateLoad(l *LoadConfig, errs *ValidationErrors) {
	kind, err := executor.ParseKind(l.Executor)
	if err != nil {
		if l.Executor == "" {
			errs.Add("scenario.executor", "executor type is required")
		} else {
			errs.Add("scenario.executor", fmt.Sprintf("unknown executor type: %s", l.Executor))
		}
	}

	if l.VUs < 0 {
		errs.Add("scenario.vus", "cannot be negative")
	}
	if l.Duration < 0 {
		errs.Add("scenario.duration", "cannot be negative")
	}
	if l.StartVUs < 0 {
		errs.Add("scenario.startVUs", "cannot be negative")
	}
	if l.GracefulStop < 0 {
		errs.Add("scenario.gracefulStop", "cannot be negative")
	}

	switch kind {
	case executor.KindConstant:
		if l.VUs == 0 {
			errs.Add("scenario.vus", "vus must be greater than 0")
		}
		if l.Duration == 0 {
			errs.Add("scenario.duration", "duration is required for constant executor")
		}
	case executor.KindRamping:
		if len(l.Stages) == 0 {
			errs.Add("scenario.stages", "at least one stage is required for ramping executor")
		}
	}

	for i, st := range l.Stages {
		prefix := fmt.Sprintf("scenario.stages[%d]", i)
		if st.Duration < 0 {
			errs.Add(prefix+".duration", "cannot be negative")
		}
		if st.Target < 0 {
			errs.Add(prefix+".target", "target cannot be negative")
		}
	}
}

func validateThinkTime(t *ThinkTimeConfig, errs *ValidationErrors) {
	if t == nil {
		return
	}
	if t.Duration < 0 {
		errs.Add("thinkTime.duration", "cannot be negative")
	}
	if t.Min < 0 {
		errs.Add("thinkTime.min", "cannot be negative")
	}
	if t.Max < 0 {
		errs.Add("thinkTime.max", "cannot be negative")
	}
	if t.Duration != 0 && (t.Min != 0 || t.Max != 0) {
		errs.Add("thinkTime", "use either duration or min/max, not both")
	}
	if t.Min > t.Max && t.Max != 0 {
		errs.Add("thinkTime", "min must be less than or equal to max")
	}
	if t.Min > 0 && t.Max == 0 {
		errs.Add("thinkTime.max", "max is required when min is set")
	}
}

var validMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true, http.MethodDelete: true,
	http.MethodPatch: true, http.MethodHead: true, http.MethodOptions: true,
}

func validateEndpoint(prefix string, ep Endpoint, errs *ValidationErrors) {
	if strings.TrimSpace(ep.Path) == "" {
		errs.Add(prefix+".path", "path is required")
	} else if _, err := url.Parse(ep.Path); err != nil {
		errs.Add(prefix+".path", fmt.Sprintf("invalid URL: %v", err))
	}
	if ep.Method != "" && !validMethods[strings.ToUpper(ep.Method)] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", ep.Method))
	}
	if ep.Weight < 0 {
		errs.Add(prefix+".weight", "cannot be negative")
	}
}

func validateCheck(prefix string, c CheckConfig, errs *ValidationErrors) {
	switch c.Type {
	case CheckStatus:
		if c.Status != 0 && (c.Status < 100 || c.Status > 599) {
			errs.Add(prefix+".status", fmt.Sprintf("invalid HTTP status: %d", c.Status))
		}
	case CheckDuration:
		if c.Max <= 0 {
			errs.Add(prefix+".max", "max must be greater than 0")
		}
	case CheckJSON, CheckBody:
	case CheckJSONPath:
		if strings.TrimSpace(c.Path) == "" {
			errs.Add(prefix+".path", "path is required for jsonPath checks")
		}
	case CheckSchema:
		if c.Schema == nil {
			errs.Add(prefix+".schema", "schema is required for schema checks")
		} else if _, err := jsonschema.CompileValue("check.schema.json", c.Schema); err != nil {
			errs.Add(prefix+".schema", err.Error())
		}
	case "":
		errs.Add(prefix+".type", "type is required")
	default:
		errs.Add(prefix+".type", fmt.Sprintf("invalid check type: %s", c.Type))
	}
}

func validateMetricNames(m *MetricsConfig, errs *ValidationErrors) {
	seen := map[string]string{}
	for _, f := range []struct{ field, name string }{
		{"metrics.errorRate", m.ErrorRate},
		{"metrics.successCounter", m.SuccessCounter},
		{"metrics.durationTrend", m.DurationTrend},
	} {
		field, name := f.field, f.name
		if name == "" {
			continue
		}
		if strings.ContainsAny(name, "{}: ") {
			errs.Add(field, fmt.Sprintf("invalid metric name %q", name))
		}
		if _, ok := performance.BuiltinKinds[name]; ok {
			errs.Add(field, fmt.Sprintf("%q is a built-in metric", name))
		}
		if other, ok := seen[name]; ok {
			errs.Add(field, fmt.Sprintf("metric %q is also used by %s", name, other))
		}
		seen[name] = field
	}
}

// kinds maps every metric whose kind is known before the run to that kind.
func (m MetricsConfig) kinds() map[string]metrics.Kind {
	kinds := make(map[string]metrics.Kind, len(performance.BuiltinKinds)+3)
	for name, kind := range performance.BuiltinKinds {
		kinds[name] = kind
	}
	for _, c := range []struct {
		name string
		kind metrics.Kind
	}{
		{m.ErrorRate, metrics.Rate},
		{m.SuccessCounter, metrics.Counter},
		{m.DurationTrend, metrics.Trend},
	} {
		if _, taken := kinds[c.name]; c.name != "" && !taken {
			kinds[c.name] = c.kind
		}
	}
	return kinds
}

// validateThresholdKinds rejects aggregates that the metric's kind cannot
// produce. Thresholds on metrics of unknown kind are left to evaluation.
func validateThresholdKinds(ts []threshold.Threshold, kinds map[string]metrics.Kind, errs *ValidationErrors) {
	for _, t := range ts {
		name := t.Metric
		if parent, _, ok := t.Submetric(); ok {
			name = parent
		}
		kind, ok := kinds[name]
		if !ok {
			continue
		}
		if err := threshold.ValidFor(kind, t); err != nil {
			errs.Add("thresholds."+t.Metric, err.Error())
		}
	}
}

// ThresholdSet parses the scenario's thresholds.
func (s *Scenario) ThresholdSet() ([]threshold.Threshold, error) {
	defs := make(map[string][]threshold.Definition, len(s.Thresholds))
	for metric, entries := range s.Thresholds {
		for _, e := range entries {
			defs[metric] = append(defs[metric], threshold.Definition{
				Expression:     e.Threshold,
				AbortOnFail:    e.AbortOnFail,
				DelayAbortEval: e.DelayAbortEval.Std(),
			})
		}
	}
	return threshold.ParseSet(defs)
}
