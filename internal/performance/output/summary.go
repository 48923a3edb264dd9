package output

import (
	"fmt"
	"strings"

	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/engine"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

const nameWidth = 34

// writeSummary renders the end-of-test report.
func writeSummary(sb *strings.Builder, r *engine.Result, colors *scheme) {
	sb.WriteString("\n")
	fmt.Fprintf(sb, "  %s %s\n", colors.dim.Sprint("scenario:"), colors.bold.Sprint(r.Scenario))
	if r.Config != nil {
		fmt.Fprintf(sb, "  %s %s, %d max VUs, %s\n",
			colors.dim.Sprint("executor:"),
			r.Config.Kind,
			r.Config.MaxVUs(),
			formatDuration(r.Config.TotalDuration()))
	}
	fmt.Fprintf(sb, "  %s %s\n", colors.dim.Sprint("run:"), r.ID)
	fmt.Fprintf(sb, "  %s %s\n", colors.dim.Sprint("duration:"), formatDuration(r.Duration))

	if r.SetupError != nil {
		fmt.Fprintf(sb, "\n  %s %v\n", colors.fail.Sprint("setup error:"), r.SetupError)
	}

	if len(r.Thresholds) > 0 {
		sb.WriteString("\n  " + colors.bold.Sprint("THRESHOLDS") + "\n")
		for _, t := range r.Thresholds {
			mark := colors.ok.Sprint("✓")
			if !t.Passed {
				mark = colors.fail.Sprint("✗")
			}
			detail := fmt.Sprintf("observed %s", formatFloat(t.Observed))
			if t.Undefined {
				detail = "undefined metric"
			}
			fmt.Fprintf(sb, "    %s %s %s\n", mark, t.Threshold, colors.dim.Sprintf("(%s)", detail))
		}
	}

	if r.Snapshot != nil && len(r.Snapshot.Series) > 0 {
		sb.WriteString("\n  " + colors.bold.Sprint("METRICS") + "\n")
		for _, name := range r.Snapshot.Names() {
			s, _ := r.Snapshot.Get(name)
			label := name
			if s.Parent != "" {
				label = "  {" + s.Selector.String() + "}"
			}
			dots := nameWidth - len([]rune(label))
			if dots < 3 {
				dots = 3
			}
			fmt.Fprintf(sb, "    %s%s: %s\n",
				label,
				colors.dim.Sprint(strings.Repeat(".", dots)),
				formatSeries(s, r.Snapshot, colors))
		}
	}

	if r.Status != engine.StatusFailed || r.Snapshot != nil {
		fmt.Fprintf(sb, "\n  iterations: %s complete, %s interrupted, %s failed\n",
			formatNumber(r.Iterations), formatNumber(r.Interrupted), formatNumber(r.FailedIterations))
	}
	if r.RateLimit.Rate > 0 {
		fmt.Fprintf(sb, "  rate limit: %s req/s, %s requests admitted, %s spent waiting\n",
			formatFloat(r.RateLimit.Rate), formatNumber(r.RateLimit.Granted), formatDuration(r.RateLimit.TotalWait))
	}
	if r.Cancelled {
		sb.WriteString("  " + colors.warn.Sprint("run was cancelled before its planned duration") + "\n")
	}
	if r.TeardownError != nil {
		fmt.Fprintf(sb, "  %s %v\n", colors.warn.Sprint("teardown error:"), r.TeardownError)
	}
}

// formatSeries renders the aggregates of one series in k6 style.
func formatSeries(s *metrics.SeriesSnapshot, snap *metrics.Snapshot, colors *scheme) string {
	switch s.Kind {
	case metrics.Rate:
		return fmt.Sprintf("%s %s %s",
			colors.value.Sprintf("%-8s", fmt.Sprintf("%.2f%%", s.Rate()*100)),
			colors.ok.Sprintf("✓ %-8s", formatNumber(s.Trues)),
			colors.fail.Sprintf("✗ %s", formatNumber(s.Fails())))

	case metrics.Counter:
		if isBytes(s) {
			return fmt.Sprintf("%s %s/s",
				colors.value.Sprintf("%-8s", formatBytes(s.Sum)),
				formatBytes(s.PerSecond(snap.Elapsed)))
		}
		return fmt.Sprintf("%s %.2f/s",
			colors.value.Sprintf("%-8s", formatFloat(s.Sum)),
			s.PerSecond(snap.Elapsed))

	case metrics.Gauge:
		return fmt.Sprintf("%s min=%s max=%s",
			colors.value.Sprintf("%-8s", formatFloat(s.Value)),
			formatFloat(s.Min),
			formatFloat(s.Max))

	case metrics.Trend:
		f := formatFloat
		if isTime(s) {
			f = formatMillis
		}
		return fmt.Sprintf("avg=%s min=%s med=%s max=%s p(90)=%s p(95)=%s",
			colors.value.Sprint(f(s.Avg())),
			colors.value.Sprint(f(s.Min)),
			colors.value.Sprint(f(s.Med())),
			colors.value.Sprint(f(s.Max)),
			colors.value.Sprint(f(s.Percentile(90))),
			colors.value.Sprint(f(s.Percentile(95))))
	}
	return ""
}

func baseName(s *metrics.SeriesSnapshot) string {
	if s.Parent != "" {
		return s.Parent
	}
	return s.Name
}

func isBytes(s *metrics.SeriesSnapshot) bool {
	name := baseName(s)
	return name == performance.MetricDataReceived || name == performance.MetricDataSent
}

// isTime reports whether a trend holds milliseconds. Built-in trends all
// do; custom trends do when their name says so.
func isTime(s *metrics.SeriesSnapshot) bool {
	name := baseName(s)
	if _, ok := performance.BuiltinKinds[name]; ok {
		return true
	}
	return strings.Contains(name, "duration") || strings.Contains(name, "latency") || strings.HasSuffix(name, "_time")
}
