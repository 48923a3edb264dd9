// Package output renders test progress and results for humans and
// machines.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/engine"
)

// Cursor control for the in-place progress line.
const (
	carriageReturn = "\r"
	clearLine      = "\033[2K"
)

// DefaultWindow is the span of the live percentile.
const DefaultWindow = 10 * time.Second

// scheme holds the colours used by the console.
type scheme struct {
	header  *color.Color
	bold    *color.Color
	dim     *color.Color
	ok      *color.Color
	warn    *color.Color
	fail    *color.Color
	value   *color.Color
	accent  *color.Color
	enabled bool
}

func newScheme(enabled bool) *scheme {
	s := &scheme{
		header:  color.New(color.FgCyan),
		bold:    color.New(color.Bold),
		dim:     color.New(color.Faint),
		ok:      color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		fail:    color.New(color.FgRed, color.Bold),
		value:   color.New(color.FgCyan),
		accent:  color.New(color.FgMagenta),
		enabled: enabled,
	}
	for _, c := range []*color.Color{s.header, s.bold, s.dim, s.ok, s.warn, s.fail, s.value, s.accent} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return s
}

// ConsoleConfig configures a Console.
type ConsoleConfig struct {
	// Writer receives the output (default: os.Stdout)
	Writer io.Writer

	// Quiet prints only the final verdict
	Quiet bool

	// NoColor disables colours even on a terminal
	NoColor bool

	// ForceTTY treats Writer as a terminal
	ForceTTY bool

	// Window is the span of the live p95 (default: DefaultWindow)
	Window time.Duration
}

// Console prints the run header, a live progress line and the final
// summary. It implements engine.ProgressObserver.
type Console struct {
	w      io.Writer
	isTTY  bool
	quiet  bool
	window time.Duration
	colors *scheme

	mu   sync.Mutex
	live bool
}

// NewConsole creates a console printer.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}

	isTTY := cfg.ForceTTY || isTerminal(cfg.Writer)
	useColors := !cfg.NoColor && isTTY && supportsColors()

	return &Console{
		w:      cfg.Writer,
		isTTY:  isTTY,
		quiet:  cfg.Quiet,
		window: cfg.Window,
		colors: newScheme(useColors),
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// OnStatus prints lifecycle transitions.
func (c *Console) OnStatus(ev engine.Event) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Status {
	case engine.StatusRunning:
		c.writeln(c.colors.header.Sprint(strings.Repeat("━", 56)))
		c.writeln(fmt.Sprintf("run %s started", c.colors.bold.Sprint(ev.RunID)))
		c.writeln(c.colors.header.Sprint(strings.Repeat("━", 56)))
	case engine.StatusDraining:
		c.endLive()
		c.writeln(c.colors.dim.Sprint("stopping: waiting for VUs to finish their iterations"))
	case engine.StatusSealed:
		c.endLive()
	case engine.StatusFailed:
		c.endLive()
		msg := "run failed"
		if ev.Err != nil {
			msg = fmt.Sprintf("run failed: %v", ev.Err)
		}
		c.writeln(c.colors.fail.Sprint(msg))
	}
}

// OnProgress prints one progress line. On a terminal the line is
// rewritten in place.
func (c *Console) OnProgress(p engine.Progress) {
	if c.quiet {
		return
	}

	line := c.progressLine(p)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		fmt.Fprint(c.w, carriageReturn+clearLine+line)
		c.live = true
		return
	}
	c.writeln(line)
}

// progressLine renders running VUs, completed iterations and the
// windowed p95 of http_req_duration.
func (c *Console) progressLine(p engine.Progress) string {
	total := p.Executor.TotalDuration
	progress := fmt.Sprintf("%3.0f%%", p.Executor.Progress*100)

	p95 := "-"
	if p.Collector != nil {
		if w, ok := p.Collector.Window(performance.MetricHTTPReqDuration, c.window); ok && w.Count > 0 {
			p95 = formatMillis(w.Percentile(95))
		}
	}

	line := fmt.Sprintf("running (%s/%s) %s, %s/%d VUs, %s complete iterations, p95(%s)=%s",
		formatDuration(p.Elapsed),
		formatDuration(total),
		c.colors.bold.Sprint(progress),
		c.colors.value.Sprint(p.Executor.RunningVUs),
		p.Executor.TargetVUs,
		formatNumber(p.Iterations),
		formatDuration(c.window),
		c.colors.value.Sprint(p95))

	if p.Executor.TotalStages > 0 && p.Executor.CurrentStage >= 0 {
		stage := fmt.Sprintf("stage %d/%d", p.Executor.CurrentStage+1, p.Executor.TotalStages)
		if p.Executor.CurrentStageName != "" {
			stage += " " + p.Executor.CurrentStageName
		}
		line += ", " + c.colors.accent.Sprint(stage)
	}
	return line
}

// PrintSummary prints the final report. In quiet mode only the verdict is
// printed.
func (c *Console) PrintSummary(r *engine.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLive()

	if c.quiet {
		c.writeln(c.verdict(r))
		return
	}

	var sb strings.Builder
	writeSummary(&sb, r, c.colors)
	fmt.Fprint(c.w, sb.String())
	c.writeln("")
	c.writeln(c.verdict(r))
}

func (c *Console) verdict(r *engine.Result) string {
	switch {
	case r.Status == engine.StatusFailed:
		return c.colors.fail.Sprint("FAILED (run did not complete)")
	case r.Aborted():
		return c.colors.fail.Sprintf("FAILED (aborted by threshold %s)", r.AbortedBy.Threshold)
	case !r.Passed:
		return c.colors.fail.Sprint("FAILED (thresholds breached)")
	default:
		return c.colors.ok.Sprint("PASSED")
	}
}

// endLive terminates an in-place progress line.
func (c *Console) endLive() {
	if c.live {
		fmt.Fprintln(c.w)
		c.live = false
	}
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.w, s)
}
