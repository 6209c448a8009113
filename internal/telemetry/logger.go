// Package telemetry provides a small Logger interface every subsystem can
// log through, rendered with github.com/fatih/color for human-readable
// run summaries.
package telemetry

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/grpctestify/grpctestify/internal/runner"
)

// Logger is the logging surface the CLI writes run output through. It is
// not nil-safe: a nil Logger, or a ColorLogger not built by NewColorLogger,
// panics when used.
type Logger interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	Result(res *runner.Result)
}

// ColorLogger writes colorized, human-readable output to out, gated by a
// verbosity switch.
type ColorLogger struct {
	Out     io.Writer
	Verbose bool

	info  *color.Color
	warn  *color.Color
	errc  *color.Color
	pass  *color.Color
	fail  *color.Color
	skip  *color.Color
	faint *color.Color
}

// NewColorLogger returns a ColorLogger writing to out.
func NewColorLogger(out io.Writer, verbose bool) *ColorLogger {
	return &ColorLogger{
		Out:     out,
		Verbose: verbose,
		info:    color.New(color.FgCyan),
		warn:    color.New(color.FgYellow),
		errc:    color.New(color.FgRed, color.Bold),
		pass:    color.New(color.FgGreen, color.Bold),
		fail:    color.New(color.FgRed, color.Bold),
		skip:    color.New(color.FgYellow),
		faint:   color.New(color.Faint),
	}
}

func (l *ColorLogger) Info(format string, args ...any) {
	if !l.Verbose {
		return
	}
	l.info.Fprintf(l.Out, format+"\n", args...)
}

func (l *ColorLogger) Warn(format string, args ...any) {
	l.warn.Fprintf(l.Out, "warning: "+format+"\n", args...)
}

func (l *ColorLogger) Error(format string, args ...any) {
	l.errc.Fprintf(l.Out, "error: "+format+"\n", args...)
}

// Result renders one file's outcome as a terse pass/fail/skip line, with
// reasons indented beneath on failure.
func (l *ColorLogger) Result(res *runner.Result) {
	switch res.Status {
	case runner.StatusPass:
		l.pass.Fprintf(l.Out, "PASS")
	case runner.StatusSkip:
		l.skip.Fprintf(l.Out, "SKIP")
	default:
		l.fail.Fprintf(l.Out, "FAIL")
	}
	fmt.Fprintf(l.Out, " %s ", res.Path)
	l.faint.Fprintf(l.Out, "(%s)\n", res.Duration)

	if res.Reason != "" {
		fmt.Fprintf(l.Out, "  %s\n", res.Reason)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(l.Out, "  - %s\n", f)
	}
}

// Summary renders a run-level tally across results, matching the
// teacher's terse final status line rather than a verbose report.
func Summary(out io.Writer, results []*runner.Result) {
	var pass, fail, skip int
	for _, r := range results {
		switch r.Status {
		case runner.StatusPass:
			pass++
		case runner.StatusSkip:
			skip++
		default:
			fail++
		}
	}
	bar := strings.Repeat("-", 40)
	fmt.Fprintln(out, bar)
	summaryColor := color.New(color.FgGreen, color.Bold)
	if fail > 0 {
		summaryColor = color.New(color.FgRed, color.Bold)
	}
	summaryColor.Fprintf(out, "%d passed, %d failed, %d skipped (%d total)\n", pass, fail, skip, len(results))
}
