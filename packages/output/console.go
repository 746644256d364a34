package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/abdul-hamid-achik/hitbatch/packages/batch"
	"github.com/abdul-hamid-achik/hitbatch/packages/core/interruptible"
	hhttp "github.com/abdul-hamid-achik/hitbatch/packages/http"
	"github.com/abdul-hamid-achik/hitbatch/packages/metrics"
)

// formatValue formats a value for display, truncating or summarizing large values
func formatValue(v any, maxLen int) string {
	switch val := v.(type) {
	case []any:
		return fmt.Sprintf("[array with %d items]", len(val))
	case map[string]any:
		return fmt.Sprintf("{object with %d keys}", len(val))
	}
	str := fmt.Sprintf("%v", v)
	if len(str) > maxLen {
		return str[:maxLen] + "..."
	}
	return str
}

// formatBytes renders a byte count with a binary unit
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

type ConsoleFormatter struct {
	writer  io.Writer
	verbose bool
	noColor bool
}

type ConsoleOption func(*ConsoleFormatter)

func NewConsoleFormatter(opts ...ConsoleOption) *ConsoleFormatter {
	f := &ConsoleFormatter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.noColor {
		color.NoColor = true
	}
	return f
}

func WithWriter(w io.Writer) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.writer = w
	}
}

func WithVerbose(v bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.verbose = v
	}
}

func WithNoColor(nc bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.noColor = nc
	}
}

func (f *ConsoleFormatter) FormatResult(result *batch.RunResult) {
	bold := color.New(color.Bold).SprintFunc()

	title := result.Name
	if result.File != "" {
		title += " (" + result.File + ")"
	}
	fmt.Fprintf(f.writer, "\n%s\n\n", bold("Running: "+title))

	for _, r := range result.Results {
		f.formatRequest(r)
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	counts := make([]string, 0, 3)
	if result.Passed > 0 {
		counts = append(counts, green(fmt.Sprintf("%d passed", result.Passed)))
	}
	if result.Failed > 0 {
		counts = append(counts, red(fmt.Sprintf("%d failed", result.Failed)))
	}
	counts = append(counts, fmt.Sprintf("%d total", result.Passed+result.Failed))

	fmt.Fprintf(f.writer, "\nRequests: %s\n", strings.Join(counts, ", "))
	fmt.Fprintf(f.writer, "Traffic:  %s sent, %s received\n", formatBytes(result.Usage.Sent), formatBytes(result.Usage.Received))
	fmt.Fprintf(f.writer, "Time:     %dms\n\n", result.Duration.Milliseconds())
}

// formatRequest prints one line per request and, for failures, the
// expectations that did not hold.
func (f *ConsoleFormatter) formatRequest(r *batch.RequestResult) {
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	if r.Error != nil {
		mark := red("x")
		if errors.Is(r.Error, interruptible.ErrCancelled) || errors.Is(r.Error, hhttp.ErrCancelled) {
			mark = yellow("-")
		}
		fmt.Fprintf(f.writer, "  %s %s %s\n", mark, r.Name, red(fmt.Sprintf("(%v)", r.Error)))
		return
	}

	mark := color.New(color.FgGreen).Sprint("✓")
	if !r.Passed {
		mark = red("✗")
	}
	fmt.Fprintf(f.writer, "  %s %s %s\n", mark, r.Name, cyan(fmt.Sprintf("(%s %d)", r.Method, r.Code)))

	if f.verbose {
		fmt.Fprintf(f.writer, "    URL: %s\n", r.URL)
		if r.Response != nil {
			fmt.Fprintf(f.writer, "    Content-Type: %s, %s\n", r.Response.ContentType, formatBytes(int64(len(r.Response.Body))))
		}
	}
	if r.Passed {
		return
	}

	for _, a := range r.Assertions {
		if a.Passed {
			continue
		}
		fmt.Fprintf(f.writer, "    %s %s %s\n", red("→"), a.Subject, a.Operator)
		fmt.Fprintf(f.writer, "      Expected: %s\n", formatValue(a.Expected, 100))
		fmt.Fprintf(f.writer, "      Actual:   %s\n", formatValue(a.Actual, 100))
		if a.Message != "" {
			fmt.Fprintf(f.writer, "      %s\n", a.Message)
		}
	}
}

// FormatMetrics prints the latency and traffic summary of a run
func (f *ConsoleFormatter) FormatMetrics(s *metrics.Summary) {
	if s == nil || s.Total == 0 {
		return
	}
	bold := color.New(color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(f.writer, "%s\n", bold("Metrics"))
	fmt.Fprintf(f.writer, "  requests:  %d total, %d ok, %d failed", s.Total, s.Success, s.Errors)
	if s.Cancelled > 0 {
		fmt.Fprintf(f.writer, ", %s", yellow(fmt.Sprintf("%d cancelled", s.Cancelled)))
	}
	fmt.Fprintf(f.writer, " (%.1f%% success)\n", s.SuccessRate*100)
	fmt.Fprintf(f.writer, "  latency:   p50=%s p95=%s p99=%s max=%s\n", s.P50, s.P95, s.P99, s.Max)
	fmt.Fprintf(f.writer, "  traffic:   %s sent, %s received\n", formatBytes(s.BytesSent), formatBytes(s.BytesReceived))

	if f.verbose {
		for _, r := range s.Requests {
			fmt.Fprintf(f.writer, "    %-40s %3d  p50=%s p95=%s max=%s\n", r.Name, r.Total, r.P50, r.P95, r.Max)
		}
	}
	fmt.Fprintf(f.writer, "\n")
}

func (f *ConsoleFormatter) FormatError(err error) {
	red := color.New(color.FgRed).SprintFunc()
	fmt.Fprintf(f.writer, "%s %v\n", red("Error:"), err)
}

func (f *ConsoleFormatter) FormatHeader(version string) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(f.writer, "%s %s\n", bold("hitbatch"), version)
}
