package output

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/abdul-hamid-achik/hitbatch/packages/batch"
	"github.com/abdul-hamid-achik/hitbatch/packages/metrics"
)

// JSONOutput represents the complete JSON output structure
type JSONOutput struct {
	Summary  JSONSummary  `json:"summary"`
	Batches  []JSONBatch  `json:"batches"`
	Metrics  *JSONMetrics `json:"metrics,omitempty"`
	Errors   []string     `json:"errors,omitempty"`
	Duration float64      `json:"duration"`
	Time     string       `json:"time"`
}

// JSONSummary represents the run summary
type JSONSummary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// JSONBatch represents the result of one batch file
type JSONBatch struct {
	Name          string        `json:"name"`
	File          string        `json:"file,omitempty"`
	Duration      float64       `json:"duration"`
	BytesSent     int64         `json:"bytesSent"`
	BytesReceived int64         `json:"bytesReceived"`
	Requests      []JSONRequest `json:"requests"`
}

// JSONRequest represents a single request result
type JSONRequest struct {
	Name        string          `json:"name"`
	Method      string          `json:"method"`
	URL         string          `json:"url"`
	Passed      bool            `json:"passed"`
	StatusCode  int             `json:"statusCode"`
	ContentType string          `json:"contentType,omitempty"`
	BodySize    int             `json:"bodySize,omitempty"`
	Error       string          `json:"error,omitempty"`
	Assertions  []JSONAssertion `json:"assertions,omitempty"`
}

// JSONAssertion represents an assertion result
type JSONAssertion struct {
	Subject  string `json:"subject"`
	Operator string `json:"operator"`
	Expected any    `json:"expected"`
	Actual   any    `json:"actual"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message,omitempty"`
}

// JSONMetrics is the latency and traffic summary, durations in milliseconds
type JSONMetrics struct {
	Total         int64   `json:"total"`
	Success       int64   `json:"success"`
	Errors        int64   `json:"errors"`
	Cancelled     int64   `json:"cancelled"`
	SuccessRate   float64 `json:"successRate"`
	BytesSent     int64   `json:"bytesSent"`
	BytesReceived int64   `json:"bytesReceived"`
	P50           float64 `json:"p50"`
	P95           float64 `json:"p95"`
	P99           float64 `json:"p99"`
	Max           float64 `json:"max"`
}

// JSONFormatter formats batch results as JSON
type JSONFormatter struct {
	writer  io.Writer
	batches []JSONBatch
	metrics *JSONMetrics
	errors  []string
}

type JSONOption func(*JSONFormatter)

func NewJSONFormatter(opts ...JSONOption) *JSONFormatter {
	f := &JSONFormatter{
		writer:  os.Stdout,
		batches: make([]JSONBatch, 0),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JSONWithWriter(w io.Writer) JSONOption {
	return func(f *JSONFormatter) {
		f.writer = w
	}
}

func (f *JSONFormatter) FormatResult(result *batch.RunResult) {
	b := JSONBatch{
		Name:          result.Name,
		File:          result.File,
		Duration:      float64(result.Duration.Milliseconds()),
		BytesSent:     result.Usage.Sent,
		BytesReceived: result.Usage.Received,
		Requests:      make([]JSONRequest, 0, len(result.Results)),
	}

	for _, r := range result.Results {
		req := JSONRequest{
			Name:       r.Name,
			Method:     r.Method,
			URL:        r.URL,
			Passed:     r.Passed,
			StatusCode: r.Code,
		}

		if r.Error != nil {
			req.Error = r.Error.Error()
		}

		if r.Response != nil {
			req.ContentType = r.Response.ContentType
			req.BodySize = len(r.Response.Body)
		}

		if len(r.Assertions) > 0 {
			req.Assertions = make([]JSONAssertion, len(r.Assertions))
			for i, a := range r.Assertions {
				req.Assertions[i] = JSONAssertion{
					Subject:  a.Subject,
					Operator: a.Operator,
					Expected: a.Expected,
					Actual:   a.Actual,
					Passed:   a.Passed,
					Message:  a.Message,
				}
			}
		}

		b.Requests = append(b.Requests, req)
	}

	f.batches = append(f.batches, b)
}

// FormatMetrics keeps the summary for Flush
func (f *JSONFormatter) FormatMetrics(s *metrics.Summary) {
	if s == nil {
		return
	}
	f.metrics = &JSONMetrics{
		Total:         s.Total,
		Success:       s.Success,
		Errors:        s.Errors,
		Cancelled:     s.Cancelled,
		SuccessRate:   s.SuccessRate,
		BytesSent:     s.BytesSent,
		BytesReceived: s.BytesReceived,
		P50:           ms(s.P50),
		P95:           ms(s.P95),
		P99:           ms(s.P99),
		Max:           ms(s.Max),
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func (f *JSONFormatter) FormatError(err error) {
	f.errors = append(f.errors, err.Error())
}

func (f *JSONFormatter) FormatHeader(version string) {
	// No header needed for JSON output
}

// Flush writes the accumulated JSON output
func (f *JSONFormatter) Flush(totalDuration time.Duration) error {
	var passed, failed int
	for _, b := range f.batches {
		for _, r := range b.Requests {
			if r.Passed {
				passed++
			} else {
				failed++
			}
		}
	}

	output := JSONOutput{
		Summary: JSONSummary{
			Total:  passed + failed,
			Passed: passed,
			Failed: failed,
		},
		Batches:  f.batches,
		Metrics:  f.metrics,
		Errors:   f.errors,
		Duration: float64(totalDuration.Milliseconds()),
		Time:     time.Now().Format(time.RFC3339),
	}

	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}
