package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/abdul-hamid-achik/hitbatch/packages/metrics"
)

// JSONExporter exports metrics to JSON format
type JSONExporter struct {
	writer    io.Writer
	filePath  string
	pretty    bool
	startTime time.Time
	now       func() time.Time
}

// JSONOption is a functional option for JSONExporter
type JSONOption func(*JSONExporter)

// WithJSONWriter sets the output writer for JSON metrics
func WithJSONWriter(w io.Writer) JSONOption {
	return func(j *JSONExporter) {
		j.writer = w
	}
}

// WithJSONFile sets the output file for JSON metrics
func WithJSONFile(path string) JSONOption {
	return func(j *JSONExporter) {
		j.filePath = path
	}
}

// WithJSONPretty enables pretty-printed JSON output
func WithJSONPretty(pretty bool) JSONOption {
	return func(j *JSONExporter) {
		j.pretty = pretty
	}
}

// NewJSONExporter creates a new JSON metrics exporter
func NewJSONExporter(opts ...JSONOption) *JSONExporter {
	j := &JSONExporter{
		startTime: time.Now(),
		pretty:    true,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(j)
	}

	return j
}

// JSONMetricsOutput is the complete JSON output structure
type JSONMetricsOutput struct {
	Metadata JSONMetadata       `json:"metadata"`
	Summary  JSONSummary        `json:"summary"`
	Requests []JSONRequestStats `json:"requests"`
}

// JSONMetadata contains metadata about the metrics collection
type JSONMetadata struct {
	GeneratedAt string `json:"generated_at"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Duration    string `json:"duration"`
	Version     string `json:"version"`
}

// JSONSummary is the aggregate over every request
type JSONSummary struct {
	TotalRequests  int64   `json:"total_requests"`
	SuccessCount   int64   `json:"success_count"`
	ErrorCount     int64   `json:"error_count"`
	CancelledCount int64   `json:"cancelled_count"`
	SuccessRate    float64 `json:"success_rate"`
	BytesSent      int64   `json:"bytes_sent"`
	BytesReceived  int64   `json:"bytes_received"`
	MinDurationMs  float64 `json:"min_duration_ms"`
	MaxDurationMs  float64 `json:"max_duration_ms"`
	AvgDurationMs  float64 `json:"avg_duration_ms"`
	P50DurationMs  float64 `json:"p50_duration_ms"`
	P95DurationMs  float64 `json:"p95_duration_ms"`
	P99DurationMs  float64 `json:"p99_duration_ms"`
}

// JSONRequestStats is the aggregate of one named request
type JSONRequestStats struct {
	Name          string  `json:"name"`
	TotalRequests int64   `json:"total_requests"`
	SuccessCount  int64   `json:"success_count"`
	ErrorCount    int64   `json:"error_count"`
	P50DurationMs float64 `json:"p50_duration_ms"`
	P95DurationMs float64 `json:"p95_duration_ms"`
	MaxDurationMs float64 `json:"max_duration_ms"`
}

// Export writes the summary to the file and/or writer
func (j *JSONExporter) Export(s *metrics.Summary) error {
	endTime := j.now()

	output := JSONMetricsOutput{
		Metadata: JSONMetadata{
			GeneratedAt: endTime.Format(time.RFC3339),
			StartTime:   j.startTime.Format(time.RFC3339),
			EndTime:     endTime.Format(time.RFC3339),
			Duration:    endTime.Sub(j.startTime).String(),
			Version:     "1.0",
		},
		Summary: JSONSummary{
			TotalRequests:  s.Total,
			SuccessCount:   s.Success,
			ErrorCount:     s.Errors,
			CancelledCount: s.Cancelled,
			SuccessRate:    s.SuccessRate,
			BytesSent:      s.BytesSent,
			BytesReceived:  s.BytesReceived,
			MinDurationMs:  ms(s.Min),
			MaxDurationMs:  ms(s.Max),
			AvgDurationMs:  ms(s.Mean),
			P50DurationMs:  ms(s.P50),
			P95DurationMs:  ms(s.P95),
			P99DurationMs:  ms(s.P99),
		},
		Requests: make([]JSONRequestStats, 0, len(s.Requests)),
	}
	for _, r := range s.Requests {
		output.Requests = append(output.Requests, JSONRequestStats{
			Name:          r.Name,
			TotalRequests: r.Total,
			SuccessCount:  r.Success,
			ErrorCount:    r.Errors,
			P50DurationMs: ms(r.P50),
			P95DurationMs: ms(r.P95),
			MaxDurationMs: ms(r.Max),
		})
	}

	var data []byte
	var err error

	if j.pretty {
		data, err = json.MarshalIndent(output, "", "  ")
	} else {
		data, err = json.Marshal(output)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if j.filePath != "" {
		if err := os.WriteFile(j.filePath, data, 0644); err != nil {
			return fmt.Errorf("failed to write metrics file: %w", err)
		}
	}

	if j.writer != nil {
		if _, err := j.writer.Write(data); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
		if _, err := j.writer.Write([]byte("\n")); err != nil {
			return fmt.Errorf("failed to write newline: %w", err)
		}
	}

	return nil
}

// Close closes the JSON exporter
func (j *JSONExporter) Close() error {
	return nil
}
