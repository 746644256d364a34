package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/hitbatch/packages/metrics"
)

// PrometheusExporter exports metrics in Prometheus text format
type PrometheusExporter struct {
	mu      sync.RWMutex
	summary *metrics.Summary
	writer  io.Writer
	addr    string
	server  *http.Server
	logger  *slog.Logger
	now     func() time.Time
}

// PrometheusOption is a functional option for PrometheusExporter
type PrometheusOption func(*PrometheusExporter)

// WithPrometheusWriter sets the output writer for Prometheus metrics
func WithPrometheusWriter(w io.Writer) PrometheusOption {
	return func(p *PrometheusExporter) {
		p.writer = w
	}
}

// WithPrometheusHTTP serves the latest summary on addr at /metrics
func WithPrometheusHTTP(addr string) PrometheusOption {
	return func(p *PrometheusExporter) {
		p.addr = addr
	}
}

func WithPrometheusLogger(logger *slog.Logger) PrometheusOption {
	return func(p *PrometheusExporter) {
		p.logger = logger
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter. With
// WithPrometheusHTTP the listener is bound before it returns.
func NewPrometheusExporter(opts ...PrometheusOption) (*PrometheusExporter, error) {
	p := &PrometheusExporter{
		logger: slog.Default(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.addr != "" {
		ln, err := net.Listen("tcp", p.addr)
		if err != nil {
			return nil, fmt.Errorf("listening for metrics: %w", err)
		}
		p.addr = ln.Addr().String()

		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", p.handleMetrics)
		p.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go func() {
			if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				p.logger.Error("prometheus endpoint failed", "error", err)
			}
		}()
	}

	return p, nil
}

// Addr returns the address of the HTTP endpoint, if any
func (p *PrometheusExporter) Addr() string {
	return p.addr
}

func (p *PrometheusExporter) handleMetrics(w http.ResponseWriter, r *http.Request) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	p.writeMetrics(w)
}

// Export stores the summary for the endpoint and writes it to the writer
func (p *PrometheusExporter) Export(summary *metrics.Summary) error {
	p.mu.Lock()
	p.summary = summary
	p.mu.Unlock()

	if p.writer != nil {
		p.mu.RLock()
		defer p.mu.RUnlock()
		p.writeMetrics(p.writer)
	}

	return nil
}

func (p *PrometheusExporter) writeMetrics(w io.Writer) {
	s := p.summary
	if s == nil {
		return
	}
	now := p.now().UnixMilli()

	fmt.Fprintf(w, "# HELP hitbatch_requests_total Total number of HTTP requests made\n")
	fmt.Fprintf(w, "# TYPE hitbatch_requests_total counter\n")
	fmt.Fprintf(w, "hitbatch_requests_total %d %d\n", s.Total, now)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP hitbatch_requests_by_outcome_total Requests by outcome\n")
	fmt.Fprintf(w, "# TYPE hitbatch_requests_by_outcome_total counter\n")
	fmt.Fprintf(w, "hitbatch_requests_by_outcome_total{outcome=\"success\"} %d %d\n", s.Success, now)
	fmt.Fprintf(w, "hitbatch_requests_by_outcome_total{outcome=\"error\"} %d %d\n", s.Errors, now)
	fmt.Fprintf(w, "hitbatch_requests_by_outcome_total{outcome=\"cancelled\"} %d %d\n", s.Cancelled, now)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP hitbatch_bytes_total Bytes moved on the wire\n")
	fmt.Fprintf(w, "# TYPE hitbatch_bytes_total counter\n")
	fmt.Fprintf(w, "hitbatch_bytes_total{direction=\"sent\"} %d %d\n", s.BytesSent, now)
	fmt.Fprintf(w, "hitbatch_bytes_total{direction=\"received\"} %d %d\n", s.BytesReceived, now)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP hitbatch_request_duration_ms Request duration in milliseconds\n")
	fmt.Fprintf(w, "# TYPE hitbatch_request_duration_ms gauge\n")
	fmt.Fprintf(w, "hitbatch_request_duration_ms{quantile=\"min\"} %.2f %d\n", ms(s.Min), now)
	fmt.Fprintf(w, "hitbatch_request_duration_ms{quantile=\"max\"} %.2f %d\n", ms(s.Max), now)
	fmt.Fprintf(w, "hitbatch_request_duration_ms{quantile=\"avg\"} %.2f %d\n", ms(s.Mean), now)
	fmt.Fprintf(w, "hitbatch_request_duration_ms{quantile=\"0.50\"} %.2f %d\n", ms(s.P50), now)
	fmt.Fprintf(w, "hitbatch_request_duration_ms{quantile=\"0.95\"} %.2f %d\n", ms(s.P95), now)
	fmt.Fprintf(w, "hitbatch_request_duration_ms{quantile=\"0.99\"} %.2f %d\n", ms(s.P99), now)
	fmt.Fprintln(w)

	if len(s.Requests) > 0 {
		fmt.Fprintf(w, "# HELP hitbatch_request_total Requests per named request\n")
		fmt.Fprintf(w, "# TYPE hitbatch_request_total counter\n")
		for _, r := range s.Requests {
			fmt.Fprintf(w, "hitbatch_request_total{request=\"%s\"} %d %d\n", sanitizeLabel(r.Name), r.Total, now)
		}
		fmt.Fprintln(w)

		fmt.Fprintf(w, "# HELP hitbatch_request_duration_p95_ms 95th percentile duration per named request\n")
		fmt.Fprintf(w, "# TYPE hitbatch_request_duration_p95_ms gauge\n")
		for _, r := range s.Requests {
			fmt.Fprintf(w, "hitbatch_request_duration_p95_ms{request=\"%s\"} %.2f %d\n", sanitizeLabel(r.Name), ms(r.P95), now)
		}
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// sanitizeLabel makes a string safe for use as a Prometheus label value
func sanitizeLabel(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// Close shuts down the HTTP endpoint
func (p *PrometheusExporter) Close() error {
	if p.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.server.Shutdown(ctx)
}
