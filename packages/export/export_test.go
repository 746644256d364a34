package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/hitbatch/packages/metrics"
)

func sampleSummary() *metrics.Summary {
	return &metrics.Summary{
		Total:         4,
		Success:       2,
		Errors:        1,
		Cancelled:     1,
		SuccessRate:   0.5,
		BytesSent:     512,
		BytesReceived: 4096,
		P50:           10 * time.Millisecond,
		P95:           25 * time.Millisecond,
		P99:           30 * time.Millisecond,
		Min:           2 * time.Millisecond,
		Max:           31 * time.Millisecond,
		Mean:          12 * time.Millisecond,
		Requests: []metrics.RequestSummary{
			{Name: `GET http://x.test/"a"`, Total: 4, Success: 2, Errors: 2, P95: 25 * time.Millisecond},
		},
	}
}

func TestPrometheusExporter_Writer(t *testing.T) {
	var buf bytes.Buffer
	p, err := NewPrometheusExporter(WithPrometheusWriter(&buf))
	require.NoError(t, err)
	p.now = func() time.Time { return time.UnixMilli(1000) }

	require.NoError(t, p.Export(sampleSummary()))
	require.NoError(t, p.Close())

	out := buf.String()
	assert.Contains(t, out, "hitbatch_requests_total 4 1000\n")
	assert.Contains(t, out, `hitbatch_requests_by_outcome_total{outcome="cancelled"} 1 1000`)
	assert.Contains(t, out, `hitbatch_bytes_total{direction="received"} 4096 1000`)
	assert.Contains(t, out, `hitbatch_request_duration_ms{quantile="0.95"} 25.00 1000`)
	assert.Contains(t, out, `hitbatch_request_total{request="GET http://x.test/\"a\""} 4 1000`)
}

func TestPrometheusExporter_HTTP(t *testing.T) {
	p, err := NewPrometheusExporter(WithPrometheusHTTP("127.0.0.1:0"))
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Export(sampleSummary()))

	resp, err := http.Get("http://" + p.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "version=0.0.4")
	assert.Contains(t, string(body), "hitbatch_requests_total 4")
}

func TestSanitizeLabel(t *testing.T) {
	assert.Equal(t, `a\"b\\c\nd`, sanitizeLabel("a\"b\\c\nd"))
}

func TestJSONExporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.json")
	var buf bytes.Buffer
	j := NewJSONExporter(WithJSONFile(path), WithJSONWriter(&buf), WithJSONPretty(false))

	require.NoError(t, j.Export(sampleSummary()))
	require.NoError(t, j.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(data)+"\n", buf.String())

	var out JSONMetricsOutput
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, int64(4), out.Summary.TotalRequests)
	assert.Equal(t, int64(1), out.Summary.CancelledCount)
	assert.InDelta(t, 25.0, out.Summary.P95DurationMs, 0.001)
	require.Len(t, out.Requests, 1)
	assert.Equal(t, int64(2), out.Requests[0].ErrorCount)
}

type failingExporter struct{ closed bool }

func (f *failingExporter) Export(*metrics.Summary) error { return errors.New("export failed") }
func (f *failingExporter) Close() error {
	f.closed = true
	return nil
}

func TestExporters(t *testing.T) {
	var buf bytes.Buffer
	failing := &failingExporter{}
	exps := Exporters{failing, NewJSONExporter(WithJSONWriter(&buf))}

	err := exps.Export(sampleSummary())
	assert.EqualError(t, err, "export failed")
	assert.NotEmpty(t, buf.String(), "later exporters still run")

	require.NoError(t, exps.Close())
	assert.True(t, failing.closed)
}
