package output

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/hitbatch/packages/assertions"
	"github.com/abdul-hamid-achik/hitbatch/packages/batch"
	"github.com/abdul-hamid-achik/hitbatch/packages/core/interruptible"
	hhttp "github.com/abdul-hamid-achik/hitbatch/packages/http"
	"github.com/abdul-hamid-achik/hitbatch/packages/inmemory"
	"github.com/abdul-hamid-achik/hitbatch/packages/metrics"
)

func sampleResult() *batch.RunResult {
	return &batch.RunResult{
		File:     "smoke.yaml",
		Name:     "smoke",
		Duration: 120 * time.Millisecond,
		Usage:    hhttp.SentReceivedBytes{Sent: 300, Received: 2048},
		Passed:   1,
		Failed:   2,
		Results: []*batch.RequestResult{
			{
				Name: "health", Method: "GET", URL: "http://x.test/health", Passed: true, Code: 200,
				Response: &inmemory.Response{Code: 200, ContentType: "application/json", Body: []byte(`{"status":"ok"}`)},
				Assertions: []*assertions.Result{{Passed: true, Subject: "status", Operator: "==", Expected: 200, Actual: 200}},
			},
			{
				Name: "wrong", Method: "GET", URL: "http://x.test/health", Code: 200,
				Assertions: []*assertions.Result{{Subject: "body.status", Operator: "==", Expected: "down", Actual: "ok", Message: "expected down, got ok"}},
			},
			{Name: "broken", Method: "POST", URL: "ftp://x.test/", Code: -1, Error: errors.New("invalid argument: unsupported scheme")},
		},
	}
}

func TestConsoleFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewConsoleFormatter(WithWriter(&buf), WithNoColor(true), WithVerbose(true))

	f.FormatHeader("1.0.0")
	f.FormatResult(sampleResult())
	f.FormatMetrics(&metrics.Summary{Total: 3, Success: 2, Errors: 1, SuccessRate: 2.0 / 3, BytesSent: 300, BytesReceived: 2048})
	f.FormatError(errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "hitbatch 1.0.0")
	assert.Contains(t, out, "Running: smoke (smoke.yaml)")
	assert.Contains(t, out, "✓ health (GET 200)")
	assert.Contains(t, out, "✗ wrong (GET 200)")
	assert.Contains(t, out, "expected down, got ok")
	assert.Contains(t, out, "x broken (invalid argument: unsupported scheme)")
	assert.Contains(t, out, "1 passed, 2 failed, 3 total")
	assert.Contains(t, out, "300 B sent, 2.0 KiB received")
	assert.Contains(t, out, "(66.7% success)")
	assert.Contains(t, out, "Error: boom")
}

func TestConsoleFormatter_Cancelled(t *testing.T) {
	var buf bytes.Buffer
	f := NewConsoleFormatter(WithWriter(&buf), WithNoColor(true))

	f.FormatResult(&batch.RunResult{
		Name:   "slow",
		Failed: 1,
		Results: []*batch.RequestResult{
			{Name: "stuck", Method: "GET", Code: -1, Error: &interruptible.CancelledError{Stage: interruptible.StageGraceful}},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "- stuck (cancelled")
	assert.Contains(t, out, "Requests: 1 failed, 1 total")
}

func TestConsoleFormatter_NoMetrics(t *testing.T) {
	var buf bytes.Buffer
	f := NewConsoleFormatter(WithWriter(&buf), WithNoColor(true))
	f.FormatMetrics(&metrics.Summary{})
	f.FormatMetrics(nil)
	assert.Empty(t, buf.String())
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewJSONFormatter(JSONWithWriter(&buf))

	f.FormatResult(sampleResult())
	f.FormatMetrics(&metrics.Summary{Total: 3, P95: 1500 * time.Microsecond})
	f.FormatError(errors.New("other.yaml: parse failure"))
	require.NoError(t, f.Flush(time.Second))

	var out JSONOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))

	assert.Equal(t, JSONSummary{Total: 3, Passed: 1, Failed: 2}, out.Summary)
	require.Len(t, out.Batches, 1)
	b := out.Batches[0]
	assert.Equal(t, int64(2048), b.BytesReceived)
	require.Len(t, b.Requests, 3)
	assert.Equal(t, "application/json", b.Requests[0].ContentType)
	assert.Equal(t, 15, b.Requests[0].BodySize)
	assert.Equal(t, -1, b.Requests[2].StatusCode)
	assert.Equal(t, "invalid argument: unsupported scheme", b.Requests[2].Error)
	require.NotNil(t, out.Metrics)
	assert.InDelta(t, 1.5, out.Metrics.P95, 0.001)
	assert.Equal(t, []string{"other.yaml: parse failure"}, out.Errors)
	assert.Equal(t, float64(1000), out.Duration)
}

func TestJUnitFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewJUnitFormatter(JUnitWithWriter(&buf))

	f.FormatResult(sampleResult())
	f.FormatError(errors.New("other.yaml: parse failure"))
	require.NoError(t, f.Flush(time.Second))

	assert.True(t, strings.HasPrefix(buf.String(), xml.Header))

	var report junitReport
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &report))

	assert.Equal(t, 4, report.Tests)
	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, 2, report.Errors)
	require.Len(t, report.Suites, 2)

	suite := report.Suites[0]
	assert.Equal(t, "smoke", suite.Name)
	assert.Contains(t, suite.Properties, junitProperty{Name: "bytes.sent", Value: "300"})
	require.Len(t, suite.Cases, 3)

	assert.Nil(t, suite.Cases[0].Failure)
	assert.Equal(t, "GET http://x.test/health -> 200", suite.Cases[0].SystemOut)

	require.NotNil(t, suite.Cases[1].Failure)
	assert.Equal(t, "1 expectation(s) failed", suite.Cases[1].Failure.Message)
	assert.Contains(t, suite.Cases[1].Failure.Text, "body.status ==")
	assert.Contains(t, suite.Cases[1].Failure.Text, "(expected down, got ok)")

	require.NotNil(t, suite.Cases[2].Error)
	assert.Equal(t, "POST ftp://x.test/", suite.Cases[2].Error.Text)

	errs := report.Suites[1]
	assert.Equal(t, errorsSuite, errs.Name)
	require.Len(t, errs.Cases, 1)
	assert.Equal(t, "other.yaml: parse failure", errs.Cases[0].Error.Message)
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: &interruptible.CancelledError{Stage: interruptible.StageGraceful}, want: "Cancelled"},
		{err: fmt.Errorf("wrapped: %w", &hhttp.StatusError{Code: 503, Err: hhttp.ErrUnavailable}), want: "HTTP503"},
		{err: fmt.Errorf("bad uri: %w", hhttp.ErrInvalidArgument), want: "InvalidRequest"},
		{err: errors.New("boom"), want: "Error"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, errorType(tt.err))
		})
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "0 B", formatBytes(0))
	assert.Equal(t, "1023 B", formatBytes(1023))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "3.0 MiB", formatBytes(3*1024*1024))
}
