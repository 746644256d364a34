package output

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitbatch/packages/batch"
	"github.com/abdul-hamid-achik/hitbatch/packages/core/interruptible"
	hhttp "github.com/abdul-hamid-achik/hitbatch/packages/http"
)

// errorsSuite collects errors that do not belong to a batch, such as files
// that failed to parse.
const errorsSuite = "hitbatch.errors"

type junitReport struct {
	XMLName  xml.Name     `xml:"testsuites"`
	Name     string       `xml:"name,attr,omitempty"`
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Errors   int          `xml:"errors,attr"`
	Time     float64      `xml:"time,attr"`
	Suites   []junitSuite `xml:"testsuite"`
}

// junitSuite is one batch file.
type junitSuite struct {
	Name       string          `xml:"name,attr"`
	Tests      int             `xml:"tests,attr"`
	Failures   int             `xml:"failures,attr"`
	Errors     int             `xml:"errors,attr"`
	Time       float64         `xml:"time,attr"`
	Timestamp  string          `xml:"timestamp,attr,omitempty"`
	Properties []junitProperty `xml:"properties>property,omitempty"`
	Cases      []junitCase     `xml:"testcase"`
}

type junitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// junitCase is one request. A request without a response is an error, one
// with failed expectations a failure.
type junitCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Failure   *junitProblem `xml:"failure,omitempty"`
	Error     *junitProblem `xml:"error,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

type junitProblem struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Text    string `xml:",chardata"`
}

// JUnitFormatter collects batch results and writes them as JUnit XML on
// Flush.
type JUnitFormatter struct {
	writer io.Writer
	suites []junitSuite
	errs   []junitCase
	now    func() time.Time
}

type JUnitOption func(*JUnitFormatter)

func NewJUnitFormatter(opts ...JUnitOption) *JUnitFormatter {
	f := &JUnitFormatter{writer: os.Stdout, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JUnitWithWriter(w io.Writer) JUnitOption {
	return func(f *JUnitFormatter) {
		f.writer = w
	}
}

func (f *JUnitFormatter) FormatResult(result *batch.RunResult) {
	class := result.File
	if class == "" {
		class = result.Name
	}

	suite := junitSuite{
		Name:      result.Name,
		Tests:     len(result.Results),
		Time:      result.Duration.Seconds(),
		Timestamp: f.now().UTC().Format(time.RFC3339),
		Properties: []junitProperty{
			{Name: "bytes.sent", Value: strconv.FormatInt(result.Usage.Sent, 10)},
			{Name: "bytes.received", Value: strconv.FormatInt(result.Usage.Received, 10)},
		},
	}

	for _, r := range result.Results {
		c := junitCase{
			Name:      r.Name,
			ClassName: class,
			SystemOut: fmt.Sprintf("%s %s -> %d", r.Method, r.URL, r.Code),
		}
		switch {
		case r.Error != nil:
			suite.Errors++
			c.Error = &junitProblem{Message: r.Error.Error(), Type: errorType(r.Error), Text: r.Method + " " + r.URL}
		case !r.Passed:
			suite.Failures++
			c.Failure = failureOf(r)
		}
		suite.Cases = append(suite.Cases, c)
	}
	f.suites = append(f.suites, suite)
}

func failureOf(r *batch.RequestResult) *junitProblem {
	var (
		failed int
		text   strings.Builder
	)
	for _, a := range r.Assertions {
		if a.Passed {
			continue
		}
		failed++
		fmt.Fprintf(&text, "%s %s: expected %v, got %v", a.Subject, a.Operator, a.Expected, a.Actual)
		if a.Message != "" {
			text.WriteString(" (" + a.Message + ")")
		}
		text.WriteByte('\n')
	}
	return &junitProblem{
		Message: fmt.Sprintf("%d expectation(s) failed", failed),
		Type:    "ExpectationFailed",
		Text:    text.String(),
	}
}

// errorType names the kind of failure for CI tooling
func errorType(err error) string {
	var status *hhttp.StatusError
	switch {
	case errors.Is(err, interruptible.ErrCancelled), errors.Is(err, hhttp.ErrCancelled):
		return "Cancelled"
	case errors.As(err, &status):
		return "HTTP" + strconv.Itoa(status.Code)
	case errors.Is(err, hhttp.ErrInvalidArgument):
		return "InvalidRequest"
	}
	return "Error"
}

// FormatError records err as an error case of a separate suite.
func (f *JUnitFormatter) FormatError(err error) {
	f.errs = append(f.errs, junitCase{
		Name:      fmt.Sprintf("error %d", len(f.errs)+1),
		ClassName: errorsSuite,
		Error:     &junitProblem{Message: err.Error(), Type: errorType(err)},
	})
}

func (f *JUnitFormatter) FormatHeader(string) {}

// Flush writes every collected suite
func (f *JUnitFormatter) Flush(total time.Duration) error {
	suites := f.suites
	if len(f.errs) > 0 {
		suites = append(suites, junitSuite{Name: errorsSuite, Tests: len(f.errs), Errors: len(f.errs), Cases: f.errs})
	}

	report := junitReport{Name: "hitbatch", Time: total.Seconds(), Suites: suites}
	for _, s := range suites {
		report.Tests += s.Tests
		report.Failures += s.Failures
		report.Errors += s.Errors
	}

	if _, err := io.WriteString(f.writer, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(f.writer)
	enc.Indent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	_, err := io.WriteString(f.writer, "\n")
	return err
}
