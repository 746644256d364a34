package assertions

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/abdul-hamid-achik/hitbatch/packages/inmemory"
)

// Operator compares an actual value with an expected one.
type Operator string

const (
	OpEquals         Operator = "=="
	OpNotEquals      Operator = "!="
	OpGreaterThan    Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLessThan       Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpContains       Operator = "contains"
	OpStartsWith     Operator = "startsWith"
	OpEndsWith       Operator = "endsWith"
	OpMatches        Operator = "matches"
	OpExists         Operator = "exists"
	OpNotExists      Operator = "notExists"
	OpLength         Operator = "length"
	OpType           Operator = "type"
	OpIn             Operator = "in"
	OpSchema         Operator = "schema"
)

// Operators lists every supported operator
var Operators = []Operator{
	OpEquals, OpNotEquals, OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual,
	OpContains, OpStartsWith, OpEndsWith, OpMatches, OpExists, OpNotExists,
	OpLength, OpType, OpIn, OpSchema,
}

// ParseOperator returns the operator named s.
func ParseOperator(s string) (Operator, error) {
	for _, op := range Operators {
		if string(op) == s {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operator: %s", s)
}

// Assertion is a single expectation on a response.
type Assertion struct {
	Subject  string
	Operator Operator
	Expected any
}

func (a *Assertion) String() string {
	if a.Operator == OpExists || a.Operator == OpNotExists {
		return fmt.Sprintf("%s %s", a.Subject, a.Operator)
	}
	return fmt.Sprintf("%s %s %v", a.Subject, a.Operator, a.Expected)
}

type Result struct {
	Passed   bool
	Message  string
	Expected any
	Actual   any
	Subject  string
	Operator string
}

// Evaluator checks assertions against one in-memory response.
type Evaluator struct {
	response *inmemory.Response
	code     int
	body     gjson.Result
	// baseDir anchors schema file paths
	baseDir string
}

// NewEvaluator creates an Evaluator. resp may be nil for requests that
// ended with a status error; code is the status seen, or -1.
func NewEvaluator(resp *inmemory.Response, code int, baseDir string) *Evaluator {
	e := &Evaluator{response: resp, code: code, baseDir: baseDir}
	if resp != nil && len(resp.Body) > 0 && gjson.ValidBytes(resp.Body) {
		e.body = gjson.ParseBytes(resp.Body)
	}
	return e
}

// EvaluateAll evaluates every assertion against one response
func EvaluateAll(resp *inmemory.Response, code int, assertions []*Assertion, baseDir string) []*Result {
	e := NewEvaluator(resp, code, baseDir)
	results := make([]*Result, len(assertions))
	for i, a := range assertions {
		results[i] = e.Evaluate(a)
	}
	return results
}

func (e *Evaluator) Evaluate(a *Assertion) *Result {
	res := &Result{
		Subject:  a.Subject,
		Operator: string(a.Operator),
		Expected: a.Expected,
	}

	actual, err := e.subject(a.Subject)
	if err != nil {
		res.Message = err.Error()
		return res
	}
	res.Actual = actual

	if a.Operator == OpSchema {
		res.Passed, res.Message = e.schema(a.Expected)
		return res
	}

	cmp, ok := comparators[a.Operator]
	if !ok {
		res.Message = fmt.Sprintf("unknown operator: %v", a.Operator)
		return res
	}
	res.Passed, res.Message = cmp(actual, a.Expected)

	if a.Operator == OpLength {
		res.Actual = lengthOf(actual)
	}
	return res
}

// subject resolves the value an assertion is about. Missing body paths
// resolve to nil, which only exists/notExists treat specially.
func (e *Evaluator) subject(name string) (any, error) {
	switch {
	case name == "status":
		return e.code, nil
	case name == "contentType", name == "contentEncoding", name == "bodySize":
		if e.response == nil {
			return nil, nil
		}
		switch name {
		case "contentType":
			return e.response.ContentType, nil
		case "contentEncoding":
			return e.response.ContentEncoding, nil
		}
		return len(e.response.Body), nil
	case name == "body", strings.HasPrefix(name, "body."):
		return e.bodyValue(strings.TrimPrefix(strings.TrimPrefix(name, "body"), "."))
	}
	return nil, fmt.Errorf("unknown subject: %s", name)
}

var bracketIndex = regexp.MustCompile(`\[(\d+)\]`)

// gjsonPath accepts items[0].id as well as the native items.0.id
func gjsonPath(path string) string {
	return strings.TrimPrefix(bracketIndex.ReplaceAllString(path, ".$1"), ".")
}

func (e *Evaluator) bodyValue(path string) (any, error) {
	if e.response == nil {
		return nil, nil
	}
	if !e.body.Exists() {
		if path != "" {
			return nil, fmt.Errorf("response body is not JSON")
		}
		return string(e.response.Body), nil
	}
	if path == "" {
		return e.body.Value(), nil
	}

	r := e.body.Get(gjsonPath(path))
	if !r.Exists() {
		return nil, nil
	}
	return r.Value(), nil
}
