package assertions

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// comparator reports whether actual satisfies expected, with a message
// when it does not.
type comparator func(actual, expected any) (bool, string)

var comparators = map[Operator]comparator{
	OpEquals: equals,
	OpNotEquals: func(actual, expected any) (bool, string) {
		if ok, _ := equals(actual, expected); ok {
			return false, fmt.Sprintf("expected not to equal %v", expected)
		}
		return true, ""
	},
	OpGreaterThan:    numeric(">", func(a, b float64) bool { return a > b }),
	OpGreaterOrEqual: numeric(">=", func(a, b float64) bool { return a >= b }),
	OpLessThan:       numeric("<", func(a, b float64) bool { return a < b }),
	OpLessOrEqual:    numeric("<=", func(a, b float64) bool { return a <= b }),
	OpContains:       text("to contain", strings.Contains),
	OpStartsWith:     text("to start with", strings.HasPrefix),
	OpEndsWith:       text("to end with", strings.HasSuffix),
	OpMatches:        matches,
	OpExists: func(actual, _ any) (bool, string) {
		if actual == nil {
			return false, "expected to exist"
		}
		return true, ""
	},
	OpNotExists: func(actual, _ any) (bool, string) {
		if actual != nil {
			return false, "expected not to exist"
		}
		return true, ""
	},
	OpLength: length,
	OpType:   typeOf,
	OpIn:     in,
}

func str(v any) string {
	return fmt.Sprintf("%v", v)
}

// equals is lenient across JSON decoding: 30 == 30.0 == "30".
func equals(actual, expected any) (bool, string) {
	if reflect.DeepEqual(actual, expected) {
		return true, ""
	}
	a, aok := toFloat64(actual)
	b, bok := toFloat64(expected)
	if aok && bok && a == b {
		return true, ""
	}
	if str(actual) == str(expected) {
		return true, ""
	}
	return false, fmt.Sprintf("expected %v, got %v", expected, actual)
}

func numeric(symbol string, cmp func(a, b float64) bool) comparator {
	return func(actual, expected any) (bool, string) {
		a, aok := toFloat64(actual)
		b, bok := toFloat64(expected)
		if !aok || !bok {
			return false, fmt.Sprintf("cannot compare non-numeric values: %v %s %v", actual, symbol, expected)
		}
		if cmp(a, b) {
			return true, ""
		}
		return false, fmt.Sprintf("expected %v %s %v", actual, symbol, expected)
	}
}

func text(verb string, fn func(s, sub string) bool) comparator {
	return func(actual, expected any) (bool, string) {
		if fn(str(actual), str(expected)) {
			return true, ""
		}
		return false, fmt.Sprintf("expected '%v' %s '%v'", actual, verb, expected)
	}
}

// matches accepts a bare pattern or one wrapped in slashes
func matches(actual, expected any) (bool, string) {
	pattern := strings.TrimSuffix(strings.TrimPrefix(str(expected), "/"), "/")
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Sprintf("invalid regex pattern: %v", err)
	}
	if re.MatchString(str(actual)) {
		return true, ""
	}
	return false, fmt.Sprintf("expected '%v' to match /%v/", actual, pattern)
}

// lengthOf returns -1 for values without a length
func lengthOf(v any) int {
	switch v := v.(type) {
	case string:
		return len(v)
	case []any:
		return len(v)
	case map[string]any:
		return len(v)
	}
	return -1
}

func length(actual, expected any) (bool, string) {
	want, ok := toInt(expected)
	if !ok {
		return false, fmt.Sprintf("expected length must be a number, got %v", expected)
	}
	got := lengthOf(actual)
	switch {
	case got == -1:
		return false, fmt.Sprintf("cannot get length of %T", actual)
	case got != want:
		return false, fmt.Sprintf("expected length %d, got %d", want, got)
	}
	return true, ""
}

func in(actual, expected any) (bool, string) {
	list, ok := expected.([]any)
	if !ok {
		return false, fmt.Sprintf("expected array for 'in' operator, got %T", expected)
	}
	for _, item := range list {
		if ok, _ := equals(actual, item); ok {
			return true, ""
		}
	}
	return false, fmt.Sprintf("expected %v to be in %v", actual, expected)
}

// jsonType names v the way JSON Schema does
func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return reflect.TypeOf(v).String()
}

func typeOf(actual, expected any) (bool, string) {
	want, got := str(expected), jsonType(actual)
	if want == got {
		return true, ""
	}
	return false, fmt.Sprintf("expected type %s, got %s", want, got)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}
