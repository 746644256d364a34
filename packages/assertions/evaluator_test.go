package assertions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/hitbatch/packages/inmemory"
)

func createResponse(code int, body string) *inmemory.Response {
	return &inmemory.Response{
		Code:        code,
		ContentType: "application/json",
		Body:        []byte(body),
	}
}

func TestEvaluator_StatusCode(t *testing.T) {
	e := NewEvaluator(createResponse(200, `{}`), 200, "")

	result := e.Evaluate(&Assertion{Subject: "status", Operator: OpEquals, Expected: 200})

	assert.True(t, result.Passed)
	assert.Equal(t, 200, result.Actual)
}

func TestEvaluator_StatusWithoutResponse(t *testing.T) {
	e := NewEvaluator(nil, 404, "")

	assert.True(t, e.Evaluate(&Assertion{Subject: "status", Operator: OpEquals, Expected: 404}).Passed)
	assert.True(t, e.Evaluate(&Assertion{Subject: "status", Operator: OpNotEquals, Expected: 200}).Passed)
	assert.False(t, e.Evaluate(&Assertion{Subject: "body", Operator: OpExists}).Passed)
	assert.False(t, e.Evaluate(&Assertion{Subject: "body", Operator: OpSchema, Expected: `{}`}).Passed)
}

func TestEvaluator_Body_JSONPath(t *testing.T) {
	e := NewEvaluator(createResponse(200, `{"user": {"name": "John", "age": 30}}`), 200, "")

	tests := []struct {
		name     string
		subject  string
		operator Operator
		expected any
		passed   bool
	}{
		{name: "nested path equals", subject: "body.user.name", operator: OpEquals, expected: "John", passed: true},
		{name: "nested path numeric", subject: "body.user.age", operator: OpEquals, expected: 30, passed: true},
		{name: "greater than", subject: "body.user.age", operator: OpGreaterThan, expected: 18, passed: true},
		{name: "less or equal", subject: "body.user.age", operator: OpLessOrEqual, expected: 29, passed: false},
		{name: "wrong value", subject: "body.user.name", operator: OpEquals, expected: "Jane", passed: false},
		{name: "non numeric compare", subject: "body.user.name", operator: OpGreaterThan, expected: 1, passed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := e.Evaluate(&Assertion{Subject: tt.subject, Operator: tt.operator, Expected: tt.expected})
			assert.Equal(t, tt.passed, result.Passed, result.Message)
		})
	}
}

func TestEvaluator_Body_Array(t *testing.T) {
	e := NewEvaluator(createResponse(200, `{"items": [{"id": 1, "tags": ["a", "b"]}, {"id": 2}]}`), 200, "")

	result := e.Evaluate(&Assertion{Subject: "body.items", Operator: OpLength, Expected: 2})
	assert.True(t, result.Passed, result.Message)
	assert.Equal(t, 2, result.Actual)

	assert.True(t, e.Evaluate(&Assertion{Subject: "body.items[1].id", Operator: OpEquals, Expected: 2}).Passed)
	assert.True(t, e.Evaluate(&Assertion{Subject: "body.items[0].tags[1]", Operator: OpEquals, Expected: "b"}).Passed)
	assert.True(t, e.Evaluate(&Assertion{Subject: "body.items.#", Operator: OpEquals, Expected: 2}).Passed)
}

func TestEvaluator_Exists(t *testing.T) {
	e := NewEvaluator(createResponse(200, `{"id": 1, "deleted": null}`), 200, "")

	assert.True(t, e.Evaluate(&Assertion{Subject: "body.id", Operator: OpExists}).Passed)
	assert.False(t, e.Evaluate(&Assertion{Subject: "body.missing", Operator: OpExists}).Passed)
	assert.True(t, e.Evaluate(&Assertion{Subject: "body.missing", Operator: OpNotExists}).Passed)
	assert.False(t, e.Evaluate(&Assertion{Subject: "body.id", Operator: OpNotExists}).Passed)
}

func TestEvaluator_StringOperators(t *testing.T) {
	e := NewEvaluator(createResponse(200, `{"message": "Hello, World"}`), 200, "")

	tests := []struct {
		operator Operator
		expected any
		passed   bool
	}{
		{OpContains, "World", true},
		{OpContains, "Mars", false},
		{OpStartsWith, "Hello", true},
		{OpStartsWith, "World", false},
		{OpEndsWith, "World", true},
		{OpMatches, "/^Hello, \\w+$/", true},
		{OpMatches, "^Bye", false},
		{OpMatches, "[", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.operator), func(t *testing.T) {
			result := e.Evaluate(&Assertion{Subject: "body.message", Operator: tt.operator, Expected: tt.expected})
			assert.Equal(t, tt.passed, result.Passed, result.Message)
		})
	}
}

func TestEvaluator_Type(t *testing.T) {
	e := NewEvaluator(createResponse(200, `{"s": "x", "n": 1.5, "b": true, "a": [], "o": {}, "z": null}`), 200, "")

	for subject, typ := range map[string]string{
		"body.s": "string",
		"body.n": "number",
		"body.b": "boolean",
		"body.a": "array",
		"body.o": "object",
		"body.z": "null",
	} {
		result := e.Evaluate(&Assertion{Subject: subject, Operator: OpType, Expected: typ})
		assert.True(t, result.Passed, "%s: %s", subject, result.Message)
	}

	result := e.Evaluate(&Assertion{Subject: "body.s", Operator: OpType, Expected: "number"})
	assert.False(t, result.Passed)
	assert.Equal(t, "expected type number, got string", result.Message)
}

func TestEvaluator_In(t *testing.T) {
	e := NewEvaluator(createResponse(201, `{"state": "active"}`), 201, "")

	assert.True(t, e.Evaluate(&Assertion{Subject: "status", Operator: OpIn, Expected: []any{200, 201}}).Passed)
	assert.True(t, e.Evaluate(&Assertion{Subject: "body.state", Operator: OpIn, Expected: []any{"active", "pending"}}).Passed)
	assert.False(t, e.Evaluate(&Assertion{Subject: "body.state", Operator: OpIn, Expected: []any{"closed"}}).Passed)
	assert.False(t, e.Evaluate(&Assertion{Subject: "status", Operator: OpIn, Expected: 201}).Passed)
}

func TestEvaluator_ContentTypeAndPlainBody(t *testing.T) {
	resp := &inmemory.Response{Code: 200, ContentType: "text/plain; charset=utf-8", Body: []byte("pong")}
	e := NewEvaluator(resp, 200, "")

	assert.True(t, e.Evaluate(&Assertion{Subject: "contentType", Operator: OpStartsWith, Expected: "text/plain"}).Passed)
	assert.True(t, e.Evaluate(&Assertion{Subject: "body", Operator: OpEquals, Expected: "pong"}).Passed)

	result := e.Evaluate(&Assertion{Subject: "body.field", Operator: OpExists})
	assert.False(t, result.Passed)
	assert.Equal(t, "response body is not JSON", result.Message)
}

func TestEvaluator_UnknownSubject(t *testing.T) {
	e := NewEvaluator(createResponse(200, `{}`), 200, "")
	result := e.Evaluate(&Assertion{Subject: "header.Date", Operator: OpExists})
	assert.False(t, result.Passed)
	assert.Equal(t, "unknown subject: header.Date", result.Message)
}

func TestEvaluator_Schema(t *testing.T) {
	dir := t.TempDir()
	schema := `{"type": "object", "required": ["id"], "properties": {"id": {"type": "integer"}}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user.json"), []byte(schema), 0644))

	valid := NewEvaluator(createResponse(200, `{"id": 7}`), 200, dir)
	assert.True(t, valid.Evaluate(&Assertion{Subject: "body", Operator: OpSchema, Expected: "user.json"}).Passed)
	assert.True(t, valid.Evaluate(&Assertion{Subject: "body", Operator: OpSchema, Expected: schema}).Passed)

	invalid := NewEvaluator(createResponse(200, `{"id": "seven"}`), 200, dir)
	result := invalid.Evaluate(&Assertion{Subject: "body", Operator: OpSchema, Expected: "user.json"})
	assert.False(t, result.Passed)
	assert.Contains(t, result.Message, "schema validation failed")

	missing := valid.Evaluate(&Assertion{Subject: "body", Operator: OpSchema, Expected: "nope.json"})
	assert.False(t, missing.Passed)
	assert.Contains(t, missing.Message, "failed to read schema file")
}

func TestEvaluator_Schema_PathTraversal(t *testing.T) {
	dir := t.TempDir()
	e := NewEvaluator(createResponse(200, `{}`), 200, dir)

	result := e.Evaluate(&Assertion{Subject: "body", Operator: OpSchema, Expected: "../../etc/passwd"})
	assert.False(t, result.Passed)
	assert.Contains(t, result.Message, "path traversal detected")
}

func TestEvaluateAll(t *testing.T) {
	results := EvaluateAll(createResponse(200, `{"ok": true}`), 200, []*Assertion{
		{Subject: "status", Operator: OpEquals, Expected: 200},
		{Subject: "body.ok", Operator: OpEquals, Expected: false},
	}, "")

	require.Len(t, results, 2)
	assert.True(t, results[0].Passed)
	assert.False(t, results[1].Passed)
	assert.Equal(t, "expected false, got true", results[1].Message)
}

func TestParseOperator(t *testing.T) {
	op, err := ParseOperator(">=")
	require.NoError(t, err)
	assert.Equal(t, OpGreaterOrEqual, op)

	_, err = ParseOperator("~=")
	assert.EqualError(t, err, "unknown operator: ~=")
}

func TestAssertion_String(t *testing.T) {
	assert.Equal(t, "status == 200", (&Assertion{Subject: "status", Operator: OpEquals, Expected: 200}).String())
	assert.Equal(t, "body.id exists", (&Assertion{Subject: "body.id", Operator: OpExists}).String())
}

func TestEvaluator_SchemaPath(t *testing.T) {
	base := t.TempDir()
	e := NewEvaluator(nil, 200, base)

	path, err := e.schemaPath("a.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "a.json"), path)

	_, err = e.schemaPath(filepath.Join("sub", "a.json"))
	assert.NoError(t, err)
	_, err = e.schemaPath(filepath.Join("..", "a.json"))
	assert.Error(t, err)

	_, err = NewEvaluator(nil, 200, "").schemaPath("/anything")
	assert.NoError(t, err)
}

func TestEvaluator_InvalidInlineSchema(t *testing.T) {
	e := NewEvaluator(createResponse(200, `{}`), 200, "")
	result := e.Evaluate(&Assertion{Subject: "body", Operator: OpSchema, Expected: `{"type": 5}`})
	assert.False(t, result.Passed)
	assert.Contains(t, result.Message, "invalid schema")
}

func TestEvaluator_ResponseSubjects(t *testing.T) {
	resp := &inmemory.Response{Code: 200, ContentType: "application/json", ContentEncoding: "gzip", Body: []byte(`[1,2,3]`)}
	e := NewEvaluator(resp, 200, "")

	assert.True(t, e.Evaluate(&Assertion{Subject: "bodySize", Operator: OpEquals, Expected: 7}).Passed)
	assert.True(t, e.Evaluate(&Assertion{Subject: "contentEncoding", Operator: OpEquals, Expected: "gzip"}).Passed)
	assert.True(t, e.Evaluate(&Assertion{Subject: "body", Operator: OpLength, Expected: 3}).Passed)

	none := NewEvaluator(nil, 500, "")
	assert.True(t, none.Evaluate(&Assertion{Subject: "bodySize", Operator: OpNotExists}).Passed)
}
